package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/openclaw/claw/internal/logging"
)

// OpenAIProvider implements the OpenAI chat completions API using the
// official SDK. With a custom base URL it also covers OpenAI-compatible
// endpoints (the "custom" provider type).
type OpenAIProvider struct {
	client openai.Client
	id     string
	model  string
}

// NewOpenAIProvider creates a provider against the OpenAI API.
// Model comes from config - do NOT hardcode model IDs.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{
		client: client,
		id:     "openai",
		model:  model,
	}
}

// NewCustomProvider creates a provider for an OpenAI-compatible endpoint
// served at baseURL (LM Studio, vLLM, OpenRouter and friends).
func NewCustomProvider(baseURL, apiKey, model string) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL))
	return &OpenAIProvider{
		client: client,
		id:     "custom",
		model:  model,
	}
}

// ID returns the provider identifier
func (p *OpenAIProvider) ID() string {
	return p.id
}

// Call sends a chat completion request and normalizes the reply.
// Tool calls come back from tool_calls[].function.{name,arguments}.
func (p *OpenAIProvider) Call(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: p.buildMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = buildOpenAITools(req.Tools)
	}

	logging.Debugf("[%s] request: model=%s messages=%d tools=%d",
		p.id, model, len(params.Messages), len(req.Tools))

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", p.id, err)
	}
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{Message: p.id + " returned no choices"}
	}

	msg := completion.Choices[0].Message
	resp := &ChatResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}

// buildMessages converts wire messages to OpenAI params. The request's
// system prompt leads the conversation.
func (p *OpenAIProvider) buildMessages(req *ChatRequest) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)

	if req.System != "" {
		result = append(result, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			if msg.Content != "" {
				result = append(result, openai.AssistantMessage(msg.Content))
			}
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}

	return result
}

// buildOpenAITools converts tool definitions to OpenAI function params
func buildOpenAITools(defs []ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		var schema map[string]interface{}
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			logging.Warnf("[openai] skipping tool %s: bad schema: %v", def.Name, err)
			continue
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  shared.FunctionParameters(schema),
			},
		})
	}
	return tools
}
