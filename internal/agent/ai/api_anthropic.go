package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/openclaw/claw/internal/logging"
)

// defaultMaxTokens bounds generation when the request does not say.
const defaultMaxTokens = 8192

// AnthropicProvider implements the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a provider against the Anthropic API.
// Model comes from config - do NOT hardcode model IDs.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		client: client,
		model:  model,
	}
}

// ID returns the provider identifier
func (p *AnthropicProvider) ID() string {
	return "anthropic"
}

// Call sends a messages request and normalizes the reply. Text and
// tool_use blocks can arrive interleaved; text concatenates, tool_use
// blocks map one to one.
func (p *AnthropicProvider) Call(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  buildAnthropicMessages(req),
	}
	if system := liftSystem(req); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}

	logging.Debugf("[anthropic] request: model=%s messages=%d tools=%d",
		model, len(params.Messages), len(req.Tools))

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	resp := &ChatResponse{}
	for _, block := range response.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.JSON.Input.Raw()),
			})
		}
	}
	return resp, nil
}

// buildAnthropicMessages converts wire messages to API params. System
// messages are lifted into the request-level system field elsewhere, so
// only user and assistant roles appear here. The API rejects empty user
// content, so blank messages are skipped.
func buildAnthropicMessages(req *ChatRequest) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			continue
		case RoleAssistant:
			if msg.Content != "" {
				result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			}
		default:
			if msg.Content != "" {
				result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	return result
}

// buildAnthropicTools converts tool definitions to API tool params. The
// JSON schema splits into properties and required for the SDK shape.
func buildAnthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema struct {
			Properties map[string]interface{} `json:"properties"`
			Required   []string               `json:"required"`
		}
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			logging.Warnf("[anthropic] skipping tool %s: bad schema: %v", def.Name, err)
			continue
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
	}
	return tools
}
