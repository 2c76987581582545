package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/openclaw/claw/internal/logging"
)

// GeminiProvider implements chat against the Google Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a provider against the Gemini API.
// Model comes from config - do NOT hardcode model IDs.
func NewGeminiProvider(apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// ID returns the provider identifier
func (p *GeminiProvider) ID() string {
	return "gemini"
}

// Close releases the underlying API connection.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// Call sends a chat request. Gemini models chat as history plus a new
// message, so the last user message is sent and everything before it
// becomes session history. Gemini does not assign tool call IDs, so
// they are synthesized per response.
func (p *GeminiProvider) Call(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	modelName := p.model
	if req.Model != "" {
		modelName = req.Model
	}

	model := p.client.GenerativeModel(modelName)
	if system := liftSystem(req); system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if len(req.Tools) > 0 {
		decls, err := buildGeminiTools(req.Tools)
		if err != nil {
			return nil, err
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	history, last := splitGeminiHistory(req.Messages)
	if last == "" {
		return nil, &ProviderError{Message: "gemini requires a user message to send"}
	}

	logging.Debugf("[gemini] request: model=%s history=%d tools=%d",
		modelName, len(history), len(req.Tools))

	cs := model.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, fmt.Errorf("gemini send message: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return &ChatResponse{}, nil
	}

	out := &ChatResponse{}
	for i, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			out.Content += string(v)
		case genai.FunctionCall:
			input, err := json.Marshal(v.Args)
			if err != nil {
				input = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:    fmt.Sprintf("gemini-call-%d", i),
				Name:  v.Name,
				Input: input,
			})
		}
	}
	return out, nil
}

// splitGeminiHistory converts wire messages into chat history plus the
// trailing user message to send. System messages are lifted into the
// model's system instruction elsewhere and skipped here.
func splitGeminiHistory(messages []Message) ([]*genai.Content, string) {
	var convo []*genai.Content
	for _, msg := range messages {
		if msg.Role == RoleSystem || msg.Content == "" {
			continue
		}
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		convo = append(convo, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	if len(convo) == 0 {
		return nil, ""
	}
	tail := convo[len(convo)-1]
	if tail.Role != "user" {
		return convo, ""
	}
	last := string(tail.Parts[0].(genai.Text))
	return convo[:len(convo)-1], last
}

// buildGeminiTools converts tool definitions to function declarations.
func buildGeminiTools(defs []ToolDefinition) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		schema, err := geminiSchema(def.InputSchema)
		if err != nil {
			logging.Warnf("[gemini] skipping tool %s: bad schema: %v", def.Name, err)
			continue
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schema,
		})
	}
	return decls, nil
}

// jsonSchema is the subset of JSON Schema the tool layer produces.
type jsonSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*jsonSchema `json:"properties,omitempty"`
	Items       *jsonSchema            `json:"items,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
}

// geminiSchema converts a JSON Schema document into the Gemini SDK's
// typed schema. Gemini rejects raw JSON Schema, so the translation is
// field by field.
func geminiSchema(raw json.RawMessage) (*genai.Schema, error) {
	var parsed jsonSchema
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse tool schema: %w", err)
	}
	return toGeminiSchema(&parsed), nil
}

func toGeminiSchema(s *jsonSchema) *genai.Schema {
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
	}
	switch s.Type {
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if s.Items != nil {
			out.Items = toGeminiSchema(s.Items)
		}
	default:
		out.Type = genai.TypeObject
		if len(s.Properties) > 0 {
			out.Properties = make(map[string]*genai.Schema, len(s.Properties))
			for name, prop := range s.Properties {
				out.Properties[name] = toGeminiSchema(prop)
			}
		}
	}
	return out
}
