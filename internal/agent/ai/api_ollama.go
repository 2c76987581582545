package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/openclaw/claw/internal/logging"
)

// DefaultOllamaURL is where a local Ollama daemon listens.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaProvider implements chat against a local Ollama daemon. Local
// models are unreliable tool callers, so tool definitions are never
// forwarded; the agent treats Ollama turns as plain conversation.
type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider creates a provider for the daemon at baseURL.
// An empty baseURL falls back to the default local address.
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama url %q: %w", baseURL, err)
	}
	client := api.NewClient(parsed, &http.Client{Timeout: 5 * time.Minute})
	return &OllamaProvider{client: client, model: model}, nil
}

// ID returns the provider identifier
func (p *OllamaProvider) ID() string {
	return "ollama"
}

// Call sends a chat request. The response streams internally but is
// accumulated into a single reply before returning.
func (p *OllamaProvider) Call(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	messages := make([]api.Message, 0, len(req.Messages)+1)
	if system := liftSystem(req); system != "" {
		messages = append(messages, api.Message{Role: "system", Content: system})
	}
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem || msg.Content == "" {
			continue
		}
		messages = append(messages, api.Message{Role: msg.Role, Content: msg.Content})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
	}
	options := map[string]interface{}{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(options) > 0 {
		chatReq.Options = options
	}

	logging.Debugf("[ollama] request: model=%s messages=%d", model, len(messages))

	var content string
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	return &ChatResponse{Content: content}, nil
}

// CheckOllamaAvailable reports whether a daemon answers at baseURL.
// Used by the providers doctor before attempting a chat.
func CheckOllamaAvailable(baseURL string) bool {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/api/tags")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListOllamaModels returns the names of locally pulled models.
func ListOllamaModels(ctx context.Context, baseURL string) ([]string, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama url %q: %w", baseURL, err)
	}
	client := api.NewClient(parsed, &http.Client{Timeout: 10 * time.Second})
	resp, err := client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
