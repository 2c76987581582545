// Package ai normalizes incompatible chat-completion protocols into one
// request/response shape with optional tool-call requests. Each provider
// kind is a distinct type implementing the Provider interface with its
// own mapping function; the rest of the agent never sees wire formats.
package ai

import (
	"context"
	"encoding/json"
	"strings"
)

// Roles carried on the provider wire. Tool results feed back as
// synthetic user messages, so the wire never carries a tool role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a provider conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolDefinition describes a tool available to the model
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ChatRequest represents a request to an AI provider
type ChatRequest struct {
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	System      string           `json:"system,omitempty"`
	Model       string           `json:"model,omitempty"`      // Model override
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

// ChatResponse is the normalized reply: assistant text plus any
// requested tool invocations, in the order the provider emitted them.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Provider is the adapter contract all providers implement.
// Implementations hold no per-conversation state and are safe for
// concurrent use across independent conversations.
type Provider interface {
	// ID returns the provider identifier (e.g., "anthropic", "openai")
	ID() string

	// Call sends a request and returns the complete response.
	// Transport and API errors propagate to the caller; the adapter
	// never swallows them.
	Call(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ProviderError represents an error surfaced by a provider API
type ProviderError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

func (e *ProviderError) Error() string {
	return e.Message
}

// IsContextOverflow checks if an error indicates context window overflow
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*ProviderError); ok && pe.Code == "context_length_exceeded" {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"context length", "context window", "too many tokens", "prompt is too long"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// IsRateLimitOrAuth checks if an error is due to rate limiting or auth issues
func IsRateLimitOrAuth(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*ProviderError); ok {
		switch pe.Code {
		case "rate_limit_exceeded", "authentication_error":
			return true
		}
		switch pe.Type {
		case "rate_limit_error", "authentication_error":
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"rate limit", "too many requests", "401", "403", "invalid api key", "unauthorized"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// liftSystem folds the request's system prompt and any system-role
// messages into one top-level system block. Anthropic and Gemini reject
// system roles inside the conversation, so every variant that needs it
// lifts them the same way.
func liftSystem(req *ChatRequest) string {
	parts := make([]string, 0, 2)
	if req.System != "" {
		parts = append(parts, req.System)
	}
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem && msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
