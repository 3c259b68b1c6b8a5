// Package llm puts a single completion interface in front of the five
// supported backends (OpenAI, Azure OpenAI, Anthropic, Gemini, Bedrock).
// A registry constructs providers lazily, tracks which one serves new
// requests, and lets the backend be switched at runtime without touching
// requests already in flight. Adapters translate the neutral envelope to
// each vendor API and classify failures into the shared error taxonomy.
package llm

import (
	"context"
	"strings"

	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
)

// Conversation roles accepted in completion messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Response format hints. FormatJSON asks the backend for a bare JSON
// object; backends without a native JSON mode get an appended system
// instruction instead.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// jsonInstruction is the fallback for backends without a JSON mode.
const jsonInstruction = "Respond with a single valid JSON object and no surrounding prose."

// Message is one turn of a completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the backend-neutral completion input. Zero-valued
// Model, Temperature, and MaxTokens fall back to the adapter's configured
// defaults.
type CompletionRequest struct {
	Messages       []Message `json:"messages"`
	Model          string    `json:"model,omitempty"`
	Temperature    float64   `json:"temperature,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	ResponseFormat string    `json:"response_format,omitempty"`
}

// withDefaults fills unset request fields from the adapter configuration.
func (r CompletionRequest) withDefaults(model string, temperature float64, maxTokens int) CompletionRequest {
	if r.Model == "" {
		r.Model = model
	}
	if r.Temperature == 0 {
		r.Temperature = temperature
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = maxTokens
	}
	return r
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// CompletionResponse is the backend-neutral completion result. Failures
// travel in the envelope (Success false, ErrorKind, ErrorMessage) as well
// as in the returned error, so logs and storage get the full picture
// while retry logic branches on the error's kind.
type CompletionResponse struct {
	Success      bool   `json:"success"`
	Content      string `json:"content,omitempty"`
	Model        string `json:"model"`
	Usage        Usage  `json:"usage"`
	FinishReason string `json:"finish_reason,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ModelInfo describes what a backend offers.
type ModelInfo struct {
	Models       []string `json:"models"`
	Capabilities []string `json:"capabilities"`
	MaxTokens    int      `json:"max_tokens"`
}

// Provider is the surface every completion backend implements.
type Provider interface {
	// Name returns the registry key, matching the ai.backend config value.
	Name() string
	// ValidateConfig reports configuration problems without touching the
	// network. Empty means the provider is ready.
	ValidateConfig() []error
	// SafeConfig returns the provider settings with secrets redacted.
	SafeConfig() map[string]string
	// ModelInfo describes the models and capabilities on offer.
	ModelInfo() ModelInfo
	// TestConnection performs one cheap round-trip to verify credentials.
	TestConnection(ctx context.Context) error
	// Complete runs one completion. The error, when non-nil, is classified;
	// the same classification is mirrored into the response envelope.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// fail mirrors a classified error into a failure envelope.
func fail(model string, err error) (CompletionResponse, error) {
	return CompletionResponse{
		Success:      false,
		Model:        model,
		ErrorKind:    errkind.Of(err).String(),
		ErrorMessage: err.Error(),
	}, err
}

// splitSystem separates system turns from the conversation for backends
// that take the system prompt out of band. Multiple system messages are
// joined in order.
func splitSystem(messages []Message) (system string, rest []Message) {
	var sys []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}

// joinPrompt appends an instruction to a possibly empty prompt.
func joinPrompt(prompt, extra string) string {
	if prompt == "" {
		return extra
	}
	return prompt + "\n\n" + extra
}

// modelList builds a deduplicated model listing with the configured model
// first.
func modelList(configured string, rest ...string) []string {
	models := []string{configured}
	for _, m := range rest {
		if m != configured {
			models = append(models, m)
		}
	}
	return models
}
