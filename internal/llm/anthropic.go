package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/logger"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicProvider serves completions through the Anthropic Messages
// API. There is no vendor Go SDK in our stack, so this is a plain REST
// client shaped like the other adapters.
type AnthropicProvider struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// anthropicMessage is one turn in Messages API form.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicRequest is the POST /v1/messages payload.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

// anthropicResponse is the Messages API response envelope.
type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropic builds the Anthropic-backed provider.
func NewAnthropic(cfg config.AnthropicConfig, ai config.AIConfig) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: ai.Temperature,
		maxTokens:   ai.MaxTokens,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) ValidateConfig() []error {
	var errs []error
	if p.apiKey == "" {
		errs = append(errs, errors.New("anthropic.api_key is empty"))
	}
	if p.model == "" {
		errs = append(errs, errors.New("anthropic.model is empty"))
	}
	return errs
}

func (p *AnthropicProvider) SafeConfig() map[string]string {
	return map[string]string{
		"backend":  "anthropic",
		"api_key":  logger.RedactSecret(p.apiKey),
		"base_url": p.baseURL,
		"model":    p.model,
	}
}

func (p *AnthropicProvider) ModelInfo() ModelInfo {
	return ModelInfo{
		Models:       modelList(p.model, "claude-sonnet-4-20250514", "claude-3-5-haiku-20241022"),
		Capabilities: []string{"chat", "system_prompt"},
		MaxTokens:    8192,
	}
}

// TestConnection runs a one-token completion; the Messages API has no
// cheaper authenticated endpoint.
func (p *AnthropicProvider) TestConnection(ctx context.Context) error {
	probe := CompletionRequest{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}
	_, err := p.Complete(ctx, probe)
	return err
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	req = req.withDefaults(p.model, p.temperature, p.maxTokens)
	system, rest := splitSystem(req.Messages)
	if req.ResponseFormat == FormatJSON {
		system = joinPrompt(system, jsonInstruction)
	}
	messages := make([]anthropicMessage, len(rest))
	for i, m := range rest {
		messages[i] = anthropicMessage{Role: m.Role, Content: m.Content}
	}

	response, err := p.call(ctx, anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      system,
		Messages:    messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return fail(req.Model, err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	model := response.Model
	if model == "" {
		model = req.Model
	}
	return CompletionResponse{
		Success:      true,
		Content:      text.String(),
		Model:        model,
		Usage:        Usage{PromptTokens: response.Usage.InputTokens, CompletionTokens: response.Usage.OutputTokens},
		FinishReason: response.StopReason,
	}, nil
}

// call makes a request to the Messages API and classifies every failure
// path; callers only see errkind errors.
func (p *AnthropicProvider) call(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
	jsonBody, err := json.Marshal(request)
	if err != nil {
		return nil, errkind.New(errkind.Permanent, "anthropic", "complete", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, errkind.New(errkind.Permanent, "anthropic", "complete", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errkind.New(errkind.OfTransport(err), "anthropic", "complete", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.New(errkind.Transient, "anthropic", "complete", err)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, errkind.FromStatus("anthropic", "complete", resp.StatusCode, retryAfterHeader(resp))
		}
		return nil, errkind.Newf(errkind.Parse, "anthropic", "complete",
			"failed to parse response: %v (body: %s)", err, snippet(body))
	}
	if response.Error != nil {
		kind := errkind.KindFromStatus(resp.StatusCode)
		if response.Error.Type == "overloaded_error" {
			kind = errkind.Transient
		}
		return nil, &errkind.Error{
			Kind:       kind,
			Service:    "anthropic",
			Op:         "complete",
			RetryAfter: retryAfterHeader(resp),
			Err:        fmt.Errorf("API error: %s: %s", response.Error.Type, response.Error.Message),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.FromStatus("anthropic", "complete", resp.StatusCode, retryAfterHeader(resp))
	}
	return &response, nil
}

// retryAfterHeader reads a delta-seconds Retry-After, if present.
func retryAfterHeader(resp *http.Response) time.Duration {
	var secs int
	if _, err := fmt.Sscanf(resp.Header.Get("Retry-After"), "%d", &secs); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// snippet trims an error body for inclusion in messages.
func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
