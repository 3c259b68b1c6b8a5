package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/logger"
)

// OpenAIProvider serves completions through the OpenAI chat API.
type OpenAIProvider struct {
	client      *openai.Client
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAI builds the OpenAI-backed provider. A base_url override points
// it at any OpenAI-compatible endpoint, including the local stub.
func NewOpenAI(cfg config.OpenAIConfig, ai config.AIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: ai.Temperature,
		maxTokens:   ai.MaxTokens,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) ValidateConfig() []error {
	var errs []error
	if p.apiKey == "" {
		errs = append(errs, errors.New("openai.api_key is empty"))
	}
	if p.model == "" {
		errs = append(errs, errors.New("openai.model is empty"))
	}
	return errs
}

func (p *OpenAIProvider) SafeConfig() map[string]string {
	return map[string]string{
		"backend": "openai",
		"api_key": logger.RedactSecret(p.apiKey),
		"model":   p.model,
	}
}

func (p *OpenAIProvider) ModelInfo() ModelInfo {
	return ModelInfo{
		Models:       modelList(p.model, "gpt-4o", "gpt-4o-mini", "gpt-4-turbo"),
		Capabilities: []string{"chat", "json_mode", "tools"},
		MaxTokens:    16384,
	}
}

// TestConnection lists models, the cheapest authenticated endpoint.
func (p *OpenAIProvider) TestConnection(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return classifyOpenAIErr("openai", "test_connection", err)
	}
	return nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	req = req.withDefaults(p.model, p.temperature, p.maxTokens)
	resp, err := p.client.CreateChatCompletion(ctx, chatRequest(req))
	if err != nil {
		return fail(req.Model, classifyOpenAIErr("openai", "complete", err))
	}
	if len(resp.Choices) == 0 {
		return fail(req.Model, errkind.Newf(errkind.Parse, "openai", "complete", "response carried no choices"))
	}
	choice := resp.Choices[0]
	return CompletionResponse{
		Success:      true,
		Content:      choice.Message.Content,
		Model:        resp.Model,
		Usage:        Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens},
		FinishReason: string(choice.FinishReason),
	}, nil
}

// chatRequest converts the neutral request into go-openai form. Shared
// with the Azure adapter, which speaks the same protocol.
func chatRequest(req CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.ResponseFormat == FormatJSON {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// classifyOpenAIErr maps go-openai failures onto the error taxonomy.
// Quota exhaustion arrives as a 429 with type insufficient_quota and must
// not be retried, unlike an ordinary rate denial.
func classifyOpenAIErr(service, op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := errkind.KindFromStatus(apiErr.HTTPStatusCode)
		if quotaExhausted(apiErr) {
			kind = errkind.QuotaExceeded
		}
		return errkind.New(kind, service, op, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return errkind.New(errkind.KindFromStatus(reqErr.HTTPStatusCode), service, op, err)
	}
	return errkind.New(errkind.OfTransport(err), service, op, err)
}

func quotaExhausted(apiErr *openai.APIError) bool {
	if apiErr.Type == "insufficient_quota" {
		return true
	}
	code, ok := apiErr.Code.(string)
	return ok && code == "insufficient_quota"
}
