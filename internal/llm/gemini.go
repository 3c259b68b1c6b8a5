package llm

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/logger"
)

// GeminiProvider serves completions through the Gemini API.
type GeminiProvider struct {
	client      *genai.Client
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

// NewGemini builds the Gemini-backed provider. Client construction fails
// without a key, which the registry records as the provider being
// unavailable.
func NewGemini(cfg config.GeminiConfig, ai config.AIConfig) (*GeminiProvider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{
		client:      client,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: ai.Temperature,
		maxTokens:   ai.MaxTokens,
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) ValidateConfig() []error {
	var errs []error
	if p.apiKey == "" {
		errs = append(errs, errors.New("gemini.api_key is empty"))
	}
	if p.model == "" {
		errs = append(errs, errors.New("gemini.model is empty"))
	}
	return errs
}

func (p *GeminiProvider) SafeConfig() map[string]string {
	return map[string]string{
		"backend": "gemini",
		"api_key": logger.RedactSecret(p.apiKey),
		"model":   p.model,
	}
}

func (p *GeminiProvider) ModelInfo() ModelInfo {
	return ModelInfo{
		Models:       modelList(p.model, "gemini-2.0-flash", "gemini-1.5-pro"),
		Capabilities: []string{"chat", "json_mode"},
		MaxTokens:    8192,
	}
}

// TestConnection runs a one-token completion.
func (p *GeminiProvider) TestConnection(ctx context.Context) error {
	probe := CompletionRequest{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}
	_, err := p.Complete(ctx, probe)
	return err
}

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	req = req.withDefaults(p.model, p.temperature, p.maxTokens)
	system, rest := splitSystem(req.Messages)

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.ResponseFormat == FormatJSON {
		genCfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, genCfg)
	if err != nil {
		return fail(req.Model, classifyGeminiErr("complete", err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return fail(req.Model, errkind.Newf(errkind.Parse, "gemini", "complete", "response carried no candidates"))
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return CompletionResponse{
		Success:      true,
		Content:      text.String(),
		Model:        req.Model,
		Usage:        usage,
		FinishReason: string(candidate.FinishReason),
	}, nil
}

// classifyGeminiErr maps genai failures onto the error taxonomy. A 429
// whose message names a quota is billing exhaustion, not a transient rate
// denial.
func classifyGeminiErr(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		kind := errkind.KindFromStatus(apiErr.Code)
		if kind == errkind.RateLimited && strings.Contains(strings.ToLower(apiErr.Message), "quota") {
			kind = errkind.QuotaExceeded
		}
		return errkind.New(kind, "gemini", op, err)
	}
	return errkind.New(errkind.OfTransport(err), "gemini", op, err)
}
