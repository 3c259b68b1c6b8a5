package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/logger"
)

// AzureProvider serves completions through an Azure OpenAI deployment.
// Whatever model the request names, Azure routes by deployment, so the
// mapper pins every call to the configured one.
type AzureProvider struct {
	client      *openai.Client
	apiKey      string
	endpoint    string
	deployment  string
	apiVersion  string
	temperature float64
	maxTokens   int
}

// NewAzure builds the Azure OpenAI provider.
func NewAzure(cfg config.AzureOpenAIConfig, ai config.AIConfig) *AzureProvider {
	clientCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	if cfg.APIVersion != "" {
		clientCfg.APIVersion = cfg.APIVersion
	}
	deployment := cfg.Deployment
	clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
	return &AzureProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		apiKey:      cfg.APIKey,
		endpoint:    cfg.Endpoint,
		deployment:  deployment,
		apiVersion:  clientCfg.APIVersion,
		temperature: ai.Temperature,
		maxTokens:   ai.MaxTokens,
	}
}

func (p *AzureProvider) Name() string { return "azure" }

func (p *AzureProvider) ValidateConfig() []error {
	var errs []error
	if p.apiKey == "" {
		errs = append(errs, errors.New("azure_openai.api_key is empty"))
	}
	if p.endpoint == "" {
		errs = append(errs, errors.New("azure_openai.endpoint is empty"))
	}
	if p.deployment == "" {
		errs = append(errs, errors.New("azure_openai.deployment is empty"))
	}
	return errs
}

func (p *AzureProvider) SafeConfig() map[string]string {
	return map[string]string{
		"backend":     "azure",
		"api_key":     logger.RedactSecret(p.apiKey),
		"endpoint":    p.endpoint,
		"deployment":  p.deployment,
		"api_version": p.apiVersion,
	}
}

func (p *AzureProvider) ModelInfo() ModelInfo {
	return ModelInfo{
		Models:       []string{p.deployment},
		Capabilities: []string{"chat", "json_mode"},
		MaxTokens:    16384,
	}
}

// TestConnection runs a one-token completion so the check exercises the
// deployment itself, not just the subscription.
func (p *AzureProvider) TestConnection(ctx context.Context) error {
	probe := CompletionRequest{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}
	_, err := p.Complete(ctx, probe)
	return err
}

func (p *AzureProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	req = req.withDefaults(p.deployment, p.temperature, p.maxTokens)
	resp, err := p.client.CreateChatCompletion(ctx, chatRequest(req))
	if err != nil {
		return fail(req.Model, classifyOpenAIErr("azure", "complete", err))
	}
	if len(resp.Choices) == 0 {
		return fail(req.Model, errkind.Newf(errkind.Parse, "azure", "complete", "response carried no choices"))
	}
	choice := resp.Choices[0]
	model := resp.Model
	if model == "" {
		model = p.deployment
	}
	return CompletionResponse{
		Success:      true,
		Content:      choice.Message.Content,
		Model:        model,
		Usage:        Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens},
		FinishReason: string(choice.FinishReason),
	}, nil
}
