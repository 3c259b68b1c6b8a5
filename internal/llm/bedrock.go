package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/awsutil"
)

// bedrockAnthropicVersion is the body-level version marker Bedrock
// requires for Anthropic models.
const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockProvider serves completions through AWS Bedrock running
// Anthropic models. Everything stays inside the AWS account.
type BedrockProvider struct {
	client      *bedrockruntime.Client
	modelID     string
	region      string
	temperature float64
	maxTokens   int
}

// bedrockMessage is one turn in the Bedrock-hosted Messages format.
type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// bedrockRequest is the InvokeModel body for Anthropic models.
type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

// bedrockResponse is the InvokeModel response body.
type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewBedrock builds the Bedrock-backed provider.
func NewBedrock(cfg config.AWSConfig, ai config.AIConfig) (*BedrockProvider, error) {
	awsCfg, err := awsutil.Load(context.Background(), cfg.Region, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	log.Printf("[LLM] bedrock ready: model=%s region=%s", cfg.BedrockModel, cfg.Region)
	return &BedrockProvider{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		modelID:     cfg.BedrockModel,
		region:      cfg.Region,
		temperature: ai.Temperature,
		maxTokens:   ai.MaxTokens,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) ValidateConfig() []error {
	var errs []error
	if p.modelID == "" {
		errs = append(errs, errors.New("aws.bedrock_model is empty"))
	}
	if p.region == "" {
		errs = append(errs, errors.New("aws.region is empty"))
	}
	return errs
}

// SafeConfig omits credentials entirely; they live in the AWS credential
// chain, not in our config.
func (p *BedrockProvider) SafeConfig() map[string]string {
	return map[string]string{
		"backend": "bedrock",
		"model":   p.modelID,
		"region":  p.region,
	}
}

func (p *BedrockProvider) ModelInfo() ModelInfo {
	return ModelInfo{
		Models:       []string{p.modelID},
		Capabilities: []string{"chat", "system_prompt"},
		MaxTokens:    4096,
	}
}

// TestConnection runs a one-token invoke, which verifies both the
// credentials and the model-access grant.
func (p *BedrockProvider) TestConnection(ctx context.Context) error {
	probe := CompletionRequest{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}
	_, err := p.Complete(ctx, probe)
	return err
}

func (p *BedrockProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	req = req.withDefaults(p.modelID, p.temperature, p.maxTokens)
	system, rest := splitSystem(req.Messages)
	if req.ResponseFormat == FormatJSON {
		system = joinPrompt(system, jsonInstruction)
	}
	messages := make([]bedrockMessage, len(rest))
	for i, m := range rest {
		messages[i] = bedrockMessage{
			Role:    m.Role,
			Content: []bedrockContentBlock{{Type: "text", Text: m.Content}},
		}
	}

	requestBody, err := json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        req.MaxTokens,
		System:           system,
		Messages:         messages,
		Temperature:      req.Temperature,
	})
	if err != nil {
		return fail(req.Model, errkind.New(errkind.Permanent, "bedrock", "complete", err))
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return fail(req.Model, classifyBedrockErr("complete", err))
	}

	var response bedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return fail(req.Model, errkind.Newf(errkind.Parse, "bedrock", "complete", "failed to parse response: %v", err))
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return CompletionResponse{
		Success:      true,
		Content:      text.String(),
		Model:        req.Model,
		Usage:        Usage{PromptTokens: response.Usage.InputTokens, CompletionTokens: response.Usage.OutputTokens},
		FinishReason: response.StopReason,
	}, nil
}

// classifyBedrockErr maps the SDK's typed exceptions onto the error
// taxonomy.
func classifyBedrockErr(op string, err error) error {
	var (
		throttled *types.ThrottlingException
		quota     *types.ServiceQuotaExceededException
		denied    *types.AccessDeniedException
		internal  *types.InternalServerException
		timeout   *types.ModelTimeoutException
		notReady  *types.ModelNotReadyException
		modelErr  *types.ModelErrorException
		invalid   *types.ValidationException
		missing   *types.ResourceNotFoundException
	)
	kind := errkind.OfTransport(err)
	switch {
	case errors.As(err, &throttled):
		kind = errkind.RateLimited
	case errors.As(err, &quota):
		kind = errkind.QuotaExceeded
	case errors.As(err, &denied):
		kind = errkind.Auth
	case errors.As(err, &internal), errors.As(err, &timeout), errors.As(err, &notReady), errors.As(err, &modelErr):
		kind = errkind.Transient
	case errors.As(err, &invalid), errors.As(err, &missing):
		kind = errkind.Permanent
	}
	return errkind.New(kind, "bedrock", op, err)
}
