package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
)

func TestWithDefaults(t *testing.T) {
	req := CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}}
	filled := req.withDefaults("gpt-4o", 0.7, 1500)
	assert.Equal(t, "gpt-4o", filled.Model)
	assert.Equal(t, 0.7, filled.Temperature)
	assert.Equal(t, 1500, filled.MaxTokens)

	explicit := CompletionRequest{Model: "gpt-4o-mini", Temperature: 0.2, MaxTokens: 64}
	filled = explicit.withDefaults("gpt-4o", 0.7, 1500)
	assert.Equal(t, "gpt-4o-mini", filled.Model)
	assert.Equal(t, 0.2, filled.Temperature)
	assert.Equal(t, 64, filled.MaxTokens)
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		{Role: RoleSystem, Content: "you are terse"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleSystem, Content: "reply in English"},
		{Role: RoleAssistant, Content: "hi"},
	})
	assert.Equal(t, "you are terse\n\nreply in English", system)
	require.Len(t, rest, 2)
	assert.Equal(t, RoleUser, rest[0].Role)
	assert.Equal(t, RoleAssistant, rest[1].Role)
}

func TestFailEnvelopeMirrorsError(t *testing.T) {
	err := errkind.Newf(errkind.Auth, "openai", "complete", "status 401")
	resp, returned := fail("gpt-4o", err)
	assert.False(t, resp.Success)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, "auth", resp.ErrorKind)
	assert.Contains(t, resp.ErrorMessage, "401")
	assert.Same(t, err, returned.(*errkind.Error))
}

func TestModelListDeduplicates(t *testing.T) {
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, modelList("gpt-4o", "gpt-4o", "gpt-4o-mini"))
	assert.Equal(t, []string{"custom", "gpt-4o"}, modelList("custom", "gpt-4o"))
}

func TestChatRequestJSONMode(t *testing.T) {
	out := chatRequest(CompletionRequest{
		Messages:       []Message{{Role: RoleSystem, Content: "rules"}, {Role: RoleUser, Content: "go"}},
		Model:          "gpt-4o",
		Temperature:    0.2,
		MaxTokens:      64,
		ResponseFormat: FormatJSON,
	})
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, float32(0.2), out.Temperature)
	assert.Equal(t, 64, out.MaxTokens)
	require.NotNil(t, out.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, out.ResponseFormat.Type)
}

func TestChatRequestTextModeOmitsFormat(t *testing.T) {
	out := chatRequest(CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.Nil(t, out.ResponseFormat)
}

func TestClassifyOpenAIErr(t *testing.T) {
	quota := &openai.APIError{HTTPStatusCode: 429, Type: "insufficient_quota"}
	assert.Equal(t, errkind.QuotaExceeded, errkind.Of(classifyOpenAIErr("openai", "complete", quota)))

	rate := &openai.APIError{HTTPStatusCode: 429, Type: "rate_limit_exceeded"}
	assert.Equal(t, errkind.RateLimited, errkind.Of(classifyOpenAIErr("openai", "complete", rate)))

	auth := &openai.APIError{HTTPStatusCode: 401, Type: "invalid_request_error"}
	assert.Equal(t, errkind.Auth, errkind.Of(classifyOpenAIErr("openai", "complete", auth)))

	srv := &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("bad gateway")}
	assert.Equal(t, errkind.Transient, errkind.Of(classifyOpenAIErr("openai", "complete", srv)))

	assert.Equal(t, errkind.Transient, errkind.Of(classifyOpenAIErr("openai", "complete", errors.New("connection reset"))))
	assert.Equal(t, errkind.Cancelled, errkind.Of(classifyOpenAIErr("openai", "complete", context.Canceled)))
}

func TestClassifyBedrockErr(t *testing.T) {
	throttle := &types.ThrottlingException{Message: aws.String("slow down")}
	assert.Equal(t, errkind.RateLimited, errkind.Of(classifyBedrockErr("complete", throttle)))

	quota := &types.ServiceQuotaExceededException{Message: aws.String("quota reached")}
	assert.Equal(t, errkind.QuotaExceeded, errkind.Of(classifyBedrockErr("complete", quota)))

	denied := &types.AccessDeniedException{Message: aws.String("no model access")}
	assert.Equal(t, errkind.Auth, errkind.Of(classifyBedrockErr("complete", denied)))

	busy := &types.ModelTimeoutException{Message: aws.String("model timed out")}
	assert.Equal(t, errkind.Transient, errkind.Of(classifyBedrockErr("complete", busy)))

	invalid := &types.ValidationException{Message: aws.String("bad body")}
	assert.Equal(t, errkind.Permanent, errkind.Of(classifyBedrockErr("complete", invalid)))
}

func TestClassifyGeminiErr(t *testing.T) {
	quota := genai.APIError{Code: 429, Message: "Quota exceeded for quota metric"}
	assert.Equal(t, errkind.QuotaExceeded, errkind.Of(classifyGeminiErr("complete", quota)))

	rate := genai.APIError{Code: 429, Message: "Resource has been exhausted"}
	assert.Equal(t, errkind.RateLimited, errkind.Of(classifyGeminiErr("complete", rate)))

	denied := genai.APIError{Code: 403, Message: "permission denied"}
	assert.Equal(t, errkind.Auth, errkind.Of(classifyGeminiErr("complete", denied)))
}
