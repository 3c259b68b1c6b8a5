package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	assert.Equal(t, Auth, FromStatus("hunter", "find", 401, 0).Kind)
	assert.Equal(t, Auth, FromStatus("hunter", "find", 403, 0).Kind)
	assert.Equal(t, QuotaExceeded, FromStatus("hunter", "find", 402, 0).Kind)
	assert.Equal(t, RateLimited, FromStatus("openai", "complete", 429, 0).Kind)
	assert.Equal(t, Transient, FromStatus("notion", "query", 503, 0).Kind)
	assert.Equal(t, Transient, FromStatus("notion", "query", 408, 0).Kind)
	assert.Equal(t, Permanent, FromStatus("notion", "query", 404, 0).Kind)
}

func TestKindFromStatus(t *testing.T) {
	assert.Equal(t, RateLimited, KindFromStatus(429))
	assert.Equal(t, Transient, KindFromStatus(500))
	assert.Equal(t, Permanent, KindFromStatus(200))
}

func TestOfTransport(t *testing.T) {
	assert.Equal(t, Transient, OfTransport(errors.New("connection refused")))
	assert.Equal(t, Cancelled, OfTransport(context.Canceled))
	assert.Equal(t, Auth, OfTransport(New(Auth, "openai", "complete", nil)))
}

func TestOfWalksWrappedChain(t *testing.T) {
	base := New(RateLimited, "resend", "send", errors.New("429"))
	wrapped := fmt.Errorf("batch 3: %w", base)
	assert.Equal(t, RateLimited, Of(wrapped))
	assert.True(t, Is(wrapped, RateLimited))
}

func TestOfContextErrors(t *testing.T) {
	assert.Equal(t, Cancelled, Of(context.Canceled))
	assert.Equal(t, Transient, Of(context.DeadlineExceeded))
	assert.Equal(t, Permanent, Of(errors.New("boom")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(Transient, "", "", nil)))
	assert.True(t, Retryable(New(RateLimited, "", "", nil)))
	assert.False(t, Retryable(New(QuotaExceeded, "", "", nil)))
	assert.False(t, Retryable(New(Auth, "", "", nil)))
	assert.False(t, Retryable(context.Canceled))
}

func TestRetryAfterCarried(t *testing.T) {
	err := FromStatus("openai", "complete", 429, 15*time.Second)
	wrapped := fmt.Errorf("stage ai: %w", err)
	assert.Equal(t, 15*time.Second, RetryAfter(wrapped))
	assert.Zero(t, RetryAfter(errors.New("plain")))
}

func TestErrorString(t *testing.T) {
	err := New(Auth, "notion", "upsert_prospect", errors.New("status 401"))
	assert.Contains(t, err.Error(), "notion")
	assert.Contains(t, err.Error(), "auth")
}
