// Package ai exposes the three LLM-backed enrichment operations of the
// pipeline: profile parsing, product analysis, and outreach email
// generation. Every operation returns a result envelope alongside a
// classified error, serves repeats through the cache, and records
// per-operation metrics.
package ai

import (
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/cache"
	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/llm"
)

// Cache entry lifetimes. Profile and product results are keyed by their
// source content, which rarely changes within a day. Drafts expire sooner
// so a re-run after prompt tuning picks up new wording.
const (
	profileCacheTTL = 24 * time.Hour
	productCacheTTL = 24 * time.Hour
	emailCacheTTL   = 6 * time.Hour
)

// Service composes the LLM registry with the cache. All three operations
// run through Cache.GetOrCompute with operation-typed keys, so concurrent
// duplicate requests coalesce onto one completion and failures are never
// cached.
type Service struct {
	llm   *llm.Registry
	cache *cache.Cache
	cfg   config.AIConfig

	parseStats   opStats
	productStats opStats
	emailStats   opStats
}

// New builds the enrichment service on an already-constructed registry and
// cache.
func New(registry *llm.Registry, c *cache.Cache, cfg config.AIConfig) *Service {
	return &Service{llm: registry, cache: c, cfg: cfg}
}

// ProfileResult is the parse_profile envelope.
type ProfileResult struct {
	Success         bool                    `json:"success"`
	Profile         *domain.LinkedInProfile `json:"profile,omitempty"`
	ConfidenceScore float64                 `json:"confidence_score"`
	Cached          bool                    `json:"cached"`
	ErrorKind       string                  `json:"error_kind,omitempty"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
}

// ProductResult is the analyze_product envelope.
type ProductResult struct {
	Success         bool                    `json:"success"`
	Analysis        *domain.ProductAnalysis `json:"analysis,omitempty"`
	ConfidenceScore float64                 `json:"confidence_score"`
	Cached          bool                    `json:"cached"`
	ErrorKind       string                  `json:"error_kind,omitempty"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
}

// EmailResult is the generate_email envelope. On a low-personalization
// soft failure Success is false but Draft still carries the usable body.
type EmailResult struct {
	Success         bool               `json:"success"`
	Draft           *domain.EmailDraft `json:"draft,omitempty"`
	ConfidenceScore float64            `json:"confidence_score"`
	Cached          bool               `json:"cached"`
	ErrorKind       string             `json:"error_kind,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
}

// GenerateEmailInput bundles everything email generation can draw on.
// Profile, Product, Sender, and Extra are optional; richer input raises
// the personalization score the draft can reach.
type GenerateEmailInput struct {
	Prospect *domain.Prospect
	Template domain.EmailTemplate
	Profile  *domain.LinkedInProfile
	Product  *domain.ProductAnalysis
	Sender   *config.SenderProfile
	Extra    string
}

func profileFailure(err error) ProfileResult {
	return ProfileResult{ErrorKind: errkind.Of(err).String(), ErrorMessage: err.Error()}
}

func productFailure(err error) ProductResult {
	return ProductResult{ErrorKind: errkind.Of(err).String(), ErrorMessage: err.Error()}
}

func emailFailure(err error) EmailResult {
	return EmailResult{ErrorKind: errkind.Of(err).String(), ErrorMessage: err.Error()}
}
