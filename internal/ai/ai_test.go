package ai

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Unisami/ProspectAI-sub000/internal/cache"
	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptedProvider replays canned completions in order, capturing every
// request. The last entry repeats once the script runs out.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []llm.CompletionRequest
}

func (p *scriptedProvider) Name() string                  { return "scripted" }
func (p *scriptedProvider) ValidateConfig() []error       { return nil }
func (p *scriptedProvider) SafeConfig() map[string]string { return map[string]string{} }

func (p *scriptedProvider) ModelInfo() llm.ModelInfo {
	return llm.ModelInfo{Models: []string{"scripted"}}
}

func (p *scriptedProvider) TestConnection(ctx context.Context) error { return nil }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.requests)
	p.requests = append(p.requests, req)

	if i < len(p.errs) && p.errs[i] != nil {
		return llm.CompletionResponse{Success: false, ErrorMessage: p.errs[i].Error()}, p.errs[i]
	}
	content := ""
	if len(p.responses) > 0 {
		if i >= len(p.responses) {
			i = len(p.responses) - 1
		}
		content = p.responses[i]
	}
	return llm.CompletionResponse{Success: true, Content: content, Model: "scripted"}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func testAIConfig() config.AIConfig {
	return config.AIConfig{
		Backend:              "scripted",
		TimeoutSeconds:       30,
		MaxEmailWords:        150,
		PersonalizationFloor: 0.3,
	}
}

func newTestService(t *testing.T, p llm.Provider, cfg config.AIConfig) *Service {
	t.Helper()
	c, err := cache.New(cache.Config{MaxEntries: 128, Dir: t.TempDir()})
	require.NoError(t, err)

	reg := llm.NewRegistry()
	reg.Register("scripted", func() (llm.Provider, error) { return p, nil })
	return New(reg, c, cfg)
}

const janeProfileJSON = `{"name":"Jane Doe","current_role":"CTO","experience":["Acme Labs"],"skills":["Go","Distributed systems"],"summary":"Builds developer infrastructure."}`

func TestParseProfileSuccessAndCache(t *testing.T) {
	p := &scriptedProvider{responses: []string{janeProfileJSON}}
	s := newTestService(t, p, testAIConfig())

	res, err := s.ParseProfile(context.Background(), "<html>jane's page</html>", nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "Jane Doe", res.Profile.Name)
	assert.Equal(t, "CTO", res.Profile.CurrentRole)
	assert.Equal(t, []string{"Go", "Distributed systems"}, res.Profile.Skills)
	assert.InDelta(t, 1.0, res.ConfidenceScore, 0.001)
	assert.False(t, res.Cached)

	req := p.request(0)
	assert.Equal(t, llm.FormatJSON, req.ResponseFormat)
	assert.Contains(t, req.Messages[0].Content, "structured data")
	assert.Contains(t, req.Messages[1].Content, "jane's page")

	// Same page again: served from cache, no second completion.
	res, err = s.ParseProfile(context.Background(), "<html>jane's page</html>", nil)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "Jane Doe", res.Profile.Name)
	assert.Equal(t, 1, p.calls())
}

func TestParseProfileRepairRoundTrip(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"Sure! Here is the profile you asked for.",
		janeProfileJSON,
	}}
	s := newTestService(t, p, testAIConfig())

	res, err := s.ParseProfile(context.Background(), "<html>page</html>", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Jane Doe", res.Profile.Name)
	require.Equal(t, 2, p.calls())

	// The repair turn carries the bad output back with the correction.
	repair := p.request(1)
	require.Len(t, repair.Messages, 4)
	assert.Equal(t, llm.RoleAssistant, repair.Messages[2].Role)
	assert.Equal(t, "Sure! Here is the profile you asked for.", repair.Messages[2].Content)
	assert.Equal(t, repairPrompt, repair.Messages[3].Content)
}

func TestParseProfileFallbackAfterRepairFailure(t *testing.T) {
	p := &scriptedProvider{responses: []string{"still not json", "and again not json"}}
	s := newTestService(t, p, testAIConfig())

	fb := &domain.ProfileFallback{Name: "Jane Doe", Role: "CTO", Company: "Acme"}
	res, err := s.ParseProfile(context.Background(), "<html>broken page</html>", fb)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Jane Doe", res.Profile.Name)
	assert.Equal(t, "CTO", res.Profile.CurrentRole)
	assert.InDelta(t, 0.6, res.ConfidenceScore, 0.001)
	require.Equal(t, 2, p.calls())

	// The degraded result is cached: a retry must not burn quota again.
	res, err = s.ParseProfile(context.Background(), "<html>broken page</html>", fb)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 2, p.calls())
}

func TestParseProfileParseErrorWithoutFallback(t *testing.T) {
	p := &scriptedProvider{responses: []string{"nope", "still nope"}}
	s := newTestService(t, p, testAIConfig())

	res, err := s.ParseProfile(context.Background(), "<html>junk</html>", nil)
	require.Error(t, err)
	assert.Equal(t, errkind.Parse, errkind.Of(err))
	assert.False(t, res.Success)
	assert.Equal(t, "parse", res.ErrorKind)
	assert.Nil(t, res.Profile)

	// Failures are never cached: the next attempt reaches the model again.
	_, err = s.ParseProfile(context.Background(), "<html>junk</html>", nil)
	require.Error(t, err)
	assert.Equal(t, 4, p.calls())
}

func TestParseProfileUnknownSubstitution(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{"current_role":"CTO"}`}}
	s := newTestService(t, p, testAIConfig())

	res, err := s.ParseProfile(context.Background(), "<html>nameless</html>", nil)
	require.NoError(t, err)
	assert.Equal(t, UnknownProfileName, res.Profile.Name)
	assert.Equal(t, "CTO", res.Profile.CurrentRole)
	assert.InDelta(t, 0.3, res.ConfidenceScore, 0.001)
}

func TestParseProfileTransientErrorPropagates(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		errkind.Newf(errkind.Transient, "llm", "complete", "upstream 503"),
	}}
	s := newTestService(t, p, testAIConfig())

	res, err := s.ParseProfile(context.Background(), "<html>page</html>", &domain.ProfileFallback{Name: "J"})
	require.Error(t, err)
	assert.Equal(t, errkind.Transient, errkind.Of(err))
	assert.False(t, res.Success)
	assert.Equal(t, "transient", res.ErrorKind)
	// Transport failures never degrade to the fallback profile.
	assert.Nil(t, res.Profile)
	assert.Equal(t, 1, p.calls())
}

func TestParseProfileDisabled(t *testing.T) {
	p := &scriptedProvider{}
	cfg := testAIConfig()
	off := false
	cfg.EnableProfileParsing = &off
	s := newTestService(t, p, cfg)

	res, err := s.ParseProfile(context.Background(), "<html>page</html>", nil)
	require.Error(t, err)
	assert.Equal(t, errkind.Config, errkind.Of(err))
	assert.Equal(t, "config", res.ErrorKind)
	assert.Zero(t, p.calls())
}

func TestParseProfileEmptyHTMLUsesFallback(t *testing.T) {
	p := &scriptedProvider{}
	s := newTestService(t, p, testAIConfig())

	res, err := s.ParseProfile(context.Background(), "   ", &domain.ProfileFallback{Name: "Jane", Role: "CEO"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Jane", res.Profile.Name)
	assert.Zero(t, p.calls())

	_, err = s.ParseProfile(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, errkind.Permanent, errkind.Of(err))
}

const acmeProductJSON = `{
  "name": "Acme Deploy",
  "category": "Developer tools",
  "description": "One-command deployments for small teams.",
  "features": ["preview environments", "instant rollback", "secrets sync", "zero-config CI", "usage metering", "audit log"],
  "pricing": {"model": "freemium", "tiers": ["Free", "Team $29/mo"]},
  "market_analysis": {"target_market": "Seed-stage startups", "competitors": ["Heroku", "Render"]},
  "business_metrics": {"funding_stage": "seed", "team_size": "2-10", "founded_year": 2025}
}`

func TestAnalyzeProductSuccess(t *testing.T) {
	p := &scriptedProvider{responses: []string{acmeProductJSON}}
	s := newTestService(t, p, testAIConfig())

	res, err := s.AnalyzeProduct(context.Background(), "Acme Deploy landing page text")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "Acme Deploy", res.Analysis.Name)
	assert.Len(t, res.Analysis.Features, 5, "feature list is capped")
	assert.Equal(t, "freemium", res.Analysis.Pricing.Model)
	assert.Equal(t, []string{"Heroku", "Render"}, res.Analysis.Market.Competitors)
	assert.Equal(t, 2025, res.Analysis.Business.FoundedYear)
	assert.InDelta(t, 1.0, res.ConfidenceScore, 0.001)

	res, err = s.AnalyzeProduct(context.Background(), "Acme Deploy landing page text")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Len(t, res.Analysis.Features, 5)
	assert.Equal(t, 1, p.calls())
}

func TestAnalyzeProductEmptyText(t *testing.T) {
	p := &scriptedProvider{}
	s := newTestService(t, p, testAIConfig())

	res, err := s.AnalyzeProduct(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, errkind.Permanent, errkind.Of(err))
	assert.False(t, res.Success)
	assert.Zero(t, p.calls())
}

func TestAnalyzeProductDisabled(t *testing.T) {
	p := &scriptedProvider{}
	cfg := testAIConfig()
	off := false
	cfg.EnableProductAnalysis = &off
	s := newTestService(t, p, cfg)

	_, err := s.AnalyzeProduct(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, errkind.Config, errkind.Of(err))
	assert.Zero(t, p.calls())
}

func TestMetricsPerOperation(t *testing.T) {
	p := &scriptedProvider{responses: []string{janeProfileJSON}}
	s := newTestService(t, p, testAIConfig())

	_, err := s.ParseProfile(context.Background(), "<html>page</html>", nil)
	require.NoError(t, err)
	_, err = s.ParseProfile(context.Background(), "<html>page</html>", nil)
	require.NoError(t, err)
	_, err = s.AnalyzeProduct(context.Background(), "")
	require.Error(t, err)

	m := s.Metrics()

	parse := m["parse_profile"]
	assert.Equal(t, int64(2), parse.Count)
	assert.Equal(t, int64(1), parse.CacheHits)
	assert.Equal(t, int64(0), parse.Errors)
	assert.InDelta(t, 1.0, parse.SuccessRate, 0.001)
	assert.InDelta(t, 0.5, parse.CacheHitRate, 0.001)
	assert.GreaterOrEqual(t, parse.AvgLatencyMS, 0.0)

	product := m["analyze_product"]
	assert.Equal(t, int64(1), product.Count)
	assert.Equal(t, int64(1), product.Errors)
	assert.InDelta(t, 0.0, product.SuccessRate, 0.001)

	email := m["generate_email"]
	assert.Zero(t, email.Count)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":          `{"a":1}`,
		"```\n{\"a\":1}\n```":              `{"a":1}`,
		"Here you go: {\"a\":1} enjoy!":    `{"a":1}`,
		`{"a":{"b":2}}`:                    `{"a":{"b":2}}`,
		"no json at all":                   "no json at all",
		"```json\n{\"a\": \"x}y\"}\n```\n": `{"a": "x}y"}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, extractJSON(in), "input %q", in)
	}
}
