package ai

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
)

func janeProspect() *domain.Prospect {
	return &domain.Prospect{Name: "Jane Doe", Role: "CTO", Company: "Acme"}
}

func draftJSON(subject, body string, score float64) string {
	b, _ := json.Marshal(map[string]any{
		"subject":               subject,
		"body":                  body,
		"personalization_score": score,
	})
	return string(b)
}

func TestGenerateEmailSuccess(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		draftJSON("Loved the Acme launch", "Hi Jane,\n\nCongrats on launching Acme yesterday. I build Go services and would love to help.\n\nBest,\nSam", 0.9),
	}}
	s := newTestService(t, p, testAIConfig())

	res, err := s.GenerateEmail(context.Background(), GenerateEmailInput{
		Prospect: janeProspect(),
		Template: domain.TemplateColdOutreach,
		Sender:   &config.SenderProfile{Name: "Sam Field", CurrentRole: "Backend engineer", ValueProposition: "I ship reliable Go services."},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "Loved the Acme launch", res.Draft.Subject)
	assert.Contains(t, res.Draft.Body, "Acme")
	assert.Equal(t, domain.TemplateColdOutreach, res.Draft.Template)
	assert.InDelta(t, 0.9, res.ConfidenceScore, 0.001)
	assert.False(t, res.Cached)

	user := p.request(0).Messages[1].Content
	assert.Contains(t, user, "Recipient: Jane Doe, CTO at Acme.")
	assert.Contains(t, user, "Sender: Sam Field, Backend engineer.")
	assert.Contains(t, user, "under 150 words")
}

func TestGenerateEmailCachedSecondCall(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		draftJSON("Subject", "Hi Jane, Acme looks great.", 0.8),
	}}
	s := newTestService(t, p, testAIConfig())

	in := GenerateEmailInput{Prospect: janeProspect(), Template: domain.TemplateNetworking}
	_, err := s.GenerateEmail(context.Background(), in)
	require.NoError(t, err)

	res, err := s.GenerateEmail(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, p.calls())

	// A different template is a different draft, not a cache hit.
	in.Template = domain.TemplateFollowUp
	res, err = s.GenerateEmail(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, p.calls())
}

func TestGenerateEmailPersonalizationPenaltyAndFloor(t *testing.T) {
	// The body never names the company or role, so the self-assessed 0.5
	// drops by the penalty below the 0.3 floor.
	p := &scriptedProvider{responses: []string{
		draftJSON("Hello", "Hi there, I admire what your team is building and would love to chat.", 0.5),
	}}
	s := newTestService(t, p, testAIConfig())

	res, err := s.GenerateEmail(context.Background(), GenerateEmailInput{Prospect: janeProspect()})
	require.Error(t, err)
	assert.Equal(t, errkind.LowPersonalization, errkind.Of(err))
	assert.False(t, res.Success)
	assert.Equal(t, "low_personalization", res.ErrorKind)
	require.NotNil(t, res.Draft, "the draft stays available on a soft failure")
	assert.InDelta(t, 0.2, res.ConfidenceScore, 0.001)
	assert.InDelta(t, 0.2, res.Draft.PersonalizationScore, 0.001)
}

func TestGenerateEmailPenaltyAboveFloorStaysSuccess(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		draftJSON("Hello", "Hi there, I admire what your team is building.", 0.9),
	}}
	s := newTestService(t, p, testAIConfig())

	res, err := s.GenerateEmail(context.Background(), GenerateEmailInput{Prospect: janeProspect()})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.InDelta(t, 0.6, res.ConfidenceScore, 0.001)
}

func TestGenerateEmailWordCap(t *testing.T) {
	cfg := testAIConfig()
	cfg.MaxEmailWords = 12
	p := &scriptedProvider{responses: []string{
		draftJSON("Subject",
			"Congrats on the Acme launch yesterday friend. Second sentence continues with more words to overflow the cap here now.",
			0.9),
	}}
	s := newTestService(t, p, cfg)

	res, err := s.GenerateEmail(context.Background(), GenerateEmailInput{Prospect: janeProspect()})
	require.NoError(t, err)
	assert.Equal(t, "Congrats on the Acme launch yesterday friend.", res.Draft.Body,
		"over-long bodies are cut at the last sentence boundary inside the cap")
	assert.LessOrEqual(t, res.Draft.WordCount(), 12)
}

func TestGenerateEmailEmptySubjectIsParseFailure(t *testing.T) {
	// Valid JSON with an empty subject is a content failure, not a JSON
	// failure: no repair round-trip happens.
	p := &scriptedProvider{responses: []string{draftJSON("", "body text here", 0.9)}}
	s := newTestService(t, p, testAIConfig())

	res, err := s.GenerateEmail(context.Background(), GenerateEmailInput{Prospect: janeProspect()})
	require.Error(t, err)
	assert.Equal(t, errkind.Parse, errkind.Of(err))
	assert.Contains(t, err.Error(), "no subject")
	assert.Nil(t, res.Draft)
	assert.Equal(t, 1, p.calls())
}

func TestGenerateEmailValidation(t *testing.T) {
	p := &scriptedProvider{}
	s := newTestService(t, p, testAIConfig())

	_, err := s.GenerateEmail(context.Background(), GenerateEmailInput{})
	require.Error(t, err)
	assert.Equal(t, errkind.Permanent, errkind.Of(err))
	assert.Contains(t, err.Error(), "no prospect")

	_, err = s.GenerateEmail(context.Background(), GenerateEmailInput{
		Prospect: janeProspect(),
		Template: domain.EmailTemplate("carrier_pigeon"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown email template")
	assert.Zero(t, p.calls())
}

func TestGenerateEmailDefaultsToColdOutreach(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		draftJSON("Subject", "Hi Jane, Acme caught my eye.", 0.8),
	}}
	s := newTestService(t, p, testAIConfig())

	res, err := s.GenerateEmail(context.Background(), GenerateEmailInput{Prospect: janeProspect()})
	require.NoError(t, err)
	assert.Equal(t, domain.TemplateColdOutreach, res.Draft.Template)
}

func TestGenerateEmailTemplateAngles(t *testing.T) {
	fragments := map[domain.EmailTemplate]string{
		domain.TemplateColdOutreach:    "first introduction",
		domain.TemplateReferral:        "mutual contact",
		domain.TemplateProductInterest: "reaction to their product",
		domain.TemplateNetworking:      "no job ask",
		domain.TemplateFollowUp:        "got no reply",
	}

	p := &scriptedProvider{responses: []string{
		draftJSON("Subject", "Hi Jane, Acme is impressive.", 0.8),
	}}
	s := newTestService(t, p, testAIConfig())

	i := 0
	for template, fragment := range fragments {
		_, err := s.GenerateEmail(context.Background(), GenerateEmailInput{
			Prospect: janeProspect(),
			Template: template,
		})
		require.NoError(t, err, "template %s", template)
		assert.Contains(t, p.request(i).Messages[1].Content, fragment, "template %s", template)
		i++
	}
}

func TestGenerateEmailEnhancedPersonalization(t *testing.T) {
	cfg := testAIConfig()
	cfg.EnhancedPersonalization = true
	p := &scriptedProvider{responses: []string{
		draftJSON("Subject", "Hi Jane, preview environments in Acme Deploy look great.", 0.9),
	}}
	s := newTestService(t, p, cfg)

	_, err := s.GenerateEmail(context.Background(), GenerateEmailInput{
		Prospect: janeProspect(),
		Product: &domain.ProductAnalysis{
			Name:     "Acme Deploy",
			Features: []string{"preview environments", "instant rollback"},
		},
		Profile: &domain.LinkedInProfile{
			Name: "Jane Doe", CurrentRole: "CTO",
			Experience: []string{"Staff engineer at BigCo"},
		},
	})
	require.NoError(t, err)

	user := p.request(0).Messages[1].Content
	assert.Contains(t, user, "Product features: preview environments, instant rollback.")
	assert.Contains(t, user, "Their experience: Staff engineer at BigCo.")
	assert.Contains(t, user, "at least one specific detail")
}

func TestPersonalizationTokens(t *testing.T) {
	p := &domain.Prospect{Company: "The Acme Labs, Inc.", Role: "Head of Engineering"}
	tokens := personalizationTokens(p)
	assert.ElementsMatch(t, []string{"acme", "labs", "engineering"}, tokens)

	assert.True(t, mentionsProspect("We love acme around here", p))
	assert.False(t, mentionsProspect("Hello friend", p))
	assert.True(t, mentionsProspect("anything", &domain.Prospect{}), "nothing to mention passes trivially")
}

func TestCapWords(t *testing.T) {
	assert.Equal(t, "one two three", capWords("one two three", 5), "under the cap stays untouched")
	assert.Equal(t, "one two three", capWords("one two three four five six", 3))

	long := "Short lead. " + strings.Repeat("filler ", 20)
	capped := capWords(long, 10)
	assert.LessOrEqual(t, len(strings.Fields(capped)), 10)

	assert.Equal(t, "one two three four five six", capWords("one two three four five six", 0), "zero cap disables trimming")
}
