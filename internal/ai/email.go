package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/cache"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
)

// personalizationPenalty is subtracted from the model's self-assessed score
// when the body never names the prospect's company or role.
const personalizationPenalty = 0.3

// GenerateEmail produces an outreach draft for a prospect. Drafts are
// cached on the full generation input; the personalization check runs on
// every call, cached or not, so a raised floor applies to old drafts too.
// A draft below the floor comes back as a LowPersonalization soft failure
// with the draft still attached.
func (s *Service) GenerateEmail(ctx context.Context, in GenerateEmailInput) (EmailResult, error) {
	start := time.Now()

	if in.Prospect == nil {
		err := errkind.New(errkind.Permanent, "ai", "generate_email", errors.New("no prospect"))
		s.emailStats.record(start, false, true)
		return emailFailure(err), err
	}
	template := in.Template
	if template == "" {
		template = domain.TemplateColdOutreach
	}
	if !template.Valid() {
		err := errkind.Newf(errkind.Permanent, "ai", "generate_email", "unknown email template %q", template)
		s.emailStats.record(start, false, true)
		return emailFailure(err), err
	}

	key := emailCacheKey(in, template)
	value, cached, err := s.cache.GetOrCompute(ctx, key, emailCacheTTL, func(ctx context.Context) ([]byte, error) {
		d, err := s.generateEmailOnce(ctx, in, template)
		if err != nil {
			return nil, err
		}
		return json.Marshal(d)
	})
	if err != nil {
		s.emailStats.record(start, false, true)
		return emailFailure(err), err
	}

	var d domain.EmailDraft
	if err := json.Unmarshal(value, &d); err != nil {
		s.cache.Delete(key)
		err = errkind.New(errkind.Parse, "ai", "generate_email", fmt.Errorf("corrupt cache entry: %w", err))
		s.emailStats.record(start, cached, true)
		return emailFailure(err), err
	}

	score := d.PersonalizationScore
	if !mentionsProspect(d.Body, in.Prospect) {
		score = clamp01(score - personalizationPenalty)
		d.PersonalizationScore = score
	}
	if score < s.cfg.PersonalizationFloor {
		err := errkind.Newf(errkind.LowPersonalization, "ai", "generate_email",
			"personalization %.2f below floor %.2f", score, s.cfg.PersonalizationFloor)
		s.emailStats.record(start, cached, true)
		return EmailResult{
			Draft:           &d,
			ConfidenceScore: score,
			Cached:          cached,
			ErrorKind:       errkind.LowPersonalization.String(),
			ErrorMessage:    err.Error(),
		}, err
	}

	s.emailStats.record(start, cached, false)
	return EmailResult{Success: true, Draft: &d, ConfidenceScore: score, Cached: cached}, nil
}

// generateEmailOnce runs the completion and validates the draft. An empty
// subject or body is a Parse failure; an over-long body is trimmed to the
// word cap rather than failed, preferring a sentence boundary.
func (s *Service) generateEmailOnce(ctx context.Context, in GenerateEmailInput, template domain.EmailTemplate) (*domain.EmailDraft, error) {
	user := emailUserPrompt(in, template, s.cfg.MaxEmailWords, s.cfg.EnhancedPersonalization)

	var d domain.EmailDraft
	if err := s.completeJSON(ctx, "generate_email", emailSystemPrompt, user, &d); err != nil {
		return nil, err
	}
	d.Subject = strings.TrimSpace(d.Subject)
	d.Body = strings.TrimSpace(d.Body)
	if d.Subject == "" {
		return nil, errkind.New(errkind.Parse, "ai", "generate_email", errors.New("draft has no subject"))
	}
	if d.Body == "" {
		return nil, errkind.New(errkind.Parse, "ai", "generate_email", errors.New("draft has no body"))
	}
	d.PersonalizationScore = clamp01(d.PersonalizationScore)
	d.Body = capWords(d.Body, s.cfg.MaxEmailWords)
	d.Template = template
	return &d, nil
}

// emailCacheKey hashes every input that shapes the draft.
func emailCacheKey(in GenerateEmailInput, template domain.EmailTemplate) string {
	var profilePart, productPart, senderPart string
	if in.Profile != nil {
		b, _ := json.Marshal(in.Profile)
		profilePart = string(b)
	}
	if in.Product != nil {
		b, _ := json.Marshal(in.Product)
		productPart = string(b)
	}
	if in.Sender != nil {
		b, _ := json.Marshal(in.Sender)
		senderPart = string(b)
	}
	return cache.Key("email",
		string(template),
		in.Prospect.Name, in.Prospect.Role, in.Prospect.Company,
		profilePart, productPart, senderPart, in.Extra,
	)
}

// mentionsProspect reports whether the body names the prospect's company
// or role. Only tokens of three or more characters count, filler words are
// skipped, and a prospect with nothing to mention passes trivially.
func mentionsProspect(body string, p *domain.Prospect) bool {
	tokens := personalizationTokens(p)
	if len(tokens) == 0 {
		return true
	}
	lower := strings.ToLower(body)
	for _, token := range tokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

var fillerTokens = map[string]bool{
	"the": true, "and": true, "for": true, "inc": true, "llc": true,
	"ltd": true, "head": true, "lead": true, "senior": true,
}

func personalizationTokens(p *domain.Prospect) []string {
	var tokens []string
	for _, source := range []string{p.Company, p.Role} {
		for _, f := range strings.Fields(strings.ToLower(source)) {
			f = strings.Trim(f, ".,()&/")
			if len(f) >= 3 && !fillerTokens[f] {
				tokens = append(tokens, f)
			}
		}
	}
	return tokens
}

// capWords trims the body to at most max words, cutting at the end of the
// last complete sentence when one lands in the second half of the cut.
func capWords(body string, max int) string {
	if max <= 0 {
		return body
	}
	words := strings.Fields(body)
	if len(words) <= max {
		return body
	}
	cut := strings.Join(words[:max], " ")
	if i := strings.LastIndexAny(cut, ".!?"); i > len(cut)/2 {
		return cut[:i+1]
	}
	return cut
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
