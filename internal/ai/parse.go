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

// Substitutions used when neither the page nor the fallback yields a value.
const (
	UnknownProfileName = "Unknown Profile"
	UnknownRole        = "Unknown Role"
)

// ParseProfile extracts a structured profile from raw page HTML. Results
// are cached by content hash. When the model leaves required fields empty
// the fallback values fill them; a profile built purely from the fallback
// is still a low-confidence success, and caching it keeps known-bad pages
// from burning quota on every retry.
func (s *Service) ParseProfile(ctx context.Context, rawHTML string, fallback *domain.ProfileFallback) (ProfileResult, error) {
	start := time.Now()

	if !s.cfg.ProfileParsingEnabled() {
		err := errkind.New(errkind.Config, "ai", "parse_profile", errors.New("profile parsing is disabled"))
		s.parseStats.record(start, false, true)
		return profileFailure(err), err
	}
	if strings.TrimSpace(rawHTML) == "" {
		if fallback != nil {
			p := profileFromFallback(fallback)
			s.parseStats.record(start, false, false)
			return ProfileResult{Success: true, Profile: p, ConfidenceScore: profileConfidence(p)}, nil
		}
		err := errkind.New(errkind.Permanent, "ai", "parse_profile", errors.New("no page content"))
		s.parseStats.record(start, false, true)
		return profileFailure(err), err
	}

	key := cache.Key("profile", rawHTML)
	value, cached, err := s.cache.GetOrCompute(ctx, key, profileCacheTTL, func(ctx context.Context) ([]byte, error) {
		p, err := s.parseProfileOnce(ctx, rawHTML, fallback)
		if err != nil {
			return nil, err
		}
		return json.Marshal(p)
	})
	if err != nil {
		s.parseStats.record(start, false, true)
		return profileFailure(err), err
	}

	var p domain.LinkedInProfile
	if err := json.Unmarshal(value, &p); err != nil {
		s.cache.Delete(key)
		err = errkind.New(errkind.Parse, "ai", "parse_profile", fmt.Errorf("corrupt cache entry: %w", err))
		s.parseStats.record(start, cached, true)
		return profileFailure(err), err
	}

	s.parseStats.record(start, cached, false)
	return ProfileResult{Success: true, Profile: &p, ConfidenceScore: profileConfidence(&p), Cached: cached}, nil
}

// parseProfileOnce runs the completion and post-processes the result. A
// Parse failure with a fallback available degrades to a fallback-only
// profile; transport failures propagate untouched so retry policy applies.
func (s *Service) parseProfileOnce(ctx context.Context, rawHTML string, fallback *domain.ProfileFallback) (*domain.LinkedInProfile, error) {
	var p domain.LinkedInProfile
	err := s.completeJSON(ctx, "parse_profile", profileSystemPrompt, profileUserPrompt(rawHTML), &p)
	if err != nil {
		if errkind.Of(err) == errkind.Parse && fallback != nil {
			return profileFromFallback(fallback), nil
		}
		return nil, err
	}
	overlayFallback(&p, fallback)
	return &p, nil
}

// overlayFallback fills the required fields from the fallback, then from
// the Unknown placeholders.
func overlayFallback(p *domain.LinkedInProfile, fb *domain.ProfileFallback) {
	p.Name = strings.TrimSpace(p.Name)
	p.CurrentRole = strings.TrimSpace(p.CurrentRole)
	if fb != nil {
		if p.Name == "" {
			p.Name = fb.Name
		}
		if p.CurrentRole == "" {
			p.CurrentRole = fb.Role
		}
	}
	if p.Name == "" {
		p.Name = UnknownProfileName
	}
	if p.CurrentRole == "" {
		p.CurrentRole = UnknownRole
	}
}

func profileFromFallback(fb *domain.ProfileFallback) *domain.LinkedInProfile {
	p := &domain.LinkedInProfile{Name: fb.Name, CurrentRole: fb.Role}
	overlayFallback(p, nil)
	return p
}

// profileConfidence scores field completeness. Placeholder substitutions
// count as missing.
func profileConfidence(p *domain.LinkedInProfile) float64 {
	score := 0.0
	if p.Name != "" && p.Name != UnknownProfileName {
		score += 0.3
	}
	if p.CurrentRole != "" && p.CurrentRole != UnknownRole {
		score += 0.3
	}
	if p.Summary != "" {
		score += 0.2
	}
	if len(p.Experience) > 0 {
		score += 0.1
	}
	if len(p.Skills) > 0 {
		score += 0.1
	}
	return score
}
