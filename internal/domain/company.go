package domain

import (
	"strings"
	"time"
)

// Company is a candidate discovered from a product-launch listing. Scrapers
// create it; enrichment stages may fill Domain and Description later. It is
// never deleted, only superseded by the dedup check on its Key.
type Company struct {
	Name        string    `json:"name"`
	Domain      string    `json:"domain,omitempty"`
	ProductURL  string    `json:"product_url,omitempty"`
	Description string    `json:"description,omitempty"`
	LaunchedAt  time.Time `json:"launched_at"`
	Source      string    `json:"source,omitempty"`
}

// Key returns the dedup identity: the normalized domain when known,
// otherwise the normalized name.
func (c Company) Key() string {
	if c.Domain != "" {
		return NormalizeDomain(c.Domain)
	}
	return NormalizeName(c.Name)
}

// TeamMember is a person extracted from a company page. It lives only for
// the duration of a company pipeline; once an email or profile resolves it
// becomes a Prospect.
type TeamMember struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	CompanyName string `json:"company_name"`
	ProfileURL  string `json:"profile_url,omitempty"`
}

// NormalizeName lowercases and collapses internal whitespace so that
// "Acme  Labs" and "acme labs" share one identity.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeDomain strips scheme, "www." and any path so that
// "https://www.acme.io/about" and "acme.io" share one identity.
func NormalizeDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimSuffix(s, ".")
}
