package scrape

import (
	"context"
	"log"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
)

// maxTeamMembers caps extraction per page. Pages listing more are almost
// always matching navigation or testimonial noise, not a founding team.
const maxTeamMembers = 12

// memberCardSelector matches the markup patterns sites use for individual
// team or maker cards.
const memberCardSelector = "[class*=team-member], [class*=teamMember], [class*=TeamMember], " +
	"[itemprop=employee], [class*=maker], [class*=Maker], [data-test*=maker], " +
	"[class*=founder], [class*=Founder]"

// TeamExtractor pulls team members off a company or product page. It
// never fails a company for missing people: fetch and parse problems
// degrade to an empty result so the pipeline can mark the company NoTeam
// and move on. Only cancellation surfaces as an error.
type TeamExtractor struct {
	fetch *fetcher
}

// NewTeamExtractor builds an extractor. The renderer may be nil, which
// disables the browser fallback.
func NewTeamExtractor(client *httpclient.Client, render Renderer, scraping config.ScrapingConfig) *TeamExtractor {
	return &TeamExtractor{fetch: newFetcher(client, render, scraping)}
}

// Extract returns the team members found on the company's page. The
// result is empty, never an error, when the page is unreachable or
// carries no recognizable team markup.
func (t *TeamExtractor) Extract(ctx context.Context, company domain.Company) ([]domain.TeamMember, error) {
	pageURL := company.ProductURL
	if pageURL == "" && company.Domain != "" {
		pageURL = "https://" + company.Domain
	}
	if pageURL == "" {
		return []domain.TeamMember{}, nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		log.Printf("[TeamExtractor] unusable page url %q: %v", pageURL, err)
		return []domain.TeamMember{}, nil
	}

	members := t.extractFrom(ctx, pageURL, base, company.Name, false)
	if len(members) == 0 && t.fetch.render != nil && ctx.Err() == nil {
		members = t.extractFrom(ctx, pageURL, base, company.Name, true)
	}
	if err := ctx.Err(); err != nil {
		return nil, errkind.New(errkind.Cancelled, "scrape", "extract_team", err)
	}
	if members == nil {
		members = []domain.TeamMember{}
	}
	return members, nil
}

func (t *TeamExtractor) extractFrom(ctx context.Context, pageURL string, base *url.URL, companyName string, useBrowser bool) []domain.TeamMember {
	var (
		doc *goquery.Document
		err error
	)
	if useBrowser {
		doc, err = t.fetch.rendered(ctx, "team-extractor", pageURL)
	} else {
		doc, err = t.fetch.static(ctx, "scraping", pageURL)
	}
	if err != nil {
		log.Printf("[TeamExtractor] fetch %s failed (browser=%v): %v", pageURL, useBrowser, err)
		return nil
	}
	return extractTeam(doc, companyName, base)
}

// extractTeam runs the selector cascade: structured member cards, then a
// team heading with people under it, then bare profile links anywhere on
// the page.
func extractTeam(doc *goquery.Document, companyName string, base *url.URL) []domain.TeamMember {
	var members []domain.TeamMember
	seen := make(map[string]struct{})

	add := func(name, role, profile string) {
		name = strings.Join(strings.Fields(name), " ")
		if i := strings.IndexAny(name, ",|•·"); i > 0 {
			if role == "" {
				role = strings.TrimSpace(name[i:])
				role = strings.TrimLeft(role, ",|•· ")
			}
			name = strings.TrimSpace(name[:i])
		}
		if len(members) >= maxTeamMembers || !plausibleName(name) {
			return
		}
		key := domain.NormalizeName(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		role = firstLine(role)
		if strings.EqualFold(role, name) || len(role) > 80 {
			role = ""
		}
		members = append(members, domain.TeamMember{
			Name:        name,
			Role:        role,
			CompanyName: companyName,
			ProfileURL:  profile,
		})
	}

	doc.Find(memberCardSelector).Each(func(_ int, card *goquery.Selection) {
		name := firstText(card, "h2, h3, h4, strong, [class*=name], [class*=Name]")
		if name == "" {
			name = firstLine(card.Text())
		}
		role := firstText(card, "[class*=role], [class*=title], [class*=position], em, p")
		add(name, role, profileLink(card, base))
	})
	if len(members) > 0 {
		return members
	}

	doc.Find("h1, h2, h3, h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !teamHeading(h.Text()) {
			return true
		}
		section := h.Parent()
		section.Find("h3, h4, h5, strong, b, a").Each(func(_ int, el *goquery.Selection) {
			profile := ""
			if el.Is("a") {
				href, _ := el.Attr("href")
				if !isProfileHref(href) {
					return
				}
				profile = absoluteURL(base, href)
			}
			add(el.Text(), "", profile)
		})
		return len(members) == 0
	})
	if len(members) > 0 {
		return members
	}

	doc.Find("a[href*='linkedin.com/in/']").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		name := firstLine(a.Text())
		if !plausibleName(name) {
			name = nameFromSlug(href)
		}
		add(name, "", absoluteURL(base, href))
	})
	return members
}

// profileLink returns the first social-profile href inside the card.
func profileLink(card *goquery.Selection, base *url.URL) string {
	link := ""
	card.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if isProfileHref(href) {
			link = absoluteURL(base, href)
			return false
		}
		return true
	})
	return link
}

func isProfileHref(href string) bool {
	h := strings.ToLower(href)
	if strings.Contains(h, "/share") || strings.Contains(h, "/intent") {
		return false
	}
	return strings.Contains(h, "linkedin.com/in/") ||
		strings.Contains(h, "twitter.com/") ||
		strings.Contains(h, "x.com/") ||
		strings.Contains(h, "github.com/")
}

var teamHeadingWords = []string{
	"team", "makers", "founders", "who we are", "meet the", "built by", "people",
}

func teamHeading(s string) bool {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "" || len(t) > 60 {
		return false
	}
	for _, w := range teamHeadingWords {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

var nameStopPhrases = map[string]struct{}{
	"learn more": {}, "read more": {}, "see more": {}, "view all": {},
	"contact us": {}, "about us": {}, "join us": {}, "follow us": {},
	"our team": {}, "the team": {}, "meet the team": {},
	"sign up": {}, "sign in": {}, "log in": {}, "get started": {},
	"view profile": {}, "privacy policy": {}, "terms of service": {},
}

// nonNameWords are UI and marketing words that show up capitalized in
// headings and card titles but never in a personal name.
var nonNameWords = map[string]struct{}{
	"pricing": {}, "plans": {}, "features": {}, "product": {}, "products": {},
	"team": {}, "about": {}, "contact": {}, "careers": {}, "blog": {},
	"docs": {}, "support": {}, "help": {}, "faq": {}, "login": {},
	"signup": {}, "register": {}, "terms": {}, "privacy": {}, "policy": {},
	"menu": {}, "search": {}, "home": {}, "view": {}, "learn": {},
	"download": {}, "subscribe": {}, "newsletter": {}, "free": {},
	"trial": {}, "demo": {}, "started": {}, "members": {}, "profile": {},
}

// plausibleName filters out navigation labels, vote counts, and taglines
// that selector heuristics drag in. A personal name is two to four short
// words of letters, starting with an uppercase letter.
func plausibleName(s string) bool {
	if s == "" || len(s) > 60 {
		return false
	}
	if _, stop := nameStopPhrases[strings.ToLower(s)]; stop {
		return false
	}
	fields := strings.Fields(s)
	if len(fields) < 2 || len(fields) > 4 {
		return false
	}
	for _, f := range fields {
		if _, bad := nonNameWords[strings.ToLower(f)]; bad {
			return false
		}
		for _, r := range f {
			if !unicode.IsLetter(r) && r != '-' && r != '\'' && r != '.' {
				return false
			}
		}
	}
	first, _ := utf8.DecodeRuneInString(fields[0])
	return unicode.IsUpper(first)
}

// nameFromSlug recovers "Jane Doe" from a profile path like
// /in/jane-doe-1a2b3c, dropping the trailing id chunks.
func nameFromSlug(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	path := strings.Trim(u.Path, "/")
	parts := strings.Split(path, "/")
	slug := parts[len(parts)-1]

	var fields []string
	for _, w := range strings.Split(slug, "-") {
		if w == "" || strings.IndexFunc(w, unicode.IsDigit) >= 0 {
			continue
		}
		fields = append(fields, capitalize(w))
	}
	return strings.Join(fields, " ")
}

func capitalize(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + w[size:]
}
