package scrape

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/Unisami/ProspectAI-sub000/internal/cache"
	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
)

const (
	// profileURLTTL covers positive and negative lookups alike; a member
	// who had no findable profile today will not grow one within the day.
	profileURLTTL = 24 * time.Hour

	// memberCeiling is the wall-clock budget for one member. When it runs
	// out the finder settles for synthesis instead of blocking the worker.
	memberCeiling = 15 * time.Second

	searchTimeout = 6 * time.Second

	// noProfile marks a cached negative lookup.
	noProfile = "\x00none"
)

// ProfileFinder resolves a public profile URL for a team member who came
// off the page without one. Pattern-guessed URLs validated by HEAD come
// first, then one short search-engine query, then unvalidated synthesis
// as the last resort. Every outcome including "not found" is cached so
// repeat lookups for the same person cost nothing.
type ProfileFinder struct {
	http  *httpclient.Client
	cache *cache.Cache
	ua    string

	linkedinBase string
	searchBase   string
}

// NewProfileFinder builds a finder over the shared HTTP client and cache.
func NewProfileFinder(client *httpclient.Client, c *cache.Cache, scraping config.ScrapingConfig) *ProfileFinder {
	return &ProfileFinder{
		http:         client,
		cache:        c,
		ua:           scraping.UserAgent,
		linkedinBase: "https://www.linkedin.com",
		searchBase:   "https://html.duckduckgo.com/html/",
	}
}

// Find returns the member's profile URL, or "" when none can be resolved.
// A member that already carries a profile URL is returned as-is without
// touching the network.
func (p *ProfileFinder) Find(ctx context.Context, member domain.TeamMember) (string, error) {
	if member.ProfileURL != "" {
		return member.ProfileURL, nil
	}
	if strings.TrimSpace(member.Name) == "" {
		return "", nil
	}

	key := cache.Key("profileurl",
		domain.NormalizeName(member.Name), domain.NormalizeName(member.CompanyName))
	val, cached, err := p.cache.GetOrCompute(ctx, key, profileURLTTL, func(ctx context.Context) ([]byte, error) {
		found, err := p.resolve(ctx, member)
		if err != nil {
			return nil, err
		}
		if found == "" {
			return []byte(noProfile), nil
		}
		return []byte(found), nil
	})
	if err != nil {
		return "", err
	}
	if cached {
		log.Printf("[ProfileFinder] cache hit for %q", member.Name)
	}
	if string(val) == noProfile {
		return "", nil
	}
	return string(val), nil
}

// resolve runs the three-step lookup under the per-member ceiling. Only a
// cancelled parent context is an error; running out of ceiling or luck
// degrades to synthesis or a negative result.
func (p *ProfileFinder) resolve(ctx context.Context, member domain.TeamMember) (string, error) {
	timed, cancel := context.WithTimeout(ctx, memberCeiling)
	defer cancel()

	candidates := p.candidateURLs(member)
	for _, u := range candidates {
		if timed.Err() != nil {
			break
		}
		if p.headOK(timed, u) {
			log.Printf("[ProfileFinder] validated %s for %q", u, member.Name)
			return u, nil
		}
	}

	if timed.Err() == nil {
		if found := p.search(timed, member); found != "" {
			log.Printf("[ProfileFinder] search resolved %s for %q", found, member.Name)
			return found, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return "", errkind.New(errkind.Cancelled, "scrape", "find_profile", err)
	}
	if len(candidates) > 0 {
		log.Printf("[ProfileFinder] synthesizing %s for %q", candidates[0], member.Name)
		return candidates[0], nil
	}
	return "", nil
}

func (p *ProfileFinder) candidateURLs(member domain.TeamMember) []string {
	slugs := profileSlugs(member.Name, member.CompanyName)
	urls := make([]string, 0, len(slugs))
	for _, s := range slugs {
		urls = append(urls, p.linkedinBase+"/in/"+s)
	}
	return urls
}

// headOK reports whether a HEAD request to u comes back 2xx/3xx. Any
// failure just means the candidate stays unvalidated.
func (p *ProfileFinder) headOK(ctx context.Context, u string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", p.ua)

	resp, err := p.http.Do(ctx, "scraping", req)
	if resp != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
	}
	return err == nil
}

// search issues one query against the HTML search endpoint and returns
// the first result that looks like a profile URL. Failures are logged and
// swallowed; the caller has a synthesis fallback.
func (p *ProfileFinder) search(ctx context.Context, member domain.TeamMember) string {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	query := fmt.Sprintf("%q %q site:linkedin.com/in", member.Name, member.CompanyName)
	searchURL := p.searchBase + "?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", p.ua)

	resp, err := p.http.Do(ctx, "search", req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		log.Printf("[ProfileFinder] search for %q failed: %v", member.Name, err)
		return ""
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxDocBytes))
	if err != nil {
		return ""
	}
	for _, link := range searchResultLinks(doc) {
		if strings.Contains(strings.ToLower(link), "linkedin.com/in/") {
			return link
		}
	}
	return ""
}

// searchResultLinks extracts result URLs from a DuckDuckGo HTML page,
// unwrapping the uddg redirect parameter the results are wrapped in.
func searchResultLinks(doc *goquery.Document) []string {
	var links []string
	doc.Find("a.result__a").Each(func(i int, s *goquery.Selection) {
		if i >= 5 {
			return
		}
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if parsed, err := url.Parse(href); err == nil {
			if actual := parsed.Query().Get("uddg"); actual != "" {
				links = append(links, actual)
				return
			}
		}
		if strings.HasPrefix(href, "http") {
			links = append(links, href)
		}
	})
	return links
}

// profileSlugs builds the name-pattern slugs tried against the profile
// host. Nothing is returned for names that do not split into at least a
// first and last part.
func profileSlugs(name, company string) []string {
	fields := asciiNameFields(name)
	if len(fields) < 2 {
		return nil
	}
	first, last := fields[0], fields[len(fields)-1]
	slugs := []string{
		first + "-" + last,
		first + last,
	}
	if cslug := strings.Join(asciiNameFields(company), ""); cslug != "" {
		slugs = append(slugs, first+"-"+last+"-"+cslug)
	}
	return slugs
}

// asciiNameFields lowercases the name and strips everything but ASCII
// letters, the shape profile hosts use in their URL slugs.
func asciiNameFields(name string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(name)) {
		var b strings.Builder
		for _, r := range f {
			if r >= 'a' && r <= 'z' {
				b.WriteRune(r)
			} else if r > 127 {
				if folded := unicode.ToLower(foldASCII(r)); folded >= 'a' && folded <= 'z' {
					b.WriteRune(folded)
				}
			}
		}
		if b.Len() > 0 {
			out = append(out, b.String())
		}
	}
	return out
}

// foldASCII maps the common accented Latin letters onto their ASCII base.
func foldASCII(r rune) rune {
	switch {
	case r >= 'à' && r <= 'å':
		return 'a'
	case r == 'ç':
		return 'c'
	case r >= 'è' && r <= 'ë':
		return 'e'
	case r >= 'ì' && r <= 'ï':
		return 'i'
	case r == 'ñ':
		return 'n'
	case r >= 'ò' && r <= 'ö':
		return 'o'
	case r >= 'ù' && r <= 'ü':
		return 'u'
	case r == 'ý' || r == 'ÿ':
		return 'y'
	}
	return r
}
