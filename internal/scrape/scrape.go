// Package scrape discovers launch candidates and the people behind them.
// Three collaborators share one fetching layer: ProductFeed lists candidate
// companies from a product-launch source, TeamExtractor pulls team members
// off a company page, and ProfileFinder resolves a member's public profile
// URL. Static HTTP is always tried first; pages that only materialize under
// JavaScript fall back to a rendered fetch through the browser pool.
package scrape

import (
	"context"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/Unisami/ProspectAI-sub000/internal/browser"
	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
)

// maxDocBytes caps how much of a page is read before parsing. Launch
// listings and profile pages fit comfortably; anything larger is noise.
const maxDocBytes = 2 << 20

// Renderer is the JS-rendering fallback the scrapers use when the static
// DOM carries no usable markup. A nil Renderer disables the fallback.
type Renderer interface {
	Render(ctx context.Context, owner, pageURL string) (string, error)
}

// PoolRenderer adapts a browser.Pool to the Renderer interface. Each
// render checks out one session, loads the page, and returns the session
// on the way out.
type PoolRenderer struct {
	pool *browser.Pool
	opts browser.LoadOptions
}

// NewPoolRenderer wires a browser pool as the rendering fallback.
func NewPoolRenderer(pool *browser.Pool, opts browser.LoadOptions) PoolRenderer {
	return PoolRenderer{pool: pool, opts: opts}
}

func (r PoolRenderer) Render(ctx context.Context, owner, pageURL string) (string, error) {
	s, err := r.pool.Acquire(ctx, owner)
	if err != nil {
		return "", err
	}
	defer r.pool.Release(s)
	if err := s.Load(ctx, pageURL, r.opts); err != nil {
		return "", err
	}
	return s.HTML()
}

// fetcher is the retrieval layer shared by the scrapers: rate-limited
// static fetches through the shared HTTP client, rendered fetches through
// the browser pool.
type fetcher struct {
	http    *httpclient.Client
	render  Renderer
	ua      string
	timeout time.Duration
}

func newFetcher(client *httpclient.Client, render Renderer, scraping config.ScrapingConfig) *fetcher {
	return &fetcher{
		http:    client,
		render:  render,
		ua:      scraping.UserAgent,
		timeout: scraping.Timeout(),
	}
}

// static fetches a page over plain HTTP and parses it. The service name
// selects which rate limiter and circuit breaker the request runs under.
func (f *fetcher) static(ctx context.Context, service, pageURL string) (*goquery.Document, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, errkind.New(errkind.Permanent, "scrape", "fetch", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.http.Do(ctx, service, req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxDocBytes))
	if err != nil {
		return nil, errkind.New(errkind.Parse, "scrape", "fetch", err)
	}
	return doc, nil
}

// rendered fetches a page through the browser pool and parses the
// rendered document.
func (f *fetcher) rendered(ctx context.Context, owner, pageURL string) (*goquery.Document, error) {
	if f.render == nil {
		return nil, errkind.Newf(errkind.Config, "scrape", "render", "no browser pool configured")
	}
	page, err := f.render.Render(ctx, owner, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, errkind.New(errkind.Parse, "scrape", "render", err)
	}
	return doc, nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML flattens an HTML fragment to plain text: tags removed,
// entities decoded, whitespace normalized.
func stripHTML(input string) string {
	text := tagPattern.ReplaceAllString(input, " ")
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

// firstLine returns the first non-empty line of s with its whitespace
// collapsed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.Join(strings.Fields(line), " "); t != "" {
			return t
		}
	}
	return ""
}

// firstText returns the first non-empty text among the elements matching
// selector under s.
func firstText(s *goquery.Selection, selector string) string {
	out := ""
	s.Find(selector).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if t := firstLine(el.Text()); t != "" {
			out = t
			return false
		}
		return true
	})
	return out
}

func startsWithLetterOrDigit(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// absoluteURL resolves href against base and rejects anything that is not
// plain http(s).
func absoluteURL(base *url.URL, href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func clampLen(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	cut := s[:end]
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return cut
}
