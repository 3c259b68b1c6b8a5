package scrape

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
	"github.com/Unisami/ProspectAI-sub000/internal/ratelimit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testScrapingConfig() config.ScrapingConfig {
	return config.ScrapingConfig{TimeoutSeconds: 10, UserAgent: "test-agent"}
}

func openLimiter() *ratelimit.Limiter {
	return ratelimit.New(map[string]ratelimit.ServiceConfig{
		"producthunt": {PerMinute: 10000},
		"scraping":    {PerMinute: 10000},
		"search":      {PerMinute: 10000},
	})
}

func testHTTPClient(server *httptest.Server) *httpclient.Client {
	return httpclient.NewWithTransport(openLimiter(), server.Client(), httpclient.Options{})
}

// fakeRenderer replays canned HTML per URL in place of the browser pool.
type fakeRenderer struct {
	mu    sync.Mutex
	calls []string
	pages map[string]string
	err   error
}

func (r *fakeRenderer) Render(ctx context.Context, owner, pageURL string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, pageURL)
	if r.err != nil {
		return "", r.err
	}
	page, ok := r.pages[pageURL]
	if !ok {
		return "", errors.New("no page scripted for " + pageURL)
	}
	return page, nil
}

func (r *fakeRenderer) rendered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func mustDoc(t *testing.T, page string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestStripHTML(t *testing.T) {
	in := `<p>Dashboards &amp; insights<br>for   teams</p>`
	assert.Equal(t, "Dashboards & insights for teams", stripHTML(in))
	assert.Equal(t, "plain", stripHTML("plain"))
	assert.Equal(t, "", stripHTML("<div></div>"))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "Acme Analytics", firstLine("\n\n  Acme   Analytics  \n tagline"))
	assert.Equal(t, "", firstLine("  \n\t\n"))
}

func TestAbsoluteURL(t *testing.T) {
	base, err := url.Parse("https://example.com/listing")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/posts/acme", absoluteURL(base, "/posts/acme"))
	assert.Equal(t, "https://other.io/x", absoluteURL(base, "https://other.io/x"))
	assert.Equal(t, "", absoluteURL(base, "javascript:void(0)"))
	assert.Equal(t, "", absoluteURL(base, "mailto:x@y.z"))
}

func TestClampLen(t *testing.T) {
	assert.Equal(t, "short", clampLen("short", 100))

	long := strings.Repeat("word ", 40)
	got := clampLen(long, 50)
	assert.LessOrEqual(t, len(got), 50)
	assert.False(t, strings.HasSuffix(got, " "), "clamp should cut at a word boundary")
}
