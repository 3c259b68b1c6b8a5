package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
)

const makerCardsPage = `<html><body>
<div class="makers-grid">
<div class="maker"><h3>Jane Doe</h3><p class="role">CEO &amp; Co-founder</p>
<a href="https://www.linkedin.com/in/jane-doe">LinkedIn</a></div>
<div class="maker"><h3>John Smith</h3><p class="role">CTO</p>
<a href="https://twitter.com/johnsmith">Twitter</a></div>
</div>
<a href="/pricing">Learn More</a>
</body></html>`

const headingSectionPage = `<html><body>
<section>
<h2>Meet the Team</h2>
<div class="grid">
<div><h4>Jane Doe</h4></div>
<div><h4>John Smith</h4></div>
<div><h4>Pricing Plans</h4></div>
</div>
</section>
</body></html>`

const linkedinAnchorsPage = `<html><body>
<footer>
<a href="https://www.linkedin.com/in/jane-doe-1a2b3c">Jane Doe</a>
<a href="https://www.linkedin.com/in/john-smith">Profile</a>
<a href="https://www.linkedin.com/in/jane-doe-1a2b3c">Jane Doe</a>
</footer>
</body></html>`

func newTestExtractor(server *httptest.Server, render Renderer) *TeamExtractor {
	return NewTeamExtractor(testHTTPClient(server), render, testScrapingConfig())
}

func TestExtractMakerCards(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, makerCardsPage)
	}))
	defer server.Close()

	ex := newTestExtractor(server, nil)
	members, err := ex.Extract(context.Background(), domain.Company{
		Name:       "Acme",
		ProductURL: server.URL + "/company",
	})
	require.NoError(t, err)
	require.Len(t, members, 2)

	assert.Equal(t, "Jane Doe", members[0].Name)
	assert.Equal(t, "CEO & Co-founder", members[0].Role)
	assert.Equal(t, "Acme", members[0].CompanyName)
	assert.Equal(t, "https://www.linkedin.com/in/jane-doe", members[0].ProfileURL)

	assert.Equal(t, "John Smith", members[1].Name)
	assert.Equal(t, "CTO", members[1].Role)
	assert.Equal(t, "https://twitter.com/johnsmith", members[1].ProfileURL)
}

func TestExtractHeadingSection(t *testing.T) {
	doc := mustDoc(t, headingSectionPage)

	members := extractTeam(doc, "Acme", nil)
	require.Len(t, members, 2, "tagline-like entries must be filtered out")
	assert.Equal(t, "Jane Doe", members[0].Name)
	assert.Equal(t, "John Smith", members[1].Name)
}

func TestExtractLinkedInAnchors(t *testing.T) {
	doc := mustDoc(t, linkedinAnchorsPage)

	members := extractTeam(doc, "Acme", nil)
	require.Len(t, members, 2, "duplicate anchors must collapse")

	assert.Equal(t, "Jane Doe", members[0].Name)
	assert.Equal(t, "https://www.linkedin.com/in/jane-doe-1a2b3c", members[0].ProfileURL)

	assert.Equal(t, "John Smith", members[1].Name, "name recovered from the profile slug")
	assert.Equal(t, "https://www.linkedin.com/in/john-smith", members[1].ProfileURL)
}

func TestExtractNoTeamIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>A product page</h1><p>No people here.</p></body></html>`)
	}))
	defer server.Close()

	ex := newTestExtractor(server, nil)
	members, err := ex.Extract(context.Background(), domain.Company{
		Name:       "Acme",
		ProductURL: server.URL + "/company",
	})
	require.NoError(t, err)
	assert.NotNil(t, members)
	assert.Empty(t, members)
}

func TestExtractFetchFailureDegradesToEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	ex := newTestExtractor(server, nil)
	members, err := ex.Extract(context.Background(), domain.Company{
		Name:       "Acme",
		ProductURL: server.URL + "/gone",
	})
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestExtractNoPageURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a company without a page")
	}))
	defer server.Close()

	ex := newTestExtractor(server, nil)
	members, err := ex.Extract(context.Background(), domain.Company{Name: "Acme"})
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestExtractBrowserFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingShell)
	}))
	defer server.Close()

	pageURL := server.URL + "/company"
	render := &fakeRenderer{pages: map[string]string{pageURL: makerCardsPage}}

	ex := newTestExtractor(server, render)
	members, err := ex.Extract(context.Background(), domain.Company{
		Name:       "Acme",
		ProductURL: pageURL,
	})
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.Equal(t, []string{pageURL}, render.rendered())
}

func TestExtractCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, makerCardsPage)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := newTestExtractor(server, nil)
	_, err := ex.Extract(ctx, domain.Company{Name: "Acme", ProductURL: server.URL + "/company"})
	require.Error(t, err)
}

func TestPlausibleName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"Jane Doe", true},
		{"Maria de la Cruz", true},
		{"Jane O'Brien", true},
		{"J. R. Smith", true},
		{"Mark Price", true},
		{"Jane", false},
		{"jane doe", false},
		{"Learn More", false},
		{"Meet The Team", false},
		{"Pricing Plans", false},
		{"123 Main", false},
		{"Ship & Go", false},
		{"One Two Three Four Five", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, plausibleName(tc.name), "name %q", tc.name)
	}
}

func TestNameFromSlug(t *testing.T) {
	cases := []struct {
		href string
		want string
	}{
		{"https://linkedin.com/in/jane-doe-1a2b3c", "Jane Doe"},
		{"https://www.linkedin.com/in/john-smith", "John Smith"},
		{"/in/maria", "Maria"},
		{"https://www.linkedin.com/in/12345", ""},
		{"https://x.com/", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, nameFromSlug(tc.href), "href %q", tc.href)
	}
}

func TestTeamHeading(t *testing.T) {
	assert.True(t, teamHeading("Meet the Team"))
	assert.True(t, teamHeading("Our Founders"))
	assert.True(t, teamHeading("  Makers  "))
	assert.False(t, teamHeading("Pricing"))
	assert.False(t, teamHeading(""))
}
