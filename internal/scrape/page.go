package scrape

import (
	"context"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
)

// maxPageText caps the plain text handed to downstream consumers. LLM
// prompts carry page text verbatim, so runaway pages must not blow the
// token budget.
const maxPageText = 12000

// PageFetcher retrieves raw pages for consumers outside this package,
// chiefly the AI enrichment stage, which parses profile pages and product
// pages. It shares the scrapers' fetching layer: static HTTP first, the
// rendered fallback when the static document is a JS shell.
type PageFetcher struct {
	fetch *fetcher
}

// NewPageFetcher builds a fetcher over the shared HTTP client. The
// renderer may be nil, which disables the browser fallback.
func NewPageFetcher(client *httpclient.Client, render Renderer, scraping config.ScrapingConfig) *PageFetcher {
	return &PageFetcher{fetch: newFetcher(client, render, scraping)}
}

// Page returns the page's HTML. Pages whose static body carries almost no
// text are re-fetched through the browser, when one is available.
func (p *PageFetcher) Page(ctx context.Context, pageURL string) (string, error) {
	doc, err := p.fetch.static(ctx, "scraping", pageURL)
	if err == nil {
		if html, herr := doc.Html(); herr == nil {
			if len(stripHTML(html)) >= 200 || p.fetch.render == nil {
				return html, nil
			}
		}
	}
	if p.fetch.render == nil {
		if err != nil {
			return "", err
		}
		return doc.Html()
	}
	if ctx.Err() != nil && err != nil {
		return "", err
	}
	return p.fetch.render.Render(ctx, "page-fetcher", pageURL)
}

// Text returns the page flattened to plain text, capped at a size that
// keeps prompts bounded.
func (p *PageFetcher) Text(ctx context.Context, pageURL string) (string, error) {
	html, err := p.Page(ctx, pageURL)
	if err != nil {
		return "", err
	}
	return clampLen(stripHTML(html), maxPageText), nil
}
