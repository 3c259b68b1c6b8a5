package scrape

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
)

const maxDescriptionLen = 500

// ProductFeed lists candidate companies from a product-launch source. The
// RSS feed is the cheap primary path; when it is unavailable or empty the
// HTML listing page is scraped instead, paginating until the requested
// limit is reached or the listing runs dry. Deduplication against already
// processed companies is the orchestrator's job, not this one's.
type ProductFeed struct {
	fetch  *fetcher
	cfg    config.FeedConfig
	parser *gofeed.Parser
}

// NewProductFeed builds a feed lister. The renderer may be nil, which
// disables the browser fallback for JS-only listings.
func NewProductFeed(client *httpclient.Client, render Renderer, feed config.FeedConfig, scraping config.ScrapingConfig) *ProductFeed {
	return &ProductFeed{
		fetch:  newFetcher(client, render, scraping),
		cfg:    feed,
		parser: gofeed.NewParser(),
	}
}

// List returns up to limit company stubs, freshest first as the source
// reports them.
func (f *ProductFeed) List(ctx context.Context, limit int) ([]domain.Company, error) {
	if limit <= 0 {
		return nil, nil
	}

	if f.cfg.RSSURL != "" {
		companies, err := f.listRSS(ctx, limit)
		if err == nil && (len(companies) > 0 || f.cfg.ListingURL == "") {
			return companies, nil
		}
		if err != nil {
			if errkind.Of(err) == errkind.Cancelled || f.cfg.ListingURL == "" {
				return nil, err
			}
			log.Printf("[ProductFeed] rss fetch failed, falling back to listing: %v", err)
		}
	}

	if f.cfg.ListingURL == "" {
		return nil, errkind.Newf(errkind.Config, "scrape", "list", "no feed source configured")
	}
	return f.listHTML(ctx, limit)
}

func (f *ProductFeed) listRSS(ctx context.Context, limit int) ([]domain.Company, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.RSSURL, nil)
	if err != nil {
		return nil, errkind.New(errkind.Config, "scrape", "list", err)
	}
	req.Header.Set("User-Agent", f.fetch.ua)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.fetch.http.Do(ctx, "producthunt", req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()

	feed, err := f.parser.Parse(io.LimitReader(resp.Body, maxDocBytes))
	if err != nil {
		return nil, errkind.New(errkind.Parse, "scrape", "list", err)
	}

	feedHost := domain.NormalizeDomain(req.URL.Hostname())
	companies := make([]domain.Company, 0, len(feed.Items))
	for _, item := range feed.Items {
		if len(companies) >= limit {
			break
		}
		c := companyFromItem(item, feedHost)
		if c.Name == "" {
			continue
		}
		companies = append(companies, c)
	}
	log.Printf("[ProductFeed] rss yielded %d companies (%d items)", len(companies), len(feed.Items))
	return companies, nil
}

// companyFromItem maps one feed entry to a company stub. The company
// domain is only filled when the item links off the feed's own site,
// otherwise every entry would collapse onto the listing host's key.
func companyFromItem(item *gofeed.Item, feedHost string) domain.Company {
	c := domain.Company{
		Name:        firstLine(item.Title),
		ProductURL:  strings.TrimSpace(item.Link),
		Description: clampLen(stripHTML(item.Description), maxDescriptionLen),
		Source:      "rss",
	}
	if item.PublishedParsed != nil {
		c.LaunchedAt = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		c.LaunchedAt = *item.UpdatedParsed
	}
	if u, err := url.Parse(c.ProductURL); err == nil {
		if host := domain.NormalizeDomain(u.Hostname()); host != "" && host != feedHost {
			c.Domain = host
		}
	}
	return c
}

func (f *ProductFeed) listHTML(ctx context.Context, limit int) ([]domain.Company, error) {
	base, err := url.Parse(f.cfg.ListingURL)
	if err != nil {
		return nil, errkind.New(errkind.Config, "scrape", "list", err)
	}
	maxPages := f.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	var out []domain.Company
	seen := make(map[string]struct{})
	useBrowser := false

	for page := 1; page <= maxPages && len(out) < limit; page++ {
		pageURL := listingPageURL(base, page)

		batch, err := f.listingPage(ctx, pageURL, useBrowser)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			log.Printf("[ProductFeed] page %d fetch failed, returning %d companies: %v", page, len(out), err)
			break
		}

		// A JS-only listing serves an empty shell to plain HTTP. Switch to
		// rendered fetches once and stay there for the remaining pages.
		if len(batch) == 0 && !useBrowser && f.fetch.render != nil {
			useBrowser = true
			if batch, err = f.listingPage(ctx, pageURL, true); err != nil {
				if page == 1 {
					return nil, err
				}
				break
			}
		}

		added := 0
		for _, c := range batch {
			key := c.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
			added++
			if len(out) >= limit {
				break
			}
		}
		if added == 0 {
			break // listing exhausted
		}
	}

	log.Printf("[ProductFeed] listing yielded %d companies (limit %d)", len(out), limit)
	return out, nil
}

func (f *ProductFeed) listingPage(ctx context.Context, pageURL string, useBrowser bool) ([]domain.Company, error) {
	var (
		doc *goquery.Document
		err error
	)
	if useBrowser {
		doc, err = f.fetch.rendered(ctx, "product-feed", pageURL)
	} else {
		doc, err = f.fetch.static(ctx, "producthunt", pageURL)
	}
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(pageURL)
	return parseListing(doc, base), nil
}

func listingPageURL(base *url.URL, page int) string {
	if page <= 1 {
		return base.String()
	}
	u := *base
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// parseListing pulls company stubs out of a listing page. Launch sites
// link every card to a post detail page, so post anchors are the primary
// signal; generic directory markup is the backstop.
func parseListing(doc *goquery.Document, base *url.URL) []domain.Company {
	var out []domain.Company
	seenLinks := make(map[string]struct{})

	add := func(name, link, description string) {
		name = firstLine(name)
		if name == "" || len(name) > 80 || !startsWithLetterOrDigit(name) {
			return
		}
		link = absoluteURL(base, link)
		if link != "" {
			if _, dup := seenLinks[link]; dup {
				return
			}
			seenLinks[link] = struct{}{}
		}
		out = append(out, domain.Company{
			Name:        name,
			ProductURL:  link,
			Description: clampLen(stripHTML(description), maxDescriptionLen),
			Source:      "listing",
		})
	}

	doc.Find("a[href^='/posts/'], a[href*='producthunt.com/posts/']").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		name := firstText(a, "h2, h3, [class*=name], [class*=title]")
		if name == "" {
			name = firstLine(a.Text())
		}
		description := firstText(a, "[class*=tagline], [class*=description], p")
		if strings.EqualFold(description, name) {
			description = ""
		}
		add(name, href, description)
	})
	if len(out) > 0 {
		return out
	}

	doc.Find("article, li[class*=item], div[class*=post], div[class*=product]").Each(func(_ int, card *goquery.Selection) {
		name := firstText(card, "h2, h3, [class*=name], [class*=title]")
		if name == "" {
			return
		}
		link, _ := card.Find("a[href]").First().Attr("href")
		description := firstText(card, "[class*=tagline], [class*=description], p")
		add(name, link, description)
	})
	return out
}

