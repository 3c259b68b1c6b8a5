package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
)

const (
	notionDefaultBaseURL = "https://api.notion.com/v1"
	notionDefaultVersion = "2022-06-28"
	notionPageSize       = 100
)

// Notion is the primary backend. Each record type lives in its own Notion
// database, which doubles as the operator's dashboard: prospects, campaigns,
// the processing log, component statuses, daily analytics, the email review
// queue, and the control inbox. Only the prospects database is mandatory;
// operations against an unconfigured dashboard table are no-ops.
type Notion struct {
	http    *httpclient.Client
	cfg     config.NotionConfig
	baseURL string
	version string
}

// NewNotion builds the backend. The token and the prospects database id are
// required; everything else is optional dashboard surface.
func NewNotion(client *httpclient.Client, cfg config.NotionConfig) (*Notion, error) {
	if cfg.Token == "" {
		return nil, errkind.Newf(errkind.Config, "notion", "new", "token not configured")
	}
	if cfg.ProspectsDB == "" {
		return nil, errkind.Newf(errkind.Config, "notion", "new", "prospects database id not configured")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = notionDefaultBaseURL
	}
	version := cfg.Version
	if version == "" {
		version = notionDefaultVersion
	}
	return &Notion{http: client, cfg: cfg, baseURL: base, version: version}, nil
}

func (n *Notion) UpsertProspect(ctx context.Context, p *domain.Prospect) (string, error) {
	const op = "upsert_prospect"
	if err := p.Validate(); err != nil {
		return "", errkind.New(errkind.Permanent, "notion", op, err)
	}

	pages, err := n.queryPages(ctx, op, n.cfg.ProspectsDB,
		filterEquals("Dedup Key", "rich_text", p.Key()), nil, 1)
	if err != nil {
		return "", err
	}
	if len(pages) > 0 {
		existing := prospectFromPage(pages[0])
		mergeProspect(existing, p)
		if err := n.updatePage(ctx, op, pages[0].ID, prospectProps(existing)); err != nil {
			return "", err
		}
		return pages[0].ID, nil
	}
	return n.createPage(ctx, op, n.cfg.ProspectsDB, prospectProps(p))
}

func (n *Notion) UpdateProspectFields(ctx context.Context, id string, patch ProspectPatch) error {
	const op = "update_prospect"
	page, err := n.getPage(ctx, op, id)
	if err != nil {
		return err
	}
	p := prospectFromPage(page)
	patch.apply(p)
	if err := n.updatePage(ctx, op, id, prospectProps(p)); err != nil {
		return err
	}
	if patch.GenerationStatus != nil && *patch.GenerationStatus == domain.GenerationGenerated {
		n.mirrorEmailQueue(ctx, p)
	}
	return nil
}

// mirrorEmailQueue writes one review row per freshly generated draft into
// the email-queue table, the operator's approve-before-send surface.
// Best-effort: a dashboard failure never fails the prospect write.
func (n *Notion) mirrorEmailQueue(ctx context.Context, p *domain.Prospect) {
	if n.cfg.EmailQueueDB == "" {
		return
	}
	if _, err := n.createPage(ctx, "email_queue", n.cfg.EmailQueueDB, queueProps(p)); err != nil {
		log.Printf("[Store] email queue mirror for %s failed: %v", p.Name, err)
	}
}

func (n *Notion) FindProspects(ctx context.Context, f Filter) ([]*domain.Prospect, error) {
	const op = "find_prospects"

	var filters []interface{}
	if f.GenerationStatus != "" {
		filters = append(filters, filterEquals("Generation Status", "select", string(f.GenerationStatus)))
	}
	if f.DeliveryStatus != "" {
		filters = append(filters, filterEquals("Delivery Status", "select", string(f.DeliveryStatus)))
	}
	if !f.Since.IsZero() {
		filters = append(filters, filterEditedAfter(f.Since))
	}
	sorts := []notionSort{{Timestamp: "last_edited_time", Direction: "descending"}}

	// Company matching is normalized, which Notion's equality filter is not,
	// so that predicate runs client-side over the full result.
	limit := f.Limit
	if f.Company != "" {
		limit = 0
	}
	pages, err := n.queryPages(ctx, op, n.cfg.ProspectsDB, filterAnd(filters...), sorts, limit)
	if err != nil {
		return nil, err
	}

	var out []*domain.Prospect
	for _, page := range pages {
		p := prospectFromPage(page)
		if f.matches(p) {
			out = append(out, p)
		}
	}
	return sortProspects(out, f.Limit), nil
}

func (n *Notion) ProcessedCompanies(ctx context.Context) (map[string]struct{}, error) {
	pages, err := n.queryPages(ctx, "processed_companies", n.cfg.ProspectsDB, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(pages))
	for _, page := range pages {
		if company := domain.NormalizeName(page.Properties["Company"].plain()); company != "" {
			out[company] = struct{}{}
		}
	}
	return out, nil
}

func (n *Notion) AppendLog(ctx context.Context, entry *domain.ProcessingLogEntry) error {
	if n.cfg.LogsDB == "" {
		return nil
	}
	e := *entry
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := n.createPage(ctx, "append_log", n.cfg.LogsDB, logProps(&e))
	return err
}

func (n *Notion) UpsertSystemStatus(ctx context.Context, status *domain.SystemStatus) error {
	const op = "upsert_status"
	if n.cfg.StatusDB == "" {
		return nil
	}
	s := *status
	if s.LastUpdate.IsZero() {
		s.LastUpdate = time.Now()
	}
	pages, err := n.queryPages(ctx, op, n.cfg.StatusDB,
		filterEquals("Component", "title", s.Component), nil, 1)
	if err != nil {
		return err
	}
	if len(pages) > 0 {
		return n.updatePage(ctx, op, pages[0].ID, statusProps(&s))
	}
	_, err = n.createPage(ctx, op, n.cfg.StatusDB, statusProps(&s))
	return err
}

func (n *Notion) UpsertCampaign(ctx context.Context, progress *domain.CampaignProgress) error {
	const op = "upsert_campaign"
	if progress.ID == "" {
		return errkind.Newf(errkind.Permanent, "notion", op, "campaign has no id")
	}
	if n.cfg.CampaignsDB == "" {
		return nil
	}
	pages, err := n.queryPages(ctx, op, n.cfg.CampaignsDB,
		filterEquals("Campaign ID", "rich_text", progress.ID), nil, 1)
	if err != nil {
		return err
	}
	if len(pages) > 0 {
		return n.updatePage(ctx, op, pages[0].ID, campaignProps(progress))
	}
	_, err = n.createPage(ctx, op, n.cfg.CampaignsDB, campaignProps(progress))
	return err
}

func (n *Notion) GetCampaign(ctx context.Context, id string) (*domain.CampaignProgress, error) {
	if n.cfg.CampaignsDB == "" {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	pages, err := n.queryPages(ctx, "get_campaign", n.cfg.CampaignsDB,
		filterEquals("Campaign ID", "rich_text", id), nil, 1)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return campaignFromPage(pages[0]), nil
}

func (n *Notion) ReadControlCommands(ctx context.Context, campaignID string, since time.Time) ([]domain.ControlCommand, error) {
	if n.cfg.ControlDB == "" {
		return nil, nil
	}
	filter := filterAnd(
		filterEquals("Campaign", "title", campaignID),
		filterCreatedAfter(since),
	)
	sorts := []notionSort{{Timestamp: "created_time", Direction: "ascending"}}
	pages, err := n.queryPages(ctx, "read_controls", n.cfg.ControlDB, filter, sorts, 0)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ControlCommand, 0, len(pages))
	for _, page := range pages {
		out = append(out, controlFromPage(page))
	}
	return out, nil
}

func (n *Notion) AppendControlCommand(ctx context.Context, cmd *domain.ControlCommand) error {
	const op = "append_control"
	if n.cfg.ControlDB == "" {
		return errkind.Newf(errkind.Config, "notion", op, "control database id not configured")
	}
	_, err := n.createPage(ctx, op, n.cfg.ControlDB, controlProps(cmd))
	return err
}

func (n *Notion) SaveDailyAnalytics(ctx context.Context, day *domain.DailyAnalytics) error {
	const op = "save_analytics"
	if day.Date == "" {
		return errkind.Newf(errkind.Permanent, "notion", op, "analytics record has no date")
	}
	if n.cfg.AnalyticsDB == "" {
		return nil
	}
	pages, err := n.queryPages(ctx, op, n.cfg.AnalyticsDB,
		filterEquals("Date", "title", day.Date), nil, 1)
	if err != nil {
		return err
	}
	if len(pages) > 0 {
		return n.updatePage(ctx, op, pages[0].ID, analyticsProps(day))
	}
	_, err = n.createPage(ctx, op, n.cfg.AnalyticsDB, analyticsProps(day))
	return err
}

func (n *Notion) Ping(ctx context.Context) error {
	var out struct {
		ID string `json:"id"`
	}
	return n.call(ctx, "ping", http.MethodGet, "/users/me", nil, &out)
}

func (n *Notion) queryPages(ctx context.Context, op, dbID string, filter interface{}, sorts []notionSort, limit int) ([]notionPage, error) {
	var out []notionPage
	cursor := ""
	for {
		size := notionPageSize
		if limit > 0 {
			remaining := limit - len(out)
			if remaining <= 0 {
				break
			}
			size = min(size, remaining)
		}
		req := notionQueryRequest{Filter: filter, Sorts: sorts, StartCursor: cursor, PageSize: size}
		var resp notionQueryResponse
		if err := n.call(ctx, op, http.MethodPost, "/databases/"+dbID+"/query", req, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (n *Notion) createPage(ctx context.Context, op, dbID string, props map[string]notionProp) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	req := notionCreateRequest{Parent: notionParent{DatabaseID: dbID}, Properties: props}
	if err := n.call(ctx, op, http.MethodPost, "/pages", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (n *Notion) updatePage(ctx context.Context, op, pageID string, props map[string]notionProp) error {
	return n.call(ctx, op, http.MethodPatch, "/pages/"+pageID, notionUpdateRequest{Properties: props}, nil)
}

func (n *Notion) getPage(ctx context.Context, op, pageID string) (notionPage, error) {
	var page notionPage
	err := n.call(ctx, op, http.MethodGet, "/pages/"+pageID, nil, &page)
	return page, err
}

func (n *Notion) call(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errkind.New(errkind.Permanent, "notion", op, fmt.Errorf("encoding request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, reader)
	if err != nil {
		return errkind.New(errkind.Config, "notion", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+n.cfg.Token)
	req.Header.Set("Notion-Version", n.version)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.http.Do(ctx, "notion", req)
	if err != nil {
		if resp != nil {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			resp.Body.Close()
			return attachBody(err, snippet)
		}
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out); err != nil {
		return errkind.New(errkind.Parse, "notion", op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// attachBody folds the API's error payload into the classified error, since
// Notion explains failures (archived page, bad property name, schema drift)
// only there.
func attachBody(err error, body []byte) error {
	if len(body) == 0 {
		return err
	}
	var ke *errkind.Error
	if errors.As(err, &ke) && ke.Err != nil {
		ke.Err = fmt.Errorf("%w: %s", ke.Err, bytes.TrimSpace(body))
	}
	return err
}
