// Package analytics rolls up pipeline activity into one DailyAnalytics
// record per UTC day. Campaign counters and log-entry deltas are folded
// into an in-memory accumulator as they happen; Flush persists the
// finished record through the Store and, when a bucket is configured,
// archives a JSON copy to S3.
package analytics

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

// totals is the mutable per-day accumulator behind the published
// DailyAnalytics snapshot. successful is tracked separately so the
// day's success rate can be recomputed as campaigns land.
type totals struct {
	campaigns       int
	companies       int
	successful      int
	prospects       int
	emailsFound     int
	emailsGenerated int
	emailsSent      int
	errors          int
}

// Rollup accumulates counters per day and flushes them via the Store.
// All methods are safe for concurrent use.
type Rollup struct {
	store   *store.Store
	archive *Archiver // nil means no S3 archive
	enabled bool

	mu   sync.Mutex
	days map[string]*totals
}

// New builds a Rollup. archive may be nil. When the analytics config is
// disabled the Rollup still accumulates (the counters feed digests) but
// Flush becomes a no-op.
func New(st *store.Store, archive *Archiver, cfg config.AnalyticsConfig) *Rollup {
	return &Rollup{
		store:   st,
		archive: archive,
		enabled: cfg.Enabled,
		days:    make(map[string]*totals),
	}
}

// RecordCampaign folds a finished campaign's counters into the day the
// campaign ended. Email-finder hits are not on the progress record and
// arrive through RecordLog instead.
func (r *Rollup) RecordCampaign(prog *domain.CampaignProgress) {
	ended := time.Now()
	if prog.EndedAt != nil {
		ended = *prog.EndedAt
	}
	successful := int(math.Round(prog.SuccessRate * float64(prog.ProcessedCount)))

	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.day(domain.DayKey(ended))
	t.campaigns++
	t.companies += prog.ProcessedCount
	t.successful += successful
	t.prospects += prog.ProspectsFound
	t.emailsGenerated += prog.EmailsGenerated
	t.emailsSent += prog.EmailsSent
	t.errors += prog.ErrorCount
}

// RecordLog tees one processing-log entry into the rollup. Only the
// email-finder delta is taken from logs; every other counter comes from
// campaign progress, so nothing is double counted.
func (r *Rollup) RecordLog(entry *domain.ProcessingLogEntry) {
	if entry.EmailsFoundDelta == 0 {
		return
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.day(domain.DayKey(ts)).emailsFound += entry.EmailsFoundDelta
}

// day returns the accumulator for date, creating it if needed. Callers
// hold r.mu.
func (r *Rollup) day(date string) *totals {
	t, ok := r.days[date]
	if !ok {
		t = &totals{}
		r.days[date] = t
	}
	return t
}

// Day returns a snapshot of the rollup for the given day key.
func (r *Rollup) Day(date string) (domain.DailyAnalytics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.days[date]
	if !ok {
		return domain.DailyAnalytics{}, false
	}
	return snapshot(date, t), true
}

// Days returns snapshots of every accumulated day, oldest first.
func (r *Rollup) Days() []domain.DailyAnalytics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.DailyAnalytics, 0, len(r.days))
	for date, t := range r.days {
		out = append(out, snapshot(date, t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Flush persists the rollup for date through the Store and archives it
// to S3 when configured. Days with no recorded activity are skipped.
func (r *Rollup) Flush(ctx context.Context, date string) error {
	if !r.enabled {
		return nil
	}
	day, ok := r.Day(date)
	if !ok {
		return nil
	}
	if err := r.store.SaveDailyAnalytics(ctx, &day); err != nil {
		return err
	}
	if r.archive != nil {
		return r.archive.Archive(ctx, &day)
	}
	return nil
}

// FlushToday flushes the rollup for the current UTC day.
func (r *Rollup) FlushToday(ctx context.Context) error {
	return r.Flush(ctx, domain.DayKey(time.Now()))
}

// snapshot converts an accumulator into the published record. The API
// call estimate is a rough cost heuristic (discovery plus scraping per
// company plus enrichment per prospect), good enough for trend lines
// but never reconciled against provider billing.
func snapshot(date string, t *totals) domain.DailyAnalytics {
	rate := 0.0
	if t.companies > 0 {
		rate = float64(t.successful) / float64(t.companies)
	}
	return domain.DailyAnalytics{
		Date:               date,
		CampaignsRun:       t.campaigns,
		CompaniesProcessed: t.companies,
		ProspectsFound:     t.prospects,
		EmailsFound:        t.emailsFound,
		EmailsGenerated:    t.emailsGenerated,
		EmailsSent:         t.emailsSent,
		ErrorCount:         t.errors,
		SuccessRate:        rate,
		APICallEstimate:    t.campaigns*5 + t.companies*15 + t.prospects*2,
	}
}
