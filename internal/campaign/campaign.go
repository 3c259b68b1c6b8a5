// Package campaign drives prospect discovery end to end: a bounded worker
// pool pulls companies off a three-lane queue, walks each one through the
// per-company pipeline (dedup, team extraction, profile resolution, email
// finding, AI enrichment, store, and optionally email generation and
// sending), and reports progress through a single aggregator that owns the
// campaign record. Operator commands posted to the store are polled back
// and translated into pause/resume/stop/priority signals while the run is
// live.
package campaign

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Unisami/ProspectAI-sub000/internal/ai"
	"github.com/Unisami/ProspectAI-sub000/internal/analytics"
	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/hunter"
	"github.com/Unisami/ProspectAI-sub000/internal/mailing"
	"github.com/Unisami/ProspectAI-sub000/internal/notify"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

// Lister produces candidate companies from the launch feed.
type Lister interface {
	List(ctx context.Context, limit int) ([]domain.Company, error)
}

// TeamSource extracts team members from a company's page.
type TeamSource interface {
	Extract(ctx context.Context, company domain.Company) ([]domain.TeamMember, error)
}

// ProfileResolver finds a public profile URL for a member who came off the
// page without one.
type ProfileResolver interface {
	Find(ctx context.Context, member domain.TeamMember) (string, error)
}

// EmailFinder resolves a work address for a person at a company domain.
type EmailFinder interface {
	Enabled() bool
	Find(ctx context.Context, companyDomain, fullName string) (hunter.Result, error)
}

// Enricher is the AI surface the pipeline consumes: profile parsing,
// product analysis, and outreach drafting.
type Enricher interface {
	ParseProfile(ctx context.Context, rawHTML string, fallback *domain.ProfileFallback) (ai.ProfileResult, error)
	AnalyzeProduct(ctx context.Context, text string) (ai.ProductResult, error)
	GenerateEmail(ctx context.Context, in ai.GenerateEmailInput) (ai.EmailResult, error)
}

// PageSource fetches raw pages for the enrichment stage.
type PageSource interface {
	Page(ctx context.Context, pageURL string) (string, error)
	Text(ctx context.Context, pageURL string) (string, error)
}

// Deliverer sends generated outreach for a batch of prospects.
type Deliverer interface {
	SendProspects(ctx context.Context, campaignID string, prospects []*domain.Prospect) ([]mailing.Outcome, error)
}

// Deps bundles the collaborators a campaign run draws on. Store, Feed,
// Team, and Profiles are required; the rest are optional and a nil value
// disables the corresponding stage.
type Deps struct {
	Store    *store.Store
	Feed     Lister
	Team     TeamSource
	Profiles ProfileResolver
	Emails   EmailFinder
	AI       Enricher
	Pages    PageSource
	Sender   Deliverer
	Notifier *notify.Notifier
	Rollup   *analytics.Rollup
	Profile  *config.SenderProfile
}

// Request describes one campaign run. Companies, when set, bypasses the
// feed listing (explicit single-company runs); Forced skips the dedup
// stage for every queued company.
type Request struct {
	Limit          int
	Name           string
	Companies      []domain.Company
	Forced         bool
	GenerateEmails bool
	SendEmails     bool
	Template       domain.EmailTemplate
}

// Summary is what a finished run reports back to the caller.
type Summary struct {
	CampaignID string
	Progress   domain.CampaignProgress
	Successful int
	Failed     int
	Skipped    int
}

// PartialFailure reports whether the campaign completed but some companies
// failed, which the CLI maps to its "partial" exit code.
func (s *Summary) PartialFailure() bool {
	return s.Progress.Status == domain.CampaignCompleted && s.Failed > 0
}

// Orchestrator owns the worker pool and the campaign lifecycle. One
// orchestrator serves one process; Run may only be active once at a time.
type Orchestrator struct {
	deps Deps
	cfg  *config.Config

	mu      sync.Mutex
	running bool

	// Cross-run totals, logged at shutdown.
	totalProcessed int64
	totalProspects int64
	totalErrors    int64
}

// New builds an orchestrator over the given collaborators.
func New(deps Deps, cfg *config.Config) *Orchestrator {
	return &Orchestrator{deps: deps, cfg: cfg}
}

// Stats returns cross-run processing totals.
func (o *Orchestrator) Stats() map[string]int64 {
	return map[string]int64{
		"companies_processed": atomic.LoadInt64(&o.totalProcessed),
		"prospects_stored":    atomic.LoadInt64(&o.totalProspects),
		"errors":              atomic.LoadInt64(&o.totalErrors),
	}
}

// Run executes one campaign: list up to req.Limit companies, process each
// through the pipeline, and drive the campaign record to a terminal state.
// Individual company failures never abort the run; only store failure
// beyond the budget or an operator Stop does.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, errkind.Newf(errkind.Permanent, "campaign", "run", "a campaign is already running")
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	name := req.Name
	if name == "" {
		name = "campaign-" + time.Now().UTC().Format("20060102-150405")
	}
	if req.Limit <= 0 && len(req.Companies) > 0 {
		req.Limit = len(req.Companies)
	}
	progress := domain.CampaignProgress{
		ID:          uuid.NewString(),
		Name:        name,
		Status:      domain.CampaignNotStarted,
		StartedAt:   time.Now().UTC(),
		TargetCount: req.Limit,
	}

	// A zero target schedules nothing and completes on the spot. The record
	// is still written so the dashboard shows the run happened.
	if req.Limit <= 0 {
		now := time.Now().UTC()
		progress.Status = domain.CampaignCompleted
		progress.EndedAt = &now
		if err := o.deps.Store.UpsertCampaign(ctx, &progress); err != nil {
			return nil, err
		}
		return &Summary{CampaignID: progress.ID, Progress: progress}, nil
	}

	status, err := Transition(progress.Status, ActionStart)
	if err != nil {
		return nil, err
	}
	progress.Status = status

	r := newRun(ctx, o, progress, req)
	defer r.cancel()

	poolSize := o.cfg.Workers.MaxWorkers
	if poolSize <= 0 {
		poolSize = 1
	}

	log.Printf("[Orchestrator] starting campaign %q (%s): target=%d workers=%d generate=%v send=%v",
		name, progress.ID, req.Limit, poolSize, req.GenerateEmails, req.SendEmails)

	r.agg.start()

	if o.cfg.Controls.IsEnabled() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.control.run(r.ctx)
		}()
	}

	var workers sync.WaitGroup
	for i := 0; i < poolSize; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			r.worker(id)
		}(i)
	}

	// The producer runs on this goroutine: list, then feed the queue in
	// paced batches. Workers start consuming as soon as the first item
	// lands.
	produceErr := r.produce(req.Limit)

	r.queue.close()
	workers.Wait()
	r.cancel()
	r.wg.Wait()

	return o.finish(ctx, r, produceErr)
}

// finish drives the campaign record to its terminal state, flushes the
// aggregator, and assembles the summary.
func (o *Orchestrator) finish(ctx context.Context, r *run, produceErr error) (*Summary, error) {
	fatal := r.fatalError()
	stopped := r.stopRequested()
	drained := r.drained()

	action := ActionComplete
	switch {
	case fatal != nil:
		action = ActionFail
	case !drained:
		// Work was left behind: an operator stop, a cancelled context, or
		// a feed that failed outright. A stop that raced with the natural
		// end of the queue still completes.
		action = ActionFail
	}

	snap, _ := r.agg.snapshot()
	terminal, err := Transition(snap.Status, action)
	if err != nil {
		// A paused campaign being stopped lands here with Running already
		// replaced; fall back to the failed state rather than lose the run.
		terminal = domain.CampaignFailed
	}

	now := time.Now().UTC()
	r.agg.publish(delta{
		status:       terminal,
		step:         string(terminal),
		clearCompany: true,
		ended:        &now,
	})
	r.agg.stop()

	final, successful := r.agg.snapshot()
	summary := &Summary{
		CampaignID: final.ID,
		Progress:   final,
		Successful: successful,
		Failed:     r.failedCount(),
		Skipped:    r.skippedCount(),
	}

	atomic.AddInt64(&o.totalProcessed, int64(final.ProcessedCount))
	atomic.AddInt64(&o.totalProspects, int64(final.ProspectsFound))
	atomic.AddInt64(&o.totalErrors, int64(final.ErrorCount))

	if o.deps.Rollup != nil {
		o.deps.Rollup.RecordCampaign(&final)
	}
	if o.deps.Notifier != nil {
		// Notification writes get a fresh deadline so they still land when
		// the run context is already cancelled.
		nctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		switch {
		case terminal != domain.CampaignFailed:
			o.deps.Notifier.SendCampaignCompleted(nctx, &final)
		case fatal != nil:
			o.deps.Notifier.SendCampaignFailed(nctx, &final, fatal)
		case stopped:
			o.deps.Notifier.SendCampaignFailed(nctx, &final, errkind.Newf(errkind.Cancelled, "campaign", "run", "stopped by operator"))
		case produceErr != nil:
			o.deps.Notifier.SendCampaignFailed(nctx, &final, produceErr)
		default:
			o.deps.Notifier.SendCampaignFailed(nctx, &final, errkind.Newf(errkind.Cancelled, "campaign", "run", "cancelled before the queue drained"))
		}
	}

	log.Printf("[Orchestrator] campaign %q finished %s: processed=%d prospects=%d generated=%d sent=%d errors=%d",
		final.Name, final.Status, final.ProcessedCount, final.ProspectsFound,
		final.EmailsGenerated, final.EmailsSent, final.ErrorCount)

	if fatal != nil {
		return summary, fatal
	}
	if produceErr != nil && errkind.Of(produceErr) != errkind.Cancelled && r.processedCount() == 0 {
		return summary, produceErr
	}
	return summary, nil
}
