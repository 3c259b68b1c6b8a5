package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Unisami/ProspectAI-sub000/internal/ai"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/hunter"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/logger"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

// Pipeline step names as they appear in log entries and current_step.
const (
	stepPipeline = "pipeline"
	stepDedup    = "dedup"
	stepTeam     = "team_extraction"
	stepProfiles = "profile_resolution"
	stepEmails   = "email_finding"
	stepEnrich   = "ai_enrichment"
	stepStore    = "store"
	stepGenerate = "email_generation"
	stepSend     = "email_send"
)

const (
	// innerLimit bounds the per-company fan-out of member sub-stages.
	innerLimit = 4

	retryBaseDelay  = 500 * time.Millisecond
	retryMaxDelay   = 30 * time.Second
	logWriteTimeout = 10 * time.Second
)

// run is the state of one live campaign, shared by the producer, the
// worker pool, the aggregator, and the control poller.
type run struct {
	o   *Orchestrator
	req Request

	ctx    context.Context
	cancel context.CancelFunc

	campaignID string

	queue   *workQueue
	gate    *gate
	agg     *aggregator
	control *controller
	wg      sync.WaitGroup

	// produceOK flips once the producer queued everything it listed. It
	// is written before queue.close and read after the workers join.
	produceOK bool

	processed int32
	failed    int32
	skipped   int32
	abandoned int32

	fatalMu sync.Mutex
	fatal   error

	stopped atomic.Bool
}

func newRun(ctx context.Context, o *Orchestrator, progress domain.CampaignProgress, req Request) *run {
	rctx, cancel := context.WithCancel(ctx)
	r := &run{
		o:          o,
		req:        req,
		ctx:        rctx,
		cancel:     cancel,
		campaignID: progress.ID,
		queue:      newWorkQueue(o.cfg.Workers.QueueCapacity),
		gate:       newGate(),
	}
	r.agg = newAggregator(o.deps.Store, progress, r.fail)
	r.control = newController(r, o.cfg.Controls.CheckInterval(), progress.StartedAt)
	return r
}

// fail records the first fatal orchestration error and tears the run
// down. Safe to call from any goroutine, including the aggregator's.
func (r *run) fail(err error) {
	r.fatalMu.Lock()
	if r.fatal == nil {
		r.fatal = err
		log.Printf("[Orchestrator] fatal: %v", err)
	}
	r.fatalMu.Unlock()
	r.gate.resume()
	r.cancel()
}

func (r *run) fatalError() error {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	return r.fatal
}

// stop is the operator stop: cancel everything and let finish decide
// between Failed and Completed based on what was left behind.
func (r *run) stop() {
	r.stopped.Store(true)
	r.gate.resume()
	r.cancel()
}

func (r *run) stopRequested() bool { return r.stopped.Load() }

func (r *run) processedCount() int { return int(atomic.LoadInt32(&r.processed)) }
func (r *run) failedCount() int    { return int(atomic.LoadInt32(&r.failed)) }
func (r *run) skippedCount() int   { return int(atomic.LoadInt32(&r.skipped)) }

// drained reports whether every queued company actually went through the
// pipeline. Called once, after the workers join; anything still sitting
// in a lane, or popped and then abandoned mid-pipeline, was left behind.
func (r *run) drained() bool {
	if !r.produceOK || atomic.LoadInt32(&r.abandoned) != 0 {
		return false
	}
	leftovers := 0
	for {
		if _, ok := r.queue.tryPop(); !ok {
			break
		}
		leftovers++
	}
	return leftovers == 0
}

// produce lists candidate companies and feeds the queue in paced
// batches. It runs on the Run goroutine; the blocking push is the
// producer's backpressure point.
func (r *run) produce(limit int) error {
	companies := r.req.Companies
	if len(companies) == 0 {
		listed, err := r.o.deps.Feed.List(r.ctx, limit)
		if err != nil {
			return fmt.Errorf("listing launches: %w", err)
		}
		companies = listed
	}
	if limit > 0 && len(companies) > limit {
		companies = companies[:limit]
	}

	batch := r.o.cfg.Workers.BatchSize
	delay := r.o.cfg.Workers.DelayBetweenBatches()

	// The feed can surface the same company on neighboring pages; only
	// the first sighting is queued.
	seen := make(map[string]struct{}, len(companies))
	queued := 0
	for _, c := range companies {
		key := c.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if batch > 0 && queued > 0 && queued%batch == 0 && delay > 0 {
			log.Printf("[Orchestrator] %d companies queued, pacing %s before the next batch", queued, delay)
			select {
			case <-time.After(delay):
			case <-r.ctx.Done():
				return errkind.New(errkind.Cancelled, "campaign", "produce", r.ctx.Err())
			}
		}
		if err := r.queue.push(r.ctx, laneNormal, workItem{company: c, forced: r.req.Forced}); err != nil {
			return errkind.New(errkind.Cancelled, "campaign", "produce", err)
		}
		queued++
	}

	if queued != r.req.Limit {
		r.agg.publish(delta{target: queued, targetSet: true})
	}
	r.produceOK = true
	return nil
}

// worker pulls companies off the queue until it is drained or the run is
// cancelled. Each company's counters are published as one delta so
// processed_count and success_rate move together.
func (r *run) worker(id int) {
	for {
		item, ok := r.queue.pop(r.ctx)
		if !ok {
			return
		}
		if err := r.gate.wait(r.ctx); err != nil {
			atomic.AddInt32(&r.abandoned, 1)
			return
		}

		out := r.processCompany(id, item)
		switch {
		case out.cancelled:
			atomic.AddInt32(&r.abandoned, 1)
			return
		case out.requeued:
			continue
		case out.skipped:
			atomic.AddInt32(&r.skipped, 1)
			continue
		}

		atomic.AddInt32(&r.processed, 1)
		if !out.successful {
			atomic.AddInt32(&r.failed, 1)
		}
		d := delta{
			processed: 1,
			prospects: out.prospects,
			generated: out.generated,
			sent:      out.sent,
		}
		if out.successful {
			d.successful = 1
		}
		r.agg.publish(d)
	}
}

// companyOutcome summarizes one pipeline pass for the worker loop. A
// company with none of the first three flags set counts as processed.
type companyOutcome struct {
	skipped    bool // dedup hit; not counted as processed
	requeued   bool // handed back to the retry lane
	cancelled  bool // run cancelled mid-pipeline; company left behind
	successful bool // at least one prospect stored
	prospects  int
	generated  int
	sent       int
}

// processCompany walks one company through the pipeline stages. Stage
// failures degrade rather than abort: the company keeps whatever the
// surviving stages produced, and only a store outage or cancellation
// stops it cold.
func (r *run) processCompany(workerID int, item workItem) companyOutcome {
	var out companyOutcome
	company := item.company
	name := company.Name
	began := time.Now()

	log.Printf("[Worker %d] processing %q (attempt %d)", workerID, name, item.attempt+1)
	r.logStep(name, stepPipeline, domain.OutcomeStarted, began, "", nil, 0, 0)

	// Stage 1: dedup.
	r.agg.publish(delta{company: name, step: stepDedup})
	if !item.forced {
		start := time.Now()
		known, err := r.alreadyProcessed(company)
		switch {
		case err != nil && errkind.Of(err) == errkind.Cancelled:
			out.cancelled = true
			return out
		case err != nil:
			// An unreadable dedup set degrades to "not seen"; the upsert
			// path is idempotent either way.
			r.agg.publish(delta{errors: 1})
			r.logStep(name, stepDedup, domain.OutcomeFailed, start, "", err, 0, 0)
		case known:
			r.logStep(name, stepDedup, domain.OutcomeSkipped, start, "company already processed", nil, 0, 0)
			log.Printf("[Worker %d] %q already processed, skipping", workerID, name)
			out.skipped = true
			return out
		}
	}

	// Stage 2: team extraction. The only stage whose failure fails the
	// company outright; a first retryable failure earns one pass through
	// the retry lane.
	if err := r.pausePoint(); err != nil {
		out.cancelled = true
		return out
	}
	r.agg.publish(delta{step: stepTeam})
	start := time.Now()
	var members []domain.TeamMember
	err := r.stage(name, stepTeam, func(ctx context.Context) error {
		var xerr error
		members, xerr = r.o.deps.Team.Extract(ctx, company)
		return xerr
	})
	switch {
	case err != nil && errkind.Of(err) == errkind.Cancelled:
		out.cancelled = true
		return out
	case err != nil:
		r.logStep(name, stepTeam, domain.OutcomeFailed, start, "", err, 0, 0)
		if errkind.Retryable(err) && item.attempt == 0 &&
			r.queue.tryPush(laneRetry, workItem{company: company, attempt: item.attempt + 1, forced: item.forced}) {
			log.Printf("[Worker %d] %q requeued on the retry lane: %v", workerID, name, err)
			out.requeued = true
		}
		return out
	case len(members) == 0:
		r.logStep(name, stepTeam, domain.OutcomeSkipped, start, "no team members found", nil, 0, 0)
		return out
	}
	r.logStep(name, stepTeam, domain.OutcomeCompleted, start,
		fmt.Sprintf("%d team members", len(members)), nil, 0, 0)

	// Stage 3: profile resolution, a few members at a time. Members stay
	// usable with or without a profile URL.
	if err := r.pausePoint(); err != nil {
		out.cancelled = true
		return out
	}
	r.agg.publish(delta{step: stepProfiles})
	start = time.Now()
	resolved := r.resolveProfiles(members)
	if r.ctx.Err() != nil {
		out.cancelled = true
		return out
	}
	r.logStep(name, stepProfiles, domain.OutcomeCompleted, start,
		fmt.Sprintf("%d/%d profiles resolved", resolved, len(members)), nil, 0, 0)

	// Stage 4: email finding. Missing addresses are not fatal; an
	// exhausted provider quota degrades the stage for this company.
	if err := r.pausePoint(); err != nil {
		out.cancelled = true
		return out
	}
	r.agg.publish(delta{step: stepEmails})
	start = time.Now()
	emails := make(map[int]hunter.Result, len(members))
	switch {
	case r.o.deps.Emails == nil || !r.o.deps.Emails.Enabled():
		r.logStep(name, stepEmails, domain.OutcomeSkipped, start, "email finder disabled", nil, 0, 0)
	case company.Domain == "":
		r.logStep(name, stepEmails, domain.OutcomeSkipped, start, "company domain unknown", nil, 0, 0)
	default:
		found := 0
		for i := range members {
			var res hunter.Result
			ferr := r.stage(name, stepEmails, func(ctx context.Context) error {
				var xerr error
				res, xerr = r.o.deps.Emails.Find(ctx, company.Domain, members[i].Name)
				return xerr
			})
			if ferr != nil {
				if errkind.Of(ferr) == errkind.Cancelled {
					out.cancelled = true
					return out
				}
				if errkind.Of(ferr) == errkind.QuotaExceeded {
					log.Printf("[Pipeline] email finder quota exhausted, prospects at %q keep no addresses", name)
					break
				}
				continue
			}
			if res.Email != "" {
				emails[i] = res
				found++
			}
		}
		r.logStep(name, stepEmails, domain.OutcomeCompleted, start,
			fmt.Sprintf("%d/%d addresses found", found, len(members)), nil, 0, found)
	}

	// Stage 5: AI structuring, profile parses and the product analysis in
	// parallel. Failures degrade to empty structured data.
	if err := r.pausePoint(); err != nil {
		out.cancelled = true
		return out
	}
	var enr enrichment
	if r.o.deps.AI != nil {
		r.agg.publish(delta{step: stepEnrich})
		start = time.Now()
		enr = r.enrich(company, members)
		if r.ctx.Err() != nil {
			out.cancelled = true
			return out
		}
		details := fmt.Sprintf("%d/%d profiles parsed", enr.parsed, len(members))
		if enr.product != nil {
			details += ", product analyzed"
		}
		r.logStep(name, stepEnrich, domain.OutcomeCompleted, start, details, nil, 0, 0)
	} else {
		enr = newEnrichment(len(members))
	}

	// Stage 6: store, one atomic upsert per member. A store outage that
	// survives the retry budget is the one thing that fails the campaign.
	if err := r.pausePoint(); err != nil {
		out.cancelled = true
		return out
	}
	r.agg.publish(delta{step: stepStore})
	start = time.Now()
	type storedRec struct {
		id      string
		p       *domain.Prospect
		profile *domain.LinkedInProfile
	}
	var stored []storedRec
	for i := range members {
		p := &domain.Prospect{
			Name:             members[i].Name,
			Role:             members[i].Role,
			Company:          name,
			ProfileURL:       members[i].ProfileURL,
			AIProfileJSON:    enr.profileJSON[i],
			AIProductJSON:    enr.productJSON,
			AIBusinessJSON:   enr.businessJSON,
			GenerationStatus: domain.GenerationNotGenerated,
			DeliveryStatus:   domain.DeliveryNotSent,
			Source:           company.Source,
		}
		if res, ok := emails[i]; ok {
			p.Email = res.Email
			p.EmailConfidence = res.Confidence
		}
		var id string
		serr := r.storeWrite(name, stepStore, func(ctx context.Context) error {
			var xerr error
			id, xerr = r.o.deps.Store.UpsertProspect(ctx, p)
			return xerr
		})
		if serr != nil {
			if errkind.Of(serr) == errkind.Cancelled {
				r.logStep(name, stepStore, domain.OutcomeFailed, start, "", serr, len(stored), 0)
				out.cancelled = true
				return out
			}
			log.Printf("[Pipeline] dropping prospect %q at %q: %v", p.Name, name, serr)
			continue
		}
		p.ID = id
		stored = append(stored, storedRec{id: id, p: p, profile: enr.profiles[i]})
	}
	out.prospects = len(stored)
	out.successful = len(stored) > 0
	if out.successful {
		r.logStep(name, stepStore, domain.OutcomeCompleted, start,
			fmt.Sprintf("%d prospects stored", len(stored)), nil, len(stored), 0)
	} else {
		r.logStep(name, stepStore, domain.OutcomeFailed, start, "no prospects stored", nil, 0, 0)
	}

	// Stage 7: email generation.
	if r.req.GenerateEmails && r.o.deps.AI != nil && len(stored) > 0 {
		if err := r.pausePoint(); err != nil {
			out.cancelled = true
			return out
		}
		r.agg.publish(delta{step: stepGenerate})
		start = time.Now()
		soft := 0
		for _, rec := range stored {
			in := ai.GenerateEmailInput{
				Prospect: rec.p,
				Template: r.req.Template,
				Profile:  rec.profile,
				Product:  enr.product,
				Sender:   r.o.deps.Profile,
			}
			var res ai.EmailResult
			gerr := r.stage(name, stepGenerate, func(ctx context.Context) error {
				var xerr error
				res, xerr = r.o.deps.AI.GenerateEmail(ctx, in)
				return xerr
			})
			switch {
			case gerr == nil:
			case errkind.Of(gerr) == errkind.Cancelled:
				out.cancelled = true
				return out
			case errkind.Of(gerr) == errkind.LowPersonalization && res.Draft != nil:
				// Soft failure: the draft stays usable and is stored like
				// any other, flagged only in the log.
				soft++
			default:
				st := domain.GenerationFailed
				if werr := r.storeWrite(name, stepGenerate, func(ctx context.Context) error {
					return r.o.deps.Store.UpdateProspectFields(ctx, rec.id, store.ProspectPatch{GenerationStatus: &st})
				}); werr != nil && errkind.Of(werr) == errkind.Cancelled {
					out.cancelled = true
					return out
				}
				continue
			}

			draft := res.Draft
			now := time.Now().UTC()
			st := domain.GenerationGenerated
			werr := r.storeWrite(name, stepGenerate, func(ctx context.Context) error {
				return r.o.deps.Store.UpdateProspectFields(ctx, rec.id, store.ProspectPatch{
					EmailSubject:     store.Ptr(draft.Subject),
					EmailBody:        store.Ptr(draft.Body),
					GenerationStatus: &st,
					GeneratedAt:      &now,
				})
			})
			if werr != nil {
				if errkind.Of(werr) == errkind.Cancelled {
					out.cancelled = true
					return out
				}
				continue
			}
			rec.p.EmailSubject = draft.Subject
			rec.p.EmailBody = draft.Body
			rec.p.GenerationStatus = st
			rec.p.GeneratedAt = &now
			out.generated++
		}
		details := fmt.Sprintf("%d/%d drafts", out.generated, len(stored))
		if soft > 0 {
			details += fmt.Sprintf(" (%d below the personalization floor)", soft)
		}
		r.logStep(name, stepGenerate, domain.OutcomeCompleted, start, details, nil, 0, 0)
	}

	// Stage 8: email send, one batch per company.
	if r.req.SendEmails && r.o.deps.Sender != nil && out.generated > 0 {
		if err := r.pausePoint(); err != nil {
			out.cancelled = true
			return out
		}
		r.agg.publish(delta{step: stepSend})
		start = time.Now()
		var batch []*domain.Prospect
		for _, rec := range stored {
			if rec.p.GenerationStatus == domain.GenerationGenerated && rec.p.Email != "" {
				batch = append(batch, rec.p)
			}
		}
		outcomes, serr := r.o.deps.Sender.SendProspects(r.ctx, r.campaignID, batch)
		if serr != nil && errkind.Of(serr) == errkind.Cancelled {
			out.cancelled = true
			return out
		}
		for _, oc := range outcomes {
			switch {
			case oc.Skipped:
				log.Printf("[Pipeline] send skipped for %s: %s", logger.RedactEmail(oc.Email), oc.Reason)
			case oc.Result == nil || !oc.Result.Success:
				r.agg.publish(delta{errors: 1})
				ds := domain.DeliveryFailed
				if werr := r.storeWrite(name, stepSend, func(ctx context.Context) error {
					return r.o.deps.Store.UpdateProspectFields(ctx, oc.ProspectID, store.ProspectPatch{DeliveryStatus: &ds})
				}); werr != nil && errkind.Of(werr) == errkind.Cancelled {
					out.cancelled = true
					return out
				}
			default:
				sentAt := oc.Result.SentAt
				if sentAt.IsZero() {
					sentAt = time.Now().UTC()
				}
				gs := domain.GenerationSent
				ds := domain.DeliverySent
				if werr := r.storeWrite(name, stepSend, func(ctx context.Context) error {
					return r.o.deps.Store.UpdateProspectFields(ctx, oc.ProspectID, store.ProspectPatch{
						GenerationStatus: &gs,
						DeliveryStatus:   &ds,
						SentAt:           &sentAt,
					})
				}); werr != nil && errkind.Of(werr) == errkind.Cancelled {
					out.cancelled = true
					return out
				}
				out.sent++
			}
		}
		if serr != nil {
			r.agg.publish(delta{errors: 1})
			r.logStep(name, stepSend, domain.OutcomeFailed, start,
				fmt.Sprintf("%d/%d sent", out.sent, len(batch)), serr, 0, 0)
		} else {
			r.logStep(name, stepSend, domain.OutcomeCompleted, start,
				fmt.Sprintf("%d/%d sent", out.sent, len(batch)), nil, 0, 0)
		}
	}

	r.logStep(name, stepPipeline, domain.OutcomeCompleted, began,
		fmt.Sprintf("prospects=%d generated=%d sent=%d", out.prospects, out.generated, out.sent), nil, 0, 0)
	log.Printf("[Worker %d] finished %q: prospects=%d generated=%d sent=%d",
		workerID, name, out.prospects, out.generated, out.sent)
	return out
}

// pausePoint is the stage boundary: park while paused, bail when
// cancelled.
func (r *run) pausePoint() error {
	return r.gate.wait(r.ctx)
}

// alreadyProcessed consults the cached dedup set. A company listed under
// a domain key still dedups against the name of its stored prospects.
func (r *run) alreadyProcessed(c domain.Company) (bool, error) {
	set, err := r.o.deps.Store.ProcessedCompanies(r.ctx)
	if err != nil {
		return false, err
	}
	if _, ok := set[c.Key()]; ok {
		return true, nil
	}
	_, ok := set[domain.NormalizeName(c.Name)]
	return ok, nil
}

// resolveProfiles fills missing profile URLs in place, innerLimit members
// at a time, and returns how many members ended up with one.
func (r *run) resolveProfiles(members []domain.TeamMember) int {
	var resolved int32
	g, ctx := errgroup.WithContext(r.ctx)
	g.SetLimit(innerLimit)
	for i := range members {
		if members[i].ProfileURL != "" {
			atomic.AddInt32(&resolved, 1)
			continue
		}
		if r.o.deps.Profiles == nil {
			continue
		}
		m := &members[i]
		g.Go(func() error {
			url, err := r.o.deps.Profiles.Find(ctx, *m)
			if err != nil {
				if errkind.Of(err) != errkind.Cancelled {
					r.agg.publish(delta{errors: 1})
					log.Printf("[Pipeline] profile lookup failed for %q: %v", m.Name, err)
				}
				return nil
			}
			if url != "" {
				m.ProfileURL = url
				atomic.AddInt32(&resolved, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(atomic.LoadInt32(&resolved))
}

// enrichment carries the AI structuring results for one company, indexed
// alongside its members.
type enrichment struct {
	profiles     []*domain.LinkedInProfile
	profileJSON  []string
	product      *domain.ProductAnalysis
	productJSON  string
	businessJSON string
	parsed       int
}

func newEnrichment(n int) enrichment {
	return enrichment{
		profiles:    make([]*domain.LinkedInProfile, n),
		profileJSON: make([]string, n),
	}
}

// enrich runs profile parses and the product analysis concurrently. Each
// slot of the result is written by exactly one goroutine.
func (r *run) enrich(company domain.Company, members []domain.TeamMember) enrichment {
	e := newEnrichment(len(members))
	var parsed int32

	g, ctx := errgroup.WithContext(r.ctx)
	g.SetLimit(innerLimit)

	g.Go(func() error {
		text := company.Description
		if text == "" && company.ProductURL != "" && r.o.deps.Pages != nil {
			t, err := r.o.deps.Pages.Text(ctx, company.ProductURL)
			if err != nil {
				if errkind.Of(err) != errkind.Cancelled {
					log.Printf("[Pipeline] product page fetch failed for %q: %v", company.Name, err)
				}
			} else {
				text = t
			}
		}
		if text == "" {
			text = company.Name
		}
		res, err := r.o.deps.AI.AnalyzeProduct(ctx, text)
		if err != nil {
			if k := errkind.Of(err); k != errkind.Cancelled && k != errkind.Config {
				r.agg.publish(delta{errors: 1})
			}
			return nil
		}
		if res.Analysis != nil {
			e.product = res.Analysis
			if b, jerr := json.Marshal(res.Analysis); jerr == nil {
				e.productJSON = string(b)
			}
			if b, jerr := json.Marshal(res.Analysis.Business); jerr == nil && string(b) != "{}" {
				e.businessJSON = string(b)
			}
		}
		return nil
	})

	for i := range members {
		if members[i].ProfileURL == "" {
			continue
		}
		i := i
		m := members[i]
		g.Go(func() error {
			var html string
			if r.o.deps.Pages != nil {
				fetched, err := r.o.deps.Pages.Page(ctx, m.ProfileURL)
				if err != nil {
					if errkind.Of(err) == errkind.Cancelled {
						return nil
					}
					// Parse falls back to the fields team extraction found.
					log.Printf("[Pipeline] profile page fetch failed for %q: %v", m.Name, err)
				} else {
					html = fetched
				}
			}
			res, err := r.o.deps.AI.ParseProfile(ctx, html, &domain.ProfileFallback{
				Name:    m.Name,
				Role:    m.Role,
				Company: m.CompanyName,
			})
			if err != nil {
				if k := errkind.Of(err); k != errkind.Cancelled && k != errkind.Config {
					r.agg.publish(delta{errors: 1})
				}
				return nil
			}
			if res.Profile != nil {
				e.profiles[i] = res.Profile
				if b, jerr := json.Marshal(res.Profile); jerr == nil {
					e.profileJSON[i] = string(b)
				}
				atomic.AddInt32(&parsed, 1)
			}
			return nil
		})
	}

	_ = g.Wait()
	e.parsed = int(atomic.LoadInt32(&parsed))
	return e
}

// stage runs one pipeline operation under the per-attempt deadline and
// the classified retry policy: transient and rate-limited failures retry
// with jittered backoff up to the budget, honoring Retry-After; every
// failed attempt counts one error except soft and cancellation kinds.
func (r *run) stage(company, step string, fn func(ctx context.Context) error) error {
	timeout := r.o.cfg.Workers.StageTimeout()
	budget := r.o.cfg.Workers.MaxRetries

	for attempt := 0; ; attempt++ {
		ctx := r.ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(r.ctx, timeout)
		}
		err := fn(ctx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if errkind.Of(err) == errkind.Cancelled || r.ctx.Err() != nil {
			return errkind.New(errkind.Cancelled, "campaign", step, err)
		}
		if errkind.Of(err) != errkind.LowPersonalization {
			r.agg.publish(delta{errors: 1})
		}
		if !errkind.Retryable(err) || attempt >= budget {
			return err
		}

		wait := stageBackoff(attempt)
		if ra := errkind.RetryAfter(err); ra > wait {
			wait = ra
		}
		log.Printf("[Pipeline] %s %s attempt %d failed, retrying in %s: %v",
			company, step, attempt+1, wait.Round(time.Millisecond), err)
		select {
		case <-time.After(wait):
		case <-r.ctx.Done():
			return errkind.New(errkind.Cancelled, "campaign", step, r.ctx.Err())
		}
	}
}

// storeWrite runs one store mutation under the stage retry policy and
// escalates an exhausted retryable failure to a campaign-fatal error, per
// the rule that only a store outage may fail the whole run.
func (r *run) storeWrite(company, step string, fn func(ctx context.Context) error) error {
	err := r.stage(company, step, fn)
	if err != nil && errkind.Of(err) != errkind.Cancelled && errkind.Retryable(err) {
		r.fail(fmt.Errorf("store unavailable: %w", err))
		return errkind.New(errkind.Cancelled, "campaign", step, err)
	}
	return err
}

// stageBackoff is exponential backoff with full jitter, floored so a
// retry never lands instantly.
func stageBackoff(attempt int) time.Duration {
	d := float64(retryBaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(retryMaxDelay) {
		d = float64(retryMaxDelay)
	}
	wait := time.Duration(rand.Float64() * d)
	if wait < 50*time.Millisecond {
		wait = 50 * time.Millisecond
	}
	return wait
}

// logStep appends one audit row, tees it into the daily rollup, and never
// fails the pipeline. The write gets its own deadline so final rows still
// land while the run context is being torn down.
func (r *run) logStep(company, step string, outcome domain.LogOutcome, start time.Time,
	details string, cause error, prospectsDelta, emailsDelta int) {

	entry := &domain.ProcessingLogEntry{
		Timestamp:           time.Now().UTC(),
		Campaign:            r.campaignID,
		Company:             company,
		Step:                step,
		Outcome:             outcome,
		Duration:            time.Since(start).Seconds(),
		Details:             details,
		ProspectsFoundDelta: prospectsDelta,
		EmailsFoundDelta:    emailsDelta,
	}
	if cause != nil {
		entry.Error = fmt.Sprintf("%s: %v", errkind.Of(cause), cause)
	}
	if r.o.deps.Rollup != nil {
		r.o.deps.Rollup.RecordLog(entry)
	}

	ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
	defer cancel()
	if err := r.o.deps.Store.AppendLog(ctx, entry); err != nil {
		log.Printf("[Pipeline] log append failed for %s/%s: %v", company, step, err)
	}
}
