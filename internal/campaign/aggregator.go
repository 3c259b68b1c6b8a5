package campaign

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

const (
	flushInterval  = 2 * time.Second
	flushBatch     = 16
	flushFailLimit = 3
	flushTimeout   = 15 * time.Second
)

// delta is one progress increment published to the aggregator. Counter
// fields add; step, company and status replace when non-empty; target
// replaces when targetSet. clearCompany empties the display field, which
// a terminal transition uses so the dashboard never shows a company the
// run is no longer touching.
type delta struct {
	processed  int
	successful int
	prospects  int
	generated  int
	sent       int
	errors     int

	step         string
	company      string
	clearCompany bool
	status       domain.CampaignStatus
	target       int
	targetSet    bool
	ended        *time.Time
}

// aggregator is the single owner of one campaign's progress record.
// Workers and the control poller publish deltas; only the owner
// goroutine folds them in and flushes to the store, which makes every
// campaign update totally ordered. Flushes happen every flushInterval,
// every flushBatch deltas, and immediately on a status change.
type aggregator struct {
	store *store.Store

	deltas chan delta
	done   chan struct{}

	mu         sync.Mutex
	progress   domain.CampaignProgress
	successful int

	flushFailures int
	onFatal       func(error)
	fatalOnce     sync.Once
}

func newAggregator(st *store.Store, progress domain.CampaignProgress, onFatal func(error)) *aggregator {
	return &aggregator{
		store:    st,
		deltas:   make(chan delta, 256),
		done:     make(chan struct{}),
		progress: progress,
		onFatal:  onFatal,
	}
}

// start launches the owner goroutine and writes the initial record so
// the campaign is visible on the dashboard from its first moment.
func (a *aggregator) start() {
	a.flush()
	go a.run()
}

// stop closes the delta channel and waits for the final flush. No
// publish may happen after stop.
func (a *aggregator) stop() {
	close(a.deltas)
	<-a.done
}

// publish hands one delta to the owner goroutine.
func (a *aggregator) publish(d delta) {
	a.deltas <- d
}

// snapshot returns a copy of the current record plus the successful
// company count behind its success rate.
func (a *aggregator) snapshot() (domain.CampaignProgress, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress, a.successful
}

func (a *aggregator) run() {
	defer close(a.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	pending := 0
	for {
		select {
		case d, ok := <-a.deltas:
			if !ok {
				if pending > 0 {
					a.flush()
				}
				return
			}
			statusChanged := a.apply(d)
			pending++
			if statusChanged || pending >= flushBatch {
				a.flush()
				pending = 0
			}
		case <-ticker.C:
			if pending > 0 {
				a.flush()
				pending = 0
			}
		}
	}
}

// apply folds one delta into the record and reports whether the campaign
// status changed, which forces an immediate flush.
func (a *aggregator) apply(d delta) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := &a.progress
	p.ProcessedCount += d.processed
	p.ProspectsFound += d.prospects
	p.EmailsGenerated += d.generated
	p.EmailsSent += d.sent
	p.ErrorCount += d.errors
	a.successful += d.successful

	if d.targetSet {
		p.TargetCount = d.target
	}
	if d.step != "" {
		p.CurrentStep = d.step
	}
	if d.clearCompany {
		p.CurrentCompany = ""
	} else if d.company != "" {
		p.CurrentCompany = d.company
	}
	if d.ended != nil {
		p.EndedAt = d.ended
	}
	if p.ProcessedCount > 0 {
		p.SuccessRate = float64(a.successful) / float64(p.ProcessedCount)
	}

	if d.status != "" && d.status != p.Status {
		p.Status = d.status
		return true
	}
	return false
}

// flush writes the current record. The write gets its own deadline so a
// final flush still lands after the run context is cancelled. After
// flushFailLimit consecutive failures the campaign is declared fatally
// broken through onFatal.
func (a *aggregator) flush() {
	snap, _ := a.snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.store.UpsertCampaign(ctx, &snap); err != nil {
		a.mu.Lock()
		a.flushFailures++
		failures := a.flushFailures
		a.mu.Unlock()
		log.Printf("[Campaign] progress flush failed (%d/%d): %v", failures, flushFailLimit, err)
		if failures >= flushFailLimit && a.onFatal != nil {
			a.fatalOnce.Do(func() { a.onFatal(err) })
		}
		return
	}
	a.mu.Lock()
	a.flushFailures = 0
	a.mu.Unlock()
}
