package campaign

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
)

const (
	defaultControlInterval = 30 * time.Second
	controlReadTimeout     = 10 * time.Second

	// commandDebounce bounds how long the last applied fingerprint keeps
	// absorbing duplicates. Double-posted dashboard rows and inclusive
	// cursor re-reads repeat the previous command back to back; a genuine
	// repeat (pause, resume, pause again) has a different command in
	// between and passes.
	commandDebounce = 5 * time.Minute
)

// gate parks workers while the campaign is paused. Workers call wait at
// every stage boundary; pause swaps in a channel they block on and
// resume closes it. The zero value is open.
type gate struct {
	mu sync.Mutex
	ch chan struct{} // non-nil while paused; closed on resume
}

func newGate() *gate { return &gate{} }

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		g.ch = make(chan struct{})
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch != nil {
		close(g.ch)
		g.ch = nil
	}
}

func (g *gate) paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch != nil
}

// wait blocks while the gate is paused and returns ctx's error once the
// run is cancelled, so a stopped campaign never stays parked.
func (g *gate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		ch := g.ch
		g.mu.Unlock()
		if ch == nil {
			return ctx.Err()
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// controller polls operator commands for one campaign out of the store
// and translates them into run-local signals. The cursor only moves
// forward, and a command that repeats the last applied fingerprint inside
// the debounce window is dropped, so re-reads and dashboard retries are
// harmless.
type controller struct {
	r        *run
	interval time.Duration

	cursor time.Time
	lastFP string
	lastAt time.Time
}

func newController(r *run, interval time.Duration, since time.Time) *controller {
	if interval <= 0 {
		interval = defaultControlInterval
	}
	return &controller{r: r, interval: interval, cursor: since}
}

func (c *controller) run(ctx context.Context) {
	log.Printf("[Control] polling commands for campaign %s every %s", c.r.campaignID, c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

func (c *controller) poll(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, controlReadTimeout)
	cmds, err := c.r.o.deps.Store.ReadControlCommands(rctx, c.r.campaignID, c.cursor)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[Control] command read failed: %v", err)
		}
		return
	}

	for _, cmd := range cmds {
		if cmd.SeenAt.After(c.cursor) {
			c.cursor = cmd.SeenAt
		}
		fp := cmd.Fingerprint()
		if fp == c.lastFP && time.Since(c.lastAt) < commandDebounce {
			continue
		}
		c.lastFP = fp
		c.lastAt = time.Now()
		c.apply(cmd)
	}
}

func (c *controller) apply(cmd domain.ControlCommand) {
	r := c.r
	switch cmd.Action {
	case domain.ControlPause:
		snap, _ := r.agg.snapshot()
		next, err := Transition(snap.Status, ActionPause)
		if err != nil {
			log.Printf("[Control] ignoring pause: %v", err)
			return
		}
		r.gate.pause()
		r.agg.publish(delta{status: next})
		log.Printf("[Control] campaign paused%s", byLine(cmd))

	case domain.ControlResume:
		snap, _ := r.agg.snapshot()
		next, err := Transition(snap.Status, ActionResume)
		if err != nil {
			log.Printf("[Control] ignoring resume: %v", err)
			return
		}
		r.gate.resume()
		r.agg.publish(delta{status: next})
		log.Printf("[Control] campaign resumed%s", byLine(cmd))

	case domain.ControlStop:
		log.Printf("[Control] stop requested%s", byLine(cmd))
		r.stop()

	case domain.ControlInsertPriority:
		name := cmd.Parameters["company"]
		if name == "" {
			log.Printf("[Control] ignoring priority insert without a company parameter")
			return
		}
		item := workItem{
			company: domain.Company{
				Name:       name,
				Domain:     cmd.Parameters["domain"],
				ProductURL: cmd.Parameters["product_url"],
				LaunchedAt: time.Now().UTC(),
				Source:     "priority_insert",
			},
			forced: true,
		}
		if !r.queue.tryPush(lanePriority, item) {
			log.Printf("[Control] priority lane full, dropping insert of %q", name)
			return
		}
		log.Printf("[Control] %q inserted on the priority lane%s", name, byLine(cmd))

	default:
		log.Printf("[Control] unknown action %q ignored", cmd.Action)
	}
}

func byLine(cmd domain.ControlCommand) string {
	if cmd.RequestedBy == "" {
		return ""
	}
	return " by " + cmd.RequestedBy
}
