// Package ratelimit provides named per-service rate limiters backed by
// token buckets. Each service may constrain requests per minute, per hour,
// and per day simultaneously; an acquire succeeds only when every
// configured window has capacity. Waiters are served strictly first-come
// first-served so a burst of workers cannot starve earlier arrivals.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
)

// ErrRateLimitTimeout is returned when a deadline elapses before tokens
// become available across all windows.
var ErrRateLimitTimeout = errors.New("ratelimit: deadline exceeded while waiting for tokens")

const (
	// adaptWindow is the number of recorded outcomes per adaptive
	// evaluation round.
	adaptWindow = 20
	// raiseThreshold and lowerThreshold bound the observed success rate
	// that triggers a retune of the per-minute target.
	raiseThreshold = 0.95
	lowerThreshold = 0.80
)

// ServiceConfig describes the limits for one named service. Zero-valued
// windows are unconstrained.
type ServiceConfig struct {
	PerMinute   int
	PerHour     int
	PerDay      int
	Burst       int // extra capacity on top of the per-minute window
	MinInterval time.Duration
}

// Snapshot reports the live state of one service limiter.
type Snapshot struct {
	PerMinuteTarget int     `json:"per_minute_target"`
	TokensMinute    float64 `json:"tokens_minute"`
	TokensHour      float64 `json:"tokens_hour"`
	TokensDay       float64 `json:"tokens_day"`
	QueueDepth      int     `json:"queue_depth"`
	Granted         int64   `json:"granted"`
	TimedOut        int64   `json:"timed_out"`
	Cancelled       int64   `json:"cancelled"`
}

type waiter struct {
	ready chan struct{}
}

type service struct {
	name   string
	cfg    ServiceConfig
	minute *rate.Limiter
	hour   *rate.Limiter
	day    *rate.Limiter

	mu        sync.Mutex
	queue     []*waiter
	lastGrant time.Time
	target    int
	outcomes  []bool

	granted   int64
	timedOut  int64
	cancelled int64
}

// Limiter is a registry of per-service token-bucket limiters. Services not
// present in the configuration pass through unlimited (a warning is logged
// once per unknown name).
type Limiter struct {
	mu       sync.Mutex
	services map[string]*service
}

// New builds a Limiter from per-service configurations.
func New(configs map[string]ServiceConfig) *Limiter {
	l := &Limiter{services: make(map[string]*service, len(configs))}
	for name, cfg := range configs {
		l.services[name] = newService(name, cfg)
	}
	return l
}

func newService(name string, cfg ServiceConfig) *service {
	s := &service{name: name, cfg: cfg, target: cfg.PerMinute}
	if cfg.PerMinute > 0 {
		s.minute = rate.NewLimiter(perMinuteRate(cfg.PerMinute), cfg.PerMinute+cfg.Burst)
	}
	if cfg.PerHour > 0 {
		s.hour = rate.NewLimiter(rate.Limit(float64(cfg.PerHour)/3600.0), cfg.PerHour)
	}
	if cfg.PerDay > 0 {
		s.day = rate.NewLimiter(rate.Limit(float64(cfg.PerDay)/86400.0), cfg.PerDay)
	}
	return s
}

func perMinuteRate(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

func (l *Limiter) service(name string) *service {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.services[name]
	if !ok {
		log.Printf("[RateLimiter] no limits configured for service %q, passing through", name)
		s = newService(name, ServiceConfig{})
		l.services[name] = s
	}
	return s
}

// Acquire blocks until all configured windows for the service grant the
// requested cost, the context is cancelled, or its deadline elapses.
// Contending callers are served in arrival order. A deadline that cannot
// be met returns ErrRateLimitTimeout (wrapped as a RateLimited error)
// without consuming tokens; cancellation returns a Cancelled error.
func (l *Limiter) Acquire(ctx context.Context, svc string, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	s := l.service(svc)

	w := s.join()
	defer s.leave(w)

	// Deterministic fast path: when the queue was empty our turn is
	// already granted, and an expired deadline must still reach the
	// bucket check below so it can fail as a rate-limit timeout rather
	// than a cancellation.
	select {
	case <-w.ready:
	default:
		select {
		case <-w.ready:
		case <-ctx.Done():
			return s.waitError(ctx, 0)
		}
	}

	return s.grant(ctx, cost)
}

// TryAcquire consumes the cost immediately when every window permits it
// and no earlier caller is queued; it never blocks.
func (l *Limiter) TryAcquire(svc string, cost int) bool {
	if cost <= 0 {
		cost = 1
	}
	s := l.service(svc)

	s.mu.Lock()
	if len(s.queue) > 0 {
		s.mu.Unlock()
		return false
	}
	now := time.Now()
	if s.cfg.MinInterval > 0 && !s.lastGrant.IsZero() && now.Sub(s.lastGrant) < s.cfg.MinInterval {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	var held []*rate.Reservation
	for _, lim := range s.windows() {
		r := lim.ReserveN(now, cost)
		if !r.OK() || r.DelayFrom(now) > 0 {
			if r.OK() {
				r.CancelAt(now)
			}
			for _, h := range held {
				h.CancelAt(now)
			}
			return false
		}
		held = append(held, r)
	}

	s.mu.Lock()
	s.lastGrant = now
	s.mu.Unlock()
	atomic.AddInt64(&s.granted, 1)
	return true
}

// CurrentLimit returns the adaptive per-minute target for the service, or
// 0 when the service has no per-minute window.
func (l *Limiter) CurrentLimit(svc string) int {
	s := l.service(svc)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// UpdateLimit sets the per-minute target for the service, clamped between
// a quarter of the configured limit and the configured limit itself.
// Returns the applied value.
func (l *Limiter) UpdateLimit(svc string, perMinute int) int {
	s := l.service(svc)
	if s.minute == nil || s.cfg.PerMinute <= 0 {
		return 0
	}

	floor := s.cfg.PerMinute / 4
	if floor < 1 {
		floor = 1
	}
	if perMinute < floor {
		perMinute = floor
	}
	if perMinute > s.cfg.PerMinute {
		perMinute = s.cfg.PerMinute
	}

	s.mu.Lock()
	changed := s.target != perMinute
	s.target = perMinute
	s.mu.Unlock()

	if changed {
		s.minute.SetLimit(perMinuteRate(perMinute))
		s.minute.SetBurst(perMinute + s.cfg.Burst)
		log.Printf("[RateLimiter] %s per-minute target now %d", svc, perMinute)
	}
	return perMinute
}

// RecordOutcome feeds the adaptive tuner. Every adaptWindow outcomes the
// observed success rate is evaluated: above raiseThreshold the per-minute
// target grows 10% (toward the configured ceiling), below lowerThreshold
// it shrinks 10% (down to a quarter of the configured limit).
func (l *Limiter) RecordOutcome(svc string, ok bool) {
	s := l.service(svc)
	if s.cfg.PerMinute <= 0 {
		return
	}

	s.mu.Lock()
	s.outcomes = append(s.outcomes, ok)
	if len(s.outcomes) < adaptWindow {
		s.mu.Unlock()
		return
	}
	good := 0
	for _, b := range s.outcomes {
		if b {
			good++
		}
	}
	s.outcomes = s.outcomes[:0]
	target := s.target
	s.mu.Unlock()

	ratio := float64(good) / float64(adaptWindow)
	step := (target + 9) / 10 // ceil(target/10), at least 1
	switch {
	case ratio > raiseThreshold:
		l.UpdateLimit(svc, target+step)
	case ratio < lowerThreshold:
		log.Printf("[RateLimiter] %s success rate %.2f, backing off", svc, ratio)
		l.UpdateLimit(svc, target-step)
	}
}

// Snapshots reports the state of every registered service, keyed by name.
func (l *Limiter) Snapshots() map[string]Snapshot {
	l.mu.Lock()
	names := make([]*service, 0, len(l.services))
	for _, s := range l.services {
		names = append(names, s)
	}
	l.mu.Unlock()

	out := make(map[string]Snapshot, len(names))
	for _, s := range names {
		out[s.name] = s.snapshot()
	}
	return out
}

func (s *service) snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		PerMinuteTarget: s.target,
		QueueDepth:      len(s.queue),
	}
	s.mu.Unlock()

	if s.minute != nil {
		snap.TokensMinute = s.minute.Tokens()
	}
	if s.hour != nil {
		snap.TokensHour = s.hour.Tokens()
	}
	if s.day != nil {
		snap.TokensDay = s.day.Tokens()
	}
	snap.Granted = atomic.LoadInt64(&s.granted)
	snap.TimedOut = atomic.LoadInt64(&s.timedOut)
	snap.Cancelled = atomic.LoadInt64(&s.cancelled)
	return snap
}

func (s *service) windows() []*rate.Limiter {
	w := make([]*rate.Limiter, 0, 3)
	if s.minute != nil {
		w = append(w, s.minute)
	}
	if s.hour != nil {
		w = append(w, s.hour)
	}
	if s.day != nil {
		w = append(w, s.day)
	}
	return w
}

// join appends a waiter to the FIFO queue; the front waiter's channel is
// closed to signal its turn.
func (s *service) join() *waiter {
	w := &waiter{ready: make(chan struct{})}
	s.mu.Lock()
	s.queue = append(s.queue, w)
	if len(s.queue) == 1 {
		close(w.ready)
	}
	s.mu.Unlock()
	return w
}

// leave removes a waiter (front after a grant, or anywhere after an
// abandoned wait) and promotes the new front if it has not been signalled.
func (s *service) leave(w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.queue {
		if q == w {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	if len(s.queue) > 0 {
		select {
		case <-s.queue[0].ready:
		default:
			close(s.queue[0].ready)
		}
	}
}

// grant is executed by the queue front only, so reservations across the
// windows cannot interleave with another acquirer of the same service.
func (s *service) grant(ctx context.Context, cost int) error {
	now := time.Now()

	var delay time.Duration
	s.mu.Lock()
	if s.cfg.MinInterval > 0 && !s.lastGrant.IsZero() {
		if d := s.cfg.MinInterval - now.Sub(s.lastGrant); d > delay {
			delay = d
		}
	}
	s.mu.Unlock()

	var held []*rate.Reservation
	cancelAll := func() {
		for _, r := range held {
			r.CancelAt(now)
		}
	}
	for _, lim := range s.windows() {
		r := lim.ReserveN(now, cost)
		if !r.OK() {
			cancelAll()
			return &errkind.Error{Kind: errkind.Permanent, Service: s.name, Op: "acquire",
				Err: fmt.Errorf("cost %d exceeds bucket capacity", cost)}
		}
		if d := r.DelayFrom(now); d > delay {
			delay = d
		}
		held = append(held, r)
	}

	if dl, ok := ctx.Deadline(); ok && delay > 0 && now.Add(delay).After(dl) {
		cancelAll()
		atomic.AddInt64(&s.timedOut, 1)
		return &errkind.Error{Kind: errkind.RateLimited, Service: s.name, Op: "acquire",
			RetryAfter: delay, Err: ErrRateLimitTimeout}
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			cancelAll()
			return s.waitError(ctx, delay)
		}
	}

	s.mu.Lock()
	s.lastGrant = time.Now()
	s.mu.Unlock()
	atomic.AddInt64(&s.granted, 1)
	return nil
}

func (s *service) waitError(ctx context.Context, retryAfter time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		atomic.AddInt64(&s.timedOut, 1)
		return &errkind.Error{Kind: errkind.RateLimited, Service: s.name, Op: "acquire",
			RetryAfter: retryAfter, Err: ErrRateLimitTimeout}
	}
	atomic.AddInt64(&s.cancelled, 1)
	return &errkind.Error{Kind: errkind.Cancelled, Service: s.name, Op: "acquire", Err: ctx.Err()}
}
