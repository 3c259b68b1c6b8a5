// Package browser maintains a bounded pool of headless browser sessions
// for the scraping paths that plain HTTP cannot serve. The underlying
// Chrome process is launched lazily on first acquire and shared by all
// sessions; each session is an isolated incognito page. A watchdog
// reclaims sessions whose owners hold them past the configured threshold
// so a stuck pipeline stage cannot drain the pool.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
)

// Config sizes the pool and its timeouts.
type Config struct {
	PoolSize    int
	Headless    bool
	BinPath     string        // explicit Chrome binary, empty uses the launcher's lookup
	NavTimeout  time.Duration // default page-load timeout
	IdleReclaim time.Duration // force-reclaim threshold, 0 disables the watchdog
}

// LoadOptions tunes a single page load.
type LoadOptions struct {
	Timeout     time.Duration // overrides Config.NavTimeout when > 0
	WaitIdle    time.Duration // extra network-idle wait after the load event
	BlockImages bool
	DisableJS   bool
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	PoolSize    int   `json:"pool_size"`
	Outstanding int   `json:"outstanding"`
	Idle        int   `json:"idle"`
	Created     int64 `json:"created"`
	Destroyed   int64 `json:"destroyed"`
	Reclaimed   int64 `json:"reclaimed"`
}

// driver abstracts the browser process so tests can run without Chrome.
type driver interface {
	NewSession(cfg Config) (sessionDriver, error)
	Healthy() bool
	Close() error
}

// sessionDriver abstracts a single page.
type sessionDriver interface {
	Load(ctx context.Context, url string, opts LoadOptions) error
	HTML() (string, error)
	Healthy() bool
	Close() error
}

// Session is one checked-out browser page. It must be returned with
// Release; after a crash or watchdog reclaim all operations fail.
type Session struct {
	id       string
	owner    string
	acquired time.Time
	drv      sessionDriver
	pool     *Pool

	mu     sync.Mutex
	broken bool
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Load navigates the session to a URL and waits for the load event plus
// any requested idle period. A failed load marks the session broken so it
// is destroyed and replaced on release.
func (s *Session) Load(ctx context.Context, url string, opts LoadOptions) error {
	if s.isBroken() {
		return &errkind.Error{Kind: errkind.Transient, Service: "browser", Op: "load",
			Err: errors.New("session no longer usable")}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = s.pool.cfg.NavTimeout
	}
	if err := s.drv.Load(ctx, url, opts); err != nil {
		s.setBroken()
		kind := errkind.Of(err)
		if kind == errkind.Permanent {
			kind = errkind.Transient
		}
		return &errkind.Error{Kind: kind, Service: "browser", Op: "load",
			Err: fmt.Errorf("loading %s: %w", url, err)}
	}
	return nil
}

// HTML returns the rendered document of the current page.
func (s *Session) HTML() (string, error) {
	if s.isBroken() {
		return "", &errkind.Error{Kind: errkind.Transient, Service: "browser", Op: "html",
			Err: errors.New("session no longer usable")}
	}
	html, err := s.drv.HTML()
	if err != nil {
		s.setBroken()
		return "", &errkind.Error{Kind: errkind.Transient, Service: "browser", Op: "html", Err: err}
	}
	return html, nil
}

func (s *Session) isBroken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

func (s *Session) setBroken() {
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}

// Pool hands out at most PoolSize concurrent sessions, first come first
// served. Healthy released sessions are kept idle for reuse.
type Pool struct {
	cfg     Config
	connect func(cfg Config) (driver, error)

	slots chan struct{}

	mu     sync.Mutex
	drv    driver
	idle   []sessionDriver
	out    map[string]*Session
	closed bool

	watchStop chan struct{}
	watchWG   sync.WaitGroup

	created   int64
	destroyed int64
	reclaimed int64
}

// NewPool builds a pool; the browser process is not launched until the
// first Acquire.
func NewPool(cfg Config) *Pool {
	return newPool(cfg, connectRod)
}

func newPool(cfg Config, connect func(Config) (driver, error)) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 3
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	p := &Pool{
		cfg:       cfg,
		connect:   connect,
		slots:     make(chan struct{}, cfg.PoolSize),
		out:       make(map[string]*Session),
		watchStop: make(chan struct{}),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		p.slots <- struct{}{}
	}
	if cfg.IdleReclaim > 0 {
		p.watchWG.Add(1)
		go p.watchdog()
	}
	return p
}

// Acquire blocks until a session slot is free, then returns a ready
// session. The owner string is recorded for the watchdog's leak reports.
func (p *Pool) Acquire(ctx context.Context, owner string) (*Session, error) {
	select {
	case <-p.slots:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &errkind.Error{Kind: errkind.Transient, Service: "browser", Op: "acquire",
				Err: errors.New("timed out waiting for a free session")}
		}
		return nil, &errkind.Error{Kind: errkind.Cancelled, Service: "browser", Op: "acquire", Err: ctx.Err()}
	}

	s, err := p.checkout(ctx, owner)
	if err != nil {
		p.slots <- struct{}{}
		return nil, err
	}
	return s, nil
}

func (p *Pool) checkout(ctx context.Context, owner string) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &errkind.Error{Kind: errkind.Permanent, Service: "browser", Op: "acquire",
			Err: errors.New("pool is closed")}
	}
	// Reuse an idle session if a healthy one remains.
	for len(p.idle) > 0 {
		drv := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if drv.Healthy() {
			s := p.register(drv, owner)
			p.mu.Unlock()
			return s, nil
		}
		drv.Close()
		atomic.AddInt64(&p.destroyed, 1)
	}
	p.mu.Unlock()

	drv, err := p.ensureConnected()
	if err != nil {
		return nil, err
	}
	sd, err := drv.NewSession(p.cfg)
	if err != nil {
		return nil, &errkind.Error{Kind: errkind.Transient, Service: "browser", Op: "acquire",
			Err: fmt.Errorf("creating session: %w", err)}
	}
	atomic.AddInt64(&p.created, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		sd.Close()
		return nil, &errkind.Error{Kind: errkind.Permanent, Service: "browser", Op: "acquire",
			Err: errors.New("pool is closed")}
	}
	return p.register(sd, owner), nil
}

// register must be called with p.mu held.
func (p *Pool) register(drv sessionDriver, owner string) *Session {
	s := &Session{
		id:       uuid.NewString(),
		owner:    owner,
		acquired: time.Now(),
		drv:      drv,
		pool:     p,
	}
	p.out[s.id] = s
	return s
}

// Release returns a session to the pool. Broken or unhealthy sessions are
// destroyed; the freed slot lets the next acquire create a replacement.
// Releasing an already-reclaimed session is a no-op.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.out[s.id]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.out, s.id)
	keep := !s.isBroken() && !p.closed && s.drv.Healthy()
	if keep {
		p.idle = append(p.idle, s.drv)
	}
	p.mu.Unlock()

	if !keep {
		s.drv.Close()
		atomic.AddInt64(&p.destroyed, 1)
	}
	p.slots <- struct{}{}
}

// ensureConnected launches the browser lazily and replaces a stale
// connection, mirroring the health probe the session manager idiom uses.
func (p *Pool) ensureConnected() (driver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, &errkind.Error{Kind: errkind.Permanent, Service: "browser", Op: "launch",
			Err: errors.New("pool is closed")}
	}
	if p.drv != nil {
		if p.drv.Healthy() {
			return p.drv, nil
		}
		log.Printf("[BrowserPool] stale browser connection detected, relaunching")
		p.drv.Close()
		p.drv = nil
		for _, d := range p.idle {
			d.Close()
		}
		p.idle = nil
	}
	drv, err := p.connect(p.cfg)
	if err != nil {
		return nil, &errkind.Error{Kind: errkind.Transient, Service: "browser", Op: "launch",
			Err: fmt.Errorf("launching browser: %w", err)}
	}
	p.drv = drv
	log.Printf("[BrowserPool] browser launched (pool size %d)", p.cfg.PoolSize)
	return drv, nil
}

// Close force-closes every session, idle and outstanding, and shuts the
// browser down. The pool cannot be reused afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	outstanding := make([]*Session, 0, len(p.out))
	for id, s := range p.out {
		outstanding = append(outstanding, s)
		delete(p.out, id)
	}
	idle := p.idle
	p.idle = nil
	drv := p.drv
	p.drv = nil
	p.mu.Unlock()

	close(p.watchStop)
	p.watchWG.Wait()

	for _, s := range outstanding {
		s.setBroken()
		s.drv.Close()
		p.slots <- struct{}{}
	}
	for _, d := range idle {
		d.Close()
	}

	var err error
	if drv != nil {
		err = drv.Close()
	}
	if len(outstanding) > 0 {
		log.Printf("[BrowserPool] force-closed %d outstanding sessions", len(outstanding))
	}
	return err
}

// Stats reports current pool usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	outstanding := len(p.out)
	idle := len(p.idle)
	p.mu.Unlock()
	return Stats{
		PoolSize:    p.cfg.PoolSize,
		Outstanding: outstanding,
		Idle:        idle,
		Created:     atomic.LoadInt64(&p.created),
		Destroyed:   atomic.LoadInt64(&p.destroyed),
		Reclaimed:   atomic.LoadInt64(&p.reclaimed),
	}
}

func (p *Pool) watchdog() {
	defer p.watchWG.Done()
	interval := p.cfg.IdleReclaim / 4
	if interval > 10*time.Second {
		interval = 10 * time.Second
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.watchStop:
			return
		case <-ticker.C:
			p.reclaimStale()
		}
	}
}

func (p *Pool) reclaimStale() {
	cutoff := time.Now().Add(-p.cfg.IdleReclaim)

	p.mu.Lock()
	var stale []*Session
	for id, s := range p.out {
		if s.acquired.Before(cutoff) {
			stale = append(stale, s)
			delete(p.out, id)
		}
	}
	p.mu.Unlock()

	for _, s := range stale {
		log.Printf("[BrowserPool] session %s held by %q for over %s, forcing reclaim",
			s.id, s.owner, p.cfg.IdleReclaim)
		s.setBroken()
		s.drv.Close()
		atomic.AddInt64(&p.reclaimed, 1)
		p.slots <- struct{}{}
	}
}
