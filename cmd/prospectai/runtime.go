package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Unisami/ProspectAI-sub000/internal/ai"
	"github.com/Unisami/ProspectAI-sub000/internal/analytics"
	"github.com/Unisami/ProspectAI-sub000/internal/api"
	"github.com/Unisami/ProspectAI-sub000/internal/browser"
	"github.com/Unisami/ProspectAI-sub000/internal/cache"
	"github.com/Unisami/ProspectAI-sub000/internal/campaign"
	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
	"github.com/Unisami/ProspectAI-sub000/internal/hunter"
	"github.com/Unisami/ProspectAI-sub000/internal/llm"
	"github.com/Unisami/ProspectAI-sub000/internal/mailing"
	"github.com/Unisami/ProspectAI-sub000/internal/notify"
	"github.com/Unisami/ProspectAI-sub000/internal/ratelimit"
	"github.com/Unisami/ProspectAI-sub000/internal/scrape"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

// Runtime holds every live collaborator the commands draw on. Construction
// is explicit and ordered: config feeds the cache and the limiter, the
// shared HTTP client feeds every adapter, the store comes before anything
// that reports into it, and the orchestrator is assembled last over the
// lot. A construction failure releases whatever was already built.
type Runtime struct {
	Cfg      *config.Config
	Cache    *cache.Cache
	Limiter  *ratelimit.Limiter
	HTTP     *httpclient.Client
	Browsers *browser.Pool // nil when the rendering fallback is disabled
	LLM      *llm.Registry
	AI       *ai.Service
	Store    *store.Store
	Hunter   *hunter.Client
	Sender   *mailing.Sender // nil when the provider has no credentials
	Notifier *notify.Notifier
	Rollup   *analytics.Rollup
	Orch     *campaign.Orchestrator
	API      *api.Server // nil unless server.enabled
}

// newRuntime builds the full pipeline stack from a loaded configuration.
func newRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Cfg: cfg}

	// Collaborators assume a non-nil cache; turning caching off drops
	// only the persistent tier.
	cacheCfg := cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   int64(cfg.Cache.MaxMemoryMB) << 20,
	}
	if cfg.Cache.IsEnabled() {
		cacheCfg.Dir = cfg.Cache.Directory
	}
	c, err := cache.New(cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("building cache: %w", err)
	}
	rt.Cache = c

	rt.Limiter = ratelimit.New(serviceLimits(cfg))
	rt.HTTP = httpclient.New(rt.Limiter, httpclient.Options{
		Timeout:         cfg.Scraping.Timeout(),
		MaxRetries:      cfg.Workers.MaxRetries,
		OnBreakerChange: rt.noteBreaker,
	})

	if cfg.Browser.Enabled {
		rt.Browsers = browser.NewPool(browser.Config{
			PoolSize:    cfg.Browser.PoolSize,
			Headless:    cfg.Browser.IsHeadless(),
			BinPath:     cfg.Browser.BinPath,
			NavTimeout:  cfg.Browser.NavTimeout(),
			IdleReclaim: cfg.Browser.IdleReclaim(),
		})
	}

	registry, err := llm.NewFromConfig(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.LLM = registry
	rt.AI = ai.New(registry, rt.Cache, cfg.AI)

	st, err := store.New(ctx, cfg, rt.HTTP)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Store = st

	var render scrape.Renderer
	if rt.Browsers != nil {
		render = scrape.NewPoolRenderer(rt.Browsers, browser.LoadOptions{
			WaitIdle:    2 * time.Second,
			BlockImages: cfg.Browser.DisableImages,
		})
	}
	feed := scrape.NewProductFeed(rt.HTTP, render, cfg.Feed, cfg.Scraping)
	team := scrape.NewTeamExtractor(rt.HTTP, render, cfg.Scraping)
	pages := scrape.NewPageFetcher(rt.HTTP, render, cfg.Scraping)
	profiles := scrape.NewProfileFinder(rt.HTTP, rt.Cache, cfg.Scraping)

	rt.Hunter = hunter.NewClient(rt.HTTP, cfg.Hunter)

	if cfg.SendEnabled() {
		var esp mailing.ESPSender
		switch cfg.Email.Provider {
		case "ses":
			esp = mailing.NewSESSender(cfg.AWS, rt.Limiter)
		default:
			esp = mailing.NewResendSender(rt.HTTP, cfg.Resend)
		}
		rt.Sender = mailing.NewSender(esp, mailing.NewTemplateService(), cfg.Email)
	}

	rt.Notifier = notify.New(st, cfg.Notifications)

	archiver, err := analytics.NewArchiver(ctx, cfg.Analytics, cfg.AWS)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Rollup = analytics.New(st, archiver, cfg.Analytics)

	var profile *config.SenderProfile
	if cfg.SenderProfile != "" {
		profile, err = config.LoadSenderProfile(cfg.SenderProfile)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	deps := campaign.Deps{
		Store:    st,
		Feed:     feed,
		Team:     team,
		Profiles: profiles,
		Emails:   rt.Hunter,
		AI:       rt.AI,
		Pages:    pages,
		Notifier: rt.Notifier,
		Rollup:   rt.Rollup,
		Profile:  profile,
	}
	// A nil Sender must stay a nil interface so the send stage disables
	// itself cleanly.
	if rt.Sender != nil {
		deps.Sender = rt.Sender
	}
	rt.Orch = campaign.New(deps, cfg)

	if cfg.Server.Enabled {
		h := api.NewHandlers(st)
		h.SetCache(rt.Cache)
		h.SetLimiter(rt.Limiter)
		h.SetAI(rt.AI)
		h.SetLLM(rt.LLM)
		h.SetOrchestrator(rt.Orch)
		if rt.Browsers != nil {
			h.SetBrowserPool(rt.Browsers)
		}
		rt.API = api.NewServer(cfg.Server, h)
	}

	return rt, nil
}

// Close releases runtime resources in reverse construction order. Safe to
// call on a partially built runtime.
func (rt *Runtime) Close() {
	if rt.Orch != nil {
		s := rt.Orch.Stats()
		if s["companies_processed"] > 0 || s["prospects_stored"] > 0 || s["errors"] > 0 {
			log.Printf("[Runtime] totals: companies=%d prospects=%d errors=%d",
				s["companies_processed"], s["prospects_stored"], s["errors"])
		}
	}
	if rt.API != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rt.API.Shutdown(ctx); err != nil {
			log.Printf("[Runtime] shutting down status server: %v", err)
		}
		cancel()
	}
	if rt.Browsers != nil {
		if err := rt.Browsers.Close(); err != nil {
			log.Printf("[Runtime] closing browser pool: %v", err)
		}
	}
}

// noteBreaker mirrors circuit-breaker transitions into the system-status
// table so the dashboard shows which adapter tripped. Fired from request
// paths, so failures are logged and swallowed.
func (rt *Runtime) noteBreaker(service string, from, to gobreaker.State) {
	st := rt.Store
	if st == nil {
		return
	}
	health := domain.HealthHealthy
	switch to {
	case gobreaker.StateOpen:
		health = domain.HealthOffline
	case gobreaker.StateHalfOpen:
		health = domain.HealthWarning
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := st.UpsertSystemStatus(ctx, &domain.SystemStatus{
		Component:  service,
		Status:     health,
		LastUpdate: time.Now().UTC(),
		Details:    fmt.Sprintf("circuit breaker moved from %s to %s", from, to),
	})
	if err != nil {
		log.Printf("[Runtime] recording breaker state for %s: %v", service, err)
	}
	if to == gobreaker.StateOpen && rt.Notifier != nil {
		rt.Notifier.SendErrorAlert(ctx, service, "http",
			fmt.Errorf("circuit breaker opened after repeated failures"))
	}
}

// serviceLimits translates the configured per-service windows into limiter
// buckets.
func serviceLimits(cfg *config.Config) map[string]ratelimit.ServiceConfig {
	limits := make(map[string]ratelimit.ServiceConfig, len(cfg.RateLimits))
	for name, rl := range cfg.RateLimits {
		limits[name] = ratelimit.ServiceConfig{
			PerMinute:   rl.PerMinute,
			PerHour:     rl.PerHour,
			PerDay:      rl.PerDay,
			Burst:       rl.Burst,
			MinInterval: rl.MinInterval(),
		}
	}
	return limits
}

// openStore builds only the store path: config, limiter, HTTP client,
// backend. The control and status commands use it so injecting a pause
// does not demand LLM credentials or a browser.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	limiter := ratelimit.New(serviceLimits(cfg))
	client := httpclient.New(limiter, httpclient.Options{Timeout: cfg.Notion.Timeout()})
	return store.New(ctx, cfg, client)
}
