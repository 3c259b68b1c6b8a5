package llm

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
)

// Factory constructs a provider on first use.
type Factory func() (Provider, error)

// ValidationReport is the outcome of probing one provider.
type ValidationReport struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// Registry holds the configured providers keyed by name and routes
// completions to the active one. Providers are constructed on first use;
// a factory failure marks the provider unavailable instead of aborting
// the process, and the failure surfaces through ValidateAll. Safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
	broken    map[string]error
	active    string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
		broken:    make(map[string]error),
	}
}

// NewFromConfig registers the five backends against their configuration
// sections and routes to cfg.AI.Backend.
func NewFromConfig(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()
	r.Register("openai", func() (Provider, error) { return NewOpenAI(cfg.OpenAI, cfg.AI), nil })
	r.Register("azure", func() (Provider, error) { return NewAzure(cfg.AzureOpenAI, cfg.AI), nil })
	r.Register("anthropic", func() (Provider, error) { return NewAnthropic(cfg.Anthropic, cfg.AI), nil })
	r.Register("gemini", func() (Provider, error) { return NewGemini(cfg.Gemini, cfg.AI) })
	r.Register("bedrock", func() (Provider, error) { return NewBedrock(cfg.AWS, cfg.AI) })
	if err := r.SwitchActive(cfg.AI.Backend); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds a provider factory under name. The first registered name
// becomes active. Re-registering a name replaces the factory and discards
// any constructed instance.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	delete(r.providers, name)
	delete(r.broken, name)
	if r.active == "" {
		r.active = name
	}
}

// Names lists the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActiveName returns the name new completions are routed to.
func (r *Registry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SwitchActive routes subsequent completions to name. Requests already in
// flight finish against the provider they started with.
func (r *Registry) SwitchActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; !ok {
		return errkind.Newf(errkind.Config, "llm", "switch_active", "unknown provider %q", name)
	}
	if r.active != name {
		log.Printf("[LLM] active backend: %s -> %s", r.active, name)
	}
	r.active = name
	return nil
}

// Provider returns the named provider, constructing it on first use. A
// construction failure is cached: the provider stays unavailable for the
// life of the process.
func (r *Registry) Provider(name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	if err, ok := r.broken[name]; ok {
		return nil, err
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, errkind.Newf(errkind.Config, "llm", "provider", "unknown provider %q", name)
	}
	p, err := factory()
	if err != nil {
		wrapped := errkind.New(errkind.Config, "llm", "provider", fmt.Errorf("constructing %s: %w", name, err))
		r.broken[name] = wrapped
		log.Printf("[LLM] provider %s unavailable: %v", name, err)
		return nil, wrapped
	}
	r.providers[name] = p
	return p, nil
}

// Active returns the provider new requests should use.
func (r *Registry) Active() (Provider, error) {
	r.mu.RLock()
	name := r.active
	r.mu.RUnlock()
	if name == "" {
		return nil, errkind.Newf(errkind.Config, "llm", "active", "no providers registered")
	}
	return r.Provider(name)
}

// Complete runs one completion against the active provider. The provider
// is resolved once up front, so a concurrent switch does not redirect a
// request already underway.
func (r *Registry) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	p, err := r.Active()
	if err != nil {
		return fail(req.Model, err)
	}
	return p.Complete(ctx, req)
}

// ValidateAll probes every registered provider: construction, then config
// check, then one connection round-trip. Used by the validate command and
// the dashboard status endpoint.
func (r *Registry) ValidateAll(ctx context.Context) map[string]ValidationReport {
	names := r.Names()
	reports := make(map[string]ValidationReport, len(names))
	for _, name := range names {
		reports[name] = r.probe(ctx, name)
	}
	return reports
}

func (r *Registry) probe(ctx context.Context, name string) ValidationReport {
	p, err := r.Provider(name)
	if err != nil {
		return ValidationReport{Detail: err.Error()}
	}
	if errs := p.ValidateConfig(); len(errs) > 0 {
		parts := make([]string, len(errs))
		for i, e := range errs {
			parts[i] = e.Error()
		}
		return ValidationReport{Detail: strings.Join(parts, "; ")}
	}
	if err := p.TestConnection(ctx); err != nil {
		return ValidationReport{Detail: err.Error()}
	}
	return ValidationReport{OK: true, Detail: "connected"}
}
