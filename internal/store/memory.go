package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
)

// Memory is the in-process backend used by tests, dry runs and the stub
// server. Everything is copied on the way in and out so callers can never
// share mutable state with the store.
type Memory struct {
	mu        sync.RWMutex
	prospects map[string]*domain.Prospect // by id
	ids       map[string]string           // prospect identity key -> id
	campaigns map[string]*domain.CampaignProgress
	logs      []domain.ProcessingLogEntry
	statuses  map[string]*domain.SystemStatus
	controls  []domain.ControlCommand
	analytics map[string]*domain.DailyAnalytics
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		prospects: make(map[string]*domain.Prospect),
		ids:       make(map[string]string),
		campaigns: make(map[string]*domain.CampaignProgress),
		statuses:  make(map[string]*domain.SystemStatus),
		analytics: make(map[string]*domain.DailyAnalytics),
	}
}

func (m *Memory) UpsertProspect(ctx context.Context, p *domain.Prospect) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if id, ok := m.ids[p.Key()]; ok {
		existing := m.prospects[id]
		mergeProspect(existing, p)
		existing.UpdatedAt = now
		return id, nil
	}

	rec := cloneProspect(p)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.GenerationStatus = defaultGeneration(rec.GenerationStatus)
	rec.DeliveryStatus = defaultDelivery(rec.DeliveryStatus)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.prospects[rec.ID] = rec
	m.ids[p.Key()] = rec.ID
	return rec.ID, nil
}

func (m *Memory) UpdateProspectFields(ctx context.Context, id string, patch ProspectPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prospects[id]
	if !ok {
		return fmt.Errorf("prospect %s: %w", id, ErrNotFound)
	}
	patch.apply(p)
	p.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) FindProspects(ctx context.Context, f Filter) ([]*domain.Prospect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Prospect
	for _, p := range m.prospects {
		if f.matches(p) {
			out = append(out, cloneProspect(p))
		}
	}
	return sortProspects(out, f.Limit), nil
}

func (m *Memory) ProcessedCompanies(ctx context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]struct{}, len(m.prospects))
	for _, p := range m.prospects {
		out[domain.NormalizeName(p.Company)] = struct{}{}
	}
	return out, nil
}

func (m *Memory) AppendLog(ctx context.Context, entry *domain.ProcessingLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *entry
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.logs = append(m.logs, e)
	return nil
}

// Logs returns a copy of every appended entry, oldest first. Tests and the
// analytics rollup read it.
func (m *Memory) Logs() []domain.ProcessingLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ProcessingLogEntry, len(m.logs))
	copy(out, m.logs)
	return out
}

func (m *Memory) UpsertSystemStatus(ctx context.Context, status *domain.SystemStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *status
	if s.LastUpdate.IsZero() {
		s.LastUpdate = time.Now()
	}
	m.statuses[s.Component] = &s
	return nil
}

// SystemStatuses returns the latest status per component.
func (m *Memory) SystemStatuses() []domain.SystemStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SystemStatus, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

func (m *Memory) UpsertCampaign(ctx context.Context, progress *domain.CampaignProgress) error {
	if progress.ID == "" {
		return fmt.Errorf("campaign has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *progress
	m.campaigns[c.ID] = &c
	return nil
}

func (m *Memory) GetCampaign(ctx context.Context, id string) (*domain.CampaignProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	out := *c
	return &out, nil
}

// Campaigns returns a snapshot of every stored campaign record, most
// recently started first.
func (m *Memory) Campaigns() []domain.CampaignProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.CampaignProgress, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (m *Memory) ReadControlCommands(ctx context.Context, campaignID string, since time.Time) ([]domain.ControlCommand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ControlCommand
	for _, cmd := range m.controls {
		if cmd.CampaignID != campaignID {
			continue
		}
		if !cmd.SeenAt.After(since) {
			continue
		}
		out = append(out, cloneControl(cmd))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SeenAt.Before(out[j].SeenAt) })
	return out, nil
}

func (m *Memory) AppendControlCommand(ctx context.Context, cmd *domain.ControlCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneControl(*cmd)
	if c.SeenAt.IsZero() {
		c.SeenAt = time.Now()
	}
	m.controls = append(m.controls, c)
	return nil
}

func (m *Memory) SaveDailyAnalytics(ctx context.Context, day *domain.DailyAnalytics) error {
	if day.Date == "" {
		return fmt.Errorf("analytics record has no date")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := *day
	m.analytics[d.Date] = &d
	return nil
}

// DailyAnalyticsFor returns the stored rollup for a date key, if any.
func (m *Memory) DailyAnalyticsFor(date string) (*domain.DailyAnalytics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.analytics[date]
	if !ok {
		return nil, false
	}
	out := *d
	return &out, true
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

func cloneProspect(p *domain.Prospect) *domain.Prospect {
	out := *p
	if p.GeneratedAt != nil {
		t := *p.GeneratedAt
		out.GeneratedAt = &t
	}
	if p.SentAt != nil {
		t := *p.SentAt
		out.SentAt = &t
	}
	return &out
}

func cloneControl(c domain.ControlCommand) domain.ControlCommand {
	out := c
	if c.Parameters != nil {
		out.Parameters = make(map[string]string, len(c.Parameters))
		for k, v := range c.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}
