// Package store persists prospects, campaigns, processing logs, component
// statuses, control commands and daily analytics behind one Backend
// interface. Three backends exist: Notion (primary, the operator dashboard),
// DynamoDB, and an in-memory map for tests and dry runs. The Store facade
// adds the guarantees the pipeline relies on: writes linearized per prospect
// identity and a short-TTL cache in front of the processed-companies dedup
// set.
package store

import (
	"context"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
)

// ErrNotFound is returned by lookups for records that do not exist. Match it
// with errors.Is; backends may wrap it with context.
var ErrNotFound = errkind.Newf(errkind.Permanent, "store", "get", "not found")

// Backend is the raw persistence surface. Implementations must be safe for
// concurrent readers; the Store facade serializes conflicting writers.
type Backend interface {
	UpsertProspect(ctx context.Context, p *domain.Prospect) (string, error)
	UpdateProspectFields(ctx context.Context, id string, patch ProspectPatch) error
	FindProspects(ctx context.Context, f Filter) ([]*domain.Prospect, error)
	ProcessedCompanies(ctx context.Context) (map[string]struct{}, error)

	AppendLog(ctx context.Context, entry *domain.ProcessingLogEntry) error
	UpsertSystemStatus(ctx context.Context, status *domain.SystemStatus) error

	UpsertCampaign(ctx context.Context, progress *domain.CampaignProgress) error
	GetCampaign(ctx context.Context, id string) (*domain.CampaignProgress, error)

	ReadControlCommands(ctx context.Context, campaignID string, since time.Time) ([]domain.ControlCommand, error)
	AppendControlCommand(ctx context.Context, cmd *domain.ControlCommand) error

	SaveDailyAnalytics(ctx context.Context, day *domain.DailyAnalytics) error

	Ping(ctx context.Context) error
}

// Filter narrows FindProspects. Zero fields match everything; Limit 0 means
// no limit. Results come back most recently updated first.
type Filter struct {
	GenerationStatus domain.GenerationStatus
	DeliveryStatus   domain.DeliveryStatus
	Company          string
	Since            time.Time
	Limit            int
}

func (f Filter) matches(p *domain.Prospect) bool {
	if f.GenerationStatus != "" && p.GenerationStatus != f.GenerationStatus {
		return false
	}
	if f.DeliveryStatus != "" && p.DeliveryStatus != f.DeliveryStatus {
		return false
	}
	if f.Company != "" && domain.NormalizeName(p.Company) != domain.NormalizeName(f.Company) {
		return false
	}
	if !f.Since.IsZero() && p.UpdatedAt.Before(f.Since) {
		return false
	}
	return true
}

// ProspectPatch is a partial prospect update. Nil fields are left untouched,
// so a stage can record its own result without clobbering another stage's.
type ProspectPatch struct {
	Role             *string
	ProfileURL       *string
	Email            *string
	EmailConfidence  *float64
	AIProfileJSON    *string
	AIProductJSON    *string
	AIBusinessJSON   *string
	Personalization  *string
	EmailSubject     *string
	EmailBody        *string
	GenerationStatus *domain.GenerationStatus
	DeliveryStatus   *domain.DeliveryStatus
	GeneratedAt      *time.Time
	SentAt           *time.Time
}

func (pp ProspectPatch) isZero() bool {
	return pp == ProspectPatch{}
}

func (pp ProspectPatch) apply(p *domain.Prospect) {
	if pp.Role != nil {
		p.Role = *pp.Role
	}
	if pp.ProfileURL != nil {
		p.ProfileURL = *pp.ProfileURL
	}
	if pp.Email != nil {
		p.Email = *pp.Email
	}
	if pp.EmailConfidence != nil {
		p.EmailConfidence = *pp.EmailConfidence
	}
	if pp.AIProfileJSON != nil {
		p.AIProfileJSON = *pp.AIProfileJSON
	}
	if pp.AIProductJSON != nil {
		p.AIProductJSON = *pp.AIProductJSON
	}
	if pp.AIBusinessJSON != nil {
		p.AIBusinessJSON = *pp.AIBusinessJSON
	}
	if pp.Personalization != nil {
		p.Personalization = *pp.Personalization
	}
	if pp.EmailSubject != nil {
		p.EmailSubject = *pp.EmailSubject
	}
	if pp.EmailBody != nil {
		p.EmailBody = *pp.EmailBody
	}
	if pp.GenerationStatus != nil {
		p.GenerationStatus = *pp.GenerationStatus
	}
	if pp.DeliveryStatus != nil {
		p.DeliveryStatus = *pp.DeliveryStatus
	}
	if pp.GeneratedAt != nil {
		p.GeneratedAt = pp.GeneratedAt
	}
	if pp.SentAt != nil {
		p.SentAt = pp.SentAt
	}
}

// Ptr returns a pointer to v, for building patches concisely.
func Ptr[T any](v T) *T {
	return &v
}

const (
	dedupCacheKey = "processed_companies"
	dedupTTL      = time.Minute
	lockStripes   = 64
)

// Store wraps a Backend with per-prospect write linearization and the cached
// dedup set. It is the type the rest of the pipeline holds.
type Store struct {
	backend Backend
	dedup   *gocache.Cache

	mu     sync.Mutex
	recent map[string]struct{} // company keys upserted since process start

	locks [lockStripes]sync.Mutex
}

// New picks the backend from config and wraps it. The httpclient is used by
// the Notion backend only; DynamoDB brings the AWS SDK's own transport.
func New(ctx context.Context, cfg *config.Config, client *httpclient.Client) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Storage.Type {
	case "", "notion":
		backend, err = NewNotion(client, cfg.Notion)
	case "dynamodb":
		backend, err = NewDynamo(ctx, cfg.Storage.DynamoDBTable, cfg.AWS)
	case "memory":
		backend = NewMemory()
	default:
		return nil, errkind.Newf(errkind.Config, "store", "new", "unknown storage type %q", cfg.Storage.Type)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[Store] using %s backend", backendName(cfg.Storage.Type))
	return WithBackend(backend), nil
}

func backendName(typ string) string {
	if typ == "" {
		return "notion"
	}
	return typ
}

// WithBackend wraps an already-constructed backend. Tests build Stores over
// the memory backend this way.
func WithBackend(b Backend) *Store {
	// No janitor: the cache holds a single key and Get already treats
	// expired entries as absent.
	return &Store{
		backend: b,
		dedup:   gocache.New(dedupTTL, 0),
		recent:  make(map[string]struct{}),
	}
}

func (s *Store) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

// UpsertProspect writes p idempotently by its normalized (name, company)
// identity and returns the record id. Concurrent upserts of the same
// identity serialize on a striped lock so exactly one record results.
func (s *Store) UpsertProspect(ctx context.Context, p *domain.Prospect) (string, error) {
	mu := s.lockFor(p.Key())
	mu.Lock()
	defer mu.Unlock()

	id, err := s.backend.UpsertProspect(ctx, p)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.recent[domain.NormalizeName(p.Company)] = struct{}{}
	s.mu.Unlock()
	return id, nil
}

// UpdateProspectFields applies a partial update to the record with the given
// id, preserving every field the patch leaves nil.
func (s *Store) UpdateProspectFields(ctx context.Context, id string, patch ProspectPatch) error {
	if patch.isZero() {
		return nil
	}
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return s.backend.UpdateProspectFields(ctx, id, patch)
}

func (s *Store) FindProspects(ctx context.Context, f Filter) ([]*domain.Prospect, error) {
	return s.backend.FindProspects(ctx, f)
}

// ProcessedCompanies returns the dedup set of normalized company names that
// already have stored prospects. The backend fetch is cached for a minute;
// companies upserted by this process are folded in regardless of cache age.
// Callers own the returned map.
func (s *Store) ProcessedCompanies(ctx context.Context) (map[string]struct{}, error) {
	var base map[string]struct{}
	if v, ok := s.dedup.Get(dedupCacheKey); ok {
		base = v.(map[string]struct{})
	} else {
		fetched, err := s.backend.ProcessedCompanies(ctx)
		if err != nil {
			return nil, err
		}
		// The cached map is never mutated after this point; merged copies
		// below keep readers race-free.
		s.dedup.Set(dedupCacheKey, fetched, gocache.DefaultExpiration)
		base = fetched
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(base)+len(s.recent))
	for k := range base {
		out[k] = struct{}{}
	}
	for k := range s.recent {
		out[k] = struct{}{}
	}
	return out, nil
}

func (s *Store) AppendLog(ctx context.Context, entry *domain.ProcessingLogEntry) error {
	return s.backend.AppendLog(ctx, entry)
}

func (s *Store) UpsertSystemStatus(ctx context.Context, status *domain.SystemStatus) error {
	return s.backend.UpsertSystemStatus(ctx, status)
}

func (s *Store) UpsertCampaign(ctx context.Context, progress *domain.CampaignProgress) error {
	return s.backend.UpsertCampaign(ctx, progress)
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.CampaignProgress, error) {
	return s.backend.GetCampaign(ctx, id)
}

func (s *Store) ReadControlCommands(ctx context.Context, campaignID string, since time.Time) ([]domain.ControlCommand, error) {
	return s.backend.ReadControlCommands(ctx, campaignID, since)
}

func (s *Store) AppendControlCommand(ctx context.Context, cmd *domain.ControlCommand) error {
	return s.backend.AppendControlCommand(ctx, cmd)
}

func (s *Store) SaveDailyAnalytics(ctx context.Context, day *domain.DailyAnalytics) error {
	return s.backend.SaveDailyAnalytics(ctx, day)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// mergeProspect folds a fresh scrape of the same person into the stored
// record. Incoming empty fields never erase stored data, and generation or
// delivery state only ever advances through UpdateProspectFields, so a
// re-processed company cannot reset an already-written email.
func mergeProspect(dst, src *domain.Prospect) {
	if src.Role != "" {
		dst.Role = src.Role
	}
	if src.ProfileURL != "" {
		dst.ProfileURL = src.ProfileURL
	}
	if src.Email != "" {
		dst.Email = src.Email
		dst.EmailConfidence = src.EmailConfidence
	}
	if src.AIProfileJSON != "" {
		dst.AIProfileJSON = src.AIProfileJSON
	}
	if src.AIProductJSON != "" {
		dst.AIProductJSON = src.AIProductJSON
	}
	if src.AIBusinessJSON != "" {
		dst.AIBusinessJSON = src.AIBusinessJSON
	}
	if src.Personalization != "" {
		dst.Personalization = src.Personalization
	}
	if src.EmailSubject != "" {
		dst.EmailSubject = src.EmailSubject
	}
	if src.EmailBody != "" {
		dst.EmailBody = src.EmailBody
	}
	if src.Source != "" {
		dst.Source = src.Source
	}
	if dst.GenerationStatus == "" {
		dst.GenerationStatus = defaultGeneration(src.GenerationStatus)
	}
	if dst.DeliveryStatus == "" {
		dst.DeliveryStatus = defaultDelivery(src.DeliveryStatus)
	}
}

func defaultGeneration(s domain.GenerationStatus) domain.GenerationStatus {
	if s == "" {
		return domain.GenerationNotGenerated
	}
	return s
}

func defaultDelivery(s domain.DeliveryStatus) domain.DeliveryStatus {
	if s == "" {
		return domain.DeliveryNotSent
	}
	return s
}

// sortProspects orders most recently updated first and applies the limit.
func sortProspects(list []*domain.Prospect, limit int) []*domain.Prospect {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
