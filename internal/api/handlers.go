// Package api exposes the local status and control surface: campaign
// progress, operator commands, component health, cache and limiter
// statistics. It is read by the operator's tooling, not a browser UI, and
// only binds when server.enabled is set.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Unisami/ProspectAI-sub000/internal/ai"
	"github.com/Unisami/ProspectAI-sub000/internal/browser"
	"github.com/Unisami/ProspectAI-sub000/internal/cache"
	"github.com/Unisami/ProspectAI-sub000/internal/campaign"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/llm"
	"github.com/Unisami/ProspectAI-sub000/internal/ratelimit"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

// Handlers carries the collaborators the status surface reads. Store is
// required; every other field is optional and reported as absent when nil.
type Handlers struct {
	store     *store.Store
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	browsers  *browser.Pool
	ai        *ai.Service
	llm       *llm.Registry
	orch      *campaign.Orchestrator
	startedAt time.Time
}

// NewHandlers builds the handler set over the store.
func NewHandlers(st *store.Store) *Handlers {
	return &Handlers{store: st, startedAt: time.Now()}
}

// SetCache wires the response cache for /api/cache/stats.
func (h *Handlers) SetCache(c *cache.Cache) { h.cache = c }

// SetLimiter wires the rate limiter for /api/limits.
func (h *Handlers) SetLimiter(l *ratelimit.Limiter) { h.limiter = l }

// SetBrowserPool wires the browser pool into the system status report.
func (h *Handlers) SetBrowserPool(p *browser.Pool) { h.browsers = p }

// SetAI wires the enrichment service into the system status report.
func (h *Handlers) SetAI(s *ai.Service) { h.ai = s }

// SetLLM wires the provider registry into the system status report.
func (h *Handlers) SetLLM(r *llm.Registry) { h.llm = r }

// SetOrchestrator wires cross-run totals into the system status report.
func (h *Handlers) SetOrchestrator(o *campaign.Orchestrator) { h.orch = o }

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck reports process liveness and storage reachability.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	storageStatus := "ok"
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		storageStatus = err.Error()
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"storage":        storageStatus,
	})
}

// GetCampaign returns one campaign's progress record.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	progress, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "campaign not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

// controlRequest is the POST body for campaign control.
type controlRequest struct {
	Action      string            `json:"action"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	RequestedBy string            `json:"requested_by,omitempty"`
}

// PostControl appends an operator command for the campaign's poller to
// pick up. The write is durable before the 202 goes out; application is
// asynchronous, within the configured poll interval.
func (h *Handlers) PostControl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	action, err := domain.ParseControlAction(req.Action)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if action == domain.ControlInsertPriority && req.Parameters["company"] == "" {
		respondError(w, http.StatusBadRequest, "insert_priority requires a company parameter")
		return
	}

	// Reject commands against unknown campaigns early; the poller would
	// never see them anyway.
	if _, err := h.store.GetCampaign(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "campaign not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cmd := &domain.ControlCommand{
		CampaignID:  id,
		Action:      action,
		Parameters:  req.Parameters,
		RequestedBy: req.RequestedBy,
		SeenAt:      time.Now().UTC(),
	}
	if err := h.store.AppendControlCommand(r.Context(), cmd); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"campaign_id": id,
		"action":      action,
		"accepted_at": cmd.SeenAt,
	})
}

// GetSystemStatus reports per-component health, assembled from live
// probes and counters rather than stored heartbeats.
func (h *Handlers) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	var statuses []domain.SystemStatus

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	storageStatus := domain.SystemStatus{Component: "storage", Status: domain.HealthHealthy, LastUpdate: now}
	if err := h.store.Ping(ctx); err != nil {
		storageStatus.Status = domain.HealthError
		storageStatus.Details = err.Error()
	}
	statuses = append(statuses, storageStatus)

	if h.ai != nil {
		s := domain.SystemStatus{Component: "ai", Status: domain.HealthHealthy, LastUpdate: now}
		var count, errs int64
		for _, m := range h.ai.Metrics() {
			count += m.Count
			errs += m.Errors
		}
		if count > 0 {
			s.SuccessRate24h = float64(count-errs) / float64(count)
			s.ErrorCount24h = int(errs)
			if s.SuccessRate24h < 0.5 {
				s.Status = domain.HealthWarning
			}
		}
		if h.llm != nil {
			s.Details = "provider " + h.llm.ActiveName()
		}
		statuses = append(statuses, s)
	}

	if h.browsers != nil {
		bs := h.browsers.Stats()
		statuses = append(statuses, domain.SystemStatus{
			Component:  "browser_pool",
			Status:     domain.HealthHealthy,
			LastUpdate: now,
			Details: fmt.Sprintf("size=%d outstanding=%d reclaimed=%d",
				bs.PoolSize, bs.Outstanding, bs.Reclaimed),
		})
	}

	if h.cache != nil {
		cs := h.cache.Stats()
		statuses = append(statuses, domain.SystemStatus{
			Component:      "cache",
			Status:         domain.HealthHealthy,
			LastUpdate:     now,
			SuccessRate24h: cs.HitRate,
			Details:        fmt.Sprintf("%d entries, %d bytes", cs.Entries, cs.MemoryBytes),
		})
	}

	// Best effort: mirror the report onto the dashboard's status table.
	for i := range statuses {
		if err := h.store.UpsertSystemStatus(ctx, &statuses[i]); err != nil {
			break
		}
	}

	out := map[string]interface{}{
		"timestamp":  now,
		"components": statuses,
	}
	if h.orch != nil {
		out["totals"] = h.orch.Stats()
	}
	if h.ai != nil {
		out["ai_operations"] = h.ai.Metrics()
	}
	respondJSON(w, http.StatusOK, out)
}

// GetCacheStats reports cache effectiveness counters.
func (h *Handlers) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		respondError(w, http.StatusNotFound, "cache is not configured")
		return
	}
	respondJSON(w, http.StatusOK, h.cache.Stats())
}

// GetLimits reports every registered rate limiter's state.
func (h *Handlers) GetLimits(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		respondError(w, http.StatusNotFound, "rate limiter is not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"services":  h.limiter.Snapshots(),
	})
}
