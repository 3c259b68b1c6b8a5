package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Unisami/ProspectAI-sub000/internal/cache"
	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/ratelimit"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func testRouter(t *testing.T) (http.Handler, *store.Memory, *Handlers) {
	t.Helper()
	mem := store.NewMemory()
	h := NewHandlers(store.WithBackend(mem))
	return SetupRoutes(h), mem, h
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var payload map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func TestHealthCheck(t *testing.T) {
	router, _, _ := testRouter(t)
	rec, payload := doJSON(t, router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", payload["status"])
	assert.Equal(t, "ok", payload["storage"])
	assert.Equal(t, "prospectai", rec.Header().Get("X-Server-Identity"))
}

func TestGetCampaign(t *testing.T) {
	router, mem, _ := testRouter(t)
	require.NoError(t, mem.UpsertCampaign(context.Background(), &domain.CampaignProgress{
		ID:             "c-1",
		Name:           "spring-launch",
		Status:         domain.CampaignRunning,
		StartedAt:      time.Now().UTC(),
		TargetCount:    10,
		ProcessedCount: 4,
	}))

	rec, payload := doJSON(t, router, http.MethodGet, "/api/campaigns/c-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "spring-launch", payload["name"])
	assert.Equal(t, string(domain.CampaignRunning), payload["status"])

	rec, _ = doJSON(t, router, http.MethodGet, "/api/campaigns/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostControlAppendsDurableCommand(t *testing.T) {
	router, mem, _ := testRouter(t)
	st := store.WithBackend(mem)
	require.NoError(t, mem.UpsertCampaign(context.Background(), &domain.CampaignProgress{
		ID:        "c-1",
		Name:      "spring-launch",
		Status:    domain.CampaignRunning,
		StartedAt: time.Now().UTC().Add(-time.Minute),
	}))

	rec, payload := doJSON(t, router, http.MethodPost, "/api/campaigns/c-1/control",
		`{"action":"pause","requested_by":"ops"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pause", payload["action"])

	cmds, err := st.ReadControlCommands(context.Background(), "c-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, domain.ControlPause, cmds[0].Action)
	assert.Equal(t, "ops", cmds[0].RequestedBy)
}

func TestPostControlValidation(t *testing.T) {
	router, mem, _ := testRouter(t)
	require.NoError(t, mem.UpsertCampaign(context.Background(), &domain.CampaignProgress{
		ID: "c-1", Name: "n", Status: domain.CampaignRunning, StartedAt: time.Now(),
	}))

	rec, _ := doJSON(t, router, http.MethodPost, "/api/campaigns/c-1/control", `{"action":"explode"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/api/campaigns/c-1/control", `{"action":"insert_priority"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "insert without a company must be rejected")

	rec, _ = doJSON(t, router, http.MethodPost, "/api/campaigns/ghost/control", `{"action":"pause"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/api/campaigns/c-1/control", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSystemStatusMirrorsToStore(t *testing.T) {
	router, mem, h := testRouter(t)
	c, err := cache.New(cache.Config{MaxEntries: 16, MaxBytes: 1 << 20})
	require.NoError(t, err)
	h.SetCache(c)

	rec, payload := doJSON(t, router, http.MethodGet, "/api/system/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	components, ok := payload["components"].([]interface{})
	require.True(t, ok)
	names := make([]string, 0, len(components))
	for _, comp := range components {
		m := comp.(map[string]interface{})
		names = append(names, m["component"].(string))
	}
	assert.Contains(t, names, "storage")
	assert.Contains(t, names, "cache")

	// The report doubles as the dashboard heartbeat.
	assert.NotEmpty(t, mem.SystemStatuses())
}

func TestGetCacheStats(t *testing.T) {
	router, _, h := testRouter(t)

	rec, _ := doJSON(t, router, http.MethodGet, "/api/cache/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no cache wired")

	c, err := cache.New(cache.Config{MaxEntries: 16, MaxBytes: 1 << 20})
	require.NoError(t, err)
	c.Set("k", []byte("v"), time.Minute)
	c.Get("k")
	h.SetCache(c)

	rec, payload := doJSON(t, router, http.MethodGet, "/api/cache/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, payload["hits"])
	assert.EqualValues(t, 1, payload["entries"])
}

func TestGetLimits(t *testing.T) {
	router, _, h := testRouter(t)

	rec, _ := doJSON(t, router, http.MethodGet, "/api/limits", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no limiter wired")

	h.SetLimiter(ratelimit.New(map[string]ratelimit.ServiceConfig{
		"hunter": {PerMinute: 10, PerDay: 500},
	}))

	rec, payload := doJSON(t, router, http.MethodGet, "/api/limits", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	services, ok := payload["services"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, services, "hunter")
}

func TestServerStartAndShutdown(t *testing.T) {
	mem := store.NewMemory()
	h := NewHandlers(store.WithBackend(mem))
	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, h)
	srv.Start()

	// Port 0 binds an ephemeral port; reaching it is not the point here,
	// only that startup and shutdown are clean.
	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
