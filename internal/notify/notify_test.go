package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newNotifier(cfg config.NotificationsConfig) (*Notifier, *store.Memory) {
	mem := store.NewMemory()
	return New(store.WithBackend(mem), cfg), mem
}

func sampleProgress() *domain.CampaignProgress {
	ended := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	return &domain.CampaignProgress{
		ID:              "camp-1",
		Name:            "spring-outreach",
		Status:          domain.CampaignCompleted,
		StartedAt:       ended.Add(-25 * time.Minute),
		EndedAt:         &ended,
		TargetCount:     10,
		ProcessedCount:  10,
		ProspectsFound:  14,
		EmailsGenerated: 12,
		EmailsSent:      9,
		SuccessRate:     0.9,
		ErrorCount:      1,
	}
}

func TestCampaignCompletedPostsLogEntry(t *testing.T) {
	n, mem := newNotifier(config.NotificationsConfig{})

	n.SendCampaignCompleted(context.Background(), sampleProgress())

	logs := mem.Logs()
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Equal(t, stepNotification, entry.Step)
	assert.Equal(t, domain.OutcomeCompleted, entry.Outcome)
	assert.Equal(t, "camp-1", entry.Campaign)
	assert.Contains(t, entry.Company, "spring-outreach completed")
	assert.Contains(t, entry.Company, "9 emails sent")
	assert.Contains(t, entry.Details, "Campaign Completed")
	assert.Contains(t, entry.Details, "10 of 10 processed")
	assert.Contains(t, entry.Details, "90.0%")
	assert.Contains(t, entry.Details, "Duration:      25m0s")
	assert.Empty(t, entry.Error)
}

func TestCampaignFailedCarriesCause(t *testing.T) {
	n, mem := newNotifier(config.NotificationsConfig{})

	n.SendCampaignFailed(context.Background(), sampleProgress(), errors.New("store unreachable"))

	logs := mem.Logs()
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Equal(t, domain.OutcomeFailed, entry.Outcome)
	assert.Equal(t, "store unreachable", entry.Error)
	assert.Contains(t, entry.Company, "CAMPAIGN FAILED: spring-outreach")
	assert.Contains(t, entry.Details, "will be skipped when the campaign is re-run")
}

func TestDisabledNotifierPostsNothing(t *testing.T) {
	off := false
	n, mem := newNotifier(config.NotificationsConfig{Enabled: &off})

	n.SendCampaignCompleted(context.Background(), sampleProgress())
	n.SendErrorAlert(context.Background(), "hunter", "domain-search", errors.New("timeout"))

	assert.Empty(t, mem.Logs())
}

func TestMinPriorityFiltersDigests(t *testing.T) {
	n, mem := newNotifier(config.NotificationsConfig{MinPriority: "high"})

	n.SendDailySummary(context.Background(), &domain.DailyAnalytics{Date: "2026-03-14"})
	n.SendCampaignCompleted(context.Background(), sampleProgress())
	require.Empty(t, mem.Logs())

	n.SendErrorAlert(context.Background(), "hunter", "domain-search", errors.New("timeout"))
	n.SendCampaignFailed(context.Background(), sampleProgress(), errors.New("aborted"))
	assert.Len(t, mem.Logs(), 2)
}

func TestEventAllowListFilters(t *testing.T) {
	n, mem := newNotifier(config.NotificationsConfig{Events: []string{" Quota_Warning "}})

	n.SendCampaignCompleted(context.Background(), sampleProgress())
	require.Empty(t, mem.Logs())

	n.SendQuotaWarning(context.Background(), "hunter", 17, 20)
	logs := mem.Logs()
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Company, "[Quota] hunter at 85% (17 of 20)")
	assert.Contains(t, logs[0].Details, "Remaining:  3")
}

func TestWeeklyReportAggregates(t *testing.T) {
	n, mem := newNotifier(config.NotificationsConfig{})

	n.SendWeeklyReport(context.Background(), []domain.DailyAnalytics{
		{Date: "2026-03-09", CompaniesProcessed: 4, ProspectsFound: 6, EmailsSent: 3, ErrorCount: 1},
		{Date: "2026-03-10", CompaniesProcessed: 2, ProspectsFound: 1, EmailsSent: 1},
	})

	logs := mem.Logs()
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Contains(t, entry.Company, "[Weekly] 2026-03-09 to 2026-03-10 — 4 emails sent")
	assert.Contains(t, entry.Details, "Companies:   6 processed")
	assert.Contains(t, entry.Details, "2026-03-09")
	assert.Contains(t, entry.Details, "2026-03-10")
}

func TestWeeklyReportWithNoDays(t *testing.T) {
	n, mem := newNotifier(config.NotificationsConfig{})

	n.SendWeeklyReport(context.Background(), nil)

	logs := mem.Logs()
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Details, "(no activity recorded)")
}

func TestEventPriorities(t *testing.T) {
	tests := []struct {
		event Event
		want  Priority
	}{
		{EventCampaignFailed, PriorityCritical},
		{EventErrorAlert, PriorityHigh},
		{EventQuotaWarning, PriorityHigh},
		{EventCampaignCompleted, PriorityNormal},
		{EventDailySummary, PriorityLow},
		{EventWeeklyReport, PriorityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.Priority(), "event %s", tt.event)
	}
}

func TestParsePriority(t *testing.T) {
	p, ok := ParsePriority(" Critical ")
	assert.True(t, ok)
	assert.Equal(t, PriorityCritical, p)

	_, ok = ParsePriority("urgent")
	assert.False(t, ok)

	_, ok = ParsePriority("")
	assert.False(t, ok)
}

type failingBackend struct {
	*store.Memory
}

func (f failingBackend) AppendLog(ctx context.Context, entry *domain.ProcessingLogEntry) error {
	return errors.New("backend down")
}

func TestPostErrorsAreSwallowed(t *testing.T) {
	n := New(store.WithBackend(failingBackend{store.NewMemory()}), config.NotificationsConfig{})

	// Must not panic or surface the backend failure.
	n.SendCampaignCompleted(context.Background(), sampleProgress())
	n.SendQuotaWarning(context.Background(), "hunter", 19, 20)
}
