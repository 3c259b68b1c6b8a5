package analytics

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
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

func endedProgress(ended time.Time, processed int, rate float64) *domain.CampaignProgress {
	return &domain.CampaignProgress{
		ID:              "camp-1",
		Name:            "run",
		Status:          domain.CampaignCompleted,
		StartedAt:       ended.Add(-time.Hour),
		EndedAt:         &ended,
		ProcessedCount:  processed,
		ProspectsFound:  processed * 2,
		EmailsGenerated: processed,
		EmailsSent:      processed - 1,
		SuccessRate:     rate,
		ErrorCount:      1,
	}
}

func TestRecordCampaignAccumulates(t *testing.T) {
	r := New(store.WithBackend(store.NewMemory()), nil, config.AnalyticsConfig{Enabled: true})
	ended := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	r.RecordCampaign(endedProgress(ended, 10, 1.0))
	r.RecordCampaign(endedProgress(ended.Add(time.Hour), 10, 0.5))

	day, ok := r.Day("2026-03-14")
	require.True(t, ok)
	assert.Equal(t, 2, day.CampaignsRun)
	assert.Equal(t, 20, day.CompaniesProcessed)
	assert.Equal(t, 40, day.ProspectsFound)
	assert.Equal(t, 20, day.EmailsGenerated)
	assert.Equal(t, 18, day.EmailsSent)
	assert.Equal(t, 2, day.ErrorCount)
	assert.InDelta(t, 0.75, day.SuccessRate, 1e-9)
	// 2 campaigns, 20 companies, 40 prospects.
	assert.Equal(t, 2*5+20*15+40*2, day.APICallEstimate)
}

func TestRecordLogOnlyCountsEmailDeltas(t *testing.T) {
	r := New(store.WithBackend(store.NewMemory()), nil, config.AnalyticsConfig{Enabled: true})
	ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	r.RecordLog(&domain.ProcessingLogEntry{Timestamp: ts, EmailsFoundDelta: 2})
	r.RecordLog(&domain.ProcessingLogEntry{Timestamp: ts, ProspectsFoundDelta: 3})

	day, ok := r.Day("2026-03-14")
	require.True(t, ok)
	assert.Equal(t, 2, day.EmailsFound)
	// Prospect counts come from campaign progress, never from log deltas.
	assert.Zero(t, day.ProspectsFound)
}

func TestDaysSortedAscending(t *testing.T) {
	r := New(store.WithBackend(store.NewMemory()), nil, config.AnalyticsConfig{Enabled: true})

	r.RecordCampaign(endedProgress(time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC), 1, 1.0))
	r.RecordCampaign(endedProgress(time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC), 1, 1.0))
	r.RecordCampaign(endedProgress(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC), 1, 1.0))

	days := r.Days()
	require.Len(t, days, 3)
	assert.Equal(t, "2026-03-13", days[0].Date)
	assert.Equal(t, "2026-03-14", days[1].Date)
	assert.Equal(t, "2026-03-15", days[2].Date)
}

func TestFlushPersistsThroughStore(t *testing.T) {
	mem := store.NewMemory()
	r := New(store.WithBackend(mem), nil, config.AnalyticsConfig{Enabled: true})
	ended := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	r.RecordCampaign(endedProgress(ended, 4, 1.0))

	require.NoError(t, r.Flush(context.Background(), "2026-03-14"))

	saved, ok := mem.DailyAnalyticsFor("2026-03-14")
	require.True(t, ok)
	assert.Equal(t, 4, saved.CompaniesProcessed)

	// A day with no recorded activity is skipped, not zero-written.
	require.NoError(t, r.Flush(context.Background(), "2020-01-01"))
	_, ok = mem.DailyAnalyticsFor("2020-01-01")
	assert.False(t, ok)
}

func TestFlushDisabledIsNoOp(t *testing.T) {
	mem := store.NewMemory()
	r := New(store.WithBackend(mem), nil, config.AnalyticsConfig{Enabled: false})
	r.RecordCampaign(endedProgress(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC), 4, 1.0))

	require.NoError(t, r.Flush(context.Background(), "2026-03-14"))
	_, ok := mem.DailyAnalyticsFor("2026-03-14")
	assert.False(t, ok)

	// Accumulation still works for digests.
	day, ok := r.Day("2026-03-14")
	require.True(t, ok)
	assert.Equal(t, 4, day.CompaniesProcessed)
}

func TestRecordCampaignConcurrent(t *testing.T) {
	r := New(store.WithBackend(store.NewMemory()), nil, config.AnalyticsConfig{Enabled: true})
	ended := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordCampaign(endedProgress(ended, 2, 1.0))
		}()
	}
	wg.Wait()

	day, ok := r.Day("2026-03-14")
	require.True(t, ok)
	assert.Equal(t, 8, day.CampaignsRun)
	assert.Equal(t, 16, day.CompaniesProcessed)
}

type capturedPut struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	bodies [][]byte
}

func (c *capturedPut) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, in)
	c.bodies = append(c.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveWritesDatePartitionedJSON(t *testing.T) {
	fake := &capturedPut{}
	a := &Archiver{client: fake, bucket: "prospect-analytics"}

	day := &domain.DailyAnalytics{Date: "2026-03-14", CompaniesProcessed: 7, EmailsSent: 3}
	require.NoError(t, a.Archive(context.Background(), day))

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "prospect-analytics", *in.Bucket)
	assert.Equal(t, "analytics/2026/03/14/summary.json", *in.Key)
	assert.Equal(t, "application/json", *in.ContentType)

	var got domain.DailyAnalytics
	require.NoError(t, json.Unmarshal(fake.bodies[0], &got))
	assert.Equal(t, *day, got)
}

func TestNewArchiverWithoutBucket(t *testing.T) {
	a, err := NewArchiver(context.Background(), config.AnalyticsConfig{}, config.AWSConfig{})
	require.NoError(t, err)
	assert.Nil(t, a)
}
