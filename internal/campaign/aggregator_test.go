package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

func runningProgress(id string) domain.CampaignProgress {
	return domain.CampaignProgress{
		ID:        id,
		Name:      "agg-test",
		Status:    domain.CampaignRunning,
		StartedAt: time.Now().UTC(),
	}
}

func TestAggregatorFoldsDeltasAndFlushes(t *testing.T) {
	st := store.WithBackend(store.NewMemory())
	a := newAggregator(st, runningProgress("cg-1"), nil)
	a.start()

	a.publish(delta{company: "Acme", step: stepTeam})
	a.publish(delta{processed: 1, successful: 1, prospects: 2})
	a.publish(delta{processed: 1, errors: 1})
	ended := time.Now().UTC()
	a.publish(delta{status: domain.CampaignCompleted, step: string(domain.CampaignCompleted), clearCompany: true, ended: &ended})
	a.stop()

	snap, successful := a.snapshot()
	assert.Equal(t, 2, snap.ProcessedCount)
	assert.Equal(t, 2, snap.ProspectsFound)
	assert.Equal(t, 1, snap.ErrorCount)
	assert.Equal(t, 1, successful)
	assert.InDelta(t, 0.5, snap.SuccessRate, 1e-9)
	assert.Empty(t, snap.CurrentCompany)
	assert.Equal(t, domain.CampaignCompleted, snap.Status)
	require.NotNil(t, snap.EndedAt)

	// The final flush must have landed in the store.
	rec, err := st.GetCampaign(context.Background(), "cg-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ProcessedCount)
	assert.Equal(t, domain.CampaignCompleted, rec.Status)
}

func TestAggregatorFlushesImmediatelyOnStatusChange(t *testing.T) {
	st := store.WithBackend(store.NewMemory())
	a := newAggregator(st, runningProgress("cg-2"), nil)
	a.start()
	defer a.stop()

	a.publish(delta{status: domain.CampaignPaused})

	assert.Eventually(t, func() bool {
		rec, err := st.GetCampaign(context.Background(), "cg-2")
		return err == nil && rec.Status == domain.CampaignPaused
	}, time.Second, 10*time.Millisecond, "status change was not flushed promptly")
}

func TestAggregatorKeepsCurrentCompanyUntilCleared(t *testing.T) {
	st := store.WithBackend(store.NewMemory())
	a := newAggregator(st, runningProgress("cg-3"), nil)
	a.start()

	a.publish(delta{company: "Acme", step: stepDedup})
	a.publish(delta{step: stepStore}) // step moves, company sticks
	a.publish(delta{clearCompany: true})
	a.stop()

	snap, _ := a.snapshot()
	assert.Equal(t, stepStore, snap.CurrentStep)
	assert.Empty(t, snap.CurrentCompany)
}

// campaignOutage fails every campaign write while the rest of the
// backend keeps working.
type campaignOutage struct {
	*store.Memory
}

func (b *campaignOutage) UpsertCampaign(ctx context.Context, progress *domain.CampaignProgress) error {
	return errkind.New(errkind.Transient, "store", "upsert_campaign", errors.New("backend down"))
}

func TestAggregatorDeclaresFatalAfterRepeatedFlushFailures(t *testing.T) {
	st := store.WithBackend(&campaignOutage{Memory: store.NewMemory()})
	fatal := make(chan error, 1)
	prog := runningProgress("cg-4")
	prog.Status = domain.CampaignNotStarted
	a := newAggregator(st, prog, func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})

	a.start()                                      // flush failure 1
	a.publish(delta{status: domain.CampaignRunning}) // 2
	a.publish(delta{status: domain.CampaignPaused})  // 3 crosses the limit

	select {
	case err := <-fatal:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("aggregator never declared the run fatal")
	}
	a.stop()
}
