package campaign

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

func seedProspect(t *testing.T, st *store.Store, name, company, email string, gen domain.GenerationStatus) string {
	t.Helper()
	p := &domain.Prospect{Name: name, Company: company, Role: "Founder", Email: email}
	if gen == domain.GenerationGenerated {
		p.EmailSubject = "Hello from " + company
		p.EmailBody = "A draft waiting to be sent."
		p.GenerationStatus = gen
	}
	id, err := st.UpsertProspect(context.Background(), p)
	require.NoError(t, err)
	return id
}

func TestProcessCompanyForcesReprocessing(t *testing.T) {
	st := store.WithBackend(store.NewMemory())
	// Acme already has a prospect; a normal run would dedup it away.
	seedProspect(t, st, "Old Hand", "Acme", "", domain.GenerationNotGenerated)

	team := newFakeTeam()
	team.set("Acme", "Jane Doe")
	o := New(fullDeps(st, staticFeed(), team), testConfig())

	sum, err := o.ProcessCompany(context.Background(), co("Acme", "acme.io"), Request{})
	require.NoError(t, err)

	assert.Equal(t, domain.CampaignCompleted, sum.Progress.Status)
	assert.Equal(t, "company-acme", sum.Progress.Name)
	assert.Equal(t, 1, sum.Progress.ProcessedCount)
	assert.Zero(t, sum.Skipped, "forced runs bypass dedup")
	assert.Equal(t, 1, team.callCount("Acme"))
}

func TestProcessCompanyRequiresName(t *testing.T) {
	o := New(fullDeps(store.WithBackend(store.NewMemory()), staticFeed(), newFakeTeam()), testConfig())
	_, err := o.ProcessCompany(context.Background(), domain.Company{}, Request{})
	require.Error(t, err)
	assert.Equal(t, errkind.Config, errkind.Of(err))
}

func TestGenerateRecentDraftsOnlyPendingProspects(t *testing.T) {
	st := store.WithBackend(store.NewMemory())
	a := seedProspect(t, st, "Jane Doe", "Acme", "jane@acme.io", domain.GenerationNotGenerated)
	b := seedProspect(t, st, "John Roe", "Beta", "john@beta.dev", domain.GenerationNotGenerated)
	seedProspect(t, st, "Done Deal", "Gamma", "done@gamma.app", domain.GenerationGenerated)

	o := New(Deps{Store: st, AI: &fakeAI{}}, testConfig())
	n, err := o.GenerateRecent(context.Background(), 10, domain.TemplateColdOutreach)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{a, b} {
		prospects, ferr := st.FindProspects(context.Background(), store.Filter{GenerationStatus: domain.GenerationGenerated})
		require.NoError(t, ferr)
		var found bool
		for _, p := range prospects {
			if p.ID == id {
				found = true
				assert.NotEmpty(t, p.EmailSubject)
				assert.NotEmpty(t, p.EmailBody)
				require.NotNil(t, p.GeneratedAt)
			}
		}
		assert.True(t, found, "prospect %s should carry a draft", id)
	}
}

func TestGenerateRecentRequiresAI(t *testing.T) {
	o := New(Deps{Store: store.WithBackend(store.NewMemory())}, testConfig())
	_, err := o.GenerateRecent(context.Background(), 5, domain.TemplateColdOutreach)
	require.Error(t, err)
	assert.Equal(t, errkind.Config, errkind.Of(err))
}

func TestGenerateForSkipsUnknownIDs(t *testing.T) {
	st := store.WithBackend(store.NewMemory())
	id := seedProspect(t, st, "Jane Doe", "Acme", "jane@acme.io", domain.GenerationNotGenerated)

	o := New(Deps{Store: st, AI: &fakeAI{}}, testConfig())
	n, err := o.GenerateFor(context.Background(), []string{id, "does-not-exist"}, domain.TemplateNetworking)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGenerateMarksHardFailures(t *testing.T) {
	st := store.WithBackend(store.NewMemory())
	seedProspect(t, st, "Jane Doe", "Acme", "jane@acme.io", domain.GenerationNotGenerated)

	bad := &fakeAI{genErr: errkind.Newf(errkind.Parse, "ai", "generate_email", "unrepairable payload")}
	o := New(Deps{Store: st, AI: bad}, testConfig())
	n, err := o.GenerateRecent(context.Background(), 5, domain.TemplateColdOutreach)
	require.NoError(t, err, "a per-prospect failure does not fail the batch")
	assert.Zero(t, n)

	failed, err := st.FindProspects(context.Background(), store.Filter{GenerationStatus: domain.GenerationFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Empty(t, failed[0].EmailBody)
}

func TestSendRecentDeliversGeneratedDrafts(t *testing.T) {
	st := store.WithBackend(store.NewMemory())
	seedProspect(t, st, "Jane Doe", "Acme", "jane@acme.io", domain.GenerationGenerated)
	seedProspect(t, st, "John Roe", "Beta", "john@beta.dev", domain.GenerationGenerated)
	// No address: the sender reports it skipped, not failed.
	noEmail := seedProspect(t, st, "Quiet Type", "Gamma", "", domain.GenerationGenerated)

	sender := &fakeSender{}
	o := New(Deps{Store: st, Sender: sender}, testConfig())
	sent, err := o.SendRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 2, sender.sentCount())

	delivered, err := st.FindProspects(context.Background(), store.Filter{DeliveryStatus: domain.DeliverySent})
	require.NoError(t, err)
	assert.Len(t, delivered, 2)
	for _, p := range delivered {
		assert.Equal(t, domain.GenerationSent, p.GenerationStatus)
		require.NotNil(t, p.SentAt)
	}

	waiting, err := st.FindProspects(context.Background(), store.Filter{GenerationStatus: domain.GenerationGenerated})
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, noEmail, waiting[0].ID)
}

func TestSendRecentRequiresSender(t *testing.T) {
	o := New(Deps{Store: store.WithBackend(store.NewMemory())}, testConfig())
	_, err := o.SendRecent(context.Background(), 5)
	require.Error(t, err)
	assert.Equal(t, errkind.Config, errkind.Of(err))
}

func TestSendRecentWithNothingToSend(t *testing.T) {
	o := New(Deps{Store: store.WithBackend(store.NewMemory()), Sender: &fakeSender{}}, testConfig())
	sent, err := o.SendRecent(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, sent)
}
