package campaign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
)

func TestTransitionLifecycle(t *testing.T) {
	valid := []struct {
		from   domain.CampaignStatus
		action Action
		want   domain.CampaignStatus
	}{
		{domain.CampaignNotStarted, ActionStart, domain.CampaignRunning},
		{domain.CampaignRunning, ActionPause, domain.CampaignPaused},
		{domain.CampaignPaused, ActionResume, domain.CampaignRunning},
		{domain.CampaignRunning, ActionStop, domain.CampaignFailed},
		{domain.CampaignPaused, ActionStop, domain.CampaignFailed},
		{domain.CampaignRunning, ActionComplete, domain.CampaignCompleted},
		{domain.CampaignPaused, ActionComplete, domain.CampaignCompleted},
		{domain.CampaignRunning, ActionFail, domain.CampaignFailed},
		{domain.CampaignPaused, ActionFail, domain.CampaignFailed},
	}
	for _, tc := range valid {
		got, err := Transition(tc.from, tc.action)
		require.NoError(t, err, "%s on %s", tc.action, tc.from)
		assert.Equal(t, tc.want, got)
	}
}

func TestTransitionRejectsInvalidCombinations(t *testing.T) {
	invalid := []struct {
		from   domain.CampaignStatus
		action Action
	}{
		{domain.CampaignNotStarted, ActionPause},
		{domain.CampaignNotStarted, ActionResume},
		{domain.CampaignNotStarted, ActionComplete},
		{domain.CampaignRunning, ActionStart},
		{domain.CampaignRunning, ActionResume},
		{domain.CampaignPaused, ActionPause},
	}
	for _, tc := range invalid {
		got, err := Transition(tc.from, tc.action)
		require.Error(t, err, "%s on %s", tc.action, tc.from)
		// The status must be left untouched on a rejected transition.
		assert.Equal(t, tc.from, got)
	}
}

func TestTransitionTerminalStatesAcceptNothing(t *testing.T) {
	actions := []Action{ActionStart, ActionPause, ActionResume, ActionStop, ActionComplete, ActionFail}
	for _, terminal := range []domain.CampaignStatus{domain.CampaignCompleted, domain.CampaignFailed} {
		for _, action := range actions {
			got, err := Transition(terminal, action)
			require.Error(t, err, "%s on %s", action, terminal)
			assert.Equal(t, terminal, got)
		}
	}
}
