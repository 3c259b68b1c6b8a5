package campaign

import (
	"fmt"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
)

// Action is one input to the campaign state machine.
type Action string

const (
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionStop     Action = "stop"
	ActionComplete Action = "complete"
	ActionFail     Action = "fail"
)

// transitions is the campaign lifecycle table. Stop maps to Failed;
// a run that already drained its queue completes instead, so the caller
// picks ActionComplete in that case.
var transitions = map[domain.CampaignStatus]map[Action]domain.CampaignStatus{
	domain.CampaignNotStarted: {
		ActionStart: domain.CampaignRunning,
	},
	domain.CampaignRunning: {
		ActionPause:    domain.CampaignPaused,
		ActionStop:     domain.CampaignFailed,
		ActionComplete: domain.CampaignCompleted,
		ActionFail:     domain.CampaignFailed,
	},
	domain.CampaignPaused: {
		ActionResume:   domain.CampaignRunning,
		ActionStop:     domain.CampaignFailed,
		ActionComplete: domain.CampaignCompleted,
		ActionFail:     domain.CampaignFailed,
	},
}

// Transition applies action to a status. Combinations outside the table
// return an error and leave the status unchanged; terminal states accept
// nothing.
func Transition(from domain.CampaignStatus, action Action) (domain.CampaignStatus, error) {
	if next, ok := transitions[from][action]; ok {
		return next, nil
	}
	return from, fmt.Errorf("invalid campaign transition: %s on %s", action, from)
}
