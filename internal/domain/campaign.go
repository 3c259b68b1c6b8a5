package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a discovery campaign.
type CampaignStatus string

const (
	CampaignNotStarted CampaignStatus = "not_started"
	CampaignRunning    CampaignStatus = "running"
	CampaignPaused     CampaignStatus = "paused"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignFailed     CampaignStatus = "failed"
)

// CampaignProgress is the dashboard-facing progress record for one campaign
// run. Counters are monotonic; the aggregator is the only writer.
type CampaignProgress struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Status CampaignStatus `json:"status"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	TargetCount     int     `json:"target_count"`
	ProcessedCount  int     `json:"processed_count"`
	ProspectsFound  int     `json:"prospects_found"`
	EmailsGenerated int     `json:"emails_generated"`
	EmailsSent      int     `json:"emails_sent"`
	SuccessRate     float64 `json:"success_rate"`

	CurrentStep    string `json:"current_step,omitempty"`
	CurrentCompany string `json:"current_company,omitempty"`
	ErrorCount     int    `json:"error_count"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *CampaignProgress) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed
}

// LogOutcome enumerates how a pipeline step ended.
type LogOutcome string

const (
	OutcomeStarted   LogOutcome = "started"
	OutcomeCompleted LogOutcome = "completed"
	OutcomeFailed    LogOutcome = "failed"
	OutcomeSkipped   LogOutcome = "skipped"
)

// ProcessingLogEntry is one append-only row of the processing audit trail.
type ProcessingLogEntry struct {
	Timestamp time.Time  `json:"timestamp"`
	Campaign  string     `json:"campaign"`
	Company   string     `json:"company"`
	Step      string     `json:"step"`
	Outcome   LogOutcome `json:"outcome"`
	Duration  float64    `json:"duration_seconds"`
	Details   string     `json:"details,omitempty"`
	Error     string     `json:"error,omitempty"`

	ProspectsFoundDelta int `json:"prospects_found_delta,omitempty"`
	EmailsFoundDelta    int `json:"emails_found_delta,omitempty"`
}
