package domain

import "time"

// ComponentHealth enumerates the health states a component reports.
type ComponentHealth string

const (
	HealthHealthy ComponentHealth = "healthy"
	HealthWarning ComponentHealth = "warning"
	HealthError   ComponentHealth = "error"
	HealthOffline ComponentHealth = "offline"
)

// SystemStatus is one component's heartbeat row on the dashboard,
// overwritten in place on every report.
type SystemStatus struct {
	Component      string          `json:"component"`
	Status         ComponentHealth `json:"status"`
	LastUpdate     time.Time       `json:"last_update"`
	QuotaUsed      float64         `json:"quota_used"`
	ErrorCount24h  int             `json:"error_count_24h"`
	SuccessRate24h float64         `json:"success_rate_24h"`
	Details        string          `json:"details,omitempty"`
}
