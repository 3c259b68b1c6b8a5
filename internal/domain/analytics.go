package domain

import "time"

// DailyAnalytics is one day's rollup of pipeline activity, aggregated from
// processing-log entries and campaign counters. One record per calendar day,
// keyed by Date in "2006-01-02" form (UTC).
type DailyAnalytics struct {
	Date               string  `json:"date"`
	CampaignsRun       int     `json:"campaigns_run"`
	CompaniesProcessed int     `json:"companies_processed"`
	ProspectsFound     int     `json:"prospects_found"`
	EmailsFound        int     `json:"emails_found"`
	EmailsGenerated    int     `json:"emails_generated"`
	EmailsSent         int     `json:"emails_sent"`
	ErrorCount         int     `json:"error_count"`
	SuccessRate        float64 `json:"success_rate"`

	// APICallEstimate is a best-effort count of external API requests the
	// day's work issued. It informs quota planning and is never reconciled
	// against provider billing.
	APICallEstimate int `json:"api_call_estimate,omitempty"`
}

// DayKey formats t as the analytics date key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
