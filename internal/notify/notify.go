// Package notify turns pipeline lifecycle events into operator-facing
// notifications. Every event is formatted as a plain-text message and
// appended to the processing log through the Store, so notifications
// land on the same dashboard the pipeline already writes to.
//
// Delivery is best-effort by contract: a failed post is logged and
// dropped, and no Send method returns an error. A campaign never fails
// because its completion notice could not be written.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

// Priority orders events for the min_priority config filter.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the config-file spelling of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// ParsePriority maps a config-file spelling back to a Priority.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, true
	case "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "critical":
		return PriorityCritical, true
	}
	return PriorityLow, false
}

// Event names one notification kind.
type Event string

const (
	EventCampaignCompleted Event = "campaign_completed"
	EventCampaignFailed    Event = "campaign_failed"
	EventDailySummary      Event = "daily_summary"
	EventErrorAlert        Event = "error_alert"
	EventWeeklyReport      Event = "weekly_report"
	EventQuotaWarning      Event = "quota_warning"
)

// Priority returns the built-in priority of the event. Digests are low,
// operational alerts high, and a failed campaign is always critical.
func (e Event) Priority() Priority {
	switch e {
	case EventCampaignFailed:
		return PriorityCritical
	case EventErrorAlert, EventQuotaWarning:
		return PriorityHigh
	case EventCampaignCompleted:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Notifier formats lifecycle events and posts them through the Store.
type Notifier struct {
	store  *store.Store
	cfg    config.NotificationsConfig
	min    Priority
	events map[Event]struct{} // nil means every event passes
}

// New builds a Notifier from the notifications config. An unknown
// min_priority falls back to low; an empty events list allows all.
func New(st *store.Store, cfg config.NotificationsConfig) *Notifier {
	n := &Notifier{store: st, cfg: cfg}
	if p, ok := ParsePriority(cfg.MinPriority); ok {
		n.min = p
	} else if strings.TrimSpace(cfg.MinPriority) != "" {
		log.Printf("[Notifier] unknown min_priority %q, defaulting to low", cfg.MinPriority)
	}
	if len(cfg.Events) > 0 {
		n.events = make(map[Event]struct{}, len(cfg.Events))
		for _, e := range cfg.Events {
			n.events[Event(strings.ToLower(strings.TrimSpace(e)))] = struct{}{}
		}
	}
	return n
}

// SendCampaignCompleted posts the end-of-run summary for a campaign
// that reached a terminal state on its own.
func (n *Notifier) SendCampaignCompleted(ctx context.Context, prog *domain.CampaignProgress) {
	subject := fmt.Sprintf("[Campaign] %s completed — %d prospects, %d emails sent",
		prog.Name, prog.ProspectsFound, prog.EmailsSent)

	ended := time.Now().UTC()
	if prog.EndedAt != nil {
		ended = *prog.EndedAt
	}

	body := fmt.Sprintf(`Campaign Completed
==================

Campaign:      %s (%s)
Started:       %s
Ended:         %s
Duration:      %s

Companies:     %d of %d processed
Prospects:     %d found
Emails:        %d generated, %d sent
Success Rate:  %.1f%%
Errors:        %d

---
This is an automated notification from the ProspectAI pipeline.
`,
		prog.Name, prog.ID,
		prog.StartedAt.UTC().Format(time.RFC3339),
		ended.Format(time.RFC3339),
		ended.Sub(prog.StartedAt).Round(time.Second),
		prog.ProcessedCount, prog.TargetCount,
		prog.ProspectsFound,
		prog.EmailsGenerated, prog.EmailsSent,
		prog.SuccessRate*100,
		prog.ErrorCount)

	n.post(ctx, EventCampaignCompleted, prog.ID, subject, body, "")
}

// SendCampaignFailed posts a critical notice for a campaign that was
// aborted. cause is the error that ended the run.
func (n *Notifier) SendCampaignFailed(ctx context.Context, prog *domain.CampaignProgress, cause error) {
	subject := fmt.Sprintf("CAMPAIGN FAILED: %s — %v", prog.Name, cause)

	body := fmt.Sprintf(`Campaign Failed
===============

Campaign:   %s (%s)
Started:    %s
Failed At:  %s
Cause:      %v

Progress at failure:
  Companies:  %d of %d processed
  Prospects:  %d found
  Emails:     %d generated, %d sent
  Errors:     %d

The run stopped before reaching its target. Companies already processed
are recorded and will be skipped when the campaign is re-run.

---
This is an automated notification from the ProspectAI pipeline.
`,
		prog.Name, prog.ID,
		prog.StartedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		cause,
		prog.ProcessedCount, prog.TargetCount,
		prog.ProspectsFound,
		prog.EmailsGenerated, prog.EmailsSent,
		prog.ErrorCount)

	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	n.post(ctx, EventCampaignFailed, prog.ID, subject, body, errText)
}

// SendDailySummary posts the daily rollup digest.
func (n *Notifier) SendDailySummary(ctx context.Context, day *domain.DailyAnalytics) {
	subject := fmt.Sprintf("[Daily] %s — %d companies, %d emails sent",
		day.Date, day.CompaniesProcessed, day.EmailsSent)

	body := fmt.Sprintf(`Daily Summary
=============

Date:                %s

Campaigns Run:       %d
Companies Processed: %d
Prospects Found:     %d
Emails Found:        %d
Emails Generated:    %d
Emails Sent:         %d
Errors:              %d
Success Rate:        %.1f%%
Est. API Calls:      %d

---
This is an automated notification from the ProspectAI pipeline.
`,
		day.Date,
		day.CampaignsRun,
		day.CompaniesProcessed,
		day.ProspectsFound,
		day.EmailsFound,
		day.EmailsGenerated,
		day.EmailsSent,
		day.ErrorCount,
		day.SuccessRate*100,
		day.APICallEstimate)

	n.post(ctx, EventDailySummary, "", subject, body, "")
}

// SendWeeklyReport posts a digest over the given days, oldest first.
func (n *Notifier) SendWeeklyReport(ctx context.Context, days []domain.DailyAnalytics) {
	first, last := "—", "—"
	if len(days) > 0 {
		first, last = days[0].Date, days[len(days)-1].Date
	}

	var totalCompanies, totalProspects, totalSent, totalErrors int
	lines := make([]string, 0, len(days))
	for _, d := range days {
		totalCompanies += d.CompaniesProcessed
		totalProspects += d.ProspectsFound
		totalSent += d.EmailsSent
		totalErrors += d.ErrorCount
		lines = append(lines, fmt.Sprintf("  %s   companies %3d   prospects %3d   sent %3d   errors %2d",
			d.Date, d.CompaniesProcessed, d.ProspectsFound, d.EmailsSent, d.ErrorCount))
	}
	if len(lines) == 0 {
		lines = append(lines, "  (no activity recorded)")
	}

	subject := fmt.Sprintf("[Weekly] %s to %s — %d emails sent", first, last, totalSent)

	body := fmt.Sprintf(`Weekly Report
=============

Period:      %s to %s
Companies:   %d processed
Prospects:   %d found
Emails Sent: %d
Errors:      %d

By day:
%s

---
This is an automated notification from the ProspectAI pipeline.
`,
		first, last,
		totalCompanies,
		totalProspects,
		totalSent,
		totalErrors,
		strings.Join(lines, "\n"))

	n.post(ctx, EventWeeklyReport, "", subject, body, "")
}

// SendErrorAlert posts a high-priority notice for a component failure
// that the pipeline survived but an operator should look at.
func (n *Notifier) SendErrorAlert(ctx context.Context, component, op string, cause error) {
	subject := fmt.Sprintf("[Error] %s: %s — %v", component, op, cause)

	body := fmt.Sprintf(`Error Alert
===========

Component:  %s
Operation:  %s
Time:       %s
Error:      %v

---
This is an automated notification from the ProspectAI pipeline.
`,
		component,
		op,
		time.Now().UTC().Format(time.RFC3339),
		cause)

	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	n.post(ctx, EventErrorAlert, "", subject, body, errText)
}

// SendQuotaWarning posts a high-priority notice that a metered service
// is close to (or past) its quota.
func (n *Notifier) SendQuotaWarning(ctx context.Context, service string, used, limit int) {
	pct := 0
	if limit > 0 {
		pct = used * 100 / limit
	}
	subject := fmt.Sprintf("[Quota] %s at %d%% (%d of %d)", service, pct, used, limit)

	body := fmt.Sprintf(`Quota Warning
=============

Service:    %s
Used:       %d
Limit:      %d
Remaining:  %d

Requests beyond the limit will fail until the quota resets. Consider
lowering the campaign target or pausing until the reset.

---
This is an automated notification from the ProspectAI pipeline.
`,
		service,
		used,
		limit,
		limit-used)

	n.post(ctx, EventQuotaWarning, "", subject, body, "")
}

// stepNotification is the log step shared by every posted event, so the
// dashboard can filter notifications apart from pipeline steps.
const stepNotification = "notification"

// post is the single sink for every event. The subject becomes the log
// row's title column and the body its details, which keeps notifications
// readable in the same table the pipeline steps write to.
func (n *Notifier) post(ctx context.Context, ev Event, campaignID, subject, body, errText string) {
	if !n.cfg.IsEnabled() {
		log.Printf("[Notifier] would post %s: %s", ev, subject)
		return
	}
	if !n.wants(ev) {
		return
	}

	outcome := domain.OutcomeCompleted
	if errText != "" {
		outcome = domain.OutcomeFailed
	}
	entry := &domain.ProcessingLogEntry{
		Timestamp: time.Now().UTC(),
		Campaign:  campaignID,
		Company:   subject,
		Step:      stepNotification,
		Outcome:   outcome,
		Details:   body,
		Error:     errText,
	}
	if err := n.store.AppendLog(ctx, entry); err != nil {
		log.Printf("[Notifier] post error: %v (event: %s, subject: %s)", err, ev, subject)
	}
}

func (n *Notifier) wants(ev Event) bool {
	if ev.Priority() < n.min {
		return false
	}
	if n.events == nil {
		return true
	}
	_, ok := n.events[ev]
	return ok
}
