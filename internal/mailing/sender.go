// Package mailing prepares and dispatches outreach email.
//
// The provider adapters are split into individual files:
//   - esp_resend.go: Resend REST API, with delivery tracking
//   - esp_ses.go:    AWS SES v2 via the SDK
//
// The Sender owns everything provider-independent: sanitization, greeting
// and signature injection, the HTML wrapper, and batch pacing.
package mailing

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/logger"
)

// ESPSender delivers one prepared message through a provider.
type ESPSender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// DeliveryTracker is implemented by providers that can report post-send
// delivery state on request. SES publishes events through SNS instead, so
// only the REST provider implements it.
type DeliveryTracker interface {
	Track(ctx context.Context, providerID string) (*domain.DeliveryEvent, error)
}

// Outcome pairs a prospect with what happened to its message.
type Outcome struct {
	ProspectID string
	Email      string
	Skipped    bool
	Reason     string
	Result     *domain.SendResult
}

// Sender turns prospects with generated emails into delivered messages.
type Sender struct {
	esp       ESPSender
	templates *TemplateService
	cfg       config.EmailConfig
}

// NewSender wires a provider adapter and template service to the sending
// policy from configuration.
func NewSender(esp ESPSender, templates *TemplateService, cfg config.EmailConfig) *Sender {
	return &Sender{esp: esp, templates: templates, cfg: cfg}
}

// BuildMessage assembles the wire message for a prospect's generated
// email: greeting and signature injected when missing, plain body kept as
// the text part, HTML part rendered through the layout template.
func (s *Sender) BuildMessage(campaignID string, p *domain.Prospect) (*domain.EmailMessage, error) {
	if p.Email == "" {
		return nil, errkind.Newf(errkind.Permanent, "mailing", "build", "prospect %q has no email address", p.Name)
	}
	if p.EmailSubject == "" || p.EmailBody == "" {
		return nil, errkind.Newf(errkind.Permanent, "mailing", "build", "prospect %q has no generated email", p.Name)
	}

	body := strings.TrimSpace(p.EmailBody)
	if !hasGreeting(body) {
		greeting, err := s.templates.Render("outreach_greeting", greetingTemplate, map[string]interface{}{
			"name": p.Name,
		})
		if err != nil {
			return nil, errkind.New(errkind.Permanent, "mailing", "build", err)
		}
		body = greeting + "\n\n" + body
	}
	if !hasSignoff(body, s.cfg.SenderName) {
		signature, err := s.templates.Render("outreach_signature", signatureTemplate, map[string]interface{}{
			"sender_name": s.cfg.SenderName,
		})
		if err != nil {
			return nil, errkind.New(errkind.Permanent, "mailing", "build", err)
		}
		body = body + "\n\n" + signature
	}

	htmlDoc, err := s.templates.Render("outreach_layout", defaultLayout, map[string]interface{}{
		"preview":   firstBodyLine(body),
		"body_html": htmlFromPlain(body),
	})
	if err != nil {
		return nil, errkind.New(errkind.Permanent, "mailing", "build", err)
	}

	// The message id doubles as the provider idempotency key, so it must
	// be stable across retries for the same prospect.
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &domain.EmailMessage{
		ID:          id,
		CampaignID:  campaignID,
		ProspectID:  p.ID,
		Email:       p.Email,
		ToName:      p.Name,
		FromName:    s.cfg.SenderName,
		FromEmail:   s.cfg.SenderAddress,
		ReplyTo:     s.cfg.ReplyTo,
		Subject:     p.EmailSubject,
		HTMLContent: htmlDoc,
		TextContent: body,
		Provider:    domain.ProviderType(s.cfg.Provider),
	}, nil
}

// Send sanitizes and dispatches one message. The sanitizer's field diff
// rides on the result rather than failing the send.
func (s *Sender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	sanitized := sanitizeMessage(msg)
	if len(sanitized) > 0 {
		log.Printf("[Sender] sanitized %s for %s", strings.Join(sanitized, ", "), logger.RedactEmail(msg.Email))
	}
	if err := validateMessage(msg); err != nil {
		return nil, err
	}

	result, err := s.esp.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	result.Sanitized = sanitized
	return result, nil
}

// SendBatch dispatches messages in batches with a pause between them.
// Per-request rate limiting lives in the adapters; the inter-batch delay
// spreads a long run out over time. Results align with msgs up to the
// point of cancellation.
func (s *Sender) SendBatch(ctx context.Context, msgs []*domain.EmailMessage, batchSize int, delay time.Duration) ([]domain.SendResult, error) {
	if batchSize <= 0 {
		batchSize = len(msgs)
	}

	results := make([]domain.SendResult, 0, len(msgs))
	for start := 0; start < len(msgs); start += batchSize {
		if start > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return results, errkind.New(errkind.Cancelled, "mailing", "send_batch", ctx.Err())
			case <-time.After(delay):
			}
		}

		for _, msg := range msgs[start:min(start+batchSize, len(msgs))] {
			result, err := s.Send(ctx, msg)
			if err != nil {
				if errkind.Of(err) == errkind.Cancelled {
					return results, err
				}
				result = &domain.SendResult{Success: false, Provider: msg.Provider, Error: err.Error()}
			}
			results = append(results, *result)
		}
	}
	return results, nil
}

// SendProspects builds and sends messages for every prospect with a
// generated email, skipping any that were already sent. Returns one
// outcome per prospect.
func (s *Sender) SendProspects(ctx context.Context, campaignID string, prospects []*domain.Prospect) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(prospects))
	var msgs []*domain.EmailMessage
	var queued []*domain.Prospect

	for _, p := range prospects {
		if alreadySent(p) {
			outcomes = append(outcomes, Outcome{ProspectID: p.ID, Email: p.Email, Skipped: true, Reason: "already sent"})
			continue
		}
		msg, err := s.BuildMessage(campaignID, p)
		if err != nil {
			outcomes = append(outcomes, Outcome{ProspectID: p.ID, Email: p.Email, Skipped: true, Reason: err.Error()})
			continue
		}
		msgs = append(msgs, msg)
		queued = append(queued, p)
	}

	results, err := s.SendBatch(ctx, msgs, s.cfg.BatchSize, s.cfg.BatchDelay())
	for i := range results {
		outcomes = append(outcomes, Outcome{
			ProspectID: queued[i].ID,
			Email:      queued[i].Email,
			Result:     &results[i],
		})
	}
	return outcomes, err
}

// Track polls delivery state through the provider, when it supports that.
func (s *Sender) Track(ctx context.Context, providerID string) (*domain.DeliveryEvent, error) {
	tracker, ok := s.esp.(DeliveryTracker)
	if !ok {
		return nil, errkind.Newf(errkind.Config, "mailing", "track", "provider %q does not report delivery state", s.cfg.Provider)
	}
	return tracker.Track(ctx, providerID)
}

// alreadySent reports whether a prospect's email left the building. A
// failed delivery may be retried; a bounce or complaint never is.
func alreadySent(p *domain.Prospect) bool {
	if p.GenerationStatus == domain.GenerationSent {
		return true
	}
	switch p.DeliveryStatus {
	case "", domain.DeliveryNotSent, domain.DeliveryFailed:
		return false
	}
	return true
}

func validateMessage(msg *domain.EmailMessage) error {
	if !strings.Contains(msg.Email, "@") {
		return errkind.Newf(errkind.Permanent, "mailing", "send", "invalid recipient address %q", msg.Email)
	}
	if !strings.Contains(msg.FromEmail, "@") {
		return errkind.Newf(errkind.Config, "mailing", "send", "invalid sender address %q", msg.FromEmail)
	}
	if msg.Subject == "" {
		return errkind.Newf(errkind.Permanent, "mailing", "send", "empty subject for %s", logger.RedactEmail(msg.Email))
	}
	if msg.HTMLContent == "" && msg.TextContent == "" {
		return errkind.Newf(errkind.Permanent, "mailing", "send", "empty body for %s", logger.RedactEmail(msg.Email))
	}
	return nil
}

var greetingOpeners = []string{"hi ", "hi,", "hello", "hey", "dear ", "good morning", "good afternoon"}

func hasGreeting(body string) bool {
	first := strings.ToLower(firstBodyLine(body))
	for _, opener := range greetingOpeners {
		if strings.HasPrefix(first, opener) {
			return true
		}
	}
	return false
}

var signoffMarkers = []string{"regards", "best,", "cheers", "sincerely", "warmly", "thank you,", "thanks,"}

func hasSignoff(body, senderName string) bool {
	tail := body
	if len(tail) > 200 {
		tail = tail[len(tail)-200:]
	}
	if senderName != "" && strings.Contains(tail, senderName) {
		return true
	}
	lower := strings.ToLower(tail)
	for _, marker := range signoffMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func firstBodyLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
