package domain

import "time"

// ProviderType identifies the email service provider used for sending.
type ProviderType string

const (
	ProviderResend ProviderType = "resend"
	ProviderSES    ProviderType = "ses"
)

// EmailMessage is the fully-resolved outreach message ready for a provider
// adapter. By the time a message reaches this struct, sanitization, template
// wrapping, and signature injection are complete.
type EmailMessage struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaign_id,omitempty"`
	ProspectID  string            `json:"prospect_id"`
	Email       string            `json:"email"`
	ToName      string            `json:"to_name,omitempty"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content"`
	Headers     map[string]string `json:"headers,omitempty"`
	Provider    ProviderType      `json:"provider"`
}

// SendResult is returned by a provider adapter after attempting delivery.
type SendResult struct {
	Success   bool         `json:"success"`
	MessageID string       `json:"message_id"`
	Provider  ProviderType `json:"provider"`
	SentAt    time.Time    `json:"sent_at"`
	// Sanitized lists the fields the sanitizer had to clean before handoff.
	Sanitized []string `json:"sanitized,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// DeliveryEvent is one delivery-state change reported by a provider when the
// sender polls message status.
type DeliveryEvent struct {
	MessageID  string         `json:"message_id"`
	Email      string         `json:"email"`
	Status     DeliveryStatus `json:"status"`
	OccurredAt time.Time      `json:"occurred_at"`
	Detail     string         `json:"detail,omitempty"`
}
