package domain

import (
	"fmt"
	"time"
)

// GenerationStatus enumerates the outreach-email generation lifecycle of a
// prospect.
type GenerationStatus string

const (
	GenerationNotGenerated GenerationStatus = "not_generated"
	GenerationGenerated    GenerationStatus = "generated"
	GenerationSent         GenerationStatus = "sent"
	GenerationFailed       GenerationStatus = "failed"
)

// DeliveryStatus enumerates what happened to a sent outreach email.
type DeliveryStatus string

const (
	DeliveryNotSent    DeliveryStatus = "not_sent"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryBounced    DeliveryStatus = "bounced"
	DeliveryComplained DeliveryStatus = "complained"
	DeliveryFailed     DeliveryStatus = "failed"
)

// Prospect is a fully-resolved team member committed to the store: contact
// details, AI enrichment payloads, and the outreach email state.
type Prospect struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Role            string  `json:"role"`
	Company         string  `json:"company"`
	ProfileURL      string  `json:"profile_url,omitempty"`
	Email           string  `json:"email,omitempty"`
	EmailConfidence float64 `json:"email_confidence,omitempty"`

	// Serialized AI enrichment results, kept as JSON blobs so the store
	// schema stays stable as prompt outputs evolve.
	AIProfileJSON   string `json:"ai_profile_json,omitempty"`
	AIProductJSON   string `json:"ai_product_json,omitempty"`
	AIBusinessJSON  string `json:"ai_business_json,omitempty"`
	Personalization string `json:"personalization_blob,omitempty"`

	EmailSubject     string           `json:"email_subject,omitempty"`
	EmailBody        string           `json:"email_body,omitempty"`
	GenerationStatus GenerationStatus `json:"email_generation_status"`
	DeliveryStatus   DeliveryStatus   `json:"email_delivery_status"`
	GeneratedAt      *time.Time       `json:"generated_at,omitempty"`
	SentAt           *time.Time       `json:"sent_at,omitempty"`

	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the upsert identity: normalized name plus normalized company.
func (p *Prospect) Key() string {
	return NormalizeName(p.Name) + "|" + NormalizeName(p.Company)
}

// Validate checks the cross-field invariants. Store backends call it before
// every write.
func (p *Prospect) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("prospect has no name")
	}
	if p.Company == "" {
		return fmt.Errorf("prospect %q has no company", p.Name)
	}
	if p.EmailConfidence < 0 || p.EmailConfidence > 1 {
		return fmt.Errorf("prospect %q email confidence %v outside [0,1]", p.Name, p.EmailConfidence)
	}
	if p.DeliveryStatus != "" && p.DeliveryStatus != DeliveryNotSent {
		if p.GenerationStatus != GenerationGenerated && p.GenerationStatus != GenerationSent {
			return fmt.Errorf("prospect %q delivery status %q without a generated email", p.Name, p.DeliveryStatus)
		}
	}
	if p.SentAt != nil && p.GeneratedAt != nil && !p.SentAt.After(*p.GeneratedAt) {
		return fmt.Errorf("prospect %q sent_at %s not after generated_at %s", p.Name, p.SentAt, p.GeneratedAt)
	}
	return nil
}
