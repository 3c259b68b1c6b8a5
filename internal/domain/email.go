package domain

import (
	"fmt"
	"strings"
)

// EmailTemplate selects the angle an outreach email takes.
type EmailTemplate string

const (
	TemplateColdOutreach    EmailTemplate = "cold_outreach"
	TemplateReferral        EmailTemplate = "referral"
	TemplateProductInterest EmailTemplate = "product_interest"
	TemplateNetworking      EmailTemplate = "networking"
	TemplateFollowUp        EmailTemplate = "follow_up"
)

// Valid reports whether t is a known template.
func (t EmailTemplate) Valid() bool {
	switch t {
	case TemplateColdOutreach, TemplateReferral, TemplateProductInterest,
		TemplateNetworking, TemplateFollowUp:
		return true
	}
	return false
}

// ParseEmailTemplate maps a CLI or config string onto a template, accepting
// hyphens and mixed case.
func ParseEmailTemplate(s string) (EmailTemplate, error) {
	t := EmailTemplate(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !t.Valid() {
		return "", fmt.Errorf("unknown email template %q", s)
	}
	return t, nil
}

// EmailDraft is a generated outreach email before review and sending.
type EmailDraft struct {
	Subject              string        `json:"subject"`
	Body                 string        `json:"body"`
	PersonalizationScore float64       `json:"personalization_score"`
	Template             EmailTemplate `json:"template,omitempty"`
}

// WordCount counts whitespace-separated words in the body.
func (d EmailDraft) WordCount() int {
	return len(strings.Fields(d.Body))
}
