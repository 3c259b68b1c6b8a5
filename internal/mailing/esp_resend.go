package mailing

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/logger"
)

// ResendSender delivers through the Resend REST API. The shared HTTP
// client applies the "resend" rate limiter and retry policy.
type ResendSender struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
}

// NewResendSender builds the adapter from configuration.
func NewResendSender(client *httpclient.Client, cfg config.ResendConfig) *ResendSender {
	return &ResendSender{
		http:    client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

type resendSendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    []resendTag       `json:"tags,omitempty"`
}

type resendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Send delivers a single email. Provider rejections come back as a failed
// result rather than an error so batch runs keep going; only cancellation
// propagates.
func (r *ResendSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if r.apiKey == "" {
		return nil, errkind.Newf(errkind.Config, "resend", "send", "api key not configured")
	}

	payload := resendSendRequest{
		From:    msg.FromName + " <" + msg.FromEmail + ">",
		To:      []string{msg.Email},
		Subject: msg.Subject,
		HTML:    msg.HTMLContent,
		Text:    msg.TextContent,
		ReplyTo: msg.ReplyTo,
		Headers: msg.Headers,
	}
	if msg.CampaignID != "" {
		payload.Tags = append(payload.Tags, resendTag{Name: "campaign_id", Value: msg.CampaignID})
	}
	if msg.ProspectID != "" {
		payload.Tags = append(payload.Tags, resendTag{Name: "prospect_id", Value: msg.ProspectID})
	}

	extra := map[string]string{}
	if msg.ID != "" {
		// Stable per message, so a retried send cannot double-deliver.
		extra["Idempotency-Key"] = msg.ID
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := r.http.PostJSON(ctx, "resend", r.baseURL+"/emails", r.headers(extra), payload, &resp); err != nil {
		if errkind.Of(err) == errkind.Cancelled {
			return nil, err
		}
		log.Printf("[Resend] send to %s failed: %v", logger.RedactEmail(msg.Email), err)
		return &domain.SendResult{Success: false, Provider: domain.ProviderResend, Error: err.Error()}, nil
	}

	log.Printf("[Resend] sent to %s (id: %s)", logger.RedactEmail(msg.Email), resp.ID)
	return &domain.SendResult{
		Success:   true,
		MessageID: resp.ID,
		Provider:  domain.ProviderResend,
		SentAt:    time.Now(),
	}, nil
}

// Track polls the current delivery state of a previously sent message.
func (r *ResendSender) Track(ctx context.Context, providerID string) (*domain.DeliveryEvent, error) {
	if providerID == "" {
		return nil, errkind.Newf(errkind.Permanent, "resend", "track", "missing provider id")
	}

	var resp struct {
		ID        string   `json:"id"`
		To        []string `json:"to"`
		LastEvent string   `json:"last_event"`
	}
	if err := r.http.GetJSON(ctx, "resend", r.baseURL+"/emails/"+providerID, r.headers(nil), &resp); err != nil {
		return nil, err
	}

	email := ""
	if len(resp.To) > 0 {
		email = resp.To[0]
	}
	return &domain.DeliveryEvent{
		MessageID: resp.ID,
		Email:     email,
		Status:    deliveryStatusFromEvent(resp.LastEvent),
		// The API reports the latest state without its timestamp, so the
		// event carries the observation time.
		OccurredAt: time.Now(),
		Detail:     resp.LastEvent,
	}, nil
}

func (r *ResendSender) headers(extra map[string]string) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + r.apiKey}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func deliveryStatusFromEvent(event string) domain.DeliveryStatus {
	switch event {
	case "delivered":
		return domain.DeliveryDelivered
	case "bounced":
		return domain.DeliveryBounced
	case "complained":
		return domain.DeliveryComplained
	case "failed":
		return domain.DeliveryFailed
	default:
		// queued, scheduled, sent, delivery_delayed: handed off, not final.
		return domain.DeliverySent
	}
}
