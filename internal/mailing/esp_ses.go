package mailing

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/awsutil"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/logger"
	"github.com/Unisami/ProspectAI-sub000/internal/ratelimit"
)

// SESSender delivers through AWS SES with the SDK v2. The SDK brings its
// own HTTP stack, so the "ses" rate limiter is acquired explicitly before
// each call.
type SESSender struct {
	client  *sesv2.Client
	limiter *ratelimit.Limiter
}

// NewSESSender creates an SES sender. Static credentials win; without
// them the SDK's default chain applies. If neither yields a usable
// config, Send fails with a config error.
func NewSESSender(cfg config.AWSConfig, limiter *ratelimit.Limiter) *SESSender {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	sender := &SESSender{limiter: limiter}

	awsCfg, err := awsutil.Load(context.Background(), region, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		log.Printf("[SES] failed to initialize AWS config: %v", err)
	} else {
		sender.client = sesv2.NewFromConfig(awsCfg)
	}

	return sender
}

// Send delivers a single email through AWS SES.
func (s *SESSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.client == nil {
		return nil, errkind.Newf(errkind.Config, "ses", "send", "client not initialized, check aws credentials")
	}
	if err := s.limiter.Acquire(ctx, "ses", 1); err != nil {
		return nil, err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.FromName + " <" + msg.FromEmail + ">"),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	// SES rejects tags with empty values.
	if msg.CampaignID != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID),
		})
	}
	if msg.ProspectID != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name: aws.String("prospect_id"), Value: aws.String(msg.ProspectID),
		})
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errkind.New(errkind.Cancelled, "ses", "send", ctx.Err())
		}
		log.Printf("[SES] send to %s failed: %v", logger.RedactEmail(msg.Email), err)
		return &domain.SendResult{Success: false, Provider: domain.ProviderSES, Error: err.Error()}, nil
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}

	log.Printf("[SES] sent to %s (id: %s)", logger.RedactEmail(msg.Email), messageID)
	return &domain.SendResult{
		Success:   true,
		MessageID: messageID,
		Provider:  domain.ProviderSES,
		SentAt:    time.Now(),
	}, nil
}
