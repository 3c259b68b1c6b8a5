package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/awsutil"
)

// s3Putter is the one S3 call the archiver makes, split out so tests
// can fake the client.
type s3Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes daily analytics snapshots to an S3 bucket, one JSON
// object per day under analytics/<yyyy>/<mm>/<dd>/summary.json.
type Archiver struct {
	client s3Putter
	bucket string
}

// NewArchiver builds an S3 archiver from the analytics config. It
// returns (nil, nil) when no bucket is configured, so callers can pass
// the result straight to New.
func NewArchiver(ctx context.Context, cfg config.AnalyticsConfig, awsCfg config.AWSConfig) (*Archiver, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	region := cfg.S3Region
	if region == "" {
		region = awsCfg.Region
	}
	if region == "" {
		region = "us-east-1"
	}

	loaded, err := awsutil.Load(ctx, region, awsCfg.AccessKey, awsCfg.SecretKey)
	if err != nil {
		return nil, errkind.New(errkind.Config, "s3", "new", fmt.Errorf("loading aws config: %w", err))
	}
	return &Archiver{client: s3.NewFromConfig(loaded), bucket: cfg.S3Bucket}, nil
}

// Archive uploads one day's snapshot.
func (a *Archiver) Archive(ctx context.Context, day *domain.DailyAnalytics) error {
	data, err := json.MarshalIndent(day, "", "  ")
	if err != nil {
		return errkind.New(errkind.Permanent, "s3", "archive", fmt.Errorf("marshaling analytics: %w", err))
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(archiveKey(day.Date)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		if ctx.Err() != nil {
			return errkind.New(errkind.Cancelled, "s3", "archive", ctx.Err())
		}
		return errkind.New(errkind.Transient, "s3", "archive", err)
	}
	return nil
}

// archiveKey maps a day key like 2026-03-14 onto a date-partitioned
// object key so prefix listings line up with daily runs.
func archiveKey(date string) string {
	return fmt.Sprintf("analytics/%s/summary.json", strings.ReplaceAll(date, "-", "/"))
}
