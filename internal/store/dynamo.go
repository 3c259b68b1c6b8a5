package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/awsutil"
)

// Dynamo is the single-table DynamoDB backend. Every record is one item
// carrying its payload as a JSON blob in Data, so the table schema never
// has to follow the domain structs.
//
// Key layout:
//
//	PROSPECT            / <identity key>
//	CAMPAIGN            / <campaign id>
//	LOG#<campaign>      / <timestamp>
//	STATUS              / <component>
//	CONTROL#<campaign>  / <timestamp>
//	ANALYTICS           / <date>
type Dynamo struct {
	client *dynamodb.Client
	table  string
}

type dynamoItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Data      string `dynamodbav:"Data"`
	Timestamp string `dynamodbav:"Timestamp"`

	// CompanyKey is denormalized onto prospect items so the dedup set can
	// be built from a projected query instead of decoding every blob.
	CompanyKey string `dynamodbav:"CompanyKey,omitempty"`

	TTL int64 `dynamodbav:"TTL,omitempty"`
}

const (
	pkProspect  = "PROSPECT"
	pkCampaign  = "CAMPAIGN"
	pkStatus    = "STATUS"
	pkAnalytics = "ANALYTICS"

	logPKPrefix     = "LOG#"
	controlPKPrefix = "CONTROL#"

	logRetention     = 90 * 24 * time.Hour
	controlRetention = 30 * 24 * time.Hour
)

// timeKeyLayout keeps the fractional seconds fixed-width so lexicographic
// sort-key order equals chronological order. time.RFC3339Nano trims trailing
// zeros and breaks exactly that.
const timeKeyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// timeKeyMax sorts after every real timestamp.
const timeKeyMax = "9999-12-31T23:59:59.999999999Z"

// NewDynamo builds the backend against the given table. Static credentials
// from config win; otherwise the SDK's default chain applies.
func NewDynamo(ctx context.Context, table string, cfg config.AWSConfig) (*Dynamo, error) {
	if table == "" {
		return nil, errkind.Newf(errkind.Config, "dynamo", "new", "table name not configured")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsutil.Load(ctx, region, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, errkind.New(errkind.Config, "dynamo", "new", fmt.Errorf("loading aws config: %w", err))
	}
	return &Dynamo{client: dynamodb.NewFromConfig(awsCfg), table: table}, nil
}

func (d *Dynamo) UpsertProspect(ctx context.Context, p *domain.Prospect) (string, error) {
	const op = "upsert_prospect"
	if err := p.Validate(); err != nil {
		return "", errkind.New(errkind.Permanent, "dynamo", op, err)
	}

	// The identity key doubles as the record id, so later field updates
	// address the item directly without a lookup index.
	key := p.Key()
	now := time.Now()

	var existing domain.Prospect
	found, err := d.getRecord(ctx, op, pkProspect, key, &existing)
	if err != nil {
		return "", err
	}

	var rec *domain.Prospect
	if found {
		mergeProspect(&existing, p)
		existing.UpdatedAt = now
		rec = &existing
	} else {
		rec = cloneProspect(p)
		rec.ID = key
		rec.GenerationStatus = defaultGeneration(rec.GenerationStatus)
		rec.DeliveryStatus = defaultDelivery(rec.DeliveryStatus)
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
	}

	err = d.putRecord(ctx, op, pkProspect, key, rec, func(item *dynamoItem) {
		item.CompanyKey = domain.NormalizeName(rec.Company)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (d *Dynamo) UpdateProspectFields(ctx context.Context, id string, patch ProspectPatch) error {
	const op = "update_prospect"

	var p domain.Prospect
	found, err := d.getRecord(ctx, op, pkProspect, id, &p)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("prospect %s: %w", id, ErrNotFound)
	}
	patch.apply(&p)
	p.UpdatedAt = time.Now()
	return d.putRecord(ctx, op, pkProspect, id, &p, func(item *dynamoItem) {
		item.CompanyKey = domain.NormalizeName(p.Company)
	})
}

func (d *Dynamo) FindProspects(ctx context.Context, f Filter) ([]*domain.Prospect, error) {
	// The prospect partition stays small enough to fan through; filtering
	// happens client-side like the Notion backend's normalized predicates.
	items, err := d.queryPartition(ctx, "find_prospects", pkProspect, "", "", "")
	if err != nil {
		return nil, err
	}
	var out []*domain.Prospect
	for _, item := range items {
		var p domain.Prospect
		if err := json.Unmarshal([]byte(item.Data), &p); err != nil {
			log.Printf("[Store] skipping undecodable prospect %s: %v", item.SK, err)
			continue
		}
		if f.matches(&p) {
			out = append(out, &p)
		}
	}
	return sortProspects(out, f.Limit), nil
}

func (d *Dynamo) ProcessedCompanies(ctx context.Context) (map[string]struct{}, error) {
	items, err := d.queryPartition(ctx, "processed_companies", pkProspect, "", "", "CompanyKey")
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.CompanyKey != "" {
			out[item.CompanyKey] = struct{}{}
		}
	}
	return out, nil
}

func (d *Dynamo) AppendLog(ctx context.Context, entry *domain.ProcessingLogEntry) error {
	e := *entry
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	ttl := e.Timestamp.Add(logRetention).Unix()
	return d.putRecord(ctx, "append_log", logPKPrefix+e.Campaign, e.Timestamp.UTC().Format(timeKeyLayout), &e,
		func(item *dynamoItem) { item.TTL = ttl })
}

func (d *Dynamo) UpsertSystemStatus(ctx context.Context, status *domain.SystemStatus) error {
	s := *status
	if s.LastUpdate.IsZero() {
		s.LastUpdate = time.Now()
	}
	return d.putRecord(ctx, "upsert_status", pkStatus, s.Component, &s, nil)
}

func (d *Dynamo) UpsertCampaign(ctx context.Context, progress *domain.CampaignProgress) error {
	const op = "upsert_campaign"
	if progress.ID == "" {
		return errkind.Newf(errkind.Permanent, "dynamo", op, "campaign has no id")
	}
	return d.putRecord(ctx, op, pkCampaign, progress.ID, progress, nil)
}

func (d *Dynamo) GetCampaign(ctx context.Context, id string) (*domain.CampaignProgress, error) {
	var c domain.CampaignProgress
	found, err := d.getRecord(ctx, "get_campaign", pkCampaign, id, &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (d *Dynamo) ReadControlCommands(ctx context.Context, campaignID string, since time.Time) ([]domain.ControlCommand, error) {
	// BETWEEN is inclusive and the cursor contract is strictly-after.
	from := since.UTC().Add(time.Nanosecond).Format(timeKeyLayout)
	items, err := d.queryPartition(ctx, "read_controls", controlPKPrefix+campaignID, from, timeKeyMax, "")
	if err != nil {
		return nil, err
	}
	out := make([]domain.ControlCommand, 0, len(items))
	for _, item := range items {
		var cmd domain.ControlCommand
		if err := json.Unmarshal([]byte(item.Data), &cmd); err != nil {
			log.Printf("[Store] skipping undecodable control row %s: %v", item.SK, err)
			continue
		}
		out = append(out, cmd)
	}
	return out, nil
}

func (d *Dynamo) AppendControlCommand(ctx context.Context, cmd *domain.ControlCommand) error {
	c := cloneControl(*cmd)
	if c.SeenAt.IsZero() {
		c.SeenAt = time.Now()
	}
	ttl := c.SeenAt.Add(controlRetention).Unix()
	return d.putRecord(ctx, "append_control", controlPKPrefix+c.CampaignID, c.SeenAt.UTC().Format(timeKeyLayout), &c,
		func(item *dynamoItem) { item.TTL = ttl })
}

func (d *Dynamo) SaveDailyAnalytics(ctx context.Context, day *domain.DailyAnalytics) error {
	const op = "save_analytics"
	if day.Date == "" {
		return errkind.Newf(errkind.Permanent, "dynamo", op, "analytics record has no date")
	}
	return d.putRecord(ctx, op, pkAnalytics, day.Date, day, nil)
}

func (d *Dynamo) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table)})
	if err != nil {
		return d.classify(ctx, "ping", fmt.Errorf("describing table: %w", err))
	}
	return nil
}

func (d *Dynamo) putRecord(ctx context.Context, op, pk, sk string, payload interface{}, extra func(*dynamoItem)) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errkind.New(errkind.Permanent, "dynamo", op, fmt.Errorf("encoding record: %w", err))
	}
	item := dynamoItem{
		PK:        pk,
		SK:        sk,
		Data:      string(data),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if extra != nil {
		extra(&item)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return errkind.New(errkind.Permanent, "dynamo", op, fmt.Errorf("marshalling item: %w", err))
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      av,
	})
	if err != nil {
		return d.classify(ctx, op, fmt.Errorf("putting item: %w", err))
	}
	return nil
}

func (d *Dynamo) getRecord(ctx context.Context, op, pk, sk string, payload interface{}) (bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, d.classify(ctx, op, fmt.Errorf("getting item: %w", err))
	}
	if len(out.Item) == 0 {
		return false, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return false, errkind.New(errkind.Parse, "dynamo", op, fmt.Errorf("unmarshalling item: %w", err))
	}
	if err := json.Unmarshal([]byte(item.Data), payload); err != nil {
		return false, errkind.New(errkind.Parse, "dynamo", op, fmt.Errorf("decoding record: %w", err))
	}
	return true, nil
}

func (d *Dynamo) queryPartition(ctx context.Context, op, pk, skFrom, skTo, projection string) ([]dynamoItem, error) {
	keyCond := "PK = :pk"
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: pk},
	}
	if skFrom != "" {
		keyCond += " AND SK BETWEEN :from AND :to"
		values[":from"] = &types.AttributeValueMemberS{Value: skFrom}
		values[":to"] = &types.AttributeValueMemberS{Value: skTo}
	}

	var items []dynamoItem
	var start map[string]types.AttributeValue
	for {
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(d.table),
			KeyConditionExpression:    aws.String(keyCond),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         start,
		}
		if projection != "" {
			input.ProjectionExpression = aws.String(projection)
		}
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, d.classify(ctx, op, fmt.Errorf("querying table: %w", err))
		}
		for _, raw := range out.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				log.Printf("[Store] skipping unreadable item in %s: %v", pk, err)
				continue
			}
			items = append(items, item)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	return items, nil
}

// classify maps an SDK failure: cancellation stays Cancelled, everything
// else is Transient so the stage retry policy takes a shot at it.
func (d *Dynamo) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return errkind.New(errkind.Cancelled, "dynamo", op, ctx.Err())
	}
	return errkind.New(errkind.Transient, "dynamo", op, err)
}
