package store

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
)

func TestTimeKeyOrderMatchesChronology(t *testing.T) {
	// The zero-fraction case is the trap: RFC3339Nano would render 10:00:05
	// without a fraction and sort it after 10:00:05.5.
	times := []time.Time{
		time.Date(2026, 8, 24, 10, 0, 5, 0, time.UTC),
		time.Date(2026, 8, 24, 10, 0, 5, 500_000_000, time.UTC),
		time.Date(2026, 8, 24, 10, 0, 6, 0, time.UTC),
		time.Date(2026, 8, 24, 10, 0, 6, 1, time.UTC),
	}
	for i := 1; i < len(times); i++ {
		prev := times[i-1].Format(timeKeyLayout)
		next := times[i].Format(timeKeyLayout)
		assert.Less(t, prev, next, "%s vs %s", times[i-1], times[i])
	}
	last := times[len(times)-1].Format(timeKeyLayout)
	assert.Less(t, last, timeKeyMax)
}

func TestDynamoItemAttributes(t *testing.T) {
	item := dynamoItem{
		PK:        pkProspect,
		SK:        "jane doe|acme labs",
		Data:      `{"name":"Jane Doe"}`,
		Timestamp: "2026-08-24T10:00:00Z",
	}

	av, err := attributevalue.MarshalMap(item)
	require.NoError(t, err)

	pk, ok := av["PK"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "PROSPECT", pk.Value)

	_, hasTTL := av["TTL"]
	assert.False(t, hasTTL, "zero TTL must stay off the item")
	_, hasCompany := av["CompanyKey"]
	assert.False(t, hasCompany)

	item.TTL = 1764000000
	item.CompanyKey = "acme labs"
	av, err = attributevalue.MarshalMap(item)
	require.NoError(t, err)

	ttl, ok := av["TTL"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "1764000000", ttl.Value)
	company, ok := av["CompanyKey"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "acme labs", company.Value)
}

func TestNewDynamoRequiresTable(t *testing.T) {
	_, err := NewDynamo(context.Background(), "", config.AWSConfig{})
	require.Error(t, err)
	assert.Equal(t, errkind.Config, errkind.Of(err))
}
