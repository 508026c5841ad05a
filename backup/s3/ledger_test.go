package s3

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataio/strata/backup"
)

// mockDDBClient is an in-memory DynamoDB stand-in.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue // database:created_at -> item
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	db := item["database"].(*types.AttributeValueMemberS).Value
	created := item["created_at"].(*types.AttributeValueMemberN).Value
	return db + ":" + created
}

func (m *mockDDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := itemKey(params.Item)
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(created_at)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}
	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	db := params.ExpressionAttributeValues[":db"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["database"].(*types.AttributeValueMemberS).Value == db {
			items = append(items, item)
		}
	}
	// Descending by created_at, matching ScanIndexForward=false.
	sort.Slice(items, func(i, j int) bool {
		vi := items[i]["created_at"].(*types.AttributeValueMemberN).Value
		vj := items[j]["created_at"].(*types.AttributeValueMemberN).Value
		if len(vi) != len(vj) {
			return len(vi) > len(vj)
		}
		return vi > vj
	})
	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (m *mockDDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemKey(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func manifestAt(id string, at time.Time) *backup.Manifest {
	return &backup.Manifest{
		Version:    backup.ManifestVersion,
		ID:         id,
		TotalBytes: 1024,
		Files:      []backup.FileInfo{{Key: "datamodels/metadata.json", Size: 1024}},
		CreatedAt:  at,
	}
}

func TestLedger_RecordAndLatest(t *testing.T) {
	ctx := context.Background()
	client := newMockDDBClient()
	ledger := NewLedger(client, "strata-backups", "orders-db")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.Record(ctx, manifestAt("backup-1", base)))
	require.NoError(t, ledger.Record(ctx, manifestAt("backup-2", base.Add(time.Hour))))

	latest, err := ledger.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "backup-2", latest)
}

func TestLedger_RecordDuplicateInstant(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(newMockDDBClient(), "strata-backups", "orders-db")

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.Record(ctx, manifestAt("backup-1", at)))

	err := ledger.Record(ctx, manifestAt("backup-2", at))
	require.ErrorIs(t, err, ErrBackupExists)
}

func TestLedger_LatestEmpty(t *testing.T) {
	ledger := NewLedger(newMockDDBClient(), "strata-backups", "orders-db")

	_, err := ledger.Latest(context.Background())
	require.ErrorIs(t, err, backup.ErrNotFound)
}

func TestLedger_Entries(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(newMockDDBClient(), "strata-backups", "orders-db")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"backup-1", "backup-2", "backup-3"} {
		require.NoError(t, ledger.Record(ctx, manifestAt(id, base.Add(time.Duration(i)*time.Hour))))
	}

	entries, err := ledger.Entries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "backup-3", entries[0].ID)
	assert.Equal(t, "backup-2", entries[1].ID)
	assert.Equal(t, int64(1024), entries[0].TotalBytes)
	assert.Equal(t, 1, entries[0].Files)
	assert.Equal(t, base.Add(2*time.Hour), entries[0].CreatedAt)
}

func TestLedger_DatabasesAreIsolated(t *testing.T) {
	ctx := context.Background()
	client := newMockDDBClient()
	orders := NewLedger(client, "strata-backups", "orders-db")
	billing := NewLedger(client, "strata-backups", "billing-db")

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, orders.Record(ctx, manifestAt("orders-backup", at)))

	_, err := billing.Latest(ctx)
	require.ErrorIs(t, err, backup.ErrNotFound)
}

func TestLedger_Remove(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(newMockDDBClient(), "strata-backups", "orders-db")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.Record(ctx, manifestAt("backup-1", base)))
	require.NoError(t, ledger.Record(ctx, manifestAt("backup-2", base.Add(time.Hour))))

	require.NoError(t, ledger.Remove(ctx, "backup-2"))

	latest, err := ledger.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "backup-1", latest)

	// Unknown ids are a no-op.
	require.NoError(t, ledger.Remove(ctx, "backup-99"))
}
