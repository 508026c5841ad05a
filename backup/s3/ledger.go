package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/strataio/strata/backup"
)

// DDBClient is the subset of the DynamoDB API the ledger uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrBackupExists is returned when a ledger entry for the same instant
// already exists.
var ErrBackupExists = errors.New("backup already recorded")

// Ledger records completed backups in DynamoDB, one item per backup keyed
// by database name and creation time.
//
// Table schema:
//   - Partition key: database (string)
//   - Sort key: created_at (number, unix nanoseconds)
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name strata-backups \
//	  --attribute-definitions AttributeName=database,AttributeType=S AttributeName=created_at,AttributeType=N \
//	  --key-schema AttributeName=database,KeyType=HASH AttributeName=created_at,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type Ledger struct {
	client   DDBClient
	table    string
	database string
}

// NewLedger creates a ledger for the named database.
func NewLedger(client DDBClient, table, database string) *Ledger {
	return &Ledger{client: client, table: table, database: database}
}

// Entry is one recorded backup.
type Entry struct {
	ID         string
	CreatedAt  time.Time
	TotalBytes int64
	Files      int
}

// Record adds a completed backup. The conditional write guarantees two
// writers cannot claim the same creation instant.
func (l *Ledger) Record(ctx context.Context, m *backup.Manifest) error {
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			"database":    &types.AttributeValueMemberS{Value: l.database},
			"created_at":  &types.AttributeValueMemberN{Value: strconv.FormatInt(m.CreatedAt.UnixNano(), 10)},
			"backup_id":   &types.AttributeValueMemberS{Value: m.ID},
			"total_bytes": &types.AttributeValueMemberN{Value: strconv.FormatInt(m.TotalBytes, 10)},
			"file_count":  &types.AttributeValueMemberN{Value: strconv.Itoa(len(m.Files))},
		},
		ConditionExpression: aws.String("attribute_not_exists(created_at)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrBackupExists
		}
		return fmt.Errorf("failed to record backup: %w", err)
	}
	return nil
}

// Latest returns the id of the most recent recorded backup.
func (l *Ledger) Latest(ctx context.Context) (string, error) {
	entries, err := l.query(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no backups recorded for %s: %w", l.database, backup.ErrNotFound)
	}
	return entries[0].ID, nil
}

// Entries returns recorded backups, newest first. limit 0 returns all.
func (l *Ledger) Entries(ctx context.Context, limit int32) ([]Entry, error) {
	return l.query(ctx, limit)
}

func (l *Ledger) query(ctx context.Context, limit int32) ([]Entry, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(l.table),
		KeyConditionExpression: aws.String("#db = :db"),
		ExpressionAttributeNames: map[string]string{
			"#db": "database",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":db": &types.AttributeValueMemberS{Value: l.database},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	resp, err := l.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup ledger: %w", err)
	}

	entries := make([]Entry, 0, len(resp.Items))
	for _, item := range resp.Items {
		entry, err := decodeEntry(item)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeEntry(item map[string]types.AttributeValue) (Entry, error) {
	var e Entry

	id, ok := item["backup_id"].(*types.AttributeValueMemberS)
	if !ok {
		return e, errors.New("ledger item missing backup_id")
	}
	e.ID = id.Value

	created, ok := item["created_at"].(*types.AttributeValueMemberN)
	if !ok {
		return e, errors.New("ledger item missing created_at")
	}
	ns, err := strconv.ParseInt(created.Value, 10, 64)
	if err != nil {
		return e, fmt.Errorf("failed to parse created_at: %w", err)
	}
	e.CreatedAt = time.Unix(0, ns).UTC()

	if tb, ok := item["total_bytes"].(*types.AttributeValueMemberN); ok {
		if e.TotalBytes, err = strconv.ParseInt(tb.Value, 10, 64); err != nil {
			return e, fmt.Errorf("failed to parse total_bytes: %w", err)
		}
	}
	if fc, ok := item["file_count"].(*types.AttributeValueMemberN); ok {
		if e.Files, err = strconv.Atoi(fc.Value); err != nil {
			return e, fmt.Errorf("failed to parse file_count: %w", err)
		}
	}
	return e, nil
}

// Remove drops the ledger entry for the backup id. Removing an unrecorded
// id is a no-op.
func (l *Ledger) Remove(ctx context.Context, id string) error {
	entries, err := l.query(ctx, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID != id {
			continue
		}
		_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(l.table),
			Key: map[string]types.AttributeValue{
				"database":   &types.AttributeValueMemberS{Value: l.database},
				"created_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(e.CreatedAt.UnixNano(), 10)},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to remove ledger entry: %w", err)
		}
	}
	return nil
}
