package strata_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushAsync_CompletesInSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	db, orders := openOrders(t)

	require.NoError(t, orders.Insert(ctx, Order{ID: 1, Customer: "ada", Status: "open", Total: 10}))
	h1 := orders.FlushAsync()

	require.NoError(t, orders.Insert(ctx, Order{ID: 2, Customer: "grace", Status: "open", Total: 20}))
	h2 := db.FlushAsync()

	require.NoError(t, h2.Wait(ctx))

	// The queue is FIFO, so the earlier handle must already be done.
	select {
	case <-h1.Done():
	default:
		t.Fatal("earlier flush handle not completed before later one")
	}
	assert.NoError(t, h1.Err())
	assert.NoError(t, h2.Err())
}

func TestFlush_PersistsMetadataToDisk(t *testing.T) {
	ctx := context.Background()
	db, orders := openOrders(t)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, orders.Insert(ctx, Order{ID: i, Customer: "ada", Status: "open", Total: float64(i)}))
	}
	require.NoError(t, db.Flush(ctx))

	raw, err := os.ReadFile(filepath.Join(db.BasePath(), "datamodels", "orders", "metadata.json"))
	require.NoError(t, err)

	var doc struct {
		TotalRecords int64 `json:"total_records"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, int64(3), doc.TotalRecords)
}

func TestFlushAsync_HandlesAreIndependent(t *testing.T) {
	ctx := context.Background()
	db, orders := openOrders(t)

	require.NoError(t, orders.Insert(ctx, Order{ID: 1, Customer: "ada", Status: "open", Total: 10}))

	h1 := db.FlushAsync()
	h2 := db.FlushAsync()
	require.NoError(t, h1.Wait(ctx))
	require.NoError(t, h2.Wait(ctx))
	assert.NoError(t, h1.Err())
	assert.NoError(t, h2.Err())
}
