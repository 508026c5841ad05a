package meta

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataio/strata/codec"
	"github.com/strataio/strata/fio"
)

func newTestGlobalStore(t *testing.T) *GlobalStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "datamodels")
	return NewGlobalStore(fio.NewLocal(), codec.Default, dir, false)
}

func TestGlobalStore_RegisterIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestGlobalStore(t)

	added, err := s.RegisterEntity(ctx, EntityDescriptor{Name: "Order", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.RegisterEntity(ctx, EntityDescriptor{Name: "Order"})
	require.NoError(t, err)
	assert.False(t, added)

	g, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, g.TotalEntities)
}

func TestGlobalStore_Unregister(t *testing.T) {
	ctx := context.Background()
	s := newTestGlobalStore(t)

	_, err := s.RegisterEntity(ctx, EntityDescriptor{Name: "Order", RecordCount: 10, SizeMB: 0.1})
	require.NoError(t, err)

	removed, err := s.UnregisterEntity(ctx, "Order")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.UnregisterEntity(ctx, "Order")
	require.NoError(t, err)
	assert.False(t, removed)

	g, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, g.TotalEntities)
	assert.Zero(t, g.TotalRecords)
}

// Applying k random deltas must leave the aggregates exactly equal to a
// direct recomputation over the entity list.
func TestGlobalStore_DeltaAggregationNeverDrifts(t *testing.T) {
	ctx := context.Background()
	s := newTestGlobalStore(t)
	rng := rand.New(rand.NewSource(11))

	names := []string{"Order", "Customer", "Product", "Invoice"}
	for i := 0; i < 300; i++ {
		name := names[rng.Intn(len(names))]
		require.NoError(t, s.ApplyEntityDelta(ctx, EntityDescriptor{
			Name:         name,
			RecordCount:  int64(rng.Intn(10_000)),
			SegmentCount: rng.Intn(20),
			SizeMB:       float64(rng.Intn(1000)) / 64,
		}))
	}

	g, err := s.Load(ctx)
	require.NoError(t, err)

	var sumRecords int64
	var sumSize float64
	for _, e := range g.Entities {
		sumRecords += e.RecordCount
		sumSize += e.SizeMB
	}
	assert.Equal(t, sumRecords, g.TotalRecords)
	assert.InDelta(t, sumSize, g.TotalSizeMB, 0.001)
	assert.Equal(t, len(g.Entities), g.TotalEntities)

	res := g.Validate()
	assert.True(t, res.OK(), "%v", res.Errors)
}

func TestGlobalStore_SaveReload(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "datamodels")
	s := NewGlobalStore(fio.NewLocal(), codec.Default, dir, false)

	_, err := s.RegisterEntity(ctx, EntityDescriptor{Name: "Order", RecordCount: 5, SizeMB: 0.05})
	require.NoError(t, err)
	require.NoError(t, s.SnapshotConfig(ctx, map[string]any{"max_segment_size_mb": 100}))
	require.NoError(t, s.Save(ctx))

	fresh := NewGlobalStore(fio.NewLocal(), codec.Default, dir, false)
	g, err := fresh.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, g.Entity("Order"))
	assert.Equal(t, int64(5), g.TotalRecords)
	assert.Contains(t, g.Config, "max_segment_size_mb")
}

func TestGlobalStore_EncryptionFlagMismatch(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "datamodels")

	s := NewGlobalStore(fio.NewLocal(), codec.Default, dir, false)
	_, err := s.RegisterEntity(ctx, EntityDescriptor{Name: "Order"})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx))

	wrong := NewGlobalStore(fio.NewLocal(), codec.Default, dir, true)
	_, err = wrong.Load(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encrypted")
}

func TestGlobalStore_Repair(t *testing.T) {
	ctx := context.Background()
	s := newTestGlobalStore(t)

	_, err := s.RegisterEntity(ctx, EntityDescriptor{Name: "Order", RecordCount: 10, SizeMB: 0.1})
	require.NoError(t, err)

	// Corrupt the aggregates behind the store's back.
	g, err := s.Load(ctx)
	require.NoError(t, err)
	g.TotalRecords = 999
	g.TotalEntities = 7

	actions, err := s.Repair(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, actions)

	g, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), g.TotalRecords)
	assert.Equal(t, 1, g.TotalEntities)

	res := g.Validate()
	assert.True(t, res.OK(), "%v", res.Errors)
}
