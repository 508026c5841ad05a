package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataio/strata/codec"
	"github.com/strataio/strata/fio"
)

type order struct {
	ID     int64
	Status string
	Amount float64
}

func orderSchema(t *testing.T) *Schema[order] {
	t.Helper()
	s, err := NewSchema(
		Field[order]{Name: "Id", Kind: KindInt, Extract: func(o order) Value { return Int(o.ID) }},
		Field[order]{Name: "Status", Kind: KindString, Extract: func(o order) Value { return String(o.Status) }},
		Field[order]{Name: "Amount", Kind: KindFloat, Extract: func(o order) Value { return Float(o.Amount) }},
	)
	require.NoError(t, err)
	return s
}

func newTestManager(t *testing.T) *Manager[order] {
	t.Helper()
	s := orderSchema(t)
	idField, err := s.IDField("Order")
	require.NoError(t, err)
	return NewManager(fio.NewLocal(), codec.Default, t.TempDir(), "Order", s, idField)
}

func TestManager_AddAndFindByProperty(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add(1, 0, []order{
		{ID: 1, Status: "paid", Amount: 10},
		{ID: 2, Status: "open", Amount: 20},
		{ID: 3, Status: "paid", Amount: 30},
	}))

	entries, err := m.FindByProperty("Status", String("paid"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, uint64(1), e.SegmentID)
	}

	entries, err = m.FindByProperty("Status", String("canceled"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Positions follow the append offset.
	entries, err = m.FindByProperty("Id", Int(3))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Position)
}

func TestManager_UnknownProperty(t *testing.T) {
	m := newTestManager(t)

	_, err := m.FindByProperty("Color", String("red"))
	require.ErrorIs(t, err, ErrUnknownProperty)

	_, err = m.FindByProperties(map[string]Value{"Color": String("red")})
	require.ErrorIs(t, err, ErrUnknownProperty)

	_, err = m.FindByRange("Color", Int(0), Int(1))
	require.ErrorIs(t, err, ErrUnknownProperty)
}

func TestManager_RemoveDropsAllEntriesForID(t *testing.T) {
	m := newTestManager(t)

	// The same record id indexed twice (a stale duplicate after an update).
	require.NoError(t, m.Add(1, 0, []order{{ID: 1, Status: "open", Amount: 10}}))
	require.NoError(t, m.Add(2, 0, []order{{ID: 1, Status: "paid", Amount: 15}}))
	require.NoError(t, m.Add(2, 1, []order{{ID: 2, Status: "open", Amount: 20}}))

	removed := m.Remove(1)
	assert.Equal(t, 6, removed) // 2 stale copies x 3 properties

	for _, v := range []Value{String("open"), String("paid")} {
		entries, err := m.FindByProperty("Status", v)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotEqual(t, int64(1), e.RecordID)
		}
	}

	entries, err := m.FindByProperty("Id", Int(2))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Removing an unknown id is a no-op.
	assert.Zero(t, m.Remove(99))
}

func TestManager_FindByProperties(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add(1, 0, []order{
		{ID: 1, Status: "paid", Amount: 10},
		{ID: 2, Status: "paid", Amount: 20},
		{ID: 3, Status: "open", Amount: 10},
	}))

	entries, err := m.FindByProperties(map[string]Value{
		"Status": String("paid"),
		"Amount": Float(10),
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].RecordID)
}

func TestManager_FindByPropertiesShortCircuit(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add(1, 0, []order{{ID: 1, Status: "paid", Amount: 10}}))

	entries, err := m.FindByProperties(map[string]Value{
		"Status": String("paid"),
		"Amount": Float(999), // no posting list for this value
	})
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = m.FindByProperties(nil)
	require.Error(t, err)
}

func TestManager_FindByPropertiesIdentity(t *testing.T) {
	m := newTestManager(t)

	// Record id 1 appears in two segments (stale duplicate). Only the
	// segment where BOTH conditions hold may match.
	require.NoError(t, m.Add(1, 0, []order{{ID: 1, Status: "paid", Amount: 10}}))
	require.NoError(t, m.Add(2, 0, []order{{ID: 1, Status: "paid", Amount: 99}}))

	entries, err := m.FindByProperties(map[string]Value{
		"Status": String("paid"),
		"Amount": Float(10),
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].RecordID)
	assert.Equal(t, uint64(1), entries[0].SegmentID)
}

func TestManager_FindByRangeSortedByCreation(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add(1, 0, []order{{ID: 3, Status: "a", Amount: 30}}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, m.Add(1, 1, []order{{ID: 1, Status: "b", Amount: 10}}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, m.Add(1, 2, []order{{ID: 2, Status: "c", Amount: 20}}))

	entries, err := m.FindByRange("Amount", Float(10), Float(30))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Creation order, not value order.
	assert.Equal(t, int64(3), entries[0].RecordID)
	assert.Equal(t, int64(1), entries[1].RecordID)
	assert.Equal(t, int64(2), entries[2].RecordID)

	entries, err = m.FindByRange("Amount", Float(15), Float(25))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].RecordID)

	// Bounds of an incomparable kind match nothing.
	entries, err = m.FindByRange("Amount", String("x"), String("y"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_DistinctAndCounts(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add(1, 0, []order{
		{ID: 1, Status: "paid", Amount: 10},
		{ID: 2, Status: "open", Amount: 20},
		{ID: 3, Status: "paid", Amount: 10},
	}))

	values, err := m.DistinctValues("Status")
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "open", values[0].String())
	assert.Equal(t, "paid", values[1].String())

	counts, err := m.CountByProperty("Status")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[String("paid").Key()])
	assert.Equal(t, 1, counts[String("open").Key()])
}

func TestManager_Update(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add(1, 0, []order{{ID: 1, Status: "open", Amount: 10}}))
	require.NoError(t, m.Update(order{ID: 1, Status: "paid", Amount: 10}, 1, 0))

	entries, err := m.FindByProperty("Status", String("open"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = m.FindByProperty("Status", String("paid"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].RecordID)
}

func TestManager_Optimize(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add(1, 0, []order{{ID: 1, Status: "paid", Amount: 10}}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, m.Add(2, 5, []order{{ID: 1, Status: "paid", Amount: 10}}))

	entries, err := m.FindByProperty("Status", String("paid"))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	dropped := m.Optimize()
	assert.Equal(t, 3, dropped) // one stale copy per property

	entries, err = m.FindByProperty("Status", String("paid"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	// The most recently created entry survives.
	assert.Equal(t, uint64(2), entries[0].SegmentID)
	assert.Equal(t, 5, entries[0].Position)
}

func TestManager_SaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := orderSchema(t)
	idField, err := s.IDField("Order")
	require.NoError(t, err)

	m := NewManager(fio.NewLocal(), codec.Default, dir, "Order", s, idField)
	require.NoError(t, m.Add(1, 0, []order{
		{ID: 1, Status: "paid", Amount: 10},
		{ID: 2, Status: "open", Amount: 20},
	}))
	require.NoError(t, m.Save(ctx))

	fresh := NewManager(fio.NewLocal(), codec.Default, dir, "Order", s, idField)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, m.EntryCount(), fresh.EntryCount())

	entries, err := fresh.FindByProperty("Status", String("paid"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].RecordID)

	// Conjunctions work after reload (postings rebuilt).
	entries, err = fresh.FindByProperties(map[string]Value{
		"Status": String("open"),
		"Amount": Float(20),
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].RecordID)
}

func TestManager_LoadMissingFileIsEmpty(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load(context.Background()))
	assert.Zero(t, m.EntryCount())
}

func TestManager_Reset(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(1, 0, []order{{ID: 1, Status: "paid", Amount: 10}}))
	m.Reset()
	assert.Zero(t, m.EntryCount())
	assert.True(t, m.HasProperty("Status"))
}
