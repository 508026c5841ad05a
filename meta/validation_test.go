package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityValidate_OK(t *testing.T) {
	m := NewEntityMetadata("Order")
	m.UpsertSegment(seg(1, SegmentSealed, 100, 1.0, 1, 100))
	m.UpsertSegment(seg(2, SegmentActive, 10, 0.1, 101, 110))
	m.NextSegmentID = 3
	m.Recompute()

	res := m.Validate()
	assert.True(t, res.OK())
	assert.Empty(t, res.Warnings)
}

func TestEntityValidate_TotalsMismatchIsError(t *testing.T) {
	m := NewEntityMetadata("Order")
	m.UpsertSegment(seg(1, SegmentActive, 100, 1.0, 1, 100))
	m.NextSegmentID = 2
	m.Recompute()
	m.TotalRecords = 99

	res := m.Validate()
	assert.False(t, res.OK())
}

func TestEntityValidate_OverlapIsWarningOnly(t *testing.T) {
	m := NewEntityMetadata("Order")
	m.UpsertSegment(seg(1, SegmentSealed, 10, 0.1, 1, 100))
	m.UpsertSegment(seg(2, SegmentActive, 10, 0.1, 50, 150))
	m.NextSegmentID = 3
	m.Recompute()

	res := m.Validate()
	assert.True(t, res.OK(), "overlap must not fail validation: %v", res.Errors)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "overlapping id ranges")
}

func TestEntityValidate_InactiveOverlapIgnored(t *testing.T) {
	m := NewEntityMetadata("Order")
	m.UpsertSegment(seg(1, SegmentInactive, 10, 0.1, 1, 100))
	m.UpsertSegment(seg(2, SegmentActive, 10, 0.1, 50, 150))
	m.NextSegmentID = 3
	m.Recompute()

	res := m.Validate()
	assert.True(t, res.OK())
	assert.Empty(t, res.Warnings)
}

func TestEntityValidate_DuplicateFileNameIsError(t *testing.T) {
	m := NewEntityMetadata("Order")
	a := seg(1, SegmentSealed, 10, 0.1, 1, 10)
	b := seg(2, SegmentActive, 10, 0.1, 11, 20)
	b.FileName = a.FileName
	m.Segments = append(m.Segments, a, b)
	m.NextSegmentID = 3
	m.Recompute()

	res := m.Validate()
	assert.False(t, res.OK())
}

func TestEntityValidate_TwoActivesIsError(t *testing.T) {
	m := NewEntityMetadata("Order")
	m.UpsertSegment(seg(1, SegmentActive, 10, 0.1, 1, 10))
	m.UpsertSegment(seg(2, SegmentActive, 10, 0.1, 11, 20))
	m.NextSegmentID = 3
	m.Recompute()

	res := m.Validate()
	assert.False(t, res.OK())
}

func TestGlobalValidate(t *testing.T) {
	g := NewGlobalMetadata(false)
	g.Entities = []EntityDescriptor{
		{Name: "Order", RecordCount: 100, SizeMB: 1.0},
		{Name: "Customer", RecordCount: 50, SizeMB: 0.5},
	}
	g.TotalEntities = 2
	g.TotalRecords = 150
	g.TotalSizeMB = 1.5

	res := g.Validate()
	assert.True(t, res.OK())

	g.TotalRecords = 140
	res = g.Validate()
	assert.False(t, res.OK())
}

func TestValidationResult_Merge(t *testing.T) {
	var root ValidationResult
	var child ValidationResult
	child.AddError("broken")
	child.AddWarning("sketchy")

	root.Merge("Order", child)
	require.Len(t, root.Errors, 1)
	require.Len(t, root.Warnings, 1)
	assert.Equal(t, "Order: broken", root.Errors[0])
	assert.Equal(t, "Order: sketchy", root.Warnings[0])
}
