// Package meta owns the durable bookkeeping of the storage engine: one
// metadata document per entity describing its segments, and one global
// document aggregating across entities. Stores in this package are the only
// writers of those documents.
package meta

import (
	"fmt"
	"time"
)

// MetadataVersion is the current on-disk document version.
const MetadataVersion = 1

// SegmentState is the lifecycle state of a segment.
//
// A segment is born active (the append target), becomes sealed when rotation
// moves appends to a successor, and inactive once compaction has emptied it.
// Inactive segments hold no live records and are physically removed by
// cleanup.
type SegmentState string

const (
	SegmentActive   SegmentState = "active"
	SegmentSealed   SegmentState = "sealed"
	SegmentInactive SegmentState = "inactive"
)

// SegmentInfo describes a single segment file.
type SegmentInfo struct {
	ID          uint64       `json:"id"`
	FileName    string       `json:"file_name"`
	State       SegmentState `json:"state"`
	RecordCount int64        `json:"record_count"`
	SizeMB      float64      `json:"size_mb"`
	MinID       int64        `json:"min_id"`
	MaxID       int64        `json:"max_id"`
	Checksum    string       `json:"checksum,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ModifiedAt  time.Time    `json:"modified_at"`
}

// Live reports whether the segment still holds records that count toward
// entity totals.
func (s SegmentInfo) Live() bool { return s.State != SegmentInactive }

// HasRange reports whether the segment has a meaningful id range.
func (s SegmentInfo) HasRange() bool { return s.RecordCount > 0 }

// Overlaps reports whether two non-empty segments have intersecting id
// ranges.
func (s SegmentInfo) Overlaps(o SegmentInfo) bool {
	if !s.HasRange() || !o.HasRange() {
		return false
	}
	return s.MinID <= o.MaxID && o.MinID <= s.MaxID
}

// PropertyInfo is one entry of an entity's indexed-property schema snapshot.
type PropertyInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// EntityMetadata is the per-entity metadata document.
type EntityMetadata struct {
	Version       int            `json:"version"`
	Entity        string         `json:"entity"`
	SchemaVersion int            `json:"schema_version"`
	Properties    []PropertyInfo `json:"properties,omitempty"`
	TotalRecords  int64          `json:"total_records"`
	TotalSizeMB   float64        `json:"total_size_mb"`
	NextSegmentID uint64         `json:"next_segment_id"`
	Segments      []SegmentInfo  `json:"segments"`
	CreatedAt     time.Time      `json:"created_at"`
	ModifiedAt    time.Time      `json:"modified_at"`
}

// NewEntityMetadata returns a fresh document for the named entity.
func NewEntityMetadata(entity string) *EntityMetadata {
	now := time.Now().UTC()
	return &EntityMetadata{
		Version:       MetadataVersion,
		Entity:        entity,
		SchemaVersion: 1,
		NextSegmentID: 1,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
}

// ActiveSegment returns the segment currently accepting appends, or nil.
func (m *EntityMetadata) ActiveSegment() *SegmentInfo {
	for i := range m.Segments {
		if m.Segments[i].State == SegmentActive {
			return &m.Segments[i]
		}
	}
	return nil
}

// Segment returns the descriptor with the given id, or nil.
func (m *EntityMetadata) Segment(id uint64) *SegmentInfo {
	for i := range m.Segments {
		if m.Segments[i].ID == id {
			return &m.Segments[i]
		}
	}
	return nil
}

// LiveSegments returns the descriptors that still hold records, in id order.
func (m *EntityMetadata) LiveSegments() []SegmentInfo {
	live := make([]SegmentInfo, 0, len(m.Segments))
	for _, s := range m.Segments {
		if s.Live() {
			live = append(live, s)
		}
	}
	return live
}

// SegmentsContaining returns the live segments whose id range could hold
// the given record id, in descriptor order.
func (m *EntityMetadata) SegmentsContaining(id int64) []SegmentInfo {
	out := make([]SegmentInfo, 0, 1)
	for _, s := range m.Segments {
		if s.Live() && s.HasRange() && s.MinID <= id && id <= s.MaxID {
			out = append(out, s)
		}
	}
	return out
}

// UpsertSegment replaces the descriptor with the same file name or appends a
// new one. Calling it twice with the same descriptor is a no-op.
func (m *EntityMetadata) UpsertSegment(info SegmentInfo) {
	for i := range m.Segments {
		if m.Segments[i].FileName == info.FileName {
			m.Segments[i] = info
			return
		}
	}
	m.Segments = append(m.Segments, info)
}

// RemoveSegment removes the descriptor with the given file name. Removing an
// unknown file name is a no-op and reports false.
func (m *EntityMetadata) RemoveSegment(fileName string) bool {
	for i := range m.Segments {
		if m.Segments[i].FileName == fileName {
			m.Segments = append(m.Segments[:i], m.Segments[i+1:]...)
			return true
		}
	}
	return false
}

// Recompute re-derives the entity totals from the live segment descriptors.
// It runs after every segment mutation so the totals invariant holds at each
// persisted state.
func (m *EntityMetadata) Recompute() {
	var records int64
	var sizeMB float64
	for _, s := range m.Segments {
		if s.Live() {
			records += s.RecordCount
			sizeMB += s.SizeMB
		}
	}
	m.TotalRecords = records
	m.TotalSizeMB = sizeMB
}

// Touch stamps the modification time.
func (m *EntityMetadata) Touch() { m.ModifiedAt = timeNowUTC() }

func timeNowUTC() time.Time { return time.Now().UTC() }

// EntityDescriptor is the global document's view of one entity.
type EntityDescriptor struct {
	Name         string    `json:"name"`
	RecordCount  int64     `json:"record_count"`
	SegmentCount int       `json:"segment_count"`
	SizeMB       float64   `json:"size_mb"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
}

// Descriptor condenses the entity document into its global-metadata form.
func (m *EntityMetadata) Descriptor() EntityDescriptor {
	live := 0
	for _, s := range m.Segments {
		if s.Live() {
			live++
		}
	}
	return EntityDescriptor{
		Name:         m.Entity,
		RecordCount:  m.TotalRecords,
		SegmentCount: live,
		SizeMB:       m.TotalSizeMB,
		CreatedAt:    m.CreatedAt,
		ModifiedAt:   m.ModifiedAt,
	}
}

// GlobalMetadata is the database-wide metadata document.
type GlobalMetadata struct {
	Version       int                `json:"version"`
	Encrypted     bool               `json:"encrypted"`
	TotalEntities int                `json:"total_entities"`
	TotalRecords  int64              `json:"total_records"`
	TotalSizeMB   float64            `json:"total_size_mb"`
	Entities      []EntityDescriptor `json:"entities"`
	Config        map[string]any     `json:"config,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	ModifiedAt    time.Time          `json:"modified_at"`
}

// NewGlobalMetadata returns a fresh global document.
func NewGlobalMetadata(encrypted bool) *GlobalMetadata {
	now := time.Now().UTC()
	return &GlobalMetadata{
		Version:    MetadataVersion,
		Encrypted:  encrypted,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// Entity returns the descriptor for the named entity, or nil.
func (g *GlobalMetadata) Entity(name string) *EntityDescriptor {
	for i := range g.Entities {
		if g.Entities[i].Name == name {
			return &g.Entities[i]
		}
	}
	return nil
}

// SegmentFileName builds the canonical file name for a segment sequence
// number, e.g. "segment_000042.json".
func SegmentFileName(id uint64, ext string) string {
	return fmt.Sprintf("segment_%06d%s", id, ext)
}

// MetadataFileName builds the metadata document file name for the given
// handler extension.
func MetadataFileName(ext string) string { return "metadata" + ext }
