// Package segment implements the physical storage layer of one entity: its
// append-only segment files, the rotation thresholds of the active segment,
// and the compaction and cleanup passes that keep the file set bounded.
//
// The manager mutates descriptors through the entity's metadata store but
// never persists them itself; flushing the store is the caller's concern.
// Structural mutations (write, append, compact, cleanup) assume the caller
// serializes them per entity.
package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/strataio/strata/cache"
	"github.com/strataio/strata/codec"
	"github.com/strataio/strata/fio"
	"github.com/strataio/strata/meta"
)

const bytesPerMB = 1024 * 1024

// Limits are the rotation thresholds of an entity's active segment. A
// segment that reaches either limit stops accepting appends.
type Limits struct {
	MaxSizeMB  float64
	MaxRecords int64
}

// DefaultLimits returns the engine defaults.
func DefaultLimits() Limits {
	return Limits{MaxSizeMB: 16, MaxRecords: 10000}
}

func (l Limits) normalized() Limits {
	def := DefaultLimits()
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = def.MaxSizeMB
	}
	if l.MaxRecords <= 0 {
		l.MaxRecords = def.MaxRecords
	}
	return l
}

// Document is the on-disk shape of one segment file.
type Document[T any] struct {
	Records      []T       `json:"records"`
	LastModified time.Time `json:"last_modified"`
}

// Batch reports which segment a slice of records was placed into during a
// bulk append. Record positions within the segment follow slice order.
type Batch[T any] struct {
	SegmentID uint64
	Records   []T
}

// CompactStats summarizes one compaction pass.
type CompactStats struct {
	Merged  int // source segments folded into merged ones
	Created int // merged segments written
	Emptied int // record-less segments retired
}

// Manager owns the segment files of one entity.
type Manager[T any] struct {
	handler fio.Handler
	codec   codec.Codec
	store   *meta.EntityStore
	limits  Limits
	idOf    func(T) (int64, error)
	blocks  cache.BlockCache
}

// NewManager creates a manager on top of the entity's metadata store. idOf
// extracts the logical record id used for segment id ranges.
func NewManager[T any](handler fio.Handler, c codec.Codec, store *meta.EntityStore, limits Limits, idOf func(T) (int64, error)) *Manager[T] {
	return &Manager[T]{
		handler: handler,
		codec:   c,
		store:   store,
		limits:  limits.normalized(),
		idOf:    idOf,
	}
}

// Limits returns the rotation thresholds in effect.
func (m *Manager[T]) Limits() Limits { return m.limits }

// UseCache routes segment file reads through bc. Set it before the manager
// serves reads; it is not safe to swap while reads are in flight.
func (m *Manager[T]) UseCache(bc cache.BlockCache) { m.blocks = bc }

// ActiveID returns the id of the segment accepting appends. When the
// current active segment has reached a limit it is sealed and a fresh one
// allocated; the second return reports that rotation.
func (m *Manager[T]) ActiveID(ctx context.Context) (uint64, bool, error) {
	var id uint64
	var rotated bool
	err := m.store.Mutate(ctx, func(md *meta.EntityMetadata) error {
		if active := md.ActiveSegment(); active != nil {
			if !m.full(*active) {
				id = active.ID
				return nil
			}
			active.State = meta.SegmentSealed
			active.ModifiedAt = time.Now().UTC()
			rotated = true
		}
		id = allocate(md, m.store.SegmentFileName(md.NextSegmentID))
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return id, rotated, nil
}

func (m *Manager[T]) full(s meta.SegmentInfo) bool {
	return s.RecordCount >= m.limits.MaxRecords || s.SizeMB >= m.limits.MaxSizeMB
}

// allocate appends a fresh active descriptor and advances the sequence.
func allocate(md *meta.EntityMetadata, fileName string) uint64 {
	id := md.NextSegmentID
	md.NextSegmentID++
	now := time.Now().UTC()
	md.UpsertSegment(meta.SegmentInfo{
		ID:         id,
		FileName:   fileName,
		State:      meta.SegmentActive,
		CreatedAt:  now,
		ModifiedAt: now,
	})
	return id
}

// Read returns the records of a segment. File content is verified against
// the descriptor checksum before decoding. When the document as a whole no
// longer decodes, records are salvaged one by one so a single bad record
// cannot take down a scan.
func (m *Manager[T]) Read(ctx context.Context, id uint64) ([]T, error) {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	desc := snap.Segment(id)
	var key cache.Key
	if m.blocks != nil && desc != nil {
		key = cache.Key{
			Entity:    m.store.Entity(),
			SegmentID: id,
			Records:   desc.RecordCount,
			Modified:  desc.ModifiedAt.UnixNano(),
		}
		if data, ok := m.blocks.Get(key); ok {
			return m.decode(data, id)
		}
	}

	path := m.store.SegmentPath(m.store.SegmentFileName(id))
	data, err := m.handler.ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment %d: %w", id, err)
	}
	if len(data) == 0 {
		return []T{}, nil
	}

	if desc != nil {
		if err := meta.VerifyChecksum(data, desc.Checksum); err != nil {
			return nil, fmt.Errorf("segment %d: %w", id, err)
		}
		// Only verified content is cached, keyed by the descriptor
		// revision it was verified against.
		if m.blocks != nil {
			m.blocks.Set(key, data)
		}
	}
	return m.decode(data, id)
}

func (m *Manager[T]) decode(data []byte, id uint64) ([]T, error) {
	var doc Document[T]
	if err := m.codec.Unmarshal(data, &doc); err != nil {
		return m.salvage(data, id, err)
	}
	if doc.Records == nil {
		return []T{}, nil
	}
	return doc.Records, nil
}

// salvage decodes the record array element-wise, skipping records that no
// longer match the type.
func (m *Manager[T]) salvage(data []byte, id uint64, cause error) ([]T, error) {
	var probe struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := m.codec.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode segment %d: %w", id, cause)
	}
	records := make([]T, 0, len(probe.Records))
	for _, raw := range probe.Records {
		var rec T
		if err := m.codec.Unmarshal(raw, &rec); err == nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

// written captures what a segment file write produced, for its descriptor.
type written struct {
	count    int64
	sizeMB   float64
	checksum string
	minID    int64
	maxID    int64
}

func (m *Manager[T]) writeDoc(ctx context.Context, fileName string, records []T) (written, error) {
	if records == nil {
		records = []T{}
	}
	doc := Document[T]{Records: records, LastModified: time.Now().UTC()}
	data, err := m.codec.Marshal(doc)
	if err != nil {
		return written{}, fmt.Errorf("failed to encode segment %s: %w", fileName, err)
	}
	minID, maxID, err := m.idRange(records)
	if err != nil {
		return written{}, err
	}

	path := m.store.SegmentPath(fileName)
	if err := m.handler.WriteFile(ctx, path, data); err != nil {
		return written{}, fmt.Errorf("failed to write segment %s: %w", fileName, err)
	}
	sizeBytes, err := m.handler.Size(path)
	if err != nil {
		return written{}, err
	}
	return written{
		count:    int64(len(records)),
		sizeMB:   float64(sizeBytes) / bytesPerMB,
		checksum: meta.Checksum(data),
		minID:    minID,
		maxID:    maxID,
	}, nil
}

func (m *Manager[T]) idRange(records []T) (int64, int64, error) {
	var minID, maxID int64
	for i, rec := range records {
		id, err := m.idOf(rec)
		if err != nil {
			return 0, 0, err
		}
		if i == 0 || id < minID {
			minID = id
		}
		if i == 0 || id > maxID {
			maxID = id
		}
	}
	return minID, maxID, nil
}

// Write replaces the full contents of a segment and refreshes its
// descriptor. A canceled context fails before any bytes are written, so a
// rewrite either begins with time to finish or not at all.
func (m *Manager[T]) Write(ctx context.Context, id uint64, records []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fileName := m.store.SegmentFileName(id)
	w, err := m.writeDoc(ctx, fileName, records)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return m.store.Mutate(ctx, func(md *meta.EntityMetadata) error {
		desc := md.Segment(id)
		if desc == nil {
			md.UpsertSegment(meta.SegmentInfo{
				ID:        id,
				FileName:  fileName,
				State:     meta.SegmentSealed,
				CreatedAt: now,
			})
			desc = md.Segment(id)
		}
		desc.RecordCount = w.count
		desc.SizeMB = w.sizeMB
		desc.MinID = w.minID
		desc.MaxID = w.maxID
		desc.Checksum = w.checksum
		desc.ModifiedAt = now
		return nil
	})
}

// Append distributes records across fresh segments, at most the record
// limit per segment, without touching the current contents of any existing
// segment. The previous active segment is sealed (or dropped when it never
// received a record); the final chunk's segment stays active when it has
// room left. Files are written before any descriptor is published, so a
// crash mid-append leaves only orphan files that later writes replace.
func (m *Manager[T]) Append(ctx context.Context, records []T) ([]Batch[T], error) {
	if len(records) == 0 {
		return nil, nil
	}
	limit := int(m.limits.MaxRecords)

	var nextID uint64
	var emptyActive string
	err := m.store.View(ctx, func(md *meta.EntityMetadata) error {
		nextID = md.NextSegmentID
		if a := md.ActiveSegment(); a != nil && a.RecordCount == 0 {
			emptyActive = a.FileName
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	infos := make([]meta.SegmentInfo, 0, len(records)/limit+1)
	batches := make([]Batch[T], 0, cap(infos))
	for start := 0; start < len(records); start += limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + limit
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		id := nextID
		nextID++
		fileName := m.store.SegmentFileName(id)
		w, err := m.writeDoc(ctx, fileName, chunk)
		if err != nil {
			return nil, err
		}

		state := meta.SegmentSealed
		if len(chunk) < limit {
			state = meta.SegmentActive
		}
		infos = append(infos, meta.SegmentInfo{
			ID:          id,
			FileName:    fileName,
			State:       state,
			RecordCount: w.count,
			SizeMB:      w.sizeMB,
			MinID:       w.minID,
			MaxID:       w.maxID,
			Checksum:    w.checksum,
			CreatedAt:   now,
			ModifiedAt:  now,
		})
		batches = append(batches, Batch[T]{SegmentID: id, Records: chunk})
	}

	err = m.store.Mutate(ctx, func(md *meta.EntityMetadata) error {
		if a := md.ActiveSegment(); a != nil {
			if a.FileName == emptyActive {
				md.RemoveSegment(a.FileName)
			} else {
				a.State = meta.SegmentSealed
				a.ModifiedAt = now
			}
		}
		for _, info := range infos {
			md.UpsertSegment(info)
		}
		if nextID > md.NextSegmentID {
			md.NextSegmentID = nextID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if emptyActive != "" {
		_ = m.handler.Remove(m.store.SegmentPath(emptyActive))
	}
	return batches, nil
}

// Retire marks a live segment inactive and removes its file, used when a
// delete empties a sealed segment. The inactive descriptor stays as a
// tombstone until cleanup prunes it. Retiring an unknown or already
// inactive segment is a no-op.
func (m *Manager[T]) Retire(ctx context.Context, id uint64) error {
	var fileName string
	err := m.store.Mutate(ctx, func(md *meta.EntityMetadata) error {
		desc := md.Segment(id)
		if desc == nil || !desc.Live() {
			return nil
		}
		desc.State = meta.SegmentInactive
		desc.RecordCount = 0
		desc.SizeMB = 0
		desc.ModifiedAt = time.Now().UTC()
		fileName = desc.FileName
		return nil
	})
	if err != nil {
		return err
	}
	if fileName != "" {
		_ = m.handler.Remove(m.store.SegmentPath(fileName))
	}
	return nil
}

// Compact folds undersized sealed segments together and retires segments
// that no longer hold records. It runs in three phases so the heavy file
// I/O happens between two short metadata critical sections: snapshot and
// plan, merge, commit. Only segments adjacent in id-range order merge, so
// the merged range can never jump across a segment that stays.
func (m *Manager[T]) Compact(ctx context.Context) (CompactStats, error) {
	var stats CompactStats

	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return stats, err
	}

	var emptied []string
	live := make([]meta.SegmentInfo, 0, len(snap.Segments))
	for _, seg := range snap.Segments {
		if !seg.Live() {
			continue
		}
		if seg.RecordCount == 0 && seg.State == meta.SegmentSealed {
			emptied = append(emptied, seg.FileName)
			continue
		}
		live = append(live, seg)
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].MinID != live[j].MinID {
			return live[i].MinID < live[j].MinID
		}
		return live[i].ID < live[j].ID
	})
	groups := m.planGroups(live)

	if len(groups) == 0 && len(emptied) == 0 {
		return stats, nil
	}

	type merge struct {
		info    meta.SegmentInfo
		sources []string
	}
	merges := make([]merge, 0, len(groups))
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var combined []T
		sources := make([]string, 0, len(group))
		for _, seg := range group {
			recs, err := m.Read(ctx, seg.ID)
			if err != nil {
				return stats, err
			}
			combined = append(combined, recs...)
			sources = append(sources, seg.FileName)
		}

		var id uint64
		err := m.store.Mutate(ctx, func(md *meta.EntityMetadata) error {
			id = md.NextSegmentID
			md.NextSegmentID++
			return nil
		})
		if err != nil {
			return stats, err
		}

		fileName := m.store.SegmentFileName(id)
		w, err := m.writeDoc(ctx, fileName, combined)
		if err != nil {
			return stats, err
		}
		now := time.Now().UTC()
		merges = append(merges, merge{
			info: meta.SegmentInfo{
				ID:          id,
				FileName:    fileName,
				State:       meta.SegmentSealed,
				RecordCount: w.count,
				SizeMB:      w.sizeMB,
				MinID:       w.minID,
				MaxID:       w.maxID,
				Checksum:    w.checksum,
				CreatedAt:   now,
				ModifiedAt:  now,
			},
			sources: sources,
		})
	}

	var obsolete []string
	err = m.store.Mutate(ctx, func(md *meta.EntityMetadata) error {
		now := time.Now().UTC()
		retire := func(fileName string) {
			for i := range md.Segments {
				seg := &md.Segments[i]
				if seg.FileName != fileName || !seg.Live() {
					continue
				}
				seg.State = meta.SegmentInactive
				seg.RecordCount = 0
				seg.SizeMB = 0
				seg.ModifiedAt = now
				obsolete = append(obsolete, fileName)
			}
		}
		for _, mg := range merges {
			md.UpsertSegment(mg.info)
			for _, src := range mg.sources {
				retire(src)
				stats.Merged++
			}
			stats.Created++
		}
		for _, fileName := range emptied {
			retire(fileName)
			stats.Emptied++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	// Retired files go away immediately; the inactive descriptors stay as
	// tombstones until cleanup prunes them.
	for _, fileName := range obsolete {
		_ = m.handler.Remove(m.store.SegmentPath(fileName))
	}
	return stats, nil
}

// planGroups walks the live segments in range order and greedily groups
// adjacent undersized sealed segments, closing a group whenever the merged
// result would exceed a limit or a segment that cannot merge sits in
// between. Only groups of two or more are worth a merge.
func (m *Manager[T]) planGroups(live []meta.SegmentInfo) [][]meta.SegmentInfo {
	var groups [][]meta.SegmentInfo
	var cur []meta.SegmentInfo
	var count int64
	var sizeMB float64

	flush := func() {
		if len(cur) >= 2 {
			groups = append(groups, cur)
		}
		cur, count, sizeMB = nil, 0, 0
	}
	for _, seg := range live {
		if seg.State != meta.SegmentSealed || !m.undersized(seg) {
			flush()
			continue
		}
		if len(cur) > 0 && (count+seg.RecordCount > m.limits.MaxRecords || sizeMB+seg.SizeMB > m.limits.MaxSizeMB) {
			flush()
		}
		cur = append(cur, seg)
		count += seg.RecordCount
		sizeMB += seg.SizeMB
	}
	flush()
	return groups
}

func (m *Manager[T]) undersized(s meta.SegmentInfo) bool {
	return s.RecordCount < m.limits.MaxRecords/2 && s.SizeMB < m.limits.MaxSizeMB/2
}

// CleanupOlderThan removes inactive segments whose last state change lies
// before the cutoff: first the file, then the descriptor, so a crash in
// between leaves only a tombstone the next pass prunes. Returns the number
// of segments removed.
func (m *Manager[T]) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, seg := range snap.Segments {
		if seg.Live() || !seg.ModifiedAt.Before(cutoff) {
			continue
		}
		if err := m.handler.Remove(m.store.SegmentPath(seg.FileName)); err != nil {
			return removed, fmt.Errorf("failed to remove segment %s: %w", seg.FileName, err)
		}
		fileName := seg.FileName
		if err := m.store.Mutate(ctx, func(md *meta.EntityMetadata) error {
			md.RemoveSegment(fileName)
			return nil
		}); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// IDs returns the live segment ids in ascending order.
func (m *Manager[T]) IDs(ctx context.Context) ([]uint64, error) {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(snap.Segments))
	for _, seg := range snap.Segments {
		if seg.Live() {
			ids = append(ids, seg.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// RemoveAll deletes every segment file of the entity, descriptor-listed or
// stray. Resetting the metadata afterwards is the caller's move.
func (m *Manager[T]) RemoveAll(ctx context.Context) error {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, seg := range snap.Segments {
		if err := m.handler.Remove(m.store.SegmentPath(seg.FileName)); err != nil {
			return fmt.Errorf("failed to remove segment %s: %w", seg.FileName, err)
		}
	}

	// Orphans from interrupted bulk loads.
	pattern := filepath.Join(m.store.Dir(), "segment_*"+m.handler.Ext())
	matches, err := m.handler.Glob(pattern)
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := m.handler.Remove(path); err != nil {
			return fmt.Errorf("failed to remove segment file %s: %w", path, err)
		}
	}
	return nil
}
