package strata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/strataio/strata/index"
	"github.com/strataio/strata/meta"
	"github.com/strataio/strata/resource"
	"github.com/strataio/strata/segment"
)

const bytesPerMB = 1 << 20

// Collection is the typed per-entity surface of the database. It composes the
// entity's segment manager, index manager and metadata store behind one API.
//
// All structural mutations (Insert, Update, Delete, Clear, Optimize,
// RebuildIndex) are serialized through a per-entity semaphore, so segments,
// index and metadata always move in lockstep. Reads take no lock; a read
// racing a write may observe the state between a segment write and the
// matching index update.
//
// Mutations return once segments and index are updated; the metadata save is
// queued on the database's flush worker. Flush awaits everything queued so
// far. Metadata is recomputable from segment contents, so a crash before a
// queued save loses bookkeeping, not records.
type Collection[T any] struct {
	name    string
	schema  *index.Schema[T]
	idField index.Field[T]
	idOf    func(T) (int64, error)

	store    *meta.EntityStore
	segments *segment.Manager[T]
	index    *index.Manager[T] // nil when indexing is disabled

	global    *meta.GlobalStore
	flusher   *flusher
	resources *resource.Controller
	logger    *Logger
	metrics   MetricsCollector
	audit     AuditSink

	writeSem *semaphore.Weighted
	closed   *atomic.Bool
}

// Name returns the entity name.
func (c *Collection[T]) Name() string { return c.name }

func (c *Collection[T]) guard() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *Collection[T]) lock(ctx context.Context) error {
	return c.writeSem.Acquire(ctx, 1)
}

func (c *Collection[T]) unlock() { c.writeSem.Release(1) }

func (c *Collection[T]) emit(ctx context.Context, name string, cat AuditCategory, fields map[string]any) {
	c.audit.Emit(ctx, AuditEvent{Name: name, Category: cat, Fields: fields, At: time.Now().UTC()})
}

// enqueuePersist queues the durable part of a mutation: entity metadata,
// index document, and the global aggregate delta.
func (c *Collection[T]) enqueuePersist() *FlushHandle {
	return c.flusher.Enqueue(func(ctx context.Context) error {
		start := time.Now()
		err := c.persist(ctx)
		c.metrics.RecordFlush(time.Since(start), err)
		c.logger.LogFlush(ctx, c.name, err)
		return err
	})
}

func (c *Collection[T]) persist(ctx context.Context) error {
	if err := c.store.Save(ctx); err != nil {
		return err
	}
	if c.index != nil {
		if err := c.index.Save(ctx); err != nil {
			return err
		}
	}
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := c.global.ApplyEntityDelta(ctx, snap.Descriptor()); err != nil {
		return err
	}
	if err := c.global.Save(ctx); err != nil {
		return err
	}
	c.emit(ctx, "metadata_saved", AuditMetadata, map[string]any{"entity": c.name})
	return nil
}

// recordSchema snapshots the declared property set into the entity metadata.
func (c *Collection[T]) recordSchema(ctx context.Context) error {
	props := make([]meta.PropertyInfo, 0, len(c.schema.Fields()))
	for _, f := range c.schema.Fields() {
		props = append(props, meta.PropertyInfo{Name: f.Name, Type: f.Kind.String()})
	}
	return c.store.Mutate(ctx, func(md *meta.EntityMetadata) error {
		md.Properties = props
		return nil
	})
}

// Insert appends records to the entity's active segment, rotating to fresh
// segments as thresholds are reached, and indexes them.
func (c *Collection[T]) Insert(ctx context.Context, records ...T) error {
	if err := c.guard(); err != nil {
		return err
	}
	start := time.Now()
	err := c.insert(ctx, records)
	c.metrics.RecordInsert(c.name, len(records), time.Since(start), err)
	c.logger.LogInsert(ctx, c.name, len(records), err)
	return err
}

func (c *Collection[T]) insert(ctx context.Context, records []T) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	remaining := records
	for len(remaining) > 0 {
		id, rotated, err := c.segments.ActiveID(ctx)
		if err != nil {
			return err
		}
		if rotated {
			c.logger.LogRotation(ctx, c.name, id)
			c.emit(ctx, "segment_rotated", AuditSegment, map[string]any{"entity": c.name, "segment": id})
		}

		// ActiveID never returns a full segment, so capacity is at least 1.
		var count int64
		err = c.store.View(ctx, func(md *meta.EntityMetadata) error {
			if desc := md.Segment(id); desc != nil {
				count = desc.RecordCount
			}
			return nil
		})
		if err != nil {
			return err
		}
		take := len(remaining)
		if capacity := c.segments.Limits().MaxRecords - count; int64(take) > capacity {
			take = int(capacity)
		}
		chunk := remaining[:take]

		var current []T
		if count > 0 {
			current, err = c.segments.Read(ctx, id)
			if err != nil {
				return err
			}
		}
		if err := c.segments.Write(ctx, id, append(current, chunk...)); err != nil {
			return err
		}
		if c.index != nil {
			if err := c.index.Add(id, int(count), chunk); err != nil {
				return err
			}
		}
		remaining = remaining[take:]
	}

	c.enqueuePersist()
	return nil
}

// BulkInsert loads records in batches without rewriting the active segment
// per call: every batch lands in fresh segments. batchSize <= 0 uses the
// segment record limit.
func (c *Collection[T]) BulkInsert(ctx context.Context, records []T, batchSize int) error {
	if err := c.guard(); err != nil {
		return err
	}
	start := time.Now()
	segs, err := c.bulkInsert(ctx, records, batchSize)
	c.metrics.RecordInsert(c.name, len(records), time.Since(start), err)
	c.logger.LogBulkInsert(ctx, c.name, len(records), segs, err)
	return err
}

func (c *Collection[T]) bulkInsert(ctx context.Context, records []T, batchSize int) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = int(c.segments.Limits().MaxRecords)
	}
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.unlock()

	segs := 0
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		batches, err := c.segments.Append(ctx, records[start:end])
		if err != nil {
			return segs, err
		}
		for _, b := range batches {
			if c.index != nil {
				if err := c.index.Add(b.SegmentID, 0, b.Records); err != nil {
					return segs, err
				}
			}
			segs++
		}
	}

	c.emit(ctx, "bulk_insert", AuditSegment, map[string]any{
		"entity": c.name, "records": len(records), "segments": segs,
	})
	c.enqueuePersist()
	return segs, nil
}

// Update replaces stored records carrying the same ids and re-indexes the
// changed subset. Records whose id is not stored are skipped. Returns the
// number of records updated.
func (c *Collection[T]) Update(ctx context.Context, records ...T) (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	start := time.Now()
	updated, err := c.update(ctx, records)
	c.metrics.RecordUpdate(c.name, updated, time.Since(start), err)
	c.logger.LogUpdate(ctx, c.name, updated, err)
	return updated, err
}

func (c *Collection[T]) update(ctx context.Context, records []T) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	replacements := make(map[int64]T, len(records))
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		id, err := c.idOf(rec)
		if err != nil {
			return 0, err
		}
		if _, ok := replacements[id]; !ok {
			ids = append(ids, id)
		}
		replacements[id] = rec
	}

	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.unlock()

	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	updated := make(map[int64]bool, len(ids))
	for _, segID := range c.candidateSegments(&snap, ids) {
		recs, err := c.segments.Read(ctx, segID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return len(updated), err
		}

		var touched []T
		var positions []int
		for i, rec := range recs {
			id, err := c.idOf(rec)
			if err != nil {
				return len(updated), err
			}
			repl, ok := replacements[id]
			if !ok {
				continue
			}
			recs[i] = repl
			touched = append(touched, repl)
			positions = append(positions, i)
			updated[id] = true
		}
		if len(touched) == 0 {
			continue
		}

		if err := c.segments.Write(ctx, segID, recs); err != nil {
			return len(updated), err
		}
		if c.index != nil {
			for i, rec := range touched {
				if err := c.index.Update(rec, segID, positions[i]); err != nil {
					return len(updated), err
				}
			}
		}
	}

	if len(updated) > 0 {
		c.enqueuePersist()
	}
	return len(updated), nil
}

// Delete removes the records with the given ids from every segment they
// appear in and drops all their index entries. Absent ids are skipped, not
// an error. Returns the number of records removed.
func (c *Collection[T]) Delete(ctx context.Context, ids ...int64) (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	start := time.Now()
	removed, err := c.delete(ctx, ids)
	c.metrics.RecordDelete(c.name, removed, time.Since(start), err)
	c.logger.LogDelete(ctx, c.name, removed, err)
	return removed, err
}

func (c *Collection[T]) delete(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.unlock()
	return c.deleteLocked(ctx, ids)
}

func (c *Collection[T]) deleteLocked(ctx context.Context, ids []int64) (int, error) {
	victims := make(map[int64]bool, len(ids))
	for _, id := range ids {
		victims[id] = true
	}

	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	removed := make(map[int64]bool)
	for _, segID := range c.candidateSegments(&snap, ids) {
		desc := snap.Segment(segID)
		if desc == nil || !desc.Live() {
			continue
		}
		recs, err := c.segments.Read(ctx, segID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return len(removed), err
		}

		kept := recs[:0]
		dropped := false
		for _, rec := range recs {
			id, err := c.idOf(rec)
			if err != nil {
				return len(removed), err
			}
			if victims[id] {
				removed[id] = true
				dropped = true
				continue
			}
			kept = append(kept, rec)
		}
		if !dropped {
			continue
		}

		// A sealed segment emptied by the delete is retired instead of being
		// rewritten empty; only the active segment may sit empty.
		if len(kept) == 0 && desc.State == meta.SegmentSealed {
			if err := c.segments.Retire(ctx, segID); err != nil {
				return len(removed), err
			}
			c.emit(ctx, "segment_retired", AuditSegment, map[string]any{"entity": c.name, "segment": segID})
			continue
		}
		if err := c.segments.Write(ctx, segID, kept); err != nil {
			return len(removed), err
		}
	}

	if len(removed) > 0 {
		if c.index != nil {
			removedIDs := make([]int64, 0, len(removed))
			for id := range removed {
				removedIDs = append(removedIDs, id)
			}
			c.index.Remove(removedIDs...)
		}
		c.enqueuePersist()
	}
	return len(removed), nil
}

// DeleteWhere removes every record matching the predicate. Returns the number
// of records removed.
func (c *Collection[T]) DeleteWhere(ctx context.Context, pred func(T) bool) (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	start := time.Now()
	removed, err := c.deleteWhere(ctx, pred)
	c.metrics.RecordDelete(c.name, removed, time.Since(start), err)
	c.logger.LogDelete(ctx, c.name, removed, err)
	return removed, err
}

func (c *Collection[T]) deleteWhere(ctx context.Context, pred func(T) bool) (int, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.unlock()

	var ids []int64
	segIDs, err := c.segments.IDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, segID := range segIDs {
		recs, err := c.segments.Read(ctx, segID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, err
		}
		for _, rec := range recs {
			if !pred(rec) {
				continue
			}
			id, err := c.idOf(rec)
			if err != nil {
				return 0, err
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return c.deleteLocked(ctx, ids)
}

// candidateSegments returns the live segments that could hold any of the
// given ids: the segments the index places them in, plus the segments whose
// id range covers them. The union copes with index entries gone stale.
func (c *Collection[T]) candidateSegments(snap *meta.EntityMetadata, ids []int64) []uint64 {
	set := make(map[uint64]bool)
	for _, id := range ids {
		for _, seg := range snap.SegmentsContaining(id) {
			set[seg.ID] = true
		}
	}
	if c.index != nil {
		for _, id := range ids {
			entries, err := c.index.FindByProperty(c.idField.Name, index.Int(id))
			if err != nil {
				continue
			}
			for _, e := range entries {
				set[e.SegmentID] = true
			}
		}
	}
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetByID returns the record with the given id, or ErrNotFound.
func (c *Collection[T]) GetByID(ctx context.Context, id int64) (T, error) {
	var zero T
	if err := c.guard(); err != nil {
		return zero, err
	}
	start := time.Now()
	rec, err := c.getByID(ctx, id)
	c.metrics.RecordQuery(c.name, "get_by_id", time.Since(start), err)
	// A clean miss is a result, not a failure worth an error log.
	if !errors.Is(err, ErrNotFound) {
		results := 0
		if err == nil {
			results = 1
		}
		c.logger.LogQuery(ctx, c.name, "get_by_id", results, err)
	}
	return rec, err
}

func (c *Collection[T]) getByID(ctx context.Context, id int64) (T, error) {
	var zero T
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return zero, err
	}

	type hit struct {
		seg uint64
		pos int
	}
	var hits []hit
	indexed := make(map[uint64]bool)
	if c.index != nil {
		entries, err := c.index.FindByProperty(c.idField.Name, index.Int(id))
		if err != nil {
			return zero, err
		}
		for _, e := range entries {
			hits = append(hits, hit{seg: e.SegmentID, pos: e.Position})
			indexed[e.SegmentID] = true
		}
	}
	for _, seg := range snap.SegmentsContaining(id) {
		if !indexed[seg.ID] {
			hits = append(hits, hit{seg: seg.ID, pos: -1})
		}
	}

	scanned := make(map[uint64]bool, len(hits))
	for _, h := range hits {
		if scanned[h.seg] {
			continue
		}
		recs, err := c.segments.Read(ctx, h.seg)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return zero, err
		}
		// Entry positions can go stale between index and segment updates;
		// confirm by id, falling back to a scan of the segment.
		if h.pos >= 0 && h.pos < len(recs) {
			rid, err := c.idOf(recs[h.pos])
			if err != nil {
				return zero, err
			}
			if rid == id {
				return recs[h.pos], nil
			}
		}
		for _, rec := range recs {
			rid, err := c.idOf(rec)
			if err != nil {
				return zero, err
			}
			if rid == id {
				return rec, nil
			}
		}
		scanned[h.seg] = true
	}
	return zero, fmt.Errorf("%w: %s id %d", ErrNotFound, c.name, id)
}

// GetAll returns every record, in segment order. Segments are read
// concurrently; the result order follows segment ids.
func (c *Collection[T]) GetAll(ctx context.Context) ([]T, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := c.getAll(ctx)
	c.metrics.RecordQuery(c.name, "get_all", time.Since(start), err)
	c.logger.LogQuery(ctx, c.name, "get_all", len(out), err)
	return out, err
}

func (c *Collection[T]) getAll(ctx context.Context) ([]T, error) {
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	live := snap.LiveSegments()
	if len(live) == 0 {
		return []T{}, nil
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })

	budget := c.resources.MemoryBudget(int64(snap.TotalSizeMB * bytesPerMB))
	if err := c.resources.AcquireMemory(ctx, budget); err != nil {
		return nil, err
	}
	defer c.resources.ReleaseMemory(budget)

	results := make([][]T, len(live))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, seg := range live {
		g.Go(func() error {
			recs, err := c.segments.Read(gctx, seg.ID)
			if err != nil {
				// Compaction may remove a segment between snapshot and read.
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]T, 0, snap.TotalRecords)
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}

// Scan returns an iterator over all records in segment order. It reads one
// segment at a time, so memory stays bounded by segment size.
func (c *Collection[T]) Scan(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if err := c.guard(); err != nil {
			yield(zero, err)
			return
		}
		ids, err := c.segments.IDs(ctx)
		if err != nil {
			yield(zero, err)
			return
		}
		for _, id := range ids {
			recs, err := c.segments.Read(ctx, id)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				yield(zero, err)
				return
			}
			for _, rec := range recs {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

// Find returns every record matching the predicate, by full scan.
func (c *Collection[T]) Find(ctx context.Context, pred func(T) bool) ([]T, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := c.find(ctx, pred)
	c.metrics.RecordQuery(c.name, "find", time.Since(start), err)
	c.logger.LogQuery(ctx, c.name, "find", len(out), err)
	return out, err
}

func (c *Collection[T]) find(ctx context.Context, pred func(T) bool) ([]T, error) {
	out := []T{}
	for rec, err := range c.Scan(ctx) {
		if err != nil {
			return nil, err
		}
		if pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindByProperty returns the records whose property equals the value.
// Requires indexing; returns ErrIndexingDisabled otherwise.
func (c *Collection[T]) FindByProperty(ctx context.Context, name string, value index.Value) ([]T, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if c.index == nil {
		return nil, ErrIndexingDisabled
	}
	start := time.Now()
	out, err := c.findEntries(ctx, func() ([]index.Entry, error) {
		return c.index.FindByProperty(name, value)
	})
	c.metrics.RecordQuery(c.name, "find_by_property", time.Since(start), err)
	c.logger.LogQuery(ctx, c.name, "find_by_property", len(out), err)
	return out, err
}

// FindByProperties returns the records matching every given property/value
// condition. Requires indexing; returns ErrIndexingDisabled otherwise.
func (c *Collection[T]) FindByProperties(ctx context.Context, conds map[string]index.Value) ([]T, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if c.index == nil {
		return nil, ErrIndexingDisabled
	}
	start := time.Now()
	out, err := c.findEntries(ctx, func() ([]index.Entry, error) {
		return c.index.FindByProperties(conds)
	})
	c.metrics.RecordQuery(c.name, "find_by_properties", time.Since(start), err)
	c.logger.LogQuery(ctx, c.name, "find_by_properties", len(out), err)
	return out, err
}

// FindByRange returns the records whose property value lies in [min, max],
// ordered by index entry creation. Requires indexing; returns
// ErrIndexingDisabled otherwise.
func (c *Collection[T]) FindByRange(ctx context.Context, name string, min, max index.Value) ([]T, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if c.index == nil {
		return nil, ErrIndexingDisabled
	}
	start := time.Now()
	out, err := c.findEntries(ctx, func() ([]index.Entry, error) {
		return c.index.FindByRange(name, min, max)
	})
	c.metrics.RecordQuery(c.name, "find_by_range", time.Since(start), err)
	c.logger.LogQuery(ctx, c.name, "find_by_range", len(out), err)
	return out, err
}

func (c *Collection[T]) findEntries(ctx context.Context, query func() ([]index.Entry, error)) ([]T, error) {
	entries, err := query()
	if err != nil {
		return nil, err
	}
	return c.materialize(ctx, entries)
}

// materialize resolves index entries to records, preserving entry order.
// Entries whose segment or position went stale are confirmed by record id
// and dropped when the record is gone.
func (c *Collection[T]) materialize(ctx context.Context, entries []index.Entry) ([]T, error) {
	out := []T{}
	if len(entries) == 0 {
		return out, nil
	}

	cache := make(map[uint64][]T)
	load := func(segID uint64) ([]T, error) {
		if recs, ok := cache[segID]; ok {
			return recs, nil
		}
		recs, err := c.segments.Read(ctx, segID)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			recs = nil
		}
		cache[segID] = recs
		return recs, nil
	}

	type identity struct {
		id  int64
		seg uint64
	}
	seen := make(map[identity]bool, len(entries))
	for _, e := range entries {
		ident := identity{id: e.RecordID, seg: e.SegmentID}
		if seen[ident] {
			continue
		}
		recs, err := load(e.SegmentID)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			continue
		}
		if e.Position >= 0 && e.Position < len(recs) {
			rid, err := c.idOf(recs[e.Position])
			if err != nil {
				return nil, err
			}
			if rid == e.RecordID {
				seen[ident] = true
				out = append(out, recs[e.Position])
				continue
			}
		}
		for _, rec := range recs {
			rid, err := c.idOf(rec)
			if err != nil {
				return nil, err
			}
			if rid == e.RecordID {
				seen[ident] = true
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

// DistinctValues returns the distinct indexed values of a property, sorted.
// Requires indexing; returns ErrIndexingDisabled otherwise.
func (c *Collection[T]) DistinctValues(name string) ([]index.Value, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if c.index == nil {
		return nil, ErrIndexingDisabled
	}
	return c.index.DistinctValues(name)
}

// CountByProperty returns the number of index entries per distinct value of
// a property. Requires indexing; returns ErrIndexingDisabled otherwise.
func (c *Collection[T]) CountByProperty(name string) (map[string]int, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if c.index == nil {
		return nil, ErrIndexingDisabled
	}
	return c.index.CountByProperty(name)
}

// Count returns the number of stored records, from metadata totals.
func (c *Collection[T]) Count(ctx context.Context) (int64, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.TotalRecords, nil
}

// CountWhere returns the number of records matching the predicate.
func (c *Collection[T]) CountWhere(ctx context.Context, pred func(T) bool) (int64, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	var n int64
	for rec, err := range c.Scan(ctx) {
		if err != nil {
			return 0, err
		}
		if pred(rec) {
			n++
		}
	}
	return n, nil
}

// Any reports whether the entity holds any record.
func (c *Collection[T]) Any(ctx context.Context) (bool, error) {
	n, err := c.Count(ctx)
	return n > 0, err
}

// AnyWhere reports whether any record matches the predicate. The scan stops
// at the first match.
func (c *Collection[T]) AnyWhere(ctx context.Context, pred func(T) bool) (bool, error) {
	if err := c.guard(); err != nil {
		return false, err
	}
	for rec, err := range c.Scan(ctx) {
		if err != nil {
			return false, err
		}
		if pred(rec) {
			return true, nil
		}
	}
	return false, nil
}

// Clear removes every record and segment file and resets the index, keeping
// the entity registered with its schema.
func (c *Collection[T]) Clear(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	if err := c.segments.RemoveAll(ctx); err != nil {
		return err
	}
	if err := c.store.Reset(ctx); err != nil {
		return err
	}
	if err := c.recordSchema(ctx); err != nil {
		return err
	}
	if c.index != nil {
		c.index.Reset()
	}

	c.emit(ctx, "entity_cleared", AuditSegment, map[string]any{"entity": c.name})
	c.enqueuePersist()
	return nil
}

// Optimize compacts the entity's segments and brings the index back in line:
// after a structural compaction the index is rebuilt from the surviving
// segments, otherwise it is de-duplicated in place.
func (c *Collection[T]) Optimize(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}
	start := time.Now()
	stats, err := c.optimize(ctx)
	c.metrics.RecordCompaction(c.name, stats.Merged, time.Since(start))
	c.logger.LogCompaction(ctx, c.name, stats.Merged, stats.Created, stats.Emptied, err)
	return err
}

func (c *Collection[T]) optimize(ctx context.Context) (segment.CompactStats, error) {
	var stats segment.CompactStats
	if err := c.lock(ctx); err != nil {
		return stats, err
	}
	defer c.unlock()

	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return stats, err
	}
	// Compaction buffers whole merge groups; reserve for the worst case.
	budget := c.resources.MemoryBudget(int64(snap.TotalSizeMB * bytesPerMB))
	if err := c.resources.AcquireMemory(ctx, budget); err != nil {
		return stats, err
	}
	defer c.resources.ReleaseMemory(budget)

	err = c.resources.Do(ctx, func() error {
		var err error
		stats, err = c.segments.Compact(ctx)
		return err
	})
	if err != nil {
		return stats, err
	}

	if c.index != nil {
		if stats.Merged > 0 || stats.Emptied > 0 {
			// Entries still point at the segments compaction removed.
			if err := c.rebuildLocked(ctx); err != nil {
				return stats, err
			}
		} else {
			c.index.Optimize()
		}
	}

	c.emit(ctx, "segments_compacted", AuditSegment, map[string]any{
		"entity": c.name, "merged": stats.Merged, "created": stats.Created, "emptied": stats.Emptied,
	})
	c.enqueuePersist()
	return stats, nil
}

// RebuildIndex wipes the index and regenerates it from the segments.
// Requires indexing; returns ErrIndexingDisabled otherwise.
func (c *Collection[T]) RebuildIndex(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}
	if c.index == nil {
		return ErrIndexingDisabled
	}
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	if err := c.rebuildLocked(ctx); err != nil {
		return err
	}
	c.enqueuePersist()
	return nil
}

func (c *Collection[T]) rebuildLocked(ctx context.Context) error {
	c.index.Reset()
	ids, err := c.segments.IDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		recs, err := c.segments.Read(ctx, id)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		if err := c.index.Add(id, 0, recs); err != nil {
			return err
		}
	}
	return nil
}

// FlushAsync returns a handle that completes once every metadata save queued
// before the call has run.
func (c *Collection[T]) FlushAsync() *FlushHandle {
	if err := c.guard(); err != nil {
		return completedHandle(err)
	}
	return c.flusher.Barrier()
}

// Flush blocks until every pending metadata save has run.
func (c *Collection[T]) Flush(ctx context.Context) error {
	return c.FlushAsync().Wait(ctx)
}

// Validate checks the entity metadata for consistency errors and warnings.
func (c *Collection[T]) Validate(ctx context.Context) (meta.ValidationResult, error) {
	if err := c.guard(); err != nil {
		return meta.ValidationResult{}, err
	}
	return c.store.Validate(ctx)
}

// Repair reconciles the entity metadata with the segment files on disk and
// rebuilds the index when anything changed. Returns the applied actions.
func (c *Collection[T]) Repair(ctx context.Context) ([]string, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()

	actions, err := c.store.Repair(ctx)
	if err != nil {
		return actions, err
	}
	if len(actions) > 0 {
		if c.index != nil {
			if err := c.rebuildLocked(ctx); err != nil {
				return actions, err
			}
		}
		c.emit(ctx, "metadata_repaired", AuditMetadata, map[string]any{
			"entity": c.name, "actions": len(actions),
		})
		c.enqueuePersist()
	}
	c.logger.LogRepair(ctx, c.name, actions)
	return actions, nil
}

// Stats summarizes the entity's storage footprint.
func (c *Collection[T]) Stats(ctx context.Context) (EntityStatistics, error) {
	if err := c.guard(); err != nil {
		return EntityStatistics{}, err
	}
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return EntityStatistics{}, err
	}

	stats := EntityStatistics{
		Name:         c.name,
		RecordCount:  snap.TotalRecords,
		SegmentCount: len(snap.LiveSegments()),
		TotalSizeMB:  snap.TotalSizeMB,
		CreatedAt:    snap.CreatedAt,
		ModifiedAt:   snap.ModifiedAt,
	}
	if active := snap.ActiveSegment(); active != nil {
		stats.ActiveSegmentID = active.ID
	}
	if c.index != nil {
		stats.IndexedProperties = c.index.PropertyNames()
		stats.IndexEntries = c.index.EntryCount()
	}
	return stats, nil
}

// cleanup prunes inactive segment tombstones older than the cutoff.
func (c *Collection[T]) cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	removed, err := c.segments.CleanupOlderThan(ctx, cutoff)
	if err != nil || removed == 0 {
		return removed, err
	}
	c.enqueuePersist()
	return removed, nil
}

// reload re-reads metadata and index from disk after a restore replaced the
// files underneath.
func (c *Collection[T]) reload(ctx context.Context) error {
	if err := c.store.Reload(ctx); err != nil {
		return err
	}
	if c.index != nil {
		return c.index.Load(ctx)
	}
	return nil
}

func (c *Collection[T]) acquire(ctx context.Context) error { return c.lock(ctx) }

func (c *Collection[T]) release() { c.unlock() }
