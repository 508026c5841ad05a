package strata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/strataio/strata/cache"
	"github.com/strataio/strata/codec"
	"github.com/strataio/strata/fio"
	"github.com/strataio/strata/index"
	"github.com/strataio/strata/meta"
	"github.com/strataio/strata/resource"
	"github.com/strataio/strata/segment"
)

// Database is a handle to one database directory. It owns the global
// metadata store, the flush worker and a registry of entity collections.
// Multiple Database instances over different directories are fully isolated.
//
// A Database is safe for concurrent use. Close it when done; operations on a
// closed database return ErrClosed.
type Database struct {
	cfg       Config
	handler   fio.Handler
	codec     codec.Codec
	logger    *Logger
	metrics   MetricsCollector
	audit     AuditSink
	resources *resource.Controller
	blocks    *cache.LRU

	global  *meta.GlobalStore
	flusher *flusher

	mu       sync.Mutex
	entities map[string]entityHandle
	order    []string

	closed atomic.Bool
}

// entityHandle is the type-erased view of a collection the database operates
// through. Registered entities are backed by a Collection[T], discovered but
// unregistered ones by a rawHandle.
type entityHandle interface {
	Name() string
	Stats(ctx context.Context) (EntityStatistics, error)
	FlushAsync() *FlushHandle
	Validate(ctx context.Context) (meta.ValidationResult, error)
	Repair(ctx context.Context) ([]string, error)
	RebuildIndex(ctx context.Context) error

	cleanup(ctx context.Context, cutoff time.Time) (int, error)
	reload(ctx context.Context) error
	acquire(ctx context.Context) error
	release()
}

// Open validates the configuration, creates the directory layout on first
// use, loads or creates the global metadata and discovers already registered
// entities.
func Open(cfg Config, opts ...Option) (*Database, error) {
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	handler, err := cfg.newHandler()
	if err != nil {
		return nil, err
	}

	cdc := o.codec
	if cdc == nil {
		named, ok := codec.ByName(cfg.Codec)
		if !ok {
			return nil, &ConfigError{Field: "codec", Reason: fmt.Sprintf("unknown codec %q", cfg.Codec)}
		}
		cdc = named
	}

	db := &Database{
		cfg:       cfg,
		handler:   handler,
		codec:     cdc,
		logger:    o.logger,
		metrics:   o.metrics,
		audit:     o.audit,
		resources: o.resources,
		entities:  make(map[string]entityHandle),
	}
	db.blocks = cache.NewLRU(int64(cfg.SegmentCacheMB)*1024*1024, db.resources)

	// The encryption mode of a directory is permanent. Detect a mismatch by
	// the opposite-mode metadata file before the store fails with a decode
	// error.
	oppositeExt := ".sde"
	if cfg.EncryptionEnabled {
		oppositeExt = ".json"
	}
	opposite := filepath.Join(db.dataDir(), meta.MetadataFileName(oppositeExt))
	if ok, err := handler.Exists(opposite); err == nil && ok {
		return nil, fmt.Errorf("database at %s was created with encrypted=%t, opened with encrypted=%t",
			cfg.BasePath, !cfg.EncryptionEnabled, cfg.EncryptionEnabled)
	}

	for _, dir := range []string{db.dataDir(), db.tempsDir(), db.backupsDir(), db.logsDir()} {
		if err := handler.EnsureDir(dir); err != nil {
			return nil, err
		}
	}

	ctx := context.Background()
	db.global = meta.NewGlobalStore(handler, cdc, db.dataDir(), cfg.EncryptionEnabled)
	if _, err := db.global.Load(ctx); err != nil {
		return nil, err
	}
	if err := db.global.SnapshotConfig(ctx, cfg.Snapshot()); err != nil {
		return nil, err
	}
	if err := db.global.Save(ctx); err != nil {
		return nil, err
	}

	if err := db.discover(ctx); err != nil {
		return nil, err
	}

	db.flusher = newFlusher(cfg.FlushQueueDepth)

	db.emit(ctx, "database_opened", AuditLifecycle, map[string]any{
		"path": cfg.BasePath, "encrypted": cfg.EncryptionEnabled, "entities": len(db.entities),
	})
	db.logger.InfoContext(ctx, "database opened",
		"path", cfg.BasePath,
		"encrypted", cfg.EncryptionEnabled,
		"indexing", cfg.IndexingEnabled,
		"entities", len(db.entities),
	)
	return db, nil
}

// discover registers raw handles for every entity known to the global
// document or present on disk, so stats and maintenance cover entities no
// one has registered a type for yet.
func (db *Database) discover(ctx context.Context) error {
	snap, err := db.global.Snapshot(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(snap.Entities))
	for _, e := range snap.Entities {
		names[e.Name] = true
	}

	// Entity directories can exist before their global registration was
	// persisted; pick those up from disk.
	pattern := filepath.Join(db.dataDir(), "*", meta.MetadataFileName(db.handler.Ext()))
	matches, err := db.handler.Glob(pattern)
	if err != nil {
		return err
	}
	for _, m := range matches {
		names[filepath.Base(filepath.Dir(m))] = true
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)
	for _, name := range ordered {
		db.entities[name] = db.newRawHandle(name)
		db.order = append(db.order, name)
	}
	return nil
}

func (db *Database) dataDir() string    { return filepath.Join(db.cfg.BasePath, "datamodels") }
func (db *Database) tempsDir() string   { return filepath.Join(db.cfg.BasePath, "temps") }
func (db *Database) backupsDir() string { return filepath.Join(db.cfg.BasePath, "backups") }
func (db *Database) logsDir() string    { return filepath.Join(db.cfg.BasePath, "logs") }

func (db *Database) entityDir(name string) string {
	return filepath.Join(db.dataDir(), name)
}

// BasePath returns the database root directory.
func (db *Database) BasePath() string { return db.cfg.BasePath }

// Config returns the effective configuration.
func (db *Database) Config() Config { return db.cfg }

func (db *Database) emit(ctx context.Context, name string, cat AuditCategory, fields map[string]any) {
	db.audit.Emit(ctx, AuditEvent{Name: name, Category: cat, Fields: fields, At: time.Now().UTC()})
}

// handles returns the entity handles in registration order.
func (db *Database) handles() []entityHandle {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]entityHandle, 0, len(db.order))
	for _, name := range db.order {
		out = append(out, db.entities[name])
	}
	return out
}

// Entities returns the known entity names, registered or discovered, in
// registration order.
func (db *Database) Entities() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, len(db.order))
	copy(out, db.order)
	return out
}

// Register binds a record type and its schema to an entity name and returns
// the typed collection. Registering the same name and type again returns the
// existing collection; a different type fails. The entity's metadata
// directory is created on first registration and the schema snapshot stored
// in it.
func Register[T any](ctx context.Context, db *Database, name string, schema *index.Schema[T]) (*Collection[T], error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	if name == "" {
		return nil, &ConfigError{Field: "entity", Reason: "must not be empty"}
	}
	if schema == nil {
		return nil, &ConfigError{Field: "schema", Reason: "must not be nil"}
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if existing, ok := db.entities[name]; ok {
		if c, ok := existing.(*Collection[T]); ok {
			return c, nil
		}
		if _, raw := existing.(*rawHandle); !raw {
			return nil, &EntityTypeError{Entity: name}
		}
		// Drain queued saves of the discovery-time handle so the typed store
		// loads the persisted state.
		if err := db.flusher.Barrier().Wait(ctx); err != nil {
			return nil, err
		}
	}

	idField, err := schema.IDField(name)
	if err != nil {
		return nil, err
	}

	c := &Collection[T]{
		name:      name,
		schema:    schema,
		idField:   idField,
		global:    db.global,
		flusher:   db.flusher,
		resources: db.resources,
		logger:    db.logger,
		metrics:   db.metrics,
		audit:     db.audit,
		writeSem:  semaphore.NewWeighted(1),
		closed:    &db.closed,
	}
	c.idOf = func(rec T) (int64, error) { return index.RecordID(idField, rec) }

	dir := db.entityDir(name)
	if err := db.handler.EnsureDir(dir); err != nil {
		return nil, err
	}
	c.store = meta.NewEntityStore(db.handler, db.codec, dir, name)
	c.segments = segment.NewManager(db.handler, db.codec, c.store, segment.Limits{
		MaxSizeMB:  db.cfg.MaxSegmentSizeMB,
		MaxRecords: db.cfg.MaxRecordsPerSegment,
	}, c.idOf)
	c.segments.UseCache(db.blocks)

	if _, err := c.store.Load(ctx); err != nil {
		return nil, err
	}
	if err := c.recordSchema(ctx); err != nil {
		return nil, err
	}

	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if db.cfg.IndexingEnabled {
		c.index = index.NewManager(db.handler, db.codec, dir, name, schema, idField)
		if err := c.index.Load(ctx); err != nil {
			return nil, err
		}
		// No persisted index but records on disk: indexing was off before,
		// or the index file is gone. Rebuild from segments.
		if c.index.EntryCount() == 0 && snap.TotalRecords > 0 {
			if err := c.rebuildLocked(ctx); err != nil {
				return nil, err
			}
		}
	}

	registered, err := db.global.RegisterEntity(ctx, snap.Descriptor())
	if err != nil {
		return nil, err
	}

	if _, known := db.entities[name]; !known {
		db.order = append(db.order, name)
	}
	db.entities[name] = c

	if registered {
		db.emit(ctx, "entity_registered", AuditLifecycle, map[string]any{
			"entity": name, "properties": len(schema.Fields()),
		})
		db.logger.InfoContext(ctx, "entity registered",
			"entity", name,
			"id_field", idField.Name,
			"properties", len(schema.Fields()),
		)
	}

	if err := c.enqueuePersist().Wait(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// FlushAsync returns a handle that completes once every metadata save queued
// before the call has run.
func (db *Database) FlushAsync() *FlushHandle {
	if db.closed.Load() {
		return completedHandle(ErrClosed)
	}
	return db.flusher.Barrier()
}

// Flush blocks until every pending metadata save across all entities has
// run.
func (db *Database) Flush(ctx context.Context) error {
	return db.FlushAsync().Wait(ctx)
}

// Stats aggregates per-entity statistics into a database-wide summary. It
// takes no entity locks; numbers may lag concurrent mutations.
func (db *Database) Stats(ctx context.Context) (DatabaseStatistics, error) {
	if db.closed.Load() {
		return DatabaseStatistics{}, ErrClosed
	}
	gsnap, err := db.global.Snapshot(ctx)
	if err != nil {
		return DatabaseStatistics{}, err
	}

	stats := DatabaseStatistics{
		BasePath:    db.cfg.BasePath,
		Encrypted:   gsnap.Encrypted,
		CollectedAt: time.Now().UTC(),
	}
	for _, h := range db.handles() {
		es, err := h.Stats(ctx)
		if err != nil {
			return stats, err
		}
		stats.Entities = append(stats.Entities, es)
		stats.TotalRecords += es.RecordCount
		stats.TotalSizeMB += es.TotalSizeMB
	}
	stats.TotalEntities = len(stats.Entities)
	return stats, nil
}

// Validate checks the global document and every entity's metadata, merging
// the findings under per-scope prefixes.
func (db *Database) Validate(ctx context.Context) (meta.ValidationResult, error) {
	if db.closed.Load() {
		return meta.ValidationResult{}, ErrClosed
	}

	var res meta.ValidationResult
	gres, err := db.global.Validate(ctx)
	if err != nil {
		return res, err
	}
	res.Merge("global", gres)

	for _, h := range db.handles() {
		er, err := h.Validate(ctx)
		if err != nil {
			return res, err
		}
		res.Merge(h.Name(), er)
	}
	return res, nil
}

// Repair runs best-effort repair over every entity and then the global
// document, in that order so corrected entity totals flow into the global
// aggregates. Returns every applied action, prefixed with its scope.
func (db *Database) Repair(ctx context.Context) ([]string, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	var actions []string
	for _, h := range db.handles() {
		acts, err := h.Repair(ctx)
		for _, a := range acts {
			actions = append(actions, h.Name()+": "+a)
		}
		if err != nil {
			return actions, err
		}
	}

	// Entity repairs queue delta updates; settle them before the global
	// aggregates are recomputed.
	if err := db.flusher.Barrier().Wait(ctx); err != nil {
		return actions, err
	}

	gacts, err := db.global.Repair(ctx)
	for _, a := range gacts {
		actions = append(actions, "global: "+a)
	}
	if err != nil {
		return actions, err
	}
	if len(gacts) > 0 {
		if err := db.global.Save(ctx); err != nil {
			return actions, err
		}
	}

	if len(actions) > 0 {
		db.emit(ctx, "database_repaired", AuditMetadata, map[string]any{"actions": len(actions)})
	}
	db.logger.LogRepair(ctx, "database", actions)
	return actions, nil
}

// RebuildIndexes regenerates every registered entity's index from its
// segments. Returns ErrIndexingDisabled when the database runs without
// indexes.
func (db *Database) RebuildIndexes(ctx context.Context) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if !db.cfg.IndexingEnabled {
		return ErrIndexingDisabled
	}
	for _, h := range db.handles() {
		if err := h.RebuildIndex(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the flush queue, bounded by CloseTimeout, then persists the
// global document. Entity state settles before the global document, the
// reverse of the order Open acquired them in. Close is idempotent; shutdown
// proceeds even when the queue does not drain in time.
func (db *Database) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	ctx := context.Background()

	drainErr := db.flusher.Close(db.cfg.CloseTimeout.Std())
	saveErr := db.global.Save(ctx)
	// The resource controller may outlive the database, so hand back the
	// memory the block cache reserved from it.
	db.blocks.Purge()

	db.emit(ctx, "database_closed", AuditLifecycle, map[string]any{
		"path": db.cfg.BasePath, "drained": drainErr == nil,
	})
	db.logger.InfoContext(ctx, "database closed",
		"path", db.cfg.BasePath,
		"drained", drainErr == nil,
	)
	return errors.Join(drainErr, saveErr)
}

// rawHandle operates on a discovered entity no type was registered for.
// Records stay opaque payloads; metadata-level operations (stats,
// validation, repair, segment cleanup) work without the record type.
type rawHandle struct {
	db       *Database
	name     string
	store    *meta.EntityStore
	segments *segment.Manager[json.RawMessage]
	writeSem *semaphore.Weighted
}

func (db *Database) newRawHandle(name string) *rawHandle {
	store := meta.NewEntityStore(db.handler, db.codec, db.entityDir(name), name)
	segments := segment.NewManager(db.handler, db.codec, store, segment.Limits{
		MaxSizeMB:  db.cfg.MaxSegmentSizeMB,
		MaxRecords: db.cfg.MaxRecordsPerSegment,
	}, func(json.RawMessage) (int64, error) {
		return 0, fmt.Errorf("entity %s is not registered", name)
	})
	segments.UseCache(db.blocks)
	return &rawHandle{db: db, name: name, store: store, segments: segments, writeSem: semaphore.NewWeighted(1)}
}

func (h *rawHandle) Name() string { return h.name }

func (h *rawHandle) Stats(ctx context.Context) (EntityStatistics, error) {
	snap, err := h.store.Snapshot(ctx)
	if err != nil {
		return EntityStatistics{}, err
	}
	stats := EntityStatistics{
		Name:         h.name,
		RecordCount:  snap.TotalRecords,
		SegmentCount: len(snap.LiveSegments()),
		TotalSizeMB:  snap.TotalSizeMB,
		CreatedAt:    snap.CreatedAt,
		ModifiedAt:   snap.ModifiedAt,
	}
	if active := snap.ActiveSegment(); active != nil {
		stats.ActiveSegmentID = active.ID
	}
	return stats, nil
}

func (h *rawHandle) FlushAsync() *FlushHandle {
	return h.db.flusher.Barrier()
}

func (h *rawHandle) Validate(ctx context.Context) (meta.ValidationResult, error) {
	return h.store.Validate(ctx)
}

func (h *rawHandle) Repair(ctx context.Context) ([]string, error) {
	actions, err := h.store.Repair(ctx)
	if err != nil {
		return actions, err
	}
	if len(actions) > 0 {
		h.enqueuePersist()
	}
	h.db.logger.LogRepair(ctx, h.name, actions)
	return actions, nil
}

// RebuildIndex is a no-op without a registered schema; the index is rebuilt
// when the entity gets registered.
func (h *rawHandle) RebuildIndex(context.Context) error { return nil }

func (h *rawHandle) cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	removed, err := h.segments.CleanupOlderThan(ctx, cutoff)
	if err != nil || removed == 0 {
		return removed, err
	}
	h.enqueuePersist()
	return removed, nil
}

func (h *rawHandle) reload(ctx context.Context) error {
	return h.store.Reload(ctx)
}

func (h *rawHandle) acquire(ctx context.Context) error { return h.writeSem.Acquire(ctx, 1) }

func (h *rawHandle) release() { h.writeSem.Release(1) }

func (h *rawHandle) enqueuePersist() *FlushHandle {
	return h.db.flusher.Enqueue(func(ctx context.Context) error {
		start := time.Now()
		err := h.persist(ctx)
		h.db.metrics.RecordFlush(time.Since(start), err)
		h.db.logger.LogFlush(ctx, h.name, err)
		return err
	})
}

func (h *rawHandle) persist(ctx context.Context) error {
	if err := h.store.Save(ctx); err != nil {
		return err
	}
	snap, err := h.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := h.db.global.ApplyEntityDelta(ctx, snap.Descriptor()); err != nil {
		return err
	}
	return h.db.global.Save(ctx)
}
