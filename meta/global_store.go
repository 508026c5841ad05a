package meta

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/strataio/strata/codec"
	"github.com/strataio/strata/fio"
)

// GlobalStore owns the database-wide metadata document. Entity-level changes
// arrive as descriptor replacements and are folded into the aggregates by
// delta; the store never recounts by walking entity files.
type GlobalStore struct {
	handler   fio.Handler
	codec     codec.Codec
	dir       string
	encrypted bool

	mu     sync.Mutex
	cached *GlobalMetadata
}

// NewGlobalStore creates a store for the datamodels directory.
func NewGlobalStore(handler fio.Handler, c codec.Codec, dir string, encrypted bool) *GlobalStore {
	return &GlobalStore{handler: handler, codec: c, dir: dir, encrypted: encrypted}
}

// Path returns the global metadata document path.
func (s *GlobalStore) Path() string {
	return filepath.Join(s.dir, MetadataFileName(s.handler.Ext()))
}

func (s *GlobalStore) loadLocked(ctx context.Context) error {
	if s.cached != nil {
		return nil
	}

	data, err := s.handler.ReadFile(ctx, s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.cached = NewGlobalMetadata(s.encrypted)
			return nil
		}
		return fmt.Errorf("failed to load global metadata: %w", err)
	}
	if len(data) == 0 {
		s.cached = NewGlobalMetadata(s.encrypted)
		return nil
	}

	var g GlobalMetadata
	if err := s.codec.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("failed to decode global metadata: %w", err)
	}
	if g.Version != MetadataVersion {
		return fmt.Errorf("unsupported global metadata version %d", g.Version)
	}
	if g.Encrypted != s.encrypted {
		return fmt.Errorf("database was written with encrypted=%t, opened with encrypted=%t", g.Encrypted, s.encrypted)
	}
	s.cached = &g
	return nil
}

// Load returns the cached document, reading or creating it on first use.
func (s *GlobalStore) Load(ctx context.Context) (*GlobalMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	return s.cached, nil
}

// Snapshot returns a deep copy for lock-free consumers.
func (s *GlobalStore) Snapshot(ctx context.Context) (GlobalMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return GlobalMetadata{}, err
	}
	out := *s.cached
	out.Entities = append([]EntityDescriptor(nil), s.cached.Entities...)
	return out, nil
}

// Reload drops the cached document and re-reads it from disk. Used after a
// restore replaced the file underneath the store.
func (s *GlobalStore) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	return s.loadLocked(ctx)
}

// Save persists the current document atomically.
func (s *GlobalStore) Save(ctx context.Context) error {
	s.mu.Lock()
	if err := s.loadLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	data, err := codec.MarshalIndent(s.codec, s.cached)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode global metadata: %w", err)
	}
	if err := s.handler.WriteFile(ctx, s.Path(), data); err != nil {
		return fmt.Errorf("failed to save global metadata: %w", err)
	}
	return nil
}

// RegisterEntity adds a descriptor for a new entity. Registering an already
// known entity is a no-op and reports false.
func (s *GlobalStore) RegisterEntity(ctx context.Context, desc EntityDescriptor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return false, err
	}

	g := s.cached
	if g.Entity(desc.Name) != nil {
		return false, nil
	}
	g.Entities = append(g.Entities, desc)
	g.TotalEntities = len(g.Entities)
	g.TotalRecords += desc.RecordCount
	g.TotalSizeMB += desc.SizeMB
	g.touch()
	return true, nil
}

// UnregisterEntity removes the descriptor and subtracts its contribution.
// Unknown names are a no-op and report false.
func (s *GlobalStore) UnregisterEntity(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return false, err
	}

	g := s.cached
	for i := range g.Entities {
		if g.Entities[i].Name != name {
			continue
		}
		g.TotalRecords -= g.Entities[i].RecordCount
		g.TotalSizeMB -= g.Entities[i].SizeMB
		g.Entities = append(g.Entities[:i], g.Entities[i+1:]...)
		g.TotalEntities = len(g.Entities)
		g.touch()
		return true, nil
	}
	return false, nil
}

// ApplyEntityDelta replaces an entity's descriptor and adjusts the
// aggregates by the difference between old and new. Unknown entities are
// registered on the fly.
func (s *GlobalStore) ApplyEntityDelta(ctx context.Context, desc EntityDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return err
	}

	g := s.cached
	old := g.Entity(desc.Name)
	if old == nil {
		g.Entities = append(g.Entities, desc)
		g.TotalEntities = len(g.Entities)
		g.TotalRecords += desc.RecordCount
		g.TotalSizeMB += desc.SizeMB
		g.touch()
		return nil
	}

	g.TotalRecords += desc.RecordCount - old.RecordCount
	g.TotalSizeMB += desc.SizeMB - old.SizeMB
	if desc.CreatedAt.IsZero() {
		desc.CreatedAt = old.CreatedAt
	}
	*old = desc
	g.touch()
	return nil
}

// SnapshotConfig records the effective configuration inside the document.
func (s *GlobalStore) SnapshotConfig(ctx context.Context, cfg map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return err
	}
	s.cached.Config = cfg
	s.cached.touch()
	return nil
}

// Validate checks the cached document.
func (s *GlobalStore) Validate(ctx context.Context) (ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return ValidationResult{}, err
	}
	return s.cached.Validate(), nil
}

// Repair rebuilds the aggregates from the entity list alone and collapses
// duplicate descriptors. It never touches entity directories. Returns a
// description of every applied action.
func (s *GlobalStore) Repair(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}

	g := s.cached
	var actions []string

	seen := make(map[string]bool, len(g.Entities))
	kept := g.Entities[:0]
	for _, e := range g.Entities {
		if e.Name == "" || seen[e.Name] {
			actions = append(actions, fmt.Sprintf("dropped invalid entity descriptor %q", e.Name))
			continue
		}
		seen[e.Name] = true
		kept = append(kept, e)
	}
	g.Entities = kept

	var sumRecords int64
	var sumSizeMB float64
	for _, e := range g.Entities {
		sumRecords += e.RecordCount
		sumSizeMB += e.SizeMB
	}
	if g.TotalEntities != len(g.Entities) {
		actions = append(actions, fmt.Sprintf("corrected entity count: %d -> %d", g.TotalEntities, len(g.Entities)))
		g.TotalEntities = len(g.Entities)
	}
	if g.TotalRecords != sumRecords {
		actions = append(actions, fmt.Sprintf("corrected total records: %d -> %d", g.TotalRecords, sumRecords))
		g.TotalRecords = sumRecords
	}
	if diff := g.TotalSizeMB - sumSizeMB; diff > sizeEpsilonMB || diff < -sizeEpsilonMB {
		actions = append(actions, "corrected total size")
		g.TotalSizeMB = sumSizeMB
	}

	if len(actions) > 0 {
		g.touch()
	}
	return actions, nil
}

// BackupTo copies the metadata file into the destination directory.
func (s *GlobalStore) BackupTo(ctx context.Context, dstDir string) error {
	ok, err := s.handler.Exists(s.Path())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	dst := filepath.Join(dstDir, MetadataFileName(s.handler.Ext()))
	if err := s.handler.Copy(ctx, s.Path(), dst); err != nil {
		return fmt.Errorf("failed to back up global metadata: %w", err)
	}
	return nil
}

func (g *GlobalMetadata) touch() { g.ModifiedAt = timeNowUTC() }
