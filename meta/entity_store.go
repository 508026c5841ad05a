package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/strataio/strata/codec"
	"github.com/strataio/strata/fio"
)

// EntityStore owns one entity's metadata document. It caches the document in
// memory, hands out mutations under a lock and persists snapshots atomically
// through the file handler. All segment bookkeeping for an entity flows
// through its store.
type EntityStore struct {
	handler fio.Handler
	codec   codec.Codec
	dir     string
	entity  string

	mu     sync.Mutex
	cached *EntityMetadata
}

// NewEntityStore creates a store for the entity directory. Nothing is read
// until first use.
func NewEntityStore(handler fio.Handler, c codec.Codec, dir, entity string) *EntityStore {
	return &EntityStore{handler: handler, codec: c, dir: dir, entity: entity}
}

// Entity returns the entity name.
func (s *EntityStore) Entity() string { return s.entity }

// Dir returns the entity directory.
func (s *EntityStore) Dir() string { return s.dir }

// Path returns the metadata document path.
func (s *EntityStore) Path() string {
	return filepath.Join(s.dir, MetadataFileName(s.handler.Ext()))
}

// SegmentPath resolves a segment file name inside the entity directory.
func (s *EntityStore) SegmentPath(fileName string) string {
	return filepath.Join(s.dir, fileName)
}

// SegmentFileName builds the canonical file name for a segment id using the
// handler's extension.
func (s *EntityStore) SegmentFileName(id uint64) string {
	return SegmentFileName(id, s.handler.Ext())
}

// Load returns the cached document, reading or creating it on first use.
func (s *EntityStore) Load(ctx context.Context) (*EntityMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	return s.cached, nil
}

func (s *EntityStore) loadLocked(ctx context.Context) error {
	if s.cached != nil {
		return nil
	}

	data, err := s.handler.ReadFile(ctx, s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.cached = NewEntityMetadata(s.entity)
			return nil
		}
		return fmt.Errorf("failed to load entity metadata: %w", err)
	}
	if len(data) == 0 {
		s.cached = NewEntityMetadata(s.entity)
		return nil
	}

	var m EntityMetadata
	if err := s.codec.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode entity metadata: %w", err)
	}
	if m.Version != MetadataVersion {
		return fmt.Errorf("unsupported entity metadata version %d", m.Version)
	}
	if m.Entity == "" {
		m.Entity = s.entity
	}
	s.cached = &m
	return nil
}

// Mutate applies fn to the document under the store lock, then recomputes
// totals and stamps the modification time. It does not persist; enqueue or
// call Save for that.
func (s *EntityStore) Mutate(ctx context.Context, fn func(*EntityMetadata) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return err
	}
	if err := fn(s.cached); err != nil {
		return err
	}
	s.cached.Recompute()
	s.cached.Touch()
	return nil
}

// View gives fn read access to the document under the store lock.
func (s *EntityStore) View(ctx context.Context, fn func(*EntityMetadata) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return err
	}
	return fn(s.cached)
}

// Snapshot returns a deep copy of the document for lock-free consumers.
func (s *EntityStore) Snapshot(ctx context.Context) (EntityMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return EntityMetadata{}, err
	}
	return s.cached.clone(), nil
}

func (m *EntityMetadata) clone() EntityMetadata {
	out := *m
	out.Segments = append([]SegmentInfo(nil), m.Segments...)
	out.Properties = append([]PropertyInfo(nil), m.Properties...)
	return out
}

// Save persists the current document. The payload is marshaled under the
// store lock; the file write happens outside it so slow disks do not block
// mutations.
func (s *EntityStore) Save(ctx context.Context) error {
	s.mu.Lock()
	if err := s.loadLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	data, err := codec.MarshalIndent(s.codec, s.cached)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode entity metadata: %w", err)
	}
	if err := s.handler.WriteFile(ctx, s.Path(), data); err != nil {
		return fmt.Errorf("failed to save entity metadata: %w", err)
	}
	return nil
}

// Reload drops the cached document and re-reads it from disk. Used after a
// restore replaced the file underneath the store.
func (s *EntityStore) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	return s.loadLocked(ctx)
}

// Reset replaces the document with a fresh one, keeping the entity name and
// creation time. Used by Clear.
func (s *EntityStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := time.Time{}
	if s.cached != nil {
		created = s.cached.CreatedAt
	}
	fresh := NewEntityMetadata(s.entity)
	if !created.IsZero() {
		fresh.CreatedAt = created
	}
	s.cached = fresh
	return nil
}

// Validate checks the cached document.
func (s *EntityStore) Validate(ctx context.Context) (ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return ValidationResult{}, err
	}
	return s.cached.Validate(), nil
}

// BackupTo copies the metadata file into the destination directory. Absent
// metadata (nothing persisted yet) is skipped.
func (s *EntityStore) BackupTo(ctx context.Context, dstDir string) error {
	ok, err := s.handler.Exists(s.Path())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	dst := filepath.Join(dstDir, MetadataFileName(s.handler.Ext()))
	if err := s.handler.Copy(ctx, s.Path(), dst); err != nil {
		return fmt.Errorf("failed to back up entity metadata: %w", err)
	}
	return nil
}

// segmentProbe is the shallow shape of a segment document, enough to recount
// records during repair without knowing the record type.
type segmentProbe struct {
	Records []json.RawMessage `json:"records"`
}

// Repair reconciles the document with the files on disk: descriptors whose
// files vanished are dropped, counts and sizes are re-derived from the files
// themselves, duplicate descriptors collapse, and exactly one live segment
// ends up active. Returns a description of every applied action.
func (s *EntityStore) Repair(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}

	m := s.cached
	var actions []string

	seen := make(map[string]bool, len(m.Segments))
	kept := m.Segments[:0]
	for _, seg := range m.Segments {
		if seen[seg.FileName] {
			actions = append(actions, fmt.Sprintf("dropped duplicate descriptor %s", seg.FileName))
			continue
		}
		seen[seg.FileName] = true

		path := s.SegmentPath(seg.FileName)
		ok, err := s.handler.Exists(path)
		if err != nil {
			return actions, err
		}
		if !ok {
			if seg.Live() {
				actions = append(actions, fmt.Sprintf("dropped descriptor %s: file missing", seg.FileName))
			} else {
				actions = append(actions, fmt.Sprintf("dropped inactive descriptor %s", seg.FileName))
			}
			continue
		}

		data, err := s.handler.ReadFile(ctx, path)
		if err != nil {
			actions = append(actions, fmt.Sprintf("dropped descriptor %s: unreadable file", seg.FileName))
			continue
		}
		var probe segmentProbe
		count := int64(0)
		if len(data) > 0 {
			if err := s.codec.Unmarshal(data, &probe); err != nil {
				actions = append(actions, fmt.Sprintf("dropped descriptor %s: undecodable file", seg.FileName))
				continue
			}
			count = int64(len(probe.Records))
		}

		sizeBytes, err := s.handler.Size(path)
		if err != nil {
			return actions, err
		}
		sizeMB := float64(sizeBytes) / (1024 * 1024)

		if seg.RecordCount != count {
			actions = append(actions, fmt.Sprintf("corrected record count of %s: %d -> %d", seg.FileName, seg.RecordCount, count))
			seg.RecordCount = count
		}
		if diff := seg.SizeMB - sizeMB; diff > sizeEpsilonMB || diff < -sizeEpsilonMB {
			actions = append(actions, fmt.Sprintf("corrected size of %s", seg.FileName))
			seg.SizeMB = sizeMB
		}
		if seg.Checksum != "" {
			if actual := Checksum(data); actual != seg.Checksum {
				actions = append(actions, fmt.Sprintf("refreshed checksum of %s", seg.FileName))
				seg.Checksum = actual
			}
		}
		kept = append(kept, seg)
	}
	m.Segments = kept

	var maxID uint64
	var lastLive *SegmentInfo
	actives := 0
	for i := range m.Segments {
		seg := &m.Segments[i]
		if seg.ID > maxID {
			maxID = seg.ID
		}
		if seg.Live() {
			if lastLive == nil || seg.ID > lastLive.ID {
				lastLive = seg
			}
			if seg.State == SegmentActive {
				actives++
			}
		}
	}
	if actives > 1 {
		for i := range m.Segments {
			seg := &m.Segments[i]
			if seg.State == SegmentActive && seg != lastLive {
				seg.State = SegmentSealed
				actions = append(actions, fmt.Sprintf("sealed extra active segment %s", seg.FileName))
			}
		}
	}
	if actives == 0 && lastLive != nil {
		lastLive.State = SegmentActive
		actions = append(actions, fmt.Sprintf("reactivated segment %s", lastLive.FileName))
	}
	if maxID >= m.NextSegmentID {
		m.NextSegmentID = maxID + 1
		actions = append(actions, fmt.Sprintf("advanced next segment id to %d", m.NextSegmentID))
	}

	m.Recompute()
	m.Touch()
	return actions, nil
}
