package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/strataio/strata/codec"
	"github.com/strataio/strata/fio"
)

// ErrUnknownProperty is returned when a queried property is not part of the
// entity's schema.
var ErrUnknownProperty = errors.New("property is not indexed")

// indexDocumentVersion is the persisted index file version.
const indexDocumentVersion = 1

// Manager maintains one property index per schema field.
//
// Structure per property:
//   - entries: valueKey -> entries carrying (recordID, segmentID, position)
//   - posting: valueKey -> Roaring bitmap of record ids
//
// The entry lists are the durable truth (they hold the segment coordinates);
// the bitmaps accelerate conjunctions and existence checks. Mutations are
// serialized by the owning collection; the internal lock only protects
// readers running concurrently with a writer.
type Manager[T any] struct {
	entity  string
	schema  *Schema[T]
	idField Field[T]
	handler fio.Handler
	codec   codec.Codec
	path    string

	mu    sync.RWMutex
	props map[string]*propertyIndex
}

type propertyIndex struct {
	kind    Kind
	entries map[string][]*Entry
	posting map[string]*roaring64.Bitmap
}

func newPropertyIndex(kind Kind) *propertyIndex {
	return &propertyIndex{
		kind:    kind,
		entries: make(map[string][]*Entry),
		posting: make(map[string]*roaring64.Bitmap),
	}
}

// NewManager creates an empty index manager for the entity directory.
// idField must be the schema's resolved identity field.
func NewManager[T any](handler fio.Handler, c codec.Codec, dir, entity string, schema *Schema[T], idField Field[T]) *Manager[T] {
	m := &Manager[T]{
		entity:  entity,
		schema:  schema,
		idField: idField,
		handler: handler,
		codec:   c,
		path:    filepath.Join(dir, "indexes"+handler.Ext()),
		props:   make(map[string]*propertyIndex, len(schema.Fields())),
	}
	for _, f := range schema.Fields() {
		m.props[f.Name] = newPropertyIndex(f.Kind)
	}
	return m
}

// Path returns the persisted index document path.
func (m *Manager[T]) Path() string { return m.path }

// HasProperty reports whether the property is indexed.
func (m *Manager[T]) HasProperty(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.props[name]
	return ok
}

// PropertyNames returns the indexed property names, sorted.
func (m *Manager[T]) PropertyNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.props))
	for name := range m.props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EntryCount returns the total number of entries across all properties.
func (m *Manager[T]) EntryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, p := range m.props {
		for _, es := range p.entries {
			total += len(es)
		}
	}
	return total
}

// Add indexes records that were appended to the given segment starting at
// the given position.
func (m *Manager[T]) Add(segmentID uint64, startPos int, records []T) error {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range records {
		id, err := RecordID(m.idField, rec)
		if err != nil {
			return err
		}
		for _, f := range m.schema.Fields() {
			m.addLocked(&Entry{
				RecordID:  id,
				Value:     f.Extract(rec),
				SegmentID: segmentID,
				Position:  startPos + i,
				CreatedAt: now,
			}, f.Name)
		}
	}
	return nil
}

func (m *Manager[T]) addLocked(e *Entry, prop string) {
	p := m.props[prop]
	key := e.Value.Key()
	p.entries[key] = append(p.entries[key], e)

	bm, ok := p.posting[key]
	if !ok {
		bm = roaring64.New()
		p.posting[key] = bm
	}
	bm.Add(uint64(e.RecordID))
}

// Remove drops every entry of the given record ids from every property
// index, regardless of value. Returns the number of removed entries.
func (m *Manager[T]) Remove(ids ...int64) int {
	if len(ids) == 0 {
		return 0
	}
	victims := roaring64.New()
	for _, id := range ids {
		victims.Add(uint64(id))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, p := range m.props {
		for key, es := range p.entries {
			bm := p.posting[key]
			if bm == nil || !bm.Intersects(victims) {
				continue
			}
			kept := es[:0]
			for _, e := range es {
				if victims.Contains(uint64(e.RecordID)) {
					removed++
					continue
				}
				kept = append(kept, e)
			}
			if len(kept) == 0 {
				delete(p.entries, key)
				delete(p.posting, key)
				continue
			}
			p.entries[key] = kept
			bm.AndNot(victims)
		}
	}
	return removed
}

// Update re-indexes a record in place: all old entries for its id are
// removed, then the current property values are added.
func (m *Manager[T]) Update(record T, segmentID uint64, pos int) error {
	id, err := RecordID(m.idField, record)
	if err != nil {
		return err
	}
	m.Remove(id)

	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.schema.Fields() {
		m.addLocked(&Entry{
			RecordID:  id,
			Value:     f.Extract(record),
			SegmentID: segmentID,
			Position:  pos,
			CreatedAt: now,
		}, f.Name)
	}
	return nil
}

// FindByProperty returns the entries whose property equals the value.
// The lookup is a single map access; the cost is copying the matches.
func (m *Manager[T]) FindByProperty(name string, v Value) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.props[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, m.entity, name)
	}
	return copyEntries(p.entries[v.Key()]), nil
}

// FindByProperties returns the entries of records matching every condition.
// Two conditions match the same record only when their entries agree on
// (recordID, segmentID). The first condition with no matches short-circuits
// the whole conjunction. Returned entries carry the value of the most
// selective condition.
func (m *Manager[T]) FindByProperties(conds map[string]Value) ([]Entry, error) {
	if len(conds) == 0 {
		return nil, errors.New("no conditions given")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type cond struct {
		name string
		key  string
		bm   *roaring64.Bitmap
	}
	ordered := make([]cond, 0, len(conds))
	for name, v := range conds {
		p, ok := m.props[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, m.entity, name)
		}
		key := v.Key()
		bm := p.posting[key]
		if bm == nil || bm.IsEmpty() {
			return []Entry{}, nil
		}
		ordered = append(ordered, cond{name: name, key: key, bm: bm})
	}
	// Intersect starting from the smallest posting list.
	sort.Slice(ordered, func(i, j int) bool {
		ci, cj := ordered[i].bm.GetCardinality(), ordered[j].bm.GetCardinality()
		if ci != cj {
			return ci < cj
		}
		return ordered[i].name < ordered[j].name
	})

	and := ordered[0].bm.Clone()
	for _, c := range ordered[1:] {
		and.And(c.bm)
		if and.IsEmpty() {
			return []Entry{}, nil
		}
	}

	type identity struct {
		id  int64
		seg uint64
	}
	// For every secondary condition, collect the surviving identities.
	others := make([]map[identity]bool, 0, len(ordered)-1)
	for _, c := range ordered[1:] {
		set := make(map[identity]bool)
		for _, e := range m.props[c.name].entries[c.key] {
			if and.Contains(uint64(e.RecordID)) {
				set[identity{e.RecordID, e.SegmentID}] = true
			}
		}
		others = append(others, set)
	}

	var result []Entry
	seen := make(map[identity]bool)
	for _, e := range m.props[ordered[0].name].entries[ordered[0].key] {
		if !and.Contains(uint64(e.RecordID)) {
			continue
		}
		ident := identity{e.RecordID, e.SegmentID}
		if seen[ident] {
			continue
		}
		match := true
		for _, set := range others {
			if !set[ident] {
				match = false
				break
			}
		}
		if match {
			seen[ident] = true
			result = append(result, *e)
		}
	}
	if result == nil {
		result = []Entry{}
	}
	return result, nil
}

// FindByRange returns the entries whose property value lies in [min, max],
// sorted by entry creation time. Keys of a kind incomparable to the bounds
// are skipped.
func (m *Manager[T]) FindByRange(name string, min, max Value) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.props[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, m.entity, name)
	}

	var result []Entry
	for _, es := range p.entries {
		if len(es) == 0 {
			continue
		}
		v := es[0].Value
		lo, ok := v.Compare(min)
		if !ok || lo < 0 {
			continue
		}
		hi, ok := v.Compare(max)
		if !ok || hi > 0 {
			continue
		}
		for _, e := range es {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].RecordID < result[j].RecordID
	})
	if result == nil {
		result = []Entry{}
	}
	return result, nil
}

// DistinctValues returns the property's distinct values in sorted order.
func (m *Manager[T]) DistinctValues(name string) ([]Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.props[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, m.entity, name)
	}

	values := make([]Value, 0, len(p.entries))
	for _, es := range p.entries {
		if len(es) > 0 {
			values = append(values, es[0].Value)
		}
	}
	sort.Slice(values, func(i, j int) bool {
		if c, ok := values[i].Compare(values[j]); ok {
			return c < 0
		}
		return values[i].Key() < values[j].Key()
	})
	return values, nil
}

// CountByProperty returns the number of entries per distinct value, keyed by
// the value's stable Key.
func (m *Manager[T]) CountByProperty(name string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.props[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, m.entity, name)
	}

	counts := make(map[string]int, len(p.entries))
	for key, es := range p.entries {
		counts[key] = len(es)
	}
	return counts, nil
}

// Reset discards all entries, keeping the schema's property set.
func (m *Manager[T]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.schema.Fields() {
		m.props[f.Name] = newPropertyIndex(f.Kind)
	}
}

// Optimize de-duplicates entries, keeping the most recently created entry
// per (recordID, value) within each property. Returns the number of entries
// dropped.
func (m *Manager[T]) Optimize() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for _, p := range m.props {
		for key, es := range p.entries {
			if len(es) < 2 {
				continue
			}
			best := make(map[int64]*Entry, len(es))
			for _, e := range es {
				cur, ok := best[e.RecordID]
				if !ok || e.CreatedAt.After(cur.CreatedAt) ||
					(e.CreatedAt.Equal(cur.CreatedAt) && e.Position > cur.Position) {
					best[e.RecordID] = e
				}
			}
			if len(best) == len(es) {
				continue
			}
			dropped += len(es) - len(best)

			kept := make([]*Entry, 0, len(best))
			bm := roaring64.New()
			for _, e := range es {
				if best[e.RecordID] == e {
					kept = append(kept, e)
					bm.Add(uint64(e.RecordID))
				}
			}
			p.entries[key] = kept
			p.posting[key] = bm
		}
	}
	return dropped
}

type indexDocument struct {
	Version    int                    `json:"version"`
	Entity     string                 `json:"entity"`
	Properties map[string]propertyDoc `json:"properties"`
	SavedAt    time.Time              `json:"saved_at"`
}

type propertyDoc struct {
	Kind    string  `json:"kind"`
	Entries []Entry `json:"entries"`
}

// Save persists the index document through the file handler.
func (m *Manager[T]) Save(ctx context.Context) error {
	m.mu.RLock()
	doc := indexDocument{
		Version:    indexDocumentVersion,
		Entity:     m.entity,
		Properties: make(map[string]propertyDoc, len(m.props)),
		SavedAt:    time.Now().UTC(),
	}
	for name, p := range m.props {
		pd := propertyDoc{Kind: p.kind.String()}
		for _, es := range p.entries {
			for _, e := range es {
				pd.Entries = append(pd.Entries, *e)
			}
		}
		doc.Properties[name] = pd
	}
	m.mu.RUnlock()

	data, err := m.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode index document: %w", err)
	}
	if err := m.handler.WriteFile(ctx, m.path, data); err != nil {
		return fmt.Errorf("failed to save index document: %w", err)
	}
	return nil
}

// Load replaces the in-memory state with the persisted document. An absent
// or empty file leaves the manager empty. Properties whose persisted kind no
// longer matches the schema are dropped; a rebuild restores them.
func (m *Manager[T]) Load(ctx context.Context) error {
	data, err := m.handler.ReadFile(ctx, m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load index document: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc indexDocument
	if err := m.codec.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode index document: %w", err)
	}
	if doc.Version != indexDocumentVersion {
		return fmt.Errorf("unsupported index document version %d", doc.Version)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.schema.Fields() {
		m.props[f.Name] = newPropertyIndex(f.Kind)
	}
	for name, pd := range doc.Properties {
		p, ok := m.props[name]
		if !ok || p.kind.String() != pd.Kind {
			continue
		}
		for i := range pd.Entries {
			e := pd.Entries[i]
			key := e.Value.Key()
			p.entries[key] = append(p.entries[key], &e)
			bm, ok := p.posting[key]
			if !ok {
				bm = roaring64.New()
				p.posting[key] = bm
			}
			bm.Add(uint64(e.RecordID))
		}
	}
	return nil
}

func copyEntries(es []*Entry) []Entry {
	out := make([]Entry, len(es))
	for i, e := range es {
		out[i] = *e
	}
	return out
}
