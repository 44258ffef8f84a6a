// Package values owns the content-addressed value store: immutable
// artifact records, dedup-aware registration, and id-based lookup backed
// by an archive.
package values

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loomworks/loom/internal/archive"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/types"
)

// Reserved ids for the two process-wide sentinel values. Created once at
// store initialization and shared by every caller.
const (
	NotSetValueID = "value:not-set"
	NoneValueID   = "value:none"
)

// Store owns the id→Value table and the dedup index. Both are mutable
// shared state guarded by one mutex: registration is an atomic
// check-then-insert, upholding "at most one stored Value per hash".
type Store struct {
	mu      sync.Mutex
	byID    map[string]*ir.Value
	byDedup map[string][]string // (hash, size, type) -> ids
	byHash  map[string][]string // content hash -> ids
	data    map[string]ir.Datum // content hash -> payload

	archive archive.Archive
	types   *types.Registry
	idGen   IDGenerator
	dedup   bool

	notSet *ir.Value
	none   *ir.Value
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the default UUIDv7 id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.idGen = g }
}

// WithoutDedup disables content deduplication: every registration mints
// a fresh id even for known content.
func WithoutDedup() Option {
	return func(s *Store) { s.dedup = false }
}

// NewStore creates a value store over the given type registry and
// archive. The NOT_SET and NONE singletons are created here, once.
func NewStore(reg *types.Registry, arch archive.Archive, opts ...Option) *Store {
	s := &Store{
		byID:    make(map[string]*ir.Value),
		byDedup: make(map[string][]string),
		byHash:  make(map[string][]string),
		data:    make(map[string]ir.Datum),
		archive: arch,
		types:   reg,
		idGen:   UUIDv7Generator{},
		dedup:   true,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.notSet = &ir.Value{
		ID:           NotSetValueID,
		DataTypeName: types.RootTypeName,
		Status:       ir.StatusNotSet,
		Pedigree:     ir.OrphanPedigree(),
	}
	s.none = &ir.Value{
		ID:           NoneValueID,
		DataTypeName: types.RootTypeName,
		Status:       ir.StatusNone,
		Pedigree:     ir.OrphanPedigree(),
	}
	s.byID[NotSetValueID] = s.notSet
	s.byID[NoneValueID] = s.none

	return s
}

// NotSet returns the process-wide "no value supplied" singleton.
func (s *Store) NotSet() *ir.Value { return s.notSet }

// None returns the process-wide explicit-null singleton.
func (s *Store) None() *ir.Value { return s.none }

// Register stores a payload under a schema and pedigree and returns its
// Value record. A nil payload short-circuits to the NOT_SET singleton, an
// ir.Null payload to the NONE singleton; neither is hashed.
//
// When deduplication is enabled and a Value with the same
// (content hash, size, data type) already exists, the existing Value is
// returned unchanged and no new id is minted.
func (s *Store) Register(ctx context.Context, data ir.Datum, schema ir.FieldSchema, pedigree ir.Pedigree) (*ir.Value, error) {
	if data == nil {
		return s.notSet, nil
	}
	if _, isNull := data.(ir.Null); isNull {
		return s.none, nil
	}

	inst, err := s.types.ResolveInstance(schema.TypeName, schema.TypeConfig)
	if err != nil {
		return nil, fmt.Errorf("register value: %w", err)
	}
	if err := inst.Validate(data); err != nil {
		return nil, &SchemaValidationError{TypeName: inst.Name, Reason: err}
	}

	hash, size, err := ir.ContentHash(data)
	if err != nil {
		return nil, fmt.Errorf("register value: %w", err)
	}

	s.mu.Lock()
	dedupKey := dedupKey(hash, size, inst.Name)
	if s.dedup {
		if ids := s.byDedup[dedupKey]; len(ids) > 0 {
			if len(ids) > 1 {
				s.mu.Unlock()
				return nil, &DedupViolationError{ContentHash: hash, IDs: ids}
			}
			existing := s.byID[ids[0]]
			s.mu.Unlock()
			slog.Debug("value deduplicated", "id", existing.ID, "content_hash", hash)
			return existing, nil
		}
	}

	// Non-orphan pedigrees must not reference dangling value ids.
	if !pedigree.Orphan {
		for name, inputID := range pedigree.Inputs {
			if _, ok := s.byID[inputID]; !ok {
				s.mu.Unlock()
				return nil, fmt.Errorf("register value: pedigree input %q: %w",
					name, &UnknownValueError{ID: inputID})
			}
		}
	}

	v := &ir.Value{
		ID:             s.idGen.Generate(),
		DataTypeName:   inst.Name,
		DataTypeConfig: inst.Config,
		Size:           size,
		ContentHash:    hash,
		Status:         ir.StatusSet,
		Pedigree:       pedigree,
		Schema:         schema,
	}
	s.byID[v.ID] = v
	// The dedup index holds value ids, never the values themselves.
	s.byDedup[dedupKey] = append(s.byDedup[dedupKey], v.ID)
	s.byHash[hash] = append(s.byHash[hash], v.ID)
	s.data[hash] = data
	s.mu.Unlock()

	if err := s.persist(ctx, v, data); err != nil {
		return nil, err
	}

	slog.Debug("value registered",
		"id", v.ID,
		"type", v.DataTypeName,
		"content_hash", hash,
		"size", size,
	)
	return v, nil
}

// Get returns the Value for an id, falling back to the archive when the
// id is not in the in-memory index.
func (s *Store) Get(ctx context.Context, id string) (*ir.Value, error) {
	s.mu.Lock()
	if v, ok := s.byID[id]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	blob, ok, err := s.archive.Get(ctx, valueKey(id))
	if err != nil {
		return nil, fmt.Errorf("get value %q: %w", id, err)
	}
	if !ok {
		return nil, &UnknownValueError{ID: id}
	}

	var v ir.Value
	if err := json.Unmarshal(blob, &v); err != nil {
		return nil, fmt.Errorf("get value %q: decode record: %w", id, err)
	}

	s.mu.Lock()
	s.byID[v.ID] = &v
	s.byHash[v.ContentHash] = appendUnique(s.byHash[v.ContentHash], v.ID)
	s.byDedup[dedupKey(v.ContentHash, v.Size, v.DataTypeName)] =
		appendUnique(s.byDedup[dedupKey(v.ContentHash, v.Size, v.DataTypeName)], v.ID)
	out := s.byID[v.ID]
	s.mu.Unlock()

	return out, nil
}

// Data returns the payload carried by a Value. Sentinel values resolve
// to nil (NOT_SET) and ir.Null (NONE).
func (s *Store) Data(ctx context.Context, v *ir.Value) (ir.Datum, error) {
	switch v.Status {
	case ir.StatusNotSet:
		return nil, nil
	case ir.StatusNone:
		return ir.Null{}, nil
	}

	s.mu.Lock()
	if d, ok := s.data[v.ContentHash]; ok {
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	blob, ok, err := s.archive.Get(ctx, dataKey(v.ContentHash))
	if err != nil {
		return nil, fmt.Errorf("load data for value %q: %w", v.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("load data for value %q: %w", v.ID, &UnknownValueError{ID: v.ID})
	}

	d, err := ir.DecodeDatum(blob)
	if err != nil {
		return nil, fmt.Errorf("load data for value %q: %w", v.ID, err)
	}

	s.mu.Lock()
	s.data[v.ContentHash] = d
	s.mu.Unlock()
	return d, nil
}

// FindByHash returns all known value ids sharing a content hash,
// optionally narrowed to a data type. Under deduplication the result is
// normally a singleton; more than one id is a broken invariant and fails
// with DedupViolationError rather than being silently tolerated.
func (s *Store) FindByHash(hash, typeName string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, id := range s.byHash[hash] {
		if typeName != "" && s.byID[id].DataTypeName != typeName {
			continue
		}
		out = append(out, id)
	}

	if s.dedup && len(out) > 1 {
		return nil, &DedupViolationError{ContentHash: hash, IDs: out}
	}
	return out, nil
}

// persist writes the value record and its payload to the archive.
func (s *Store) persist(ctx context.Context, v *ir.Value, data ir.Datum) error {
	record, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("persist value %q: encode record: %w", v.ID, err)
	}
	if err := s.archive.Put(ctx, valueKey(v.ID), record); err != nil {
		return fmt.Errorf("persist value %q: %w", v.ID, err)
	}

	canonical, err := ir.MarshalCanonical(data)
	if err != nil {
		return fmt.Errorf("persist value %q: %w", v.ID, err)
	}
	if err := s.archive.Put(ctx, dataKey(v.ContentHash), canonical); err != nil {
		return fmt.Errorf("persist value %q: %w", v.ID, err)
	}
	return nil
}

func dedupKey(hash string, size int64, typeName string) string {
	return fmt.Sprintf("%s|%d|%s", hash, size, typeName)
}

func valueKey(id string) string { return "value/" + id }

func dataKey(hash string) string { return "data/" + hash }

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
