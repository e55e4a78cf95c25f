package module

import (
	"sort"
)

// Meta is the metadata attached to a record.
type Meta struct {
	// Hash fingerprints the module content. Equal hashes mean equal modules.
	Hash string `json:"hash"`
	// SourceText is the raw payload the factory was compiled from, if any.
	SourceText string `json:"source,omitempty"`
	// SourceMap is an optional source map trailer handed to the compiler.
	SourceMap string `json:"sourcemap,omitempty"`
}

// Factory instantiates a module into the scope it is given.
type Factory func(s *Scope) error

// Record is the static definition of a module.
// Records are never mutated once stored; patching replaces them wholesale.
type Record struct {
	ID string
	// Source is the raw payload. It is compiled into Factory before first use.
	Source string
	// Factory is nil until the record has been compiled.
	Factory Factory
	// Deps maps the literal import string used in source to a module id.
	Deps map[string]string
	Meta Meta
}

// Compiled reports whether the record has an invocable factory.
func (r *Record) Compiled() bool {
	return r.Factory != nil
}

// Resolve maps an import string to a module id, passing unknown strings through.
func (r *Record) Resolve(path string) string {
	if id, ok := r.Deps[path]; ok && id != "" {
		return id
	}
	return path
}

// DependencyIDs returns the resolved dependency ids ordered by import string.
func (r *Record) DependencyIDs() []string {
	keys := make([]string, 0, len(r.Deps))
	for k := range r.Deps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, r.Deps[k])
	}
	return ids
}

// RecordSet is a set of records keyed by id, as delivered by a change notification.
type RecordSet map[string]*Record

// IDs returns the ids of the set in sorted order.
func (s RecordSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RecordReader is the read-only view of a record store handed to factories.
type RecordReader interface {
	Record(id string) (*Record, bool)
	IDs() []string
}

// Store is the Module Record Store.
type Store struct {
	records map[string]*Record
}

// NewStore creates an empty record store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Record returns the record for id.
func (s *Store) Record(id string) (*Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

// Has reports whether id is a managed module.
func (s *Store) Has(id string) bool {
	_, ok := s.records[id]
	return ok
}

// Put stores r under its id, replacing any previous record.
func (s *Store) Put(r *Record) {
	s.records[r.ID] = r
}

// Delete removes the record for id.
func (s *Store) Delete(id string) {
	delete(s.records, id)
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// IDs returns all record ids in sorted order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a shallow copy of the store's table.
// Record pointers are shared, which is safe because records are immutable.
func (s *Store) Snapshot() RecordSet {
	out := make(RecordSet, len(s.records))
	for id, r := range s.records {
		out[id] = r
	}
	return out
}
