// Package layering holds entity records in a base layer plus an ordered
// stack of optimistic layers.
//
// Lookups use whole-entity shadowing: walking from the strongest layer to
// the base, the first layer holding any record for an entity defines that
// entity's visible state. An optimistic layer materializes an entity as the
// record visible beneath it when first written plus the fields it wrote
// itself, so reads never fall through field by field.
//
// Each optimistic layer keeps its own writes apart from the materialized
// records. Removing a layer or replacing the base rebuilds every layer
// above the change from its own writes, so fields introduced only by a
// removed layer disappear from the view.
package layering

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateLayerID indicates Push received an id already on the stack.
	ErrDuplicateLayerID = errors.New("layering: duplicate layer id")
	// ErrUnknownLayerID indicates Pop or Begin received an id not on the stack.
	ErrUnknownLayerID = errors.New("layering: unknown layer id")
)

// BaseLayerID addresses the committed base layer.
const BaseLayerID = ""

type layer struct {
	id      string
	records map[string]Record
	// writes holds only the fields this layer wrote. Unused for the base.
	writes map[string]Record
}

func newLayer(id string) *layer {
	return &layer{id: id, records: map[string]Record{}, writes: map[string]Record{}}
}

// Stack owns the base layer and the optimistic layers. Layers are addressed
// only by id; no handle to a layer escapes the stack.
type Stack struct {
	base       *layer
	optimistic []*layer // weakest first
}

// NewStack returns an empty stack.
func NewStack() *Stack {
	return &Stack{base: newLayer(BaseLayerID)}
}

// Push adds an empty optimistic layer on top of the stack.
func (s *Stack) Push(id string) error {
	if id == BaseLayerID {
		return fmt.Errorf("%w: %q is reserved for the base layer", ErrDuplicateLayerID, id)
	}
	if s.find(id) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateLayerID, id)
	}
	s.optimistic = append(s.optimistic, newLayer(id))
	return nil
}

// Pop removes the optimistic layer id wherever it sits, keeping the
// relative order of the remaining layers. Layers above it are rebuilt on
// top of what is now visible beneath them.
func (s *Stack) Pop(id string) error {
	idx := s.find(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownLayerID, id)
	}
	s.removeAt(idx)
	return nil
}

func (s *Stack) removeAt(idx int) {
	s.optimistic = append(s.optimistic[:idx:idx], s.optimistic[idx+1:]...)
	s.rebuild(idx)
}

// Has reports whether an optimistic layer with id exists.
func (s *Stack) Has(id string) bool {
	return s.find(id) >= 0
}

// LayerIDs returns optimistic layer ids from weakest to strongest.
func (s *Stack) LayerIDs() []string {
	if len(s.optimistic) == 0 {
		return nil
	}
	out := make([]string, len(s.optimistic))
	for i, l := range s.optimistic {
		out[i] = l.id
	}
	return out
}

// Len returns the number of optimistic layers.
func (s *Stack) Len() int {
	return len(s.optimistic)
}

// Resolve returns the visible record for entityID. With optimistic false
// only the base layer is consulted. The returned record is owned by the
// stack and must not be mutated.
func (s *Stack) Resolve(entityID string, optimistic bool) (Record, bool) {
	return s.resolve(entityID, optimistic, nil)
}

// Reset drops every record and every optimistic layer.
func (s *Stack) Reset() {
	s.base = newLayer(BaseLayerID)
	s.optimistic = nil
}

// Snapshot deep copies the base layer records.
func (s *Stack) Snapshot() map[string]Record {
	out := make(map[string]Record, len(s.base.records))
	for id, record := range s.base.records {
		out[id] = record.Clone()
	}
	return out
}

// OptimisticSnapshot deep copies the merged view of every entity visible
// through the optimistic layers.
func (s *Stack) OptimisticSnapshot() map[string]Record {
	ids := map[string]struct{}{}
	for id := range s.base.records {
		ids[id] = struct{}{}
	}
	for _, l := range s.optimistic {
		for id := range l.records {
			ids[id] = struct{}{}
		}
	}
	out := make(map[string]Record, len(ids))
	for id := range ids {
		if record, ok := s.Resolve(id, true); ok {
			out[id] = record.Clone()
		}
	}
	return out
}

// Replace swaps the base layer contents for a deep copy of records. The
// optimistic layers are kept and rebuilt on top of the new base. Drafts
// open against the base stay attached.
func (s *Stack) Replace(records map[string]Record) {
	replaced := make(map[string]Record, len(records))
	for id, record := range records {
		replaced[id] = record.Clone()
	}
	s.base.records = replaced
	s.rebuild(0)
}

// EntityIDs returns the sorted ids defined in the base layer.
func (s *Stack) EntityIDs() []string {
	ids := make([]string, 0, len(s.base.records))
	for id := range s.base.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// attached reports whether l is still part of the stack.
func (s *Stack) attached(l *layer) bool {
	if l == s.base {
		return true
	}
	return s.indexOf(l) >= 0
}

func (s *Stack) indexOf(l *layer) int {
	for i, candidate := range s.optimistic {
		if candidate == l {
			return i
		}
	}
	return -1
}

func (s *Stack) find(id string) int {
	for i, l := range s.optimistic {
		if l.id == id {
			return i
		}
	}
	return -1
}

func (s *Stack) layer(id string) (*layer, error) {
	if id == BaseLayerID {
		return s.base, nil
	}
	idx := s.find(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLayerID, id)
	}
	return s.optimistic[idx], nil
}

func (s *Stack) resolve(entityID string, optimistic bool, draft *Draft) (Record, bool) {
	if optimistic {
		for i := len(s.optimistic) - 1; i >= 0; i-- {
			if record, ok := lookup(s.optimistic[i], entityID, draft); ok {
				return record, true
			}
		}
	}
	return lookup(s.base, entityID, draft)
}

// rebuild rematerializes the optimistic layers from index from upward,
// weakest first, so each one starts from the already rebuilt view below.
func (s *Stack) rebuild(from int) {
	for _, l := range s.optimistic[from:] {
		records := make(map[string]Record, len(l.writes))
		for id, own := range l.writes {
			seed, _ := s.beneath(l, id)
			records[id] = overlay(seed, own)
		}
		l.records = records
	}
}

// overlay returns a fresh record holding base with fields written over it.
func overlay(base, fields Record) Record {
	out := make(Record, len(base)+len(fields))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range fields {
		out[key] = value
	}
	return out
}

// beneath returns the record visible below target. The base layer has
// nothing beneath it.
func (s *Stack) beneath(target *layer, entityID string) (Record, bool) {
	if target == s.base {
		return nil, false
	}
	idx := s.find(target.id)
	for i := idx - 1; i >= 0; i-- {
		if record, ok := s.optimistic[i].records[entityID]; ok {
			return record, true
		}
	}
	record, ok := s.base.records[entityID]
	return record, ok
}

func lookup(l *layer, entityID string, draft *Draft) (Record, bool) {
	record, ok := l.records[entityID]
	if draft == nil || draft.target != l {
		return record, ok
	}
	pending, staged := draft.pending[entityID]
	if !staged {
		return record, ok
	}
	if !ok {
		return pending, true
	}
	return overlay(record, pending), true
}
