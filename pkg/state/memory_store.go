package state

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/goliatone/go-normcache/internal/hydrate"
)

// MemoryStore keeps snapshots as encoded JSON keyed by Ref.Identifier().
// Saved snapshots are detached from the caller, so later cache writes never
// leak into stored state. T must encode as a JSON object.
type MemoryStore[T any] struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	decoder *hydrate.Decoder[T]
}

type memoryRecord struct {
	raw  []byte
	meta Meta
}

// NewMemoryStore returns an empty store. Numbers come back as json.Number.
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{
		records: map[string]memoryRecord{},
		decoder: hydrate.NewDecoder[T](hydrate.WithUseNumber[T]()),
	}
}

func (s *MemoryStore[T]) Load(_ context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	key, err := ref.Identifier()
	if err != nil {
		return zero, Meta{}, false, err
	}

	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return zero, Meta{}, false, nil
	}
	snapshot, err := s.decoder.DecodeBytes(hydrate.Context{Source: "state", Operation: key}, record.raw)
	if err != nil {
		return zero, Meta{}, false, err
	}
	return snapshot, cloneMeta(record.meta), true, nil
}

func (s *MemoryStore[T]) Save(_ context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return Meta{}, fmt.Errorf("state: encode %q: %w", key, err)
	}

	s.mu.Lock()
	s.records[key] = memoryRecord{raw: raw, meta: cloneMeta(meta)}
	s.mu.Unlock()
	return cloneMeta(meta), nil
}

// Len reports how many refs hold a snapshot.
func (s *MemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneMeta(meta Meta) Meta {
	out := meta
	out.Extra = maps.Clone(meta.Extra)
	return out
}
