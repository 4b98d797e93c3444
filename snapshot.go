package normcache

import (
	"context"
	"fmt"

	"github.com/goliatone/go-normcache/internal/hydrate"
	"github.com/goliatone/go-normcache/layering"
	"github.com/goliatone/go-normcache/pkg/activity"
)

// Snapshot is the persisted form of the store: entity id to storage key to
// value, with references encoded as {"__ref": id}. It marshals directly to
// JSON.
type Snapshot map[string]map[string]any

// Extract serializes the base layer, or with optimistic set the merged
// view through every optimistic layer.
func (c *InMemoryCache) Extract(optimistic bool) Snapshot {
	c.mu.Lock()
	var records map[string]layering.Record
	if optimistic {
		records = c.stack.OptimisticSnapshot()
	} else {
		records = c.stack.Snapshot()
	}
	c.mu.Unlock()

	out := make(Snapshot, len(records))
	for id, record := range records {
		fields := make(map[string]any, len(record))
		for key, value := range record {
			fields[key] = encodeStored(value)
		}
		out[id] = fields
	}
	return out
}

// Restore replaces the base layer with snapshot. Optimistic layers are
// kept and every watch is re-diffed.
func (c *InMemoryCache) Restore(snapshot Snapshot) error {
	records := make(map[string]layering.Record, len(snapshot))
	for id, fields := range snapshot {
		if id == "" {
			return fmt.Errorf("%w: snapshot contains an empty entity id", ErrInvalidResult)
		}
		record := make(layering.Record, len(fields))
		for key, value := range fields {
			decoded, err := decodeStored(value)
			if err != nil {
				return fmt.Errorf("%w: %s.%s: %v", ErrInvalidResult, id, key, err)
			}
			record[key] = decoded
		}
		records[id] = record
	}

	c.mu.Lock()
	c.stack.Replace(records)
	c.enqueueEvent(activity.BuildRestoreEvent(activity.CacheEventInput{
		Metadata: map[string]any{"entities": len(records)},
	}))
	c.broadcastLocked(context.Background(), nil, true)
	c.mu.Unlock()

	c.cfg.logger.LogEvent(LogEvent{Level: LevelInfo, Op: "restore", Message: fmt.Sprintf("restored %d entities", len(records))})
	c.drain()
	return nil
}

// RestoreJSON decodes a JSON snapshot and restores it.
func (c *InMemoryCache) RestoreJSON(raw []byte) error {
	decoder := hydrate.NewDecoder[Snapshot](hydrate.WithUseNumber[Snapshot]())
	snapshot, err := decoder.DecodeBytes(hydrate.Context{Source: "snapshot"}, raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	return c.Restore(snapshot)
}

func encodeStored(value any) any {
	switch typed := value.(type) {
	case layering.Reference:
		return map[string]any{refField: typed.ID}
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, elem := range typed {
			out[key] = encodeStored(elem)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, elem := range typed {
			out[i] = encodeStored(elem)
		}
		return out
	default:
		return value
	}
}

func decodeStored(value any) (any, error) {
	switch typed := value.(type) {
	case map[string]any:
		if raw, ok := typed[refField]; ok && len(typed) == 1 {
			id, ok := raw.(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("reference id must be a non-empty string, got %T", raw)
			}
			return layering.Ref(id), nil
		}
		out := make(map[string]any, len(typed))
		for key, elem := range typed {
			decoded, err := decodeStored(elem)
			if err != nil {
				return nil, err
			}
			out[key] = decoded
		}
		return out, nil
	case []any:
		out := make([]any, len(typed))
		for i, elem := range typed {
			decoded, err := decodeStored(elem)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	default:
		return layering.Clone(value), nil
	}
}
