package activity

import (
	"sort"
	"strings"
	"time"
)

// Verbs emitted by the cache.
const (
	VerbWrite            = "cache.write"
	VerbOptimisticPush   = "cache.optimistic.push"
	VerbOptimisticRemove = "cache.optimistic.remove"
	VerbReset            = "cache.reset"
	VerbRestore          = "cache.restore"
	VerbBroadcast        = "cache.broadcast"
)

// Object types carried by cache events.
const (
	ObjectStore = "cache.store"
	ObjectLayer = "cache.layer"
)

// CacheEventInput describes the common fields of cache lifecycle events.
type CacheEventInput struct {
	ActorID    string
	TenantID   string
	Channel    string
	LayerID    string
	RootID     string
	Touched    []string
	Watches    int
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildWriteEvent describes a committed write.
func BuildWriteEvent(input CacheEventInput) Event {
	return buildCacheEvent(VerbWrite, input)
}

// BuildOptimisticPushEvent describes an optimistic layer being recorded.
func BuildOptimisticPushEvent(input CacheEventInput) Event {
	return buildCacheEvent(VerbOptimisticPush, input)
}

// BuildOptimisticRemoveEvent describes an optimistic layer being removed.
func BuildOptimisticRemoveEvent(input CacheEventInput) Event {
	return buildCacheEvent(VerbOptimisticRemove, input)
}

// BuildResetEvent describes a store reset.
func BuildResetEvent(input CacheEventInput) Event {
	return buildCacheEvent(VerbReset, input)
}

// BuildRestoreEvent describes a snapshot restore.
func BuildRestoreEvent(input CacheEventInput) Event {
	return buildCacheEvent(VerbRestore, input)
}

// BuildBroadcastEvent describes a watch notification pass.
func BuildBroadcastEvent(input CacheEventInput) Event {
	return buildCacheEvent(VerbBroadcast, input)
}

func buildCacheEvent(verb string, input CacheEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.RootID != "" {
		metadata = ensureMetadata(metadata)
		metadata["root_id"] = input.RootID
	}
	if len(input.Touched) > 0 {
		touched := append([]string{}, input.Touched...)
		sort.Strings(touched)
		metadata = ensureMetadata(metadata)
		metadata["touched"] = touched
	}
	if input.Watches > 0 {
		metadata = ensureMetadata(metadata)
		metadata["watches"] = input.Watches
	}

	objectType := ObjectStore
	objectID := "base"
	if layerID := strings.TrimSpace(input.LayerID); layerID != "" {
		objectType = ObjectLayer
		objectID = layerID
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
