package state

import (
	"context"
	"fmt"
	"time"

	normcache "github.com/goliatone/go-normcache"
	"github.com/google/uuid"
)

// Snapshotter is the part of a cache the Persister needs.
type Snapshotter interface {
	Extract(optimistic bool) normcache.Snapshot
	Restore(snapshot normcache.Snapshot) error
}

// Persister moves cache snapshots in and out of a Store.
type Persister struct {
	Store Store[normcache.Snapshot]
	Ref   Ref
	// Now defaults to time.Now.
	Now func() time.Time
}

// Save extracts the base layer of cache and stores it. When meta carries an
// ETag it must match the stored one. Each save gets a fresh ETag, and a
// SnapshotID when meta has none.
func (p Persister) Save(ctx context.Context, cache Snapshotter, meta Meta) (Meta, error) {
	if err := p.validate(cache); err != nil {
		return Meta{}, err
	}
	_, current, ok, err := p.Store.Load(ctx, p.Ref)
	if err != nil {
		return Meta{}, fmt.Errorf("state: load %q: %w", p.Ref.Key, err)
	}
	if ok && meta.ETag != "" && current.ETag != "" && meta.ETag != current.ETag {
		return current, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, meta.ETag, current.ETag)
	}

	next := mergeMeta(current, meta)
	next.SnapshotID = meta.SnapshotID
	if next.SnapshotID == "" {
		next.SnapshotID = uuid.NewString()
	}
	next.ETag = uuid.NewString()
	next.UpdatedAt = p.now()

	saved, err := p.Store.Save(ctx, p.Ref, cache.Extract(false), next)
	if err != nil {
		return Meta{}, fmt.Errorf("state: save %q: %w", p.Ref.Key, err)
	}
	return saved, nil
}

// Load restores the stored snapshot into cache. It reports false when
// nothing was stored.
func (p Persister) Load(ctx context.Context, cache Snapshotter) (Meta, bool, error) {
	if err := p.validate(cache); err != nil {
		return Meta{}, false, err
	}
	snapshot, meta, ok, err := p.Store.Load(ctx, p.Ref)
	if err != nil {
		return Meta{}, false, fmt.Errorf("state: load %q: %w", p.Ref.Key, err)
	}
	if !ok {
		return Meta{}, false, nil
	}
	if err := cache.Restore(snapshot); err != nil {
		return meta, false, fmt.Errorf("state: restore %q: %w", p.Ref.Key, err)
	}
	return meta, true, nil
}

func (p Persister) validate(cache Snapshotter) error {
	if p.Store == nil {
		return fmt.Errorf("state: store is required")
	}
	if cache == nil {
		return fmt.Errorf("state: cache is required")
	}
	if _, err := p.Ref.Identifier(); err != nil {
		return err
	}
	return nil
}

func (p Persister) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
