// Package state defines the persistence contract for extracted cache
// snapshots.
//
// The cache core never persists anything itself. Store[T] loads and saves
// one snapshot for one Ref; adapters for real backends live with the
// consumer. Persister bridges a cache and a Store:
//
//	cache.Extract(false) -> Store.Save(ref, snapshot, meta)
//	Store.Load(ref) -> cache.Restore(snapshot)
//
// Concurrency control:
//
//	Meta.ETag changes on every Persister.Save. A caller that passes the ETag
//	it last saw gets ErrETagMismatch when another writer saved in between.
package state
