package normcache

import (
	"fmt"

	"github.com/goliatone/go-normcache/layering"
)

// Transaction stages reads and writes against one layer. Writes become
// visible to other callers only when the transaction function returns nil.
// A Transaction must not be retained after the function returns. Each
// method holds the cache lock for its own duration only.
type Transaction struct {
	cache      *InMemoryCache
	draft      *layering.Draft
	optimistic bool
	err        error
	done       bool
}

// lock acquires the cache lock and checks tx is still open. On success the
// caller must release the lock.
func (tx *Transaction) lock() error {
	if tx == nil {
		return ErrInvalidTransaction
	}
	tx.cache.mu.Lock()
	if err := tx.usable(); err != nil {
		tx.cache.mu.Unlock()
		return err
	}
	return nil
}

func (tx *Transaction) usable() error {
	if tx.done {
		return ErrInvalidTransaction
	}
	if tx.err != nil {
		return fmt.Errorf("%w: aborted by earlier error: %v", ErrInvalidTransaction, tx.err)
	}
	return nil
}

// abort records the first failure; the transaction will not commit.
func (tx *Transaction) abort(err error) error {
	if err != nil && tx.err == nil {
		tx.err = err
	}
	return err
}

func (tx *Transaction) resolver(optimistic bool) func(string) (layering.Record, bool) {
	optimistic = optimistic || tx.optimistic
	return func(id string) (layering.Record, bool) {
		return tx.draft.Resolve(id, optimistic)
	}
}

// LayerID returns the optimistic layer targeted by the transaction, or ""
// for the base layer.
func (tx *Transaction) LayerID() string {
	return tx.draft.LayerID()
}

// WriteQuery stages data shaped by the query.
func (tx *Transaction) WriteQuery(opts WriteOptions) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.cache.mu.Unlock()
	return tx.abort(tx.cache.write(tx.draft, opts.Query, opts.Variables, opts.RootID, opts.Data))
}

// WriteFragment stages data shaped by the fragment under opts.ID.
func (tx *Transaction) WriteFragment(opts FragmentOptions) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.cache.mu.Unlock()
	doc, err := opts.document()
	if err != nil {
		return tx.abort(err)
	}
	return tx.abort(tx.cache.write(tx.draft, doc, opts.Variables, opts.ID, opts.Data))
}

// Diff reads through the staged writes.
func (tx *Transaction) Diff(opts DiffOptions) (DiffResult, error) {
	if err := tx.lock(); err != nil {
		return DiffResult{}, err
	}
	defer tx.cache.mu.Unlock()
	result, _, err := tx.cache.diff(tx.resolver(opts.Optimistic), opts)
	return result, err
}

// ReadQuery reads through the staged writes.
func (tx *Transaction) ReadQuery(opts ReadOptions) (map[string]any, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.cache.mu.Unlock()
	return tx.cache.read(tx.resolver(opts.Optimistic), opts)
}

// ReadFragment reads through the staged writes.
func (tx *Transaction) ReadFragment(opts FragmentOptions) (map[string]any, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.cache.mu.Unlock()
	read, err := opts.readOptions()
	if err != nil {
		return nil, err
	}
	return tx.cache.read(tx.resolver(opts.Optimistic), read)
}

// close discards uncommitted writes and invalidates tx.
func (tx *Transaction) close() {
	if !tx.draft.Closed() {
		tx.draft.Discard()
	}
	tx.done = true
}
