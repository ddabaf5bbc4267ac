// Package optimistic applies the local effect of a mutation to cached queries before the server
// confirms it, and commits or rolls the effect back once the server answers.
package optimistic

import (
	"context"
	"log/slog"

	"bookcatalog/internal/apierr"
	"bookcatalog/internal/querycache"
)

// Store is the part of the query cache the coordinator writes through.
type Store interface {
	Registry() *querycache.Registry
	KeysFor(tags ...querycache.Tag) []querycache.Key
	Speculate(key querycache.Key, fn func(querycache.Snapshot) (any, bool)) (querycache.Snapshot, bool)
	Commit(key querycache.Key)
	Restore(key querycache.Key, snap querycache.Snapshot)
	Invalidate(tags ...querycache.Tag)
}

// Mutation is a server write with a local effect.
type Mutation struct {
	// Name is looked up in the registry to find the tags the mutation touches.
	Name string
	// Apply computes the speculative value of one cached entry. Returning false leaves the entry
	// alone. It runs while the cache is locked and must not call back into it.
	Apply func(key querycache.Key, value any) (any, bool)
	// Run performs the server call.
	Run func(ctx context.Context) error
}

// Coordinator runs mutations against a Store.
type Coordinator struct {
	store  Store
	logger *slog.Logger
}

// NewCoordinator returns a coordinator writing through store.
func NewCoordinator(store Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, logger: logger}
}

// Execute captures, applies, runs the mutation and then commits or rolls back. On failure the
// cached entries are back to their captured state when Execute returns.
func (c *Coordinator) Execute(ctx context.Context, m Mutation) (err error) {
	tx := c.Capture(m)
	tx.Apply()

	defer func() {
		if err != nil {
			tx.Rollback()
			c.logger.Info("optimistic update rolled back", "mutation", m.Name, "err", err)
			return
		}
		tx.Commit()
	}()

	if runErr := m.Run(ctx); runErr != nil {
		return apierr.From(runErr)
	}
	return nil
}

type capture struct {
	key     querycache.Key
	snap    querycache.Snapshot
	written bool
}

type txState int

const (
	txCaptured txState = iota
	txApplied
	txDone
)

// Transaction holds the entries one mutation touches and the state each had before it was
// written.
type Transaction struct {
	store    Store
	mutation Mutation
	tags     []querycache.Tag
	captured []capture
	state    txState
}

// Capture finds every cached entry carrying a tag the mutation invalidates. Their state is
// snapshotted by Apply, in the same step that writes them.
func (c *Coordinator) Capture(m Mutation) *Transaction {
	tx := &Transaction{
		store:    c.store,
		mutation: m,
		tags:     c.store.Registry().InvalidatedBy(m.Name),
	}
	for _, key := range c.store.KeysFor(tx.tags...) {
		tx.captured = append(tx.captured, capture{key: key})
	}
	return tx
}

// Keys returns the keys captured by the transaction.
func (tx *Transaction) Keys() []querycache.Key {
	keys := make([]querycache.Key, len(tx.captured))
	for i, cp := range tx.captured {
		keys[i] = cp.key
	}
	return keys
}

// Apply publishes the speculative value of every captured entry. It runs at most once.
func (tx *Transaction) Apply() {
	if tx.state != txCaptured {
		return
	}
	tx.state = txApplied
	if tx.mutation.Apply == nil {
		return
	}
	for i := range tx.captured {
		cp := &tx.captured[i]
		cp.snap, cp.written = tx.store.Speculate(cp.key, func(snap querycache.Snapshot) (any, bool) {
			return tx.mutation.Apply(cp.key, snap.Value)
		})
	}
}

// Commit keeps the speculative values, drops the snapshots and invalidates the mutation's tags
// so the server state replaces them.
func (tx *Transaction) Commit() {
	if tx.state == txDone {
		return
	}
	tx.state = txDone
	for _, cp := range tx.captured {
		if cp.written {
			tx.store.Commit(cp.key)
		}
	}
	tx.captured = nil
	tx.store.Invalidate(tx.tags...)
}

// Rollback restores every written entry to its captured snapshot.
func (tx *Transaction) Rollback() {
	if tx.state == txDone {
		return
	}
	tx.state = txDone
	for _, cp := range tx.captured {
		if cp.written {
			tx.store.Restore(cp.key, cp.snap)
		}
	}
	tx.captured = nil
}
