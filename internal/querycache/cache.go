// Package querycache keeps the results of remote queries keyed by operation and arguments, and
// refreshes them when a tag they carry is invalidated.
//
// Each entry has at most one live fetch. Every fetch gets a sequence number and a response is
// applied only when its number is newer than the last one applied, so a slow response can
// never overwrite a newer one. A failed fetch keeps the previous value and reports the error
// next to it.
package querycache

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultKeepUnusedFor is how long an entry survives without subscribers.
const DefaultKeepUnusedFor = 60 * time.Second

// ErrClosed is reported by subscriptions created after Close.
var ErrClosed = errors.New("querycache: closed")

// FetchFunc loads the value of a query.
type FetchFunc func(ctx context.Context) (any, error)

// Query describes what a subscriber wants cached.
type Query struct {
	Operation string
	Args      any
	Fetch     FetchFunc
}

// Options configures a Cache.
type Options struct {
	KeepUnusedFor time.Duration
	Logger        *slog.Logger
}

// Cache holds query entries and the subscriptions watching them. It is safe for concurrent use.
type Cache struct {
	registry      *Registry
	keepUnusedFor time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	entries map[Key]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// New returns an empty cache that tags entries through registry.
func New(registry *Registry, opts Options) *Cache {
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.KeepUnusedFor <= 0 {
		opts.KeepUnusedFor = DefaultKeepUnusedFor
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		registry:      registry,
		keepUnusedFor: opts.KeepUnusedFor,
		logger:        opts.Logger,
		entries:       make(map[Key]*entry),
		ctx:           ctx,
		cancel:        cancel,
		now:           time.Now,
	}
}

// Registry returns the tag table the cache was built with.
func (c *Cache) Registry() *Registry {
	return c.registry
}

// Subscribe returns a subscription to the entry for q, creating the entry and starting a fetch
// when needed. A subscriber arriving while a fetch is in flight shares it.
func (c *Cache) Subscribe(q Query, opts ...SubscribeOption) *Subscription {
	sub := &Subscription{cache: c, notify: make(chan struct{}, 1), done: make(chan struct{})}
	for _, opt := range opts {
		opt(sub)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		sub.closed = true
		close(sub.done)
		return sub
	}

	key := NewKey(q.Operation, q.Args)
	e, ok := c.entries[key]
	if !ok {
		e = newEntry(key, c.registry.TagsFor(q.Operation), q.Fetch)
		c.entries[key] = e
	}
	sub.entry = e
	e.subs[sub] = struct{}{}
	if e.evictTimer != nil {
		e.evictTimer.Stop()
		e.evictTimer = nil
	}

	if sub.listener != nil {
		c.wg.Add(1)
		go sub.deliver(&c.wg)
	}

	if e.fetch != nil && e.inflight == nil && e.speculative == 0 && (e.stale || e.status == StatusIdle || e.status == StatusError) {
		c.startFetchLocked(e)
	}
	c.reschedulePollLocked(e)
	c.notifyLocked(e)
	return sub
}

// Invalidate marks every entry carrying any of tags stale and refetches those with active
// subscribers. An in-flight fetch is superseded.
func (c *Cache) Invalidate(tags ...Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(tags)
}

// InvalidateMutation invalidates the tags the registry lists for mutation.
func (c *Cache) InvalidateMutation(mutation string) {
	c.Invalidate(c.registry.InvalidatedBy(mutation)...)
}

// Revalidate invalidates tags and waits until every refetch it scheduled has been applied. It
// returns the first fetch error.
func (c *Cache) Revalidate(ctx context.Context, tags ...Tag) error {
	c.mu.Lock()
	pending := c.invalidateLocked(tags)
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range pending {
		g.Go(func() error {
			_, err := c.waitApplied(ctx, p.entry, p.seq)
			return err
		})
	}
	return g.Wait()
}

type pendingFetch struct {
	entry *entry
	seq   uint64
}

func (c *Cache) invalidateLocked(tags []Tag) []pendingFetch {
	var pending []pendingFetch
	for _, e := range c.entries {
		if !hasAny(tags, e.tags) {
			continue
		}
		e.stale = true
		if e.speculative > 0 {
			e.missed = true
		} else if len(e.subs) > 0 && e.fetch != nil {
			seq := c.startFetchLocked(e)
			pending = append(pending, pendingFetch{entry: e, seq: seq})
		}
		c.notifyLocked(e)
	}
	return pending
}

// Peek returns the current snapshot of key without subscribing.
func (c *Cache) Peek(key Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// KeysFor lists the keys of entries carrying any of tags, ordered by operation then arguments.
func (c *Cache) KeysFor(tags ...Tag) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []Key
	for k, e := range c.entries {
		if hasAny(tags, e.tags) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Operation != keys[j].Operation {
			return keys[i].Operation < keys[j].Operation
		}
		return keys[i].Args < keys[j].Args
	})
	return keys
}

// WriteSpeculative publishes value for key ahead of server confirmation. Responses of fetches
// issued before the write are discarded, and responses arriving while the entry is speculative
// are not published. Writes nest: the entry stays speculative until each one is committed or
// restored. It reports false when key is not cached.
func (c *Cache) WriteSpeculative(key Key, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.writeSpeculativeLocked(e, value)
	return true
}

// Speculate reads key and, when fn accepts, publishes fn's value as a speculative write, all
// under one lock hold. The returned snapshot is the state fn saw, for a later Restore. It
// reports false when key is not cached or fn declines.
func (c *Cache) Speculate(key Key, fn func(Snapshot) (any, bool)) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	snap := e.snapshot()
	value, ok := fn(snap)
	if !ok {
		return snap, false
	}
	c.writeSpeculativeLocked(e, value)
	return snap, true
}

func (c *Cache) writeSpeculativeLocked(e *entry, value any) {
	if e.inflight != nil {
		e.missed = true
	}
	e.value = value
	e.speculative++
	c.settleLocked(e)
	c.notifyLocked(e)
}

// Commit ends one speculative write on key and keeps the written value.
func (c *Cache) Commit(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.speculative == 0 {
		return
	}
	e.speculative--
	c.settleLocked(e)
	c.refetchMissedLocked(e)
	c.notifyLocked(e)
}

// Restore puts snap back on key verbatim and ends one speculative write.
func (c *Cache) Restore(key Key, snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.value = snap.Value
	e.status = snap.Status
	e.err = snap.Err
	e.stale = snap.Stale
	e.updatedAt = snap.UpdatedAt
	if e.speculative > 0 {
		e.speculative--
	}
	c.settleLocked(e)
	c.refetchMissedLocked(e)
	c.notifyLocked(e)
}

// refetchMissedLocked catches e up once it is no longer speculative, if an invalidation or a
// response was held back in the meantime.
func (c *Cache) refetchMissedLocked(e *entry) {
	if e.speculative > 0 || !e.missed {
		return
	}
	e.missed = false
	e.stale = true
	if len(e.subs) > 0 && e.fetch != nil {
		c.startFetchLocked(e)
	}
}

// Reset drops every entry, stops pollers and detaches all subscriptions. The cache stays
// usable.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.resetLocked()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()
}

// Close resets the cache, refuses new subscriptions and waits for background work to stop.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.resetLocked()
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Cache) resetLocked() {
	c.cancel()
	for key, e := range c.entries {
		c.dropLocked(e)
		delete(c.entries, key)
	}
}

func (c *Cache) dropLocked(e *entry) {
	e.dropped = true
	e.inflight = nil
	if e.evictTimer != nil {
		e.evictTimer.Stop()
		e.evictTimer = nil
	}
	if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}
	for sub := range e.subs {
		sub.detachLocked()
	}
	e.subs = nil
	e.broadcast()
}

// startFetchLocked issues a new fetch for e and returns its sequence number.
func (c *Cache) startFetchLocked(e *entry) uint64 {
	e.seq++
	seq := e.seq
	e.inflight = &seq
	if e.status == StatusIdle {
		e.status = StatusLoading
	}
	e.broadcast()

	ctx := c.ctx
	fetch := e.fetch
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		value, err := fetch(ctx)
		c.complete(e, seq, value, err)
	}()
	return seq
}

func (c *Cache) complete(e *entry, seq uint64, value any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.dropped {
		return
	}
	if seq <= e.applied {
		c.logger.Debug("discarding stale response", "key", e.key.String(), "seq", seq, "applied", e.applied)
		return
	}
	if e.speculative > 0 {
		c.logger.Debug("discarding response for speculative entry", "key", e.key.String(), "seq", seq)
		e.missed = true
		if e.inflight != nil && *e.inflight <= seq {
			e.inflight = nil
			e.broadcast()
		}
		return
	}

	e.applied = seq
	if e.inflight != nil && *e.inflight <= seq {
		e.inflight = nil
	}
	if err != nil {
		c.logger.Debug("query failed", "key", e.key.String(), "err", err)
		e.status = StatusError
		e.err = err
	} else {
		e.value = value
		e.status = StatusSuccess
		e.err = nil
		e.stale = false
		e.updatedAt = c.now()
	}
	e.broadcast()
	c.notifyLocked(e)
}

// settleLocked discards every fetch issued so far on e.
func (c *Cache) settleLocked(e *entry) {
	e.applied = e.seq
	e.inflight = nil
	e.broadcast()
}

// waitApplied blocks until the fetch with seq, or a later one, has settled on e.
func (c *Cache) waitApplied(ctx context.Context, e *entry, seq uint64) (Snapshot, error) {
	for {
		c.mu.Lock()
		if e.dropped {
			c.mu.Unlock()
			return Snapshot{Key: e.key, Status: StatusIdle}, ErrClosed
		}
		if e.applied >= seq {
			snap := e.snapshot()
			c.mu.Unlock()
			return snap, snap.Err
		}
		ch := e.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
}

func (c *Cache) unsubscribeLocked(sub *Subscription) {
	e := sub.entry
	sub.detachLocked()
	if e == nil || e.dropped {
		return
	}
	delete(e.subs, sub)
	c.reschedulePollLocked(e)
	if len(e.subs) > 0 {
		return
	}
	e.evictTimer = time.AfterFunc(c.keepUnusedFor, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(e.subs) == 0 && c.entries[e.key] == e {
			c.dropLocked(e)
			delete(c.entries, e.key)
		}
	})
}

// reschedulePollLocked runs e's poller at the smallest interval requested by its subscribers.
func (c *Cache) reschedulePollLocked(e *entry) {
	var interval time.Duration
	for sub := range e.subs {
		if sub.pollInterval > 0 && (interval == 0 || sub.pollInterval < interval) {
			interval = sub.pollInterval
		}
	}
	if interval == e.pollInterval {
		return
	}
	if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}
	e.pollInterval = interval
	if interval == 0 {
		return
	}

	stop := make(chan struct{})
	e.pollStop = stop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				switch {
				case e.dropped || e.fetch == nil:
				case e.speculative > 0:
					e.missed = true
				default:
					c.startFetchLocked(e)
					c.notifyLocked(e)
				}
				c.mu.Unlock()
			}
		}
	}()
}

func (c *Cache) notifyLocked(e *entry) {
	for sub := range e.subs {
		sub.signal()
	}
}
