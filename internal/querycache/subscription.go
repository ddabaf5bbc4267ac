package querycache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Snapshot is a read-only copy of an entry.
type Snapshot struct {
	Key    Key
	Value  any
	Status Status
	// Err is the last fetch error. Value still holds the last good result.
	Err         error
	Stale       bool
	Fetching    bool
	Speculative bool
	Tags        []Tag
	UpdatedAt   time.Time
}

// Value returns the snapshot value as T.
func Value[T any](s Snapshot) (T, bool) {
	v, ok := s.Value.(T)
	return v, ok
}

type entry struct {
	key   Key
	tags  []Tag
	fetch FetchFunc

	value     any
	status    Status
	err       error
	stale     bool
	updatedAt time.Time

	// speculative counts speculative writes not yet committed or restored.
	speculative int
	// missed is set when a refetch or response was held back while speculative.
	missed  bool
	dropped bool

	// seq is the last sequence number issued, applied the last one settled.
	seq      uint64
	applied  uint64
	inflight *uint64
	changed  chan struct{}

	subs         map[*Subscription]struct{}
	pollInterval time.Duration
	pollStop     chan struct{}
	evictTimer   *time.Timer
}

func newEntry(key Key, tags []Tag, fetch FetchFunc) *entry {
	return &entry{
		key:     key,
		tags:    tags,
		fetch:   fetch,
		status:  StatusIdle,
		changed: make(chan struct{}),
		subs:    make(map[*Subscription]struct{}),
	}
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Key:         e.key,
		Value:       e.value,
		Status:      e.status,
		Err:         e.err,
		Stale:       e.stale,
		Fetching:    e.inflight != nil,
		Speculative: e.speculative > 0,
		Tags:        append([]Tag(nil), e.tags...),
		UpdatedAt:   e.updatedAt,
	}
}

// broadcast wakes everyone waiting on the entry.
func (e *entry) broadcast() {
	close(e.changed)
	e.changed = make(chan struct{})
}

// SubscribeOption configures a Subscription.
type SubscribeOption func(*Subscription)

// WithPollingInterval refetches the entry every d while the subscription is active.
func WithPollingInterval(d time.Duration) SubscribeOption {
	return func(s *Subscription) {
		s.pollInterval = d
	}
}

// WithListener calls fn with the latest snapshot after each change. Calls for one subscription
// never overlap and intermediate states may be skipped.
func WithListener(fn func(Snapshot)) SubscribeOption {
	return func(s *Subscription) {
		s.listener = fn
	}
}

// Subscription is one consumer's handle on a cache entry.
type Subscription struct {
	cache        *Cache
	entry        *entry
	pollInterval time.Duration
	listener     func(Snapshot)
	notify       chan struct{}
	done         chan struct{}
	closed       bool
}

// Key returns the key of the subscribed entry.
func (s *Subscription) Key() Key {
	if s.entry == nil {
		return Key{}
	}
	return s.entry.key
}

// Snapshot returns the current state of the entry.
func (s *Subscription) Snapshot() Snapshot {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	if s.closed {
		return Snapshot{Key: s.Key(), Status: StatusIdle, Err: ErrClosed}
	}
	return s.entry.snapshot()
}

// Refetch issues a new fetch, superseding any in flight, and waits for it to settle.
func (s *Subscription) Refetch(ctx context.Context) (Snapshot, error) {
	c := s.cache
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return Snapshot{Key: s.Key(), Status: StatusIdle}, ErrClosed
	}
	e := s.entry
	if e.fetch == nil {
		snap := e.snapshot()
		c.mu.Unlock()
		return snap, snap.Err
	}
	seq := c.startFetchLocked(e)
	c.notifyLocked(e)
	c.mu.Unlock()

	return c.waitApplied(ctx, e, seq)
}

// Settled waits until no fetch is in flight and returns the resulting snapshot together with
// its error.
func (s *Subscription) Settled(ctx context.Context) (Snapshot, error) {
	c := s.cache
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return Snapshot{Key: s.Key(), Status: StatusIdle}, ErrClosed
	}
	e := s.entry
	seq := e.seq
	c.mu.Unlock()

	return c.waitApplied(ctx, e, seq)
}

// Unsubscribe detaches the subscription. The entry is evicted once it has had no subscribers
// for the cache's keep-unused window. Calling it twice is a no-op.
func (s *Subscription) Unsubscribe() {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	if s.closed {
		return
	}
	s.cache.unsubscribeLocked(s)
}

func (s *Subscription) detachLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *Subscription) signal() {
	if s.listener == nil {
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) deliver(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			snap := s.Snapshot()
			if errors.Is(snap.Err, ErrClosed) {
				return
			}
			s.listener(snap)
		}
	}
}
