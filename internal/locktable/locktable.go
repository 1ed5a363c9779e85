// Package locktable implements C6, the bounded per-session mutex table
// that serializes writes to the same session. It adapts the teacher's
// container/list-based true-LRU cache
// (infrastructure/publishing/lru_cache.go) from caching arbitrary values
// to holding *sync.Mutex per session, adding the "never evict a held
// mutex" safety rule spec.md §4.6 and §5 require via a reference count.
package locktable

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

type entry struct {
	id       authstate.SessionId
	mu       sync.Mutex
	refCount int
	lastUsed time.Time
}

// Table is a bounded, idle-evicting map of sessionId -> mutex.
type Table struct {
	capacity int
	idleTTL  time.Duration

	mu        sync.Mutex
	items     map[authstate.SessionId]*list.Element
	evictList *list.List

	evictions int64
}

// New constructs a Table with the given capacity (default ~10,000 per
// spec.md §4.6) and idle-eviction TTL (default ~30 minutes).
func New(capacity int, idleTTL time.Duration) *Table {
	if capacity <= 0 {
		capacity = 10000
	}
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &Table{
		capacity:  capacity,
		idleTTL:   idleTTL,
		items:     make(map[authstate.SessionId]*list.Element, capacity),
		evictList: list.New(),
	}
}

// acquireEntry returns the entry for id, creating it lazily, bumps its
// reference count, and marks it most-recently-used. Callers MUST call
// release(id) exactly once for every acquireEntry call.
func (t *Table) acquireEntry(id authstate.SessionId) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.items[id]; ok {
		t.evictList.MoveToFront(el)
		e := el.Value.(*entry)
		e.refCount++
		e.lastUsed = time.Now()
		return e
	}

	if t.evictList.Len() >= t.capacity {
		t.evictIdleLocked()
	}

	e := &entry{id: id, refCount: 1, lastUsed: time.Now()}
	el := t.evictList.PushFront(e)
	t.items[id] = el
	return e
}

func (t *Table) release(id authstate.SessionId) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.items[id]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	e.refCount--
	e.lastUsed = time.Now()
}

// evictIdleLocked evicts the least-recently-used entry that currently has
// no holders. It never removes an entry with refCount > 0, per spec.md's
// "evicting a mutex while held is forbidden" invariant. t.mu must be held.
func (t *Table) evictIdleLocked() {
	for el := t.evictList.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.refCount > 0 {
			continue
		}
		t.evictList.Remove(el)
		delete(t.items, e.id)
		t.evictions++
		return
	}
	// Every entry is currently held; capacity is temporarily exceeded
	// rather than evicting an in-use mutex.
}

// SweepIdle evicts all entries idle longer than the table's idleTTL and
// not currently held, so idle sessions can be reclaimed even when the
// table never reaches capacity. Nothing in this module calls it on a
// schedule; without a call, idle entries are removed only by capacity
// eviction.
func (t *Table) SweepIdle() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.idleTTL)
	removed := 0
	for el := t.evictList.Back(); el != nil; {
		e := el.Value.(*entry)
		prev := el.Prev()
		if e.refCount == 0 && e.lastUsed.Before(cutoff) {
			t.evictList.Remove(el)
			delete(t.items, e.id)
			t.evictions++
			removed++
		}
		el = prev
	}
	return removed
}

// Len returns the number of active (non-evicted) entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictList.Len()
}

// Evictions returns the cumulative eviction count, for metrics.
func (t *Table) Evictions() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictions
}

// RunExclusive acquires the per-session mutex, runs fn, and releases the
// mutex on every exit path (success or error), per spec.md §4.6's
// runExclusive idiom. It respects ctx cancellation while waiting to
// acquire the lock.
func (t *Table) RunExclusive(ctx context.Context, id authstate.SessionId, fn func(context.Context) error) error {
	e := t.acquireEntry(id)
	defer t.release(id)

	locked := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-ctx.Done():
		// The goroutine above will still acquire the lock eventually and
		// leave it held forever unless we also wait for it in the
		// background and unlock once acquired, since we never got to run
		// fn. We detach a cleanup goroutine for that case.
		go func() {
			<-locked
			e.mu.Unlock()
		}()
		return ctx.Err()
	}

	defer e.mu.Unlock()
	return fn(ctx)
}
