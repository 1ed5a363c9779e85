package durabletier

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

// documentCache is the short-lived (~5s TTL) in-process read cache
// absorbing read amplification ahead of Postgres, per spec.md §4.2. It
// adapts the teacher's notification/template.TemplateCache LRU-plus-stats
// shape (golang-lru/v2) from caching parsed templates to caching recently
// read snapshots by sessionId, adding a wall-clock TTL on top of the LRU's
// size bound since repeated reads of a just-written session must not
// return data past its freshness window.
type documentCache struct {
	cache *lru.Cache[authstate.SessionId, docCacheEntry]
	ttl   time.Duration
	mu    sync.RWMutex

	hits   uint64
	misses uint64
}

type docCacheEntry struct {
	snapshot  authstate.Versioned[authstate.AuthSnapshot]
	cachedAt  time.Time
}

func newDocumentCache(size int, ttl time.Duration) *documentCache {
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	c, _ := lru.New[authstate.SessionId, docCacheEntry](size)
	return &documentCache{cache: c, ttl: ttl}
}

func (d *documentCache) get(id authstate.SessionId) (authstate.Versioned[authstate.AuthSnapshot], bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.cache.Get(id)
	if !ok || time.Since(entry.cachedAt) > d.ttl {
		return authstate.Versioned[authstate.AuthSnapshot]{}, false
	}
	return entry.snapshot, true
}

func (d *documentCache) set(id authstate.SessionId, snapshot authstate.Versioned[authstate.AuthSnapshot]) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache.Add(id, docCacheEntry{snapshot: snapshot, cachedAt: time.Now()})
}

func (d *documentCache) invalidate(id authstate.SessionId) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache.Remove(id)
}
