package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// l1Entry pairs an L1 value with its absolute expiry.
type l1Entry struct {
	value   []byte
	expires time.Time
}

// l1Cache is the process-local tier: a size-bounded LRU with an
// independent per-entry TTL layered on top, since golang-lru's Cache
// itself has no TTL notion.
type l1Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, l1Entry]
}

func newL1Cache(maxSize int) *l1Cache {
	if maxSize <= 0 {
		maxSize = defaultL1MaxSize
	}
	c, _ := lru.New[string, l1Entry](maxSize)
	return &l1Cache{entries: c}
}

func (l *l1Cache) get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		l.entries.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (l *l1Cache) set(key string, value []byte, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Add(key, l1Entry{value: value, expires: time.Now().Add(ttl)})
}

func (l *l1Cache) delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Remove(key)
}

// deleteByPrefix removes every entry whose key begins with prefix and
// returns how many were removed.
func (l *l1Cache) deleteByPrefix(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, key := range l.entries.Keys() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			l.entries.Remove(key)
			removed++
		}
	}
	return removed
}

func (l *l1Cache) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Len()
}
