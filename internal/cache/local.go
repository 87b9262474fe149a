package cache

import (
	"sync"
	"time"
)

type localEntry struct {
	data    []byte
	expires time.Time
}

// Local is a bounded in-process store that serves reads while redis is unavailable.
// Expired entries are dropped lazily.
type Local struct {
	mu      sync.Mutex
	entries map[string]localEntry
	size    int
	now     func() time.Time
}

func NewLocal(size int) *Local {
	return &Local{
		entries: make(map[string]localEntry),
		size:    max(size, 1),
		now:     time.Now,
	}
}

func (l *Local) Get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	if l.now().After(e.expires) {
		delete(l.entries, key)
		return nil, false
	}
	return e.data, true
}

func (l *Local) Set(key string, data []byte, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[key]; !ok && len(l.entries) >= l.size {
		l.evict()
	}
	l.entries[key] = localEntry{data: data, expires: l.now().Add(ttl)}
}

func (l *Local) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// evict drops expired entries, or the entry closest to expiry if none have.
func (l *Local) evict() {
	now := l.now()

	var soonest string
	for key, e := range l.entries {
		if now.After(e.expires) {
			delete(l.entries, key)
			continue
		}
		if soonest == "" || e.expires.Before(l.entries[soonest].expires) {
			soonest = key
		}
	}

	if len(l.entries) >= l.size && soonest != "" {
		delete(l.entries, soonest)
	}
}
