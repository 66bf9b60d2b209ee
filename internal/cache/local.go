package cache

import (
	"container/list"
	"path"
	"sync"
	"time"
)

type localEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// localStore is a bounded in-process tier: least-recently-used eviction with
// per-entry TTL checked on read.
type localStore struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	items    map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

func newLocalStore(capacity int) *localStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &localStore{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (s *localStore) get(key string, now time.Time) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false
	}
	entry := el.Value.(*localEntry)
	if !entry.expires.IsZero() && now.After(entry.expires) {
		s.order.Remove(el)
		delete(s.items, key)
		s.misses++
		return nil, false
	}
	s.order.MoveToFront(el)
	s.hits++
	return entry.value, true
}

func (s *localStore) set(key string, value []byte, ttl time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}

	if el, ok := s.items[key]; ok {
		entry := el.Value.(*localEntry)
		entry.value = value
		entry.expires = expires
		s.order.MoveToFront(el)
		return
	}

	s.items[key] = s.order.PushFront(&localEntry{key: key, value: value, expires: expires})
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*localEntry).key)
		s.evictions++
	}
}

// invalidate removes entries whose key matches the glob pattern and returns
// how many were removed.
func (s *localStore) invalidate(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, el := range s.items {
		ok, err := path.Match(pattern, key)
		if err != nil {
			break
		}
		if ok {
			s.order.Remove(el)
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

func (s *localStore) snapshot() (hits, misses, evictions uint64, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses, s.evictions, s.order.Len()
}
