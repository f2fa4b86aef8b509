// Package kvtest provides an in-memory key-value store with the same method set
// as pkg/cache.Cache, for use in tests.
package kvtest

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable is returned by every operation while the store is marked down.
var ErrUnavailable = errors.New("kvtest: store unavailable")

type item struct {
	value   string
	expires time.Time
}

// Store is a map-backed key-value store honouring TTLs against an injectable clock.
type Store struct {
	mu    sync.Mutex
	items map[string]item
	down  bool

	// Now defaults to time.Now.
	Now func() time.Time

	// TTLs records the last TTL passed to Set or Incr per key.
	TTLs map[string]time.Duration
}

// New returns an empty Store.
func New() *Store {
	return &Store{items: make(map[string]item), TTLs: make(map[string]time.Duration), Now: time.Now}
}

// SetDown makes every subsequent call fail with ErrUnavailable.
func (s *Store) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *Store) live(key string) (item, bool) {
	it, ok := s.items[key]
	if !ok {
		return item{}, false
	}
	if !it.expires.IsZero() && !s.Now().Before(it.expires) {
		delete(s.items, key)
		return item{}, false
	}
	return it, true
}

// Get returns the value stored at key, or "" when absent.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return "", ErrUnavailable
	}
	it, _ := s.live(key)
	return it.value, nil
}

// Set stores value at key. A zero ttl never expires.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return ErrUnavailable
	}
	it := item{value: value}
	if ttl > 0 {
		it.expires = s.Now().Add(ttl)
	}
	s.items[key] = it
	s.TTLs[key] = ttl
	return nil
}

// Keys returns the sorted keys starting with prefix.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, ErrUnavailable
	}
	var keys []string
	for k := range s.items {
		if _, ok := s.live(k); ok && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Incr increments the integer stored at key, applying ttl on creation.
func (s *Store) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return 0, ErrUnavailable
	}
	it, ok := s.live(key)
	n, _ := strconv.ParseInt(it.value, 10, 64)
	n++
	it.value = strconv.FormatInt(n, 10)
	if !ok && ttl > 0 {
		it.expires = s.Now().Add(ttl)
		s.TTLs[key] = ttl
	}
	s.items[key] = it
	return n, nil
}
