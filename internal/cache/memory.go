package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is a bounded in-process Cache. It is only correct for a single API
// instance: one-time codes stored here are invisible to other processes.
type Memory struct {
	mu    sync.Mutex
	items *lru.Cache[string, memoryEntry]
	now   func() time.Time
}

// NewMemory returns an in-process cache holding at most size keys.
func NewMemory(size int) (*Memory, error) {
	items, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}
	return &Memory{items: items, now: time.Now}, nil
}

// lookup must be called with mu held.
func (m *Memory) lookup(key string) (memoryEntry, bool) {
	e, ok := m.items.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.items.Remove(key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return "", ErrMiss
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.items.Add(key, e)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Remove(key)
	return nil
}

func (m *Memory) Take(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return "", ErrMiss
	}
	m.items.Remove(key)
	return e.value, nil
}

func (m *Memory) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok || e.value != expected {
		return false, nil
	}
	m.items.Remove(key)
	return true, nil
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	var n int64
	if ok {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("memory incr %q: value is not a counter", key)
		}
		n = v
	} else if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	m.items.Add(key, e)
	return n, nil
}
