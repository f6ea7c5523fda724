package store

import (
	"context"
	"sync"
	"time"
)

type memorySession struct {
	values    map[string]string
	expiresAt time.Time
}

// Memory is an in-process Store. Expired sessions stay in memory until the
// next write to the same ID or a Purge.
type Memory struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[string]*memorySession
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:      ttl,
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func (m *Memory) Get(_ context.Context, sid, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sid]
	if !ok || !m.now().Before(s.expiresAt) {
		return "", ErrNotFound
	}
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, sid, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s, ok := m.sessions[sid]
	if !ok || !now.Before(s.expiresAt) {
		s = &memorySession{values: make(map[string]string)}
		m.sessions[sid] = s
	}
	s.values[key] = value
	s.expiresAt = now.Add(m.ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, sid string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(s.values, k)
	}
	if len(s.values) == 0 {
		delete(m.sessions, sid)
	}
	return nil
}

// Purge drops expired sessions and returns how many values they held.
func (m *Memory) Purge(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for sid, s := range m.sessions {
		if !now.Before(s.expiresAt) {
			n += int64(len(s.values))
			delete(m.sessions, sid)
		}
	}
	return n, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
