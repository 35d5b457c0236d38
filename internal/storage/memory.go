package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Memory is a process-local Store. The file driver layers its journal on top of it.
type Memory struct {
	mu       sync.RWMutex
	closed   bool
	cache    map[string]Resolution
	audio    map[string]AudioLink
	requests map[string][]int64 // unix milli per category
	users    map[int64]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		cache:    map[string]Resolution{},
		audio:    map[string]AudioLink{},
		requests: map[string][]int64{},
		users:    map[int64]struct{}{},
	}
}

func (m *Memory) LookupResolution(ctx context.Context, link string) (Resolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Resolution{}, ErrClosed
	}
	r, ok := m.cache[strings.TrimSpace(link)]
	if !ok {
		return Resolution{}, ErrNotFound
	}
	r.Slides = slices.Clone(r.Slides)
	return r, nil
}

func (m *Memory) StoreResolution(ctx context.Context, r Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.putResolutionLocked(r)
	return nil
}

func (m *Memory) putResolutionLocked(r Resolution) {
	r.Link = strings.TrimSpace(r.Link)
	r.CreatedAt = stamp(r.CreatedAt)
	r.Slides = slices.Clone(r.Slides)
	m.cache[r.Link] = r
}

func (m *Memory) PutAudioLink(ctx context.Context, l AudioLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.putAudioLocked(l)
	return nil
}

func (m *Memory) putAudioLocked(l AudioLink) {
	l.CreatedAt = stamp(l.CreatedAt)
	m.audio[l.Key] = l
}

func (m *Memory) GetAudioLink(ctx context.Context, key string) (AudioLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return AudioLink{}, ErrClosed
	}
	l, ok := m.audio[key]
	if !ok {
		return AudioLink{}, ErrNotFound
	}
	return l, nil
}

func (m *Memory) AppendRequest(ctx context.Context, category string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.appendRequestLocked(category, stamp(at).UnixMilli())
	return nil
}

func (m *Memory) appendRequestLocked(category string, ms int64) {
	m.requests[category] = append(m.requests[category], ms)
}

func (m *Memory) CountRequestsSince(ctx context.Context, category string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	floor := since.UnixMilli()
	n := 0
	for _, ms := range m.requests[category] {
		if ms >= floor {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveUser(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.saveUserLocked(chatID)
	return nil
}

// saveUserLocked reports whether chatID was new.
func (m *Memory) saveUserLocked(chatID int64) bool {
	if _, ok := m.users[chatID]; ok {
		return false
	}
	m.users[chatID] = struct{}{}
	return true
}

func (m *Memory) ListUsers(ctx context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]int64, 0, len(m.users))
	for id := range m.users {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (m *Memory) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.users), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
