package relay

import "sync"

type SessionState int

const (
	Idle SessionState = iota
	AwaitingBroadcastPayload
)

func (s SessionState) String() string {
	if s == AwaitingBroadcastPayload {
		return "awaiting_broadcast_payload"
	}
	return "idle"
}

// SessionStore holds one broadcast session per administrator, in memory only.
// A missing entry is Idle.
type SessionStore struct {
	mu sync.Mutex
	m  map[int64]SessionState
}

func NewSessionStore() *SessionStore {
	return &SessionStore{m: map[int64]SessionState{}}
}

func (s *SessionStore) Get(admin int64) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[admin]
}

func (s *SessionStore) Set(admin int64, st SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == Idle {
		delete(s.m, admin)
		return
	}
	s.m[admin] = st
}

func (s *SessionStore) Clear(admin int64) { s.Set(admin, Idle) }

// Len is the number of admins not Idle.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Take moves admin from want to Idle and reports whether it was in want.
// Claiming a payload this way means a second message during the fan-out
// is never taken as another payload.
func (s *SessionStore) Take(admin int64, want SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[admin] != want {
		return false
	}
	delete(s.m, admin)
	return true
}
