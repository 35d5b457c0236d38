package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"linkrelay/pkg/logx"
)

const compactEvery = 1000

// fileStore is the dependency-free backend: an append-only JSON-lines journal
// replayed into a Memory on open. The journal is rewritten from the live state
// every compactEvery writes so overwritten cache entries do not pile up.
type fileStore struct {
	mem *Memory
	log logx.Logger

	mu      sync.Mutex
	path    string
	journal *os.File
	writes  int
}

type journalOp string

const (
	opResolution journalOp = "res"
	opAudio      journalOp = "audio"
	opRequest    journalOp = "req"
	opUser       journalOp = "user"
)

type journalRecord struct {
	Op         journalOp   `json:"op"`
	Resolution *Resolution `json:"res,omitempty"`
	Audio      *AudioLink  `json:"audio,omitempty"`
	Category   string      `json:"cat,omitempty"`
	At         int64       `json:"at,omitempty"`
	ChatID     int64       `json:"chat,omitempty"` // 0 is not a valid Telegram chat
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	mem := NewMemory()
	n, err := replayJournal(path, mem)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	jf, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("journal replayed", logx.String("path", path), logx.Int("records", n))
	return &fileStore{mem: mem, log: log, path: path, journal: jf}, nil
}

func replayJournal(path string, mem *Memory) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var rec journalRecord
		// A torn last line from a crash is skipped.
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		mem.apply(rec)
		n++
	}
	return n, sc.Err()
}

// apply replays one journal record. Callers must not hold m.mu.
func (m *Memory) apply(rec journalRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch rec.Op {
	case opResolution:
		if rec.Resolution != nil {
			m.putResolutionLocked(*rec.Resolution)
		}
	case opAudio:
		if rec.Audio != nil {
			m.putAudioLocked(*rec.Audio)
		}
	case opRequest:
		m.appendRequestLocked(rec.Category, rec.At)
	case opUser:
		m.saveUserLocked(rec.ChatID)
	}
}

// write journals rec and then applies it to memory.
func (s *fileStore) write(rec journalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.journal.Write(append(b, '\n')); err != nil {
		return err
	}
	s.mem.apply(rec)
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LookupResolution(ctx context.Context, link string) (Resolution, error) {
	return s.mem.LookupResolution(ctx, link)
}

func (s *fileStore) StoreResolution(ctx context.Context, r Resolution) error {
	r.Link = strings.TrimSpace(r.Link)
	r.CreatedAt = stamp(r.CreatedAt)
	return s.write(journalRecord{Op: opResolution, Resolution: &r})
}

func (s *fileStore) PutAudioLink(ctx context.Context, l AudioLink) error {
	l.CreatedAt = stamp(l.CreatedAt)
	return s.write(journalRecord{Op: opAudio, Audio: &l})
}

func (s *fileStore) GetAudioLink(ctx context.Context, key string) (AudioLink, error) {
	return s.mem.GetAudioLink(ctx, key)
}

func (s *fileStore) AppendRequest(ctx context.Context, category string, at time.Time) error {
	return s.write(journalRecord{Op: opRequest, Category: category, At: stamp(at).UnixMilli()})
}

func (s *fileStore) CountRequestsSince(ctx context.Context, category string, since time.Time) (int, error) {
	return s.mem.CountRequestsSince(ctx, category, since)
}

func (s *fileStore) SaveUser(ctx context.Context, chatID int64) error {
	s.mem.mu.RLock()
	_, known := s.mem.users[chatID]
	s.mem.mu.RUnlock()
	if known {
		return nil
	}
	return s.write(journalRecord{Op: opUser, ChatID: chatID})
}

func (s *fileStore) ListUsers(ctx context.Context) ([]int64, error) { return s.mem.ListUsers(ctx) }
func (s *fileStore) CountUsers(ctx context.Context) (int, error)    { return s.mem.CountUsers(ctx) }

// compactLocked rewrites the journal from the in-memory state via a temp file + rename.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	s.mem.mu.RLock()
	err = s.snapshotLocked(enc)
	s.mem.mu.RUnlock()
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := s.journal.Close(); err != nil {
		s.log.Debug("journal close before compact failed", logx.Err(err))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Join(err, s.reopenLocked())
	}
	return s.reopenLocked()
}

func (s *fileStore) reopenLocked() error {
	jf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.journal = nil
		return err
	}
	s.journal = jf
	return nil
}

func (s *fileStore) snapshotLocked(enc *json.Encoder) error {
	m := s.mem
	for _, r := range m.cache {
		r := r
		if err := enc.Encode(journalRecord{Op: opResolution, Resolution: &r}); err != nil {
			return err
		}
	}
	for _, l := range m.audio {
		l := l
		if err := enc.Encode(journalRecord{Op: opAudio, Audio: &l}); err != nil {
			return err
		}
	}
	for cat, list := range m.requests {
		for _, ms := range list {
			if err := enc.Encode(journalRecord{Op: opRequest, Category: cat, At: ms}); err != nil {
				return err
			}
		}
	}
	users := make([]int64, 0, len(m.users))
	for id := range m.users {
		users = append(users, id)
	}
	slices.Sort(users)
	for _, id := range users {
		if err := enc.Encode(journalRecord{Op: opUser, ChatID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.mem.Close()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}
