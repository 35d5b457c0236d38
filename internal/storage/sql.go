package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"linkrelay/pkg/logx"
)

// dialect covers the few differences between sqlite and postgres that matter here.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of '?'
	numbered bool
}

var (
	dialectSQLite   = dialect{name: "sqlite"}
	dialectPostgres = dialect{name: "postgres", numbered: true}
)

// rebind rewrites '?' placeholders for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// schema is idempotent and valid for both dialects. Times are unix milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS resolutions (
		link       TEXT PRIMARY KEY,
		category   TEXT NOT NULL,
		media_ref  TEXT NOT NULL DEFAULT '',
		audio_ref  TEXT NOT NULL DEFAULT '',
		caption    TEXT NOT NULL DEFAULT '',
		slides     TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audio_links (
		audio_key  TEXT PRIMARY KEY,
		audio_ref  TEXT NOT NULL,
		chat_id    BIGINT NOT NULL,
		message_id BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS requests (
		category TEXT NOT NULL,
		at       BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS requests_category_at ON requests (category, at)`,
	`CREATE TABLE IF NOT EXISTS users (
		chat_id    BIGINT PRIMARY KEY,
		created_at BIGINT NOT NULL
	)`,
}

type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d, log: log}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	s.log.Debug("schema ready", logx.Int("statements", len(schema)))
	return nil
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(q), args...)
	return err
}

func (s *sqlStore) LookupResolution(ctx context.Context, link string) (Resolution, error) {
	var (
		r      Resolution
		slides string
		ms     int64
	)
	err := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT link, category, media_ref, audio_ref, caption, slides, created_at
		 FROM resolutions WHERE link = ?`), strings.TrimSpace(link)).
		Scan(&r.Link, &r.Category, &r.MediaRef, &r.AudioRef, &r.Caption, &slides, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Resolution{}, ErrNotFound
	}
	if err != nil {
		return Resolution{}, err
	}
	if slides != "" {
		if err := json.Unmarshal([]byte(slides), &r.Slides); err != nil {
			return Resolution{}, err
		}
	}
	r.CreatedAt = time.UnixMilli(ms)
	return r, nil
}

func (s *sqlStore) StoreResolution(ctx context.Context, r Resolution) error {
	slides := ""
	if len(r.Slides) > 0 {
		b, err := json.Marshal(r.Slides)
		if err != nil {
			return err
		}
		slides = string(b)
	}
	return s.exec(ctx,
		`INSERT INTO resolutions(link, category, media_ref, audio_ref, caption, slides, created_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(link) DO UPDATE SET
			category=excluded.category,
			media_ref=excluded.media_ref,
			audio_ref=excluded.audio_ref,
			caption=excluded.caption,
			slides=excluded.slides,
			created_at=excluded.created_at`,
		strings.TrimSpace(r.Link), r.Category, r.MediaRef, r.AudioRef, r.Caption, slides, stamp(r.CreatedAt).UnixMilli(),
	)
}

func (s *sqlStore) PutAudioLink(ctx context.Context, l AudioLink) error {
	return s.exec(ctx,
		`INSERT INTO audio_links(audio_key, audio_ref, chat_id, message_id, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(audio_key) DO UPDATE SET
			audio_ref=excluded.audio_ref,
			chat_id=excluded.chat_id,
			message_id=excluded.message_id,
			created_at=excluded.created_at`,
		l.Key, l.AudioRef, l.ChatID, l.MessageID, stamp(l.CreatedAt).UnixMilli(),
	)
}

func (s *sqlStore) GetAudioLink(ctx context.Context, key string) (AudioLink, error) {
	var (
		l  AudioLink
		ms int64
	)
	err := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT audio_key, audio_ref, chat_id, message_id, created_at FROM audio_links WHERE audio_key = ?`), key).
		Scan(&l.Key, &l.AudioRef, &l.ChatID, &l.MessageID, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return AudioLink{}, ErrNotFound
	}
	if err != nil {
		return AudioLink{}, err
	}
	l.CreatedAt = time.UnixMilli(ms)
	return l, nil
}

func (s *sqlStore) AppendRequest(ctx context.Context, category string, at time.Time) error {
	return s.exec(ctx, `INSERT INTO requests(category, at) VALUES(?,?)`, category, stamp(at).UnixMilli())
}

func (s *sqlStore) CountRequestsSince(ctx context.Context, category string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT COUNT(*) FROM requests WHERE category = ? AND at >= ?`), category, since.UnixMilli()).Scan(&n)
	return n, err
}

func (s *sqlStore) SaveUser(ctx context.Context, chatID int64) error {
	return s.exec(ctx,
		`INSERT INTO users(chat_id, created_at) VALUES(?,?) ON CONFLICT(chat_id) DO NOTHING`,
		chatID, time.Now().UnixMilli(),
	)
}

func (s *sqlStore) ListUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM users ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
