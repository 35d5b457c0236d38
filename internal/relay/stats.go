package relay

import (
	"context"
	"time"

	"linkrelay/internal/storage"
)

const DefaultStatsWindowDays = 7

type statsSource interface {
	storage.RequestLog
	storage.Users
}

// Stats derives read-only counters from the request log and the user registry.
type Stats struct {
	src        statsSource
	started    time.Time
	now        func() time.Time
	windowDays int
	categories []string
}

// Snapshot is one point-in-time view for /stats and the digest.
type Snapshot struct {
	Users      int
	Requests   map[string]int
	Uptime     time.Duration
	WindowDays int
}

func NewStats(src statsSource, categories []string, windowDays int, started time.Time, now func() time.Time) *Stats {
	if now == nil {
		now = time.Now
	}
	if windowDays <= 0 {
		windowDays = DefaultStatsWindowDays
	}
	return &Stats{src: src, started: started, now: now, windowDays: windowDays, categories: categories}
}

// CountByCategoryWithinDays counts requests of category with timestamp >= now - days.
func (s *Stats) CountByCategoryWithinDays(ctx context.Context, category string, days int) (int, error) {
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	return s.src.CountRequestsSince(ctx, category, since)
}

func (s *Stats) Uptime() time.Duration { return s.now().Sub(s.started) }

func (s *Stats) UserCount(ctx context.Context) (int, error) { return s.src.CountUsers(ctx) }

func (s *Stats) Snapshot(ctx context.Context) (Snapshot, error) {
	users, err := s.UserCount(ctx)
	if err != nil {
		return Snapshot{}, wrap(ErrCacheAccess, "count users", err)
	}
	snap := Snapshot{
		Users:      users,
		Requests:   make(map[string]int, len(s.categories)),
		Uptime:     s.Uptime(),
		WindowDays: s.windowDays,
	}
	for _, c := range s.categories {
		n, err := s.CountByCategoryWithinDays(ctx, c, s.windowDays)
		if err != nil {
			return Snapshot{}, wrap(ErrCacheAccess, "count requests", err)
		}
		snap.Requests[c] = n
	}
	return snap, nil
}
