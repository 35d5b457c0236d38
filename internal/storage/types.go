package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by lookups when the key is absent.
	// Any other error from a store is an access failure.
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage. See the package doc for driver values.
type Config struct {
	Driver        string
	Path          string
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BusyTimeout   time.Duration // sqlite only; 0 means default
}

// Resolution is a cached resolver result for one link.
// A video has MediaRef (and maybe AudioRef); a slide set has Slides.
type Resolution struct {
	Link      string
	Category  string
	MediaRef  string
	AudioRef  string
	Caption   string
	Slides    []string
	CreatedAt time.Time
}

// AudioLink ties an inline button key to the audio of a delivered video.
type AudioLink struct {
	Key       string
	AudioRef  string
	ChatID    int64
	MessageID int
	CreatedAt time.Time
}

type ResolutionCache interface {
	LookupResolution(ctx context.Context, link string) (Resolution, error)
	// StoreResolution upserts; concurrent writers for the same link are last-write-wins.
	StoreResolution(ctx context.Context, r Resolution) error
}

type AudioLinks interface {
	PutAudioLink(ctx context.Context, l AudioLink) error
	GetAudioLink(ctx context.Context, key string) (AudioLink, error)
}

type RequestLog interface {
	AppendRequest(ctx context.Context, category string, at time.Time) error
	CountRequestsSince(ctx context.Context, category string, since time.Time) (int, error)
}

type Users interface {
	// SaveUser inserts chatID if it is not known yet.
	SaveUser(ctx context.Context, chatID int64) error
	// ListUsers returns every known chat id in ascending order.
	ListUsers(ctx context.Context) ([]int64, error)
	CountUsers(ctx context.Context) (int, error)
}

// Store is the full persistence API used by the relay.
type Store interface {
	ResolutionCache
	AudioLinks
	RequestLog
	Users
	Close() error
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
