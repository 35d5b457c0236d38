package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"linkrelay/pkg/logx"
)

const redisPrefix = "linkrelay:"

func cacheKey(link string) string        { return redisPrefix + "cache:" + strings.TrimSpace(link) }
func audioKey(key string) string         { return redisPrefix + "audio:" + key }
func requestsKey(category string) string { return redisPrefix + "requests:" + category }

const usersKey = redisPrefix + "users"

type redisStore struct {
	client redis.UniversalClient
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		MaxRetries: 2,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis store opened", logx.String("addr", addr), logx.Int("db", cfg.RedisDB))
	return &redisStore{client: client, log: log}, nil
}

func (s *redisStore) LookupResolution(ctx context.Context, link string) (Resolution, error) {
	m, err := s.client.HGetAll(ctx, cacheKey(link)).Result()
	if err != nil {
		return Resolution{}, err
	}
	if len(m) == 0 {
		return Resolution{}, ErrNotFound
	}
	return decodeResolution(m)
}

func (s *redisStore) StoreResolution(ctx context.Context, r Resolution) error {
	fields, err := encodeResolution(r)
	if err != nil {
		return err
	}
	key := cacheKey(r.Link)
	// Replace the whole hash so stale fields from an older result never survive.
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, fields)
		return nil
	})
	return err
}

func (s *redisStore) PutAudioLink(ctx context.Context, l AudioLink) error {
	return s.client.HSet(ctx, audioKey(l.Key), map[string]any{
		"audio_ref":  l.AudioRef,
		"chat_id":    l.ChatID,
		"message_id": l.MessageID,
		"created_at": stamp(l.CreatedAt).UnixMilli(),
	}).Err()
}

func (s *redisStore) GetAudioLink(ctx context.Context, key string) (AudioLink, error) {
	m, err := s.client.HGetAll(ctx, audioKey(key)).Result()
	if err != nil {
		return AudioLink{}, err
	}
	if len(m) == 0 {
		return AudioLink{}, ErrNotFound
	}
	return decodeAudioLink(key, m)
}

func (s *redisStore) AppendRequest(ctx context.Context, category string, at time.Time) error {
	// Members must be unique; the score carries the time.
	return s.client.ZAdd(ctx, requestsKey(category), redis.Z{
		Score:  float64(stamp(at).UnixMilli()),
		Member: uuid.NewString(),
	}).Err()
}

func (s *redisStore) CountRequestsSince(ctx context.Context, category string, since time.Time) (int, error) {
	n, err := s.client.ZCount(ctx, requestsKey(category), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	return int(n), err
}

func (s *redisStore) SaveUser(ctx context.Context, chatID int64) error {
	return s.client.SAdd(ctx, usersKey, chatID).Err()
}

func (s *redisStore) ListUsers(ctx context.Context) ([]int64, error) {
	members, err := s.client.SMembers(ctx, usersKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			s.log.Warn("skipping malformed user id", logx.String("member", m))
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (s *redisStore) CountUsers(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, usersKey).Result()
	return int(n), err
}

func (s *redisStore) Close() error { return s.client.Close() }

func encodeResolution(r Resolution) (map[string]any, error) {
	slides := ""
	if len(r.Slides) > 0 {
		b, err := json.Marshal(r.Slides)
		if err != nil {
			return nil, err
		}
		slides = string(b)
	}
	return map[string]any{
		"link":       strings.TrimSpace(r.Link),
		"category":   r.Category,
		"media_ref":  r.MediaRef,
		"audio_ref":  r.AudioRef,
		"caption":    r.Caption,
		"slides":     slides,
		"created_at": stamp(r.CreatedAt).UnixMilli(),
	}, nil
}

func decodeResolution(m map[string]string) (Resolution, error) {
	r := Resolution{
		Link:     m["link"],
		Category: m["category"],
		MediaRef: m["media_ref"],
		AudioRef: m["audio_ref"],
		Caption:  m["caption"],
	}
	if s := m["slides"]; s != "" {
		if err := json.Unmarshal([]byte(s), &r.Slides); err != nil {
			return Resolution{}, fmt.Errorf("decode slides: %w", err)
		}
	}
	if ms, err := strconv.ParseInt(m["created_at"], 10, 64); err == nil {
		r.CreatedAt = time.UnixMilli(ms)
	}
	return r, nil
}

func decodeAudioLink(key string, m map[string]string) (AudioLink, error) {
	l := AudioLink{Key: key, AudioRef: m["audio_ref"]}
	chat, err := strconv.ParseInt(m["chat_id"], 10, 64)
	if err != nil {
		return AudioLink{}, fmt.Errorf("decode chat_id: %w", err)
	}
	msg, err := strconv.Atoi(m["message_id"])
	if err != nil {
		return AudioLink{}, fmt.Errorf("decode message_id: %w", err)
	}
	l.ChatID, l.MessageID = chat, msg
	if ms, err := strconv.ParseInt(m["created_at"], 10, 64); err == nil {
		l.CreatedAt = time.UnixMilli(ms)
	}
	return l, nil
}
