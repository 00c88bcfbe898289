// Package lobbystore mirrors the lobby into Redis so other processes can read
// the open parties and live sessions. The broker never reads it back.
package lobbystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-lobby/internal/domain"
	"github.com/park285/cheese-lobby/internal/lobby"
)

const defaultTTL = 24 * time.Hour

type Store struct {
	rdb *redis.Client
	ns  string
	ttl time.Duration
}

type Option func(*Store)

func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// Dial opens and pings a client for a redis:// URL.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// New namespaces every key under lobby:<instance>.
func New(rdb *redis.Client, instance string, opts ...Option) *Store {
	s := &Store{rdb: rdb, ns: "lobby:" + strings.TrimSpace(instance), ttl: defaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) keyWaiting() string { return s.ns + ":waiting" }
func (s *Store) keySessions() string { return s.ns + ":sessions" }
func (s *Store) keySession(id uint64) string { return s.ns + ":session:" + strconv.FormatUint(id, 10) }
func (s *Store) keyStarted() string { return s.ns + ":started_at" }
func (s *Store) member(id uint64) string { return strconv.FormatUint(id, 10) }
func (s *Store) score(id uint64) float64 { return float64(id) }

// Reset drops everything under the namespace and stamps the start time.
func (s *Store) Reset(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.ns+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return s.rdb.Set(ctx, s.keyStarted(), time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
}

func (s *Store) AddWaiting(ctx context.Context, id uint64) error {
	if err := s.rdb.ZAdd(ctx, s.keyWaiting(), redis.Z{Score: s.score(id), Member: s.member(id)}).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keyWaiting(), s.ttl).Err()
}

func (s *Store) RemoveWaiting(ctx context.Context, id uint64) error {
	return s.rdb.ZRem(ctx, s.keyWaiting(), s.member(id)).Err()
}

// Waiting returns the mirrored party list, ascending.
func (s *Store) Waiting(ctx context.Context) ([]uint64, error) {
	members, err := s.rdb.ZRange(ctx, s.keyWaiting(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) SaveSession(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keySession(rec.ID), raw, s.ttl)
	pipe.SAdd(ctx, s.keySessions(), s.member(rec.ID))
	pipe.Expire(ctx, s.keySessions(), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, id uint64) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keySession(id))
	pipe.SRem(ctx, s.keySessions(), s.member(id))
	_, err := pipe.Exec(ctx)
	return err
}

// LoadSession returns nil, nil when the session is not mirrored.
func (s *Store) LoadSession(ctx context.Context, id uint64) (*domain.SessionRecord, error) {
	raw, err := s.rdb.Get(ctx, s.keySession(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec domain.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Sessions(ctx context.Context) ([]*domain.SessionRecord, error) {
	members, err := s.rdb.SMembers(ctx, s.keySessions()).Result()
	if err != nil {
		return nil, err
	}
	var out []*domain.SessionRecord
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		rec, _ := s.LoadSession(ctx, id)
		if rec == nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// HandleEvent keeps the mirror in step with broker transitions.
func (s *Store) HandleEvent(ctx context.Context, ev lobby.Event) error {
	switch ev.Kind {
	case lobby.EventPartyOpened:
		return s.AddWaiting(ctx, uint64(ev.Player))
	case lobby.EventPartyClosed:
		return s.RemoveWaiting(ctx, uint64(ev.Player))
	case lobby.EventSessionStarted, lobby.EventSessionMove:
		return s.SaveSession(ctx, ev.Session)
	case lobby.EventSessionEnded:
		if ev.Session == nil {
			return nil
		}
		return s.DeleteSession(ctx, ev.Session.ID)
	}
	return nil
}
