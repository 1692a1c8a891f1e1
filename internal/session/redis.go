package session

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

/*
RedisStore keyspace:

  - mcptap:sess:{id}:m    (created, unix ms)
  - mcptap:sess:{id}:last (resume cursor)
  - mcptap:sess:{id}:ts   (last activity, unix ms)
  - mcptap:sess:index     (SET of session ids)
*/
const redisIndexKey = "mcptap:sess:index"

func redisKeyMeta(id string) string     { return "mcptap:sess:" + id + ":m" }
func redisKeyCursor(id string) string   { return "mcptap:sess:" + id + ":last" }
func redisKeyActivity(id string) string { return "mcptap:sess:" + id + ":ts" }

// RedisStore is the shared Store backend for multi-instance deployments.
type RedisStore struct {
	cli *redis.Client
	ttl time.Duration
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long session keys outlive their last write. Zero
	// means keys never expire.
	TTL time.Duration
}

// NewRedisStore dials Redis and verifies connectivity.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("session: missing redis addr")
	}
	cli := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, err
	}
	return &RedisStore{cli: cli, ttl: opts.TTL}, nil
}

func (s *RedisStore) Create(ctx context.Context, id string, at time.Time) error {
	pipe := s.cli.TxPipeline()
	pipe.SetNX(ctx, redisKeyMeta(id), strconv.FormatInt(at.UnixMilli(), 10), s.ttl)
	pipe.SAdd(ctx, redisIndexKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	vals, err := s.cli.MGet(ctx, redisKeyMeta(id), redisKeyCursor(id), redisKeyActivity(id)).Result()
	if err != nil {
		return Session{}, err
	}
	if vals[0] == nil {
		return Session{}, ErrNotFound
	}
	sess := Session{ID: id}
	if ms, err := strconv.ParseInt(vals[0].(string), 10, 64); err == nil {
		sess.CreatedAt = time.UnixMilli(ms)
	}
	if v, ok := vals[1].(string); ok {
		sess.LastEventID = v
	}
	if v, ok := vals[2].(string); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			sess.LastActivity = time.UnixMilli(ms)
		}
	}
	return sess, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Session, error) {
	ids, err := s.cli.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, err
	}
	var out []Session
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Expired keys leave the index entry behind.
			_ = s.cli.SRem(ctx, redisIndexKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.cli.TxPipeline()
	pipe.Del(ctx, redisKeyMeta(id), redisKeyCursor(id), redisKeyActivity(id))
	pipe.SRem(ctx, redisIndexKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) StoreLastEventID(ctx context.Context, sessionID, eventID string) error {
	return s.cli.Set(ctx, redisKeyCursor(sessionID), eventID, s.ttl).Err()
}

func (s *RedisStore) BatchStoreEventIDs(ctx context.Context, updates []CursorUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	pipe := s.cli.Pipeline()
	for _, u := range updates {
		pipe.Set(ctx, redisKeyCursor(u.SessionID), u.EventID, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetLastEventID(ctx context.Context, sessionID string) (string, bool, error) {
	v, err := s.cli.Get(ctx, redisKeyCursor(sessionID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	return s.cli.Set(ctx, redisKeyActivity(sessionID), strconv.FormatInt(at.UnixMilli(), 10), s.ttl).Err()
}

func (s *RedisStore) BatchTouch(ctx context.Context, updates []ActivityUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	pipe := s.cli.Pipeline()
	for _, u := range updates {
		pipe.Set(ctx, redisKeyActivity(u.SessionID), strconv.FormatInt(u.At.UnixMilli(), 10), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetLastActivity(ctx context.Context, sessionID string) (time.Time, bool, error) {
	v, err := s.cli.Get(ctx, redisKeyActivity(sessionID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisStore) Close() error { return s.cli.Close() }
