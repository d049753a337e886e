package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	platformredis "xparking/internal/platform/redis"
	"xparking/pkg/platform/sentinel"
)

const sessionKeyPrefix = "payment:session:"

// RedisSessionStore keeps pending sessions in Redis with a TTL, so a
// crashed process leaves no sessions behind. The TTL must sit beyond
// the reconciliation deadline: a key vanishing before the poller's own
// timeout would leave the session unresolved.
type RedisSessionStore struct {
	client *platformredis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *platformredis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisSessionStore) Put(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal payment session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store payment session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, sentinel.ErrNotFound
		}
		return Session{}, fmt.Errorf("load payment session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("unmarshal payment session: %w", err)
	}
	return sess, nil
}

func (s *RedisSessionStore) Remove(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("remove payment session: %w", err)
	}
	return n > 0, nil
}

func (s *RedisSessionStore) ActiveIDs(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		ids    []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan payment sessions: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, key[len(sessionKeyPrefix):])
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}
