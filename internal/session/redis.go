package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore implementa Store usando Redis. Cada sesión es un hash con TTL,
// así Discard es un solo DEL y las notas expiran juntas.
type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis crea un Store Redis.
func NewRedis(cfg Config) (Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verificar conexión
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis ping failed: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "authflow"
	}

	return &redisStore{client: rdb, prefix: prefix, ttl: ttl}, nil
}

func (s *redisStore) sessionKey(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *redisStore) GetNote(ctx context.Context, sessionID, key string) (string, error) {
	v, err := s.client.HGet(ctx, s.sessionKey(sessionID), key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *redisStore) SetNote(ctx context.Context, sessionID, key, value string) error {
	k := s.sessionKey(sessionID)
	if err := s.client.HSet(ctx, k, key, value).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, k, s.ttl).Err()
}

func (s *redisStore) Discard(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.sessionKey(sessionID)).Err()
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
