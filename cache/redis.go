package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "coinbot:"

// Redis shares cached responses between bot instances.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the server at url (redis://host:port/db).
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Str("component", "cache").Err(err).Str("key", key).Msg("redis get failed")
		}
		return "", false
	}
	return v, true
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := r.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		log.Warn().Str("component", "cache").Err(err).Str("key", key).Msg("redis set failed")
	}
}

// Close closes the cache connection
func (r *Redis) Close() error {
	return r.client.Close()
}

// New returns a Redis cache when url is set and reachable, otherwise an
// in-memory one.
func New(url string) Cache {
	if len(url) == 0 {
		return NewMemory()
	}

	r, err := NewRedis(url)
	if err != nil {
		log.Warn().Str("component", "cache").Err(err).Msg("falling back to in-memory cache")
		return NewMemory()
	}

	log.Info().Str("component", "cache").Msg("using redis")
	return r
}
