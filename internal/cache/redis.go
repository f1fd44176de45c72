package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const redisPrefix = "licita:http:"

// Redis shares cached responses across worker processes.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the server at rawURL (redis://host:port/db) and
// pings it.
func NewRedis(ctx context.Context, rawURL string) (*Redis, error) {
	if rawURL == "" {
		return nil, eris.New("cache: redis url is required")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "cache: redis ping")
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: redis get")
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return eris.Wrap(r.client.Set(ctx, redisPrefix+key, value, ttl).Err(), "cache: redis set")
}

func (r *Redis) Close() error {
	return r.client.Close()
}
