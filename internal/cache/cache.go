// Package cache stores raw source API responses for a short TTL so retried
// or overlapping fetches do not hit the government APIs again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/config"
)

// Cache is a byte store with per-entry TTL.
type Cache interface {
	// Get returns the value and true on a hit. A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Key derives the cache key for one GET request. Parameters are sorted by
// name before encoding so their order never changes the key.
func Key(connector, path string, params url.Values) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	// Encode as an ordered JSON object: {"a":"1","b":"2"}.
	buf := []byte{'{'}
	for i, k := range names {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(params.Get(k))
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')

	sum := sha256.Sum256([]byte("connector:" + connector + ":" + path + ":" + string(buf)))
	return hex.EncodeToString(sum[:])
}

// New builds the backend named by cfg.Driver.
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL)
	case "sqlite":
		return NewSQLite(ctx, cfg.SQLitePath)
	case "none":
		return Nop{}, nil
	default:
		return nil, eris.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Close() error { return nil }
