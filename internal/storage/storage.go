// Package storage keeps downloaded procurement documents in a local
// directory, S3 or MinIO, addressed by source, year and content hash.
package storage

import (
	"context"
	"path"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/config"
	"github.com/sells-group/licita-cli/internal/model"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = eris.New("storage: object not found")

// Storage is a flat key/value object store.
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// DocumentKey builds documents/{source}/{year}/{hash[:8]}/{filename}.
func DocumentKey(source model.Source, year int, hash, fileName string) string {
	prefix := hash
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	return path.Join("documents", string(source), strconv.Itoa(year), prefix, name)
}

// New builds the backend selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "local":
		return NewLocal(cfg.LocalDir)
	case "s3":
		return NewS3(ctx, cfg)
	case "minio":
		m, err := NewMinIO(cfg)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, eris.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
