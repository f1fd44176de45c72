package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/config"
)

// MinIO stores objects in a MinIO bucket.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO connects to cfg.Endpoint (host:port, no scheme).
func NewMinIO(cfg config.StorageConfig) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, eris.New("storage: minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, eris.New("storage: minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "storage: create minio client")
	}
	return &MinIO{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return eris.Wrap(err, "storage: check bucket")
	}
	if exists {
		return nil
	}
	return eris.Wrap(m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}), "storage: create bucket")
}

func (m *MinIO) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return eris.Wrapf(err, "storage: minio put %s", key)
}

func (m *MinIO) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "storage: minio get %s", key)
	}
	defer obj.Close() //nolint:errcheck

	data, err := io.ReadAll(obj)
	if err != nil {
		if isMinIONotFound(err) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "storage: minio read %s", key)
	}
	return data, nil
}

func (m *MinIO) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isMinIONotFound(err) {
		return false, nil
	}
	return false, eris.Wrapf(err, "storage: minio stat %s", key)
}

func isMinIONotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}
