package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/licita-cli/internal/config"
	"github.com/sells-group/licita-cli/internal/model"
)

func TestDocumentKey(t *testing.T) {
	tests := []struct {
		name     string
		source   model.Source
		hash     string
		fileName string
		want     string
	}{
		{"pncp", model.SourcePNCP, "abcdef1234567890", "edital.pdf", "documents/pncp/2024/abcdef12/edital.pdf"},
		{"short hash", model.SourceComprasGov, "abc", "edital.pdf", "documents/compras_gov/2024/abc/edital.pdf"},
		{"strips directories", model.SourcePNCP, "abcdef1234", "../../etc/passwd", "documents/pncp/2024/abcdef12/passwd"},
		{"windows path", model.SourcePNCP, "abcdef1234", `C:\tmp\anexo.docx`, "documents/pncp/2024/abcdef12/anexo.docx"},
		{"empty name", model.SourcePNCP, "abcdef1234", "", "documents/pncp/2024/abcdef12/document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DocumentKey(tt.source, 2024, tt.hash, tt.fileName))
		})
	}
}

func TestNew_Drivers(t *testing.T) {
	dir := t.TempDir()
	s, err := New(context.Background(), config.StorageConfig{Driver: "local", LocalDir: dir})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	_, err = New(context.Background(), config.StorageConfig{Driver: "gcs"})
	assert.ErrorContains(t, err, `unknown driver "gcs"`)

	_, err = New(context.Background(), config.StorageConfig{Driver: "minio", Bucket: "b"})
	assert.ErrorContains(t, err, "minio endpoint is required")

	_, err = New(context.Background(), config.StorageConfig{Driver: "s3"})
	assert.ErrorContains(t, err, "s3 bucket is required")
}

func TestLocal_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	key := DocumentKey(model.SourcePNCP, 2024, "deadbeefcafe", "edital.pdf")
	ok, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, l.Put(ctx, key, []byte("%PDF-1.4"), "application/pdf"))
	ok, err = l.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := l.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestLocal_RejectsEscapingKeys(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../outside.pdf", "/etc/passwd", ".."} {
		err := l.Put(context.Background(), key, []byte("x"), "")
		assert.ErrorContains(t, err, "invalid key", key)
	}
}

// objectServer is a minimal path-style S3 endpoint backed by a map.
type objectServer struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newObjectServer(t *testing.T) (*objectServer, *httptest.Server) {
	t.Helper()
	o := &objectServer{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(o)
	t.Cleanup(srv.Close)
	return o, srv
}

func (o *objectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		o.objects[key] = body
		o.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := o.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"etag"`)
		w.Header().Set("Last-Modified", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat))
		w.Header().Set("Content-Type", o.types[key])
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3_RoundTrip(t *testing.T) {
	objs, srv := newObjectServer(t)
	ctx := context.Background()

	s, err := NewS3(ctx, config.StorageConfig{
		Bucket:    "licita",
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)

	key := "documents/pncp/2024/abcdef12/edital.pdf"
	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, key, []byte("conteudo"), "application/pdf"))
	assert.Equal(t, "application/pdf", objs.types["licita/"+key])

	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "conteudo", string(data))
}

func TestMinIO_RoundTrip(t *testing.T) {
	_, srv := newObjectServer(t)
	ctx := context.Background()

	m, err := NewMinIO(config.StorageConfig{
		Bucket:    "licita",
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		Region:    "us-east-1",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)

	key := "documents/compras_gov/2024/0011aabb/edital.pdf"
	ok, err := m.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, key, []byte("bytes"), "application/pdf"))

	ok, err = m.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))
}
