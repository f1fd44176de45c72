package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/licita-cli/internal/cache"
	"github.com/sells-group/licita-cli/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newTestClient(baseURL string, c cache.Cache) *Client {
	return NewClient(Options{
		Name:     "pncp",
		BaseURL:  baseURL,
		Retry:    fastRetry(),
		Cache:    c,
		CacheTTL: time.Minute,
	})
}

func TestGetJSON_SendsHeadersAndParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/contratacoes/publicacao", r.URL.Path)
		assert.Equal(t, "20240101", r.URL.Query().Get("dataInicial"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "LicitaAI/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"data":[{"id":1}],"totalPaginas":1}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := newTestClient(srv.URL+"/", nil)
	body, err := c.GetJSON(context.Background(), "/v1/contratacoes/publicacao", url.Values{"dataInicial": {"20240101"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[{"id":1}],"totalPaginas":1}`, string(body))
	assert.Equal(t, "pncp", c.Name())
}

func TestGetJSON_CacheHitSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[1,2]`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, cache.NewMemory())
	params := url.Values{"pagina": {"1"}, "tamanhoPagina": {"50"}}
	for i := 0; i < 3; i++ {
		body, err := c.GetJSON(context.Background(), "/itens", params)
		require.NoError(t, err)
		assert.Equal(t, `[1,2]`, string(body))
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestGetJSON_NoContentAndEmptyBody(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"204":   func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) },
		"empty": func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("  \n")) }, //nolint:errcheck
	} {
		t.Run(name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				handler(w, r)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL, cache.NewMemory())
			body, err := c.GetJSON(context.Background(), "/x", nil)
			require.NoError(t, err)
			assert.Equal(t, `{}`, string(body))

			_, err = c.GetJSON(context.Background(), "/x", nil)
			require.NoError(t, err)
			assert.Equal(t, int32(2), hits.Load(), "empty responses are not cached")
		})
	}
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`)) //nolint:errcheck
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL, nil).GetJSON(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), hits.Load())
}

func TestGetJSON_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, nil).GetJSON(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, resilience.IsPermanent(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
}

func TestGetJSON_RateLimitedIsTransientAndSlowsDown(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Options{Name: "compras_gov", BaseURL: srv.URL, RatePerMinute: 60000, Retry: fastRetry()})
	before := c.throttle.Limit()
	_, err := c.GetJSON(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), hits.Load())
	assert.Less(t, float64(c.throttle.Limit()), float64(before))
}

func TestGetJSON_InvalidJSONIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, nil).GetJSON(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestGetJSON_OpenBreakerRejects(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, bcfg := resilience.FromSourceConfig(1, 30)
	bcfg.FailureThreshold = 1
	c := NewClient(Options{Name: "pncp", BaseURL: srv.URL, Retry: fastRetry(), Breaker: resilience.NewCircuitBreaker(bcfg)})

	_, err := c.GetJSON(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(1), hits.Load())
}

func TestThrottle_EnforcesInterval(t *testing.T) {
	th := NewThrottle(600) // one every 100ms
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, th.Wait(ctx))
	require.NoError(t, th.Wait(ctx))
	require.NoError(t, th.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestThrottle_WaitRespectsContext(t *testing.T) {
	th := NewThrottle(1)
	require.NoError(t, th.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, th.Wait(ctx))
}

func TestThrottle_RecoversNeverAboveBudget(t *testing.T) {
	th := NewThrottle(60)
	budget := th.Limit()

	th.OnRateLimit("pncp")
	th.OnRateLimit("pncp")
	th.OnRateLimit("pncp")
	assert.InDelta(t, float64(budget)/4, float64(th.Limit()), 1e-9)

	for i := 0; i < 20; i++ {
		th.OnSuccess()
	}
	assert.InDelta(t, float64(budget), float64(th.Limit()), 1e-9)
}

func TestThrottle_Disabled(t *testing.T) {
	th := NewThrottle(0)
	th.OnRateLimit("x")
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestClassifyStatus(t *testing.T) {
	assert.NoError(t, classifyStatus(200, "u"))
	assert.NoError(t, classifyStatus(204, "u"))
	assert.True(t, resilience.IsTransient(classifyStatus(503, "u")))
	assert.True(t, resilience.IsTransient(classifyStatus(507, "u")))
	assert.True(t, resilience.IsTransient(classifyStatus(408, "u")))
	assert.True(t, resilience.IsPermanent(classifyStatus(404, "u")))
	assert.Equal(t, "http 404 from u", classifyStatus(404, "u").Error())
}
