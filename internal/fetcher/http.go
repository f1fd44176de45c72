package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/cache"
	"github.com/sells-group/licita-cli/internal/resilience"
)

var emptyObject = json.RawMessage(`{}`)

// Options configures a source API client.
type Options struct {
	Name          string
	BaseURL       string
	UserAgent     string
	RatePerMinute int
	Timeout       time.Duration
	Retry         resilience.RetryConfig
	Breaker       *resilience.CircuitBreaker
	Cache         cache.Cache
	CacheTTL      time.Duration
	HTTPClient    *http.Client
}

// Client is the HTTP base shared by every connector. Each connector owns
// one, so its throttle is local to the process.
type Client struct {
	name      string
	baseURL   string
	userAgent string
	http      *http.Client
	throttle  *Throttle
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	cache     cache.Cache
	cacheTTL  time.Duration
}

// NewClient builds a Client. Zero values fall back to a 30s timeout, the
// connector retry policy and no cache.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.ConnectorRetryConfig(0)
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger(opts.Name, "get")
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "LicitaAI/1.0"
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		name:      opts.Name,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		http:      hc,
		throttle:  NewThrottle(opts.RatePerMinute),
		retry:     opts.Retry,
		breaker:   opts.Breaker,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
	}
}

// Name is the connector the client belongs to.
func (c *Client) Name() string { return c.name }

// GetJSON issues a cached, throttled, retried GET for path under the base
// URL. A 204 or an empty body yields an empty object.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	key := cache.Key(c.name, path, params)
	if body, ok, err := c.cache.Get(ctx, key); err != nil {
		zap.L().Warn("fetcher: cache read failed", zap.String("source", c.name), zap.Error(err))
	} else if ok {
		return body, nil
	}

	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (json.RawMessage, error) {
		if c.breaker == nil {
			return c.getOnce(ctx, target)
		}
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (json.RawMessage, error) {
			return c.getOnce(ctx, target)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: %s GET %s", c.name, path)
	}

	if !bytes.Equal(body, emptyObject) && c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, key, body, c.cacheTTL); err != nil {
			zap.L().Warn("fetcher: cache write failed", zap.String("source", c.name), zap.Error(err))
		}
	}
	return body, nil
}

func (c *Client) getOnce(ctx context.Context, target string) (json.RawMessage, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "throttle wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "build request"))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		c.throttle.OnRateLimit(c.name)
	}
	if err := classifyStatus(resp.StatusCode, target); err != nil {
		return nil, err
	}
	c.throttle.OnSuccess()

	if resp.StatusCode == http.StatusNoContent {
		return emptyObject, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "read body"), 0)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return emptyObject, nil
	}
	if !json.Valid(raw) {
		return nil, resilience.NewPermanentError(eris.Errorf("invalid JSON from %s", target))
	}
	return raw, nil
}

// classifyStatus maps a response status onto the retry taxonomy: 2xx is
// fine, 408/429/5xx are transient, any other 4xx is permanent.
func classifyStatus(code int, target string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	se := &StatusError{Code: code, URL: target}
	if resilience.IsTransientHTTPStatus(code) || code >= 500 {
		return resilience.NewTransientError(se, code)
	}
	return resilience.NewPermanentError(se)
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return resilience.NewTransientError(err, 0)
}
