package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/resilience"
)

// DownloadOptions configures document downloads.
type DownloadOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig
	// MaxBytes caps a document body. 0 means 200 MiB.
	MaxBytes   int64
	Breakers   *resilience.HostBreakers
	HTTPClient *http.Client
}

// HTTPDownloader fetches document files from arbitrary hosts. Bodies are
// never cached.
type HTTPDownloader struct {
	http      *http.Client
	userAgent string
	retry     resilience.RetryConfig
	maxBytes  int64
	breakers  *resilience.HostBreakers
}

// NewDownloader builds an HTTPDownloader.
func NewDownloader(opts DownloadOptions) *HTTPDownloader {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 200 << 20
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("documents", "download")
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "LicitaAI/1.0"
	}
	if opts.Breakers == nil {
		_, cfg := resilience.FromSourceConfig(0, int(opts.Timeout/time.Second))
		opts.Breakers = resilience.NewHostBreakers(cfg)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPDownloader{
		http:      hc,
		userAgent: opts.UserAgent,
		retry:     opts.Retry,
		maxBytes:  opts.MaxBytes,
		breakers:  opts.Breakers,
	}
}

// Download GETs rawURL, following redirects.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL string) (*Payload, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, resilience.NewPermanentError(eris.Errorf("fetcher: invalid document url %q", rawURL))
	}
	breaker := d.breakers.Get(u.Host)

	p, err := resilience.DoVal(ctx, d.retry, func(ctx context.Context) (*Payload, error) {
		return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*Payload, error) {
			return d.downloadOnce(ctx, rawURL)
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: download")
	}
	return p, nil
}

func (d *HTTPDownloader) downloadOnce(ctx context.Context, rawURL string) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "build request"))
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := classifyStatus(resp.StatusCode, rawURL); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "read body"), 0)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, resilience.NewPermanentError(eris.Errorf("document exceeds %d bytes", d.maxBytes))
	}

	return &Payload{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}
