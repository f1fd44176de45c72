// Package fetcher performs throttled, cached and retried HTTP calls against
// the government source APIs and document hosts.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// JSONGetter fetches one JSON resource relative to a source's base URL.
type JSONGetter interface {
	GetJSON(ctx context.Context, path string, params url.Values) (json.RawMessage, error)
}

// Downloader fetches a document's raw bytes.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (*Payload, error)
}

// Payload is a downloaded document body.
type Payload struct {
	Data        []byte
	ContentType string
	FinalURL    string
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}
