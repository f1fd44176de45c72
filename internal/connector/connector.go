// Package connector fetches procurement notices from the government source
// APIs and maps each source's payload onto model.NormalizedOpportunity.
package connector

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/licita-cli/internal/model"
)

// Connector is one government source.
type Connector interface {
	Name() model.Source
	FetchOpportunities(ctx context.Context, q Query) (*FetchResult, error)
	FetchItems(ctx context.Context, opp model.NormalizedOpportunity) ([]model.ItemInput, error)
	FetchDocuments(ctx context.Context, opp model.NormalizedOpportunity) ([]model.DocumentRef, error)
}

// Query bounds one fetch. Dates are inclusive calendar days.
type Query struct {
	From       time.Time
	To         time.Time
	UF         string
	Keyword    string
	Modalities []int
	// MaxPages caps pages per modality. 0 means no cap.
	MaxPages int
}

// PageError records a page that failed and was skipped.
type PageError struct {
	Endpoint string `json:"endpoint"`
	Modality int    `json:"modality,omitempty"`
	Page     int    `json:"page"`
	Err      string `json:"error"`
}

// FetchResult is what a fetch produced, including pages it had to skip.
type FetchResult struct {
	Opportunities []model.NormalizedOpportunity
	PageErrors    []PageError
}

// filterKeyword keeps opportunities whose title or description contains kw,
// ignoring case. The source APIs have no text search parameter.
func filterKeyword(opps []model.NormalizedOpportunity, kw string) []model.NormalizedOpportunity {
	if kw == "" {
		return opps
	}
	kw = strings.ToLower(kw)
	out := opps[:0]
	for _, o := range opps {
		if strings.Contains(strings.ToLower(o.Title), kw) || strings.Contains(strings.ToLower(o.Description), kw) {
			out = append(out, o)
		}
	}
	return out
}

// clampPageSize keeps size within (0, ceiling]. Sources reject anything above
// their documented ceiling.
func clampPageSize(size, ceiling int) int {
	if size <= 0 || size > ceiling {
		return ceiling
	}
	return size
}

// flexString accepts a JSON string or number. Source APIs are inconsistent
// about which they send for identifiers and years.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat struct{ v *float64 }

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		f.v = nil
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.v = nil
		return nil
	}
	f.v = &v
	return nil
}

// listEnvelope extracts the record list from a bare JSON array or from the
// first of keys present on an object. When raw is an object it is returned
// too so callers can read pagination fields.
func listEnvelope(raw json.RawMessage, keys ...string) ([]json.RawMessage, map[string]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, nil, err
		}
		return list, nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, nil, err
	}
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || string(v) == "null" {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(v, &list); err != nil {
			return nil, obj, err
		}
		return list, obj, nil
	}
	return nil, obj, nil
}

// totalPages reads totalPaginas from an envelope, defaulting to 1.
func totalPages(obj map[string]json.RawMessage) int {
	raw, ok := obj["totalPaginas"]
	if !ok {
		return 1
	}
	var n flexString
	if err := json.Unmarshal(raw, &n); err != nil {
		return 1
	}
	v, err := strconv.Atoi(string(n))
	if err != nil || v < 1 {
		return 1
	}
	return v
}
