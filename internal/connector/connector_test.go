package connector

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/licita-cli/internal/model"
)

type getCall struct {
	Path   string
	Params url.Values
}

// fakeGetter answers GetJSON from a handler func and records every call.
type fakeGetter struct {
	mu      sync.Mutex
	calls   []getCall
	handler func(path string, params url.Values) (json.RawMessage, error)
}

func (f *fakeGetter) GetJSON(_ context.Context, path string, params url.Values) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, getCall{Path: path, Params: params})
	f.mu.Unlock()
	return f.handler(path, params)
}

func (f *fakeGetter) Calls() []getCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]getCall(nil), f.calls...)
}

func fixture(t *testing.T, name string) json.RawMessage {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return b
}

var errBoom = eris.New("boom")

func TestFilterKeyword(t *testing.T) {
	opps := []model.NormalizedOpportunity{
		{Title: "Aquisição de LICENÇAS"},
		{Title: "Obras", Description: "pavimentação com licenças ambientais"},
		{Title: "Limpeza"},
	}

	got := filterKeyword(append([]model.NormalizedOpportunity(nil), opps...), "licenças")
	require.Len(t, got, 2)
	assert.Equal(t, "Aquisição de LICENÇAS", got[0].Title)
	assert.Equal(t, "Obras", got[1].Title)

	assert.Len(t, filterKeyword(opps, ""), 3)
}

func TestClampPageSize(t *testing.T) {
	assert.Equal(t, 50, clampPageSize(0, 50))
	assert.Equal(t, 50, clampPageSize(-1, 50))
	assert.Equal(t, 50, clampPageSize(500, 50))
	assert.Equal(t, 20, clampPageSize(20, 50))
}

func TestListEnvelope(t *testing.T) {
	list, obj, err := listEnvelope(json.RawMessage(`[{"a":1},{"a":2}]`), "data")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Nil(t, obj)

	list, obj, err = listEnvelope(json.RawMessage(`{"resultado":[{"a":1}],"totalPaginas":4}`), "data", "resultado")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 4, totalPages(obj))

	list, obj, err = listEnvelope(json.RawMessage(`{"data":null,"totalPaginas":"2"}`), "data")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 2, totalPages(obj))

	_, _, err = listEnvelope(json.RawMessage(`not json`), "data")
	assert.Error(t, err)
}

func TestTotalPagesDefaults(t *testing.T) {
	assert.Equal(t, 1, totalPages(map[string]json.RawMessage{}))
	assert.Equal(t, 1, totalPages(map[string]json.RawMessage{"totalPaginas": json.RawMessage(`0`)}))
	assert.Equal(t, 1, totalPages(map[string]json.RawMessage{"totalPaginas": json.RawMessage(`"x"`)}))
}

func TestFlexTypes(t *testing.T) {
	var s struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
		F flexFloat  `json:"f"`
		G flexFloat  `json:"g"`
		H flexFloat  `json:"h"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":2024,"b":"57","c":null,"f":"1.5","g":"n/a","h":3}`), &s))
	assert.Equal(t, flexString("2024"), s.A)
	assert.Equal(t, flexString("57"), s.B)
	assert.Equal(t, flexString(""), s.C)
	require.NotNil(t, s.F.v)
	assert.InDelta(t, 1.5, *s.F.v, 1e-9)
	assert.Nil(t, s.G.v)
	require.NotNil(t, s.H.v)
	assert.InDelta(t, 3.0, *s.H.v, 1e-9)
}
