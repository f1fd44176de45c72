package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/licita-cli/internal/model"
)

var clientRowColumns = []string{
	"id", "name", "cnpj", "trade_name", "email", "regions", "keywords", "categories", "min_margin_pct", "max_value",
	"logistics_reach", "restrictions", "is_active", "notify_email", "documents", "created_at",
}

func TestPostgresStore_UpsertClient(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()
	created := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`ON CONFLICT \(cnpj\) DO UPDATE SET`).
		WithArgs(pgxmock.AnyArg(), "Acme", "12.345.678/0001-90", "", "", []string{"DF", "GO"}, []string{}, []string{},
			(*float64)(nil), ptr(500000.0), "", "", true, false, []byte(`[]`), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(id.String(), created))

	c := &model.Client{Name: "Acme", CNPJ: "12.345.678/0001-90", Regions: []string{"DF", "GO"}, MaxValue: ptr(500000.0), IsActive: true}
	require.NoError(t, s.UpsertClient(context.Background(), c))
	assert.Equal(t, id, c.ID)
	assert.Equal(t, created, c.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertClient_RequiresCNPJ(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	err := s.UpsertClient(context.Background(), &model.Client{Name: "Sem CNPJ"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cnpj is required")
}

func TestPostgresStore_GetClient(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM clients WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(clientRowColumns).AddRow(
			id.String(), "Acme", "12.345.678/0001-90", "Acme TI", "c@acme.com.br",
			[]string{"DF"}, []string{"software"}, []string{"ti"}, ptr(12.5), (*float64)(nil),
			"nacional", "", true, true,
			[]byte(`[{"doc_type":"CND","status":"valid","expires_at":"2025-01-01T00:00:00Z"}]`), time.Now(),
		))

	c, err := s.GetClient(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Acme TI", c.TradeName)
	assert.Equal(t, []string{"software"}, c.Keywords)
	require.Len(t, c.Documents, 1)
	assert.Equal(t, "CND", c.Documents[0].DocType)
	require.NotNil(t, c.Documents[0].ExpiresAt)
	assert.Equal(t, 2025, c.Documents[0].ExpiresAt.Year())
	assert.Nil(t, c.MaxValue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListClients_ActiveOnly(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM clients WHERE is_active ORDER BY name`).
		WillReturnRows(pgxmock.NewRows(clientRowColumns))

	out, err := s.ListClients(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertMatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	oppID, clientID, matchID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(`ON CONFLICT \(opportunity_id, client_id\) DO UPDATE SET`).
		WithArgs(pgxmock.AnyArg(), oppID, clientID, 87, "bom encaixe", []byte(`["CND municipal"]`), []byte(`[]`),
			[]byte(`["item 3"]`), "v1.0", "gemini-2.0-flash", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(matchID.String()))

	m := &model.Match{
		OpportunityID: oppID,
		ClientID:      clientID,
		Score:         87,
		Justification: "bom encaixe",
		MissingDocs:   []string{"CND municipal"},
		Evidence:      []string{"item 3"},
		PromptVersion: "v1.0",
		ModelUsed:     "gemini-2.0-flash",
	}
	require.NoError(t, s.UpsertMatch(context.Background(), m))
	assert.Equal(t, matchID, m.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertMatch_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO matches`).WillReturnError(errors.New("check constraint"))

	err := s.UpsertMatch(context.Background(), &model.Match{Score: 101})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: upsert match")
}
