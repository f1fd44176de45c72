package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/model"
)

const clientColumns = `id, name, cnpj, trade_name, email, regions, keywords, categories, min_margin_pct, max_value,
	logistics_reach, restrictions, is_active, notify_email, documents, created_at`

func scanClient(row scanner) (*model.Client, error) {
	var c model.Client
	var docs []byte
	if err := row.Scan(&c.ID, &c.Name, &c.CNPJ, &c.TradeName, &c.Email, &c.Regions, &c.Keywords, &c.Categories,
		&c.MinMarginPct, &c.MaxValue, &c.LogisticsReach, &c.Restrictions, &c.IsActive, &c.NotifyEmail,
		&docs, &c.CreatedAt); err != nil {
		return nil, err
	}
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &c.Documents); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode documents for client %s", c.CNPJ)
		}
	}
	return &c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// UpsertClient inserts c or updates the profile with the same CNPJ. c.ID
// and c.CreatedAt are set from the stored row.
func (s *PostgresStore) UpsertClient(ctx context.Context, c *model.Client) error {
	if c.CNPJ == "" {
		return eris.New("postgres: upsert client: cnpj is required")
	}
	docs := c.Documents
	if docs == nil {
		docs = []model.ClientDocument{}
	}
	docsJSON, err := json.Marshal(docs)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert client: encode documents")
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO clients (`+clientColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (cnpj) DO UPDATE SET
			name = EXCLUDED.name, trade_name = EXCLUDED.trade_name, email = EXCLUDED.email,
			regions = EXCLUDED.regions, keywords = EXCLUDED.keywords, categories = EXCLUDED.categories,
			min_margin_pct = EXCLUDED.min_margin_pct, max_value = EXCLUDED.max_value,
			logistics_reach = EXCLUDED.logistics_reach, restrictions = EXCLUDED.restrictions,
			is_active = EXCLUDED.is_active, notify_email = EXCLUDED.notify_email,
			documents = EXCLUDED.documents
		 RETURNING id, created_at`,
		uuid.New(), c.Name, c.CNPJ, c.TradeName, c.Email, nonNil(c.Regions), nonNil(c.Keywords), nonNil(c.Categories),
		c.MinMarginPct, c.MaxValue, c.LogisticsReach, c.Restrictions, c.IsActive, c.NotifyEmail,
		docsJSON, time.Now().UTC(),
	).Scan(&c.ID, &c.CreatedAt)
	return eris.Wrapf(err, "postgres: upsert client %s", c.CNPJ)
}

func (s *PostgresStore) GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	c, err := scanClient(s.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "postgres: get client")
	}
	return c, nil
}

func (s *PostgresStore) ListClients(ctx context.Context, activeOnly bool) ([]model.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clients")
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan client")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list clients iterate")
}

func jsonList(v []string) ([]byte, error) {
	return json.Marshal(nonNil(v))
}

// UpsertMatch writes the score for one (opportunity, client) pair,
// overwriting any previous result.
func (s *PostgresStore) UpsertMatch(ctx context.Context, m *model.Match) error {
	missingDocs, err := jsonList(m.MissingDocs)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert match: encode missing docs")
	}
	missingCaps, err := jsonList(m.MissingCapabilities)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert match: encode missing capabilities")
	}
	evidence, err := jsonList(m.Evidence)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert match: encode evidence")
	}
	m.UpdatedAt = time.Now().UTC()

	err = s.pool.QueryRow(ctx,
		`INSERT INTO matches (id, opportunity_id, client_id, score, justification, missing_docs,
		                      missing_capabilities, evidence, prompt_version, model_used, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (opportunity_id, client_id) DO UPDATE SET
			score = EXCLUDED.score, justification = EXCLUDED.justification,
			missing_docs = EXCLUDED.missing_docs, missing_capabilities = EXCLUDED.missing_capabilities,
			evidence = EXCLUDED.evidence, prompt_version = EXCLUDED.prompt_version,
			model_used = EXCLUDED.model_used, updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		uuid.New(), m.OpportunityID, m.ClientID, m.Score, m.Justification, missingDocs,
		missingCaps, evidence, m.PromptVersion, m.ModelUsed, m.UpdatedAt,
	).Scan(&m.ID)
	return eris.Wrapf(err, "postgres: upsert match %s/%s", m.OpportunityID, m.ClientID)
}
