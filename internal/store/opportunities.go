package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/model"
)

const opportunityColumns = `id, source, external_id, dedup_hash, object_hash, title, description, modality,
	number, process_number, entity_cnpj, entity_name, entity_uf, entity_city,
	published_at, opening_at, closing_at, deadline, estimated_value, awarded_value,
	is_srp, link, status, raw_data, created_at, updated_at`

func scanOpportunity(row scanner, extra ...any) (*model.Opportunity, error) {
	var o model.Opportunity
	var source, modality, status string
	var raw []byte
	dest := []any{
		&o.ID, &source, &o.ExternalID, &o.DedupHash, &o.ObjectHash, &o.Title, &o.Description, &modality,
		&o.Number, &o.ProcessNumber, &o.EntityCNPJ, &o.EntityName, &o.EntityUF, &o.EntityCity,
		&o.PublishedAt, &o.OpeningAt, &o.ClosingAt, &o.Deadline, &o.EstimatedValue, &o.AwardedValue,
		&o.IsSRP, &o.Link, &status, &raw, &o.CreatedAt, &o.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	o.Source = model.Source(source)
	o.Modality = model.Modality(modality)
	o.Status = model.OpportunityStatus(status)
	o.RawData = raw
	return &o, nil
}

func (s *PostgresStore) GetOpportunityByDedupHash(ctx context.Context, dedupHash string) (*model.Opportunity, error) {
	o, err := scanOpportunity(s.pool.QueryRow(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE dedup_hash = $1`, dedupHash))
	if err != nil {
		return nil, notFound(err, "postgres: get opportunity by dedup hash")
	}
	return o, nil
}

// FindObjectDuplicate returns another record with the same title
// fingerprint, ignoring the record identified by source and externalID.
func (s *PostgresStore) FindObjectDuplicate(ctx context.Context, objectHash string, source model.Source, externalID string) (*model.Opportunity, error) {
	o, err := scanOpportunity(s.pool.QueryRow(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities
		 WHERE object_hash = $1 AND NOT (source = $2 AND external_id = $3)
		 ORDER BY created_at LIMIT 1`,
		objectHash, string(source), externalID))
	if err != nil {
		return nil, notFound(err, "postgres: find object duplicate")
	}
	return o, nil
}

// CreateOpportunity inserts opp. It reports false without error when a row
// with the same dedup hash already exists.
func (s *PostgresStore) CreateOpportunity(ctx context.Context, opp *model.Opportunity) (bool, error) {
	if opp.ID == uuid.Nil {
		opp.ID = uuid.New()
	}
	now := time.Now().UTC()
	opp.CreatedAt, opp.UpdatedAt = now, now
	raw := []byte(opp.RawData)
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO opportunities (`+opportunityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		 ON CONFLICT (dedup_hash) DO NOTHING`,
		opp.ID, string(opp.Source), opp.ExternalID, opp.DedupHash, opp.ObjectHash, opp.Title, opp.Description, string(opp.Modality),
		opp.Number, opp.ProcessNumber, opp.EntityCNPJ, opp.EntityName, opp.EntityUF, opp.EntityCity,
		opp.PublishedAt, opp.OpeningAt, opp.ClosingAt, opp.Deadline, opp.EstimatedValue, opp.AwardedValue,
		opp.IsSRP, opp.Link, string(opp.Status), raw, now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert opportunity %s", opp.ExternalID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetOpportunity(ctx context.Context, id uuid.UUID) (*model.Opportunity, error) {
	o, err := scanOpportunity(s.pool.QueryRow(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "postgres: get opportunity")
	}
	return o, nil
}

// GetOpportunityDetail loads an opportunity with its items, documents,
// requirements and summaries.
func (s *PostgresStore) GetOpportunityDetail(ctx context.Context, id uuid.UUID) (*model.OpportunityDetail, error) {
	o, err := s.GetOpportunity(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &model.OpportunityDetail{Opportunity: *o}
	if d.Items, err = s.ListItems(ctx, id); err != nil {
		return nil, err
	}
	if d.Documents, err = s.ListDocuments(ctx, id); err != nil {
		return nil, err
	}
	if d.Requirements, err = s.ListRequirements(ctx, id); err != nil {
		return nil, err
	}
	if d.Summaries, err = s.ListSummaries(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

var orderings = map[string]string{
	"published_at":     "published_at ASC NULLS LAST",
	"-published_at":    "published_at DESC NULLS LAST",
	"deadline":         "deadline ASC NULLS LAST",
	"-deadline":        "deadline DESC NULLS LAST",
	"estimated_value":  "estimated_value ASC NULLS LAST",
	"-estimated_value": "estimated_value DESC NULLS LAST",
	"created_at":       "created_at ASC",
	"-created_at":      "created_at DESC",
}

// ListOpportunities returns one page of matching opportunities and the
// total match count.
func (s *PostgresStore) ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]model.Opportunity, int, error) {
	query := `SELECT ` + opportunityColumns + `, count(*) OVER() FROM opportunities WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, string(filter.Source))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Modality != "" {
		query += fmt.Sprintf(` AND modality = $%d`, argIdx)
		args = append(args, string(filter.Modality))
		argIdx++
	}
	if filter.UF != "" {
		query += fmt.Sprintf(` AND entity_uf = $%d`, argIdx)
		args = append(args, strings.ToUpper(filter.UF))
		argIdx++
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		query += fmt.Sprintf(` AND (title ILIKE $%d OR entity_name ILIKE $%d)`, argIdx, argIdx)
		args = append(args, "%"+q+"%")
		argIdx++
	}

	order, ok := orderings[filter.Ordering]
	if !ok {
		order = orderings["-published_at"]
	}
	query += ` ORDER BY ` + order + `, id`

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list opportunities")
	}
	defer rows.Close()

	var (
		opps  []model.Opportunity
		total int
	)
	for rows.Next() {
		o, err := scanOpportunity(rows, &total)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan opportunity")
		}
		opps = append(opps, *o)
	}
	return opps, total, eris.Wrap(rows.Err(), "postgres: list opportunities iterate")
}

func (s *PostgresStore) UpdateOpportunityStatus(ctx context.Context, id uuid.UUID, status model.OpportunityStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update opportunity status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionOpportunityStatus moves an opportunity to "to" only while it is
// still in "from". It reports whether the row changed.
func (s *PostgresStore) TransitionOpportunityStatus(ctx context.Context, id uuid.UUID, from, to model.OpportunityStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition opportunity %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// UpcomingDeadlines lists open opportunities whose deadline falls within
// [now, now+within].
func (s *PostgresStore) UpcomingDeadlines(ctx context.Context, now time.Time, within time.Duration) ([]model.UpcomingDeadline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, entity_name, status, deadline FROM opportunities
		 WHERE deadline BETWEEN $1 AND $2 AND status = ANY($3)
		 ORDER BY deadline`,
		now.UTC(), now.Add(within).UTC(),
		[]string{string(model.StatusNew), string(model.StatusAnalyzing), string(model.StatusEligible)},
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upcoming deadlines")
	}
	defer rows.Close()

	var out []model.UpcomingDeadline
	for rows.Next() {
		var d model.UpcomingDeadline
		var status string
		if err := rows.Scan(&d.OpportunityID, &d.Title, &d.EntityName, &status, &d.Deadline); err != nil {
			return nil, eris.Wrap(err, "postgres: scan deadline")
		}
		d.Status = model.OpportunityStatus(status)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: upcoming deadlines iterate")
}

func (s *PostgresStore) CreateItem(ctx context.Context, item *model.OpportunityItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	raw := []byte(item.RawData)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO opportunity_items
		 (id, opportunity_id, item_number, description, quantity, unit, estimated_unit_price, estimated_total, material_or_service, raw_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.OpportunityID, item.ItemNumber, item.Description, item.Quantity, item.Unit,
		item.EstimatedUnitPrice, item.EstimatedTotal, item.MaterialOrService, raw,
	)
	return eris.Wrapf(err, "postgres: insert item %d", item.ItemNumber)
}

func (s *PostgresStore) ListItems(ctx context.Context, opportunityID uuid.UUID) ([]model.OpportunityItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, opportunity_id, item_number, description, quantity, unit, estimated_unit_price, estimated_total, material_or_service, raw_data
		 FROM opportunity_items WHERE opportunity_id = $1 ORDER BY item_number`,
		opportunityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var items []model.OpportunityItem
	for rows.Next() {
		var it model.OpportunityItem
		var raw []byte
		if err := rows.Scan(&it.ID, &it.OpportunityID, &it.ItemNumber, &it.Description, &it.Quantity, &it.Unit,
			&it.EstimatedUnitPrice, &it.EstimatedTotal, &it.MaterialOrService, &raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		it.RawData = raw
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}
