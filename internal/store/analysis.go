package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/db"
	"github.com/sells-group/licita-cli/internal/model"
)

var requirementColumns = []string{"id", "opportunity_id", "category", "requirement", "evidence", "is_mandatory", "created_at"}

// ReplaceRequirements deletes the opportunity's requirements and inserts
// reqs in one transaction. Requirements are never merged.
func (s *PostgresStore) ReplaceRequirements(ctx context.Context, opportunityID uuid.UUID, reqs []model.ExtractedRequirement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace requirements: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM extracted_requirements WHERE opportunity_id = $1`, opportunityID); err != nil {
		return eris.Wrap(err, "postgres: replace requirements: delete")
	}

	now := time.Now().UTC()
	rows := make([][]any, len(reqs))
	for i := range reqs {
		r := &reqs[i]
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.OpportunityID = opportunityID
		r.CreatedAt = now
		rows[i] = []any{r.ID, opportunityID, string(r.Category), r.Requirement, r.Evidence, r.IsMandatory, now}
	}
	if _, err := db.CopyFrom(ctx, tx, "extracted_requirements", requirementColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: replace requirements")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: replace requirements: commit")
}

func (s *PostgresStore) ListRequirements(ctx context.Context, opportunityID uuid.UUID) ([]model.ExtractedRequirement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, opportunity_id, category, requirement, evidence, is_mandatory, created_at
		 FROM extracted_requirements WHERE opportunity_id = $1
		 ORDER BY category, created_at, id`,
		opportunityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requirements")
	}
	defer rows.Close()

	var reqs []model.ExtractedRequirement
	for rows.Next() {
		var r model.ExtractedRequirement
		var category string
		if err := rows.Scan(&r.ID, &r.OpportunityID, &category, &r.Requirement, &r.Evidence, &r.IsMandatory, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan requirement")
		}
		r.Category = model.RequirementCategory(category)
		reqs = append(reqs, r)
	}
	return reqs, eris.Wrap(rows.Err(), "postgres: list requirements iterate")
}

const summaryColumns = `id, opportunity_id, analysis_type, content, prompt_version, model_used, tokens_used, elapsed_ms, created_at`

func scanSummary(row scanner) (*model.AISummary, error) {
	var sum model.AISummary
	var analysisType string
	var content []byte
	if err := row.Scan(&sum.ID, &sum.OpportunityID, &analysisType, &content, &sum.PromptVersion,
		&sum.ModelUsed, &sum.TokensUsed, &sum.ElapsedMs, &sum.CreatedAt); err != nil {
		return nil, err
	}
	sum.AnalysisType = model.AnalysisType(analysisType)
	sum.Content = content
	return &sum, nil
}

// CreateSummary appends an analysis output. Earlier outputs are kept so
// LatestSummary can pick the newest.
func (s *PostgresStore) CreateSummary(ctx context.Context, sum *model.AISummary) error {
	if sum.ID == uuid.Nil {
		sum.ID = uuid.New()
	}
	sum.CreatedAt = time.Now().UTC()
	content := []byte(sum.Content)
	if len(content) == 0 {
		content = []byte("{}")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ai_summaries (`+summaryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sum.ID, sum.OpportunityID, string(sum.AnalysisType), content, sum.PromptVersion,
		sum.ModelUsed, sum.TokensUsed, sum.ElapsedMs, sum.CreatedAt,
	)
	return eris.Wrap(err, "postgres: create summary")
}

func (s *PostgresStore) LatestSummary(ctx context.Context, opportunityID uuid.UUID, analysisType model.AnalysisType) (*model.AISummary, error) {
	sum, err := scanSummary(s.pool.QueryRow(ctx,
		`SELECT `+summaryColumns+` FROM ai_summaries
		 WHERE opportunity_id = $1 AND analysis_type = $2
		 ORDER BY created_at DESC LIMIT 1`,
		opportunityID, string(analysisType)))
	if err != nil {
		return nil, notFound(err, "postgres: latest summary")
	}
	return sum, nil
}

func (s *PostgresStore) ListSummaries(ctx context.Context, opportunityID uuid.UUID) ([]model.AISummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+summaryColumns+` FROM ai_summaries WHERE opportunity_id = $1 ORDER BY created_at DESC`,
		opportunityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list summaries")
	}
	defer rows.Close()

	var out []model.AISummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan summary")
		}
		out = append(out, *sum)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list summaries iterate")
}
