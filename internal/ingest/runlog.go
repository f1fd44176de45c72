package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/connector"
	"github.com/sells-group/licita-cli/internal/db"
	"github.com/sells-group/licita-cli/internal/model"
)

// Run statuses stored in ingest_runs.status.
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// RunEntry is a row of ingest_runs.
type RunEntry struct {
	ID          int64          `json:"id"`
	Source      model.Source   `json:"source"`
	WindowFrom  time.Time      `json:"window_from"`
	WindowTo    time.Time      `json:"window_to"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Fetched     int            `json:"fetched"`
	Created     int            `json:"created"`
	Existing    int            `json:"existing"`
	Errors      int            `json:"errors"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RunLog records ingest windows in ingest_runs.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a window and returns its run ID.
func (l *RunLog) Start(ctx context.Context, source model.Source, w connector.Window) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO ingest_runs (source, window_from, window_to, status, started_at)
		 VALUES ($1, $2, $3, 'running', now()) RETURNING id`,
		string(source), w.From, w.To,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s", source)
	}
	return id, nil
}

// Complete marks a run complete with its counts. Skipped pages go to
// metadata.
func (l *RunLog) Complete(ctx context.Context, runID int64, r *WindowReport) error {
	var meta []byte
	if len(r.PageErrors) > 0 {
		var err error
		meta, err = json.Marshal(map[string]any{"page_errors": r.PageErrors})
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE ingest_runs
		 SET status = 'complete', completed_at = now(), fetched = $1, created = $2, existing = $3, errors = $4, metadata = $5
		 WHERE id = $6`,
		r.Fetched, r.Created, r.Existing, r.Errors, meta, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", runID)
	}
	return nil
}

// Fail marks a run failed.
func (l *RunLog) Fail(ctx context.Context, runID int64, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = 'failed', completed_at = now(), error = $1 WHERE id = $2`,
		errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", runID)
	}
	return nil
}

// LastSuccess returns the end of the latest completed window for source,
// or nil when none completed.
func (l *RunLog) LastSuccess(ctx context.Context, source model.Source) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT window_to FROM ingest_runs
		 WHERE source = $1 AND status = 'complete'
		 ORDER BY window_to DESC LIMIT 1`,
		string(source),
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: last success for %s", source)
	}
	return &t, nil
}

// Recent lists the latest runs, newest first.
func (l *RunLog) Recent(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, source, window_from, window_to, status, started_at, completed_at,
		        fetched, created, existing, errors, error, metadata
		 FROM ingest_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list recent")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var (
			e      RunEntry
			source string
			errStr *string
			meta   []byte
		)
		if err := rows.Scan(&e.ID, &source, &e.WindowFrom, &e.WindowTo, &e.Status, &e.StartedAt, &e.CompletedAt,
			&e.Fetched, &e.Created, &e.Existing, &e.Errors, &errStr, &meta); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		e.Source = model.Source(source)
		if errStr != nil {
			e.Error = *errStr
		}
		if meta != nil {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate runs")
}

var _ Recorder = (*RunLog)(nil)
