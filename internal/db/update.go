package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Column is a staging column and the SQL type it is created with.
type Column struct {
	Name string
	Type string
	// Cast, when set, is applied when copying from staging into the target,
	// e.g. "vector" for embeddings staged as text.
	Cast string
}

// UpdateConfig describes a keyed bulk update.
type UpdateConfig struct {
	Table   string
	Key     Column
	Columns []Column
}

// TempTable is the staging table name used for cfg.
func (cfg UpdateConfig) TempTable() string {
	return "_tmp_update_" + strings.ReplaceAll(cfg.Table, ".", "_")
}

// BulkUpdate writes many rows' columns in one round trip:
// COPY into a temp table, then UPDATE target FROM temp joined on the key.
// Each row is the key value followed by the column values in order.
func BulkUpdate(ctx context.Context, pool Pool, cfg UpdateConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if cfg.Key.Name == "" {
		return 0, eris.New("db: bulk update: no key column")
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: bulk update: no columns specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: bulk update: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	temp := cfg.TempTable()
	all := append([]Column{cfg.Key}, cfg.Columns...)

	defs := make([]string, len(all))
	names := make([]string, len(all))
	for i, c := range all {
		defs[i] = pgx.Identifier{c.Name}.Sanitize() + " " + c.Type
		names[i] = c.Name
	}
	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (%s) ON COMMIT DROP",
		pgx.Identifier{temp}.Sanitize(), strings.Join(defs, ", "))
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: bulk update: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{temp}, names, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: bulk update: COPY into temp table for %s", cfg.Table)
	}

	sets := make([]string, len(cfg.Columns))
	for i, c := range cfg.Columns {
		src := "t." + pgx.Identifier{c.Name}.Sanitize()
		if c.Cast != "" {
			src += "::" + c.Cast
		}
		sets[i] = pgx.Identifier{c.Name}.Sanitize() + " = " + src
	}
	key := pgx.Identifier{cfg.Key.Name}.Sanitize()
	updateSQL := fmt.Sprintf("UPDATE %s AS d SET %s FROM %s AS t WHERE d.%s = t.%s",
		sanitizeTable(cfg.Table), strings.Join(sets, ", "), pgx.Identifier{temp}.Sanitize(), key, key)

	tag, err := tx.Exec(ctx, updateSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: bulk update: UPDATE %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: bulk update: commit tx")
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes plain or schema-qualified table names.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}
