package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/db"
)

// DefaultEmbeddingDims is the vector width used when none is configured.
const DefaultEmbeddingDims = 3072

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	dims    int
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres connects to connString. dims is the embedding width the
// migration declares on document_chunks.embedding.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, dims int) (*PostgresStore, error) {
	var maxConns, minConns int32 = 10, 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}

	pool, err := db.Connect(ctx, connString, maxConns, minConns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	s := NewFromPool(pool, dims)
	s.closeFn = pool.Close
	return s, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool db.Pool, dims int) *PostgresStore {
	if dims <= 0 {
		dims = DefaultEmbeddingDims
	}
	return &PostgresStore{pool: pool, dims: dims}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS opportunities (
	id              UUID PRIMARY KEY,
	source          VARCHAR(20) NOT NULL,
	external_id     VARCHAR(200) NOT NULL,
	dedup_hash      CHAR(64) NOT NULL UNIQUE,
	object_hash     CHAR(64) NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	modality        VARCHAR(30) NOT NULL DEFAULT 'other',
	number          VARCHAR(100) NOT NULL DEFAULT '',
	process_number  VARCHAR(100) NOT NULL DEFAULT '',
	entity_cnpj     VARCHAR(18) NOT NULL DEFAULT '',
	entity_name     VARCHAR(400) NOT NULL DEFAULT '',
	entity_uf       VARCHAR(2) NOT NULL DEFAULT '',
	entity_city     VARCHAR(200) NOT NULL DEFAULT '',
	published_at    TIMESTAMPTZ,
	opening_at      TIMESTAMPTZ,
	closing_at      TIMESTAMPTZ,
	deadline        TIMESTAMPTZ,
	estimated_value NUMERIC(18,2),
	awarded_value   NUMERIC(18,2),
	is_srp          BOOLEAN NOT NULL DEFAULT false,
	link            VARCHAR(2000) NOT NULL DEFAULT '',
	status          VARCHAR(20) NOT NULL DEFAULT 'new',
	raw_data        JSONB NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_opportunities_object_hash ON opportunities(object_hash);
CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities(status);
CREATE INDEX IF NOT EXISTS idx_opportunities_deadline ON opportunities(deadline);
CREATE INDEX IF NOT EXISTS idx_opportunities_published_at ON opportunities(published_at DESC);
CREATE INDEX IF NOT EXISTS idx_opportunities_source_uf ON opportunities(source, entity_uf);

CREATE TABLE IF NOT EXISTS opportunity_items (
	id                   UUID PRIMARY KEY,
	opportunity_id       UUID NOT NULL REFERENCES opportunities(id) ON DELETE CASCADE,
	item_number          INTEGER NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	quantity             NUMERIC(18,4),
	unit                 VARCHAR(50) NOT NULL DEFAULT '',
	estimated_unit_price NUMERIC(18,4),
	estimated_total      NUMERIC(18,2),
	material_or_service  VARCHAR(20) NOT NULL DEFAULT '',
	raw_data             JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_opportunity_items_opportunity ON opportunity_items(opportunity_id, item_number);

CREATE TABLE IF NOT EXISTS opportunity_documents (
	id             UUID PRIMARY KEY,
	opportunity_id UUID NOT NULL REFERENCES opportunities(id) ON DELETE CASCADE,
	original_url   TEXT NOT NULL DEFAULT '',
	storage_key    TEXT NOT NULL DEFAULT '',
	file_name      VARCHAR(500) NOT NULL DEFAULT '',
	doc_type       VARCHAR(100) NOT NULL DEFAULT '',
	file_hash      VARCHAR(64) NOT NULL DEFAULT '',
	file_size      BIGINT NOT NULL DEFAULT 0,
	mime_type      VARCHAR(200) NOT NULL DEFAULT '',
	status         VARCHAR(20) NOT NULL DEFAULT 'pending',
	extracted_text TEXT NOT NULL DEFAULT '',
	page_count     INTEGER NOT NULL DEFAULT 0,
	ocr_used       BOOLEAN NOT NULL DEFAULT false,
	error_message  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_opportunity_documents_opportunity ON opportunity_documents(opportunity_id);
CREATE INDEX IF NOT EXISTS idx_opportunity_documents_status ON opportunity_documents(status);
CREATE INDEX IF NOT EXISTS idx_opportunity_documents_file_hash ON opportunity_documents(file_hash) WHERE file_hash <> '';

CREATE TABLE IF NOT EXISTS document_chunks (
	id          UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES opportunity_documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	page_number INTEGER NOT NULL DEFAULT 0,
	embedding   vector(%d),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (document_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS extracted_requirements (
	id             UUID PRIMARY KEY,
	opportunity_id UUID NOT NULL REFERENCES opportunities(id) ON DELETE CASCADE,
	category       VARCHAR(20) NOT NULL,
	requirement    TEXT NOT NULL,
	evidence       TEXT NOT NULL DEFAULT '',
	is_mandatory   BOOLEAN NOT NULL DEFAULT true,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_extracted_requirements_opportunity ON extracted_requirements(opportunity_id);

CREATE TABLE IF NOT EXISTS ai_summaries (
	id             UUID PRIMARY KEY,
	opportunity_id UUID NOT NULL REFERENCES opportunities(id) ON DELETE CASCADE,
	analysis_type  VARCHAR(20) NOT NULL,
	content        JSONB NOT NULL,
	prompt_version VARCHAR(20) NOT NULL DEFAULT '',
	model_used     VARCHAR(100) NOT NULL DEFAULT '',
	tokens_used    INTEGER NOT NULL DEFAULT 0,
	elapsed_ms     BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ai_summaries_opportunity_type ON ai_summaries(opportunity_id, analysis_type, created_at DESC);

CREATE TABLE IF NOT EXISTS clients (
	id              UUID PRIMARY KEY,
	name            VARCHAR(300) NOT NULL,
	cnpj            VARCHAR(18) NOT NULL UNIQUE,
	trade_name      VARCHAR(300) NOT NULL DEFAULT '',
	email           VARCHAR(254) NOT NULL DEFAULT '',
	regions         TEXT[] NOT NULL DEFAULT '{}',
	keywords        TEXT[] NOT NULL DEFAULT '{}',
	categories      TEXT[] NOT NULL DEFAULT '{}',
	min_margin_pct  NUMERIC(5,2),
	max_value       NUMERIC(18,2),
	logistics_reach TEXT NOT NULL DEFAULT '',
	restrictions    TEXT NOT NULL DEFAULT '',
	is_active       BOOLEAN NOT NULL DEFAULT true,
	notify_email    BOOLEAN NOT NULL DEFAULT false,
	documents       JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS matches (
	id                   UUID PRIMARY KEY,
	opportunity_id       UUID NOT NULL REFERENCES opportunities(id) ON DELETE CASCADE,
	client_id            UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	score                INTEGER NOT NULL CHECK (score BETWEEN 0 AND 100),
	justification        TEXT NOT NULL DEFAULT '',
	missing_docs         JSONB NOT NULL DEFAULT '[]',
	missing_capabilities JSONB NOT NULL DEFAULT '[]',
	evidence             JSONB NOT NULL DEFAULT '[]',
	prompt_version       VARCHAR(20) NOT NULL DEFAULT '',
	model_used           VARCHAR(100) NOT NULL DEFAULT '',
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (opportunity_id, client_id)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           BIGSERIAL PRIMARY KEY,
	source       VARCHAR(20) NOT NULL,
	window_from  DATE NOT NULL,
	window_to    DATE NOT NULL,
	status       VARCHAR(20) NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	fetched      INTEGER NOT NULL DEFAULT 0,
	created      INTEGER NOT NULL DEFAULT 0,
	existing     INTEGER NOT NULL DEFAULT 0,
	errors       INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     JSONB
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_source ON ingest_runs(source, started_at DESC);
`

// Migrate creates the vector extension and every table idempotently.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(postgresMigration, s.dims))
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// notFound maps pgx.ErrNoRows onto ErrNotFound and wraps anything else.
func notFound(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return eris.Wrap(err, msg)
}

var _ Store = (*PostgresStore)(nil)
