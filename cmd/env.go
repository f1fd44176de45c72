package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/analysis"
	"github.com/sells-group/licita-cli/internal/cache"
	"github.com/sells-group/licita-cli/internal/chunk"
	"github.com/sells-group/licita-cli/internal/connector"
	"github.com/sells-group/licita-cli/internal/docpipeline"
	"github.com/sells-group/licita-cli/internal/embedding"
	"github.com/sells-group/licita-cli/internal/extract"
	"github.com/sells-group/licita-cli/internal/fetcher"
	"github.com/sells-group/licita-cli/internal/ingest"
	"github.com/sells-group/licita-cli/internal/model"
	"github.com/sells-group/licita-cli/internal/normalize"
	"github.com/sells-group/licita-cli/internal/ocr"
	"github.com/sells-group/licita-cli/internal/retrieval"
	"github.com/sells-group/licita-cli/internal/storage"
	"github.com/sells-group/licita-cli/internal/store"
	"github.com/sells-group/licita-cli/internal/tasks"
)

// appEnv holds the services a command needs. Fields a command did not ask
// for stay nil.
type appEnv struct {
	Store     *store.PostgresStore
	Cache     cache.Cache
	Documents *docpipeline.Pipeline
	Retriever *retrieval.Retriever
	Analysis  *analysis.Service
	Ingest    *ingest.Runner
	RunLog    *ingest.RunLog
	Temporal  client.Client
}

// envNeeds selects the services initEnv builds. Analysis with Retrieval
// runs the full analysis; Analysis alone is enough for matching.
type envNeeds struct {
	Documents bool
	Retrieval bool
	Analysis  bool
	Ingest    bool
	Temporal  bool
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Temporal != nil {
		e.Temporal.Close()
	}
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Connector builds the connector for src sharing the environment's cache.
func (e *appEnv) Connector(src model.Source) (connector.Connector, error) {
	return connector.New(src, cfg.Connectors, e.Cache, cfg.Cache.TTL())
}

// Enqueuer returns a workflow enqueuer on the configured task queue.
func (e *appEnv) Enqueuer() *tasks.Enqueuer {
	return tasks.NewEnqueuer(e.Temporal, cfg.Temporal.TaskQueue)
}

// Activities wires the workflow activities to the environment.
func (e *appEnv) Activities() *tasks.Activities {
	return &tasks.Activities{
		Ingest:     e.Ingest,
		Connectors: e.Connector,
		Documents:  e.Documents,
		Analysis:   e.Analysis,
		Deadlines:  e.Store,
		Enqueuer:   e.Enqueuer(),
	}
}

// initStore validates cfg for mode and connects to Postgres.
func initStore(ctx context.Context, mode string) (*store.PostgresStore, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	}, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// initEnv connects the store and builds the services in needs. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string, needs envNeeds) (*appEnv, error) {
	st, err := initStore(ctx, mode)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := env.build(ctx, needs); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func (e *appEnv) build(ctx context.Context, needs envNeeds) error {
	var (
		embedder embedding.Provider
		err      error
	)
	if needs.Documents || needs.Retrieval {
		embedder, err = embedding.New(ctx, cfg.Embedding)
		if err != nil {
			return eris.Wrap(err, "init embedding provider")
		}
		e.Retriever = retrieval.New(embedder, e.Store)
	}

	if needs.Documents {
		if e.Documents, err = newDocumentPipeline(ctx, e.Store, embedder); err != nil {
			return err
		}
	}

	if needs.Analysis {
		llm, err := analysis.NewLLM(ctx, cfg.LLM)
		if err != nil {
			return eris.Wrap(err, "init llm")
		}
		prompts, err := analysis.DefaultCatalog()
		if err != nil {
			return err
		}
		// Matching reads stored analysis only, so it runs without a searcher.
		var searcher analysis.Searcher
		if e.Retriever != nil {
			searcher = e.Retriever
		}
		e.Analysis = analysis.NewService(e.Store, searcher, llm, prompts, cfg.Analysis.ExtractionTopK)
		zap.L().Info("analysis enabled",
			zap.String("llm", llm.Model()),
			zap.String("prompt_version", prompts.Version),
		)
	}

	if needs.Ingest {
		if e.Cache, err = cache.New(ctx, cfg.Cache); err != nil {
			return eris.Wrap(err, "init cache")
		}
		e.RunLog = ingest.NewRunLog(e.Store.Pool())
		e.Ingest = ingest.NewRunner(normalize.New(e.Store), e.RunLog)
	}

	if needs.Temporal {
		if e.Temporal, err = tasks.Dial(cfg.Temporal); err != nil {
			return err
		}
	}
	return nil
}

func newDocumentPipeline(ctx context.Context, st *store.PostgresStore, embedder embedding.Provider) (*docpipeline.Pipeline, error) {
	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, eris.Wrap(err, "init storage")
	}
	engine, err := ocr.NewEngine(cfg.OCR)
	if err != nil {
		return nil, eris.Wrap(err, "init ocr")
	}
	tok, err := chunk.NewTiktoken(cfg.Chunk.Model)
	if err != nil {
		return nil, eris.Wrap(err, "init tokenizer")
	}
	chunker, err := chunk.New(tok, cfg.Chunk.Size, cfg.Chunk.Overlap)
	if err != nil {
		return nil, err
	}

	downloader := fetcher.NewDownloader(fetcher.DownloadOptions{
		UserAgent: cfg.Connectors.UserAgent,
		Timeout:   time.Duration(cfg.Documents.DownloadTimeoutSecs) * time.Second,
	})

	return docpipeline.New(docpipeline.Deps{
		Store:      st,
		Downloader: downloader,
		Storage:    objects,
		Extractor:  extract.New(cfg.OCR, engine),
		Chunker:    chunker,
		Embedder:   embedding.NewBatcher(embedder, st, cfg.Embedding.BatchSize),
	}, docpipeline.Options{
		Concurrency: cfg.Documents.Concurrency,
		MaxErrorLen: cfg.Documents.MaxErrorLen,
		SweepLimit:  cfg.Documents.SweepLimit,
	}), nil
}
