// Package ingest runs connector fetches window by window and persists what
// they return.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/connector"
	"github.com/sells-group/licita-cli/internal/model"
)

// Persister stores one normalized opportunity, reporting whether it was new.
type Persister interface {
	Persist(ctx context.Context, in model.NormalizedOpportunity) (*model.Opportunity, bool, error)
}

// Recorder tracks ingest runs per window. It is optional.
type Recorder interface {
	Start(ctx context.Context, source model.Source, w connector.Window) (int64, error)
	Complete(ctx context.Context, runID int64, r *WindowReport) error
	Fail(ctx context.Context, runID int64, errMsg string) error
}

// Options configures one run.
type Options struct {
	// Query carries the full date range and filters. Each window replaces
	// From and To.
	Query connector.Query

	// WindowDays splits the range. 0 fetches the range in one window.
	WindowDays int

	SkipItems bool
	SkipDocs  bool

	// OnCreated is called for every newly created opportunity, typically to
	// enqueue its document downloads. Its errors are logged.
	OnCreated func(ctx context.Context, opp *model.Opportunity) error
}

// WindowReport is the outcome of one window.
type WindowReport struct {
	Window     connector.Window      `json:"window"`
	Fetched    int                   `json:"fetched"`
	Created    int                   `json:"created"`
	Existing   int                   `json:"existing"`
	Errors     int                   `json:"errors"`
	PageErrors []connector.PageError `json:"page_errors,omitempty"`
	Err        string                `json:"error,omitempty"`
}

// Report totals a run across windows.
type Report struct {
	Source   model.Source    `json:"source"`
	Fetched  int             `json:"fetched"`
	Created  int             `json:"created"`
	Existing int             `json:"existing"`
	Errors   int             `json:"errors"`
	Windows  []*WindowReport `json:"windows"`
	Elapsed  time.Duration   `json:"elapsed"`
}

// FailedWindows counts windows whose fetch failed outright.
func (r *Report) FailedWindows() int {
	n := 0
	for _, w := range r.Windows {
		if w.Err != "" {
			n++
		}
	}
	return n
}

// Runner drives a connector into the persister.
type Runner struct {
	persister Persister
	recorder  Recorder
}

// NewRunner creates a Runner. recorder may be nil.
func NewRunner(p Persister, recorder Recorder) *Runner {
	return &Runner{persister: p, recorder: recorder}
}

// Run ingests every window of opts.Query. A window whose fetch fails is
// recorded and skipped; the run only stops early when ctx is done.
func (r *Runner) Run(ctx context.Context, c connector.Connector, opts Options) (*Report, error) {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("source", string(c.Name())))
	start := time.Now()

	windows := connector.Windows(opts.Query.From, opts.Query.To, opts.WindowDays)
	if len(windows) == 0 {
		return nil, eris.Errorf("ingest: empty date range %s to %s",
			opts.Query.From.Format(time.DateOnly), opts.Query.To.Format(time.DateOnly))
	}

	report := &Report{Source: c.Name()}
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		wlog := log.With(
			zap.Int("window", i+1),
			zap.Int("windows", len(windows)),
			zap.String("from", w.From.Format(time.DateOnly)),
			zap.String("to", w.To.Format(time.DateOnly)),
		)
		wlog.Info("ingest window starting")

		runID := r.start(ctx, c.Name(), w, wlog)
		wr := r.runWindow(ctx, c, w, opts, wlog)
		r.finish(ctx, runID, wr, wlog)

		report.Windows = append(report.Windows, wr)
		report.Fetched += wr.Fetched
		report.Created += wr.Created
		report.Existing += wr.Existing
		report.Errors += wr.Errors
	}

	report.Elapsed = time.Since(start)
	log.Info("ingest complete",
		zap.Int("fetched", report.Fetched),
		zap.Int("created", report.Created),
		zap.Int("existing", report.Existing),
		zap.Int("errors", report.Errors),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (r *Runner) runWindow(ctx context.Context, c connector.Connector, w connector.Window, opts Options, log *zap.Logger) *WindowReport {
	wr := &WindowReport{Window: w}

	q := opts.Query
	q.From, q.To = w.From, w.To
	res, err := c.FetchOpportunities(ctx, q)
	if err != nil {
		log.Error("fetch failed", zap.Error(err))
		wr.Err = err.Error()
		return wr
	}
	wr.Fetched = len(res.Opportunities)
	wr.PageErrors = res.PageErrors
	for _, pe := range res.PageErrors {
		log.Warn("page skipped",
			zap.String("endpoint", pe.Endpoint),
			zap.Int("modality", pe.Modality),
			zap.Int("page", pe.Page),
			zap.String("error", pe.Err),
		)
	}

	for _, norm := range res.Opportunities {
		if ctx.Err() != nil {
			break
		}
		olog := log.With(zap.String("external_id", norm.ExternalID))

		if !opts.SkipItems {
			items, err := c.FetchItems(ctx, norm)
			if err != nil {
				olog.Warn("fetch items failed", zap.Error(err))
			} else {
				norm.Items = items
			}
		}
		if !opts.SkipDocs {
			docs, err := c.FetchDocuments(ctx, norm)
			if err != nil {
				olog.Warn("fetch documents failed", zap.Error(err))
			} else {
				norm.Documents = docs
			}
		}

		opp, created, err := r.persister.Persist(ctx, norm)
		if err != nil {
			wr.Errors++
			olog.Warn("persist failed", zap.Error(err))
			continue
		}
		if !created {
			wr.Existing++
			continue
		}
		wr.Created++
		if opts.OnCreated != nil {
			if err := opts.OnCreated(ctx, opp); err != nil {
				olog.Warn("created hook failed", zap.String("opportunity_id", opp.ID.String()), zap.Error(err))
			}
		}
	}

	log.Info("ingest window complete",
		zap.Int("fetched", wr.Fetched),
		zap.Int("created", wr.Created),
		zap.Int("existing", wr.Existing),
		zap.Int("errors", wr.Errors),
		zap.Int("page_errors", len(wr.PageErrors)),
	)
	return wr
}

func (r *Runner) start(ctx context.Context, src model.Source, w connector.Window, log *zap.Logger) int64 {
	if r.recorder == nil {
		return 0
	}
	id, err := r.recorder.Start(ctx, src, w)
	if err != nil {
		log.Error("failed to record ingest start", zap.Error(err))
		return 0
	}
	return id
}

func (r *Runner) finish(ctx context.Context, runID int64, wr *WindowReport, log *zap.Logger) {
	if r.recorder == nil || runID == 0 {
		return
	}
	var err error
	if wr.Err != "" {
		err = r.recorder.Fail(ctx, runID, wr.Err)
	} else {
		err = r.recorder.Complete(ctx, runID, wr)
	}
	if err != nil {
		log.Error("failed to record ingest result", zap.Error(err))
	}
}
