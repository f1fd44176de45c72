package tasks

import (
	"context"
	"time"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/config"
	"github.com/sells-group/licita-cli/internal/model"
)

const enqueueTimeout = 30 * time.Second

// Scheduler starts the periodic workflows on cron specs.
type Scheduler struct {
	cron  *cron.Cron
	names []string
}

// NewScheduler registers one cron entry per non-empty spec in cfg. Specs
// use the seconds-first six-field syntax.
func NewScheduler(enq *Enqueuer, cfg config.ScheduleConfig, sweepLimit int) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New()}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) (string, error)
	}{
		{"ingest_pncp", cfg.IngestPNCP, func(ctx context.Context) (string, error) {
			return enq.EnqueueIngest(ctx, IngestInput{Source: model.SourcePNCP, DaysBack: cfg.IngestDaysBack})
		}},
		{"ingest_compras_gov", cfg.IngestComprasGov, func(ctx context.Context) (string, error) {
			return enq.EnqueueIngest(ctx, IngestInput{Source: model.SourceComprasGov, DaysBack: cfg.IngestDaysBack})
		}},
		{"download_pending", cfg.DownloadPending, func(ctx context.Context) (string, error) {
			return enq.EnqueueSweep(ctx, sweepLimit)
		}},
		{"check_deadlines", cfg.CheckDeadlines, func(ctx context.Context) (string, error) {
			return enq.EnqueueDeadlines(ctx, DefaultDeadlineDays)
		}},
	}

	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if err := s.cron.AddFunc(j.spec, s.job(j.name, j.run)); err != nil {
			return nil, eris.Wrapf(err, "tasks: schedule %s %q", j.name, j.spec)
		}
		s.names = append(s.names, j.name)
	}
	return s, nil
}

// Jobs lists the scheduled job names.
func (s *Scheduler) Jobs() []string { return s.names }

// Start runs the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	zap.L().Info("scheduler started", zap.Strings("jobs", s.names))
}

// Stop halts the schedule. Running enqueues finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) job(name string, run func(ctx context.Context) (string, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer cancel()
		id, err := run(ctx)
		if err != nil {
			zap.L().Error("scheduled enqueue failed", zap.String("job", name), zap.Error(err))
			return
		}
		zap.L().Info("scheduled workflow", zap.String("job", name), zap.String("workflow_id", id))
	}
}
