package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/monitoring"
	"github.com/sells-group/licita-cli/internal/tasks"
)

var workerSchedule bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker and the periodic schedule",
	Long:  "Polls the configured task queue for ingest, document, analysis, matching and deadline workflows. With --schedule it also starts the cron entries under schedule.*.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker", envNeeds{
			Documents: true,
			Retrieval: true,
			Analysis:  true,
			Ingest:    true,
			Temporal:  true,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		w := tasks.NewWorker(env.Temporal, cfg.Temporal.TaskQueue, env.Activities())

		if workerSchedule {
			sched, err := tasks.NewScheduler(env.Enqueuer(), cfg.Schedule, cfg.Documents.SweepLimit)
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()
		}

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.RunLog, env.Store),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		interrupt := make(chan interface{})
		go func() {
			<-ctx.Done()
			close(interrupt)
		}()

		zap.L().Info("starting worker", zap.String("task_queue", cfg.Temporal.TaskQueue))
		if err := w.Run(interrupt); err != nil {
			return eris.Wrap(err, "worker run")
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerSchedule, "schedule", true, "also run the periodic schedule")
	rootCmd.AddCommand(workerCmd)
}
