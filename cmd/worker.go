package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/sweep"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for discovery sweeps",
	Long:  "Polls the configured task queue for sweep workflows and, when temporal.sweep_interval_mins is positive, ensures the recurring sweep schedule exists.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "worker", true)
		if err != nil {
			return err
		}
		defer env.Close()

		tc, err := sweep.Dial(ctx, cfg.Temporal)
		if err != nil {
			return err
		}
		defer tc.Close()

		persist, _ := cmd.Flags().GetBool("persist")
		interval := time.Duration(cfg.Temporal.SweepIntervalMins) * time.Minute
		if err := sweep.EnsureSchedule(ctx, tc, cfg.Temporal.TaskQueue, interval, sweep.Params{Persist: persist}); err != nil {
			return err
		}

		w := sweep.NewWorker(tc, cfg.Temporal.TaskQueue, &sweep.Activities{Engine: env.Engine})
		zap.L().Info("starting temporal worker",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.String("namespace", cfg.Temporal.Namespace),
		)
		if err := w.Run(workerInterrupt(ctx.Done())); err != nil {
			return eris.Wrap(err, "worker run")
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep [facet...]",
	Short: "Start a discovery sweep and wait for its report",
	Long:  "Starts the sweep workflow over the named facets, or every facet with reference data, and prints the per-facet report. Suggestions are saved only with --persist; nothing is ever promoted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("sweep"); err != nil {
			return err
		}

		tc, err := sweep.Dial(ctx, cfg.Temporal)
		if err != nil {
			return err
		}
		defer tc.Close()

		persist, _ := cmd.Flags().GetBool("persist")
		run, err := sweep.Start(ctx, tc, cfg.Temporal.TaskQueue, sweep.Params{Facets: args, Persist: persist})
		if err != nil {
			return err
		}
		zap.L().Info("sweep started", zap.String("workflow_id", run.GetID()), zap.String("run_id", run.GetRunID()))

		var report sweep.Report
		if err := run.Get(ctx, &report); err != nil {
			return eris.Wrap(err, "sweep")
		}
		formatSweepReport(os.Stdout, &report)
		if n := report.Failed(); n > 0 {
			return eris.Errorf("sweep: %d facet(s) failed", n)
		}
		return nil
	},
}

// workerInterrupt adapts a done channel to the worker's interrupt channel.
func workerInterrupt(done <-chan struct{}) <-chan interface{} {
	ch := make(chan interface{}, 1)
	go func() {
		<-done
		ch <- struct{}{}
	}()
	return ch
}

func init() {
	workerCmd.Flags().Bool("persist", true, "scheduled sweeps save suggestions")
	sweepCmd.Flags().Bool("persist", false, "save suggestions as suggested values")

	rootCmd.AddCommand(workerCmd, sweepCmd)
}
