package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/hostadm/hostadm/pkg/catalog"
	"github.com/hostadm/hostadm/pkg/engine"
	"github.com/hostadm/hostadm/pkg/providers"
	"github.com/hostadm/hostadm/pkg/stores"
	"github.com/hostadm/hostadm/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		dryRun        bool
		parallel      int
		timeout       time.Duration
		historyPath   string
		automationRun bool
		certDir       string
		metricsListen string
		trace         bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Compile the catalog and reconcile the host against it",
		Long: `Compile the parameter set and reconcile every resource in dependency
order. Resources whose dependencies failed are reported blocked, not
attempted. Interrupting the run lets in-flight resources finish and skips
everything not yet scheduled.

Exit status is 0 when no resource failed, 1 otherwise.`,
		Example: `  # Apply the default parameter file
  hostadm apply

  # Show what would change without mutating the host
  hostadm apply --dry-run

  # Persist the run report for auditing
  hostadm apply --history /var/lib/hostadm/history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, err := newLogger()
			if err != nil {
				return err
			}

			cfg := telemetry.DefaultConfig()
			cfg.Metrics.ListenAddress = metricsListen
			if trace {
				cfg.Tracing.Enabled = true
				cfg.Tracing.Exporter = "stdout"
			}

			metrics := telemetry.NewMetrics(cfg.Metrics)
			metrics.Serve()
			tracer, err := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
			if err != nil {
				return err
			}
			defer tracer.Shutdown(ctx)

			rctx := catalog.RuntimeContext{
				AutomationRun: automationRun,
				CertDir:       certDir,
			}
			cat, err := compileCatalog(ctx, logger, tracer, rctx)
			if err != nil {
				return err
			}

			registry, err := providers.NewDefaultRegistry(providers.NewExecSystem())
			if err != nil {
				return err
			}

			applier := engine.NewApplier(registry, logger, metrics, tracer, engine.ApplyOptions{
				MaxParallel: parallel,
				Timeout:     timeout,
				DryRun:      dryRun,
			})
			report, err := applier.Apply(ctx, cat)
			if err != nil {
				return err
			}

			report.Render(cmd.OutOrStdout())

			if historyPath != "" && !dryRun {
				store, err := stores.NewHistoryStore(historyPath)
				if err != nil {
					return err
				}
				if err := store.Open(ctx); err != nil {
					return err
				}
				defer store.Close()
				if err := store.SaveReport(ctx, report); err != nil {
					return err
				}
			}

			if code := report.ExitCode(); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute diffs without mutating the host")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "max concurrent resources within a graph level")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "per-resource reconciliation timeout")
	cmd.Flags().StringVar(&historyPath, "history", "", "SQLite database to persist the run report to")
	cmd.Flags().BoolVar(&automationRun, "automation", false, "mark this as an automation run (suppresses certificate cleanup)")
	cmd.Flags().StringVar(&certDir, "cert-dir", "", "certificate directory for housekeeping")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "address to serve Prometheus metrics on")
	cmd.Flags().BoolVar(&trace, "trace", false, "emit spans to stdout")

	return cmd
}
