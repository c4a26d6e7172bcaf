package commands

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/hostadm/hostadm/pkg/catalog"
	"github.com/hostadm/hostadm/pkg/engine"
	"github.com/hostadm/hostadm/pkg/providers"
)

func newWatchCommand() *cobra.Command {
	var (
		debounce time.Duration
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reapply the catalog whenever the parameter file changes",
		Long: `Watch the parameter file and the lookup layers; on every change,
recompile the catalog and reconcile the host. Events are debounced so an
editor's write-and-rename sequence triggers a single run. The command runs
until interrupted.`,
		Example: `  # Watch with the default debounce
  hostadm watch

  # Watch in dry-run mode to preview changes continuously
  hostadm watch --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, err := newLogger()
			if err != nil {
				return err
			}
			log := logger.With().Str("component", "watch").Logger()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			watched := append([]string{paramsPath}, lookupPaths...)
			for _, path := range watched {
				if err := watcher.Add(path); err != nil {
					log.Warn().Err(err).Str("path", path).Msg("cannot watch path")
				}
			}

			registry, err := providers.NewDefaultRegistry(providers.NewExecSystem())
			if err != nil {
				return err
			}

			run := func() {
				cat, err := compileCatalog(ctx, logger, nil, catalog.RuntimeContext{})
				if err != nil {
					log.Error().Err(err).Msg("compile failed, keeping previous state")
					return
				}
				applier := engine.NewApplier(registry, logger, nil, nil, engine.ApplyOptions{
					MaxParallel: 1,
					DryRun:      dryRun,
				})
				report, err := applier.Apply(ctx, cat)
				if err != nil {
					log.Error().Err(err).Msg("apply failed")
					return
				}
				report.Render(cmd.OutOrStdout())
			}

			// Initial convergence before waiting for changes.
			run()

			var timer *time.Timer
			pending := make(chan struct{}, 1)
			for {
				select {
				case <-ctx.Done():
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("change detected")
					// Editors replace files by rename; re-add so subsequent
					// writes keep arriving.
					_ = watcher.Add(event.Name)
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounce, func() {
						select {
						case pending <- struct{}{}:
						default:
						}
					})

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("watch error")

				case <-pending:
					run()
				}
			}
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "delay between a change and the triggered run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute diffs without mutating the host")

	return cmd
}
