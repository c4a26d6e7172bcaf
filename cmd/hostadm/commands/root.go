package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hostadm/hostadm/pkg/catalog"
	"github.com/hostadm/hostadm/pkg/engine"
	"github.com/hostadm/hostadm/pkg/policy"
	"github.com/hostadm/hostadm/pkg/telemetry"
)

var (
	// Global flags
	paramsPath  string
	lookupPaths []string
	verbose     bool
	jsonOutput  bool
)

// ExitError carries a non-zero exit status out of a command without losing
// deferred cleanup on the way.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hostadm",
		Short: "hostadm - declarative host administration",
		Long: `hostadm compiles a host administration parameter set into a resource
catalog and reconciles the host against it.

The catalog covers sudo rules, PAM access rules, polkit rules, SELinux
login mappings, managed files, packages, cron triggers, and file
housekeeping. Applying an already-converged catalog performs no mutation
and reports every resource unchanged.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&paramsPath, "params", "p", "/etc/hostadm/params.yaml", "parameter file path")
	rootCmd.PersistentFlags().StringSliceVar(&lookupPaths, "lookup", nil, "lookup layer files, most specific first (*.yaml or *.star)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newCompileCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

// newLogger builds the process logger from the global flags.
func newLogger() (zerolog.Logger, error) {
	cfg := telemetry.DefaultConfig().Logging
	if verbose {
		cfg.Level = "debug"
	}
	if jsonOutput {
		cfg.Format = "json"
	}
	return telemetry.NewLogger(cfg)
}

// compileCatalog loads parameters, builds the lookup resolver, compiles the
// catalog, and gates it. Every command that needs a catalog goes through
// here so validation is identical everywhere.
func compileCatalog(ctx context.Context, logger zerolog.Logger, tracer *telemetry.Tracer, rctx catalog.RuntimeContext) (*engine.Catalog, error) {
	params, err := catalog.LoadParams(paramsPath)
	if err != nil {
		return nil, err
	}

	resolver, err := catalog.NewResolverFromPaths(logger, lookupPaths...)
	if err != nil {
		return nil, fmt.Errorf("build lookup resolver: %w", err)
	}

	compiler, err := catalog.NewCompiler(logger, resolver, tracer)
	if err != nil {
		return nil, err
	}
	cat, err := compiler.Compile(ctx, params, rctx)
	if err != nil {
		return nil, err
	}

	gate, err := policy.NewGate(logger)
	if err != nil {
		return nil, err
	}
	result, err := gate.EvaluateCatalog(ctx, cat)
	if err != nil {
		return nil, err
	}
	for _, v := range result.Violations {
		logger.Warn().
			Str("policy", v.Policy).
			Str("resource_id", v.ResourceID).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
	}
	if !result.Allowed {
		return nil, fmt.Errorf("catalog rejected by policy: %d violation(s)", len(result.Violations))
	}
	return cat, nil
}
