package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostadm/hostadm/pkg/catalog"
	"github.com/hostadm/hostadm/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate parameters and the compiled catalog",
		Long: `Validate the parameter file without touching the host.

The parameters are loaded, the catalog is compiled, every resource's
attributes are checked against its kind schema, the dependency graph is
checked for cycles, and the result is gated by policy. Exit status is
non-zero when any check fails.`,
		Example: `  # Validate the default parameter file
  hostadm validate

  # Validate a specific parameter file with a host lookup layer
  hostadm validate --params ./params.yaml --lookup ./host.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}

			cat, err := compileCatalog(cmd.Context(), logger, nil, catalog.RuntimeContext{})
			if err != nil {
				var engErr *engine.Error
				if errors.As(err, &engErr) {
					fmt.Fprintf(cmd.OutOrStdout(), "invalid: %s\n", engErr.Error())
					return &ExitError{Code: 1}
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "valid: %d resources\n", cat.Len())
			return nil
		},
	}
	return cmd
}
