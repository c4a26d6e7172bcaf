package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostadm/hostadm/pkg/catalog"
	"github.com/hostadm/hostadm/pkg/engine"
)

func newCompileCommand() *cobra.Command {
	var showGraph bool

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile and print the catalog without applying it",
		Long: `Compile the parameter set into the ordered resource catalog and print
it. No host state is read or mutated; this is the plan the apply command
would execute, in execution order.`,
		Example: `  # Print the catalog as text
  hostadm compile

  # Print the catalog as JSON
  hostadm compile --json

  # Print the dependency graph in DOT format
  hostadm compile --graph | dot -Tsvg -o catalog.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}

			cat, err := compileCatalog(cmd.Context(), logger, nil, catalog.RuntimeContext{})
			if err != nil {
				return err
			}

			switch {
			case showGraph:
				graph, err := engine.NewGraphBuilder().Build(cat)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), graph.ToDOT())
			case jsonOutput:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cat)
			default:
				fmt.Fprint(cmd.OutOrStdout(), catalog.Describe(cat))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showGraph, "graph", false, "print the dependency graph in DOT format")
	return cmd
}
