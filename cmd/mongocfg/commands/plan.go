package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var (
		src     sourceFlags
		facts   factsFlags
		dotFile string
	)

	cmd := &cobra.Command{
		Use:   "plan [files...]",
		Short: "Show the artifacts in apply order",
		Long: `Generate the artifacts and order them by their dependencies. Entries on
the same level have no ordering between them.

With --dot the graph is also written in Graphviz format; use - for stdout.`,
		Example: `  # Show the apply order
  mongocfg plan params.yaml

  # Render the graph
  mongocfg plan params.yaml --dot - | dot -Tpng > plan.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := appFrom(cmd)

			l, err := a.load(ctx, args, &src, &facts)
			if err != nil {
				return err
			}
			artifacts, err := a.generate(ctx, "plan", l)
			if err != nil {
				return err
			}

			graph, err := artifacts.Graph()
			if err != nil {
				return fmt.Errorf("failed to order artifacts: %w", err)
			}

			if dotFile == "-" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), graph.ToDOT())
				return err
			}
			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(graph.ToDOT()), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", dotFile, err)
				}
				log.Info().Str("file", dotFile).Msg("Graph written")
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), graph)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan for %s (%s, %s)\n", l.Target, l.Facts.Architecture, orUnknown(l.Facts.OSFamily))
			for level, ids := range graph.Levels {
				fmt.Fprintf(out, "Level %d:\n", level)
				for _, id := range ids {
					fmt.Fprintf(out, "  %s\n", id)
				}
			}
			return nil
		},
	}

	src.register(cmd)
	facts.register(cmd)
	cmd.Flags().StringVar(&dotFile, "dot", "", "write the graph in DOT format to this file")

	return cmd
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
