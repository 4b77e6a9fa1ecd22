package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/mongocfg/pkg/engine"
	"github.com/openfroyo/mongocfg/pkg/telemetry"
)

func newFactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Collect and inspect platform facts",
		Long: `Collect and inspect the platform facts used for defaults.

Two facts are read: the machine architecture (uname -m) and the OS family
derived from os-release. Collected facts are cached in the state database
with a TTL and used by --facts stored.`,
	}

	cmd.AddCommand(newFactsCollectCommand())
	cmd.AddCommand(newFactsShowCommand())
	cmd.AddCommand(newFactsPruneCommand())

	return cmd
}

func newFactsCollectCommand() *cobra.Command {
	var (
		facts  factsFlags
		target string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect facts and store them",
		Example: `  # Collect facts from this machine
  mongocfg facts collect

  # Collect facts from a remote host
  mongocfg facts collect --host db1.example.com --ssh-user admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)

			if target == "" {
				target = facts.host
			}
			if target == "" {
				if name, err := os.Hostname(); err == nil {
					target = name
				} else {
					target = "localhost"
				}
			}

			source := "local"
			if facts.host != "" {
				source = "remote"
			}

			ctx, span := a.tel.Tracer.StartCommandSpan(cmd.Context(), "facts.collect", target)
			span.SetAttributes(telemetry.AttrFactsSource.String(source))
			defer span.End()

			provider, cleanup, err := a.factsProvider(ctx, &facts, source, target)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			defer cleanup()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = a.settings.Facts.TTL
			}

			result, err := engine.NewFactsCollector(store, ttl).Collect(ctx, target, provider)
			a.tel.Metrics.RecordFactsCollected(source, err)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			telemetry.RecordSuccess(span)

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: architecture=%s os_family=%s\n",
				result.TargetID, result.Facts.Architecture, orUnknown(result.Facts.OSFamily))
			return nil
		},
	}

	facts.registerRemote(cmd)
	cmd.Flags().StringVar(&target, "target", "", "store facts under this target (default: host or hostname)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "fact lifetime (default from settings)")

	return cmd
}

func newFactsShowCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show [target]",
		Short: "Show stored facts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			var target *string
			if len(args) == 1 {
				target = &args[0]
			}
			namespace := engine.FactsNamespace

			facts, err := store.ListFacts(ctx, target, &namespace, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), facts)
			}
			if len(facts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no facts stored")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TARGET\tKEY\tVALUE\tUPDATED\tEXPIRES")
			for _, f := range facts {
				expires := "never"
				if f.ExpiresAt != nil {
					expires = f.ExpiresAt.Local().Format(time.RFC3339)
					if f.ExpiresAt.Before(time.Now()) {
						expires += " (stale)"
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					f.TargetID, f.Key, f.Value, f.UpdatedAt.Local().Format(time.RFC3339), expires)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of facts")

	return cmd
}

func newFactsPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := appFrom(cmd).openStore(cmd.Context())
			if err != nil {
				return err
			}
			n, err := store.DeleteExpiredFacts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d expired facts deleted\n", n)
			return nil
		},
	}
}
