package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/mongocfg/pkg/engine"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded renders",
		Long: `Inspect renders recorded with render --record or watch --record.

Recorded artifacts never contain the credentials file content.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryAuditCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var (
		target string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded renders, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := appFrom(cmd).openStore(ctx)
			if err != nil {
				return err
			}

			var filter *string
			if target != "" {
				filter = &target
			}
			renders, err := store.ListRenders(ctx, filter, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), renders)
			}
			if len(renders) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no renders recorded")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTARGET\tENSURE\tCONFIG\tOVERRIDES\tCREATED")
			for _, r := range renders {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.Target, r.Ensure, shortHash(r.ConfigHash), r.Overrides,
					r.CreatedAt.Local().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "filter by target")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of renders")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recorded render",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := appFrom(cmd).openStore(ctx)
			if err != nil {
				return err
			}

			f, err := outputFormat(format)
			if err != nil {
				return err
			}

			render, err := store.GetRender(ctx, args[0])
			if err != nil {
				return err
			}

			var artifacts engine.Artifacts
			if err := json.Unmarshal([]byte(render.Artifacts), &artifacts); err != nil {
				return fmt.Errorf("render %s has unreadable artifacts: %w", render.ID, err)
			}

			if f == formatText {
				fmt.Fprintf(cmd.OutOrStdout(), "# render %s for %s at %s\n",
					render.ID, render.Target, render.CreatedAt.Local().Format(time.RFC3339))
			}
			return writeArtifacts(cmd.OutOrStdout(), f, &artifacts, true)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", formatText, "output format: text, json or yaml")

	return cmd
}

func newHistoryAuditCommand() *cobra.Command {
	var (
		action string
		actor  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := appFrom(cmd).openStore(ctx)
			if err != nil {
				return err
			}

			var actionFilter, actorFilter *string
			if action != "" {
				actionFilter = &action
			}
			if actor != "" {
				actorFilter = &actor
			}
			entries, err := store.ListAuditEntries(ctx, actionFilter, actorFilter, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tACTOR\tRENDER\tDETAILS")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format(time.RFC3339), e.Action, e.Actor, deref(e.TargetID), deref(e.Details))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "filter by action, e.g. render.recorded")
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")

	return cmd
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
