package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mongocfg/pkg/engine"
	"github.com/openfroyo/mongocfg/pkg/history"
)

type renderOptions struct {
	src         sourceFlags
	facts       factsFlags
	format      string
	outDir      string
	record      bool
	backup      bool
	showSecrets bool
}

func newRenderCommand() *cobra.Command {
	opts := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render [files...]",
		Short: "Render mongod.conf and related artifacts",
		Long: `Resolve parameters against platform facts, validate them and render the
artifacts.

Parameter files may be CUE, YAML or JSON and are unified; directories are
read non-recursively. Without files every parameter takes its default.
Text output prints the configuration file; json and yaml print every
artifact with the credentials file redacted.`,
		Example: `  # Render defaults for this machine
  mongocfg render

  # Render for a 32-bit Debian host without collecting facts
  mongocfg render params.yaml --arch i686 --os-family Debian

  # Read facts over SSH and record the result
  mongocfg render params.cue --host db1.example.com --record

  # Write every file under ./out
  mongocfg render params/ --out-dir out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args, opts)
		},
	}

	opts.src.register(cmd)
	opts.facts.register(cmd)
	cmd.Flags().StringVarP(&opts.format, "format", "o", formatText, "output format: text, json or yaml")
	cmd.Flags().StringVar(&opts.outDir, "out-dir", "", "write artifact files under this directory")
	cmd.Flags().BoolVar(&opts.record, "record", false, "record the render in the state database")
	cmd.Flags().BoolVar(&opts.backup, "backup", false, "keep replaced files as <file>.bak under --out-dir")
	cmd.Flags().BoolVar(&opts.showSecrets, "show-secrets", false, "include credentials in json and yaml output")

	return cmd
}

func runRender(cmd *cobra.Command, args []string, opts *renderOptions) error {
	ctx := cmd.Context()
	a := appFrom(cmd)

	format, err := outputFormat(opts.format)
	if err != nil {
		return err
	}

	l, err := a.load(ctx, args, &opts.src, &opts.facts)
	if err != nil {
		return err
	}

	artifacts, err := a.generate(ctx, "render", l)
	if err != nil {
		return err
	}
	if opts.record {
		if err := a.record(cmd, l, artifacts); err != nil {
			return err
		}
	}

	if opts.outDir != "" {
		return a.writeFiles(ctx, opts.outDir, opts.backup, artifacts)
	}

	return writeArtifacts(cmd.OutOrStdout(), format, artifacts, opts.showSecrets)
}

// record stores the render and logs whether the configuration changed.
func (a *app) record(cmd *cobra.Command, l *loaded, artifacts *engine.Artifacts) error {
	store, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}

	entry, err := history.NewRecorder(store, a.actor(), a.tel.Logger.ForTarget(l.Target)).Record(cmd.Context(), l.Target, l.Input, artifacts)
	if err != nil {
		return err
	}

	log.Info().
		Str("render_id", entry.Render.ID).
		Str("target", l.Target).
		Bool("changed", entry.Changed).
		Msg("Render recorded")
	return nil
}
