package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mongocfg/pkg/config"
	"github.com/openfroyo/mongocfg/pkg/engine"
	"github.com/openfroyo/mongocfg/pkg/policy"
)

type watchOptions struct {
	src    sourceFlags
	facts  factsFlags
	outDir string
	record bool
}

func newWatchCommand() *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch [files...]",
		Short: "Re-render whenever parameters or policies change",
		Long: `Render once, then watch the parameter files, the script and the
configured policy paths. Each settled change re-renders, re-checks the
policies and, with --out-dir, rewrites the artifact files.

Facts are read once at start. Errors are reported and watching continues
until interrupted.`,
		Example: `  # Keep ./out in sync with params/
  mongocfg watch params/ --out-dir out --record`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.src.script == "" {
				return errors.New("watch needs parameter files or --script")
			}
			return runWatch(cmd, args, opts)
		},
	}

	opts.src.register(cmd)
	opts.facts.register(cmd)
	cmd.Flags().StringVar(&opts.outDir, "out-dir", "", "write artifact files under this directory")
	cmd.Flags().BoolVar(&opts.record, "record", false, "record each render in the state database")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string, opts *watchOptions) error {
	ctx := cmd.Context()
	a := appFrom(cmd)

	// Facts do not change while watching; pin them.
	l, err := a.load(ctx, args, &opts.src, &opts.facts)
	if err != nil {
		return err
	}
	opts.facts.arch = l.Facts.Architecture
	opts.facts.osFamily = l.Facts.OSFamily

	eng, err := a.policyEngine(ctx)
	if err != nil {
		return err
	}

	rerender := func(ctx context.Context, changed string) error {
		if isPolicyChange(changed, a.settings.Policy.Paths) {
			if err := eng.ReloadPolicies(ctx, a.settings.Policy.Paths); err != nil {
				return fmt.Errorf("policy reload: %w", err)
			}
			if err := a.applyDisabled(eng); err != nil {
				return err
			}
			log.Info().Str("file", changed).Msg("Policies reloaded")
		}

		l, err := a.load(ctx, args, &opts.src, &opts.facts)
		if err != nil {
			return err
		}
		return a.renderOnce(cmd, l, eng, opts)
	}

	if err := rerender(ctx, ""); err != nil {
		log.Error().Err(err).Msg("Initial render failed")
	}

	paths := append([]string{}, args...)
	if opts.src.script != "" {
		paths = append(paths, opts.src.script)
	}
	paths = append(paths, a.settings.Policy.Paths...)

	exts := append([]string{".cue", ".yaml", ".yml", ".json"}, policy.Extensions...)
	w, err := config.NewWatcher(a.logger, paths, exts...)
	if err != nil {
		return err
	}
	w.SetDebounce(a.settings.Watch.Debounce)

	return w.Run(ctx, rerender)
}

func (a *app) renderOnce(cmd *cobra.Command, l *loaded, eng *policy.Engine, opts *watchOptions) error {
	ctx := cmd.Context()

	artifacts, err := a.generate(ctx, "watch.render", l)
	if err != nil {
		if engine.IsConfigurationConflict(err) {
			log.Error().Str("code", engine.ConflictCode(err)).Msg(err.Error())
			return nil
		}
		return err
	}
	result, err := eng.EvaluateParameters(ctx, l.Target, artifacts.Parameters)
	if err != nil {
		return err
	}
	for _, v := range result.Violations {
		log.Warn().Str("policy", v.Policy).Str("severity", string(v.Severity)).Msg(v.Message)
	}

	if opts.record {
		if err := a.record(cmd, l, artifacts); err != nil {
			return err
		}
	}

	if opts.outDir != "" {
		return a.writeFiles(ctx, opts.outDir, false, artifacts)
	}

	return writeArtifacts(cmd.OutOrStdout(), formatText, artifacts, false)
}

// isPolicyChange reports whether changed lies under one of the policy paths.
func isPolicyChange(changed string, policyPaths []string) bool {
	if changed == "" {
		return false
	}
	abs, err := filepath.Abs(changed)
	if err != nil {
		return false
	}
	for _, p := range policyPaths {
		pa, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if abs == pa || strings.HasPrefix(abs, pa+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
