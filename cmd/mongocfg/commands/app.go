package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mongocfg/pkg/config"
	"github.com/openfroyo/mongocfg/pkg/engine"
	"github.com/openfroyo/mongocfg/pkg/policy"
	"github.com/openfroyo/mongocfg/pkg/settings"
	"github.com/openfroyo/mongocfg/pkg/stores"
	"github.com/openfroyo/mongocfg/pkg/telemetry"
	sshtransport "github.com/openfroyo/mongocfg/pkg/transports/ssh"
)

// app holds what commands share for one invocation.
type app struct {
	version  string
	settings *settings.Settings
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	store    *stores.SQLiteStore
}

type appKey struct{}

func withApp(ctx context.Context, a *app) context.Context {
	return context.WithValue(ctx, appKey{}, a)
}

func appFrom(cmd *cobra.Command) *app {
	if a, ok := cmd.Context().Value(appKey{}).(*app); ok {
		return a
	}
	return &app{}
}

// setup loads settings and starts telemetry.
func (a *app) setup(cmd *cobra.Command) error {
	s, err := settings.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		s.Store.Path = dbPath
	}
	if verbose {
		s.Telemetry.Logging.Level = "debug"
	}
	if a.version != "" {
		s.Telemetry.ServiceVersion = a.version
	}

	tel, err := telemetry.NewTelemetry(&s.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	// The global level gates every logger; settings may only lower it.
	if lvl := telemetry.ParseLevel(s.Telemetry.Logging.Level); lvl < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx := tel.WithContext(cmd.Context())
	if err := tel.Metrics.StartMetricsServer(ctx); err != nil {
		return err
	}
	cmd.SetContext(ctx)

	a.settings = s
	a.tel = tel
	a.logger = tel.Logger.Zerolog()
	return nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tel.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush telemetry")
		}
	}
}

// openStore opens and migrates the state database on first use.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	path := a.settings.Store.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.HealthCheck(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("store %s is unhealthy: %w", path, err)
	}

	log.Debug().Str("path", path).Msg("Store opened")
	a.store = store
	return store, nil
}

func (a *app) generator() *engine.Generator {
	return engine.NewGenerator(
		engine.WithLogger(a.tel.Logger.Component("engine")),
		engine.WithMetrics(a.tel.Metrics),
		engine.WithTracer(a.tel.Tracer.Tracer()),
	)
}

// policyEngine returns an engine with the configured policies loaded and
// disabled built-ins turned off.
func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	eng.SetMetrics(a.tel.Metrics)

	if len(a.settings.Policy.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, a.settings.Policy.Paths); err != nil {
			return nil, err
		}
	}
	if err := a.applyDisabled(eng); err != nil {
		return nil, err
	}
	return eng, nil
}

func (a *app) applyDisabled(eng *policy.Engine) error {
	for _, name := range a.settings.Policy.Disabled {
		if err := eng.DisablePolicy(name); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
	}
	return nil
}

func (a *app) actor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "mongocfg"
}

// factsFlags select where platform facts come from.
type factsFlags struct {
	source   string
	arch     string
	osFamily string
	host     string
	sshUser  string
	sshKey   string
	sshPort  int
	insecure bool
}

func (f *factsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "facts", "", "facts source: local, stored or remote (default from settings)")
	cmd.Flags().StringVar(&f.arch, "arch", "", "override the architecture fact")
	cmd.Flags().StringVar(&f.osFamily, "os-family", "", "override the OS family fact")
	f.registerRemote(cmd)
}

func (f *factsFlags) registerRemote(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "read facts from this host over SSH")
	cmd.Flags().StringVar(&f.sshUser, "ssh-user", "", "SSH user (default from settings)")
	cmd.Flags().StringVar(&f.sshKey, "ssh-key", "", "SSH private key path")
	cmd.Flags().IntVar(&f.sshPort, "ssh-port", 0, "SSH port (default from settings)")
	cmd.Flags().BoolVar(&f.insecure, "insecure-host-key", false, "skip host key verification")
}

// effectiveSource picks the facts source. A host without an explicit
// source means remote.
func (f *factsFlags) effectiveSource(defaultSource string) string {
	switch {
	case f.source != "":
		return f.source
	case f.host != "":
		return "remote"
	default:
		return defaultSource
	}
}

// factsProvider returns the facts provider for source. The returned
// cleanup must be called once the facts have been read.
func (a *app) factsProvider(ctx context.Context, f *factsFlags, source, target string) (engine.Facts, func(), error) {
	noop := func() {}

	switch source {
	case "local":
		return engine.LocalFacts{OSReleasePath: a.settings.Facts.OSReleasePath}, noop, nil

	case "stored":
		store, err := a.openStore(ctx)
		if err != nil {
			return nil, noop, err
		}
		return engine.StoredFacts{Store: store, TargetID: target}, noop, nil

	case "remote":
		if f.host == "" {
			return nil, noop, errors.New("remote facts need --host")
		}
		client, err := a.sshClient(f)
		if err != nil {
			return nil, noop, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, noop, err
		}
		cleanup := func() {
			if err := client.Disconnect(); err != nil {
				log.Debug().Err(err).Msg("SSH disconnect failed")
			}
		}
		return engine.RemoteFacts{Runner: client}, cleanup, nil

	default:
		return nil, noop, fmt.Errorf("unknown facts source %q", source)
	}
}

func (a *app) sshClient(f *factsFlags) (*sshtransport.SSHClient, error) {
	s := a.settings.SSH

	username := s.User
	if f.sshUser != "" {
		username = f.sshUser
	}

	cfg := sshtransport.DefaultConfig(f.host, username)
	cfg.Port = s.Port
	if f.sshPort != 0 {
		cfg.Port = f.sshPort
	}
	cfg.PrivateKeyPath = s.KeyPath
	if f.sshKey != "" {
		cfg.PrivateKeyPath = f.sshKey
	}
	if s.KnownHostsPath != "" {
		cfg.KnownHostsPath = s.KnownHostsPath
	}
	cfg.StrictHostKeyChecking = s.StrictHostKeyChecking && !f.insecure
	cfg.ConnectionTimeout = s.Timeout

	return sshtransport.NewSSHClient(cfg)
}

// platformFacts reads facts for target, applying --arch and --os-family.
// When both are given nothing is collected.
func (a *app) platformFacts(ctx context.Context, f *factsFlags, target string) (engine.PlatformFacts, error) {
	if f.arch != "" && f.osFamily != "" {
		return engine.PlatformFacts{Architecture: f.arch, OSFamily: f.osFamily}, nil
	}

	source := f.effectiveSource(a.settings.Facts.Source)
	provider, cleanup, err := a.factsProvider(ctx, f, source, target)
	if err != nil {
		a.tel.Metrics.RecordFactsCollected(source, err)
		return engine.PlatformFacts{}, err
	}
	defer cleanup()

	pf, err := engine.Snapshot(ctx, provider)
	a.tel.Metrics.RecordFactsCollected(source, err)
	if err != nil {
		return engine.PlatformFacts{}, err
	}

	if f.arch != "" {
		pf.Architecture = f.arch
	}
	if f.osFamily != "" {
		pf.OSFamily = f.osFamily
	}

	log.Debug().
		Str("source", source).
		Str("target", target).
		Str("architecture", pf.Architecture).
		Str("os_family", pf.OSFamily).
		Msg("Platform facts")

	return pf, nil
}

// sourceFlags select where parameters come from.
type sourceFlags struct {
	script string
	target string
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.script, "script", "", "Starlark parameter script")
	cmd.Flags().StringVar(&s.target, "target", "", "target name (default from parameters, then --host)")
}

// loaded is a parameter input with the facts it resolves against.
type loaded struct {
	Target  string
	Input   engine.Input
	Facts   engine.PlatformFacts
	Sources []string
}

// load parses parameters and reads facts. Scripts need facts first, so
// their target can only come from flags. Without files or a script every
// parameter takes its default.
func (a *app) load(ctx context.Context, files []string, src *sourceFlags, f *factsFlags) (*loaded, error) {
	parser := config.NewParser(a.logger)

	pick := func(candidates ...string) string {
		for _, c := range candidates {
			if c != "" {
				return c
			}
		}
		return "localhost"
	}

	if src.script != "" {
		if len(files) > 0 {
			return nil, errors.New("parameter files and --script are mutually exclusive")
		}
		target := pick(src.target, f.host)
		pf, err := a.platformFacts(ctx, f, target)
		if err != nil {
			return nil, err
		}
		parsed, err := parser.ParseScript(ctx, src.script, pf)
		if err != nil {
			return nil, err
		}
		if parsed.HasErrors() {
			return nil, fmt.Errorf("invalid parameters: %w", parsed.Err())
		}
		return &loaded{
			Target:  pick(src.target, parsed.Target, f.host),
			Input:   parsed.Input,
			Facts:   pf,
			Sources: parsed.SourceFiles,
		}, nil
	}

	var parsed *config.ParsedParameters
	if len(files) > 0 {
		var err error
		parsed, err = parser.Parse(ctx, files)
		if err != nil {
			return nil, err
		}
		if parsed.HasErrors() {
			return nil, fmt.Errorf("invalid parameters: %w", parsed.Err())
		}
	} else {
		parsed = &config.ParsedParameters{}
	}

	target := pick(src.target, parsed.Target, f.host)
	pf, err := a.platformFacts(ctx, f, target)
	if err != nil {
		return nil, err
	}

	return &loaded{
		Target:  target,
		Input:   parsed.Input,
		Facts:   pf,
		Sources: parsed.SourceFiles,
	}, nil
}

// generate runs the generator on l inside an instrumented operation.
func (a *app) generate(ctx context.Context, op string, l *loaded) (*engine.Artifacts, error) {
	ic := telemetry.StartOperation(ctx, op, telemetry.AttrTarget.String(l.Target))
	artifacts, err := a.generator().Generate(ic.Ctx, l.Input, engine.StaticFacts{
		Arch:   l.Facts.Architecture,
		Family: l.Facts.OSFamily,
	})
	if artifacts != nil {
		ic.SetAttributes(telemetry.AttrEnsure.String(string(artifacts.Parameters.Ensure)))
	}
	if code := engine.ConflictCode(err); code != "" {
		ic.SetAttributes(telemetry.AttrConflictCode.String(code))
	}
	ic.End(err)

	logger := ic.Logger.Zerolog()
	logger.Debug().Dur("elapsed", ic.Elapsed()).Bool("ok", err == nil).Msg("Operation finished")
	return artifacts, err
}
