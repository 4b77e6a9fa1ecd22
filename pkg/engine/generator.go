package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Artifacts is everything produced for one parameter set.
type Artifacts struct {
	Config       FileState     `json:"config" yaml:"config"`
	Credentials  FileState     `json:"credentials" yaml:"credentials"`
	DBPathDir    FileState     `json:"dbpath_dir" yaml:"dbpath_dir"`
	PidFile      *FileState    `json:"pid_file,omitempty" yaml:"pid_file,omitempty"`
	LogFile      *FileState    `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	RepairAction *ExecAction   `json:"repair_action,omitempty" yaml:"repair_action,omitempty"`
	Overrides    []Override    `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	Parameters   *ParameterSet `json:"parameters" yaml:"parameters"`
}

// Files returns every file state in a fixed order.
func (a *Artifacts) Files() []FileState {
	files := []FileState{a.Config, a.DBPathDir}
	if a.PidFile != nil {
		files = append(files, *a.PidFile)
	}
	if a.LogFile != nil {
		files = append(files, *a.LogFile)
	}
	return append(files, a.Credentials)
}

// Nodes converts the artifacts into graph nodes.
func (a *Artifacts) Nodes() []Node {
	var nodes []Node
	for _, f := range a.Files() {
		nodes = append(nodes, Node{ID: f.Ref(), Kind: "file", Ensure: string(f.Ensure), Dependencies: f.Deps})
	}
	if a.RepairAction != nil {
		nodes = append(nodes, Node{
			ID:           a.RepairAction.Ref(),
			Kind:         "exec",
			Ensure:       "run",
			Dependencies: a.RepairAction.Deps,
		})
	}
	return nodes
}

// Graph orders the artifacts.
func (a *Artifacts) Graph() (*ExecutionGraph, error) {
	return BuildGraph(a.Nodes())
}

// MetricsRecorder receives generation outcomes.
type MetricsRecorder interface {
	RecordGenerate(status string, ensure string, duration time.Duration)
	RecordConflict(code string)
	RecordOverride(field string)
}

// Generator runs resolve, validate and produce. It holds no per-call state
// and is safe for concurrent use.
type Generator struct {
	logger   zerolog.Logger
	resolver *Resolver
	metrics  MetricsRecorder
	tracer   trace.Tracer
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the generator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithTracer sets the tracer used for generation spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Generator) { g.tracer = t }
}

// NewGenerator creates a generator. Without options it logs nothing and
// uses the global tracer provider.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer("github.com/openfroyo/mongocfg/pkg/engine")
	}
	g.resolver = NewResolver(g.logger)
	return g
}

// Generate checks the input contract, resolves it against facts, validates
// the result and builds every artifact. On error no artifacts are returned.
func (g *Generator) Generate(ctx context.Context, in Input, facts Facts) (*Artifacts, error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "mongocfg.generate")
	defer span.End()

	if err := ValidateInput(in); err != nil {
		g.fail(span, "invalid", "", start, err)
		return nil, err
	}

	_, resolveSpan := g.tracer.Start(ctx, "mongocfg.resolve")
	p, err := g.resolver.Resolve(ctx, in, facts)
	resolveSpan.End()
	if err != nil {
		g.fail(span, "facts_error", "", start, err)
		return nil, err
	}

	a, err := g.Produce(ctx, p)
	if err != nil {
		g.fail(span, "conflict", string(p.Ensure), start, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("mongocfg.ensure", string(p.Ensure)),
		attribute.String("mongocfg.architecture", p.Architecture),
		attribute.Int("mongocfg.overrides", len(p.Overrides)),
	)
	span.SetStatus(codes.Ok, "")
	if g.metrics != nil {
		g.metrics.RecordGenerate("success", string(p.Ensure), time.Since(start))
	}

	g.logger.Info().
		Str("ensure", string(p.Ensure)).
		Str("config", p.ConfigPath).
		Bool("credentials", a.Credentials.Present()).
		Bool("repair_action", a.RepairAction != nil).
		Dur("duration", time.Since(start)).
		Msg("Generated artifacts")

	return a, nil
}

// Produce validates an already resolved parameter set and builds the artifacts.
func (g *Generator) Produce(ctx context.Context, p *ParameterSet) (*Artifacts, error) {
	_, span := g.tracer.Start(ctx, "mongocfg.validate")
	err := Validate(p)
	span.End()
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordConflict(ConflictCode(err))
		}
		g.logger.Error().Err(err).Msg("Configuration conflict")
		return nil, err
	}

	if g.metrics != nil {
		for _, o := range p.Overrides {
			g.metrics.RecordOverride(o.Field)
		}
	}

	_, span = g.tracer.Start(ctx, "mongocfg.render")
	defer span.End()

	return &Artifacts{
		Config:       Render(p),
		Credentials:  BuildCredentials(p),
		DBPathDir:    BuildDBPathDir(p),
		PidFile:      BuildPidFile(p),
		LogFile:      BuildLogFile(p),
		RepairAction: BuildRepairAction(p),
		Overrides:    p.Overrides,
		Parameters:   p,
	}, nil
}

func (g *Generator) fail(span trace.Span, status, ensure string, start time.Time, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if g.metrics != nil {
		g.metrics.RecordGenerate(status, ensure, time.Since(start))
	}
}
