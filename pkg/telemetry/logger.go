package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the configured root logger. Packages outside telemetry take
// a zerolog.Logger; use Zerolog or Component to hand one out.
type Logger struct {
	zlog zerolog.Logger
}

type loggerContextKey struct{}

// NewLogger opens the configured output. Anything other than stdout or
// stderr is treated as a file path and appended to.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
	}
	return newLogger(out, cfg), nil
}

func newLogger(out io.Writer, cfg LoggingConfig) *Logger {
	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}

	if cfg.Format == "console" {
		tf := time.RFC3339
		if cfg.TimeFormat == "unix" {
			tf = "unix"
		}
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf}
	}

	zctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	return &Logger{zlog: zctx.Logger()}
}

// Zerolog returns the root logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a logger tagged with the component name, e.g.
// "engine" or "policy".
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// ForTarget returns a logger tagged with the render target.
func (l *Logger) ForTarget(target string) zerolog.Logger {
	return l.zlog.With().Str("target", target).Logger()
}

// forOperation tags the operation name and, for sampled spans, the trace
// and span ids.
func (l *Logger) forOperation(operation string, span trace.Span) *Logger {
	zctx := l.zlog.With().Str("operation", operation)
	if sc := span.SpanContext(); sc.IsValid() {
		zctx = zctx.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	return &Logger{zlog: zctx.Logger()}
}

// WithContext stores the logger in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger stored in ctx, or a stderr logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

// ParseLevel maps a level name to zerolog. Unknown names are info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
