package telemetry

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the telemetry section of the settings file.
type Config struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	ServiceVersion string `yaml:"service_version" validate:"required"`

	// Environment is attached to every span, e.g. "production".
	Environment string `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`

	// ResourceAttributes are added to the trace resource.
	ResourceAttributes map[string]string `yaml:"resource_attributes,omitempty"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output"`

	EnableCaller bool   `yaml:"enable_caller"`
	TimeFormat   string `yaml:"time_format" validate:"omitempty,oneof=unix unixms rfc3339"`
}

// TracingConfig configures span export. Spans are no-ops unless Enabled.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"oneof=otlp stdout none"`

	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint" validate:"required_if=Exporter otlp"`

	SamplingRate       float64           `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MaxExportBatchSize int               `yaml:"max_export_batch_size" validate:"gte=0"`
	ExportTimeout      time.Duration     `yaml:"export_timeout" validate:"gte=0"`
	Headers            map[string]string `yaml:"headers,omitempty"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// ListenAddress serves Path over HTTP while a command runs. Empty means
	// metrics are collected but not served.
	ListenAddress string `yaml:"listen_address"`
	Path          string `yaml:"path" validate:"required_with=ListenAddress"`
	Namespace     string `yaml:"namespace"`

	// DefaultHistogramBuckets are the duration buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"histogram_buckets,omitempty"`
}

// Profile names accepted by ConfigForProfile.
const (
	ProfileDefault     = "default"
	ProfileDevelopment = "development"
	ProfileProduction  = "production"
)

// DefaultConfig is console logging on stderr with tracing off and metrics
// collected but not served.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "mongocfg",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			Path:                    "/metrics",
			Namespace:               "mongocfg",
			DefaultHistogramBuckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		ResourceAttributes: map[string]string{},
	}
}

// ConfigForProfile returns the starting configuration for a named profile.
//
//	development  debug logs with caller, pretty spans on stderr
//	production   JSON logs, OTLP spans to localhost:4317 sampled at 10%
func ConfigForProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	switch name {
	case "", ProfileDefault:
	case ProfileDevelopment:
		cfg.Logging.Level = "debug"
		cfg.Logging.EnableCaller = true
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "stdout"
	case ProfileProduction:
		cfg.Environment = "production"
		cfg.Logging.Format = "json"
		cfg.Logging.TimeFormat = "unix"
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "otlp"
		cfg.Tracing.Endpoint = "localhost:4317"
		cfg.Tracing.SamplingRate = 0.1
		cfg.Tracing.Insecure = false
	default:
		return nil, fmt.Errorf("unknown telemetry profile %q", name)
	}
	return cfg, nil
}

var validate = newValidator()

// newValidator reports fields by their yaml names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports every invalid field, e.g.
// "tracing.endpoint: required when exporter is otlp".
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		msgs = append(msgs, fmt.Errorf("%s: %s", field, describe(fe)))
	}
	return errors.Join(msgs...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "required when exporter is otlp"
	case "required_with":
		return "required when listen_address is set"
	case "oneof":
		return fmt.Sprintf("%v is not one of [%s]", fe.Value(), fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%v is out of range", fe.Value())
	}
	return fmt.Sprintf("failed %q constraint", fe.Tag())
}
