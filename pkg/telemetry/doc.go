// Package telemetry provides logging, tracing and metrics for mongocfg.
//
// Logging uses zerolog, tracing uses OpenTelemetry with stdout or OTLP
// gRPC exporters, and metrics are Prometheus collectors on a private
// registry. A Telemetry value bundles the three:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	gen := engine.NewGenerator(
//	    engine.WithLogger(tel.Logger.Component("engine")),
//	    engine.WithMetrics(tel.Metrics),
//	    engine.WithTracer(tel.Tracer.Tracer()),
//	)
//
// Metrics implements engine.MetricsRecorder. When tracing is enabled the
// tracer provider is installed globally, so spans started by packages
// through otel.Tracer are exported as well.
//
// StartOperation wraps a unit of work in a span and an operation-scoped
// logger:
//
//	op := telemetry.StartOperation(ctx, "render", telemetry.AttrTarget.String(host))
//	defer func() { op.End(err) }()
package telemetry
