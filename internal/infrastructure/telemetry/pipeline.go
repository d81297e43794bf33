package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// PipelineConfig selects which signals go to the collector. All signals
// share one endpoint and one service resource.
type PipelineConfig struct {
	Endpoint    string
	Insecure    bool
	ServiceName string

	Traces        bool
	SamplingRatio float64 // applied to root spans; children follow their parent

	Metrics         bool
	MetricsInterval time.Duration // default 1m

	Logs bool
}

func (c PipelineConfig) any() bool { return c.Traces || c.Metrics || c.Logs }

// Pipeline owns the SDK providers it started and registers them as the
// otel globals. Signals that are off fall back to the global no-ops.
type Pipeline struct {
	logger      *zap.Logger
	serviceName string

	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	logs    *sdklog.LoggerProvider
}

// StartPipeline starts an exporter per enabled signal. On error nothing
// stays running.
func StartPipeline(ctx context.Context, cfg PipelineConfig, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{logger: logger, serviceName: cfg.ServiceName}
	if !cfg.any() {
		logger.Info("telemetry export disabled")
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	starts := []struct {
		on    bool
		start func(context.Context, PipelineConfig, *resource.Resource) error
	}{
		{cfg.Traces, p.startTraces},
		{cfg.Metrics, p.startMetrics},
		{cfg.Logs, p.startLogs},
	}
	for _, s := range starts {
		if !s.on {
			continue
		}
		if err := s.start(ctx, cfg, res); err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
	}

	logger.Info("telemetry pipeline started",
		zap.String("collector_endpoint", cfg.Endpoint),
		zap.Bool("traces", cfg.Traces),
		zap.Float64("sampling_ratio", cfg.SamplingRatio),
		zap.Bool("metrics", cfg.Metrics),
		zap.Bool("logs", cfg.Logs),
	)
	return p, nil
}

func (p *Pipeline) startTraces(ctx context.Context, cfg PipelineConfig, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}
	// TraceIDRatioBased already treats >=1 as always and <=0 as never
	p.traces = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
	)
	otel.SetTracerProvider(p.traces)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return nil
}

func (p *Pipeline) startMetrics(ctx context.Context, cfg PipelineConfig, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("metric exporter: %w", err)
	}
	interval := cfg.MetricsInterval
	if interval <= 0 {
		interval = time.Minute
	}
	p.metrics = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(p.metrics)
	return nil
}

func (p *Pipeline) startLogs(ctx context.Context, cfg PipelineConfig, res *resource.Resource) error {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exp, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("log exporter: %w", err)
	}
	p.logs = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
	)
	global.SetLoggerProvider(p.logs)
	return nil
}

func (p *Pipeline) TracesEnabled() bool  { return p.traces != nil }
func (p *Pipeline) MetricsEnabled() bool { return p.metrics != nil }
func (p *Pipeline) LogsEnabled() bool    { return p.logs != nil }

// Meter returns a meter from the pipeline, or from the global provider
// when metrics are off.
func (p *Pipeline) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if p.metrics == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return p.metrics.Meter(name, opts...)
}

// LogCore forwards entries at or above level to the collector. It is a
// no-op core when logs are off.
func (p *Pipeline) LogCore(level zapcore.LevelEnabler) zapcore.Core {
	if p.logs == nil {
		return zapcore.NewNopCore()
	}
	return &minLevelCore{
		Core: otelzap.NewCore(p.serviceName, otelzap.WithLoggerProvider(p.logs)),
		min:  level,
	}
}

// Bridge tees base into the collector at base's own level.
func (p *Pipeline) Bridge(base *zap.Logger) *zap.Logger {
	if p.logs == nil {
		return base
	}
	remote := p.LogCore(base.Level())
	return base.WithOptions(zap.WrapCore(func(local zapcore.Core) zapcore.Core {
		return zapcore.NewTee(local, remote)
	}))
}

// EnableSpanProfiles labels profiler samples with the active span id so
// profiles can be opened from a trace. Needs a running profiler to matter.
func (p *Pipeline) EnableSpanProfiles() bool {
	if p.traces == nil {
		return false
	}
	otel.SetTracerProvider(otelpyroscope.NewTracerProvider(p.traces))
	p.logger.Info("span profiles enabled")
	return true
}

// Shutdown flushes and stops every started signal, within 10s overall.
// Later calls return nil.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if p.traces != nil {
		errs = append(errs, wrapShutdown("traces", p.traces.Shutdown(ctx)))
		p.traces = nil
	}
	if p.metrics != nil {
		errs = append(errs, wrapShutdown("metrics", p.metrics.Shutdown(ctx)))
		p.metrics = nil
	}
	if p.logs != nil {
		errs = append(errs, wrapShutdown("logs", p.logs.Shutdown(ctx)))
		p.logs = nil
	}
	return errors.Join(errs...)
}

func wrapShutdown(signal string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("shutdown %s: %w", signal, err)
}

// minLevelCore gives the otelzap core, which exports every level, a floor.
type minLevelCore struct {
	zapcore.Core
	min zapcore.LevelEnabler
}

func (c *minLevelCore) Enabled(l zapcore.Level) bool {
	return c.min.Enabled(l) && c.Core.Enabled(l)
}

func (c *minLevelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.min.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *minLevelCore) With(fields []zapcore.Field) zapcore.Core {
	return &minLevelCore{Core: c.Core.With(fields), min: c.min}
}
