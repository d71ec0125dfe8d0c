// Package telemetry installs the process-wide OpenTelemetry tracer provider
// and offers HTTP instrumentation helpers.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
)

// DefaultServiceName is reported when Config.ServiceName is blank.
const DefaultServiceName = "fstorage"

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Config selects the exporter and sampler. Env tags are relative; the
// enclosing config supplies the OTEL prefix.
type Config struct {
	ServiceName    string `json:"service_name" yaml:"service_name" env:"SERVICE_NAME" envDefault:"fstorage"`
	ServiceVersion string `json:"service_version,omitempty" yaml:"service_version" env:"SERVICE_VERSION"`

	// Endpoint is host:port of an OTLP/HTTP collector. Empty disables export.
	Endpoint string        `json:"endpoint,omitempty" yaml:"endpoint" env:"EXPORTER_OTLP_ENDPOINT"`
	Headers  string        `json:"-" yaml:"-" env:"EXPORTER_OTLP_HEADERS"`
	Insecure bool          `json:"insecure,omitempty" yaml:"insecure" env:"EXPORTER_OTLP_INSECURE"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout" env:"EXPORTER_OTLP_TIMEOUT" envDefault:"5s"`

	// Required makes exporter construction errors fatal.
	Required bool `json:"required,omitempty" yaml:"required" env:"REQUIRED"`

	Sampler    string `json:"sampler,omitempty" yaml:"sampler" env:"TRACES_SAMPLER"`
	SamplerArg string `json:"sampler_arg,omitempty" yaml:"sampler_arg" env:"TRACES_SAMPLER_ARG"`
}

// Validate rejects endpoints given as URLs and negative timeouts.
func (c *Config) Validate() error {
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("telemetry: exporter endpoint must be host:port, got %q", c.Endpoint)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("telemetry: exporter timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// Init installs a global tracer provider and the W3C trace-context
// propagator. Without an endpoint spans are sampled but not exported. An
// exporter error is returned only when cfg.Required is set; otherwise it is
// logged and tracing continues without export.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = DefaultServiceName
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(name))}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	res, err := resource.New(ctx, append(attrs, resource.WithSchemaURL(semconv.SchemaURL))...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(parseSampler(cfg.Sampler, cfg.SamplerArg)),
	}

	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		exporter, err := newExporter(ctx, endpoint, cfg)
		switch {
		case err != nil && cfg.Required:
			return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
		case err != nil:
			logger.WarnContext(ctx, "telemetry: OTLP exporter disabled", "endpoint", endpoint, "error", err)
		default:
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, endpoint string, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(cfg.Timeout))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if headers := parseHeaders(cfg.Headers); len(headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}
	return otlptracehttp.New(ctx, opts...)
}

// parseSampler follows the OTEL_TRACES_SAMPLER names. The ratio is clamped
// to [0, 1] and defaults to 1.
func parseSampler(name, arg string) sdktrace.Sampler {
	ratio := 1.0
	if v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64); err == nil {
		ratio = min(max(v, 0), 1)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(ratio)
	case "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// parseHeaders reads "k1=v1,k2=v2", skipping malformed pairs.
func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

// HTTPMiddleware opens a server span per request. Spans are named
// "METHOD /path".
func HTTPMiddleware(operation string) func(http.Handler) http.Handler {
	if operation = strings.TrimSpace(operation); operation == "" {
		operation = DefaultServiceName
	}
	return otelhttp.NewMiddleware(operation,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
