package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/model-forge/model-forge/internal/config"
)

const (
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"

	DefaultServiceName = "model-forge"
	TracerName         = "github.com/model-forge/model-forge/internal/pipeline"
)

type ShutdownFunc func(ctx context.Context) error

// Provider bundles the tracer and event emitter of one process
type Provider struct {
	Tracer trace.Tracer
	Events *Events

	shutdown []ShutdownFunc
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, p.shutdown[i](ctx))
	}
	return errors.Join(errs...)
}

// Disabled returns a provider whose spans and events go nowhere.
func Disabled() *Provider {
	return &Provider{
		Tracer: noop.NewTracerProvider().Tracer(TracerName),
		Events: DisabledEvents(),
	}
}

// NewProvider sets up the global tracer provider from the tracing section. The
// stdout exporter writes to w so the report on stdout stays readable.
func NewProvider(ctx context.Context, conf *config.TracingConfig, w io.Writer, logger *slog.Logger) (*Provider, error) {
	if conf == nil || !conf.Enabled {
		return Disabled(), nil
	}
	if w == nil {
		w = os.Stderr
	}

	serviceName := conf.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	exporter, err := newExporter(ctx, conf, w)
	if err != nil {
		return nil, err
	}

	sampleRatio := conf.SampleRatio
	if sampleRatio <= 0 || sampleRatio > 1 {
		sampleRatio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	provider := &Provider{
		Tracer:   tp.Tracer(TracerName),
		Events:   DisabledEvents(),
		shutdown: []ShutdownFunc{tp.Shutdown},
	}

	if conf.Events {
		events, shutdown, err := NewEvents(w, res)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, err
		}
		provider.Events = events
		provider.shutdown = append(provider.shutdown, shutdown)
	}

	logger.Info("Tracing enabled", "exporter", conf.Exporter, "endpoint", conf.Endpoint, "sample_ratio", sampleRatio)
	return provider, nil
}

func newExporter(ctx context.Context, conf *config.TracingConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch conf.Exporter {
	case "", ExporterStdout:
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{}
		if conf.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(conf.Endpoint))
		}
		if conf.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{}
		if conf.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(conf.Endpoint))
		}
		if conf.Insecure {
			opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", conf.Exporter)
	}
}
