// Package traces wires OpenTelemetry tracing into the oracle. Spans
// cover the scoring pipeline and oracle update path; the attribute
// helpers keep span decoration consistent across packages.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/trustgrid/oracle"

// Init sets the global tracer provider, exporting over OTLP gRPC to
// otlpEndpoint. An empty endpoint leaves tracing disabled. The returned
// shutdown function flushes pending spans; call it on server stop.
func Init(ctx context.Context, otlpEndpoint string, logger *slog.Logger) (func(context.Context) error, error) {
	if otlpEndpoint == "" {
		logger.Info("tracing disabled (no OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("trustgrid-oracle"),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", otlpEndpoint)
	return tp.Shutdown, nil
}

// StartSpan opens a span named name with the given attributes. The
// caller must End it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// Span attribute helpers.

func Account(addr string) attribute.KeyValue {
	return attribute.String("account.addr", addr)
}

func Score(score int) attribute.KeyValue {
	return attribute.Int("trust.score", score)
}

func Nonce(nonce uint64) attribute.KeyValue {
	return attribute.Int64("oracle.nonce", int64(nonce))
}

func SourceTag(tag string) attribute.KeyValue {
	return attribute.String("oracle.source_tag", tag)
}

func UpdateResult(result string) attribute.KeyValue {
	return attribute.String("oracle.update_result", result)
}
