package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/haasonsaas/quill"

// Tracer starts the spans quill emits: one per generate call, per model
// call, per tool execution and per scheduled task run.
//
// A nil *Tracer is valid and yields non-recording spans.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// TraceConfig selects the OTLP collector spans are exported to.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is an OTLP/gRPC address such as "localhost:4317". Empty
	// disables export.
	Endpoint string
	// SamplingRate is the fraction of root spans kept; child spans follow
	// their parent.
	SamplingRate float64
	Insecure     bool
}

// NewTracer installs a global tracer provider exporting to cfg.Endpoint.
// With no endpoint it returns a tracer backed by the global no-op provider.
func NewTracer(ctx context.Context, cfg TraceConfig) (*Tracer, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "quill"
	}
	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(instrumentationName)}, nil
	}

	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Tracer{tracer: provider.Tracer(instrumentationName), provider: provider}, nil
}

// Shutdown flushes buffered spans. It is a no-op when nothing is exported.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func (t *Tracer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// TraceGenerate starts the root span of a generate call.
func (t *Tracer) TraceGenerate(ctx context.Context, turns, tools int) (context.Context, trace.Span) {
	return t.start(ctx, "agent.generate", trace.SpanKindInternal,
		attribute.Int("agent.turns", turns),
		attribute.Int("agent.tools", tools),
	)
}

// TraceLLMRequest starts a span for one model call. phase is "initial" or
// "continuation".
func (t *Tracer) TraceLLMRequest(ctx context.Context, provider, phase string) (context.Context, trace.Span) {
	return t.start(ctx, "llm."+provider, trace.SpanKindClient,
		attribute.String("llm.provider", provider),
		attribute.String("llm.phase", phase),
	)
}

func (t *Tracer) TraceToolExecution(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.start(ctx, "tool."+toolName, trace.SpanKindInternal,
		attribute.String("tool.name", toolName),
	)
}

// TraceMessage starts the span for handling one inbound Discord message.
// guildID is empty for direct messages.
func (t *Tracer) TraceMessage(ctx context.Context, guildID, channelID string) (context.Context, trace.Span) {
	return t.start(ctx, "discord.message", trace.SpanKindServer,
		attribute.String("discord.guild_id", guildID),
		attribute.String("discord.channel_id", channelID),
	)
}

func (t *Tracer) TraceScheduledTask(ctx context.Context, taskID, taskType string) (context.Context, trace.Span) {
	return t.start(ctx, "scheduler.run", trace.SpanKindInternal,
		attribute.String("task.id", taskID),
		attribute.String("task.type", taskType),
	)
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// traceID returns the active trace ID in ctx, or "".
func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
