// Package observability provides the logging, metrics and tracing used across quill.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts API keys, Discord
// tokens and other secrets, and copies request, guild and channel IDs from the
// record's context into every entry:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	ctx = observability.AddGuildID(ctx, guildID)
//	logger.InfoContext(ctx, "handling message")
//
// # Metrics
//
// Metrics are Prometheus collectors registered against a caller-supplied
// registerer. The orchestration loop records one event per continuation,
// tool round, wrap-up and safety-net call:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordOrchestration(observability.EventToolRound)
//
// # Tracing
//
// NewTracer exports spans over OTLP gRPC when an endpoint is configured and is
// a no-op otherwise. Both *Metrics and *Tracer accept nil receivers.
package observability
