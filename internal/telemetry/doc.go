// Package telemetry provides OpenTelemetry instrumentation for stagehand.
//
// It owns the tracer and meter providers, OTLP export (gRPC or
// http/protobuf), and the domain instruments recorded during a run: stage
// durations, paid call and retry counters, lens durations, and finding
// counts.
//
// Telemetry never blocks a run. Initialization failures degrade to no-op
// providers and mark the instance degraded; the pipeline proceeds without
// export.
package telemetry
