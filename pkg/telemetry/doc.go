// Package telemetry groups the observability packages.
//
//   - logging: slog-based structured logging with request ID propagation and
//     API key redaction, optionally rotated through lumberjack.
//   - health: liveness and readiness probes served by the HTTP server.
//
// Prometheus metrics for the limiter live next to it in
// limits/ratelimit, registered on a caller-supplied registry.
package telemetry
