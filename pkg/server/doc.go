// Package server exposes a rate limiter over HTTP.
//
// Routes:
//
//   - POST /v1/chat/completions - OpenAI-compatible, non-streaming. The request
//     waits in the limiter for window capacity before it is sent upstream.
//   - GET /v1/limits - current window occupancy and effective ceilings
//   - GET /health - liveness
//   - GET /ready - readiness, 503 while any registered health check fails
//   - GET /metrics - Prometheus, when a handler is supplied
//
// Upstream errors keep their meaning: a 5xx becomes 502, an upstream 429
// stays 429, an upstream timeout becomes 504. A client that disconnects while
// its request is waiting gets 499.
//
// Every response carries X-Request-ID. A client-supplied value is reused and
// becomes the request ID in logs and in the usage ledger.
package server
