// Package providers defines the upstream chat-completion contract used by the
// rate limiter, along with the shared HTTP plumbing for concrete adapters.
//
// # Overview
//
// The limiter never talks HTTP itself. It wraps a single Completer:
//
//	type Completer interface {
//	    Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
//	}
//
// Adapters (see the openai sub-package) build on HTTPProvider, which owns the
// pooled http.Client, retry with exponential backoff for transient failures, and
// request counters used for health reporting.
//
// # Usage Accounting
//
// A successful CompletionResponse carries Usage when the upstream reported it.
// Each TokenUsage field is a pointer so that "absent" and "zero" stay distinct;
// the limiter relies on that distinction to pick between total, component, and
// missing usage.
//
// # Errors
//
// Adapters translate upstream failures into typed errors:
//
//   - AuthError: HTTP 401/403
//   - RateLimitError: HTTP 429, with Retry-After when present
//   - ProviderError: other non-2xx responses
//   - TimeoutError: context deadline or cancellation
//   - ParseError: malformed response body
//   - ValidationError: request rejected before it was sent
//
// These are returned unchanged through the limiter so callers can use errors.As.
package providers
