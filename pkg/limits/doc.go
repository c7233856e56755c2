// Package limits groups the admission and accounting packages for upstream
// chat completion calls.
//
//   - ratelimit: the adaptive limiter. It keeps a 60 second sliding log of
//     admitted requests and their token cost, and blocks callers until both the
//     request and token ceilings have room.
//   - ledger: a per-call usage record fed asynchronously by the limiter, with
//     memory and SQLite stores and scheduled retention.
//
// The two are joined only through ratelimit.CompletionObserver, so the limiter
// never waits on ledger I/O.
package limits
