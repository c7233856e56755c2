// Package ratelimit keeps chat-completion traffic under an organization's
// requests-per-minute (RPM) and tokens-per-minute (TPM) ceilings.
//
// A Limiter wraps a providers.Completer. Every Send estimates the request's
// token cost, waits until the last 60 seconds of recorded calls leave room
// for one more request and for the estimate, makes the call, and records the
// tokens the response actually reports. Both ceilings are scaled down by a
// headroom fraction so the limiter stays clear of the provider's own limits.
//
//	lim, err := ratelimit.New(ratelimit.Config{
//	    MaxRequestsPerMinute: 350,
//	    MaxTokensPerMinute:   30000,
//	    Headroom:             0.9,
//	    Jitter:               50 * time.Millisecond,
//	}, provider)
//	if err != nil {
//	    return err
//	}
//
//	resp, err := lim.Send(ctx, req)
//
// The window is a log of (completion time, token cost) entries rather than
// a token bucket, so a wait always ends when the oldest entry expires. An
// empty window admits any request, however large its estimate.
//
// Responses without usage are recorded at zero tokens. They are counted by
// the degraded_usage_total metric and logged at most once a minute.
package ratelimit
