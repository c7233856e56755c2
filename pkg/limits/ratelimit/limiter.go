package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"mercator-hq/chatgate/pkg/processing/tokens"
	"mercator-hq/chatgate/pkg/providers"
	"mercator-hq/chatgate/pkg/telemetry/logging"
)

// Limiter keeps calls to a chat-completion API under a requests-per-minute
// and a tokens-per-minute ceiling.
//
// Before each call the limiter estimates the request's token cost and waits
// until the trailing window has room for one more request and for the
// estimate. After a successful call the actual usage reported by the
// response is recorded in the window; failed calls are not recorded.
//
// By default the admission lock is held for the whole of Send, so calls
// through one Limiter run one at a time. Set Config.ReleaseDuringCall to
// allow concurrent calls.
type Limiter struct {
	name   string
	cfg    Config
	maxRPM int
	maxTPM int

	completer providers.Completer
	estimator tokens.Estimator
	clock     Clock
	logger    *logging.Logger
	metrics   *Metrics
	observer  CompletionObserver

	degradedLog rate.Sometimes

	// mu serializes admission. window is only mutated under mu.
	mu     sync.Mutex
	window *Window

	// Admitted calls still in flight when ReleaseDuringCall is set. Written
	// under mu, read without it by Stats.
	reservedRequests atomic.Int64
	reservedTokens   atomic.Int64
}

// New creates a Limiter that sends requests through completer.
func New(cfg Config, completer providers.Completer, opts ...Option) (*Limiter, error) {
	if completer == nil {
		return nil, &ConfigurationError{Field: "completer", Message: "must not be nil"}
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	maxRPM := int(float64(cfg.MaxRequestsPerMinute) * cfg.Headroom)
	maxTPM := int(float64(cfg.MaxTokensPerMinute) * cfg.Headroom)
	if maxRPM < 1 {
		return nil, &ConfigurationError{
			Field:   "max_requests_per_minute",
			Message: fmt.Sprintf("%d with headroom %g leaves no capacity", cfg.MaxRequestsPerMinute, cfg.Headroom),
		}
	}
	if maxTPM < 1 {
		return nil, &ConfigurationError{
			Field:   "max_tokens_per_minute",
			Message: fmt.Sprintf("%d with headroom %g leaves no capacity", cfg.MaxTokensPerMinute, cfg.Headroom),
		}
	}

	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.DefaultCompletionTokens == 0 {
		cfg.DefaultCompletionTokens = DefaultCompletionTokens
	}

	l := &Limiter{
		name:        cfg.Name,
		cfg:         cfg,
		maxRPM:      maxRPM,
		maxTPM:      maxTPM,
		completer:   completer,
		estimator:   tokens.NewSimpleEstimator(nil, cfg.DefaultCompletionTokens),
		clock:       realClock{},
		logger:      logging.Nop(),
		degradedLog: rate.Sometimes{First: 1, Interval: time.Minute},
		window:      NewWindow(cfg.Window),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("limiter", l.name)
	l.metrics.trackWindow(l.name, func() WindowSnapshot {
		return l.window.Snapshot(l.clock.Now())
	})

	return l, nil
}

func validateConfig(cfg Config) error {
	// Written so NaN fails too.
	if !(cfg.Headroom > 0 && cfg.Headroom <= 1) {
		return &ConfigurationError{Field: "headroom", Message: fmt.Sprintf("must be in (0, 1], got %g", cfg.Headroom)}
	}
	if cfg.MaxRequestsPerMinute <= 0 {
		return &ConfigurationError{Field: "max_requests_per_minute", Message: "must be positive"}
	}
	if cfg.MaxTokensPerMinute <= 0 {
		return &ConfigurationError{Field: "max_tokens_per_minute", Message: "must be positive"}
	}
	if cfg.Jitter < 0 {
		return &ConfigurationError{Field: "jitter", Message: "must not be negative"}
	}
	if cfg.Window < 0 {
		return &ConfigurationError{Field: "window", Message: "must not be negative"}
	}
	if cfg.DefaultCompletionTokens < 0 {
		return &ConfigurationError{Field: "default_completion_tokens", Message: "must not be negative"}
	}
	return nil
}

// Name returns the limiter's name.
func (l *Limiter) Name() string {
	return l.name
}

// Limits returns the effective ceilings after headroom.
func (l *Limiter) Limits() (rpm int, tpm int) {
	return l.maxRPM, l.maxTPM
}

// Send waits for window capacity, calls the upstream API and records the
// call's actual token usage.
//
// If ctx ends while waiting, Send returns ctx.Err() and the window is left
// unchanged. Errors from the upstream call are returned as is.
func (l *Limiter) Send(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, &providers.ValidationError{Field: "request", Message: "must not be nil"}
	}

	requestID := logging.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = logging.WithRequestID(ctx, requestID)
	}
	ctx = logging.WithModel(ctx, req.Model)

	estimate, err := l.estimator.EstimateRequest(req, l.cfg.CostEstimationModel)
	if err != nil {
		return nil, fmt.Errorf("estimate request tokens: %w", err)
	}
	estimated := estimate.TotalTokens

	start := l.clock.Now()

	l.mu.Lock()
	if err := l.admitLocked(ctx, estimated); err != nil {
		l.mu.Unlock()
		l.metrics.recordCancelled(l.name)
		l.logger.DebugContext(ctx, "admission abandoned", "error", err, "waited", l.clock.Now().Sub(start))
		return nil, err
	}

	c := Completion{
		RequestID:       requestID,
		Limiter:         l.name,
		Model:           req.Model,
		AdmittedAt:      l.clock.Now(),
		EstimatedTokens: estimated,
	}
	c.Waited = c.AdmittedAt.Sub(start)
	l.metrics.recordAdmitted(l.name, c.Waited, estimated)

	var resp *providers.CompletionResponse
	var usage tokens.ActualUsage
	if l.cfg.ReleaseDuringCall {
		resp, usage, err = l.callReleased(ctx, req, estimated, &c)
	} else {
		resp, usage, err = l.callHeld(ctx, req, &c)
	}

	c.Err = err
	c.ActualTokens = usage.Tokens
	c.UsageSource = usage.Source
	l.metrics.recordFinished(l.name, err, usage)

	if err != nil {
		l.logger.WarnContext(ctx, "upstream call failed",
			"error", err,
			"waited", c.Waited,
			"estimated_tokens", estimated,
		)
	} else {
		l.logger.DebugContext(ctx, "upstream call completed",
			"waited", c.Waited,
			"estimated_tokens", estimated,
			"actual_tokens", usage.Tokens,
			"usage_source", string(usage.Source),
		)
		if usage.Degraded() {
			l.degradedLog.Do(func() {
				l.logger.WarnContext(ctx, "response reported no token usage, recorded at zero cost",
					"estimated_tokens", estimated,
				)
			})
		}
	}

	if l.observer != nil {
		l.observer.ObserveCompletion(ctx, c)
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// admitLocked blocks until one more request of estimated tokens fits in the
// window. The caller holds l.mu; it is still held on return.
func (l *Limiter) admitLocked(ctx context.Context, estimated int) error {
	for {
		now := l.clock.Now()
		l.window.EvictExpired(now)

		count, total := l.window.Occupancy()
		count += int(l.reservedRequests.Load())
		total += int(l.reservedTokens.Load())

		var limit string
		switch {
		case count >= l.maxRPM:
			limit = "rpm"
		case count > 0 && total+estimated > l.maxTPM:
			// An empty window admits anything so an oversized request
			// cannot wait forever.
			limit = "tpm"
		default:
			return nil
		}

		wait := l.waitLocked(now)
		l.metrics.recordThrottle(l.name, limit)
		l.logger.DebugContext(ctx, "waiting for window capacity",
			"limit", limit,
			"wait", wait,
			"requests", count,
			"tokens", total,
			"estimated_tokens", estimated,
		)

		if err := l.sleepLocked(ctx, wait); err != nil {
			return err
		}
	}
}

// waitLocked returns how long until the oldest recorded entry leaves the
// window, plus jitter.
func (l *Limiter) waitLocked(now time.Time) time.Duration {
	var wait time.Duration
	if oldest, ok := l.window.OldestTimestamp(); ok {
		wait = oldest.Add(l.window.Horizon()).Sub(now)
		if wait < 0 {
			wait = 0
		}
		wait += l.cfg.Jitter
	} else {
		// Only in-flight reservations are blocking; nothing expires on its
		// own, so poll until one of them finishes.
		wait = max(l.cfg.Jitter, reservationPoll)
	}
	return max(wait, minWait)
}

func (l *Limiter) sleepLocked(ctx context.Context, d time.Duration) error {
	if !l.cfg.ReleaseDuringCall {
		return l.clock.Sleep(ctx, d)
	}

	l.mu.Unlock()
	err := l.clock.Sleep(ctx, d)
	l.mu.Lock()
	return err
}

// callHeld makes the upstream call with l.mu held and releases it.
func (l *Limiter) callHeld(ctx context.Context, req *providers.CompletionRequest, c *Completion) (*providers.CompletionResponse, tokens.ActualUsage, error) {
	defer l.mu.Unlock()

	resp, err := l.completer.Complete(ctx, req)
	c.CompletedAt = l.clock.Now()
	if err != nil {
		return nil, tokens.ActualUsage{}, err
	}

	usage := tokens.ExtractUsage(resp)
	l.window.Record(c.CompletedAt, usage.Tokens)
	return resp, usage, nil
}

// callReleased reserves capacity for the call, releases l.mu for its
// duration and records the outcome once it returns. l.mu is held on entry
// and released on return.
func (l *Limiter) callReleased(ctx context.Context, req *providers.CompletionRequest, estimated int, c *Completion) (*providers.CompletionResponse, tokens.ActualUsage, error) {
	l.reservedRequests.Add(1)
	l.reservedTokens.Add(int64(estimated))
	l.mu.Unlock()

	succeeded := false
	defer func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.reservedRequests.Add(-1)
		l.reservedTokens.Add(-int64(estimated))
		if succeeded {
			l.window.Record(c.CompletedAt, c.ActualTokens)
		}
	}()

	resp, err := l.completer.Complete(ctx, req)
	c.CompletedAt = l.clock.Now()
	if err != nil {
		return nil, tokens.ActualUsage{}, err
	}

	usage := tokens.ExtractUsage(resp)
	c.ActualTokens = usage.Tokens
	succeeded = true
	return resp, usage, nil
}

// Stats returns the current window occupancy. It does not wait for
// in-progress admissions or calls.
func (l *Limiter) Stats() Stats {
	now := l.clock.Now()
	snap := l.window.Snapshot(now)

	return Stats{
		Name:                 l.name,
		Requests:             snap.Requests,
		Tokens:               snap.Tokens,
		ReservedRequests:     int(l.reservedRequests.Load()),
		ReservedTokens:       int(l.reservedTokens.Load()),
		MaxRequestsPerMinute: l.maxRPM,
		MaxTokensPerMinute:   l.maxTPM,
		OldestEntry:          snap.Oldest,
		Window:               l.window.Horizon(),
	}
}
