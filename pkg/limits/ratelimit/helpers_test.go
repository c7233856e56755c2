package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"mercator-hq/chatgate/pkg/processing/tokens"
	"mercator-hq/chatgate/pkg/providers"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeClock advances only when told to or when something sleeps on it.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(d time.Duration)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.Advance(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// maxTokensEstimator uses the request's MaxTokens as the whole estimate so
// tests control it per request.
type maxTokensEstimator struct{}

func (maxTokensEstimator) EstimateText(string, string) int { return 0 }

func (maxTokensEstimator) EstimateMessages([]providers.Message, string) int { return 0 }

func (maxTokensEstimator) EstimateRequest(req *providers.CompletionRequest, _ string) (*tokens.Estimate, error) {
	return &tokens.Estimate{CompletionTokens: req.MaxTokens, TotalTokens: req.MaxTokens}, nil
}

// request builds a request whose estimate is estimated tokens under
// maxTokensEstimator.
func request(estimated int) *providers.CompletionRequest {
	return &providers.CompletionRequest{
		Model:     "gpt-3.5-turbo",
		Messages:  []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
		MaxTokens: estimated,
	}
}

func responseWithTotal(total int) *providers.CompletionResponse {
	return &providers.CompletionResponse{
		ID:    "chatcmpl-test",
		Model: "gpt-3.5-turbo",
		Usage: providers.NewTokenUsage(0, 0, total),
	}
}

// usageCompleter returns successive total usages, repeating the last one.
type usageCompleter struct {
	mu      sync.Mutex
	clock   *fakeClock
	elapsed time.Duration
	totals  []int
	calls   int
}

func (c *usageCompleter) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.totals[min(c.calls, len(c.totals)-1)]
	c.calls++
	if c.clock != nil && c.elapsed > 0 {
		c.clock.Advance(c.elapsed)
	}
	return responseWithTotal(total), nil
}

func (c *usageCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type recordingObserver struct {
	mu          sync.Mutex
	completions []Completion
}

func (o *recordingObserver) ObserveCompletion(_ context.Context, c Completion) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completions = append(o.completions, c)
}

func (o *recordingObserver) All() []Completion {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Completion(nil), o.completions...)
}

func testConfig(rpm, tpm int) Config {
	return Config{
		MaxRequestsPerMinute: rpm,
		MaxTokensPerMinute:   tpm,
		Headroom:             1.0,
		Jitter:               DefaultJitter,
	}
}

func newTestLimiter(t *testing.T, cfg Config, completer providers.Completer, clock *fakeClock, opts ...Option) (*Limiter, *Metrics) {
	t.Helper()

	metrics := NewMetrics(prometheus.NewRegistry(), "test")
	opts = append([]Option{
		WithClock(clock),
		WithEstimator(maxTokensEstimator{}),
		WithMetrics(metrics),
	}, opts...)

	lim, err := New(cfg, completer, opts...)
	require.NoError(t, err)
	return lim, metrics
}
