package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"mercator-hq/chatgate/pkg/processing/tokens"
	"mercator-hq/chatgate/pkg/providers"
	"mercator-hq/chatgate/pkg/telemetry/logging"
)

func TestNew_Validation(t *testing.T) {
	ok := providers.CompleterFunc(func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		return responseWithTotal(1), nil
	})

	tests := []struct {
		name      string
		mutate    func(*Config)
		completer providers.Completer
		wantField string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "headroom one", mutate: func(c *Config) { c.Headroom = 1.0 }},
		{name: "headroom half", mutate: func(c *Config) { c.Headroom = 0.5 }},
		{name: "headroom zero", mutate: func(c *Config) { c.Headroom = 0 }, wantField: "headroom"},
		{name: "headroom above one", mutate: func(c *Config) { c.Headroom = 1.5 }, wantField: "headroom"},
		{name: "headroom negative", mutate: func(c *Config) { c.Headroom = -0.1 }, wantField: "headroom"},
		{name: "headroom NaN", mutate: func(c *Config) { c.Headroom = math.NaN() }, wantField: "headroom"},
		{name: "zero rpm", mutate: func(c *Config) { c.MaxRequestsPerMinute = 0 }, wantField: "max_requests_per_minute"},
		{name: "negative tpm", mutate: func(c *Config) { c.MaxTokensPerMinute = -1 }, wantField: "max_tokens_per_minute"},
		{name: "rpm truncates to zero", mutate: func(c *Config) { c.MaxRequestsPerMinute = 1; c.Headroom = 0.5 }, wantField: "max_requests_per_minute"},
		{name: "negative jitter", mutate: func(c *Config) { c.Jitter = -time.Millisecond }, wantField: "jitter"},
		{name: "nil completer", mutate: func(*Config) {}, completer: nil, wantField: "completer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			completer := tt.completer
			if completer == nil && tt.wantField != "completer" {
				completer = ok
			}

			lim, err := New(cfg, completer)
			if tt.wantField == "" {
				require.NoError(t, err)
				assert.NotNil(t, lim)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestNew_EffectiveLimits(t *testing.T) {
	lim, err := New(DefaultConfig(), &usageCompleter{totals: []int{1}})
	require.NoError(t, err)

	rpm, tpm := lim.Limits()
	assert.Equal(t, 315, rpm)
	assert.Equal(t, 27000, tpm)
	assert.Equal(t, DefaultName, lim.Name())

	stats := lim.Stats()
	assert.Equal(t, 315, stats.MaxRequestsPerMinute)
	assert.Equal(t, 27000, stats.MaxTokensPerMinute)
	assert.Equal(t, time.Minute, stats.Window)
}

func TestLimiter_RequestCeiling(t *testing.T) {
	clock := newFakeClock()
	completer := &usageCompleter{clock: clock, elapsed: time.Second, totals: []int{10}}
	lim, metrics := newTestLimiter(t, testConfig(2, 100000), completer, clock)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := lim.Send(ctx, request(10))
		require.NoError(t, err)
	}
	assert.Empty(t, clock.Sleeps(), "first two requests fit in the window")

	_, err := lim.Send(ctx, request(10))
	require.NoError(t, err)

	// First entry completed at +1s and expires at +61s; the third request
	// arrived at +2s.
	assert.Equal(t, []time.Duration{59*time.Second + DefaultJitter}, clock.Sleeps())
	assert.Equal(t, 3, completer.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.throttled.WithLabelValues("default", "rpm")))

	// Now +62.05s: the +2s entry has also aged out.
	stats := lim.Stats()
	assert.Equal(t, 1, stats.Requests)
	assert.Equal(t, 10, stats.Tokens)
}

func TestLimiter_TokenCeiling(t *testing.T) {
	tests := []struct {
		name       string
		firstUsage int
		wantSleeps []time.Duration
	}{
		{name: "actual usage fills window", firstUsage: 900, wantSleeps: []time.Duration{time.Minute + DefaultJitter}},
		{name: "actual usage below estimate", firstUsage: 500, wantSleeps: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			completer := &usageCompleter{totals: []int{tt.firstUsage, 200}}
			lim, _ := newTestLimiter(t, testConfig(100, 1000), completer, clock)

			ctx := context.Background()
			// Estimated at 900 either way; only the actual usage is recorded.
			_, err := lim.Send(ctx, request(900))
			require.NoError(t, err)

			_, err = lim.Send(ctx, request(200))
			require.NoError(t, err)

			assert.Equal(t, tt.wantSleeps, clock.Sleeps())
		})
	}
}

func TestLimiter_OversizedRequestOnEmptyWindow(t *testing.T) {
	clock := newFakeClock()
	completer := &usageCompleter{totals: []int{5000, 10}}
	lim, _ := newTestLimiter(t, testConfig(100, 1000), completer, clock)

	ctx := context.Background()
	_, err := lim.Send(ctx, request(5000))
	require.NoError(t, err)
	assert.Empty(t, clock.Sleeps(), "an empty window admits any estimate")

	_, err = lim.Send(ctx, request(10))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute + DefaultJitter}, clock.Sleeps())
}

func TestLimiter_FailedCallNotRecorded(t *testing.T) {
	clock := newFakeClock()
	upstreamErr := &providers.RateLimitError{Provider: "openai", RetryAfter: 3 * time.Second}

	completer := providers.CompleterFunc(func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		return nil, upstreamErr
	})
	observer := &recordingObserver{}
	lim, metrics := newTestLimiter(t, testConfig(1, 1000), completer, clock, WithObserver(observer))

	for i := 0; i < 3; i++ {
		resp, err := lim.Send(context.Background(), request(100))
		assert.Nil(t, resp)
		assert.True(t, err == upstreamErr, "upstream error must be returned unwrapped, got %v", err)
	}

	assert.Empty(t, clock.Sleeps(), "failures must not consume window capacity")
	assert.Zero(t, lim.Stats().Requests)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.requests.WithLabelValues("default", "error")))

	completions := observer.All()
	require.Len(t, completions, 3)
	assert.Equal(t, upstreamErr, completions[0].Err)
	assert.Equal(t, 100, completions[0].EstimatedTokens)
}

func TestLimiter_CancelWhileWaiting(t *testing.T) {
	clock := newFakeClock()
	completer := &usageCompleter{totals: []int{10}}
	lim, metrics := newTestLimiter(t, testConfig(1, 1000), completer, clock)

	_, err := lim.Send(context.Background(), request(10))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.onSleep = func(time.Duration) { cancel() }

	_, err = lim.Send(ctx, request(10))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, completer.Calls())
	assert.Equal(t, 1, lim.Stats().Requests)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cancelled.WithLabelValues("default")))
}

func TestLimiter_CancelledBeforeSend(t *testing.T) {
	clock := newFakeClock()
	completer := &usageCompleter{totals: []int{10}}
	lim, _ := newTestLimiter(t, testConfig(1, 1000), completer, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lim.Send(ctx, request(10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, completer.Calls())
}

func TestLimiter_NilRequest(t *testing.T) {
	clock := newFakeClock()
	lim, _ := newTestLimiter(t, testConfig(1, 1000), &usageCompleter{totals: []int{1}}, clock)

	_, err := lim.Send(context.Background(), nil)
	var validationErr *providers.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestLimiter_UsageSources(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name         string
		usage        *providers.TokenUsage
		wantTokens   int
		wantSource   tokens.UsageSource
		wantDegraded float64
	}{
		{name: "total", usage: providers.NewTokenUsage(10, 5, 40), wantTokens: 40, wantSource: tokens.UsageSourceTotal},
		{name: "components", usage: &providers.TokenUsage{PromptTokens: intPtr(10), CompletionTokens: intPtr(5)}, wantTokens: 15, wantSource: tokens.UsageSourceComponents},
		{name: "missing", usage: nil, wantTokens: 0, wantSource: tokens.UsageSourceNone, wantDegraded: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			completer := providers.CompleterFunc(func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
				return &providers.CompletionResponse{ID: "x", Usage: tt.usage}, nil
			})
			observer := &recordingObserver{}
			lim, metrics := newTestLimiter(t, testConfig(10, 1000), completer, clock, WithObserver(observer))

			_, err := lim.Send(context.Background(), request(100))
			require.NoError(t, err)

			stats := lim.Stats()
			assert.Equal(t, 1, stats.Requests, "successful calls are always recorded")
			assert.Equal(t, tt.wantTokens, stats.Tokens)

			assert.Equal(t, tt.wantDegraded, testutil.ToFloat64(metrics.degraded.WithLabelValues("default")))
			assert.Equal(t, float64(1), testutil.ToFloat64(metrics.usageSource.WithLabelValues("default", string(tt.wantSource))))

			completions := observer.All()
			require.Len(t, completions, 1)
			assert.Equal(t, tt.wantSource, completions[0].UsageSource)
			assert.Equal(t, tt.wantTokens, completions[0].ActualTokens)
		})
	}
}

func TestLimiter_ObserverReceivesCompletion(t *testing.T) {
	clock := newFakeClock()
	completer := &usageCompleter{clock: clock, elapsed: 2 * time.Second, totals: []int{77}}
	observer := &recordingObserver{}
	lim, _ := newTestLimiter(t, testConfig(10, 1000), completer, clock, WithObserver(observer))

	ctx := logging.WithRequestID(context.Background(), "req-fixed")
	_, err := lim.Send(ctx, request(120))
	require.NoError(t, err)

	_, err = lim.Send(context.Background(), request(5))
	require.NoError(t, err)

	completions := observer.All()
	require.Len(t, completions, 2)

	first := completions[0]
	assert.Equal(t, "req-fixed", first.RequestID)
	assert.Equal(t, "default", first.Limiter)
	assert.Equal(t, "gpt-3.5-turbo", first.Model)
	assert.Equal(t, epoch, first.AdmittedAt)
	assert.Equal(t, epoch.Add(2*time.Second), first.CompletedAt)
	assert.Zero(t, first.Waited)
	assert.Equal(t, 120, first.EstimatedTokens)
	assert.Equal(t, 77, first.ActualTokens)
	assert.NoError(t, first.Err)

	assert.NotEmpty(t, completions[1].RequestID, "a request id is generated when the context has none")
	assert.NotEqual(t, "req-fixed", completions[1].RequestID)
}

func TestLimiter_StatsDuringHeldCall(t *testing.T) {
	clock := newFakeClock()
	var lim *Limiter
	var inside Stats

	completer := providers.CompleterFunc(func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		// The admission lock is held here; Stats must not need it.
		inside = lim.Stats()
		return responseWithTotal(30), nil
	})
	lim, _ = newTestLimiter(t, testConfig(10, 1000), completer, clock)

	_, err := lim.Send(context.Background(), request(30))
	require.NoError(t, err)
	_, err = lim.Send(context.Background(), request(30))
	require.NoError(t, err)

	assert.Equal(t, 1, inside.Requests)
	assert.Equal(t, 30, inside.Tokens)
	assert.Equal(t, epoch, inside.OldestEntry)
}

func TestLimiter_HeldModeSerializesCalls(t *testing.T) {
	clock := newFakeClock()
	var lim *Limiter
	var inFlight, maxInFlight atomic.Int32
	var windowViolations atomic.Int32

	completer := providers.CompleterFunc(func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}

		stats := lim.Stats()
		if stats.Requests >= stats.MaxRequestsPerMinute || stats.Tokens+50 > stats.MaxTokensPerMinute {
			windowViolations.Add(1)
		}
		time.Sleep(time.Millisecond)
		return responseWithTotal(50), nil
	})
	lim, _ = newTestLimiter(t, testConfig(3, 120), completer, clock)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := lim.Send(context.Background(), request(50))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Zero(t, windowViolations.Load())
	assert.LessOrEqual(t, lim.Stats().Tokens, 120)
}

func TestLimiter_ReleaseDuringCallAllowsConcurrency(t *testing.T) {
	clock := newFakeClock()
	var inFlight, maxInFlight atomic.Int32
	release := make(chan struct{})

	completer := providers.CompleterFunc(func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		<-release
		return responseWithTotal(10), nil
	})

	cfg := testConfig(3, 10000)
	cfg.ReleaseDuringCall = true
	lim, _ := newTestLimiter(t, cfg, completer, clock)

	var g errgroup.Group
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			_, err := lim.Send(context.Background(), request(10))
			return err
		})
	}

	require.Eventually(t, func() bool { return inFlight.Load() == 3 }, 5*time.Second, time.Millisecond)

	stats := lim.Stats()
	assert.Equal(t, 3, stats.ReservedRequests)
	assert.Equal(t, 30, stats.ReservedTokens)
	assert.Zero(t, stats.Requests)

	close(release)
	require.NoError(t, g.Wait())

	stats = lim.Stats()
	assert.Zero(t, stats.ReservedRequests)
	assert.Zero(t, stats.ReservedTokens)
	assert.Equal(t, 3, stats.Requests)
	assert.Equal(t, int32(3), maxInFlight.Load())
}

func TestLimiter_ReservationsBlockAdmission(t *testing.T) {
	clock := newFakeClock()
	release := make(chan struct{})
	var calls atomic.Int32

	completer := providers.CompleterFunc(func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		if calls.Add(1) == 1 {
			<-release
		}
		return responseWithTotal(10), nil
	})

	cfg := testConfig(1, 10000)
	cfg.ReleaseDuringCall = true
	lim, _ := newTestLimiter(t, cfg, completer, clock)

	firstDone := make(chan error, 1)
	go func() {
		_, err := lim.Send(context.Background(), request(10))
		firstDone <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, time.Millisecond)

	secondDone := make(chan error, 1)
	go func() {
		_, err := lim.Send(context.Background(), request(10))
		secondDone <- err
	}()

	// The window is empty, so the second request polls at the jitter
	// interval while the first is in flight.
	require.Eventually(t, func() bool { return len(clock.Sleeps()) > 0 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, DefaultJitter, clock.Sleeps()[0])

	close(release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLimiter_ReleasedModeSerializesWhenFull(t *testing.T) {
	clock := newFakeClock()
	var inFlight, maxInFlight atomic.Int32
	var mu sync.Mutex
	var admitted []time.Time

	completer := providers.CompleterFunc(func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		mu.Lock()
		admitted = append(admitted, clock.Now())
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return responseWithTotal(1), nil
	})

	cfg := testConfig(2, 10000)
	cfg.ReleaseDuringCall = true
	lim, _ := newTestLimiter(t, cfg, completer, clock)

	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			_, err := lim.Send(context.Background(), request(1))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
	assert.Len(t, admitted, 6)
	assert.LessOrEqual(t, lim.Stats().Requests+lim.Stats().ReservedRequests, 2)
}

func TestLimiter_UpstreamErrorIdentity(t *testing.T) {
	sentinel := errors.New("boom")
	clock := newFakeClock()
	lim, _ := newTestLimiter(t, testConfig(5, 1000), providers.CompleterFunc(
		func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
			return nil, sentinel
		}), clock)

	_, err := lim.Send(context.Background(), request(1))
	assert.Same(t, sentinel, err)
}

func TestLimiter_DefaultEstimatorCountsContentPlusHint(t *testing.T) {
	tests := []struct {
		name       string
		firstUsage int
		wantSleeps []time.Duration
	}{
		// "hi" is one token, so the second request is estimated at 201.
		{name: "fits exactly", firstUsage: 795, wantSleeps: nil},
		{name: "one token over", firstUsage: 800, wantSleeps: []time.Duration{time.Minute + DefaultJitter}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			observer := &recordingObserver{}
			completer := &usageCompleter{totals: []int{tt.firstUsage, 10}}
			lim, err := New(testConfig(100, 1000), completer, WithClock(clock), WithObserver(observer))
			require.NoError(t, err)

			ctx := context.Background()
			_, err = lim.Send(ctx, request(900))
			require.NoError(t, err)
			_, err = lim.Send(ctx, request(200))
			require.NoError(t, err)

			assert.Equal(t, tt.wantSleeps, clock.Sleeps())
			completions := observer.All()
			require.Len(t, completions, 2)
			assert.Equal(t, 901, completions[0].EstimatedTokens)
			assert.Equal(t, 201, completions[1].EstimatedTokens)
		})
	}
}

func TestLimiter_ReleasedModeSmallerRequestOvertakesWaiter(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var order []int

	completer := providers.CompleterFunc(func(_ context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		mu.Lock()
		order = append(order, req.MaxTokens)
		mu.Unlock()
		return responseWithTotal(req.MaxTokens), nil
	})

	cfg := testConfig(100, 1000)
	cfg.ReleaseDuringCall = true
	lim, _ := newTestLimiter(t, cfg, completer, clock)

	ctx := context.Background()
	_, err := lim.Send(ctx, request(800))
	require.NoError(t, err)

	// The 300-token request has to wait; while it sleeps without the lock a
	// 100-token request still fits and goes first.
	var once sync.Once
	clock.onSleep = func(time.Duration) {
		once.Do(func() {
			_, err := lim.Send(ctx, request(100))
			assert.NoError(t, err)
		})
	}

	_, err = lim.Send(ctx, request(300))
	require.NoError(t, err)

	assert.Equal(t, []int{800, 100, 300}, order)
	assert.Equal(t, []time.Duration{time.Minute + DefaultJitter}, clock.Sleeps())
}
