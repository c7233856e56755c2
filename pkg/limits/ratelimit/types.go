package ratelimit

import (
	"context"
	"time"

	"mercator-hq/chatgate/pkg/processing/tokens"
)

const (
	// DefaultWindow is the trailing period both ceilings apply to.
	DefaultWindow = time.Minute

	// DefaultJitter is added to every computed wait.
	DefaultJitter = 50 * time.Millisecond

	// DefaultCompletionTokens is the completion hint for requests without MaxTokens.
	DefaultCompletionTokens = 100

	// DefaultName labels a limiter in logs and metrics when Config.Name is empty.
	DefaultName = "default"

	// minWait keeps a zero computed wait from spinning on a clock that has
	// not moved.
	minWait = time.Millisecond

	// reservationPoll is the minimum wait when only in-flight reservations,
	// not recorded entries, block admission.
	reservationPoll = 10 * time.Millisecond
)

// Config contains limiter configuration. It is copied by New and never
// changes afterwards.
type Config struct {
	// Name labels the limiter in logs and metrics.
	Name string

	// MaxRequestsPerMinute is the RPM ceiling before headroom.
	MaxRequestsPerMinute int

	// MaxTokensPerMinute is the TPM ceiling before headroom.
	MaxTokensPerMinute int

	// Headroom scales both ceilings (truncated toward zero). Must be in (0, 1].
	Headroom float64

	// CostEstimationModel selects the counting ratio. Empty uses each
	// request's model.
	CostEstimationModel string

	// DefaultCompletionTokens is the completion hint used by the built-in
	// estimator. Ignored when WithEstimator is given.
	DefaultCompletionTokens int

	// Jitter is added to every wait. Zero disables it.
	Jitter time.Duration

	// Window overrides the 60s horizon. Zero means DefaultWindow.
	Window time.Duration

	// ReleaseDuringCall releases the admission lock while the upstream call
	// is in flight. The request's estimate is held as a reservation against
	// both ceilings until it finishes.
	//
	// The lock is also released while a caller sleeps waiting for capacity,
	// so admission is not first-come first-served in this mode: a later,
	// smaller request can fit and be admitted while an earlier, larger one
	// is still waiting. Callers only enter admission in lock order.
	ReleaseDuringCall bool
}

// DefaultConfig returns a Config with the stock OpenAI organization limits.
func DefaultConfig() Config {
	return Config{
		Name:                    DefaultName,
		MaxRequestsPerMinute:    350,
		MaxTokensPerMinute:      30000,
		Headroom:                0.9,
		CostEstimationModel:     "gpt-3.5-turbo",
		DefaultCompletionTokens: DefaultCompletionTokens,
		Jitter:                  DefaultJitter,
		Window:                  DefaultWindow,
	}
}

// Stats is a point-in-time view of a limiter's occupancy.
type Stats struct {
	Name string `json:"name"`

	// Requests and Tokens count recorded entries still inside the window.
	Requests int `json:"requests"`
	Tokens   int `json:"tokens"`

	// ReservedRequests and ReservedTokens count admitted calls still in
	// flight. Always zero unless ReleaseDuringCall is set.
	ReservedRequests int `json:"reserved_requests"`
	ReservedTokens   int `json:"reserved_tokens"`

	// MaxRequestsPerMinute and MaxTokensPerMinute are the effective ceilings
	// after headroom.
	MaxRequestsPerMinute int `json:"max_requests_per_minute"`
	MaxTokensPerMinute   int `json:"max_tokens_per_minute"`

	OldestEntry time.Time     `json:"oldest_entry,omitempty"`
	Window      time.Duration `json:"window"`
}

// Clock abstracts time for the limiter.
type Clock interface {
	Now() time.Time

	// Sleep waits for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Completion describes one upstream call made through the limiter,
// successful or not.
type Completion struct {
	RequestID       string
	Limiter         string
	Model           string
	AdmittedAt      time.Time
	CompletedAt     time.Time
	Waited          time.Duration
	EstimatedTokens int

	// ActualTokens and UsageSource are only meaningful when Err is nil.
	ActualTokens int
	UsageSource  tokens.UsageSource

	Err error
}

// CompletionObserver is notified after every upstream call, outside the
// admission lock. Implementations must not block for long.
type CompletionObserver interface {
	ObserveCompletion(ctx context.Context, c Completion)
}
