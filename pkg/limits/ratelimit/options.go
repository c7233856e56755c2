package ratelimit

import (
	"mercator-hq/chatgate/pkg/processing/tokens"
	"mercator-hq/chatgate/pkg/telemetry/logging"
)

// Option customizes a Limiter at construction.
type Option func(*Limiter)

// WithEstimator replaces the built-in character-ratio estimator.
func WithEstimator(e tokens.Estimator) Option {
	return func(l *Limiter) {
		if e != nil {
			l.estimator = e
		}
	}
}

// WithClock replaces wall-clock time, mainly for tests.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger. Without it the limiter logs nothing.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records limiter metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithObserver registers a hook called after every upstream call.
func WithObserver(o CompletionObserver) Option {
	return func(l *Limiter) {
		l.observer = o
	}
}
