package ledger

import (
	"context"
	"time"

	"mercator-hq/chatgate/pkg/limits/ratelimit"
)

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry is one upstream call made through a rate limiter.
type Entry struct {
	ID              string        `json:"id"`
	RequestID       string        `json:"request_id"`
	Limiter         string        `json:"limiter"`
	Model           string        `json:"model"`
	AdmittedAt      time.Time     `json:"admitted_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	Waited          time.Duration `json:"waited"`
	EstimatedTokens int           `json:"estimated_tokens"`
	ActualTokens    int           `json:"actual_tokens"`
	UsageSource     string        `json:"usage_source,omitempty"`
	Status          string        `json:"status"`
	Error           string        `json:"error,omitempty"`
}

// EntryFromCompletion converts a limiter completion into a ledger entry
// without an ID.
func EntryFromCompletion(c ratelimit.Completion) *Entry {
	e := &Entry{
		RequestID:       c.RequestID,
		Limiter:         c.Limiter,
		Model:           c.Model,
		AdmittedAt:      c.AdmittedAt,
		CompletedAt:     c.CompletedAt,
		Waited:          c.Waited,
		EstimatedTokens: c.EstimatedTokens,
		Status:          StatusSuccess,
	}
	if c.Err != nil {
		e.Status = StatusError
		e.Error = c.Err.Error()
		return e
	}
	e.ActualTokens = c.ActualTokens
	e.UsageSource = string(c.UsageSource)
	return e
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	// Since and Until bound CompletedAt, inclusive.
	Since time.Time
	Until time.Time

	Limiter string
	Model   string
	Status  string

	// Limit caps the number of entries returned, oldest first.
	Limit int
}

func (f Filter) matches(e *Entry) bool {
	if !f.Since.IsZero() && e.CompletedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.CompletedAt.After(f.Until) {
		return false
	}
	if f.Limiter != "" && e.Limiter != f.Limiter {
		return false
	}
	if f.Model != "" && e.Model != f.Model {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

// Summary aggregates entries matched by a Filter.
type Summary struct {
	Requests        int `json:"requests"`
	Failures        int `json:"failures"`
	EstimatedTokens int `json:"estimated_tokens"`
	ActualTokens    int `json:"actual_tokens"`
	DegradedUsage   int `json:"degraded_usage"`
}

// Summarize totals entries.
func Summarize(entries []*Entry) Summary {
	var s Summary
	for _, e := range entries {
		s.Requests++
		s.EstimatedTokens += e.EstimatedTokens
		if e.Status == StatusError {
			s.Failures++
			continue
		}
		s.ActualTokens += e.ActualTokens
		if e.UsageSource == "none" {
			s.DegradedUsage++
		}
	}
	return s
}

// Store persists ledger entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append stores an entry. The entry's ID must be set.
	Append(ctx context.Context, e *Entry) error

	// Query returns entries matching f ordered by CompletedAt.
	Query(ctx context.Context, f Filter) ([]*Entry, error)

	// Prune deletes entries completed before olderThan and returns how many
	// were removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases the store's resources.
	Close() error
}
