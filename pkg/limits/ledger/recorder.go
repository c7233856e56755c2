package ledger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mercator-hq/chatgate/pkg/limits/ratelimit"
)

// RecorderConfig contains configuration for the async recorder.
type RecorderConfig struct {
	// BufferSize is the capacity of the write queue.
	// Default: 1000
	BufferSize int

	// EnqueueTimeout is how long ObserveCompletion waits for queue space
	// before dropping the entry.
	// Default: 100ms
	EnqueueTimeout time.Duration

	// WriteTimeout bounds each store write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// Recorder writes limiter completions to a Store in the background. It
// implements ratelimit.CompletionObserver.
type Recorder struct {
	store  Store
	config RecorderConfig
	logger *slog.Logger

	entries chan *Entry
	done    chan struct{}
	wg      sync.WaitGroup

	// mu is held shared by senders for the whole enqueue attempt and
	// exclusively by Close, so nothing is queued after the worker drains.
	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	dropped   atomic.Int64
	written   atomic.Int64
}

var _ ratelimit.CompletionObserver = (*Recorder)(nil)

// NewRecorder starts a recorder writing to store.
func NewRecorder(store Store, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		store:   store,
		config:  cfg,
		logger:  logger.With("component", "ledger.recorder"),
		entries: make(chan *Entry, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// ObserveCompletion enqueues c for writing. It never blocks longer than
// the enqueue timeout.
func (r *Recorder) ObserveCompletion(ctx context.Context, c ratelimit.Completion) {
	entry := EntryFromCompletion(c)
	entry.ID = uuid.NewString()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	timer := time.NewTimer(r.config.EnqueueTimeout)
	defer timer.Stop()

	select {
	case r.entries <- entry:
	case <-timer.C:
		r.dropped.Add(1)
		r.logger.Error("ledger queue full, dropping entry",
			"request_id", entry.RequestID,
			"capacity", r.config.BufferSize,
		)
	}
}

// Dropped returns the number of entries that were never written.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Written returns the number of entries stored.
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

// Close stops accepting entries, writes everything already queued and
// waits for the worker to exit. It does not close the store.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.done)
		r.mu.Unlock()

		r.wg.Wait()
		r.logger.Info("ledger recorder stopped",
			"written", r.written.Load(),
			"dropped", r.dropped.Load(),
		)
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case entry := <-r.entries:
			r.write(entry)
		case <-r.done:
			for {
				select {
				case entry := <-r.entries:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.store.Append(ctx, entry); err != nil {
		r.dropped.Add(1)
		r.logger.Error("failed to write ledger entry",
			"request_id", entry.RequestID,
			"error", err,
		)
		return
	}
	r.written.Add(1)
}
