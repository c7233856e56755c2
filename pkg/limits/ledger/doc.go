// Package ledger keeps a durable record of calls made through a rate
// limiter.
//
// Recorder implements ratelimit.CompletionObserver: pass it to
// ratelimit.WithObserver and every finished call, successful or not, is
// queued and written to a Store in the background. Writes never hold up
// the limiter; when the queue stays full the entry is dropped and counted.
//
// Two stores are provided. MemoryStore is for tests and short-lived
// processes. SQLiteStore uses the pure-Go modernc.org/sqlite driver and
// stores times as Unix nanoseconds.
//
// Pruner deletes entries older than a retention period and Scheduler runs it
// on a cron expression:
//
//	store, err := ledger.Open(cfg.Ledger, logger)
//	recorder := ledger.NewRecorder(store, ledger.RecorderConfig{BufferSize: 1000}, logger)
//	defer recorder.Close()
//
//	pruner := ledger.NewPruner(store, cfg.Ledger.Retention.Days, logger)
//	go ledger.NewScheduler(pruner, cfg.Ledger.Retention.Schedule).Run(ctx)
package ledger
