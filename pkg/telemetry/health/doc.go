// Package health provides liveness and readiness probes.
//
// Liveness never runs checks: if the handler answers, the process is alive.
// Readiness runs every registered check concurrently with a per-check
// timeout and reports 503 if any fails. The serve command registers a check
// for the upstream provider's recent failures and one for the ledger store.
//
//	checker := health.New(2 * time.Second)
//	checker.Register("ledger", func(ctx context.Context) error {
//		_, err := store.Query(ctx, ledger.Filter{Limit: 1})
//		return err
//	})
//	router.Get("/ready", checker.ReadinessHandler())
package health
