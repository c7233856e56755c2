// Package logging provides structured logging with credential redaction.
//
// Logger wraps log/slog with JSON or text output, optional size-rotated
// log files, and masking of API keys and bearer tokens in log fields.
//
//	logger, err := logging.New(logging.Config{
//	    Level:     "info",
//	    Format:    "json",
//	    RedactPII: true,
//	})
//
//	ctx = logging.WithRequestID(ctx, id)
//	logger.InfoContext(ctx, "admitted", "waited", waited)  // adds request_id
//
// Values under keys containing "token", "secret", "auth" and similar are
// masked whole, except numbers, so fields such as "actual_tokens" survive.
package logging
