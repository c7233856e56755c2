package ledger

import (
	"fmt"
	"log/slog"

	"mercator-hq/chatgate/pkg/config"
)

// Open creates the store selected by cfg.Backend.
func Open(cfg config.LedgerConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return NewSQLiteStore(SQLiteConfig{
			Path:        cfg.SQLite.Path,
			WALMode:     cfg.SQLite.WALMode,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
