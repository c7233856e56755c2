package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SchemaVersion is the current ledger schema version.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	limiter TEXT NOT NULL,
	model TEXT NOT NULL,
	admitted_at INTEGER NOT NULL,
	completed_at INTEGER NOT NULL,
	waited_ns INTEGER NOT NULL,
	estimated_tokens INTEGER NOT NULL,
	actual_tokens INTEGER NOT NULL,
	usage_source TEXT,
	status TEXT NOT NULL,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_ledger_completed_at ON ledger_entries(completed_at);
CREATE INDEX IF NOT EXISTS idx_ledger_limiter ON ledger_entries(limiter);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`

const entryColumns = `id, request_id, limiter, model, admitted_at, completed_at, waited_ns,
	estimated_tokens, actual_tokens, usage_source, status, error`

// SQLiteConfig contains configuration for the SQLite store.
type SQLiteConfig struct {
	// Path is the database file. Parent directories are created.
	Path string

	// WALMode enables write-ahead logging.
	WALMode bool

	// BusyTimeout is how long to wait for a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteStore persists entries in a SQLite database using the pure-Go
// modernc driver.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	appendStmt *sql.Stmt
	pruneStmt  *sql.Stmt

	closeOnce sync.Once
}

// NewSQLiteStore opens or creates the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig, logger *slog.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, newStoreError("sqlite", "open", errors.New("db path cannot be empty"))
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger.sqlite")

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, newStoreError("sqlite", "mkdir", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	if cfg.WALMode {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, newStoreError("sqlite", "open", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: cfg.Path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("ledger database opened", "path", cfg.Path, "wal_mode", cfg.WALMode)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec(schema); err != nil {
		return newStoreError("sqlite", "create_schema", err)
	}

	_, err := s.db.Exec(
		`INSERT INTO schema_version (version, applied_at) VALUES (?, ?) ON CONFLICT(version) DO NOTHING`,
		SchemaVersion, time.Now().UnixNano(),
	)
	if err != nil {
		return newStoreError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version); err != nil {
		return newStoreError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return newStoreError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.appendStmt, err = s.db.Prepare(`INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return newStoreError("sqlite", "prepare_append", err)
	}

	s.pruneStmt, err = s.db.Prepare(`DELETE FROM ledger_entries WHERE completed_at < ?`)
	if err != nil {
		return newStoreError("sqlite", "prepare_prune", err)
	}
	return nil
}

// Append inserts e.
func (s *SQLiteStore) Append(ctx context.Context, e *Entry) error {
	if e == nil || e.ID == "" {
		return newStoreError("sqlite", "append", errors.New("entry id is required"))
	}

	_, err := s.appendStmt.ExecContext(ctx,
		e.ID,
		e.RequestID,
		e.Limiter,
		e.Model,
		e.AdmittedAt.UnixNano(),
		e.CompletedAt.UnixNano(),
		int64(e.Waited),
		e.EstimatedTokens,
		e.ActualTokens,
		nullString(e.UsageSource),
		e.Status,
		nullString(e.Error),
	)
	if err != nil {
		return newStoreError("sqlite", "append", err)
	}
	return nil
}

// Query returns entries matching f ordered by completion time.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	var where []string
	var args []any

	if !f.Since.IsZero() {
		where = append(where, "completed_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "completed_at <= ?")
		args = append(args, f.Until.UnixNano())
	}
	if f.Limiter != "" {
		where = append(where, "limiter = ?")
		args = append(args, f.Limiter)
	}
	if f.Model != "" {
		where = append(where, "model = ?")
		args = append(args, f.Model)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := "SELECT " + entryColumns + " FROM ledger_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY completed_at ASC, rowid ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newStoreError("sqlite", "query", err)
	}
	defer rows.Close()

	results := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, newStoreError("sqlite", "scan", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError("sqlite", "query", err)
	}
	return results, nil
}

// Prune deletes entries completed before olderThan.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.pruneStmt.ExecContext(ctx, olderThan.UnixNano())
	if err != nil {
		return 0, newStoreError("sqlite", "prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, newStoreError("sqlite", "prune", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.appendStmt != nil {
			s.appendStmt.Close()
		}
		if s.pruneStmt != nil {
			s.pruneStmt.Close()
		}
		err = s.db.Close()
		s.logger.Info("ledger database closed", "path", s.path)
	})
	return err
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e                      Entry
		admitted, completed    int64
		waited                 int64
		usageSource, errorText sql.NullString
	)
	err := rows.Scan(
		&e.ID,
		&e.RequestID,
		&e.Limiter,
		&e.Model,
		&admitted,
		&completed,
		&waited,
		&e.EstimatedTokens,
		&e.ActualTokens,
		&usageSource,
		&e.Status,
		&errorText,
	)
	if err != nil {
		return nil, err
	}

	e.AdmittedAt = time.Unix(0, admitted).UTC()
	e.CompletedAt = time.Unix(0, completed).UTC()
	e.Waited = time.Duration(waited)
	e.UsageSource = usageSource.String
	e.Error = errorText.String
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
