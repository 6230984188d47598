// Package storage persists feedback history and stock preferences in a
// single SQLite database. The database lives in the user's home
// directory by default and is opened with WAL journaling and a single
// writer connection, which is how SQLite behaves best for a local
// single-user daemon.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds. The standard
// RFC3339Nano layout trims trailing zeros, which breaks the lexicographic
// ordering the created_at index relies on ("...T10:00:00Z" would sort
// after "...T10:00:00.5Z"). Fixed width keeps string order equal to
// time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const defaultBusyTimeout = 5 * time.Second

// Options configures database initialization.
type Options struct {
	// Path is the database file location. Empty means DefaultPath.
	Path string

	// BusyTimeout is how long SQLite waits on a locked database before
	// failing. Zero means a 5 second default.
	BusyTimeout time.Duration

	// Logger receives open and migration events. Nil means no logging.
	Logger *zap.Logger
}

// DB owns the SQLite connection and hands out the typed stores backed
// by it.
type DB struct {
	db        *sql.DB
	path      string
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// DefaultPath returns the default database location
// (~/.camlearnd/camlearnd.db).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".camlearnd", "camlearnd.db"), nil
}

// Open opens the database, applies pragmas, and runs migrations. The
// caller must call Close when done.
func Open(ctx context.Context, opts Options) (*DB, error) {
	path := opts.Path
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	// modernc.org/sqlite takes pragmas in the DSN as _pragma=name(value).
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		path, busy.Milliseconds())

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite behaves best with a single writer connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &DB{db: sqlDB, path: path, logger: logger}
	if err := d.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Debug("storage opened", zap.String("path", path))
	return d, nil
}

// Close checkpoints the WAL into the main database file and closes the
// connection. Safe to call multiple times.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		if d.db != nil {
			_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			d.closeErr = d.db.Close()
		}
	})
	return d.closeErr
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

// Feedback returns the feedback history store backed by this database.
func (d *DB) Feedback() *FeedbackStore {
	return &FeedbackStore{db: d.db}
}

// Preferences returns the stock preference store backed by this database.
func (d *DB) Preferences() *PreferenceStore {
	return &PreferenceStore{db: d.db}
}

// migrate brings the schema up to the current version, recording each
// applied migration in schema_meta.
func (d *DB) migrate(ctx context.Context) error {
	currentVersion := 0
	row := d.db.QueryRowContext(ctx, `SELECT version FROM schema_meta ORDER BY version DESC LIMIT 1`)
	if err := row.Scan(&currentVersion); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows), isTableNotFoundError(err):
			currentVersion = 0
		default:
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{version: 1, sql: migrationV1},
		{version: 2, sql: migrationV2},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := d.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration v%d failed: %w", m.version, err)
		}
		if _, err := d.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO schema_meta (version, applied_at_unix_ms) VALUES (?, ?)`,
			m.version, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		d.logger.Debug("migration applied", zap.Int("version", m.version))
	}
	return nil
}

func isTableNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "no such table")
}

// migrationV1 creates schema tracking and the feedback history table.
const migrationV1 = `
CREATE TABLE IF NOT EXISTS schema_meta (
  version INTEGER PRIMARY KEY,
  applied_at_unix_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cam_feedback_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  operation_type TEXT NOT NULL,
  material TEXT NOT NULL,
  geometry_type TEXT NOT NULL DEFAULT '',
  context_snapshot TEXT,
  suggestion_payload TEXT NOT NULL,
  user_choice TEXT,
  feedback_type TEXT NOT NULL,
  feedback_note TEXT NOT NULL DEFAULT '',
  confidence_before REAL NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_material_geometry
  ON cam_feedback_history(material, geometry_type);
CREATE INDEX IF NOT EXISTS idx_feedback_operation
  ON cam_feedback_history(operation_type);
CREATE INDEX IF NOT EXISTS idx_feedback_created
  ON cam_feedback_history(created_at DESC);
`

// migrationV2 adds the stock preference table.
const migrationV2 = `
CREATE TABLE IF NOT EXISTS cam_stock_preferences (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  material TEXT NOT NULL,
  geometry_type TEXT NOT NULL,
  offsets_xy_mm REAL NOT NULL DEFAULT 5.0,
  offsets_z_mm REAL NOT NULL DEFAULT 2.5,
  preferred_orientation TEXT,
  stock_shape TEXT NOT NULL DEFAULT 'rectangular',
  machining_allowance_mm REAL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  UNIQUE(material, geometry_type)
);
`
