package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/l1jgo/modbus/internal/config"
	"github.com/l1jgo/modbus/internal/diag"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DiagnosticStore persists captured bus diagnostics.
type DiagnosticStore interface {
	// WriteBatch stores entries atomically: all or none.
	WriteBatch(ctx context.Context, entries []diag.Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]diag.Entry, error)
	Close() error
}

// OpenDiagnosticStore connects to the configured driver and applies
// migrations.
func OpenDiagnosticStore(ctx context.Context, cfg config.DiagnosticsConfig, log *zap.Logger) (DiagnosticStore, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := NewDB(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, db.Pool); err != nil {
			db.Close()
			return nil, err
		}
		return NewPgDiagnosticRepo(db), nil
	case "sqlite":
		return OpenSQLiteDiagnosticRepo(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown diagnostics driver %q", cfg.Driver)
	}
}

// ---------- postgres ----------

type PgDiagnosticRepo struct {
	db *DB
}

func NewPgDiagnosticRepo(db *DB) *PgDiagnosticRepo {
	return &PgDiagnosticRepo{db: db}
}

func (r *PgDiagnosticRepo) WriteBatch(ctx context.Context, entries []diag.Entry) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("diag begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO bus_diagnostics (logged_at, level, message, event_name, mod_name, fields)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.Time, e.Level, e.Message, e.Event, e.Mod, nullableFields(e.Fields),
		); err != nil {
			return fmt.Errorf("diag insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PgDiagnosticRepo) Recent(ctx context.Context, limit int) ([]diag.Entry, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT logged_at, level, message, event_name, mod_name, COALESCE(fields::text, '')
		 FROM bus_diagnostics ORDER BY id DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("diag query: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (diag.Entry, error) {
		var e diag.Entry
		err := row.Scan(&e.Time, &e.Level, &e.Message, &e.Event, &e.Mod, &e.Fields)
		return e, err
	})
}

func (r *PgDiagnosticRepo) Close() error {
	r.db.Close()
	return nil
}

// ---------- sqlite ----------

type SQLiteDiagnosticRepo struct {
	sqlDB *sql.DB
}

// OpenSQLiteDiagnosticRepo opens (creating if needed) the database file at
// path and applies migrations.
func OpenSQLiteDiagnosticRepo(ctx context.Context, path string) (*SQLiteDiagnosticRepo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := RunSQLiteMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &SQLiteDiagnosticRepo{sqlDB: sqlDB}, nil
}

func (r *SQLiteDiagnosticRepo) WriteBatch(ctx context.Context, entries []diag.Entry) error {
	tx, err := r.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("diag begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bus_diagnostics (logged_at, level, message, event_name, mod_name, fields)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("diag prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Time.UTC().UnixMilli(), e.Level, e.Message, e.Event, e.Mod, nullableFields(e.Fields),
		); err != nil {
			return fmt.Errorf("diag insert: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteDiagnosticRepo) Recent(ctx context.Context, limit int) ([]diag.Entry, error) {
	rows, err := r.sqlDB.QueryContext(ctx,
		`SELECT logged_at, level, message, event_name, mod_name, COALESCE(fields, '')
		 FROM bus_diagnostics ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("diag query: %w", err)
	}
	defer rows.Close()

	var out []diag.Entry
	for rows.Next() {
		var (
			e      diag.Entry
			millis int64
		)
		if err := rows.Scan(&millis, &e.Level, &e.Message, &e.Event, &e.Mod, &e.Fields); err != nil {
			return nil, fmt.Errorf("diag scan: %w", err)
		}
		e.Time = time.UnixMilli(millis).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteDiagnosticRepo) Close() error {
	if r == nil || r.sqlDB == nil {
		return nil
	}
	return r.sqlDB.Close()
}

// nullableFields stores an empty field set as NULL.
func nullableFields(s string) any {
	if s == "" {
		return nil
	}
	return s
}
