package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQL keeps entries in a kv_entries table on sqlite, postgres or mysql.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

type dialect struct {
	driver string
	create string
	get    string
	upsert string
	delete string
}

var dialects = map[string]dialect{
	BackendSQLite: {
		driver: "sqlite",
		create: `CREATE TABLE IF NOT EXISTS kv_entries (
			entry_key   TEXT PRIMARY KEY,
			entry_value BLOB NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		get: `SELECT entry_value FROM kv_entries WHERE entry_key = ?`,
		upsert: `INSERT INTO kv_entries (entry_key, entry_value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(entry_key) DO UPDATE SET entry_value = excluded.entry_value, updated_at = excluded.updated_at`,
		delete: `DELETE FROM kv_entries WHERE entry_key = ?`,
	},
	BackendPostgres: {
		driver: "pgx", // pgx/v5/stdlib registers as "pgx"
		create: `CREATE TABLE IF NOT EXISTS kv_entries (
			entry_key   TEXT PRIMARY KEY,
			entry_value BYTEA NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		get: `SELECT entry_value FROM kv_entries WHERE entry_key = $1`,
		upsert: `INSERT INTO kv_entries (entry_key, entry_value, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (entry_key) DO UPDATE SET entry_value = EXCLUDED.entry_value, updated_at = EXCLUDED.updated_at`,
		delete: `DELETE FROM kv_entries WHERE entry_key = $1`,
	},
	BackendMySQL: {
		driver: "mysql",
		create: `CREATE TABLE IF NOT EXISTS kv_entries (
			entry_key   VARCHAR(255) PRIMARY KEY,
			entry_value LONGBLOB NOT NULL,
			updated_at  VARCHAR(64) NOT NULL
		)`,
		get: `SELECT entry_value FROM kv_entries WHERE entry_key = ?`,
		upsert: `INSERT INTO kv_entries (entry_key, entry_value, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE entry_value = VALUES(entry_value), updated_at = VALUES(updated_at)`,
		delete: `DELETE FROM kv_entries WHERE entry_key = ?`,
	},
}

// NewSQL opens the database for backend and migrates the schema. For sqlite
// dsn is a file path.
func NewSQL(backend, dsn string) (*SQL, error) {
	d, ok := dialects[backend]
	if !ok {
		return nil, fmt.Errorf("unsupported sql backend %q", backend)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s backend requires a DSN", backend)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", backend, err)
	}

	if backend == BackendSQLite {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy_timeout: %w", err)
		}
	}

	if _, err := db.Exec(d.create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv_entries table: %w", err)
	}

	return &SQL{db: db, dialect: d}, nil
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	if err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQL) Set(ctx context.Context, key string, value []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, key, value, now); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.delete, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying DB.
func (s *SQL) Close() error {
	return s.db.Close()
}
