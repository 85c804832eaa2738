package identity

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore persists identities in SQLite so password changes survive restarts.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (or creates) the SQLite-backed identity store and migrates schema.
func NewSQLStore(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open identities db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS identities (
		username     TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		secret_hash  TEXT NOT NULL,
		role         TEXT NOT NULL CHECK (role IN ('client', 'operator', 'admin', 'superadmin')),
		email        TEXT NOT NULL DEFAULT '',
		phone        TEXT NOT NULL DEFAULT '',
		institution  TEXT NOT NULL DEFAULT '',
		permissions  TEXT NOT NULL DEFAULT '[]',
		updated_at   TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create identities table: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// Insert adds id. Existing usernames yield ErrDuplicate.
func (s *SQLStore) Insert(id Identity) error {
	if err := validate(id); err != nil {
		return err
	}
	perms, err := json.Marshal(nonNil(id.Permissions))
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO identities (username, display_name, secret_hash, role, email, phone, institution, permissions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.Username, id.DisplayName, id.SecretHash, string(id.Role), id.Email, id.Phone, id.Institution,
		string(perms), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicate, id.Username)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// Seed inserts every identity that is not stored yet and leaves existing rows,
// including changed passwords, untouched. It returns the number inserted.
func (s *SQLStore) Seed(ids []Identity) (int, error) {
	inserted := 0
	for _, id := range ids {
		err := s.Insert(id)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// Find returns the identity named username.
func (s *SQLStore) Find(username string) (Identity, error) {
	row := s.db.QueryRow(`SELECT username, display_name, secret_hash, role, email, phone, institution, permissions
		FROM identities WHERE username = ?`, username)
	return scanIdentity(row)
}

// UpdateSecret replaces the password hash of username.
func (s *SQLStore) UpdateSecret(username, secretHash string) error {
	res, err := s.db.Exec(`UPDATE identities SET secret_hash = ?, updated_at = ? WHERE username = ?`,
		secretHash, time.Now().UTC().Format(time.RFC3339Nano), username)
	if err != nil {
		return fmt.Errorf("update secret: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all identities sorted by username.
func (s *SQLStore) List() ([]Identity, error) {
	rows, err := s.db.Query(`SELECT username, display_name, secret_hash, role, email, phone, institution, permissions
		FROM identities ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	out := make([]Identity, 0)
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list identities rows: %w", err)
	}
	return out, nil
}

// Close closes the underlying DB.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(s scanner) (Identity, error) {
	var (
		id    Identity
		role  string
		perms string
	)
	if err := s.Scan(&id.Username, &id.DisplayName, &id.SecretHash, &role, &id.Email, &id.Phone, &id.Institution, &perms); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("scan identity: %w", err)
	}
	id.Role = Role(role)
	if err := json.Unmarshal([]byte(perms), &id.Permissions); err != nil {
		return Identity{}, fmt.Errorf("decode permissions for %s: %w", id.Username, err)
	}
	if len(id.Permissions) == 0 {
		id.Permissions = nil
	}
	return id, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
