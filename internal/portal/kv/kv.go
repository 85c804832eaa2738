// Package kv provides the key-value persistence the portal keeps its session
// record and activity log in. Values are opaque byte blobs (JSON in practice);
// the last writer wins and no versioning is kept.
package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("key not found")

// Store is a minimal key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// DataDir is used by the file and sqlite backends.
	DataDir string
	// DSN is used by the postgres and mysql backends.
	DSN string
}

// Open returns the backend named by opts.Backend. An empty backend selects
// the file store.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendMemory:
		return NewMemory(), nil
	case "", BackendFile:
		return NewFile(opts.DataDir)
	case BackendSQLite:
		return NewSQL(BackendSQLite, filepath.Join(opts.DataDir, "portal.db"))
	case BackendPostgres, "postgresql":
		return NewSQL(BackendPostgres, opts.DSN)
	case BackendMySQL:
		return NewSQL(BackendMySQL, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error { return nil }
