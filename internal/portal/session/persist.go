package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/kv"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/metrics"
	"go.uber.org/zap"
)

// persisted is the stored form: {"user": Record, "timestamp": epoch-ms}.
type persisted struct {
	User      *Record `json:"user"`
	Timestamp int64   `json:"timestamp"`
}

func (m *Manager) persist(ctx context.Context, rec *Record, at time.Time) error {
	data, err := json.Marshal(persisted{User: rec, Timestamp: at.UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Set(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (m *Manager) unpersist(ctx context.Context) error {
	if err := m.store.Delete(ctx, StorageKey); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("remove persisted session: %w", err)
	}
	return nil
}

// Restore adopts the persisted session when it is younger than the session
// timeout. Stale and malformed records are removed. It reports whether a
// session was adopted; only storage failures are returned as errors.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.store.Get(ctx, StorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		m.metrics.RecordRestore(metrics.RestoreNone)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load persisted session: %w", err)
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil || p.User == nil || p.User.Username == "" {
		if err == nil {
			err = errors.New("missing user")
		}
		m.logger.Warn("discarding malformed session record", zap.Error(err))
		m.metrics.RecordRestore(metrics.RestoreMalformed)
		return false, m.unpersist(ctx)
	}

	now := m.now()
	age := now.Sub(time.UnixMilli(p.Timestamp))
	if age >= m.opts.Timeout {
		m.logger.Info("discarding stale session record",
			zap.String("username", p.User.Username),
			zap.Duration("age", age),
		)
		m.metrics.RecordRestore(metrics.RestoreStale)
		return false, m.unpersist(ctx)
	}

	rec := p.User.clone()
	rec.LastActivity = now
	m.current = rec
	m.state = StateActive
	m.metrics.RecordRestore(metrics.RestoreAdopted)
	m.metrics.SetActive(true)
	m.logger.Info("session restored",
		zap.String("username", rec.Username),
		zap.String("session_id", rec.ID),
	)
	return true, nil
}
