package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/kv"
	"go.uber.org/zap"
)

// StorageKey is the key the log is persisted under.
const StorageKey = "bnr_activity_logs"

// Store wraps the in-memory Log and mirrors it to a kv.Store as a JSON array.
type Store struct {
	log    *Log
	kv     kv.Store
	logger *zap.Logger
}

// NewStore creates a persistent log and loads any previously stored entries.
// A malformed stored blob is discarded with a warning.
func NewStore(ctx context.Context, store kv.Store, limit int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{log: NewLog(limit), kv: store, logger: logger}

	data, err := store.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load activity log: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("discarding malformed activity log", zap.Error(err))
		if err := store.Delete(ctx, StorageKey); err != nil {
			return nil, fmt.Errorf("discard activity log: %w", err)
		}
		return s, nil
	}
	s.log.Replace(entries)
	return s, nil
}

// Record appends e and persists the whole log. Persistence failures are
// logged; the in-memory entry is kept.
func (s *Store) Record(ctx context.Context, e Entry) Entry {
	stored := s.log.Record(e)

	data, err := s.log.MarshalJSON()
	if err == nil {
		err = s.kv.Set(ctx, StorageKey, data)
	}
	if err != nil {
		s.logger.Warn("persist activity log", zap.Error(err))
	}

	s.logger.Info("activity",
		zap.String("user", stored.Actor),
		zap.String("action", stored.Action),
		zap.String("details", stored.Detail),
		zap.String("ip", stored.Origin),
	)
	return stored
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(n int) []Entry {
	return s.log.Recent(n)
}

// Count returns the number of entries held.
func (s *Store) Count() int {
	return s.log.Count()
}
