// Package activity provides the portal's bounded activity log: an ordered,
// newest-first record of logins, logouts and password operations.
package activity

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLimit is the maximum number of entries kept.
const DefaultLimit = 1000

// ActorSystem is recorded when no user is signed in.
const ActorSystem = "system"

// DefaultOrigin is recorded when the caller supplies no origin address.
const DefaultOrigin = "127.0.0.1"

// Action tags.
const (
	ActionLogin          = "login"
	ActionLoginFailed    = "login_failed"
	ActionLogout         = "logout"
	ActionSessionExpired = "session_expired"
	ActionPasswordChange = "password_change"
	ActionPasswordReset  = "password_reset"
)

// Entry is a single activity record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"user"`
	Action    string    `json:"action"`
	Detail    string    `json:"details"`
	Origin    string    `json:"ip"`
}

// Log is a newest-first, capped activity log.
type Log struct {
	mu      sync.RWMutex
	entries []Entry // newest first
	limit   int
}

// NewLog creates a log holding at most limit entries; limit <= 0 selects DefaultLimit.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{limit: limit}
}

// Limit returns the capacity of the log.
func (l *Log) Limit() int { return l.limit }

// Record prepends e, evicting the oldest entry when the log is full, and
// returns the stored entry with defaults filled in.
func (l *Log) Record(e Entry) Entry {
	enrich(&e)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = e
	if len(l.entries) > l.limit {
		l.entries = l.entries[:l.limit]
	}
	return e
}

// Recent returns up to n entries, newest first. n <= 0 returns all.
func (l *Log) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[:n])
	return out
}

// Count returns the number of entries held.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Replace swaps the log contents for entries (newest first), truncated to the limit.
func (l *Log) Replace(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(entries) > l.limit {
		entries = entries[:l.limit]
	}
	l.entries = append([]Entry(nil), entries...)
}

// MarshalJSON exports all entries, newest first.
func (l *Log) MarshalJSON() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

func enrich(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Actor == "" {
		e.Actor = ActorSystem
	}
	if e.Origin == "" {
		e.Origin = DefaultOrigin
	}
}
