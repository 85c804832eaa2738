// Package session owns the portal's single live session: login and logout,
// idle expiry, persistence of the session record, and role/permission checks.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/activity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/challenge"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/identity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/kv"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/metrics"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/secret"
	"go.uber.org/zap"
)

const (
	DefaultTimeout           = 30 * time.Minute
	DefaultIdleCheckInterval = 60 * time.Second
	DefaultMaxLoginAttempts  = 5
	DefaultActivityPageSize  = 50

	// StorageKey is the kv key of the persisted session record.
	StorageKey = "bnr_session"
)

var (
	ErrChallenge          = errors.New("human verification failed")
	ErrLockedOut          = errors.New("too many failed login attempts")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrUnknownActivity    = errors.New("unknown activity kind")
	ErrInvalidCredentials = identity.ErrInvalidCredentials
	ErrNotFound           = identity.ErrNotFound
	ErrWeakSecret         = secret.ErrWeakSecret
)

// State is the session state machine position.
type State string

const (
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateActive         State = "active"
	StateExpired        State = "expired"
)

// Record is the live session.
type Record struct {
	ID           string            `json:"session_id"`
	Username     string            `json:"username"`
	DisplayName  string            `json:"name"`
	Role         identity.Role     `json:"role"`
	Institution  string            `json:"bank"`
	Identity     identity.Identity `json:"user_data"`
	Origin       string            `json:"ip,omitempty"`
	CreatedAt    time.Time         `json:"login_time"`
	LastActivity time.Time         `json:"last_activity"`
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Identity = r.Identity.Clone()
	return &out
}

// Credentials is one login attempt.
type Credentials struct {
	Username          string
	Secret            string
	Institution       string
	ChallengeResponse string
	Origin            string
}

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Timeout           time.Duration
	IdleCheckInterval time.Duration
	MaxLoginAttempts  int
	ChallengeRequired bool
	ChallengeTTL      time.Duration
	TempSecretLength  int
	// HashCost is the bcrypt cost for new secrets; 0 selects bcrypt.DefaultCost.
	HashCost int

	Metrics  *metrics.Metrics
	Notifier Notifier
	Now      func() time.Time
}

// Manager holds the session context. All operations are serialized by mu.
type Manager struct {
	mu sync.Mutex

	identities identity.Store
	store      kv.Store
	activity   *activity.Store
	challenges *challenge.Store
	metrics    *metrics.Metrics
	notifier   Notifier
	logger     *zap.Logger
	now        func() time.Time
	opts       Options

	state          State
	current        *Record
	failedAttempts int

	events chan Event
}

// NewManager creates a Manager in the Anonymous state. Call Restore to adopt
// a persisted session.
func NewManager(ids identity.Store, store kv.Store, log *activity.Store, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.IdleCheckInterval <= 0 {
		opts.IdleCheckInterval = DefaultIdleCheckInterval
	}
	if opts.MaxLoginAttempts <= 0 {
		opts.MaxLoginAttempts = DefaultMaxLoginAttempts
	}
	if opts.TempSecretLength <= 0 {
		opts.TempSecretLength = secret.DefaultTempLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: logger}
	}

	challenges := challenge.NewStore(opts.ChallengeTTL)
	challenges.SetClock(opts.Now)

	return &Manager{
		identities: ids,
		store:      store,
		activity:   log,
		challenges: challenges,
		metrics:    opts.Metrics,
		notifier:   opts.Notifier,
		logger:     logger,
		now:        opts.Now,
		opts:       opts,
		state:      StateAnonymous,
		events:     make(chan Event, 64),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsAuthenticated reports whether a session is active.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Current returns a copy of the active session, or nil.
func (m *Manager) Current() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.clone()
}

// FailedAttempts returns the global failed-login counter.
func (m *Manager) FailedAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failedAttempts
}

// HasRole reports whether the session holds role. A superadmin session
// satisfies every role.
func (m *Manager) HasRole(role identity.Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasRoleLocked(role)
}

func (m *Manager) hasRoleLocked(role identity.Role) bool {
	if m.current == nil {
		return false
	}
	return m.current.Role == identity.RoleSuperAdmin || m.current.Role == role
}

// HasPermission reports whether the session holds tag. Superadmin and the
// "all" permission satisfy every tag.
func (m *Manager) HasPermission(tag string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasPermissionLocked(tag)
}

func (m *Manager) hasPermissionLocked(tag string) bool {
	if m.current == nil {
		return false
	}
	if m.current.Role == identity.RoleSuperAdmin {
		return true
	}
	return m.current.Identity.HasPermission(tag)
}

// ActivityLog returns up to limit entries, newest first. limit <= 0 selects
// DefaultActivityPageSize.
func (m *Manager) ActivityLog(limit int) []activity.Entry {
	if limit <= 0 {
		limit = DefaultActivityPageSize
	}
	return m.activity.Recent(limit)
}

func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return "sess_" + hex.EncodeToString(b), nil
}
