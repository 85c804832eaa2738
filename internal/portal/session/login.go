package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/activity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/challenge"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/identity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/metrics"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/telemetry"
	"go.uber.org/zap"
)

// ActivityKind is a user interaction that keeps the session alive.
type ActivityKind string

const (
	ActivityPointer ActivityKind = "pointer"
	ActivityKey     ActivityKind = "key"
	ActivityClick   ActivityKind = "click"
)

func (k ActivityKind) valid() bool {
	switch k {
	case ActivityPointer, ActivityKey, ActivityClick:
		return true
	}
	return false
}

// IssueChallenge generates a new human-verification challenge, replacing any
// outstanding one.
func (m *Manager) IssueChallenge() (challenge.Challenge, error) {
	return m.challenges.Issue()
}

// Login authenticates creds. Checks run in order: challenge, lockout,
// credentials. Any failure leaves the current session untouched.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*Record, error) {
	ctx, span := telemetry.StartLoginSpan(ctx, creds.Username, creds.Institution)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateAuthenticating

	rec, outcome, err := m.loginLocked(ctx, creds)
	if err != nil {
		m.state = StateAnonymous
		if m.current != nil {
			m.state = StateActive
		}
		m.metrics.RecordLogin(outcome)
		m.metrics.SetFailedAttempts(m.failedAttempts)
		telemetry.EndLoginSpan(span, outcome, m.failedAttempts, err)
		m.logger.Info("login rejected",
			zap.String("username", creds.Username),
			zap.String("outcome", outcome),
			zap.Int("failed_attempts", m.failedAttempts),
		)
		return nil, err
	}

	m.metrics.RecordLogin(outcome)
	m.metrics.SetFailedAttempts(0)
	m.metrics.SetActive(true)
	telemetry.EndLoginSpan(span, outcome, 0, nil)
	m.logger.Info("login",
		zap.String("username", rec.Username),
		zap.String("role", string(rec.Role)),
		zap.String("session_id", rec.ID),
	)
	return rec.clone(), nil
}

func (m *Manager) loginLocked(ctx context.Context, creds Credentials) (*Record, string, error) {
	if m.opts.ChallengeRequired {
		if err := m.challenges.Verify(creds.ChallengeResponse); err != nil {
			return nil, metrics.OutcomeChallengeFailed, fmt.Errorf("%w: %w", ErrChallenge, err)
		}
	}

	if m.failedAttempts >= m.opts.MaxLoginAttempts {
		return nil, metrics.OutcomeLockedOut, ErrLockedOut
	}

	id, err := identity.Verify(m.identities, creds.Username, creds.Secret)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			return nil, metrics.OutcomeError, fmt.Errorf("verify credentials: %w", err)
		}
		m.failedAttempts++
		m.activity.Record(ctx, activity.Entry{
			Timestamp: m.now(),
			Actor:     creds.Username,
			Action:    activity.ActionLoginFailed,
			Detail:    fmt.Sprintf("failed attempt %d of %d", m.failedAttempts, m.opts.MaxLoginAttempts),
			Origin:    creds.Origin,
		})
		return nil, metrics.OutcomeInvalidCredentials, ErrInvalidCredentials
	}

	sessionID, err := newSessionID()
	if err != nil {
		return nil, metrics.OutcomeError, err
	}

	if m.current != nil {
		m.endLocked(ctx, metrics.ReasonReplaced)
	}

	profile := id.Clone()
	profile.SecretHash = ""

	now := m.now()
	rec := &Record{
		ID:           sessionID,
		Username:     id.Username,
		DisplayName:  id.DisplayName,
		Role:         id.Role,
		Institution:  creds.Institution,
		Identity:     profile,
		Origin:       creds.Origin,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := m.persist(ctx, rec, now); err != nil {
		return nil, metrics.OutcomeError, err
	}

	m.failedAttempts = 0
	m.current = rec
	m.state = StateActive
	m.challenges.Clear()

	detail := "login"
	if rec.Institution != "" {
		detail = "login to " + rec.Institution
	}
	m.activity.Record(ctx, activity.Entry{
		Timestamp: now,
		Actor:     rec.Username,
		Action:    activity.ActionLogin,
		Detail:    detail,
		Origin:    rec.Origin,
	})
	return rec, metrics.OutcomeSuccess, nil
}

// Logout ends the current session, removes the persisted record and drops any
// outstanding challenge. It is safe to call without a session.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.challenges.Clear()
	if m.current != nil {
		return m.endLocked(ctx, metrics.ReasonLogout)
	}
	if err := m.unpersist(ctx); err != nil {
		return err
	}
	m.state = StateAnonymous
	return nil
}

// endLocked destroys the current session. The in-memory state is always
// cleared; the returned error reports a failure to remove the persisted record.
func (m *Manager) endLocked(ctx context.Context, reason string) error {
	rec := m.current
	ctx, span := telemetry.StartSessionEndSpan(ctx, rec.Username, reason)

	m.current = nil
	m.state = StateAnonymous
	err := m.unpersist(ctx)

	action, detail := activity.ActionLogout, "logout"
	switch reason {
	case metrics.ReasonIdleTimeout:
		action, detail = activity.ActionSessionExpired, "session expired after inactivity"
	case metrics.ReasonReplaced:
		detail = "session replaced by a new login"
	}
	m.activity.Record(ctx, activity.Entry{
		Timestamp: m.now(),
		Actor:     rec.Username,
		Action:    action,
		Detail:    detail,
		Origin:    rec.Origin,
	})
	m.metrics.RecordSessionEnd(reason)
	m.logger.Info("session ended",
		zap.String("username", rec.Username),
		zap.String("session_id", rec.ID),
		zap.String("reason", reason),
	)
	telemetry.EndSpan(span, err)
	return err
}

// Touch records a user interaction. It refreshes LastActivity only while a
// session is active.
func (m *Manager) Touch(kind ActivityKind) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownActivity, kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNotAuthenticated
	}
	m.current.LastActivity = m.now()
	return nil
}

// CheckIdle ends the session when it has been idle for at least the session
// timeout. It reports whether a session was ended.
func (m *Manager) CheckIdle(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false
	}
	idle := m.now().Sub(m.current.LastActivity)
	if idle < m.opts.Timeout {
		return false
	}

	m.state = StateExpired
	m.notifier.Notify(ctx, Notice{
		Kind:     NoticeSessionExpired,
		Username: m.current.Username,
		Message:  "Session expired due to inactivity. Please log in again.",
	})
	if err := m.endLocked(ctx, metrics.ReasonIdleTimeout); err != nil {
		m.logger.Warn("remove expired session record", zap.Error(err))
	}
	return true
}
