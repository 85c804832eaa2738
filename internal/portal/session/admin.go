package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/activity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/identity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/metrics"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/secret"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/telemetry"
	"go.uber.org/zap"
)

// ChangeSecret replaces the session owner's password after checking the old
// one and the password policy.
func (m *Manager) ChangeSecret(ctx context.Context, oldSecret, newSecret string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNotAuthenticated
	}
	username := m.current.Username

	ctx, span := telemetry.StartSecretSpan(ctx, metrics.OperationChange, username, username)
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultFailure
		}
		m.metrics.RecordSecretOperation(metrics.OperationChange, result)
		telemetry.EndSpan(span, err)
	}()

	if _, err := identity.Verify(m.identities, username, oldSecret); err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return fmt.Errorf("current password: %w", ErrInvalidCredentials)
		}
		return err
	}
	if err := secret.Validate(newSecret); err != nil {
		return err
	}

	hash, err := m.hash(newSecret)
	if err != nil {
		return err
	}
	if err := m.identities.UpdateSecret(username, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	m.activity.Record(ctx, activity.Entry{
		Timestamp: m.now(),
		Actor:     username,
		Action:    activity.ActionPasswordChange,
		Detail:    "password changed",
		Origin:    m.current.Origin,
	})
	m.logger.Info("password changed", zap.String("username", username))
	return nil
}

// ResetSecret sets a random temporary password for username and returns it in
// clear text. The caller must hold the reset_passwords permission.
func (m *Manager) ResetSecret(ctx context.Context, username string) (temp string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	actor := activity.ActorSystem
	origin := ""
	if m.current != nil {
		actor = m.current.Username
		origin = m.current.Origin
	}

	ctx, span := telemetry.StartSecretSpan(ctx, metrics.OperationReset, actor, username)
	defer func() {
		result := metrics.ResultSuccess
		switch {
		case errors.Is(err, ErrPermissionDenied):
			result = metrics.ResultDenied
		case err != nil:
			result = metrics.ResultFailure
		}
		m.metrics.RecordSecretOperation(metrics.OperationReset, result)
		telemetry.EndSpan(span, err)
	}()

	if !m.hasPermissionLocked(identity.PermResetPasswords) {
		return "", ErrPermissionDenied
	}
	if _, err := m.identities.Find(username); err != nil {
		return "", err
	}

	temp, err = secret.Temporary(m.opts.TempSecretLength)
	if err != nil {
		return "", err
	}
	hash, err := m.hash(temp)
	if err != nil {
		return "", err
	}
	if err := m.identities.UpdateSecret(username, hash); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}

	m.activity.Record(ctx, activity.Entry{
		Timestamp: m.now(),
		Actor:     actor,
		Action:    activity.ActionPasswordReset,
		Detail:    "password reset for " + username,
		Origin:    origin,
	})
	m.logger.Info("password reset",
		zap.String("actor", actor),
		zap.String("target", username),
	)
	return temp, nil
}

func (m *Manager) hash(s string) (string, error) {
	if m.opts.HashCost > 0 {
		return secret.HashCost(s, m.opts.HashCost)
	}
	return secret.Hash(s)
}
