package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Dispatch when the event queue is saturated.
var ErrQueueFull = errors.New("session event queue full")

// Event is a message handled by Run.
type Event interface {
	event()
}

// ActivityEvent reports a user interaction.
type ActivityEvent struct {
	Kind ActivityKind
}

// LogoutEvent requests a logout.
type LogoutEvent struct{}

func (ActivityEvent) event() {}
func (LogoutEvent) event()   {}

// Dispatch queues ev for Run without blocking.
func (m *Manager) Dispatch(ev Event) error {
	select {
	case m.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run schedules the idle check and handles dispatched events until ctx is
// done.
func (m *Manager) Run(ctx context.Context) error {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", m.opts.IdleCheckInterval)
	if _, err := c.AddFunc(spec, func() {
		if m.CheckIdle(ctx) {
			m.logger.Info("idle session expired")
		}
	}); err != nil {
		return fmt.Errorf("schedule idle check: %w", err)
	}

	c.Start()
	defer func() { <-c.Stop().Done() }()

	m.logger.Info("session loop started", zap.Duration("idle_check_interval", m.opts.IdleCheckInterval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			m.handle(ctx, ev)
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case ActivityEvent:
		if err := m.Touch(e.Kind); err != nil && !errors.Is(err, ErrNotAuthenticated) {
			m.logger.Debug("ignored activity event", zap.Error(err))
		}
	case LogoutEvent:
		if err := m.Logout(ctx); err != nil {
			m.logger.Warn("logout", zap.Error(err))
		}
	}
}
