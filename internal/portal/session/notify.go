package session

import (
	"context"

	"go.uber.org/zap"
)

// Notice kinds.
const (
	NoticeSessionExpired = "session_expired"
)

// Notice is a user-facing message raised by the session manager.
type Notice struct {
	Kind     string `json:"kind"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Notifier delivers notices to the user. It is called with the manager lock
// held and must not call back into the Manager.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// LogNotifier writes notices to a zap logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notice) {
	l.Logger.Warn(n.Message,
		zap.String("kind", n.Kind),
		zap.String("username", n.Username),
	)
}
