package worker

import (
	"context"

	"go.uber.org/zap"

	"mentorhub/internal/db"
)

// Sender is the messaging channel the dispatcher delivers through.
// Duplicates are acceptable at the channel level; the queue provides
// at-least-once, not exactly-once.
type Sender interface {
	Send(ctx context.Context, notif *db.Notification) error
}

// LogSender logs notifications instead of delivering them
// (for development when no bot token is configured).
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, notif *db.Notification) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("id", notif.ID.String()),
		zap.Int64("user_id", notif.UserID),
		zap.String("text", notif.Text),
	)
	return nil
}
