package worker

import (
	"context"

	"go.uber.org/zap"

	"mentorhub/internal/db"
	"mentorhub/internal/telegram"
)

// TelegramSender delivers notifications through the Telegram Bot API.
// The recipient's user id doubles as the Telegram chat id.
type TelegramSender struct {
	client *telegram.Client
	logger *zap.Logger
}

func NewTelegramSender(client *telegram.Client, logger *zap.Logger) *TelegramSender {
	return &TelegramSender{
		client: client,
		logger: logger,
	}
}

func (s *TelegramSender) Send(ctx context.Context, notif *db.Notification) error {
	if err := s.client.SendMessage(ctx, notif.UserID, notif.Text); err != nil {
		return err
	}

	s.logger.Info("notification delivered",
		zap.String("id", notif.ID.String()),
		zap.Int64("user_id", notif.UserID),
	)
	return nil
}
