package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mentorhub/internal/db"
	"mentorhub/internal/metrics"
	"mentorhub/internal/telegram"
)

// Queue is the durable notification mailbox the dispatcher drains.
type Queue interface {
	ListDueNotifications(ctx context.Context, now time.Time) ([]*db.Notification, error)
	DeleteNotifications(ctx context.Context, ids []uuid.UUID) error
}

// Dispatcher delivers due notifications through the messaging channel and
// removes exactly the ones confirmed delivered. A failed recipient stays in
// the queue and is retried on the next tick, so delivery is at-least-once: a
// crash between send and delete re-sends on the following tick.
type Dispatcher struct {
	queue  Queue
	sender Sender
	logger *zap.Logger
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(queue Queue, sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		sender: sender,
		logger: logger,
	}
}

// DispatchDue loads the due set in one read, attempts each delivery with
// per-recipient failure isolation, then deletes the delivered set in one
// batch. A wholly unusable channel (rejected credentials) aborts the tick.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) (delivered, failed int, err error) {
	notifs, err := d.queue.ListDueNotifications(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("load due notifications: %w", err)
	}
	if len(notifs) == 0 {
		return 0, 0, nil
	}

	sentIDs := make([]uuid.UUID, 0, len(notifs))
	for _, notif := range notifs {
		if err := d.sender.Send(ctx, notif); err != nil {
			if errors.Is(err, telegram.ErrUnauthorized) {
				// Not a per-recipient problem; no point trying the rest.
				// Anything already delivered still comes off the queue so
				// it is not re-sent once the credentials are fixed.
				if len(sentIDs) > 0 {
					if derr := d.queue.DeleteNotifications(ctx, sentIDs); derr != nil {
						d.logger.Warn("failed to delete delivered notifications on aborted pass",
							zap.Error(derr),
							zap.Int("delivered", delivered),
						)
					}
				}
				return delivered, failed, fmt.Errorf("messaging channel unusable: %w", err)
			}
			failed++
			metrics.RecordNotificationDispatched("failed")
			d.logger.Warn("failed to send notification",
				zap.Error(err),
				zap.String("id", notif.ID.String()),
				zap.Int64("user_id", notif.UserID),
			)
			continue
		}
		delivered++
		metrics.RecordNotificationDispatched("delivered")
		sentIDs = append(sentIDs, notif.ID)
	}

	if err := d.queue.DeleteNotifications(ctx, sentIDs); err != nil {
		// Delivered rows stay queued and will be re-sent next tick.
		return delivered, failed, fmt.Errorf("delete delivered notifications: %w", err)
	}

	if delivered > 0 || failed > 0 {
		d.logger.Info("dispatched notifications",
			zap.Int("delivered", delivered),
			zap.Int("failed", failed),
		)
	}
	return delivered, failed, nil
}
