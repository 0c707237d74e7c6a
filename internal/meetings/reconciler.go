// Package meetings manages the mentor-student call lifecycle: creation, the
// one-shot notification schedule around a call, and the periodic sweep that
// transitions past calls to completed and opens their survey window.
package meetings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mentorhub/internal/db"
	"mentorhub/internal/metrics"
)

// Store is the persistence the meetings engine works against.
type Store interface {
	CreateMeeting(ctx context.Context, m *db.Meeting, mentorID, studentID int64) error
	GetMeeting(ctx context.Context, id int64) (*db.Meeting, error)
	ListOverdueMeetings(ctx context.Context, cutoff time.Time) ([]*db.Meeting, error)
	ListMeetingsForUser(ctx context.Context, userID int64, pastCutoff *time.Time) ([]*db.Meeting, error)
	CompleteMeeting(ctx context.Context, meetingID int64, now time.Time, notif *db.Notification) (bool, error)
	ScheduleTask(ctx context.Context, task *db.ScheduledTask) error
	ListDueTasks(ctx context.Context, now time.Time) ([]*db.ScheduledTask, error)
	FinishTask(ctx context.Context, taskID uuid.UUID, notifs []*db.Notification) error
}

// Reconciler brings meeting state up to date with wall-clock time on a
// timer: calls whose scheduled time (plus grace) has passed become completed,
// the survey window opens, and the student gets a survey prompt.
type Reconciler struct {
	store  Store
	logger *zap.Logger
	grace  time.Duration
}

// NewReconciler creates a reconciler. grace is how long after scheduled_at a
// meeting still counts as running; the same value gates listing visibility.
func NewReconciler(store Store, grace time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
		grace:  grace,
	}
}

// Sweep completes every uncompleted meeting that is over. Each meeting
// commits independently; one failure does not block the rest.
func (r *Reconciler) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.grace)
	meetings, err := r.store.ListOverdueMeetings(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list overdue meetings: %w", err)
	}

	completed := 0
	var firstErr error
	for _, m := range meetings {
		transitioned, err := r.complete(ctx, m, now)
		if err != nil {
			r.logger.Error("failed to complete meeting",
				zap.Error(err),
				zap.Int64("meeting_id", m.ID),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if transitioned {
			completed++
		}
	}

	if completed > 0 || len(meetings) > 0 {
		r.logger.Info("meeting sweep finished",
			zap.Time("cutoff", cutoff),
			zap.Int("completed", completed),
		)
	}
	return completed, firstErr
}

// Complete transitions one meeting by id. Re-running on an already-completed
// meeting is a no-op.
func (r *Reconciler) Complete(ctx context.Context, meetingID int64, now time.Time) (bool, error) {
	m, err := r.store.GetMeeting(ctx, meetingID)
	if errors.Is(err, db.ErrNotFound) {
		r.logger.Info("meeting not found for completion", zap.Int64("meeting_id", meetingID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.complete(ctx, m, now)
}

func (r *Reconciler) complete(ctx context.Context, m *db.Meeting, now time.Time) (bool, error) {
	if m.CompletedAt != nil {
		r.logger.Debug("meeting already completed",
			zap.Int64("meeting_id", m.ID),
			zap.Time("completed_at", *m.CompletedAt),
		)
		return false, nil
	}

	var notif *db.Notification
	_, student := m.SplitParticipants()
	if student != nil {
		scheduledAt := now
		notif = &db.Notification{
			UserID:      student.TelegramID,
			Text:        surveyPromptText(m),
			ScheduledAt: &scheduledAt,
		}
	} else {
		// Inconsistent participant data; complete the meeting anyway.
		r.logger.Warn("no student resolvable for meeting, skipping survey prompt",
			zap.Int64("meeting_id", m.ID),
			zap.Int("participants", len(m.Participants)),
		)
	}

	transitioned, err := r.store.CompleteMeeting(ctx, m.ID, now, notif)
	if err != nil {
		return false, err
	}
	if transitioned {
		metrics.RecordMeetingCompleted()
		if notif != nil {
			metrics.RecordNotificationsEnqueued("survey_prompt", 1)
		}
		r.logger.Info("meeting completed",
			zap.Int64("meeting_id", m.ID),
			zap.Time("completed_at", now),
		)
	}
	return transitioned, nil
}
