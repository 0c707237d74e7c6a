package meetings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mentorhub/internal/db"
	"mentorhub/internal/metrics"
)

// Config holds the timing knobs of the meetings engine.
type Config struct {
	ReminderLead time.Duration  // how long before scheduled_at the reminder fires
	Grace        time.Duration  // how long after scheduled_at a meeting still counts as running
	LocalZone    *time.Location // zone assumed for zone-less scheduled times
}

// Service creates meetings and arranges their one-shot task schedule: an
// immediate "call assigned" notification, a reminder shortly before the call,
// and a completion trigger at the call's end. One-shot tasks are ordinary
// rows polled by the same tick loop that drives recurring rules.
type Service struct {
	store      Store
	reconciler *Reconciler
	cfg        Config
	logger     *zap.Logger
}

// NewService creates a meetings service.
func NewService(store Store, reconciler *Reconciler, cfg Config, logger *zap.Logger) *Service {
	if cfg.ReminderLead == 0 {
		cfg.ReminderLead = 5 * time.Minute
	}
	if cfg.LocalZone == nil {
		cfg.LocalZone = time.UTC
	}
	return &Service{
		store:      store,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
	}
}

// CreateInput describes a new mentor-student call.
type CreateInput struct {
	MentorID    int64
	StudentID   int64
	ScheduledAt *time.Time
	Description *string
	MeetingLink *string
}

// Create inserts the meeting and schedules its one-shot tasks.
func (s *Service) Create(ctx context.Context, in CreateInput, now time.Time) (*db.Meeting, error) {
	m := &db.Meeting{
		Description: in.Description,
		MeetingLink: in.MeetingLink,
		ScheduledAt: in.ScheduledAt,
	}
	if err := s.store.CreateMeeting(ctx, m, in.MentorID, in.StudentID); err != nil {
		return nil, err
	}

	if err := s.scheduleTasks(ctx, m, now); err != nil {
		// The meeting exists; a failed schedule only loses its reminders.
		s.logger.Error("failed to schedule meeting tasks",
			zap.Error(err),
			zap.Int64("meeting_id", m.ID),
		)
		return m, err
	}
	return m, nil
}

func (s *Service) scheduleTasks(ctx context.Context, m *db.Meeting, now time.Time) error {
	// Immediate "call assigned" notification.
	if err := s.store.ScheduleTask(ctx, &db.ScheduledTask{
		Kind:      db.TaskMeetingCreated,
		MeetingID: m.ID,
		RunAt:     now,
	}); err != nil {
		return err
	}

	if m.ScheduledAt == nil {
		return nil
	}
	scheduled := m.ScheduledAt.UTC()

	reminderAt := scheduled.Add(-s.cfg.ReminderLead)
	if reminderAt.After(now) {
		if err := s.store.ScheduleTask(ctx, &db.ScheduledTask{
			Kind:      db.TaskMeetingReminder,
			MeetingID: m.ID,
			RunAt:     reminderAt,
		}); err != nil {
			return err
		}
		s.logger.Info("scheduled reminder",
			zap.Int64("meeting_id", m.ID),
			zap.Time("run_at", reminderAt),
		)
	}

	completeAt := scheduled.Add(s.cfg.Grace)
	if completeAt.Before(now) {
		completeAt = now
		s.logger.Info("meeting already in past, completing now", zap.Int64("meeting_id", m.ID))
	}
	if err := s.store.ScheduleTask(ctx, &db.ScheduledTask{
		Kind:      db.TaskMeetingComplete,
		MeetingID: m.ID,
		RunAt:     completeAt,
	}); err != nil {
		return err
	}
	s.logger.Info("scheduled completion",
		zap.Int64("meeting_id", m.ID),
		zap.Time("run_at", completeAt),
	)
	return nil
}

// ListForUser returns the user's meetings; with hidePast, meetings that are
// over (scheduled_at + grace in the past) are filtered out, using the same
// grace the reconciler applies.
func (s *Service) ListForUser(ctx context.Context, userID int64, hidePast bool, now time.Time) ([]*db.Meeting, error) {
	var cutoff *time.Time
	if hidePast {
		c := now.Add(-s.cfg.Grace)
		cutoff = &c
	}
	return s.store.ListMeetingsForUser(ctx, userID, cutoff)
}

// RunDueTasks executes every one-shot task whose time has come. Tasks fail
// independently; a failed task stays queued and is retried next tick.
func (s *Service) RunDueTasks(ctx context.Context, now time.Time) error {
	tasks, err := s.store.ListDueTasks(ctx, now)
	if err != nil {
		return fmt.Errorf("list due tasks: %w", err)
	}

	var firstErr error
	for _, task := range tasks {
		if err := s.runTask(ctx, task, now); err != nil {
			s.logger.Error("failed to run scheduled task",
				zap.Error(err),
				zap.String("task_id", task.ID.String()),
				zap.String("kind", string(task.Kind)),
				zap.Int64("meeting_id", task.MeetingID),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) runTask(ctx context.Context, task *db.ScheduledTask, now time.Time) error {
	switch task.Kind {
	case db.TaskMeetingCreated:
		return s.runNotifyTask(ctx, task, now, assignedText)
	case db.TaskMeetingReminder:
		return s.runNotifyTask(ctx, task, now, reminderText)
	case db.TaskMeetingComplete:
		// Completion commits in its own transaction; re-running after a
		// crash before the task delete is a no-op.
		if _, err := s.reconciler.Complete(ctx, task.MeetingID, now); err != nil {
			return err
		}
		return s.store.FinishTask(ctx, task.ID, nil)
	default:
		s.logger.Warn("dropping task of unknown kind",
			zap.String("task_id", task.ID.String()),
			zap.String("kind", string(task.Kind)),
		)
		return s.store.FinishTask(ctx, task.ID, nil)
	}
}

func (s *Service) runNotifyTask(ctx context.Context, task *db.ScheduledTask, now time.Time, text func(*db.Meeting, *time.Location) string) error {
	m, err := s.store.GetMeeting(ctx, task.MeetingID)
	if errors.Is(err, db.ErrNotFound) {
		// Meeting was deleted after scheduling; drop the task.
		return s.store.FinishTask(ctx, task.ID, nil)
	}
	if err != nil {
		return err
	}

	if task.Kind == db.TaskMeetingReminder && m.CompletedAt != nil {
		return s.store.FinishTask(ctx, task.ID, nil)
	}

	_, student := m.SplitParticipants()
	if student == nil {
		s.logger.Warn("no student resolvable for meeting task",
			zap.Int64("meeting_id", m.ID),
			zap.String("kind", string(task.Kind)),
		)
		return s.store.FinishTask(ctx, task.ID, nil)
	}

	scheduledAt := now
	notif := &db.Notification{
		UserID:      student.TelegramID,
		Text:        text(m, s.cfg.LocalZone),
		ScheduledAt: &scheduledAt,
	}
	if err := s.store.FinishTask(ctx, task.ID, []*db.Notification{notif}); err != nil {
		return err
	}
	metrics.RecordNotificationsEnqueued(string(task.Kind), 1)
	return nil
}
