package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const uniqueViolation = "23505"

// Repository handles database operations for users, rules, notifications,
// meetings and survey responses.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ───── Users ─────

const userColumns = `telegram_id, username, name, role, state, mentor_id, cohort_id, registered_at, state_changed_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.TelegramID,
		&u.Username,
		&u.Name,
		&u.Role,
		&u.State,
		&u.MentorID,
		&u.CohortID,
		&u.RegisteredAt,
		&u.StateChangedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser retrieves a user by Telegram id.
func (r *Repository) GetUser(ctx context.Context, telegramID int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`

	u, err := scanUser(r.db.Pool().QueryRow(ctx, query, telegramID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", telegramID, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get user",
			zap.Error(err),
			zap.Int64("telegram_id", telegramID),
		)
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (r *Repository) listUsers(ctx context.Context, query string, args ...any) ([]*User, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUsersByState returns every user currently in the given lifecycle state.
func (r *Repository) ListUsersByState(ctx context.Context, state UserState) ([]*User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE state = $1`, state)
}

// ListUsersByCohort returns every member of the cohort.
func (r *Repository) ListUsersByCohort(ctx context.Context, cohortID int64) ([]*User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE cohort_id = $1`, cohortID)
}

// ───── Rules ─────

// CreateUserRule inserts a user-targeted rule.
func (r *Repository) CreateUserRule(ctx context.Context, rule *UserRule) error {
	query := `
		INSERT INTO user_rules (user_id, name, text, cadence, start_at, end_at, author_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.db.Pool().QueryRow(ctx, query,
		rule.UserID, rule.Name, rule.Text, rule.Cadence, rule.StartAt, rule.EndAt, rule.AuthorID,
	).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create user rule", zap.Error(err), zap.Int64("user_id", rule.UserID))
		return fmt.Errorf("insert user rule: %w", err)
	}
	return nil
}

// CreateStateRule inserts a state-targeted rule.
func (r *Repository) CreateStateRule(ctx context.Context, rule *StateRule) error {
	query := `
		INSERT INTO state_rules (user_state, name, text, cadence, offset_days, author_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.Pool().QueryRow(ctx, query,
		rule.State, rule.Name, rule.Text, rule.Cadence, rule.OffsetDays, rule.AuthorID,
	).Scan(&rule.ID)
	if err != nil {
		r.logger.Error("failed to create state rule", zap.Error(err), zap.String("state", string(rule.State)))
		return fmt.Errorf("insert state rule: %w", err)
	}
	return nil
}

// CreateCohortRule inserts a cohort-targeted rule.
func (r *Repository) CreateCohortRule(ctx context.Context, rule *CohortRule) error {
	query := `
		INSERT INTO cohort_rules (cohort_id, name, text, cadence, author_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.Pool().QueryRow(ctx, query,
		rule.CohortID, rule.Name, rule.Text, rule.Cadence, rule.AuthorID,
	).Scan(&rule.ID)
	if err != nil {
		r.logger.Error("failed to create cohort rule", zap.Error(err), zap.Int64("cohort_id", rule.CohortID))
		return fmt.Errorf("insert cohort rule: %w", err)
	}
	return nil
}

// ListUserRules returns all user-targeted rules.
func (r *Repository) ListUserRules(ctx context.Context) ([]*UserRule, error) {
	query := `
		SELECT id, user_id, name, text, cadence, last_sent_at, start_at, end_at, author_id, created_at
		FROM user_rules
		ORDER BY id
	`
	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query user rules: %w", err)
	}
	defer rows.Close()

	var rules []*UserRule
	for rows.Next() {
		var rule UserRule
		if err := rows.Scan(
			&rule.ID, &rule.UserID, &rule.Name, &rule.Text, &rule.Cadence,
			&rule.LastSentAt, &rule.StartAt, &rule.EndAt, &rule.AuthorID, &rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user rule: %w", err)
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// ListStateRules returns all state-targeted rules.
func (r *Repository) ListStateRules(ctx context.Context) ([]*StateRule, error) {
	query := `
		SELECT id, user_state, name, text, cadence, last_sent_at, COALESCE(offset_days, 0), author_id
		FROM state_rules
		ORDER BY id
	`
	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query state rules: %w", err)
	}
	defer rows.Close()

	var rules []*StateRule
	for rows.Next() {
		var rule StateRule
		if err := rows.Scan(
			&rule.ID, &rule.State, &rule.Name, &rule.Text, &rule.Cadence,
			&rule.LastSentAt, &rule.OffsetDays, &rule.AuthorID,
		); err != nil {
			return nil, fmt.Errorf("scan state rule: %w", err)
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// ListCohortRules returns all cohort-targeted rules.
func (r *Repository) ListCohortRules(ctx context.Context) ([]*CohortRule, error) {
	query := `
		SELECT id, cohort_id, name, text, cadence, last_sent_at, author_id
		FROM cohort_rules
		ORDER BY id
	`
	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query cohort rules: %w", err)
	}
	defer rows.Close()

	var rules []*CohortRule
	for rows.Next() {
		var rule CohortRule
		if err := rows.Scan(
			&rule.ID, &rule.CohortID, &rule.Name, &rule.Text, &rule.Cadence,
			&rule.LastSentAt, &rule.AuthorID,
		); err != nil {
			return nil, fmt.Errorf("scan cohort rule: %w", err)
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// DeleteRules removes rules of one kind by id.
func (r *Repository) DeleteRules(ctx context.Context, kind RuleKind, ids []int64) error {
	table, ok := ruleTables[kind]
	if !ok {
		return fmt.Errorf("unknown rule kind: %s", kind)
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM `+table+` WHERE id = ANY($1)`, ids)
	if err != nil {
		r.logger.Error("failed to delete rules", zap.Error(err), zap.String("kind", string(kind)))
		return fmt.Errorf("delete %s rules: %w", kind, err)
	}
	return nil
}

var ruleTables = map[RuleKind]string{
	RuleKindUser:   "user_rules",
	RuleKindState:  "state_rules",
	RuleKindCohort: "cohort_rules",
}

// AdvanceAndEnqueue atomically advances a rule's last_sent_at and inserts the
// notification batch built for this pass, in a single transaction.
//
// The advance is a compare-and-set: it succeeds only while last_sent_at still
// equals the value observed when the batch was built. A lost race (another
// tick fired the same rule first) rolls everything back and returns false, so
// a rule never fans out twice for one cadence window.
func (r *Repository) AdvanceAndEnqueue(
	ctx context.Context,
	kind RuleKind,
	ruleID int64,
	observed *time.Time,
	now time.Time,
	notifs []*Notification,
) (bool, error) {
	table, ok := ruleTables[kind]
	if !ok {
		return false, fmt.Errorf("unknown rule kind: %s", kind)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE `+table+` SET last_sent_at = $1 WHERE id = $2 AND last_sent_at IS NOT DISTINCT FROM $3`,
		now, ruleID, observed,
	)
	if err != nil {
		r.logger.Error("failed to advance rule",
			zap.Error(err),
			zap.String("kind", string(kind)),
			zap.Int64("rule_id", ruleID),
		)
		return false, fmt.Errorf("advance %s rule %d: %w", kind, ruleID, err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race with a concurrent tick, or the rule was deleted.
		return false, nil
	}

	for _, n := range notifs {
		if err := insertNotification(ctx, tx, n); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit rule fire: %w", err)
	}
	return true, nil
}

// ───── Notifications ─────

func insertNotification(ctx context.Context, tx pgx.Tx, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO notifications (id, user_id, text, scheduled_at) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		n.ID, n.UserID, n.Text, n.ScheduledAt,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// CreateNotification inserts a single pending notification.
func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertNotification(ctx, tx, n); err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.Int64("user_id", n.UserID),
		)
		return err
	}
	return tx.Commit(ctx)
}

// ListDueNotifications returns every notification whose scheduled_at is null
// or at most now.
func (r *Repository) ListDueNotifications(ctx context.Context, now time.Time) ([]*Notification, error) {
	query := `
		SELECT id, user_id, text, scheduled_at, created_at
		FROM notifications
		WHERE scheduled_at IS NULL OR scheduled_at <= $1
		ORDER BY created_at
	`
	rows, err := r.db.Pool().Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due notifications: %w", err)
	}
	defer rows.Close()

	var notifs []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Text, &n.ScheduledAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifs = append(notifs, &n)
	}
	return notifs, rows.Err()
}

// DeleteNotifications removes delivered notifications in one batch.
func (r *Repository) DeleteNotifications(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM notifications WHERE id = ANY($1)`, ids)
	if err != nil {
		r.logger.Error("failed to delete notifications", zap.Error(err), zap.Int("count", len(ids)))
		return fmt.Errorf("delete notifications: %w", err)
	}
	return nil
}

// ───── Meetings ─────

// CreateMeeting inserts a meeting and its two participant rows in one
// transaction.
func (r *Repository) CreateMeeting(ctx context.Context, m *Meeting, mentorID, studentID int64) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO meetings (description, meeting_link, scheduled_at) VALUES ($1, $2, $3) RETURNING id, created_at`,
		m.Description, m.MeetingLink, m.ScheduledAt,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create meeting", zap.Error(err))
		return fmt.Errorf("insert meeting: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO meeting_users (meeting_id, user_id) VALUES ($1, $2), ($1, $3)`,
		m.ID, mentorID, studentID,
	)
	if err != nil {
		r.logger.Error("failed to insert meeting participants",
			zap.Error(err),
			zap.Int64("meeting_id", m.ID),
		)
		return fmt.Errorf("insert meeting participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit meeting: %w", err)
	}

	r.logger.Info("meeting created",
		zap.Int64("meeting_id", m.ID),
		zap.Int64("mentor_id", mentorID),
		zap.Int64("student_id", studentID),
	)
	return nil
}

const meetingColumns = `id, description, meeting_link, scheduled_at, created_at, completed_at, survey_available_at`

func scanMeeting(row pgx.Row) (*Meeting, error) {
	var m Meeting
	err := row.Scan(
		&m.ID, &m.Description, &m.MeetingLink, &m.ScheduledAt,
		&m.CreatedAt, &m.CompletedAt, &m.SurveyAvailableAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repository) loadParticipants(ctx context.Context, m *Meeting) error {
	query := `
		SELECT ` + userColumns + `
		FROM users
		JOIN meeting_users mu ON mu.user_id = users.telegram_id
		WHERE mu.meeting_id = $1
	`
	users, err := r.listUsers(ctx, query, m.ID)
	if err != nil {
		return fmt.Errorf("load participants for meeting %d: %w", m.ID, err)
	}
	m.Participants = users
	return nil
}

// GetMeeting retrieves a meeting with its participants.
func (r *Repository) GetMeeting(ctx context.Context, id int64) (*Meeting, error) {
	m, err := scanMeeting(r.db.Pool().QueryRow(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("meeting %d: %w", id, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get meeting", zap.Error(err), zap.Int64("meeting_id", id))
		return nil, fmt.Errorf("query meeting: %w", err)
	}

	if err := r.loadParticipants(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListOverdueMeetings returns uncompleted meetings whose scheduled time is at
// or before the cutoff, participants included.
func (r *Repository) ListOverdueMeetings(ctx context.Context, cutoff time.Time) ([]*Meeting, error) {
	query := `
		SELECT ` + meetingColumns + `
		FROM meetings
		WHERE scheduled_at IS NOT NULL AND scheduled_at <= $1 AND completed_at IS NULL
		ORDER BY scheduled_at
	`
	rows, err := r.db.Pool().Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query overdue meetings: %w", err)
	}
	defer rows.Close()

	var meetings []*Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range meetings {
		if err := r.loadParticipants(ctx, m); err != nil {
			return nil, err
		}
	}
	return meetings, nil
}

// ListMeetingsForUser returns meetings the user participates in, newest first.
// When pastCutoff is non-nil, meetings scheduled at or before it are hidden.
func (r *Repository) ListMeetingsForUser(ctx context.Context, userID int64, pastCutoff *time.Time) ([]*Meeting, error) {
	query := `
		SELECT ` + meetingColumns + `
		FROM meetings
		JOIN meeting_users mu ON mu.meeting_id = meetings.id
		WHERE mu.user_id = $1
	`
	args := []any{userID}
	if pastCutoff != nil {
		query += ` AND (scheduled_at IS NULL OR scheduled_at > $2)`
		args = append(args, *pastCutoff)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query meetings for user: %w", err)
	}
	defer rows.Close()

	var meetings []*Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// CompleteMeeting transitions a meeting to completed and enqueues the survey
// prompt in the same transaction. The transition is idempotent: a meeting
// already completed is left untouched and (false, nil) is returned.
// notif may be nil when no student could be resolved for the meeting.
func (r *Repository) CompleteMeeting(ctx context.Context, meetingID int64, now time.Time, notif *Notification) (bool, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE meetings
		SET completed_at = $1, survey_available_at = COALESCE(survey_available_at, $1)
		WHERE id = $2 AND completed_at IS NULL
	`, now, meetingID)
	if err != nil {
		r.logger.Error("failed to complete meeting", zap.Error(err), zap.Int64("meeting_id", meetingID))
		return false, fmt.Errorf("complete meeting %d: %w", meetingID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if notif != nil {
		if err := insertNotification(ctx, tx, notif); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit meeting completion: %w", err)
	}
	return true, nil
}

// ───── Survey responses ─────

const surveyColumns = `id, call_id, student_id, duration_option, mentor_style, knowledge_depth, understanding, comment, created_at`

func scanSurveyResponse(row pgx.Row) (*SurveyResponse, error) {
	var resp SurveyResponse
	err := row.Scan(
		&resp.ID, &resp.CallID, &resp.StudentID, &resp.DurationOption,
		&resp.MentorStyle, &resp.KnowledgeDepth, &resp.Understanding,
		&resp.Comment, &resp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSurveyResponse returns the response for a call, or nil when none exists.
func (r *Repository) GetSurveyResponse(ctx context.Context, callID int64) (*SurveyResponse, error) {
	resp, err := scanSurveyResponse(r.db.Pool().QueryRow(ctx,
		`SELECT `+surveyColumns+` FROM survey_responses WHERE call_id = $1`, callID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to get survey response", zap.Error(err), zap.Int64("call_id", callID))
		return nil, fmt.Errorf("query survey response: %w", err)
	}
	return resp, nil
}

// SubmitSurveyResponse stores a survey response, enforcing one response per
// call. The UNIQUE(call_id) constraint is the authority: if a concurrent
// submit wins the race, the unique violation is swallowed, the winner's row
// is re-read and returned with alreadySubmitted=true.
func (r *Repository) SubmitSurveyResponse(ctx context.Context, resp *SurveyResponse) (*SurveyResponse, bool, error) {
	return submitSurveyResponse(ctx, resp, r.GetSurveyResponse, r.insertSurveyResponse, r.logger)
}

func (r *Repository) insertSurveyResponse(ctx context.Context, resp *SurveyResponse) error {
	if resp.ID == uuid.Nil {
		resp.ID = uuid.New()
	}
	return r.db.Pool().QueryRow(ctx, `
		INSERT INTO survey_responses (id, call_id, student_id, duration_option, mentor_style, knowledge_depth, understanding, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`,
		resp.ID, resp.CallID, resp.StudentID, resp.DurationOption,
		resp.MentorStyle, resp.KnowledgeDepth, resp.Understanding, resp.Comment,
	).Scan(&resp.CreatedAt)
}

// submitSurveyResponse runs the first-writer-wins protocol over the read and
// insert primitives. The pre-read catches the common sequential duplicate;
// the unique-violation branch catches the race where a concurrent submit
// commits between the pre-read and the insert.
func submitSurveyResponse(
	ctx context.Context,
	resp *SurveyResponse,
	read func(context.Context, int64) (*SurveyResponse, error),
	insert func(context.Context, *SurveyResponse) error,
	logger *zap.Logger,
) (*SurveyResponse, bool, error) {
	if existing, err := read(ctx, resp.CallID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}

	err := insert(ctx, resp)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		existing, rerr := read(ctx, resp.CallID)
		if rerr != nil {
			return nil, false, rerr
		}
		if existing != nil {
			logger.Info("survey response race resolved to first writer",
				zap.Int64("call_id", resp.CallID),
			)
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("insert survey response: %w", err)
	}
	if err != nil {
		logger.Error("failed to insert survey response", zap.Error(err), zap.Int64("call_id", resp.CallID))
		return nil, false, fmt.Errorf("insert survey response: %w", err)
	}

	logger.Info("survey response stored",
		zap.Int64("call_id", resp.CallID),
		zap.Int64("student_id", resp.StudentID),
	)
	return resp, false, nil
}

// ───── Scheduled tasks ─────

// ScheduleTask enqueues a one-shot task due at task.RunAt.
func (r *Repository) ScheduleTask(ctx context.Context, task *ScheduledTask) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	err := r.db.Pool().QueryRow(ctx,
		`INSERT INTO scheduled_tasks (id, kind, meeting_id, run_at) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		task.ID, task.Kind, task.MeetingID, task.RunAt,
	).Scan(&task.CreatedAt)
	if err != nil {
		r.logger.Error("failed to schedule task",
			zap.Error(err),
			zap.String("kind", string(task.Kind)),
			zap.Int64("meeting_id", task.MeetingID),
		)
		return fmt.Errorf("insert scheduled task: %w", err)
	}
	return nil
}

// ListDueTasks returns one-shot tasks whose run_at is at or before now.
func (r *Repository) ListDueTasks(ctx context.Context, now time.Time) ([]*ScheduledTask, error) {
	query := `
		SELECT id, kind, meeting_id, run_at, created_at
		FROM scheduled_tasks
		WHERE run_at <= $1
		ORDER BY run_at
	`
	rows, err := r.db.Pool().Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*ScheduledTask
	for rows.Next() {
		var t ScheduledTask
		if err := rows.Scan(&t.ID, &t.Kind, &t.MeetingID, &t.RunAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// FinishTask deletes an executed task and inserts the notifications it
// produced in a single transaction, so a crash leaves either the task (to be
// retried) or its output, never both and never neither.
func (r *Repository) FinishTask(ctx context.Context, taskID uuid.UUID, notifs []*Notification) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, taskID); err != nil {
		r.logger.Error("failed to delete scheduled task", zap.Error(err), zap.String("task_id", taskID.String()))
		return fmt.Errorf("delete scheduled task: %w", err)
	}

	for _, n := range notifs {
		if err := insertNotification(ctx, tx, n); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit task: %w", err)
	}
	return nil
}
