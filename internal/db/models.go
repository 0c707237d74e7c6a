package db

import (
	"time"

	"github.com/google/uuid"
)

// Role of a platform user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleMentor  Role = "mentor"
	RoleStudent Role = "student"
)

// UserState is the lifecycle state a student moves through on the platform.
type UserState string

const (
	StateGreeting UserState = "greeting"
	StateHold     UserState = "hold"
	StateStudy    UserState = "study"
	StateSearch   UserState = "search"
	StateOffer    UserState = "offer"
)

// Cadence is the minimum re-fire interval of a broadcast rule.
type Cadence string

const (
	CadenceDay       Cadence = "day"
	CadenceWeek      Cadence = "week"
	CadenceFortnight Cadence = "fortnight"
	CadenceMonth     Cadence = "month"
)

// Interval maps a cadence to its fixed day-count interval.
// The second return value is false for an unknown cadence.
func (c Cadence) Interval() (time.Duration, bool) {
	switch c {
	case CadenceDay:
		return 24 * time.Hour, true
	case CadenceWeek:
		return 7 * 24 * time.Hour, true
	case CadenceFortnight:
		return 14 * 24 * time.Hour, true
	case CadenceMonth:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// User represents a platform user. The primary key is the Telegram chat id.
type User struct {
	TelegramID     int64      `json:"telegram_id"`
	Username       string     `json:"username"`
	Name           string     `json:"name"`
	Role           Role       `json:"role"`
	State          *UserState `json:"state,omitempty"`
	MentorID       *int64     `json:"mentor_id,omitempty"`
	CohortID       *int64     `json:"cohort_id,omitempty"`
	RegisteredAt   time.Time  `json:"registered_at"`
	StateChangedAt *time.Time `json:"state_changed_at,omitempty"`
}

// Cohort groups students admitted together.
type Cohort struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserRule is a recurring broadcast targeted at one specific user.
// Notifications are suppressed outside the optional [StartAt, EndAt] window.
type UserRule struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Name       *string    `json:"name,omitempty"`
	Text       string     `json:"text"`
	Cadence    Cadence    `json:"cadence"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
	StartAt    *time.Time `json:"start_at,omitempty"`
	EndAt      *time.Time `json:"end_at,omitempty"`
	AuthorID   int64      `json:"author_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// StateRule is a recurring broadcast targeted at every user currently in a
// given lifecycle state. OffsetDays delays delivery per user, measured from
// the user's state_changed_at, so newcomers to a state are not messaged
// immediately.
type StateRule struct {
	ID         int64      `json:"id"`
	State      UserState  `json:"user_state"`
	Name       *string    `json:"name,omitempty"`
	Text       string     `json:"text"`
	Cadence    Cadence    `json:"cadence"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
	OffsetDays int        `json:"offset_days"`
	AuthorID   int64      `json:"author_id"`
}

// CohortRule is a recurring broadcast targeted at every member of a cohort.
type CohortRule struct {
	ID         int64      `json:"id"`
	CohortID   int64      `json:"cohort_id"`
	Name       *string    `json:"name,omitempty"`
	Text       string     `json:"text"`
	Cadence    Cadence    `json:"cadence"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
	AuthorID   int64      `json:"author_id"`
}

// RuleKind discriminates the three rule variants where they share a pipeline.
type RuleKind string

const (
	RuleKindUser   RuleKind = "user"
	RuleKindState  RuleKind = "state"
	RuleKindCohort RuleKind = "cohort"
)

// Notification is one pending outbound message. A nil ScheduledAt (or one in
// the past) means immediately due. Rows are deleted once delivered.
type Notification struct {
	ID          uuid.UUID  `json:"id"`
	UserID      int64      `json:"user_id"`
	Text        string     `json:"text"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Meeting is a scheduled mentor-student call. CompletedAt is set at most once
// by the lifecycle reconciler; SurveyAvailableAt is non-nil exactly when
// CompletedAt is.
type Meeting struct {
	ID                int64      `json:"id"`
	Description       *string    `json:"description,omitempty"`
	MeetingLink       *string    `json:"meeting_link,omitempty"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	SurveyAvailableAt *time.Time `json:"survey_available_at,omitempty"`

	Participants []*User `json:"participants,omitempty"`
}

// SplitParticipants resolves the mentor and student from the two-participant
// set. When role data is inconsistent the student falls back to whichever
// participant is not the mentor. Either return value may be nil.
func (m *Meeting) SplitParticipants() (mentor, student *User) {
	for _, p := range m.Participants {
		switch p.Role {
		case RoleMentor:
			if mentor == nil {
				mentor = p
			}
		case RoleStudent:
			if student == nil {
				student = p
			}
		}
	}
	if student == nil && mentor != nil {
		for _, p := range m.Participants {
			if p.TelegramID != mentor.TelegramID {
				student = p
				break
			}
		}
	}
	return mentor, student
}

// Survey duration options (fixed enumerated set).
const (
	DurationLt30   = "lt_30"
	Duration30To45 = "30_45"
	Duration45To60 = "45_60"
	DurationGt60   = "gt_60"
)

// ValidDurationOption reports whether v is one of the enumerated choices.
func ValidDurationOption(v string) bool {
	switch v {
	case DurationLt30, Duration30To45, Duration45To60, DurationGt60:
		return true
	default:
		return false
	}
}

// SurveyResponse is the single post-call survey answer for a completed call.
// UNIQUE(call_id) in the schema is the authority for "at most one per call".
type SurveyResponse struct {
	ID             uuid.UUID `json:"id"`
	CallID         int64     `json:"call_id"`
	StudentID      int64     `json:"student_id"`
	DurationOption string    `json:"duration_option"`
	MentorStyle    int       `json:"mentor_style"`
	KnowledgeDepth int       `json:"knowledge_depth"`
	Understanding  int       `json:"understanding"`
	Comment        *string   `json:"comment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TaskKind identifies a one-shot scheduled task.
type TaskKind string

const (
	TaskMeetingCreated  TaskKind = "meeting_created"
	TaskMeetingReminder TaskKind = "meeting_reminder"
	TaskMeetingComplete TaskKind = "meeting_complete"
)

// ScheduledTask is a one-shot task due at an absolute instant, stored in the
// same store the recurring tick polls. Rows are deleted once executed.
type ScheduledTask struct {
	ID        uuid.UUID `json:"id"`
	Kind      TaskKind  `json:"kind"`
	MeetingID int64     `json:"meeting_id"`
	RunAt     time.Time `json:"run_at"`
	CreatedAt time.Time `json:"created_at"`
}
