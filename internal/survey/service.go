// Package survey implements the post-call survey: one response per call,
// accepted only once the call has finished.
package survey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mentorhub/internal/db"
	"mentorhub/internal/metrics"
)

var (
	// ErrCallNotFound means the call id does not exist.
	ErrCallNotFound = errors.New("call not found")
	// ErrNotAvailable means the call has not finished yet.
	ErrNotAvailable = errors.New("survey not available for this call")
	// ErrStudentUnresolvable means the call's participants carry no student
	// to attribute the response to.
	ErrStudentUnresolvable = errors.New("no student participant on this call")
)

// Status of a call's survey.
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusAvailable    Status = "available"
	StatusNotAvailable Status = "not_available"
)

// Question is one survey question as rendered to clients.
type Question struct {
	Key     string   `json:"key"`
	Prompt  string   `json:"prompt"`
	Kind    string   `json:"kind"` // "choice", "rating" or "text"
	Options []string `json:"options,omitempty"`
}

// Questions is the fixed question set, in presentation order.
func Questions() []Question {
	return []Question{
		{
			Key:    "duration_option",
			Prompt: "How long did the call last?",
			Kind:   "choice",
			Options: []string{
				db.DurationLt30, db.Duration30To45, db.Duration45To60, db.DurationGt60,
			},
		},
		{Key: "mentor_style", Prompt: "How clear was the mentor's communication style?", Kind: "rating"},
		{Key: "knowledge_depth", Prompt: "How deep was the mentor's knowledge of the topic?", Kind: "rating"},
		{Key: "understanding", Prompt: "How well do you understand the topic after the call?", Kind: "rating"},
		{Key: "comment", Prompt: "Anything else you want to share?", Kind: "text"},
	}
}

// Store is the persistence the survey service needs.
type Store interface {
	GetMeeting(ctx context.Context, id int64) (*db.Meeting, error)
	GetSurveyResponse(ctx context.Context, callID int64) (*db.SurveyResponse, error)
	SubmitSurveyResponse(ctx context.Context, resp *db.SurveyResponse) (*db.SurveyResponse, bool, error)
}

// Service answers survey state queries and accepts submissions.
type Service struct {
	store  Store
	logger *zap.Logger
}

// New creates a survey service.
func New(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// State is the survey view of one call.
type State struct {
	CallID   int64
	Status   Status
	Response *db.SurveyResponse
}

// GetState reports whether the call's survey is completed, available or not
// yet available.
func (s *Service) GetState(ctx context.Context, callID int64) (*State, error) {
	m, err := s.store.GetMeeting(ctx, callID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load call %d: %w", callID, err)
	}

	resp, err := s.store.GetSurveyResponse(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("load survey response for call %d: %w", callID, err)
	}
	if resp != nil {
		return &State{CallID: callID, Status: StatusCompleted, Response: resp}, nil
	}
	if surveyOpen(m) {
		return &State{CallID: callID, Status: StatusAvailable}, nil
	}
	return &State{CallID: callID, Status: StatusNotAvailable}, nil
}

func surveyOpen(m *db.Meeting) bool {
	return m.CompletedAt != nil && m.SurveyAvailableAt != nil
}

// Submission is a survey answer as received from the client, before
// validation.
type Submission struct {
	DurationOption string  `json:"duration_option"`
	MentorStyle    int     `json:"mentor_style"`
	KnowledgeDepth int     `json:"knowledge_depth"`
	Understanding  int     `json:"understanding"`
	Comment        *string `json:"comment,omitempty"`
}

// FieldError names one invalid submission field.
type FieldError struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// ValidationError carries every invalid field of a submission.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid submission: %d field(s)", len(e.Fields))
}

// Validate checks the submission against the fixed question set.
func (sub *Submission) Validate() *ValidationError {
	var fields []FieldError
	if !db.ValidDurationOption(sub.DurationOption) {
		fields = append(fields, FieldError{
			Field:  "duration_option",
			Detail: "must be one of lt_30, 30_45, 45_60, gt_60",
		})
	}
	for _, r := range []struct {
		field string
		value int
	}{
		{"mentor_style", sub.MentorStyle},
		{"knowledge_depth", sub.KnowledgeDepth},
		{"understanding", sub.Understanding},
	} {
		if r.value < 1 || r.value > 5 {
			fields = append(fields, FieldError{
				Field:  r.field,
				Detail: "must be between 1 and 5",
			})
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Submit records the student's answer for the call. A duplicate submit, from
// a slow retry or a concurrent request, returns the original response with
// alreadySubmitted=true instead of an error.
func (s *Service) Submit(ctx context.Context, callID int64, sub *Submission, now time.Time) (*db.SurveyResponse, bool, error) {
	if verr := sub.Validate(); verr != nil {
		return nil, false, verr
	}

	m, err := s.store.GetMeeting(ctx, callID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, false, ErrCallNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("load call %d: %w", callID, err)
	}
	if !surveyOpen(m) {
		return nil, false, ErrNotAvailable
	}

	_, student := m.SplitParticipants()
	if student == nil {
		s.logger.Warn("call has no resolvable student", zap.Int64("call_id", callID))
		return nil, false, ErrStudentUnresolvable
	}

	resp, alreadySubmitted, err := s.store.SubmitSurveyResponse(ctx, &db.SurveyResponse{
		CallID:         callID,
		StudentID:      student.TelegramID,
		DurationOption: sub.DurationOption,
		MentorStyle:    sub.MentorStyle,
		KnowledgeDepth: sub.KnowledgeDepth,
		Understanding:  sub.Understanding,
		Comment:        sub.Comment,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("submit survey for call %d: %w", callID, err)
	}

	outcome := "accepted"
	if alreadySubmitted {
		outcome = "duplicate"
	}
	metrics.RecordSurveySubmitted(outcome)
	s.logger.Info("survey submitted",
		zap.Int64("call_id", callID),
		zap.Int64("student_id", student.TelegramID),
		zap.Bool("already_submitted", alreadySubmitted),
	)
	return resp, alreadySubmitted, nil
}
