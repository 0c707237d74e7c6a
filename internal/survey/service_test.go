package survey

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mentorhub/internal/db"
)

type mockStore struct {
	meetings  map[int64]*db.Meeting
	responses map[int64]*db.SurveyResponse

	getErr    error
	submitErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		meetings:  make(map[int64]*db.Meeting),
		responses: make(map[int64]*db.SurveyResponse),
	}
}

func (m *mockStore) GetMeeting(ctx context.Context, id int64) (*db.Meeting, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	meeting, ok := m.meetings[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return meeting, nil
}

func (m *mockStore) GetSurveyResponse(ctx context.Context, callID int64) (*db.SurveyResponse, error) {
	return m.responses[callID], nil
}

func (m *mockStore) SubmitSurveyResponse(ctx context.Context, resp *db.SurveyResponse) (*db.SurveyResponse, bool, error) {
	if m.submitErr != nil {
		return nil, false, m.submitErr
	}
	// First writer wins, matching the UNIQUE(call_id) constraint.
	if existing, ok := m.responses[resp.CallID]; ok {
		return existing, true, nil
	}
	resp.ID = uuid.New()
	m.responses[resp.CallID] = resp
	return resp, false, nil
}

func completedMeeting(id int64, now time.Time) *db.Meeting {
	return &db.Meeting{
		ID:                id,
		ScheduledAt:       &now,
		CompletedAt:       &now,
		SurveyAvailableAt: &now,
		Participants: []*db.User{
			{TelegramID: 10, Role: db.RoleMentor},
			{TelegramID: 20, Role: db.RoleStudent},
		},
	}
}

func validSubmission() *Submission {
	return &Submission{
		DurationOption: db.Duration30To45,
		MentorStyle:    5,
		KnowledgeDepth: 4,
		Understanding:  3,
	}
}

func testService(store *mockStore) *Service {
	return New(store, zap.NewNop())
}

func TestGetState_NotFound(t *testing.T) {
	svc := testService(newMockStore())
	_, err := svc.GetState(context.Background(), 99)
	if !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got: %v", err)
	}
}

func TestGetState_NotAvailableBeforeCompletion(t *testing.T) {
	now := time.Now().UTC()
	store := newMockStore()
	store.meetings[1] = &db.Meeting{ID: 1, ScheduledAt: &now}

	state, err := testService(store).GetState(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if state.Status != StatusNotAvailable {
		t.Fatalf("status = %s", state.Status)
	}
	if state.Response != nil {
		t.Fatal("no response expected")
	}
}

func TestGetState_AvailableAfterCompletion(t *testing.T) {
	now := time.Now().UTC()
	store := newMockStore()
	store.meetings[1] = completedMeeting(1, now)

	state, err := testService(store).GetState(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if state.Status != StatusAvailable {
		t.Fatalf("status = %s", state.Status)
	}
}

func TestGetState_CompletedAfterSubmission(t *testing.T) {
	now := time.Now().UTC()
	store := newMockStore()
	store.meetings[1] = completedMeeting(1, now)

	svc := testService(store)
	if _, _, err := svc.Submit(context.Background(), 1, validSubmission(), now); err != nil {
		t.Fatalf("submit: %v", err)
	}

	state, err := svc.GetState(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("status = %s", state.Status)
	}
	if state.Response == nil {
		t.Fatal("completed state must carry the response")
	}
}

func TestSubmit_AttributesToStudent(t *testing.T) {
	now := time.Now().UTC()
	store := newMockStore()
	store.meetings[1] = completedMeeting(1, now)

	resp, already, err := testService(store).Submit(context.Background(), 1, validSubmission(), now)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if already {
		t.Fatal("first submission is not a duplicate")
	}
	if resp.StudentID != 20 {
		t.Fatalf("student_id = %d", resp.StudentID)
	}
	if resp.CallID != 1 {
		t.Fatalf("call_id = %d", resp.CallID)
	}
}

func TestSubmit_DuplicateReturnsOriginal(t *testing.T) {
	now := time.Now().UTC()
	store := newMockStore()
	store.meetings[1] = completedMeeting(1, now)
	svc := testService(store)

	first, _, err := svc.Submit(context.Background(), 1, validSubmission(), now)
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	second := validSubmission()
	second.MentorStyle = 1
	resp, already, err := svc.Submit(context.Background(), 1, second, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !already {
		t.Fatal("expected already_submitted")
	}
	if resp.ID != first.ID || resp.MentorStyle != first.MentorStyle {
		t.Fatal("duplicate must return the original response untouched")
	}
}

func TestSubmit_NotAvailableBeforeCompletion(t *testing.T) {
	now := time.Now().UTC()
	store := newMockStore()
	store.meetings[1] = &db.Meeting{ID: 1, ScheduledAt: &now}

	_, _, err := testService(store).Submit(context.Background(), 1, validSubmission(), now)
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("expected ErrNotAvailable, got: %v", err)
	}
}

func TestSubmit_UnknownCall(t *testing.T) {
	_, _, err := testService(newMockStore()).Submit(context.Background(), 99, validSubmission(), time.Now().UTC())
	if !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got: %v", err)
	}
}

func TestSubmit_NoStudent(t *testing.T) {
	now := time.Now().UTC()
	store := newMockStore()
	m := completedMeeting(1, now)
	m.Participants = []*db.User{{TelegramID: 10, Role: db.RoleMentor}}
	store.meetings[1] = m

	_, _, err := testService(store).Submit(context.Background(), 1, validSubmission(), now)
	if !errors.Is(err, ErrStudentUnresolvable) {
		t.Fatalf("expected ErrStudentUnresolvable, got: %v", err)
	}
}

func TestSubmit_ValidationRejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
		field  string
	}{
		{"unknown duration", func(s *Submission) { s.DurationOption = "2_hours" }, "duration_option"},
		{"rating too low", func(s *Submission) { s.MentorStyle = 0 }, "mentor_style"},
		{"rating too high", func(s *Submission) { s.KnowledgeDepth = 6 }, "knowledge_depth"},
		{"negative rating", func(s *Submission) { s.Understanding = -1 }, "understanding"},
	}

	now := time.Now().UTC()
	store := newMockStore()
	store.meetings[1] = completedMeeting(1, now)
	svc := testService(store)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := validSubmission()
			tt.mutate(sub)

			_, _, err := svc.Submit(context.Background(), 1, sub, now)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got: %v", err)
			}
			found := false
			for _, f := range verr.Fields {
				if f.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("field %q not reported: %+v", tt.field, verr.Fields)
			}
		})
	}
}

func TestSubmit_ValidationReportsAllBadFields(t *testing.T) {
	sub := &Submission{DurationOption: "bogus", MentorStyle: 0, KnowledgeDepth: 9, Understanding: 3}
	verr := sub.Validate()
	if verr == nil {
		t.Fatal("expected validation error")
	}
	if len(verr.Fields) != 3 {
		t.Fatalf("fields = %d, want 3", len(verr.Fields))
	}
}

func TestQuestions_FixedSet(t *testing.T) {
	qs := Questions()
	if len(qs) != 5 {
		t.Fatalf("questions = %d, want 5", len(qs))
	}
	if qs[0].Kind != "choice" || len(qs[0].Options) != 4 {
		t.Fatalf("first question = %+v", qs[0])
	}
	ratings := 0
	for _, q := range qs {
		if q.Kind == "rating" {
			ratings++
		}
	}
	if ratings != 3 {
		t.Fatalf("ratings = %d, want 3", ratings)
	}
}
