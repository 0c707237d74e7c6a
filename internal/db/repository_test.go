package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

func surveyFixture(callID, studentID int64) *SurveyResponse {
	return &SurveyResponse{
		ID:             uuid.New(),
		CallID:         callID,
		StudentID:      studentID,
		DurationOption: Duration30To45,
		MentorStyle:    5,
		KnowledgeDepth: 4,
		Understanding:  3,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestSubmitSurveyResponse_ConcurrentInsertResolvesToFirstWriter(t *testing.T) {
	winner := surveyFixture(7, 20)

	// The loser's pre-read sees an empty slot; the winner commits before the
	// loser's insert lands, so the insert trips the unique constraint and the
	// re-read finds the winner's row.
	var reads int
	read := func(ctx context.Context, callID int64) (*SurveyResponse, error) {
		reads++
		if reads == 1 {
			return nil, nil
		}
		return winner, nil
	}
	insert := func(ctx context.Context, resp *SurveyResponse) error {
		return &pgconn.PgError{Code: uniqueViolation, ConstraintName: "uq_survey_response_call_id"}
	}

	loser := surveyFixture(7, 21)
	loser.DurationOption = DurationGt60

	got, alreadySubmitted, err := submitSurveyResponse(context.Background(), loser, read, insert, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !alreadySubmitted {
		t.Fatal("losing a concurrent race must report already_submitted")
	}
	if got.ID != winner.ID || got.StudentID != 20 || got.DurationOption != Duration30To45 {
		t.Fatalf("got %+v, want the first writer's row", got)
	}
	if reads != 2 {
		t.Fatalf("reads = %d, want pre-read plus conflict re-read", reads)
	}
}

func TestSubmitSurveyResponse_PreReadShortCircuitsDuplicate(t *testing.T) {
	existing := surveyFixture(7, 20)
	read := func(ctx context.Context, callID int64) (*SurveyResponse, error) {
		return existing, nil
	}
	insert := func(ctx context.Context, resp *SurveyResponse) error {
		t.Fatal("insert must not run when a response already exists")
		return nil
	}

	got, alreadySubmitted, err := submitSurveyResponse(context.Background(), surveyFixture(7, 21), read, insert, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !alreadySubmitted || got.ID != existing.ID {
		t.Fatalf("got %+v already=%v, want the stored row", got, alreadySubmitted)
	}
}

func TestSubmitSurveyResponse_UniqueViolationWithoutRowFails(t *testing.T) {
	// Constraint fired but the re-read finds nothing (winner rolled back):
	// surface the insert error rather than inventing a result.
	read := func(ctx context.Context, callID int64) (*SurveyResponse, error) {
		return nil, nil
	}
	insert := func(ctx context.Context, resp *SurveyResponse) error {
		return &pgconn.PgError{Code: uniqueViolation}
	}

	if _, _, err := submitSurveyResponse(context.Background(), surveyFixture(7, 20), read, insert, zap.NewNop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubmitSurveyResponse_OtherInsertErrorsPropagate(t *testing.T) {
	dbErr := errors.New("connection reset")
	read := func(ctx context.Context, callID int64) (*SurveyResponse, error) {
		return nil, nil
	}
	insert := func(ctx context.Context, resp *SurveyResponse) error {
		return dbErr
	}

	_, _, err := submitSurveyResponse(context.Background(), surveyFixture(7, 20), read, insert, zap.NewNop())
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped insert error, got: %v", err)
	}
}
