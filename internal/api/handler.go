package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mentorhub/internal/db"
	"mentorhub/internal/meetings"
	"mentorhub/internal/survey"
)

// UserStore defines the user lookups the handlers need.
type UserStore interface {
	GetUser(ctx context.Context, telegramID int64) (*db.User, error)
}

// CreateCallRequest represents the incoming call-creation body.
type CreateCallRequest struct {
	MentorID    int64   `json:"mentor_id"`
	StudentID   int64   `json:"student_id"`
	ScheduledAt *string `json:"scheduled_at,omitempty"`
	Description *string `json:"description,omitempty"`
	MeetingLink *string `json:"meeting_link,omitempty"`
}

// SurveyStateResponse is returned by GET /calls/{id}/survey.
type SurveyStateResponse struct {
	CallID    int64              `json:"call_id"`
	Status    survey.Status      `json:"status"`
	Questions []survey.Question  `json:"questions"`
	Response  *db.SurveyResponse `json:"response,omitempty"`
}

// SurveySubmitResponse is returned by POST /calls/{id}/survey.
type SurveySubmitResponse struct {
	CallID           int64              `json:"call_id"`
	AlreadySubmitted bool               `json:"already_submitted"`
	Response         *db.SurveyResponse `json:"response"`
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string              `json:"type"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Fields []survey.FieldError `json:"fields,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger    *zap.Logger
	users     UserStore
	surveys   *survey.Service
	meetings  *meetings.Service
	localZone *time.Location
	now       func() time.Time
}

// NewHandler creates a new API handler. localZone is the zone assumed for
// zone-less scheduled times in requests.
func NewHandler(logger *zap.Logger, users UserStore, surveys *survey.Service, mtgs *meetings.Service, localZone *time.Location) *Handler {
	if localZone == nil {
		localZone = time.UTC
	}
	return &Handler{
		logger:    logger,
		users:     users,
		surveys:   surveys,
		meetings:  mtgs,
		localZone: localZone,
		now:       time.Now,
	}
}

// GetSurvey handles GET /calls/{id}/survey
func (h *Handler) GetSurvey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	callID, ok := h.callID(w, r)
	if !ok {
		return
	}

	state, err := h.surveys.GetState(ctx, callID)
	if errors.Is(err, survey.ErrCallNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Call not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to load survey state",
			zap.Error(err),
			zap.Int64("call_id", callID),
		)
		h.writeError(w, http.StatusServiceUnavailable, "store_error", "Survey temporarily unavailable", "")
		return
	}

	resp := SurveyStateResponse{
		CallID:    state.CallID,
		Status:    state.Status,
		Questions: survey.Questions(),
		Response:  state.Response,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// SubmitSurvey handles POST /calls/{id}/survey
func (h *Handler) SubmitSurvey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	callID, ok := h.callID(w, r)
	if !ok {
		return
	}

	var sub survey.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	resp, alreadySubmitted, err := h.surveys.Submit(ctx, callID, &sub, h.now().UTC())
	if err != nil {
		var verr *survey.ValidationError
		switch {
		case errors.As(err, &verr):
			h.writeValidationError(w, verr)
		case errors.Is(err, survey.ErrCallNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "Call not found", "")
		case errors.Is(err, survey.ErrNotAvailable):
			h.writeError(w, http.StatusConflict, "not_available", "Survey not available",
				"The call has not finished yet")
		case errors.Is(err, survey.ErrStudentUnresolvable):
			h.writeError(w, http.StatusUnprocessableEntity, "no_student", "Survey cannot be attributed",
				"The call has no student participant")
		default:
			h.logger.Error("failed to submit survey",
				zap.Error(err),
				zap.Int64("call_id", callID),
			)
			h.writeError(w, http.StatusServiceUnavailable, "store_error", "Survey temporarily unavailable", "")
		}
		return
	}

	status := http.StatusCreated
	if alreadySubmitted {
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SurveySubmitResponse{
		CallID:           callID,
		AlreadySubmitted: alreadySubmitted,
		Response:         resp,
	})
}

// CreateCall handles POST /calls
func (h *Handler) CreateCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.MentorID == 0 || req.StudentID == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"mentor_id and student_id are required")
		return
	}
	if req.MentorID == req.StudentID {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid participants",
			"mentor_id and student_id must differ")
		return
	}

	for _, p := range []struct {
		field string
		id    int64
	}{
		{"mentor_id", req.MentorID},
		{"student_id", req.StudentID},
	} {
		if _, err := h.users.GetUser(ctx, p.id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				h.writeError(w, http.StatusUnprocessableEntity, "unknown_user", "Unknown participant",
					p.field+" does not reference a registered user")
				return
			}
			h.logger.Error("failed to look up participant", zap.Error(err), zap.Int64("user_id", p.id))
			h.writeError(w, http.StatusServiceUnavailable, "store_error", "Store temporarily unavailable", "")
			return
		}
	}

	var scheduledAt *time.Time
	if req.ScheduledAt != nil && *req.ScheduledAt != "" {
		t, err := h.parseTime(*req.ScheduledAt)
		if err != nil {
			h.writeError(w, http.StatusUnprocessableEntity, "invalid_time", "Invalid scheduled_at",
				"scheduled_at must be RFC 3339 or 2006-01-02T15:04:05")
			return
		}
		scheduledAt = &t
	}

	m, err := h.meetings.Create(ctx, meetings.CreateInput{
		MentorID:    req.MentorID,
		StudentID:   req.StudentID,
		ScheduledAt: scheduledAt,
		Description: req.Description,
		MeetingLink: req.MeetingLink,
	}, h.now().UTC())
	if err != nil {
		h.logger.Error("failed to create call",
			zap.Error(err),
			zap.Int64("mentor_id", req.MentorID),
			zap.Int64("student_id", req.StudentID),
		)
		h.writeError(w, http.StatusServiceUnavailable, "store_error", "Failed to create call", "")
		return
	}

	h.logger.Info("call created",
		zap.Int64("call_id", m.ID),
		zap.Int64("mentor_id", req.MentorID),
		zap.Int64("student_id", req.StudentID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(m)
}

// ListCalls handles GET /calls?user_id=xxx&hide_past=true
func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userIDStr := r.URL.Query().Get("user_id")
	if userIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id",
			"user_id query parameter is required")
		return
	}
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id",
			"user_id must be an integer")
		return
	}

	hidePast := r.URL.Query().Get("hide_past") == "true"

	calls, err := h.meetings.ListForUser(ctx, userID, hidePast, h.now().UTC())
	if err != nil {
		h.logger.Error("failed to list calls",
			zap.Error(err),
			zap.Int64("user_id", userID),
		)
		h.writeError(w, http.StatusServiceUnavailable, "store_error", "Failed to list calls", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  calls,
		"count": len(calls),
	})
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) callID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid call ID",
			"ID must be a positive integer")
		return 0, false
	}
	return id, true
}

// parseTime accepts RFC 3339 timestamps, or zone-less timestamps which are
// interpreted in the configured local zone.
func (h *Handler) parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, h.localZone)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (h *Handler) writeValidationError(w http.ResponseWriter, verr *survey.ValidationError) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   "validation_error",
		Title:  "Invalid survey submission",
		Status: http.StatusUnprocessableEntity,
		Fields: verr.Fields,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
