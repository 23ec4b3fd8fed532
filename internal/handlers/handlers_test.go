package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuv-man/asd-server/internal/middleware"
	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/services"
)

// ─── Stubs ───

type stubAttempts struct {
	ack         *models.AttemptAck
	recordErr   error
	attempt     *models.Attempt
	getErr      error
	reaggErr    error
	lastUser    uuid.UUID
	lastReq     models.RecordAttemptRequest
	reaggCalled bool
}

func (s *stubAttempts) RecordAttempt(_ context.Context, userID uuid.UUID, req models.RecordAttemptRequest) (*models.AttemptAck, error) {
	s.lastUser = userID
	s.lastReq = req
	return s.ack, s.recordErr
}

func (s *stubAttempts) Get(_ context.Context, userID, id uuid.UUID) (*models.Attempt, error) {
	s.lastUser = userID
	return s.attempt, s.getErr
}

func (s *stubAttempts) Reaggregate(_ context.Context, id uuid.UUID) (*models.Attempt, error) {
	s.reaggCalled = true
	return s.attempt, s.reaggErr
}

type stubQueue struct {
	jobs []uuid.UUID
}

func (q *stubQueue) Enqueue(_ context.Context, userID, attemptID uuid.UUID) (*models.Job, error) {
	q.jobs = append(q.jobs, attemptID)
	return &models.Job{ID: uuid.New(), UserID: userID, ReferenceID: attemptID}, nil
}

type stubSelector struct {
	areas []string
	size  int
	out   []models.Exercise
	err   error
}

func (s *stubSelector) Select(_ context.Context, areas []string, size int) ([]models.Exercise, error) {
	s.areas, s.size = areas, size
	return s.out, s.err
}

type stubUsers struct {
	user *models.User
	err  error
}

func (s *stubUsers) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	return s.user, s.err
}

// ─── Helpers ───

func authedRequest(method, target string, body interface{}, userID uuid.UUID, params map[string]string) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = middleware.WithUser(ctx, userID, "student")
	return req.WithContext(ctx)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

// ─── Error mapping ───

func TestHandleServiceError_Mapping(t *testing.T) {
	attemptID := uuid.New()
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"score": "bad"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", &services.NotFoundError{Message: "nope"}, http.StatusNotFound, "NOT_FOUND"},
		{"conflict", &services.ConflictError{Message: "dup"}, http.StatusConflict, "CONFLICT"},
		{"unauthorized", &services.UnauthorizedError{Message: "who"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"forbidden", &services.ForbiddenError{Message: "no"}, http.StatusForbidden, "FORBIDDEN"},
		{"storage", &services.StorageError{Op: "x", Err: errors.New("down")}, http.StatusInternalServerError, "STORAGE_FAILURE"},
		{"aggregation", &services.AggregationError{AttemptID: attemptID, Err: errors.New("deadlock")}, http.StatusInternalServerError, "AGGREGATION_FAILURE"},
		{"wrapped", fmt.Errorf("outer: %w", &services.NotFoundError{Message: "inner"}), http.StatusNotFound, "NOT_FOUND"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handleServiceError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, rr.Code)
			apiErr := decodeError(t, rr)
			assert.Equal(t, tt.code, apiErr.Code)
			if tt.code == "AGGREGATION_FAILURE" {
				require.NotNil(t, apiErr.AttemptID)
				assert.Equal(t, attemptID, *apiErr.AttemptID)
			}
		})
	}
}

func TestIntQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?days=7&bad=x&neg=-3&big=9999", nil)
	assert.Equal(t, 7, intQuery(r, "days", 30, 366))
	assert.Equal(t, 30, intQuery(r, "missing", 30, 366))
	assert.Equal(t, 30, intQuery(r, "bad", 30, 366))
	assert.Equal(t, 30, intQuery(r, "neg", 30, 366))
	assert.Equal(t, 366, intQuery(r, "big", 30, 366))
}

// ─── Attempts ───

func TestAttemptHandler_CreateReturnsAck(t *testing.T) {
	userID := uuid.New()
	ack := &models.AttemptAck{AttemptID: uuid.New(), Aggregated: true}
	stub := &stubAttempts{ack: ack}
	h := NewAttemptHandler(stub, nil)

	body := map[string]interface{}{"exercise_id": uuid.NewString(), "area": "cognitive", "score": 80}
	rr := httptest.NewRecorder()
	h.Create(rr, authedRequest(http.MethodPost, "/api/v1/attempts", body, userID, nil))

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, userID, stub.lastUser)
	assert.Equal(t, "cognitive", stub.lastReq.Area)
	var got models.AttemptAck
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, *ack, got)
}

func TestAttemptHandler_CreateAggregationFailureCarriesAttemptID(t *testing.T) {
	id := uuid.New()
	stub := &stubAttempts{
		ack:       &models.AttemptAck{AttemptID: id},
		recordErr: &services.AggregationError{AttemptID: id, Err: errors.New("lock timeout")},
	}
	h := NewAttemptHandler(stub, nil)

	rr := httptest.NewRecorder()
	h.Create(rr, authedRequest(http.MethodPost, "/api/v1/attempts", map[string]string{}, uuid.New(), nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	apiErr := decodeError(t, rr)
	assert.Equal(t, "AGGREGATION_FAILURE", apiErr.Code)
	require.NotNil(t, apiErr.AttemptID)
	assert.Equal(t, id, *apiErr.AttemptID)
}

func TestAttemptHandler_CreateRejectsBadJSON(t *testing.T) {
	h := NewAttemptHandler(&stubAttempts{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts", bytes.NewBufferString("{not json"))

	rr := httptest.NewRecorder()
	h.Create(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAttemptHandler_GetInvalidID(t *testing.T) {
	h := NewAttemptHandler(&stubAttempts{}, nil)
	rr := httptest.NewRecorder()
	h.Get(rr, authedRequest(http.MethodGet, "/api/v1/attempts/x", nil, uuid.New(), map[string]string{"id": "x"}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAttemptHandler_ReprocessEnqueuesWhenQueueConfigured(t *testing.T) {
	id := uuid.New()
	stub := &stubAttempts{attempt: &models.Attempt{ID: id}}
	queue := &stubQueue{}
	h := NewAttemptHandler(stub, queue)

	rr := httptest.NewRecorder()
	h.Reprocess(rr, authedRequest(http.MethodPost, "/", nil, uuid.New(), map[string]string{"id": id.String()}))

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []uuid.UUID{id}, queue.jobs)
	assert.False(t, stub.reaggCalled)
}

func TestAttemptHandler_ReprocessInlineWithoutQueue(t *testing.T) {
	id := uuid.New()
	stub := &stubAttempts{attempt: &models.Attempt{ID: id}}
	h := NewAttemptHandler(stub, nil)

	rr := httptest.NewRecorder()
	h.Reprocess(rr, authedRequest(http.MethodPost, "/", nil, uuid.New(), map[string]string{"id": id.String()}))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, stub.reaggCalled)
}

func TestAttemptHandler_ReprocessAlreadyAggregatedIsConflict(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	stub := &stubAttempts{attempt: &models.Attempt{ID: id, AggregatedAt: &now}}
	h := NewAttemptHandler(stub, &stubQueue{})

	rr := httptest.NewRecorder()
	h.Reprocess(rr, authedRequest(http.MethodPost, "/", nil, uuid.New(), map[string]string{"id": id.String()}))

	assert.Equal(t, http.StatusConflict, rr.Code)
}

// ─── Exercises ───

func TestExerciseHandler_SessionDefaultsToAllAreasAndUserSize(t *testing.T) {
	sel := &stubSelector{out: []models.Exercise{{ID: uuid.New()}}}
	users := &stubUsers{user: &models.User{NumOfExercises: 5}}
	h := NewExerciseHandler(nil, sel, nil, users, 3)

	rr := httptest.NewRecorder()
	h.Session(rr, authedRequest(http.MethodGet, "/api/v1/exercises/session", nil, uuid.New(), nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, sel.size)
	assert.Len(t, sel.areas, len(models.AllAreas))
}

func TestExerciseHandler_SessionExplicitParams(t *testing.T) {
	sel := &stubSelector{}
	h := NewExerciseHandler(nil, sel, nil, &stubUsers{err: errors.New("unused")}, 3)

	rr := httptest.NewRecorder()
	h.Session(rr, authedRequest(http.MethodGet, "/api/v1/exercises/session?areas=cognitive,ot&size=4", nil, uuid.New(), nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 4, sel.size)
	assert.Equal(t, []string{"cognitive,ot"}, sel.areas)
}

func TestExerciseHandler_SessionFallsBackToDefaultSize(t *testing.T) {
	sel := &stubSelector{}
	h := NewExerciseHandler(nil, sel, nil, &stubUsers{err: errors.New("down")}, 6)

	rr := httptest.NewRecorder()
	h.Session(rr, authedRequest(http.MethodGet, "/api/v1/exercises/session?areas=speech", nil, uuid.New(), nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 6, sel.size)
}

func TestExerciseHandler_SessionValidation(t *testing.T) {
	sel := &stubSelector{err: &services.ValidationError{Fields: map[string]string{"areas": "no valid areas"}}}
	h := NewExerciseHandler(nil, sel, nil, &stubUsers{}, 3)

	rr := httptest.NewRecorder()
	h.Session(rr, authedRequest(http.MethodGet, "/api/v1/exercises/session?areas=painting&size=3", nil, uuid.New(), nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "no valid areas", decodeError(t, rr).Fields["areas"])

	rr = httptest.NewRecorder()
	h.Session(rr, authedRequest(http.MethodGet, "/api/v1/exercises/session?size=abc", nil, uuid.New(), nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
