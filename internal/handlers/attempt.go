package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/middleware"
	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/services"
)

type attemptService interface {
	RecordAttempt(ctx context.Context, userID uuid.UUID, req models.RecordAttemptRequest) (*models.AttemptAck, error)
	Get(ctx context.Context, userID, attemptID uuid.UUID) (*models.Attempt, error)
	Reaggregate(ctx context.Context, attemptID uuid.UUID) (*models.Attempt, error)
}

// reprocessQueue hands reaggregation to the worker pool.
type reprocessQueue interface {
	Enqueue(ctx context.Context, userID, attemptID uuid.UUID) (*models.Job, error)
}

type AttemptHandler struct {
	attempts attemptService
	queue    reprocessQueue
}

// NewAttemptHandler builds the handler. A nil queue makes reprocess run
// inline.
func NewAttemptHandler(attempts attemptService, queue reprocessQueue) *AttemptHandler {
	return &AttemptHandler{attempts: attempts, queue: queue}
}

func (h *AttemptHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.RecordAttemptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ack, err := h.attempts.RecordAttempt(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ack)
}

func (h *AttemptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	attempt, err := h.attempts.Get(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

// Reprocess retries aggregation for an attempt whose first run failed.
func (h *AttemptHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	userID := middleware.GetUserID(r.Context())

	attempt, err := h.attempts.Get(r.Context(), userID, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if attempt.AggregatedAt != nil {
		handleServiceError(w, r, &services.ConflictError{Message: "Attempt is already aggregated"})
		return
	}

	if h.queue != nil {
		job, err := h.queue.Enqueue(r.Context(), userID, id)
		if err != nil {
			handleServiceError(w, r, &services.StorageError{Op: "enqueue reprocess", Err: err})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id":     job.ID,
			"attempt_id": id,
		})
		return
	}

	if _, err := h.attempts.Reaggregate(r.Context(), id); err != nil {
		var conflict *services.ConflictError
		if !errors.As(err, &conflict) {
			handleServiceError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, models.AttemptAck{AttemptID: id, Aggregated: true})
}
