package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/middleware"
	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/services"
)

type catalogService interface {
	List(ctx context.Context, rawArea string) ([]models.Exercise, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Exercise, error)
	Save(ctx context.Context, role string, e *models.Exercise) (*models.Exercise, error)
}

type sessionSelector interface {
	Select(ctx context.Context, rawAreas []string, size int) ([]models.Exercise, error)
}

type userLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type exerciseHistory interface {
	ExerciseHistory(ctx context.Context, userID, exerciseID uuid.UUID, limit int) ([]models.Attempt, error)
}

type ExerciseHandler struct {
	catalog     catalogService
	selector    sessionSelector
	history     exerciseHistory
	users       userLookup
	defaultSize int
}

func NewExerciseHandler(catalog catalogService, selector sessionSelector, history exerciseHistory, users userLookup, defaultSize int) *ExerciseHandler {
	if defaultSize <= 0 {
		defaultSize = models.DefaultSessionSize
	}
	return &ExerciseHandler{
		catalog:     catalog,
		selector:    selector,
		history:     history,
		users:       users,
		defaultSize: defaultSize,
	}
}

func (h *ExerciseHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.List(r.Context(), r.URL.Query().Get("area"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ExerciseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	e, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *ExerciseHandler) Save(w http.ResponseWriter, r *http.Request) {
	var e models.Exercise
	if !decodeJSON(w, r, &e) {
		return
	}
	saved, err := h.catalog.Save(r.Context(), middleware.GetRole(r.Context()), &e)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *ExerciseHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	list, err := h.history.ExerciseHistory(r.Context(), middleware.GetUserID(r.Context()), id, intQuery(r, "limit", 20, 100))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Session draws a practice session. Without areas it spans every area;
// without size it uses the user's preferred session length.
func (h *ExerciseHandler) Session(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	areas := q["areas"]
	if strings.TrimSpace(strings.Join(areas, "")) == "" {
		areas = nil
		for _, a := range models.AllAreas {
			areas = append(areas, string(a))
		}
	}

	size := h.defaultSize
	if raw := q.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			handleServiceError(w, r, &services.ValidationError{Fields: map[string]string{"size": "size must be a positive integer"}})
			return
		}
		size = n
	} else if user, err := h.users.GetUser(r.Context(), middleware.GetUserID(r.Context())); err == nil && user.NumOfExercises > 0 {
		size = user.NumOfExercises
	}

	list, err := h.selector.Select(r.Context(), areas, size)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
