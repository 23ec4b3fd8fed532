package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/middleware"
	"github.com/yuv-man/asd-server/internal/models"
)

type profileService interface {
	Profile(ctx context.Context, userID uuid.UUID) (*models.User, error)
	UpdateArea(ctx context.Context, userID uuid.UUID, rawArea string, req models.UpdateAreaRequest) (*models.AreaProgress, error)
}

type UserHandler struct {
	users profileService
}

func NewUserHandler(users profileService) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Profile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateArea(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateAreaRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.users.UpdateArea(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "area"), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
