package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/middleware"
	"github.com/yuv-man/asd-server/internal/models"
)

type dashboardService interface {
	DailySummaries(ctx context.Context, userID uuid.UUID, days int) ([]models.PeriodSummary, error)
	WeeklySummaries(ctx context.Context, userID uuid.UUID, weeks int) ([]models.PeriodSummary, error)
	LatestWeekly(ctx context.Context, userID uuid.UUID) (*models.PeriodSummary, error)
	AreaProgress(ctx context.Context, userID uuid.UUID) ([]models.AreaProgress, error)
	Improvement(ctx context.Context, userID uuid.UUID, rawArea string, days int) ([]models.ImprovementPoint, error)
	RecentActivity(ctx context.Context, userID uuid.UUID, limit int) ([]models.RecentActivity, error)
	Usage(ctx context.Context, userID uuid.UUID, days int) ([]models.DailyUsage, error)
}

type DashboardHandler struct {
	dash dashboardService
}

func NewDashboardHandler(dash dashboardService) *DashboardHandler {
	return &DashboardHandler{dash: dash}
}

func (h *DashboardHandler) DailySummaries(w http.ResponseWriter, r *http.Request) {
	list, err := h.dash.DailySummaries(r.Context(), middleware.GetUserID(r.Context()), intQuery(r, "days", 30, 366))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *DashboardHandler) WeeklySummaries(w http.ResponseWriter, r *http.Request) {
	list, err := h.dash.WeeklySummaries(r.Context(), middleware.GetUserID(r.Context()), intQuery(r, "weeks", 8, 104))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *DashboardHandler) LatestWeekly(w http.ResponseWriter, r *http.Request) {
	s, err := h.dash.LatestWeekly(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *DashboardHandler) AreaProgress(w http.ResponseWriter, r *http.Request) {
	list, err := h.dash.AreaProgress(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DashboardHandler) Improvement(w http.ResponseWriter, r *http.Request) {
	points, err := h.dash.Improvement(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "area"), intQuery(r, "days", 90, 366))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(points))
}

func (h *DashboardHandler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	list, err := h.dash.RecentActivity(r.Context(), middleware.GetUserID(r.Context()), intQuery(r, "limit", 20, 100))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *DashboardHandler) Usage(w http.ResponseWriter, r *http.Request) {
	list, err := h.dash.Usage(r.Context(), middleware.GetUserID(r.Context()), intQuery(r, "days", 30, 366))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
