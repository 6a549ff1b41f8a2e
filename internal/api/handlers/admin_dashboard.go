package handlers

import (
	"context"
	"net/http"

	"github.com/spaceplaces/server/internal/domain/dashboard"
)

type StatsProvider interface {
	Stats(ctx context.Context) (dashboard.Stats, error)
}

type AdminDashboardHandler struct {
	Stats StatsProvider
	Env   string
}

func NewAdminDashboardHandler(stats StatsProvider, env string) *AdminDashboardHandler {
	return &AdminDashboardHandler{Stats: stats, Env: env}
}

type dashboardResponse struct {
	dashboard.Stats
	PendingRequests int64 `json:"pending_requests"`
}

// Get handles GET /api/v1/admin/dashboard.
func (h *AdminDashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Stats.Stats(r.Context())
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, dashboardResponse{Stats: stats, PendingRequests: stats.Pending()})
}
