package handlers

import (
	"net/http"

	"vodstream/services/vod"
)

// StatsHandler serves the engine introspection snapshot.
type StatsHandler struct {
	Service *vod.Service
}

func NewStatsHandler(svc *vod.Service) *StatsHandler {
	return &StatsHandler{Service: svc}
}

// Get handles GET /api/stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Stats())
}
