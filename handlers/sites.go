package handlers

import (
	"log"
	"net/http"

	"vodstream/services/vod"
)

// SitesHandler serves site configuration endpoints.
type SitesHandler struct {
	Service *vod.Service
}

func NewSitesHandler(svc *vod.Service) *SitesHandler {
	return &SitesHandler{Service: svc}
}

// List handles GET /api/sites
func (h *SitesHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sites": h.Service.Sites()})
}

// Reload handles POST /api/sites/reload, re-reading the settings file and
// dropping engine and cache state for changed sites.
func (h *SitesHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.ReloadSites(); err != nil {
		log.Printf("[sites] reload failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
