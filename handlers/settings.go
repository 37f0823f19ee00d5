package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"vodstream/config"
	"vodstream/services/vod"
)

type SettingsHandler struct {
	Manager *config.Manager
	Service *vod.Service
}

func NewSettingsHandler(m *config.Manager, svc *vod.Service) *SettingsHandler {
	return &SettingsHandler{Manager: m, Service: svc}
}

func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Manager.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var s config.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Manager.Save(s); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Hot reload site state so new or changed sites take effect immediately.
	if h.Service != nil {
		if err := h.Service.ReloadSites(); err != nil {
			log.Printf("[settings] failed to reload sites: %v", err)
		} else {
			log.Printf("[settings] reloaded %d site(s)", len(s.Sites))
		}
	}

	writeJSON(w, http.StatusOK, s)
}
