package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"vodstream/config"
	"vodstream/services/scheduler"
)

// ScheduledTasksHandler serves the maintenance task endpoints.
type ScheduledTasksHandler struct {
	configManager    *config.Manager
	schedulerService *scheduler.Service
}

func NewScheduledTasksHandler(configManager *config.Manager, schedulerService *scheduler.Service) *ScheduledTasksHandler {
	return &ScheduledTasksHandler{
		configManager:    configManager,
		schedulerService: schedulerService,
	}
}

func validTaskType(t config.ScheduledTaskType) bool {
	switch t {
	case config.ScheduledTaskTypeCacheSweep, config.ScheduledTaskTypeSiteProbe:
		return true
	}
	return false
}

// ListTasks handles GET /api/tasks
func (h *ScheduledTasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": h.schedulerService.GetTaskStatus()})
}

// CreateTask handles POST /api/tasks
func (h *ScheduledTasksHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type      config.ScheduledTaskType      `json:"type"`
		Name      string                        `json:"name"`
		Frequency config.ScheduledTaskFrequency `json:"frequency"`
		Config    map[string]string             `json:"config"`
		Enabled   bool                          `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !validTaskType(req.Type) {
		writeError(w, http.StatusBadRequest, "unknown task type")
		return
	}
	if req.Name == "" {
		req.Name = string(req.Type)
	}
	if req.Frequency == "" {
		req.Frequency = config.ScheduledTaskFrequency12Hours
	}

	task := config.ScheduledTask{
		ID:         uuid.New().String(),
		Type:       req.Type,
		Name:       req.Name,
		Frequency:  req.Frequency,
		Config:     req.Config,
		Enabled:    req.Enabled,
		LastStatus: config.ScheduledTaskStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	settings, err := h.configManager.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings: "+err.Error())
		return
	}
	settings.ScheduledTasks.Tasks = append(settings.ScheduledTasks.Tasks, task)
	if err := h.configManager.Save(settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "task": task})
}

// UpdateTask handles PUT /api/tasks/{taskID}
func (h *ScheduledTasksHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	var req struct {
		Name      string                        `json:"name"`
		Frequency config.ScheduledTaskFrequency `json:"frequency"`
		Config    map[string]string             `json:"config"`
		Enabled   *bool                         `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	settings, err := h.configManager.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings: "+err.Error())
		return
	}

	var updated *config.ScheduledTask
	for i := range settings.ScheduledTasks.Tasks {
		if settings.ScheduledTasks.Tasks[i].ID == taskID {
			if req.Name != "" {
				settings.ScheduledTasks.Tasks[i].Name = req.Name
			}
			if req.Frequency != "" {
				settings.ScheduledTasks.Tasks[i].Frequency = req.Frequency
			}
			if req.Config != nil {
				settings.ScheduledTasks.Tasks[i].Config = req.Config
			}
			if req.Enabled != nil {
				settings.ScheduledTasks.Tasks[i].Enabled = *req.Enabled
			}
			updated = &settings.ScheduledTasks.Tasks[i]
			break
		}
	}
	if updated == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err := h.configManager.Save(settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "task": updated})
}

// DeleteTask handles DELETE /api/tasks/{taskID}
func (h *ScheduledTasksHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	if h.schedulerService.IsTaskRunning(taskID) {
		writeError(w, http.StatusConflict, "cannot delete a running task")
		return
	}

	settings, err := h.configManager.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings: "+err.Error())
		return
	}

	found := false
	for i := range settings.ScheduledTasks.Tasks {
		if settings.ScheduledTasks.Tasks[i].ID == taskID {
			settings.ScheduledTasks.Tasks = append(
				settings.ScheduledTasks.Tasks[:i],
				settings.ScheduledTasks.Tasks[i+1:]...,
			)
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err := h.configManager.Save(settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RunTaskNow handles POST /api/tasks/{taskID}/run
func (h *ScheduledTasksHandler) RunTaskNow(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	if err := h.schedulerService.RunTaskNow(taskID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "message": "task execution started"})
}
