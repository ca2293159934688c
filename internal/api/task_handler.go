package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/willow-notes/willow/internal/api/shared"
	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/store"
)

// TaskHandler serves the task read and maintenance API.
type TaskHandler struct {
	tasks     store.TaskStore
	itemTasks store.ItemTaskStore
	logger    *slog.Logger
}

// NewTaskHandler creates a new TaskHandler. itemTasks may be nil when the
// per-item projection is disabled.
func NewTaskHandler(tasks store.TaskStore, itemTasks store.ItemTaskStore, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:     tasks,
		itemTasks: itemTasks,
		logger:    logger.With("component", "task_handler"),
	}
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "invalid task ID")
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("failed to get task", "task_id", id, "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "failed to get task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// ListTasks handles GET /api/tasks with optional type, status, and limit
// query parameters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{
		Type:  r.URL.Query().Get("type"),
		Limit: 100,
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.TaskStatus(status)
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	tasks, err := h.tasks.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list tasks", "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	if tasks == nil {
		tasks = []*domain.Task{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, tasks)
}

// GetStats handles GET /api/tasks/stats.
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tasks.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get task stats", "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "failed to get task stats")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// DeleteByStatus handles DELETE /api/tasks?status=...
func (h *TaskHandler) DeleteByStatus(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	if status == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "status is required")
		return
	}

	deleted, err := h.tasks.DeleteByStatus(r.Context(), status)
	if err != nil {
		h.logger.Error("failed to delete tasks", "status", status, "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "failed to delete tasks")
		return
	}

	h.logger.Info("deleted tasks by status", "status", status, "count", deleted)
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]int64{"deleted": deleted})
}

// ListItemTasks handles GET /api/item-tasks/*, the per-item projection
// of task states.
func (h *TaskHandler) ListItemTasks(w http.ResponseWriter, r *http.Request) {
	itemPath := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if itemPath == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "item path is required")
		return
	}
	if h.itemTasks == nil {
		shared.RespondWithError(w, r, http.StatusNotFound, "item task projection disabled")
		return
	}

	entries, err := h.itemTasks.ListByItem(r.Context(), itemPath)
	if err != nil {
		h.logger.Error("failed to list item tasks", "item_path", itemPath, "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "failed to list item tasks")
		return
	}

	if entries == nil {
		entries = []store.ItemTask{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, entries)
}

// Cleanup handles POST /api/tasks/cleanup?older_than_seconds=...
func (h *TaskHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	seconds, err := strconv.Atoi(r.URL.Query().Get("older_than_seconds"))
	if err != nil || seconds <= 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "invalid older_than_seconds")
		return
	}

	deleted, err := h.tasks.CleanupOlderThan(r.Context(), time.Duration(seconds)*time.Second)
	if err != nil {
		h.logger.Error("failed to clean up tasks", "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "failed to clean up tasks")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]int64{"deleted": deleted})
}
