package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Analyzer forwards the full task list to an analytics service.
type Analyzer interface {
	Analyze(ctx context.Context, list []Task) (json.RawMessage, error)
}

// Handler serves the task CRUD API over a Store.
type Handler struct {
	store    Store
	analyzer Analyzer
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a CRUD handler. analyzer may be nil, in which case
// POST /tasks/analyze reports the service as unavailable.
func NewHandler(store Store, analyzer Analyzer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    store,
		analyzer: analyzer,
		logger:   logger.With("component", "tasks"),
		now:      time.Now,
	}
}

// Register mounts the task routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /tasks", h.handleList)
	mux.HandleFunc("POST /tasks", h.handleCreate)
	mux.HandleFunc("GET /tasks/report", h.handleReport)
	mux.HandleFunc("POST /tasks/analyze", h.handleAnalyze)
	mux.HandleFunc("GET /tasks/{id}", h.handleGet)
	mux.HandleFunc("PUT /tasks/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /tasks/{id}", h.handleDelete)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (h *Handler) errorResponse(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, map[string]any{"error": message})
}

// storeError maps a store failure onto an HTTP response.
func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	var missing *MissingFieldsError
	switch {
	case errors.Is(err, ErrNotFound):
		h.errorResponse(w, http.StatusNotFound, "Task not found")
	case errors.As(err, &missing):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Missing required fields",
			"missing": missing.Fields,
		})
	default:
		h.logger.Error("task store failed", "op", op, "error", err)
		h.errorResponse(w, http.StatusInternalServerError, "Failed to "+op+" task")
	}
}

func pathID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	return id, err == nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.storeError(w, "list", err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.errorResponse(w, http.StatusBadRequest, "invalid task id")
		return
	}
	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, "get", err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var f Fields
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil || f == nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := NewTask(f)
	if err != nil {
		var missing *MissingFieldsError
		if errors.As(err, &missing) {
			h.storeError(w, "create", err)
			return
		}
		h.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.store.Create(r.Context(), t)
	if err != nil {
		h.storeError(w, "create", err)
		return
	}
	h.logger.Info("task created", "task_id", created.TaskID, "name", created.TaskName)
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.errorResponse(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var f Fields
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := h.store.Update(r.Context(), id, f)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && isFieldError(err) {
			h.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		h.storeError(w, "update", err)
		return
	}
	h.logger.Info("task updated", "task_id", id)
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.errorResponse(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.storeError(w, "delete", err)
		return
	}
	h.logger.Info("task deleted", "task_id", id)
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted"})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.storeError(w, "list", err)
		return
	}
	h.writeJSON(w, http.StatusOK, WeeklyReport(list, h.now()))
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.storeError(w, "list", err)
		return
	}
	if len(list) == 0 {
		h.writeJSON(w, http.StatusOK, map[string]string{"message": "No tasks available to analyze."})
		return
	}
	if h.analyzer == nil {
		h.errorResponse(w, http.StatusServiceUnavailable, "Prediction service is not configured")
		return
	}
	analysis, err := h.analyzer.Analyze(r.Context(), list)
	if err != nil {
		h.logger.Error("task analysis failed", "tasks", len(list), "error", err)
		h.errorResponse(w, http.StatusBadGateway, "Failed to analyze tasks")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(analysis)
}

// isFieldError reports whether err came from decoding task fields
// rather than from storage.
func isFieldError(err error) bool {
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr)
}
