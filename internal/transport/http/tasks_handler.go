package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "edustat/internal/errors"
	"edustat/internal/operations"
)

// TaskService is the part of the task manager the handlers use
type TaskService interface {
	Submit(ctx context.Context, req operations.TaskRequest) (*operations.TaskSnapshot, error)
	GetTask(ctx context.Context, id string) (*operations.TaskSnapshot, error)
	ListTasks(ctx context.Context, filter operations.TaskFilter) ([]*operations.TaskSnapshot, error)
	Cancel(ctx context.Context, id string) error
	CancelBatch(ctx context.Context, batchCode string) int
	SystemStatus() operations.SystemStatus
}

// TasksHandler serves task submission, status and cancellation
type TasksHandler struct {
	service TaskService
	logger  *slog.Logger
}

// NewTasksHandler creates a tasks handler
func NewTasksHandler(service TaskService, logger *slog.Logger) *TasksHandler {
	return &TasksHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "tasks")),
	}
}

// Routes returns the /api/tasks router
func (h *TasksHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Submit)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}

// submitRequest is the body of POST /api/tasks
type submitRequest struct {
	operations.TaskRequest
}

// Bind implements render.Binder
func (s *submitRequest) Bind(r *http.Request) error {
	return nil
}

// Submit handles POST /api/tasks
func (h *TasksHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := render.Bind(r, &req); err != nil {
		respondError(w, r, h.logger, apperrors.NewDataValidationError("invalid request body: "+err.Error()))
		return
	}

	snapshot, err := h.service.Submit(r.Context(), req.TaskRequest)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "task_submitted",
		slog.String("task_id", snapshot.TaskID),
		slog.String("kind", string(snapshot.Kind)),
		slog.String("batch_code", snapshot.BatchCode))
	respondData(w, r, http.StatusAccepted, snapshot)
}

// Get handles GET /api/tasks/{id}
func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, r, http.StatusOK, snapshot)
}

// List handles GET /api/tasks
func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := operations.TaskFilter{
		Status:    operations.TaskStatus(q.Get("status")),
		Kind:      operations.TaskKind(q.Get("kind")),
		BatchCode: q.Get("batch_code"),
		Limit:     50,
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			respondError(w, r, h.logger, apperrors.NewDataValidationError("limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	tasks, err := h.service.ListTasks(r.Context(), filter)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if tasks == nil {
		tasks = []*operations.TaskSnapshot{}
	}
	respondData(w, r, http.StatusOK, tasks)
}

// Cancel handles POST /api/tasks/{id}/cancel
func (h *TasksHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Cancel(r.Context(), id); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "task_cancel_requested", slog.String("task_id", id))
	respondData(w, r, http.StatusAccepted, map[string]string{"task_id": id, "status": "cancelling"})
}

// CancelBatch handles POST /api/batches/{batch}/cancel
func (h *TasksHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batch := chi.URLParam(r, "batch")
	n := h.service.CancelBatch(r.Context(), batch)
	respondData(w, r, http.StatusAccepted, map[string]interface{}{"batch_code": batch, "cancelled": n})
}

// Status handles GET /api/status
func (h *TasksHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, h.service.SystemStatus())
}
