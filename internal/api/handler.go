package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/reminders/internal/db"
	"github.com/lalithlochan/reminders/internal/followup"
	"github.com/lalithlochan/reminders/internal/scheduler"
)

// Scheduler is the task reminder surface the API drives.
type Scheduler interface {
	ScheduleForTask(ctx context.Context, taskID, assignedUserID uuid.UUID, dueDate time.Time, organizationID uuid.UUID) (int, error)
	RescheduleForTask(ctx context.Context, taskID uuid.UUID, newDueDate time.Time) (int, error)
	CancelForTask(ctx context.Context, taskID uuid.UUID) (int64, error)
	ProcessPending(ctx context.Context) (scheduler.CycleReport, error)
}

// FollowUps is the lead follow-up surface the API drives.
type FollowUps interface {
	EnableAutomaticFollowUp(ctx context.Context, leadID uuid.UUID, intervalDays int) (time.Time, error)
	DisableAutomaticFollowUp(ctx context.Context, leadID uuid.UUID) error
	ProcessAutomaticFollowUps(ctx context.Context) (followup.RunReport, error)
}

// History reads a task and its reminder rows.
type History interface {
	GetTask(ctx context.Context, id uuid.UUID) (*db.Task, error)
	ListNotificationsByTask(ctx context.Context, taskID uuid.UUID) ([]*db.TaskNotification, error)
}

// TriggerQueue hands a follow-up run to whichever replica consumes the queue.
type TriggerQueue interface {
	EnqueueFollowUpRun(ctx context.Context, requestedBy string) (string, error)
}

// ScheduleRequest is the body of POST /v1/tasks/{id}/notifications.
type ScheduleRequest struct {
	AssignedUserID string    `json:"assigned_user_id"`
	OrganizationID string    `json:"organization_id"`
	DueDate        time.Time `json:"due_date"`
}

// RescheduleRequest is the body of PUT /v1/tasks/{id}/notifications.
type RescheduleRequest struct {
	DueDate time.Time `json:"due_date"`
}

// FollowUpRequest is the body of POST /v1/leads/{id}/follow-up.
type FollowUpRequest struct {
	IntervalDays int `json:"interval_days"`
}

type ScheduleResponse struct {
	TaskID    string `json:"task_id"`
	Scheduled int    `json:"scheduled"`
}

type CancelResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled int64  `json:"cancelled"`
}

type HistoryResponse struct {
	Task          *db.Task               `json:"task"`
	Notifications []*db.TaskNotification `json:"notifications"`
}

type FollowUpResponse struct {
	LeadID       string    `json:"lead_id"`
	IntervalDays int       `json:"interval_days"`
	NextFollowUp time.Time `json:"next_follow_up"`
}

type EnqueuedResponse struct {
	MessageID string `json:"message_id"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	scheduler Scheduler
	followUps FollowUps
	history   History
	queue     TriggerQueue // nil runs follow-ups inline
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, sched Scheduler, followUps FollowUps, history History) *Handler {
	return &Handler{
		logger:    logger,
		scheduler: sched,
		followUps: followUps,
		history:   history,
	}
}

// NewHandlerWithQueue creates a handler that enqueues follow-up runs
func NewHandlerWithQueue(logger *zap.Logger, sched Scheduler, followUps FollowUps, history History, queue TriggerQueue) *Handler {
	h := NewHandler(logger, sched, followUps, history)
	h.queue = queue
	return h
}

// Routes mounts the v1 endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/tasks/{id}/notifications", func(r chi.Router) {
		r.Post("/", h.ScheduleNotifications)
		r.Put("/", h.RescheduleNotifications)
		r.Delete("/", h.CancelNotifications)
		r.Get("/", h.ListNotifications)
	})
	r.Post("/notifications/process", h.ProcessNotifications)

	r.Post("/leads/{id}/follow-up", h.EnableFollowUp)
	r.Delete("/leads/{id}/follow-up", h.DisableFollowUp)
	r.Post("/follow-ups/run", h.RunFollowUps)
}

// ScheduleNotifications handles POST /v1/tasks/{id}/notifications
func (h *Handler) ScheduleNotifications(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.pathID(w, r, "task")
	if !ok {
		return
	}

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.AssignedUserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid assigned_user_id", "assigned_user_id must be a valid UUID")
		return
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid organization_id", "organization_id must be a valid UUID")
		return
	}

	n, err := h.scheduler.ScheduleForTask(r.Context(), taskID, userID, req.DueDate, orgID)
	if err != nil {
		h.writeDomainError(w, err, "Failed to schedule reminders")
		return
	}

	h.logger.Info("reminders scheduled",
		zap.String("task_id", taskID.String()),
		zap.Int("scheduled", n),
	)
	h.writeJSON(w, http.StatusCreated, ScheduleResponse{TaskID: taskID.String(), Scheduled: n})
}

// RescheduleNotifications handles PUT /v1/tasks/{id}/notifications
func (h *Handler) RescheduleNotifications(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.pathID(w, r, "task")
	if !ok {
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	n, err := h.scheduler.RescheduleForTask(r.Context(), taskID, req.DueDate)
	if err != nil {
		h.writeDomainError(w, err, "Failed to reschedule reminders")
		return
	}

	h.logger.Info("reminders rescheduled",
		zap.String("task_id", taskID.String()),
		zap.Int("scheduled", n),
	)
	h.writeJSON(w, http.StatusOK, ScheduleResponse{TaskID: taskID.String(), Scheduled: n})
}

// CancelNotifications handles DELETE /v1/tasks/{id}/notifications
func (h *Handler) CancelNotifications(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.pathID(w, r, "task")
	if !ok {
		return
	}

	n, err := h.scheduler.CancelForTask(r.Context(), taskID)
	if err != nil {
		h.writeDomainError(w, err, "Failed to cancel reminders")
		return
	}

	h.writeJSON(w, http.StatusOK, CancelResponse{TaskID: taskID.String(), Cancelled: n})
}

// ListNotifications handles GET /v1/tasks/{id}/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.pathID(w, r, "task")
	if !ok {
		return
	}

	task, err := h.history.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeDomainError(w, err, "Failed to get task")
		return
	}

	notifications, err := h.history.ListNotificationsByTask(r.Context(), taskID)
	if err != nil {
		h.writeDomainError(w, err, "Failed to list reminders")
		return
	}
	if notifications == nil {
		notifications = []*db.TaskNotification{}
	}

	h.writeJSON(w, http.StatusOK, HistoryResponse{Task: task, Notifications: notifications})
}

// ProcessNotifications handles POST /v1/notifications/process
func (h *Handler) ProcessNotifications(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.ProcessPending(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "Reminder cycle failed")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// EnableFollowUp handles POST /v1/leads/{id}/follow-up
func (h *Handler) EnableFollowUp(w http.ResponseWriter, r *http.Request) {
	leadID, ok := h.pathID(w, r, "lead")
	if !ok {
		return
	}

	var req FollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	next, err := h.followUps.EnableAutomaticFollowUp(r.Context(), leadID, req.IntervalDays)
	if err != nil {
		h.writeDomainError(w, err, "Failed to enable follow-up")
		return
	}

	h.logger.Info("automatic follow-up enabled",
		zap.String("lead_id", leadID.String()),
		zap.Int("interval_days", req.IntervalDays),
	)
	h.writeJSON(w, http.StatusOK, FollowUpResponse{
		LeadID:       leadID.String(),
		IntervalDays: req.IntervalDays,
		NextFollowUp: next,
	})
}

// DisableFollowUp handles DELETE /v1/leads/{id}/follow-up
func (h *Handler) DisableFollowUp(w http.ResponseWriter, r *http.Request) {
	leadID, ok := h.pathID(w, r, "lead")
	if !ok {
		return
	}

	if err := h.followUps.DisableAutomaticFollowUp(r.Context(), leadID); err != nil {
		h.writeDomainError(w, err, "Failed to disable follow-up")
		return
	}

	h.logger.Info("automatic follow-up disabled", zap.String("lead_id", leadID.String()))
	w.WriteHeader(http.StatusNoContent)
}

// RunFollowUps handles POST /v1/follow-ups/run. With a queue configured the
// run is enqueued and 202 returned; otherwise it runs inline.
func (h *Handler) RunFollowUps(w http.ResponseWriter, r *http.Request) {
	if h.queue != nil {
		requestedBy := r.Header.Get(OrganizationHeader)
		if requestedBy == "" {
			requestedBy = "api"
		}
		id, err := h.queue.EnqueueFollowUpRun(r.Context(), requestedBy)
		if err != nil {
			h.logger.Error("failed to enqueue follow-up run", zap.Error(err))
			h.writeError(w, http.StatusServiceUnavailable, "queue_error", "Failed to enqueue follow-up run", "")
			return
		}
		h.writeJSON(w, http.StatusAccepted, EnqueuedResponse{MessageID: id})
		return
	}

	report, err := h.followUps.ProcessAutomaticFollowUps(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "Follow-up run failed")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, kind string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+kind+" ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// writeDomainError maps service errors onto problem+json responses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, title string) {
	switch {
	case errors.Is(err, scheduler.ErrInvalidArgument), errors.Is(err, followup.ErrInvalidInterval):
		h.writeError(w, http.StatusBadRequest, "invalid_request", title, err.Error())
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Not found", err.Error())
	case errors.Is(err, scheduler.ErrCycleInProgress):
		h.writeError(w, http.StatusConflict, "cycle_in_progress", "A run is already in progress", "")
	default:
		h.logger.Error(title, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
