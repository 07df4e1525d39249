package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/reminders/internal/db"
	"github.com/lalithlochan/reminders/internal/followup"
	"github.com/lalithlochan/reminders/internal/scheduler"
)

// Common test errors
var ErrDatabaseError = errors.New("database error")

// MockScheduler records calls and returns canned results
type MockScheduler struct {
	scheduleCalled   bool
	rescheduleCalled bool
	cancelCalled     bool

	lastTask uuid.UUID
	lastUser uuid.UUID
	lastOrg  uuid.UUID
	lastDue  time.Time

	scheduled int
	cancelled int64
	report    scheduler.CycleReport
	err       error
}

func (m *MockScheduler) ScheduleForTask(ctx context.Context, taskID, userID uuid.UUID, due time.Time, orgID uuid.UUID) (int, error) {
	m.scheduleCalled = true
	m.lastTask, m.lastUser, m.lastDue, m.lastOrg = taskID, userID, due, orgID
	return m.scheduled, m.err
}

func (m *MockScheduler) RescheduleForTask(ctx context.Context, taskID uuid.UUID, due time.Time) (int, error) {
	m.rescheduleCalled = true
	m.lastTask, m.lastDue = taskID, due
	return m.scheduled, m.err
}

func (m *MockScheduler) CancelForTask(ctx context.Context, taskID uuid.UUID) (int64, error) {
	m.cancelCalled = true
	m.lastTask = taskID
	return m.cancelled, m.err
}

func (m *MockScheduler) ProcessPending(ctx context.Context) (scheduler.CycleReport, error) {
	return m.report, m.err
}

// MockFollowUps records calls and returns canned results
type MockFollowUps struct {
	enableCalled  bool
	disableCalled bool
	runCalled     bool

	lastLead     uuid.UUID
	lastInterval int

	next   time.Time
	report followup.RunReport
	err    error
}

func (m *MockFollowUps) EnableAutomaticFollowUp(ctx context.Context, leadID uuid.UUID, intervalDays int) (time.Time, error) {
	m.enableCalled = true
	m.lastLead, m.lastInterval = leadID, intervalDays
	if intervalDays < 1 {
		return time.Time{}, followup.ErrInvalidInterval
	}
	return m.next, m.err
}

func (m *MockFollowUps) DisableAutomaticFollowUp(ctx context.Context, leadID uuid.UUID) error {
	m.disableCalled = true
	m.lastLead = leadID
	return m.err
}

func (m *MockFollowUps) ProcessAutomaticFollowUps(ctx context.Context) (followup.RunReport, error) {
	m.runCalled = true
	return m.report, m.err
}

// MockHistory is a fake task and reminder store
type MockHistory struct {
	tasks         map[uuid.UUID]*db.Task
	notifications map[uuid.UUID][]*db.TaskNotification
	shouldFail    bool
}

func NewMockHistory() *MockHistory {
	return &MockHistory{
		tasks:         make(map[uuid.UUID]*db.Task),
		notifications: make(map[uuid.UUID][]*db.TaskNotification),
	}
}

func (m *MockHistory) GetTask(ctx context.Context, id uuid.UUID) (*db.Task, error) {
	if m.shouldFail {
		return nil, ErrDatabaseError
	}
	task, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, db.ErrNotFound)
	}
	return task, nil
}

func (m *MockHistory) ListNotificationsByTask(ctx context.Context, taskID uuid.UUID) ([]*db.TaskNotification, error) {
	if m.shouldFail {
		return nil, ErrDatabaseError
	}
	return m.notifications[taskID], nil
}

// MockQueue captures enqueued follow-up runs
type MockQueue struct {
	requestedBy []string
	err         error
}

func (m *MockQueue) EnqueueFollowUpRun(ctx context.Context, requestedBy string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.requestedBy = append(m.requestedBy, requestedBy)
	return "msg-1", nil
}

type testAPI struct {
	sched   *MockScheduler
	follow  *MockFollowUps
	history *MockHistory
	router  chi.Router
}

func newTestAPI(queue TriggerQueue) *testAPI {
	a := &testAPI{
		sched:   &MockScheduler{},
		follow:  &MockFollowUps{},
		history: NewMockHistory(),
	}

	var h *Handler
	if queue != nil {
		h = NewHandlerWithQueue(zap.NewNop(), a.sched, a.follow, a.history, queue)
	} else {
		h = NewHandler(zap.NewNop(), a.sched, a.follow, a.history)
	}

	a.router = chi.NewRouter()
	a.router.Route("/v1", h.Routes)
	return a
}

func (a *testAPI) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %q", ct)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return errResp
}

func TestScheduleNotifications(t *testing.T) {
	taskID := uuid.New()
	userID := uuid.New()
	orgID := uuid.New()
	due := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		path           string
		requestBody    interface{}
		schedErr       error
		expectedStatus int
	}{
		{
			name: "valid request",
			path: "/v1/tasks/" + taskID.String() + "/notifications",
			requestBody: ScheduleRequest{
				AssignedUserID: userID.String(),
				OrganizationID: orgID.String(),
				DueDate:        due,
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid task id",
			path:           "/v1/tasks/not-a-uuid/notifications",
			requestBody:    ScheduleRequest{AssignedUserID: userID.String(), OrganizationID: orgID.String(), DueDate: due},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed json",
			path:           "/v1/tasks/" + taskID.String() + "/notifications",
			requestBody:    `{"assigned_user_id":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid assigned_user_id",
			path:           "/v1/tasks/" + taskID.String() + "/notifications",
			requestBody:    ScheduleRequest{AssignedUserID: "nope", OrganizationID: orgID.String(), DueDate: due},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid organization_id",
			path:           "/v1/tasks/" + taskID.String() + "/notifications",
			requestBody:    ScheduleRequest{AssignedUserID: userID.String(), DueDate: due},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "scheduler rejects arguments",
			path:           "/v1/tasks/" + taskID.String() + "/notifications",
			requestBody:    ScheduleRequest{AssignedUserID: userID.String(), OrganizationID: orgID.String()},
			schedErr:       fmt.Errorf("%w: due date is required", scheduler.ErrInvalidArgument),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "database error",
			path:           "/v1/tasks/" + taskID.String() + "/notifications",
			requestBody:    ScheduleRequest{AssignedUserID: userID.String(), OrganizationID: orgID.String(), DueDate: due},
			schedErr:       ErrDatabaseError,
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(nil)
			a.sched.scheduled = 5
			a.sched.err = tt.schedErr

			rec := a.do(http.MethodPost, tt.path, tt.requestBody)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}

			if tt.expectedStatus != http.StatusCreated {
				if errResp := decodeError(t, rec); errResp.Status != tt.expectedStatus {
					t.Errorf("expected body status %d, got %d", tt.expectedStatus, errResp.Status)
				}
				return
			}

			var resp ScheduleResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Scheduled != 5 || resp.TaskID != taskID.String() {
				t.Errorf("unexpected response: %+v", resp)
			}
			if a.sched.lastUser != userID || a.sched.lastOrg != orgID || !a.sched.lastDue.Equal(due) {
				t.Errorf("scheduler called with wrong arguments")
			}
		})
	}
}

func TestRescheduleNotifications(t *testing.T) {
	taskID := uuid.New()
	due := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	t.Run("reschedules", func(t *testing.T) {
		a := newTestAPI(nil)
		a.sched.scheduled = 3

		rec := a.do(http.MethodPut, "/v1/tasks/"+taskID.String()+"/notifications", RescheduleRequest{DueDate: due})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !a.sched.rescheduleCalled || a.sched.lastTask != taskID || !a.sched.lastDue.Equal(due) {
			t.Error("expected reschedule with task id and new due date")
		}
		var resp ScheduleResponse
		json.NewDecoder(rec.Body).Decode(&resp)
		if resp.Scheduled != 3 {
			t.Errorf("expected 3 scheduled, got %d", resp.Scheduled)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		a := newTestAPI(nil)
		a.sched.err = fmt.Errorf("task %s: %w", taskID, db.ErrNotFound)

		rec := a.do(http.MethodPut, "/v1/tasks/"+taskID.String()+"/notifications", RescheduleRequest{DueDate: due})
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
		if errResp := decodeError(t, rec); errResp.Type != "not_found" {
			t.Errorf("expected not_found, got %q", errResp.Type)
		}
	})
}

func TestCancelNotifications(t *testing.T) {
	a := newTestAPI(nil)
	a.sched.cancelled = 4
	taskID := uuid.New()

	rec := a.do(http.MethodDelete, "/v1/tasks/"+taskID.String()+"/notifications", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !a.sched.cancelCalled || a.sched.lastTask != taskID {
		t.Error("expected cancel for task")
	}

	var resp CancelResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cancelled != 4 {
		t.Errorf("expected 4 cancelled, got %d", resp.Cancelled)
	}
}

func TestListNotifications(t *testing.T) {
	taskID := uuid.New()

	tests := []struct {
		name           string
		setup          func(*MockHistory)
		expectedStatus int
		expectedCount  int
	}{
		{
			name: "task with reminders",
			setup: func(m *MockHistory) {
				m.tasks[taskID] = &db.Task{ID: taskID, Title: "Replace boiler"}
				m.notifications[taskID] = []*db.TaskNotification{
					{ID: uuid.New(), TaskID: taskID, OffsetHours: 24, Status: db.StatusSent},
					{ID: uuid.New(), TaskID: taskID, OffsetHours: 12, Status: db.StatusPending},
				}
			},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name: "task without reminders",
			setup: func(m *MockHistory) {
				m.tasks[taskID] = &db.Task{ID: taskID}
			},
			expectedStatus: http.StatusOK,
			expectedCount:  0,
		},
		{
			name:           "unknown task",
			setup:          func(m *MockHistory) {},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "database error",
			setup:          func(m *MockHistory) { m.shouldFail = true },
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(nil)
			tt.setup(a.history)

			rec := a.do(http.MethodGet, "/v1/tasks/"+taskID.String()+"/notifications", nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var resp HistoryResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Notifications == nil {
				t.Error("expected empty array, not null")
			}
			if len(resp.Notifications) != tt.expectedCount {
				t.Errorf("expected %d notifications, got %d", tt.expectedCount, len(resp.Notifications))
			}
			if resp.Task == nil || resp.Task.ID != taskID {
				t.Error("expected task in response")
			}
		})
	}
}

func TestProcessNotifications(t *testing.T) {
	t.Run("returns report", func(t *testing.T) {
		a := newTestAPI(nil)
		a.sched.report = scheduler.CycleReport{Claimed: 3, Sent: 2, Failed: 1}

		rec := a.do(http.MethodPost, "/v1/notifications/process", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var report scheduler.CycleReport
		if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
			t.Fatalf("failed to decode report: %v", err)
		}
		if report.Sent != 2 || report.Failed != 1 {
			t.Errorf("unexpected report: %+v", report)
		}
	})

	t.Run("cycle already running", func(t *testing.T) {
		a := newTestAPI(nil)
		a.sched.err = scheduler.ErrCycleInProgress

		rec := a.do(http.MethodPost, "/v1/notifications/process", nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})
}

func TestEnableFollowUp(t *testing.T) {
	leadID := uuid.New()
	next := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		path           string
		requestBody    interface{}
		err            error
		expectedStatus int
	}{
		{"valid", "/v1/leads/" + leadID.String() + "/follow-up", FollowUpRequest{IntervalDays: 2}, nil, http.StatusOK},
		{"zero interval", "/v1/leads/" + leadID.String() + "/follow-up", FollowUpRequest{}, nil, http.StatusBadRequest},
		{"invalid lead id", "/v1/leads/abc/follow-up", FollowUpRequest{IntervalDays: 2}, nil, http.StatusBadRequest},
		{"unknown lead", "/v1/leads/" + leadID.String() + "/follow-up", FollowUpRequest{IntervalDays: 2}, db.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(nil)
			a.follow.next = next
			a.follow.err = tt.err

			rec := a.do(http.MethodPost, tt.path, tt.requestBody)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var resp FollowUpResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if !resp.NextFollowUp.Equal(next) || resp.IntervalDays != 2 {
				t.Errorf("unexpected response: %+v", resp)
			}
		})
	}
}

func TestDisableFollowUp(t *testing.T) {
	a := newTestAPI(nil)
	leadID := uuid.New()

	rec := a.do(http.MethodDelete, "/v1/leads/"+leadID.String()+"/follow-up", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !a.follow.disableCalled || a.follow.lastLead != leadID {
		t.Error("expected disable for lead")
	}
}

func TestRunFollowUps_Inline(t *testing.T) {
	a := newTestAPI(nil)
	a.follow.report = followup.RunReport{Leads: 4, EmailSent: 3}

	rec := a.do(http.MethodPost, "/v1/follow-ups/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !a.follow.runCalled {
		t.Error("expected inline run")
	}
	var report followup.RunReport
	json.NewDecoder(rec.Body).Decode(&report)
	if report.Leads != 4 || report.EmailSent != 3 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestRunFollowUps_InlineInProgress(t *testing.T) {
	a := newTestAPI(nil)
	a.follow.err = followup.ErrCycleInProgress

	rec := a.do(http.MethodPost, "/v1/follow-ups/run", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestRunFollowUps_Enqueued(t *testing.T) {
	queue := &MockQueue{}
	a := newTestAPI(queue)

	req := httptest.NewRequest(http.MethodPost, "/v1/follow-ups/run", nil)
	req.Header.Set(OrganizationHeader, "org-a")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if a.follow.runCalled {
		t.Error("run should be left to the queue consumer")
	}
	if len(queue.requestedBy) != 1 || queue.requestedBy[0] != "org-a" {
		t.Errorf("unexpected enqueue: %v", queue.requestedBy)
	}

	var resp EnqueuedResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.MessageID != "msg-1" {
		t.Errorf("expected msg-1, got %q", resp.MessageID)
	}
}

func TestRunFollowUps_QueueError(t *testing.T) {
	a := newTestAPI(&MockQueue{err: errors.New("sqs unavailable")})

	rec := a.do(http.MethodPost, "/v1/follow-ups/run", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestWriteError(t *testing.T) {
	h := NewHandler(zap.NewNop(), nil, nil, nil)
	rec := httptest.NewRecorder()

	h.writeError(rec, http.StatusBadRequest, "test_error", "Test Error", "This is a test")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
	errResp := decodeError(t, rec)
	if errResp.Type != "test_error" || errResp.Title != "Test Error" || errResp.Detail != "This is a test" {
		t.Errorf("unexpected error response: %+v", errResp)
	}
}
