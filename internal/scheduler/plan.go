package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/reminders/internal/db"
	"github.com/lalithlochan/reminders/internal/metrics"
)

// ScheduleForTask creates one pending reminder per configured offset whose
// fire time is not already past, returning how many were created. A due date
// nearer than the smallest offset yields zero rows and no error. Offsets that
// already have a pending reminder are left alone.
func (s *Scheduler) ScheduleForTask(ctx context.Context, taskID, assignedUserID uuid.UUID, dueDate time.Time, organizationID uuid.UUID) (int, error) {
	switch {
	case taskID == uuid.Nil:
		return 0, fmt.Errorf("%w: task id is required", ErrInvalidArgument)
	case assignedUserID == uuid.Nil:
		return 0, fmt.Errorf("%w: assigned user id is required", ErrInvalidArgument)
	case organizationID == uuid.Nil:
		return 0, fmt.Errorf("%w: organization id is required", ErrInvalidArgument)
	case dueDate.IsZero():
		return 0, fmt.Errorf("%w: due date is required", ErrInvalidArgument)
	}

	plan := s.plan(taskID, assignedUserID, dueDate, organizationID, s.now())
	if len(plan) == 0 {
		s.logger.Debug("due date too close for any reminder",
			zap.String("task_id", taskID.String()),
			zap.Time("due_date", dueDate),
		)
		return 0, nil
	}

	created, err := s.store.InsertPendingNotifications(ctx, plan)
	if err != nil {
		return len(created), fmt.Errorf("schedule reminders for task %s: %w", taskID, err)
	}

	metrics.AddNotificationsScheduled(len(created))
	s.logger.Info("reminders scheduled",
		zap.String("task_id", taskID.String()),
		zap.String("user_id", assignedUserID.String()),
		zap.Int("created", len(created)),
		zap.Int("planned", len(plan)),
	)
	return len(created), nil
}

// plan computes the pending rows for dueDate as seen at now. A fire time
// equal to now is kept; one strictly before now is dropped.
func (s *Scheduler) plan(taskID, userID uuid.UUID, dueDate time.Time, orgID uuid.UUID, now time.Time) []*db.TaskNotification {
	rows := make([]*db.TaskNotification, 0, len(s.config.Offsets))
	for _, offset := range s.config.Offsets {
		at := dueDate.Add(-time.Duration(offset) * time.Hour)
		if at.Before(now) {
			continue
		}
		rows = append(rows, &db.TaskNotification{
			ID:             uuid.New(),
			TaskID:         taskID,
			UserID:         userID,
			OrganizationID: orgID,
			OffsetHours:    offset,
			ScheduledFor:   at,
			Status:         db.StatusPending,
		})
	}
	return rows
}

// CancelForTask moves every pending reminder of the task to cancelled.
// Rows in any other state are untouched.
func (s *Scheduler) CancelForTask(ctx context.Context, taskID uuid.UUID) (int64, error) {
	if taskID == uuid.Nil {
		return 0, fmt.Errorf("%w: task id is required", ErrInvalidArgument)
	}

	n, err := s.store.CancelPendingForTask(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("cancel reminders for task %s: %w", taskID, err)
	}

	metrics.AddNotificationsCancelled(n)
	s.logger.Info("reminders cancelled",
		zap.String("task_id", taskID.String()),
		zap.Int64("cancelled", n),
	)
	return n, nil
}

// RescheduleForTask cancels the task's pending reminders and plans new ones
// for newDueDate. Calling it twice with the same date leaves the same set of
// pending rows. A completed, deleted or unassigned task ends up with none.
func (s *Scheduler) RescheduleForTask(ctx context.Context, taskID uuid.UUID, newDueDate time.Time) (int, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("reschedule task %s: %w", taskID, err)
	}

	if _, err := s.CancelForTask(ctx, taskID); err != nil {
		return 0, err
	}

	if task.Completed || task.DeletedAt != nil || task.AssignedUserID == nil {
		s.logger.Info("task not eligible for reminders",
			zap.String("task_id", taskID.String()),
			zap.Bool("completed", task.Completed),
			zap.Bool("deleted", task.DeletedAt != nil),
			zap.Bool("assigned", task.AssignedUserID != nil),
		)
		return 0, nil
	}

	return s.ScheduleForTask(ctx, task.ID, *task.AssignedUserID, newDueDate, task.OrganizationID)
}
