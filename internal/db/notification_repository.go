package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const notificationColumns = `
	id, task_id, user_id, organization_id, offset_hours, scheduled_for,
	status, email_sent, sms_sent, realtime_sent, failure_reason,
	claimed_at, sent_at, created_at, updated_at`

func scanNotification(row rowScanner, n *TaskNotification, extra ...any) error {
	dest := []any{
		&n.ID,
		&n.TaskID,
		&n.UserID,
		&n.OrganizationID,
		&n.OffsetHours,
		&n.ScheduledFor,
		&n.Status,
		&n.EmailSent,
		&n.SMSSent,
		&n.RealtimeSent,
		&n.FailureReason,
		&n.ClaimedAt,
		&n.SentAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

// InsertPendingNotifications inserts reminders and returns the ones actually
// created. A row whose (task_id, offset_hours) already has a pending
// reminder is skipped by the partial unique index.
func (r *Repository) InsertPendingNotifications(ctx context.Context, notifs []*TaskNotification) ([]*TaskNotification, error) {
	if len(notifs) == 0 {
		return nil, nil
	}

	query := `
		INSERT INTO task_notifications (
			id, task_id, user_id, organization_id, offset_hours,
			scheduled_for, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id, offset_hours) WHERE status = 'pending' DO NOTHING
		RETURNING created_at, updated_at
	`

	batch := &pgx.Batch{}
	for _, n := range notifs {
		batch.Queue(query, n.ID, n.TaskID, n.UserID, n.OrganizationID, n.OffsetHours, n.ScheduledFor, n.Status)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer results.Close()

	created := make([]*TaskNotification, 0, len(notifs))
	for _, n := range notifs {
		err := results.QueryRow().Scan(&n.CreatedAt, &n.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("pending reminder already exists",
				zap.String("task_id", n.TaskID.String()),
				zap.Int("offset_hours", n.OffsetHours),
			)
			continue
		}
		if err != nil {
			return created, fmt.Errorf("insert notification: %w", err)
		}
		created = append(created, n)
	}

	return created, nil
}

// ClaimDueNotifications moves up to limit due reminders from pending to
// processing and returns them with recipient details. Rows of completed or
// deleted tasks are never claimed. SKIP LOCKED keeps concurrent claimers
// from picking the same row.
func (r *Repository) ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]*DueNotification, error) {
	query := `
		WITH due AS (
			SELECT n.id
			FROM task_notifications n
			JOIN tasks t ON t.id = n.task_id
			WHERE n.status = 'pending'
			  AND n.scheduled_for <= $1
			  AND t.completed = false
			  AND t.deleted_at IS NULL
			ORDER BY n.scheduled_for ASC
			LIMIT $2
			FOR UPDATE OF n SKIP LOCKED
		), claimed AS (
			UPDATE task_notifications n
			SET status = 'processing', claimed_at = $1, updated_at = NOW()
			FROM due
			WHERE n.id = due.id
			RETURNING n.*
		)
		SELECT
			c.id, c.task_id, c.user_id, c.organization_id, c.offset_hours, c.scheduled_for,
			c.status, c.email_sent, c.sms_sent, c.realtime_sent, c.failure_reason,
			c.claimed_at, c.sent_at, c.created_at, c.updated_at,
			t.title, COALESCE(t.due_date, c.scheduled_for + make_interval(hours => c.offset_hours)),
			COALESCE(u.name, ''), COALESCE(u.email, ''), COALESCE(u.phone, '')
		FROM claimed c
		JOIN tasks t ON t.id = c.task_id
		LEFT JOIN users u ON u.id = c.user_id
	`

	rows, err := r.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var due []*DueNotification
	for rows.Next() {
		var d DueNotification
		if err := scanNotification(rows, &d.TaskNotification,
			&d.TaskTitle, &d.DueDate, &d.RecipientName, &d.RecipientEmail, &d.RecipientPhone,
		); err != nil {
			return nil, fmt.Errorf("scan due notification: %w", err)
		}
		due = append(due, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return due, nil
}

// RecordDeliveryOutcome writes the terminal status and per-channel flags for
// a claimed reminder.
func (r *Repository) RecordDeliveryOutcome(ctx context.Context, id uuid.UUID, outcome DeliveryOutcome) error {
	query := `
		UPDATE task_notifications
		SET status = $1, email_sent = $2, sms_sent = $3, realtime_sent = $4,
		    failure_reason = $5, sent_at = $6, updated_at = NOW()
		WHERE id = $7 AND status = 'processing'
	`

	result, err := r.db.Pool().Exec(ctx, query,
		outcome.Status,
		outcome.EmailSent,
		outcome.SMSSent,
		outcome.RealtimeSent,
		outcome.FailureReason,
		outcome.SentAt,
		id,
	)
	if err != nil {
		r.logger.Error("failed to record delivery outcome",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return fmt.Errorf("update notification outcome: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not in processing state: %w", id, ErrNotFound)
	}

	return nil
}

// CancelPendingForTask flips every pending reminder of the task to cancelled.
func (r *Repository) CancelPendingForTask(ctx context.Context, taskID uuid.UUID) (int64, error) {
	query := `
		UPDATE task_notifications
		SET status = 'cancelled', updated_at = NOW()
		WHERE task_id = $1 AND status = 'pending'
	`

	result, err := r.db.Pool().Exec(ctx, query, taskID)
	if err != nil {
		return 0, fmt.Errorf("cancel notifications: %w", err)
	}

	return result.RowsAffected(), nil
}

// ReclaimStaleClaims hands reminders stuck in processing since before
// claimedBefore back to pending, so a crashed cycle's rows are retried once.
// A stale row is cancelled instead when its task is completed or deleted, or
// when another pending row already holds its (task, offset) slot; only the
// newest stale row per slot is requeued.
func (r *Repository) ReclaimStaleClaims(ctx context.Context, claimedBefore time.Time) (ReclaimResult, error) {
	query := `
		WITH stale AS (
			SELECT n.id, n.task_id, n.offset_hours, n.created_at,
			       (t.completed OR t.deleted_at IS NOT NULL) AS task_closed
			FROM task_notifications n
			JOIN tasks t ON t.id = n.task_id
			WHERE n.status = 'processing' AND n.claimed_at < $1
			FOR UPDATE OF n SKIP LOCKED
		), ranked AS (
			SELECT s.id,
			       s.task_closed
			       OR EXISTS (
			           SELECT 1 FROM task_notifications p
			           WHERE p.task_id = s.task_id
			             AND p.offset_hours = s.offset_hours
			             AND p.status = 'pending'
			       )
			       OR row_number() OVER (
			           PARTITION BY s.task_id, s.offset_hours
			           ORDER BY s.created_at DESC, s.id
			       ) > 1 AS superseded
			FROM stale s
		)
		UPDATE task_notifications n
		SET status = CASE WHEN r.superseded THEN 'cancelled' ELSE 'pending' END,
		    claimed_at = NULL, updated_at = NOW()
		FROM ranked r
		WHERE n.id = r.id
		RETURNING n.status
	`

	rows, err := r.db.Pool().Query(ctx, query, claimedBefore)
	if err != nil {
		return ReclaimResult{}, fmt.Errorf("reclaim stale notifications: %w", err)
	}
	defer rows.Close()

	var result ReclaimResult
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return ReclaimResult{}, fmt.Errorf("scan reclaimed status: %w", err)
		}
		if status == StatusCancelled {
			result.Cancelled++
		} else {
			result.Requeued++
		}
	}

	if err := rows.Err(); err != nil {
		return ReclaimResult{}, fmt.Errorf("reclaim stale notifications: %w", err)
	}

	return result, nil
}

// ListNotificationsByTask returns the full reminder history of a task.
func (r *Repository) ListNotificationsByTask(ctx context.Context, taskID uuid.UUID) ([]*TaskNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM task_notifications
		WHERE task_id = $1
		ORDER BY created_at DESC, offset_hours DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*TaskNotification
	for rows.Next() {
		var n TaskNotification
		if err := scanNotification(rows, &n); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}
