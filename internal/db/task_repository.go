package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// GetTask retrieves the fields of a task that drive reminder planning.
func (r *Repository) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	query := `
		SELECT id, organization_id, assigned_user_id, title, due_date, completed, deleted_at
		FROM tasks
		WHERE id = $1
	`

	var t Task
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.OrganizationID,
		&t.AssignedUserID,
		&t.Title,
		&t.DueDate,
		&t.Completed,
		&t.DeletedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}

	if err != nil {
		r.logger.Error("failed to get task",
			zap.Error(err),
			zap.String("task_id", id.String()),
		)
		return nil, fmt.Errorf("query task: %w", err)
	}

	return &t, nil
}

// GetOrganizationSettings returns templates and channel credentials for an
// organization. Missing settings rows yield empty strings, not an error.
func (r *Repository) GetOrganizationSettings(ctx context.Context, orgID uuid.UUID) (*OrganizationSettings, error) {
	query := `
		SELECT
			o.id,
			o.name,
			COALESCE(s.email_from_address, ''),
			COALESCE(s.sms_from_number, ''),
			COALESCE(s.sms_access_key_id, ''),
			COALESCE(s.sms_secret_access_key, ''),
			COALESCE(s.sms_region, ''),
			COALESCE(s.follow_up_subject_template, ''),
			COALESCE(s.follow_up_body_template, ''),
			COALESCE(s.follow_up_sms_template, ''),
			COALESCE(s.reminder_subject_template, ''),
			COALESCE(s.reminder_body_template, '')
		FROM organizations o
		LEFT JOIN organization_settings s ON s.organization_id = o.id
		WHERE o.id = $1
	`

	var s OrganizationSettings
	err := r.db.Pool().QueryRow(ctx, query, orgID).Scan(
		&s.OrganizationID,
		&s.CompanyName,
		&s.EmailFromAddress,
		&s.SMSFromNumber,
		&s.SMSAccessKeyID,
		&s.SMSSecretAccessKey,
		&s.SMSRegion,
		&s.FollowUpSubjectTemplate,
		&s.FollowUpBodyTemplate,
		&s.FollowUpSMSTemplate,
		&s.ReminderSubjectTemplate,
		&s.ReminderBodyTemplate,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("query organization settings: %w", err)
	}

	return &s, nil
}
