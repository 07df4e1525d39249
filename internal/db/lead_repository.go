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

const leadColumns = `
	id, organization_id, name, COALESCE(email, ''), COALESCE(phone, ''),
	COALESCE(service_type, ''), automatic_follow_up_enabled, follow_up_interval_days,
	next_automatic_follow_up, last_automatic_follow_up,
	automatic_follow_up_count, email_follow_up_count, sms_follow_up_count`

func scanLead(row rowScanner, l *Lead) error {
	return row.Scan(
		&l.ID,
		&l.OrganizationID,
		&l.Name,
		&l.Email,
		&l.Phone,
		&l.ServiceType,
		&l.AutomaticFollowUpEnabled,
		&l.FollowUpIntervalDays,
		&l.NextAutomaticFollowUp,
		&l.LastAutomaticFollowUp,
		&l.AutomaticFollowUpCount,
		&l.EmailFollowUpCount,
		&l.SMSFollowUpCount,
	)
}

// GetLead retrieves a lead by ID
func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`

	var l Lead
	err := scanLead(r.db.Pool().QueryRow(ctx, query, id), &l)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query lead: %w", err)
	}

	return &l, nil
}

// GetDueLeads returns leads whose automatic follow-up is enabled and due.
func (r *Repository) GetDueLeads(ctx context.Context, now time.Time, limit int) ([]*Lead, error) {
	query := `SELECT ` + leadColumns + `
		FROM leads
		WHERE automatic_follow_up_enabled = true
		  AND next_automatic_follow_up <= $1
		ORDER BY next_automatic_follow_up ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due leads: %w", err)
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		var l Lead
		if err := scanLead(rows, &l); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return leads, nil
}

// EnableAutomaticFollowUp turns follow-up on and seeds the next due time.
func (r *Repository) EnableAutomaticFollowUp(ctx context.Context, id uuid.UUID, intervalDays int, next time.Time) error {
	query := `
		UPDATE leads
		SET automatic_follow_up_enabled = true,
		    follow_up_interval_days = $1,
		    next_automatic_follow_up = $2,
		    updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, intervalDays, next, id)
	if err != nil {
		return fmt.Errorf("enable follow-up: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}

	r.logger.Info("automatic follow-up enabled",
		zap.String("lead_id", id.String()),
		zap.Int("interval_days", intervalDays),
		zap.Time("next", next),
	)

	return nil
}

// DisableAutomaticFollowUp clears the flag and the next due time.
func (r *Repository) DisableAutomaticFollowUp(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE leads
		SET automatic_follow_up_enabled = false,
		    next_automatic_follow_up = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("disable follow-up: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}

	r.logger.Info("automatic follow-up disabled", zap.String("lead_id", id.String()))

	return nil
}

// RecordFollowUpCycle advances the lead's schedule, bumps its counters and
// appends the channel attempts in one transaction.
func (r *Repository) RecordFollowUpCycle(ctx context.Context, cycle FollowUpCycle) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	emailInc, smsInc := 0, 0
	if cycle.EmailSent {
		emailInc = 1
	}
	if cycle.SMSSent {
		smsInc = 1
	}

	updateQuery := `
		UPDATE leads
		SET next_automatic_follow_up = $1,
		    last_automatic_follow_up = $2,
		    automatic_follow_up_count = automatic_follow_up_count + 1,
		    email_follow_up_count = email_follow_up_count + $3,
		    sms_follow_up_count = sms_follow_up_count + $4,
		    updated_at = NOW()
		WHERE id = $5 AND automatic_follow_up_enabled = true
	`

	result, err := tx.Exec(ctx, updateQuery, cycle.NextDue, cycle.ProcessedAt, emailInc, smsInc, cycle.LeadID)
	if err != nil {
		return fmt.Errorf("update lead follow-up: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("lead %s disabled or missing: %w", cycle.LeadID, ErrNotFound)
	}

	insertQuery := `
		INSERT INTO lead_follow_up_attempts (id, lead_id, organization_id, channel, status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, a := range cycle.Attempts {
		if _, err := tx.Exec(ctx, insertQuery, a.ID, a.LeadID, a.OrganizationID, a.Channel, a.Status, a.Reason, a.CreatedAt); err != nil {
			return fmt.Errorf("insert follow-up attempt: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
