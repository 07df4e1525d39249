package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/reminders/internal/channel"
	"github.com/lalithlochan/reminders/internal/db"
	"github.com/lalithlochan/reminders/internal/message"
	"github.com/lalithlochan/reminders/internal/metrics"
)

// EventTaskReminder is the realtime event type for a delivered reminder.
const EventTaskReminder = "task_reminder"

// CycleReport summarizes one ProcessPending run.
type CycleReport struct {
	Reclaimed  int64         `json:"reclaimed"`
	Superseded int64         `json:"superseded"`
	Claimed    int           `json:"claimed"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Errors     int           `json:"errors"`
	Duration   time.Duration `json:"duration_ns"`
}

// ProcessPending delivers every due pending reminder. It returns
// ErrCycleInProgress without doing anything if a cycle is already running.
// Channel and row errors are counted in the report, never returned; the
// error is reserved for failures that stop the whole cycle.
func (s *Scheduler) ProcessPending(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	err := s.guard.Run(ctx, func(ctx context.Context) error {
		var err error
		report, err = s.processPending(ctx)
		return err
	})
	return report, err
}

func (s *Scheduler) processPending(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	start := s.now()
	defer func() {
		report.Duration = s.now().Sub(start)
		metrics.ObserveCycle(metrics.CycleReminders, report.Duration)
	}()

	s.reclaim(ctx, start, &report)

	settings := newSettingsCache(s.store, s.logger)

	for {
		rows, err := s.store.ClaimDueNotifications(ctx, s.now(), s.config.BatchSize)
		if err != nil {
			return report, fmt.Errorf("claim due notifications: %w", err)
		}
		report.Claimed += len(rows)

		for i, row := range rows {
			if ctx.Err() != nil {
				s.logger.Warn("reminder cycle interrupted, claimed rows left for reclaim",
					zap.Int("remaining", len(rows)-i),
				)
				return report, nil
			}
			s.processRow(ctx, row, settings, &report)
		}

		if len(rows) < s.config.BatchSize {
			return report, nil
		}
	}
}

func (s *Scheduler) reclaim(ctx context.Context, now time.Time, report *CycleReport) {
	res, err := s.store.ReclaimStaleClaims(ctx, now.Add(-s.config.ClaimTimeout))
	if err != nil {
		s.logger.Error("failed to reclaim stale reminder claims", zap.Error(err))
		return
	}
	if res.Requeued > 0 || res.Cancelled > 0 {
		metrics.AddClaimsReclaimed(res.Requeued)
		metrics.AddNotificationsCancelled(res.Cancelled)
		s.logger.Warn("reclaimed stale reminder claims",
			zap.Int64("requeued", res.Requeued),
			zap.Int64("cancelled", res.Cancelled),
		)
	}
	report.Reclaimed = res.Requeued
	report.Superseded = res.Cancelled
}

// processRow attempts every channel for one claimed row and writes the
// outcome. Nothing that happens here aborts the batch.
func (s *Scheduler) processRow(ctx context.Context, row *db.DueNotification, settings *settingsCache, report *CycleReport) {
	log := s.logger.With(
		zap.String("notification_id", row.ID.String()),
		zap.String("task_id", row.TaskID.String()),
		zap.Int("offset_hours", row.OffsetHours),
	)

	var outcome db.DeliveryOutcome
	func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("panic while delivering reminder", zap.Any("panic", p))
				reason := fmt.Sprintf("internal error: %v", p)
				outcome = db.DeliveryOutcome{Status: db.StatusFailed, FailureReason: &reason}
			}
		}()
		outcome = s.deliver(ctx, row, settings.get(ctx, row.OrganizationID), log)
	}()

	if outcome.Status == db.StatusSent {
		sentAt := s.now()
		outcome.SentAt = &sentAt
	}

	// The attempt already happened, so persist its result even if the
	// cycle is being cancelled.
	if err := s.store.RecordDeliveryOutcome(context.WithoutCancel(ctx), row.ID, outcome); err != nil {
		report.Errors++
		if errors.Is(err, db.ErrNotFound) {
			log.Warn("reminder no longer claimed, outcome dropped", zap.Error(err))
			return
		}
		log.Error("failed to record reminder outcome", zap.Error(err))
		return
	}

	metrics.RecordNotificationProcessed(outcome.Status)
	if outcome.Status == db.StatusSent {
		report.Sent++
		log.Info("reminder sent",
			zap.Bool("email", outcome.EmailSent),
			zap.Bool("sms", outcome.SMSSent),
			zap.Bool("realtime", outcome.RealtimeSent),
		)
		return
	}

	report.Failed++
	log.Error("reminder failed", zap.String("reason", *outcome.FailureReason))
}

// deliver tries push, then email, then SMS. Each attempt is independent.
func (s *Scheduler) deliver(ctx context.Context, row *db.DueNotification, org *db.OrganizationSettings, log *zap.Logger) db.DeliveryOutcome {
	vars := message.Vars{
		Name:    row.RecipientName,
		Company: org.CompanyName,
		Task:    row.TaskTitle,
		Hours:   row.OffsetHours,
		Due:     row.DueDate,
	}

	push := s.sendPush(ctx, row)
	if push.IsFailed() {
		log.Warn("realtime push failed", zap.String("reason", push.Reason))
	}
	email := s.sendEmail(ctx, row, org, vars)
	sms := s.sendSMS(ctx, row, org, vars)

	for _, r := range []channel.Result{push, email, sms} {
		metrics.RecordChannelAttempt(r.Channel, r.Outcome.String())
	}

	return s.config.Policy.outcome(email, sms, push)
}

func (s *Scheduler) sendPush(ctx context.Context, row *db.DueNotification) channel.Result {
	if s.channels.Push == nil {
		return channel.Skipped(channel.NameRealtime, "realtime channel not configured")
	}
	event := channel.PushEvent{
		UserID:         row.UserID,
		OrganizationID: row.OrganizationID,
		EventType:      EventTaskReminder,
		Payload: map[string]any{
			"notification_id": row.ID,
			"task_id":         row.TaskID,
			"task_title":      row.TaskTitle,
			"offset_hours":    row.OffsetHours,
			"due_date":        row.DueDate,
		},
	}
	return channel.Attempt(ctx, channel.NameRealtime, func(ctx context.Context) error {
		return s.channels.Push.Push(ctx, event)
	})
}

func (s *Scheduler) sendEmail(ctx context.Context, row *db.DueNotification, org *db.OrganizationSettings, vars message.Vars) channel.Result {
	if row.RecipientEmail == "" {
		return channel.Skipped(channel.NameEmail, "recipient has no email address")
	}
	if s.channels.Email == nil {
		return channel.Failed(channel.NameEmail, channel.ErrNotConfigured)
	}
	msg := channel.EmailMessage{
		To:      row.RecipientEmail,
		From:    org.EmailFromAddress,
		Subject: message.Render(message.Or(org.ReminderSubjectTemplate, message.DefaultReminderSubject), vars),
		Text:    message.Render(message.Or(org.ReminderBodyTemplate, message.DefaultReminderBody), vars),
	}
	return channel.Attempt(ctx, channel.NameEmail, func(ctx context.Context) error {
		return s.channels.Email.SendEmail(ctx, msg)
	})
}

// sendSMS treats a recipient with a phone but an organization without SMS
// credentials as a configuration failure, not a skip.
func (s *Scheduler) sendSMS(ctx context.Context, row *db.DueNotification, org *db.OrganizationSettings, vars message.Vars) channel.Result {
	if row.RecipientPhone == "" {
		return channel.Skipped(channel.NameSMS, "recipient has no phone number")
	}
	if s.channels.SMS == nil || !org.HasSMSCredentials() {
		return channel.Failed(channel.NameSMS, channel.ErrNotConfigured)
	}
	msg := channel.SMSMessage{
		From: org.SMSFromNumber,
		To:   row.RecipientPhone,
		Body: message.Render(message.DefaultReminderSMS, vars),
	}
	creds := channel.SMSCredentials{
		AccessKeyID:     org.SMSAccessKeyID,
		SecretAccessKey: org.SMSSecretAccessKey,
		Region:          org.SMSRegion,
	}
	return channel.Attempt(ctx, channel.NameSMS, func(ctx context.Context) error {
		return s.channels.SMS.SendSMS(ctx, msg, creds)
	})
}

// settingsCache loads each organization's settings once per cycle. A lookup
// failure falls back to empty settings: default templates, no SMS.
type settingsCache struct {
	store  Store
	logger *zap.Logger
	byOrg  map[uuid.UUID]*db.OrganizationSettings
}

func newSettingsCache(store Store, logger *zap.Logger) *settingsCache {
	return &settingsCache{store: store, logger: logger, byOrg: make(map[uuid.UUID]*db.OrganizationSettings)}
}

func (c *settingsCache) get(ctx context.Context, orgID uuid.UUID) *db.OrganizationSettings {
	if s, ok := c.byOrg[orgID]; ok {
		return s
	}
	s, err := c.store.GetOrganizationSettings(ctx, orgID)
	if err != nil {
		c.logger.Warn("organization settings unavailable, using defaults",
			zap.String("organization_id", orgID.String()),
			zap.Error(err),
		)
		s = &db.OrganizationSettings{OrganizationID: orgID}
	}
	c.byOrg[orgID] = s
	return s
}
