package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/reminders/internal/channel"
	"github.com/lalithlochan/reminders/internal/db"
	"github.com/lalithlochan/reminders/internal/message"
	"github.com/lalithlochan/reminders/internal/metrics"
)

// ProcessAutomaticFollowUps handles every lead whose follow-up is due. Each
// lead is advanced to its next follow-up whether or not any channel
// delivered.
func (d *Dispatcher) ProcessAutomaticFollowUps(ctx context.Context) (RunReport, error) {
	var report RunReport
	err := d.guard.Run(ctx, func(ctx context.Context) error {
		var err error
		report, err = d.process(ctx)
		return err
	})
	return report, err
}

func (d *Dispatcher) process(ctx context.Context) (RunReport, error) {
	var report RunReport
	start := d.now()
	defer func() {
		report.Duration = d.now().Sub(start)
		metrics.ObserveCycle(metrics.CycleFollowUps, report.Duration)
	}()

	settings := map[uuid.UUID]*db.OrganizationSettings{}
	seen := map[uuid.UUID]bool{}

	for {
		leads, err := d.store.GetDueLeads(ctx, d.now(), d.config.BatchSize)
		if err != nil {
			return report, fmt.Errorf("get due leads: %w", err)
		}

		// A lead whose write failed stays due; don't pick it up twice.
		fresh := 0
		for _, lead := range leads {
			if seen[lead.ID] {
				continue
			}
			seen[lead.ID] = true
			fresh++

			if ctx.Err() != nil {
				return report, nil
			}
			d.processLead(ctx, lead, d.settings(ctx, settings, lead.OrganizationID), &report)
		}

		if len(leads) < d.config.BatchSize || fresh == 0 {
			return report, nil
		}
	}
}

func (d *Dispatcher) settings(ctx context.Context, cache map[uuid.UUID]*db.OrganizationSettings, orgID uuid.UUID) *db.OrganizationSettings {
	if s, ok := cache[orgID]; ok {
		return s
	}
	s, err := d.store.GetOrganizationSettings(ctx, orgID)
	if err != nil {
		d.logger.Warn("organization settings unavailable, using defaults",
			zap.String("organization_id", orgID.String()),
			zap.Error(err),
		)
		s = &db.OrganizationSettings{OrganizationID: orgID}
	}
	cache[orgID] = s
	return s
}

func (d *Dispatcher) processLead(ctx context.Context, lead *db.Lead, org *db.OrganizationSettings, report *RunReport) {
	log := d.logger.With(
		zap.String("lead_id", lead.ID.String()),
		zap.String("organization_id", lead.OrganizationID.String()),
	)
	report.Leads++

	vars := message.Vars{
		Name:    lead.Name,
		Service: lead.ServiceType,
		Company: org.CompanyName,
	}

	email := d.sendEmail(ctx, lead, org, vars)
	sms := d.sendSMS(ctx, lead, org, vars)

	now := d.now()
	cycle := db.FollowUpCycle{
		LeadID:      lead.ID,
		ProcessedAt: now,
		NextDue:     nextDue(lead.NextAutomaticFollowUp, days(max(lead.FollowUpIntervalDays, 1)), now),
		EmailSent:   email.IsSent(),
		SMSSent:     sms.IsSent(),
	}

	for _, r := range []channel.Result{email, sms} {
		metrics.RecordChannelAttempt(r.Channel, r.Outcome.String())
		switch {
		case r.IsSkipped():
			report.Skipped++
			log.Debug("follow-up channel skipped", zap.String("channel", r.Channel), zap.String("reason", r.Reason))
			continue
		case r.IsFailed():
			log.Warn("follow-up channel failed", zap.String("channel", r.Channel), zap.String("reason", r.Reason))
		}
		cycle.Attempts = append(cycle.Attempts, attempt(lead, r, now))
	}
	tally(report, email, sms)

	// Write even when the run is being cancelled: the messages went out.
	if err := d.store.RecordFollowUpCycle(context.WithoutCancel(ctx), cycle); err != nil {
		report.Errors++
		log.Error("failed to record follow-up", zap.Error(err))
		return
	}

	metrics.RecordFollowUpProcessed()
	log.Info("follow-up processed",
		zap.String("email", email.Outcome.String()),
		zap.String("sms", sms.Outcome.String()),
		zap.Time("next", cycle.NextDue),
	)
}

func (d *Dispatcher) sendEmail(ctx context.Context, lead *db.Lead, org *db.OrganizationSettings, vars message.Vars) channel.Result {
	if lead.Email == "" {
		return channel.Skipped(channel.NameEmail, "lead has no email address")
	}
	if d.channels.Email == nil {
		return channel.Skipped(channel.NameEmail, "email channel not configured")
	}
	msg := channel.EmailMessage{
		To:      lead.Email,
		From:    org.EmailFromAddress,
		Subject: message.Render(message.Or(org.FollowUpSubjectTemplate, message.DefaultFollowUpSubject), vars),
		Text:    message.Render(message.Or(org.FollowUpBodyTemplate, message.DefaultFollowUpBody), vars),
	}
	return channel.Attempt(ctx, channel.NameEmail, func(ctx context.Context) error {
		return d.channels.Email.SendEmail(ctx, msg)
	})
}

func (d *Dispatcher) sendSMS(ctx context.Context, lead *db.Lead, org *db.OrganizationSettings, vars message.Vars) channel.Result {
	if lead.Phone == "" {
		return channel.Skipped(channel.NameSMS, "lead has no phone number")
	}
	if d.channels.SMS == nil || !org.HasSMSCredentials() {
		return channel.Skipped(channel.NameSMS, "sms not configured for organization")
	}
	msg := channel.SMSMessage{
		From: org.SMSFromNumber,
		To:   lead.Phone,
		Body: message.Render(message.Or(org.FollowUpSMSTemplate, message.DefaultFollowUpSMS), vars),
	}
	creds := channel.SMSCredentials{
		AccessKeyID:     org.SMSAccessKeyID,
		SecretAccessKey: org.SMSSecretAccessKey,
		Region:          org.SMSRegion,
	}
	return channel.Attempt(ctx, channel.NameSMS, func(ctx context.Context) error {
		return d.channels.SMS.SendSMS(ctx, msg, creds)
	})
}

func attempt(lead *db.Lead, r channel.Result, at time.Time) *db.LeadFollowUpAttempt {
	a := &db.LeadFollowUpAttempt{
		ID:             uuid.New(),
		LeadID:         lead.ID,
		OrganizationID: lead.OrganizationID,
		Channel:        r.Channel,
		Status:         db.AttemptSent,
		CreatedAt:      at,
	}
	if r.IsFailed() {
		reason := r.Reason
		a.Status = db.AttemptFailed
		a.Reason = &reason
	}
	return a
}

func tally(report *RunReport, email, sms channel.Result) {
	switch {
	case email.IsSent():
		report.EmailSent++
	case email.IsFailed():
		report.EmailFailed++
	}
	switch {
	case sms.IsSent():
		report.SMSSent++
	case sms.IsFailed():
		report.SMSFailed++
	}
}
