// Package followup sends templated follow-up email and SMS to leads whose
// automatic follow-up is due, then moves their next follow-up forward.
package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/reminders/internal/channel"
	"github.com/lalithlochan/reminders/internal/cycle"
	"github.com/lalithlochan/reminders/internal/db"
	"github.com/lalithlochan/reminders/internal/metrics"
)

// ErrCycleInProgress is returned when a follow-up run is already going.
var ErrCycleInProgress = cycle.ErrInProgress

// ErrInvalidInterval rejects intervals shorter than one day.
var ErrInvalidInterval = errors.New("follow-up interval must be at least 1 day")

// Store is the persistence the dispatcher needs. *db.Repository implements it.
type Store interface {
	GetDueLeads(ctx context.Context, now time.Time, limit int) ([]*db.Lead, error)
	GetOrganizationSettings(ctx context.Context, orgID uuid.UUID) (*db.OrganizationSettings, error)
	RecordFollowUpCycle(ctx context.Context, cycle db.FollowUpCycle) error
	EnableAutomaticFollowUp(ctx context.Context, id uuid.UUID, intervalDays int, next time.Time) error
	DisableAutomaticFollowUp(ctx context.Context, id uuid.UUID) error
}

// Channels are the follow-up delivery paths. A nil channel is not configured.
type Channels struct {
	Email channel.Email
	SMS   channel.SMS
}

type Config struct {
	// Interval runs the dispatcher in-process. Zero leaves triggering to
	// the API or the SQS consumer.
	Interval  time.Duration
	BatchSize int
}

// RunReport summarizes one ProcessAutomaticFollowUps run.
type RunReport struct {
	Leads       int           `json:"leads"`
	EmailSent   int           `json:"email_sent"`
	EmailFailed int           `json:"email_failed"`
	SMSSent     int           `json:"sms_sent"`
	SMSFailed   int           `json:"sms_failed"`
	Skipped     int           `json:"skipped"`
	Errors      int           `json:"errors"`
	Duration    time.Duration `json:"duration_ns"`
}

type Dispatcher struct {
	store    Store
	channels Channels
	config   Config
	logger   *zap.Logger
	now      func() time.Time

	guard  *cycle.Guard
	runner *cycle.Runner
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithLease(lease cycle.Lease) Option {
	return func(d *Dispatcher) {
		d.guard = cycle.NewGuard(metrics.CycleFollowUps, lease, d.logger)
	}
}

func New(store Store, channels Channels, cfg Config, logger *zap.Logger, opts ...Option) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}

	d := &Dispatcher{
		store:    store,
		channels: channels,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
	d.guard = cycle.NewGuard(metrics.CycleFollowUps, nil, logger)
	for _, opt := range opts {
		opt(d)
	}
	if cfg.Interval > 0 {
		d.runner = cycle.NewRunner(metrics.CycleFollowUps, cfg.Interval, d.tick, logger)
	}
	return d
}

// Start runs the dispatcher every Interval. Without an interval it does
// nothing.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.runner != nil {
		d.runner.Start(ctx)
	}
}

func (d *Dispatcher) Stop() {
	if d.runner != nil {
		d.runner.Stop()
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	report, err := d.ProcessAutomaticFollowUps(ctx)
	if err != nil {
		if errors.Is(err, ErrCycleInProgress) {
			d.logger.Warn("follow-up run already in progress, skipping", zap.Error(err))
			return
		}
		d.logger.Error("follow-up run failed", zap.Error(err))
		return
	}
	d.logger.Info("follow-up run complete",
		zap.Int("leads", report.Leads),
		zap.Int("email_sent", report.EmailSent),
		zap.Int("sms_sent", report.SMSSent),
		zap.Int("errors", report.Errors),
	)
}

// EnableAutomaticFollowUp turns follow-up on with the first one due
// intervalDays from now.
func (d *Dispatcher) EnableAutomaticFollowUp(ctx context.Context, leadID uuid.UUID, intervalDays int) (time.Time, error) {
	if intervalDays < 1 {
		return time.Time{}, ErrInvalidInterval
	}
	next := d.now().Add(days(intervalDays))
	if err := d.store.EnableAutomaticFollowUp(ctx, leadID, intervalDays, next); err != nil {
		return time.Time{}, fmt.Errorf("enable follow-up for lead %s: %w", leadID, err)
	}
	return next, nil
}

// DisableAutomaticFollowUp turns follow-up off and clears the next due time.
func (d *Dispatcher) DisableAutomaticFollowUp(ctx context.Context, leadID uuid.UUID) error {
	if err := d.store.DisableAutomaticFollowUp(ctx, leadID); err != nil {
		return fmt.Errorf("disable follow-up for lead %s: %w", leadID, err)
	}
	return nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// nextDue steps prev forward by interval. If that is still not in the
// future, the lead was long overdue and restarts from now.
func nextDue(prev *time.Time, interval time.Duration, now time.Time) time.Time {
	if prev != nil {
		if next := prev.Add(interval); next.After(now) {
			return next
		}
	}
	return now.Add(interval)
}
