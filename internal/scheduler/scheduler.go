// Package scheduler plans task reminders at fixed lead times before a due
// date and delivers them on a polling cycle.
//
// Row lifecycle:
//
//	pending -> processing -> sent | failed
//	pending -> cancelled
//	processing -> pending   (stale claim reclaimed after a crash)
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/reminders/internal/channel"
	"github.com/lalithlochan/reminders/internal/cycle"
	"github.com/lalithlochan/reminders/internal/db"
	"github.com/lalithlochan/reminders/internal/metrics"
)

// ErrCycleInProgress is returned by ProcessPending when a cycle is already
// running.
var ErrCycleInProgress = cycle.ErrInProgress

// ErrInvalidArgument marks caller input the scheduler cannot plan for.
var ErrInvalidArgument = errors.New("invalid argument")

// Store is the persistence the scheduler needs. *db.Repository implements it.
type Store interface {
	InsertPendingNotifications(ctx context.Context, notifs []*db.TaskNotification) ([]*db.TaskNotification, error)
	ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]*db.DueNotification, error)
	RecordDeliveryOutcome(ctx context.Context, id uuid.UUID, outcome db.DeliveryOutcome) error
	CancelPendingForTask(ctx context.Context, taskID uuid.UUID) (int64, error)
	ReclaimStaleClaims(ctx context.Context, claimedBefore time.Time) (db.ReclaimResult, error)
	GetTask(ctx context.Context, id uuid.UUID) (*db.Task, error)
	GetOrganizationSettings(ctx context.Context, orgID uuid.UUID) (*db.OrganizationSettings, error)
}

// Channels are the delivery paths. A nil channel is treated as not
// configured.
type Channels struct {
	Email channel.Email
	SMS   channel.SMS
	Push  channel.Push
}

type Config struct {
	// Offsets are lead times in hours before the due date.
	Offsets      []int
	PollInterval time.Duration
	BatchSize    int
	// ClaimTimeout is how long a row may sit in processing before the
	// sweeper hands it back to pending.
	ClaimTimeout time.Duration
	Policy       DeliveryPolicy
}

// DefaultOffsets are the reminder lead times in hours.
var DefaultOffsets = []int{24, 12, 6, 3, 1}

type Scheduler struct {
	store    Store
	channels Channels
	config   Config
	logger   *zap.Logger
	now      func() time.Time

	guard  *cycle.Guard
	runner *cycle.Runner
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLease makes cycles take a cross-replica lease first.
func WithLease(lease cycle.Lease) Option {
	return func(s *Scheduler) {
		s.guard = cycle.NewGuard(metrics.CycleReminders, lease, s.logger)
	}
}

func New(store Store, channels Channels, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if len(cfg.Offsets) == 0 {
		cfg.Offsets = DefaultOffsets
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 10 * time.Minute
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyPrimary
	}

	s := &Scheduler{
		store:    store,
		channels: channels,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
	s.guard = cycle.NewGuard(metrics.CycleReminders, nil, logger)
	for _, opt := range opts {
		opt(s)
	}
	s.runner = cycle.NewRunner(metrics.CycleReminders, cfg.PollInterval, s.tick, logger)
	return s
}

// Start begins polling every PollInterval. Stop must be called to release
// the goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.runner.Start(ctx)
}

// Stop halts polling and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.runner.Stop()
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.ProcessPending(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		s.logger.Warn("previous reminder cycle still running, skipping tick", zap.Error(err))
	case err != nil:
		s.logger.Error("reminder cycle failed", zap.Error(err))
	case report.Claimed > 0 || report.Reclaimed > 0:
		s.logger.Info("reminder cycle complete",
			zap.Int("claimed", report.Claimed),
			zap.Int("sent", report.Sent),
			zap.Int("failed", report.Failed),
			zap.Int("errors", report.Errors),
			zap.Int64("reclaimed", report.Reclaimed),
			zap.Duration("duration", report.Duration),
		)
	}
}
