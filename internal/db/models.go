package db

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup by primary key matches no row.
var ErrNotFound = errors.New("not found")

// Notification status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Channel constants
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelRealtime = "realtime"
)

// Follow-up attempt status constants. Channels that were not attempted
// leave no attempt row.
const (
	AttemptSent   = "sent"
	AttemptFailed = "failed"
)

// Task is the subset of the application's task row this service reads.
type Task struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	AssignedUserID *uuid.UUID `json:"assigned_user_id,omitempty"`
	Title          string     `json:"title"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	Completed      bool       `json:"completed"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// TaskNotification is one scheduled reminder for one task at one offset.
type TaskNotification struct {
	ID             uuid.UUID  `json:"id"`
	TaskID         uuid.UUID  `json:"task_id"`
	UserID         uuid.UUID  `json:"user_id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	OffsetHours    int        `json:"offset_hours"`
	ScheduledFor   time.Time  `json:"scheduled_for"`
	Status         string     `json:"status"`
	EmailSent      bool       `json:"email_sent"`
	SMSSent        bool       `json:"sms_sent"`
	RealtimeSent   bool       `json:"realtime_sent"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DueNotification is a claimed reminder joined with what delivery needs.
type DueNotification struct {
	TaskNotification
	TaskTitle      string
	DueDate        time.Time
	RecipientName  string
	RecipientEmail string
	RecipientPhone string
}

// ReclaimResult counts what the stale-claim sweeper did. Requeued rows went
// back to pending; Cancelled rows belonged to a closed task or had been
// replaced by a newer pending row for the same offset.
type ReclaimResult struct {
	Requeued  int64
	Cancelled int64
}

// DeliveryOutcome is the terminal write for a processed reminder.
type DeliveryOutcome struct {
	Status        string
	EmailSent     bool
	SMSSent       bool
	RealtimeSent  bool
	FailureReason *string
	SentAt        *time.Time
}

// Lead is a sales prospect with optional automatic follow-up.
type Lead struct {
	ID                       uuid.UUID  `json:"id"`
	OrganizationID           uuid.UUID  `json:"organization_id"`
	Name                     string     `json:"name"`
	Email                    string     `json:"email,omitempty"`
	Phone                    string     `json:"phone,omitempty"`
	ServiceType              string     `json:"service_type,omitempty"`
	AutomaticFollowUpEnabled bool       `json:"automatic_follow_up_enabled"`
	FollowUpIntervalDays     int        `json:"follow_up_interval_days"`
	NextAutomaticFollowUp    *time.Time `json:"next_automatic_follow_up,omitempty"`
	LastAutomaticFollowUp    *time.Time `json:"last_automatic_follow_up,omitempty"`
	AutomaticFollowUpCount   int        `json:"automatic_follow_up_count"`
	EmailFollowUpCount       int        `json:"email_follow_up_count"`
	SMSFollowUpCount         int        `json:"sms_follow_up_count"`
}

// LeadFollowUpAttempt records one channel attempt in one follow-up cycle.
type LeadFollowUpAttempt struct {
	ID             uuid.UUID `json:"id"`
	LeadID         uuid.UUID `json:"lead_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	Reason         *string   `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// FollowUpCycle is everything written back for a lead after one dispatch.
type FollowUpCycle struct {
	LeadID      uuid.UUID
	ProcessedAt time.Time
	NextDue     time.Time
	EmailSent   bool
	SMSSent     bool
	Attempts    []*LeadFollowUpAttempt
}

// OrganizationSettings holds per-organization templates and channel credentials.
type OrganizationSettings struct {
	OrganizationID          uuid.UUID
	CompanyName             string
	EmailFromAddress        string
	SMSFromNumber           string
	SMSAccessKeyID          string
	SMSSecretAccessKey      string
	SMSRegion               string
	FollowUpSubjectTemplate string
	FollowUpBodyTemplate    string
	FollowUpSMSTemplate     string
	ReminderSubjectTemplate string
	ReminderBodyTemplate    string
}

// HasSMSCredentials reports whether the organization can send SMS.
func (s *OrganizationSettings) HasSMSCredentials() bool {
	return s != nil && s.SMSFromNumber != "" && s.SMSAccessKeyID != "" && s.SMSSecretAccessKey != ""
}
