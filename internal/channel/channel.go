// Package channel holds the delivery channels reminders and follow-ups are
// sent through: email, SMS and real-time push. Providers are opaque; a
// channel either returns nil or an error describing why delivery failed.
package channel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotConfigured means the channel lacks credentials or a sender identity.
var ErrNotConfigured = errors.New("channel not configured")

// Channel names, matching the db column prefixes.
const (
	NameEmail    = "email"
	NameSMS      = "sms"
	NameRealtime = "realtime"
)

// EmailMessage is one outbound email.
type EmailMessage struct {
	To      string
	From    string
	Subject string
	Text    string
	HTML    string
}

// Email delivers email messages.
type Email interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

// SMSMessage is one outbound text message.
type SMSMessage struct {
	From string
	To   string
	Body string
}

// SMSCredentials are organization-scoped provider credentials.
type SMSCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// Empty reports whether no usable credentials were supplied.
func (c SMSCredentials) Empty() bool {
	return c.AccessKeyID == "" || c.SecretAccessKey == ""
}

// Key identifies one credential set. A rotated secret yields a new key.
func (c SMSCredentials) Key() string {
	sum := sha256.Sum256([]byte(c.SecretAccessKey))
	return c.AccessKeyID + "/" + c.Region + "/" + hex.EncodeToString(sum[:8])
}

// SMS delivers text messages using the sending organization's credentials.
type SMS interface {
	SendSMS(ctx context.Context, msg SMSMessage, creds SMSCredentials) error
}

// PushEvent is a real-time event for one user's open sessions.
type PushEvent struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	EventType      string
	Payload        any
}

// Push publishes real-time events. Delivery is fire-and-forget.
type Push interface {
	Push(ctx context.Context, event PushEvent) error
}

// Outcome is the tag of a Result.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeSent
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// Result is the outcome of one channel attempt: Sent, Failed(reason) or
// Skipped(reason). Skipped means the provider was never called.
type Result struct {
	Channel string
	Outcome Outcome
	Reason  string
}

func Sent(channel string) Result {
	return Result{Channel: channel, Outcome: OutcomeSent}
}

func Failed(channel string, err error) Result {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Result{Channel: channel, Outcome: OutcomeFailed, Reason: reason}
}

func Skipped(channel, reason string) Result {
	return Result{Channel: channel, Outcome: OutcomeSkipped, Reason: reason}
}

func (r Result) IsSent() bool    { return r.Outcome == OutcomeSent }
func (r Result) IsFailed() bool  { return r.Outcome == OutcomeFailed }
func (r Result) IsSkipped() bool { return r.Outcome == OutcomeSkipped }

// String renders "email: sent" or "sms: failed (reason)".
func (r Result) String() string {
	if r.Reason == "" {
		return fmt.Sprintf("%s: %s", r.Channel, r.Outcome)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Channel, r.Outcome, r.Reason)
}

// Attempt runs send and converts its error, or a panic, into a Result so a
// single misbehaving channel cannot take down the caller's loop.
func Attempt(ctx context.Context, channel string, send func(ctx context.Context) error) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Failed(channel, fmt.Errorf("panic: %v", p))
		}
	}()

	if err := ctx.Err(); err != nil {
		return Failed(channel, err)
	}
	if err := send(ctx); err != nil {
		return Failed(channel, err)
	}
	return Sent(channel)
}
