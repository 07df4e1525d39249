package scheduler

import (
	"fmt"
	"strings"

	"github.com/lalithlochan/reminders/internal/channel"
	"github.com/lalithlochan/reminders/internal/db"
)

// DeliveryPolicy decides whether a reminder counts as delivered from its
// email and SMS results. Push never decides the outcome.
type DeliveryPolicy string

const (
	// PolicyPrimary: email is the primary path. SMS counts only when the
	// recipient has no email address.
	PolicyPrimary DeliveryPolicy = "primary"
	// PolicyAny: any one of email or SMS is enough.
	PolicyAny DeliveryPolicy = "any"
)

// ParseDeliveryPolicy accepts "primary" or "any"; empty means primary.
func ParseDeliveryPolicy(s string) (DeliveryPolicy, error) {
	switch DeliveryPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyPrimary:
		return PolicyPrimary, nil
	case PolicyAny:
		return PolicyAny, nil
	default:
		return "", fmt.Errorf("unknown delivery policy %q", s)
	}
}

// Delivered applies the policy.
func (p DeliveryPolicy) Delivered(email, sms channel.Result) bool {
	if p == PolicyAny {
		return email.IsSent() || sms.IsSent()
	}
	if email.IsSent() {
		return true
	}
	return email.IsSkipped() && sms.IsSent()
}

// outcome builds the row write for one processed reminder.
func (p DeliveryPolicy) outcome(email, sms, push channel.Result) db.DeliveryOutcome {
	out := db.DeliveryOutcome{
		EmailSent:    email.IsSent(),
		SMSSent:      sms.IsSent(),
		RealtimeSent: push.IsSent(),
	}

	if p.Delivered(email, sms) {
		out.Status = db.StatusSent
		return out
	}

	out.Status = db.StatusFailed
	reason := failureReason(email, sms, push)
	out.FailureReason = &reason
	return out
}

// failureReason joins every channel that did not send, e.g.
// "email: failed (ses send failed: timeout); sms: skipped (no phone number)".
func failureReason(results ...channel.Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if !r.IsSent() {
			parts = append(parts, r.String())
		}
	}
	if len(parts) == 0 {
		return "no channel delivered"
	}
	return strings.Join(parts, "; ")
}
