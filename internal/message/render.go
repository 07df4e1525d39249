// Package message renders organization-configurable message templates.
//
// Templates are plain strings with single-brace tokens such as {name}. There
// are no conditionals or loops: each token is replaced once, in a single
// pass, so a substituted value is never itself re-expanded.
package message

import (
	"strconv"
	"strings"
	"time"
)

// Token names understood by Render.
const (
	TokenName    = "{name}"
	TokenService = "{service}"
	TokenCompany = "{company}"
	TokenTask    = "{task}"
	TokenHours   = "{hours}"
	TokenDue     = "{due}"
)

// Default follow-up templates, used when an organization has none configured.
const (
	DefaultFollowUpSubject = "Following up on your {service} request"
	DefaultFollowUpBody    = "Hi {name},\n\nThanks again for your interest in {service}. " +
		"We'd love to help - reply to this email or give us a call whenever you're ready.\n\n{company}"
	DefaultFollowUpSMS = "Hi {name}, {company} here following up on your {service} request. Reply to schedule!"
)

// Default task reminder templates.
const (
	DefaultReminderSubject = "Reminder: {task} is due in {hours}h"
	DefaultReminderBody    = "Hi {name},\n\n\"{task}\" is due {due} ({hours} hours from now).\n\n{company}"
	DefaultReminderSMS     = "{company}: \"{task}\" is due in {hours}h ({due})"
)

// Vars holds the substitution values. Empty values still replace their token.
type Vars struct {
	Name    string
	Service string
	Company string
	Task    string
	Hours   int
	Due     time.Time
}

// Render substitutes every known token in tmpl.
func Render(tmpl string, v Vars) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}

	due := ""
	if !v.Due.IsZero() {
		due = v.Due.Format("Mon Jan 2 15:04 MST")
	}
	hours := ""
	if v.Hours > 0 {
		hours = strconv.Itoa(v.Hours)
	}

	r := strings.NewReplacer(
		TokenName, v.Name,
		TokenService, v.Service,
		TokenCompany, v.Company,
		TokenTask, v.Task,
		TokenHours, hours,
		TokenDue, due,
	)
	return r.Replace(tmpl)
}

// Or returns tmpl, or fallback when tmpl is blank.
func Or(tmpl, fallback string) string {
	if strings.TrimSpace(tmpl) == "" {
		return fallback
	}
	return tmpl
}
