package message

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var leftoverToken = regexp.MustCompile(`\{(name|service|company|task|hours|due)\}`)

func TestRender_FollowUpTokens(t *testing.T) {
	vars := Vars{Name: "Dana", Service: "HVAC repair", Company: "Acme Field Co"}

	for _, tmpl := range []string{DefaultFollowUpSubject, DefaultFollowUpBody, DefaultFollowUpSMS} {
		out := Render(tmpl, vars)
		assert.False(t, leftoverToken.MatchString(out), "unexpanded token in %q", out)
		assert.Contains(t, out, "HVAC repair")
	}
}

func TestRender_Idempotent(t *testing.T) {
	vars := Vars{Name: "Dana", Service: "plumbing", Company: "Acme"}
	tmpl := "Hi {name}, about {service} from {company}. {name}!"

	once := Render(tmpl, vars)
	twice := Render(once, vars)

	assert.Equal(t, "Hi Dana, about plumbing from Acme. Dana!", once)
	assert.Equal(t, once, twice)
}

func TestRender_ValuesAreNotReexpanded(t *testing.T) {
	out := Render("{name} / {company}", Vars{Name: "{company}", Company: "Acme"})
	assert.Equal(t, "{company} / Acme", out)
}

func TestRender_UnknownTokensLeftAlone(t *testing.T) {
	out := Render("Hello {name}, your {unknown} is ready", Vars{Name: "Sam"})
	assert.Equal(t, "Hello Sam, your {unknown} is ready", out)
}

func TestRender_ReminderTokens(t *testing.T) {
	due := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	out := Render(DefaultReminderSubject, Vars{Task: "Replace boiler", Hours: 6, Due: due})
	assert.Equal(t, "Reminder: Replace boiler is due in 6h", out)

	body := Render(DefaultReminderBody, Vars{Name: "Lee", Task: "Replace boiler", Hours: 6, Due: due, Company: "Acme"})
	assert.Contains(t, body, "Wed Mar 4 15:00 UTC")
	assert.False(t, leftoverToken.MatchString(body))
}

func TestOr(t *testing.T) {
	assert.Equal(t, "fallback", Or("   ", "fallback"))
	assert.Equal(t, "custom {name}", Or("custom {name}", "fallback"))
}
