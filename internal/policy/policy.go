// Package policy implements the workspace lifecycle policy engine: the
// quiet hours time window, schedule expression parsing, deadline
// analysis, workspace categorization and the stop/skip decision rules.
// The engine performs no I/O and never blocks; everything external
// comes in as arguments and goes out as return values.
package policy

import (
	"time"
)

// QuietHours is the deployment-wide quiet hours policy. It is loaded
// once per run and immutable thereafter.
type QuietHours struct {
	Enabled     bool
	Start       ClockTime
	End         ClockTime
	Location    *time.Location
	GracePeriod time.Duration

	// ExcludedUsers and ExcludedTemplates bypass categorization
	// entirely. Users are keyed by username, templates by template ID.
	ExcludedUsers     map[string]bool
	ExcludedTemplates map[string]bool
}

// Active reports whether quiet hours are in effect at the given
// instant.
func (q QuietHours) Active(now time.Time) bool {
	if !q.Enabled {
		return false
	}
	return InWindow(ClockOf(now.In(q.Location)), q.Start, q.End)
}

// GraceOver reports whether the grace period following the current
// window's start has elapsed. Always false outside the window.
func (q QuietHours) GraceOver(now time.Time) bool {
	if !q.Active(now) {
		return false
	}
	local := now.In(q.Location)
	graceEnd := WindowStart(local, q.Start).Add(q.GracePeriod)
	return !local.Before(graceEnd)
}

// PastEnd reports whether the instant is past the end of the current
// window cycle.
func (q QuietHours) PastEnd(now time.Time) bool {
	local := now.In(q.Location)
	return local.After(WindowEnd(local, q.Start, q.End))
}

// ExcludesUser reports whether the owner is exempt from quiet hours.
func (q QuietHours) ExcludesUser(username string) bool {
	return q.ExcludedUsers[username]
}

// ExcludesTemplate reports whether the template is exempt from quiet
// hours.
func (q QuietHours) ExcludesTemplate(templateID string) bool {
	return q.ExcludedTemplates[templateID]
}
