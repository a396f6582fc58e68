package policy

import (
	"fmt"
	"time"
)

// TTLStatus describes where a workspace stands relative to its build
// deadline.
type TTLStatus struct {
	// Label is a human-scale rendering of the remaining (or overrun)
	// time: "45m", "2h 30m", "3d 4h", "Expired 1h 10m ago", or "N/A"
	// when there is no deadline.
	Label string `json:"label"`
	// SecondsLeft is deadline minus now in whole seconds. Negative once
	// the deadline has passed.
	SecondsLeft int64 `json:"seconds_left"`
	Expired     bool  `json:"expired"`
}

// AnalyzeDeadline computes TTL status for an absolute deadline. A zero
// deadline means the build has none and is never expired.
func AnalyzeDeadline(deadline, now time.Time) TTLStatus {
	if deadline.IsZero() {
		return TTLStatus{Label: "N/A"}
	}

	seconds := int64(deadline.Sub(now) / time.Second)
	if seconds < 0 {
		return TTLStatus{
			Label:       fmt.Sprintf("Expired %s ago", magnitude(-seconds)),
			SecondsLeft: seconds,
			Expired:     true,
		}
	}
	return TTLStatus{
		Label:       magnitude(seconds),
		SecondsLeft: seconds,
	}
}

// FormatTTL renders a configured TTL duration in the same human-scale
// buckets as deadline magnitudes. Zero means no TTL is set.
func FormatTTL(ttl time.Duration) string {
	if ttl <= 0 {
		return "N/A"
	}
	seconds := int64(ttl / time.Second)
	switch {
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh", seconds/3600)
	default:
		days := seconds / 86400
		hours := (seconds % 86400) / 3600
		if hours > 0 {
			return fmt.Sprintf("%dd %dh", days, hours)
		}
		return fmt.Sprintf("%dd", days)
	}
}

// magnitude buckets an absolute second count: minutes under an hour,
// hours and minutes under a day, days and hours beyond.
func magnitude(seconds int64) string {
	switch {
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	default:
		return fmt.Sprintf("%dd %dh", seconds/86400, (seconds%86400)/3600)
	}
}
