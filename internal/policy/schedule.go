package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UserSchedule is a per-user quiet hours override parsed from a
// schedule expression.
type UserSchedule struct {
	Start      ClockTime
	Location   *time.Location
	UserSet    bool
	UserCanSet bool
	Raw        string
}

// ParseSchedule parses a restricted cron expression carrying an
// embedded timezone, such as "TZ=Europe/London 32 13 * * *". Only the
// minute and hour fields are consumed; the remaining fields are assumed
// to be wildcards. The control plane emits the "CRON_TZ=" spelling of
// the prefix, which is accepted too.
//
// Malformed third-party input is reported as an error, never a panic:
// callers skip that user's schedule and move on.
func ParseSchedule(raw string) (ClockTime, *time.Location, error) {
	fields := strings.Fields(raw)
	if len(fields) < 6 {
		return ClockTime{}, nil, fmt.Errorf("schedule %q: expected timezone prefix and five cron fields", raw)
	}

	var zone string
	switch {
	case strings.HasPrefix(fields[0], "CRON_TZ="):
		zone = strings.TrimPrefix(fields[0], "CRON_TZ=")
	case strings.HasPrefix(fields[0], "TZ="):
		zone = strings.TrimPrefix(fields[0], "TZ=")
	default:
		return ClockTime{}, nil, fmt.Errorf("schedule %q: missing TZ= prefix", raw)
	}
	if zone == "" {
		return ClockTime{}, nil, fmt.Errorf("schedule %q: empty timezone", raw)
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		return ClockTime{}, nil, fmt.Errorf("schedule %q: unknown timezone %q", raw, zone)
	}

	minute, err := strconv.Atoi(fields[1])
	if err != nil || minute < 0 || minute > 59 {
		return ClockTime{}, nil, fmt.Errorf("schedule %q: invalid minute field %q", raw, fields[1])
	}
	hour, err := strconv.Atoi(fields[2])
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, nil, fmt.Errorf("schedule %q: invalid hour field %q", raw, fields[2])
	}

	return ClockTime{Hour: hour, Minute: minute}, loc, nil
}
