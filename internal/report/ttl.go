// Package report turns evaluation results into compliance reports and
// renders them for terminals and JSON consumers.
package report

import (
	"sort"
	"time"

	"github.com/devgrid/fleetguard/internal/coder"
	"github.com/devgrid/fleetguard/internal/policy"
)

// TTLState classifies a workspace's standing against its deadline.
type TTLState string

const (
	// StateExpired means the deadline has passed but the workspace is
	// still running.
	StateExpired TTLState = "EXPIRED"
	// StateExpiringSoon means the deadline falls within the warning
	// threshold.
	StateExpiringSoon TTLState = "EXPIRING_SOON"
	// StateOK means the workspace is running with time to spare, or has
	// no deadline at all.
	StateOK TTLState = "OK"
	// StateStopped means the workspace is not running, so its deadline
	// is moot.
	StateStopped TTLState = "STOPPED"
)

// TTLEntry is one workspace's row in a compliance report.
type TTLEntry struct {
	Owner         string           `json:"owner"`
	Name          string           `json:"name"`
	Template      string           `json:"template,omitempty"`
	State         TTLState         `json:"state"`
	Deadline      time.Time        `json:"deadline,omitempty"`
	TTL           policy.TTLStatus `json:"ttl"`
	ConfiguredTTL string           `json:"configured_ttl"`
}

// TTLReport is a point-in-time TTL compliance snapshot of the fleet.
type TTLReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Threshold   time.Duration    `json:"threshold"`
	Entries     []TTLEntry       `json:"entries"`
	Counts      map[TTLState]int `json:"counts"`
}

// BuildTTLReport classifies every workspace against its deadline.
// Expired workspaces sort first, most overdue at the top; expiring
// workspaces follow, soonest first. Stopped and comfortably-running
// workspaces are included only when showAll is set, though they are
// always counted.
func BuildTTLReport(workspaces []coder.Workspace, now time.Time, threshold time.Duration, showAll bool) *TTLReport {
	r := &TTLReport{
		GeneratedAt: now,
		Threshold:   threshold,
		Counts:      make(map[TTLState]int),
	}

	for _, ws := range workspaces {
		ttl := policy.AnalyzeDeadline(ws.LatestBuild.Deadline, now)
		state := classify(ws, ttl, threshold)
		r.Counts[state]++

		if !showAll && (state == StateStopped || state == StateOK) {
			continue
		}
		r.Entries = append(r.Entries, TTLEntry{
			Owner:         ws.OwnerName,
			Name:          ws.Name,
			Template:      ws.TemplateName,
			State:         state,
			Deadline:      ws.LatestBuild.Deadline,
			TTL:           ttl,
			ConfiguredTTL: policy.FormatTTL(time.Duration(ws.TTLMillis) * time.Millisecond),
		})
	}

	sort.Slice(r.Entries, func(i, j int) bool {
		a, b := r.Entries[i], r.Entries[j]
		if ra, rb := stateRank(a.State), stateRank(b.State); ra != rb {
			return ra < rb
		}
		if a.TTL.SecondsLeft != b.TTL.SecondsLeft {
			return a.TTL.SecondsLeft < b.TTL.SecondsLeft
		}
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Name < b.Name
	})
	return r
}

func classify(ws coder.Workspace, ttl policy.TTLStatus, threshold time.Duration) TTLState {
	if !ws.Running() {
		return StateStopped
	}
	switch {
	case ttl.Expired:
		return StateExpired
	case ws.LatestBuild.Deadline.IsZero():
		return StateOK
	case time.Duration(ttl.SecondsLeft)*time.Second <= threshold:
		return StateExpiringSoon
	default:
		return StateOK
	}
}

func stateRank(s TTLState) int {
	switch s {
	case StateExpired:
		return 0
	case StateExpiringSoon:
		return 1
	case StateOK:
		return 2
	default:
		return 3
	}
}

// FilterOwner narrows a workspace set to one owner's workspaces.
func FilterOwner(workspaces []coder.Workspace, owner string) []coder.Workspace {
	if owner == "" {
		return workspaces
	}
	var out []coder.Workspace
	for _, ws := range workspaces {
		if ws.OwnerName == owner {
			out = append(out, ws)
		}
	}
	return out
}
