package policy

import (
	"sort"

	"github.com/google/uuid"
)

type Action string

const (
	ActionStop Action = "stop"
	ActionSkip Action = "skip"
)

// Stop reasons carried on decisions and forwarded to the control plane.
const (
	ReasonQuietHours = "quiet hours policy"
	ReasonTTLExpired = "TTL expired"
)

// Decision is the engine's verdict for one workspace. DryRun decisions
// are identical to live ones; only the boundary layer withholds the
// stop call.
type Decision struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	Action      Action    `json:"action"`
	Reason      string    `json:"reason"`
	TTL         TTLStatus `json:"ttl"`
	DryRun      bool      `json:"dry_run"`
}

// Decide turns categorized workspaces into an ordered action list.
// TTL-expired workspaces come first and are stopped only under
// forceTTL; quiet-hours workspaces are stopped only once the grace
// period is over. Workspaces that are not running are never assigned
// a stop. The output is deterministic for unchanged inputs, so
// re-evaluation is idempotent.
func Decide(cats Categories, gracePeriodOver, forceTTL, dryRun bool) []Decision {
	decisions := make([]Decision, 0, len(cats.Expired)+len(cats.Stopping))
	seen := make(map[uuid.UUID]bool)

	for _, a := range sorted(cats.Expired) {
		if seen[a.Workspace.ID] {
			continue
		}
		seen[a.Workspace.ID] = true

		action := ActionSkip
		if forceTTL && a.Workspace.Running() {
			action = ActionStop
		}
		decisions = append(decisions, Decision{
			WorkspaceID: a.Workspace.ID,
			Owner:       a.Workspace.OwnerName,
			Name:        a.Workspace.Name,
			Action:      action,
			Reason:      ReasonTTLExpired,
			TTL:         a.TTL,
			DryRun:      dryRun,
		})
	}

	for _, a := range sorted(cats.Stopping) {
		// TTL expiry takes precedence when a workspace satisfies both
		// rules.
		if seen[a.Workspace.ID] {
			continue
		}
		seen[a.Workspace.ID] = true

		action := ActionSkip
		if gracePeriodOver && a.Workspace.Running() {
			action = ActionStop
		}
		decisions = append(decisions, Decision{
			WorkspaceID: a.Workspace.ID,
			Owner:       a.Workspace.OwnerName,
			Name:        a.Workspace.Name,
			Action:      action,
			Reason:      ReasonQuietHours,
			TTL:         a.TTL,
			DryRun:      dryRun,
		})
	}

	return decisions
}

func sorted(assignments []Assignment) []Assignment {
	out := make([]Assignment, len(assignments))
	copy(out, assignments)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Workspace, out[j].Workspace
		if a.OwnerName != b.OwnerName {
			return a.OwnerName < b.OwnerName
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID.String() < b.ID.String()
	})
	return out
}
