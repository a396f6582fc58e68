package policy

import (
	"fmt"
	"time"

	"github.com/devgrid/fleetguard/internal/coder"
)

// Category is the single bucket a workspace is assigned during an
// evaluation pass. Every eligible workspace lands in exactly one.
type Category string

const (
	CategoryExpiredTTL    Category = "ttl_expired"
	CategoryQuietStopping Category = "quiet_hours_stopping"
	CategoryQuietGrace    Category = "quiet_hours_grace"
	CategoryPastWindowEnd Category = "past_quiet_hours_end"
	CategoryNormal        Category = "normal_running"
	CategoryExcluded      Category = "excluded"
)

// Assignment pairs a workspace with its category and TTL analysis.
type Assignment struct {
	Workspace coder.Workspace `json:"workspace"`
	Category  Category        `json:"category"`
	TTL       TTLStatus       `json:"ttl"`
	// ExcludeReason names the dimension that exempted the workspace.
	// Set only for CategoryExcluded.
	ExcludeReason string `json:"exclude_reason,omitempty"`
}

// Categories holds one evaluation pass's assignments, bucketed.
type Categories struct {
	Expired  []Assignment `json:"ttl_expired,omitempty"`
	Stopping []Assignment `json:"quiet_hours_stopping,omitempty"`
	Grace    []Assignment `json:"quiet_hours_grace,omitempty"`
	PastEnd  []Assignment `json:"past_quiet_hours_end,omitempty"`
	Normal   []Assignment `json:"normal_running,omitempty"`
	Excluded []Assignment `json:"excluded,omitempty"`
}

// Engine assigns workspaces to categories under a fixed policy. The
// same engine with the same inputs and instant always produces the same
// assignments.
type Engine struct {
	Policy QuietHours
}

// Categorize assigns a single workspace. Priority order is fixed:
// expired TTL wins over quiet hours stopping, which wins over the grace
// period, which wins over being past the window's end. Policy-excluded
// workspaces bypass the ladder entirely.
func (e Engine) Categorize(ws coder.Workspace, now time.Time) Assignment {
	if e.Policy.ExcludesUser(ws.OwnerName) {
		return Assignment{
			Workspace:     ws,
			Category:      CategoryExcluded,
			TTL:           AnalyzeDeadline(ws.LatestBuild.Deadline, now),
			ExcludeReason: fmt.Sprintf("owner %q excluded by policy", ws.OwnerName),
		}
	}
	if e.Policy.ExcludesTemplate(ws.TemplateID.String()) {
		return Assignment{
			Workspace:     ws,
			Category:      CategoryExcluded,
			TTL:           AnalyzeDeadline(ws.LatestBuild.Deadline, now),
			ExcludeReason: fmt.Sprintf("template %q excluded by policy", ws.TemplateID),
		}
	}

	ttl := AnalyzeDeadline(ws.LatestBuild.Deadline, now)
	assignment := Assignment{Workspace: ws, TTL: ttl}

	active := e.Policy.Active(now)
	switch {
	case ttl.Expired:
		assignment.Category = CategoryExpiredTTL
	case active && e.Policy.GraceOver(now):
		assignment.Category = CategoryQuietStopping
	case active:
		assignment.Category = CategoryQuietGrace
	case e.Policy.PastEnd(now):
		assignment.Category = CategoryPastWindowEnd
	default:
		assignment.Category = CategoryNormal
	}
	return assignment
}

// CategorizeAll buckets a full workspace set in one pass.
func (e Engine) CategorizeAll(workspaces []coder.Workspace, now time.Time) Categories {
	var cats Categories
	for _, ws := range workspaces {
		a := e.Categorize(ws, now)
		switch a.Category {
		case CategoryExpiredTTL:
			cats.Expired = append(cats.Expired, a)
		case CategoryQuietStopping:
			cats.Stopping = append(cats.Stopping, a)
		case CategoryQuietGrace:
			cats.Grace = append(cats.Grace, a)
		case CategoryPastWindowEnd:
			cats.PastEnd = append(cats.PastEnd, a)
		case CategoryNormal:
			cats.Normal = append(cats.Normal, a)
		case CategoryExcluded:
			cats.Excluded = append(cats.Excluded, a)
		}
	}
	return cats
}

// Eligible returns the count of workspaces assigned to one of the five
// non-excluded categories.
func (c Categories) Eligible() int {
	return len(c.Expired) + len(c.Stopping) + len(c.Grace) + len(c.PastEnd) + len(c.Normal)
}
