package sweep

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devgrid/fleetguard/internal/coder"
	"github.com/devgrid/fleetguard/internal/filter"
	"github.com/devgrid/fleetguard/internal/policy"
)

// PruneOptions selects which users' schedules to evaluate and whether
// matching workspaces get stopped.
type PruneOptions struct {
	// User limits the pass to one username. Empty with AllUsers false
	// means the authenticated user.
	User string
	// AllUsers evaluates every workspace owner's schedule.
	AllUsers bool
	// Duration is the length of each user's quiet hours window,
	// measured from their schedule's start time.
	Duration time.Duration
	// Filter narrows the candidate workspaces before schedules are
	// consulted.
	Filter filter.Spec
	// Cleanup stops the running workspaces that fall inside their
	// owner's window.
	Cleanup bool
	DryRun  bool
}

// PruneMatch is a workspace currently inside its owner's personal
// quiet hours window.
type PruneMatch struct {
	Workspace   coder.Workspace  `json:"workspace"`
	Schedule    string           `json:"schedule"`
	UserSet     bool             `json:"user_set"`
	WindowStart time.Time        `json:"window_start"`
	WindowEnd   time.Time        `json:"window_end"`
	TTL         policy.TTLStatus `json:"ttl"`
}

// PruneResult is one prune pass over per-user schedules.
type PruneResult struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Checked      int           `json:"checked"`
	Matches      []PruneMatch  `json:"matches"`
	SkippedUsers []string      `json:"skipped_users,omitempty"`
	Outcomes     []Outcome     `json:"outcomes,omitempty"`
}

// resolvedSchedule caches one user's parsed schedule for the pass. A
// nil entry records that the user has no usable schedule.
type resolvedSchedule struct {
	start time.Time
	end   time.Time
	raw   string
	set   bool
}

// Prune evaluates per-user quiet hours schedules instead of the
// fleet-wide window. Users whose schedule is missing or malformed are
// skipped and reported, never treated as matching.
func (r *Runner) Prune(ctx context.Context, opts PruneOptions) (*PruneResult, error) {
	now := r.Now()

	workspaces, err := r.Client.Workspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching workspaces: %w", err)
	}

	cache := filter.NewCache()
	candidates, err := filter.Apply(ctx, workspaces, opts.Filter, r.Client, cache)
	if err != nil {
		return nil, fmt.Errorf("filtering workspaces: %w", err)
	}

	if !opts.AllUsers {
		target := opts.User
		if target == "" {
			me, err := r.Client.CurrentUser(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolving current user: %w", err)
			}
			target = me.Username
		}
		var own []coder.Workspace
		for _, ws := range candidates {
			if ws.OwnerName == target {
				own = append(own, ws)
			}
		}
		candidates = own
	}

	result := &PruneResult{
		StartedAt: now,
		Duration:  opts.Duration,
		Checked:   len(candidates),
	}

	schedules := make(map[string]*resolvedSchedule)
	skipped := make(map[string]bool)

	for _, ws := range candidates {
		owner := ws.OwnerName
		resolved, seen := schedules[owner]
		if !seen {
			resolved = r.resolveSchedule(ctx, owner, now, opts.Duration)
			schedules[owner] = resolved
			if resolved == nil && !skipped[owner] {
				skipped[owner] = true
				result.SkippedUsers = append(result.SkippedUsers, owner)
			}
		}
		if resolved == nil {
			continue
		}

		if now.Before(resolved.start) || now.After(resolved.end) {
			continue
		}
		result.Matches = append(result.Matches, PruneMatch{
			Workspace:   ws,
			Schedule:    resolved.raw,
			UserSet:     resolved.set,
			WindowStart: resolved.start,
			WindowEnd:   resolved.end,
			TTL:         policy.AnalyzeDeadline(ws.LatestBuild.Deadline, now),
		})
	}

	sort.Slice(result.Matches, func(i, j int) bool {
		a, b := result.Matches[i].Workspace, result.Matches[j].Workspace
		if a.OwnerName != b.OwnerName {
			return a.OwnerName < b.OwnerName
		}
		return a.Name < b.Name
	})
	sort.Strings(result.SkippedUsers)

	r.Log.WithFields(logrus.Fields{
		"checked": result.Checked,
		"matches": len(result.Matches),
		"skipped": len(result.SkippedUsers),
	}).Info("prune evaluated")

	if opts.Cleanup {
		result.Outcomes = r.executePrune(ctx, result.Matches, opts.DryRun)
	}
	return result, nil
}

// resolveSchedule fetches and parses one user's schedule, returning nil
// when the user has none or it cannot be parsed.
func (r *Runner) resolveSchedule(ctx context.Context, owner string, now time.Time, duration time.Duration) *resolvedSchedule {
	sched, err := r.Client.UserQuietHours(ctx, owner)
	if err != nil {
		if !errors.Is(err, coder.ErrNotFound) {
			r.Log.WithField("user", owner).WithError(err).Warn("failed to fetch quiet hours schedule")
		}
		return nil
	}
	if sched == nil || sched.RawSchedule == "" {
		return nil
	}

	start, loc, err := policy.ParseSchedule(sched.RawSchedule)
	if err != nil {
		r.Log.WithField("user", owner).WithError(err).Warn("skipping malformed schedule")
		return nil
	}

	windowStart := policy.WindowStart(now.In(loc), start)
	return &resolvedSchedule{
		start: windowStart,
		end:   windowStart.Add(duration),
		raw:   sched.RawSchedule,
		set:   sched.UserSet,
	}
}

// executePrune stops the running matches with the same pacing as a
// sweep. Matches that are not running are reported but left alone.
func (r *Runner) executePrune(ctx context.Context, matches []PruneMatch, dryRun bool) []Outcome {
	var decisions []policy.Decision
	for _, m := range matches {
		ws := m.Workspace
		d := policy.Decision{
			WorkspaceID: ws.ID,
			Owner:       ws.OwnerName,
			Name:        ws.Name,
			Reason:      "personal quiet hours",
			TTL:         m.TTL,
			DryRun:      dryRun,
		}
		if ws.Running() {
			d.Action = policy.ActionStop
		} else {
			d.Action = policy.ActionSkip
		}
		decisions = append(decisions, d)
	}
	return r.execute(ctx, decisions)
}
