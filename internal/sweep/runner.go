// Package sweep drives one evaluation pass over the workspace fleet:
// fetch, filter, categorize, decide, and optionally execute the
// resulting stop actions.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devgrid/fleetguard/internal/coder"
	"github.com/devgrid/fleetguard/internal/filter"
	"github.com/devgrid/fleetguard/internal/policy"
)

// Pacing defaults for stop execution. The control plane rate-limits
// build creation, so stops go out sequentially with a short delay and
// a longer pause between batches.
const (
	defaultStopDelay  = 500 * time.Millisecond
	defaultBatchDelay = 2 * time.Second
	defaultBatchSize  = 5
)

type Runner struct {
	Client coder.Client
	Policy policy.QuietHours
	Filter filter.Spec
	Log    *logrus.Logger

	StopDelay  time.Duration
	BatchDelay time.Duration
	BatchSize  int

	// Now is the clock; tests pin it.
	Now func() time.Time
}

func NewRunner(client coder.Client, pol policy.QuietHours, spec filter.Spec, log *logrus.Logger) *Runner {
	if log == nil {
		log = logrus.New()
	}
	return &Runner{
		Client:     client,
		Policy:     pol,
		Filter:     spec,
		Log:        log,
		StopDelay:  defaultStopDelay,
		BatchDelay: defaultBatchDelay,
		BatchSize:  defaultBatchSize,
		Now:        time.Now,
	}
}

type Options struct {
	// ForceTTL also stops workspaces that have outlived their deadline.
	ForceTTL bool
	// DryRun computes the identical decision list but withholds the
	// stop calls.
	DryRun bool
	// Execute issues the stop actions. When false the run is
	// evaluation-only.
	Execute bool
}

// Result is one evaluation pass. It is a pure computation over the
// fetched snapshot; nothing in it is persisted.
type Result struct {
	StartedAt        time.Time         `json:"started_at"`
	Timezone         string            `json:"timezone"`
	QuietHoursActive bool              `json:"quiet_hours_active"`
	GracePeriodOver  bool              `json:"grace_period_over"`
	RunningTotal     int               `json:"running_total"`
	Categories       policy.Categories `json:"categories"`
	Decisions        []policy.Decision `json:"decisions"`
	Outcomes         []Outcome         `json:"outcomes,omitempty"`

	// Cache carries this run's identity lookups so callers can render
	// names without extra fetches. Discarded with the result.
	Cache *filter.Cache `json:"-"`
}

// Outcome records what happened to a single stop decision. A dry-run
// stop sets Stopped with the decision's DryRun flag carrying the
// distinction.
type Outcome struct {
	Decision policy.Decision `json:"decision"`
	Stopped  bool            `json:"stopped"`
	Error    string          `json:"error,omitempty"`
}

// CountOutcomes tallies executed stop results. Dry-run would-stops are
// counted apart from live stops so summaries never claim a workspace
// was stopped when nothing was.
func CountOutcomes(outcomes []Outcome) (stopped, wouldStop, failed int) {
	for _, o := range outcomes {
		switch {
		case o.Error != "":
			failed++
		case o.Stopped && o.Decision.DryRun:
			wouldStop++
		case o.Stopped:
			stopped++
		}
	}
	return stopped, wouldStop, failed
}

// Run performs one synchronous evaluation pass. The fetch is
// all-or-nothing: any control-plane failure aborts the run with no
// partial categorization.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	now := r.Now()
	if r.Policy.Location != nil {
		now = now.In(r.Policy.Location)
	}

	workspaces, err := r.Client.Workspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching workspaces: %w", err)
	}

	var running []coder.Workspace
	for _, ws := range workspaces {
		if ws.Running() {
			running = append(running, ws)
		}
	}

	cache := filter.NewCache()
	eligible, err := filter.Apply(ctx, running, r.Filter, r.Client, cache)
	if err != nil {
		return nil, fmt.Errorf("filtering workspaces: %w", err)
	}

	engine := policy.Engine{Policy: r.Policy}
	cats := engine.CategorizeAll(eligible, now)

	graceOver := r.Policy.GraceOver(now)
	decisions := policy.Decide(cats, graceOver, opts.ForceTTL, opts.DryRun)

	result := &Result{
		StartedAt:        now,
		Timezone:         now.Location().String(),
		QuietHoursActive: r.Policy.Active(now),
		GracePeriodOver:  graceOver,
		RunningTotal:     len(running),
		Categories:       cats,
		Decisions:        decisions,
		Cache:            cache,
	}

	r.Log.WithFields(logrus.Fields{
		"running":   len(running),
		"eligible":  cats.Eligible(),
		"excluded":  len(cats.Excluded),
		"expired":   len(cats.Expired),
		"stopping":  len(cats.Stopping),
		"grace":     len(cats.Grace),
		"active":    result.QuietHoursActive,
		"graceOver": graceOver,
	}).Info("sweep evaluated")

	if opts.Execute {
		result.Outcomes = r.execute(ctx, decisions)
	}
	return result, nil
}

// execute issues the stop actions sequentially with pacing. A failed
// stop is recorded on its outcome and does not abort the rest of the
// batch.
func (r *Runner) execute(ctx context.Context, decisions []policy.Decision) []Outcome {
	outcomes := make([]Outcome, 0, len(decisions))
	issued := 0

	for _, d := range decisions {
		if d.Action != policy.ActionStop {
			outcomes = append(outcomes, Outcome{Decision: d})
			continue
		}

		if d.DryRun {
			r.Log.WithFields(logrus.Fields{
				"workspace": d.Owner + "/" + d.Name,
				"reason":    d.Reason,
			}).Info("dry run: would stop workspace")
			outcomes = append(outcomes, Outcome{Decision: d, Stopped: true})
			continue
		}

		if issued > 0 {
			delay := r.StopDelay
			if r.BatchSize > 0 && issued%r.BatchSize == 0 {
				delay = r.BatchDelay
			}
			select {
			case <-ctx.Done():
				outcomes = append(outcomes, Outcome{Decision: d, Error: ctx.Err().Error()})
				continue
			case <-time.After(delay):
			}
		}
		issued++

		err := r.Client.StopWorkspace(ctx, d.WorkspaceID, "Automated stop - "+d.Reason)
		if err != nil {
			r.Log.WithFields(logrus.Fields{
				"workspace": d.Owner + "/" + d.Name,
				"reason":    d.Reason,
			}).WithError(err).Error("failed to stop workspace")
			outcomes = append(outcomes, Outcome{Decision: d, Error: err.Error()})
			continue
		}

		r.Log.WithFields(logrus.Fields{
			"workspace": d.Owner + "/" + d.Name,
			"reason":    d.Reason,
		}).Info("workspace stopped")
		outcomes = append(outcomes, Outcome{Decision: d, Stopped: true})
	}
	return outcomes
}
