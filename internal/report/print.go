package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/devgrid/fleetguard/internal/policy"
	"github.com/devgrid/fleetguard/internal/sweep"
)

// WriteSweep renders an evaluation result as a terminal report.
func WriteSweep(w io.Writer, r *sweep.Result) {
	fmt.Fprintf(w, "Evaluated at %s (%s)\n", r.StartedAt.Format("2006-01-02 15:04:05"), r.Timezone)
	fmt.Fprintf(w, "Quiet hours active: %v", r.QuietHoursActive)
	if r.QuietHoursActive {
		fmt.Fprintf(w, " (grace period over: %v)", r.GracePeriodOver)
	}
	fmt.Fprintf(w, "\nRunning workspaces: %d\n\n", r.RunningTotal)

	writeBucket(w, "TTL expired", r.Categories.Expired)
	writeBucket(w, "Quiet hours, stopping", r.Categories.Stopping)
	writeBucket(w, "Quiet hours, grace period", r.Categories.Grace)
	writeBucket(w, "Past quiet hours end", r.Categories.PastEnd)
	writeBucket(w, "Running normally", r.Categories.Normal)
	writeBucket(w, "Excluded by policy", r.Categories.Excluded)

	if len(r.Decisions) > 0 {
		fmt.Fprintf(w, "Decisions:\n")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  WORKSPACE\tACTION\tREASON\tTTL")
		for _, d := range r.Decisions {
			action := string(d.Action)
			if d.DryRun && d.Action == policy.ActionStop {
				action = "stop (dry run)"
			}
			fmt.Fprintf(tw, "  %s/%s\t%s\t%s\t%s\n", d.Owner, d.Name, action, d.Reason, d.TTL.Label)
		}
		tw.Flush()
	}

	if len(r.Outcomes) > 0 {
		for _, o := range r.Outcomes {
			if o.Error != "" {
				fmt.Fprintf(w, "  failed: %s/%s: %s\n", o.Decision.Owner, o.Decision.Name, o.Error)
			}
		}
		writeOutcomeTotals(w, r.Outcomes)
	}
}

func writeOutcomeTotals(w io.Writer, outcomes []sweep.Outcome) {
	stopped, wouldStop, failed := sweep.CountOutcomes(outcomes)
	if wouldStop > 0 {
		fmt.Fprintf(w, "Would stop %d workspace(s) (dry run)\n", wouldStop)
	}
	fmt.Fprintf(w, "Stopped %d workspace(s), %d failure(s)\n", stopped, failed)
}

func writeBucket(w io.Writer, title string, assignments []policy.Assignment) {
	if len(assignments) == 0 {
		return
	}
	fmt.Fprintf(w, "%s (%d):\n", title, len(assignments))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, a := range assignments {
		ws := a.Workspace
		extra := a.TTL.Label
		if a.ExcludeReason != "" {
			extra = a.ExcludeReason
		}
		fmt.Fprintf(tw, "  %s/%s\t%s\t%s\n", ws.OwnerName, ws.Name, ws.TemplateName, extra)
	}
	tw.Flush()
	fmt.Fprintln(w)
}

// WriteTTL renders a TTL compliance report.
func WriteTTL(w io.Writer, r *TTLReport) {
	fmt.Fprintf(w, "TTL compliance at %s (warning threshold %s)\n",
		r.GeneratedAt.Format("2006-01-02 15:04:05"), r.Threshold)
	fmt.Fprintf(w, "expired=%d expiring=%d ok=%d stopped=%d\n\n",
		r.Counts[StateExpired], r.Counts[StateExpiringSoon], r.Counts[StateOK], r.Counts[StateStopped])

	if len(r.Entries) == 0 {
		fmt.Fprintln(w, "Nothing to report.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKSPACE\tSTATE\tTIME LEFT\tCONFIGURED TTL")
	for _, e := range r.Entries {
		fmt.Fprintf(tw, "%s/%s\t%s\t%s\t%s\n", e.Owner, e.Name, e.State, e.TTL.Label, e.ConfiguredTTL)
	}
	tw.Flush()
}

// WritePrune renders a per-user schedule prune result.
func WritePrune(w io.Writer, r *sweep.PruneResult) {
	fmt.Fprintf(w, "Checked %d workspace(s) against personal schedules (window %s)\n",
		r.Checked, r.Duration)
	if len(r.SkippedUsers) > 0 {
		fmt.Fprintf(w, "Skipped users without a usable schedule: %v\n", r.SkippedUsers)
	}
	if len(r.Matches) == 0 {
		fmt.Fprintln(w, "No workspaces inside their owner's quiet hours window.")
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKSPACE\tSTATUS\tWINDOW\tTTL")
	for _, m := range r.Matches {
		ws := m.Workspace
		fmt.Fprintf(tw, "%s/%s\t%s\t%s - %s\t%s\n",
			ws.OwnerName, ws.Name, ws.LatestBuild.Status,
			m.WindowStart.Format("15:04"), m.WindowEnd.Format("15:04"), m.TTL.Label)
	}
	tw.Flush()

	if len(r.Outcomes) > 0 {
		writeOutcomeTotals(w, r.Outcomes)
	}
}
