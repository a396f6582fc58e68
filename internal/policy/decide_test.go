package policy

import (
	"testing"
	"time"

	"github.com/devgrid/fleetguard/internal/coder"
)

func TestDecide_QuietHoursStop(t *testing.T) {
	ws := runningWorkspace("alice", "dev", time.Time{})
	cats := Categories{
		Stopping: []Assignment{{Workspace: ws, TTL: TTLStatus{Label: "N/A"}}},
	}

	decisions := Decide(cats, true, false, false)
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.Action != ActionStop {
		t.Errorf("expected stop, got %s", d.Action)
	}
	if d.Reason != ReasonQuietHours {
		t.Errorf("expected %q, got %q", ReasonQuietHours, d.Reason)
	}

	// Grace period not over: reported but not acted on.
	decisions = Decide(cats, false, false, false)
	if decisions[0].Action != ActionSkip {
		t.Errorf("expected skip before grace is over, got %s", decisions[0].Action)
	}
}

func TestDecide_TTLRequiresForce(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ws := runningWorkspace("alice", "dev", now.Add(-10*time.Minute))
	cats := Categories{
		Expired: []Assignment{{Workspace: ws, TTL: AnalyzeDeadline(ws.LatestBuild.Deadline, now)}},
	}

	decisions := Decide(cats, true, false, false)
	if decisions[0].Action != ActionSkip {
		t.Errorf("expired workspace must not stop without force, got %s", decisions[0].Action)
	}

	decisions = Decide(cats, true, true, false)
	if decisions[0].Action != ActionStop {
		t.Errorf("expected stop under force, got %s", decisions[0].Action)
	}
	if decisions[0].Reason != ReasonTTLExpired {
		t.Errorf("expected %q, got %q", ReasonTTLExpired, decisions[0].Reason)
	}
}

func TestDecide_NoDuplicates_TTLWins(t *testing.T) {
	ws := runningWorkspace("alice", "dev", time.Time{})
	// The same workspace appearing under both rules must yield one
	// decision, with the TTL reason.
	cats := Categories{
		Expired:  []Assignment{{Workspace: ws}},
		Stopping: []Assignment{{Workspace: ws}},
	}

	decisions := Decide(cats, true, true, false)
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].Reason != ReasonTTLExpired {
		t.Errorf("TTL reason must take precedence, got %q", decisions[0].Reason)
	}
}

func TestDecide_NeverStopsStoppedWorkspace(t *testing.T) {
	ws := runningWorkspace("alice", "dev", time.Time{})
	ws.LatestBuild.Status = coder.StatusStopped
	cats := Categories{
		Stopping: []Assignment{{Workspace: ws}},
		Expired:  []Assignment{{Workspace: runningWorkspace("bob", "x", time.Time{})}},
	}
	cats.Expired[0].Workspace.LatestBuild.Status = coder.StatusStopped

	for _, d := range Decide(cats, true, true, false) {
		if d.Action == ActionStop {
			t.Errorf("non-running workspace %s/%s assigned a stop", d.Owner, d.Name)
		}
	}
}

func TestDecide_DryRunIsFaithfulPreview(t *testing.T) {
	cats := Categories{
		Stopping: []Assignment{
			{Workspace: runningWorkspace("bob", "b", time.Time{})},
			{Workspace: runningWorkspace("alice", "a", time.Time{})},
		},
	}

	live := Decide(cats, true, false, false)
	dry := Decide(cats, true, false, true)

	if len(live) != len(dry) {
		t.Fatalf("dry run changed decision count: %d vs %d", len(live), len(dry))
	}
	for i := range live {
		if !dry[i].DryRun {
			t.Error("dry-run decision not flagged")
		}
		if live[i].Action != dry[i].Action || live[i].Reason != dry[i].Reason || live[i].WorkspaceID != dry[i].WorkspaceID {
			t.Errorf("dry-run decision %d diverges from live", i)
		}
	}
}

func TestDecide_Ordering(t *testing.T) {
	cats := Categories{
		Expired: []Assignment{
			{Workspace: runningWorkspace("zoe", "z", time.Time{})},
			{Workspace: runningWorkspace("alice", "a", time.Time{})},
		},
		Stopping: []Assignment{
			{Workspace: runningWorkspace("bob", "b", time.Time{})},
		},
	}

	decisions := Decide(cats, true, true, false)
	if len(decisions) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(decisions))
	}
	// Expired first (sorted by owner), then quiet hours.
	if decisions[0].Owner != "alice" || decisions[1].Owner != "zoe" || decisions[2].Owner != "bob" {
		t.Errorf("unexpected order: %s, %s, %s", decisions[0].Owner, decisions[1].Owner, decisions[2].Owner)
	}
}

// End-to-end scenario from the overnight-window policy: a running
// workspace with no deadline rides the grace period at 18:30 and is
// stopped for quiet hours at 20:30.
func TestEndToEnd_OvernightWindow(t *testing.T) {
	engine := Engine{Policy: testPolicy()}
	ws := runningWorkspace("alice", "dev", time.Time{})

	now := time.Date(2026, 3, 10, 18, 30, 0, 0, time.UTC)
	cats := engine.CategorizeAll([]coder.Workspace{ws}, now)
	if len(cats.Grace) != 1 {
		t.Fatalf("at 18:30 expected grace category, got %+v", cats)
	}
	for _, d := range Decide(cats, engine.Policy.GraceOver(now), false, false) {
		if d.Action == ActionStop {
			t.Error("no stop decision expected during grace period")
		}
	}

	now = time.Date(2026, 3, 10, 20, 30, 0, 0, time.UTC)
	cats = engine.CategorizeAll([]coder.Workspace{ws}, now)
	if len(cats.Stopping) != 1 {
		t.Fatalf("at 20:30 expected stopping category, got %+v", cats)
	}
	decisions := Decide(cats, engine.Policy.GraceOver(now), false, false)
	if len(decisions) != 1 || decisions[0].Action != ActionStop || decisions[0].Reason != ReasonQuietHours {
		t.Fatalf("expected a quiet hours stop decision, got %+v", decisions)
	}
}
