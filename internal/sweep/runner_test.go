package sweep

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devgrid/fleetguard/internal/coder"
	"github.com/devgrid/fleetguard/internal/filter"
	"github.com/devgrid/fleetguard/internal/policy"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testRunner(mock *coder.MockClient, now time.Time) *Runner {
	pol := policy.QuietHours{
		Enabled:     true,
		Start:       policy.ClockTime{Hour: 18},
		End:         policy.ClockTime{Hour: 8},
		Location:    time.UTC,
		GracePeriod: time.Hour,
	}
	r := NewRunner(mock, pol, filter.Spec{}, quietLogger())
	r.StopDelay = 0
	r.BatchDelay = 0
	r.Now = func() time.Time { return now }
	return r
}

func ws(owner, name string, status coder.BuildStatus, deadline time.Time) coder.Workspace {
	return coder.Workspace{
		ID:        uuid.New(),
		Name:      name,
		OwnerID:   uuid.New(),
		OwnerName: owner,
		LatestBuild: coder.Build{
			ID:       uuid.New(),
			Status:   status,
			Deadline: deadline,
		},
	}
}

func TestRun_QuietHoursStops(t *testing.T) {
	now := time.Date(2024, 3, 5, 20, 30, 0, 0, time.UTC)
	mock := coder.NewMockClient()
	running := ws("alice", "api", coder.StatusRunning, now.Add(4*time.Hour))
	stopped := ws("bob", "idle", coder.StatusStopped, time.Time{})
	mock.WorkspaceList = []coder.Workspace{running, stopped}

	r := testRunner(mock, now)
	result, err := r.Run(context.Background(), Options{Execute: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !result.QuietHoursActive {
		t.Error("expected quiet hours to be active at 20:30")
	}
	if !result.GracePeriodOver {
		t.Error("expected grace period to be over at 20:30 with a 1h grace")
	}
	if result.RunningTotal != 1 {
		t.Errorf("running total = %d, want 1", result.RunningTotal)
	}
	if len(mock.Stopped) != 1 || mock.Stopped[0] != running.ID {
		t.Fatalf("stopped = %v, want exactly %v", mock.Stopped, running.ID)
	}
	if reason := mock.StopReasons[running.ID]; reason != "Automated stop - quiet hours policy" {
		t.Errorf("stop reason = %q", reason)
	}
}

func TestRun_GraceHoldsStops(t *testing.T) {
	now := time.Date(2024, 3, 5, 18, 30, 0, 0, time.UTC)
	mock := coder.NewMockClient()
	mock.WorkspaceList = []coder.Workspace{
		ws("alice", "api", coder.StatusRunning, now.Add(4*time.Hour)),
	}

	r := testRunner(mock, now)
	result, err := r.Run(context.Background(), Options{Execute: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.GracePeriodOver {
		t.Error("grace period should not be over at 18:30")
	}
	if len(mock.Stopped) != 0 {
		t.Errorf("stopped %d workspaces during grace period", len(mock.Stopped))
	}
	if len(result.Categories.Grace) != 1 {
		t.Errorf("grace bucket = %d, want 1", len(result.Categories.Grace))
	}
}

func TestRun_TTLNeedsForce(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	mock := coder.NewMockClient()
	expired := ws("carol", "stale", coder.StatusRunning, now.Add(-2*time.Hour))
	mock.WorkspaceList = []coder.Workspace{expired}

	r := testRunner(mock, now)

	result, err := r.Run(context.Background(), Options{Execute: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(mock.Stopped) != 0 {
		t.Fatal("expired workspace stopped without force")
	}
	if len(result.Categories.Expired) != 1 {
		t.Fatalf("expired bucket = %d, want 1", len(result.Categories.Expired))
	}

	if _, err := r.Run(context.Background(), Options{Execute: true, ForceTTL: true}); err != nil {
		t.Fatalf("Run with force: %v", err)
	}
	if len(mock.Stopped) != 1 || mock.Stopped[0] != expired.ID {
		t.Fatalf("stopped = %v, want %v", mock.Stopped, expired.ID)
	}
	if reason := mock.StopReasons[expired.ID]; reason != "Automated stop - TTL expired" {
		t.Errorf("stop reason = %q", reason)
	}
}

func TestRun_DryRunWithholdsStops(t *testing.T) {
	now := time.Date(2024, 3, 5, 20, 30, 0, 0, time.UTC)
	mock := coder.NewMockClient()
	mock.WorkspaceList = []coder.Workspace{
		ws("alice", "api", coder.StatusRunning, time.Time{}),
	}

	r := testRunner(mock, now)
	result, err := r.Run(context.Background(), Options{Execute: true, DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(mock.Stopped) != 0 {
		t.Fatal("dry run issued a stop call")
	}
	if len(result.Outcomes) != 1 || !result.Outcomes[0].Stopped {
		t.Fatalf("outcomes = %+v, want one simulated stop", result.Outcomes)
	}
	if !result.Outcomes[0].Decision.DryRun {
		t.Error("decision not marked dry run")
	}
}

func TestRun_FetchFailureAborts(t *testing.T) {
	mock := coder.NewMockClient()
	mock.WorkspacesErr = errors.New("control plane unreachable")

	r := testRunner(mock, time.Date(2024, 3, 5, 20, 30, 0, 0, time.UTC))
	if _, err := r.Run(context.Background(), Options{}); err == nil {
		t.Fatal("expected error when workspace fetch fails")
	}
	if len(mock.Stopped) != 0 {
		t.Error("stops issued despite failed fetch")
	}
}

func TestRun_StopFailureContinuesBatch(t *testing.T) {
	now := time.Date(2024, 3, 5, 20, 30, 0, 0, time.UTC)
	mock := coder.NewMockClient()
	a := ws("alice", "api", coder.StatusRunning, time.Time{})
	b := ws("bob", "web", coder.StatusRunning, time.Time{})
	mock.WorkspaceList = []coder.Workspace{a, b}
	mock.StopErr[a.ID] = errors.New("build conflict")

	r := testRunner(mock, now)
	result, err := r.Run(context.Background(), Options{Execute: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(mock.Stopped) != 1 || mock.Stopped[0] != b.ID {
		t.Fatalf("stopped = %v, want only %v", mock.Stopped, b.ID)
	}
	var failed, succeeded int
	for _, o := range result.Outcomes {
		if o.Error != "" {
			failed++
		}
		if o.Stopped {
			succeeded++
		}
	}
	if failed != 1 || succeeded != 1 {
		t.Errorf("outcomes failed=%d succeeded=%d, want 1 and 1", failed, succeeded)
	}
}

func TestCountOutcomes_DryRunIsNotStopped(t *testing.T) {
	now := time.Date(2024, 3, 5, 20, 30, 0, 0, time.UTC)
	mock := coder.NewMockClient()
	mock.WorkspaceList = []coder.Workspace{
		ws("alice", "api", coder.StatusRunning, time.Time{}),
		ws("bob", "web", coder.StatusRunning, time.Time{}),
	}

	r := testRunner(mock, now)
	result, err := r.Run(context.Background(), Options{Execute: true, DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	stopped, wouldStop, failed := CountOutcomes(result.Outcomes)
	if stopped != 0 {
		t.Errorf("stopped = %d, want 0 from a dry run", stopped)
	}
	if wouldStop != 2 {
		t.Errorf("wouldStop = %d, want 2", wouldStop)
	}
	if failed != 0 {
		t.Errorf("failed = %d, want 0", failed)
	}

	// The same fleet live: both count as stopped, none as would-stop.
	mock2 := coder.NewMockClient()
	mock2.WorkspaceList = mock.WorkspaceList
	r2 := testRunner(mock2, now)
	result, err = r2.Run(context.Background(), Options{Execute: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	stopped, wouldStop, failed = CountOutcomes(result.Outcomes)
	if stopped != 2 || wouldStop != 0 || failed != 0 {
		t.Errorf("live run counts = %d/%d/%d, want 2/0/0", stopped, wouldStop, failed)
	}
}

func TestRun_EvaluationOnlyLeavesFleetAlone(t *testing.T) {
	now := time.Date(2024, 3, 5, 20, 30, 0, 0, time.UTC)
	mock := coder.NewMockClient()
	mock.WorkspaceList = []coder.Workspace{
		ws("alice", "api", coder.StatusRunning, time.Time{}),
	}

	r := testRunner(mock, now)
	result, err := r.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(mock.Stopped) != 0 {
		t.Error("evaluation-only run issued stops")
	}
	if result.Outcomes != nil {
		t.Error("evaluation-only run recorded outcomes")
	}
	if len(result.Decisions) != 1 {
		t.Errorf("decisions = %d, want 1", len(result.Decisions))
	}
}
