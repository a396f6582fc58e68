package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devgrid/fleetguard/internal/api"
	"github.com/devgrid/fleetguard/internal/coder"
	"github.com/devgrid/fleetguard/internal/config"
	"github.com/devgrid/fleetguard/internal/filter"
	"github.com/devgrid/fleetguard/internal/policy"
	"github.com/devgrid/fleetguard/internal/report"
	"github.com/devgrid/fleetguard/internal/sweep"
	"github.com/devgrid/fleetguard/internal/ws"
)

// daemon holds the runner plus the last completed pass for status
// queries and snapshots.
type daemon struct {
	runner *sweep.Runner
	client coder.Client
	cfg    config.Config
	hub    *ws.Hub
	log    *logrus.Logger

	// sweepMu serializes passes so a slow fleet fetch never overlaps
	// the next tick.
	sweepMu sync.Mutex

	mu          sync.RWMutex
	lastSummary *api.SweepSummary
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("FLEETGUARD_LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
	log.Info("guardd starting")

	cfg, err := config.Load(os.Getenv("FLEETGUARD_CONFIG"))
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	pol, err := cfg.Policy()
	if err != nil {
		log.WithError(err).Fatal("invalid quiet hours policy")
	}

	client, err := coder.NewClientFromEnv()
	if err != nil {
		log.WithError(err).Fatal("failed to create fleet client")
	}
	if err := client.Ping(context.Background()); err != nil {
		log.WithError(err).Warn("control plane not reachable at startup")
	} else if dep, err := client.DeploymentQuietHours(context.Background()); err == nil {
		log.WithFields(logrus.Fields{
			"defaultSchedule": dep.DefaultSchedule,
			"userCustom":      dep.AllowUserCustom,
		}).Info("deployment quiet hours config")
	}

	d := &daemon{
		runner: sweep.NewRunner(client, pol, cfg.FilterSpec(), log),
		client: client,
		cfg:    cfg,
		log:    log,
	}
	d.hub = ws.NewHub(d.snapshot, log)
	go d.hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.sweepLoop(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /status", d.handleStatus)
	mux.HandleFunc("GET /report", d.handleReport)
	mux.HandleFunc("POST /sweep", d.handleSweep)
	mux.HandleFunc("GET /ws", d.hub.ServeWS)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Daemon.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // Disable for WebSocket
	}
	go func() {
		log.WithField("addr", addr).Info("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	log.Info("shutting down")
	d.hub.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

// sweepLoop runs an evaluation pass immediately and then on every
// interval tick until the context is canceled.
func (d *daemon) sweepLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.TTL.CheckIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.runSweep(ctx, sweep.Options{Execute: true, DryRun: d.cfg.DryRun})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runSweep(ctx, sweep.Options{Execute: true, DryRun: d.cfg.DryRun})
		}
	}
}

func (d *daemon) runSweep(ctx context.Context, opts sweep.Options) (*sweep.Result, error) {
	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()

	d.hub.PublishSweepStarted(ws.SweepStartedPayload{
		StartedAt: time.Now(),
		DryRun:    opts.DryRun,
		ForceTTL:  opts.ForceTTL,
	})

	result, err := d.runner.Run(ctx, opts)
	if err != nil {
		d.log.WithError(err).Error("sweep failed")
		return nil, err
	}

	summary := summarize(result)
	d.mu.Lock()
	d.lastSummary = summary
	d.mu.Unlock()

	for _, o := range result.Outcomes {
		if o.Decision.Action != policy.ActionStop {
			continue
		}
		d.hub.PublishWorkspaceStopped(ws.WorkspaceStoppedPayload{
			WorkspaceID: o.Decision.WorkspaceID.String(),
			Owner:       o.Decision.Owner,
			Name:        o.Decision.Name,
			Reason:      o.Decision.Reason,
			DryRun:      o.Decision.DryRun,
			Error:       o.Error,
		})
	}
	d.hub.PublishSweepCompleted(ws.SweepCompletedPayload{
		StartedAt:        summary.StartedAt,
		QuietHoursActive: summary.QuietHoursActive,
		GracePeriodOver:  summary.GracePeriodOver,
		Running:          summary.Running,
		Expired:          summary.Expired,
		Stopping:         summary.Stopping,
		Grace:            summary.Grace,
		Excluded:         summary.Excluded,
		Stopped:          summary.Stopped,
		WouldStop:        summary.WouldStop,
		Failed:           summary.Failed,
	})
	return result, nil
}

func (d *daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(d.runner.Policy.Location)
	d.mu.RLock()
	last := d.lastSummary
	d.mu.RUnlock()

	writeJSON(w, http.StatusOK, api.StatusResponse{
		Now:              now,
		Timezone:         d.runner.Policy.Location.String(),
		QuietHoursStart:  d.runner.Policy.Start.String(),
		QuietHoursEnd:    d.runner.Policy.End.String(),
		QuietHoursActive: d.runner.Policy.Active(now),
		GracePeriodOver:  d.runner.Policy.GraceOver(now),
		DryRun:           d.cfg.DryRun,
		CheckInterval:    time.Duration(d.cfg.TTL.CheckIntervalMinutes) * time.Minute,
		LastSweep:        last,
	})
}

func (d *daemon) handleReport(w http.ResponseWriter, r *http.Request) {
	workspaces, err := d.client.Workspaces(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, api.ErrorResponse{Error: err.Error()})
		return
	}

	cache := filter.NewCache()
	candidates, err := filter.Apply(r.Context(), workspaces, d.runner.Filter, d.client, cache)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, api.ErrorResponse{Error: err.Error()})
		return
	}

	showAll := r.URL.Query().Get("all") == "true"
	threshold := time.Duration(d.cfg.TTL.WarningThresholdHours * float64(time.Hour))
	writeJSON(w, http.StatusOK, report.BuildTTLReport(candidates, time.Now(), threshold, showAll))
}

func (d *daemon) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req api.SweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	// The daemon-wide dry run setting wins over the request.
	dryRun := req.DryRun || d.cfg.DryRun
	result, err := d.runSweep(r.Context(), sweep.Options{
		Execute:  req.Execute,
		ForceTTL: req.ForceTTL,
		DryRun:   dryRun,
	})
	if err != nil {
		writeJSON(w, http.StatusBadGateway, api.ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d *daemon) snapshot() ws.StatusSnapshotPayload {
	now := time.Now().In(d.runner.Policy.Location)
	d.mu.RLock()
	last := d.lastSummary
	d.mu.RUnlock()

	snap := ws.StatusSnapshotPayload{
		Now:              now,
		Timezone:         d.runner.Policy.Location.String(),
		QuietHoursActive: d.runner.Policy.Active(now),
		GracePeriodOver:  d.runner.Policy.GraceOver(now),
	}
	if last != nil {
		snap.LastSweepAt = last.StartedAt
		snap.Running = last.Running
		snap.Eligible = last.Expired + last.Stopping + last.Grace + last.PastEnd + last.Normal
		snap.Excluded = last.Excluded
	}
	return snap
}

func summarize(r *sweep.Result) *api.SweepSummary {
	s := &api.SweepSummary{
		StartedAt:        r.StartedAt,
		QuietHoursActive: r.QuietHoursActive,
		GracePeriodOver:  r.GracePeriodOver,
		Running:          r.RunningTotal,
		Expired:          len(r.Categories.Expired),
		Stopping:         len(r.Categories.Stopping),
		Grace:            len(r.Categories.Grace),
		PastEnd:          len(r.Categories.PastEnd),
		Normal:           len(r.Categories.Normal),
		Excluded:         len(r.Categories.Excluded),
	}
	s.Stopped, s.WouldStop, s.Failed = sweep.CountOutcomes(r.Outcomes)
	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
