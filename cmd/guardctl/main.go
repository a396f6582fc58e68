package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/devgrid/fleetguard/internal/api"
	"github.com/devgrid/fleetguard/internal/coder"
	"github.com/devgrid/fleetguard/internal/config"
	"github.com/devgrid/fleetguard/internal/filter"
	"github.com/devgrid/fleetguard/internal/report"
	"github.com/devgrid/fleetguard/internal/sweep"
	"github.com/devgrid/fleetguard/internal/ws"
)

var (
	cfg     config.Config
	cfgPath string
)

func main() {
	root := &cobra.Command{
		Use:   "guardctl",
		Short: "Workspace lifecycle policy engine for remote dev fleets",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			return cfg.Validate()
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.fleetguard/config.yaml)")

	root.AddCommand(
		statusCmd(),
		categorizeCmd(),
		sweepCmd(),
		ttlCmd(),
		pruneCmd(),
		watchCmd(),
		configCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildRunner wires an evaluation runner straight against the control
// plane for commands that do not go through the daemon.
func buildRunner() (*sweep.Runner, error) {
	pol, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	client, err := coder.NewClientFromEnv()
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	if os.Getenv("FLEETGUARD_LOG_LEVEL") != "" {
		log.SetOutput(os.Stderr)
		if lvl, err := logrus.ParseLevel(os.Getenv("FLEETGUARD_LOG_LEVEL")); err == nil {
			log.SetLevel(lvl)
		}
	}
	return sweep.NewRunner(client, pol, cfg.FilterSpec(), log), nil
}

// --- status ---

func statusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current quiet hours state",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Prefer the daemon's view when it is running.
			daemon := api.NewClient(cfg.Daemon.Port)
			if st, err := daemon.Status(); err == nil {
				return printStatus(st, jsonOut)
			}

			pol, err := cfg.Policy()
			if err != nil {
				return err
			}
			now := time.Now().In(pol.Location)
			st := &api.StatusResponse{
				Now:              now,
				Timezone:         pol.Location.String(),
				QuietHoursStart:  pol.Start.String(),
				QuietHoursEnd:    pol.End.String(),
				QuietHoursActive: pol.Active(now),
				GracePeriodOver:  pol.GraceOver(now),
				DryRun:           cfg.DryRun,
			}
			return printStatus(st, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func printStatus(st *api.StatusResponse, jsonOut bool) error {
	if jsonOut {
		return writeJSON(st)
	}
	fmt.Printf("Time: %s (%s)\n", st.Now.Format("2006-01-02 15:04:05"), st.Timezone)
	fmt.Printf("Quiet hours: %s - %s\n", st.QuietHoursStart, st.QuietHoursEnd)
	fmt.Printf("Active: %v", st.QuietHoursActive)
	if st.QuietHoursActive {
		fmt.Printf(" (grace period over: %v)", st.GracePeriodOver)
	}
	fmt.Println()
	if st.DryRun {
		fmt.Println("Dry run mode is on; no workspaces will be stopped.")
	}
	if st.LastSweep != nil {
		s := st.LastSweep
		fmt.Printf("Last sweep: %s, %d running, %d stopped, %d failed",
			s.StartedAt.Format("15:04:05"), s.Running, s.Stopped, s.Failed)
		if s.WouldStop > 0 {
			fmt.Printf(", %d would stop (dry run)", s.WouldStop)
		}
		fmt.Println()
	}
	return nil
}

// --- categorize ---

func categorizeCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Bucket running workspaces without taking any action",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := buildRunner()
			if err != nil {
				return err
			}
			result, err := runner.Run(context.Background(), sweep.Options{})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(result)
			}
			report.WriteSweep(os.Stdout, result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

// --- sweep ---

func sweepCmd() *cobra.Command {
	var forceTTL, dryRun, jsonOut bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate the fleet and stop workspaces the policy selects",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Route through the daemon when one is running so its event
			// stream and last-sweep state stay authoritative.
			var result *sweep.Result
			daemon := api.NewClient(cfg.Daemon.Port)
			if daemon.Health() == nil {
				var err error
				result, err = daemon.Sweep(api.SweepRequest{
					Execute:  true,
					ForceTTL: forceTTL,
					DryRun:   dryRun,
				})
				if err != nil {
					return err
				}
			} else {
				runner, err := buildRunner()
				if err != nil {
					return err
				}
				result, err = runner.Run(context.Background(), sweep.Options{
					Execute:  true,
					ForceTTL: forceTTL,
					DryRun:   dryRun || cfg.DryRun,
				})
				if err != nil {
					return err
				}
			}
			if jsonOut {
				return writeJSON(result)
			}
			report.WriteSweep(os.Stdout, result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&forceTTL, "force-ttl", false, "also stop workspaces past their TTL deadline")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be stopped without stopping")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

// --- ttl ---

func ttlCmd() *cobra.Command {
	var user string
	var thresholdHours float64
	var showAll, jsonOut bool
	cmd := &cobra.Command{
		Use:   "ttl",
		Short: "Report TTL compliance across the fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The daemon serves the report with its configured threshold;
			// per-user or custom-threshold queries go direct.
			if user == "" && thresholdHours == 0 {
				daemon := api.NewClient(cfg.Daemon.Port)
				if daemon.Health() == nil {
					r, err := daemon.Report(showAll)
					if err != nil {
						return err
					}
					if jsonOut {
						return writeJSON(r)
					}
					report.WriteTTL(os.Stdout, r)
					return nil
				}
			}

			runner, err := buildRunner()
			if err != nil {
				return err
			}
			ctx := context.Background()
			workspaces, err := runner.Client.Workspaces(ctx)
			if err != nil {
				return err
			}
			candidates, err := filter.Apply(ctx, workspaces, runner.Filter, runner.Client, filter.NewCache())
			if err != nil {
				return err
			}
			candidates = report.FilterOwner(candidates, user)

			threshold := time.Duration(thresholdHours * float64(time.Hour))
			if thresholdHours == 0 {
				threshold = time.Duration(cfg.TTL.WarningThresholdHours * float64(time.Hour))
			}

			r := report.BuildTTLReport(candidates, time.Now(), threshold, showAll)
			if jsonOut {
				return writeJSON(r)
			}
			report.WriteTTL(os.Stdout, r)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "limit to one owner's workspaces")
	cmd.Flags().Float64Var(&thresholdHours, "threshold", 0, "warning threshold in hours")
	cmd.Flags().BoolVar(&showAll, "show-all", false, "include stopped and healthy workspaces")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

// --- prune ---

func pruneCmd() *cobra.Command {
	var user string
	var all, cleanup, dryRun, jsonOut bool
	var durationHours int
	spec := filter.Spec{}
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Find workspaces inside their owner's personal quiet hours window",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := buildRunner()
			if err != nil {
				return err
			}
			if durationHours == 0 {
				durationHours = cfg.Prune.DefaultQuietHoursDuration
			}
			result, err := runner.Prune(context.Background(), sweep.PruneOptions{
				User:     user,
				AllUsers: all,
				Duration: time.Duration(durationHours) * time.Hour,
				Filter:   spec,
				Cleanup:  cleanup,
				DryRun:   dryRun || cfg.DryRun,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(result)
			}
			report.WritePrune(os.Stdout, result)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "check one username's schedule")
	cmd.Flags().BoolVar(&all, "all", false, "check every workspace owner's schedule")
	cmd.Flags().IntVar(&durationHours, "duration", 0, "window length in hours")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "stop running workspaces inside their window")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be stopped without stopping")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	cmd.Flags().StringSliceVar(&spec.IncludeOrganizations, "include-org", nil, "only owners in these organizations")
	cmd.Flags().StringSliceVar(&spec.ExcludeOrganizations, "exclude-org", nil, "skip owners in these organizations")
	cmd.Flags().StringSliceVar(&spec.IncludeGroups, "include-group", nil, "only owners in these groups")
	cmd.Flags().StringSliceVar(&spec.ExcludeGroups, "exclude-group", nil, "skip owners in these groups")
	cmd.Flags().StringSliceVar(&spec.IncludeUsers, "include-user", nil, "only these owners")
	cmd.Flags().StringSliceVar(&spec.ExcludeUsers, "exclude-user", nil, "skip these owners")
	cmd.Flags().StringSliceVar(&spec.IncludeTemplates, "include-template", nil, "only these template IDs")
	cmd.Flags().StringSliceVar(&spec.ExcludeTemplates, "exclude-template", nil, "skip these template IDs")
	return cmd
}

// --- watch ---

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream sweep events from a running guardd",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.Daemon.Port)
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return fmt.Errorf("connecting to guardd: %w", err)
			}
			defer conn.Close()

			for _, channel := range []string{ws.ChannelStatus, ws.ChannelSweeps} {
				msg, err := ws.MakeEnvelope(ws.TypeSubscribe, ws.SubscribePayload{Channel: channel})
				if err != nil {
					return err
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return err
				}
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			go func() {
				<-sigCh
				conn.Close()
			}()

			fmt.Println("Watching sweep events (Ctrl-C to stop)...")
			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					return nil
				}
				var env ws.Envelope
				if err := json.Unmarshal(message, &env); err != nil {
					continue
				}
				printEvent(env)
			}
		},
	}
	return cmd
}

func printEvent(env ws.Envelope) {
	ts := time.Now().Format("15:04:05")
	switch env.Type {
	case ws.TypeSweepStarted:
		var p ws.SweepStartedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		mode := ""
		if p.DryRun {
			mode = " (dry run)"
		}
		fmt.Printf("[%s] sweep started%s\n", ts, mode)
	case ws.TypeSweepCompleted:
		var p ws.SweepCompletedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		line := fmt.Sprintf("[%s] sweep completed: %d running, %d stopping, %d expired, %d stopped, %d failed",
			ts, p.Running, p.Stopping, p.Expired, p.Stopped, p.Failed)
		if p.WouldStop > 0 {
			line += fmt.Sprintf(", %d would stop (dry run)", p.WouldStop)
		}
		fmt.Println(line)
	case ws.TypeWorkspaceStopped:
		var p ws.WorkspaceStoppedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		if p.Error != "" {
			fmt.Printf("[%s] failed to stop %s/%s: %s\n", ts, p.Owner, p.Name, p.Error)
		} else if p.DryRun {
			fmt.Printf("[%s] would stop %s/%s (%s)\n", ts, p.Owner, p.Name, p.Reason)
		} else {
			fmt.Printf("[%s] stopped %s/%s (%s)\n", ts, p.Owner, p.Name, p.Reason)
		}
	case ws.TypeStatusSnapshot:
		var p ws.StatusSnapshotPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		fmt.Printf("[%s] status: quiet hours active=%v, %d running, %d eligible\n",
			ts, p.QuietHoursActive, p.Running, p.Eligible)
	}
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(configInitCmd(), configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(config.ConfigPath()); err == nil {
				return fmt.Errorf("config already exists at %s", config.ConfigPath())
			}
			if err := config.Save(config.Default()); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", config.ConfigPath())
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			os.Stdout.Write(data)
			return nil
		},
	}
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
