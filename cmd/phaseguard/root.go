package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/entrhq/phaseguard/pkg/budget"
	"github.com/entrhq/phaseguard/pkg/complexity"
	"github.com/entrhq/phaseguard/pkg/config"
	"github.com/entrhq/phaseguard/pkg/logging"
	"github.com/entrhq/phaseguard/pkg/metrics"
	"github.com/entrhq/phaseguard/pkg/mission"
	"github.com/entrhq/phaseguard/pkg/phase"
	"github.com/entrhq/phaseguard/pkg/workspace"
)

const version = "0.1.0"

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("cli")
	if err != nil {
		debugLog.Warnf("Failed to initialize cli logger, using stderr fallback: %v", err)
	}
}

// app carries what every command needs after flags are parsed.
type app struct {
	workspace      string
	logDir         string
	metricsSummary bool
	metricsFile    string
	cfg            *config.Config
	guard          *workspace.Guard
	recorder       *metrics.Recorder
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		debugLog.Errorf("Command failed: %v", err)
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
	}
	return err
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "phaseguard",
		Short: "Guard rails for long-running coding agent missions",
		Long: `phaseguard keeps an agent's work bounded and reviewable.

Mission planning:
  analyze   Score a requirement and pick single or phased execution
  plan      Split a requirement into dependency-ordered phases
  start     Create a mission in the workspace
  status    Show where a mission stands
  resume    Resume a paused mission and print its prompt context
  complete  Submit the current phase for review
  skip      Skip the current phase
  abort     Pause a mission
  reset     Delete a mission's saved state

Browser:
  browse    Open a URL with load validation and login handling
  sessions  Manage saved authentication sessions`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVar(&a.logDir, "log-dir", "", "directory for log files (default ~/.phaseguard/logs)")
	rootCmd.PersistentFlags().BoolVar(&a.metricsSummary, "metrics", false, "print a metrics summary to stderr when the command ends")
	rootCmd.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "write metrics in prometheus text format to this file")
	rootCmd.SetVersionTemplate(fmt.Sprintf("phaseguard version %s\n", version))

	rootCmd.AddCommand(
		newAnalyzeCmd(a),
		newPlanCmd(a),
		newStartCmd(a),
		newStatusCmd(a),
		newResumeCmd(a),
		newCompleteCmd(a),
		newSkipCmd(a),
		newAbortCmd(a),
		newResetCmd(a),
		newBrowseCmd(a),
		newSessionsCmd(a),
		newConfigCmd(a),
	)

	reportMetricsAfter(rootCmd, a)

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\nRun '%s --help' for usage", err, cmd.CommandPath())
	})
	return rootCmd
}

// skipConfigLoad marks commands that must work while the config file is
// broken.
const skipConfigLoad = "skip-config-load"

func (a *app) setup(cmd *cobra.Command) error {
	guard, err := workspace.NewGuard(a.workspace)
	if err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}
	a.guard = guard
	a.workspace = guard.Root()

	cfg, err := config.Load(a.workspace)
	if err != nil {
		if cmd.Annotations[skipConfigLoad] == "" {
			return err
		}
		debugLog.Warnf("Ignoring config load error: %v", err)
		cfg = config.DefaultConfig()
	}
	a.cfg = cfg
	a.guard.Allow(cfg.Browser.ScreenshotDir)
	a.recorder = metrics.NewRecorder()

	dir := a.logDir
	if dir == "" {
		dir = cfg.Logging.Dir
	}
	if dir != "" {
		if err := logging.SetDirectory(dir); err != nil {
			return err
		}
	}
	debugLog.Infof("phaseguard %s, workspace %s", version, a.workspace)
	return nil
}

// missionDir resolves the --mission flag inside the workspace; empty means
// the workspace default.
func (a *app) missionDir(flag string) (string, error) {
	if flag == "" {
		return filepath.Join(config.Dir(a.workspace), "mission"), nil
	}
	return a.guard.Resolve(flag)
}

func (a *app) newExecutor() *mission.Executor {
	analyzer := complexity.NewAnalyzer()
	return mission.NewExecutor(a.cfg.ExecutorConfig(), mission.Deps{
		Analyzer:  analyzer,
		Generator: phase.NewGenerator(a.cfg.GeneratorConfig(), analyzer),
		Monitor:   budget.NewMonitor(a.cfg.MonitorConfig(), a.cfg.Estimator()),
		Recorder:  a.recorder,
	})
}

// reportMetricsAfter wraps every runnable command so metrics are reported
// whether or not the command fails. PersistentPostRunE is skipped on error.
func reportMetricsAfter(cmd *cobra.Command, a *app) {
	if run := cmd.RunE; run != nil {
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args)
			if rerr := a.reportMetrics(cmd.ErrOrStderr()); rerr != nil {
				if err == nil {
					return rerr
				}
				debugLog.Warnf("Failed to report metrics: %v", rerr)
			}
			return err
		}
	}
	for _, sub := range cmd.Commands() {
		reportMetricsAfter(sub, a)
	}
}

func (a *app) reportMetrics(w io.Writer) error {
	if a.recorder == nil {
		return nil
	}
	if a.metricsFile != "" {
		if err := a.recorder.WriteTextfile(a.metricsFile); err != nil {
			return err
		}
		debugLog.Infof("Wrote metrics to %s", a.metricsFile)
	}
	if !a.metricsSummary {
		return nil
	}
	samples, err := a.recorder.Snapshot()
	if err != nil {
		return err
	}
	printMetrics(w, samples)
	return nil
}

func (a *app) stateManager(missionDir string) *phase.StateManager {
	return phase.NewStateManager(missionDir, phase.StateManagerOptions{
		FileName: a.cfg.Executor.StateFileName,
		AutoSave: true,
	})
}

// requirementArg joins args into one requirement. A single "-" reads it
// from stdin.
func requirementArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read requirement from stdin: %w", err)
		}
		args = []string{string(data)}
	}
	req := strings.TrimSpace(strings.Join(args, " "))
	if req == "" {
		return "", errors.New("requirement is empty")
	}
	return req, nil
}
