package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/entrhq/phaseguard/pkg/complexity"
	"github.com/entrhq/phaseguard/pkg/phase"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "analyze <requirement>",
		Short: "Score a requirement and pick an execution mode",
		Long: `Score a requirement's complexity and decide whether it should run as a
single unit or as phases. Pass "-" to read the requirement from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := requirementArg(cmd, args)
			if err != nil {
				return err
			}
			analysis := a.newExecutor().AnalyzeRequirement(req)
			return render(cmd.OutOrStdout(), format, analysis, func(w io.Writer) {
				printAnalysis(w, analysis)
			})
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	var format, strategy string
	cmd := &cobra.Command{
		Use:   "plan <requirement>",
		Short: "Split a requirement into dependency-ordered phases",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := requirementArg(cmd, args)
			if err != nil {
				return err
			}

			genCfg := a.cfg.GeneratorConfig()
			if strategy != "" {
				s := phase.Strategy(strategy)
				if !s.IsValid() {
					return fmt.Errorf("unknown strategy %q (want feature-based, layer-based or incremental)", strategy)
				}
				genCfg.PreferredStrategy = s
			}

			analyzer := complexity.NewAnalyzer()
			gen := phase.NewGenerator(genCfg, analyzer).GeneratePhases(req, nil)
			return render(cmd.OutOrStdout(), format, gen, func(w io.Writer) {
				printPlan(w, gen)
			})
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "force a strategy: feature-based, layer-based or incremental")
	addFormatFlag(cmd, &format)
	return cmd
}

func newStartCmd(a *app) *cobra.Command {
	var missionFlag string
	var phased, force bool
	cmd := &cobra.Command{
		Use:   "start <requirement>",
		Short: "Create a mission in the workspace",
		Long: `Analyze a requirement and write the mission state to the mission folder.
The mode follows the analysis unless --phased forces phases.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := requirementArg(cmd, args)
			if err != nil {
				return err
			}
			dir, err := a.missionDir(missionFlag)
			if err != nil {
				return err
			}
			if a.stateManager(dir).Exists() && !force {
				return fmt.Errorf("a mission already exists in %s (use --force or reset it first)", dir)
			}

			exec := a.newExecutor()
			if err := exec.Initialize(dir); err != nil {
				return err
			}
			analysis := exec.AnalyzeRequirement(req)

			var state *phase.ExecutionState
			if phased || analysis.RecommendedMode == phase.ModePhased {
				state, err = exec.StartPhasedExecution(analysis)
			} else {
				state, err = exec.StartSingleExecution(req)
			}
			if err != nil {
				return fmt.Errorf("failed to start mission: %w", err)
			}
			if _, err := exec.BeginPhaseExecution(); err != nil {
				return fmt.Errorf("failed to begin first phase: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("Started %s mission with %d phase(s) in %s",
				state.ExecutionMode, len(state.Phases), dir)))
			fmt.Fprintln(out)
			printState(out, exec.State(), exec.Progress())
			return nil
		},
	}
	cmd.Flags().StringVarP(&missionFlag, "mission", "m", "", "mission folder (default <workspace>/.phaseguard/mission)")
	cmd.Flags().BoolVar(&phased, "phased", false, "run in phases regardless of the analysis")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing mission")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var missionFlag, format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where a mission stands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.missionDir(missionFlag)
			if err != nil {
				return err
			}
			sm := a.stateManager(dir)
			state, err := sm.Load()
			if errors.Is(err, phase.ErrNoState) {
				return fmt.Errorf("no mission in %s", dir)
			}
			if err != nil {
				return err
			}
			progress := sm.Progress()
			return render(cmd.OutOrStdout(), format, state, func(w io.Writer) {
				printState(w, state, progress)
			})
		},
	}
	cmd.Flags().StringVarP(&missionFlag, "mission", "m", "", "mission folder (default <workspace>/.phaseguard/mission)")
	addFormatFlag(cmd, &format)
	return cmd
}

func newResumeCmd(a *app) *cobra.Command {
	var missionFlag string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused mission and print its prompt context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.missionDir(missionFlag)
			if err != nil {
				return err
			}
			exec := a.newExecutor()
			if err := exec.Initialize(dir); err != nil {
				return err
			}
			resumed, err := exec.ResumeMission()
			if err != nil {
				return err
			}
			if !resumed {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Nothing to resume in "+dir))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), exec.GeneratePromptContext())
			return nil
		},
	}
	cmd.Flags().StringVarP(&missionFlag, "mission", "m", "", "mission folder (default <workspace>/.phaseguard/mission)")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var missionFlag string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete a mission's saved state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.missionDir(missionFlag)
			if err != nil {
				return err
			}
			sm := a.stateManager(dir)
			if !sm.Exists() {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No mission state in "+dir))
				return nil
			}
			if err := sm.Reset(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Mission state removed from "+dir))
			return nil
		},
	}
	cmd.Flags().StringVarP(&missionFlag, "mission", "m", "", "mission folder (default <workspace>/.phaseguard/mission)")
	return cmd
}
