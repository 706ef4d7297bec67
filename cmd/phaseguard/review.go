package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/phaseguard/pkg/budget"
	"github.com/entrhq/phaseguard/pkg/mission"
	"github.com/entrhq/phaseguard/pkg/types"
)

// openMission binds an executor to the mission folder and loads its state.
func (a *app) openMission(missionFlag string) (*mission.Executor, string, error) {
	dir, err := a.missionDir(missionFlag)
	if err != nil {
		return nil, dir, err
	}
	exec := a.newExecutor()
	if err := exec.Initialize(dir); err != nil {
		return nil, dir, err
	}
	active, err := exec.ResumeMission()
	if err != nil {
		return nil, dir, err
	}
	if !active {
		return nil, dir, fmt.Errorf("no active mission in %s", dir)
	}
	return exec, dir, nil
}

func newCompleteCmd(a *app) *cobra.Command {
	var (
		missionFlag string
		c           mission.Completion
		tokens      int
		yes         bool
	)
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Submit the current phase for review",
		Long: `Record the outcome of the current phase. Unless approval is disabled in
the config, the phase is held until a reviewer approves, rejects or aborts
it at the prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !interactive(cmd.InOrStdin()) {
				return fmt.Errorf("no terminal available for review (use --yes)")
			}
			exec, _, err := a.openMission(missionFlag)
			if err != nil {
				return err
			}
			if tokens > 0 {
				exec.TrackUsage(budget.UsageEvent{Type: budget.EventResponse, Tokens: tokens, Description: "reported by complete"})
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			term := newTerminal(cmd.InOrStdin(), cmd.OutOrStdout())

			unsubscribe := exec.Subscribe(func(ev *types.MissionEvent) {
				if ev.Type != types.EventTypeApprovalNeeded || ev.Approval == nil {
					return
				}
				req := *ev.Approval
				// Handlers must not block; the answer is read on its own goroutine.
				go func() {
					resp := *types.NewApproval("approved from the command line")
					if !yes {
						var err error
						resp, err = term.askApproval(ctx, req)
						if err != nil {
							debugLog.Warnf("Approval prompt ended: %v", err)
							cancel()
							return
						}
					}
					exec.ProvideApproval(resp)
				}()
			})
			defer unsubscribe()

			resp, err := exec.CompletePhase(ctx, c)
			if err != nil {
				return fmt.Errorf("phase not settled: %w", err)
			}

			out := cmd.OutOrStdout()
			switch {
			case c.Failed:
				fmt.Fprintln(out, errorStyle.Render("Phase recorded as failed"))
			case resp.Abort:
				fmt.Fprintln(out, warnStyle.Render("Mission aborted and paused"))
			case !resp.Approved:
				fmt.Fprintln(out, warnStyle.Render("Phase rejected; feedback added to its requirements"))
			default:
				fmt.Fprintln(out, successStyle.Render("Phase approved"))
				if state := exec.State(); state != nil && !state.IsComplete() {
					if _, err := exec.BeginPhaseExecution(); err != nil {
						return err
					}
				}
			}
			fmt.Fprintln(out)
			printState(out, exec.State(), exec.Progress())
			return nil
		},
	}
	cmd.Flags().StringVarP(&missionFlag, "mission", "m", "", "mission folder (default <workspace>/.phaseguard/mission)")
	cmd.Flags().StringVar(&c.Summary, "summary", "", "what the phase accomplished")
	cmd.Flags().StringSliceVar(&c.FilesCreated, "created", nil, "files created in this phase")
	cmd.Flags().StringSliceVar(&c.FilesModified, "modified", nil, "files modified in this phase")
	cmd.Flags().StringArrayVar(&c.VerificationResults, "verified", nil, "verification result line (repeatable)")
	cmd.Flags().BoolVar(&c.Failed, "failed", false, "record the phase as failed")
	cmd.Flags().StringVar(&c.ErrorMessage, "error", "", "failure message for --failed")
	cmd.Flags().IntVar(&tokens, "tokens", 0, "tokens spent on the phase")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve without prompting")
	return cmd
}

func newSkipCmd(a *app) *cobra.Command {
	var missionFlag, reason string
	cmd := &cobra.Command{
		Use:   "skip",
		Short: "Skip the current phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, _, err := a.openMission(missionFlag)
			if err != nil {
				return err
			}
			if err := exec.SkipCurrentPhase(reason); err != nil {
				return err
			}
			if state := exec.State(); state != nil && !state.IsComplete() {
				if _, err := exec.BeginPhaseExecution(); err != nil {
					return err
				}
			}
			printState(cmd.OutOrStdout(), exec.State(), exec.Progress())
			return nil
		},
	}
	cmd.Flags().StringVarP(&missionFlag, "mission", "m", "", "mission folder (default <workspace>/.phaseguard/mission)")
	cmd.Flags().StringVar(&reason, "reason", "skipped from the command line", "why the phase is skipped")
	return cmd
}

func newAbortCmd(a *app) *cobra.Command {
	var missionFlag, reason string
	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Pause a mission so it can be resumed later",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, dir, err := a.openMission(missionFlag)
			if err != nil {
				return err
			}
			if err := exec.AbortMission(reason); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("Mission in "+dir+" paused: "+reason))
			return nil
		},
	}
	cmd.Flags().StringVarP(&missionFlag, "mission", "m", "", "mission folder (default <workspace>/.phaseguard/mission)")
	cmd.Flags().StringVar(&reason, "reason", "aborted from the command line", "why the mission stops")
	return cmd
}
