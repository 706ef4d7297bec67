package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/phaseguard/pkg/browser"
)

// openSessionStorage opens the configured session directory.
func (a *app) openSessionStorage() (*browser.SessionStorage, error) {
	dir := a.cfg.Session.Dir
	if dir == "" {
		var err error
		dir, err = browser.DefaultSessionDir()
		if err != nil {
			return nil, err
		}
	}
	storage, err := browser.NewSessionStorage(dir)
	if err != nil {
		return nil, err
	}
	storage.SetSSODomains(a.cfg.Session.SSODomains)
	return storage, nil
}

func newBrowseCmd(a *app) *cobra.Command {
	var (
		headless    bool
		screenshot  string
		saveSession string
		format      string
	)
	cmd := &cobra.Command{
		Use:   "browse <url>",
		Short: "Open a URL with load validation and login handling",
		Long: `Navigate to a URL, validate that the page actually loaded and retry with
recovery strategies when it did not. When the page redirects to a login
or SSO page you are asked to log in in the browser window; the resulting
authentication cookies are saved for the next visit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if !strings.Contains(target, "://") {
				target = "https://" + target
			}

			if screenshot != "" {
				path, err := a.guard.Resolve(screenshot)
				if err != nil {
					return err
				}
				screenshot = path
			}

			opts := a.cfg.DriverOptions()
			if cmd.Flags().Changed("headless") {
				opts.Headless = headless
			}
			if opts.Headless {
				debugLog.Warnf("Browsing headless; interactive logins will not be possible")
			}

			storage, err := a.openSessionStorage()
			if err != nil {
				return err
			}

			driver, err := browser.LaunchPlaywright(opts)
			if err != nil {
				return err
			}

			validator := browser.NewValidator(driver, a.cfg.ValidatorConfig())
			validator.SetRecorder(a.recorder)
			var prompter browser.Prompter
			if interactive(cmd.InOrStdin()) {
				prompter = newTerminal(cmd.InOrStdin(), cmd.OutOrStdout())
			} else {
				debugLog.Warnf("No terminal on stdin; login pages will be reported, not prompted")
			}
			auth := browser.NewAuthSessionManager(prompter, a.cfg.Session.AuthTimeout)
			auth.SetRecorder(a.recorder)

			svc := browser.NewAutomationService(driver, validator, storage, auth, a.cfg.AutomationConfig(), nil)
			defer func() {
				if err := svc.Close(); err != nil {
					debugLog.Warnf("Failed to close browser: %v", err)
				}
			}()

			var res *browser.NavigationResult
			if screenshot != "" {
				res = svc.TakeScreenshot(cmd.Context(), target, screenshot)
			} else {
				res = svc.NavigateTo(cmd.Context(), target)
			}

			if saveSession != "" && res.Success {
				saved, err := svc.SaveCurrentSession(cmd.Context(), saveSession)
				if err != nil {
					return err
				}
				res.SessionSaved = true
				res.SessionID = saved.ID
			}

			if err := render(cmd.OutOrStdout(), format, res, func(w io.Writer) {
				printNavigation(w, res)
			}); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("navigation to %s did not succeed (%s)", target, res.Status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", true, "run the browser without a window")
	cmd.Flags().StringVar(&screenshot, "screenshot", "", "save a full-page screenshot to this file")
	cmd.Flags().StringVar(&saveSession, "save-session", "", "save the authentication session under this name")
	addFormatFlag(cmd, &format)
	return cmd
}

func printNavigation(w io.Writer, res *browser.NavigationResult) {
	fmt.Fprintln(w, headerStyle.Render("Navigation "+res.URL))
	fmt.Fprintln(w, field("Status", loadBadge(res.Status)))
	if res.FinalURL != "" && res.FinalURL != res.URL {
		fmt.Fprintln(w, field("Final URL", res.FinalURL))
	}
	fmt.Fprintln(w, field("Load time", res.LoadTime.Round(time.Millisecond)))
	fmt.Fprintln(w, field("Retries", res.RetryCount))
	if len(res.StrategiesApplied) > 0 {
		names := make([]string, len(res.StrategiesApplied))
		for i, s := range res.StrategiesApplied {
			names[i] = string(s)
		}
		fmt.Fprintln(w, field("Strategies", strings.Join(names, ", ")))
	}
	if res.AuthRequired {
		auth := successStyle.Render("completed")
		if res.AuthFailed {
			auth = errorStyle.Render("failed")
		}
		fmt.Fprintln(w, field("Login", auth))
	}
	if res.SessionSaved {
		fmt.Fprintln(w, field("Session", res.SessionID))
	}
	if res.ScreenshotPath != "" {
		fmt.Fprintln(w, field("Screenshot", res.ScreenshotPath))
	}
	if res.Error != "" {
		fmt.Fprintln(w, field("Error", errorStyle.Render(res.Error)))
	}

	for _, v := range res.Validations {
		mark := successStyle.Render("✓")
		if !v.Passed {
			mark = errorStyle.Render("✗")
		}
		line := fmt.Sprintf("  %s %s", mark, v.Name)
		if v.Message != "" {
			line += mutedStyle.Render(" " + v.Message)
		}
		fmt.Fprintln(w, line)
	}

	if res.Message != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, res.Message)
	}
	if len(res.Suggestions) > 0 {
		fmt.Fprint(w, bulletList(res.Suggestions))
	}
}
