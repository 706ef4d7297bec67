package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/phaseguard/pkg/browser"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved authentication sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(a),
		newSessionsDeleteCmd(a),
		newSessionsCleanupCmd(a),
		newSessionsClearCmd(a),
	)
	return cmd
}

func newSessionsListCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := a.openSessionStorage()
			if err != nil {
				return err
			}
			sessions, err := storage.ListSessions()
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), format, sessions, func(w io.Writer) {
				printSessions(w, sessions, time.Now().UTC())
			})
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

func newSessionsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := a.openSessionStorage()
			if err != nil {
				return err
			}
			if err := storage.DeleteSession(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Deleted session "+args[0]))
			return nil
		},
	}
}

func newSessionsCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := a.openSessionStorage()
			if err != nil {
				return err
			}
			removed, err := storage.CleanupExpired()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("Removed %d expired session(s)", removed)))
			return nil
		},
	}
}

func newSessionsClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := a.openSessionStorage()
			if err != nil {
				return err
			}
			if err := storage.ClearAll(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("All sessions cleared from "+storage.Dir()))
			return nil
		},
	}
}

func printSessions(w io.Writer, sessions []browser.SavedSession, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No saved sessions"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-36s  %-20s  %-28s  %-16s  %s", "ID", "NAME", "DOMAIN", "SAVED", "EXPIRES")))
	for _, s := range sessions {
		expires := "never"
		if s.ExpiresAt != nil {
			expires = s.ExpiresAt.Local().Format("2006-01-02 15:04")
		}
		if s.Expired(now) {
			expires = errorStyle.Render("expired")
		}
		fmt.Fprintf(w, "%-36s  %-20s  %-28s  %-16s  %s\n",
			s.ID, truncate(s.Name, 20), truncate(s.Domain, 28), s.SavedAt.Local().Format("2006-01-02 15:04"), expires)
	}
}
