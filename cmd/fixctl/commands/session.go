package commands

import (
	"github.com/spf13/cobra"
)

// sessionsCmd lists all sessions with status and sequence numbers.
func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List FIX sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return get("/sessions")
		},
	}
}

// sessionCmd groups the per-session subcommands.
func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and control one session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show session detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return get("/sessions/" + args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "enable <session-id>",
		Short: "Permit logons on the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return post("/sessions/" + args[0] + "/enable")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "disable <session-id>",
		Short: "Block logons and log out the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return post("/sessions/" + args[0] + "/disable")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "logout <session-id>",
		Short: "Initiate a graceful logout",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return post("/sessions/" + args[0] + "/logout")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <session-id>",
		Short: "Reset the session's sequence numbers to 1",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return post("/sessions/" + args[0] + "/reset")
		},
	})
	return cmd
}
