package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/intheblack/ledger/internal/ledger/report"
	"github.com/intheblack/ledger/internal/ledger/session"
	"github.com/intheblack/ledger/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "maint",
	Short:   "Create the local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()
		fmt.Printf("%s Ledger ready at %s\n", ui.RenderPass("✓"), database.Path())
		if cfg.File != "" {
			fmt.Printf("   Config: %s\n", cfg.File)
		}
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:     "login <user-id>",
	GroupID: "sync",
	Short:   "Sign in and pull your books from the cloud",
	Long: `Sign in as the given user by writing the session file.

A running daemon notices the new session and pulls. Without a daemon the
pull runs here unless --no-pull is given. A failed pull is reported but
does not undo the sign-in.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		noPull, _ := cmd.Flags().GetBool("no-pull")

		s := &session.Session{UserID: args[0], Email: email}
		if err := session.Save(cfg.SessionFile, s); err != nil {
			return err
		}
		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), s.UserID)

		if noPull || !cfg.RemoteConfigured() {
			return nil
		}
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()
		syncer, _, err := requireSync(database)
		if err != nil {
			return err
		}
		stats, err := syncer.Pull(cmd.Context(), s.UserID)
		if err != nil {
			report.NewConsole(os.Stderr).Report(err, "pull")
			return nil
		}
		fmt.Printf("   %s\n", stats)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Sign out; local data stays on this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session.Load(cfg.SessionFile)
		if errors.Is(err, session.ErrNoSession) {
			fmt.Println("Not signed in")
			return nil
		}
		if err != nil {
			return err
		}
		if err := session.Clear(cfg.SessionFile); err != nil {
			return err
		}
		fmt.Printf("%s Signed out %s\n", ui.RenderPass("✓"), s.UserID)
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "Email shown in status output")
	loginCmd.Flags().Bool("no-pull", false, "Do not pull after signing in")

	rootCmd.AddCommand(initCmd, loginCmd, logoutCmd)
}
