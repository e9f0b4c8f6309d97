package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/intheblack/ledger/internal/config"
	"github.com/intheblack/ledger/internal/ui"
)

var (
	cfgFile    string
	jsonOutput bool
	assumeYes  bool
	verbose    bool

	v   = config.New()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Local-first hobby ledger with cloud sync",
	Long: `ledger keeps income and expense books for your hobbies in a local SQLite
database and mirrors them to a cloud store when you are signed in.

Every change is written locally first. Pushes to the cloud run in the
background and never block or fail a local edit; the next pull reconciles.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(os.Stdout)
		c, err := config.Resolve(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "books", Title: "Books and entries:"},
		&cobra.Group{ID: "sync", Title: "Account and sync:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.ledger/ledger.yaml)")
	flags.String("db", "", "database path (overrides db_path)")
	flags.String("remote-url", "", "cloud store URL (overrides remote.url)")
	flags.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	flags.BoolVarP(&assumeYes, "yes", "y", false, "Skip confirmation prompts")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Show sync activity logs")

	_ = v.BindPFlag("db_path", flags.Lookup("db"))
	_ = v.BindPFlag("remote.url", flags.Lookup("remote-url"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// componentLogger returns a logger for sync internals: stderr with --verbose,
// discarded otherwise.
func componentLogger(prefix string) *log.Logger {
	if verbose {
		return log.New(os.Stderr, prefix, log.LstdFlags)
	}
	return log.New(io.Discard, prefix, 0)
}
