package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/intheblack/ledger/internal/ledger/schema"
	"github.com/intheblack/ledger/internal/ledger/session"
	ledgersync "github.com/intheblack/ledger/internal/ledger/sync"
	"github.com/intheblack/ledger/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull from and push to the cloud store",
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull changes from the cloud",
	Long: `Pull changes from the cloud store.

Without a watermark (first sync on this device) or with --full, local books,
categories and transactions are replaced by the remote copy. Otherwise only
books and transactions changed since the last pull are merged, and books
deleted remotely are removed locally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		if full {
			ok, err := confirm("Replace local books with the cloud copy?", "Unsynced local changes are lost.")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Cancelled")
				return nil
			}
		}

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()
		syncer, s, err := requireSync(database)
		if err != nil {
			return err
		}

		start := time.Now()
		var stats *ledgersync.PullStats
		if full {
			stats, err = syncer.PullAll(cmd.Context(), s.UserID)
		} else {
			stats, err = syncer.Pull(cmd.Context(), s.UserID)
		}
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		if jsonOutput {
			return printJSON(stats)
		}
		fmt.Printf("%s Pull complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   %s\n", stats)
		return nil
	},
}

var syncPushAllCmd = &cobra.Command{
	Use:   "push-all",
	Short: "Push every local row and setting to the cloud",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()
		syncer, s, err := requireSync(database)
		if err != nil {
			return err
		}
		if err := syncer.PushAllLocal(cmd.Context(), s.UserID); err != nil {
			return err
		}
		fmt.Printf("%s Pushed local data for %s\n", ui.RenderPass("✓"), s.UserID)
		return nil
	},
}

type syncStatus struct {
	UserID     string     `json:"user_id,omitempty"`
	Remote     string     `json:"remote,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	Unsynced   []unsynced `json:"unsynced"`
}

type unsynced struct {
	Kind  string `json:"kind"`
	Total int    `json:"total"`
	Local int    `json:"local_only"`
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, watermark and unsynced rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		var st syncStatus
		if s, err := session.Load(cfg.SessionFile); err == nil {
			st.UserID = s.UserID
		}
		st.Remote = cfg.Remote.URL
		if at, ok, err := database.LastSyncAt(ctx); err != nil {
			return err
		} else if ok {
			st.LastSyncAt = &at
		}
		for _, kind := range schema.Kinds() {
			all, err := database.AllIDs(ctx, kind)
			if err != nil {
				return err
			}
			u := unsynced{Kind: kind.String(), Total: len(all)}
			for _, id := range all {
				if _, ok, err := database.ServerID(ctx, kind, id); err != nil {
					return err
				} else if !ok {
					u.Local++
				}
			}
			st.Unsynced = append(st.Unsynced, u)
		}

		if jsonOutput {
			return printJSON(st)
		}
		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("☁"))
		if st.UserID == "" {
			fmt.Printf("User:      %s\n", ui.RenderWarn("not signed in"))
		} else {
			fmt.Printf("User:      %s\n", st.UserID)
		}
		if st.Remote == "" {
			fmt.Printf("Remote:    %s\n", ui.RenderWarn("not configured"))
		} else {
			fmt.Printf("Remote:    %s\n", st.Remote)
		}
		if st.LastSyncAt == nil {
			fmt.Printf("Last pull: %s\n", ui.RenderMuted("never (next pull is a full pull)"))
		} else {
			fmt.Printf("Last pull: %s\n", st.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
		for _, u := range st.Unsynced {
			mark := ui.RenderPass("✓")
			if u.Local > 0 {
				mark = ui.RenderWarn("⚠")
			}
			fmt.Printf("%s %-12s %d total, %d not yet pushed\n", mark, u.Kind, u.Total, u.Local)
		}
		fmt.Println()
		return nil
	},
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Ask the running daemon to pull now",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := readPIDFile(cfg.Daemon.PIDFile)
		if err != nil {
			return err
		}
		if err := sendForeground(pid); err != nil {
			return fmt.Errorf("failed to signal daemon %d: %w", pid, err)
		}
		fmt.Fprintf(os.Stdout, "%s Asked daemon %d to pull\n", ui.RenderPass("✓"), pid)
		return nil
	},
}

func init() {
	syncPullCmd.Flags().Bool("full", false, "Replace local data with a full pull")

	syncCmd.AddCommand(syncPullCmd, syncPushAllCmd, syncStatusCmd, syncNowCmd)
	rootCmd.AddCommand(syncCmd)
}
