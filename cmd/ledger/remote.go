package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/intheblack/ledger/internal/ledger/loadtest"
	"github.com/intheblack/ledger/internal/ledger/remote"
	"github.com/intheblack/ledger/internal/ui"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "maint",
	Short:   "Development tools for the cloud store",
}

var remoteServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve an in-memory cloud store for local development",
	Long: `Serve an in-memory store speaking the same REST dialect as the cloud.

Point another device (or a second config) at it with remote.url to try
multi-device sync without a real backend. Data is lost on exit.

Example:
  ledger remote serve --addr 127.0.0.1:54321 --api-key dev
  LEDGER_REMOTE_URL=http://127.0.0.1:54321 LEDGER_REMOTE_API_KEY=dev ledger sync pull`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		apiKey, _ := cmd.Flags().GetString("api-key")

		logger := log.New(os.Stderr, "[remote] ", log.LstdFlags)
		handler := remote.NewHandler(remote.NewMemStore(nil), apiKey, logger)

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		server := &http.Server{
			Handler:     handler,
			ReadTimeout: 10 * time.Second,
		}

		fmt.Printf("%s In-memory store listening on http://%s\n", ui.RenderAccent("☁"), ln.Addr())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Serve(ln) }()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		fmt.Println("Store stopped")
		return nil
	},
}

var remoteLoadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Push from many simulated devices and verify a full pull",
	Long: `Simulate several devices of one user, each recording transactions into
its own database and pushing them concurrently, then pull everything into a
fresh device and check that nothing was lost or duplicated.

Runs against an in-memory store unless --use-remote is given, in which case
it writes to remote.url as the user in --user.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, _ := cmd.Flags().GetInt("devices")
		books, _ := cmd.Flags().GetInt("books")
		txs, _ := cmd.Flags().GetInt("transactions")
		useRemote, _ := cmd.Flags().GetBool("use-remote")
		userID, _ := cmd.Flags().GetString("user")

		var store remote.Store = remote.NewMemStore(nil)
		if useRemote {
			if store = newStore(); store == nil {
				return fmt.Errorf("remote.url is not configured")
			}
		}

		dir, err := os.MkdirTemp("", "ledger-loadtest-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		fmt.Printf("%s %d devices x %d books x %d transactions...\n", ui.RenderAccent("🔄"), devices, books, txs)
		result, err := loadtest.Run(cmd.Context(), loadtest.Options{
			Store:               store,
			UserID:              userID,
			Dir:                 dir,
			Devices:             devices,
			BooksPerDevice:      books,
			TransactionsPerBook: txs,
			Seed:                time.Now().UnixNano(),
			Logger:              componentLogger("[sync] "),
		})
		if result != nil && jsonOutput {
			_ = printJSON(result)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return nil
		}
		result.Push.PrintStats(os.Stdout)
		fmt.Printf("Full pull:       %v\n", result.Pull.Round(time.Millisecond))
		fmt.Printf("%s %d books, %d transactions verified in %v\n", ui.RenderPass("✓"),
			result.Pulled.Books, result.Pulled.Transactions, result.Duration.Round(time.Millisecond))
		return nil
	},
}

func init() {
	remoteLoadtestCmd.Flags().Int("devices", 10, "Number of simulated devices")
	remoteLoadtestCmd.Flags().Int("books", 2, "Books per device")
	remoteLoadtestCmd.Flags().Int("transactions", 25, "Transactions per book")
	remoteLoadtestCmd.Flags().Bool("use-remote", false, "Run against remote.url instead of memory")
	remoteLoadtestCmd.Flags().String("user", "loadtest", "User id the simulated devices sign in as")

	remoteServeCmd.Flags().String("addr", "127.0.0.1:54321", "Listen address")
	remoteServeCmd.Flags().String("api-key", "", "Require this apikey header (empty disables the check)")

	remoteCmd.AddCommand(remoteServeCmd, remoteLoadtestCmd)
	rootCmd.AddCommand(remoteCmd)
}
