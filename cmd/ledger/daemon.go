package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/intheblack/ledger/internal/ledger/daemon"
	"github.com/intheblack/ledger/internal/ledger/dashboard"
	"github.com/intheblack/ledger/internal/ledger/report"
	ledgersync "github.com/intheblack/ledger/internal/ledger/sync"
	"github.com/intheblack/ledger/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon in the foreground",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Watches the session file; login pulls once, logout stops syncing
  2. Pulls incrementally every daemon.foreground_interval
  3. Pulls immediately on SIGUSR1 ('ledger sync now')
  4. Optionally serves a WebSocket dashboard of sync activity

Logs go to log.file (rotated) when configured, stderr otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.RemoteConfigured() {
			return fmt.Errorf("remote.url is not configured")
		}
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		withDashboard = withDashboard || cfg.Dashboard.Enabled

		out := logOutput()
		if c, ok := out.(io.Closer); ok {
			defer c.Close()
		}

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		engine := ledgersync.New(database, newStore(), ledgersync.WithLogger(log.New(out, "[sync] ", log.LstdFlags)))
		dcfg := &daemon.Config{
			Reporter:           report.New(out),
			ForegroundInterval: cfg.Daemon.ForegroundInterval,
			Logger:             log.New(out, "[daemon] ", log.LstdFlags),
		}

		var server *dashboard.Server
		if withDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Host:   "127.0.0.1",
				Port:   cfg.Dashboard.Port,
				Logger: log.New(out, "[dashboard] ", log.LstdFlags),
			})
			dcfg.Notifier = dashboard.NewHandler(server, dcfg.Logger)
			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()
		}

		orch, err := daemon.NewOrchestrator(database, engine, dcfg)
		if err != nil {
			return err
		}
		runner, err := daemon.NewRunner(orch, cfg.SessionFile, dcfg)
		if err != nil {
			return err
		}

		if err := writePIDFile(cfg.Daemon.PIDFile); err != nil {
			return err
		}
		defer os.Remove(cfg.Daemon.PIDFile)

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Database: %s\n", cfg.DBPath)
		fmt.Printf("   Session:  %s\n", cfg.SessionFile)
		fmt.Printf("   Remote:   %s\n", cfg.Remote.URL)
		if server != nil {
			fmt.Printf("   Dashboard: ws://%s/ws\n", server.GetAddr())
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if err := runner.Run(ctx); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		fmt.Println("Daemon stopped")
		return nil
	},
}

// logOutput returns the daemon log destination.
func logOutput() io.Writer {
	if cfg.Log.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   true,
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if pid, err := readPIDFile(path); err == nil && processAlive(pid) {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0600)
}

func readPIDFile(path string) (int, error) {
	// #nosec G304 - controlled path from config
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("daemon is not running (no pid file at %s)", path)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", path)
	}
	return pid, nil
}

func sendForeground(pid int) error {
	return daemon.SendForeground(pid)
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the WebSocket dashboard (dashboard.port)")
	rootCmd.AddCommand(daemonCmd)
}
