package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/intheblack/ledger/internal/ledger/session"
)

// Runner drives an Orchestrator from outside events: the session file for
// sign-in and sign-out, a ticker and external triggers for foreground
// pulls.
type Runner struct {
	orch        *Orchestrator
	sessionFile string
	config      *Config

	watcher  *fsnotify.Watcher
	triggers chan struct{}

	pendingMu sync.Mutex
	pending   time.Time // zero when no session change is queued
}

// NewRunner creates a runner for orch watching sessionFile.
func NewRunner(orch *Orchestrator, sessionFile string, config *Config) (*Runner, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if sessionFile == "" {
		return nil, fmt.Errorf("sessionFile cannot be empty")
	}
	abs, err := filepath.Abs(sessionFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Runner{
		orch:        orch,
		sessionFile: abs,
		config:      config.withDefaults(),
		watcher:     watcher,
		triggers:    make(chan struct{}, 1),
	}, nil
}

// Trigger requests a foreground pull. It never blocks; triggers that arrive
// while one is pending are merged.
func (r *Runner) Trigger() {
	select {
	case r.triggers <- struct{}{}:
	default:
	}
}

// Run applies the current session, then reacts to events until ctx is
// cancelled. It waits for in-flight sync tasks before returning.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.config.Logger
	logger.Println("Starting daemon")

	// The directory is watched because session writes replace the file.
	dir := filepath.Dir(r.sessionFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := r.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch session directory: %w", err)
	}
	logger.Printf("Watching: %s", r.sessionFile)

	r.applySession()

	signals, stopSignals := notifyForeground()
	defer stopSignals()

	foreground := time.NewTicker(r.config.ForegroundInterval)
	defer foreground.Stop()
	debounce := time.NewTicker(r.config.DebounceInterval)
	defer debounce.Stop()

	defer func() {
		if err := r.watcher.Close(); err != nil {
			logger.Printf("Error closing watcher: %v", err)
		}
		r.orch.Wait()
		logger.Println("Daemon stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Println("Shutdown signal received")
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.sessionFile {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger.Printf("Session event: %s", event.Op)
			r.queueSessionChange()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("Watcher error: %v", err)

		case <-debounce.C:
			r.processSessionChange()

		case <-foreground.C:
			r.orch.Foreground()

		case <-r.triggers:
			logger.Println("Foreground trigger")
			r.orch.Foreground()

		case <-signals:
			logger.Println("Foreground signal")
			r.orch.Foreground()
		}
	}
}

func (r *Runner) queueSessionChange() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending = time.Now()
}

// processSessionChange applies a queued session change once it has been
// quiet for the debounce interval.
func (r *Runner) processSessionChange() {
	r.pendingMu.Lock()
	if r.pending.IsZero() || time.Since(r.pending) < r.config.DebounceInterval {
		r.pendingMu.Unlock()
		return
	}
	r.pending = time.Time{}
	r.pendingMu.Unlock()

	r.applySession()
}

func (r *Runner) applySession() {
	s, err := session.Load(r.sessionFile)
	switch {
	case errors.Is(err, session.ErrNoSession):
		r.orch.SignOut()
	case err != nil:
		r.config.Logger.Printf("Ignoring session file: %v", err)
	default:
		r.orch.SignIn(s.UserID)
	}
}
