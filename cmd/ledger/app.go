package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/shopspring/decimal"

	"github.com/intheblack/ledger/internal/ledger/daemon"
	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/remote"
	"github.com/intheblack/ledger/internal/ledger/report"
	"github.com/intheblack/ledger/internal/ledger/schema"
	"github.com/intheblack/ledger/internal/ledger/session"
	ledgersync "github.com/intheblack/ledger/internal/ledger/sync"
	"github.com/intheblack/ledger/internal/ui"
)

// openDB opens the configured database and applies the schema.
func openDB() (*db.DB, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return database, nil
}

// newStore returns the REST client for the configured remote, or nil when
// none is configured.
func newStore() remote.Store {
	if !cfg.RemoteConfigured() {
		return nil
	}
	return remote.NewRESTClient(cfg.Remote.URL, cfg.Remote.APIKey, remote.WithTimeout(cfg.Remote.Timeout))
}

// requireSync loads the session and remote for commands that sync
// synchronously.
func requireSync(database *db.DB) (*ledgersync.Syncer, *session.Session, error) {
	s, err := session.Load(cfg.SessionFile)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return nil, nil, fmt.Errorf("not signed in (run 'ledger login <user-id>')")
		}
		return nil, nil, err
	}
	store := newStore()
	if store == nil {
		return nil, nil, fmt.Errorf("remote.url is not configured")
	}
	return ledgersync.New(database, store, ledgersync.WithLogger(componentLogger("[sync] "))), s, nil
}

// newOrchestrator wires the orchestrator used by mutation commands. When a
// session and a remote are present the user is restored so mutations push;
// otherwise edits stay local.
func newOrchestrator(database *db.DB) (*daemon.Orchestrator, error) {
	store := newStore()
	engine := ledgersync.New(database, store, ledgersync.WithLogger(componentLogger("[sync] ")))
	orch, err := daemon.NewOrchestrator(database, engine, &daemon.Config{
		Reporter: report.NewConsole(os.Stderr),
		Logger:   componentLogger("[daemon] "),
	})
	if err != nil {
		return nil, err
	}
	if store == nil {
		return orch, nil
	}
	s, err := session.Load(cfg.SessionFile)
	switch {
	case err == nil:
		orch.Restore(s.UserID)
	case !errors.Is(err, session.ErrNoSession):
		return nil, err
	}
	return orch, nil
}

// resolveBook returns the book selected by --book, falling back to the last
// opened book.
func resolveBook(ctx context.Context, database *db.DB, flag int64) (*schema.Book, error) {
	id := flag
	if id == 0 {
		last, ok, err := database.LastOpenBookID(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("no book selected (pass --book or run 'ledger book open <id>')")
		}
		id = last
	}
	b, err := database.GetBook(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("book %d not found", id)
	}
	return b, err
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// parseAmount parses a positive money amount.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive (got %s)", d)
	}
	return d.Round(2), nil
}

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts YYYY-MM-DD or natural language such as "yesterday" or
// "last friday", relative to now. Empty means today.
func parseDate(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "today") {
		return schema.DateOf(now), nil
	}
	if schema.ValidateDate(s) == nil {
		return s, nil
	}
	r, err := dateParser.Parse(s, now)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	if r == nil {
		return "", fmt.Errorf("invalid date %q (use YYYY-MM-DD or e.g. 'yesterday')", s)
	}
	return schema.DateOf(r.Time), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// confirm asks before a destructive action unless --yes was given.
func confirm(title, description string) (bool, error) {
	if assumeYes {
		return true, nil
	}
	return ui.Confirm(title, description)
}

func syncMark(synced bool) string {
	if synced {
		return ui.RenderPass("✓")
	}
	return ui.RenderMuted("·")
}
