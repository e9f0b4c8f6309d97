package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/report"
	"github.com/intheblack/ledger/internal/ledger/schema"
	ledgersync "github.com/intheblack/ledger/internal/ledger/sync"
)

// Operation names used when reporting and notifying.
const (
	OpPull                  = "pull"
	OpPullIncremental       = "pullIncremental"
	OpPushBook              = "pushBook"
	OpPushCategory          = "pushCategory"
	OpPushTransaction       = "pushTransaction"
	OpPushDeleteBook        = "pushDeleteBook"
	OpPushDeleteCategory    = "pushDeleteCategory"
	OpPushDeleteTransaction = "pushDeleteTransaction"
	OpPushSettings          = "pushSettings"
)

// Event describes one finished detached sync task.
type Event struct {
	Op    string
	Err   error
	Stats *ledgersync.PullStats // pulls only
	At    time.Time
}

// Notifier observes finished sync tasks.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(e Event) { f(e) }

// Config holds configuration for the orchestrator and the runner.
type Config struct {
	// Reporter receives every sync failure. Defaults to a zerolog reporter
	// on stderr.
	Reporter report.Reporter

	// Notifier, if set, is told about every finished sync task.
	Notifier Notifier

	// ForegroundInterval is how often the runner fires a foreground pull.
	ForegroundInterval time.Duration

	// DebounceInterval is how long the runner waits after a session file
	// change before acting on it.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Reporter:           report.New(os.Stderr),
		ForegroundInterval: 5 * time.Minute,
		DebounceInterval:   100 * time.Millisecond,
		Logger:             log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.Reporter == nil {
		out.Reporter = def.Reporter
	}
	if out.ForegroundInterval <= 0 {
		out.ForegroundInterval = def.ForegroundInterval
	}
	if out.DebounceInterval <= 0 {
		out.DebounceInterval = def.DebounceInterval
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	return &out
}

// Orchestrator decides when to push and pull, and keeps sync failures away
// from the callers of its mutation methods.
//
// Local writes run synchronously and their errors are returned. The matching
// push runs detached on its own goroutine with no timeout; its outcome goes
// to the Reporter and the Notifier only.
type Orchestrator struct {
	db     *db.DB
	engine ledgersync.Engine
	config *Config

	mu         sync.Mutex
	userID     string
	pulledOnce bool

	tasks sync.WaitGroup
}

// NewOrchestrator creates an orchestrator with no signed-in user.
func NewOrchestrator(database *db.DB, engine ledgersync.Engine, config *Config) (*Orchestrator, error) {
	if database == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	return &Orchestrator{
		db:     database,
		engine: engine,
		config: config.withDefaults(),
	}, nil
}

// UserID returns the signed-in user, if any.
func (o *Orchestrator) UserID() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userID, o.userID != ""
}

// PulledOnce reports whether the sign-in pull of this session has started.
func (o *Orchestrator) PulledOnce() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pulledOnce
}

// SignIn makes userID the active user. The first sign-in of a session starts
// one pull; signing in again as the same user does nothing. Signing in as a
// different user without signing out starts a new session.
func (o *Orchestrator) SignIn(userID string) {
	if userID == "" {
		return
	}

	o.mu.Lock()
	if o.userID == userID {
		o.mu.Unlock()
		return
	}
	if o.userID != "" {
		o.pulledOnce = false
	}
	o.userID = userID
	pull := !o.pulledOnce
	o.pulledOnce = true
	o.mu.Unlock()

	o.config.Logger.Printf("Signed in as %s", userID)
	if pull {
		o.detachPull(OpPull, func(ctx context.Context) (*ledgersync.PullStats, error) {
			return o.engine.Pull(ctx, userID)
		})
	}
}

// Restore resumes a session whose sign-in pull already ran elsewhere (the
// daemon, or the command that logged in). It sets the user without pulling.
func (o *Orchestrator) Restore(userID string) {
	if userID == "" {
		return
	}
	o.mu.Lock()
	o.userID = userID
	o.pulledOnce = true
	o.mu.Unlock()
}

// SignOut ends the session. Tasks already in flight keep running.
func (o *Orchestrator) SignOut() {
	o.mu.Lock()
	was := o.userID
	o.userID = ""
	o.pulledOnce = false
	o.mu.Unlock()

	if was != "" {
		o.config.Logger.Printf("Signed out %s", was)
	}
}

// Foreground starts an incremental pull when a user is signed in.
func (o *Orchestrator) Foreground() {
	userID, ok := o.UserID()
	if !ok {
		return
	}
	o.detachPull(OpPullIncremental, func(ctx context.Context) (*ledgersync.PullStats, error) {
		return o.engine.PullIncremental(ctx, userID)
	})
}

// Wait blocks until every detached task has finished.
func (o *Orchestrator) Wait() {
	o.tasks.Wait()
}

// CreateBook creates a book, with cats when created from a template, and
// pushes the book and each category.
func (o *Orchestrator) CreateBook(ctx context.Context, b *schema.Book, cats []*schema.Category) error {
	var err error
	if len(cats) == 0 {
		err = o.db.CreateBook(ctx, b)
	} else {
		err = o.db.CreateBookFromTemplate(ctx, b, cats)
	}
	if err != nil {
		return err
	}

	userID, ok := o.UserID()
	if !ok {
		return nil
	}
	bookID := b.ID
	o.detach(OpPushBook, func(ctx context.Context) error {
		return o.engine.PushBook(ctx, userID, bookID)
	})
	// cats carry their local ids after the insert.
	for _, c := range cats {
		o.pushCategory(userID, c.ID)
	}
	return nil
}

// UpdateBook writes b and pushes it.
func (o *Orchestrator) UpdateBook(ctx context.Context, b *schema.Book) error {
	if err := o.db.UpdateBook(ctx, b); err != nil {
		return err
	}
	if userID, ok := o.UserID(); ok {
		bookID := b.ID
		o.detach(OpPushBook, func(ctx context.Context) error {
			return o.engine.PushBook(ctx, userID, bookID)
		})
	}
	return nil
}

// DeleteBook deletes a book with its categories and transactions, then
// deletes it remotely if it was ever pushed.
func (o *Orchestrator) DeleteBook(ctx context.Context, id int64) error {
	serverID, _, err := o.db.ServerID(ctx, schema.KindBook, id)
	if err != nil {
		return err
	}
	if err := o.db.DeleteBook(ctx, id); err != nil {
		return err
	}
	if _, ok := o.UserID(); ok && serverID != "" {
		o.detach(OpPushDeleteBook, func(ctx context.Context) error {
			return o.engine.PushDeleteBook(ctx, serverID)
		})
	}
	return nil
}

// AddCategory adds a category to a book and pushes it.
func (o *Orchestrator) AddCategory(ctx context.Context, bookID int64, label, icon, color string, typ schema.EntryType) (*schema.Category, error) {
	c, err := o.db.AddCategory(ctx, bookID, label, icon, color, typ)
	if err != nil {
		return nil, err
	}
	if userID, ok := o.UserID(); ok {
		o.pushCategory(userID, c.ID)
	}
	return c, nil
}

// UpdateCategory writes c and pushes it.
func (o *Orchestrator) UpdateCategory(ctx context.Context, c *schema.Category) error {
	if err := o.db.UpdateCategory(ctx, c); err != nil {
		return err
	}
	if userID, ok := o.UserID(); ok {
		o.pushCategory(userID, c.ID)
	}
	return nil
}

// DeleteCategory deletes a category locally and remotely. Transactions
// keep their slug.
func (o *Orchestrator) DeleteCategory(ctx context.Context, id int64) error {
	serverID, _, err := o.db.ServerID(ctx, schema.KindCategory, id)
	if err != nil {
		return err
	}
	if err := o.db.DeleteCategory(ctx, id); err != nil {
		return err
	}
	if _, ok := o.UserID(); ok && serverID != "" {
		o.detach(OpPushDeleteCategory, func(ctx context.Context) error {
			return o.engine.PushDeleteCategory(ctx, serverID)
		})
	}
	return nil
}

// CreateTransaction records tx and pushes it.
func (o *Orchestrator) CreateTransaction(ctx context.Context, tx *schema.Transaction) error {
	if err := o.db.CreateTransaction(ctx, tx); err != nil {
		return err
	}
	if userID, ok := o.UserID(); ok {
		o.pushTransaction(userID, tx.ID)
	}
	return nil
}

// UpdateTransaction writes tx and pushes it.
func (o *Orchestrator) UpdateTransaction(ctx context.Context, tx *schema.Transaction) error {
	if err := o.db.UpdateTransaction(ctx, tx); err != nil {
		return err
	}
	if userID, ok := o.UserID(); ok {
		o.pushTransaction(userID, tx.ID)
	}
	return nil
}

// DeleteTransaction deletes a transaction locally and remotely.
func (o *Orchestrator) DeleteTransaction(ctx context.Context, id int64) error {
	serverID, _, err := o.db.ServerID(ctx, schema.KindTransaction, id)
	if err != nil {
		return err
	}
	if err := o.db.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	if _, ok := o.UserID(); ok && serverID != "" {
		o.detach(OpPushDeleteTransaction, func(ctx context.Context) error {
			return o.engine.PushDeleteTransaction(ctx, serverID)
		})
	}
	return nil
}

// SetLastOpenBook records the last opened book and pushes the setting.
func (o *Orchestrator) SetLastOpenBook(ctx context.Context, bookID int64) error {
	if err := o.db.SetLastOpenBookID(ctx, bookID); err != nil {
		return err
	}
	o.pushSetting(schema.SettingLastOpenBookID, strconv.FormatInt(bookID, 10))
	return nil
}

// SetSetting writes a setting and pushes it. Device-only keys stay local.
func (o *Orchestrator) SetSetting(ctx context.Context, key, value string) error {
	if err := o.db.SetSetting(ctx, key, value); err != nil {
		return err
	}
	o.pushSetting(key, value)
	return nil
}

func (o *Orchestrator) pushSetting(key, value string) {
	userID, ok := o.UserID()
	if !ok {
		return
	}
	o.detach(OpPushSettings, func(ctx context.Context) error {
		return o.engine.PushSetting(ctx, userID, key, value)
	})
}

func (o *Orchestrator) pushCategory(userID string, id int64) {
	o.detach(OpPushCategory, func(ctx context.Context) error {
		return o.engine.PushCategory(ctx, userID, id)
	})
}

func (o *Orchestrator) pushTransaction(userID string, id int64) {
	o.detach(OpPushTransaction, func(ctx context.Context) error {
		return o.engine.PushTransaction(ctx, userID, id)
	})
}

func (o *Orchestrator) detach(op string, fn func(ctx context.Context) error) {
	o.detachPull(op, func(ctx context.Context) (*ledgersync.PullStats, error) {
		return nil, fn(ctx)
	})
}

// detachPull runs fn on its own goroutine with a background context. Errors
// and panics go to the reporter; the outcome always reaches the notifier.
func (o *Orchestrator) detachPull(op string, fn func(ctx context.Context) (*ledgersync.PullStats, error)) {
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()

		var (
			stats *ledgersync.PullStats
			err   error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s: %v", op, r)
			}
			if err != nil {
				o.config.Reporter.Report(err, op)
			}
			o.notify(Event{Op: op, Err: err, Stats: stats, At: time.Now()})
		}()

		stats, err = fn(context.Background())
	}()
}

func (o *Orchestrator) notify(e Event) {
	if o.config.Notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.config.Logger.Printf("Notifier panicked on %s: %v", e.Op, r)
		}
	}()
	o.config.Notifier.Notify(e)
}
