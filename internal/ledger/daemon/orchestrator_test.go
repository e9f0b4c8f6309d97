package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/remote"
	"github.com/intheblack/ledger/internal/ledger/report"
	"github.com/intheblack/ledger/internal/ledger/schema"
	ledgersync "github.com/intheblack/ledger/internal/ledger/sync"
)

// fakeEngine records calls. When gate is set every call waits for it to be
// closed first.
type fakeEngine struct {
	mu      sync.Mutex
	calls   []string
	err     error
	panicOn string
	gate    chan struct{}
}

func (f *fakeEngine) record(call string) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	err := f.err
	panicOn := f.panicOn
	f.mu.Unlock()
	if panicOn != "" && strings.HasPrefix(call, panicOn) {
		panic("engine exploded")
	}
	return err
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.calls)
	slices.Sort(out)
	return out
}

func (f *fakeEngine) PushBook(_ context.Context, userID string, id int64) error {
	return f.record(fmt.Sprintf("PushBook:%s:%d", userID, id))
}

func (f *fakeEngine) PushCategory(_ context.Context, userID string, id int64) error {
	return f.record(fmt.Sprintf("PushCategory:%s:%d", userID, id))
}

func (f *fakeEngine) PushTransaction(_ context.Context, userID string, id int64) error {
	return f.record(fmt.Sprintf("PushTransaction:%s:%d", userID, id))
}

func (f *fakeEngine) PushDeleteBook(_ context.Context, id string) error {
	return f.record("PushDeleteBook:" + id)
}

func (f *fakeEngine) PushDeleteCategory(_ context.Context, id string) error {
	return f.record("PushDeleteCategory:" + id)
}

func (f *fakeEngine) PushDeleteTransaction(_ context.Context, id string) error {
	return f.record("PushDeleteTransaction:" + id)
}

func (f *fakeEngine) PushSetting(_ context.Context, userID, key, value string) error {
	return f.record(fmt.Sprintf("PushSetting:%s:%s=%s", userID, key, value))
}

func (f *fakeEngine) PushAllLocal(_ context.Context, userID string) error {
	return f.record("PushAllLocal:" + userID)
}

func (f *fakeEngine) PullAll(_ context.Context, userID string) (*ledgersync.PullStats, error) {
	return &ledgersync.PullStats{Mode: ledgersync.ModeFull}, f.record("PullAll:" + userID)
}

func (f *fakeEngine) PullIncremental(_ context.Context, userID string) (*ledgersync.PullStats, error) {
	return &ledgersync.PullStats{Mode: ledgersync.ModeIncremental}, f.record("PullIncremental:" + userID)
}

func (f *fakeEngine) Pull(_ context.Context, userID string) (*ledgersync.PullStats, error) {
	return &ledgersync.PullStats{Mode: ledgersync.ModeFull}, f.record("Pull:" + userID)
}

// recorder collects reports.
type recorder struct {
	mu      sync.Mutex
	reports []string
}

func (r *recorder) Report(err error, op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, op+": "+err.Error())
}

func (r *recorder) Reports() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.reports)
}

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return database
}

func testConfig(r report.Reporter) *Config {
	return &Config{
		Reporter: r,
		Logger:   log.New(io.Discard, "", 0),
	}
}

func setupOrchestrator(t *testing.T) (*Orchestrator, *db.DB, *fakeEngine, *recorder) {
	t.Helper()
	database := setupTestDB(t)
	engine := &fakeEngine{}
	rec := &recorder{}
	orch, err := NewOrchestrator(database, engine, testConfig(rec))
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}
	return orch, database, engine, rec
}

func newTransaction(bookID int64) *schema.Transaction {
	return &schema.Transaction{
		BookID:   bookID,
		Type:     schema.Expense,
		Amount:   decimal.RequireFromString("20"),
		Category: "gear",
		Date:     "2025-03-01",
	}
}

func TestNewOrchestrator(t *testing.T) {
	database := setupTestDB(t)

	tests := []struct {
		name    string
		db      *db.DB
		engine  ledgersync.Engine
		wantErr bool
	}{
		{name: "valid", db: database, engine: &fakeEngine{}},
		{name: "nil db", engine: &fakeEngine{}, wantErr: true},
		{name: "nil engine", db: database, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrchestrator(tt.db, tt.engine, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewOrchestrator() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignIn_PullsOncePerSession(t *testing.T) {
	orch, _, engine, _ := setupOrchestrator(t)

	orch.SignIn("user-1")
	orch.SignIn("user-1")
	orch.Wait()

	if got := engine.Calls(); !slices.Equal(got, []string{"Pull:user-1"}) {
		t.Errorf("Expected one pull, got %v", got)
	}
	if !orch.PulledOnce() {
		t.Error("Expected PulledOnce after sign-in")
	}

	orch.SignOut()
	if orch.PulledOnce() {
		t.Error("SignOut must reset the pull flag")
	}
	if _, ok := orch.UserID(); ok {
		t.Error("Expected no user after SignOut")
	}

	orch.SignIn("user-1")
	orch.Wait()
	if got := len(engine.Calls()); got != 2 {
		t.Errorf("Expected a second pull after re-sign-in, got %d calls", got)
	}
}

func TestSignIn_SwitchingUserStartsNewSession(t *testing.T) {
	orch, _, engine, _ := setupOrchestrator(t)

	orch.SignIn("user-1")
	orch.SignIn("user-2")
	orch.Wait()

	want := []string{"Pull:user-1", "Pull:user-2"}
	if got := engine.Calls(); !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestSignIn_EmptyUserIgnored(t *testing.T) {
	orch, _, engine, _ := setupOrchestrator(t)
	orch.SignIn("")
	orch.Wait()
	if got := engine.Calls(); len(got) != 0 {
		t.Errorf("Expected no calls, got %v", got)
	}
}

func TestRestore_SkipsSignInPull(t *testing.T) {
	orch, _, engine, _ := setupOrchestrator(t)
	ctx := context.Background()

	orch.Restore("user-1")
	if !orch.PulledOnce() {
		t.Error("Expected Restore to mark the session as pulled")
	}
	orch.SignIn("user-1")

	b := &schema.Book{Name: "Music"}
	if err := orch.CreateBook(ctx, b, nil); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}
	orch.Wait()

	want := []string{fmt.Sprintf("PushBook:user-1:%d", b.ID)}
	if got := engine.Calls(); !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestCreateBook_TemplatePushesEachCategory(t *testing.T) {
	orch, database, engine, _ := setupOrchestrator(t)
	ctx := context.Background()
	orch.Restore("user-1")

	b := &schema.Book{Name: "Music"}
	cats := []*schema.Category{
		{Slug: "gear", Label: "Gear", Icon: "guitar", Color: "#ef4444", Type: schema.Expense},
		{Slug: "gigs", Label: "Gigs", Icon: "mic", Color: "#22c55e", Type: schema.Income},
	}
	if err := orch.CreateBook(ctx, b, cats); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}
	orch.Wait()

	want := []string{fmt.Sprintf("PushBook:user-1:%d", b.ID)}
	for _, c := range cats {
		if c.ID == 0 {
			t.Fatalf("Expected category %s to have a local id", c.Slug)
		}
		want = append(want, fmt.Sprintf("PushCategory:user-1:%d", c.ID))
	}
	slices.Sort(want)
	if got := engine.Calls(); !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	stored, err := database.ListCategories(ctx, b.ID, nil)
	if err != nil {
		t.Fatalf("ListCategories() failed: %v", err)
	}
	if len(stored) != len(cats) {
		t.Errorf("Expected %d categories, got %d", len(cats), len(stored))
	}
}

func TestForeground(t *testing.T) {
	orch, _, engine, _ := setupOrchestrator(t)

	orch.Foreground()
	orch.Wait()
	if got := engine.Calls(); len(got) != 0 {
		t.Fatalf("Foreground without a user must not sync, got %v", got)
	}

	orch.SignIn("user-1")
	orch.Foreground()
	orch.Foreground()
	orch.Wait()

	want := []string{"Pull:user-1", "PullIncremental:user-1", "PullIncremental:user-1"}
	if got := engine.Calls(); !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestMutations_SignedOutDoNotPush(t *testing.T) {
	orch, database, engine, _ := setupOrchestrator(t)
	ctx := context.Background()

	b := &schema.Book{Name: "Music"}
	if err := orch.CreateBook(ctx, b, nil); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}
	tx := newTransaction(b.ID)
	if err := orch.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction() failed: %v", err)
	}
	if err := orch.SetLastOpenBook(ctx, b.ID); err != nil {
		t.Fatalf("SetLastOpenBook() failed: %v", err)
	}
	orch.Wait()

	if got := engine.Calls(); len(got) != 0 {
		t.Errorf("Expected no sync while signed out, got %v", got)
	}
	if _, err := database.GetTransaction(ctx, tx.ID); err != nil {
		t.Errorf("Local write missing: %v", err)
	}
}

func TestMutations_Push(t *testing.T) {
	orch, database, engine, _ := setupOrchestrator(t)
	ctx := context.Background()
	orch.SignIn("u")
	orch.Wait()

	b := &schema.Book{Name: "Music"}
	if err := orch.CreateBook(ctx, b, nil); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}
	b.Name = "Music Gear"
	if err := orch.UpdateBook(ctx, b); err != nil {
		t.Fatalf("UpdateBook() failed: %v", err)
	}
	c, err := orch.AddCategory(ctx, b.ID, "Gear", "guitar", "#ef4444", schema.Expense)
	if err != nil {
		t.Fatalf("AddCategory() failed: %v", err)
	}
	c.Label = "Gear & Pedals"
	if err := orch.UpdateCategory(ctx, c); err != nil {
		t.Fatalf("UpdateCategory() failed: %v", err)
	}
	tx := newTransaction(b.ID)
	if err := orch.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction() failed: %v", err)
	}
	tx.Description = "strings"
	if err := orch.UpdateTransaction(ctx, tx); err != nil {
		t.Fatalf("UpdateTransaction() failed: %v", err)
	}
	if err := orch.SetLastOpenBook(ctx, b.ID); err != nil {
		t.Fatalf("SetLastOpenBook() failed: %v", err)
	}
	if err := orch.SetSetting(ctx, "currency", "EUR"); err != nil {
		t.Fatalf("SetSetting() failed: %v", err)
	}
	orch.Wait()

	want := []string{
		fmt.Sprintf("PushBook:u:%d", b.ID),
		fmt.Sprintf("PushBook:u:%d", b.ID),
		fmt.Sprintf("PushCategory:u:%d", c.ID),
		fmt.Sprintf("PushCategory:u:%d", c.ID),
		"PushSetting:u:currency=EUR",
		fmt.Sprintf("PushSetting:u:last_open_book_id=%d", b.ID),
		fmt.Sprintf("PushTransaction:u:%d", tx.ID),
		fmt.Sprintf("PushTransaction:u:%d", tx.ID),
		"Pull:u",
	}
	slices.Sort(want)
	if got := engine.Calls(); !slices.Equal(got, want) {
		t.Errorf("Calls mismatch\n got: %v\nwant: %v", got, want)
	}

	value, ok, err := database.GetSetting(ctx, "currency")
	if err != nil || !ok || value != "EUR" {
		t.Errorf("Setting not stored locally: %q %v %v", value, ok, err)
	}
}

func TestCreateBook_FromTemplatePushesCategories(t *testing.T) {
	orch, database, engine, _ := setupOrchestrator(t)
	ctx := context.Background()
	orch.SignIn("u")
	orch.Wait()

	tmpl, ok := schema.TemplateByKey("music")
	if !ok {
		t.Fatal("music template missing")
	}
	b := tmpl.Book("Band")
	if err := orch.CreateBook(ctx, b, tmpl.Categories()); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}
	orch.Wait()

	cats, err := database.ListCategories(ctx, b.ID, nil)
	if err != nil {
		t.Fatalf("ListCategories() failed: %v", err)
	}
	pushes := 0
	for _, call := range engine.Calls() {
		if strings.HasPrefix(call, "PushCategory:") {
			pushes++
		}
	}
	if pushes != len(cats) || pushes == 0 {
		t.Errorf("Expected %d category pushes, got %d", len(cats), pushes)
	}
}

func TestDelete_CapturesServerIDBeforeDelete(t *testing.T) {
	orch, database, engine, _ := setupOrchestrator(t)
	ctx := context.Background()
	orch.SignIn("u")
	orch.Wait()

	synced := &schema.Book{Name: "Synced"}
	if err := database.CreateBook(ctx, synced); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}
	if err := database.SetServerID(ctx, schema.KindBook, synced.ID, "r1"); err != nil {
		t.Fatalf("SetServerID() failed: %v", err)
	}
	tx := newTransaction(synced.ID)
	if err := database.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction() failed: %v", err)
	}
	if err := database.SetServerID(ctx, schema.KindTransaction, tx.ID, "t1"); err != nil {
		t.Fatalf("SetServerID() failed: %v", err)
	}
	c, err := database.AddCategory(ctx, synced.ID, "Gear", "guitar", "#ef4444", schema.Expense)
	if err != nil {
		t.Fatalf("AddCategory() failed: %v", err)
	}
	if err := database.SetServerID(ctx, schema.KindCategory, c.ID, "c1"); err != nil {
		t.Fatalf("SetServerID() failed: %v", err)
	}
	unsynced := &schema.Book{Name: "Local"}
	if err := database.CreateBook(ctx, unsynced); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}

	if err := orch.DeleteTransaction(ctx, tx.ID); err != nil {
		t.Fatalf("DeleteTransaction() failed: %v", err)
	}
	if err := orch.DeleteCategory(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCategory() failed: %v", err)
	}
	if err := orch.DeleteBook(ctx, synced.ID); err != nil {
		t.Fatalf("DeleteBook() failed: %v", err)
	}
	if err := orch.DeleteBook(ctx, unsynced.ID); err != nil {
		t.Fatalf("DeleteBook() failed: %v", err)
	}
	orch.Wait()

	want := []string{"PushDeleteBook:r1", "PushDeleteCategory:c1", "PushDeleteTransaction:t1", "Pull:u"}
	slices.Sort(want)
	if got := engine.Calls(); !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestMutation_ReturnsBeforePushCompletes(t *testing.T) {
	database := setupTestDB(t)
	engine := &fakeEngine{gate: make(chan struct{})}
	orch, err := NewOrchestrator(database, engine, testConfig(report.Discard))
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}
	ctx := context.Background()

	b := &schema.Book{Name: "Music"}
	if err := database.CreateBook(ctx, b); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}
	orch.SignIn("u")

	done := make(chan error, 1)
	go func() { done <- orch.CreateTransaction(ctx, newTransaction(b.ID)) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("CreateTransaction() failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CreateTransaction() blocked on the push")
	}

	close(engine.gate)
	orch.Wait()
	if got := len(engine.Calls()); got != 2 {
		t.Errorf("Expected pull and push to finish, got %v", engine.Calls())
	}
}

func TestMutation_PushFailureIsReported(t *testing.T) {
	orch, database, engine, rec := setupOrchestrator(t)
	ctx := context.Background()
	engine.err = errors.New("remote down")
	orch.SignIn("u")

	b := &schema.Book{Name: "Music"}
	if err := database.CreateBook(ctx, b); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}
	if err := orch.CreateTransaction(ctx, newTransaction(b.ID)); err != nil {
		t.Fatalf("Push failure leaked into the caller: %v", err)
	}
	orch.Wait()

	reports := rec.Reports()
	slices.Sort(reports)
	want := []string{"pull: remote down", "pushTransaction: remote down"}
	if !slices.Equal(reports, want) {
		t.Errorf("Expected %v, got %v", want, reports)
	}
}

func TestMutation_PanicIsReported(t *testing.T) {
	orch, database, engine, rec := setupOrchestrator(t)
	ctx := context.Background()
	engine.panicOn = "PushTransaction"
	orch.SignIn("u")

	b := &schema.Book{Name: "Music"}
	if err := database.CreateBook(ctx, b); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}
	if err := orch.CreateTransaction(ctx, newTransaction(b.ID)); err != nil {
		t.Fatalf("CreateTransaction() failed: %v", err)
	}
	orch.Wait()

	reports := rec.Reports()
	if len(reports) != 1 || !strings.HasPrefix(reports[0], "pushTransaction: panic") {
		t.Errorf("Expected panic report, got %v", reports)
	}
}

func TestMutation_LocalErrorBubbles(t *testing.T) {
	orch, _, engine, _ := setupOrchestrator(t)
	orch.SignIn("u")
	orch.Wait()

	tx := newTransaction(12345)
	if err := orch.CreateTransaction(context.Background(), tx); err == nil {
		t.Fatal("Expected error for missing book")
	}
	orch.Wait()
	if got := len(engine.Calls()); got != 1 {
		t.Errorf("Failed local write must not push, got %v", engine.Calls())
	}
}

func TestNotifier(t *testing.T) {
	database := setupTestDB(t)
	engine := &fakeEngine{}

	var mu sync.Mutex
	var events []Event
	cfg := testConfig(report.Discard)
	cfg.Notifier = NotifierFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	orch, err := NewOrchestrator(database, engine, cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}

	orch.SignIn("u")
	orch.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Op != OpPull || events[0].Err != nil || events[0].Stats == nil {
		t.Errorf("Unexpected event %+v", events[0])
	}
}

func TestNotifier_PanicContained(t *testing.T) {
	database := setupTestDB(t)
	cfg := testConfig(report.Discard)
	cfg.Notifier = NotifierFunc(func(Event) { panic("listener bug") })
	orch, err := NewOrchestrator(database, &fakeEngine{}, cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}
	orch.SignIn("u")
	orch.Wait()
}

func TestOrchestrator_WithSyncEngine(t *testing.T) {
	database := setupTestDB(t)
	store := remote.NewMemStore(nil)
	engine := ledgersync.New(database, store, ledgersync.WithLogger(log.New(io.Discard, "", 0)))
	rec := &recorder{}
	orch, err := NewOrchestrator(database, engine, testConfig(rec))
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}
	ctx := context.Background()

	local := &schema.Book{Name: "Garden"}
	if err := orch.CreateBook(ctx, local, nil); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}

	// First sign-in against an empty remote pushes local data up.
	orch.SignIn("user-1")
	orch.Wait()

	music := &schema.Book{Name: "Music"}
	if err := orch.CreateBook(ctx, music, nil); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}
	if err := orch.CreateTransaction(ctx, newTransaction(music.ID)); err != nil {
		t.Fatalf("CreateTransaction() failed: %v", err)
	}
	orch.Wait()

	if reports := rec.Reports(); len(reports) != 0 {
		t.Fatalf("Unexpected sync failures: %v", reports)
	}
	books, err := store.SelectBooks(ctx, remote.Query{UserID: "user-1"})
	if err != nil {
		t.Fatalf("SelectBooks() failed: %v", err)
	}
	if len(books) != 2 {
		t.Errorf("Expected 2 remote books, got %d", len(books))
	}
	txs, err := store.SelectTransactions(ctx, remote.Query{UserID: "user-1"})
	if err != nil {
		t.Fatalf("SelectTransactions() failed: %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("Expected 1 remote transaction, got %d", len(txs))
	}
}
