package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/schema"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store
}

// seedLedger creates a synced book with one category, two transactions and
// the usual settings.
func seedLedger(t *testing.T, store *db.DB) *schema.Book {
	t.Helper()
	ctx := context.Background()

	book := &schema.Book{Name: "Photography"}
	cats := []*schema.Category{{Slug: "lenses", Label: "Lenses", Icon: "camera", Color: "#000", Type: schema.Expense}}
	if err := store.CreateBookFromTemplate(ctx, book, cats); err != nil {
		t.Fatalf("CreateBookFromTemplate() failed: %v", err)
	}
	if err := store.SetServerID(ctx, schema.KindBook, book.ID, "remote-book"); err != nil {
		t.Fatalf("SetServerID() failed: %v", err)
	}
	for _, amount := range []string{"120.50", "35"} {
		tx := &schema.Transaction{
			BookID:   book.ID,
			Type:     schema.Expense,
			Amount:   decimal.RequireFromString(amount),
			Category: "lenses",
			Date:     "2025-04-02",
		}
		if err := store.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("CreateTransaction() failed: %v", err)
		}
	}
	if err := store.SetLastOpenBookID(ctx, book.ID); err != nil {
		t.Fatalf("SetLastOpenBookID() failed: %v", err)
	}
	if _, err := store.AdvanceLastSyncAt(ctx, time.Now()); err != nil {
		t.Fatalf("AdvanceLastSyncAt() failed: %v", err)
	}
	return book
}

func TestExport(t *testing.T) {
	store := setupTestDB(t)
	seedLedger(t, store)

	var buf bytes.Buffer
	result, err := Export(context.Background(), store, &buf)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if result.Books != 1 || result.Categories != 1 || result.Transactions != 2 || result.Settings != 1 {
		t.Errorf("Unexpected result %+v", result)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("Expected 5 lines, got %d", len(lines))
	}
	var first Record
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Failed to parse first line: %v", err)
	}
	if first.Kind != KindBook {
		t.Errorf("Expected book first, got %s", first.Kind)
	}
	if strings.Contains(buf.String(), "remote-book") {
		t.Error("Export must not contain server ids")
	}
	if strings.Contains(buf.String(), schema.SettingLastSyncAt) {
		t.Error("Export must not contain the sync watermark")
	}
}

func TestExportImport_RemapsIDs(t *testing.T) {
	ctx := context.Background()
	src := setupTestDB(t)
	seedLedger(t, src)

	var buf bytes.Buffer
	if _, err := Export(ctx, src, &buf); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	dst := setupTestDB(t)
	// Occupy the first id so imported ids differ from exported ones.
	if err := dst.CreateBook(ctx, &schema.Book{Name: "Existing"}); err != nil {
		t.Fatalf("CreateBook() failed: %v", err)
	}

	result, err := Import(ctx, dst, &buf, ImportOptions{})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("Unexpected errors %v", result.Errors)
	}

	books, err := dst.ListBooks(ctx)
	if err != nil {
		t.Fatalf("ListBooks() failed: %v", err)
	}
	var imported *schema.Book
	for _, b := range books {
		if b.Name == "Photography" {
			imported = b
		}
	}
	if imported == nil {
		t.Fatal("Imported book not found")
	}
	if imported.Synced() {
		t.Error("Imported book must not carry a server id")
	}

	txs, err := dst.ListTransactions(ctx, imported.ID, nil)
	if err != nil {
		t.Fatalf("ListTransactions() failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(txs))
	}
	cats, err := dst.ListCategories(ctx, imported.ID, nil)
	if err != nil {
		t.Fatalf("ListCategories() failed: %v", err)
	}
	if len(cats) != 1 || cats[0].Slug != "lenses" {
		t.Errorf("Unexpected categories %v", cats)
	}

	id, ok, err := dst.LastOpenBookID(ctx)
	if err != nil || !ok || id != imported.ID {
		t.Errorf("Expected last open book %d, got %d (ok=%v, err=%v)", imported.ID, id, ok, err)
	}
	if _, ok, _ := dst.LastSyncAt(ctx); ok {
		t.Error("Import must not set the watermark")
	}
}

func TestImport_Errors(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantErr    bool
		wantErrors int
	}{
		{
			name:       "orphan transaction",
			input:      `{"kind":"transaction","data":{"book_id":9,"type":"expense","amount":"1","category":"x","date":"2025-01-01"}}`,
			wantErrors: 1,
		},
		{
			name:       "unknown kind",
			input:      `{"kind":"budget","data":{}}`,
			wantErrors: 1,
		},
		{
			name:       "invalid book",
			input:      `{"kind":"book","data":{"id":1,"name":""}}`,
			wantErrors: 1,
		},
		{
			name:    "malformed line",
			input:   `{"kind":"book",`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestDB(t)
			result, err := Import(context.Background(), store, strings.NewReader(tt.input), ImportOptions{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Import() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(result.Errors) != tt.wantErrors {
				t.Errorf("Expected %d errors, got %v", tt.wantErrors, result.Errors)
			}
		})
	}
}

func TestImport_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	src := setupTestDB(t)
	seedLedger(t, src)

	var buf bytes.Buffer
	if _, err := Export(ctx, src, &buf); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	dst := setupTestDB(t)
	result, err := Import(ctx, dst, &buf, ImportOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Books != 1 || result.Transactions != 2 || len(result.Errors) != 0 {
		t.Errorf("Unexpected result %+v", result)
	}
	books, _ := dst.ListBooks(ctx)
	if len(books) != 0 {
		t.Errorf("Dry run wrote %d books", len(books))
	}
	if _, ok, _ := dst.GetSetting(ctx, schema.SettingLastOpenBookID); ok {
		t.Error("Dry run wrote a setting")
	}
}

func TestExportFile_ImportFile(t *testing.T) {
	ctx := context.Background()
	src := setupTestDB(t)
	seedLedger(t, src)

	path := filepath.Join(t.TempDir(), "out", "ledger.jsonl")
	if _, err := ExportFile(ctx, src, path); err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}

	dst := setupTestDB(t)
	result, err := ImportFile(ctx, dst, path, ImportOptions{})
	if err != nil {
		t.Fatalf("ImportFile() failed: %v", err)
	}
	if result.Books != 1 || result.Categories != 1 || result.Transactions != 2 {
		t.Errorf("Unexpected result %+v", result)
	}
}

func TestBackupName(t *testing.T) {
	at := time.Date(2025, 4, 2, 13, 4, 5, 0, time.UTC)
	if got := BackupName("ledger.jsonl", at); got != "ledger.jsonl.backup.20250402-130405" {
		t.Errorf("BackupName() = %q", got)
	}
}
