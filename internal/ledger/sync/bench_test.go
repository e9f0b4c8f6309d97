package sync

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/remote"
	"github.com/intheblack/ledger/internal/ledger/schema"
)

// benchDevice opens a database seeded with books x txPerBook transactions.
func benchDevice(b *testing.B, store remote.Store, books, txPerBook int) (*db.DB, *Syncer, []int64) {
	b.Helper()
	ctx := context.Background()
	database, err := db.Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatalf("Open() failed: %v", err)
	}
	b.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		b.Fatalf("InitSchema() failed: %v", err)
	}

	var txIDs []int64
	for i := 0; i < books; i++ {
		book := &schema.Book{Name: fmt.Sprintf("Book %d", i)}
		if err := database.CreateBook(ctx, book); err != nil {
			b.Fatalf("CreateBook() failed: %v", err)
		}
		for j := 0; j < txPerBook; j++ {
			tx := &schema.Transaction{
				BookID:   book.ID,
				Type:     schema.Expense,
				Amount:   decimal.New(int64(100+j), -2),
				Category: "gear",
				Date:     "2025-03-01",
			}
			if err := database.CreateTransaction(ctx, tx); err != nil {
				b.Fatalf("CreateTransaction() failed: %v", err)
			}
			txIDs = append(txIDs, tx.ID)
		}
	}
	return database, New(database, store, WithLogger(log.New(io.Discard, "", 0))), txIDs
}

func BenchmarkPushTransaction(b *testing.B) {
	store := remote.NewMemStore(nil)
	_, engine, txIDs := benchDevice(b, store, 1, 200)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// After the first pass every push is an update.
		if err := engine.PushTransaction(ctx, testUser, txIDs[i%len(txIDs)]); err != nil {
			b.Fatalf("PushTransaction() failed: %v", err)
		}
	}
}

func BenchmarkPullAll(b *testing.B) {
	for _, size := range []int{100, 1000} {
		b.Run(fmt.Sprintf("transactions=%d", size), func(b *testing.B) {
			store := remote.NewMemStore(nil)
			_, src, _ := benchDevice(b, store, 5, size/5)
			if err := src.PushAllLocal(context.Background(), testUser); err != nil {
				b.Fatalf("PushAllLocal() failed: %v", err)
			}
			_, dst, _ := benchDevice(b, store, 0, 0)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := dst.PullAll(context.Background(), testUser); err != nil {
					b.Fatalf("PullAll() failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkPullIncremental_NoChanges(b *testing.B) {
	store := remote.NewMemStore(nil)
	_, src, _ := benchDevice(b, store, 5, 100)
	if err := src.PushAllLocal(context.Background(), testUser); err != nil {
		b.Fatalf("PushAllLocal() failed: %v", err)
	}
	_, dst, _ := benchDevice(b, store, 0, 0)
	if _, err := dst.PullAll(context.Background(), testUser); err != nil {
		b.Fatalf("PullAll() failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dst.PullIncremental(context.Background(), testUser); err != nil {
			b.Fatalf("PullIncremental() failed: %v", err)
		}
	}
}
