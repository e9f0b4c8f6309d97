package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/intheblack/ledger/internal/testutil"
)

func newTestClock() func() time.Time {
	return testutil.NewStepClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second).Now
}

// setupREST serves a fresh MemStore over HTTP and returns a client for it.
func setupREST(t *testing.T, apiKey string) (*RESTClient, *MemStore) {
	t.Helper()
	mem := NewMemStore(newTestClock())
	srv := httptest.NewServer(NewHandler(mem, apiKey, nil))
	t.Cleanup(srv.Close)
	return NewRESTClient(srv.URL, apiKey, WithTimeout(5*time.Second)), mem
}

// stores runs fn against both Store implementations.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("mem", func(t *testing.T) {
		fn(t, NewMemStore(newTestClock()))
	})
	t.Run("rest", func(t *testing.T) {
		client, _ := setupREST(t, "anon-key")
		fn(t, client)
	})
}

func TestStore_BookLifecycle(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		b := &Book{UserID: "u1", Name: "Music", Icon: "music", Color: "#2E5A88"}
		id, err := s.InsertBook(ctx, b)
		if err != nil {
			t.Fatalf("InsertBook() failed: %v", err)
		}
		if id == "" || b.ID != id || b.CreatedAt.IsZero() {
			t.Fatalf("InsertBook() row = %+v", b)
		}
		created := b.UpdatedAt

		b.Name = "Music gear"
		if err := s.UpdateBook(ctx, b); err != nil {
			t.Fatalf("UpdateBook() failed: %v", err)
		}
		if !b.UpdatedAt.After(created) {
			t.Errorf("updated_at not refreshed: %v <= %v", b.UpdatedAt, created)
		}

		rows, err := s.SelectBooks(ctx, Query{UserID: "u1"})
		if err != nil {
			t.Fatalf("SelectBooks() failed: %v", err)
		}
		if len(rows) != 1 || rows[0].Name != "Music gear" {
			t.Fatalf("SelectBooks() = %+v", rows)
		}

		if others, _ := s.SelectBooks(ctx, Query{UserID: "u2"}); len(others) != 0 {
			t.Errorf("tenant isolation broken: u2 sees %d books", len(others))
		}

		if err := s.DeleteBook(ctx, id); err != nil {
			t.Fatalf("DeleteBook() failed: %v", err)
		}
		if rows, _ := s.SelectBooks(ctx, Query{UserID: "u1"}); len(rows) != 0 {
			t.Errorf("book still present after delete")
		}

		missing := &Book{ID: id, Name: "gone", Icon: "book", Color: "#000"}
		if err := s.UpdateBook(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateBook(deleted) = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_Filters(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var ids []string
		for i := 0; i < 3; i++ {
			b := &Book{UserID: "u1", Name: fmt.Sprintf("B%d", i), Icon: "book", Color: "#000"}
			if _, err := s.InsertBook(ctx, b); err != nil {
				t.Fatalf("InsertBook() failed: %v", err)
			}
			ids = append(ids, b.ID)
		}
		all, _ := s.SelectBooks(ctx, Query{UserID: "u1"})
		watermark := all[1].UpdatedAt

		newer, err := s.SelectBooks(ctx, Query{UserID: "u1", UpdatedAfter: watermark})
		if err != nil {
			t.Fatalf("SelectBooks(gt) failed: %v", err)
		}
		if len(newer) != 1 || newer[0].ID != ids[2] {
			t.Errorf("updated_at=gt filter returned %d rows", len(newer))
		}

		subset, err := s.SelectBooks(ctx, Query{UserID: "u1", IDs: []string{ids[0], "missing"}})
		if err != nil {
			t.Fatalf("SelectBooks(in) failed: %v", err)
		}
		if len(subset) != 1 || subset[0].ID != ids[0] {
			t.Errorf("id=in filter returned %d rows", len(subset))
		}

		none, err := s.SelectBooks(ctx, Query{UserID: "u1", IDs: []string{}})
		if err != nil || len(none) != 0 {
			t.Errorf("empty id list = %d rows, %v", len(none), err)
		}
	})
}

func TestStore_ChildRows(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		b := &Book{UserID: "u1", Name: "Art", Icon: "brush", Color: "#F00"}
		if _, err := s.InsertBook(ctx, b); err != nil {
			t.Fatalf("InsertBook() failed: %v", err)
		}

		c := &Category{UserID: "u1", BookID: b.ID, CategoryID: "paint", Label: "Paint", Icon: "brush", Color: "#F00", Type: "expense"}
		if _, err := s.InsertCategory(ctx, c); err != nil {
			t.Fatalf("InsertCategory() failed: %v", err)
		}
		c.Label = "Paints"
		if err := s.UpdateCategory(ctx, c); err != nil {
			t.Fatalf("UpdateCategory() failed: %v", err)
		}

		tx := &Transaction{UserID: "u1", BookID: b.ID, Type: "expense", Amount: decimal.RequireFromString("12.5"), Category: "paint", Date: "2026-01-02"}
		if _, err := s.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("InsertTransaction() failed: %v", err)
		}
		tx.Amount = decimal.NewFromInt(15)
		if err := s.UpdateTransaction(ctx, tx); err != nil {
			t.Fatalf("UpdateTransaction() failed: %v", err)
		}

		txs, _ := s.SelectTransactions(ctx, Query{UserID: "u1"})
		if len(txs) != 1 || !txs[0].Amount.Equal(decimal.NewFromInt(15)) || txs[0].BookID != b.ID {
			t.Fatalf("SelectTransactions() = %+v", txs)
		}
		cats, _ := s.SelectCategories(ctx, Query{UserID: "u1"})
		if len(cats) != 1 || cats[0].Label != "Paints" {
			t.Fatalf("SelectCategories() = %+v", cats)
		}

		orphan := &Transaction{UserID: "u1", BookID: "nope", Type: "expense", Amount: decimal.NewFromInt(1), Category: "x", Date: "2026-01-02"}
		if _, err := s.InsertTransaction(ctx, orphan); err == nil {
			t.Error("InsertTransaction() accepted a missing parent book")
		}

		if err := s.DeleteBook(ctx, b.ID); err != nil {
			t.Fatalf("DeleteBook() failed: %v", err)
		}
		if txs, _ := s.SelectTransactions(ctx, Query{UserID: "u1"}); len(txs) != 0 {
			t.Errorf("book delete left %d transactions", len(txs))
		}
	})
}

func TestStore_Settings(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		for _, v := range []string{"first", "second"} {
			if err := s.UpsertSetting(ctx, &Setting{UserID: "u1", Key: "last_open_book_id", Value: v}); err != nil {
				t.Fatalf("UpsertSetting(%s) failed: %v", v, err)
			}
		}
		if err := s.UpsertSetting(ctx, &Setting{UserID: "u2", Key: "last_open_book_id", Value: "other"}); err != nil {
			t.Fatalf("UpsertSetting(u2) failed: %v", err)
		}

		rows, err := s.SelectSettings(ctx, "u1")
		if err != nil {
			t.Fatalf("SelectSettings() failed: %v", err)
		}
		if len(rows) != 1 || rows[0].Value != "second" {
			t.Errorf("SelectSettings() = %+v", rows)
		}
	})
}

func TestMemStore_FailureAndOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore(nil)

	boom := errors.New("network down")
	m.SetFailure(boom)
	if _, err := m.InsertBook(ctx, &Book{UserID: "u1", Name: "x"}); !errors.Is(err, boom) {
		t.Fatalf("InsertBook() = %v, want injected failure", err)
	}
	if n := m.Count("", ""); n != 0 {
		t.Errorf("failed call recorded: %d ops", n)
	}

	m.SetFailure(nil)
	b := &Book{UserID: "u1", Name: "x"}
	if _, err := m.InsertBook(ctx, b); err != nil {
		t.Fatalf("InsertBook() failed: %v", err)
	}
	ops := m.Ops()
	if len(ops) != 1 || ops[0] != (Op{Kind: "insert", Table: TableBooks, ID: b.ID}) {
		t.Errorf("Ops() = %+v", ops)
	}

	m.ResetOps()
	if len(m.Ops()) != 0 {
		t.Error("ResetOps() did not clear the log")
	}
}

func TestMemStore_LatencyHonoursContext(t *testing.T) {
	m := NewMemStore(nil)
	m.SetLatency(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.SelectBooks(ctx, Query{UserID: "u1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("SelectBooks() = %v, want deadline exceeded", err)
	}
}

func TestRESTClient_APIKey(t *testing.T) {
	mem := NewMemStore(nil)
	srv := httptest.NewServer(NewHandler(mem, "secret", nil))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "wrong")
	_, err := client.SelectBooks(context.Background(), Query{UserID: "u1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("SelectBooks() with wrong key = %v, want 401", err)
	}
	if apiErr.Message != "invalid api key" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestHandler_APIKeyCheck(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
		want       int
	}{
		{"matching key", "secret", "secret", http.StatusOK},
		{"wrong key", "secret", "public", http.StatusUnauthorized},
		{"prefix of key", "secret", "secre", http.StatusUnauthorized},
		{"missing key", "secret", "", http.StatusUnauthorized},
		{"no key configured", "", "anything", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(NewMemStore(nil), tt.configured, nil)
			req := httptest.NewRequest(http.MethodGet, "/rest/v1/books?user_id=eq.u1", nil)
			if tt.sent != "" {
				req.Header.Set("apikey", tt.sent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRESTClient_Headers(t *testing.T) {
	var gotKey, gotAuth, gotPrefer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		gotPrefer = r.Header.Get("Prefer")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `[{"user_id":"u1","key":"k","value":"v"}]`)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "anon", WithAccessToken("user-jwt"))
	if err := client.UpsertSetting(context.Background(), &Setting{UserID: "u1", Key: "k", Value: "v"}); err != nil {
		t.Fatalf("UpsertSetting() failed: %v", err)
	}
	if gotKey != "anon" || gotAuth != "Bearer user-jwt" {
		t.Errorf("headers apikey=%q authorization=%q", gotKey, gotAuth)
	}
	if gotPrefer != "resolution=merge-duplicates,return=representation" {
		t.Errorf("Prefer = %q", gotPrefer)
	}
}

func TestRESTClient_ChunksIDs(t *testing.T) {
	client, mem := setupREST(t, "")
	ctx := context.Background()

	var ids []string
	for i := 0; i < maxInIDs+5; i++ {
		b := &Book{UserID: "u1", Name: fmt.Sprintf("B%d", i), Icon: "book", Color: "#000"}
		if _, err := mem.InsertBook(ctx, b); err != nil {
			t.Fatalf("InsertBook() failed: %v", err)
		}
		ids = append(ids, b.ID)
	}
	mem.ResetOps()

	rows, err := client.SelectBooks(ctx, Query{UserID: "u1", IDs: ids})
	if err != nil {
		t.Fatalf("SelectBooks() failed: %v", err)
	}
	if len(rows) != len(ids) {
		t.Errorf("got %d rows, want %d", len(rows), len(ids))
	}
	if n := mem.Count("select", TableBooks); n != 2 {
		t.Errorf("issued %d selects, want 2", n)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	q := Query{
		UserID:       "u1",
		UpdatedAfter: time.Date(2026, 2, 3, 4, 5, 6, 789000, time.UTC),
		IDs:          []string{"a", "b"},
	}
	got, err := decodeQuery(encodeQuery(q))
	if err != nil {
		t.Fatalf("decodeQuery() failed: %v", err)
	}
	if got.UserID != q.UserID || !got.UpdatedAfter.Equal(q.UpdatedAfter) || len(got.IDs) != 2 {
		t.Errorf("decodeQuery() = %+v", got)
	}

	if _, err := decodeQuery(nil); err == nil {
		t.Error("decodeQuery() accepted a query without user_id")
	}
}
