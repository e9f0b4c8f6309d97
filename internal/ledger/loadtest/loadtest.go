// Package loadtest drives the sync engine from many simulated devices at
// once.
//
// Every device of one user records transactions into its own SQLite file and
// pushes each one concurrently, so the first push of a book races with its
// siblings. A fresh device then runs a full pull and the result is checked
// against what the devices wrote: one remote book per local book, every
// transaction present, and identical income and expense totals.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/remote"
	"github.com/intheblack/ledger/internal/ledger/schema"
	ledgersync "github.com/intheblack/ledger/internal/ledger/sync"
)

// Options configures a run.
type Options struct {
	Store  remote.Store
	UserID string

	// Dir holds one database file per device.
	Dir string

	Devices             int
	BooksPerDevice      int
	TransactionsPerBook int

	// Seed makes generated amounts reproducible.
	Seed int64

	Logger *log.Logger
}

// Counts is what a ledger holds.
type Counts struct {
	Books        int             `json:"books"`
	Transactions int             `json:"transactions"`
	Income       decimal.Decimal `json:"income"`
	Expenses     decimal.Decimal `json:"expenses"`
}

func (c *Counts) add(o Counts) {
	c.Books += o.Books
	c.Transactions += o.Transactions
	c.Income = c.Income.Add(o.Income)
	c.Expenses = c.Expenses.Add(o.Expenses)
}

// Equal reports whether both ledgers hold the same rows and totals.
func (c Counts) Equal(o Counts) bool {
	return c.Books == o.Books && c.Transactions == o.Transactions &&
		c.Income.Equal(o.Income) && c.Expenses.Equal(o.Expenses)
}

// Result captures one run.
type Result struct {
	Push     *LatencyStats `json:"push"`
	Pull     time.Duration `json:"pull"`
	Written  Counts        `json:"written"`
	Pulled   Counts        `json:"pulled"`
	Duration time.Duration `json:"duration"`
}

// LatencyStats captures per-push latencies.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	P50    time.Duration `json:"p50"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Pushes int           `json:"pushes"`
}

func (o *Options) validate() error {
	if o.Store == nil {
		return fmt.Errorf("store cannot be nil")
	}
	if o.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if o.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}
	if o.Devices <= 0 || o.BooksPerDevice <= 0 || o.TransactionsPerBook <= 0 {
		return fmt.Errorf("devices, books and transactions must be positive")
	}
	return nil
}

// Run executes the load test. It returns an error when any push fails or
// when the pulled ledger differs from what was written.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	start := time.Now()

	var (
		mu        sync.Mutex
		written   Counts
		durations []time.Duration
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Devices; i++ {
		g.Go(func() error {
			counts, ds, err := runDevice(gctx, opts, i)
			if err != nil {
				return fmt.Errorf("device %d: %w", i, err)
			}
			mu.Lock()
			written.add(counts)
			durations = append(durations, ds...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pullStart := time.Now()
	pulled, err := verify(ctx, opts)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Push:     computeLatencyStats(durations),
		Pull:     time.Since(pullStart),
		Written:  written,
		Pulled:   pulled,
		Duration: time.Since(start),
	}
	if !written.Equal(pulled) {
		return result, fmt.Errorf("pulled ledger differs: wrote %+v, pulled %+v", written, pulled)
	}
	return result, nil
}

// runDevice creates the device's books and transactions, then pushes every
// transaction concurrently.
func runDevice(ctx context.Context, opts Options, device int) (Counts, []time.Duration, error) {
	database, err := openDevice(opts.Dir, fmt.Sprintf("device-%03d", device))
	if err != nil {
		return Counts{}, nil, err
	}
	defer database.Close()

	engine := ledgersync.New(database, opts.Store, ledgersync.WithLogger(opts.Logger))
	rng := rand.New(rand.NewSource(opts.Seed + int64(device)))

	var counts Counts
	var txIDs []int64
	for b := 0; b < opts.BooksPerDevice; b++ {
		book := &schema.Book{Name: fmt.Sprintf("Device %d book %d", device, b)}
		if err := database.CreateBook(ctx, book); err != nil {
			return Counts{}, nil, err
		}
		counts.Books++

		for _, tx := range generateTransactions(rng, book.ID, opts.TransactionsPerBook) {
			if err := database.CreateTransaction(ctx, tx); err != nil {
				return Counts{}, nil, err
			}
			txIDs = append(txIDs, tx.ID)
			counts.Transactions++
			if tx.Type == schema.Income {
				counts.Income = counts.Income.Add(tx.Amount)
			} else {
				counts.Expenses = counts.Expenses.Add(tx.Amount)
			}
		}
	}

	durations := make([]time.Duration, len(txIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range txIDs {
		g.Go(func() error {
			began := time.Now()
			err := engine.PushTransaction(gctx, opts.UserID, id)
			durations[i] = time.Since(began)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Counts{}, nil, err
	}

	// A transaction push whose parent book could not be pushed returns nil
	// without writing; catch that here.
	for _, id := range txIDs {
		if _, ok, err := database.ServerID(ctx, schema.KindTransaction, id); err != nil {
			return Counts{}, nil, err
		} else if !ok {
			return Counts{}, nil, fmt.Errorf("transaction %d was not pushed", id)
		}
	}
	return counts, durations, nil
}

// verify pulls everything into a fresh device and counts it.
func verify(ctx context.Context, opts Options) (Counts, error) {
	database, err := openDevice(opts.Dir, "verifier")
	if err != nil {
		return Counts{}, err
	}
	defer database.Close()

	engine := ledgersync.New(database, opts.Store, ledgersync.WithLogger(opts.Logger))
	if _, err := engine.PullAll(ctx, opts.UserID); err != nil {
		return Counts{}, fmt.Errorf("verification pull failed: %w", err)
	}

	books, err := database.ListBooks(ctx)
	if err != nil {
		return Counts{}, err
	}
	counts := Counts{Books: len(books)}
	for _, b := range books {
		totals, err := database.Totals(ctx, b.ID, db.AllTime)
		if err != nil {
			return Counts{}, err
		}
		txs, err := database.ListTransactions(ctx, b.ID, nil)
		if err != nil {
			return Counts{}, err
		}
		counts.Transactions += len(txs)
		counts.Income = counts.Income.Add(totals.Income)
		counts.Expenses = counts.Expenses.Add(totals.Expenses)
	}
	return counts, nil
}

func openDevice(dir, name string) (*db.DB, error) {
	database, err := db.Open(filepath.Join(dir, name+".db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return database, nil
}

// generateTransactions creates count transactions dated over the last month.
// Roughly one in four is income.
func generateTransactions(rng *rand.Rand, bookID int64, count int) []*schema.Transaction {
	categories := []string{"gear", "lessons", "travel", "fees"}
	base := time.Now().AddDate(0, -1, 0)

	txs := make([]*schema.Transaction, count)
	for i := range txs {
		typ := schema.Expense
		category := categories[rng.Intn(len(categories))]
		if rng.Intn(4) == 0 {
			typ = schema.Income
			category = "gigs"
		}
		txs[i] = &schema.Transaction{
			BookID:      bookID,
			Type:        typ,
			Amount:      decimal.New(int64(100+rng.Intn(99900)), -2),
			Description: fmt.Sprintf("Load test entry %d", i),
			Category:    category,
			Date:        schema.DateOf(base.AddDate(0, 0, rng.Intn(30))),
		}
	}
	return txs
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   sum / time.Duration(len(sorted)),
		P50:    sorted[len(sorted)*50/100],
		P95:    sorted[len(sorted)*95/100],
		P99:    sorted[len(sorted)*99/100],
		Pushes: len(sorted),
	}
}

// PrintStats writes the latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Push latency:\n")
	fmt.Fprintf(w, "  Pushes:        %d\n", s.Pushes)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
