package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/intheblack/ledger/internal/ledger/schema"
)

// Period bounds the transactions included in a summary.
type Period int

const (
	// AllTime includes every transaction of the book.
	AllTime Period = iota
	// ThisMonth includes transactions dated on or after the first day of the
	// current month.
	ThisMonth
)

// String returns a human-readable representation of the period.
func (p Period) String() string {
	if p == ThisMonth {
		return "this month"
	}
	return "all time"
}

// Totals is the income/expense balance of a book.
type Totals struct {
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Net      decimal.Decimal `json:"net"`
}

// InTheBlack reports whether income covers expenses.
func (t Totals) InTheBlack() bool {
	return !t.Net.IsNegative()
}

// CategoryTotal is the share of one category slug in a breakdown.
type CategoryTotal struct {
	Category   string          `json:"category"`
	Label      string          `json:"label"`
	Total      decimal.Decimal `json:"total"`
	Count      int             `json:"count"`
	Percentage float64         `json:"percentage"`
}

// Totals sums income and expenses of a book over period. Amounts are added
// as decimals so cents do not drift.
func (db *DB) Totals(ctx context.Context, bookID int64, period Period) (*Totals, error) {
	query := `SELECT type, amount FROM transactions WHERE book_id = ?`
	args := []any{bookID}
	if from, ok := db.periodStart(period); ok {
		query += ` AND date >= ?`
		args = append(args, from)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	t := &Totals{Income: decimal.Zero, Expenses: decimal.Zero}
	for rows.Next() {
		var typ string
		var amount float64
		if err := rows.Scan(&typ, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan amount: %w", err)
		}
		switch schema.EntryType(typ) {
		case schema.Income:
			t.Income = t.Income.Add(decimal.NewFromFloat(amount))
		case schema.Expense:
			t.Expenses = t.Expenses.Add(decimal.NewFromFloat(amount))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating amounts: %w", err)
	}
	t.Net = t.Income.Sub(t.Expenses)
	return t, nil
}

// CategoryBreakdown groups the transactions of one entry type by category
// slug, largest total first. Slugs that no longer resolve to a category are
// labelled schema.Uncategorized.
func (db *DB) CategoryBreakdown(ctx context.Context, bookID int64, typ schema.EntryType, period Period) ([]CategoryTotal, error) {
	query := `SELECT category, amount FROM transactions WHERE book_id = ? AND type = ?`
	args := []any{bookID, string(typ)}
	if from, ok := db.periodStart(period); ok {
		query += ` AND date >= ?`
		args = append(args, from)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query breakdown: %w", err)
	}
	defer rows.Close()

	bySlug := make(map[string]*CategoryTotal)
	grand := decimal.Zero
	for rows.Next() {
		var slug string
		var amount float64
		if err := rows.Scan(&slug, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan amount: %w", err)
		}
		ct, ok := bySlug[slug]
		if !ok {
			ct = &CategoryTotal{Category: slug, Total: decimal.Zero}
			bySlug[slug] = ct
		}
		d := decimal.NewFromFloat(amount)
		ct.Total = ct.Total.Add(d)
		ct.Count++
		grand = grand.Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating amounts: %w", err)
	}
	rows.Close()

	cats, err := db.ListCategories(ctx, bookID, nil)
	if err != nil {
		return nil, err
	}

	result := make([]CategoryTotal, 0, len(bySlug))
	for _, ct := range bySlug {
		ct.Label = schema.LabelFor(cats, ct.Category)
		if grand.IsPositive() {
			ct.Percentage = ct.Total.Div(grand).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
		result = append(result, *ct)
	}
	sort.Slice(result, func(i, j int) bool {
		if c := result[i].Total.Cmp(result[j].Total); c != 0 {
			return c > 0
		}
		return result[i].Category < result[j].Category
	})
	return result, nil
}

// periodStart returns the first date included in period, if bounded.
func (db *DB) periodStart(p Period) (string, bool) {
	if p != ThisMonth {
		return "", false
	}
	now := db.now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return schema.DateOf(first), true
}
