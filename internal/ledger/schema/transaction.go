package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date layout used for transaction dates.
const DateLayout = "2006-01-02"

// Transaction is a single income or expense entry in a book.
type Transaction struct {
	ID       int64   `json:"id"`
	BookID   int64   `json:"book_id"`
	ServerID *string `json:"server_id,omitempty"`

	Type        EntryType       `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`

	// Category holds a category slug. It is not a foreign key and may
	// dangle after the category is deleted.
	Category string `json:"category"`

	// Date is a calendar date with no time component (YYYY-MM-DD).
	Date string `json:"date"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the Transaction has valid field values.
func (t *Transaction) Validate() error {
	if t.BookID <= 0 {
		return fmt.Errorf("book_id is required")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("type must be expense or income (got %q)", t.Type)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive (got %s)", t.Amount)
	}
	if t.Category == "" {
		return fmt.Errorf("category is required")
	}
	if err := ValidateDate(t.Date); err != nil {
		return err
	}
	return nil
}

// Synced reports whether the transaction has a remote counterpart.
func (t *Transaction) Synced() bool {
	return t.ServerID != nil && *t.ServerID != ""
}

// ValidateDate checks that s is a YYYY-MM-DD calendar date.
func ValidateDate(s string) error {
	if s == "" {
		return fmt.Errorf("date is required")
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD (got %q)", s)
	}
	return nil
}

// DateOf formats t as a calendar date in t's location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}
