package schema

import "fmt"

// Kind identifies one of the synchronized entity kinds.
type Kind int

const (
	// KindBook is a ledger book (books table).
	KindBook Kind = iota
	// KindCategory is a book category (book_categories table).
	KindCategory
	// KindTransaction is an income or expense entry (transactions table).
	KindTransaction
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindBook:
		return "book"
	case KindCategory:
		return "category"
	case KindTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Table returns the local and remote table name for the kind.
func (k Kind) Table() string {
	switch k {
	case KindBook:
		return "books"
	case KindCategory:
		return "book_categories"
	case KindTransaction:
		return "transactions"
	default:
		panic(fmt.Sprintf("schema: unknown kind %d", int(k)))
	}
}

// Kinds lists every kind in parent-before-child order.
func Kinds() []Kind {
	return []Kind{KindBook, KindCategory, KindTransaction}
}

// EntryType tags categories and transactions as money out or money in.
type EntryType string

const (
	// Expense is money spent.
	Expense EntryType = "expense"
	// Income is money earned.
	Income EntryType = "income"
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	return t == Expense || t == Income
}

// ParseEntryType parses s into an EntryType.
func ParseEntryType(s string) (EntryType, error) {
	t := EntryType(s)
	if !t.Valid() {
		return "", fmt.Errorf("invalid type %q (must be expense or income)", s)
	}
	return t, nil
}
