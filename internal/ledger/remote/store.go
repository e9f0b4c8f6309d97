// Package remote is the client side of the multi-tenant cloud store.
//
// Every row is scoped by user_id and keyed by a server-assigned string id.
// The store exposes insert, update, delete and filtered select per entity
// table, plus a composite-key upsert for settings.
//
// # Implementations
//
//   - [RESTClient] talks to a PostgREST-style HTTP API (/rest/v1/<table>).
//   - [MemStore] keeps everything in memory. It backs tests and the
//     `ledger remote serve` development server.
//   - [Handler] serves any [Store] over the same HTTP dialect, so a
//     RESTClient can talk to a MemStore across a real socket.
//
// # Filters
//
// A [Query] maps onto the three filter operators the sync engine needs:
//
//	user_id=eq.<id>           always
//	updated_at=gt.<rfc3339>   when UpdatedAfter is set
//	id=in.(a,b,c)             when IDs is non-nil
//
// Server timestamps (created_at, updated_at) are owned by the store. Writes
// fill them in on the row passed by the caller.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Remote table names.
const (
	TableBooks        = "books"
	TableCategories   = "book_categories"
	TableTransactions = "transactions"
	TableSettings     = "app_settings"
)

var (
	// ErrNotFound is returned when an update targets a row that does not
	// exist for the caller.
	ErrNotFound = errors.New("remote row not found")

	// ErrMissingParent is returned when a child row references a book id
	// that does not exist.
	ErrMissingParent = errors.New("remote parent book not found")
)

// APIError is a non-2xx response from the remote API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Message)
}

// Book is the remote representation of a book.
type Book struct {
	ID            string    `json:"id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Name          string    `json:"name"`
	HobbyTemplate *string   `json:"hobby_template"`
	Icon          string    `json:"icon"`
	Color         string    `json:"color"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}

// Category is the remote representation of a book category.
type Category struct {
	ID         string    `json:"id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	BookID     string    `json:"book_id"`
	CategoryID string    `json:"category_id"`
	Label      string    `json:"label"`
	Icon       string    `json:"icon"`
	Color      string    `json:"color"`
	Type       string    `json:"type"`
	SortOrder  int       `json:"sort_order"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// Transaction is the remote representation of a transaction.
type Transaction struct {
	ID          string          `json:"id,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	BookID      string          `json:"book_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Date        string          `json:"date"`
	CreatedAt   time.Time       `json:"created_at,omitzero"`
	UpdatedAt   time.Time       `json:"updated_at,omitzero"`
}

// Setting is a per-user key/value row keyed by (user_id, key).
type Setting struct {
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Query filters a select.
type Query struct {
	// UserID scopes the select to one tenant. Required.
	UserID string
	// UpdatedAfter keeps rows whose updated_at is strictly after it. The
	// zero value disables the filter.
	UpdatedAfter time.Time
	// IDs keeps rows whose id is in the list. nil disables the filter; an
	// empty non-nil slice matches nothing.
	IDs []string
}

// Store is the remote multi-tenant store used by the sync engine.
//
// Insert methods assign the server id and timestamps on the row they are
// given and return the id. Update methods match by row id, refresh
// updated_at and return ErrNotFound when no row matched.
type Store interface {
	InsertBook(ctx context.Context, b *Book) (string, error)
	UpdateBook(ctx context.Context, b *Book) error
	DeleteBook(ctx context.Context, id string) error
	SelectBooks(ctx context.Context, q Query) ([]*Book, error)

	InsertCategory(ctx context.Context, c *Category) (string, error)
	UpdateCategory(ctx context.Context, c *Category) error
	DeleteCategory(ctx context.Context, id string) error
	SelectCategories(ctx context.Context, q Query) ([]*Category, error)

	InsertTransaction(ctx context.Context, t *Transaction) (string, error)
	UpdateTransaction(ctx context.Context, t *Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	SelectTransactions(ctx context.Context, q Query) ([]*Transaction, error)

	// UpsertSetting inserts or replaces the row keyed by (user_id, key).
	UpsertSetting(ctx context.Context, s *Setting) error
	SelectSettings(ctx context.Context, userID string) ([]*Setting, error)
}
