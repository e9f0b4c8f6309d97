package remote

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Op is one call recorded by a MemStore.
type Op struct {
	Kind  string // insert, update, delete, upsert, select
	Table string
	ID    string
}

// MemStore is an in-memory Store. Rows are kept in insertion order and
// deleting a book also deletes its categories and transactions.
//
// MemStore is safe for concurrent use.
type MemStore struct {
	mu  sync.Mutex
	now func() time.Time

	books        []*Book
	categories   []*Category
	transactions []*Transaction
	settings     []*Setting

	ops     []Op
	failure error
	latency time.Duration
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty store. now supplies server timestamps; nil
// means time.Now.
func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{now: now}
}

// SetFailure makes every subsequent call fail with err. nil restores normal
// operation.
func (m *MemStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// SetLatency delays every call by d before it takes effect.
func (m *MemStore) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Ops returns a copy of the recorded calls in order.
func (m *MemStore) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ops)
}

// Count returns how many recorded calls match kind and table. An empty
// argument matches anything.
func (m *MemStore) Count(kind, table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, op := range m.ops {
		if (kind == "" || op.Kind == kind) && (table == "" || op.Table == table) {
			n++
		}
	}
	return n
}

// ResetOps clears the call log.
func (m *MemStore) ResetOps() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
}

// begin waits out the configured latency, then locks the store and records
// op. The store is locked on return even when an error is returned; the
// caller must unlock.
func (m *MemStore) begin(ctx context.Context, op Op) error {
	m.mu.Lock()
	latency := m.latency
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			m.mu.Lock()
			return ctx.Err()
		}
	}

	m.mu.Lock()
	if m.failure != nil {
		return m.failure
	}
	m.ops = append(m.ops, op)
	return nil
}

// InsertBook implements Store.
func (m *MemStore) InsertBook(ctx context.Context, b *Book) (string, error) {
	err := m.begin(ctx, Op{Kind: "insert", Table: TableBooks})
	defer m.mu.Unlock()
	if err != nil {
		return "", err
	}

	if b.UserID == "" {
		return "", &APIError{Status: 400, Message: "user_id is required"}
	}
	now := m.now()
	b.ID = uuid.NewString()
	b.CreatedAt, b.UpdatedAt = now, now
	m.setLastOpID(b.ID)

	row := *b
	m.books = append(m.books, &row)
	return b.ID, nil
}

// UpdateBook implements Store.
func (m *MemStore) UpdateBook(ctx context.Context, b *Book) error {
	err := m.begin(ctx, Op{Kind: "update", Table: TableBooks, ID: b.ID})
	defer m.mu.Unlock()
	if err != nil {
		return err
	}

	i := slices.IndexFunc(m.books, func(r *Book) bool { return r.ID == b.ID })
	if i < 0 {
		return fmt.Errorf("book %s: %w", b.ID, ErrNotFound)
	}
	row := m.books[i]
	row.Name = b.Name
	row.HobbyTemplate = b.HobbyTemplate
	row.Icon = b.Icon
	row.Color = b.Color
	row.UpdatedAt = m.now()

	*b = *row
	return nil
}

// DeleteBook implements Store. Categories and transactions of the book are
// deleted with it.
func (m *MemStore) DeleteBook(ctx context.Context, id string) error {
	err := m.begin(ctx, Op{Kind: "delete", Table: TableBooks, ID: id})
	defer m.mu.Unlock()
	if err != nil {
		return err
	}

	m.transactions = slices.DeleteFunc(m.transactions, func(r *Transaction) bool { return r.BookID == id })
	m.categories = slices.DeleteFunc(m.categories, func(r *Category) bool { return r.BookID == id })
	m.books = slices.DeleteFunc(m.books, func(r *Book) bool { return r.ID == id })
	return nil
}

// SelectBooks implements Store.
func (m *MemStore) SelectBooks(ctx context.Context, q Query) ([]*Book, error) {
	err := m.begin(ctx, Op{Kind: "select", Table: TableBooks})
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []*Book
	for _, r := range m.books {
		if match(q, r.UserID, r.ID, r.UpdatedAt) {
			row := *r
			out = append(out, &row)
		}
	}
	return out, nil
}

// InsertCategory implements Store.
func (m *MemStore) InsertCategory(ctx context.Context, c *Category) (string, error) {
	err := m.begin(ctx, Op{Kind: "insert", Table: TableCategories})
	defer m.mu.Unlock()
	if err != nil {
		return "", err
	}

	if c.UserID == "" {
		return "", &APIError{Status: 400, Message: "user_id is required"}
	}
	if !m.hasBook(c.BookID) {
		return "", fmt.Errorf("category %s: book %s: %w", c.CategoryID, c.BookID, ErrMissingParent)
	}
	now := m.now()
	c.ID = uuid.NewString()
	c.CreatedAt, c.UpdatedAt = now, now
	m.setLastOpID(c.ID)

	row := *c
	m.categories = append(m.categories, &row)
	return c.ID, nil
}

// UpdateCategory implements Store.
func (m *MemStore) UpdateCategory(ctx context.Context, c *Category) error {
	err := m.begin(ctx, Op{Kind: "update", Table: TableCategories, ID: c.ID})
	defer m.mu.Unlock()
	if err != nil {
		return err
	}

	i := slices.IndexFunc(m.categories, func(r *Category) bool { return r.ID == c.ID })
	if i < 0 {
		return fmt.Errorf("category %s: %w", c.ID, ErrNotFound)
	}
	row := m.categories[i]
	row.Label = c.Label
	row.Icon = c.Icon
	row.Color = c.Color
	row.Type = c.Type
	row.SortOrder = c.SortOrder
	row.UpdatedAt = m.now()

	*c = *row
	return nil
}

// DeleteCategory implements Store.
func (m *MemStore) DeleteCategory(ctx context.Context, id string) error {
	err := m.begin(ctx, Op{Kind: "delete", Table: TableCategories, ID: id})
	defer m.mu.Unlock()
	if err != nil {
		return err
	}

	m.categories = slices.DeleteFunc(m.categories, func(r *Category) bool { return r.ID == id })
	return nil
}

// SelectCategories implements Store.
func (m *MemStore) SelectCategories(ctx context.Context, q Query) ([]*Category, error) {
	err := m.begin(ctx, Op{Kind: "select", Table: TableCategories})
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []*Category
	for _, r := range m.categories {
		if match(q, r.UserID, r.ID, r.UpdatedAt) {
			row := *r
			out = append(out, &row)
		}
	}
	return out, nil
}

// InsertTransaction implements Store.
func (m *MemStore) InsertTransaction(ctx context.Context, t *Transaction) (string, error) {
	err := m.begin(ctx, Op{Kind: "insert", Table: TableTransactions})
	defer m.mu.Unlock()
	if err != nil {
		return "", err
	}

	if t.UserID == "" {
		return "", &APIError{Status: 400, Message: "user_id is required"}
	}
	if !m.hasBook(t.BookID) {
		return "", fmt.Errorf("transaction: book %s: %w", t.BookID, ErrMissingParent)
	}
	now := m.now()
	t.ID = uuid.NewString()
	t.CreatedAt, t.UpdatedAt = now, now
	m.setLastOpID(t.ID)

	row := *t
	m.transactions = append(m.transactions, &row)
	return t.ID, nil
}

// UpdateTransaction implements Store. The parent book id is updated too.
func (m *MemStore) UpdateTransaction(ctx context.Context, t *Transaction) error {
	err := m.begin(ctx, Op{Kind: "update", Table: TableTransactions, ID: t.ID})
	defer m.mu.Unlock()
	if err != nil {
		return err
	}

	i := slices.IndexFunc(m.transactions, func(r *Transaction) bool { return r.ID == t.ID })
	if i < 0 {
		return fmt.Errorf("transaction %s: %w", t.ID, ErrNotFound)
	}
	if t.BookID != "" && !m.hasBook(t.BookID) {
		return fmt.Errorf("transaction %s: book %s: %w", t.ID, t.BookID, ErrMissingParent)
	}
	row := m.transactions[i]
	if t.BookID != "" {
		row.BookID = t.BookID
	}
	row.Type = t.Type
	row.Amount = t.Amount
	row.Description = t.Description
	row.Category = t.Category
	row.Date = t.Date
	row.UpdatedAt = m.now()

	*t = *row
	return nil
}

// DeleteTransaction implements Store.
func (m *MemStore) DeleteTransaction(ctx context.Context, id string) error {
	err := m.begin(ctx, Op{Kind: "delete", Table: TableTransactions, ID: id})
	defer m.mu.Unlock()
	if err != nil {
		return err
	}

	m.transactions = slices.DeleteFunc(m.transactions, func(r *Transaction) bool { return r.ID == id })
	return nil
}

// SelectTransactions implements Store.
func (m *MemStore) SelectTransactions(ctx context.Context, q Query) ([]*Transaction, error) {
	err := m.begin(ctx, Op{Kind: "select", Table: TableTransactions})
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []*Transaction
	for _, r := range m.transactions {
		if match(q, r.UserID, r.ID, r.UpdatedAt) {
			row := *r
			out = append(out, &row)
		}
	}
	return out, nil
}

// UpsertSetting implements Store.
func (m *MemStore) UpsertSetting(ctx context.Context, s *Setting) error {
	err := m.begin(ctx, Op{Kind: "upsert", Table: TableSettings, ID: s.Key})
	defer m.mu.Unlock()
	if err != nil {
		return err
	}

	if s.UserID == "" || s.Key == "" {
		return &APIError{Status: 400, Message: "user_id and key are required"}
	}
	s.UpdatedAt = m.now()
	i := slices.IndexFunc(m.settings, func(r *Setting) bool { return r.UserID == s.UserID && r.Key == s.Key })
	row := *s
	if i < 0 {
		m.settings = append(m.settings, &row)
	} else {
		m.settings[i] = &row
	}
	return nil
}

// SelectSettings implements Store.
func (m *MemStore) SelectSettings(ctx context.Context, userID string) ([]*Setting, error) {
	err := m.begin(ctx, Op{Kind: "select", Table: TableSettings})
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []*Setting
	for _, r := range m.settings {
		if r.UserID == userID {
			row := *r
			out = append(out, &row)
		}
	}
	return out, nil
}

func (m *MemStore) hasBook(id string) bool {
	return slices.ContainsFunc(m.books, func(r *Book) bool { return r.ID == id })
}

// setLastOpID records the id assigned by the insert that is being logged.
func (m *MemStore) setLastOpID(id string) {
	m.ops[len(m.ops)-1].ID = id
}

// match applies q to one row.
func match(q Query, userID, id string, updatedAt time.Time) bool {
	if userID != q.UserID {
		return false
	}
	if !q.UpdatedAfter.IsZero() && !updatedAt.After(q.UpdatedAfter) {
		return false
	}
	if q.IDs != nil && !slices.Contains(q.IDs, id) {
		return false
	}
	return true
}
