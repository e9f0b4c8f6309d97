package db

import (
	"context"
	"fmt"
	"time"

	"github.com/intheblack/ledger/internal/ledger/schema"
)

// The methods in this file write rows that came from the remote store. They
// carry the remote identifier and remote timestamps verbatim and are used
// only by the pull engine and the import path.

// SyncedRow pairs a local id with its remote identifier.
type SyncedRow struct {
	LocalID  int64
	ServerID string
}

// ClearEntities deletes every transaction, category and book, in that
// order. Settings are kept.
func (db *DB) ClearEntities(ctx context.Context) error {
	for _, table := range []string{"transactions", "book_categories", "books"} {
		if _, err := db.conn.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// InsertPulledBook inserts a book received from the remote store and sets
// b.ID to the new local id.
func (db *DB) InsertPulledBook(ctx context.Context, b *schema.Book) error {
	b.SetDefaults()
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid book: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO books (name, hobby_template, icon, color, server_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.Name, nullString(b.HobbyTemplate), b.Icon, b.Color, nullString(b.ServerID),
		db.remoteStamp(b.CreatedAt), db.remoteStamp(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pulled book: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read book id: %w", err)
	}
	b.ID = id
	return nil
}

// UpdatePulledBook overwrites the mutable fields of local book b.ID with the
// remote values, including the remote updated_at.
func (db *DB) UpdatePulledBook(ctx context.Context, b *schema.Book) error {
	b.SetDefaults()
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid book: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE books SET name = ?, hobby_template = ?, icon = ?, color = ?, updated_at = ?
		WHERE id = ?`,
		b.Name, nullString(b.HobbyTemplate), b.Icon, b.Color, db.remoteStamp(b.UpdatedAt), b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pulled book %d: %w", b.ID, err)
	}
	return checkAffected(res, "book", b.ID)
}

// InsertPulledCategory inserts a category received from the remote store.
// A category with the same slug already in the book is overwritten.
func (db *DB) InsertPulledCategory(ctx context.Context, c *schema.Category) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid category: %w", err)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO book_categories (book_id, category_id, label, icon, color, type, sort_order, server_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id, category_id) DO UPDATE SET
			label = excluded.label,
			icon = excluded.icon,
			color = excluded.color,
			type = excluded.type,
			sort_order = excluded.sort_order,
			server_id = excluded.server_id`,
		c.BookID, c.Slug, c.Label, c.Icon, c.Color, string(c.Type), c.SortOrder, nullString(c.ServerID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pulled category %s: %w", c.Slug, err)
	}

	err = db.conn.QueryRowContext(ctx,
		`SELECT id FROM book_categories WHERE book_id = ? AND category_id = ?`, c.BookID, c.Slug,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to read category id: %w", err)
	}
	return nil
}

// InsertPulledTransaction inserts a transaction received from the remote
// store and sets tx.ID.
func (db *DB) InsertPulledTransaction(ctx context.Context, tx *schema.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO transactions (type, amount, description, category, date, book_id, server_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.Type), tx.Amount.InexactFloat64(), tx.Description, tx.Category, tx.Date, tx.BookID,
		nullString(tx.ServerID), db.remoteStamp(tx.CreatedAt), db.remoteStamp(tx.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pulled transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read transaction id: %w", err)
	}
	tx.ID = id
	return nil
}

// UpdatePulledTransaction overwrites local transaction tx.ID with the remote
// values. The owning book may change when the remote row moved.
func (db *DB) UpdatePulledTransaction(ctx context.Context, tx *schema.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE transactions
		SET type = ?, amount = ?, description = ?, category = ?, date = ?, book_id = ?, updated_at = ?
		WHERE id = ?`,
		string(tx.Type), tx.Amount.InexactFloat64(), tx.Description, tx.Category, tx.Date, tx.BookID,
		db.remoteStamp(tx.UpdatedAt), tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pulled transaction %d: %w", tx.ID, err)
	}
	return checkAffected(res, "transaction", tx.ID)
}

// SyncedBooks returns every local book that carries a remote identifier.
func (db *DB) SyncedBooks(ctx context.Context) ([]SyncedRow, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, server_id FROM books WHERE server_id IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list synced books: %w", err)
	}
	defer rows.Close()

	var synced []SyncedRow
	for rows.Next() {
		var r SyncedRow
		if err := rows.Scan(&r.LocalID, &r.ServerID); err != nil {
			return nil, fmt.Errorf("failed to scan synced book: %w", err)
		}
		synced = append(synced, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating synced books: %w", err)
	}
	return synced, nil
}

// remoteStamp formats a remote timestamp, falling back to the local clock
// when the remote row carried none.
func (db *DB) remoteStamp(t time.Time) string {
	if t.IsZero() {
		return db.stamp()
	}
	return formatTime(t)
}
