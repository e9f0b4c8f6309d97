package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/intheblack/ledger/internal/ledger/schema"
)

const bookColumns = `id, name, hobby_template, icon, color, server_id, created_at, updated_at`

// CreateBook inserts a new local book and fills in its ID and timestamps.
// Empty icon and color fall back to the schema defaults. The server id is
// always left NULL; it is assigned by the first successful push.
func (db *DB) CreateBook(ctx context.Context, b *schema.Book) error {
	b.SetDefaults()
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid book: %w", err)
	}

	now := db.stamp()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO books (name, hobby_template, icon, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.Name, nullString(b.HobbyTemplate), b.Icon, b.Color, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read book id: %w", err)
	}
	b.ID = id
	b.ServerID = nil
	b.CreatedAt = parseTime(now)
	b.UpdatedAt = b.CreatedAt
	return nil
}

// CreateBookFromTemplate creates the book and then each of cats in order,
// assigning their BookID. It stops at the first failure; rows already
// written stay.
func (db *DB) CreateBookFromTemplate(ctx context.Context, b *schema.Book, cats []*schema.Category) error {
	if err := db.CreateBook(ctx, b); err != nil {
		return err
	}
	for _, c := range cats {
		c.BookID = b.ID
		if err := db.CreateCategory(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// GetBook retrieves a single book by local id.
// Returns ErrNotFound if the book does not exist.
func (db *DB) GetBook(ctx context.Context, id int64) (*schema.Book, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book %d: %w", id, err)
	}
	return b, nil
}

// ListBooks returns every local book, most recently updated first.
func (db *DB) ListBooks(ctx context.Context) ([]*schema.Book, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []*schema.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating books: %w", err)
	}
	return books, nil
}

// UpdateBook writes the mutable fields of b and refreshes updated_at.
func (db *DB) UpdateBook(ctx context.Context, b *schema.Book) error {
	b.SetDefaults()
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid book: %w", err)
	}

	now := db.stamp()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE books SET name = ?, hobby_template = ?, icon = ?, color = ?, updated_at = ?
		WHERE id = ?`,
		b.Name, nullString(b.HobbyTemplate), b.Icon, b.Color, now, b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update book %d: %w", b.ID, err)
	}
	if err := checkAffected(res, "book", b.ID); err != nil {
		return err
	}
	b.UpdatedAt = parseTime(now)
	return nil
}

// DeleteBook removes a book together with its transactions and categories,
// in that order. Each statement commits independently. Deleting a missing
// book is a no-op.
func (db *DB) DeleteBook(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM transactions WHERE book_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete transactions of book %d: %w", id, err)
	}
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM book_categories WHERE book_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete categories of book %d: %w", id, err)
	}
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete book %d: %w", id, err)
	}
	return nil
}

func scanBook(s scanner) (*schema.Book, error) {
	var b schema.Book
	var template, serverID sql.NullString
	var createdAt, updatedAt string

	if err := s.Scan(&b.ID, &b.Name, &template, &b.Icon, &b.Color, &serverID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	b.HobbyTemplate = stringPtr(template)
	b.ServerID = stringPtr(serverID)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}
