package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/intheblack/ledger/internal/ledger/schema"
)

const categoryColumns = `id, book_id, category_id, label, icon, color, type, sort_order, server_id`

// CreateCategory inserts c as a new category of c.BookID.
func (db *DB) CreateCategory(ctx context.Context, c *schema.Category) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid category: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO book_categories (book_id, category_id, label, icon, color, type, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.BookID, c.Slug, c.Label, c.Icon, c.Color, string(c.Type), c.SortOrder,
	)
	if err != nil {
		return fmt.Errorf("failed to create category %s: %w", c.Slug, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read category id: %w", err)
	}
	c.ID = id
	c.ServerID = nil
	return nil
}

// AddCategory creates a user-defined category. The slug is derived from the
// label and made unique within the book; the category is appended after the
// existing categories of the same type.
func (db *DB) AddCategory(ctx context.Context, bookID int64, label, icon, color string, typ schema.EntryType) (*schema.Category, error) {
	existing, err := db.ListCategories(ctx, bookID, nil)
	if err != nil {
		return nil, err
	}

	taken := make(map[string]bool, len(existing))
	next := 0
	for _, c := range existing {
		taken[c.Slug] = true
		if c.Type == typ && c.SortOrder >= next {
			next = c.SortOrder + 1
		}
	}

	c := &schema.Category{
		BookID:    bookID,
		Slug:      schema.UniqueSlug(schema.Slugify(label), taken),
		Label:     label,
		Icon:      icon,
		Color:     color,
		Type:      typ,
		SortOrder: next,
	}
	if err := db.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCategory retrieves a single category by local id.
func (db *DB) GetCategory(ctx context.Context, id int64) (*schema.Category, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM book_categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category %d: %w", id, err)
	}
	return c, nil
}

// ListCategories returns the categories of a book ordered by type and sort
// order. A non-nil typ restricts the result to that entry type.
func (db *DB) ListCategories(ctx context.Context, bookID int64, typ *schema.EntryType) ([]*schema.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM book_categories WHERE book_id = ?`
	args := []any{bookID}
	if typ != nil {
		query += ` AND type = ?`
		args = append(args, string(*typ))
	}
	query += ` ORDER BY type, sort_order, id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var cats []*schema.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return cats, nil
}

// UpdateCategory writes label, icon, color, type and sort order. The slug
// never changes, so transactions keep resolving to the category.
func (db *DB) UpdateCategory(ctx context.Context, c *schema.Category) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid category: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE book_categories SET label = ?, icon = ?, color = ?, type = ?, sort_order = ?
		WHERE id = ?`,
		c.Label, c.Icon, c.Color, string(c.Type), c.SortOrder, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update category %d: %w", c.ID, err)
	}
	return checkAffected(res, "category", c.ID)
}

// DeleteCategory removes a category. Transactions that reference its slug
// are left alone and display as schema.Uncategorized.
func (db *DB) DeleteCategory(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM book_categories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete category %d: %w", id, err)
	}
	return nil
}

// CategoryUsage counts the transactions of the category's book that use its
// slug.
func (db *DB) CategoryUsage(ctx context.Context, c *schema.Category) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE book_id = ? AND category = ?`,
		c.BookID, c.Slug,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage of category %s: %w", c.Slug, err)
	}
	return n, nil
}

func scanCategory(s scanner) (*schema.Category, error) {
	var c schema.Category
	var typ string
	var serverID sql.NullString

	if err := s.Scan(&c.ID, &c.BookID, &c.Slug, &c.Label, &c.Icon, &c.Color, &typ, &c.SortOrder, &serverID); err != nil {
		return nil, err
	}
	c.Type = schema.EntryType(typ)
	c.ServerID = stringPtr(serverID)
	return &c, nil
}
