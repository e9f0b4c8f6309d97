package schema

import (
	"fmt"
	"time"
)

// Default presentation values for books created without explicit styling.
const (
	DefaultBookIcon  = "book"
	DefaultBookColor = "#8B4513"
)

// Uncategorized is the display label for a transaction whose category slug
// no longer resolves to a category of its book.
const Uncategorized = "Uncategorized"

// Book is a themed ledger. It owns zero or more categories and transactions.
type Book struct {
	// ===== Identity =====
	ID       int64   `json:"id"`
	ServerID *string `json:"server_id,omitempty"` // nil until first successful push

	// ===== Content =====
	Name          string  `json:"name"`
	HobbyTemplate *string `json:"hobby_template,omitempty"`
	Icon          string  `json:"icon"`
	Color         string  `json:"color"`

	// ===== Timestamps =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the Book has valid field values.
func (b *Book) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(b.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(b.Name))
	}
	if b.Icon == "" {
		return fmt.Errorf("icon is required")
	}
	if b.Color == "" {
		return fmt.Errorf("color is required")
	}
	return nil
}

// SetDefaults fills in the presentation defaults used by the local schema.
func (b *Book) SetDefaults() {
	if b.Icon == "" {
		b.Icon = DefaultBookIcon
	}
	if b.Color == "" {
		b.Color = DefaultBookColor
	}
}

// Synced reports whether the book has a remote counterpart.
func (b *Book) Synced() bool {
	return b.ServerID != nil && *b.ServerID != ""
}

// Category is a book-scoped label. Transactions reference it through Slug.
type Category struct {
	ID       int64   `json:"id"`
	BookID   int64   `json:"book_id"`
	ServerID *string `json:"server_id,omitempty"`

	// Slug is the stable category_id used by transactions. It is unique
	// within a book and never changes after creation.
	Slug      string    `json:"category_id"`
	Label     string    `json:"label"`
	Icon      string    `json:"icon"`
	Color     string    `json:"color"`
	Type      EntryType `json:"type"`
	SortOrder int       `json:"sort_order"`
}

// Validate checks if the Category has valid field values.
func (c *Category) Validate() error {
	if c.BookID <= 0 {
		return fmt.Errorf("book_id is required")
	}
	if c.Slug == "" {
		return fmt.Errorf("category_id is required")
	}
	if c.Label == "" {
		return fmt.Errorf("label is required")
	}
	if c.Icon == "" {
		return fmt.Errorf("icon is required")
	}
	if c.Color == "" {
		return fmt.Errorf("color is required")
	}
	if !c.Type.Valid() {
		return fmt.Errorf("type must be expense or income (got %q)", c.Type)
	}
	if c.SortOrder < 0 {
		return fmt.Errorf("sort_order must not be negative (got %d)", c.SortOrder)
	}
	return nil
}

// Synced reports whether the category has a remote counterpart.
func (c *Category) Synced() bool {
	return c.ServerID != nil && *c.ServerID != ""
}

// LabelFor returns the label of the category with the given slug, or
// Uncategorized when no category in cats matches.
func LabelFor(cats []*Category, slug string) string {
	for _, c := range cats {
		if c.Slug == slug {
			return c.Label
		}
	}
	return Uncategorized
}
