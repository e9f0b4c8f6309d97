package sync

import (
	"github.com/intheblack/ledger/internal/ledger/remote"
	"github.com/intheblack/ledger/internal/ledger/schema"
)

// Conversions between local rows and remote rows. Server ids, user ids and
// parent server ids are filled in by the caller.

func toRemoteBook(b *schema.Book) *remote.Book {
	return &remote.Book{
		Name:          b.Name,
		HobbyTemplate: b.HobbyTemplate,
		Icon:          b.Icon,
		Color:         b.Color,
	}
}

func fromRemoteBook(r *remote.Book) *schema.Book {
	id := r.ID
	return &schema.Book{
		ServerID:      &id,
		Name:          r.Name,
		HobbyTemplate: r.HobbyTemplate,
		Icon:          r.Icon,
		Color:         r.Color,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func toRemoteCategory(c *schema.Category, bookServerID string) *remote.Category {
	return &remote.Category{
		BookID:     bookServerID,
		CategoryID: c.Slug,
		Label:      c.Label,
		Icon:       c.Icon,
		Color:      c.Color,
		Type:       string(c.Type),
		SortOrder:  c.SortOrder,
	}
}

func fromRemoteCategory(r *remote.Category, bookID int64) *schema.Category {
	id := r.ID
	return &schema.Category{
		BookID:    bookID,
		ServerID:  &id,
		Slug:      r.CategoryID,
		Label:     r.Label,
		Icon:      r.Icon,
		Color:     r.Color,
		Type:      schema.EntryType(r.Type),
		SortOrder: r.SortOrder,
	}
}

func toRemoteTransaction(t *schema.Transaction, bookServerID string) *remote.Transaction {
	return &remote.Transaction{
		BookID:      bookServerID,
		Type:        string(t.Type),
		Amount:      t.Amount,
		Description: t.Description,
		Category:    t.Category,
		Date:        t.Date,
	}
}

func fromRemoteTransaction(r *remote.Transaction, bookID int64) *schema.Transaction {
	id := r.ID
	return &schema.Transaction{
		BookID:      bookID,
		ServerID:    &id,
		Type:        schema.EntryType(r.Type),
		Amount:      r.Amount,
		Description: r.Description,
		Category:    r.Category,
		Date:        r.Date,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
