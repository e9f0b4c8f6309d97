// Package schema defines the ledger data model shared by the local store,
// the remote store client and the sync engine.
//
// # Entities
//
// Four entity kinds are synchronized:
//
//   - Book: a themed ledger (name, optional hobby template, icon, color)
//   - Category: a book-scoped label with a stable slug (category_id)
//   - Transaction: an income or expense entry referencing a category slug
//   - Setting: a device key/value pair, partially mirrored to the cloud
//
// Every local row carries an integer id assigned by SQLite and an optional
// server id assigned by the remote store on first successful push:
//
//	book := &schema.Book{
//	    Name:  "Music",
//	    Icon:  "music",
//	    Color: "#2E5A88",
//	}
//	if err := book.Validate(); err != nil {
//	    return err
//	}
//
// # Category Slugs
//
// Transactions reference categories by slug, never by row id. Deleting a
// category leaves its transactions pointing at an unknown slug; callers
// display those as [Uncategorized].
//
// # Templates
//
// Hobby templates seed a new book with a category set. They are embedded as
// TOML and decoded once:
//
//	tmpl, ok := schema.TemplateByKey("music")
//	cats := tmpl.Categories()
package schema
