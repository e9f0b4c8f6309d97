package sync

import "context"

// Engine moves ledger data between the local database and the remote store
// for one user.
//
// Push operations make the remote representation of one local row match the
// local one. Pull operations make the local database match the remote store.
//
// Engine methods return errors; they never retry. Callers that must not be
// interrupted by sync failures (the orchestrator) are expected to report
// and drop them.
type Engine interface {
	// PushBook makes the remote copy of a local book match it.
	//
	// A book that was never pushed is inserted under userID and the
	// returned server id is recorded on the local row. A book that has a
	// server id is updated in place. A missing local row is a no-op.
	//
	// Example:
	//   err := engine.PushBook(ctx, "user-123", 1)
	PushBook(ctx context.Context, userID string, localID int64) error

	// PushCategory pushes one category. If its book has no server id yet
	// the book is pushed first. When the book still has no server id
	// afterwards the category is skipped and nil is returned.
	PushCategory(ctx context.Context, userID string, localID int64) error

	// PushTransaction pushes one transaction with the same parent rule as
	// PushCategory. Updates also carry the parent's server id.
	//
	// Example:
	//   err := engine.PushTransaction(ctx, "user-123", 42)
	PushTransaction(ctx context.Context, userID string, localID int64) error

	// PushDeleteBook deletes a book remotely by the server id captured
	// before the local delete. An empty id means the book never reached
	// the remote store and no call is made.
	PushDeleteBook(ctx context.Context, serverID string) error

	// PushDeleteCategory deletes a category remotely. Empty id is a no-op.
	PushDeleteCategory(ctx context.Context, serverID string) error

	// PushDeleteTransaction deletes a transaction remotely. Empty id is a
	// no-op.
	PushDeleteTransaction(ctx context.Context, serverID string) error

	// PushSetting upserts one setting keyed by (userID, key).
	//
	// last_sync_at is never pushed. last_open_book_id is translated from
	// a local book id to that book's server id, and skipped when the book
	// has none.
	PushSetting(ctx context.Context, userID, key, value string) error

	// PushAllLocal pushes every book, category, transaction and setting in
	// that order. Individual failures are logged and do not stop the run;
	// they are returned joined. The watermark is set either way, so a
	// later pull is incremental and leaves unpushed rows in place.
	PushAllLocal(ctx context.Context, userID string) error

	// PullAll replaces local books, categories and transactions with the
	// remote ones, then applies remote settings and sets the watermark.
	//
	// When the remote store has no books for the user, local data is
	// pushed up instead (first sync from this device) and nothing local is
	// cleared.
	PullAll(ctx context.Context, userID string) (*PullStats, error)

	// PullIncremental merges books and transactions changed since the
	// watermark and deletes local books that no longer exist remotely.
	// Without a watermark it falls back to PullAll.
	//
	// Categories are only refreshed by PullAll.
	PullIncremental(ctx context.Context, userID string) (*PullStats, error)

	// Pull picks the pull mode from the watermark. It is the entry point
	// for sign-in and foreground triggers.
	Pull(ctx context.Context, userID string) (*PullStats, error)
}
