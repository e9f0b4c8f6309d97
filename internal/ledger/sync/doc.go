// Package sync implements the push and pull halves of the ledger's cloud
// synchronization.
//
// Overview
//
// The local SQLite database is the source of truth for the device. Every
// local row carries a nullable server_id that links it to its remote row.
// Push sends one local row up; pull brings the remote state down.
//
//	Local DB (books, book_categories, transactions, app_settings)
//	     │  PushBook / PushCategory / PushTransaction / PushSetting
//	     ▼
//	Remote store (per-user tables, server-assigned ids)
//	     │  PullAll / PullIncremental
//	     ▼
//	Local DB
//
// Push
//
// A row without a server id is inserted remotely and the returned id is
// written back to the local row. A row with a server id is updated in place.
// Children resolve their parent book's server id first and push the book when
// it has none. Concurrent first pushes of the same row share one remote
// insert.
//
// Pull
//
// A full pull clears the local entity tables and rebuilds them from the
// remote rows, unless the remote store is empty, in which case local data is
// pushed up instead. An incremental pull fetches books and transactions
// changed since the last_sync_at watermark, merges them, and deletes local
// books whose server id no longer exists remotely.
//
// The watermark is taken from the engine's clock when a pull completes and
// never moves backwards. A pull that fails part way keeps whatever it wrote
// and leaves the watermark alone, so the next pull fetches the same window
// again.
//
// Usage
//
//	database, err := db.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//
//	store := remote.NewRESTClient(url, apiKey)
//	engine := sync.New(database, store)
//
//	if err := engine.PushBook(ctx, userID, bookID); err != nil {
//	    log.Printf("push failed: %v", err)
//	}
//	stats, err := engine.Pull(ctx, userID)
package sync
