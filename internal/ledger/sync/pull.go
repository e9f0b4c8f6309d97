package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/intheblack/ledger/internal/ledger/remote"
	"github.com/intheblack/ledger/internal/ledger/schema"
)

// Pull implements Engine.
func (s *Syncer) Pull(ctx context.Context, userID string) (*PullStats, error) {
	return s.PullIncremental(ctx, userID)
}

// PullAll implements Engine.
func (s *Syncer) PullAll(ctx context.Context, userID string) (*PullStats, error) {
	stats := &PullStats{Mode: ModeFull}
	q := remote.Query{UserID: userID}

	books, err := s.store.SelectBooks(ctx, q)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch books: %w", err)
	}
	if len(books) == 0 {
		s.logger.Printf("No remote books for %s, pushing local data", userID)
		stats.PushedLocal = true
		return stats, s.PushAllLocal(ctx, userID)
	}

	// Everything is fetched before the local tables are cleared.
	categories, err := s.store.SelectCategories(ctx, q)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch categories: %w", err)
	}
	transactions, err := s.store.SelectTransactions(ctx, q)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	settings, err := s.store.SelectSettings(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch settings: %w", err)
	}

	if err := s.db.ClearEntities(ctx); err != nil {
		return stats, err
	}

	// server id -> local id of every book inserted below
	localBooks := make(map[string]int64, len(books))
	for _, r := range books {
		b := fromRemoteBook(r)
		if err := s.db.InsertPulledBook(ctx, b); err != nil {
			return stats, err
		}
		localBooks[r.ID] = b.ID
		stats.BooksInserted++
	}

	for _, r := range categories {
		bookID, ok := localBooks[r.BookID]
		if !ok {
			stats.Skipped++
			continue
		}
		if err := s.db.InsertPulledCategory(ctx, fromRemoteCategory(r, bookID)); err != nil {
			return stats, err
		}
		stats.CategoriesInserted++
	}

	for _, r := range transactions {
		bookID, ok := localBooks[r.BookID]
		if !ok {
			stats.Skipped++
			continue
		}
		if err := s.db.InsertPulledTransaction(ctx, fromRemoteTransaction(r, bookID)); err != nil {
			return stats, err
		}
		stats.TransactionsInserted++
	}

	for _, r := range settings {
		if schema.IsLocalOnly(r.Key) {
			continue
		}
		value := r.Value
		if r.Key == schema.SettingLastOpenBookID {
			bookID, ok := localBooks[r.Value]
			if !ok {
				stats.Skipped++
				continue
			}
			value = strconv.FormatInt(bookID, 10)
		}
		if err := s.db.SetSetting(ctx, r.Key, value); err != nil {
			return stats, err
		}
		stats.SettingsApplied++
	}

	if _, err := s.db.AdvanceLastSyncAt(ctx, s.now()); err != nil {
		return stats, err
	}
	s.logger.Printf("Completed %s", stats)
	return stats, nil
}

// PullIncremental implements Engine.
func (s *Syncer) PullIncremental(ctx context.Context, userID string) (*PullStats, error) {
	since, ok, err := s.db.LastSyncAt(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.PullAll(ctx, userID)
	}

	stats := &PullStats{Mode: ModeIncremental}
	q := remote.Query{UserID: userID, UpdatedAfter: since}

	books, err := s.store.SelectBooks(ctx, q)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch books: %w", err)
	}
	transactions, err := s.store.SelectTransactions(ctx, q)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	for _, r := range books {
		b := fromRemoteBook(r)
		localID, found, err := s.db.LocalID(ctx, schema.KindBook, r.ID)
		if err != nil {
			return stats, err
		}
		if found {
			b.ID = localID
			if err := s.db.UpdatePulledBook(ctx, b); err != nil {
				return stats, err
			}
			stats.BooksUpdated++
			continue
		}
		if err := s.db.InsertPulledBook(ctx, b); err != nil {
			return stats, err
		}
		stats.BooksInserted++
	}

	for _, r := range transactions {
		bookID, found, err := s.db.LocalID(ctx, schema.KindBook, r.BookID)
		if err != nil {
			return stats, err
		}
		if !found {
			stats.Skipped++
			continue
		}
		tx := fromRemoteTransaction(r, bookID)

		localID, found, err := s.db.LocalID(ctx, schema.KindTransaction, r.ID)
		if err != nil {
			return stats, err
		}
		if found {
			tx.ID = localID
			if err := s.db.UpdatePulledTransaction(ctx, tx); err != nil {
				return stats, err
			}
			stats.TransactionsUpdated++
			continue
		}
		if err := s.db.InsertPulledTransaction(ctx, tx); err != nil {
			return stats, err
		}
		stats.TransactionsInserted++
	}

	deleted, err := s.sweepBooks(ctx, userID)
	stats.BooksDeleted = deleted
	if err != nil {
		return stats, err
	}

	if _, err := s.db.AdvanceLastSyncAt(ctx, s.now()); err != nil {
		return stats, err
	}
	s.logger.Printf("Completed %s", stats)
	return stats, nil
}

// sweepBooks deletes local books whose server id no longer exists remotely,
// together with their categories and transactions.
func (s *Syncer) sweepBooks(ctx context.Context, userID string) (int, error) {
	synced, err := s.db.SyncedBooks(ctx)
	if err != nil {
		return 0, err
	}
	if len(synced) == 0 {
		return 0, nil
	}

	ids := make([]string, len(synced))
	for i, r := range synced {
		ids[i] = r.ServerID
	}
	existing, err := s.store.SelectBooks(ctx, remote.Query{UserID: userID, IDs: ids})
	if err != nil {
		return 0, fmt.Errorf("failed to check remote books: %w", err)
	}
	alive := make(map[string]bool, len(existing))
	for _, b := range existing {
		alive[b.ID] = true
	}

	deleted := 0
	for _, r := range synced {
		if alive[r.ServerID] {
			continue
		}
		if err := s.db.DeleteBook(ctx, r.LocalID); err != nil {
			return deleted, err
		}
		s.logger.Printf("Removed book %d (%s): deleted remotely", r.LocalID, r.ServerID)
		deleted++
	}
	return deleted, nil
}
