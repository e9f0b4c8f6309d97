package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/remote"
	"github.com/intheblack/ledger/internal/ledger/schema"
)

// PushBook implements Engine.
func (s *Syncer) PushBook(ctx context.Context, userID string, localID int64) error {
	_, err := s.pushBook(ctx, userID, localID)
	return err
}

// pushBook pushes a book and returns its server id afterwards. The id is
// empty when the local row does not exist.
func (s *Syncer) pushBook(ctx context.Context, userID string, localID int64) (string, error) {
	b, err := s.db.GetBook(ctx, localID)
	if errors.Is(err, db.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read book %d: %w", localID, err)
	}

	row := toRemoteBook(b)
	if b.Synced() {
		row.ID = *b.ServerID
		if err := s.store.UpdateBook(ctx, row); err != nil {
			return *b.ServerID, fmt.Errorf("failed to update book %d: %w", localID, err)
		}
		s.logger.Printf("Updated book %d (%s)", localID, row.ID)
		return row.ID, nil
	}

	row.UserID = userID
	return s.insertOnce(ctx, schema.KindBook, localID, func() (string, error) {
		return s.store.InsertBook(ctx, row)
	})
}

// PushCategory implements Engine.
func (s *Syncer) PushCategory(ctx context.Context, userID string, localID int64) error {
	c, err := s.db.GetCategory(ctx, localID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read category %d: %w", localID, err)
	}

	bookServerID, err := s.parentServerID(ctx, userID, c.BookID)
	if err != nil {
		return err
	}
	if bookServerID == "" {
		s.logger.Printf("Skipping category %d: book %d has no server id", localID, c.BookID)
		return nil
	}

	row := toRemoteCategory(c, bookServerID)
	if c.Synced() {
		row.ID = *c.ServerID
		if err := s.store.UpdateCategory(ctx, row); err != nil {
			return fmt.Errorf("failed to update category %d: %w", localID, err)
		}
		s.logger.Printf("Updated category %d (%s)", localID, row.ID)
		return nil
	}

	row.UserID = userID
	_, err = s.insertOnce(ctx, schema.KindCategory, localID, func() (string, error) {
		return s.store.InsertCategory(ctx, row)
	})
	return err
}

// PushTransaction implements Engine.
func (s *Syncer) PushTransaction(ctx context.Context, userID string, localID int64) error {
	tx, err := s.db.GetTransaction(ctx, localID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read transaction %d: %w", localID, err)
	}

	bookServerID, err := s.parentServerID(ctx, userID, tx.BookID)
	if err != nil {
		return err
	}
	if bookServerID == "" {
		s.logger.Printf("Skipping transaction %d: book %d has no server id", localID, tx.BookID)
		return nil
	}

	row := toRemoteTransaction(tx, bookServerID)
	if tx.Synced() {
		row.ID = *tx.ServerID
		if err := s.store.UpdateTransaction(ctx, row); err != nil {
			return fmt.Errorf("failed to update transaction %d: %w", localID, err)
		}
		s.logger.Printf("Updated transaction %d (%s)", localID, row.ID)
		return nil
	}

	row.UserID = userID
	_, err = s.insertOnce(ctx, schema.KindTransaction, localID, func() (string, error) {
		return s.store.InsertTransaction(ctx, row)
	})
	return err
}

// parentServerID resolves the server id of a child's book, pushing the book
// first when it has none. A failed book push is logged, not returned; the
// caller sees an empty id and skips the child.
func (s *Syncer) parentServerID(ctx context.Context, userID string, bookID int64) (string, error) {
	id, ok, err := s.db.ServerID(ctx, schema.KindBook, bookID)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}

	if _, err := s.pushBook(ctx, userID, bookID); err != nil {
		s.logger.Printf("Failed to push parent book %d: %v", bookID, err)
	}

	id, ok, err = s.db.ServerID(ctx, schema.KindBook, bookID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return id, nil
}

// insertOnce runs a remote insert for a local row that has no server id and
// records the returned id. Concurrent calls for the same row share a single
// insert. When the row gained a server id between the caller's read and
// now, no insert is made.
func (s *Syncer) insertOnce(ctx context.Context, kind schema.Kind, localID int64, insert func() (string, error)) (string, error) {
	key := kind.String() + ":" + strconv.FormatInt(localID, 10)
	v, err, _ := s.inserts.Do(key, func() (any, error) {
		if id, ok, err := s.db.ServerID(ctx, kind, localID); err != nil {
			return "", err
		} else if ok {
			return id, nil
		}

		id, err := insert()
		if err != nil {
			return "", fmt.Errorf("failed to insert %s %d: %w", kind, localID, err)
		}
		err = s.db.SetServerID(ctx, kind, localID, id)
		if errors.Is(err, db.ErrNotFound) {
			// Deleted locally while the insert was in flight.
			s.logger.Printf("%s %d was deleted during insert, removing %s", kind, localID, id)
			if err := s.deleteRemote(ctx, kind, id); err != nil {
				return "", err
			}
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to record server id for %s %d: %w", kind, localID, err)
		}
		s.logger.Printf("Inserted %s %d as %s", kind, localID, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// PushDeleteBook implements Engine.
func (s *Syncer) PushDeleteBook(ctx context.Context, serverID string) error {
	if serverID == "" {
		return nil
	}
	if err := s.store.DeleteBook(ctx, serverID); err != nil {
		return fmt.Errorf("failed to delete book %s: %w", serverID, err)
	}
	s.logger.Printf("Deleted book %s", serverID)
	return nil
}

// PushDeleteCategory implements Engine.
func (s *Syncer) PushDeleteCategory(ctx context.Context, serverID string) error {
	if serverID == "" {
		return nil
	}
	if err := s.store.DeleteCategory(ctx, serverID); err != nil {
		return fmt.Errorf("failed to delete category %s: %w", serverID, err)
	}
	s.logger.Printf("Deleted category %s", serverID)
	return nil
}

// PushDeleteTransaction implements Engine.
func (s *Syncer) PushDeleteTransaction(ctx context.Context, serverID string) error {
	if serverID == "" {
		return nil
	}
	if err := s.store.DeleteTransaction(ctx, serverID); err != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", serverID, err)
	}
	s.logger.Printf("Deleted transaction %s", serverID)
	return nil
}

// PushSetting implements Engine.
func (s *Syncer) PushSetting(ctx context.Context, userID, key, value string) error {
	if schema.IsLocalOnly(key) {
		return nil
	}

	if key == schema.SettingLastOpenBookID {
		localID, err := schema.ParseBookID(value)
		if err != nil {
			s.logger.Printf("Skipping setting %s: %v", key, err)
			return nil
		}
		serverID, ok, err := s.db.ServerID(ctx, schema.KindBook, localID)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Printf("Skipping setting %s: book %d has no server id", key, localID)
			return nil
		}
		value = serverID
	}

	if err := s.store.UpsertSetting(ctx, &remote.Setting{UserID: userID, Key: key, Value: value}); err != nil {
		return fmt.Errorf("failed to push setting %s: %w", key, err)
	}
	return nil
}

// PushAllLocal implements Engine.
func (s *Syncer) PushAllLocal(ctx context.Context, userID string) error {
	var errs []error
	pushed := 0

	for _, kind := range schema.Kinds() {
		ids, err := s.db.AllIDs(ctx, kind)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.pushKind(ctx, kind, userID, id); err != nil {
				s.logger.Printf("Failed to push %s %d: %v", kind, id, err)
				errs = append(errs, err)
				continue
			}
			pushed++
		}
	}

	settings, err := s.db.ListSettings(ctx)
	if err != nil {
		return err
	}
	for _, st := range settings {
		if schema.IsLocalOnly(st.Key) {
			continue
		}
		if err := s.PushSetting(ctx, userID, st.Key, st.Value); err != nil {
			s.logger.Printf("Failed to push setting %s: %v", st.Key, err)
			errs = append(errs, err)
		}
	}

	// Set even when some pushes failed: unpushed rows must survive the next
	// pull.
	if _, err := s.db.AdvanceLastSyncAt(ctx, s.now()); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("push of local data incomplete (%d failed): %w", len(errs), errors.Join(errs...))
	}
	s.logger.Printf("Pushed %d local rows for %s", pushed, userID)
	return nil
}

func (s *Syncer) deleteRemote(ctx context.Context, kind schema.Kind, serverID string) error {
	switch kind {
	case schema.KindBook:
		return s.PushDeleteBook(ctx, serverID)
	case schema.KindCategory:
		return s.PushDeleteCategory(ctx, serverID)
	case schema.KindTransaction:
		return s.PushDeleteTransaction(ctx, serverID)
	default:
		return fmt.Errorf("unknown kind %d", int(kind))
	}
}

func (s *Syncer) pushKind(ctx context.Context, kind schema.Kind, userID string, localID int64) error {
	switch kind {
	case schema.KindBook:
		return s.PushBook(ctx, userID, localID)
	case schema.KindCategory:
		return s.PushCategory(ctx, userID, localID)
	case schema.KindTransaction:
		return s.PushTransaction(ctx, userID, localID)
	default:
		return fmt.Errorf("unknown kind %d", int(kind))
	}
}
