package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/intheblack/ledger/internal/ledger/schema"
)

// ErrServerIDAssigned is returned by SetServerID when the row already maps
// to a different remote identifier.
var ErrServerIDAssigned = errors.New("server id already assigned")

// ServerID returns the remote identifier of a local row. ok is false when
// the row does not exist or has never been pushed.
func (db *DB) ServerID(ctx context.Context, kind schema.Kind, localID int64) (serverID string, ok bool, err error) {
	var ns sql.NullString
	err = db.conn.QueryRowContext(ctx,
		`SELECT server_id FROM `+kind.Table()+` WHERE id = ?`, localID,
	).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get server id of %s %d: %w", kind, localID, err)
	}
	if !ns.Valid || ns.String == "" {
		return "", false, nil
	}
	return ns.String, true, nil
}

// LocalID returns the local row that maps to serverID. The lookup uses the
// unique partial index on server_id.
func (db *DB) LocalID(ctx context.Context, kind schema.Kind, serverID string) (localID int64, ok bool, err error) {
	if serverID == "" {
		return 0, false, nil
	}
	err = db.conn.QueryRowContext(ctx,
		`SELECT id FROM `+kind.Table()+` WHERE server_id = ?`, serverID,
	).Scan(&localID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve %s %s: %w", kind, serverID, err)
	}
	return localID, true, nil
}

// SetServerID records the remote identifier of a local row. A remote
// identifier is immutable once set: writing the same value again is a no-op
// and writing a different one fails with ErrServerIDAssigned.
func (db *DB) SetServerID(ctx context.Context, kind schema.Kind, localID int64, serverID string) error {
	if serverID == "" {
		return fmt.Errorf("server id is required")
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE `+kind.Table()+` SET server_id = ? WHERE id = ? AND server_id IS NULL`,
		serverID, localID,
	)
	if err != nil {
		return fmt.Errorf("failed to set server id of %s %d: %w", kind, localID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	current, ok, err := db.ServerID(ctx, kind, localID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %d: %w", kind, localID, ErrNotFound)
	}
	if current != serverID {
		return fmt.Errorf("%s %d has %s, refusing %s: %w", kind, localID, current, serverID, ErrServerIDAssigned)
	}
	return nil
}

// AllIDs returns the local ids of every row of kind in ascending order.
func (db *DB) AllIDs(ctx context.Context, kind schema.Kind) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM `+kind.Table()+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", kind, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", kind, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s ids: %w", kind, err)
	}
	return ids, nil
}
