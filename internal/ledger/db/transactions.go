package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/intheblack/ledger/internal/ledger/schema"
)

const transactionColumns = `id, book_id, type, amount, description, category, date, server_id, created_at, updated_at`

// CreateTransaction inserts tx and fills in its ID and timestamps.
func (db *DB) CreateTransaction(ctx context.Context, tx *schema.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}

	now := db.stamp()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO transactions (type, amount, description, category, date, book_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.Type), tx.Amount.InexactFloat64(), tx.Description, tx.Category, tx.Date, tx.BookID, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read transaction id: %w", err)
	}
	tx.ID = id
	tx.ServerID = nil
	tx.CreatedAt = parseTime(now)
	tx.UpdatedAt = tx.CreatedAt
	return nil
}

// GetTransaction retrieves a single transaction by local id.
func (db *DB) GetTransaction(ctx context.Context, id int64) (*schema.Transaction, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %d: %w", id, err)
	}
	return tx, nil
}

// ListTransactions returns the transactions of a book, newest date first.
// A non-nil typ restricts the result to that entry type.
func (db *DB) ListTransactions(ctx context.Context, bookID int64, typ *schema.EntryType) ([]*schema.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE book_id = ?`
	args := []any{bookID}
	if typ != nil {
		query += ` AND type = ?`
		args = append(args, string(*typ))
	}
	query += ` ORDER BY date DESC, created_at DESC, id DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// UpdateTransaction writes the mutable fields of tx and refreshes updated_at.
// The owning book cannot be changed.
func (db *DB) UpdateTransaction(ctx context.Context, tx *schema.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}

	now := db.stamp()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE transactions
		SET type = ?, amount = ?, description = ?, category = ?, date = ?, updated_at = ?
		WHERE id = ?`,
		string(tx.Type), tx.Amount.InexactFloat64(), tx.Description, tx.Category, tx.Date, now, tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", tx.ID, err)
	}
	if err := checkAffected(res, "transaction", tx.ID); err != nil {
		return err
	}
	tx.UpdatedAt = parseTime(now)
	return nil
}

// DeleteTransaction removes a transaction. Deleting a missing row is a no-op.
func (db *DB) DeleteTransaction(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete transaction %d: %w", id, err)
	}
	return nil
}

func scanTransactions(rows *sql.Rows) ([]*schema.Transaction, error) {
	var txs []*schema.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(s scanner) (*schema.Transaction, error) {
	var tx schema.Transaction
	var typ string
	var amount float64
	var serverID sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(
		&tx.ID,
		&tx.BookID,
		&typ,
		&amount,
		&tx.Description,
		&tx.Category,
		&tx.Date,
		&serverID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Type = schema.EntryType(typ)
	tx.Amount = decimal.NewFromFloat(amount)
	tx.ServerID = stringPtr(serverID)
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)
	return &tx, nil
}
