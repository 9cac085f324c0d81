// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
)

// ErrDuplicateRef signals an insert that collided with the unique
// (type, external_ref) index.
var ErrDuplicateRef = errors.New("store: duplicate external reference")

const transactionColumns = `
	SELECT id, user_id, session_id, type, amount, fee, net_amount, status,
		external_ref, description, created_at_ms
	FROM transactions`

func (q *Queries) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, user_id, session_id, type, amount, fee, net_amount, status,
			external_ref, description, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.SessionID, string(t.Type),
		t.Amount.StringFixed(2), t.Fee.StringFixed(2), t.NetAmount.StringFixed(2),
		string(t.Status), t.ExternalRef, t.Description, timeToMs(t.CreatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateRef
	}
	return err
}

func (q *Queries) TransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, transactionColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// TransactionByExternalRef resolves a journal row by its processor
// reference; the idempotency lookup for deposits and webhook replays.
func (q *Queries) TransactionByExternalRef(ctx context.Context, typ domain.TransactionType, ref string) (*domain.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, transactionColumns+`
		WHERE type = ? AND external_ref = ?`, string(typ), ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// TransactionsForSession lists the journal rows linked to a session.
func (q *Queries) TransactionsForSession(ctx context.Context, sessionID string) ([]*domain.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, transactionColumns+`
		WHERE session_id = ? ORDER BY created_at_ms, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectTransactions(rows)
}

func (q *Queries) TransactionsForUser(ctx context.Context, userID string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, transactionColumns+`
		WHERE user_id = ? ORDER BY created_at_ms DESC, id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectTransactions(rows)
}

// UpdateTransactionStatus is the only legal mutation of a journal row.
func (q *Queries) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE transactions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// SumNetByUser totals net_amount over completed rows for one user. Used by
// reconciliation tests, not at runtime.
func (q *Queries) SumNetByUser(ctx context.Context, userID string) (decimal.Decimal, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT net_amount FROM transactions WHERE user_id = ? AND status = ?`,
		userID, string(domain.TxCompleted))
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = rows.Close() }()

	sum := decimal.Zero
	for rows.Next() {
		var net string
		if err := rows.Scan(&net); err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(scanDecimal(net))
	}
	return sum, rows.Err()
}

func collectTransactions(rows *sql.Rows) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var typ, amount, fee, net, status string
	var createdMs int64
	err := row.Scan(&t.ID, &t.UserID, &t.SessionID, &typ, &amount, &fee, &net,
		&status, &t.ExternalRef, &t.Description, &createdMs)
	if err != nil {
		return nil, err
	}
	t.Type = domain.TransactionType(typ)
	t.Amount = scanDecimal(amount)
	t.Fee = scanDecimal(fee)
	t.NetAmount = scanDecimal(net)
	t.Status = domain.TransactionStatus(status)
	t.CreatedAt = msToTime(createdMs)
	return &t, nil
}
