// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
)

const payoutColumns = `
	SELECT id, reader_id, amount, status, transfer_ref, fail_reason, created_at_ms, updated_at_ms
	FROM payouts`

func (q *Queries) InsertPayout(ctx context.Context, p *domain.Payout) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payouts (id, reader_id, amount, status, transfer_ref, fail_reason, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ReaderID, p.Amount.StringFixed(2), string(p.Status), p.TransferRef, p.FailReason,
		timeToMs(p.CreatedAt), timeToMs(p.UpdatedAt))
	return err
}

func (q *Queries) PayoutByID(ctx context.Context, id string) (*domain.Payout, error) {
	p, err := scanPayout(q.db.QueryRowContext(ctx, payoutColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (q *Queries) SavePayout(ctx context.Context, p *domain.Payout) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payouts SET status = ?, transfer_ref = ?, fail_reason = ?, updated_at_ms = ?
		WHERE id = ?`,
		string(p.Status), p.TransferRef, p.FailReason, timeToMs(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// StaleProcessingPayouts lists processing rows without a transfer reference
// older than cutoff. These are swept to failed before a scheduler run so a
// crash mid-transfer cannot double-pay.
func (q *Queries) StaleProcessingPayouts(ctx context.Context, cutoff time.Time) ([]*domain.Payout, error) {
	rows, err := q.db.QueryContext(ctx, payoutColumns+`
		WHERE status = ? AND transfer_ref = '' AND updated_at_ms < ?
		ORDER BY updated_at_ms`,
		string(domain.PayoutProcessing), timeToMs(cutoff))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *Queries) PayoutsForReader(ctx context.Context, readerID string, limit int) ([]*domain.Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, payoutColumns+`
		WHERE reader_id = ? ORDER BY created_at_ms DESC LIMIT ?`, readerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayout(row rowScanner) (*domain.Payout, error) {
	var p domain.Payout
	var amount, status string
	var createdMs, updatedMs int64
	err := row.Scan(&p.ID, &p.ReaderID, &amount, &status, &p.TransferRef, &p.FailReason, &createdMs, &updatedMs)
	if err != nil {
		return nil, err
	}
	p.Amount = scanDecimal(amount)
	p.Status = domain.PayoutStatus(status)
	p.CreatedAt = msToTime(createdMs)
	p.UpdatedAt = msToTime(updatedMs)
	return &p, nil
}
