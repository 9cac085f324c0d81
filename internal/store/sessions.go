// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
)

const sessionColumns = `
	SELECT id, client_id, reader_id, type, status, rate_per_min,
		start_time_ms, end_time_ms, duration_seconds,
		total_amount, platform_fee, reader_earnings,
		rtc_channel, pubsub_channel, partial_settlement, notes,
		created_at_ms, updated_at_ms
	FROM sessions`

func (q *Queries) CreateSession(ctx context.Context, s *domain.Session) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, client_id, reader_id, type, status, rate_per_min,
			start_time_ms, end_time_ms, duration_seconds,
			total_amount, platform_fee, reader_earnings,
			rtc_channel, pubsub_channel, partial_settlement, notes,
			created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ClientID, s.ReaderID, string(s.Type), string(s.Status), s.RatePerMin.StringFixed(2),
		nullableMs(s.StartTime), nullableMs(s.EndTime), s.DurationSeconds,
		s.TotalAmount.StringFixed(2), s.PlatformFee.StringFixed(2), s.ReaderEarnings.StringFixed(2),
		s.RTCChannel, s.PubSubChannel, boolToInt(s.PartialSettlement), s.Notes,
		timeToMs(s.CreatedAt), timeToMs(s.UpdatedAt))
	return err
}

func (q *Queries) SessionByID(ctx context.Context, id string) (*domain.Session, error) {
	s, err := scanSession(q.db.QueryRowContext(ctx, sessionColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// SaveSession writes every mutable session column back. Callers re-read the
// row inside the same transaction before saving, so the write is linearised.
func (q *Queries) SaveSession(ctx context.Context, s *domain.Session) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = ?, start_time_ms = ?, end_time_ms = ?, duration_seconds = ?,
			total_amount = ?, platform_fee = ?, reader_earnings = ?,
			partial_settlement = ?, notes = ?, updated_at_ms = ?
		WHERE id = ?`,
		string(s.Status), nullableMs(s.StartTime), nullableMs(s.EndTime), s.DurationSeconds,
		s.TotalAmount.StringFixed(2), s.PlatformFee.StringFixed(2), s.ReaderEarnings.StringFixed(2),
		boolToInt(s.PartialSettlement), s.Notes, timeToMs(s.UpdatedAt), s.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// ActiveSessionForReader returns the reader's session in status active, if any.
// At most one exists; the presence flag plus the write transaction enforce it.
func (q *Queries) ActiveSessionForReader(ctx context.Context, readerID string) (*domain.Session, error) {
	s, err := scanSession(q.db.QueryRowContext(ctx, sessionColumns+`
		WHERE reader_id = ? AND status = ? LIMIT 1`, readerID, string(domain.SessionActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// PendingSessionsOlderThan lists pending sessions created before cutoff,
// for the end-of-life sweep.
func (q *Queries) PendingSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	rows, err := q.db.QueryContext(ctx, sessionColumns+`
		WHERE status = ? AND created_at_ms < ? ORDER BY created_at_ms`,
		string(domain.SessionPending), timeToMs(cutoff))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectSessions(rows)
}

// SessionsForUser lists sessions in which userID is a party, newest first.
func (q *Queries) SessionsForUser(ctx context.Context, userID string, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, sessionColumns+`
		WHERE client_id = ? OR reader_id = ? ORDER BY created_at_ms DESC LIMIT ?`,
		userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*domain.Session, error) {
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var typ, status, rate, total, fee, earnings string
	var startMs, endMs sql.NullInt64
	var partial int
	var createdMs, updatedMs int64
	err := row.Scan(&s.ID, &s.ClientID, &s.ReaderID, &typ, &status, &rate,
		&startMs, &endMs, &s.DurationSeconds,
		&total, &fee, &earnings,
		&s.RTCChannel, &s.PubSubChannel, &partial, &s.Notes,
		&createdMs, &updatedMs)
	if err != nil {
		return nil, err
	}
	s.Type = domain.SessionType(typ)
	s.Status = domain.SessionStatus(status)
	s.RatePerMin = scanDecimal(rate)
	if startMs.Valid {
		t := msToTime(startMs.Int64)
		s.StartTime = &t
	}
	if endMs.Valid {
		t := msToTime(endMs.Int64)
		s.EndTime = &t
	}
	s.TotalAmount = scanDecimal(total)
	s.PlatformFee = scanDecimal(fee)
	s.ReaderEarnings = scanDecimal(earnings)
	s.PartialSettlement = partial != 0
	s.CreatedAt = msToTime(createdMs)
	s.UpdatedAt = msToTime(updatedMs)
	return &s, nil
}
