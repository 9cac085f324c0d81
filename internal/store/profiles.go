// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
)

func (q *Queries) CreateClientProfile(ctx context.Context, p *domain.ClientProfile) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO client_profiles (user_id, balance, total_spent, updated_at_ms)
		VALUES (?, ?, ?, ?)`,
		p.UserID, p.Balance.StringFixed(2), p.TotalSpent.StringFixed(2), timeToMs(p.UpdatedAt))
	return err
}

func (q *Queries) ClientProfile(ctx context.Context, userID string) (*domain.ClientProfile, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT user_id, balance, total_spent, updated_at_ms
		FROM client_profiles WHERE user_id = ?`, userID)

	var p domain.ClientProfile
	var balance, spent string
	var updatedMs int64
	err := row.Scan(&p.UserID, &balance, &spent, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Balance = scanDecimal(balance)
	p.TotalSpent = scanDecimal(spent)
	p.UpdatedAt = msToTime(updatedMs)
	return &p, nil
}

func (q *Queries) SaveClientProfile(ctx context.Context, p *domain.ClientProfile) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE client_profiles SET balance = ?, total_spent = ?, updated_at_ms = ?
		WHERE user_id = ?`,
		p.Balance.StringFixed(2), p.TotalSpent.StringFixed(2), timeToMs(p.UpdatedAt), p.UserID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (q *Queries) CreateReaderProfile(ctx context.Context, p *domain.ReaderProfile) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reader_profiles (
			user_id, chat_rate, voice_rate, video_rate, available, status,
			pending_balance, total_earned, total_paid_out, rating, review_count,
			total_readings, payout_account, account_status, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.ChatRate.StringFixed(2), p.VoiceRate.StringFixed(2), p.VideoRate.StringFixed(2),
		boolToInt(p.Available), string(p.Status),
		p.PendingBalance.StringFixed(2), p.TotalEarned.StringFixed(2), p.TotalPaidOut.StringFixed(2),
		p.Rating.StringFixed(2), p.ReviewCount, p.TotalReadings, p.PayoutAccount,
		string(p.AccountStatus), timeToMs(p.UpdatedAt))
	return err
}

func (q *Queries) ReaderProfile(ctx context.Context, userID string) (*domain.ReaderProfile, error) {
	row := q.db.QueryRowContext(ctx, readerProfileColumns+` WHERE user_id = ?`, userID)
	return scanReaderProfile(row)
}

func (q *Queries) SaveReaderProfile(ctx context.Context, p *domain.ReaderProfile) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE reader_profiles SET
			chat_rate = ?, voice_rate = ?, video_rate = ?, available = ?, status = ?,
			pending_balance = ?, total_earned = ?, total_paid_out = ?, rating = ?,
			review_count = ?, total_readings = ?, payout_account = ?, account_status = ?,
			updated_at_ms = ?
		WHERE user_id = ?`,
		p.ChatRate.StringFixed(2), p.VoiceRate.StringFixed(2), p.VideoRate.StringFixed(2),
		boolToInt(p.Available), string(p.Status),
		p.PendingBalance.StringFixed(2), p.TotalEarned.StringFixed(2), p.TotalPaidOut.StringFixed(2),
		p.Rating.StringFixed(2), p.ReviewCount, p.TotalReadings, p.PayoutAccount,
		string(p.AccountStatus), timeToMs(p.UpdatedAt), p.UserID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// OnlineReaders lists reader profiles with presence online, for the public
// listing and for the poll-based reconciliation fallback of the status channel.
func (q *Queries) OnlineReaders(ctx context.Context) ([]*domain.ReaderProfile, error) {
	rows, err := q.db.QueryContext(ctx, readerProfileColumns+` WHERE status = ? ORDER BY user_id`,
		string(domain.PresenceOnline))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ReaderProfile
	for rows.Next() {
		p, err := scanReaderProfileRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EligiblePayoutReaders lists readers whose pending balance is at or above
// the floor and whose external account is active.
func (q *Queries) EligiblePayoutReaders(ctx context.Context, minPayout string) ([]*domain.ReaderProfile, error) {
	rows, err := q.db.QueryContext(ctx, readerProfileColumns+`
		WHERE CAST(pending_balance AS REAL) >= CAST(? AS REAL) AND account_status = ?
		ORDER BY user_id`,
		minPayout, string(domain.PayoutAccountActive))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ReaderProfile
	for rows.Next() {
		p, err := scanReaderProfileRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const readerProfileColumns = `
	SELECT user_id, chat_rate, voice_rate, video_rate, available, status,
		pending_balance, total_earned, total_paid_out, rating, review_count,
		total_readings, payout_account, account_status, updated_at_ms
	FROM reader_profiles`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReaderProfileRow(row rowScanner) (*domain.ReaderProfile, error) {
	var p domain.ReaderProfile
	var chat, voice, video, pending, earned, paidOut, rating string
	var available int
	var status, accountStatus string
	var updatedMs int64
	err := row.Scan(&p.UserID, &chat, &voice, &video, &available, &status,
		&pending, &earned, &paidOut, &rating, &p.ReviewCount,
		&p.TotalReadings, &p.PayoutAccount, &accountStatus, &updatedMs)
	if err != nil {
		return nil, err
	}
	p.ChatRate = scanDecimal(chat)
	p.VoiceRate = scanDecimal(voice)
	p.VideoRate = scanDecimal(video)
	p.Available = available != 0
	p.Status = domain.PresenceStatus(status)
	p.PendingBalance = scanDecimal(pending)
	p.TotalEarned = scanDecimal(earned)
	p.TotalPaidOut = scanDecimal(paidOut)
	p.Rating = scanDecimal(rating)
	p.AccountStatus = domain.PayoutAccountStatus(accountStatus)
	p.UpdatedAt = msToTime(updatedMs)
	return &p, nil
}

func scanReaderProfile(row *sql.Row) (*domain.ReaderProfile, error) {
	p, err := scanReaderProfileRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanReaderProfileRows(rows *sql.Rows) (*domain.ReaderProfile, error) {
	return scanReaderProfileRow(rows)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
