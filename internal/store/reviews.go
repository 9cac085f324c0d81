// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
)

// ErrDuplicateReview signals a second review for the same session.
var ErrDuplicateReview = errors.New("store: session already reviewed")

func (q *Queries) InsertReview(ctx context.Context, r *domain.Review) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reviews (id, session_id, client_id, reader_id, rating, comment, response, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.ClientID, r.ReaderID, r.Rating, r.Comment, r.Response,
		timeToMs(r.CreatedAt), timeToMs(r.UpdatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateReview
	}
	return err
}

func (q *Queries) ReviewBySession(ctx context.Context, sessionID string) (*domain.Review, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, session_id, client_id, reader_id, rating, comment, response, created_at_ms, updated_at_ms
		FROM reviews WHERE session_id = ?`, sessionID)

	var r domain.Review
	var createdMs, updatedMs int64
	err := row.Scan(&r.ID, &r.SessionID, &r.ClientID, &r.ReaderID, &r.Rating,
		&r.Comment, &r.Response, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = msToTime(createdMs)
	r.UpdatedAt = msToTime(updatedMs)
	return &r, nil
}

// UpdateReviewResponse lets the reader edit only the response column.
func (q *Queries) UpdateReviewResponse(ctx context.Context, id, response string, now time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE reviews SET response = ?, updated_at_ms = ? WHERE id = ?`,
		response, timeToMs(now), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// ReaderRatingStats recomputes the running average and count over all of a
// reader's reviews.
func (q *Queries) ReaderRatingStats(ctx context.Context, readerID string) (avg decimal.Decimal, count int, err error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM reviews WHERE reader_id = ?`, readerID)
	var rawAvg float64
	if err := row.Scan(&rawAvg, &count); err != nil {
		return decimal.Zero, 0, err
	}
	return decimal.NewFromFloat(rawAvg).Round(2), count, nil
}
