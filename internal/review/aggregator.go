// SPDX-License-Identifier: MIT

// Package review handles post-session ratings. One review per completed
// session, authored by the client; the reader may add a response. The
// reader's running average is recomputed from the rows, never incrementally.
package review

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/EmilynnJ/ccodeseer/internal/bus"
	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/store"
)

// Aggregator owns review writes and the reader rating rollup.
type Aggregator struct {
	store    *store.Store
	notifier *bus.Notifier
	now      func() time.Time
	logger   zerolog.Logger
}

func New(s *store.Store, n *bus.Notifier) *Aggregator {
	return &Aggregator{
		store:    s,
		notifier: n,
		now:      time.Now,
		logger:   log.WithComponent("review"),
	}
}

// WithClock overrides the time source, for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Submit records the client's review of a completed session and recomputes
// the reader's rating in the same transaction.
func (a *Aggregator) Submit(ctx context.Context, clientID, sessionID string, rating int, comment string) (*domain.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, domain.E(domain.CodeValidation, "rating must be between 1 and 5")
	}

	var rev *domain.Review
	err := a.store.InTx(ctx, func(q *store.Queries) error {
		sess, err := q.SessionByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.CodeNotFound, "session not found")
			}
			return err
		}
		if sess.ClientID != clientID {
			return domain.E(domain.CodeNotAuthorized, "only the session's client may review it")
		}
		if sess.Status != domain.SessionCompleted {
			return domain.Ef(domain.CodeInvalidState, "cannot review session in status %s", sess.Status)
		}

		now := a.now().UTC()
		rev = &domain.Review{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			ClientID:  clientID,
			ReaderID:  sess.ReaderID,
			Rating:    rating,
			Comment:   comment,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := q.InsertReview(ctx, rev); err != nil {
			if errors.Is(err, store.ErrDuplicateReview) {
				return domain.E(domain.CodeConflict, "session already reviewed")
			}
			return err
		}
		return a.recompute(ctx, q, sess.ReaderID, now)
	})
	if err != nil {
		return nil, classify(err)
	}

	if err := a.notifier.Notify(ctx, &domain.Notification{
		UserID: rev.ReaderID,
		Type:   domain.NotifNewReview,
		Title:  "New review",
		Body:   "A client left a review on your reading",
		Metadata: map[string]any{
			"session_id": sessionID,
			"rating":     rating,
		},
	}); err != nil {
		a.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("review notification failed")
	}

	a.logger.Info().
		Str(log.FieldEvent, "review.submitted").
		Str(log.FieldSessionID, sessionID).
		Int("rating", rating).
		Msg("review recorded")
	return rev, nil
}

// Respond stores the reader's response on their own review. Only the
// response column ever changes.
func (a *Aggregator) Respond(ctx context.Context, readerID, sessionID, response string) (*domain.Review, error) {
	var rev *domain.Review
	err := a.store.InTx(ctx, func(q *store.Queries) error {
		r, err := q.ReviewBySession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.CodeNotFound, "review not found")
			}
			return err
		}
		if r.ReaderID != readerID {
			return domain.E(domain.CodeNotAuthorized, "review belongs to another reader")
		}

		now := a.now().UTC()
		if err := q.UpdateReviewResponse(ctx, r.ID, response, now); err != nil {
			return err
		}
		r.Response = response
		r.UpdatedAt = now
		rev = r
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return rev, nil
}

// BySession reads the review of a session, if any.
func (a *Aggregator) BySession(ctx context.Context, sessionID string) (*domain.Review, error) {
	r, err := a.store.ReviewBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.E(domain.CodeNotFound, "review not found")
		}
		return nil, domain.Wrap(domain.CodeTransient, "review read failed", err)
	}
	return r, nil
}

func (a *Aggregator) recompute(ctx context.Context, q *store.Queries, readerID string, now time.Time) error {
	avg, count, err := q.ReaderRatingStats(ctx, readerID)
	if err != nil {
		return err
	}
	p, err := q.ReaderProfile(ctx, readerID)
	if err != nil {
		return err
	}
	p.Rating = avg
	p.ReviewCount = count
	p.UpdatedAt = now
	return q.SaveReaderProfile(ctx, p)
}

func classify(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Wrap(domain.CodeTransient, "review operation failed", err)
}
