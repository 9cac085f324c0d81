// SPDX-License-Identifier: MIT

// Package session drives the consultation lifecycle. Each session is a small
// state machine persisted in the store; every transition runs inside one
// write transaction, so concurrent requests and accepts serialise there.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/EmilynnJ/ccodeseer/internal/bus"
	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/ledger"
	"github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/metrics"
	"github.com/EmilynnJ/ccodeseer/internal/presence"
	"github.com/EmilynnJ/ccodeseer/internal/store"
	"github.com/EmilynnJ/ccodeseer/internal/token"
)

// PendingTTL is how long a session may sit unaccepted before the sweep
// cancels it. The 60-second ring window is client-side; the server only
// enforces this upper bound.
const PendingTTL = 5 * time.Minute

// Orchestrator owns session state transitions.
type Orchestrator struct {
	store    *store.Store
	ledger   *ledger.Ledger
	presence *presence.Registry
	broker   *token.Broker
	notifier *bus.Notifier
	pub      bus.Publisher
	now      func() time.Time
	logger   zerolog.Logger
}

func New(s *store.Store, l *ledger.Ledger, p *presence.Registry, b *token.Broker, n *bus.Notifier, pub bus.Publisher) *Orchestrator {
	return &Orchestrator{
		store:    s,
		ledger:   l,
		presence: p,
		broker:   b,
		notifier: n,
		pub:      pub,
		now:      time.Now,
		logger:   log.WithComponent("session"),
	}
}

// WithClock overrides the time source, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Request creates a pending session for clientID with the given reader.
// The rate is frozen at request time; channel names are allocated here and
// never change.
func (o *Orchestrator) Request(ctx context.Context, clientID, readerID string, sessType domain.SessionType) (*domain.Session, error) {
	if !domain.ValidSessionType(sessType) {
		metrics.SessionsRequested.WithLabelValues("invalid").Inc()
		return nil, domain.Ef(domain.CodeValidation, "unknown session type %q", sessType)
	}
	if clientID == readerID {
		metrics.SessionsRequested.WithLabelValues("invalid").Inc()
		return nil, domain.E(domain.CodeValidation, "cannot request a session with yourself")
	}

	var sess *domain.Session
	err := o.store.InTx(ctx, func(q *store.Queries) error {
		reader, err := q.ReaderProfile(ctx, readerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.CodeReaderUnavailable, "reader not found")
			}
			return err
		}
		if reader.Status != domain.PresenceOnline {
			return domain.E(domain.CodeReaderUnavailable, "reader is not online")
		}
		rate, ok := reader.RateFor(sessType)
		if !ok || rate.Sign() <= 0 {
			return domain.Ef(domain.CodeReaderUnavailable, "reader has no %s rate", sessType)
		}

		client, err := q.ClientProfile(ctx, clientID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.CodeNotFound, "client profile not found")
			}
			return err
		}
		if reserve := domain.Reserve(rate); client.Balance.LessThan(reserve) {
			return domain.Ef(domain.CodeInsufficientBalance,
				"balance %s below required reserve %s",
				client.Balance.StringFixed(2), reserve.StringFixed(2))
		}

		now := o.now().UTC()
		id := uuid.NewString()
		sess = &domain.Session{
			ID:            id,
			ClientID:      clientID,
			ReaderID:      readerID,
			Type:          sessType,
			Status:        domain.SessionPending,
			RatePerMin:    rate,
			RTCChannel:    fmt.Sprintf("reading_%s", id),
			PubSubChannel: bus.SessionChannel(id),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return q.CreateSession(ctx, sess)
	})
	if err != nil {
		metrics.SessionsRequested.WithLabelValues(requestOutcome(err)).Inc()
		return nil, classify(err)
	}
	metrics.SessionsRequested.WithLabelValues("created").Inc()

	if err := o.notifier.Notify(ctx, &domain.Notification{
		UserID: readerID,
		Type:   domain.NotifReadingRequest,
		Title:  "New reading request",
		Body:   fmt.Sprintf("A client is requesting a %s reading", sessType),
		Metadata: map[string]any{
			"session_id": sess.ID,
			"type":       string(sessType),
			"rate":       sess.RatePerMin.StringFixed(2),
		},
	}); err != nil {
		// Request stands; the reader still sees it in their pending list.
		o.logger.Warn().Err(err).Str(log.FieldSessionID, sess.ID).Msg("reading request notification failed")
	}

	o.logger.Info().
		Str(log.FieldEvent, "session.requested").
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldClientID, clientID).
		Str(log.FieldReaderID, readerID).
		Msg("session requested")
	return sess, nil
}

// AcceptResult is what the accepting reader gets back.
type AcceptResult struct {
	Session     *domain.Session
	RTCToken    token.RTCToken
	PubSubToken token.PubSubToken
}

// Accept transitions a pending session to active and mints the reader's
// credentials. Idempotent for the same reader on an already-active session.
// Losing the race for a busy reader cancels the session and reports
// the reader as unavailable.
func (o *Orchestrator) Accept(ctx context.Context, readerID, sessionID string) (*AcceptResult, error) {
	var (
		sess      *domain.Session
		firstTime bool
		raceLost  bool
	)
	err := o.store.InTx(ctx, func(q *store.Queries) error {
		s, err := q.SessionByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.CodeNotFound, "session not found")
			}
			return err
		}
		if s.ReaderID != readerID {
			return domain.E(domain.CodeNotAuthorized, "session belongs to another reader")
		}

		switch s.Status {
		case domain.SessionActive:
			// Repeat accept: hand back the same row, no new events.
			sess, firstTime = s, false
			return nil
		case domain.SessionPending:
		default:
			return domain.Ef(domain.CodeInvalidState, "cannot accept session in status %s", s.Status)
		}

		if active, err := q.ActiveSessionForReader(ctx, readerID); err == nil && active.ID != s.ID {
			// Lost the race to another client's request. The cancellation
			// must commit, so the error is surfaced after the transaction.
			now := o.now().UTC()
			s.Status = domain.SessionCancelled
			s.Notes = domain.CancelReasonReaderBusy
			s.UpdatedAt = now
			if err := q.SaveSession(ctx, s); err != nil {
				return err
			}
			sess, raceLost = s, true
			return nil
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := o.now().UTC()
		s.Status = domain.SessionActive
		s.StartTime = &now
		s.UpdatedAt = now
		if err := q.SaveSession(ctx, s); err != nil {
			return err
		}
		if err := o.presence.Apply(ctx, q, readerID, domain.PresenceInSession); err != nil {
			return err
		}
		sess, firstTime = s, true
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if raceLost {
		o.publish(ctx, bus.UserChannel(sess.ClientID), bus.Event{
			Name: bus.EventSessionDeclined,
			Data: map[string]any{"session_id": sess.ID, "reason": domain.CancelReasonReaderBusy},
		})
		return nil, domain.E(domain.CodeReaderUnavailable, "reader is already in a session")
	}

	readerRTC := o.broker.MintRTC(readerID, sess.RTCChannel, token.RolePublisher)
	readerPS, err := o.broker.MintPubSub(readerID)
	if err != nil {
		return nil, domain.Wrap(domain.CodeInternal, "mint pub/sub token", err)
	}

	if firstTime {
		o.presence.PublishTransition(ctx, readerID, domain.PresenceInSession)

		clientRTC := o.broker.MintRTC(sess.ClientID, sess.RTCChannel, token.RolePublisher)
		o.publish(ctx, bus.UserChannel(sess.ClientID), bus.Event{
			Name: bus.EventSessionAccepted,
			Data: map[string]any{
				"session_id": sess.ID,
				"channel":    sess.RTCChannel,
				"token":      clientRTC.Token,
				"uid":        clientRTC.UID,
			},
		})
		o.publish(ctx, sess.PubSubChannel, bus.Event{
			Name: bus.EventSessionStarted,
			Data: map[string]any{
				"session_id": sess.ID,
				"started_at": sess.StartTime.UnixMilli(),
			},
		})
		if err := o.notifier.Notify(ctx, &domain.Notification{
			UserID:   sess.ClientID,
			Type:     domain.NotifSessionAccepted,
			Title:    "Reading accepted",
			Body:     "Your reader has accepted; connecting now",
			Metadata: map[string]any{"session_id": sess.ID},
		}); err != nil {
			o.logger.Warn().Err(err).Str(log.FieldSessionID, sess.ID).Msg("accept notification failed")
		}

		o.logger.Info().
			Str(log.FieldEvent, "session.accepted").
			Str(log.FieldSessionID, sess.ID).
			Str(log.FieldReaderID, readerID).
			Msg("session accepted")
	}

	return &AcceptResult{Session: sess, RTCToken: readerRTC, PubSubToken: readerPS}, nil
}

// Decline cancels a pending session at the reader's request.
func (o *Orchestrator) Decline(ctx context.Context, readerID, sessionID, reason string) (*domain.Session, error) {
	if reason == "" {
		reason = domain.CancelReasonDeclined
	}
	sess, err := o.cancelPending(ctx, sessionID, reason, func(s *domain.Session) error {
		if s.ReaderID != readerID {
			return domain.E(domain.CodeNotAuthorized, "session belongs to another reader")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.publish(ctx, bus.UserChannel(sess.ClientID), bus.Event{
		Name: bus.EventSessionDeclined,
		Data: map[string]any{"session_id": sess.ID, "reason": reason},
	})
	if err := o.notifier.Notify(ctx, &domain.Notification{
		UserID:   sess.ClientID,
		Type:     domain.NotifSessionDeclined,
		Title:    "Reading declined",
		Body:     "Your reader is unable to take this reading",
		Metadata: map[string]any{"session_id": sess.ID, "reason": reason},
	}); err != nil {
		o.logger.Warn().Err(err).Str(log.FieldSessionID, sess.ID).Msg("decline notification failed")
	}
	return sess, nil
}

// Cancel withdraws a pending request at the client's initiative.
func (o *Orchestrator) Cancel(ctx context.Context, clientID, sessionID string) (*domain.Session, error) {
	sess, err := o.cancelPending(ctx, sessionID, domain.CancelReasonClientCancelled, func(s *domain.Session) error {
		if s.ClientID != clientID {
			return domain.E(domain.CodeNotAuthorized, "session belongs to another client")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.publish(ctx, bus.UserChannel(sess.ReaderID), bus.Event{
		Name: bus.EventSessionDeclined,
		Data: map[string]any{"session_id": sess.ID, "reason": domain.CancelReasonClientCancelled},
	})
	return sess, nil
}

func (o *Orchestrator) cancelPending(ctx context.Context, sessionID, reason string, authorize func(*domain.Session) error) (*domain.Session, error) {
	var sess *domain.Session
	err := o.store.InTx(ctx, func(q *store.Queries) error {
		s, err := q.SessionByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.CodeNotFound, "session not found")
			}
			return err
		}
		if err := authorize(s); err != nil {
			return err
		}
		if s.Status != domain.SessionPending {
			return domain.Ef(domain.CodeInvalidState, "cannot cancel session in status %s", s.Status)
		}
		s.Status = domain.SessionCancelled
		s.Notes = reason
		s.UpdatedAt = o.now().UTC()
		if err := q.SaveSession(ctx, s); err != nil {
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return sess, nil
}

// EndResult is the settled outcome of a session.
type EndResult struct {
	Session      *domain.Session
	AlreadyEnded bool
}

// End completes an active session, bills per started minute and settles the
// money in the same transaction. Idempotent: a repeat call on a completed
// session returns the stored result without further debits or events.
func (o *Orchestrator) End(ctx context.Context, subjectID, sessionID string) (*EndResult, error) {
	var (
		sess       *domain.Session
		settlement *ledger.Settlement
	)
	err := o.store.InTx(ctx, func(q *store.Queries) error {
		s, err := q.SessionByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.CodeNotFound, "session not found")
			}
			return err
		}
		if !s.IsParty(subjectID) {
			return domain.E(domain.CodeNotAuthorized, "not a party to this session")
		}

		switch s.Status {
		case domain.SessionCompleted:
			sess = s
			return nil
		case domain.SessionActive:
		default:
			return domain.Ef(domain.CodeInvalidState, "cannot end session in status %s", s.Status)
		}
		if s.StartTime == nil {
			return domain.E(domain.CodeInternal, "active session without start time")
		}

		end := o.now().UTC()
		s.EndTime = &end
		s.DurationSeconds = domain.BilledSeconds(*s.StartTime, end)

		charge := domain.ComputeCharge(s.DurationSeconds, s.RatePerMin, o.ledger.FeeShare())
		s.TotalAmount = charge.TotalAmount
		s.PlatformFee = charge.PlatformFee
		s.ReaderEarnings = charge.ReaderEarnings

		settlement, err = o.ledger.SettleSession(ctx, q, s)
		if err != nil {
			return err
		}

		s.Status = domain.SessionCompleted
		s.UpdatedAt = end
		if err := q.SaveSession(ctx, s); err != nil {
			return err
		}

		reader, err := q.ReaderProfile(ctx, s.ReaderID)
		if err != nil {
			return err
		}
		reader.Status = domain.PresenceOnline
		reader.Available = true
		reader.TotalReadings++
		reader.UpdatedAt = end
		if err := q.SaveReaderProfile(ctx, reader); err != nil {
			return err
		}

		sess = s
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if settlement == nil {
		return &EndResult{Session: sess, AlreadyEnded: true}, nil
	}

	kind := "full"
	if settlement.Partial {
		kind = "partial"
	}
	metrics.SessionsCompleted.WithLabelValues(kind).Inc()

	o.presence.PublishTransition(ctx, sess.ReaderID, domain.PresenceOnline)
	o.publish(ctx, sess.PubSubChannel, bus.Event{
		Name: bus.EventSessionEnded,
		Data: map[string]any{
			"session_id":       sess.ID,
			"duration_seconds": sess.DurationSeconds,
			"total_amount":     sess.TotalAmount.StringFixed(2),
		},
	})
	o.notifySummary(ctx, sess)

	o.logger.Info().
		Str(log.FieldEvent, "session.completed").
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldAmount, sess.TotalAmount.StringFixed(2)).
		Bool("partial", settlement.Partial).
		Msg("session settled")
	return &EndResult{Session: sess}, nil
}

func (o *Orchestrator) notifySummary(ctx context.Context, sess *domain.Session) {
	meta := map[string]any{
		"session_id":       sess.ID,
		"duration_seconds": sess.DurationSeconds,
		"total_amount":     sess.TotalAmount.StringFixed(2),
	}
	for _, target := range []struct {
		userID string
		body   string
	}{
		{sess.ClientID, fmt.Sprintf("Your %s reading ended; you were charged %s", sess.Type, sess.TotalAmount.StringFixed(2))},
		{sess.ReaderID, fmt.Sprintf("Your %s reading ended; you earned %s", sess.Type, sess.ReaderEarnings.StringFixed(2))},
	} {
		if err := o.notifier.Notify(ctx, &domain.Notification{
			UserID:   target.userID,
			Type:     domain.NotifSessionSummary,
			Title:    "Reading complete",
			Body:     target.body,
			Metadata: meta,
		}); err != nil {
			o.logger.Warn().Err(err).Str(log.FieldSessionID, sess.ID).Msg("summary notification failed")
		}
	}
}

// SweepPending cancels pending sessions older than PendingTTL. Returns how
// many were swept.
func (o *Orchestrator) SweepPending(ctx context.Context) (int, error) {
	cutoff := o.now().UTC().Add(-PendingTTL)
	stale, err := o.store.PendingSessionsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, domain.Wrap(domain.CodeTransient, "list stale sessions", err)
	}

	swept := 0
	for _, candidate := range stale {
		sess, err := o.cancelPending(ctx, candidate.ID, domain.CancelReasonTimeout, func(*domain.Session) error { return nil })
		if err != nil {
			if domain.CodeOf(err) == domain.CodeInvalidState {
				continue // accepted or cancelled since the listing
			}
			return swept, err
		}
		swept++
		metrics.SessionsSwept.Inc()

		o.publish(ctx, bus.UserChannel(sess.ClientID), bus.Event{
			Name: bus.EventSessionDeclined,
			Data: map[string]any{"session_id": sess.ID, "reason": domain.CancelReasonTimeout},
		})
		o.logger.Info().
			Str(log.FieldEvent, "session.swept").
			Str(log.FieldSessionID, sess.ID).
			Msg("stale pending session cancelled")
	}
	return swept, nil
}

// RunSweeper runs SweepPending on the interval until ctx is done.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.SweepPending(ctx); err != nil {
				o.logger.Error().Err(err).Msg("pending sweep failed")
			}
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, channel string, event bus.Event) {
	if err := o.pub.Publish(ctx, channel, event); err != nil {
		o.logger.Warn().Err(err).Str(log.FieldChannel, channel).Msg("publish failed")
	}
}

func requestOutcome(err error) string {
	switch domain.CodeOf(err) {
	case domain.CodeReaderUnavailable:
		return "reader_unavailable"
	case domain.CodeInsufficientBalance:
		return "insufficient_balance"
	default:
		return "error"
	}
}

// classify keeps domain errors intact and folds store failures into the
// retryable class.
func classify(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Wrap(domain.CodeTransient, "session operation failed", err)
}
