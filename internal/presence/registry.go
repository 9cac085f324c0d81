// SPDX-License-Identifier: MIT

// Package presence maintains reader availability. Presence is the fast
// index for request eligibility; the session row stays the durable fact.
// Every transition is persisted first and then fanned out on the shared
// readers:status channel as best-effort.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/EmilynnJ/ccodeseer/internal/bus"
	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/store"
)

// Registry drives reader presence transitions.
type Registry struct {
	store  *store.Store
	pub    bus.Publisher
	now    func() time.Time
	logger zerolog.Logger
}

func New(s *store.Store, pub bus.Publisher) *Registry {
	return &Registry{
		store:  s,
		pub:    pub,
		now:    time.Now,
		logger: log.WithComponent("presence"),
	}
}

// WithClock overrides the time source, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// allowedSelf lists the transitions a reader may take on their own.
// online -> in_session and in_session -> online belong to the orchestrator.
var allowedSelf = map[domain.PresenceStatus][]domain.PresenceStatus{
	domain.PresenceOffline:   {domain.PresenceOnline},
	domain.PresenceOnline:    {domain.PresenceOffline, domain.PresenceBusy},
	domain.PresenceBusy:      {domain.PresenceOnline},
	domain.PresenceInSession: {domain.PresenceOnline}, // forced-online override
}

// Set applies a reader self-transition. The forced-online override out of
// in_session is rejected while a session row is still active.
func (r *Registry) Set(ctx context.Context, readerID string, target domain.PresenceStatus) (*domain.ReaderProfile, error) {
	if !domain.ValidPresence(target) {
		return nil, domain.Ef(domain.CodeValidation, "unknown presence status %q", target)
	}

	var profile *domain.ReaderProfile
	err := r.store.InTx(ctx, func(q *store.Queries) error {
		p, err := q.ReaderProfile(ctx, readerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.CodeNotFound, "reader profile not found")
			}
			return err
		}

		if !transitionAllowed(p.Status, target) {
			return domain.Ef(domain.CodeInvalidState, "cannot go %s -> %s", p.Status, target)
		}
		if p.Status == domain.PresenceInSession {
			if _, err := q.ActiveSessionForReader(ctx, readerID); err == nil {
				return domain.E(domain.CodeInvalidState, "reader has an active session; end it first")
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		p.Status = target
		p.Available = target == domain.PresenceOnline
		p.UpdatedAt = r.now().UTC()
		if err := q.SaveReaderProfile(ctx, p); err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, domain.Wrap(domain.CodeTransient, "presence update failed", err)
	}

	r.publish(ctx, readerID, target)
	return profile, nil
}

// Apply performs an orchestrator-driven transition inside the caller's open
// transaction. The caller publishes through PublishTransition after commit.
func (r *Registry) Apply(ctx context.Context, q *store.Queries, readerID string, target domain.PresenceStatus) error {
	p, err := q.ReaderProfile(ctx, readerID)
	if err != nil {
		return err
	}
	p.Status = target
	p.Available = target == domain.PresenceOnline
	p.UpdatedAt = r.now().UTC()
	return q.SaveReaderProfile(ctx, p)
}

// PublishTransition fans a committed transition out on readers:status.
func (r *Registry) PublishTransition(ctx context.Context, readerID string, status domain.PresenceStatus) {
	r.publish(ctx, readerID, status)
}

func (r *Registry) publish(ctx context.Context, readerID string, status domain.PresenceStatus) {
	err := r.pub.Publish(ctx, bus.ReadersStatusChannel, bus.Event{
		Name: bus.EventStatusUpdate,
		Data: map[string]any{
			"reader_id": readerID,
			"status":    string(status),
			"timestamp": r.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		// Best-effort channel; subscribers reconcile by polling readers/online.
		r.logger.Warn().Err(err).
			Str(log.FieldReaderID, readerID).
			Str(log.FieldNewState, string(status)).
			Msg("presence publish failed")
	}
}

// Online lists readers currently accepting requests.
func (r *Registry) Online(ctx context.Context) ([]*domain.ReaderProfile, error) {
	return r.store.OnlineReaders(ctx)
}

func transitionAllowed(from, to domain.PresenceStatus) bool {
	for _, t := range allowedSelf[from] {
		if t == to {
			return true
		}
	}
	return false
}
