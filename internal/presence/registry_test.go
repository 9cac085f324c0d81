// SPDX-License-Identifier: MIT

package presence

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmilynnJ/ccodeseer/internal/bus"
	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/store"
)

type capturePub struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *capturePub) Publish(_ context.Context, channel string, event bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if channel == bus.ReadersStatusChannel {
		p.events = append(p.events, event)
	}
	return nil
}

func (p *capturePub) last(t *testing.T) bus.Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.events)
	return p.events[len(p.events)-1]
}

func setup(t *testing.T) (*store.Store, *capturePub, *Registry) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "seer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	pub := &capturePub{}
	return s, pub, New(s, pub)
}

func seedReader(t *testing.T, s *store.Store, status domain.PresenceStatus) string {
	t.Helper()
	now := time.Now().UTC()
	id := uuid.NewString()
	require.NoError(t, s.CreateUser(context.Background(), &domain.User{
		ID: id, Subject: "sub-" + id, Role: domain.RoleReader, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.CreateReaderProfile(context.Background(), &domain.ReaderProfile{
		UserID: id, ChatRate: decimal.RequireFromString("1.50"),
		VoiceRate: decimal.RequireFromString("2.00"), VideoRate: decimal.RequireFromString("3.00"),
		Status: status, Available: status == domain.PresenceOnline,
		PendingBalance: decimal.Zero, TotalEarned: decimal.Zero, TotalPaidOut: decimal.Zero,
		Rating: decimal.Zero, AccountStatus: domain.PayoutAccountActive, UpdatedAt: now,
	}))
	return id
}

func TestSetPersistsAndPublishes(t *testing.T) {
	s, pub, r := setup(t)
	ctx := context.Background()
	reader := seedReader(t, s, domain.PresenceOffline)

	p, err := r.Set(ctx, reader, domain.PresenceOnline)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceOnline, p.Status)
	assert.True(t, p.Available)

	got, err := s.ReaderProfile(ctx, reader)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceOnline, got.Status)

	ev := pub.last(t)
	assert.Equal(t, bus.EventStatusUpdate, ev.Name)
	data := ev.Data.(map[string]any)
	assert.Equal(t, reader, data["reader_id"])
	assert.Equal(t, "online", data["status"])
}

func TestSetRejectsIllegalTransitions(t *testing.T) {
	s, _, r := setup(t)
	ctx := context.Background()

	cases := []struct {
		from domain.PresenceStatus
		to   domain.PresenceStatus
	}{
		{domain.PresenceOffline, domain.PresenceBusy},
		{domain.PresenceOffline, domain.PresenceInSession},
		{domain.PresenceOnline, domain.PresenceInSession}, // orchestrator-only
		{domain.PresenceBusy, domain.PresenceOffline},
	}
	for _, tc := range cases {
		reader := seedReader(t, s, tc.from)
		_, err := r.Set(ctx, reader, tc.to)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
	}
}

func TestSetRejectsUnknownStatus(t *testing.T) {
	s, _, r := setup(t)
	reader := seedReader(t, s, domain.PresenceOffline)

	_, err := r.Set(context.Background(), reader, domain.PresenceStatus("away"))
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestForcedOnlineBlockedWhileSessionActive(t *testing.T) {
	s, _, r := setup(t)
	ctx := context.Background()
	reader := seedReader(t, s, domain.PresenceInSession)

	now := time.Now().UTC()
	client := uuid.NewString()
	require.NoError(t, s.CreateUser(ctx, &domain.User{
		ID: client, Subject: "sub-" + client, Role: domain.RoleClient, CreatedAt: now, UpdatedAt: now,
	}))
	start := now.Add(-time.Minute)
	require.NoError(t, s.CreateSession(ctx, &domain.Session{
		ID: uuid.NewString(), ClientID: client, ReaderID: reader,
		Type: domain.SessionChat, Status: domain.SessionActive,
		RatePerMin: decimal.RequireFromString("1.50"), StartTime: &start,
		TotalAmount: decimal.Zero, PlatformFee: decimal.Zero, ReaderEarnings: decimal.Zero,
		RTCChannel: "rtc", PubSubChannel: "ps", CreatedAt: now, UpdatedAt: now,
	}))

	_, err := r.Set(ctx, reader, domain.PresenceOnline)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))

	got, err := s.ReaderProfile(ctx, reader)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceInSession, got.Status, "status untouched")
}

func TestForcedOnlineAllowedWhenNoActiveSession(t *testing.T) {
	s, pub, r := setup(t)
	ctx := context.Background()
	reader := seedReader(t, s, domain.PresenceInSession)

	p, err := r.Set(ctx, reader, domain.PresenceOnline)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceOnline, p.Status)
	assert.Equal(t, bus.EventStatusUpdate, pub.last(t).Name)
}

func TestSetUnknownReader(t *testing.T) {
	_, _, r := setup(t)
	_, err := r.Set(context.Background(), uuid.NewString(), domain.PresenceOnline)
	require.Error(t, err)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func TestOnlineListsAvailableReaders(t *testing.T) {
	s, _, r := setup(t)
	ctx := context.Background()
	online := seedReader(t, s, domain.PresenceOnline)
	seedReader(t, s, domain.PresenceOffline)
	seedReader(t, s, domain.PresenceInSession)

	got, err := r.Online(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, online, got[0].UserID)
}
