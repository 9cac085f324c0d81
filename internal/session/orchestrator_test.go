// SPDX-License-Identifier: MIT

package session

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
	"github.com/EmilynnJ/ccodeseer/internal/ledger"
	"github.com/EmilynnJ/ccodeseer/internal/presence"
	"github.com/EmilynnJ/ccodeseer/internal/store"
	"github.com/EmilynnJ/ccodeseer/internal/token"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type capturePub struct {
	mu     sync.Mutex
	events map[string][]bus.Event
}

func (p *capturePub) Publish(_ context.Context, channel string, event bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[string][]bus.Event{}
	}
	p.events[channel] = append(p.events[channel], event)
	return nil
}

func (p *capturePub) on(channel string) []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Event(nil), p.events[channel]...)
}

func (p *capturePub) named(channel, name string) []bus.Event {
	var out []bus.Event
	for _, ev := range p.on(channel) {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// clock is a settable test time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store *store.Store
	pub   *capturePub
	clock *clock
	orch  *Orchestrator
}

func setup(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "seer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clk := &clock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	pub := &capturePub{}
	led := ledger.New(s, dec("0.30")).WithClock(clk.now)
	reg := presence.New(s, pub).WithClock(clk.now)
	brk := token.New("app-1", "cert", "key:secret").WithClock(clk.now)
	notif := bus.NewNotifier(s, pub)
	notif.Now = clk.now

	return &fixture{
		store: s,
		pub:   pub,
		clock: clk,
		orch:  New(s, led, reg, brk, notif, pub).WithClock(clk.now),
	}
}

func (f *fixture) seedClient(t *testing.T, balance string) string {
	t.Helper()
	now := f.clock.now()
	id := uuid.NewString()
	require.NoError(t, f.store.CreateUser(context.Background(), &domain.User{
		ID: id, Subject: "sub-" + id, Role: domain.RoleClient, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, f.store.CreateClientProfile(context.Background(), &domain.ClientProfile{
		UserID: id, Balance: dec(balance), TotalSpent: decimal.Zero, UpdatedAt: now,
	}))
	return id
}

func (f *fixture) seedReader(t *testing.T, status domain.PresenceStatus) string {
	t.Helper()
	now := f.clock.now()
	id := uuid.NewString()
	require.NoError(t, f.store.CreateUser(context.Background(), &domain.User{
		ID: id, Subject: "sub-" + id, Role: domain.RoleReader, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, f.store.CreateReaderProfile(context.Background(), &domain.ReaderProfile{
		UserID: id, ChatRate: dec("1.50"), VoiceRate: dec("2.00"), VideoRate: dec("3.00"),
		Status: status, Available: status == domain.PresenceOnline,
		PendingBalance: decimal.Zero, TotalEarned: decimal.Zero, TotalPaidOut: decimal.Zero,
		Rating: decimal.Zero, AccountStatus: domain.PayoutAccountActive, UpdatedAt: now,
	}))
	return id
}

func TestHappyPathNinetySecondChat(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "10.00")
	reader := f.seedReader(t, domain.PresenceOnline)

	sess, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPending, sess.Status)
	assert.True(t, sess.RatePerMin.Equal(dec("1.50")), "rate frozen at request")
	assert.NotEmpty(t, sess.RTCChannel)

	// Reader got the durable request notification.
	notifs, err := f.store.NotificationsForUser(ctx, reader, 10)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, domain.NotifReadingRequest, notifs[0].Type)

	res, err := f.orch.Accept(ctx, reader, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, res.Session.Status)
	assert.NotEmpty(t, res.RTCToken.Token)
	assert.Equal(t, sess.RTCChannel, res.RTCToken.Channel)

	rp, err := f.store.ReaderProfile(ctx, reader)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceInSession, rp.Status)

	accepted := f.pub.named(bus.UserChannel(client), bus.EventSessionAccepted)
	require.Len(t, accepted, 1)
	data := accepted[0].Data.(map[string]any)
	assert.Equal(t, sess.RTCChannel, data["channel"])
	assert.NotEmpty(t, data["token"])

	f.clock.advance(90 * time.Second)
	end, err := f.orch.End(ctx, client, sess.ID)
	require.NoError(t, err)
	require.False(t, end.AlreadyEnded)

	got := end.Session
	assert.Equal(t, domain.SessionCompleted, got.Status)
	assert.Equal(t, int64(90), got.DurationSeconds)
	assert.True(t, got.TotalAmount.Equal(dec("3.00")), "total %s", got.TotalAmount)
	assert.True(t, got.PlatformFee.Equal(dec("0.90")))
	assert.True(t, got.ReaderEarnings.Equal(dec("2.10")))
	assert.False(t, got.PartialSettlement)

	cp, err := f.store.ClientProfile(ctx, client)
	require.NoError(t, err)
	assert.True(t, cp.Balance.Equal(dec("7.00")))

	rp, err = f.store.ReaderProfile(ctx, reader)
	require.NoError(t, err)
	assert.True(t, rp.PendingBalance.Equal(dec("2.10")))
	assert.Equal(t, domain.PresenceOnline, rp.Status)
	assert.Equal(t, 1, rp.TotalReadings)

	txs, err := f.store.TransactionsForSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	for _, userID := range []string{client, reader} {
		notifs, err := f.store.NotificationsForUser(ctx, userID, 10)
		require.NoError(t, err)
		var summaries int
		for _, n := range notifs {
			if n.Type == domain.NotifSessionSummary {
				summaries++
			}
		}
		assert.Equal(t, 1, summaries, "one summary for %s", userID)
	}
}

func TestRequestInsufficientBalance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "2.00") // reserve for 1.50/min chat is 4.50
	reader := f.seedReader(t, domain.PresenceOnline)

	_, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInsufficientBalance, domain.CodeOf(err))

	sessions, err := f.store.SessionsForUser(ctx, client, 10)
	require.NoError(t, err)
	assert.Empty(t, sessions, "no rows written")
}

func TestRequestReaderNotOnline(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "10.00")

	for _, status := range []domain.PresenceStatus{
		domain.PresenceOffline, domain.PresenceBusy, domain.PresenceInSession,
	} {
		reader := f.seedReader(t, status)
		_, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
		require.Error(t, err, "status %s", status)
		assert.Equal(t, domain.CodeReaderUnavailable, domain.CodeOf(err))
	}
}

func TestRequestUnknownType(t *testing.T) {
	f := setup(t)
	client := f.seedClient(t, "10.00")
	reader := f.seedReader(t, domain.PresenceOnline)

	_, err := f.orch.Request(context.Background(), client, reader, domain.SessionType("tarot"))
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestAcceptIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "10.00")
	reader := f.seedReader(t, domain.PresenceOnline)

	sess, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
	require.NoError(t, err)

	first, err := f.orch.Accept(ctx, reader, sess.ID)
	require.NoError(t, err)
	second, err := f.orch.Accept(ctx, reader, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, first.Session.StartTime.UnixMilli(), second.Session.StartTime.UnixMilli())
	assert.NotEmpty(t, second.RTCToken.Token, "repeat accept still mints a token")

	started := f.pub.named(sess.PubSubChannel, bus.EventSessionStarted)
	assert.Len(t, started, 1, "events not duplicated")
}

func TestAcceptRaceLoserCancelled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	reader := f.seedReader(t, domain.PresenceOnline)
	clientA := f.seedClient(t, "10.00")
	clientB := f.seedClient(t, "10.00")

	// Both requests pass the presence gate before either accept.
	sessA, err := f.orch.Request(ctx, clientA, reader, domain.SessionChat)
	require.NoError(t, err)
	sessB, err := f.orch.Request(ctx, clientB, reader, domain.SessionChat)
	require.NoError(t, err)

	_, err = f.orch.Accept(ctx, reader, sessA.ID)
	require.NoError(t, err)

	_, err = f.orch.Accept(ctx, reader, sessB.ID)
	require.Error(t, err)
	assert.Equal(t, domain.CodeReaderUnavailable, domain.CodeOf(err))

	got, err := f.store.SessionByID(ctx, sessB.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, got.Status)
	assert.Equal(t, domain.CancelReasonReaderBusy, got.Notes)
}

func TestAcceptWrongReader(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "10.00")
	reader := f.seedReader(t, domain.PresenceOnline)
	other := f.seedReader(t, domain.PresenceOnline)

	sess, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
	require.NoError(t, err)

	_, err = f.orch.Accept(ctx, other, sess.ID)
	require.Error(t, err)
	assert.Equal(t, domain.CodeNotAuthorized, domain.CodeOf(err))
}

func TestDeclineNotifiesClient(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "10.00")
	reader := f.seedReader(t, domain.PresenceOnline)

	sess, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
	require.NoError(t, err)

	got, err := f.orch.Decline(ctx, reader, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, got.Status)
	assert.Equal(t, domain.CancelReasonDeclined, got.Notes)

	declined := f.pub.named(bus.UserChannel(client), bus.EventSessionDeclined)
	require.Len(t, declined, 1)
}

func TestClientCancelPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "10.00")
	reader := f.seedReader(t, domain.PresenceOnline)

	sess, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
	require.NoError(t, err)

	got, err := f.orch.Cancel(ctx, client, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, got.Status)
	assert.Equal(t, domain.CancelReasonClientCancelled, got.Notes)

	// Cancelling an already-cancelled session is rejected.
	_, err = f.orch.Cancel(ctx, client, sess.ID)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
}

func TestEndOnCancelledSessionInvalidState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "10.00")
	reader := f.seedReader(t, domain.PresenceOnline)

	sess, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
	require.NoError(t, err)
	_, err = f.orch.Decline(ctx, reader, sess.ID, "")
	require.NoError(t, err)

	_, err = f.orch.End(ctx, client, sess.ID)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
}

func TestEndIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "10.00")
	reader := f.seedReader(t, domain.PresenceOnline)

	sess, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
	require.NoError(t, err)
	_, err = f.orch.Accept(ctx, reader, sess.ID)
	require.NoError(t, err)

	f.clock.advance(61 * time.Second)
	first, err := f.orch.End(ctx, client, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(61), first.Session.DurationSeconds)
	assert.True(t, first.Session.TotalAmount.Equal(dec("3.00")), "61s bills two minutes")

	f.clock.advance(time.Hour)
	second, err := f.orch.End(ctx, reader, sess.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyEnded)
	assert.True(t, second.Session.TotalAmount.Equal(first.Session.TotalAmount))

	txs, err := f.store.TransactionsForSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2, "no further debits")

	ended := f.pub.named(sess.PubSubChannel, bus.EventSessionEnded)
	assert.Len(t, ended, 1, "no duplicate events")
}

func TestEndPartialSettlement(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "4.50") // exactly the reserve
	reader := f.seedReader(t, domain.PresenceOnline)

	sess, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
	require.NoError(t, err)
	_, err = f.orch.Accept(ctx, reader, sess.ID)
	require.NoError(t, err)

	// Balance drained mid-session, as a concurrent refund would.
	require.NoError(t, f.store.InTx(ctx, func(q *store.Queries) error {
		p, err := q.ClientProfile(ctx, client)
		if err != nil {
			return err
		}
		p.Balance = dec("1.00")
		p.UpdatedAt = f.clock.now()
		return q.SaveClientProfile(ctx, p)
	}))

	f.clock.advance(90 * time.Second) // would bill 3.00
	end, err := f.orch.End(ctx, client, sess.ID)
	require.NoError(t, err)

	got := end.Session
	assert.Equal(t, domain.SessionCompleted, got.Status)
	assert.True(t, got.PartialSettlement)
	assert.True(t, got.TotalAmount.Equal(dec("1.00")))
	assert.True(t, got.PlatformFee.Equal(dec("0.30")))
	assert.True(t, got.ReaderEarnings.Equal(dec("0.70")))

	cp, err := f.store.ClientProfile(ctx, client)
	require.NoError(t, err)
	assert.True(t, cp.Balance.IsZero(), "never negative")
}

func TestEndByNonPartyRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "10.00")
	stranger := f.seedClient(t, "10.00")
	reader := f.seedReader(t, domain.PresenceOnline)

	sess, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
	require.NoError(t, err)
	_, err = f.orch.Accept(ctx, reader, sess.ID)
	require.NoError(t, err)

	_, err = f.orch.End(ctx, stranger, sess.ID)
	require.Error(t, err)
	assert.Equal(t, domain.CodeNotAuthorized, domain.CodeOf(err))
}

func TestSweepCancelsStalePending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.seedClient(t, "10.00")
	reader := f.seedReader(t, domain.PresenceOnline)

	stale, err := f.orch.Request(ctx, client, reader, domain.SessionChat)
	require.NoError(t, err)

	f.clock.advance(PendingTTL + time.Minute)
	fresh, err := f.orch.Request(ctx, client, reader, domain.SessionVoice)
	require.NoError(t, err)

	swept, err := f.orch.SweepPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := f.store.SessionByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, got.Status)
	assert.Equal(t, domain.CancelReasonTimeout, got.Notes)

	got, err = f.store.SessionByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPending, got.Status, "young pending untouched")
}

func TestRequestSelfRejected(t *testing.T) {
	f := setup(t)
	reader := f.seedReader(t, domain.PresenceOnline)

	_, err := f.orch.Request(context.Background(), reader, reader, domain.SessionChat)
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}
