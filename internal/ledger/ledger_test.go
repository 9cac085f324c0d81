// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/store"
)

var feeShare = decimal.RequireFromString("0.30")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T) (*store.Store, *Ledger) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "seer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, New(s, feeShare)
}

func seedClient(t *testing.T, s *store.Store, balance string) string {
	t.Helper()
	now := time.Now().UTC()
	id := uuid.NewString()
	require.NoError(t, s.CreateUser(context.Background(), &domain.User{
		ID: id, Subject: "sub-" + id, Role: domain.RoleClient, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.CreateClientProfile(context.Background(), &domain.ClientProfile{
		UserID: id, Balance: dec(balance), TotalSpent: decimal.Zero, UpdatedAt: now,
	}))
	return id
}

func seedReader(t *testing.T, s *store.Store) string {
	t.Helper()
	now := time.Now().UTC()
	id := uuid.NewString()
	require.NoError(t, s.CreateUser(context.Background(), &domain.User{
		ID: id, Subject: "sub-" + id, Role: domain.RoleReader, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.CreateReaderProfile(context.Background(), &domain.ReaderProfile{
		UserID: id, ChatRate: dec("1.50"), VoiceRate: dec("2.00"), VideoRate: dec("3.00"),
		Status: domain.PresenceOnline, PendingBalance: decimal.Zero, TotalEarned: decimal.Zero,
		TotalPaidOut: decimal.Zero, Rating: decimal.Zero,
		AccountStatus: domain.PayoutAccountActive, UpdatedAt: now,
	}))
	return id
}

func seedSession(t *testing.T, s *store.Store, clientID, readerID string, total, fee, earnings string) *domain.Session {
	t.Helper()
	now := time.Now().UTC()
	sess := &domain.Session{
		ID: uuid.NewString(), ClientID: clientID, ReaderID: readerID,
		Type: domain.SessionChat, Status: domain.SessionActive, RatePerMin: dec("1.50"),
		TotalAmount: dec(total), PlatformFee: dec(fee), ReaderEarnings: dec(earnings),
		RTCChannel: "rtc", PubSubChannel: "ps", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestDepositCreditsAndJournals(t *testing.T) {
	s, l := setup(t)
	ctx := context.Background()
	client := seedClient(t, s, "0.00")

	tx, err := l.Deposit(ctx, client, dec("25.00"), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, domain.TxDeposit, tx.Type)
	assert.Equal(t, domain.TxCompleted, tx.Status)

	balance, err := l.Balance(ctx, client)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("25.00")))
}

func TestDepositIdempotentByExternalRef(t *testing.T) {
	s, l := setup(t)
	ctx := context.Background()
	client := seedClient(t, s, "0.00")

	first, err := l.Deposit(ctx, client, dec("25.00"), "pi_1")
	require.NoError(t, err)

	second, err := l.Deposit(ctx, client, dec("25.00"), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "repeat returns the original row")

	balance, err := l.Balance(ctx, client)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("25.00")), "no double credit")
}

func TestDepositRefConflictAcrossUsers(t *testing.T) {
	s, l := setup(t)
	ctx := context.Background()
	a := seedClient(t, s, "0.00")
	b := seedClient(t, s, "0.00")

	_, err := l.Deposit(ctx, a, dec("10.00"), "pi_shared")
	require.NoError(t, err)

	_, err = l.Deposit(ctx, b, dec("10.00"), "pi_shared")
	require.Error(t, err)
	assert.Equal(t, domain.CodeConflict, domain.CodeOf(err))
}

func TestSettleSessionFull(t *testing.T) {
	s, l := setup(t)
	ctx := context.Background()
	client := seedClient(t, s, "10.00")
	reader := seedReader(t, s)
	sess := seedSession(t, s, client, reader, "3.00", "0.90", "2.10")

	var settlement *Settlement
	require.NoError(t, s.InTx(ctx, func(q *store.Queries) error {
		var err error
		settlement, err = l.SettleSession(ctx, q, sess)
		if err != nil {
			return err
		}
		return q.SaveSession(ctx, sess)
	}))

	assert.False(t, settlement.Partial)
	assert.True(t, settlement.Charged.Equal(dec("3.00")))

	cp, err := s.ClientProfile(ctx, client)
	require.NoError(t, err)
	assert.True(t, cp.Balance.Equal(dec("7.00")), "balance %s", cp.Balance)
	assert.True(t, cp.TotalSpent.Equal(dec("3.00")))

	rp, err := s.ReaderProfile(ctx, reader)
	require.NoError(t, err)
	assert.True(t, rp.PendingBalance.Equal(dec("2.10")))
	assert.True(t, rp.TotalEarned.Equal(dec("2.10")))

	txs, err := s.TransactionsForSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
}

func TestSettleSessionPartialScalesProRata(t *testing.T) {
	s, l := setup(t)
	ctx := context.Background()
	client := seedClient(t, s, "1.00")
	reader := seedReader(t, s)
	sess := seedSession(t, s, client, reader, "1.50", "0.45", "1.05")

	var settlement *Settlement
	require.NoError(t, s.InTx(ctx, func(q *store.Queries) error {
		var err error
		settlement, err = l.SettleSession(ctx, q, sess)
		if err != nil {
			return err
		}
		return q.SaveSession(ctx, sess)
	}))

	assert.True(t, settlement.Partial)
	assert.True(t, settlement.Charged.Equal(dec("1.00")))
	assert.True(t, settlement.PlatformFee.Equal(dec("0.30")))
	assert.True(t, settlement.ReaderEarnings.Equal(dec("0.70")))

	got, err := s.SessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.PartialSettlement)
	assert.True(t, got.TotalAmount.Equal(dec("1.00")))

	cp, err := s.ClientProfile(ctx, client)
	require.NoError(t, err)
	assert.True(t, cp.Balance.IsZero(), "balance drained to zero, never negative")
}

func TestRecordPayout(t *testing.T) {
	s, l := setup(t)
	ctx := context.Background()
	reader := seedReader(t, s)

	rp, err := s.ReaderProfile(ctx, reader)
	require.NoError(t, err)
	rp.PendingBalance = dec("15.00")
	rp.TotalEarned = dec("15.00")
	rp.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.SaveReaderProfile(ctx, rp))

	require.NoError(t, s.InTx(ctx, func(q *store.Queries) error {
		_, err := l.RecordPayout(ctx, q, reader, dec("15.00"), "tr_1")
		return err
	}))

	rp, err = s.ReaderProfile(ctx, reader)
	require.NoError(t, err)
	assert.True(t, rp.PendingBalance.IsZero())
	assert.True(t, rp.TotalPaidOut.Equal(dec("15.00")))
	// total_earned = pending + paid_out still holds
	assert.True(t, rp.TotalEarned.Equal(rp.PendingBalance.Add(rp.TotalPaidOut)))
}

func TestRecordPayoutRejectsOverdraw(t *testing.T) {
	s, l := setup(t)
	ctx := context.Background()
	reader := seedReader(t, s)

	err := s.InTx(ctx, func(q *store.Queries) error {
		_, err := l.RecordPayout(ctx, q, reader, dec("1.00"), "tr_1")
		return err
	})
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
}

func TestRefundDepositRestoresBalance(t *testing.T) {
	s, l := setup(t)
	ctx := context.Background()
	client := seedClient(t, s, "0.00")

	deposit, err := l.Deposit(ctx, client, dec("20.00"), "pi_1")
	require.NoError(t, err)

	refund, err := l.Refund(ctx, deposit.ID, "requested by support")
	require.NoError(t, err)
	assert.Equal(t, domain.TxRefund, refund.Type)
	assert.True(t, refund.Amount.Equal(dec("20.00")))

	orig, err := s.TransactionByID(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxRefunded, orig.Status)

	// A second refund of the same row is rejected.
	_, err = l.Refund(ctx, deposit.ID, "again")
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
}

func TestRefundOfReadingPaymentZeroSum(t *testing.T) {
	s, l := setup(t)
	ctx := context.Background()
	client := seedClient(t, s, "10.00")
	reader := seedReader(t, s)
	sess := seedSession(t, s, client, reader, "3.00", "0.90", "2.10")

	require.NoError(t, s.InTx(ctx, func(q *store.Queries) error {
		if _, err := l.SettleSession(ctx, q, sess); err != nil {
			return err
		}
		return q.SaveSession(ctx, sess)
	}))

	txs, err := s.TransactionsForSession(ctx, sess.ID)
	require.NoError(t, err)
	var paymentID string
	for _, tx := range txs {
		if tx.Type == domain.TxReadingPayment {
			paymentID = tx.ID
		}
	}
	require.NotEmpty(t, paymentID)

	before, err := s.ClientProfile(ctx, client)
	require.NoError(t, err)

	_, err = l.Refund(ctx, paymentID, "dispute upheld")
	require.NoError(t, err)

	after, err := s.ClientProfile(ctx, client)
	require.NoError(t, err)
	// The refund exactly cancels the debit's balance effect.
	assert.True(t, after.Balance.Sub(before.Balance).Equal(dec("3.00")))
	assert.True(t, after.Balance.Equal(dec("10.00")))
}

func TestJournalReconciliation(t *testing.T) {
	s, l := setup(t)
	ctx := context.Background()
	client := seedClient(t, s, "0.00")
	reader := seedReader(t, s)

	_, err := l.Deposit(ctx, client, dec("50.00"), "pi_1")
	require.NoError(t, err)

	sess := seedSession(t, s, client, reader, "3.00", "0.90", "2.10")
	require.NoError(t, s.InTx(ctx, func(q *store.Queries) error {
		if _, err := l.SettleSession(ctx, q, sess); err != nil {
			return err
		}
		return q.SaveSession(ctx, sess)
	}))

	// Client: sum of completed net amounts equals on-profile balance.
	clientSum, err := s.SumNetByUser(ctx, client)
	require.NoError(t, err)
	cp, err := s.ClientProfile(ctx, client)
	require.NoError(t, err)
	assert.True(t, clientSum.Equal(cp.Balance), "journal %s vs balance %s", clientSum, cp.Balance)

	// Reader: sum equals pending + paid out.
	readerSum, err := s.SumNetByUser(ctx, reader)
	require.NoError(t, err)
	rp, err := s.ReaderProfile(ctx, reader)
	require.NoError(t, err)
	assert.True(t, readerSum.Equal(rp.PendingBalance.Add(rp.TotalPaidOut)))
}
