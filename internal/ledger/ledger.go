// SPDX-License-Identifier: MIT

// Package ledger is the single source of truth for monetary movement.
// Every state change runs inside a store write transaction and appends to
// the immutable journal; balances on the profiles are derived state the
// journal must always reconcile to.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/store"
)

// Ledger owns balances and the transaction journal.
type Ledger struct {
	store    *store.Store
	feeShare decimal.Decimal
	now      func() time.Time
	logger   zerolog.Logger
}

// New builds a ledger with the given platform fee share (0.30 for 30%).
func New(s *store.Store, feeShare decimal.Decimal) *Ledger {
	return &Ledger{
		store:    s,
		feeShare: feeShare,
		now:      time.Now,
		logger:   log.WithComponent("ledger"),
	}
}

// WithClock overrides the time source, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// FeeShare returns the configured platform share.
func (l *Ledger) FeeShare() decimal.Decimal { return l.feeShare }

// Balance reads a client's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	p, err := l.store.ClientProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, domain.E(domain.CodeNotFound, "client profile not found")
		}
		return decimal.Zero, domain.Wrap(domain.CodeTransient, "balance read failed", err)
	}
	return p.Balance, nil
}

// Deposit credits a client's balance and journals the deposit. Idempotent
// by externalRef: a repeat with the same reference returns the original row;
// the same reference under a different user is a conflict.
func (l *Ledger) Deposit(ctx context.Context, userID string, amount decimal.Decimal, externalRef string) (*domain.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, domain.E(domain.CodeValidation, "deposit amount must be positive")
	}
	if externalRef == "" {
		return nil, domain.E(domain.CodeValidation, "external reference required")
	}

	var result *domain.Transaction
	err := l.store.InTx(ctx, func(q *store.Queries) error {
		if prior, err := q.TransactionByExternalRef(ctx, domain.TxDeposit, externalRef); err == nil {
			if prior.UserID != userID {
				return domain.E(domain.CodeConflict, "external reference already used by another user")
			}
			result = prior
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		profile, err := q.ClientProfile(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.CodeNotFound, "client profile not found")
			}
			return err
		}

		now := l.now().UTC()
		profile.Balance = profile.Balance.Add(amount)
		profile.UpdatedAt = now
		if err := q.SaveClientProfile(ctx, profile); err != nil {
			return err
		}

		result = &domain.Transaction{
			ID:          uuid.NewString(),
			UserID:      userID,
			Type:        domain.TxDeposit,
			Amount:      amount,
			Fee:         decimal.Zero,
			NetAmount:   amount,
			Status:      domain.TxCompleted,
			ExternalRef: externalRef,
			Description: "wallet top-up",
			CreatedAt:   now,
		}
		return q.InsertTransaction(ctx, result)
	})
	if err != nil {
		return nil, classify(err)
	}

	l.logger.Info().
		Str(log.FieldEvent, "ledger.deposit").
		Str(log.FieldUserID, userID).
		Str(log.FieldAmount, amount.StringFixed(2)).
		Msg("deposit settled")
	return result, nil
}

// Settlement is the outcome of SettleSession.
type Settlement struct {
	Charged        decimal.Decimal
	PlatformFee    decimal.Decimal
	ReaderEarnings decimal.Decimal
	Partial        bool
}

// SettleSession executes the atomic end-of-session money movement inside
// the caller's open transaction. It re-reads the client balance, caps the
// debit at what is actually there, scales the split pro-rata when capped,
// mutates both profiles, journals both legs and writes the final amounts
// back onto the session value. The caller persists the session row.
//
// Profiles are touched in ascending user-id order so concurrent settlements
// involving the same pair cannot deadlock on a row-locking backend.
func (l *Ledger) SettleSession(ctx context.Context, q *store.Queries, sess *domain.Session) (*Settlement, error) {
	now := l.now().UTC()

	client, err := q.ClientProfile(ctx, sess.ClientID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load client profile: %w", err)
	}
	reader, err := q.ReaderProfile(ctx, sess.ReaderID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load reader profile: %w", err)
	}

	charged := sess.TotalAmount
	fee := sess.PlatformFee
	earnings := sess.ReaderEarnings
	partial := false
	if client.Balance.LessThan(charged) {
		// Balance drained since the gate (concurrent refund or spend).
		// Cap the debit and preserve the split on the collected amount.
		charged = client.Balance
		fee, earnings = domain.SplitCollected(charged, l.feeShare)
		partial = true
	}

	apply := func(userID string) error {
		switch userID {
		case sess.ClientID:
			client.Balance = client.Balance.Sub(charged)
			client.TotalSpent = client.TotalSpent.Add(charged)
			client.UpdatedAt = now
			return q.SaveClientProfile(ctx, client)
		case sess.ReaderID:
			reader.PendingBalance = reader.PendingBalance.Add(earnings)
			reader.TotalEarned = reader.TotalEarned.Add(earnings)
			reader.UpdatedAt = now
			return q.SaveReaderProfile(ctx, reader)
		}
		return nil
	}
	first, second := sess.ClientID, sess.ReaderID
	if second < first {
		first, second = second, first
	}
	if err := apply(first); err != nil {
		return nil, fmt.Errorf("ledger: settle update: %w", err)
	}
	if err := apply(second); err != nil {
		return nil, fmt.Errorf("ledger: settle update: %w", err)
	}

	debit := &domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      sess.ClientID,
		SessionID:   sess.ID,
		Type:        domain.TxReadingPayment,
		Amount:      charged.Neg(),
		Fee:         decimal.Zero,
		NetAmount:   charged.Neg(),
		Status:      domain.TxCompleted,
		Description: fmt.Sprintf("%s reading", sess.Type),
		CreatedAt:   now,
	}
	credit := &domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      sess.ReaderID,
		SessionID:   sess.ID,
		Type:        domain.TxReadingEarning,
		Amount:      charged,
		Fee:         fee,
		NetAmount:   earnings,
		Status:      domain.TxCompleted,
		Description: fmt.Sprintf("%s reading earnings", sess.Type),
		CreatedAt:   now,
	}
	if err := q.InsertTransaction(ctx, debit); err != nil {
		return nil, fmt.Errorf("ledger: journal debit: %w", err)
	}
	if err := q.InsertTransaction(ctx, credit); err != nil {
		return nil, fmt.Errorf("ledger: journal credit: %w", err)
	}

	sess.TotalAmount = charged
	sess.PlatformFee = fee
	sess.ReaderEarnings = earnings
	sess.PartialSettlement = partial

	return &Settlement{
		Charged:        charged,
		PlatformFee:    fee,
		ReaderEarnings: earnings,
		Partial:        partial,
	}, nil
}

// RecordPayout moves amount out of the reader's pending balance into paid
// out, journaling the transfer. Runs inside the caller's transaction.
func (l *Ledger) RecordPayout(ctx context.Context, q *store.Queries, readerID string, amount decimal.Decimal, transferRef string) (*domain.Transaction, error) {
	reader, err := q.ReaderProfile(ctx, readerID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load reader profile: %w", err)
	}
	if reader.PendingBalance.LessThan(amount) {
		return nil, domain.Ef(domain.CodeInvalidState, "pending balance %s below payout %s",
			reader.PendingBalance.StringFixed(2), amount.StringFixed(2))
	}

	now := l.now().UTC()
	reader.PendingBalance = reader.PendingBalance.Sub(amount)
	reader.TotalPaidOut = reader.TotalPaidOut.Add(amount)
	reader.UpdatedAt = now
	if err := q.SaveReaderProfile(ctx, reader); err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      readerID,
		Type:        domain.TxPayout,
		Amount:      amount.Neg(),
		Fee:         decimal.Zero,
		NetAmount:   amount.Neg(),
		Status:      domain.TxCompleted,
		ExternalRef: transferRef,
		Description: "earnings payout",
		CreatedAt:   now,
	}
	if err := q.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}

	l.logger.Info().
		Str(log.FieldEvent, "ledger.payout").
		Str(log.FieldReaderID, readerID).
		Str(log.FieldAmount, amount.StringFixed(2)).
		Msg("payout recorded")
	return tx, nil
}

// Refund reverses a completed transaction. Admin-only; authorization is
// checked at the boundary. The original row is marked refunded, a refund
// row is appended, and for deposits and reading payments the client's
// balance is credited back.
func (l *Ledger) Refund(ctx context.Context, transactionID, reason string) (*domain.Transaction, error) {
	var result *domain.Transaction
	err := l.store.InTx(ctx, func(q *store.Queries) error {
		orig, err := q.TransactionByID(ctx, transactionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.CodeNotFound, "transaction not found")
			}
			return err
		}
		if orig.Status != domain.TxCompleted {
			return domain.Ef(domain.CodeInvalidState, "cannot refund transaction in status %s", orig.Status)
		}

		if err := q.UpdateTransactionStatus(ctx, orig.ID, domain.TxRefunded); err != nil {
			return err
		}

		now := l.now().UTC()
		refundAmount := orig.Amount.Abs()
		if orig.Type == domain.TxDeposit || orig.Type == domain.TxReadingPayment {
			profile, err := q.ClientProfile(ctx, orig.UserID)
			if err != nil {
				return err
			}
			profile.Balance = profile.Balance.Add(refundAmount)
			profile.UpdatedAt = now
			if err := q.SaveClientProfile(ctx, profile); err != nil {
				return err
			}
		}

		result = &domain.Transaction{
			ID:          uuid.NewString(),
			UserID:      orig.UserID,
			SessionID:   orig.SessionID,
			Type:        domain.TxRefund,
			Amount:      refundAmount,
			Fee:         decimal.Zero,
			NetAmount:   refundAmount,
			Status:      domain.TxCompleted,
			ExternalRef: orig.ID,
			Description: reason,
			CreatedAt:   now,
		}
		return q.InsertTransaction(ctx, result)
	})
	if err != nil {
		return nil, classify(err)
	}

	l.logger.Info().
		Str(log.FieldEvent, "ledger.refund").
		Str(log.FieldTxID, transactionID).
		Msg("transaction refunded")
	return result, nil
}

// classify keeps domain errors intact and folds store failures into the
// retryable class.
func classify(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Wrap(domain.CodeTransient, "ledger operation failed", err)
}
