// SPDX-License-Identifier: MIT

// Package payout drains reader pending balances to the external processor
// on a daily schedule. Each reader is processed in isolation; one failed
// transfer never blocks the rest of the run.
package payout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/EmilynnJ/ccodeseer/internal/bus"
	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/ledger"
	"github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/metrics"
	"github.com/EmilynnJ/ccodeseer/internal/payments"
	"github.com/EmilynnJ/ccodeseer/internal/store"
)

const (
	// RunHourUTC is the daily schedule slot.
	RunHourUTC = 2
	// staleAfter is how long a processing row without a transfer reference
	// may sit before the pre-run sweep fails it.
	staleAfter = time.Hour
	// maxConcurrentTransfers bounds parallel calls to the processor.
	maxConcurrentTransfers = 4
)

// Scheduler runs the daily payout pass.
type Scheduler struct {
	store     *store.Store
	ledger    *ledger.Ledger
	processor payments.Processor
	notifier  *bus.Notifier
	minPayout decimal.Decimal
	now       func() time.Time
	logger    zerolog.Logger
}

func New(s *store.Store, l *ledger.Ledger, p payments.Processor, n *bus.Notifier, minPayout decimal.Decimal) *Scheduler {
	return &Scheduler{
		store:     s,
		ledger:    l,
		processor: p,
		notifier:  n,
		minPayout: minPayout,
		now:       time.Now,
		logger:    log.WithComponent("payout"),
	}
}

// WithClock overrides the time source, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run executes RunOnce at the daily slot until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		wait := time.Until(s.nextRun())
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("payout run failed")
			}
		}
	}
}

func (s *Scheduler) nextRun() time.Time {
	now := s.now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), RunHourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce sweeps stale processing rows and pays every eligible reader.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if err := s.sweepStale(ctx); err != nil {
		return err
	}

	readers, err := s.store.EligiblePayoutReaders(ctx, s.minPayout.StringFixed(2))
	if err != nil {
		return domain.Wrap(domain.CodeTransient, "list eligible readers", err)
	}
	if len(readers) == 0 {
		s.logger.Info().Str(log.FieldEvent, "payout.run").Msg("no eligible readers")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTransfers)
	for _, reader := range readers {
		reader := reader
		g.Go(func() error {
			// Isolation: a failed transfer is recorded, not propagated.
			s.payReader(gctx, reader)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Str(log.FieldEvent, "payout.run").
		Int("readers", len(readers)).
		Msg("payout run complete")
	return nil
}

// PayNow runs an immediate payout for one reader, outside the daily
// schedule. The same floor and account checks apply.
func (s *Scheduler) PayNow(ctx context.Context, readerID string) (*domain.Payout, error) {
	reader, err := s.store.ReaderProfile(ctx, readerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.E(domain.CodeNotFound, "reader profile not found")
		}
		return nil, domain.Wrap(domain.CodeTransient, "load reader profile", err)
	}
	if reader.PendingBalance.LessThan(s.minPayout) {
		return nil, domain.Ef(domain.CodeBelowMinPayout,
			"pending balance %s below minimum payout %s",
			reader.PendingBalance.StringFixed(2), s.minPayout.StringFixed(2))
	}
	if reader.AccountStatus != domain.PayoutAccountActive || reader.PayoutAccount == "" {
		return nil, domain.E(domain.CodeAccountNotActive, "payout account is not active")
	}

	row := s.payReader(ctx, reader)
	if row == nil {
		return nil, domain.E(domain.CodeTransient, "payout could not be recorded")
	}
	if row.Status != domain.PayoutCompleted {
		return row, domain.E(domain.CodeTransient, "payout transfer failed")
	}
	return row, nil
}

// sweepStale fails processing rows without a transfer reference older than
// the horizon. A crash between the row insert and the transfer leaves such
// a row; failing it keeps the reader's balance intact for the next run.
func (s *Scheduler) sweepStale(ctx context.Context) error {
	stale, err := s.store.StaleProcessingPayouts(ctx, s.now().UTC().Add(-staleAfter))
	if err != nil {
		return domain.Wrap(domain.CodeTransient, "list stale payouts", err)
	}
	for _, p := range stale {
		p.Status = domain.PayoutFailed
		p.FailReason = "no transfer reference after crash or timeout"
		p.UpdatedAt = s.now().UTC()
		if err := s.store.SavePayout(ctx, p); err != nil {
			return domain.Wrap(domain.CodeTransient, "sweep stale payout", err)
		}
		metrics.Payouts.WithLabelValues("failed").Inc()
		s.logger.Warn().
			Str(log.FieldEvent, "payout.swept").
			Str(log.FieldPayoutID, p.ID).
			Str(log.FieldReaderID, p.ReaderID).
			Msg("stale processing payout failed")
	}
	return nil
}

func (s *Scheduler) payReader(ctx context.Context, reader *domain.ReaderProfile) *domain.Payout {
	amount := reader.PendingBalance
	if reader.PayoutAccount == "" {
		metrics.Payouts.WithLabelValues("skipped").Inc()
		s.logger.Warn().
			Str(log.FieldReaderID, reader.UserID).
			Msg("eligible reader without payout account, skipping")
		return nil
	}

	now := s.now().UTC()
	row := &domain.Payout{
		ID:        uuid.NewString(),
		ReaderID:  reader.UserID,
		Amount:    amount,
		Status:    domain.PayoutProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertPayout(ctx, row); err != nil {
		metrics.Payouts.WithLabelValues("failed").Inc()
		s.logger.Error().Err(err).Str(log.FieldReaderID, reader.UserID).Msg("payout row insert failed")
		return nil
	}

	// The payout id doubles as the processor idempotency key, so a retried
	// transfer after a network error cannot double-pay.
	ref, err := s.processor.Transfer(ctx, reader.PayoutAccount, amount, row.ID)
	if err != nil {
		s.fail(ctx, row, err)
		return row
	}

	err = s.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := s.ledger.RecordPayout(ctx, q, reader.UserID, amount, ref); err != nil {
			return err
		}
		row.Status = domain.PayoutCompleted
		row.TransferRef = ref
		row.UpdatedAt = s.now().UTC()
		return q.SavePayout(ctx, row)
	})
	if err != nil {
		// Money moved at the processor but the local record failed. Keep
		// the transfer reference on the row so the discrepancy is auditable.
		row.TransferRef = ref
		s.fail(ctx, row, err)
		return row
	}

	metrics.Payouts.WithLabelValues("completed").Inc()
	s.logger.Info().
		Str(log.FieldEvent, "payout.completed").
		Str(log.FieldPayoutID, row.ID).
		Str(log.FieldReaderID, reader.UserID).
		Str(log.FieldAmount, amount.StringFixed(2)).
		Msg("payout transferred")
	return row
}

func (s *Scheduler) fail(ctx context.Context, row *domain.Payout, cause error) {
	row.Status = domain.PayoutFailed
	row.FailReason = cause.Error()
	row.UpdatedAt = s.now().UTC()
	if err := s.store.SavePayout(ctx, row); err != nil {
		s.logger.Error().Err(errors.Join(cause, err)).
			Str(log.FieldPayoutID, row.ID).
			Msg("payout failed and row update failed")
	}
	metrics.Payouts.WithLabelValues("failed").Inc()

	if err := s.notifier.Notify(ctx, &domain.Notification{
		UserID: row.ReaderID,
		Type:   domain.NotifPayoutFailed,
		Title:  "Payout failed",
		Body:   "Your scheduled payout could not be completed; it will be retried on the next run",
		Metadata: map[string]any{
			"payout_id": row.ID,
			"amount":    row.Amount.StringFixed(2),
		},
	}); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldPayoutID, row.ID).Msg("payout failure notification failed")
	}
	s.notifyAdmins(ctx, row, cause)

	s.logger.Error().Err(cause).
		Str(log.FieldEvent, "payout.failed").
		Str(log.FieldPayoutID, row.ID).
		Str(log.FieldReaderID, row.ReaderID).
		Msg("payout transfer failed")
}

// notifyAdmins surfaces the failure to every admin inbox so someone can
// reconcile the processor state against the payout row.
func (s *Scheduler) notifyAdmins(ctx context.Context, row *domain.Payout, cause error) {
	admins, err := s.store.UsersByRole(ctx, domain.RoleAdmin)
	if err != nil {
		s.logger.Warn().Err(err).Msg("admin lookup for payout failure failed")
		return
	}
	for _, admin := range admins {
		if err := s.notifier.Notify(ctx, &domain.Notification{
			UserID: admin.ID,
			Type:   domain.NotifPayoutFailed,
			Title:  "Payout failed",
			Body:   "Transfer for reader " + row.ReaderID + " failed: " + cause.Error(),
			Metadata: map[string]any{
				"payout_id": row.ID,
				"reader_id": row.ReaderID,
				"amount":    row.Amount.StringFixed(2),
			},
		}); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldPayoutID, row.ID).Msg("admin payout notification failed")
		}
	}
}
