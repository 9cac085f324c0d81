// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/payments"
)

// handleAddFunds opens a payment intent with the processor. The balance is
// credited later, when the webhook confirms the charge.
func (s *Server) handleAddFunds(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireRole(w, r, domain.RoleClient)
	if !ok {
		return
	}
	var body struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, r, domain.E(domain.CodeValidation, "amount must be a positive decimal"))
		return
	}

	intent, err := s.processor.CreateIntent(r.Context(), ident.UserID, amount)
	if err != nil {
		writeError(w, r, domain.Wrap(domain.CodeTransient, "payment intent creation failed", err))
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"intent_id":     intent.ID,
		"client_secret": intent.ClientSecret,
		"amount":        intent.Amount.StringFixed(2),
	})
}

// handlePaymentWebhook ingests processor events. Deposits are idempotent by
// payment-intent id, so redelivery is harmless.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, domain.CodeValidation, "unreadable payload")
		return
	}
	sig := r.Header.Get("Webhook-Signature")
	if err := payments.VerifySignature(payload, sig, s.webhookSecret, s.now().UTC(), 5*time.Minute); err != nil {
		s.logger.Warn().Err(err).Msg("webhook signature rejected")
		writeErrorCode(w, http.StatusBadRequest, domain.CodeValidation, "invalid signature")
		return
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"` // cents
				Metadata struct {
					UserID string `json:"user_id"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		writeErrorCode(w, http.StatusBadRequest, domain.CodeValidation, "malformed event")
		return
	}

	switch event.Type {
	case "payment_intent.succeeded":
		obj := event.Data.Object
		if obj.ID == "" || obj.Metadata.UserID == "" || obj.Amount <= 0 {
			writeErrorCode(w, http.StatusBadRequest, domain.CodeValidation, "incomplete payment intent")
			return
		}
		amount := decimal.NewFromInt(obj.Amount).Div(decimal.NewFromInt(100))
		tx, err := s.ledger.Deposit(r.Context(), obj.Metadata.UserID, amount, obj.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.notifier.Notify(r.Context(), &domain.Notification{
			UserID:   tx.UserID,
			Type:     domain.NotifDeposit,
			Title:    "Funds added",
			Body:     "Your wallet was credited " + amount.StringFixed(2),
			Metadata: map[string]any{"transaction_id": tx.ID},
		}); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldTxID, tx.ID).Msg("deposit notification failed")
		}
		writeData(w, http.StatusOK, map[string]any{"transaction_id": tx.ID})

	case "payment_intent.payment_failed":
		s.logger.Info().
			Str(log.FieldEvent, "webhook.payment_failed").
			Str("intent_id", event.Data.Object.ID).
			Msg("payment failed at processor")
		writeData(w, http.StatusOK, map[string]any{"handled": true})

	default:
		// Unknown event types are acknowledged so the processor stops
		// redelivering them.
		writeData(w, http.StatusOK, map[string]any{"handled": false})
	}
}

func (s *Server) handleManualPayout(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireRole(w, r, domain.RoleReader)
	if !ok {
		return
	}
	row, err := s.payouts.PayNow(r.Context(), ident.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"payout_id":    row.ID,
		"amount":       row.Amount.StringFixed(2),
		"status":       string(row.Status),
		"transfer_ref": row.TransferRef,
	})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireUser(w, r)
	if !ok {
		return
	}
	switch ident.Role {
	case domain.RoleClient:
		balance, err := s.ledger.Balance(r.Context(), ident.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"balance": balance.StringFixed(2)})
	case domain.RoleReader:
		p, err := s.store.ReaderProfile(r.Context(), ident.UserID)
		if err != nil {
			writeError(w, r, domain.Wrap(domain.CodeTransient, "profile read failed", err))
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"pending_balance": p.PendingBalance.StringFixed(2),
			"total_earned":    p.TotalEarned.StringFixed(2),
			"total_paid_out":  p.TotalPaidOut.StringFixed(2),
		})
	default:
		writeError(w, r, domain.E(domain.CodeNotAuthorized, "no wallet for this role"))
	}
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireUser(w, r)
	if !ok {
		return
	}
	txs, err := s.store.TransactionsForUser(r.Context(), ident.UserID, 100)
	if err != nil {
		writeError(w, r, domain.Wrap(domain.CodeTransient, "transactions read failed", err))
		return
	}
	out := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		out = append(out, map[string]any{
			"id":         tx.ID,
			"type":       string(tx.Type),
			"amount":     tx.Amount.StringFixed(2),
			"fee":        tx.Fee.StringFixed(2),
			"net_amount": tx.NetAmount.StringFixed(2),
			"status":     string(tx.Status),
			"session_id": tx.SessionID,
			"created_at": tx.CreatedAt.UnixMilli(),
		})
	}
	writeData(w, http.StatusOK, out)
}

// handleRefund reverses a completed transaction. Admin only.
func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, domain.RoleAdmin); !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if body.Reason == "" {
		body.Reason = "refund by support"
	}

	refund, err := s.ledger.Refund(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"refund_id": refund.ID,
		"amount":    refund.Amount.StringFixed(2),
	})
}
