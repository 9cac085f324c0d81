// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/store"
)

// handleAuthSync materialises the local account for an externally
// authenticated subject. Repeat calls return the existing row; the role is
// fixed at first sync and changes only by admin action.
func (s *Server) handleAuthSync(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, domain.CodeNotAuthorized, "not authenticated")
		return
	}

	var body struct {
		Role      string `json:"role"`
		ChatRate  string `json:"chat_rate,omitempty"`
		VoiceRate string `json:"voice_rate,omitempty"`
		VideoRate string `json:"video_rate,omitempty"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	if ident.UserID != "" {
		u, err := s.store.UserByID(r.Context(), ident.UserID)
		if err != nil {
			writeError(w, r, domain.Wrap(domain.CodeTransient, "user read failed", err))
			return
		}
		writeData(w, http.StatusOK, viewUser(u))
		return
	}

	role := domain.Role(body.Role)
	if role == "" {
		role = domain.RoleClient
	}
	if !domain.ValidRole(role) || role == domain.RoleAdmin {
		writeError(w, r, domain.Ef(domain.CodeValidation, "cannot sync with role %q", body.Role))
		return
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:        uuid.NewString(),
		Subject:   ident.Subject,
		Role:      role,
		Email:     ident.Email,
		Name:      ident.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.InTx(r.Context(), func(q *store.Queries) error {
		// A concurrent sync for the same subject loses on the unique index.
		if _, err := q.UserBySubject(r.Context(), ident.Subject); err == nil {
			return domain.E(domain.CodeConflict, "account already synced")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := q.CreateUser(r.Context(), user); err != nil {
			return err
		}
		switch role {
		case domain.RoleClient:
			return q.CreateClientProfile(r.Context(), &domain.ClientProfile{
				UserID: user.ID, Balance: decimal.Zero, TotalSpent: decimal.Zero, UpdatedAt: now,
			})
		case domain.RoleReader:
			return q.CreateReaderProfile(r.Context(), &domain.ReaderProfile{
				UserID:    user.ID,
				ChatRate:  parseRate(body.ChatRate),
				VoiceRate: parseRate(body.VoiceRate),
				VideoRate: parseRate(body.VideoRate),
				Status:    domain.PresenceOffline,
				PendingBalance: decimal.Zero, TotalEarned: decimal.Zero,
				TotalPaidOut: decimal.Zero, Rating: decimal.Zero,
				AccountStatus: domain.PayoutAccountPending,
				UpdatedAt:     now,
			})
		}
		return nil
	})
	if err != nil {
		writeError(w, r, classify(err))
		return
	}
	writeData(w, http.StatusCreated, viewUser(user))
}

func viewUser(u *domain.User) map[string]any {
	return map[string]any{
		"id":    u.ID,
		"role":  string(u.Role),
		"email": u.Email,
		"name":  u.Name,
	}
}

func parseRate(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil || d.Sign() < 0 {
		return decimal.Zero
	}
	return d
}
