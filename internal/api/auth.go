// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/store"
)

type identityKey struct{}

// Identity is the authenticated caller, resolved from the bearer token and
// the local user record.
type Identity struct {
	UserID  string
	Subject string
	Role    domain.Role
	Email   string
	Name    string
}

func identityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok
}

// claims is the accepted shape of the identity collaborator's tokens.
type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// authenticate verifies the bearer token and resolves the local user row.
// Unknown subjects pass through with a nil user id; handlers that need a
// synced account reject them, and the sync endpoint creates the row.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeErrorCode(w, http.StatusUnauthorized, domain.CodeNotAuthorized, "missing bearer token")
			return
		}

		var c claims
		tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(s.jwtSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !tok.Valid || c.Subject == "" {
			writeErrorCode(w, http.StatusUnauthorized, domain.CodeNotAuthorized, "invalid token")
			return
		}

		ident := &Identity{Subject: c.Subject, Email: c.Email, Name: c.Name}
		if u, err := s.store.UserBySubject(r.Context(), c.Subject); err == nil {
			ident.UserID = u.ID
			ident.Role = u.Role
		} else if !errors.Is(err, store.ErrNotFound) {
			writeError(w, r, domain.Wrap(domain.CodeTransient, "identity lookup failed", err))
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, ident)
		ctx = log.ContextWithSubject(ctx, c.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser returns the synced account of the caller or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (*Identity, bool) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, domain.CodeNotAuthorized, "not authenticated")
		return nil, false
	}
	if ident.UserID == "" {
		writeErrorCode(w, http.StatusUnauthorized, domain.CodeNotAuthorized, "account not synced")
		return nil, false
	}
	return ident, true
}

// requireRole narrows requireUser to one role.
func requireRole(w http.ResponseWriter, r *http.Request, role domain.Role) (*Identity, bool) {
	ident, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	if ident.Role != role {
		writeErrorCode(w, http.StatusForbidden, domain.CodeNotAuthorized, "wrong role for this operation")
		return nil, false
	}
	return ident, true
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
