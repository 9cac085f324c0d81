// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/store"
)

// handleNotifications lists the caller's inbox, newest first. This is the
// rehydration path for subscribers that missed transient publishes.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireUser(w, r)
	if !ok {
		return
	}
	notifs, err := s.store.NotificationsForUser(r.Context(), ident.UserID, 100)
	if err != nil {
		writeError(w, r, domain.Wrap(domain.CodeTransient, "notifications read failed", err))
		return
	}
	out := make([]map[string]any, 0, len(notifs))
	for _, n := range notifs {
		out = append(out, map[string]any{
			"id":         n.ID,
			"type":       n.Type,
			"title":      n.Title,
			"body":       n.Body,
			"metadata":   n.Metadata,
			"read":       n.Read,
			"created_at": n.CreatedAt.UnixMilli(),
		})
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireUser(w, r)
	if !ok {
		return
	}
	err := s.store.MarkNotificationRead(r.Context(), chi.URLParam(r, "id"), ident.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, domain.E(domain.CodeNotFound, "notification not found"))
			return
		}
		writeError(w, r, domain.Wrap(domain.CodeTransient, "notification update failed", err))
		return
	}
	writeData(w, http.StatusOK, map[string]any{"read": true})
}
