// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/store"
)

// readerView is the public shape of a reader profile. Earnings fields are
// never exposed here.
type readerView struct {
	UserID        string `json:"user_id"`
	ChatRate      string `json:"chat_rate"`
	VoiceRate     string `json:"voice_rate"`
	VideoRate     string `json:"video_rate"`
	Status        string `json:"status"`
	Rating        string `json:"rating"`
	ReviewCount   int    `json:"review_count"`
	TotalReadings int    `json:"total_readings"`
}

func viewReader(p *domain.ReaderProfile) readerView {
	return readerView{
		UserID:        p.UserID,
		ChatRate:      p.ChatRate.StringFixed(2),
		VoiceRate:     p.VoiceRate.StringFixed(2),
		VideoRate:     p.VideoRate.StringFixed(2),
		Status:        string(p.Status),
		Rating:        p.Rating.StringFixed(2),
		ReviewCount:   p.ReviewCount,
		TotalReadings: p.TotalReadings,
	}
}

func (s *Server) handleReadersOnline(w http.ResponseWriter, r *http.Request) {
	readers, err := s.presence.Online(r.Context())
	if err != nil {
		writeError(w, r, domain.Wrap(domain.CodeTransient, "reader listing failed", err))
		return
	}
	out := make([]readerView, 0, len(readers))
	for _, p := range readers {
		out = append(out, viewReader(p))
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleReaderByID(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.ReaderProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, domain.E(domain.CodeNotFound, "reader not found"))
			return
		}
		writeError(w, r, domain.Wrap(domain.CodeTransient, "reader read failed", err))
		return
	}
	writeData(w, http.StatusOK, viewReader(p))
}

func (s *Server) handlePresenceSet(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireRole(w, r, domain.RoleReader)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := s.presence.Set(r.Context(), ident.UserID, domain.PresenceStatus(body.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, viewReader(p))
}
