// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
)

type reviewView struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	ReaderID  string `json:"reader_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
	Response  string `json:"response,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func viewReview(r *domain.Review) reviewView {
	return reviewView{
		ID:        r.ID,
		SessionID: r.SessionID,
		ReaderID:  r.ReaderID,
		Rating:    r.Rating,
		Comment:   r.Comment,
		Response:  r.Response,
		CreatedAt: r.CreatedAt.UnixMilli(),
	}
}

func (s *Server) handleReviewPost(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireRole(w, r, domain.RoleClient)
	if !ok {
		return
	}
	var body struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	rev, err := s.reviews.Submit(r.Context(), ident.UserID, chi.URLParam(r, "id"), body.Rating, body.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, viewReview(rev))
}

func (s *Server) handleReviewGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	rev, err := s.reviews.BySession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, viewReview(rev))
}

func (s *Server) handleReviewRespond(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireRole(w, r, domain.RoleReader)
	if !ok {
		return
	}
	var body struct {
		Response string `json:"response"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	rev, err := s.reviews.Respond(r.Context(), ident.UserID, chi.URLParam(r, "id"), body.Response)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, viewReview(rev))
}
