// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/EmilynnJ/ccodeseer/internal/bus"
	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/store"
	"github.com/EmilynnJ/ccodeseer/internal/token"
)

// sessionView is the wire shape of a session.
type sessionView struct {
	ID              string `json:"id"`
	ClientID        string `json:"client_id"`
	ReaderID        string `json:"reader_id"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	RatePerMin      string `json:"rate_per_min"`
	StartTime       *int64 `json:"start_time,omitempty"`
	EndTime         *int64 `json:"end_time,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	TotalAmount     string `json:"total_amount"`
	PlatformFee     string `json:"platform_fee"`
	ReaderEarnings  string `json:"reader_earnings"`
	RTCChannel      string `json:"rtc_channel"`
	PubSubChannel   string `json:"pubsub_channel"`
	Partial         bool   `json:"partial_settlement,omitempty"`
	Notes           string `json:"notes,omitempty"`
	CreatedAt       int64  `json:"created_at"`
}

func viewSession(s *domain.Session) sessionView {
	v := sessionView{
		ID:              s.ID,
		ClientID:        s.ClientID,
		ReaderID:        s.ReaderID,
		Type:            string(s.Type),
		Status:          string(s.Status),
		RatePerMin:      s.RatePerMin.StringFixed(2),
		DurationSeconds: s.DurationSeconds,
		TotalAmount:     s.TotalAmount.StringFixed(2),
		PlatformFee:     s.PlatformFee.StringFixed(2),
		ReaderEarnings:  s.ReaderEarnings.StringFixed(2),
		RTCChannel:      s.RTCChannel,
		PubSubChannel:   s.PubSubChannel,
		Partial:         s.PartialSettlement,
		Notes:           s.Notes,
		CreatedAt:       s.CreatedAt.UnixMilli(),
	}
	if s.StartTime != nil {
		ms := s.StartTime.UnixMilli()
		v.StartTime = &ms
	}
	if s.EndTime != nil {
		ms := s.EndTime.UnixMilli()
		v.EndTime = &ms
	}
	return v
}

type tokenView struct {
	Token     string `json:"token"`
	Channel   string `json:"channel"`
	UID       uint32 `json:"uid"`
	ExpiresAt int64  `json:"expires_at"`
}

func viewRTCToken(t token.RTCToken) tokenView {
	return tokenView{Token: t.Token, Channel: t.Channel, UID: t.UID, ExpiresAt: t.ExpiresAt.Unix()}
}

func (s *Server) handleSessionRequest(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireRole(w, r, domain.RoleClient)
	if !ok {
		return
	}
	var body struct {
		ReaderID string `json:"reader_id"`
		Type     string `json:"type"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.ReaderID == "" {
		writeError(w, r, domain.E(domain.CodeValidation, "reader_id is required"))
		return
	}

	sess, err := s.orch.Request(r.Context(), ident.UserID, body.ReaderID, domain.SessionType(body.Type))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, viewSession(sess))
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireUser(w, r)
	if !ok {
		return
	}
	sess, err := s.store.SessionByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, domain.E(domain.CodeNotFound, "session not found"))
			return
		}
		writeError(w, r, domain.Wrap(domain.CodeTransient, "session read failed", err))
		return
	}
	if !sess.IsParty(ident.UserID) && ident.Role != domain.RoleAdmin {
		writeError(w, r, domain.E(domain.CodeNotAuthorized, "not a party to this session"))
		return
	}

	resp := map[string]any{"session": viewSession(sess)}
	// A party rejoining an active session gets a fresh credential.
	if sess.Status == domain.SessionActive && sess.IsParty(ident.UserID) {
		resp["rtc_token"] = viewRTCToken(s.broker.MintRTC(ident.UserID, sess.RTCChannel, token.RolePublisher))
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleSessionAccept(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireRole(w, r, domain.RoleReader)
	if !ok {
		return
	}
	res, err := s.orch.Accept(r.Context(), ident.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"session":   viewSession(res.Session),
		"rtc_token": viewRTCToken(res.RTCToken),
		"pubsub_token": map[string]any{
			"token":      res.PubSubToken.Token,
			"expires_at": res.PubSubToken.ExpiresAt.Unix(),
		},
	})
}

func (s *Server) handleSessionDecline(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireRole(w, r, domain.RoleReader)
	if !ok {
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
	sess, err := s.orch.Decline(r.Context(), ident.UserID, chi.URLParam(r, "id"), strings.TrimSpace(body.Reason))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, viewSession(sess))
}

func (s *Server) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireRole(w, r, domain.RoleClient)
	if !ok {
		return
	}
	sess, err := s.orch.Cancel(r.Context(), ident.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, viewSession(sess))
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireUser(w, r)
	if !ok {
		return
	}
	res, err := s.orch.End(r.Context(), ident.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"session":       viewSession(res.Session),
		"already_ended": res.AlreadyEnded,
	})
}

func (s *Server) handleMessagePost(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.Body) == "" {
		writeError(w, r, domain.E(domain.CodeValidation, "message body is required"))
		return
	}

	var msg *domain.Message
	err := s.store.InTx(r.Context(), func(q *store.Queries) error {
		sess, err := q.SessionByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.CodeNotFound, "session not found")
			}
			return err
		}
		if !sess.IsParty(ident.UserID) {
			return domain.E(domain.CodeNotAuthorized, "not a party to this session")
		}
		if sess.Status != domain.SessionActive {
			return domain.Ef(domain.CodeInvalidState, "cannot message a session in status %s", sess.Status)
		}
		msg = &domain.Message{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			SenderID:  ident.UserID,
			Body:      body.Body,
			CreatedAt: s.now().UTC(),
		}
		return q.InsertMessage(r.Context(), msg)
	})
	if err != nil {
		writeError(w, r, classify(err))
		return
	}

	if err := s.pub.Publish(r.Context(), bus.SessionChannel(msg.SessionID), bus.Event{
		Name: bus.EventMessage,
		Data: map[string]any{
			"id":        msg.ID,
			"sender_id": msg.SenderID,
			"body":      msg.Body,
			"sent_at":   msg.CreatedAt.UnixMilli(),
		},
	}); err != nil {
		s.logger.Warn().Err(err).Str("session_id", msg.SessionID).Msg("message publish failed")
	}

	writeData(w, http.StatusCreated, map[string]any{
		"id":      msg.ID,
		"sent_at": msg.CreatedAt.UnixMilli(),
	})
}

func (s *Server) handleMessagesGet(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireUser(w, r)
	if !ok {
		return
	}
	sess, err := s.store.SessionByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, domain.E(domain.CodeNotFound, "session not found"))
			return
		}
		writeError(w, r, domain.Wrap(domain.CodeTransient, "session read failed", err))
		return
	}
	if !sess.IsParty(ident.UserID) && ident.Role != domain.RoleAdmin {
		writeError(w, r, domain.E(domain.CodeNotAuthorized, "not a party to this session"))
		return
	}

	msgs, err := s.store.MessagesForSession(r.Context(), sess.ID, 200)
	if err != nil {
		writeError(w, r, domain.Wrap(domain.CodeTransient, "messages read failed", err))
		return
	}
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{
			"id":        m.ID,
			"sender_id": m.SenderID,
			"body":      m.Body,
			"sent_at":   m.CreatedAt.UnixMilli(),
		})
	}
	writeData(w, http.StatusOK, out)
}

func classify(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Wrap(domain.CodeTransient, "request failed", err)
}
