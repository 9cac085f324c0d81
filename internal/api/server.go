// SPDX-License-Identifier: MIT

// Package api is the HTTP boundary. Handlers authenticate, authorize and
// translate between the wire envelope and the domain components; they hold
// no business rules of their own.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/EmilynnJ/ccodeseer/internal/bus"
	"github.com/EmilynnJ/ccodeseer/internal/ledger"
	"github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/payments"
	"github.com/EmilynnJ/ccodeseer/internal/payout"
	"github.com/EmilynnJ/ccodeseer/internal/presence"
	"github.com/EmilynnJ/ccodeseer/internal/review"
	"github.com/EmilynnJ/ccodeseer/internal/session"
	"github.com/EmilynnJ/ccodeseer/internal/store"
	"github.com/EmilynnJ/ccodeseer/internal/token"
)

// Server wires the HTTP surface to the domain components.
type Server struct {
	store     *store.Store
	orch      *session.Orchestrator
	ledger    *ledger.Ledger
	presence  *presence.Registry
	reviews   *review.Aggregator
	payouts   *payout.Scheduler
	broker    *token.Broker
	notifier  *bus.Notifier
	pub       bus.Publisher
	processor payments.Processor

	jwtSecret     string
	webhookSecret string
	frontendURL   string

	now    func() time.Time
	logger zerolog.Logger
}

// Deps carries everything the server needs.
type Deps struct {
	Store     *store.Store
	Orch      *session.Orchestrator
	Ledger    *ledger.Ledger
	Presence  *presence.Registry
	Reviews   *review.Aggregator
	Payouts   *payout.Scheduler
	Broker    *token.Broker
	Notifier  *bus.Notifier
	Pub       bus.Publisher
	Processor payments.Processor

	JWTSecret     string
	WebhookSecret string
	FrontendURL   string
}

func NewServer(d Deps) *Server {
	return &Server{
		store:         d.Store,
		orch:          d.Orch,
		ledger:        d.Ledger,
		presence:      d.Presence,
		reviews:       d.Reviews,
		payouts:       d.Payouts,
		broker:        d.Broker,
		notifier:      d.Notifier,
		pub:           d.Pub,
		processor:     d.Processor,
		jwtSecret:     d.JWTSecret,
		webhookSecret: d.WebhookSecret,
		frontendURL:   d.FrontendURL,
		now:           time.Now,
		logger:        log.WithComponent("api"),
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(s.cors)
	r.Use(rateLimit("api"))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Processor webhook authenticates by signature, not bearer token.
	r.With(rateLimit("payments")).Post("/webhooks/payments", s.handlePaymentWebhook)

	// Public listing.
	r.Get("/readers/online", s.handleReadersOnline)
	r.Get("/readers/{id}", s.handleReaderByID)

	// Authenticated surface.
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.With(rateLimit("auth")).Post("/auth/sync", s.handleAuthSync)

		r.Route("/sessions", func(r chi.Router) {
			r.With(rateLimit("session_request")).Post("/request", s.handleSessionRequest)
			r.Get("/{id}", s.handleSessionGet)
			r.Post("/{id}/accept", s.handleSessionAccept)
			r.Post("/{id}/decline", s.handleSessionDecline)
			r.Post("/{id}/cancel", s.handleSessionCancel)
			r.Post("/{id}/end", s.handleSessionEnd)
			r.With(rateLimit("messages")).Post("/{id}/messages", s.handleMessagePost)
			r.Get("/{id}/messages", s.handleMessagesGet)
			r.Post("/{id}/review", s.handleReviewPost)
			r.Get("/{id}/review", s.handleReviewGet)
			r.Post("/{id}/review/response", s.handleReviewRespond)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Use(rateLimit("payments"))
			r.Post("/add-funds", s.handleAddFunds)
			r.Post("/reader/payout", s.handleManualPayout)
		})

		r.Get("/wallet", s.handleWallet)
		r.Get("/transactions", s.handleTransactions)
		r.Post("/transactions/{id}/refund", s.handleRefund)

		r.Patch("/readers/me/status", s.handlePresenceSet)

		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications/{id}/read", s.handleNotificationRead)
	})

	return r
}

// requestID stamps every request with a correlation id for log lines and
// error responses.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && origin == s.frontendURL {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}
