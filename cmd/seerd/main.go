// SPDX-License-Identifier: MIT

// Command seerd runs the marketplace server: the HTTP API, the pending
// session sweeper and the daily payout run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/EmilynnJ/ccodeseer/internal/api"
	"github.com/EmilynnJ/ccodeseer/internal/bus"
	"github.com/EmilynnJ/ccodeseer/internal/config"
	"github.com/EmilynnJ/ccodeseer/internal/ledger"
	seerlog "github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/payments"
	"github.com/EmilynnJ/ccodeseer/internal/payout"
	"github.com/EmilynnJ/ccodeseer/internal/presence"
	"github.com/EmilynnJ/ccodeseer/internal/review"
	"github.com/EmilynnJ/ccodeseer/internal/session"
	"github.com/EmilynnJ/ccodeseer/internal/store"
	"github.com/EmilynnJ/ccodeseer/internal/token"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownGrace = 10 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()

	seerlog.Configure(seerlog.Config{
		Level:   cfg.LogLevel,
		Service: "seerd",
		Version: version,
	})
	logger := seerlog.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("configuration rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("db_path", cfg.DBPath).
			Msg("failed to open store")
	}
	defer func() { _ = st.Close() }()

	pub, err := bus.NewRedisPublisher(bus.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "bus.connect_failed").
			Str("addr", cfg.RedisAddr).
			Msg("failed to connect to the event bus")
	}
	defer func() { _ = pub.Close() }()

	led := ledger.New(st, cfg.FeeShare())
	reg := presence.New(st, pub)
	broker := token.New(cfg.RTCAppID, cfg.RTCCertificate, cfg.PubSubAPIKey)
	notifier := bus.NewNotifier(st, pub)
	processor := payments.New(cfg.PaymentsBaseURL, cfg.PaymentsSecret)
	orch := session.New(st, led, reg, broker, notifier, pub)
	reviews := review.New(st, notifier)
	payouts := payout.New(st, led, processor, notifier, cfg.MinPayout)

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: api.NewServer(api.Deps{
			Store:         st,
			Orch:          orch,
			Ledger:        led,
			Presence:      reg,
			Reviews:       reviews,
			Payouts:       payouts,
			Broker:        broker,
			Notifier:      notifier,
			Pub:           pub,
			Processor:     processor,
			JWTSecret:     cfg.JWTSecret,
			WebhookSecret: cfg.WebhookSecret,
			FrontendURL:   cfg.FrontendURL,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("addr", cfg.Listen).
		Str("db_path", cfg.DBPath).
		Int("platform_fee_percent", cfg.PlatformFeePercent).
		Str("min_payout", cfg.MinPayout.StringFixed(2)).
		Msg("starting seerd")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		orch.RunSweeper(gctx, cfg.SessionSweepInterval)
		return nil
	})

	g.Go(func() error {
		payouts.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("seerd exited with error")
	}

	logger.Info().Msg("server exiting")
}
