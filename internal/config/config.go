// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the full runtime configuration of the daemon.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string
	// DBPath is the SQLite database file.
	DBPath string
	// FrontendURL is the allowed browser origin.
	FrontendURL string

	// JWTSecret verifies identity tokens from the auth collaborator.
	JWTSecret string

	// PaymentsBaseURL and PaymentsSecret configure the processor client.
	PaymentsBaseURL string
	PaymentsSecret  string
	// WebhookSecret verifies processor webhook signatures.
	WebhookSecret string

	// RTCAppID and RTCCertificate sign RTC channel tokens.
	RTCAppID       string
	RTCCertificate string
	// PubSubAPIKey is the external pub/sub key in "name:secret" form.
	PubSubAPIKey string

	// RedisAddr, RedisPassword and RedisDB locate the event bus backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// PlatformFeePercent is the operator share of session totals.
	PlatformFeePercent int
	// MinPayout is the payout eligibility floor.
	MinPayout decimal.Decimal
	// SessionSweepInterval is how often stale pending sessions are swept.
	SessionSweepInterval time.Duration

	// LogLevel is the zerolog level name.
	LogLevel string
}

// FromEnv reads the configuration from the environment.
func FromEnv() Config {
	return Config{
		Listen:      ParseString("SEER_LISTEN", ":8080"),
		DBPath:      ParseString("SEER_DB_PATH", "seer.db"),
		FrontendURL: ParseString("SEER_FRONTEND_URL", "http://localhost:3000"),

		JWTSecret: ParseString("SEER_JWT_SECRET", ""),

		PaymentsBaseURL: ParseString("SEER_PAYMENTS_URL", "https://api.stripe.com"),
		PaymentsSecret:  ParseString("SEER_PAYMENTS_SECRET", ""),
		WebhookSecret:   ParseString("SEER_WEBHOOK_SECRET", ""),

		RTCAppID:       ParseString("SEER_RTC_APP_ID", ""),
		RTCCertificate: ParseString("SEER_RTC_CERTIFICATE", ""),
		PubSubAPIKey:   ParseString("SEER_PUBSUB_API_KEY", ""),

		RedisAddr:     ParseString("SEER_REDIS_ADDR", "localhost:6379"),
		RedisPassword: ParseString("SEER_REDIS_PASSWORD", ""),
		RedisDB:       ParseInt("SEER_REDIS_DB", 0),

		PlatformFeePercent:   ParseInt("SEER_PLATFORM_FEE_PERCENT", 30),
		MinPayout:            ParseDecimal("SEER_MIN_PAYOUT", decimal.NewFromInt(15)),
		SessionSweepInterval: ParseDuration("SEER_SESSION_SWEEP_INTERVAL", time.Minute),

		LogLevel: ParseString("SEER_LOG_LEVEL", "info"),
	}
}

// FeeShare converts the percent knob into the decimal share the ledger uses.
func (c Config) FeeShare() decimal.Decimal {
	return decimal.NewFromInt(int64(c.PlatformFeePercent)).Div(decimal.NewFromInt(100))
}

// Validate rejects configurations that cannot possibly serve traffic.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: SEER_JWT_SECRET is required")
	}
	if c.PlatformFeePercent < 0 || c.PlatformFeePercent > 100 {
		return fmt.Errorf("config: platform fee percent %d out of range", c.PlatformFeePercent)
	}
	if c.MinPayout.Sign() < 0 {
		return fmt.Errorf("config: minimum payout must not be negative")
	}
	return nil
}
