// SPDX-License-Identifier: MIT

// Package config assembles the runtime configuration from environment
// variables. Every lookup logs its source; secret values never appear in
// the log, only the fact that they were set.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/EmilynnJ/ccodeseer/internal/log"
)

// ParseString reads a string from an environment variable or returns the
// default. Sensitive keys are logged without their value.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if value, exists := os.LookupEnv(key); exists {
		if value == "" {
			logDefault(logger, key, defaultValue)
			return defaultValue
		}
		if sensitive(key) {
			logger.Debug().
				Str("key", key).
				Str("source", "environment").
				Bool("sensitive", true).
				Msg("using environment variable")
		} else {
			logger.Debug().
				Str("key", key).
				Str("value", value).
				Str("source", "environment").
				Msg("using environment variable")
		}
		return value
	}
	logDefault(logger, key, defaultValue)
	return defaultValue
}

// ParseInt reads an integer or falls back to the default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			logger.Debug().
				Str("key", key).
				Int("value", i).
				Str("source", "environment").
				Msg("using environment variable")
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseDuration reads a Go duration ("90s", "5m") or falls back.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			logger.Debug().
				Str("key", key).
				Dur("value", d).
				Str("source", "environment").
				Msg("using environment variable")
			return d
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}

// ParseDecimal reads a fixed-point decimal or falls back.
func ParseDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			logger.Debug().
				Str("key", key).
				Str("value", d.String()).
				Str("source", "environment").
				Msg("using environment variable")
			return d
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Str("default", defaultValue.String()).
			Msg("invalid decimal in environment variable, using default")
	}
	return defaultValue
}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "secret") ||
		strings.Contains(k, "key") ||
		strings.Contains(k, "password") ||
		strings.Contains(k, "cert") ||
		strings.Contains(k, "token")
}

func logDefault(logger zerolog.Logger, key, defaultValue string) {
	ev := logger.Debug().Str("key", key).Str("source", "default")
	if !sensitive(key) {
		ev = ev.Str("default", defaultValue)
	}
	ev.Msg("using default value")
}
