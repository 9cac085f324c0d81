// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestWithComponentAnnotates(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "seerd-test"})

	l := WithComponent("ledger")
	l.Info().Str(FieldEvent, "test.event").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "ledger" {
		t.Errorf("expected component ledger, got %v", entry["component"])
	}
	if entry["event"] != "test.event" {
		t.Errorf("expected event test.event, got %v", entry["event"])
	}
}

func TestContextCorrelation(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSubject(ctx, "user-42")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("request id: got %q", got)
	}
	if got := SubjectFromContext(ctx); got != "user-42" {
		t.Errorf("subject: got %q", got)
	}

	// A nil context must not panic and yields empty values.
	if got := RequestIDFromContext(nil); got != "" { //nolint:staticcheck
		t.Errorf("nil ctx request id: got %q", got)
	}
}
