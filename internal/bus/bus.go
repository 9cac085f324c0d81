// SPDX-License-Identifier: MIT

// Package bus fans session lifecycle, notification and presence events out
// to the external pub/sub service. Delivery is at-least-once; subscribers
// reconcile through the REST surface after reconnects.
package bus

import (
	"context"
	"fmt"
	"time"
)

// Channel conventions of the pub/sub service.
const (
	// ReadersStatusChannel carries reader presence updates for all readers.
	ReadersStatusChannel = "readers:status"
)

// SessionChannel names the per-session room.
func SessionChannel(sessionID string) string {
	return fmt.Sprintf("reading:%s", sessionID)
}

// UserChannel names the per-user inbox channel.
func UserChannel(userID string) string {
	return fmt.Sprintf("notifications:%s", userID)
}

// Event names published on those channels.
const (
	EventSessionStarted  = "session-started"
	EventSessionEnded    = "session-ended"
	EventMessage         = "message"
	EventNotification    = "notification"
	EventStatusUpdate    = "status-update"
	EventSessionAccepted = "session_accepted"
	EventSessionDeclined = "session_declined"
	EventReadingRequest  = "reading_request"
)

// Event is a named payload. Data must be JSON-marshalable.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
	At   int64  `json:"ts"` // unix millis, stamped by the publisher if zero
}

// Publisher pushes events onto a named channel. Implementations retry
// transient failures; ordering holds only within a channel and only as far
// as the external service provides it.
type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

// Backoff parameters for transient publish errors.
const (
	retryBase  = 250 * time.Millisecond
	maxRetries = 5
	attemptTTL = 10 * time.Second
)
