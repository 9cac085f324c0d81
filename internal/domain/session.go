// SPDX-License-Identifier: MIT

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionType is the consultation modality.
type SessionType string

const (
	SessionChat  SessionType = "chat"
	SessionVoice SessionType = "voice"
	SessionVideo SessionType = "video"
)

// ValidSessionType reports whether t is a recognised modality.
func ValidSessionType(t SessionType) bool {
	switch t {
	case SessionChat, SessionVoice, SessionVideo:
		return true
	}
	return false
}

// SessionStatus is the durable lifecycle state of a session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionDisputed  SessionStatus = "disputed"
)

// Terminal reports whether s admits no further transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionDisputed:
		return true
	}
	return false
}

// CanTransition is the session FSM: pending -> active | cancelled,
// active -> completed. Nothing else.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	switch s {
	case SessionPending:
		return to == SessionActive || to == SessionCancelled
	case SessionActive:
		return to == SessionCompleted
	}
	return false
}

// Cancellation reasons stored in the session notes.
const (
	CancelReasonTimeout         = "timeout"
	CancelReasonDeclined        = "declined"
	CancelReasonClientCancelled = "client_cancelled"
	CancelReasonReaderBusy      = "reader_already_in_session"
)

// Session is one consultation between a client and a reader. RatePerMin is
// frozen at request time; channel names never change once set.
type Session struct {
	ID         string
	ClientID   string
	ReaderID   string
	Type       SessionType
	Status     SessionStatus
	RatePerMin decimal.Decimal

	StartTime       *time.Time
	EndTime         *time.Time
	DurationSeconds int64
	TotalAmount     decimal.Decimal
	PlatformFee     decimal.Decimal
	ReaderEarnings  decimal.Decimal

	RTCChannel    string // room on the external RTC service
	PubSubChannel string // room on the external pub/sub service

	PartialSettlement bool
	Notes             string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsParty reports whether userID is the client or the reader of the session.
func (s *Session) IsParty(userID string) bool {
	return s.ClientID == userID || s.ReaderID == userID
}

// Message is a chat line inside a session. A Session exclusively owns its
// Messages; they are addressed by session id only.
type Message struct {
	ID        string
	SessionID string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// Review is the client's post-session rating, at most one per session.
type Review struct {
	ID        string
	SessionID string
	ClientID  string
	ReaderID  string
	Rating    int // 1..5
	Comment   string
	Response  string // reader may edit only this
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notification is a durable per-user inbox record mirroring a transient
// pub/sub publish. Mutated only to flip the read flag, never deleted.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Body      string
	Metadata  map[string]any
	Read      bool
	CreatedAt time.Time
}

// Notification type tags.
const (
	NotifReadingRequest  = "reading_request"
	NotifSessionAccepted = "session_accepted"
	NotifSessionDeclined = "session_declined"
	NotifSessionSummary  = "session_summary"
	NotifNewReview       = "new_review"
	NotifPayoutFailed    = "payout_failed"
	NotifDeposit         = "deposit"
)
