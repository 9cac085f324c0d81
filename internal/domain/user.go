// SPDX-License-Identifier: MIT

// Package domain holds the entities and invariants of the consultation
// marketplace: users and their profiles, sessions, the transaction journal,
// reviews, notifications and the money arithmetic shared by all of them.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role of a user within the marketplace.
type Role string

const (
	RoleClient Role = "client"
	RoleReader Role = "reader"
	RoleAdmin  Role = "admin"
)

// ValidRole reports whether r is a recognised role.
func ValidRole(r Role) bool {
	switch r {
	case RoleClient, RoleReader, RoleAdmin:
		return true
	}
	return false
}

// PresenceStatus is a reader's coarse availability state. It is the fast
// index for "can I take a request now?"; session status stays the durable
// fact. Collapsing the two recreates the accept race.
type PresenceStatus string

const (
	PresenceOffline   PresenceStatus = "offline"
	PresenceOnline    PresenceStatus = "online"
	PresenceBusy      PresenceStatus = "busy"
	PresenceInSession PresenceStatus = "in_session"
)

// ValidPresence reports whether s is a recognised presence status.
func ValidPresence(s PresenceStatus) bool {
	switch s {
	case PresenceOffline, PresenceOnline, PresenceBusy, PresenceInSession:
		return true
	}
	return false
}

// User is an account synced from the identity collaborator. The identifier
// is immutable; role changes only by admin action.
type User struct {
	ID        string
	Subject   string // opaque external identity subject
	Role      Role
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClientProfile carries the prepaid wallet of a client user.
// Invariant: Balance >= 0 at all times observable outside a transaction.
type ClientProfile struct {
	UserID     string
	Balance    decimal.Decimal
	TotalSpent decimal.Decimal
	UpdatedAt  time.Time
}

// PayoutAccountStatus is the state of a reader's external processor account.
type PayoutAccountStatus string

const (
	PayoutAccountPending    PayoutAccountStatus = "pending"
	PayoutAccountActive     PayoutAccountStatus = "active"
	PayoutAccountRestricted PayoutAccountStatus = "restricted"
)

// ReaderProfile carries a reader's rates, presence and earnings.
// Invariant: TotalEarned = PendingBalance + TotalPaidOut + in-flight payouts.
type ReaderProfile struct {
	UserID        string
	ChatRate      decimal.Decimal // per minute
	VoiceRate     decimal.Decimal
	VideoRate     decimal.Decimal
	Available     bool
	Status        PresenceStatus
	PendingBalance decimal.Decimal
	TotalEarned   decimal.Decimal
	TotalPaidOut  decimal.Decimal
	Rating        decimal.Decimal
	ReviewCount   int
	TotalReadings int
	PayoutAccount string // external processor account handle
	AccountStatus PayoutAccountStatus
	UpdatedAt     time.Time
}

// RateFor returns the per-minute rate for the given session type.
func (p *ReaderProfile) RateFor(t SessionType) (decimal.Decimal, bool) {
	switch t {
	case SessionChat:
		return p.ChatRate, true
	case SessionVoice:
		return p.VoiceRate, true
	case SessionVideo:
		return p.VideoRate, true
	}
	return decimal.Zero, false
}
