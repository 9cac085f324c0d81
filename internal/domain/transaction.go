// SPDX-License-Identifier: MIT

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a journal row.
type TransactionType string

const (
	TxDeposit        TransactionType = "deposit"
	TxReadingPayment TransactionType = "reading_payment"
	TxReadingEarning TransactionType = "reading_earning"
	TxPayout         TransactionType = "payout"
	TxRefund         TransactionType = "refund"
	TxGift           TransactionType = "gift"
	TxShopPurchase   TransactionType = "shop_purchase"
)

// TransactionStatus is the settlement state of a journal row.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxRefunded  TransactionStatus = "refunded"
)

// Transaction is an append-only journal row. Content is immutable once
// written; only Status may change.
type Transaction struct {
	ID          string
	UserID      string
	SessionID   string // optional
	Type        TransactionType
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	NetAmount   decimal.Decimal // Amount - Fee
	Status      TransactionStatus
	ExternalRef string // processor reference, idempotency key for deposits
	Description string
	CreatedAt   time.Time
}

// PayoutStatus is the state of a scheduled payout row.
type PayoutStatus string

const (
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// Payout is one drain of a reader's pending balance to the external
// processor. A processing row with no transfer reference older than the
// retry horizon is swept to failed before a new scheduler run.
type Payout struct {
	ID          string
	ReaderID    string
	Amount      decimal.Decimal
	Status      PayoutStatus
	TransferRef string
	FailReason  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
