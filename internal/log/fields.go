// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldSubject   = "subject"
	FieldUserID    = "user_id"
	FieldReaderID  = "reader_id"
	FieldClientID  = "client_id"
	FieldPayoutID  = "payout_id"
	FieldTxID      = "transaction_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldChannel   = "channel"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldStatus   = "status"

	// Money fields
	FieldAmount   = "amount"
	FieldFee      = "fee"
	FieldEarnings = "earnings"
	FieldBalance  = "balance"
)
