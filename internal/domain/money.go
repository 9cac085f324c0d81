// SPDX-License-Identifier: MIT

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReserveMultiplier is the number of per-minute rates a client must hold to
// start a session: the minimum one-minute charge plus two minutes of slack
// to absorb ring and connect time.
const ReserveMultiplier = 3

// Reserve returns the minimum client balance required to request a session
// at the given per-minute rate.
func Reserve(ratePerMin decimal.Decimal) decimal.Decimal {
	return ratePerMin.Mul(decimal.NewFromInt(ReserveMultiplier))
}

// BilledSeconds converts an elapsed wall-clock interval into billable
// seconds. Never less than 1: a 0-second session still bills.
func BilledSeconds(start, end time.Time) int64 {
	secs := int64(end.Sub(start).Round(time.Second) / time.Second)
	if d := end.Sub(start); d > time.Duration(secs)*time.Second {
		secs++ // ceil of the fractional second
	}
	if secs < 1 {
		return 1
	}
	return secs
}

// BilledMinutes is the whole-started-minute count for a duration in seconds.
// A 1-second session bills one minute; 61 seconds bill two.
func BilledMinutes(durationSeconds int64) int64 {
	if durationSeconds < 1 {
		durationSeconds = 1
	}
	return (durationSeconds + 59) / 60
}

// Charge is the monetary outcome of a completed session.
type Charge struct {
	MinutesBilled  int64
	TotalAmount    decimal.Decimal
	PlatformFee    decimal.Decimal
	ReaderEarnings decimal.Decimal
}

// ComputeCharge prices a session: total = minutes * rate, fee rounded
// half-even to 2 decimals, earnings derived by subtraction so that
// earnings + fee == total exactly.
func ComputeCharge(durationSeconds int64, ratePerMin, feeShare decimal.Decimal) Charge {
	minutes := BilledMinutes(durationSeconds)
	total := ratePerMin.Mul(decimal.NewFromInt(minutes)).Round(2)
	fee := total.Mul(feeShare).RoundBank(2)
	return Charge{
		MinutesBilled:  minutes,
		TotalAmount:    total,
		PlatformFee:    fee,
		ReaderEarnings: total.Sub(fee),
	}
}

// SplitCollected applies the fee share to an actually-collected amount.
// Used for partial settlement, where the collected amount is below the
// session total and the 70/30 split must be preserved on what was collected.
func SplitCollected(collected, feeShare decimal.Decimal) (fee, earnings decimal.Decimal) {
	fee = collected.Mul(feeShare).RoundBank(2)
	return fee, collected.Sub(fee)
}
