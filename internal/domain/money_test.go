// SPDX-License-Identifier: MIT

package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var feeShare = decimal.RequireFromString("0.30")

func TestBilledSeconds(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		end  time.Time
		want int64
	}{
		{"zero elapsed still bills one second", base, 1},
		{"sub-second rounds up", base.Add(400 * time.Millisecond), 1},
		{"exact seconds", base.Add(90 * time.Second), 90},
		{"fractional second rounds up", base.Add(90*time.Second + time.Millisecond), 91},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BilledSeconds(base, tc.end))
		})
	}
}

func TestBilledMinutes(t *testing.T) {
	assert.Equal(t, int64(1), BilledMinutes(1))
	assert.Equal(t, int64(1), BilledMinutes(60))
	assert.Equal(t, int64(2), BilledMinutes(61))
	assert.Equal(t, int64(2), BilledMinutes(90))
	assert.Equal(t, int64(1), BilledMinutes(0), "a 0-second session bills one minute")
}

func TestComputeCharge(t *testing.T) {
	rate := decimal.RequireFromString("1.50")

	c := ComputeCharge(90, rate, feeShare)
	assert.Equal(t, int64(2), c.MinutesBilled)
	assert.True(t, c.TotalAmount.Equal(decimal.RequireFromString("3.00")), "total %s", c.TotalAmount)
	assert.True(t, c.PlatformFee.Equal(decimal.RequireFromString("0.90")), "fee %s", c.PlatformFee)
	assert.True(t, c.ReaderEarnings.Equal(decimal.RequireFromString("2.10")), "earnings %s", c.ReaderEarnings)
}

func TestComputeChargeExactSplit(t *testing.T) {
	// Earnings are derived by subtraction, so earnings + fee == total holds
	// for every rate even when the fee rounds.
	rates := []string{"0.99", "1.11", "1.50", "2.05", "3.33", "9.99"}
	for _, r := range rates {
		rate := decimal.RequireFromString(r)
		for _, secs := range []int64{1, 59, 60, 61, 600, 3599} {
			c := ComputeCharge(secs, rate, feeShare)
			require.True(t, c.PlatformFee.Add(c.ReaderEarnings).Equal(c.TotalAmount),
				"rate=%s secs=%d fee=%s earnings=%s total=%s", r, secs, c.PlatformFee, c.ReaderEarnings, c.TotalAmount)
		}
	}
}

func TestComputeChargeBankersRounding(t *testing.T) {
	// 1 minute at 0.25/min: fee raw = 0.075, half-even rounds to 0.08.
	c := ComputeCharge(30, decimal.RequireFromString("0.25"), feeShare)
	assert.True(t, c.PlatformFee.Equal(decimal.RequireFromString("0.08")), "fee %s", c.PlatformFee)
	assert.True(t, c.ReaderEarnings.Equal(decimal.RequireFromString("0.17")), "earnings %s", c.ReaderEarnings)

	// 1 minute at 0.75/min: fee raw = 0.225, half-even rounds down to 0.22.
	c = ComputeCharge(30, decimal.RequireFromString("0.75"), feeShare)
	assert.True(t, c.PlatformFee.Equal(decimal.RequireFromString("0.22")), "fee %s", c.PlatformFee)
}

func TestSplitCollected(t *testing.T) {
	fee, earnings := SplitCollected(decimal.RequireFromString("1.00"), feeShare)
	assert.True(t, fee.Equal(decimal.RequireFromString("0.30")))
	assert.True(t, earnings.Equal(decimal.RequireFromString("0.70")))
}

func TestReserve(t *testing.T) {
	got := Reserve(decimal.RequireFromString("1.50"))
	assert.True(t, got.Equal(decimal.RequireFromString("4.50")))
}

func TestSessionFSM(t *testing.T) {
	assert.True(t, SessionPending.CanTransition(SessionActive))
	assert.True(t, SessionPending.CanTransition(SessionCancelled))
	assert.True(t, SessionActive.CanTransition(SessionCompleted))

	assert.False(t, SessionActive.CanTransition(SessionCancelled), "active sessions end, they do not cancel")
	assert.False(t, SessionCompleted.CanTransition(SessionActive))
	assert.False(t, SessionCancelled.CanTransition(SessionActive))
	assert.False(t, SessionDisputed.CanTransition(SessionCompleted))

	for _, s := range []SessionStatus{SessionCompleted, SessionCancelled, SessionDisputed} {
		assert.True(t, s.Terminal())
	}
	assert.False(t, SessionPending.Terminal())
	assert.False(t, SessionActive.Terminal())
}
