package wager

import "time"

// DefaultRefundTimeout is how long a stake stays parked in a match that
// never filled before its owner can reclaim it.
const DefaultRefundTimeout = 72 * time.Hour

// RefundEligible reports whether a participant may reclaim their own stake.
// Pure function of match state and the clock: the stake must still be parked
// in an open match, the timeout must have elapsed since that participant
// paid, and the slot must not have been refunded already. Once true it stays
// true until claimed.
func RefundEligible(m *Match, participant string, now time.Time, timeout time.Duration) bool {
	if m.Status != StatusOpen || m.PayoutClaimed {
		return false
	}
	if m.RefundClaimed[participant] {
		return false
	}
	paid, ok := m.PaidAt[participant]
	if !ok {
		return false
	}
	return now.Sub(paid) >= timeout
}
