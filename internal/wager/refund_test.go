package wager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func refundableMatch(paidAt time.Time) *Match {
	return &Match{
		Kind:          KindDuel,
		Status:        StatusOpen,
		Stake:         1000,
		Participants:  StringList{"alice"},
		PaidAt:        TimeMap{"alice": paidAt},
		RefundClaimed: BoolMap{},
	}
}

func TestRefundEligibleAfterTimeout(t *testing.T) {
	now := time.Now()
	m := refundableMatch(now.Add(-DefaultRefundTimeout - time.Minute))

	assert.True(t, RefundEligible(m, "alice", now, DefaultRefundTimeout))
}

func TestRefundNotEligibleBeforeTimeout(t *testing.T) {
	now := time.Now()
	m := refundableMatch(now.Add(-time.Hour))

	assert.False(t, RefundEligible(m, "alice", now, DefaultRefundTimeout))
}

func TestRefundNotEligibleOnceMatchActive(t *testing.T) {
	now := time.Now()
	m := refundableMatch(now.Add(-DefaultRefundTimeout - time.Minute))
	m.Status = StatusActive

	assert.False(t, RefundEligible(m, "alice", now, DefaultRefundTimeout))
}

func TestRefundNotEligibleTwice(t *testing.T) {
	now := time.Now()
	m := refundableMatch(now.Add(-DefaultRefundTimeout - time.Minute))
	m.RefundClaimed["alice"] = true

	assert.False(t, RefundEligible(m, "alice", now, DefaultRefundTimeout))
}

func TestRefundNotEligibleWithoutPayment(t *testing.T) {
	now := time.Now()
	m := refundableMatch(now.Add(-DefaultRefundTimeout - time.Minute))

	assert.False(t, RefundEligible(m, "bob", now, DefaultRefundTimeout))
}

func TestRefundEligibilityIsMonotonic(t *testing.T) {
	// Once the timeout passes, waiting longer never revokes eligibility.
	now := time.Now()
	m := refundableMatch(now.Add(-DefaultRefundTimeout))

	assert.True(t, RefundEligible(m, "alice", now, DefaultRefundTimeout))
	assert.True(t, RefundEligible(m, "alice", now.Add(24*time.Hour), DefaultRefundTimeout))
	assert.True(t, RefundEligible(m, "alice", now.Add(365*24*time.Hour), DefaultRefundTimeout))
}
