package wager

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindDuel       Kind = "duel"
	KindArena      Kind = "arena"
	KindTournament Kind = "tournament"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
	StatusRefunded Status = "refunded"
)

// Match is the single settlement record for one wagered game. All mutation
// goes through the settlement service's compare-and-swap transitions; Version
// is the precondition counter for those swaps.
type Match struct {
	ID      uuid.UUID `db:"id" json:"id"`
	Kind    Kind      `db:"kind" json:"kind"`
	Stake   int64     `db:"stake" json:"stake"`
	Creator string    `db:"creator" json:"creator"`

	// Opponent restricts a duel to a named challenger. Nil means anyone
	// may accept.
	Opponent *string `db:"opponent" json:"opponent,omitempty"`

	// MaxPlayers caps arena enrollment. Zero means unbounded (tournament).
	MaxPlayers int        `db:"max_players" json:"max_players,omitempty"`
	Deadline   *time.Time `db:"deadline" json:"deadline,omitempty"`

	Status       Status     `db:"status" json:"status"`
	Participants StringList `db:"participants" json:"participants"`

	Scores      IntMap  `db:"scores" json:"scores"`
	Times       IntMap  `db:"times" json:"times"`
	SubmittedAt TimeMap `db:"submitted_at" json:"submitted_at"`

	PaidAt   TimeMap `db:"paid_at" json:"paid_at"`
	Invoices StrMap  `db:"invoices" json:"-"`

	Winner      *string `db:"winner" json:"winner,omitempty"`
	Draw        bool    `db:"draw" json:"draw"`
	WinnerToken *string `db:"winner_token" json:"-"`

	PayoutClaimed bool    `db:"payout_claimed" json:"payout_claimed"`
	PayoutLNURL   *string `db:"payout_lnurl" json:"payout_lnurl,omitempty"`
	PayoutID      *string `db:"payout_id" json:"-"`
	ClaimedAmount int64   `db:"claimed_amount" json:"claimed_amount,omitempty"`
	DonatedAmount int64   `db:"donated_amount" json:"donated_amount,omitempty"`

	RefundClaimed BoolMap `db:"refund_claimed" json:"refund_claimed"`
	RefundLinks   StrMap  `db:"refund_links" json:"refund_links,omitempty"`
	RefundIDs     StrMap  `db:"refund_ids" json:"-"`

	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	Version    int64      `db:"version" json:"version"`
}

// MinPlayers is the paid-participant count that moves a match from open to
// active.
func (m *Match) MinPlayers() int {
	switch m.Kind {
	case KindDuel:
		return 2
	case KindArena:
		return 2
	default:
		return 1
	}
}

func (m *Match) IsParticipant(player string) bool {
	for _, p := range m.Participants {
		if p == player {
			return true
		}
	}
	return false
}

func (m *Match) HasScore(player string) bool {
	_, ok := m.Scores[player]
	return ok
}

func (m *Match) AllScored() bool {
	for _, p := range m.Participants {
		if !m.HasScore(p) {
			return false
		}
	}
	return len(m.Participants) > 0
}

// Joinable reports whether another player may still enroll.
func (m *Match) Joinable(now time.Time) bool {
	switch m.Kind {
	case KindDuel:
		return m.Status == StatusOpen && len(m.Participants) < 2
	case KindArena:
		if m.Status != StatusOpen && m.Status != StatusActive {
			return false
		}
		return len(m.Participants) < m.MaxPlayers && !m.DeadlineDue(now)
	case KindTournament:
		if m.Status != StatusOpen && m.Status != StatusActive {
			return false
		}
		return m.Deadline == nil || now.Before(*m.Deadline)
	}
	return false
}

// Pot is the full payout entitlement: every escrowed stake in the match.
func (m *Match) Pot() int64 {
	return m.Stake * int64(len(m.Participants))
}

// DeadlineDue reports whether the match should be force-finalized.
func (m *Match) DeadlineDue(now time.Time) bool {
	return m.Deadline != nil && !now.Before(*m.Deadline)
}
