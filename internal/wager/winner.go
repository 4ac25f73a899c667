package wager

import (
	"sort"
	"time"
)

// Outcome is the result of winner determination. Decided is false while the
// match is still waiting on required scores. A decided outcome with an empty
// Winner and Draw false means nobody played before the deadline.
type Outcome struct {
	Winner  string
	Draw    bool
	Decided bool
}

// DetermineWinner ranks recorded scores for a match. It is a pure function of
// the participant set, the score/time/submission maps and the clock; it never
// touches storage.
//
// Duel: both participants must have played; equal score and equal time is a
// draw. Arena and tournament: decided once every enrolled participant has a
// score, or once the deadline has passed; ties broken by lower elapsed time,
// then by earliest score submission, which yields a single winner.
func DetermineWinner(m *Match, now time.Time) Outcome {
	if m.Kind == KindDuel {
		return duelOutcome(m)
	}

	if !m.AllScored() && !m.DeadlineDue(now) {
		return Outcome{}
	}

	played := make([]string, 0, len(m.Participants))
	for _, p := range m.Participants {
		if m.HasScore(p) {
			played = append(played, p)
		}
	}
	if len(played) == 0 {
		return Outcome{Decided: true}
	}

	sort.SliceStable(played, func(i, j int) bool {
		a, b := played[i], played[j]
		if m.Scores[a] != m.Scores[b] {
			return m.Scores[a] > m.Scores[b]
		}
		if m.Times[a] != m.Times[b] {
			return m.Times[a] < m.Times[b]
		}
		return m.SubmittedAt[a].Before(m.SubmittedAt[b])
	})

	return Outcome{Winner: played[0], Decided: true}
}

func duelOutcome(m *Match) Outcome {
	if len(m.Participants) != 2 {
		return Outcome{}
	}
	a, b := m.Participants[0], m.Participants[1]
	if !m.HasScore(a) || !m.HasScore(b) {
		return Outcome{}
	}

	switch {
	case m.Scores[a] != m.Scores[b]:
		if m.Scores[a] > m.Scores[b] {
			return Outcome{Winner: a, Decided: true}
		}
		return Outcome{Winner: b, Decided: true}
	case m.Times[a] != m.Times[b]:
		if m.Times[a] < m.Times[b] {
			return Outcome{Winner: a, Decided: true}
		}
		return Outcome{Winner: b, Decided: true}
	default:
		return Outcome{Draw: true, Decided: true}
	}
}
