package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/satsduel/satsduel/internal/store"
	"github.com/satsduel/satsduel/internal/utils"
	"github.com/satsduel/satsduel/internal/wager"
)

const (
	sweepInterval = 1 * time.Minute
	sweepTimeout  = 30 * time.Second

	// Open matches older than this with at least one paid stake are
	// candidates for the bookkeeping sweep.
	staleOpenAge = 14 * 24 * time.Hour
)

// FinalizeDue seals every match whose deadline has passed. Matches that
// nobody paid into finish without a winner. Matches still open but holding
// paid stakes never reached their minimum: sealing one would strand the
// stakes with no winner to pay and no refund path, so those stay open for
// the Refund Monitor. Version conflicts are skipped; the next run picks the
// match up again with a fresh read.
func (s *SettlementService) FinalizeDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.GetDue(ctx, now)
	if err != nil {
		return 0, err
	}

	sealed := 0
	for i := range due {
		m := &due[i]
		if m.Status == wager.StatusOpen && len(m.Participants) > 0 {
			continue
		}
		_, err := s.store.CompareAndSwap(ctx, m.ID.String(), m.Version, func(m *wager.Match) error {
			now := now.UTC()
			if m.Status == wager.StatusOpen {
				if len(m.Participants) > 0 {
					return store.ErrConflict
				}
				m.Status = wager.StatusFinished
				m.FinishedAt = &now
				return nil
			}
			s.finalize(m, now)
			return nil
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return sealed, err
		}
		sealed++
	}
	return sealed, nil
}

// SweepStaleOpen closes the books on long-dead open matches. Matches nobody
// ever paid into finish empty; matches whose paid participants have all
// reclaimed their stake move to refunded. Matches with an unreclaimed paid
// stake stay open so the owner's refund claim keeps working. The sweep never
// mints refund links itself: an LNURL is a bearer instrument, so links are
// only created when the owning participant asks for one.
func (s *SettlementService) SweepStaleOpen(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.GetStaleOpen(ctx, now.Add(-staleOpenAge))
	if err != nil {
		return 0, err
	}

	closed := 0
	for i := range stale {
		m := &stale[i]

		var next wager.Status
		switch {
		case len(m.PaidAt) == 0:
			next = wager.StatusFinished
		case allRefunded(m):
			next = wager.StatusRefunded
		default:
			continue
		}

		_, err := s.store.CompareAndSwap(ctx, m.ID.String(), m.Version, func(m *wager.Match) error {
			m.Status = next
			if next == wager.StatusFinished {
				m.FinishedAt = utils.Ptr(now.UTC())
			}
			return nil
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// StartSweeps runs the deadline and stale-match sweeps on an interval.
// Returns the scheduler so the caller can shut it down.
func StartSweeps(s *SettlementService) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(sweepInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			defer cancel()

			now := time.Now()
			if n, err := s.FinalizeDue(ctx, now); err != nil {
				log.Printf("[sweep] finalize due: %v", err)
			} else if n > 0 {
				log.Printf("[sweep] finalized %d due matches", n)
			}
			if n, err := s.SweepStaleOpen(ctx, now); err != nil {
				log.Printf("[sweep] stale open: %v", err)
			} else if n > 0 {
				log.Printf("[sweep] closed %d stale matches", n)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	return scheduler, nil
}
