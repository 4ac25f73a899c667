package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/satsduel/satsduel/internal/gateway"
	"github.com/satsduel/satsduel/internal/store"
	"github.com/satsduel/satsduel/internal/utils"
	"github.com/satsduel/satsduel/internal/wager"
)

// EscrowGateway is the slice of the payment rail the settlement core needs.
// *gateway.Client implements it; tests substitute fakes.
type EscrowGateway interface {
	CreateInvoice(ctx context.Context, amount int64, memo string) (*gateway.Invoice, error)
	IsPaid(ctx context.Context, paymentHash string) (bool, error)
	CreatePayoutLink(ctx context.Context, amount int64, memo string) (*gateway.PayoutLink, error)
	IsPayoutClaimed(ctx context.Context, linkID string) (bool, error)
}

const (
	minArenaPlayers = 3
	maxArenaPlayers = 10

	// Attempts for swaps that merely lost a benign race (joins, scores).
	// Claims never retry: their conflict IS the answer.
	swapRetries = 3

	// A reservation without a stored link younger than this is treated as
	// in flight, not crashed. Gateway calls time out after 10s, so a
	// minute-old dangling reservation means the claimant died mid-claim.
	claimHealAfter = time.Minute
)

type SettlementService struct {
	store         *store.MatchStore
	gw            EscrowGateway
	refundTimeout time.Duration

	now func() time.Time
}

func NewSettlementService(matchStore *store.MatchStore, gw EscrowGateway, refundTimeout time.Duration) *SettlementService {
	if refundTimeout <= 0 {
		refundTimeout = wager.DefaultRefundTimeout
	}
	return &SettlementService{
		store:         matchStore,
		gw:            gw,
		refundTimeout: refundTimeout,
		now:           time.Now,
	}
}

type CreateMatchInput struct {
	Kind       wager.Kind
	Creator    string
	Stake      int64
	Opponent   string     // duel only: restrict who may accept
	MaxPlayers int        // arena only
	Deadline   *time.Time // tournament required, arena optional
}

// PendingStake pairs a match with the invoice its caller must pay.
type PendingStake struct {
	Match          *wager.Match `json:"match"`
	PaymentRequest string       `json:"payment_request"`
}

// CreateMatch opens a match and issues the creator's stake invoice. The
// creator is not enrolled until ConfirmStake sees the invoice paid.
func (s *SettlementService) CreateMatch(ctx context.Context, in CreateMatchInput) (*PendingStake, error) {
	if in.Creator == "" {
		return nil, fmt.Errorf("%w: creator is required", wager.ErrInvalidTransition)
	}
	if in.Stake <= 0 {
		return nil, wager.ErrInvalidAmount
	}

	now := s.now().UTC()
	m := &wager.Match{
		ID:            uuid.New(),
		Kind:          in.Kind,
		Stake:         in.Stake,
		Creator:       in.Creator,
		Status:        wager.StatusOpen,
		Participants:  wager.StringList{},
		Scores:        wager.IntMap{},
		Times:         wager.IntMap{},
		SubmittedAt:   wager.TimeMap{},
		PaidAt:        wager.TimeMap{},
		Invoices:      wager.StrMap{},
		RefundClaimed: wager.BoolMap{},
		RefundLinks:   wager.StrMap{},
		RefundIDs:     wager.StrMap{},
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}

	switch in.Kind {
	case wager.KindDuel:
		m.MaxPlayers = 2
		if opponent := utils.StringOrNil(in.Opponent); opponent != nil {
			if *opponent == in.Creator {
				return nil, fmt.Errorf("%w: cannot challenge yourself", wager.ErrInvalidTransition)
			}
			m.Opponent = opponent
		}
	case wager.KindArena:
		if in.MaxPlayers < minArenaPlayers || in.MaxPlayers > maxArenaPlayers {
			return nil, fmt.Errorf("%w: arena needs %d-%d players", wager.ErrInvalidTransition, minArenaPlayers, maxArenaPlayers)
		}
		m.MaxPlayers = in.MaxPlayers
		if in.Deadline != nil {
			m.Deadline = utils.Ptr(in.Deadline.UTC())
		}
	case wager.KindTournament:
		if in.Deadline == nil || !in.Deadline.After(now) {
			return nil, fmt.Errorf("%w: tournament needs a future deadline", wager.ErrInvalidTransition)
		}
		m.Deadline = utils.Ptr(in.Deadline.UTC())
	default:
		return nil, fmt.Errorf("%w: unknown match kind %q", wager.ErrInvalidTransition, in.Kind)
	}

	inv, err := s.gw.CreateInvoice(ctx, in.Stake, stakeMemo(m.ID))
	if err != nil {
		return nil, err
	}
	m.Invoices[in.Creator] = inv.PaymentHash

	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	return &PendingStake{Match: m, PaymentRequest: inv.PaymentRequest}, nil
}

// Join issues a stake invoice for a prospective participant. Reissuing for
// the same player replaces their previous unpaid invoice.
func (s *SettlementService) Join(ctx context.Context, matchID, player string) (*PendingStake, error) {
	if player == "" {
		return nil, fmt.Errorf("%w: player is required", wager.ErrInvalidTransition)
	}

	m, err := s.store.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := s.checkJoinable(m, player); err != nil {
		return nil, err
	}

	inv, err := s.gw.CreateInvoice(ctx, m.Stake, stakeMemo(m.ID))
	if err != nil {
		return nil, err
	}

	updated, err := s.swap(ctx, matchID, func(m *wager.Match) error {
		if err := s.checkJoinable(m, player); err != nil {
			return err
		}
		m.Invoices[player] = inv.PaymentHash
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &PendingStake{Match: updated, PaymentRequest: inv.PaymentRequest}, nil
}

func (s *SettlementService) checkJoinable(m *wager.Match, player string) error {
	if m.IsParticipant(player) {
		return fmt.Errorf("%w: already enrolled", wager.ErrInvalidTransition)
	}
	if !m.Joinable(s.now()) {
		return fmt.Errorf("%w: match is not accepting players", wager.ErrInvalidTransition)
	}
	if m.Kind == wager.KindDuel && m.Opponent != nil && player != m.Creator && player != *m.Opponent {
		return fmt.Errorf("%w: duel is reserved for another challenger", wager.ErrInvalidTransition)
	}
	return nil
}

// ConfirmStake polls the gateway for the player's invoice and, once paid,
// enrolls them. Payment confirmation and enrollment are the same gate: a
// player who never paid never appears in Participants. Returns the match and
// whether the player is enrolled after the call.
func (s *SettlementService) ConfirmStake(ctx context.Context, matchID, player string) (*wager.Match, bool, error) {
	m, err := s.store.Get(ctx, matchID)
	if err != nil {
		return nil, false, err
	}
	if m.IsParticipant(player) {
		return m, true, nil
	}

	hash, ok := m.Invoices[player]
	if !ok {
		return nil, false, fmt.Errorf("%w: no stake invoice for player", wager.ErrInvalidTransition)
	}

	paid, err := s.gw.IsPaid(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if !paid {
		return m, false, nil
	}

	updated, err := s.swap(ctx, matchID, func(m *wager.Match) error {
		if m.IsParticipant(player) {
			return nil
		}
		if !m.Joinable(s.now()) {
			return fmt.Errorf("%w: match filled before payment confirmed", wager.ErrInvalidTransition)
		}
		m.Participants = append(m.Participants, player)
		m.PaidAt[player] = s.now().UTC()
		if m.Status == wager.StatusOpen && len(m.Participants) >= m.MinPlayers() {
			m.Status = wager.StatusActive
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// SubmitScore records a participant's result, one submission per player.
// Scores are locked once the match finishes. Duels finalize when both
// players have scored; arenas when every enrolled player has scored;
// tournaments only at their deadline, since enrollment stays open until
// then.
func (s *SettlementService) SubmitScore(ctx context.Context, matchID, player string, score, timeMs int64) (*wager.Match, error) {
	if score < 0 || timeMs < 0 {
		return nil, wager.ErrInvalidAmount
	}

	m, err := s.store.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := s.checkScorable(m, player); err != nil {
		return nil, err
	}

	return s.swap(ctx, matchID, func(m *wager.Match) error {
		if err := s.checkScorable(m, player); err != nil {
			return err
		}
		now := s.now().UTC()
		m.Scores[player] = score
		m.Times[player] = timeMs
		m.SubmittedAt[player] = now
		s.maybeFinalize(m, now)
		return nil
	})
}

func (s *SettlementService) checkScorable(m *wager.Match, player string) error {
	if m.Status != wager.StatusOpen && m.Status != wager.StatusActive {
		return fmt.Errorf("%w: match no longer accepts scores", wager.ErrInvalidTransition)
	}
	if !m.IsParticipant(player) {
		return fmt.Errorf("%w: player is not enrolled", wager.ErrInvalidTransition)
	}
	if m.HasScore(player) {
		return fmt.Errorf("%w: score already submitted", wager.ErrInvalidTransition)
	}
	return nil
}

// maybeFinalize advances active matches whose winner-determination
// preconditions are met. Mutates m in place inside a compare-and-swap.
func (s *SettlementService) maybeFinalize(m *wager.Match, now time.Time) {
	if m.Status != wager.StatusActive {
		return
	}

	switch m.Kind {
	case wager.KindDuel:
		if len(m.Participants) != 2 || !m.AllScored() {
			return
		}
	case wager.KindArena:
		// Active means at least two enrolled; once everyone who staked
		// has played there is nothing left to wait for.
		if !m.AllScored() {
			return
		}
	default:
		// Tournaments stay joinable until the deadline sweep.
		return
	}

	s.finalize(m, now)
}

// finalize runs winner determination and seals the match. Caller must have
// verified the preconditions; mutates m inside a compare-and-swap.
func (s *SettlementService) finalize(m *wager.Match, now time.Time) {
	outcome := wager.DetermineWinner(m, now)
	if !outcome.Decided {
		return
	}

	m.Status = wager.StatusFinished
	m.FinishedAt = &now
	m.Draw = outcome.Draw
	if outcome.Winner != "" {
		m.Winner = utils.Ptr(outcome.Winner)

		if m.Kind == wager.KindTournament && m.WinnerToken == nil {
			token, err := wager.NewWinnerToken()
			if err != nil {
				log.Printf("[settlement] winner token generation failed for match %s: %v", m.ID, err)
			} else {
				m.WinnerToken = &token
			}
		}
	}
}

// ClaimPayout converts the winner's entitlement into a withdraw link,
// exactly once per match. amount 0 means the full pot; anything less leaves
// the remainder as a recorded donation. Concurrent claims race on the store
// version: one wins, the rest get ErrAlreadyClaimed and can read the link
// off the match record. A gateway failure rolls the reservation back so
// the claim stays retryable.
func (s *SettlementService) ClaimPayout(ctx context.Context, matchID, claimant string, amount int64) (*wager.Match, error) {
	m, err := s.store.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return s.claim(ctx, m, claimant, amount)
}

// ClaimByToken is the tournament variant: possession of the winner token
// authorizes the claim without re-authenticating as the winner identity.
func (s *SettlementService) ClaimByToken(ctx context.Context, token string, amount int64) (*wager.Match, error) {
	m, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if m.Winner == nil {
		return nil, fmt.Errorf("%w: match has no winner", wager.ErrInvalidTransition)
	}
	return s.claim(ctx, m, *m.Winner, amount)
}

func (s *SettlementService) claim(ctx context.Context, m *wager.Match, claimant string, amount int64) (*wager.Match, error) {
	// Validation is front-loaded: nothing below touches the gateway or the
	// write path until the request is known to be well-formed.
	if m.Status != wager.StatusFinished {
		return nil, fmt.Errorf("%w: match is not finished", wager.ErrInvalidTransition)
	}
	if m.Winner == nil || claimant != *m.Winner {
		return nil, fmt.Errorf("%w: claimant is not the winner", wager.ErrInvalidTransition)
	}

	pot := m.Pot()
	if amount == 0 {
		amount = pot
	}
	if amount < 0 || amount > pot {
		return nil, wager.ErrInvalidAmount
	}

	if m.PayoutClaimed {
		if m.PayoutLNURL != nil {
			// Terminal for this caller; the cached link lives on the
			// match record.
			return nil, wager.ErrAlreadyClaimed
		}
		if s.now().Sub(m.UpdatedAt) < claimHealAfter {
			// Another claim is in flight; do not mint twice.
			return nil, wager.ErrAlreadyClaimed
		}
		// The claimant crashed after reserving but before the link was
		// stored. Complete the claim with the reserved amount.
		amount = m.ClaimedAmount
	} else {
		reserved, err := s.store.CompareAndSwap(ctx, m.ID.String(), m.Version, func(m *wager.Match) error {
			if m.PayoutClaimed {
				return wager.ErrAlreadyClaimed
			}
			m.PayoutClaimed = true
			m.ClaimedAmount = amount
			m.DonatedAmount = pot - amount
			return nil
		})
		if errors.Is(err, store.ErrConflict) {
			return nil, wager.ErrAlreadyClaimed
		}
		if err != nil {
			return nil, err
		}
		m = reserved
	}

	link, err := s.gw.CreatePayoutLink(ctx, amount, payoutMemo(m.ID))
	if err != nil {
		// Undo the reservation so the claim stays retryable. If the
		// compensation itself fails the completion path above heals
		// the match on the next attempt.
		if _, compErr := s.swap(ctx, m.ID.String(), func(m *wager.Match) error {
			m.PayoutClaimed = false
			m.ClaimedAmount = 0
			m.DonatedAmount = 0
			return nil
		}); compErr != nil {
			log.Printf("[settlement] payout rollback failed for match %s: %v", m.ID, compErr)
		}
		return nil, err
	}

	final, err := s.swap(ctx, m.ID.String(), func(m *wager.Match) error {
		if m.PayoutLNURL != nil {
			// A concurrent heal stored a link first.
			return wager.ErrAlreadyClaimed
		}
		m.PayoutLNURL = &link.LNURL
		m.PayoutID = &link.ID
		return nil
	})
	if errors.Is(err, wager.ErrAlreadyClaimed) {
		log.Printf("[settlement] orphaned payout link %s for match %s", link.ID, m.ID)
	}
	return final, err
}

// ClaimRefund returns a participant's own stake from a match that never
// reached active play. Refunds are independent per participant: each slot
// has its own exactly-once compare-and-swap.
func (s *SettlementService) ClaimRefund(ctx context.Context, matchID, participant string) (*wager.Match, error) {
	m, err := s.store.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if m.RefundClaimed[participant] {
		if m.RefundLinks[participant] != "" {
			return nil, wager.ErrAlreadyRefunded
		}
		if s.now().Sub(m.UpdatedAt) < claimHealAfter {
			return nil, wager.ErrAlreadyRefunded
		}
		// Reserved but link never stored; complete below.
	} else {
		if m.PayoutClaimed {
			return nil, wager.ErrAlreadyClaimed
		}
		if !wager.RefundEligible(m, participant, s.now(), s.refundTimeout) {
			return nil, fmt.Errorf("%w: stake is not refund-eligible", wager.ErrInvalidTransition)
		}

		reserved, err := s.store.CompareAndSwap(ctx, m.ID.String(), m.Version, func(m *wager.Match) error {
			if m.RefundClaimed[participant] {
				return wager.ErrAlreadyRefunded
			}
			m.RefundClaimed[participant] = true
			if allRefunded(m) {
				m.Status = wager.StatusRefunded
			}
			return nil
		})
		if errors.Is(err, store.ErrConflict) {
			return nil, wager.ErrAlreadyRefunded
		}
		if err != nil {
			return nil, err
		}
		m = reserved
	}

	link, err := s.gw.CreatePayoutLink(ctx, m.Stake, refundMemo(m.ID))
	if err != nil {
		if _, compErr := s.swap(ctx, m.ID.String(), func(m *wager.Match) error {
			delete(m.RefundClaimed, participant)
			if m.Status == wager.StatusRefunded {
				m.Status = wager.StatusOpen
			}
			return nil
		}); compErr != nil {
			log.Printf("[settlement] refund rollback failed for match %s: %v", m.ID, compErr)
		}
		return nil, err
	}

	final, err := s.swap(ctx, m.ID.String(), func(m *wager.Match) error {
		if m.RefundLinks[participant] != "" {
			return wager.ErrAlreadyRefunded
		}
		m.RefundLinks[participant] = link.LNURL
		m.RefundIDs[participant] = link.ID
		return nil
	})
	if errors.Is(err, wager.ErrAlreadyRefunded) {
		log.Printf("[settlement] orphaned refund link %s for match %s", link.ID, m.ID)
	}
	return final, err
}

func allRefunded(m *wager.Match) bool {
	if len(m.PaidAt) == 0 {
		return false
	}
	for p := range m.PaidAt {
		if !m.RefundClaimed[p] {
			return false
		}
	}
	return true
}

// WinnerToken reveals the claim token of a finished tournament to its
// winner. The token is never included in general match payloads.
func (s *SettlementService) WinnerToken(ctx context.Context, matchID, player string) (string, error) {
	m, err := s.store.Get(ctx, matchID)
	if err != nil {
		return "", err
	}
	if m.Winner == nil || player != *m.Winner {
		return "", fmt.Errorf("%w: player is not the winner", wager.ErrInvalidTransition)
	}
	if m.WinnerToken == nil {
		return "", fmt.Errorf("%w: match has no claim token", wager.ErrInvalidTransition)
	}
	return *m.WinnerToken, nil
}

// PayoutConsumed polls the gateway for whether the match's withdraw link
// has actually been swept by a wallet.
func (s *SettlementService) PayoutConsumed(ctx context.Context, matchID string) (bool, error) {
	m, err := s.store.Get(ctx, matchID)
	if err != nil {
		return false, err
	}
	if m.PayoutID == nil {
		return false, nil
	}
	return s.gw.IsPayoutClaimed(ctx, *m.PayoutID)
}

func (s *SettlementService) GetMatch(ctx context.Context, id string) (*wager.Match, error) {
	return s.store.Get(ctx, id)
}

func (s *SettlementService) GetOpenMatches(ctx context.Context) ([]wager.Match, error) {
	return s.store.GetOpen(ctx)
}

func (s *SettlementService) GetPlayerMatches(ctx context.Context, player string) ([]wager.Match, error) {
	return s.store.GetByPlayer(ctx, player)
}

// Changes is the poll adapter: the core's answer to "what moved since my
// last look". A push transport can replace the caller without touching the
// state machine.
func (s *SettlementService) Changes(ctx context.Context, since time.Time) ([]wager.Match, error) {
	return s.store.ChangedSince(ctx, since)
}

// swap retries a compare-and-swap against fresh reads for mutations where a
// lost race is benign. Business errors from mutate pass through untouched.
func (s *SettlementService) swap(ctx context.Context, matchID string, mutate func(*wager.Match) error) (*wager.Match, error) {
	var lastErr error
	for i := 0; i < swapRetries; i++ {
		m, err := s.store.Get(ctx, matchID)
		if err != nil {
			return nil, err
		}
		updated, err := s.store.CompareAndSwap(ctx, matchID, m.Version, mutate)
		if errors.Is(err, store.ErrConflict) {
			lastErr = err
			continue
		}
		return updated, err
	}
	return nil, lastErr
}

func stakeMemo(id uuid.UUID) string {
	return "SatsDuel stake " + shortID(id)
}

func payoutMemo(id uuid.UUID) string {
	return "SatsDuel win " + shortID(id)
}

func refundMemo(id uuid.UUID) string {
	return "SatsDuel refund " + shortID(id)
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
