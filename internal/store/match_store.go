package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/satsduel/satsduel/internal/wager"
)

var (
	// ErrNotFound is returned when the referenced match does not exist.
	ErrNotFound = errors.New("match not found")
	// ErrConflict is returned when a compare-and-swap loses the race
	// against a concurrent writer.
	ErrConflict = errors.New("match was modified concurrently")
)

type MatchStore struct {
	db *sqlx.DB
}

func NewMatchStore(db *sqlx.DB) *MatchStore {
	return &MatchStore{db: db}
}

func (s *MatchStore) Create(ctx context.Context, m *wager.Match) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO matches (
			id, kind, stake, creator, opponent, max_players, deadline, status,
			participants, scores, times, submitted_at, paid_at, invoices,
			winner, draw, winner_token, payout_claimed, payout_lnurl, payout_id,
			claimed_amount, donated_amount, refund_claimed, refund_links, refund_ids,
			created_at, finished_at, updated_at, version)
		VALUES (
			:id, :kind, :stake, :creator, :opponent, :max_players, :deadline, :status,
			:participants, :scores, :times, :submitted_at, :paid_at, :invoices,
			:winner, :draw, :winner_token, :payout_claimed, :payout_lnurl, :payout_id,
			:claimed_amount, :donated_amount, :refund_claimed, :refund_links, :refund_ids,
			:created_at, :finished_at, :updated_at, :version)`, m)
	return err
}

func (s *MatchStore) Get(ctx context.Context, id string) (*wager.Match, error) {
	var m wager.Match
	err := s.db.GetContext(ctx, &m, "SELECT * FROM matches WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByToken resolves a tournament winner-claim token to its match.
func (s *MatchStore) GetByToken(ctx context.Context, token string) (*wager.Match, error) {
	var m wager.Match
	err := s.db.GetContext(ctx, &m, "SELECT * FROM matches WHERE winner_token = ?", token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// casRow binds the mutated match plus the version the caller read, so the
// swap can be expressed as a single named statement.
type casRow struct {
	*wager.Match
	Expected int64 `db:"expected"`
}

// CompareAndSwap re-reads the match, applies mutate to the copy, and writes
// it back only if the stored version still equals expectedVersion. The write
// bumps the version counter, so between any two concurrent swaps against the
// same version exactly one succeeds; the other gets ErrConflict. This is the
// only write path the settlement service uses after creation.
func (s *MatchStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate func(*wager.Match) error) (*wager.Match, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Version != expectedVersion {
		return nil, ErrConflict
	}

	if err := mutate(m); err != nil {
		return nil, err
	}

	m.Version = expectedVersion + 1
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.NamedExecContext(ctx, `UPDATE matches SET
			status = :status, opponent = :opponent, deadline = :deadline,
			participants = :participants, scores = :scores, times = :times,
			submitted_at = :submitted_at, paid_at = :paid_at, invoices = :invoices,
			winner = :winner, draw = :draw, winner_token = :winner_token,
			payout_claimed = :payout_claimed, payout_lnurl = :payout_lnurl, payout_id = :payout_id,
			claimed_amount = :claimed_amount, donated_amount = :donated_amount,
			refund_claimed = :refund_claimed, refund_links = :refund_links, refund_ids = :refund_ids,
			finished_at = :finished_at, updated_at = :updated_at, version = :version
		WHERE id = :id AND version = :expected`, casRow{Match: m, Expected: expectedVersion})
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrConflict
	}
	return m, nil
}

// GetOpen lists matches still accepting participants, newest first.
func (s *MatchStore) GetOpen(ctx context.Context) ([]wager.Match, error) {
	var matches []wager.Match
	err := s.db.SelectContext(ctx, &matches,
		"SELECT * FROM matches WHERE status IN ('open', 'active') ORDER BY created_at DESC")
	return matches, err
}

// GetByPlayer lists matches a player created or enrolled in.
func (s *MatchStore) GetByPlayer(ctx context.Context, player string) ([]wager.Match, error) {
	var matches []wager.Match
	err := s.db.SelectContext(ctx, &matches,
		`SELECT * FROM matches
		 WHERE creator = ? OR participants LIKE '%' || json_quote(?) || '%'
		 ORDER BY created_at DESC`, player, player)
	return matches, err
}

// GetDue lists unfinished matches whose deadline has passed. The deadline
// sweep feeds on this.
func (s *MatchStore) GetDue(ctx context.Context, now time.Time) ([]wager.Match, error) {
	var matches []wager.Match
	err := s.db.SelectContext(ctx, &matches,
		`SELECT * FROM matches
		 WHERE deadline IS NOT NULL AND deadline <= ?
		   AND status IN ('open', 'active')
		 ORDER BY deadline ASC`, now.UTC())
	return matches, err
}

// GetStaleOpen lists matches that have sat in open since before the cutoff,
// the feed for the bookkeeping sweep.
func (s *MatchStore) GetStaleOpen(ctx context.Context, cutoff time.Time) ([]wager.Match, error) {
	var matches []wager.Match
	err := s.db.SelectContext(ctx, &matches,
		`SELECT * FROM matches
		 WHERE status = 'open' AND created_at <= ?
		 ORDER BY created_at ASC`, cutoff.UTC())
	return matches, err
}

// ChangedSince backs the poll adapter: every match whose record changed
// after the given instant.
func (s *MatchStore) ChangedSince(ctx context.Context, since time.Time) ([]wager.Match, error) {
	var matches []wager.Match
	err := s.db.SelectContext(ctx, &matches,
		"SELECT * FROM matches WHERE updated_at > ? ORDER BY updated_at ASC", since.UTC())
	return matches, err
}
