package store

import (
	"context"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satsduel/satsduel/internal/wager"
)

// setupTestDB creates an in-memory SQLite database and applies migrations
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := sqlx.Connect("sqlite3", "file::memory:")
	require.NoError(t, err, "Failed to connect to in-memory DB")

	// A single connection keeps every query on the same in-memory database.
	database.SetMaxOpenConns(1)

	driver, err := sqlite3.WithInstance(database.DB, &sqlite3.Config{})
	require.NoError(t, err, "Failed to create migrate driver instance")

	m, err := migrate.NewWithDatabaseInstance(
		"file://../../migrations",
		"sqlite3",
		driver,
	)
	require.NoError(t, err, "Failed to create migrate instance")

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "Failed to apply migrations")
	}

	return database
}

func newTestMatch() *wager.Match {
	now := time.Now().UTC().Truncate(time.Second)
	return &wager.Match{
		ID:            uuid.New(),
		Kind:          wager.KindDuel,
		Stake:         1000,
		Creator:       "alice",
		MaxPlayers:    2,
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
}

func TestCreateAndGetMatch(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewMatchStore(db)
	ctx := context.Background()

	m := newTestMatch()
	require.NoError(t, store.Create(ctx, m))

	fetched, err := store.Get(ctx, m.ID.String())
	require.NoError(t, err)

	assert.Equal(t, m.ID, fetched.ID)
	assert.Equal(t, wager.KindDuel, fetched.Kind)
	assert.Equal(t, int64(1000), fetched.Stake)
	assert.Equal(t, wager.StatusOpen, fetched.Status)
	assert.Equal(t, int64(1), fetched.Version)
	assert.Empty(t, fetched.Participants)
}

func TestGetMissingMatch(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewMatchStore(db)

	_, err := store.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompareAndSwapBumpsVersion(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewMatchStore(db)
	ctx := context.Background()

	m := newTestMatch()
	require.NoError(t, store.Create(ctx, m))

	updated, err := store.CompareAndSwap(ctx, m.ID.String(), 1, func(m *wager.Match) error {
		m.Participants = append(m.Participants, "alice")
		m.PaidAt["alice"] = time.Now().UTC()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, wager.StringList{"alice"}, updated.Participants)

	fetched, err := store.Get(ctx, m.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetched.Version)
	assert.Contains(t, fetched.PaidAt, "alice")
}

func TestCompareAndSwapStaleVersionConflicts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewMatchStore(db)
	ctx := context.Background()

	m := newTestMatch()
	require.NoError(t, store.Create(ctx, m))

	_, err := store.CompareAndSwap(ctx, m.ID.String(), 1, func(m *wager.Match) error {
		m.PayoutClaimed = true
		return nil
	})
	require.NoError(t, err)

	// Second writer read version 1 before the first one committed.
	_, err = store.CompareAndSwap(ctx, m.ID.String(), 1, func(m *wager.Match) error {
		m.PayoutClaimed = true
		return nil
	})
	assert.ErrorIs(t, err, ErrConflict)

	fetched, err := store.Get(ctx, m.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetched.Version)
}

func TestCompareAndSwapMutateErrorAborts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewMatchStore(db)
	ctx := context.Background()

	m := newTestMatch()
	require.NoError(t, store.Create(ctx, m))

	_, err := store.CompareAndSwap(ctx, m.ID.String(), 1, func(m *wager.Match) error {
		return wager.ErrAlreadyClaimed
	})
	assert.ErrorIs(t, err, wager.ErrAlreadyClaimed)

	fetched, err := store.Get(ctx, m.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1), fetched.Version)
}

func TestGetByToken(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewMatchStore(db)
	ctx := context.Background()

	m := newTestMatch()
	m.Kind = wager.KindTournament
	m.MaxPlayers = 0
	token := "TABCDEFGHJ"
	m.WinnerToken = &token
	require.NoError(t, store.Create(ctx, m))

	fetched, err := store.GetByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, m.ID, fetched.ID)

	_, err = store.GetByToken(ctx, "TNOSUCHTOK")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByPlayer(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewMatchStore(db)
	ctx := context.Background()

	mine := newTestMatch()
	mine.Participants = wager.StringList{"alice", "bob"}
	mine.Status = wager.StatusActive
	require.NoError(t, store.Create(ctx, mine))

	other := newTestMatch()
	other.Creator = "carol"
	other.Participants = wager.StringList{"carol", "dave"}
	other.Status = wager.StatusActive
	require.NoError(t, store.Create(ctx, other))

	matches, err := store.GetByPlayer(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, mine.ID, matches[0].ID)

	// Creating a match counts even before the creator pays in.
	matches, err = store.GetByPlayer(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, other.ID, matches[0].ID)
}

func TestGetDue(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewMatchStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	due := newTestMatch()
	due.Kind = wager.KindTournament
	due.MaxPlayers = 0
	due.Deadline = &past
	due.Status = wager.StatusActive
	require.NoError(t, store.Create(ctx, due))

	future := now.Add(time.Hour)
	pending := newTestMatch()
	pending.Kind = wager.KindTournament
	pending.MaxPlayers = 0
	pending.Deadline = &future
	pending.Status = wager.StatusActive
	require.NoError(t, store.Create(ctx, pending))

	finished := newTestMatch()
	finished.Kind = wager.KindTournament
	finished.MaxPlayers = 0
	finished.Deadline = &past
	finished.Status = wager.StatusFinished
	require.NoError(t, store.Create(ctx, finished))

	matches, err := store.GetDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, due.ID, matches[0].ID)
}

func TestChangedSince(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewMatchStore(db)
	ctx := context.Background()

	m := newTestMatch()
	require.NoError(t, store.Create(ctx, m))

	since := m.UpdatedAt.Add(time.Second)

	matches, err := store.ChangedSince(ctx, since)
	require.NoError(t, err)
	assert.Empty(t, matches)

	time.Sleep(1100 * time.Millisecond)
	_, err = store.CompareAndSwap(ctx, m.ID.String(), 1, func(m *wager.Match) error {
		m.Invoices["bob"] = "hash"
		return nil
	})
	require.NoError(t, err)

	matches, err = store.ChangedSince(ctx, since)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, m.ID, matches[0].ID)
}
