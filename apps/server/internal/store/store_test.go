package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homegame/settle"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func seedGame(t *testing.T, s Store, id string) *settle.Game {
	t.Helper()
	g := &settle.Game{
		ID:             id,
		Name:           "friday",
		Status:         settle.GameOpen,
		ManagerPINHash: []byte("$2a$hash"),
		AutoValidate:   true,
		CreatedAt:      epoch,
		ExpiresAt:      epoch.Add(6 * time.Hour),
	}
	require.NoError(t, s.CreateGame(context.Background(), g))
	return g
}

func seedPlayer(t *testing.T, s Store, gameID, id, name string) *settle.Player {
	t.Helper()
	p := &settle.Player{ID: id, GameID: gameID, Name: name, Active: true, JoinedAt: epoch}
	require.NoError(t, s.CreatePlayer(context.Background(), p))
	return p
}

func TestGameRoundTripAndCAS(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedGame(t, s, "g1")

			got, err := s.GetGame(ctx, "g1")
			require.NoError(t, err)
			assert.Equal(t, settle.GameOpen, got.Status)
			assert.True(t, got.AutoValidate)
			assert.Equal(t, []byte("$2a$hash"), got.ManagerPINHash)
			assert.True(t, got.ExpiresAt.Equal(epoch.Add(6*time.Hour)))

			got.Status = settle.GameSettling
			got.SettlementState = settle.SettlementChipCount
			got.FrozenAt = epoch.Add(time.Hour)
			require.NoError(t, s.UpdateGameIf(ctx, got, settle.GameOpen))

			// A second writer still expecting OPEN loses.
			stale := *got
			stale.Status = settle.GameClosed
			err = s.UpdateGameIf(ctx, &stale, settle.GameOpen)
			assert.ErrorIs(t, err, settle.ErrConflict)

			missing := *got
			missing.ID = "nope"
			assert.ErrorIs(t, s.UpdateGameIf(ctx, &missing, settle.GameOpen), settle.ErrNotFound)

			reread, err := s.GetGame(ctx, "g1")
			require.NoError(t, err)
			assert.Equal(t, settle.GameSettling, reread.Status)
			assert.Equal(t, settle.SettlementChipCount, reread.SettlementState)

			_, err = s.GetGame(ctx, "nope")
			assert.ErrorIs(t, err, settle.ErrNotFound)
		})
	}
}

func TestPlayerOrderingAndCAS(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedGame(t, s, "g1")
			seedPlayer(t, s, "g1", "p-zed", "zed")
			seedPlayer(t, s, "g1", "p-amy", "amy")
			seedPlayer(t, s, "g1", "p-bob", "bob")

			err := s.CreatePlayer(ctx, &settle.Player{ID: "p-dup", GameID: "g1", Name: "amy", JoinedAt: epoch})
			assert.ErrorIs(t, err, settle.ErrConflict)

			players, err := s.ListPlayers(ctx, "g1")
			require.NoError(t, err)
			require.Len(t, players, 3)
			assert.Equal(t, []string{"p-zed", "p-amy", "p-bob"}, []string{players[0].ID, players[1].ID, players[2].ID})

			p := players[1]
			p.CheckoutStatus = settle.CheckoutPending
			frozen := settle.NewFrozenBuyIn(100, 50)
			p.FrozenBuyIn = &frozen
			p.Distribution = &settle.Distribution{Cash: 10, CreditFrom: []settle.CreditTransfer{{From: "p-zed", Amount: 5}}}
			require.NoError(t, s.UpdatePlayerIf(ctx, p, settle.CheckoutNone))

			p.CheckoutStatus = settle.CheckoutSubmitted
			assert.ErrorIs(t, s.UpdatePlayerIf(ctx, p, settle.CheckoutNone), settle.ErrConflict)

			got, err := s.GetPlayer(ctx, "g1", "p-amy")
			require.NoError(t, err)
			assert.Equal(t, settle.CheckoutPending, got.CheckoutStatus)
			require.NotNil(t, got.FrozenBuyIn)
			assert.Equal(t, int64(150), got.FrozenBuyIn.TotalBuyIn)
			require.NotNil(t, got.Distribution)
			assert.Equal(t, "p-zed", got.Distribution.CreditFrom[0].From)

			_, err = s.GetPlayer(ctx, "g1", "ghost")
			assert.ErrorIs(t, err, settle.ErrNotFound)
		})
	}
}

func TestBuyInLedger(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedGame(t, s, "g1")
			seedPlayer(t, s, "g1", "p1", "amy")
			seedPlayer(t, s, "g1", "p2", "bob")

			reqs := []settle.BuyInRequest{
				{ID: "r1", GameID: "g1", PlayerID: "p1", Type: settle.BuyInCash, Amount: 100, Status: settle.BuyInPending, CreatedAt: epoch},
				{ID: "r2", GameID: "g1", PlayerID: "p1", Type: settle.BuyInCredit, Amount: 50, Status: settle.BuyInPending, CreatedAt: epoch},
				{ID: "r3", GameID: "g1", PlayerID: "p1", Type: settle.BuyInCash, Amount: 40, Status: settle.BuyInPending, CreatedAt: epoch},
				{ID: "r4", GameID: "g1", PlayerID: "p2", Type: settle.BuyInCash, Amount: 70, Status: settle.BuyInPending, CreatedAt: epoch},
			}
			for i := range reqs {
				require.NoError(t, s.CreateBuyIn(ctx, &reqs[i]))
			}

			approve := reqs[0]
			approve.Status = settle.BuyInApproved
			approve.ResolvedAt = epoch.Add(time.Minute)
			require.NoError(t, s.ResolveBuyIn(ctx, &approve))
			assert.ErrorIs(t, s.ResolveBuyIn(ctx, &approve), settle.ErrConflict, "resolved requests are immutable")

			edit := reqs[1]
			edit.Status = settle.BuyInEdited
			edit.EditedAmount = 30
			require.NoError(t, s.ResolveBuyIn(ctx, &edit))

			n, err := s.DeclineAllPending(ctx, "g1", epoch.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			resolved, err := s.ListResolvedRequests(ctx, "g1", "p1")
			require.NoError(t, err)
			require.Len(t, resolved, 2)
			assert.Equal(t, settle.NewFrozenBuyIn(100, 30), settle.FreezeBuyIn(resolved))

			all, err := s.ListBuyIns(ctx, "g1")
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, settle.BuyInDeclined, all[2].Status)
			assert.Equal(t, "r4", all[3].ID)

			ghost := settle.BuyInRequest{ID: "r9", GameID: "g1", PlayerID: "ghost", Type: settle.BuyInCash, Amount: 1, Status: settle.BuyInPending, CreatedAt: epoch}
			assert.ErrorIs(t, s.CreateBuyIn(ctx, &ghost), settle.ErrNotFound)
		})
	}
}

func TestAtomicRollsBack(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedGame(t, s, "g1")
			boom := errors.New("boom")

			err := s.Atomic(ctx, func(tx Tx) error {
				if err := tx.AdjustPool(ctx, "g1", BankCashIn, 500); err != nil {
					return err
				}
				if err := tx.SetPools(ctx, "g1", 500, 0); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)

			g, err := s.GetGame(ctx, "g1")
			require.NoError(t, err)
			assert.Zero(t, g.Bank.TotalCashIn)
			assert.Zero(t, g.CashPool)

			require.NoError(t, s.Atomic(ctx, func(tx Tx) error {
				if err := tx.AdjustPool(ctx, "g1", BankCashIn, 500); err != nil {
					return err
				}
				if err := tx.AdjustPool(ctx, "g1", PoolCash, 500); err != nil {
					return err
				}
				return tx.AdjustPool(ctx, "g1", PoolCash, -120)
			}))
			g, err = s.GetGame(ctx, "g1")
			require.NoError(t, err)
			assert.Equal(t, int64(500), g.Bank.TotalCashIn)
			assert.Equal(t, int64(380), g.CashPool)

			assert.ErrorIs(t, s.AdjustPool(ctx, "nope", PoolCash, 1), settle.ErrNotFound)
		})
	}
}

func TestListExpiredOpenGames(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedGame(t, s, "g1")
			g2 := seedGame(t, s, "g2")
			g2.Status = settle.GameSettling
			require.NoError(t, s.UpdateGameIf(ctx, g2, settle.GameOpen))
			require.NoError(t, s.CreateGame(ctx, &settle.Game{ID: "g3", Name: "forever", Status: settle.GameOpen, CreatedAt: epoch}))

			ids, err := s.ListExpiredOpenGames(ctx, epoch.Add(time.Hour))
			require.NoError(t, err)
			assert.Empty(t, ids)

			ids, err = s.ListExpiredOpenGames(ctx, epoch.Add(7*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, []string{"g1"}, ids)
		})
	}
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", dialectPostgres.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ?", dialectSQLite.rebind("a = ?"))
}

func TestOpenModes(t *testing.T) {
	s, mode, err := Open("mem", "", "")
	require.NoError(t, err)
	assert.Equal(t, ModeMemory, mode)
	require.NoError(t, s.Close())

	_, _, err = Open("cassandra", "", "")
	assert.Error(t, err)

	_, _, err = Open("postgres", " ", "")
	assert.Error(t, err)
}
