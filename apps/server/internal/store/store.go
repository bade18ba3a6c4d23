package store

import (
	"context"
	"fmt"
	"time"

	"homegame/settle"
)

// PoolField names a bank counter or pool column that can be adjusted atomically.
type PoolField byte

const (
	PoolCash          PoolField = 1
	PoolCredit        PoolField = 2
	BankCashIn        PoolField = 3
	BankCreditsIssued PoolField = 4
	BankCashOut       PoolField = 5
	BankCreditOut     PoolField = 6
	BankChipsInPlay   PoolField = 7
)

var poolFieldColumns = map[PoolField]string{
	PoolCash:          "cash_pool",
	PoolCredit:        "credit_pool",
	BankCashIn:        "total_cash_in",
	BankCreditsIssued: "total_credits_issued",
	BankCashOut:       "total_cash_out",
	BankCreditOut:     "total_credit_out",
	BankChipsInPlay:   "chips_in_play",
}

func (f PoolField) column() (string, error) {
	col, ok := poolFieldColumns[f]
	if !ok {
		return "", fmt.Errorf("unknown pool field %d", f)
	}
	return col, nil
}

func (f PoolField) String() string {
	if col, ok := poolFieldColumns[f]; ok {
		return col
	}
	return fmt.Sprintf("PoolField(%d)", byte(f))
}

type Games interface {
	CreateGame(ctx context.Context, g *settle.Game) error
	GetGame(ctx context.Context, gameID string) (*settle.Game, error)
	// UpdateGameIf writes status, settlement marker and lifecycle timestamps only if the
	// stored status still equals expect. Pools and bank counters go through Bank.
	UpdateGameIf(ctx context.Context, g *settle.Game, expect settle.GameStatus) error
	ListExpiredOpenGames(ctx context.Context, now time.Time) ([]string, error)
}

type Players interface {
	CreatePlayer(ctx context.Context, p *settle.Player) error
	GetPlayer(ctx context.Context, gameID, playerID string) (*settle.Player, error)
	// ListPlayers returns players in join order.
	ListPlayers(ctx context.Context, gameID string) ([]*settle.Player, error)
	// UpdatePlayerIf writes the whole record only if the stored checkout status equals expect.
	UpdatePlayerIf(ctx context.Context, p *settle.Player, expect settle.CheckoutStatus) error
}

// BuyIns is the buy-in ledger.
type BuyIns interface {
	CreateBuyIn(ctx context.Context, r *settle.BuyInRequest) error
	GetBuyIn(ctx context.Context, gameID, requestID string) (*settle.BuyInRequest, error)
	ListBuyIns(ctx context.Context, gameID string) ([]settle.BuyInRequest, error)
	// ResolveBuyIn stores a resolution only if the request is still PENDING.
	ResolveBuyIn(ctx context.Context, r *settle.BuyInRequest) error
	ListResolvedRequests(ctx context.Context, gameID, playerID string) ([]settle.BuyInRequest, error)
	DeclineAllPending(ctx context.Context, gameID string, now time.Time) (int, error)
}

// Bank is the bank ledger of a game.
type Bank interface {
	AdjustPool(ctx context.Context, gameID string, field PoolField, delta int64) error
	SetPools(ctx context.Context, gameID string, cashPool, creditPool int64) error
}

type Tx interface {
	Games
	Players
	BuyIns
	Bank
}

// Store is the shared persistence handle passed to every service constructor.
type Store interface {
	Tx
	// Atomic runs fn against a transactional view. Nothing fn wrote survives an error.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

func msOf(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func timeOf(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
