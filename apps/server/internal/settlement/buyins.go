package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"homegame/apps/server/internal/store"
	"homegame/settle"
)

// RequestBuyIn files a PENDING buy-in for the manager to resolve.
func (s *Service) RequestBuyIn(ctx context.Context, gameID, playerID string, typ settle.BuyInType, amount int64) (*settle.BuyInRequest, error) {
	if amount <= 0 {
		return nil, settle.ErrValidation("amount", "must be > 0")
	}
	if _, ok := settle.BuyInTypeDictionary[typ]; !ok {
		return nil, settle.ErrValidation("type", "must be CASH or CREDIT")
	}
	req := &settle.BuyInRequest{
		ID:        uuid.NewString(),
		GameID:    gameID,
		PlayerID:  playerID,
		Type:      typ,
		Amount:    amount,
		Status:    settle.BuyInPending,
		CreatedAt: s.clock.Now(),
	}
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := requireBuyInPlayer(ctx, tx, gameID, playerID, "request buy-in"); err != nil {
			return err
		}
		return tx.CreateBuyIn(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("buy-in requested", "game", gameID, "player", playerID, "type", typ, "amount", amount)
	return req, nil
}

func (s *Service) ApproveBuyIn(ctx context.Context, gameID, requestID string) (*settle.BuyInRequest, error) {
	return s.resolveBuyIn(ctx, gameID, requestID, settle.BuyInApproved, 0)
}

func (s *Service) DeclineBuyIn(ctx context.Context, gameID, requestID string) (*settle.BuyInRequest, error) {
	return s.resolveBuyIn(ctx, gameID, requestID, settle.BuyInDeclined, 0)
}

// EditBuyIn approves a request for a different amount.
func (s *Service) EditBuyIn(ctx context.Context, gameID, requestID string, amount int64) (*settle.BuyInRequest, error) {
	if amount <= 0 {
		return nil, settle.ErrValidation("amount", "must be > 0")
	}
	return s.resolveBuyIn(ctx, gameID, requestID, settle.BuyInEdited, amount)
}

func (s *Service) ListBuyIns(ctx context.Context, gameID string) ([]settle.BuyInRequest, error) {
	if _, err := s.store.GetGame(ctx, gameID); err != nil {
		return nil, fmt.Errorf("game %s: %w", gameID, err)
	}
	return s.store.ListBuyIns(ctx, gameID)
}

// resolveBuyIn settles a PENDING request. Accepted amounts go into the bank counters and
// the matching pool in the same transaction.
func (s *Service) resolveBuyIn(ctx context.Context, gameID, requestID string, status settle.BuyInStatus, edited int64) (*settle.BuyInRequest, error) {
	var result settle.BuyInRequest
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		req, err := tx.GetBuyIn(ctx, gameID, requestID)
		if err != nil {
			return fmt.Errorf("buy-in %s: %w", requestID, err)
		}
		if req.Status != settle.BuyInPending {
			return settle.ErrInvalidState("resolve buy-in", settle.BuyInPending.String(), req.Status.String())
		}
		if status != settle.BuyInDeclined {
			if _, err := requireBuyInPlayer(ctx, tx, gameID, req.PlayerID, "resolve buy-in"); err != nil {
				return err
			}
		}
		next := *req
		next.Status = status
		next.EditedAmount = edited
		next.ResolvedAt = s.clock.Now()
		if err := tx.ResolveBuyIn(ctx, &next); err != nil {
			return fmt.Errorf("resolve buy-in %s: %w", requestID, err)
		}
		if amount := next.EffectiveAmount(); amount > 0 {
			counter, pool := store.BankCashIn, store.PoolCash
			if next.Type == settle.BuyInCredit {
				counter, pool = store.BankCreditsIssued, store.PoolCredit
			}
			for _, field := range []store.PoolField{counter, pool, store.BankChipsInPlay} {
				if err := tx.AdjustPool(ctx, gameID, field, amount); err != nil {
					return err
				}
			}
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("buy-in resolved", "game", gameID, "request", requestID, "status", result.Status, "amount", result.EffectiveAmount())
	return &result, nil
}

func requireBuyInPlayer(ctx context.Context, tx store.Tx, gameID, playerID, op string) (*settle.Player, error) {
	if _, err := requireGame(ctx, tx, gameID, op, settle.GameOpen); err != nil {
		return nil, err
	}
	p, err := tx.GetPlayer(ctx, gameID, playerID)
	if err != nil {
		return nil, fmt.Errorf("player %s: %w", playerID, err)
	}
	if p.CheckoutStatus.InFlow() {
		return nil, settle.ErrInvalidState(op, "player not in checkout", p.CheckoutStatus.String())
	}
	return p, nil
}
