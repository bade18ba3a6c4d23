package settlement

import (
	"context"
	"fmt"

	"homegame/apps/server/internal/notify"
	"homegame/apps/server/internal/store"
	"homegame/settle"
)

type Pool struct {
	GameID          string      `json:"game_id"`
	Status          string      `json:"status"`
	SettlementState string      `json:"settlement_state"`
	CashPool        int64       `json:"cash_pool"`
	CreditPool      int64       `json:"credit_pool"`
	Bank            settle.Bank `json:"bank"`
}

func (s *Service) Pool(ctx context.Context, gameID string) (*Pool, error) {
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", gameID, err)
	}
	return &Pool{
		GameID:          game.ID,
		Status:          game.Status.String(),
		SettlementState: game.SettlementState,
		CashPool:        game.CashPool,
		CreditPool:      game.CreditPool,
		Bank:            game.Bank,
	}, nil
}

// distributionInput feeds the engine every player awaiting distribution except those in skip,
// with debtor balances already net of recorded transfers.
func distributionInput(game *settle.Game, players []*settle.Player, debts []settle.Debt, skip map[string]settle.Distribution) settle.SuggestInput {
	in := settle.SuggestInput{
		Debtors:    debts,
		CashPool:   game.CashPool,
		CreditPool: game.CreditPool,
		HostID:     game.HostPlayerID,
	}
	for _, p := range players {
		if p.CheckoutStatus != settle.CheckoutAwaitingDistribution {
			continue
		}
		if _, ok := skip[p.ID]; ok {
			continue
		}
		in.Players = append(in.Players, settle.DistributionPlayer{
			PlayerID:         p.ID,
			ChipsAfterCredit: p.ChipsAfterCredit,
			PreferredCash:    p.PreferredCash,
			PreferredCredit:  p.PreferredCredit,
			CreditOwed:       p.CreditsOwed,
		})
	}
	return in
}

// SuggestDistribution proposes payouts for every player awaiting distribution. It writes nothing.
func (s *Service) SuggestDistribution(ctx context.Context, gameID string) (settle.Suggestion, error) {
	snap, err := s.Snapshot(ctx, gameID)
	if err != nil {
		return settle.Suggestion{}, err
	}
	if snap.Game.Status == settle.GameClosed {
		return settle.Suggestion{}, settle.ErrInvalidState("suggest distribution", "OPEN or SETTLING game", snap.Game.Status.String())
	}
	return settle.SuggestDistribution(distributionInput(snap.Game, snap.Players, settle.OutstandingCredit(snap.Players), nil)), nil
}

// ApplyDistribution pays out every player awaiting distribution. Overrides are applied first
// and reserve their credit against the debtors; the rest of the players get the suggestion
// computed from what is left. Either all payouts apply or none do.
func (s *Service) ApplyDistribution(ctx context.Context, gameID string, overrides map[string]settle.Distribution) ([]*settle.Player, error) {
	var (
		applied    []*settle.Player
		host       *settle.Player
		fallback   []settle.CreditTransfer
		unassigned map[string]int64
	)
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		applied, host, fallback = nil, nil, nil
		game, err := tx.GetGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("game %s: %w", gameID, err)
		}
		if game.Status == settle.GameClosed {
			return settle.ErrInvalidState("apply distribution", "OPEN or SETTLING game", game.Status.String())
		}
		if game.Status == settle.GameSettling && game.SettlementState == settle.SettlementChipCount {
			return settle.ErrInvalidState("apply distribution", "all chip counts in", game.SettlementState)
		}
		players, err := tx.ListPlayers(ctx, gameID)
		if err != nil {
			return err
		}
		awaiting := 0
		byID := make(map[string]*settle.Player, len(players))
		for _, p := range players {
			byID[p.ID] = p
			if p.CheckoutStatus == settle.CheckoutAwaitingDistribution {
				awaiting++
			}
		}
		if awaiting == 0 {
			return settle.ErrInvalidState("apply distribution", "players awaiting distribution", "none")
		}
		for id := range overrides {
			p, ok := byID[id]
			if !ok {
				return fmt.Errorf("override for player %s: %w", id, settle.ErrNotFound)
			}
			if p.CheckoutStatus != settle.CheckoutAwaitingDistribution {
				return settle.ErrInvalidState("apply distribution", settle.CheckoutAwaitingDistribution.String(), p.CheckoutStatus.String())
			}
		}

		debts := settle.OutstandingCredit(players)
		for _, p := range players {
			o, ok := overrides[p.ID]
			if !ok {
				continue
			}
			if err := settle.ReserveCredit(debts, o); err != nil {
				return fmt.Errorf("override for %s: %w", p.Name, err)
			}
			next, err := s.machine.Distribute(ctx, tx, p, o)
			if err != nil {
				return fmt.Errorf("override for %s: %w", p.Name, err)
			}
			applied = append(applied, next)
		}
		if len(overrides) > 0 {
			// overrides moved the pools
			if game, err = tx.GetGame(ctx, gameID); err != nil {
				return err
			}
		}

		suggestion := settle.SuggestDistribution(distributionInput(game, players, debts, overrides))
		unassigned = suggestion.Unassigned
		for _, p := range players {
			d, ok := suggestion.Distributions[p.ID]
			if !ok {
				continue
			}
			next, err := s.machine.Distribute(ctx, tx, p, d)
			if err != nil {
				return fmt.Errorf("distribution for %s: %w", p.Name, err)
			}
			applied = append(applied, next)
		}
		if len(suggestion.HostTransfers) > 0 {
			fallback = suggestion.HostTransfers
			host, err = s.machine.AssignFallback(ctx, tx, gameID, game.HostPlayerID, fallback)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for debtor, amount := range unassigned {
		s.log.Warn("debt left unassigned", "game", gameID, "debtor", debtor, "amount", amount)
	}
	s.log.Info("distribution applied", "game", gameID, "players", len(applied), "overrides", len(overrides))
	for _, p := range applied {
		s.notifyDistributed(ctx, p)
	}
	if host != nil {
		s.notifyFallback(ctx, host, fallback)
	}
	return applied, nil
}

// OverrideDistribution pays out a single player with an explicit distribution. Its transfers
// must fit within what each named debtor still owes.
func (s *Service) OverrideDistribution(ctx context.Context, gameID, playerID string, d settle.Distribution) (*settle.Player, error) {
	var result *settle.Player
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		game, err := tx.GetGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("game %s: %w", gameID, err)
		}
		if game.Status == settle.GameClosed {
			return settle.ErrInvalidState("override distribution", "OPEN or SETTLING game", game.Status.String())
		}
		p, err := tx.GetPlayer(ctx, gameID, playerID)
		if err != nil {
			return fmt.Errorf("player %s: %w", playerID, err)
		}
		players, err := tx.ListPlayers(ctx, gameID)
		if err != nil {
			return err
		}
		if err := settle.ReserveCredit(settle.OutstandingCredit(players), d); err != nil {
			return err
		}
		result, err = s.machine.Distribute(ctx, tx, p, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("distribution overridden", "game", gameID, "player", playerID, "cash", d.Cash, "credit", d.TotalCredit())
	s.notifyDistributed(ctx, result)
	return result, nil
}

func (s *Service) notifyDistributed(ctx context.Context, p *settle.Player) {
	if p.Distribution == nil {
		return
	}
	notify.Deliver(ctx, s.sink, s.log, notify.Notification{
		GameID:   p.GameID,
		PlayerID: p.ID,
		Type:     notify.DistributionReady,
		Message:  fmt.Sprintf("Your payout is ready: %d cash and %d credit. Please confirm.", p.Distribution.Cash, p.Distribution.TotalCredit()),
		Data: map[string]any{
			"cash":   p.Distribution.Cash,
			"credit": p.Distribution.TotalCredit(),
		},
		CreatedAt: s.clock.Now(),
	})
}

func (s *Service) notifyFallback(ctx context.Context, host *settle.Player, transfers []settle.CreditTransfer) {
	var total int64
	for _, t := range transfers {
		total += t.Amount
	}
	s.log.Info("debt assigned to host", "game", host.GameID, "host", host.ID, "credit", total, "debtors", len(transfers))
	notify.Deliver(ctx, s.sink, s.log, notify.Notification{
		GameID:    host.GameID,
		PlayerID:  host.ID,
		Type:      notify.CreditAssigned,
		Message:   fmt.Sprintf("You were assigned %d credit owed by players nobody else could collect from.", total),
		Data:      map[string]any{"credit": total},
		CreatedAt: s.clock.Now(),
	})
}
