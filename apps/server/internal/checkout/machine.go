package checkout

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"homegame/apps/server/internal/notify"
	"homegame/apps/server/internal/store"
	"homegame/settle"
)

// Machine persists per-player checkout transitions. Every write is a compare-and-swap on
// the player's previous checkout status, so two callers racing on the same player cannot
// both succeed.
type Machine struct {
	store store.Store
	sink  notify.Sink
	clock quartz.Clock
	log   *log.Logger
}

func NewMachine(s store.Store, sink notify.Sink, clock quartz.Clock, logger *log.Logger) *Machine {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Machine{
		store: s,
		sink:  sink,
		clock: clock,
		log:   logger.WithPrefix("checkout"),
	}
}

// Freeze snapshots the player's resolved buy-ins and moves them to PENDING.
func (m *Machine) Freeze(ctx context.Context, tx store.Tx, p *settle.Player) (*settle.Player, error) {
	resolved, err := tx.ListResolvedRequests(ctx, p.GameID, p.ID)
	if err != nil {
		return nil, err
	}
	next, err := settle.Enter(p, settle.FreezeBuyIn(resolved))
	if err != nil {
		return nil, err
	}
	if err := tx.UpdatePlayerIf(ctx, next, p.CheckoutStatus); err != nil {
		return nil, fmt.Errorf("freeze player %s: %w", p.ID, err)
	}
	return next, nil
}

// Await moves a credit-deducted player to AWAITING_DISTRIBUTION.
func (m *Machine) Await(ctx context.Context, tx store.Tx, p *settle.Player) (*settle.Player, error) {
	next, err := settle.MarkAwaiting(p)
	if err != nil {
		return nil, err
	}
	if err := tx.UpdatePlayerIf(ctx, next, p.CheckoutStatus); err != nil {
		return nil, fmt.Errorf("await distribution for %s: %w", p.ID, err)
	}
	return next, nil
}

// Distribute applies a payout and takes it out of the pools in the same transaction.
func (m *Machine) Distribute(ctx context.Context, tx store.Tx, p *settle.Player, d settle.Distribution) (*settle.Player, error) {
	out, err := settle.ApplyDistribution(p, d)
	if err != nil {
		return nil, err
	}
	if err := tx.UpdatePlayerIf(ctx, out.Player, p.CheckoutStatus); err != nil {
		return nil, fmt.Errorf("distribute to %s: %w", p.ID, err)
	}
	if err := payOut(ctx, tx, p.GameID, out); err != nil {
		return nil, err
	}
	return out.Player, nil
}

// AssignFallback records debt nobody else could absorb on the host and takes it out of the
// credit pool. The host's checkout status is not changed.
func (m *Machine) AssignFallback(ctx context.Context, tx store.Tx, gameID, hostID string, transfers []settle.CreditTransfer) (*settle.Player, error) {
	host, err := tx.GetPlayer(ctx, gameID, hostID)
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", hostID, err)
	}
	next := host.Clone()
	var total int64
	for _, t := range transfers {
		if t.From == hostID {
			return nil, settle.ErrValidation("credit_from.from", "host cannot absorb its own debt")
		}
		next.FallbackCredit = append(next.FallbackCredit, t)
		total += t.Amount
	}
	if err := tx.UpdatePlayerIf(ctx, next, host.CheckoutStatus); err != nil {
		return nil, fmt.Errorf("assign fallback credit to %s: %w", hostID, err)
	}
	if err := payOut(ctx, tx, gameID, settle.Outcome{Player: next, CreditPaid: total}); err != nil {
		return nil, err
	}
	return next, nil
}

// Submit records the player's own chip count.
func (m *Machine) Submit(ctx context.Context, gameID, playerID string, in settle.SubmitInput) (*settle.Player, error) {
	return m.submit(ctx, gameID, playerID, in, false)
}

// ManagerInput submits on the player's behalf and locks their input.
func (m *Machine) ManagerInput(ctx context.Context, gameID, playerID string, in settle.SubmitInput) (*settle.Player, error) {
	return m.submit(ctx, gameID, playerID, in, true)
}

func (m *Machine) submit(ctx context.Context, gameID, playerID string, in settle.SubmitInput, byManager bool) (*settle.Player, error) {
	var result *settle.Player
	err := m.store.Atomic(ctx, func(tx store.Tx) error {
		game, p, err := loadForCheckout(ctx, tx, gameID, playerID)
		if err != nil {
			return err
		}
		next, err := settle.Submit(p, in, byManager)
		if err != nil {
			return err
		}
		if game.AutoValidate {
			out, err := settle.Evaluate(next, m.clock.Now())
			if err != nil {
				return err
			}
			next, err = m.settleOutcome(ctx, tx, game, out)
			if err != nil {
				return err
			}
		}
		if err := tx.UpdatePlayerIf(ctx, next, p.CheckoutStatus); err != nil {
			return fmt.Errorf("submit for %s: %w", playerID, err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("chips submitted", "game", gameID, "player", playerID, "chips", in.ChipCount, "manager", byManager, "status", result.CheckoutStatus)
	m.afterTransition(ctx, result)
	return result, nil
}

// Validate evaluates a SUBMITTED player, optionally correcting the chip count first.
func (m *Machine) Validate(ctx context.Context, gameID, playerID string, chipCount *int64) (*settle.Player, error) {
	var result *settle.Player
	err := m.store.Atomic(ctx, func(tx store.Tx) error {
		game, p, err := loadForCheckout(ctx, tx, gameID, playerID)
		if err != nil {
			return err
		}
		out, err := settle.Validate(p, chipCount, m.clock.Now())
		if err != nil {
			return err
		}
		next, err := m.settleOutcome(ctx, tx, game, out)
		if err != nil {
			return err
		}
		if err := tx.UpdatePlayerIf(ctx, next, p.CheckoutStatus); err != nil {
			return fmt.Errorf("validate %s: %w", playerID, err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("chips validated", "game", gameID, "player", playerID, "chips", result.ValidatedChipCount, "status", result.CheckoutStatus)
	m.afterTransition(ctx, result)
	return result, nil
}

func (m *Machine) Reject(ctx context.Context, gameID, playerID string) (*settle.Player, error) {
	var result *settle.Player
	err := m.store.Atomic(ctx, func(tx store.Tx) error {
		_, p, err := loadForCheckout(ctx, tx, gameID, playerID)
		if err != nil {
			return err
		}
		next, err := settle.Reject(p)
		if err != nil {
			return err
		}
		if err := tx.UpdatePlayerIf(ctx, next, p.CheckoutStatus); err != nil {
			return fmt.Errorf("reject %s: %w", playerID, err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("checkout rejected", "game", gameID, "player", playerID)
	notify.Deliver(ctx, m.sink, m.log, notify.Notification{
		GameID:    gameID,
		PlayerID:  playerID,
		Type:      notify.CheckoutRejected,
		Message:   "Your chip count was rejected. Please recount and submit again.",
		CreatedAt: m.clock.Now(),
	})
	return result, nil
}

func (m *Machine) Confirm(ctx context.Context, gameID, playerID string) (*settle.Player, error) {
	var result *settle.Player
	err := m.store.Atomic(ctx, func(tx store.Tx) error {
		_, p, err := loadForCheckout(ctx, tx, gameID, playerID)
		if err != nil {
			return err
		}
		next, err := settle.Confirm(p, m.clock.Now())
		if err != nil {
			return err
		}
		if err := tx.UpdatePlayerIf(ctx, next, p.CheckoutStatus); err != nil {
			return fmt.Errorf("confirm %s: %w", playerID, err)
		}
		if err := tx.AdjustPool(ctx, gameID, store.BankChipsInPlay, -next.FinalChipCount); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("checkout confirmed", "game", gameID, "player", playerID, "profit_loss", result.ProfitLoss)
	m.afterTransition(ctx, result)
	return result, nil
}

// settleOutcome books a cash-only finish against the pools. While the game is still open
// a credit-deducted player has nobody to wait for and moves straight to distribution.
func (m *Machine) settleOutcome(ctx context.Context, tx store.Tx, game *settle.Game, out settle.Outcome) (*settle.Player, error) {
	next := out.Player
	switch next.CheckoutStatus {
	case settle.CheckoutDone:
		if err := payOut(ctx, tx, game.ID, out); err != nil {
			return nil, err
		}
		if err := tx.AdjustPool(ctx, game.ID, store.BankChipsInPlay, -next.FinalChipCount); err != nil {
			return nil, err
		}
	case settle.CheckoutCreditDeducted:
		if game.Status == settle.GameOpen {
			return settle.MarkAwaiting(next)
		}
	}
	return next, nil
}

func (m *Machine) afterTransition(ctx context.Context, p *settle.Player) {
	switch p.CheckoutStatus {
	case settle.CheckoutDone:
		notify.Deliver(ctx, m.sink, m.log, notify.Notification{
			GameID:   p.GameID,
			PlayerID: p.ID,
			Type:     notify.CheckoutComplete,
			Message:  fmt.Sprintf("Checkout complete. Profit/loss: %d.", p.ProfitLoss),
			Data: map[string]any{
				"final_chip_count": p.FinalChipCount,
				"profit_loss":      p.ProfitLoss,
			},
			CreatedAt: m.clock.Now(),
		})
	case settle.CheckoutAwaitingDistribution:
		notify.Deliver(ctx, m.sink, m.log, notify.Notification{
			GameID:    p.GameID,
			Type:      notify.DistributionReady,
			Message:   fmt.Sprintf("%s is ready for distribution.", p.Name),
			Data:      map[string]any{"player_id": p.ID},
			CreatedAt: m.clock.Now(),
		})
	}
}

func payOut(ctx context.Context, tx store.Tx, gameID string, out settle.Outcome) error {
	if out.CashPaid != 0 {
		if err := tx.AdjustPool(ctx, gameID, store.PoolCash, -out.CashPaid); err != nil {
			return err
		}
		if err := tx.AdjustPool(ctx, gameID, store.BankCashOut, out.CashPaid); err != nil {
			return err
		}
	}
	if out.CreditPaid != 0 {
		if err := tx.AdjustPool(ctx, gameID, store.PoolCredit, -out.CreditPaid); err != nil {
			return err
		}
		if err := tx.AdjustPool(ctx, gameID, store.BankCreditOut, out.CreditPaid); err != nil {
			return err
		}
	}
	return nil
}

func loadForCheckout(ctx context.Context, tx store.Tx, gameID, playerID string) (*settle.Game, *settle.Player, error) {
	game, err := tx.GetGame(ctx, gameID)
	if err != nil {
		return nil, nil, fmt.Errorf("game %s: %w", gameID, err)
	}
	if game.Status == settle.GameClosed {
		return nil, nil, settle.ErrInvalidState("checkout", "OPEN or SETTLING game", game.Status.String())
	}
	p, err := tx.GetPlayer(ctx, gameID, playerID)
	if err != nil {
		return nil, nil, fmt.Errorf("player %s: %w", playerID, err)
	}
	return game, p, nil
}
