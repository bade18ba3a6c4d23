package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"homegame/apps/server/internal/checkout"
	"homegame/apps/server/internal/notify"
	"homegame/apps/server/internal/store"
	"homegame/settle"
)

const maxNameLength = 32

// Service orchestrates a game from first buy-in to close. Per-player transitions are
// delegated to the checkout machine; Service owns the collective ones.
type Service struct {
	store   store.Store
	machine *checkout.Machine
	sink    notify.Sink
	clock   quartz.Clock
	log     *log.Logger
}

func NewService(s store.Store, sink notify.Sink, clock quartz.Clock, logger *log.Logger) *Service {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:   s,
		machine: checkout.NewMachine(s, sink, clock, logger),
		sink:    sink,
		clock:   clock,
		log:     logger.WithPrefix("settlement"),
	}
}

type NewGame struct {
	Name           string
	HostName       string
	ManagerPINHash []byte
	AutoValidate   bool
	TTL            time.Duration
}

// Snapshot is a game with its players in join order.
type Snapshot struct {
	Game    *settle.Game
	Players []*settle.Player
}

func validateName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return "", settle.ErrValidation(field, fmt.Sprintf("must be 1-%d characters", maxNameLength))
	}
	return name, nil
}

// CreateGame opens a game with its host as the first player.
func (s *Service) CreateGame(ctx context.Context, in NewGame) (*settle.Game, *settle.Player, error) {
	name, err := validateName("name", in.Name)
	if err != nil {
		return nil, nil, err
	}
	hostName, err := validateName("host_name", in.HostName)
	if err != nil {
		return nil, nil, err
	}
	now := s.clock.Now()
	game := &settle.Game{
		ID:             uuid.NewString(),
		Name:           name,
		Status:         settle.GameOpen,
		ManagerPINHash: in.ManagerPINHash,
		AutoValidate:   in.AutoValidate,
		CreatedAt:      now,
	}
	if in.TTL > 0 {
		game.ExpiresAt = now.Add(in.TTL)
	}
	host := &settle.Player{
		ID:       uuid.NewString(),
		GameID:   game.ID,
		Name:     hostName,
		IsHost:   true,
		Active:   true,
		JoinedAt: now,
	}
	game.HostPlayerID = host.ID
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		if err := tx.CreateGame(ctx, game); err != nil {
			return err
		}
		return tx.CreatePlayer(ctx, host)
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("game created", "game", game.ID, "name", game.Name, "host", host.ID, "expires_at", game.ExpiresAt)
	return game, host, nil
}

func (s *Service) JoinGame(ctx context.Context, gameID, name string) (*settle.Player, error) {
	name, err := validateName("name", name)
	if err != nil {
		return nil, err
	}
	p := &settle.Player{
		ID:       uuid.NewString(),
		GameID:   gameID,
		Name:     name,
		Active:   true,
		JoinedAt: s.clock.Now(),
	}
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := requireGame(ctx, tx, gameID, "join", settle.GameOpen); err != nil {
			return err
		}
		return tx.CreatePlayer(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("player joined", "game", gameID, "player", p.ID, "name", p.Name)
	return p, nil
}

func (s *Service) Snapshot(ctx context.Context, gameID string) (*Snapshot, error) {
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", gameID, err)
	}
	players, err := s.store.ListPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Game: game, Players: players}, nil
}

func (s *Service) Player(ctx context.Context, gameID, playerID string) (*settle.Player, error) {
	p, err := s.store.GetPlayer(ctx, gameID, playerID)
	if err != nil {
		return nil, fmt.Errorf("player %s: %w", playerID, err)
	}
	return p, nil
}

// StartSettling freezes every active player and seeds the pools. Everything it writes
// lands in one transaction.
func (s *Service) StartSettling(ctx context.Context, gameID string) (*settle.Game, error) {
	var (
		result  *settle.Game
		frozen  int
		decline int
	)
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		game, err := requireGame(ctx, tx, gameID, "start settling", settle.GameOpen)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		next := *game
		next.Status = settle.GameSettling
		next.SettlementState = settle.SettlementChipCount
		next.FrozenAt = now
		if err := tx.UpdateGameIf(ctx, &next, settle.GameOpen); err != nil {
			return fmt.Errorf("start settling %s: %w", gameID, err)
		}
		if decline, err = tx.DeclineAllPending(ctx, gameID, now); err != nil {
			return err
		}
		players, err := tx.ListPlayers(ctx, gameID)
		if err != nil {
			return err
		}
		for _, p := range players {
			if !p.Active || p.CheckoutStatus.InFlow() {
				continue
			}
			if _, err := s.machine.Freeze(ctx, tx, p); err != nil {
				return err
			}
			frozen++
		}
		next.CashPool = game.Bank.TotalCashIn - game.Bank.TotalCashOut
		next.CreditPool = game.Bank.TotalCreditsIssued - game.Bank.TotalCreditOut
		if err := tx.SetPools(ctx, gameID, next.CashPool, next.CreditPool); err != nil {
			return err
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("settlement started", "game", gameID, "frozen_players", frozen, "declined_buyins", decline,
		"cash_pool", result.CashPool, "credit_pool", result.CreditPool)
	notify.Deliver(ctx, s.sink, s.log, notify.Notification{
		GameID:    gameID,
		Type:      notify.SettlementStarted,
		Message:   "Settlement has started. Count your chips and submit them.",
		CreatedAt: s.clock.Now(),
	})
	return result, nil
}

// RequestMidgameCheckout lets one player leave an open game without touching anyone else.
func (s *Service) RequestMidgameCheckout(ctx context.Context, gameID, playerID string) (*settle.Player, error) {
	var result *settle.Player
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := requireGame(ctx, tx, gameID, "midgame checkout", settle.GameOpen); err != nil {
			return err
		}
		p, err := tx.GetPlayer(ctx, gameID, playerID)
		if err != nil {
			return fmt.Errorf("player %s: %w", playerID, err)
		}
		if !p.Active {
			return settle.ErrInvalidState("midgame checkout", "active player", "inactive")
		}
		result, err = s.machine.Freeze(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("midgame checkout requested", "game", gameID, "player", playerID, "buy_in", result.FrozenBuyIn.TotalBuyIn)
	notify.Deliver(ctx, s.sink, s.log, notify.Notification{
		GameID:    gameID,
		PlayerID:  playerID,
		Type:      notify.CheckoutStarted,
		Message:   "Checkout started. Count your chips and submit them.",
		CreatedAt: s.clock.Now(),
	})
	return result, nil
}

func (s *Service) Submit(ctx context.Context, gameID, playerID string, in settle.SubmitInput) (*settle.Player, error) {
	p, err := s.machine.Submit(ctx, gameID, playerID, in)
	if err != nil {
		return nil, err
	}
	s.advanceIfReady(ctx, gameID)
	return p, nil
}

func (s *Service) ManagerInput(ctx context.Context, gameID, playerID string, in settle.SubmitInput) (*settle.Player, error) {
	p, err := s.machine.ManagerInput(ctx, gameID, playerID, in)
	if err != nil {
		return nil, err
	}
	s.advanceIfReady(ctx, gameID)
	return p, nil
}

func (s *Service) Validate(ctx context.Context, gameID, playerID string, chipCount *int64) (*settle.Player, error) {
	p, err := s.machine.Validate(ctx, gameID, playerID, chipCount)
	if err != nil {
		return nil, err
	}
	s.advanceIfReady(ctx, gameID)
	return p, nil
}

func (s *Service) Reject(ctx context.Context, gameID, playerID string) (*settle.Player, error) {
	return s.machine.Reject(ctx, gameID, playerID)
}

func (s *Service) Confirm(ctx context.Context, gameID, playerID string) (*settle.Player, error) {
	return s.machine.Confirm(ctx, gameID, playerID)
}

// advanceIfReady moves every CREDIT_DEDUCTED player to AWAITING_DISTRIBUTION once no one
// is still counting. Player states are re-read inside the transaction. A failure here does
// not undo the caller's transition; the check simply runs again on the next one.
func (s *Service) advanceIfReady(ctx context.Context, gameID string) {
	var moved []*settle.Player
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		moved = nil
		game, err := tx.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		if game.Status != settle.GameSettling || game.SettlementState != settle.SettlementChipCount {
			return nil
		}
		players, err := tx.ListPlayers(ctx, gameID)
		if err != nil {
			return err
		}
		ready := make([]*settle.Player, 0, len(players))
		for _, p := range players {
			if !p.Active {
				continue
			}
			switch p.CheckoutStatus {
			case settle.CheckoutCreditDeducted:
				ready = append(ready, p)
			case settle.CheckoutAwaitingDistribution, settle.CheckoutDistributed, settle.CheckoutDone:
			default:
				return nil
			}
		}
		for _, p := range ready {
			next, err := s.machine.Await(ctx, tx, p)
			if err != nil {
				return err
			}
			moved = append(moved, next)
		}
		next := *game
		next.SettlementState = settle.SettlementDistribution
		return tx.UpdateGameIf(ctx, &next, settle.GameSettling)
	})
	if err != nil {
		s.log.Warn("collective advance skipped", "game", gameID, "err", err)
		return
	}
	if len(moved) == 0 {
		return
	}
	s.log.Info("players awaiting distribution", "game", gameID, "count", len(moved))
	notify.Deliver(ctx, s.sink, s.log, notify.Notification{
		GameID:    gameID,
		Type:      notify.DistributionReady,
		Message:   "All chip counts are in. The manager can now distribute payouts.",
		Data:      map[string]any{"awaiting": int64(len(moved))},
		CreatedAt: s.clock.Now(),
	})
}

// CloseGame ends a settled game. Every active player must be DONE.
func (s *Service) CloseGame(ctx context.Context, gameID string) (*settle.Game, error) {
	var result *settle.Game
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		game, err := requireGame(ctx, tx, gameID, "close game", settle.GameSettling)
		if err != nil {
			return err
		}
		players, err := tx.ListPlayers(ctx, gameID)
		if err != nil {
			return err
		}
		for _, p := range players {
			if p.Active && p.CheckoutStatus != settle.CheckoutDone {
				return settle.ErrInvalidState("close game", "every player DONE", fmt.Sprintf("%s is %s", p.Name, p.CheckoutStatus))
			}
		}
		next := *game
		next.Status = settle.GameClosed
		next.SettlementState = settle.SettlementSettled
		next.ClosedAt = s.clock.Now()
		if err := tx.UpdateGameIf(ctx, &next, settle.GameSettling); err != nil {
			return fmt.Errorf("close game %s: %w", gameID, err)
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("game closed", "game", gameID, "cash_pool", result.CashPool, "credit_pool", result.CreditPool)
	notify.Deliver(ctx, s.sink, s.log, notify.Notification{
		GameID:    gameID,
		Type:      notify.GameClosed,
		Message:   "The game is closed.",
		CreatedAt: s.clock.Now(),
	})
	return result, nil
}

// CloseExpired closes OPEN games whose deadline has passed. A game that started settling
// in the meantime fails the status check and is left alone.
func (s *Service) CloseExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.store.ListExpiredOpenGames(ctx, now)
	if err != nil {
		return nil, err
	}
	closed := make([]string, 0, len(ids))
	for _, id := range ids {
		game, err := s.store.GetGame(ctx, id)
		if err != nil {
			return closed, err
		}
		next := *game
		next.Status = settle.GameClosed
		next.ClosedAt = now
		if err := s.store.UpdateGameIf(ctx, &next, settle.GameOpen); err != nil {
			if errors.Is(err, settle.ErrConflict) {
				continue
			}
			return closed, err
		}
		closed = append(closed, id)
		s.log.Info("expired game closed", "game", id, "expires_at", game.ExpiresAt)
		notify.Deliver(ctx, s.sink, s.log, notify.Notification{
			GameID:    id,
			Type:      notify.GameClosed,
			Message:   "The game expired and was closed.",
			CreatedAt: now,
		})
	}
	return closed, nil
}

func requireGame(ctx context.Context, tx store.Tx, gameID, op string, want settle.GameStatus) (*settle.Game, error) {
	game, err := tx.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", gameID, err)
	}
	if game.Status != want {
		return nil, settle.ErrInvalidState(op, want.String()+" game", game.Status.String())
	}
	return game, nil
}
