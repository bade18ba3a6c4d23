package httpapi

import (
	"time"

	"homegame/apps/server/internal/settlement"
	"homegame/settle"
)

type gameView struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Status          string      `json:"status"`
	SettlementState string      `json:"settlement_state,omitempty"`
	HostPlayerID    string      `json:"host_player_id"`
	AutoValidate    bool        `json:"auto_validate"`
	CreatedAt       time.Time   `json:"created_at"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
	FrozenAt        *time.Time  `json:"frozen_at,omitempty"`
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`
	CashPool        int64       `json:"cash_pool"`
	CreditPool      int64       `json:"credit_pool"`
	Bank            settle.Bank `json:"bank"`
}

type playerView struct {
	ID                 string                  `json:"id"`
	Name               string                  `json:"name"`
	IsHost             bool                    `json:"is_host"`
	Active             bool                    `json:"active"`
	CheckoutStatus     string                  `json:"checkout_status,omitempty"`
	FrozenBuyIn        *settle.FrozenBuyIn     `json:"frozen_buy_in,omitempty"`
	SubmittedChipCount int64                   `json:"submitted_chip_count"`
	PreferredCash      int64                   `json:"preferred_cash"`
	PreferredCredit    int64                   `json:"preferred_credit"`
	ValidatedChipCount int64                   `json:"validated_chip_count"`
	CreditRepaid       int64                   `json:"credit_repaid"`
	ChipsAfterCredit   int64                   `json:"chips_after_credit"`
	CreditsOwed        int64                   `json:"credits_owed"`
	Distribution       *settle.Distribution    `json:"distribution,omitempty"`
	FallbackCredit     []settle.CreditTransfer `json:"fallback_credit,omitempty"`
	InputLocked        bool                    `json:"input_locked"`
	CheckedOut         bool                    `json:"checked_out"`
	CheckedOutAt       *time.Time              `json:"checked_out_at,omitempty"`
	FinalChipCount     int64                   `json:"final_chip_count"`
	ProfitLoss         int64                   `json:"profit_loss"`
}

type buyInView struct {
	ID           string     `json:"id"`
	PlayerID     string     `json:"player_id"`
	Type         string     `json:"type"`
	Amount       int64      `json:"amount"`
	EditedAmount int64      `json:"edited_amount,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

type suggestionView struct {
	Distributions map[string]settle.Distribution `json:"distributions"`
	Unassigned    map[string]int64               `json:"unassigned,omitempty"`
	HostTransfers []settle.CreditTransfer        `json:"host_transfers,omitempty"`
	CashRequired  int64                          `json:"cash_required"`
	CashShortfall int64                          `json:"cash_shortfall"`
	Transfers     int                            `json:"transfers"`
}

type snapshotView struct {
	Game    gameView     `json:"game"`
	Players []playerView `json:"players"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newGameView(g *settle.Game) gameView {
	return gameView{
		ID:              g.ID,
		Name:            g.Name,
		Status:          g.Status.String(),
		SettlementState: g.SettlementState,
		HostPlayerID:    g.HostPlayerID,
		AutoValidate:    g.AutoValidate,
		CreatedAt:       g.CreatedAt,
		ExpiresAt:       optionalTime(g.ExpiresAt),
		FrozenAt:        optionalTime(g.FrozenAt),
		ClosedAt:        optionalTime(g.ClosedAt),
		CashPool:        g.CashPool,
		CreditPool:      g.CreditPool,
		Bank:            g.Bank,
	}
}

func newPlayerView(p *settle.Player) playerView {
	v := playerView{
		ID:                 p.ID,
		Name:               p.Name,
		IsHost:             p.IsHost,
		Active:             p.Active,
		FrozenBuyIn:        p.FrozenBuyIn,
		SubmittedChipCount: p.SubmittedChipCount,
		PreferredCash:      p.PreferredCash,
		PreferredCredit:    p.PreferredCredit,
		ValidatedChipCount: p.ValidatedChipCount,
		CreditRepaid:       p.CreditRepaid,
		ChipsAfterCredit:   p.ChipsAfterCredit,
		CreditsOwed:        p.CreditsOwed,
		Distribution:       p.Distribution,
		FallbackCredit:     p.FallbackCredit,
		InputLocked:        p.InputLocked,
		CheckedOut:         p.CheckedOut,
		CheckedOutAt:       optionalTime(p.CheckedOutAt),
		FinalChipCount:     p.FinalChipCount,
		ProfitLoss:         p.ProfitLoss,
	}
	if p.CheckoutStatus.InFlow() {
		v.CheckoutStatus = p.CheckoutStatus.String()
	}
	return v
}

func newPlayerViews(players []*settle.Player) []playerView {
	out := make([]playerView, 0, len(players))
	for _, p := range players {
		out = append(out, newPlayerView(p))
	}
	return out
}

func newBuyInView(r settle.BuyInRequest) buyInView {
	return buyInView{
		ID:           r.ID,
		PlayerID:     r.PlayerID,
		Type:         r.Type.String(),
		Amount:       r.Amount,
		EditedAmount: r.EditedAmount,
		Status:       r.Status.String(),
		CreatedAt:    r.CreatedAt,
		ResolvedAt:   optionalTime(r.ResolvedAt),
	}
}

func newSnapshotView(s *settlement.Snapshot) snapshotView {
	return snapshotView{Game: newGameView(s.Game), Players: newPlayerViews(s.Players)}
}

func newSuggestionView(s settle.Suggestion) suggestionView {
	return suggestionView{
		Distributions: s.Distributions,
		Unassigned:    s.Unassigned,
		HostTransfers: s.HostTransfers,
		CashRequired:  s.CashRequired,
		CashShortfall: s.CashShortfall,
		Transfers:     s.Transfers,
	}
}
