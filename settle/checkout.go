package settle

import "time"

// Checkout transitions are pure: each takes the current record and returns the next one.
// Persisting it with a compare-and-swap on the previous status is the caller's job.

type SubmitInput struct {
	ChipCount       int64 `json:"chip_count"`
	PreferredCash   int64 `json:"preferred_cash"`
	PreferredCredit int64 `json:"preferred_credit"`
}

// validate rejects negative amounts. A chip count of zero is valid: a busted player still
// checks out, and any credit they took becomes debt.
func (in SubmitInput) validate() error {
	if in.ChipCount < 0 {
		return ErrValidation("chip_count", "must be >= 0")
	}
	if in.PreferredCash < 0 {
		return ErrValidation("preferred_cash", "must be >= 0")
	}
	if in.PreferredCredit < 0 {
		return ErrValidation("preferred_credit", "must be >= 0")
	}
	return nil
}

// Outcome is a transition result plus the amounts leaving the pools with it.
type Outcome struct {
	Player     *Player
	CashPaid   int64
	CreditPaid int64
}

func requireStatus(op string, p *Player, allowed ...CheckoutStatus) error {
	for _, s := range allowed {
		if p.CheckoutStatus == s {
			return nil
		}
	}
	expected := ""
	for i, s := range allowed {
		if i > 0 {
			expected += " or "
		}
		expected += s.String()
	}
	return ErrInvalidState(op, expected, p.CheckoutStatus.String())
}

// Enter moves a player into checkout and freezes their buy-in.
func Enter(p *Player, frozen FrozenBuyIn) (*Player, error) {
	if p.CheckedOut {
		return nil, ErrInvalidState("enter checkout", "player not checked out", "checked out")
	}
	if err := requireStatus("enter checkout", p, CheckoutNone); err != nil {
		return nil, err
	}
	next := p.Clone()
	next.FrozenBuyIn = &frozen
	next.CheckoutStatus = CheckoutPending
	return next, nil
}

// Submit records a chip count. A manager submission locks the player's own input.
func Submit(p *Player, in SubmitInput, byManager bool) (*Player, error) {
	if err := requireStatus("submit", p, CheckoutPending); err != nil {
		return nil, err
	}
	if p.InputLocked && !byManager {
		return nil, ErrInvalidState("submit", "unlocked input", "input locked by manager")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	next := p.Clone()
	next.SubmittedChipCount = in.ChipCount
	next.PreferredCash = in.PreferredCash
	next.PreferredCredit = in.PreferredCredit
	next.CheckoutStatus = CheckoutSubmitted
	if byManager {
		next.InputLocked = true
	}
	return next, nil
}

// Evaluate validates the submitted count. Players with no credit exposure and no credit
// request finish immediately; everyone else gets their credit deducted.
func Evaluate(p *Player, now time.Time) (Outcome, error) {
	if err := requireStatus("validate", p, CheckoutSubmitted); err != nil {
		return Outcome{}, err
	}
	if p.FrozenBuyIn == nil {
		return Outcome{}, ErrInvalidState("validate", "frozen buy-in", "none")
	}
	frozen := *p.FrozenBuyIn
	next := p.Clone()
	chips := p.SubmittedChipCount
	res := CalculateCredit(chips, frozen.TotalCashIn, frozen.TotalCreditIn)

	next.ValidatedChipCount = chips
	next.CreditRepaid = res.CreditRepaid
	next.ChipsAfterCredit = res.ChipsAfterCredit
	next.CreditsOwed = res.CreditOwed

	if frozen.TotalCreditIn == 0 && p.PreferredCredit == 0 {
		next.Distribution = &Distribution{Cash: res.ChipsAfterCredit, CreditFrom: []CreditTransfer{}}
		next.CheckoutStatus = CheckoutDone
		next.CheckedOut = true
		next.CheckedOutAt = now
		next.FinalChipCount = chips
		next.ProfitLoss = res.ProfitLoss
		return Outcome{Player: next, CashPaid: res.ChipsAfterCredit}, nil
	}

	next.CheckoutStatus = CheckoutCreditDeducted
	return Outcome{Player: next}, nil
}

// Validate is the manager path for a SUBMITTED player, optionally correcting the count.
func Validate(p *Player, chipCount *int64, now time.Time) (Outcome, error) {
	if err := requireStatus("validate", p, CheckoutSubmitted); err != nil {
		return Outcome{}, err
	}
	cur := p
	if chipCount != nil {
		if *chipCount < 0 {
			return Outcome{}, ErrValidation("chip_count", "must be >= 0")
		}
		cur = p.Clone()
		cur.SubmittedChipCount = *chipCount
	}
	return Evaluate(cur, now)
}

// Reject sends a player back to PENDING and clears everything they submitted.
func Reject(p *Player) (*Player, error) {
	if p.CheckoutStatus == CheckoutPending && !p.InputLocked {
		return nil, ErrInvalidState("reject", "SUBMITTED or CREDIT_DEDUCTED", "PENDING")
	}
	if err := requireStatus("reject", p, CheckoutPending, CheckoutSubmitted, CheckoutValidated, CheckoutCreditDeducted); err != nil {
		return nil, err
	}
	next := p.Clone()
	next.CheckoutStatus = CheckoutPending
	next.SubmittedChipCount = 0
	next.PreferredCash = 0
	next.PreferredCredit = 0
	next.ValidatedChipCount = 0
	next.CreditRepaid = 0
	next.ChipsAfterCredit = 0
	next.CreditsOwed = 0
	next.InputLocked = false
	return next, nil
}

func MarkAwaiting(p *Player) (*Player, error) {
	if err := requireStatus("await distribution", p, CheckoutCreditDeducted); err != nil {
		return nil, err
	}
	next := p.Clone()
	next.CheckoutStatus = CheckoutAwaitingDistribution
	return next, nil
}

// ApplyDistribution assigns a payout. Cash plus peer credit must add up to the player's
// chips after credit; host fallback transfers sit outside that balance.
func ApplyDistribution(p *Player, d Distribution) (Outcome, error) {
	if err := requireStatus("apply distribution", p, CheckoutAwaitingDistribution); err != nil {
		return Outcome{}, err
	}
	if d.Cash < 0 {
		return Outcome{}, ErrValidation("cash", "must be >= 0")
	}
	for _, t := range d.CreditFrom {
		if t.Amount <= 0 {
			return Outcome{}, ErrValidation("credit_from.amount", "must be > 0")
		}
		if t.From == "" || t.From == p.ID {
			return Outcome{}, ErrValidation("credit_from.from", "must name another player")
		}
	}
	if got := d.Cash + d.PeerCredit(); got != p.ChipsAfterCredit {
		return Outcome{}, ErrValidation("distribution", "cash plus credit must equal chips after credit")
	}
	next := p.Clone()
	dist := d.Clone()
	next.Distribution = &dist
	next.CheckoutStatus = CheckoutDistributed
	return Outcome{Player: next, CashPaid: d.Cash, CreditPaid: d.TotalCredit()}, nil
}

func Confirm(p *Player, now time.Time) (*Player, error) {
	if err := requireStatus("confirm", p, CheckoutDistributed); err != nil {
		return nil, err
	}
	next := p.Clone()
	next.CheckoutStatus = CheckoutDone
	next.CheckedOut = true
	next.CheckedOutAt = now
	next.FinalChipCount = p.ValidatedChipCount
	if p.FrozenBuyIn != nil {
		next.ProfitLoss = p.ValidatedChipCount - p.FrozenBuyIn.TotalBuyIn
	}
	return next, nil
}
