package settle

import (
	"fmt"
	"time"
)

// GameStatus is the lifecycle of a session. It only moves forward.
type GameStatus byte

const (
	GameOpen     GameStatus = 1
	GameSettling GameStatus = 2
	GameClosed   GameStatus = 3
)

var GameStatusDictionary = map[GameStatus]string{
	GameOpen:     "OPEN",
	GameSettling: "SETTLING",
	GameClosed:   "CLOSED",
}

func (s GameStatus) String() string {
	if name, ok := GameStatusDictionary[s]; ok {
		return name
	}
	return fmt.Sprintf("GameStatus(%d)", byte(s))
}

func ParseGameStatus(raw string) (GameStatus, error) {
	for s, name := range GameStatusDictionary {
		if name == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown game status %q", raw)
}

// Settlement markers stored in Game.SettlementState.
const (
	SettlementChipCount    = "SETTLING_CHIP_COUNT"
	SettlementDistribution = "SETTLING_DISTRIBUTION"
	SettlementSettled      = "SETTLED"
)

// CheckoutStatus is the per-player checkout stage; the zero value means the player has not entered checkout.
type CheckoutStatus byte

const (
	CheckoutNone                 CheckoutStatus = 0
	CheckoutPending              CheckoutStatus = 1
	CheckoutSubmitted            CheckoutStatus = 2
	CheckoutValidated            CheckoutStatus = 3
	CheckoutCreditDeducted       CheckoutStatus = 4
	CheckoutAwaitingDistribution CheckoutStatus = 5
	CheckoutDistributed          CheckoutStatus = 6
	CheckoutDone                 CheckoutStatus = 7
)

var CheckoutStatusDictionary = map[CheckoutStatus]string{
	CheckoutNone:                 "",
	CheckoutPending:              "PENDING",
	CheckoutSubmitted:            "SUBMITTED",
	CheckoutValidated:            "VALIDATED",
	CheckoutCreditDeducted:       "CREDIT_DEDUCTED",
	CheckoutAwaitingDistribution: "AWAITING_DISTRIBUTION",
	CheckoutDistributed:          "DISTRIBUTED",
	CheckoutDone:                 "DONE",
}

func (s CheckoutStatus) String() string {
	if name, ok := CheckoutStatusDictionary[s]; ok {
		if name == "" {
			return "UNSET"
		}
		return name
	}
	return fmt.Sprintf("CheckoutStatus(%d)", byte(s))
}

func ParseCheckoutStatus(raw string) (CheckoutStatus, error) {
	for s, name := range CheckoutStatusDictionary {
		if name == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown checkout status %q", raw)
}

// InFlow reports whether the player has entered the checkout flow.
func (s CheckoutStatus) InFlow() bool { return s != CheckoutNone }

type BuyInType byte

const (
	BuyInCash   BuyInType = 1
	BuyInCredit BuyInType = 2
)

var BuyInTypeDictionary = map[BuyInType]string{
	BuyInCash:   "CASH",
	BuyInCredit: "CREDIT",
}

func (t BuyInType) String() string {
	if name, ok := BuyInTypeDictionary[t]; ok {
		return name
	}
	return fmt.Sprintf("BuyInType(%d)", byte(t))
}

func ParseBuyInType(raw string) (BuyInType, error) {
	for t, name := range BuyInTypeDictionary {
		if name == raw {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown buy-in type %q", raw)
}

type BuyInStatus byte

const (
	BuyInPending  BuyInStatus = 1
	BuyInApproved BuyInStatus = 2
	BuyInDeclined BuyInStatus = 3
	BuyInEdited   BuyInStatus = 4
)

var BuyInStatusDictionary = map[BuyInStatus]string{
	BuyInPending:  "PENDING",
	BuyInApproved: "APPROVED",
	BuyInDeclined: "DECLINED",
	BuyInEdited:   "EDITED",
}

func (s BuyInStatus) String() string {
	if name, ok := BuyInStatusDictionary[s]; ok {
		return name
	}
	return fmt.Sprintf("BuyInStatus(%d)", byte(s))
}

func ParseBuyInStatus(raw string) (BuyInStatus, error) {
	for s, name := range BuyInStatusDictionary {
		if name == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown buy-in status %q", raw)
}

// Bank holds the running counters of a game, maintained by atomic increments.
type Bank struct {
	TotalCashIn        int64 `json:"total_cash_in"`
	TotalCreditsIssued int64 `json:"total_credits_issued"`
	TotalCashOut       int64 `json:"total_cash_out"`
	TotalCreditOut     int64 `json:"total_credit_out"`
	ChipsInPlay        int64 `json:"chips_in_play"`
}

type Game struct {
	ID              string
	Name            string
	Status          GameStatus
	SettlementState string
	HostPlayerID    string
	ManagerPINHash  []byte
	AutoValidate    bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
	FrozenAt        time.Time
	ClosedAt        time.Time
	CashPool        int64
	CreditPool      int64
	Bank            Bank
}

// FrozenBuyIn is captured once, when the player enters checkout.
type FrozenBuyIn struct {
	TotalCashIn   int64 `json:"total_cash_in"`
	TotalCreditIn int64 `json:"total_credit_in"`
	TotalBuyIn    int64 `json:"total_buy_in"`
}

func NewFrozenBuyIn(cashIn, creditIn int64) FrozenBuyIn {
	return FrozenBuyIn{
		TotalCashIn:   cashIn,
		TotalCreditIn: creditIn,
		TotalBuyIn:    cashIn + creditIn,
	}
}

// HostFallbackNote labels transfers assigned to the host because nobody could absorb them.
const HostFallbackNote = "host fallback: no player had surplus chips to absorb this debt"

type CreditTransfer struct {
	From   string `json:"from"`
	Amount int64  `json:"amount"`
	Note   string `json:"note,omitempty"`
}

// Distribution is the final payout of a player.
type Distribution struct {
	Cash       int64            `json:"cash"`
	CreditFrom []CreditTransfer `json:"credit_from"`
}

// PeerCredit sums the ordinary peer-to-peer transfers, leaving out host fallback ones.
func (d Distribution) PeerCredit() int64 {
	var total int64
	for _, t := range d.CreditFrom {
		if t.Note == HostFallbackNote {
			continue
		}
		total += t.Amount
	}
	return total
}

// TotalCredit sums every transfer.
func (d Distribution) TotalCredit() int64 {
	var total int64
	for _, t := range d.CreditFrom {
		total += t.Amount
	}
	return total
}

func (d Distribution) Clone() Distribution {
	out := Distribution{Cash: d.Cash, CreditFrom: make([]CreditTransfer, len(d.CreditFrom))}
	copy(out.CreditFrom, d.CreditFrom)
	return out
}

type Player struct {
	ID       string
	GameID   string
	Name     string
	IsHost   bool
	Active   bool
	JoinedAt time.Time

	CheckoutStatus CheckoutStatus
	FrozenBuyIn    *FrozenBuyIn

	SubmittedChipCount int64
	PreferredCash      int64
	PreferredCredit    int64

	ValidatedChipCount int64
	CreditRepaid       int64
	ChipsAfterCredit   int64
	CreditsOwed        int64

	Distribution *Distribution
	InputLocked  bool

	// FallbackCredit is debt assigned to the host because no player had surplus chips.
	// The host's own checkout leaves it untouched.
	FallbackCredit []CreditTransfer

	CheckedOut     bool
	CheckedOutAt   time.Time
	FinalChipCount int64
	ProfitLoss     int64
}

// Clone returns a deep copy so callers can build the next state without aliasing.
func (p *Player) Clone() *Player {
	if p == nil {
		return nil
	}
	out := *p
	if p.FrozenBuyIn != nil {
		fb := *p.FrozenBuyIn
		out.FrozenBuyIn = &fb
	}
	if p.Distribution != nil {
		d := p.Distribution.Clone()
		out.Distribution = &d
	}
	if p.FallbackCredit != nil {
		out.FallbackCredit = make([]CreditTransfer, len(p.FallbackCredit))
		copy(out.FallbackCredit, p.FallbackCredit)
	}
	return &out
}

type BuyInRequest struct {
	ID           string
	GameID       string
	PlayerID     string
	Type         BuyInType
	Amount       int64
	EditedAmount int64
	Status       BuyInStatus
	CreatedAt    time.Time
	ResolvedAt   time.Time
}

// EffectiveAmount is what the request contributes to a frozen buy-in.
func (r BuyInRequest) EffectiveAmount() int64 {
	switch r.Status {
	case BuyInApproved:
		return r.Amount
	case BuyInEdited:
		return r.EditedAmount
	default:
		return 0
	}
}

// FreezeBuyIn sums resolved requests into a snapshot. Pending and declined requests count as zero.
func FreezeBuyIn(requests []BuyInRequest) FrozenBuyIn {
	var cashIn, creditIn int64
	for _, r := range requests {
		switch r.Type {
		case BuyInCash:
			cashIn += r.EffectiveAmount()
		case BuyInCredit:
			creditIn += r.EffectiveAmount()
		}
	}
	return NewFrozenBuyIn(cashIn, creditIn)
}
