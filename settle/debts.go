package settle

import "fmt"

// OutstandingCredit lists every debtor of the game in player order with what they still owe
// once the transfers already recorded on players are taken out.
func OutstandingCredit(players []*Player) []Debt {
	assigned := make(map[string]int64)
	for _, p := range players {
		if p.Distribution != nil {
			for _, t := range p.Distribution.CreditFrom {
				assigned[t.From] += t.Amount
			}
		}
		for _, t := range p.FallbackCredit {
			assigned[t.From] += t.Amount
		}
	}
	out := make([]Debt, 0)
	for _, p := range players {
		if p.CreditsOwed <= 0 {
			continue
		}
		out = append(out, Debt{PlayerID: p.ID, Balance: max(0, p.CreditsOwed-assigned[p.ID])})
	}
	return out
}

// ReserveCredit checks the transfers of d against debts and deducts them. Every transfer must
// name a debtor, and the total taken from a debtor may not exceed its balance. debts is left
// unchanged on error.
func ReserveCredit(debts []Debt, d Distribution) error {
	index := make(map[string]int, len(debts))
	for i, debt := range debts {
		index[debt.PlayerID] = i
	}
	taken := make(map[int]int64)
	for _, t := range d.CreditFrom {
		if t.Amount <= 0 {
			return ErrValidation("credit_from.amount", "must be > 0")
		}
		i, ok := index[t.From]
		if !ok {
			return ErrValidation("credit_from.from", fmt.Sprintf("player %q owes no credit", t.From))
		}
		taken[i] += t.Amount
		if taken[i] > debts[i].Balance {
			return ErrValidation("credit_from.amount",
				fmt.Sprintf("player %q has only %d credit left to assign", t.From, debts[i].Balance))
		}
	}
	for i, amount := range taken {
		debts[i].Balance -= amount
	}
	return nil
}
