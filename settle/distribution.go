package settle

import "sort"

type DistributionPlayer struct {
	PlayerID         string
	ChipsAfterCredit int64
	PreferredCash    int64
	PreferredCredit  int64
	CreditOwed       int64
}

// Debt is what a debtor still owes to the pool of requesters.
type Debt struct {
	PlayerID string
	Balance  int64
}

type SuggestInput struct {
	Players []DistributionPlayer
	// Debtors replaces the balances derived from Players' CreditOwed when set. It carries
	// debt already partly assigned and debtors who are no longer awaiting distribution.
	Debtors    []Debt
	CashPool   int64
	CreditPool int64
	// HostID receives debts nobody else can absorb. Empty disables the fallback.
	HostID string
}

type Suggestion struct {
	Distributions map[string]Distribution
	// Unassigned is debt left with no recipient, keyed by debtor.
	Unassigned map[string]int64
	// HostTransfers is fallback debt for a host who is not among the input players.
	HostTransfers []CreditTransfer
	CashRequired  int64
	CashShortfall int64
	Transfers     int
}

type debtor struct {
	id      string
	order   int
	balance int64
}

// SuggestDistribution is a greedy heuristic: the largest credit requesters are served first,
// each from the debtors with the largest remaining balance. It keeps transfers few but does
// not guarantee the minimum.
func SuggestDistribution(in SuggestInput) Suggestion {
	out := Suggestion{
		Distributions: make(map[string]Distribution, len(in.Players)),
		Unassigned:    make(map[string]int64),
	}

	debtors := make([]*debtor, 0, len(in.Players))
	requesters := make([]int, 0, len(in.Players))
	hostIndex := -1
	anySurplus := false
	for i, d := range in.Debtors {
		if d.Balance > 0 {
			debtors = append(debtors, &debtor{id: d.PlayerID, order: i, balance: d.Balance})
		}
	}
	for i, p := range in.Players {
		out.Distributions[p.PlayerID] = Distribution{Cash: p.ChipsAfterCredit, CreditFrom: []CreditTransfer{}}
		if in.Debtors == nil && p.CreditOwed > 0 {
			debtors = append(debtors, &debtor{id: p.PlayerID, order: i, balance: p.CreditOwed})
		}
		if p.PreferredCredit > 0 && p.ChipsAfterCredit > 0 {
			requesters = append(requesters, i)
		}
		if p.ChipsAfterCredit > 0 {
			anySurplus = true
		}
		if in.HostID != "" && p.PlayerID == in.HostID && hostIndex < 0 {
			hostIndex = i
		}
	}
	sort.SliceStable(requesters, func(a, b int) bool {
		return in.Players[requesters[a]].PreferredCredit > in.Players[requesters[b]].PreferredCredit
	})

	pool := max(0, in.CreditPool)
	for _, idx := range requesters {
		p := in.Players[idx]
		want := min(p.PreferredCredit, p.ChipsAfterCredit)
		dist := out.Distributions[p.PlayerID]
		var credited int64
		for want > 0 && pool > 0 {
			d := largestDebtor(debtors)
			if d == nil {
				break
			}
			amount := min(want, d.balance, pool)
			dist.CreditFrom = append(dist.CreditFrom, CreditTransfer{From: d.id, Amount: amount})
			d.balance -= amount
			pool -= amount
			want -= amount
			credited += amount
			out.Transfers++
		}
		dist.Cash = p.ChipsAfterCredit - credited
		out.Distributions[p.PlayerID] = dist
	}

	for _, d := range debtors {
		if d.balance <= 0 {
			continue
		}
		if !anySurplus && in.HostID != "" && d.id != in.HostID {
			t := CreditTransfer{From: d.id, Amount: d.balance, Note: HostFallbackNote}
			if hostIndex >= 0 {
				host := out.Distributions[in.HostID]
				host.CreditFrom = append(host.CreditFrom, t)
				out.Distributions[in.HostID] = host
			} else {
				out.HostTransfers = append(out.HostTransfers, t)
			}
			out.Transfers++
			d.balance = 0
			continue
		}
		out.Unassigned[d.id] = d.balance
	}

	for _, dist := range out.Distributions {
		out.CashRequired += dist.Cash
	}
	out.CashShortfall = max(0, out.CashRequired-in.CashPool)
	return out
}

// largestDebtor picks the highest remaining balance; earlier input order wins ties.
func largestDebtor(debtors []*debtor) *debtor {
	var best *debtor
	for _, d := range debtors {
		if d.balance <= 0 {
			continue
		}
		if best == nil || d.balance > best.balance || (d.balance == best.balance && d.order < best.order) {
			best = d
		}
	}
	return best
}
