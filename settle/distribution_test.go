package settle

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestDistribution_SingleDebtorSingleRequester(t *testing.T) {
	out := SuggestDistribution(SuggestInput{
		Players: []DistributionPlayer{
			{PlayerID: "debtor", CreditOwed: 100},
			{PlayerID: "winner", ChipsAfterCredit: 300, PreferredCash: 200, PreferredCredit: 100},
		},
		CashPool:   500,
		CreditPool: 100,
	})

	winner := out.Distributions["winner"]
	require.Len(t, winner.CreditFrom, 1)
	assert.Equal(t, CreditTransfer{From: "debtor", Amount: 100}, winner.CreditFrom[0])
	assert.Equal(t, int64(200), winner.Cash)
	assert.Equal(t, 1, out.Transfers)
	assert.Empty(t, out.Unassigned)

	debtor := out.Distributions["debtor"]
	assert.Equal(t, int64(0), debtor.Cash)
	assert.Empty(t, debtor.CreditFrom)
}

func TestSuggestDistribution_NonRequesterGetsCash(t *testing.T) {
	out := SuggestDistribution(SuggestInput{
		Players: []DistributionPlayer{
			{PlayerID: "a", ChipsAfterCredit: 80, PreferredCash: 80},
		},
		CashPool: 50,
	})
	assert.Equal(t, Distribution{Cash: 80, CreditFrom: []CreditTransfer{}}, out.Distributions["a"])
	assert.Equal(t, int64(80), out.CashRequired)
	assert.Equal(t, int64(30), out.CashShortfall)
}

func TestSuggestDistribution_LargestRequesterFromLargestDebtor(t *testing.T) {
	out := SuggestDistribution(SuggestInput{
		Players: []DistributionPlayer{
			{PlayerID: "d1", CreditOwed: 50},
			{PlayerID: "d2", CreditOwed: 120},
			{PlayerID: "r1", ChipsAfterCredit: 100, PreferredCredit: 60},
			{PlayerID: "r2", ChipsAfterCredit: 200, PreferredCredit: 150},
		},
		CreditPool: 1000,
	})

	// r2 asks for more so it is served first, from d2 then d1.
	r2 := out.Distributions["r2"]
	require.Len(t, r2.CreditFrom, 2)
	assert.Equal(t, CreditTransfer{From: "d2", Amount: 120}, r2.CreditFrom[0])
	assert.Equal(t, CreditTransfer{From: "d1", Amount: 30}, r2.CreditFrom[1])
	assert.Equal(t, int64(50), r2.Cash)

	r1 := out.Distributions["r1"]
	require.Len(t, r1.CreditFrom, 1)
	assert.Equal(t, CreditTransfer{From: "d1", Amount: 20}, r1.CreditFrom[0])
	assert.Equal(t, int64(80), r1.Cash)
}

func TestSuggestDistribution_TieBreakUsesInputOrder(t *testing.T) {
	out := SuggestDistribution(SuggestInput{
		Players: []DistributionPlayer{
			{PlayerID: "d1", CreditOwed: 40},
			{PlayerID: "d2", CreditOwed: 40},
			{PlayerID: "r1", ChipsAfterCredit: 40, PreferredCredit: 40},
			{PlayerID: "r2", ChipsAfterCredit: 40, PreferredCredit: 40},
		},
		CreditPool: 80,
	})
	assert.Equal(t, "d1", out.Distributions["r1"].CreditFrom[0].From)
	assert.Equal(t, "d2", out.Distributions["r2"].CreditFrom[0].From)
}

func TestSuggestDistribution_CreditPoolCaps(t *testing.T) {
	out := SuggestDistribution(SuggestInput{
		Players: []DistributionPlayer{
			{PlayerID: "d", CreditOwed: 100},
			{PlayerID: "r", ChipsAfterCredit: 100, PreferredCredit: 100},
		},
		CreditPool: 30,
	})
	r := out.Distributions["r"]
	require.Len(t, r.CreditFrom, 1)
	assert.Equal(t, int64(30), r.CreditFrom[0].Amount)
	assert.Equal(t, int64(70), r.Cash)
	assert.Equal(t, map[string]int64{"d": 70}, out.Unassigned)
}

func TestSuggestDistribution_HostFallback(t *testing.T) {
	out := SuggestDistribution(SuggestInput{
		Players: []DistributionPlayer{
			{PlayerID: "host", CreditOwed: 0},
			{PlayerID: "d1", CreditOwed: 70},
			{PlayerID: "d2", CreditOwed: 30},
		},
		CreditPool: 100,
		HostID:     "host",
	})
	host := out.Distributions["host"]
	require.Len(t, host.CreditFrom, 2)
	for _, tr := range host.CreditFrom {
		assert.Equal(t, HostFallbackNote, tr.Note)
	}
	assert.Equal(t, int64(100), host.TotalCredit())
	assert.Equal(t, int64(0), host.PeerCredit())
	assert.Empty(t, out.Unassigned)
}

func TestSuggestDistribution_NoFallbackWhenSomeoneHasChips(t *testing.T) {
	out := SuggestDistribution(SuggestInput{
		Players: []DistributionPlayer{
			{PlayerID: "host", ChipsAfterCredit: 50},
			{PlayerID: "d1", CreditOwed: 70},
		},
		CreditPool: 100,
		HostID:     "host",
	})
	assert.Empty(t, out.Distributions["host"].CreditFrom)
	assert.Equal(t, map[string]int64{"d1": 70}, out.Unassigned)
}

func TestSuggestDistribution_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 500; round++ {
		n := 2 + rng.Intn(7)
		players := make([]DistributionPlayer, 0, n)
		owed := map[string]int64{}
		var totalChips int64
		for i := 0; i < n; i++ {
			id := string(rune('a' + i))
			p := DistributionPlayer{PlayerID: id}
			if rng.Intn(2) == 0 {
				p.CreditOwed = int64(rng.Intn(300))
			} else {
				p.ChipsAfterCredit = int64(rng.Intn(500))
				p.PreferredCredit = int64(rng.Intn(400))
			}
			owed[id] = p.CreditOwed
			totalChips += p.ChipsAfterCredit
			players = append(players, p)
		}
		out := SuggestDistribution(SuggestInput{
			Players:    players,
			CashPool:   int64(rng.Intn(2000)),
			CreditPool: int64(rng.Intn(1000)),
		})

		require.Len(t, out.Distributions, n)
		assigned := map[string]int64{}
		var paid int64
		for _, d := range out.Distributions {
			require.GreaterOrEqual(t, d.Cash, int64(0))
			paid += d.Cash
			for _, tr := range d.CreditFrom {
				assigned[tr.From] += tr.Amount
				paid += tr.Amount
			}
		}
		for id, amt := range assigned {
			require.LessOrEqual(t, amt, owed[id], "debtor %s over-assigned", id)
		}
		require.Equal(t, totalChips, paid)
	}
}

func TestSuggestDistribution_FallbackToHostOutsideInputs(t *testing.T) {
	out := SuggestDistribution(SuggestInput{
		Players:    []DistributionPlayer{{PlayerID: "amy", CreditOwed: 100}},
		CreditPool: 100,
		HostID:     "host",
	})
	assert.Empty(t, out.Unassigned)
	assert.Equal(t, []CreditTransfer{{From: "amy", Amount: 100, Note: HostFallbackNote}}, out.HostTransfers)
	assert.Equal(t, 1, out.Transfers)
	assert.Empty(t, out.Distributions["amy"].CreditFrom)
}

func TestSuggestDistribution_ExplicitDebtorBalances(t *testing.T) {
	out := SuggestDistribution(SuggestInput{
		Players: []DistributionPlayer{
			{PlayerID: "amy", CreditOwed: 100},
			{PlayerID: "bob", ChipsAfterCredit: 150, PreferredCredit: 100},
		},
		Debtors:    []Debt{{PlayerID: "gone", Balance: 30}, {PlayerID: "amy", Balance: 50}},
		CreditPool: 200,
	})
	bob := out.Distributions["bob"]
	assert.Equal(t, []CreditTransfer{{From: "amy", Amount: 50}, {From: "gone", Amount: 30}}, bob.CreditFrom)
	assert.Equal(t, int64(70), bob.Cash)
	assert.Empty(t, out.Unassigned)
}
