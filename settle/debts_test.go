package settle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutstandingCredit_SubtractsRecordedTransfers(t *testing.T) {
	players := []*Player{
		{ID: "host", FallbackCredit: []CreditTransfer{{From: "cy", Amount: 20, Note: HostFallbackNote}}},
		{ID: "amy", CreditsOwed: 100},
		{ID: "bob", Distribution: &Distribution{Cash: 50, CreditFrom: []CreditTransfer{{From: "amy", Amount: 60}}}},
		{ID: "cy", CreditsOwed: 20},
		{ID: "dee", CreditsOwed: 30},
	}
	assert.Equal(t, []Debt{
		{PlayerID: "amy", Balance: 40},
		{PlayerID: "cy", Balance: 0},
		{PlayerID: "dee", Balance: 30},
	}, OutstandingCredit(players))
}

func TestReserveCredit(t *testing.T) {
	debts := []Debt{{PlayerID: "amy", Balance: 100}, {PlayerID: "cy", Balance: 30}}

	err := ReserveCredit(debts, Distribution{CreditFrom: []CreditTransfer{{From: "amy", Amount: 60}, {From: "amy", Amount: 50}}})
	require.True(t, IsValidation(err), "two transfers together exceed amy's balance")
	assert.Equal(t, int64(100), debts[0].Balance, "failed reservation leaves balances alone")

	err = ReserveCredit(debts, Distribution{CreditFrom: []CreditTransfer{{From: "ghost", Amount: 10}}})
	assert.True(t, IsValidation(err))

	err = ReserveCredit(debts, Distribution{CreditFrom: []CreditTransfer{{From: "cy", Amount: -5}}})
	assert.True(t, IsValidation(err))

	require.NoError(t, ReserveCredit(debts, Distribution{CreditFrom: []CreditTransfer{{From: "amy", Amount: 60}, {From: "cy", Amount: 30}}}))
	assert.Equal(t, []Debt{{PlayerID: "amy", Balance: 40}, {PlayerID: "cy", Balance: 0}}, debts)
}
