package settle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 19, 22, 0, 0, 0, time.UTC)

func pendingPlayer(t *testing.T, cashIn, creditIn int64) *Player {
	t.Helper()
	p, err := Enter(&Player{ID: "p1", GameID: "g1", Active: true}, NewFrozenBuyIn(cashIn, creditIn))
	require.NoError(t, err)
	require.Equal(t, CheckoutPending, p.CheckoutStatus)
	return p
}

func TestEnter_Twice(t *testing.T) {
	p := pendingPlayer(t, 100, 0)
	_, err := Enter(p, NewFrozenBuyIn(500, 0))
	require.True(t, IsInvalidState(err))
	assert.Equal(t, int64(100), p.FrozenBuyIn.TotalCashIn)
}

func TestSubmit_CashOnlyFinishesImmediately(t *testing.T) {
	p := pendingPlayer(t, 100, 0)
	submitted, err := Submit(p, SubmitInput{ChipCount: 180, PreferredCash: 180}, false)
	require.NoError(t, err)

	out, err := Evaluate(submitted, testNow)
	require.NoError(t, err)
	got := out.Player
	assert.Equal(t, CheckoutDone, got.CheckoutStatus)
	assert.True(t, got.CheckedOut)
	assert.Equal(t, testNow, got.CheckedOutAt)
	assert.Equal(t, int64(180), got.FinalChipCount)
	assert.Equal(t, int64(80), got.ProfitLoss)
	assert.Equal(t, &Distribution{Cash: 180, CreditFrom: []CreditTransfer{}}, got.Distribution)
	assert.Equal(t, int64(180), out.CashPaid)
}

func TestSubmit_CreditPlayerIsDeducted(t *testing.T) {
	p := pendingPlayer(t, 100, 100)
	submitted, err := Submit(p, SubmitInput{ChipCount: 150}, false)
	require.NoError(t, err)

	out, err := Evaluate(submitted, testNow)
	require.NoError(t, err)
	got := out.Player
	assert.Equal(t, CheckoutCreditDeducted, got.CheckoutStatus)
	assert.Equal(t, int64(150), got.ValidatedChipCount)
	assert.Equal(t, int64(100), got.CreditRepaid)
	assert.Equal(t, int64(50), got.ChipsAfterCredit)
	assert.Equal(t, int64(0), got.CreditsOwed)
	assert.Equal(t, got.ValidatedChipCount, got.ChipsAfterCredit+got.CreditRepaid)
	assert.Equal(t, got.FrozenBuyIn.TotalCreditIn, got.CreditsOwed+got.CreditRepaid)
	assert.False(t, got.CheckedOut)
	assert.Zero(t, out.CashPaid)
}

func TestSubmit_CreditRequestWithoutCreditBuyIn(t *testing.T) {
	p := pendingPlayer(t, 100, 0)
	submitted, err := Submit(p, SubmitInput{ChipCount: 300, PreferredCash: 200, PreferredCredit: 100}, false)
	require.NoError(t, err)
	out, err := Evaluate(submitted, testNow)
	require.NoError(t, err)
	assert.Equal(t, CheckoutCreditDeducted, out.Player.CheckoutStatus)
	assert.Equal(t, int64(300), out.Player.ChipsAfterCredit)
}

func TestSubmit_Twice(t *testing.T) {
	p := pendingPlayer(t, 100, 100)
	submitted, err := Submit(p, SubmitInput{ChipCount: 10}, false)
	require.NoError(t, err)
	_, err = Submit(submitted, SubmitInput{ChipCount: 10}, false)
	require.True(t, IsInvalidState(err))
}

func TestSubmit_RejectsNegative(t *testing.T) {
	p := pendingPlayer(t, 100, 0)
	_, err := Submit(p, SubmitInput{ChipCount: -1}, false)
	require.True(t, IsValidation(err))
	_, err = Submit(p, SubmitInput{ChipCount: 1, PreferredCredit: -5}, false)
	require.True(t, IsValidation(err))
}

func TestSubmit_ZeroChipsIsBust(t *testing.T) {
	p := pendingPlayer(t, 0, 100)
	submitted, err := Submit(p, SubmitInput{ChipCount: 0}, false)
	require.NoError(t, err)

	out, err := Evaluate(submitted, testNow)
	require.NoError(t, err)
	assert.Equal(t, CheckoutCreditDeducted, out.Player.CheckoutStatus)
	assert.Equal(t, int64(100), out.Player.CreditsOwed)
	assert.Zero(t, out.Player.ChipsAfterCredit)
}

func TestSubmit_LockedInput(t *testing.T) {
	p := pendingPlayer(t, 100, 100)
	p.InputLocked = true
	_, err := Submit(p, SubmitInput{ChipCount: 10}, false)
	require.True(t, IsInvalidState(err))

	got, err := Submit(p, SubmitInput{ChipCount: 10}, true)
	require.NoError(t, err)
	assert.True(t, got.InputLocked)
}

func TestValidate_Twice(t *testing.T) {
	p := pendingPlayer(t, 100, 100)
	submitted, err := Submit(p, SubmitInput{ChipCount: 10}, false)
	require.NoError(t, err)
	corrected := int64(40)
	out, err := Validate(submitted, &corrected, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(40), out.Player.ValidatedChipCount)
	assert.Equal(t, int64(60), out.Player.CreditsOwed)

	_, err = Validate(out.Player, nil, testNow)
	require.True(t, IsInvalidState(err))
}

func TestReject_ClearsSubmission(t *testing.T) {
	p := pendingPlayer(t, 100, 100)
	submitted, err := Submit(p, SubmitInput{ChipCount: 150, PreferredCredit: 20}, true)
	require.NoError(t, err)
	out, err := Evaluate(submitted, testNow)
	require.NoError(t, err)

	got, err := Reject(out.Player)
	require.NoError(t, err)
	assert.Equal(t, CheckoutPending, got.CheckoutStatus)
	assert.Zero(t, got.SubmittedChipCount)
	assert.Zero(t, got.PreferredCredit)
	assert.Zero(t, got.ValidatedChipCount)
	assert.Zero(t, got.CreditRepaid)
	assert.Zero(t, got.ChipsAfterCredit)
	assert.Zero(t, got.CreditsOwed)
	assert.False(t, got.InputLocked)
	assert.Equal(t, int64(100), got.FrozenBuyIn.TotalCreditIn)

	// a fresh PENDING record cannot be rejected again
	_, err = Reject(got)
	require.True(t, IsInvalidState(err))
}

func TestReject_LockedPendingUnlocks(t *testing.T) {
	p := pendingPlayer(t, 100, 0)
	p.InputLocked = true
	got, err := Reject(p)
	require.NoError(t, err)
	assert.False(t, got.InputLocked)
}

func TestReject_FromDone(t *testing.T) {
	p := pendingPlayer(t, 100, 0)
	submitted, err := Submit(p, SubmitInput{ChipCount: 100}, false)
	require.NoError(t, err)
	out, err := Evaluate(submitted, testNow)
	require.NoError(t, err)
	require.Equal(t, CheckoutDone, out.Player.CheckoutStatus)

	_, err = Reject(out.Player)
	require.True(t, IsInvalidState(err))
}

func TestDistributionFlow(t *testing.T) {
	p := pendingPlayer(t, 100, 100)
	submitted, err := Submit(p, SubmitInput{ChipCount: 400, PreferredCash: 200, PreferredCredit: 100}, false)
	require.NoError(t, err)
	out, err := Evaluate(submitted, testNow)
	require.NoError(t, err)
	awaiting, err := MarkAwaiting(out.Player)
	require.NoError(t, err)

	_, err = ApplyDistribution(awaiting, Distribution{Cash: 250})
	require.True(t, IsValidation(err), "300 chips after credit must be fully assigned")

	_, err = ApplyDistribution(awaiting, Distribution{Cash: 200, CreditFrom: []CreditTransfer{{From: awaiting.ID, Amount: 100}}})
	require.True(t, IsValidation(err))

	applied, err := ApplyDistribution(awaiting, Distribution{Cash: 200, CreditFrom: []CreditTransfer{{From: "p2", Amount: 100}}})
	require.NoError(t, err)
	assert.Equal(t, CheckoutDistributed, applied.Player.CheckoutStatus)
	assert.Equal(t, int64(200), applied.CashPaid)
	assert.Equal(t, int64(100), applied.CreditPaid)

	done, err := Confirm(applied.Player, testNow)
	require.NoError(t, err)
	assert.Equal(t, CheckoutDone, done.CheckoutStatus)
	assert.True(t, done.CheckedOut)
	assert.Equal(t, int64(400), done.FinalChipCount)
	assert.Equal(t, int64(200), done.ProfitLoss)

	_, err = Confirm(done, testNow)
	require.True(t, IsInvalidState(err))
}

func TestMarkAwaiting_WrongState(t *testing.T) {
	p := pendingPlayer(t, 100, 100)
	_, err := MarkAwaiting(p)
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "CREDIT_DEDUCTED", ise.Expected)
	assert.Equal(t, "PENDING", ise.Actual)
}
