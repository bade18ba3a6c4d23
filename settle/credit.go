package settle

type CreditResult struct {
	TotalBuyIn       int64
	ProfitLoss       int64
	CreditRepaid     int64
	CreditOwed       int64
	ChipsAfterCredit int64
}

// CalculateCredit repays outstanding credit out of the final chip count first.
// Inputs must be non-negative.
func CalculateCredit(finalChips, totalCashIn, totalCreditIn int64) CreditResult {
	totalBuyIn := totalCashIn + totalCreditIn
	return CreditResult{
		TotalBuyIn:       totalBuyIn,
		ProfitLoss:       finalChips - totalBuyIn,
		CreditRepaid:     min(finalChips, totalCreditIn),
		CreditOwed:       max(0, totalCreditIn-finalChips),
		ChipsAfterCredit: max(0, finalChips-totalCreditIn),
	}
}
