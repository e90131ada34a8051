package retrieval

import "github.com/joescharf/lendchat/internal/models"

// Segmentation thresholds, in the lender's currency.
const (
	PremiumTotal     = 50000.0
	PremiumSingle    = 10000.0
	BasicSingleLimit = 5000.0
	MaxLatePayments  = 2
)

// Segment derives the customer tier from loan and payment history.
// high_risk is checked first and wins over premium.
func Segment(loans []models.Loan, payments []models.Payment) models.Segment {
	late := 0
	for _, p := range payments {
		if p.Status == models.PaymentStatusFailed {
			return models.SegmentHighRisk
		}
		if p.Late() {
			late++
		}
	}
	if late > MaxLatePayments {
		return models.SegmentHighRisk
	}

	var total float64
	large := false
	for _, l := range loans {
		total += l.Amount
		if l.Amount > PremiumSingle {
			large = true
		}
	}
	if total > PremiumTotal || (len(loans) > 1 && large) {
		return models.SegmentPremium
	}

	if len(loans) == 0 || (len(loans) == 1 && loans[0].Amount < BasicSingleLimit) {
		return models.SegmentBasic
	}
	return models.SegmentStandard
}

// SegmentContext is Segment over a retrieved snapshot. A nil snapshot is basic.
func SegmentContext(cc *models.CustomerContext) models.Segment {
	if cc == nil {
		return models.SegmentBasic
	}
	return Segment(cc.LoanHistory, cc.PaymentHistory)
}
