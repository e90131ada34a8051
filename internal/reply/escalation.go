package reply

import "github.com/joescharf/lendchat/internal/models"

// Escalation reasons raised by policy rather than by failures.
const (
	ReasonHumanRequested   = "customer requested a human agent"
	ReasonComplaint        = "customer complaint"
	ReasonHighRiskPayment  = "payment issue on a high risk account"
	ReasonRepeatedNegative = "repeated negative sentiment"
)

// Escalation applies the handoff policy for a turn and returns the reason,
// or "" when the bot may keep answering.
func Escalation(in Input, sentiment models.Sentiment) string {
	switch {
	case in.Intent == models.IntentHumanRequest:
		return ReasonHumanRequested
	case in.Intent == models.IntentComplaint:
		return ReasonComplaint
	case in.Intent == models.IntentPaymentIssue && in.Segment == models.SegmentHighRisk:
		return ReasonHighRiskPayment
	case sentiment == models.SentimentNegative && negativeCustomerMessages(in.History) >= 2:
		return ReasonRepeatedNegative
	}
	return ""
}

func negativeCustomerMessages(history []models.Message) int {
	n := 0
	for _, m := range history {
		if m.Sender == models.SenderCustomer && m.Sentiment == models.SentimentNegative {
			n++
		}
	}
	return n
}
