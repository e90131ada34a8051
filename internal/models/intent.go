package models

// Intent is a coarse label for what the customer wants.
type Intent string

const (
	IntentLoanStatus      Intent = "loan_status"
	IntentLoanApplication Intent = "loan_application"
	IntentPaymentInquiry  Intent = "payment_inquiry"
	IntentPaymentIssue    Intent = "payment_issue"
	IntentDocumentRequest Intent = "document_request"
	IntentAccountUpdate   Intent = "account_update"
	IntentComplaint       Intent = "complaint"
	IntentHumanRequest    Intent = "human_request"
	IntentGreeting        Intent = "greeting"
	IntentGeneralInquiry  Intent = "general_inquiry"
)

// Intents lists every known label.
var Intents = []Intent{
	IntentLoanStatus,
	IntentLoanApplication,
	IntentPaymentInquiry,
	IntentPaymentIssue,
	IntentDocumentRequest,
	IntentAccountUpdate,
	IntentComplaint,
	IntentHumanRequest,
	IntentGreeting,
	IntentGeneralInquiry,
}

// ParseIntent maps a label to a known Intent, defaulting to general_inquiry.
func ParseIntent(s string) Intent {
	for _, i := range Intents {
		if string(i) == s {
			return i
		}
	}
	return IntentGeneralInquiry
}

// Sentiment is the tone detected in a customer message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment maps a label to a known Sentiment, defaulting to neutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(s) {
	case SentimentPositive, SentimentNegative:
		return Sentiment(s)
	default:
		return SentimentNeutral
	}
}

// Reply is the output of the response generator for one turn.
type Reply struct {
	Text               string    `json:"response"`
	Sentiment          Sentiment `json:"sentiment"`
	Intent             Intent    `json:"intent,omitempty"`
	RequiresEscalation bool      `json:"requiresEscalation"`
	EscalationReason   string    `json:"escalationReason,omitempty"`
	SuggestedActions   []string  `json:"suggestedActions"`
}

// Clone returns a deep copy of r.
func (r *Reply) Clone() *Reply {
	if r == nil {
		return nil
	}
	c := *r
	if r.SuggestedActions != nil {
		c.SuggestedActions = append([]string(nil), r.SuggestedActions...)
	}
	return &c
}
