package intent

import (
	"context"
	"strings"
	"unicode"

	"github.com/joescharf/lendchat/internal/models"
)

// rule is one intent and the words or phrases that signal it.
type rule struct {
	intent   models.Intent
	keywords []string
}

// rules are checked in order; the first match wins. Escalation-worthy
// intents come first so "my payment failed, get me a person" is a
// human_request, and loan_status precedes loan_application so
// "what is my loan balance" is a status question.
var rules = []rule{
	{models.IntentHumanRequest, []string{
		"human", "real person", "a person", "speak to someone", "talk to someone",
		"speak to an agent", "talk to an agent", "agent", "operator", "representative",
		"consultant", "manager", "call me", "call back", "callback",
	}},
	{models.IntentComplaint, []string{
		"complaint", "complain", "complaining", "unhappy", "terrible", "awful", "worst",
		"unacceptable", "ridiculous", "disappointed", "rude", "poor service", "bad service",
		"scam", "useless",
	}},
	{models.IntentPaymentIssue, []string{
		"payment failed", "failed payment", "debit failed", "declined", "bounced",
		"missed payment", "missed my payment", "charged twice", "double charged",
		"wrong amount", "cant pay", "cannot pay", "unable to pay", "refund",
	}},
	{models.IntentLoanStatus, []string{
		"balance", "status", "owe", "outstanding", "remaining", "settlement", "settle",
	}},
	{models.IntentPaymentInquiry, []string{
		"payment", "payments", "pay", "repay", "repayment", "instalment", "installment",
		"due date", "debit order",
	}},
	{models.IntentLoanApplication, []string{
		"apply", "application", "borrow", "loan", "loans", "credit",
	}},
	{models.IntentDocumentRequest, []string{
		"statement", "document", "documents", "agreement", "contract", "certificate",
		"letter", "copy", "invoice", "receipt",
	}},
	{models.IntentAccountUpdate, []string{
		"update my", "change my", "address", "phone number", "email", "bank details",
		"account details",
	}},
	{models.IntentGreeting, []string{
		"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
		"thanks", "thank you",
	}},
}

// Keyword classifies with ordered keyword heuristics. It never fails.
type Keyword struct{}

// NewKeyword returns a keyword Classifier.
func NewKeyword() *Keyword {
	return &Keyword{}
}

// Classify never returns an error.
func (k *Keyword) Classify(_ context.Context, text string) (models.Intent, error) {
	return classify(text), nil
}

// classify matches whole words and phrases against the rules in order and
// defaults to general_inquiry.
func classify(text string) models.Intent {
	norm := normalize(text)
	if strings.TrimSpace(norm) == "" {
		return models.IntentGeneralInquiry
	}
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(norm, " "+kw+" ") {
				return r.intent
			}
		}
	}
	return models.IntentGeneralInquiry
}

// normalize lowercases text, drops apostrophes ("can't" becomes "cant"),
// turns every other non-alphanumeric rune into a space, and pads the result
// with single spaces so keywords can be matched as " word ".
func normalize(text string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}
