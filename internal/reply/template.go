package reply

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/joescharf/lendchat/internal/models"
)

// Suggested actions for guided flows.
var (
	applicationActions  = []string{"Start application", "Check eligibility"}
	paymentIssueActions = []string{"Retry payment", "Update bank details"}
	documentActions     = []string{"Send loan agreement", "Send statement"}
)

// Template is a deterministic generator that fills per-intent replies from
// the customer snapshot.
type Template struct {
	currency string
}

// NewTemplate returns a Template generator that formats amounts with currency.
func NewTemplate(currency string) *Template {
	if currency == "" {
		currency = "N$"
	}
	return &Template{currency: currency}
}

// Generate never fails.
func (g *Template) Generate(_ context.Context, in Input) (*models.Reply, error) {
	sentiment := Sentiment(in.Message)
	text, actions := g.compose(in)

	if in.Followup != nil && in.Followup.IsFollowup && in.Followup.Action != "" {
		text = fmt.Sprintf("Got it: %s. %s", in.Followup.Action, text)
	}

	r := &models.Reply{
		Text:             text,
		Sentiment:        sentiment,
		Intent:           in.Intent,
		SuggestedActions: actions,
	}
	if reason := Escalation(in, sentiment); reason != "" {
		r.RequiresEscalation = true
		r.EscalationReason = reason
		r.SuggestedActions = []string{}
	}
	return r, nil
}

func (g *Template) compose(in Input) (string, []string) {
	cc := in.Customer
	if cc == nil {
		cc = &models.CustomerContext{}
	}

	switch in.Intent {
	case models.IntentHumanRequest:
		return "I'm connecting you with one of our team members. Someone will reply here shortly.", []string{}

	case models.IntentComplaint:
		return "I'm sorry about your experience. I've passed your message to a colleague who will follow up with you personally.", []string{}

	case models.IntentGreeting:
		return "Hello! Thanks for getting in touch. How can I help with your loan today?", []string{}

	case models.IntentLoanStatus:
		return g.loanStatus(cc), []string{}

	case models.IntentPaymentInquiry:
		return g.paymentInquiry(cc), []string{}

	case models.IntentPaymentIssue:
		return "Sorry to hear there's a problem with your payment. I can retry the payment or help you update your bank details.",
			append([]string(nil), paymentIssueActions...)

	case models.IntentLoanApplication:
		return g.application(in.Segment), append([]string(nil), applicationActions...)

	case models.IntentDocumentRequest:
		return g.documents(cc), append([]string(nil), documentActions...)

	case models.IntentAccountUpdate:
		return "For your security, account changes need to be verified. Please reply with the detail you'd like to change and we'll confirm it with you.", []string{}
	}

	return g.general(in.Message, cc), []string{}
}

func (g *Template) loanStatus(cc *models.CustomerContext) string {
	if len(cc.LoanHistory) == 0 {
		return "I couldn't find any loans on your profile. If you'd like to apply, just let me know."
	}
	latest := cc.LoanHistory[0]
	var b strings.Builder
	if len(cc.LoanHistory) == 1 {
		fmt.Fprintf(&b, "Your loan of %s is %s", g.money(latest.Amount), statusWord(latest.Status))
	} else {
		fmt.Fprintf(&b, "You have %d loans totalling %s. Your most recent loan of %s is %s",
			len(cc.LoanHistory), g.money(cc.TotalLoanAmount()), g.money(latest.Amount), statusWord(latest.Status))
	}
	if !latest.DueDate.IsZero() {
		fmt.Fprintf(&b, " and due on %s", latest.DueDate.Format("2 January 2006"))
	}
	b.WriteString(".")
	if p, ok := nextPending(cc.PaymentHistory); ok {
		fmt.Fprintf(&b, " Your next payment of %s is due on %s.", g.money(p.Amount), p.DueDate.Format("2 January 2006"))
	}
	return b.String()
}

func (g *Template) paymentInquiry(cc *models.CustomerContext) string {
	p, ok := nextPending(cc.PaymentHistory)
	if !ok {
		if len(cc.LoanHistory) == 0 {
			return "You don't have any payments scheduled with us."
		}
		return "You have no upcoming payments scheduled right now."
	}
	return fmt.Sprintf("Your next payment of %s is due on %s. You can pay by EFT or debit order.",
		g.money(p.Amount), p.DueDate.Format("2 January 2006"))
}

func (g *Template) application(segment models.Segment) string {
	base := "I can help you apply for a loan."
	switch segment {
	case models.SegmentPremium:
		return base + " As a valued customer you may qualify for a higher amount and a preferential rate."
	case models.SegmentHighRisk:
		return base + " We'll need to review your recent payment history as part of the application."
	case models.SegmentBasic:
		return base + " You'll need your ID and a recent payslip to get started."
	}
	return base + " Would you like to start an application or check your eligibility first?"
}

func (g *Template) documents(cc *models.CustomerContext) string {
	if len(cc.RelevantDocuments) == 0 {
		return "I can send you your loan agreement or a statement. Which one would you like?"
	}
	titles := make([]string, 0, len(cc.RelevantDocuments))
	for _, d := range cc.RelevantDocuments {
		titles = append(titles, d.Title)
	}
	return fmt.Sprintf("These documents are on your profile: %s. Which one would you like me to send?", strings.Join(titles, ", "))
}

func (g *Template) general(message string, cc *models.CustomerContext) string {
	if strings.TrimSpace(message) == "" {
		return "Hi! I didn't catch a question there. I can help with your loan balance, payments, applications and documents."
	}
	if cc.Context != "" {
		return "Here's what I found that may help:\n" + firstParagraph(cc.Context)
	}
	return "Thanks for your message. I can help with your loan balance, payments, applications and documents. What would you like to know?"
}

func (g *Template) money(amount float64) string {
	return Money(g.currency, amount)
}

// Money formats an amount with the currency prefix and thousands separators.
func Money(currency string, amount float64) string {
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := currency + b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}

func statusWord(status string) string {
	if status == "" {
		return "active"
	}
	return strings.ReplaceAll(status, "_", " ")
}

// nextPending returns the pending payment with the earliest due date.
func nextPending(payments []models.Payment) (models.Payment, bool) {
	var next models.Payment
	found := false
	for _, p := range payments {
		if p.Status != models.PaymentStatusPending {
			continue
		}
		if !found || p.DueDate.Before(next.DueDate) {
			next = p
			found = true
		}
	}
	return next, found
}

func firstParagraph(s string) string {
	if i := strings.Index(s, "\n\n"); i >= 0 {
		return s[:i]
	}
	return s
}
