package llm

import (
	"fmt"
	"strings"

	"github.com/joescharf/lendchat/internal/models"
)

// ReplyRequest is everything the model sees when drafting a reply.
type ReplyRequest struct {
	Message        string
	Intent         models.Intent
	Segment        models.Segment
	Customer       *models.CustomerContext
	FollowupAction string
	Currency       string
	Language       string
}

// buildIntentPrompt constructs the system and user prompts for intent labelling.
func buildIntentPrompt(text string) (system string, user string) {
	labels := make([]string, len(models.Intents))
	for i, in := range models.Intents {
		labels[i] = string(in)
	}

	system = `You classify WhatsApp messages sent to a consumer lending company.
Reply with exactly one label from this list and nothing else:
` + strings.Join(labels, ", ") + `

Rules:
- "human_request" when the customer asks for a person, agent, or call back
- "complaint" for dissatisfaction with the service
- "payment_issue" for failed, missed, or disputed payments
- "loan_status" for balances, outstanding amounts, or loan state
- "general_inquiry" when nothing else fits or the message is empty`

	user = "Message:\n" + text
	return
}

// buildReplyPrompt constructs the system and user prompts for reply drafting.
func buildReplyPrompt(req ReplyRequest) (system string, user string) {
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	currency := req.Currency
	if currency == "" {
		currency = "N$"
	}

	system = fmt.Sprintf(`You are a customer support agent for a consumer lending company, answering on WhatsApp.
Write short, friendly replies (at most 3 sentences) in language %q. Amounts are in %s.
Return ONLY a JSON object with these fields:
- "response": the reply text
- "sentiment": the customer's sentiment, one of "positive", "neutral", "negative"
- "requires_escalation": true when a human must take over
- "escalation_reason": why, or empty string
- "suggested_actions": short next steps the customer can reply with, or an empty array

Rules:
- Escalate when the customer asks for a human, complains, or reports a payment problem while high risk
- Never invent balances or dates that are not in the customer snapshot
- Return valid JSON only, no markdown fencing or explanation`, lang, currency)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Intent: %s\n", req.Intent)
	fmt.Fprintf(&sb, "Customer segment: %s\n", req.Segment)
	if req.FollowupAction != "" {
		fmt.Fprintf(&sb, "The customer is answering a previous suggestion: %s\n", req.FollowupAction)
	}

	if cc := req.Customer; cc != nil {
		if len(cc.LoanHistory) > 0 {
			sb.WriteString("\nLoans:\n")
			for _, l := range cc.LoanHistory {
				fmt.Fprintf(&sb, "- %s%.2f, status %s, due %s\n", currency, l.Amount, l.Status, l.DueDate.Format("2006-01-02"))
			}
		}
		if len(cc.PaymentHistory) > 0 {
			sb.WriteString("\nPayments:\n")
			for _, p := range cc.PaymentHistory {
				fmt.Fprintf(&sb, "- %s%.2f, %s, due %s\n", currency, p.Amount, p.Status, p.DueDate.Format("2006-01-02"))
			}
		}
		if len(cc.ConversationHistory) > 0 {
			sb.WriteString("\nPrevious conversations:\n")
			for _, e := range cc.ConversationHistory {
				fmt.Fprintf(&sb, "- %s (%s)\n", e.Content, e.Sentiment)
			}
		}
		if cc.Context != "" {
			sb.WriteString("\nReference material:\n")
			sb.WriteString(cc.Context)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nCustomer message:\n")
	sb.WriteString(req.Message)
	user = sb.String()
	return
}
