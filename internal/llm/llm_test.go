package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/lendchat/internal/models"
)

func TestBuildIntentPrompt(t *testing.T) {
	system, user := buildIntentPrompt("I want to speak to someone")

	for _, in := range models.Intents {
		assert.Contains(t, system, string(in))
	}
	assert.Contains(t, system, "exactly one label")
	assert.Contains(t, user, "I want to speak to someone")
}

func TestBuildReplyPrompt(t *testing.T) {
	due := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)

	t.Run("with customer snapshot", func(t *testing.T) {
		system, user := buildReplyPrompt(ReplyRequest{
			Message: "What is my loan balance?",
			Intent:  models.IntentLoanStatus,
			Segment: models.SegmentStandard,
			Customer: &models.CustomerContext{
				LoanHistory:    []models.Loan{{Amount: 8000, Status: "active", DueDate: due}},
				PaymentHistory: []models.Payment{{Amount: 800, Status: models.PaymentStatusCompleted, DueDate: due}},
				Context:        "Balances are updated nightly.",
			},
			Currency: "N$",
		})

		assert.Contains(t, system, `"response"`)
		assert.Contains(t, system, `"requires_escalation"`)
		assert.Contains(t, system, `"suggested_actions"`)
		assert.Contains(t, system, `"en"`)

		assert.Contains(t, user, "Intent: loan_status")
		assert.Contains(t, user, "Customer segment: standard")
		assert.Contains(t, user, "N$8000.00, status active, due 2025-09-30")
		assert.Contains(t, user, "Balances are updated nightly.")
		assert.Contains(t, user, "What is my loan balance?")
	})

	t.Run("followup and no snapshot", func(t *testing.T) {
		_, user := buildReplyPrompt(ReplyRequest{
			Message:        "yes",
			Intent:         models.IntentLoanApplication,
			FollowupAction: "Start application",
		})
		assert.Contains(t, user, "answering a previous suggestion: Start application")
		assert.NotContains(t, user, "Loans:")
	})
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1}  "))
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in   string
		want models.Intent
	}{
		{"loan_status", models.IntentLoanStatus},
		{"  \"complaint\".\n", models.IntentComplaint},
		{"HUMAN_REQUEST", models.IntentHumanRequest},
		{"payment_issue because the debit failed", models.IntentPaymentIssue},
		{"something else", models.IntentGeneralInquiry},
		{"", models.IntentGeneralInquiry},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseIntent(tt.in))
		})
	}
}

func TestParseReply(t *testing.T) {
	t.Run("valid json in fences", func(t *testing.T) {
		r, err := parseReply("```json\n" + `{"response":"Your balance is N$8000.","sentiment":"neutral","requires_escalation":false,"escalation_reason":"","suggested_actions":["View payments"]}` + "\n```")
		require.NoError(t, err)
		assert.Equal(t, "Your balance is N$8000.", r.Text)
		assert.Equal(t, models.SentimentNeutral, r.Sentiment)
		assert.False(t, r.RequiresEscalation)
		assert.Equal(t, []string{"View payments"}, r.SuggestedActions)
	})

	t.Run("repairs malformed json", func(t *testing.T) {
		r, err := parseReply(`{"response": "Let me get a colleague.", "sentiment": "negative", "requires_escalation": true,}`)
		require.NoError(t, err)
		assert.Equal(t, "Let me get a colleague.", r.Text)
		assert.True(t, r.RequiresEscalation)
		assert.NotEmpty(t, r.EscalationReason)
		assert.NotNil(t, r.SuggestedActions)
	})

	t.Run("empty response is an error", func(t *testing.T) {
		_, err := parseReply(`{"response":"","sentiment":"neutral"}`)
		assert.Error(t, err)
	})
}

func TestNewClient_RateLimiter(t *testing.T) {
	c := NewClient("test-key", "claude-haiku-4-5-20251001", 0)
	require.NoError(t, c.limiter.Wait(context.Background()))

	paced := NewClient("test-key", "claude-haiku-4-5-20251001", 2)
	assert.Equal(t, 1, paced.limiter.Burst())
}
