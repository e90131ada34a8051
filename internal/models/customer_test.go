package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomerContextClone_IsDeep(t *testing.T) {
	paid := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	orig := &CustomerContext{
		CustomerID:        "c1",
		RelevantDocuments: []Document{{Title: "Agreement", Metadata: map[string]string{"version": "1"}}},
		LoanHistory:       []Loan{{ID: "l1", Amount: 5000}},
		PaymentHistory:    []Payment{{ID: "p1", Amount: 500, PaidDate: &paid}},
		ConversationHistory: []ConversationEntry{
			{ID: "e1", Content: "hello"},
		},
	}

	cp := orig.Clone()
	require.Equal(t, orig, cp)

	cp.RelevantDocuments[0].Metadata["version"] = "2"
	*cp.PaymentHistory[0].PaidDate = paid.AddDate(0, 0, 5)
	cp.LoanHistory[0].Amount = 1
	cp.ConversationHistory[0].Content = "changed"

	assert.Equal(t, "1", orig.RelevantDocuments[0].Metadata["version"])
	assert.Equal(t, paid, *orig.PaymentHistory[0].PaidDate)
	assert.Equal(t, 5000.0, orig.LoanHistory[0].Amount)
	assert.Equal(t, "hello", orig.ConversationHistory[0].Content)
}

func TestCustomerContextClone_KeepsEmptySlices(t *testing.T) {
	orig := &CustomerContext{
		RelevantDocuments:   []Document{},
		LoanHistory:         []Loan{},
		PaymentHistory:      []Payment{},
		ConversationHistory: []ConversationEntry{},
	}
	cp := orig.Clone()
	assert.NotNil(t, cp.RelevantDocuments)
	assert.NotNil(t, cp.LoanHistory)
	assert.NotNil(t, cp.PaymentHistory)
	assert.NotNil(t, cp.ConversationHistory)

	var nilCtx *CustomerContext
	assert.Nil(t, nilCtx.Clone())
}
