package models

import (
	"maps"
	"slices"
	"time"
)

// Segment is the derived risk/value tier of a customer.
type Segment string

const (
	SegmentBasic    Segment = "basic"
	SegmentStandard Segment = "standard"
	SegmentPremium  Segment = "premium"
	SegmentHighRisk Segment = "high_risk"
)

// PaymentStatus represents the settlement state of a payment.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// DocumentType classifies customer and knowledge base documents.
type DocumentType string

const (
	DocumentTypeLoanAgreement  DocumentType = "loan_agreement"
	DocumentTypePolicy         DocumentType = "policy"
	DocumentTypeFAQ            DocumentType = "faq"
	DocumentTypeCorrespondence DocumentType = "correspondence"
	DocumentTypePaymentHistory DocumentType = "payment_history"
)

// Loan is one loan in a customer's history.
type Loan struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customerId"`
	Amount       float64   `json:"amount"`
	Status       string    `json:"status"`
	InterestRate float64   `json:"interestRate"`
	CreatedAt    time.Time `json:"createdAt"`
	DueDate      time.Time `json:"dueDate"`
}

// Payment is one scheduled or settled repayment.
type Payment struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customerId"`
	LoanID     string        `json:"loanId,omitempty"`
	Amount     float64       `json:"amount"`
	Status     PaymentStatus `json:"status"`
	Method     string        `json:"method"`
	DueDate    time.Time     `json:"dueDate"`
	PaidDate   *time.Time    `json:"paidDate,omitempty"`
}

// Late reports whether a completed payment was settled after its due date.
func (p Payment) Late() bool {
	return p.Status == PaymentStatusCompleted && p.PaidDate != nil && p.PaidDate.After(p.DueDate)
}

// Document is a customer document or a knowledge base entry.
// Knowledge base entries have an empty CustomerID.
type Document struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customerId,omitempty"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Type       DocumentType      `json:"type"`
	Category   string            `json:"category,omitempty"`
	Language   string            `json:"language,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// ConversationEntry summarizes one past conversation with a customer.
type ConversationEntry struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	SessionID  string    `json:"sessionId,omitempty"`
	Content    string    `json:"content"`
	Sentiment  Sentiment `json:"sentiment"`
	Resolved   bool      `json:"resolved"`
	Timestamp  time.Time `json:"timestamp"`
}

// CustomerContext is the read projection assembled on every turn.
type CustomerContext struct {
	CustomerID          string              `json:"customerId"`
	Context             string              `json:"context"`
	RelevantDocuments   []Document          `json:"relevantDocuments"`
	LoanHistory         []Loan              `json:"loanHistory"`
	PaymentHistory      []Payment           `json:"paymentHistory"`
	ConversationHistory []ConversationEntry `json:"conversationHistory"`
	RetrievedAt         time.Time           `json:"retrievedAt"`
}

// TotalLoanAmount sums the amounts of every loan in the history.
func (c *CustomerContext) TotalLoanAmount() float64 {
	var total float64
	for _, l := range c.LoanHistory {
		total += l.Amount
	}
	return total
}

// Clone returns a deep copy of c.
func (c *CustomerContext) Clone() *CustomerContext {
	if c == nil {
		return nil
	}
	out := *c
	out.RelevantDocuments = slices.Clone(c.RelevantDocuments)
	for i, d := range out.RelevantDocuments {
		out.RelevantDocuments[i].Metadata = maps.Clone(d.Metadata)
	}
	out.LoanHistory = slices.Clone(c.LoanHistory)
	out.PaymentHistory = slices.Clone(c.PaymentHistory)
	for i, p := range out.PaymentHistory {
		if p.PaidDate != nil {
			paid := *p.PaidDate
			out.PaymentHistory[i].PaidDate = &paid
		}
	}
	out.ConversationHistory = slices.Clone(c.ConversationHistory)
	return &out
}
