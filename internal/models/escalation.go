package models

import "time"

// EscalationStatus tracks a human handoff from creation to resolution.
type EscalationStatus string

const (
	EscalationStatusPending  EscalationStatus = "pending"
	EscalationStatusResolved EscalationStatus = "resolved"
)

// Escalation is the payload handed to a human operator.
type Escalation struct {
	ID         string           `json:"id"`
	CustomerID string           `json:"customerId"`
	SessionID  string           `json:"sessionId"`
	Reason     string           `json:"reason"`
	History    []Message        `json:"history"`
	Context    SessionContext   `json:"context"`
	Status     EscalationStatus `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
}
