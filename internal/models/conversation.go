package models

import "time"

// Step is the state machine tag recorded on a session after each node runs.
type Step string

const (
	StepStart                    Step = "start"
	StepIntentAnalyzed           Step = "intent_analyzed"
	StepIntentAnalysisFailed     Step = "intent_analysis_failed"
	StepContextRetrieved         Step = "context_retrieved"
	StepContextRetrievalFailed   Step = "context_retrieval_failed"
	StepResponseGenerated        Step = "response_generated"
	StepResponseGenerationFailed Step = "response_generation_failed"
	StepFollowupDetected         Step = "followup_detected"
	StepContextUpdated           Step = "context_updated"
	StepEscalated                Step = "escalated"
	StepEnded                    Step = "ended"
)

// Terminal reports whether no further transitions may be applied.
func (s Step) Terminal() bool {
	return s == StepEnded || s == StepEscalated
}

// Sender identifies who authored a message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAgent    Sender = "agent"
)

// Message is one entry in a session's history.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Sentiment Sentiment `json:"sentiment,omitempty"`
	Intent    Intent    `json:"intent,omitempty"`
	Response  *Reply    `json:"response,omitempty"` // agent messages only
}

// SessionMetadata carries timing and diagnostics for a session.
type SessionMetadata struct {
	StartTime    time.Time  `json:"startTime"`
	LastActivity time.Time  `json:"lastActivity"`
	StepCount    int        `json:"stepCount"`
	SessionID    string     `json:"sessionId"`
	EndTime      *time.Time `json:"endTime,omitempty"`
}

// Followup records that the latest customer message answered a suggested action.
type Followup struct {
	IsFollowup bool   `json:"isFollowup"`
	Action     string `json:"action,omitempty"`
}

// SessionContext holds values computed as the session progresses.
// Fields are set by the node that owns them and are never cleared mid-session.
type SessionContext struct {
	Intent           Intent           `json:"intent,omitempty"`
	LastMessageID    string           `json:"lastMessageId,omitempty"`
	Customer         *CustomerContext `json:"customerContext,omitempty"`
	LastResponse     *Reply           `json:"lastResponse,omitempty"`
	PendingActions   []string         `json:"pendingActions,omitempty"`
	Followup         *Followup        `json:"followup,omitempty"`
	EscalationStatus string           `json:"escalationStatus,omitempty"`
	EscalatedAt      *time.Time       `json:"escalatedAt,omitempty"`
	TurnCount        int              `json:"turnCount"`
}

// Session is the state of one customer conversation.
type Session struct {
	CustomerID         string          `json:"customerId"`
	SessionID          string          `json:"sessionId"`
	CurrentStep        Step            `json:"currentStep"`
	History            []Message       `json:"history"`
	Context            SessionContext  `json:"context"`
	RequiresEscalation bool            `json:"requiresEscalation"`
	EscalationReason   string          `json:"escalationReason,omitempty"`
	CustomerSegment    Segment         `json:"customerSegment"`
	Language           string          `json:"language"`
	Metadata           SessionMetadata `json:"metadata"`
}

// Terminal reports whether the session has reached ended or escalated.
func (s *Session) Terminal() bool {
	return s.CurrentStep.Terminal()
}

// LastCustomerMessage returns the most recent customer-authored message.
func (s *Session) LastCustomerMessage() (Message, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Sender == SenderCustomer {
			return s.History[i], true
		}
	}
	return Message{}, false
}

// LastAgentMessage returns the most recent agent-authored message.
func (s *Session) LastAgentMessage() (Message, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Sender == SenderAgent {
			return s.History[i], true
		}
	}
	return Message{}, false
}

// Clone returns a deep copy so callers can mutate the result without
// touching the original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s

	c.History = make([]Message, len(s.History))
	for i, m := range s.History {
		if m.Response != nil {
			m.Response = m.Response.Clone()
		}
		c.History[i] = m
	}

	c.Context.Customer = s.Context.Customer.Clone()
	c.Context.LastResponse = s.Context.LastResponse.Clone()
	if s.Context.PendingActions != nil {
		c.Context.PendingActions = append([]string(nil), s.Context.PendingActions...)
	}
	if s.Context.Followup != nil {
		f := *s.Context.Followup
		c.Context.Followup = &f
	}
	if s.Context.EscalatedAt != nil {
		t := *s.Context.EscalatedAt
		c.Context.EscalatedAt = &t
	}
	if s.Metadata.EndTime != nil {
		t := *s.Metadata.EndTime
		c.Metadata.EndTime = &t
	}
	return &c
}
