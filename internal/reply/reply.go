// Package reply drafts the agent's answer for one turn and decides whether
// a human has to take over.
package reply

import (
	"context"

	"github.com/joescharf/lendchat/internal/models"
)

// FallbackText is sent whenever a reply cannot be produced.
const FallbackText = "I apologize, but I'm experiencing technical difficulties. Please try again later or contact our support team."

// ReasonGenerationFailed is the escalation reason for a failed generator.
const ReasonGenerationFailed = "response generation failed"

// Input is what a generator sees for one turn.
type Input struct {
	Message  string
	Intent   models.Intent
	Segment  models.Segment
	Customer *models.CustomerContext
	Followup *models.Followup
	History  []models.Message
	Language string
}

// Generator drafts a reply. The returned reply is never nil: on failure it
// is the Fallback reply and the error says why.
type Generator interface {
	Generate(ctx context.Context, in Input) (*models.Reply, error)
}

// Fallback is the deterministic reply used when generation fails.
func Fallback(in Input) *models.Reply {
	return &models.Reply{
		Text:               FallbackText,
		Sentiment:          Sentiment(in.Message),
		Intent:             in.Intent,
		RequiresEscalation: true,
		EscalationReason:   ReasonGenerationFailed,
		SuggestedActions:   []string{},
	}
}
