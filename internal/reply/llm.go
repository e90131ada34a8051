package reply

import (
	"context"
	"fmt"

	"github.com/joescharf/lendchat/internal/llm"
	"github.com/joescharf/lendchat/internal/models"
)

// Model is the remote drafting call behind the LLM generator.
type Model interface {
	GenerateReply(ctx context.Context, req llm.ReplyRequest) (*models.Reply, error)
}

// LLM drafts replies with a language model. The handoff policy still
// applies on top of whatever the model decides.
type LLM struct {
	model    Model
	currency string
}

// NewLLM returns a Generator backed by m.
func NewLLM(m Model, currency string) *LLM {
	return &LLM{model: m, currency: currency}
}

func (g *LLM) Generate(ctx context.Context, in Input) (*models.Reply, error) {
	var followup string
	if in.Followup != nil && in.Followup.IsFollowup {
		followup = in.Followup.Action
	}

	r, err := g.model.GenerateReply(ctx, llm.ReplyRequest{
		Message:        in.Message,
		Intent:         in.Intent,
		Segment:        in.Segment,
		Customer:       in.Customer,
		FollowupAction: followup,
		Currency:       g.currency,
		Language:       in.Language,
	})
	if err != nil {
		return Fallback(in), fmt.Errorf("generate reply: %w", err)
	}
	if r == nil || r.Text == "" {
		return Fallback(in), fmt.Errorf("generate reply: empty reply")
	}

	out := r.Clone()
	out.Intent = in.Intent
	if out.Sentiment == "" {
		out.Sentiment = Sentiment(in.Message)
	}
	if out.SuggestedActions == nil {
		out.SuggestedActions = []string{}
	}
	if !out.RequiresEscalation {
		if reason := Escalation(in, out.Sentiment); reason != "" {
			out.RequiresEscalation = true
			out.EscalationReason = reason
		}
	}
	if out.RequiresEscalation {
		if out.EscalationReason == "" {
			out.EscalationReason = "model requested human review"
		}
		out.SuggestedActions = []string{}
	}
	return out, nil
}
