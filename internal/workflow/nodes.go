package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/lendchat/internal/models"
	"github.com/joescharf/lendchat/internal/reply"
	"github.com/joescharf/lendchat/internal/retrieval"
)

func (e *Engine) analyzeIntent(ctx context.Context, t *turn) Event {
	s := t.sess
	s.Context.LastMessageID = t.msg.ID

	resuming := s.CurrentStep == models.StepFollowupDetected
	if resuming {
		f := &models.Followup{}
		if isFollowupResponse(t.msg.Content, s.Context.PendingActions) {
			f.IsFollowup = true
			f.Action = extractFollowupAction(t.msg.Content, s.Context.PendingActions)
		}
		s.Context.Followup = f
	} else if s.Context.Followup != nil {
		s.Context.Followup = &models.Followup{}
	}
	previous := s.Context.Intent

	cctx, cancel := context.WithTimeout(ctx, e.opts.Timeouts.Classify)
	in, err := e.classifier.Classify(cctx, t.msg.Content)
	cancel()

	if err != nil {
		if e.opts.IntentFailure == IntentFailureProceed {
			e.log.Warn("intent classification failed, continuing as general inquiry",
				"customer_id", s.CustomerID, "session_id", s.SessionID, "error", err)
			in = models.IntentGeneralInquiry
		} else {
			e.log.Warn("intent classification failed",
				"customer_id", s.CustomerID, "session_id", s.SessionID, "error", err)
			s.CurrentStep = models.StepIntentAnalysisFailed
			t.failReason = ReasonIntentFailed
			return EventIntentFailed
		}
	}

	// A bare "yes" or "ok" keeps the guided flow's intent.
	if s.Context.Followup != nil && s.Context.Followup.IsFollowup &&
		in == models.IntentGeneralInquiry && previous != "" {
		in = previous
	}

	s.Context.Intent = models.ParseIntent(string(in))
	s.CurrentStep = models.StepIntentAnalyzed
	return EventIntentClassified
}

func (e *Engine) retrieveContext(ctx context.Context, t *turn) Event {
	s := t.sess

	cctx, cancel := context.WithTimeout(ctx, e.opts.Timeouts.Retrieve)
	cc, err := e.retriever.Retrieve(cctx, s.CustomerID, t.msg.Content)
	cancel()

	if err != nil || cc == nil {
		if err == nil {
			err = retrieval.ErrStoreUnavailable
		}
		e.log.Warn("context retrieval failed",
			"customer_id", s.CustomerID, "session_id", s.SessionID, "error", err)
		s.CurrentStep = models.StepContextRetrievalFailed
		t.failReason = ReasonContextFailed
		return EventContextFailed
	}

	s.Context.Customer = cc
	s.CustomerSegment = retrieval.SegmentContext(cc)
	s.CurrentStep = models.StepContextRetrieved
	return EventContextRetrieved
}

func (e *Engine) generateResponse(ctx context.Context, t *turn) Event {
	s := t.sess
	in := reply.Input{
		Message:  t.msg.Content,
		Intent:   s.Context.Intent,
		Segment:  s.CustomerSegment,
		Customer: s.Context.Customer,
		Followup: s.Context.Followup,
		History:  s.History,
		Language: s.Language,
	}

	cctx, cancel := context.WithTimeout(ctx, e.opts.Timeouts.Generate)
	r, err := e.generator.Generate(cctx, in)
	cancel()

	if r == nil {
		r = reply.Fallback(in)
		if err == nil {
			err = fmt.Errorf("generator returned no reply")
		}
	}
	if err != nil {
		e.log.Warn("response generation failed",
			"customer_id", s.CustomerID, "session_id", s.SessionID, "error", err)
		r.RequiresEscalation = true
		if r.EscalationReason == "" {
			r.EscalationReason = reply.ReasonGenerationFailed
		}
		s.CurrentStep = models.StepResponseGenerationFailed
	} else {
		s.CurrentStep = models.StepResponseGenerated
	}
	if r.RequiresEscalation && r.EscalationReason == "" {
		r.EscalationReason = "escalation requested"
	}

	t.reply = r
	s.Context.LastResponse = r.Clone()
	e.appendMessage(s, models.Message{
		Content:   r.Text,
		Sender:    models.SenderAgent,
		Sentiment: r.Sentiment,
		Intent:    r.Intent,
		Response:  r.Clone(),
	}, t.now)

	switch {
	case r.RequiresEscalation:
		s.RequiresEscalation = true
		s.EscalationReason = r.EscalationReason
		return EventEscalate
	case t.expired:
		return EventContinue
	case len(r.SuggestedActions) > 0:
		return EventFollowup
	}
	return EventContinue
}

func (e *Engine) handleFollowup(ctx context.Context, t *turn) Event {
	s := t.sess
	s.Context.PendingActions = append([]string(nil), t.reply.SuggestedActions...)
	s.CurrentStep = models.StepFollowupDetected
	e.persist(ctx, s)
	return EventAwait
}

func (e *Engine) updateContext(ctx context.Context, t *turn) Event {
	s := t.sess
	s.CurrentStep = models.StepContextUpdated
	if t.expired {
		e.log.Info("session expired", "customer_id", s.CustomerID, "session_id", s.SessionID)
		return EventEnd
	}
	if e.opts.EndAfterTurn {
		return EventEnd
	}
	e.persist(ctx, s)
	return EventKeepOpen
}

func (e *Engine) escalate(ctx context.Context, t *turn) Event {
	s := t.sess
	if t.failReason != "" {
		s.RequiresEscalation = true
		s.EscalationReason = t.failReason
	}
	if s.EscalationReason == "" {
		s.EscalationReason = "escalation requested"
		s.RequiresEscalation = true
	}

	now := t.now
	s.CurrentStep = models.StepEscalated
	s.Context.EscalationStatus = string(models.EscalationStatusPending)
	s.Context.EscalatedAt = &now
	s.Metadata.EndTime = &now

	e.notify(ctx, s, now)
	e.persist(ctx, s)
	return EventDone
}

func (e *Engine) endConversation(ctx context.Context, t *turn) Event {
	s := t.sess
	now := t.now
	s.CurrentStep = models.StepEnded
	s.Metadata.EndTime = &now
	e.persist(ctx, s)
	return EventDone
}

// notify sends the escalation. Failures, including panics in the sink, are
// logged and swallowed.
func (e *Engine) notify(ctx context.Context, s *models.Session, now time.Time) {
	if e.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("escalation sink panicked", "session_id", s.SessionID, "panic", fmt.Sprint(r))
		}
	}()

	snap := s.Clone()
	esc := models.Escalation{
		CustomerID: snap.CustomerID,
		SessionID:  snap.SessionID,
		Reason:     snap.EscalationReason,
		History:    snap.History,
		Context:    snap.Context,
		Status:     models.EscalationStatusPending,
		CreatedAt:  now,
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.Timeouts.Escalate)
	defer cancel()
	if err := e.sink.Notify(cctx, esc); err != nil {
		e.log.Warn("escalation notify failed",
			"customer_id", s.CustomerID, "session_id", s.SessionID, "error", err)
	}
}

// persist saves a snapshot of the session. Failures are logged only.
func (e *Engine) persist(ctx context.Context, s *models.Session) {
	if e.store == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("conversation store panicked", "session_id", s.SessionID, "panic", fmt.Sprint(r))
		}
	}()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.Timeouts.Persist)
	defer cancel()
	if err := e.store.SaveSession(cctx, s.Clone()); err != nil {
		e.log.Warn("session save failed",
			"customer_id", s.CustomerID, "session_id", s.SessionID, "error", err)
	}
}

