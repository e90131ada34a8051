// Package workflow runs one customer turn through the conversation graph:
// classify, retrieve, generate, then escalate, pause for a follow-up, or
// update and end.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/lendchat/internal/intent"
	"github.com/joescharf/lendchat/internal/models"
	"github.com/joescharf/lendchat/internal/reply"
)

// Contract violations reported through Options.OnViolation.
var (
	ErrTerminalSession = errors.New("session is terminal")
	ErrForeignSession  = errors.New("session belongs to another customer")
)

// Escalation reasons for failures detected by the engine itself.
const (
	ReasonIntentFailed    = "intent analysis failed"
	ReasonContextFailed   = "context retrieval failed"
	ReasonWorkflowFailure = "workflow processing error"
)

// ConversationStore persists session state between turns.
type ConversationStore interface {
	LoadSession(ctx context.Context, sessionID string) (*models.Session, error)
	SaveSession(ctx context.Context, s *models.Session) error
}

// EscalationSink is told when a human must take over.
type EscalationSink interface {
	Notify(ctx context.Context, e models.Escalation) error
}

// ContextRetriever assembles the customer snapshot for a turn.
type ContextRetriever interface {
	Retrieve(ctx context.Context, customerID, message string) (*models.CustomerContext, error)
}

// IntentFailurePolicy decides what a classifier error does to the turn.
type IntentFailurePolicy string

const (
	// IntentFailureEscalate hands the conversation to a human.
	IntentFailureEscalate IntentFailurePolicy = "escalate"
	// IntentFailureProceed continues with general_inquiry.
	IntentFailureProceed IntentFailurePolicy = "proceed"
)

// Timeouts bound each external call made during a turn.
type Timeouts struct {
	Classify time.Duration
	Retrieve time.Duration
	Generate time.Duration
	Persist  time.Duration
	Escalate time.Duration
}

// Options tune the engine. Zero values are replaced by DefaultOptions.
type Options struct {
	Language string

	// EndAfterTurn ends the session after every turn that neither escalates
	// nor waits on a follow-up. This matches the observed legacy behavior and
	// is probably a bug; set it to false to keep sessions open until they
	// expire.
	EndAfterTurn bool

	MaxSessionDuration time.Duration
	MaxIdle            time.Duration
	IntentFailure      IntentFailurePolicy
	Timeouts           Timeouts

	// OnViolation, when set, is called for caller contract violations such
	// as passing a terminal session. Tests and development builds use it to
	// fail loudly; the turn itself still starts a fresh session.
	OnViolation func(error)

	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Language:           "en",
		EndAfterTurn:       true,
		MaxSessionDuration: 30 * time.Minute,
		MaxIdle:            10 * time.Minute,
		IntentFailure:      IntentFailureEscalate,
		Timeouts: Timeouts{
			Classify: 5 * time.Second,
			Retrieve: 8 * time.Second,
			Generate: 10 * time.Second,
			Persist:  5 * time.Second,
			Escalate: 5 * time.Second,
		},
		Now:    time.Now,
		Logger: slog.Default(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Language == "" {
		o.Language = d.Language
	}
	if o.MaxSessionDuration <= 0 {
		o.MaxSessionDuration = d.MaxSessionDuration
	}
	if o.MaxIdle <= 0 {
		o.MaxIdle = d.MaxIdle
	}
	if o.IntentFailure == "" {
		o.IntentFailure = d.IntentFailure
	}
	if o.Timeouts.Classify <= 0 {
		o.Timeouts.Classify = d.Timeouts.Classify
	}
	if o.Timeouts.Retrieve <= 0 {
		o.Timeouts.Retrieve = d.Timeouts.Retrieve
	}
	if o.Timeouts.Generate <= 0 {
		o.Timeouts.Generate = d.Timeouts.Generate
	}
	if o.Timeouts.Persist <= 0 {
		o.Timeouts.Persist = d.Timeouts.Persist
	}
	if o.Timeouts.Escalate <= 0 {
		o.Timeouts.Escalate = d.Timeouts.Escalate
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}

// Result is what a turn hands back to the caller.
type Result struct {
	ReplyText          string          `json:"replyText"`
	NewState           *models.Session `json:"newState"`
	RequiresEscalation bool            `json:"requiresEscalation"`
	EscalationReason   string          `json:"escalationReason,omitempty"`
}

// Engine wires the classifier, retriever, and generator into the graph.
type Engine struct {
	classifier intent.Classifier
	retriever  ContextRetriever
	generator  reply.Generator
	store      ConversationStore
	sink       EscalationSink
	opts       Options
	log        *slog.Logger
}

// New creates an Engine. store and sink may be nil, in which case
// persistence and escalation notices are skipped.
func New(classifier intent.Classifier, retriever ContextRetriever, generator reply.Generator,
	store ConversationStore, sink EscalationSink, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		classifier: classifier,
		retriever:  retriever,
		generator:  generator,
		store:      store,
		sink:       sink,
		opts:       opts,
		log:        opts.Logger,
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// turn carries the working state of one ProcessMessage call.
type turn struct {
	sess       *models.Session
	msg        models.Message
	now        time.Time
	expired    bool
	reply      *models.Reply
	failReason string
}

// ProcessMessage runs one customer turn. It never panics and never returns
// an error: failures become escalations, and anything unexpected produces
// the fallback reply. existing is never modified.
func (e *Engine) ProcessMessage(ctx context.Context, customerID, text string, existing *models.Session) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("workflow panic", "customer_id", customerID, "panic", fmt.Sprint(r))
			res = e.fallback(ctx, customerID, text, existing)
		}
	}()

	now := e.opts.Now()
	t := &turn{now: now}
	t.sess = e.prepare(customerID, existing, now)
	t.expired = e.expired(t.sess, now)
	t.msg = e.appendMessage(t.sess, models.Message{
		Content:   text,
		Sender:    models.SenderCustomer,
		Sentiment: reply.Sentiment(text),
	}, now)
	t.sess.Metadata.LastActivity = now
	t.sess.Context.TurnCount++

	if err := e.run(ctx, t); err != nil {
		e.log.Error("workflow aborted", "customer_id", customerID, "session_id", t.sess.SessionID, "error", err)
		return e.fallback(ctx, customerID, text, existing)
	}
	return e.result(t)
}

// run walks the graph from start until an await edge or the end node.
func (e *Engine) run(ctx context.Context, t *turn) error {
	node := NodeStart
	for {
		ev := e.exec(ctx, node, t)
		next, await, err := Transition(node, ev)
		if err != nil {
			return err
		}
		e.log.Debug("workflow transition", "session_id", t.sess.SessionID, "from", node, "event", ev, "to", next)
		if await || next == NodeEnd {
			return nil
		}
		node = next
	}
}

func (e *Engine) exec(ctx context.Context, node Node, t *turn) Event {
	if node == NodeStart {
		return EventMessage
	}
	t.sess.Metadata.StepCount++

	switch node {
	case NodeAnalyzeIntent:
		return e.analyzeIntent(ctx, t)
	case NodeRetrieveContext:
		return e.retrieveContext(ctx, t)
	case NodeGenerateResponse:
		return e.generateResponse(ctx, t)
	case NodeHandleFollowup:
		return e.handleFollowup(ctx, t)
	case NodeUpdateContext:
		return e.updateContext(ctx, t)
	case NodeEscalate:
		return e.escalate(ctx, t)
	case NodeEndConversation:
		return e.endConversation(ctx, t)
	}
	panic(fmt.Sprintf("unknown node %q", node))
}

// prepare returns the session this turn mutates: a deep copy of existing
// when it can continue, otherwise a new one.
func (e *Engine) prepare(customerID string, existing *models.Session, now time.Time) *models.Session {
	if existing != nil {
		switch {
		case existing.Terminal():
			e.log.Warn("terminal session passed in, starting a new one",
				"customer_id", customerID, "session_id", existing.SessionID, "step", existing.CurrentStep)
			e.violation(fmt.Errorf("%w: %s is %s", ErrTerminalSession, existing.SessionID, existing.CurrentStep))
		case existing.CustomerID != customerID:
			e.log.Warn("session belongs to another customer, starting a new one",
				"customer_id", customerID, "session_customer_id", existing.CustomerID)
			e.violation(fmt.Errorf("%w: %s belongs to %s", ErrForeignSession, existing.SessionID, existing.CustomerID))
		default:
			return existing.Clone()
		}
	}
	return e.newSession(customerID, now)
}

func (e *Engine) violation(err error) {
	if e.opts.OnViolation != nil {
		e.opts.OnViolation(err)
	}
}

func (e *Engine) newSession(customerID string, now time.Time) *models.Session {
	id := ulid.Make().String()
	return &models.Session{
		CustomerID:      customerID,
		SessionID:       id,
		CurrentStep:     models.StepStart,
		History:         []models.Message{},
		CustomerSegment: models.SegmentBasic,
		Language:        e.opts.Language,
		Metadata: models.SessionMetadata{
			StartTime:    now,
			LastActivity: now,
			SessionID:    id,
		},
	}
}

// expired checks the session limits against the state before this turn.
func (e *Engine) expired(s *models.Session, now time.Time) bool {
	if s.Metadata.StartTime.IsZero() {
		return false
	}
	if now.Sub(s.Metadata.StartTime) > e.opts.MaxSessionDuration {
		return true
	}
	return !s.Metadata.LastActivity.IsZero() && now.Sub(s.Metadata.LastActivity) > e.opts.MaxIdle
}

// appendMessage stamps m with an ID and a timestamp strictly after the
// previous message, then appends it.
func (e *Engine) appendMessage(s *models.Session, m models.Message, now time.Time) models.Message {
	ts := now
	if n := len(s.History); n > 0 && !ts.After(s.History[n-1].Timestamp) {
		ts = s.History[n-1].Timestamp.Add(time.Microsecond)
	}
	m.ID = ulid.Make().String()
	m.Timestamp = ts
	s.History = append(s.History, m)
	return m
}

func (e *Engine) result(t *turn) Result {
	text := reply.FallbackText
	if t.reply != nil && t.reply.Text != "" {
		text = t.reply.Text
	}
	return Result{
		ReplyText:          text,
		NewState:           t.sess,
		RequiresEscalation: t.sess.RequiresEscalation,
		EscalationReason:   t.sess.EscalationReason,
	}
}

// fallback builds the result for a turn that could not finish. The
// customer message is still recorded and the session is marked escalated.
func (e *Engine) fallback(ctx context.Context, customerID, text string, existing *models.Session) Result {
	now := e.safeNow()

	var sess *models.Session
	if existing != nil && !existing.Terminal() && existing.CustomerID == customerID {
		sess = existing.Clone()
	} else {
		sess = e.newSession(customerID, now)
	}

	e.appendMessage(sess, models.Message{
		Content:   text,
		Sender:    models.SenderCustomer,
		Sentiment: reply.Sentiment(text),
	}, now)
	sess.Metadata.LastActivity = now
	sess.RequiresEscalation = true
	sess.EscalationReason = ReasonWorkflowFailure
	sess.CurrentStep = models.StepEscalated
	sess.Context.EscalationStatus = string(models.EscalationStatusPending)
	sess.Context.EscalatedAt = &now
	sess.Metadata.EndTime = &now

	e.notify(ctx, sess, now)
	e.persist(ctx, sess)

	return Result{
		ReplyText:          reply.FallbackText,
		NewState:           sess,
		RequiresEscalation: true,
		EscalationReason:   ReasonWorkflowFailure,
	}
}

// safeNow reads the injected clock, falling back to the wall clock if it panics.
func (e *Engine) safeNow() (now time.Time) {
	defer func() {
		if recover() != nil {
			now = time.Now()
		}
	}()
	return e.opts.Now()
}
