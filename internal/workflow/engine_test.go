package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/lendchat/internal/intent"
	"github.com/joescharf/lendchat/internal/models"
	"github.com/joescharf/lendchat/internal/reply"
	"github.com/joescharf/lendchat/internal/retrieval"
)

// --- fakes ---

type fakeRetriever struct {
	cc  *models.CustomerContext
	err error
}

func (f *fakeRetriever) Retrieve(_ context.Context, customerID, _ string) (*models.CustomerContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	cc := f.cc.Clone()
	if cc == nil {
		cc = &models.CustomerContext{}
	}
	cc.CustomerID = customerID
	return cc, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved []*models.Session
	err   error
}

func (f *fakeStore) LoadSession(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.saved) - 1; i >= 0; i-- {
		if f.saved[i].SessionID == id {
			return f.saved[i].Clone(), nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeStore) SaveSession(_ context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, s.Clone())
	return f.err
}

func (f *fakeStore) last() *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return nil
	}
	return f.saved[len(f.saved)-1]
}

type fakeSink struct {
	mu   sync.Mutex
	got  []models.Escalation
	err  error
	boom bool
}

func (f *fakeSink) Notify(_ context.Context, e models.Escalation) error {
	if f.boom {
		panic("sink exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, e)
	return f.err
}

type errClassifier struct{ err error }

func (c errClassifier) Classify(context.Context, string) (models.Intent, error) {
	return "", c.err
}

type panicClassifier struct{}

func (panicClassifier) Classify(context.Context, string) (models.Intent, error) {
	panic("classifier bug")
}

type errGenerator struct{}

func (errGenerator) Generate(_ context.Context, in reply.Input) (*models.Reply, error) {
	return reply.Fallback(in), errors.New("model overloaded")
}

type escalatingGenerator struct{ reason string }

func (g escalatingGenerator) Generate(_ context.Context, in reply.Input) (*models.Reply, error) {
	return &models.Reply{
		Text:               "Let me find someone for you.",
		Intent:             in.Intent,
		RequiresEscalation: true,
		EscalationReason:   g.reason,
		SuggestedActions:   []string{"Start application"},
	}, nil
}

// --- harness ---

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	engine    *Engine
	retriever *fakeRetriever
	store     *fakeStore
	sink      *fakeSink
	now       time.Time

	violations      []error
	allowViolations bool
}

type harnessOpt func(*harness, *Options, *deps)

type deps struct {
	classifier intent.Classifier
	generator  reply.Generator
}

func withClassifier(c intent.Classifier) harnessOpt {
	return func(_ *harness, _ *Options, d *deps) { d.classifier = c }
}

func withGenerator(g reply.Generator) harnessOpt {
	return func(_ *harness, _ *Options, d *deps) { d.generator = g }
}

func withOptions(f func(*Options)) harnessOpt {
	return func(_ *harness, o *Options, _ *deps) { f(o) }
}

func newHarness(t *testing.T, cc *models.CustomerContext, opts ...harnessOpt) *harness {
	t.Helper()
	h := &harness{
		retriever: &fakeRetriever{cc: cc},
		store:     &fakeStore{},
		sink:      &fakeSink{},
		now:       t0,
	}
	o := DefaultOptions()
	o.Now = func() time.Time { return h.now }
	o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	o.OnViolation = func(err error) { h.violations = append(h.violations, err) }
	t.Cleanup(func() {
		if !h.allowViolations {
			for _, err := range h.violations {
				t.Errorf("contract violation: %v", err)
			}
		}
	})
	d := &deps{classifier: intent.NewKeyword(), generator: reply.NewTemplate("N$")}
	for _, opt := range opts {
		opt(h, &o, d)
	}
	h.engine = New(d.classifier, h.retriever, d.generator, h.store, h.sink, o)
	return h
}

func (h *harness) process(text string, existing *models.Session) Result {
	return h.engine.ProcessMessage(context.Background(), "cust-1", text, existing)
}

func oneLoan(amount float64) *models.CustomerContext {
	return &models.CustomerContext{
		LoanHistory: []models.Loan{{ID: "l1", Amount: amount, Status: "active", DueDate: t0.AddDate(0, 6, 0)}},
	}
}

// --- end-to-end scenarios ---

func TestScenarioA_LoanBalance(t *testing.T) {
	h := newHarness(t, oneLoan(8000))

	res := h.process("What is my loan balance?", nil)

	s := res.NewState
	require.NotNil(t, s)
	assert.False(t, res.RequiresEscalation)
	assert.Empty(t, res.EscalationReason)
	assert.Equal(t, models.SegmentStandard, s.CustomerSegment)
	assert.Equal(t, models.IntentLoanStatus, s.Context.Intent)
	assert.Contains(t, res.ReplyText, "N$8,000.00")
	assert.Equal(t, models.StepEnded, s.CurrentStep)
	require.NotNil(t, s.Metadata.EndTime)
	assert.Equal(t, 5, s.Metadata.StepCount)

	require.Len(t, s.History, 2)
	assert.Equal(t, models.SenderCustomer, s.History[0].Sender)
	assert.Equal(t, models.SenderAgent, s.History[1].Sender)
	assert.Equal(t, res.ReplyText, s.History[1].Content)
	require.NotNil(t, s.History[1].Response)

	saved := h.store.last()
	require.NotNil(t, saved)
	assert.Equal(t, models.StepEnded, saved.CurrentStep)
	assert.Empty(t, h.sink.got)
}

func TestScenarioB_EmptyMessageNoLoans(t *testing.T) {
	h := newHarness(t, &models.CustomerContext{})

	res := h.process("", nil)

	s := res.NewState
	assert.False(t, res.RequiresEscalation)
	assert.Equal(t, models.IntentGeneralInquiry, s.Context.Intent)
	assert.Equal(t, models.SegmentBasic, s.CustomerSegment)
	assert.NotEmpty(t, res.ReplyText)
	assert.NotEqual(t, reply.FallbackText, res.ReplyText)
	assert.Equal(t, models.StepEnded, s.CurrentStep)
}

func TestScenarioC_StoreUnreachable(t *testing.T) {
	h := newHarness(t, nil)
	h.retriever.err = errors.Join(retrieval.ErrStoreUnavailable, errors.New("dial tcp: connection refused"))

	res := h.process("What is my loan balance?", nil)

	assert.True(t, res.RequiresEscalation)
	assert.Contains(t, res.EscalationReason, "context retrieval failed")
	assert.Equal(t, reply.FallbackText, res.ReplyText)

	s := res.NewState
	require.Len(t, s.History, 1)
	assert.Equal(t, "What is my loan balance?", s.History[0].Content)
	assert.Equal(t, models.StepEscalated, s.CurrentStep)
	assert.Equal(t, "pending", s.Context.EscalationStatus)
	require.NotNil(t, s.Context.EscalatedAt)

	require.Len(t, h.sink.got, 1)
	assert.Equal(t, "cust-1", h.sink.got[0].CustomerID)
	assert.Equal(t, s.SessionID, h.sink.got[0].SessionID)
	assert.Contains(t, h.sink.got[0].Reason, "context retrieval failed")
	assert.Len(t, h.sink.got[0].History, 1)
}

func TestScenarioD_TerminalSessionStartsFresh(t *testing.T) {
	h := newHarness(t, oneLoan(8000))
	h.allowViolations = true
	first := h.process("What is my loan balance?", nil).NewState
	require.Equal(t, models.StepEnded, first.CurrentStep)
	require.Empty(t, h.violations)
	endTime := *first.Metadata.EndTime
	historyLen := len(first.History)

	h.now = t0.Add(2 * time.Minute)
	res := h.process("And my next payment?", first)

	assert.NotEqual(t, first.SessionID, res.NewState.SessionID)
	assert.Len(t, res.NewState.History, 1+1)
	assert.Equal(t, endTime, *first.Metadata.EndTime)
	assert.Len(t, first.History, historyLen)
	assert.Equal(t, models.StepEnded, first.CurrentStep)
	require.Len(t, h.violations, 1)
	assert.ErrorIs(t, h.violations[0], ErrTerminalSession)
}

// --- properties ---

func TestGeneratorEscalation_EndsEscalated(t *testing.T) {
	h := newHarness(t, oneLoan(8000))

	res := h.process("I want to talk to someone", nil)

	assert.True(t, res.RequiresEscalation)
	assert.Equal(t, reply.ReasonHumanRequested, res.EscalationReason)
	assert.Equal(t, models.StepEscalated, res.NewState.CurrentStep)
	assert.NotEmpty(t, res.NewState.EscalationReason)
	require.Len(t, h.sink.got, 1)
	assert.Equal(t, models.IntentHumanRequest, h.sink.got[0].Context.Intent)
	assert.Len(t, res.NewState.History, 2)
}

func TestEscalationWinsOverSuggestedActions(t *testing.T) {
	h := newHarness(t, nil, withGenerator(escalatingGenerator{reason: "needs review"}))

	res := h.process("hello", nil)
	assert.Equal(t, models.StepEscalated, res.NewState.CurrentStep)
	assert.Equal(t, "needs review", res.EscalationReason)
	assert.Empty(t, res.NewState.Context.PendingActions)
}

func TestExpiredSessionEnds(t *testing.T) {
	tests := []struct {
		name  string
		start time.Duration
		idle  time.Duration
	}{
		{"over max duration", -31 * time.Minute, -1 * time.Minute},
		{"over max idle", -15 * time.Minute, -11 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, withOptions(func(o *Options) { o.EndAfterTurn = false }))
			existing := &models.Session{
				CustomerID:  "cust-1",
				SessionID:   "s-old",
				CurrentStep: models.StepFollowupDetected,
				History: []models.Message{
					{ID: "m1", Content: "Can I apply for a loan?", Sender: models.SenderCustomer, Timestamp: t0.Add(tt.idle)},
				},
				Context:  models.SessionContext{PendingActions: []string{"Start application"}, Intent: models.IntentLoanApplication},
				Language: "en",
				Metadata: models.SessionMetadata{
					StartTime:    t0.Add(tt.start),
					LastActivity: t0.Add(tt.idle),
					SessionID:    "s-old",
				},
			}

			// The reply suggests actions, but the session still ends.
			res := h.process("Can I apply for a loan?", existing)
			assert.Equal(t, "s-old", res.NewState.SessionID)
			assert.Equal(t, models.StepEnded, res.NewState.CurrentStep)
			assert.False(t, res.RequiresEscalation)
			agent, ok := res.NewState.LastAgentMessage()
			require.True(t, ok)
			assert.NotEmpty(t, agent.Content)
		})
	}
}

func TestFollowupFlow(t *testing.T) {
	h := newHarness(t, &models.CustomerContext{})

	first := h.process("Can I apply for a loan?", nil)
	s := first.NewState
	assert.Equal(t, models.StepFollowupDetected, s.CurrentStep)
	assert.Equal(t, []string{"Start application", "Check eligibility"}, s.Context.PendingActions)
	assert.Equal(t, 4, s.Metadata.StepCount)
	assert.False(t, first.RequiresEscalation)
	require.NotNil(t, h.store.last())
	assert.Equal(t, models.StepFollowupDetected, h.store.last().CurrentStep)

	h.now = t0.Add(time.Minute)
	second := h.process("yes", s)
	s2 := second.NewState
	assert.Equal(t, s.SessionID, s2.SessionID)
	require.NotNil(t, s2.Context.Followup)
	assert.True(t, s2.Context.Followup.IsFollowup)
	assert.Equal(t, "Start application", s2.Context.Followup.Action)
	assert.Equal(t, models.IntentLoanApplication, s2.Context.Intent)
	assert.Contains(t, second.ReplyText, "Got it: Start application.")
	assert.Len(t, s2.History, 4)
	assert.Equal(t, 2, s2.Context.TurnCount)
	assert.Equal(t, 8, s2.Metadata.StepCount)

	h.now = t0.Add(2 * time.Minute)
	third := h.process("Check eligibility please", s2)
	assert.Equal(t, "Check eligibility", third.NewState.Context.Followup.Action)

	// The caller's session is untouched.
	assert.Len(t, s.History, 2)
	assert.Equal(t, models.StepFollowupDetected, s.CurrentStep)
}

func TestFollowupNotAnswered(t *testing.T) {
	h := newHarness(t, oneLoan(8000))
	s := h.process("Can I apply for a loan?", nil).NewState

	h.now = t0.Add(time.Minute)
	res := h.process("What is my balance", s)
	require.NotNil(t, res.NewState.Context.Followup)
	assert.False(t, res.NewState.Context.Followup.IsFollowup)
	assert.Equal(t, models.IntentLoanStatus, res.NewState.Context.Intent)
	assert.Equal(t, models.StepEnded, res.NewState.CurrentStep)
}

func TestKeepSessionOpen(t *testing.T) {
	h := newHarness(t, oneLoan(8000), withOptions(func(o *Options) { o.EndAfterTurn = false }))

	first := h.process("What is my loan balance?", nil)
	assert.Equal(t, models.StepContextUpdated, first.NewState.CurrentStep)
	assert.Nil(t, first.NewState.Metadata.EndTime)
	require.NotNil(t, h.store.last())
	assert.Equal(t, models.StepContextUpdated, h.store.last().CurrentStep)

	h.now = t0.Add(5 * time.Minute)
	second := h.process("When is my next payment?", first.NewState)
	assert.Equal(t, first.NewState.SessionID, second.NewState.SessionID)
	assert.Equal(t, models.StepContextUpdated, second.NewState.CurrentStep)
	assert.Len(t, second.NewState.History, 4)
}

func TestIntentFailurePolicy(t *testing.T) {
	t.Run("escalate", func(t *testing.T) {
		h := newHarness(t, oneLoan(8000), withClassifier(errClassifier{err: errors.New("timeout")}))

		res := h.process("balance", nil)
		assert.True(t, res.RequiresEscalation)
		assert.Equal(t, ReasonIntentFailed, res.EscalationReason)
		assert.Equal(t, models.StepEscalated, res.NewState.CurrentStep)
		assert.Len(t, res.NewState.History, 1)
		assert.Equal(t, 2, res.NewState.Metadata.StepCount)
		require.Len(t, h.sink.got, 1)
	})

	t.Run("proceed", func(t *testing.T) {
		h := newHarness(t, oneLoan(8000),
			withClassifier(errClassifier{err: errors.New("timeout")}),
			withOptions(func(o *Options) { o.IntentFailure = IntentFailureProceed }))

		res := h.process("balance", nil)
		assert.False(t, res.RequiresEscalation)
		assert.Equal(t, models.IntentGeneralInquiry, res.NewState.Context.Intent)
		assert.Equal(t, models.StepEnded, res.NewState.CurrentStep)
	})
}

func TestGenerationFailure(t *testing.T) {
	h := newHarness(t, oneLoan(8000), withGenerator(errGenerator{}))

	res := h.process("What is my loan balance?", nil)
	assert.True(t, res.RequiresEscalation)
	assert.Equal(t, reply.ReasonGenerationFailed, res.EscalationReason)
	assert.Equal(t, reply.FallbackText, res.ReplyText)
	assert.Equal(t, models.StepEscalated, res.NewState.CurrentStep)
	require.Len(t, res.NewState.History, 2)
	assert.Equal(t, reply.FallbackText, res.NewState.History[1].Content)
}

func TestPanicReturnsFallback(t *testing.T) {
	h := newHarness(t, nil, withClassifier(panicClassifier{}))
	existing := &models.Session{
		CustomerID:  "cust-1",
		SessionID:   "s1",
		CurrentStep: models.StepFollowupDetected,
		History: []models.Message{
			{ID: "m1", Content: "hi", Sender: models.SenderCustomer, Timestamp: t0.Add(-time.Minute)},
			{ID: "m2", Content: "hello", Sender: models.SenderAgent, Timestamp: t0.Add(-time.Minute)},
		},
		Metadata: models.SessionMetadata{StartTime: t0.Add(-time.Minute), LastActivity: t0.Add(-time.Minute), SessionID: "s1"},
	}

	var res Result
	require.NotPanics(t, func() { res = h.process("apply", existing) })

	assert.Equal(t, reply.FallbackText, res.ReplyText)
	assert.True(t, res.RequiresEscalation)
	assert.Equal(t, ReasonWorkflowFailure, res.EscalationReason)
	require.NotNil(t, res.NewState)
	assert.Equal(t, "s1", res.NewState.SessionID)
	assert.Len(t, res.NewState.History, 3)
	assert.Equal(t, models.StepEscalated, res.NewState.CurrentStep)

	assert.Len(t, existing.History, 2)
	assert.Equal(t, models.StepFollowupDetected, existing.CurrentStep)
	assert.Len(t, h.sink.got, 1)
}

func TestCollaboratorFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t, oneLoan(8000))
	h.store.err = errors.New("database is locked")
	h.sink.boom = true

	res := h.process("What is my loan balance?", nil)
	assert.Contains(t, res.ReplyText, "N$8,000.00")
	assert.Equal(t, models.StepEnded, res.NewState.CurrentStep)

	res = h.process("get me a human", nil)
	assert.True(t, res.RequiresEscalation)
	assert.Equal(t, models.StepEscalated, res.NewState.CurrentStep)
}

func TestNilCollaboratorsAllowed(t *testing.T) {
	o := DefaultOptions()
	o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(intent.NewKeyword(), &fakeRetriever{cc: oneLoan(8000)}, reply.NewTemplate("N$"), nil, nil, o)

	res := e.ProcessMessage(context.Background(), "c", "talk to a human", nil)
	assert.True(t, res.RequiresEscalation)
}

func TestHistoryAlwaysGrows(t *testing.T) {
	inputs := []string{"", "hi", "What is my loan balance?", "I can't pay", "this is terrible", "get me a person"}
	h := newHarness(t, oneLoan(8000), withOptions(func(o *Options) { o.EndAfterTurn = false }))

	var s *models.Session
	for i, in := range inputs {
		h.now = t0.Add(time.Duration(i) * time.Second)
		before := 0
		if s != nil && !s.Terminal() {
			before = len(s.History)
		}
		res := h.process(in, s)
		require.NotNil(t, res.NewState)
		assert.GreaterOrEqual(t, len(res.NewState.History), before+1, "input %q", in)
		s = res.NewState
	}
}

func TestTimestampsMonotonic(t *testing.T) {
	h := newHarness(t, &models.CustomerContext{})

	// The clock never moves, yet every message is strictly later.
	s := h.process("Can I apply for a loan?", nil).NewState
	s = h.process("yes", s).NewState
	for i := 1; i < len(s.History); i++ {
		assert.True(t, s.History[i].Timestamp.After(s.History[i-1].Timestamp), "message %d", i)
	}
	ids := map[string]bool{}
	for _, m := range s.History {
		assert.False(t, ids[m.ID])
		ids[m.ID] = true
	}
}

func TestSessionForAnotherCustomerStartsFresh(t *testing.T) {
	h := newHarness(t, nil)
	h.allowViolations = true
	other := &models.Session{CustomerID: "someone-else", SessionID: "x", CurrentStep: models.StepFollowupDetected}

	res := h.process("hi", other)
	assert.NotEqual(t, "x", res.NewState.SessionID)
	assert.Equal(t, "cust-1", res.NewState.CustomerID)
	require.Len(t, h.violations, 1)
	assert.ErrorIs(t, h.violations[0], ErrForeignSession)
}

func TestPausedSessionResumeIsNotAViolation(t *testing.T) {
	h := newHarness(t, &models.CustomerContext{})
	first := h.process("Can I apply for a loan?", nil).NewState
	require.Equal(t, models.StepFollowupDetected, first.CurrentStep)

	res := h.process("yes", first)
	assert.Equal(t, first.SessionID, res.NewState.SessionID)
	assert.Empty(t, h.violations)
}

func TestNewSessionDefaults(t *testing.T) {
	h := newHarness(t, nil, withOptions(func(o *Options) { o.Language = "af" }))

	res := h.process("hi", nil)
	s := res.NewState
	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, s.SessionID, s.Metadata.SessionID)
	assert.Equal(t, "af", s.Language)
	assert.Equal(t, t0, s.Metadata.StartTime)
	assert.Equal(t, t0, s.Metadata.LastActivity)
	assert.Equal(t, 1, s.Context.TurnCount)
}

