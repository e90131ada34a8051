package workflow

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/lendchat/internal/intent"
	"github.com/joescharf/lendchat/internal/models"
	"github.com/joescharf/lendchat/internal/reply"
	"github.com/joescharf/lendchat/internal/store"
)

func newSQLiteEngine(t *testing.T) (*Engine, store.Store, *time.Time) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	now := t0
	o := DefaultOptions()
	o.Now = func() time.Time { return now }
	o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(intent.NewKeyword(), &fakeRetriever{cc: oneLoan(8000)}, reply.NewTemplate("N$"), s, nil, o)
	return e, s, &now
}

func TestClosedConversationWrittenOnce(t *testing.T) {
	e, s, now := newSQLiteEngine(t)
	ctx := context.Background()

	ended := e.ProcessMessage(ctx, "cust-1", "What is my loan balance?", nil)
	require.Equal(t, models.StepEnded, ended.NewState.CurrentStep)

	entries, err := s.ListConversationEntries(ctx, "cust-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ended.NewState.SessionID, entries[0].SessionID)
	assert.Equal(t, "What is my loan balance?", entries[0].Content)
	assert.True(t, entries[0].Resolved)

	*now = now.Add(time.Minute)
	escalated := e.ProcessMessage(ctx, "cust-1", "I want to speak to a human", nil)
	require.Equal(t, models.StepEscalated, escalated.NewState.CurrentStep)

	entries, err = s.ListConversationEntries(ctx, "cust-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, escalated.NewState.SessionID, entries[0].SessionID)
	assert.False(t, entries[0].Resolved)
}

func TestPausedFollowupWritesNoEntry(t *testing.T) {
	e, s, now := newSQLiteEngine(t)
	ctx := context.Background()

	first := e.ProcessMessage(ctx, "cust-1", "Can I apply for a loan?", nil)
	require.Equal(t, models.StepFollowupDetected, first.NewState.CurrentStep)

	entries, err := s.ListConversationEntries(ctx, "cust-1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	*now = now.Add(time.Minute)
	second := e.ProcessMessage(ctx, "cust-1", "yes", first.NewState)
	require.Equal(t, models.StepEnded, second.NewState.CurrentStep)

	entries, err = s.ListConversationEntries(ctx, "cust-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "yes", entries[0].Content)
}
