package escalation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/resendlabs/resend-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/lendchat/internal/models"
)

func testEscalation() models.Escalation {
	return models.Escalation{
		CustomerID: "264811234567",
		SessionID:  "s1",
		Reason:     "customer requested a human agent",
		History: []models.Message{
			{ID: "m1", Content: "<b>get me a person</b>", Sender: models.SenderCustomer, Timestamp: time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)},
		},
		Context: models.SessionContext{Intent: models.IntentHumanRequest},
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, s.Notify(context.Background(), testEscalation()))
	out := buf.String()
	assert.Contains(t, out, "conversation escalated")
	assert.Contains(t, out, "session_id=s1")
	assert.Contains(t, out, "intent=human_request")
}

type fakeRecorder struct {
	got []*models.Escalation
	err error
}

func (f *fakeRecorder) CreateEscalation(_ context.Context, e *models.Escalation) error {
	f.got = append(f.got, e)
	return f.err
}

func TestStoreSink(t *testing.T) {
	rec := &fakeRecorder{}
	require.NoError(t, NewStoreSink(rec).Notify(context.Background(), testEscalation()))
	require.Len(t, rec.got, 1)
	assert.Equal(t, "s1", rec.got[0].SessionID)

	rec.err = errors.New("disk full")
	err := NewStoreSink(rec).Notify(context.Background(), testEscalation())
	assert.ErrorContains(t, err, "disk full")
}

type countingSink struct {
	calls int
	err   error
}

func (c *countingSink) Notify(context.Context, models.Escalation) error {
	c.calls++
	return c.err
}

func TestMulti_TriesEverySink(t *testing.T) {
	a := &countingSink{err: errors.New("a failed")}
	b := &countingSink{}
	c := &countingSink{err: errors.New("c failed")}

	err := Multi(a, nil, b, c).Notify(context.Background(), testEscalation())
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, c.calls)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "c failed")

	assert.NoError(t, Multi(b).Notify(context.Background(), testEscalation()))
}

func TestNewEmailSink_Validation(t *testing.T) {
	_, err := NewEmailSink("", "ops@example.com", []string{"team@example.com"})
	assert.Error(t, err)

	_, err = NewEmailSink("re_test", "", []string{"team@example.com"})
	assert.Error(t, err)

	_, err = NewEmailSink("re_test", "ops@example.com", nil)
	assert.Error(t, err)

	s, err := NewEmailSink("re_test", "ops@example.com", []string{"team@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, s.send)
}

func TestEmailSink_Notify(t *testing.T) {
	var sent *resend.SendEmailRequest
	s := &EmailSink{
		from: "ops@example.com",
		to:   []string{"team@example.com"},
		send: func(req *resend.SendEmailRequest) error {
			sent = req
			return nil
		},
	}

	require.NoError(t, s.Notify(context.Background(), testEscalation()))
	require.NotNil(t, sent)
	assert.Equal(t, "ops@example.com", sent.From)
	assert.Equal(t, []string{"team@example.com"}, sent.To)
	assert.Contains(t, sent.Subject, "customer requested a human agent")
	assert.Contains(t, sent.Html, "&lt;b&gt;get me a person&lt;/b&gt;")
	assert.Contains(t, sent.Html, "2025-01-02 09:30")

	s.send = func(*resend.SendEmailRequest) error { return errors.New("rate limited") }
	assert.ErrorContains(t, s.Notify(context.Background(), testEscalation()), "rate limited")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Notify(ctx, testEscalation()), context.Canceled)
}

func TestEmailSink_NotifyHonorsDeadline(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s := &EmailSink{
		from: "ops@example.com",
		to:   []string{"team@example.com"},
		send: func(*resend.SendEmailRequest) error {
			<-release
			return nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Notify(ctx, testEscalation())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
