package escalation

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/resendlabs/resend-go"

	"github.com/joescharf/lendchat/internal/models"
)

// sendTimeout caps a single Resend call. The client has no context API, so
// this is the bound that holds even when the caller's deadline is longer.
const sendTimeout = 10 * time.Second

// EmailSink emails escalations to an operator inbox through Resend.
type EmailSink struct {
	from string
	to   []string
	send func(*resend.SendEmailRequest) error
}

// NewEmailSink creates an EmailSink. apiKey, from and at least one
// recipient are required.
func NewEmailSink(apiKey, from string, to []string) (*EmailSink, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}
	if from == "" || len(to) == 0 {
		return nil, fmt.Errorf("escalation email needs a sender and at least one recipient")
	}
	client := resend.NewCustomClient(&http.Client{Timeout: sendTimeout}, apiKey)
	return &EmailSink{
		from: from,
		to:   to,
		send: func(req *resend.SendEmailRequest) error {
			_, err := client.Emails.Send(req)
			return err
		},
	}, nil
}

func (s *EmailSink) Notify(ctx context.Context, e models.Escalation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := &resend.SendEmailRequest{
		From:    s.from,
		To:      s.to,
		Subject: fmt.Sprintf("Escalation: %s (customer %s)", e.Reason, e.CustomerID),
		Html:    renderEscalation(e),
	}

	// Send blocks without a context; wait on ctx so the caller's deadline holds.
	done := make(chan error, 1)
	go func() { done <- s.send(req) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send escalation email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send escalation email: %w", ctx.Err())
	}
}

// renderEscalation builds the HTML body with the transcript.
func renderEscalation(e models.Escalation) string {
	var b strings.Builder
	b.WriteString("<h2>Conversation needs a human</h2>")
	fmt.Fprintf(&b, "<p><b>Customer:</b> %s<br><b>Session:</b> %s<br><b>Reason:</b> %s",
		html.EscapeString(e.CustomerID), html.EscapeString(e.SessionID), html.EscapeString(e.Reason))
	if e.Context.Intent != "" {
		fmt.Fprintf(&b, "<br><b>Intent:</b> %s", html.EscapeString(string(e.Context.Intent)))
	}
	b.WriteString("</p><h3>Transcript</h3><ul>")
	for _, m := range e.History {
		fmt.Fprintf(&b, "<li><b>%s</b> (%s): %s</li>",
			html.EscapeString(string(m.Sender)), m.Timestamp.Format("2006-01-02 15:04"), html.EscapeString(m.Content))
	}
	b.WriteString("</ul>")
	return b.String()
}
