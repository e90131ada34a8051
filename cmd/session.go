package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/lendchat/internal/models"
	"github.com/joescharf/lendchat/internal/output"
	"github.com/joescharf/lendchat/internal/store"
)

var (
	sessionCustomer string
	sessionStep     string
	sessionLimit    int
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"sessions"},
	Short:   "Inspect conversation sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun()
	},
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionShowRun(args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{sessionCmd, sessionListCmd} {
		c.Flags().StringVar(&sessionCustomer, "customer", "", "Filter by customer ID")
		c.Flags().StringVar(&sessionStep, "step", "", "Filter by current step (e.g. escalated)")
		c.Flags().IntVar(&sessionLimit, "limit", 20, "Maximum sessions to list")
	}
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	rootCmd.AddCommand(sessionCmd)
}

func sessionListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sessions, err := s.ListSessions(context.Background(), store.SessionListFilter{
		CustomerID: sessionCustomer,
		Step:       models.Step(sessionStep),
		Limit:      sessionLimit,
	})
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		ui.Info("No sessions. Use 'lendchat chat <customer-id>' to start one.")
		return nil
	}

	table := ui.Table([]string{"Session", "Customer", "Step", "Segment", "Turns", "Last Activity"})
	for _, sess := range sessions {
		_ = table.Append([]string{
			output.Cyan(sess.SessionID),
			sess.CustomerID,
			output.StepColor(string(sess.CurrentStep)),
			output.SegmentColor(string(sess.CustomerSegment)),
			fmt.Sprint(sess.Context.TurnCount),
			sess.Metadata.LastActivity.Local().Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

func sessionShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sess, err := s.LoadSession(context.Background(), id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(sess.SessionID), output.StepColor(string(sess.CurrentStep)))
	fmt.Fprintf(ui.Out, "  Customer:  %s (%s)\n", sess.CustomerID, output.SegmentColor(string(sess.CustomerSegment)))
	fmt.Fprintf(ui.Out, "  Intent:    %s\n", sess.Context.Intent)
	fmt.Fprintf(ui.Out, "  Started:   %s\n", sess.Metadata.StartTime.Local().Format("2006-01-02 15:04:05"))
	if sess.Metadata.EndTime != nil {
		fmt.Fprintf(ui.Out, "  Ended:     %s\n", sess.Metadata.EndTime.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(ui.Out, "  Turns:     %d  Steps: %d\n", sess.Context.TurnCount, sess.Metadata.StepCount)
	if sess.RequiresEscalation {
		fmt.Fprintf(ui.Out, "  Escalated: %s\n", output.Red(sess.EscalationReason))
	}
	if len(sess.Context.PendingActions) > 0 && sess.CurrentStep == models.StepFollowupDetected {
		fmt.Fprintf(ui.Out, "  Pending:   %v\n", sess.Context.PendingActions)
	}

	fmt.Fprintln(ui.Out)
	for _, m := range sess.History {
		who := output.Cyan("customer")
		if m.Sender == models.SenderAgent {
			who = output.Green("agent   ")
		}
		sentiment := ""
		if m.Sentiment != "" && m.Sentiment != models.SentimentNeutral {
			sentiment = " [" + output.SentimentColor(string(m.Sentiment)) + "]"
		}
		fmt.Fprintf(ui.Out, "  %s %s%s  %s\n", m.Timestamp.Local().Format("15:04:05"), who, sentiment, m.Content)
	}
	return nil
}
