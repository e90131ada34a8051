package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/lendchat/internal/models"
	"github.com/joescharf/lendchat/internal/output"
	"github.com/joescharf/lendchat/internal/store"
	"github.com/joescharf/lendchat/internal/workflow"
)

var chatNew bool

var chatCmd = &cobra.Command{
	Use:   "chat <customer-id> [message...]",
	Short: "Talk to the assistant as a customer",
	Long: `Send one message as the given customer, or start an interactive
conversation reading one message per line from stdin when no message is given.

The customer's active session is resumed unless --new is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return chatRun(cmd.Context(), os.Stdin, args[0], strings.Join(args[1:], " "))
	},
}

func init() {
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "Start a new session instead of resuming the active one")
	rootCmd.AddCommand(chatCmd)
}

// cliLogger keeps engine logs out of the conversation unless --verbose.
func cliLogger() *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(ui.ErrOut, &slog.HandlerOptions{Level: level}))
}

func chatRun(ctx context.Context, in io.Reader, customerID, message string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	engine, _, err := buildEngine(s, cliLogger())
	if err != nil {
		return err
	}

	var sess *models.Session
	if !chatNew {
		sess, err = s.ActiveSession(ctx, customerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if sess != nil {
			ui.VerboseLog("Resuming session %s (%s)", sess.SessionID, sess.CurrentStep)
		}
	}

	if message != "" {
		printTurn(engine.ProcessMessage(ctx, customerID, message, sess))
		return nil
	}

	ui.Info("Chatting as %s. Empty line or Ctrl-D to quit.", output.Cyan(customerID))
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(ui.Out, output.Cyan("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(ui.Out)
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		res := engine.ProcessMessage(ctx, customerID, line, sess)
		printTurn(res)
		sess = res.NewState
		if sess.Terminal() {
			ui.VerboseLog("Session %s is %s; the next message starts a new one", sess.SessionID, sess.CurrentStep)
		}
	}
	return scanner.Err()
}

func printTurn(res workflow.Result) {
	fmt.Fprintf(ui.Out, "%s %s\n", output.Green("bot>"), res.ReplyText)

	st := res.NewState
	if st == nil {
		return
	}
	if st.CurrentStep == models.StepFollowupDetected && len(st.Context.PendingActions) > 0 {
		fmt.Fprintf(ui.Out, "     options: %s\n", strings.Join(st.Context.PendingActions, " | "))
	}
	ui.VerboseLog("session %s  step %s  intent %s  segment %s",
		st.SessionID, output.StepColor(string(st.CurrentStep)), st.Context.Intent,
		output.SegmentColor(string(st.CustomerSegment)))
	if res.RequiresEscalation {
		ui.Warning("Escalated to a human: %s", res.EscalationReason)
	}
}
