package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/lendchat/internal/models"
	"github.com/joescharf/lendchat/internal/output"
)

var (
	escalationStatus string
	escalationLimit  int
)

var escalationCmd = &cobra.Command{
	Use:     "escalation",
	Aliases: []string{"esc"},
	Short:   "Work the human handoff queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return escalationListRun()
	},
}

var escalationListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List escalations in arrival order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return escalationListRun()
	},
}

var escalationResolveCmd = &cobra.Command{
	Use:   "resolve <escalation-id>",
	Short: "Mark an escalation as handled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return escalationResolveRun(args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{escalationCmd, escalationListCmd} {
		c.Flags().StringVar(&escalationStatus, "status", "pending", "Filter by status (pending, resolved, all)")
		c.Flags().IntVar(&escalationLimit, "limit", 50, "Maximum escalations to list")
	}
	escalationCmd.AddCommand(escalationListCmd)
	escalationCmd.AddCommand(escalationResolveCmd)
	rootCmd.AddCommand(escalationCmd)
}

func parseEscalationStatus(v string) (models.EscalationStatus, error) {
	switch v {
	case "all", "":
		return "", nil
	case string(models.EscalationStatusPending), string(models.EscalationStatusResolved):
		return models.EscalationStatus(v), nil
	default:
		return "", fmt.Errorf("unknown status %q (want pending, resolved, or all)", v)
	}
}

func escalationListRun() error {
	status, err := parseEscalationStatus(escalationStatus)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	escs, err := s.ListEscalations(context.Background(), status, escalationLimit)
	if err != nil {
		return err
	}
	if len(escs) == 0 {
		ui.Info("No %s escalations.", escalationStatus)
		return nil
	}

	table := ui.Table([]string{"ID", "Customer", "Session", "Intent", "Reason", "Status", "Created"})
	for _, e := range escs {
		state := output.Yellow(string(e.Status))
		if e.Status == models.EscalationStatusResolved {
			state = output.Green(string(e.Status))
		}
		_ = table.Append([]string{
			output.Cyan(e.ID),
			e.CustomerID,
			e.SessionID,
			string(e.Context.Intent),
			e.Reason,
			state,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

func escalationResolveRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	e, err := s.ResolveEscalation(context.Background(), id)
	if err != nil {
		return err
	}
	ui.Success("Resolved escalation %s for %s", output.Cyan(e.ID), e.CustomerID)
	return nil
}
