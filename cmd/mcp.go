package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/lendchat/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio so an assistant
can drive conversations and inspect customers. Configure it with:

  {
    "mcpServers": {
      "lendchat": { "command": "lendchat", "args": ["mcp"] }
    }
  }

Available tools: lend_process_message, lend_get_session,
lend_customer_context, lend_list_escalations`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	// stdout carries the protocol; logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	engine, retriever, err := buildEngine(s, logger)
	if err != nil {
		return err
	}
	return mcp.NewServer(s, engine, retriever, buildVersion).ServeStdio(ctx)
}
