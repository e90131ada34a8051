package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/lendchat/internal/models"
	"github.com/joescharf/lendchat/internal/retrieval"
	"github.com/joescharf/lendchat/internal/store"
	"github.com/joescharf/lendchat/internal/workflow"
)

// Store is the slice of the store the tools read.
type Store interface {
	LoadSession(ctx context.Context, sessionID string) (*models.Session, error)
	ActiveSession(ctx context.Context, customerID string) (*models.Session, error)
	ListEscalations(ctx context.Context, status models.EscalationStatus, limit int) ([]*models.Escalation, error)
}

// Engine runs conversation turns.
type Engine interface {
	ProcessMessage(ctx context.Context, customerID, text string, existing *models.Session) workflow.Result
}

// Retriever reads customer snapshots.
type Retriever interface {
	Retrieve(ctx context.Context, customerID, message string) (*models.CustomerContext, error)
}

// Server exposes the conversation engine and its data as MCP tools.
type Server struct {
	store     Store
	engine    Engine
	retriever Retriever
	version   string
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s Store, e Engine, r Retriever, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{store: s, engine: e, retriever: r, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("lendchat", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.processMessageTool())
	srv.AddTool(s.getSessionTool())
	srv.AddTool(s.customerContextTool())
	srv.AddTool(s.listEscalationsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// lend_process_message
func (s *Server) processMessageTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("lend_process_message",
		mcp.WithDescription("Send one customer message through the conversation workflow. Resumes the given session, or the customer's active session when none is given, and returns the reply and resulting state."),
		mcp.WithString("customer_id", mcp.Required(), mcp.Description("Customer identifier, e.g. a WhatsApp number")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Message text from the customer")),
		mcp.WithString("session_id", mcp.Description("Session to continue; defaults to the customer's active session")),
	)
	return tool, s.handleProcessMessage
}

type turnOut struct {
	Reply              string         `json:"reply"`
	SessionID          string         `json:"session_id"`
	Step               models.Step    `json:"step"`
	Segment            models.Segment `json:"segment"`
	Intent             models.Intent  `json:"intent"`
	PendingActions     []string       `json:"pending_actions,omitempty"`
	RequiresEscalation bool           `json:"requires_escalation"`
	EscalationReason   string         `json:"escalation_reason,omitempty"`
}

func (s *Server) handleProcessMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID, err := request.RequireString("customer_id")
	if err != nil || customerID == "" {
		return mcp.NewToolResultError("missing required parameter: customer_id"), nil
	}
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: message"), nil
	}

	var existing *models.Session
	if id := request.GetString("session_id", ""); id != "" {
		existing, err = s.store.LoadSession(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id)), nil
		}
	} else {
		existing, err = s.store.ActiveSession(ctx, customerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load active session: %v", err)), nil
		}
	}

	res := s.engine.ProcessMessage(ctx, customerID, message, existing)
	out := turnOut{
		Reply:              res.ReplyText,
		RequiresEscalation: res.RequiresEscalation,
		EscalationReason:   res.EscalationReason,
	}
	if st := res.NewState; st != nil {
		out.SessionID = st.SessionID
		out.Step = st.CurrentStep
		out.Segment = st.CustomerSegment
		out.Intent = st.Context.Intent
		if st.CurrentStep == models.StepFollowupDetected {
			out.PendingActions = st.Context.PendingActions
		}
	}
	return jsonResult(out)
}

// lend_get_session
func (s *Server) getSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("lend_get_session",
		mcp.WithDescription("Get the full state of a conversation session, including message history."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	)
	return tool, s.handleGetSession
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	sess, err := s.store.LoadSession(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id)), nil
	}
	return jsonResult(sess)
}

// lend_customer_context
func (s *Server) customerContextTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("lend_customer_context",
		mcp.WithDescription("Get a customer's segment, loans, payments, documents, and recent conversations. An optional query selects knowledge base material."),
		mcp.WithString("customer_id", mcp.Required(), mcp.Description("Customer identifier")),
		mcp.WithString("query", mcp.Description("Text to search the knowledge base with")),
	)
	return tool, s.handleCustomerContext
}

func (s *Server) handleCustomerContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID, err := request.RequireString("customer_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: customer_id"), nil
	}
	cc, err := s.retriever.Retrieve(ctx, customerID, request.GetString("query", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to retrieve context: %v", err)), nil
	}

	type contextOut struct {
		Segment models.Segment          `json:"segment"`
		Context *models.CustomerContext `json:"context"`
	}
	return jsonResult(contextOut{Segment: retrieval.SegmentContext(cc), Context: cc})
}

// lend_list_escalations
func (s *Server) listEscalationsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("lend_list_escalations",
		mcp.WithDescription("List conversations handed to a human, oldest first."),
		mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("pending", "resolved", "all")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of escalations (default 20)")),
	)
	return tool, s.handleListEscalations
}

func (s *Server) handleListEscalations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := request.GetString("status", string(models.EscalationStatusPending))
	if status == "all" {
		status = ""
	}
	limit := request.GetInt("limit", 20)

	escalations, err := s.store.ListEscalations(ctx, models.EscalationStatus(status), limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list escalations: %v", err)), nil
	}

	type escalationOut struct {
		ID         string                  `json:"id"`
		CustomerID string                  `json:"customer_id"`
		SessionID  string                  `json:"session_id"`
		Reason     string                  `json:"reason"`
		Status     models.EscalationStatus `json:"status"`
		Messages   int                     `json:"messages"`
		CreatedAt  string                  `json:"created_at"`
	}
	out := make([]escalationOut, len(escalations))
	for i, e := range escalations {
		out[i] = escalationOut{
			ID:         e.ID,
			CustomerID: e.CustomerID,
			SessionID:  e.SessionID,
			Reason:     e.Reason,
			Status:     e.Status,
			Messages:   len(e.History),
			CreatedAt:  e.CreatedAt.Format("2006-01-02 15:04:05"),
		}
	}
	return jsonResult(out)
}
