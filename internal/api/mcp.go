package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/parley/internal/questions"
	"github.com/kalambet/parley/internal/registry"
	"github.com/kalambet/parley/internal/session"
)

// InterviewRunner starts one interview instance and blocks until it
// completes. The serve layer provides the real implementation.
type InterviewRunner interface {
	Run(ctx context.Context, set *questions.Set, title string) (session.Outcome, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Runner   InterviewRunner
	Sessions *registry.Registry
}

// NewMCPServer creates an MCP server exposing the interview as tools for a
// connected agent: ask_user runs a form and returns the answers, so the
// invoking process receives them as the tool result.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"parley",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("parley — ask the human operator structured questions through a locally served web form."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_user",
			mcp.WithDescription("Present a question form to the human operator and wait for their answers. Blocks until the form is submitted, cancelled, or abandoned."),
			mcp.WithString("questions", mcp.Description(`JSON question set: {"questions":[{"id","type","prompt","options?"}]} with type one of single, multi, text, image`), mcp.Required()),
			mcp.WithString("title", mcp.Description("Title shown at the top of the form")),
		),
		mcpAskUser(deps),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List currently running interview sessions with active/waiting status."),
		),
		mcpListSessions(deps),
	)

	return s
}

func mcpAskUser(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("questions")
		if err != nil {
			return mcpError("questions is required"), nil
		}

		set, err := questions.Parse([]byte(raw))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		title := req.GetString("title", "")
		if title == "" {
			title = set.Title
		}

		outcome, err := deps.Runner.Run(ctx, set, title)
		if err != nil {
			return mcpError(fmt.Sprintf("interview failed: %v", err)), nil
		}
		if outcome.Cancelled() {
			return mcpError(fmt.Sprintf("interview cancelled (%s)", outcome.Reason)), nil
		}

		b, err := json.Marshal(outcome.Answers)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answers: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		listed := deps.Sessions.List()
		if len(listed) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(listed)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
