package api

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/parley/internal/questions"
	"github.com/kalambet/parley/internal/registry"
	"github.com/kalambet/parley/internal/session"
)

// --- mocks ---

type mockRunner struct {
	outcome session.Outcome
	err     error

	gotSet   *questions.Set
	gotTitle string
}

func (m *mockRunner) Run(_ context.Context, set *questions.Set, title string) (session.Outcome, error) {
	m.gotSet = set
	m.gotTitle = title
	return m.outcome, m.err
}

// --- helpers ---

func newTestMCPDeps(t *testing.T, runner *mockRunner) MCPDeps {
	t.Helper()
	return MCPDeps{
		Runner:   runner,
		Sessions: registry.New(filepath.Join(t.TempDir(), "sessions.json")),
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

const validQuestionsJSON = `{
	"title": "review",
	"questions": [
		{"id": "approach", "type": "single", "prompt": "Which?", "options": ["a", "b"]},
		{"id": "notes", "type": "text", "prompt": "Notes?"}
	]
}`

// --- tests ---

func TestMCPTool_AskUser_ReturnsAnswers(t *testing.T) {
	runner := &mockRunner{
		outcome: session.Outcome{
			Reason: session.ReasonSubmitted,
			Answers: []session.Answer{
				{ID: "approach", Value: "a"},
				{ID: "notes", Value: "looks fine"},
			},
		},
	}
	handler := mcpAskUser(newTestMCPDeps(t, runner))

	req := makeCallToolRequest("ask_user", map[string]interface{}{
		"questions": validQuestionsJSON,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var answers []session.Answer
	if err := json.Unmarshal([]byte(toolText(t, result)), &answers); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(answers) != 2 || answers[0].ID != "approach" {
		t.Fatalf("unexpected answers: %+v", answers)
	}

	// Title falls back to the set title when the argument is absent.
	if runner.gotTitle != "review" {
		t.Fatalf("expected title 'review', got %q", runner.gotTitle)
	}
	if runner.gotSet == nil || len(runner.gotSet.Questions) != 2 {
		t.Fatalf("runner received wrong set: %+v", runner.gotSet)
	}
}

func TestMCPTool_AskUser_TitleOverride(t *testing.T) {
	runner := &mockRunner{outcome: session.Outcome{Reason: session.ReasonSubmitted}}
	handler := mcpAskUser(newTestMCPDeps(t, runner))

	req := makeCallToolRequest("ask_user", map[string]interface{}{
		"questions": validQuestionsJSON,
		"title":     "final sign-off",
	})
	if _, err := handler(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.gotTitle != "final sign-off" {
		t.Fatalf("expected explicit title, got %q", runner.gotTitle)
	}
}

func TestMCPTool_AskUser_InvalidQuestions(t *testing.T) {
	runner := &mockRunner{}
	handler := mcpAskUser(newTestMCPDeps(t, runner))

	req := makeCallToolRequest("ask_user", map[string]interface{}{
		"questions": `{"questions": []}`,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for empty question list")
	}
	if runner.gotSet != nil {
		t.Fatal("runner must not be invoked for an invalid set")
	}
}

func TestMCPTool_AskUser_MissingQuestions(t *testing.T) {
	handler := mcpAskUser(newTestMCPDeps(t, &mockRunner{}))

	result, err := handler(context.Background(), makeCallToolRequest("ask_user", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error when questions argument is missing")
	}
}

func TestMCPTool_AskUser_Cancelled(t *testing.T) {
	runner := &mockRunner{outcome: session.Outcome{Reason: session.ReasonUser}}
	handler := mcpAskUser(newTestMCPDeps(t, runner))

	req := makeCallToolRequest("ask_user", map[string]interface{}{
		"questions": validQuestionsJSON,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for a cancelled interview")
	}
	text := toolText(t, result)
	if text != "interview cancelled (user)" {
		t.Fatalf("unexpected message: %s", text)
	}
}

func TestMCPTool_AskUser_RunnerError(t *testing.T) {
	runner := &mockRunner{err: errors.New("port in use")}
	handler := mcpAskUser(newTestMCPDeps(t, runner))

	req := makeCallToolRequest("ask_user", map[string]interface{}{
		"questions": validQuestionsJSON,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error when the runner fails")
	}
}

func TestMCPTool_ListSessions_Empty(t *testing.T) {
	handler := mcpListSessions(newTestMCPDeps(t, &mockRunner{}))

	result, err := handler(context.Background(), makeCallToolRequest("list_sessions", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty list, got %s", text)
	}
}

func TestMCPTool_ListSessions_ReturnsEntries(t *testing.T) {
	deps := newTestMCPDeps(t, &mockRunner{})
	if err := deps.Sessions.Register(registry.Entry{
		ID:    "abc123",
		URL:   "http://127.0.0.1:4242/?session=tok",
		Cwd:   "/home/me/myrepo",
		Title: "review",
	}); err != nil {
		t.Fatalf("registering entry: %v", err)
	}
	handler := mcpListSessions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_sessions", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var listed []registry.ListedEntry
	if err := json.Unmarshal([]byte(toolText(t, result)), &listed); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "abc123" {
		t.Fatalf("unexpected sessions: %+v", listed)
	}
}
