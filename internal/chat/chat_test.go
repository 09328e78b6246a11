package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/wpierozak/pipiline-agent/internal/tool"
)

func TestParseToolCallListExtractsCalls(t *testing.T) {
	raw := "```json\n{\"tool_calls\": [{\"name\": \"search_web\", \"arguments\": {\"query\": \"go\"}}]}\n```"
	calls := ParseToolCallList(raw)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "search_web" {
		t.Fatalf("expected search_web, got %q", calls[0].Name)
	}
	if calls[0].Arguments["query"] != "go" {
		t.Fatalf("expected query arg, got %v", calls[0].Arguments)
	}
}

func TestParseToolCallListReturnsNilForPlainContent(t *testing.T) {
	calls := ParseToolCallList("just a normal reply, no tools needed")
	if calls != nil {
		t.Fatalf("expected nil, got %v", calls)
	}
}

func TestToolCallAlignedDoesNotMutateReceiver(t *testing.T) {
	original := ToolCall{ID: "1", Name: "serach", Arguments: map[string]any{"qeury": "x"}}
	aligned := original.Aligned("search", map[string]any{"query": "x"})

	if original.Name != "serach" {
		t.Fatalf("expected receiver untouched, got %q", original.Name)
	}
	if aligned.Name != "search" {
		t.Fatalf("expected aligned name search, got %q", aligned.Name)
	}
	if _, ok := aligned.Arguments["qeury"]; ok {
		t.Fatalf("expected aligned arguments to drop the old key")
	}
}

func TestDefineOutputSchemaWithoutToolsReturnsUserSchema(t *testing.T) {
	m := &fakeModelNoTools{}
	userSchema := json.RawMessage(`{"type":"object"}`)
	got, err := DefineOutputSchema(m, userSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(userSchema) {
		t.Fatalf("expected user schema passthrough, got %s", got)
	}
}

func TestDefineOutputSchemaWithToolsReturnsComposite(t *testing.T) {
	m := &fakeModelWithTools{toolCount: 1}
	got, err := DefineOutputSchema(m, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(got, &parsed); err != nil {
		t.Fatalf("expected valid JSON schema, got error: %v", err)
	}
	if _, ok := parsed["anyOf"]; !ok {
		t.Fatalf("expected composite anyOf schema, got %v", parsed)
	}
}

type fakeModelNoTools struct{}

func (fakeModelNoTools) Name() string                            { return "no-tools" }
func (fakeModelNoTools) BindTools(tools []tool.Tool, induce bool) {}
func (fakeModelNoTools) Tools() []tool.Tool                       { return nil }
func (fakeModelNoTools) Invoke(context.Context, []Message, json.RawMessage) (Response, error) {
	return Response{}, nil
}

type fakeModelWithTools struct{ toolCount int }

func (f fakeModelWithTools) Name() string                            { return "with-tools" }
func (f fakeModelWithTools) BindTools(tools []tool.Tool, induce bool) {}
func (f fakeModelWithTools) Tools() []tool.Tool {
	out := make([]tool.Tool, f.toolCount)
	return out
}
func (f fakeModelWithTools) Invoke(context.Context, []Message, json.RawMessage) (Response, error) {
	return Response{}, nil
}
