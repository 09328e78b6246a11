// Package chat defines the message and tool-call vocabulary agents exchange
// with a chat model, plus the two ways a model can be told about tools: its
// own native tool-calling support, or an "induced" mode where the tool
// contract is injected into the prompt and parsed back out of plain text.
// It is grounded on core/messages.py and core/chat.py in the system this
// package is based on.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wpierozak/pipiline-agent/internal/jsonrepair"
	"github.com/wpierozak/pipiline-agent/internal/tool"
)

// Role identifies who a Message is attributed to.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an immutable record of a model's request to invoke a tool. The
// source kept two incompatible ToolCall definitions, one frozen and one
// mutable; this package settles on the frozen shape and exposes alignment as
// a copy-producing method, never an in-place edit, since a model's original
// request should stay inspectable even after it's corrected.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Aligned returns a copy of the call with a corrected name and argument
// keys. The receiver is left untouched.
func (c ToolCall) Aligned(name string, args map[string]any) ToolCall {
	copied := make(map[string]any, len(args))
	for k, v := range args {
		copied[k] = v
	}
	return ToolCall{ID: c.ID, Name: name, Arguments: copied}
}

// ArgumentsJSON marshals the call's arguments for a tool's Run handler.
func (c ToolCall) ArgumentsJSON() (json.RawMessage, error) {
	b, err := json.Marshal(c.Arguments)
	if err != nil {
		return nil, fmt.Errorf("chat: marshal arguments for %q: %w", c.Name, err)
	}
	return b, nil
}

// Message is one turn in a conversation sent to or received from a model.
type Message struct {
	Role      Role
	Content   string
	ToolName  string // set only on RoleTool messages
	ToolCalls []ToolCall
}

func System(content string) Message  { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message    { return Message{Role: RoleUser, Content: content} }
func Assistant(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}
func ToolResult(toolName, content string) Message {
	return Message{Role: RoleTool, ToolName: toolName, Content: content}
}

// Response is what calling a model returns: either prose content, or one or
// more tool calls it wants executed before it continues.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// HasToolCalls reports whether the model asked to run at least one tool.
func (r Response) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// --- Induced tool-call protocol -------------------------------------------------

// ToolCallSectionHeader introduces the tool-call block in an induced-mode
// prompt.
const ToolCallSectionHeader = "## Available tools"

// ToolCallInstruction is the fixed protocol text appended to a model's
// system prompt when it has no native tool-calling support. It tells the
// model to emit a single JSON object with a "tool_calls" array instead of
// using a provider-specific tool-calling API.
const ToolCallInstruction = `When you need to use a tool, respond with a JSON object of the shape:

{"tool_calls": [{"name": "<tool name>", "arguments": {"<arg name>": <value>}}]}

Only include "tool_calls" when you are invoking a tool. Otherwise respond with
your normal message content. Do not wrap the JSON in prose or markdown
fences. Example, given a tool named "search_web" with a "query" argument:

{"tool_calls": [{"name": "search_web", "arguments": {"query": "go modules proxy"}}]}`

// ToolCallSchema is the JSON Schema for the "tool_calls" array an induced-mode
// model must emit.
var ToolCallSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "tool_calls": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "arguments": {"type": "object"}
        },
        "required": ["name", "arguments"]
      }
    }
  },
  "required": ["tool_calls"]
}`)

// BuildToolInstruction concatenates the fixed protocol text with every bound
// tool's own JSON Schema, producing the full induced-mode tool section to
// append to a system prompt.
func BuildToolInstruction(tools []tool.Tool) string {
	var b strings.Builder
	b.WriteString(ToolCallSectionHeader)
	b.WriteString("\n\n")
	b.WriteString(ToolCallInstruction)
	b.WriteString("\n\n")
	for _, t := range tools {
		schema, err := json.MarshalIndent(t.CallSchema(), "", "  ")
		if err != nil {
			continue
		}
		b.Write(schema)
		b.WriteString("\n\n")
	}
	return b.String()
}

type inducedPayload struct {
	ToolCalls []inducedCall `json:"tool_calls"`
}

type inducedCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseToolCallList reads an induced-mode model's raw text output and
// extracts any tool calls from it. A payload missing "tool_calls", or text
// that repair can't rescue into JSON at all, yields an empty, non-error
// result: plain content is a normal response, not a parse failure.
func ParseToolCallList(raw string) []ToolCall {
	var payload inducedPayload
	if err := jsonrepair.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	out := make([]ToolCall, 0, len(payload.ToolCalls))
	for _, c := range payload.ToolCalls {
		if c.Name == "" {
			continue
		}
		out = append(out, ToolCall{Name: c.Name, Arguments: c.Arguments})
	}
	return out
}
