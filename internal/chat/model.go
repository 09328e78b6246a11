package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wpierozak/pipiline-agent/internal/tool"
)

// Model is a bound, callable chat model: the interface every concrete
// provider client (Anthropic, OpenAI, a test double) implements. It owns its
// own bound-tools list and induced/native mode, matching
// BaseChatModel.bind_tools/invoke in the system this package is grounded on.
type Model interface {
	// Name identifies the model for logging and error messages.
	Name() string

	// BindTools attaches tools this model may call. induce selects the
	// induced (prompt-injected) protocol over native tool-calling; a model
	// whose provider has no native support must be bound with induce=true.
	BindTools(tools []tool.Tool, induce bool)

	// Tools returns the tools currently bound to this model.
	Tools() []tool.Tool

	// Invoke sends messages to the model and returns its response. schema is
	// the output schema chosen for this turn (see DefineOutputSchema); the
	// clients in internal/providers neither send it to the API nor validate
	// the response against it. Tool calls are returned
	// either because the model used native tool-calling, or because its
	// induced-mode output parsed into a tool_calls payload.
	Invoke(ctx context.Context, messages []Message, schema json.RawMessage) (Response, error)
}

// DefaultOutputSchema is the schema a model must satisfy when it has no
// tools bound and no caller-supplied schema: free-form content only.
var DefaultOutputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {"content": {"type": "string"}},
  "required": ["content"],
  "additionalProperties": false
}`)

// CompositeOutputSchema builds the schema to enforce when a model has tools
// bound alongside a caller-supplied output schema: an anyOf that accepts
// output matching userSchema or output matching ToolCallSchema. A payload
// that matches both is not rejected. This mirrors _create_default_output_schema's anyOf
// composite in the system this package is grounded on.
func CompositeOutputSchema(userSchema json.RawMessage) (json.RawMessage, error) {
	if userSchema == nil {
		userSchema = DefaultOutputSchema
	}
	composite := map[string]any{
		"anyOf": []any{
			json.RawMessage(userSchema),
			json.RawMessage(ToolCallSchema),
		},
	}
	b, err := json.Marshal(composite)
	if err != nil {
		return nil, fmt.Errorf("chat: marshal composite schema: %w", err)
	}
	return b, nil
}

// DefineOutputSchema chooses the schema a model's output must satisfy: the
// plain userSchema when no tools are bound, or the anyOf composite
// (content-or-tool-calls) once at least one is. It mirrors
// BaseAgent.define_output_schema's dispatch.
func DefineOutputSchema(m Model, userSchema json.RawMessage) (json.RawMessage, error) {
	if len(m.Tools()) == 0 {
		if userSchema != nil {
			return userSchema, nil
		}
		return DefaultOutputSchema, nil
	}
	return CompositeOutputSchema(userSchema)
}
