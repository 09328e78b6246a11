// Package agentcore implements the agent execution loop: assembling a
// prompt from an agent's own history and its subscribed sockets, invoking
// a chat model, running any tool calls it requests (correcting misspelled
// ones through the aligner before giving up), and committing the final
// answer to the agent's ledger.
//
// Grounded on core/agents.py's BaseAgent/execute_agent in the system this
// package is based on.
package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wpierozak/pipiline-agent/internal/aligner"
	"github.com/wpierozak/pipiline-agent/internal/chat"
	"github.com/wpierozak/pipiline-agent/internal/jsonrepair"
	"github.com/wpierozak/pipiline-agent/internal/ledger"
	"github.com/wpierozak/pipiline-agent/internal/tool"
)

// DefaultMaxToolIterations bounds how many tool-call round trips a single
// Execute call will make before giving up with ErrMaxToolIterations.
const DefaultMaxToolIterations = 25

// Result is what a successful agent execution produces: the text content
// handed back to whatever FSM state invoked it.
type Result struct {
	Output string
}

// Agent is one node in the pipeline: a bound chat model, the tools it may
// call, the sockets of other agents it reads, and the ledger its own
// outputs are committed to.
type Agent struct {
	Name string

	model    chat.Model
	registry *tool.Registry
	aligner  *aligner.ToolAligner

	ownLedger *ledger.Ledger
	sockets   []*ledger.Socket

	sysPrompts  []string
	tools       []tool.Tool
	induceTools bool

	userSchema json.RawMessage
	compiled   *jsonschema.Schema

	maxToolIterations int

	logger *slog.Logger
}

// New creates an agent backed by model, committing its outputs to its own
// ledger.
func New(name string, model chat.Model, ownLedger *ledger.Ledger) *Agent {
	return &Agent{
		Name:              name,
		model:             model,
		ownLedger:         ownLedger,
		maxToolIterations: DefaultMaxToolIterations,
		logger:            slog.Default().With("agent", name),
	}
}

// AddSysPrompt appends a system prompt fragment. Fragments are joined, in
// the order added, with a blank line between them.
func (a *Agent) AddSysPrompt(prompt string) {
	a.sysPrompts = append(a.sysPrompts, prompt)
}

// AddSocket subscribes the agent to another agent's ledger via socket; its
// latest message is folded into every prompt this agent assembles.
func (a *Agent) AddSocket(s *ledger.Socket) {
	a.sockets = append(a.sockets, s)
}

// ConnectTools binds a tool registry and its paired aligner. Every tool in
// the registry is registered with the aligner's name/argument pools so a
// slightly misspelled call can still resolve, and the whole set is bound to
// the underlying chat model. When induce is true the model has no native
// tool-calling support, so assemblePrompt also injects the induced-mode tool
// instruction (name, schema, and the "tool_calls" JSON convention) into the
// system prompt.
func (a *Agent) ConnectTools(ctx context.Context, registry *tool.Registry, al *aligner.ToolAligner, induce bool) error {
	a.registry = registry
	a.aligner = al

	tools := registry.All()
	for _, t := range tools {
		if err := al.AddTool(ctx, t.Meta.Name, t.ArgNames); err != nil {
			return fmt.Errorf("agentcore: register tool %q with aligner: %w", t.Meta.Name, err)
		}
	}
	a.tools = tools
	a.induceTools = induce
	a.model.BindTools(tools, induce)
	return nil
}

// DefineOutputSchema sets and compiles the schema the agent's final output
// must satisfy. Passing nil clears any previously set schema.
func (a *Agent) DefineOutputSchema(schema json.RawMessage) error {
	a.userSchema = schema
	if schema == nil {
		a.compiled = nil
		return nil
	}
	compiled, err := jsonschema.CompileString(a.Name+".output.schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("agentcore: compile output schema: %w", err)
	}
	a.compiled = compiled
	return nil
}

// Execute runs the agent's prompt-assembly and tool-call loop for one task
// input, returning its final answer. A tool call that can't be resolved
// even after alignment, an exhausted tool-iteration budget, or an output
// that fails schema validation all return an error.
func (a *Agent) Execute(ctx context.Context, taskInput string) (Result, error) {
	messages := a.assemblePrompt(taskInput)
	schema, err := chat.DefineOutputSchema(a.model, a.userSchema)
	if err != nil {
		return Result{}, fmt.Errorf("agentcore: define output schema: %w", err)
	}

	for iteration := 0; ; iteration++ {
		if iteration >= a.maxToolIterations {
			return Result{}, ErrMaxToolIterations
		}

		resp, err := a.model.Invoke(ctx, messages, schema)
		if err != nil {
			return Result{}, fmt.Errorf("agentcore: invoke model: %w", err)
		}

		if !resp.HasToolCalls() {
			output, err := a.finalizeOutput(resp.Content)
			if err != nil {
				return Result{}, err
			}
			a.ownLedger.Commit(output, taskInput)
			return Result{Output: output}, nil
		}

		messages = append(messages, chat.Assistant(resp.Content, resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			result, err := a.runToolCall(ctx, call)
			if err != nil {
				return Result{}, err
			}
			messages = append(messages, chat.ToolResult(call.Name, result))
		}
	}
}

// assemblePrompt builds the message list in the fixed order: the agent's own
// system prompts (with the induced-mode tool instruction appended, if
// induction is in use), its own last committed output as an assistant
// message, each subscribed socket's latest message as its own assistant
// message, then the task input as the final user message — mirroring the
// distinct AIMessage/AIMessage/HumanMessage turns the system this package is
// grounded on assembles, rather than folding everything into one message.
func (a *Agent) assemblePrompt(taskInput string) []chat.Message {
	messages := []chat.Message{}

	system := strings.Join(a.sysPrompts, "\n\n")
	if a.induceTools && len(a.tools) > 0 {
		instruction := chat.BuildToolInstruction(a.tools)
		if system != "" {
			system = system + "\n\n" + instruction
		} else {
			system = instruction
		}
	}
	if system != "" {
		messages = append(messages, chat.System(system))
	}

	if last, ok := a.ownLedger.Last(); ok {
		messages = append(messages, chat.Assistant(fmt.Sprintf("Your previous output:\n%s", last.Output), nil))
	}

	for _, s := range a.sockets {
		if text, ok := s.PeekLatest(); ok {
			messages = append(messages, chat.Assistant(fmt.Sprintf("[%s] %s", s.Name, text), nil))
		}
	}

	messages = append(messages, chat.User(taskInput))
	return messages
}

// runToolCall executes a single tool call. An exact registry lookup is
// tried first; only on failure is alignment attempted, and a call that
// fails both is a fatal error for this Execute call, matching
// handle_tool_calls's all-or-nothing behavior in the system this package is
// grounded on.
func (a *Agent) runToolCall(ctx context.Context, call chat.ToolCall) (string, error) {
	if a.registry == nil {
		return "", newToolError(ToolErrorNotFound, call.Name, fmt.Errorf("no tools connected"))
	}

	t, ok := a.registry.Get(call.Name)
	resolved := call
	if !ok {
		if a.aligner == nil {
			return "", newToolError(ToolErrorNotFound, call.Name, fmt.Errorf("tool not registered"))
		}
		name, args, aligned, err := a.aligner.AlignCall(ctx, call.Name, call.Arguments)
		if err != nil {
			return "", newToolError(ToolErrorAlignment, call.Name, err)
		}
		if !aligned {
			return "", newToolError(ToolErrorNotFound, call.Name, fmt.Errorf("no tool matched after alignment"))
		}
		resolved = call.Aligned(name, args)
		t, ok = a.registry.Get(resolved.Name)
		if !ok {
			return "", newToolError(ToolErrorNotFound, resolved.Name, fmt.Errorf("aligned name not registered"))
		}
	}

	argsJSON, err := resolved.ArgumentsJSON()
	if err != nil {
		return "", newToolError(ToolErrorExecution, resolved.Name, err)
	}

	start := time.Now()
	out, err := t.Run(ctx, argsJSON)
	a.logger.Debug("tool executed", "tool", resolved.Name, "duration", time.Since(start))
	if err != nil {
		return "", newToolError(ToolErrorExecution, resolved.Name, err)
	}
	return out, nil
}

// finalizeOutput validates the model's final content against the agent's
// output schema, if one is set, after repairing it into parseable JSON. A
// schema-less agent returns content untouched.
func (a *Agent) finalizeOutput(content string) (string, error) {
	if a.compiled == nil {
		return content, nil
	}

	repaired := jsonrepair.Repair(content)
	var decoded any
	if err := json.Unmarshal([]byte(repaired), &decoded); err != nil {
		return "", &ValidationError{Cause: fmt.Errorf("output is not valid JSON: %w", err)}
	}
	if err := a.compiled.Validate(decoded); err != nil {
		return "", &ValidationError{Cause: err}
	}
	return repaired, nil
}
