package fsm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wpierozak/pipiline-agent/internal/chat"
)

// Verifier decides which outgoing transition a state's output satisfies.
// AddSysPrompt hands the verifier the compile-time description of its
// owning state's candidate transitions (built once, in Compile, from each
// transition's target and constraint) so an agent-backed verifier can fold
// it into its own system prompt ahead of any Decide call. Verifiers that
// don't consult a model are free to ignore it.
type Verifier interface {
	Decide(ctx context.Context, output string, transitions []Transition) (nextState string, err error)
	AddSysPrompt(prompt string)
}

// ForwardVerifier ignores both the output and the candidate transitions and
// always returns the same, fixed target: the direct translation of "Forward
// verifier: ignores the context, always returns a fixed target name" in the
// glossary this package is grounded on.
type ForwardVerifier struct {
	Target string
}

func (ForwardVerifier) AddSysPrompt(string) {}

func (v ForwardVerifier) Decide(_ context.Context, _ string, _ []Transition) (string, error) {
	if v.Target == "" {
		return "", fmt.Errorf("fsm: ForwardVerifier has no fixed target configured")
	}
	return v.Target, nil
}

// KeywordVerifier decides deterministically, without consulting a model: it
// picks the first transition whose constraint text appears in the output
// (case-insensitively), or the first transition with an empty constraint as
// an unconditional fallback. This is the state machine's equivalent of the
// source's ForwardVerifierWrapper, used for states whose routing is a plain
// keyword or sentinel check rather than a judgment call.
type KeywordVerifier struct{}

func (KeywordVerifier) AddSysPrompt(string) {}

func (KeywordVerifier) Decide(_ context.Context, output string, transitions []Transition) (string, error) {
	lowered := strings.ToLower(output)
	var fallback *Transition
	for i, t := range transitions {
		if t.Constraint == "" {
			if fallback == nil {
				fallback = &transitions[i]
			}
			continue
		}
		if strings.Contains(lowered, strings.ToLower(t.Constraint)) {
			return t.Target, nil
		}
	}
	if fallback != nil {
		return fallback.Target, nil
	}
	return "", fmt.Errorf("fsm: no transition's constraint matched the output")
}

// AgentVerifier delegates the routing decision to a chat model: it presents
// every outgoing transition's target and constraint and asks the model to
// name the one that fits, mirroring the source's AgentVerifierWrapper. The
// compile-time sysPrompt built by Compile (via AddSysPrompt) is prepended to
// the fixed instruction text on every Decide call.
type AgentVerifier struct {
	Model chat.Model

	sysPrompt string
}

func (v *AgentVerifier) AddSysPrompt(prompt string) { v.sysPrompt = prompt }

var nextStateSchema = json.RawMessage(`{
  "type": "object",
  "properties": {"next_state": {"type": "string"}},
  "required": ["next_state"],
  "additionalProperties": false
}`)

type nextStateDecision struct {
	NextState string `json:"next_state"`
}

func (v *AgentVerifier) Decide(ctx context.Context, output string, transitions []Transition) (string, error) {
	system := "Choose which of the listed next states best fits the given output. Respond only with the JSON object the schema describes."
	if v.sysPrompt != "" {
		system = v.sysPrompt + "\n\n" + system
	}
	prompt := buildVerifierPrompt(output, transitions)
	messages := []chat.Message{
		chat.System(system),
		chat.User(prompt),
	}
	resp, err := v.Model.Invoke(ctx, messages, nextStateSchema)
	if err != nil {
		return "", fmt.Errorf("fsm: verifier model invocation: %w", err)
	}
	var decision nextStateDecision
	if err := json.Unmarshal([]byte(resp.Content), &decision); err != nil {
		return "", fmt.Errorf("fsm: verifier response did not match schema: %w", err)
	}
	next := strings.TrimSpace(decision.NextState)
	if next == "" {
		return "", fmt.Errorf("fsm: verifier returned an empty next state")
	}
	return next, nil
}

func buildVerifierPrompt(output string, transitions []Transition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Output to route:\n%s\n\nCandidate next states:\n", output)
	for _, t := range transitions {
		fmt.Fprintf(&b, "- %s: %s\n", t.Target, t.Constraint)
	}
	return b.String()
}

// buildTransitionSysPrompt renders the compile-time description of one
// state's candidate transitions, handed to its verifier via AddSysPrompt.
func buildTransitionSysPrompt(stateName string, transitions []Transition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are routing the state %q. Its possible next states are:\n", stateName)
	for _, t := range transitions {
		fmt.Fprintf(&b, "- %s: %s\n", t.Target, t.Constraint)
	}
	return b.String()
}
