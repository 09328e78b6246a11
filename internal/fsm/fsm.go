// Package fsm implements the finite-state machine that drives a pipeline:
// states wrap agents (or are plain pass-through markers), transitions carry
// a natural-language constraint a verifier uses to pick the next state, and
// a single designated error state absorbs any failure for bounded,
// per-state recovery.
//
// Grounded on core/fsm.py in the system this package is based on. Two
// details there were ambiguous and are resolved here deliberately:
//
//   - The source computed `target_state.retry() > 0` even though retry()
//     returns a bool. This package's Retry method returns a bool and every
//     caller uses it directly as the "may retry" signal.
//   - The source's End-state branch referenced an output variable that was
//     only ever set inside the previous iteration's successful execution,
//     making "last observed output" the de facto contract rather than an
//     accident. Run tracks lastOutput explicitly and returns it from every
//     End state, including one reached straight from Start.
package fsm

import (
	"context"
	"fmt"
)

// Kind classifies what role a state plays in the machine.
type Kind int

const (
	KindStart Kind = iota
	KindStable
	KindTransient
	KindError
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindStable:
		return "stable"
	case KindTransient:
		return "transient"
	case KindError:
		return "error"
	case KindEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Transition is a directed edge from one state to another, guarded by a
// natural-language constraint a Verifier interprets against a state's
// output.
type Transition struct {
	Source     string
	Target     string
	Constraint string
}

// Executor runs a state against an input and produces its output. An Agent
// satisfies this via a small adapter (see AgentExecutor in agent_executor.go); Start/End
// states typically pass input straight through.
type Executor interface {
	Execute(ctx context.Context, input string) (string, error)
}

// PassThrough is the trivial Executor used by Start and End states that do
// no work of their own.
type PassThrough struct{}

func (PassThrough) Execute(_ context.Context, input string) (string, error) { return input, nil }

// State is one node of the machine.
type State struct {
	Name string
	Kind Kind

	Executor Executor
	Verifier Verifier

	maxRetries  int
	retriesLeft int

	transitions []Transition
}

// NewState creates a state. maxRetries is only meaningful for Stable states;
// it bounds how many times the error-recovery path may send the machine
// back into this state before Run gives up and returns "FAILED".
func NewState(name string, kind Kind, executor Executor, verifier Verifier, maxRetries int) *State {
	if executor == nil {
		executor = PassThrough{}
	}
	return &State{
		Name:        name,
		Kind:        kind,
		Executor:    executor,
		Verifier:    verifier,
		maxRetries:  maxRetries,
		retriesLeft: maxRetries,
	}
}

// ResetRetries restores the state's retry budget to its configured maximum.
func (s *State) ResetRetries() { s.retriesLeft = s.maxRetries }

// Retry consumes one unit of retry budget and reports whether the state may
// still be retried. Once it returns false, the budget stays exhausted until
// ResetRetries is called.
func (s *State) Retry() bool {
	if s.retriesLeft <= 0 {
		return false
	}
	s.retriesLeft--
	return true
}

// Execute runs the state's executor.
func (s *State) Execute(ctx context.Context, input string) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fsm: state %q panicked: %v", s.Name, r)
		}
	}()
	return s.Executor.Execute(ctx, input)
}

// FSM is a compiled graph of states and transitions, ready to run.
type FSM struct {
	states   map[string]*State
	start    string
	errState string
	ends     map[string]bool

	compiled bool
}

// New creates an empty, uncompiled machine.
func New() *FSM {
	return &FSM{
		states: make(map[string]*State),
		ends:   make(map[string]bool),
	}
}

// AddState registers a state. Adding a second Start or a second Error state
// is an error; a machine has exactly one of each.
func (f *FSM) AddState(s *State) error {
	if _, exists := f.states[s.Name]; exists {
		return fmt.Errorf("fsm: state %q already added", s.Name)
	}
	switch s.Kind {
	case KindStart:
		if f.start != "" {
			return fmt.Errorf("fsm: a start state %q is already registered, cannot add %q", f.start, s.Name)
		}
		f.start = s.Name
	case KindError:
		if f.errState != "" {
			return fmt.Errorf("fsm: an error state %q is already registered, cannot add %q", f.errState, s.Name)
		}
		f.errState = s.Name
	case KindEnd:
		f.ends[s.Name] = true
	}
	f.states[s.Name] = s
	f.compiled = false
	return nil
}

// AddTransition registers a directed edge. Both endpoints must already be
// registered states.
func (f *FSM) AddTransition(t Transition) error {
	source, ok := f.states[t.Source]
	if !ok {
		return fmt.Errorf("fsm: transition source %q is not a registered state", t.Source)
	}
	if _, ok := f.states[t.Target]; !ok {
		return fmt.Errorf("fsm: transition target %q is not a registered state", t.Target)
	}
	source.transitions = append(source.transitions, t)
	f.compiled = false
	return nil
}

// Compile validates the machine's topology: exactly one start state, at
// least one end state, the start state has an outgoing transition, and some
// transition path actually reaches an end state. A machine must compile
// successfully before Run will accept it.
func (f *FSM) Compile() error {
	if f.start == "" {
		return fmt.Errorf("fsm: no start state registered")
	}
	if f.errState == "" {
		return fmt.Errorf("fsm: no error state registered")
	}
	if len(f.ends) == 0 {
		return fmt.Errorf("fsm: no end state registered")
	}
	if len(f.states[f.start].transitions) == 0 {
		return fmt.Errorf("fsm: start state %q has no outgoing transitions", f.start)
	}
	if !f.canReachEnd(f.start) {
		return fmt.Errorf("fsm: no path from start state %q reaches an end state", f.start)
	}

	for name, s := range f.states {
		if s.Kind == KindStable || s.Kind == KindTransient {
			if len(s.transitions) > 0 && s.Verifier == nil {
				return fmt.Errorf("fsm: state %q has transitions but no verifier to choose among them", name)
			}
		}
		if s.Verifier != nil {
			s.Verifier.AddSysPrompt(buildTransitionSysPrompt(name, s.transitions))
		}
	}

	f.compiled = true
	return nil
}

func (f *FSM) canReachEnd(start string) bool {
	visited := map[string]bool{}
	var walk func(name string) bool
	walk = func(name string) bool {
		if f.ends[name] {
			return true
		}
		if visited[name] {
			return false
		}
		visited[name] = true
		for _, t := range f.states[name].transitions {
			if walk(t.Target) {
				return true
			}
		}
		return false
	}
	return walk(start)
}

// Transition decides the next state name from the current state's output,
// using its verifier. A verifier error, or a decision naming a state that
// doesn't exist, is not propagated as an error: it routes the machine to
// the error state, matching the source's no-exception fallback.
func (f *FSM) Transition(ctx context.Context, currentState, output string) string {
	state := f.states[currentState]
	if state.Verifier == nil || len(state.transitions) == 0 {
		return f.errState
	}
	next, err := state.Verifier.Decide(ctx, output, state.transitions)
	if err != nil {
		return f.errState
	}
	if _, ok := f.states[next]; !ok {
		return f.errState
	}
	return next
}

// DefaultMaxSteps bounds Run when the caller passes maxSteps <= 0.
const DefaultMaxSteps = 1000

// Run drives the machine from its start state to an end state (or to
// "FAILED" once a stable state's retry budget is exhausted), returning the
// last output observed from any successfully executed state.
//
// maxSteps <= 0 uses DefaultMaxSteps.
func (f *FSM) Run(ctx context.Context, initialInput string, maxSteps int) (string, error) {
	if !f.compiled {
		return "", fmt.Errorf("fsm: Run called before a successful Compile")
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	current := f.start
	lastStable := ""
	input := initialInput
	var lastOutput string

	for step := 0; step < maxSteps; step++ {
		state := f.states[current]

		if state.Kind == KindEnd {
			return lastOutput, nil
		}

		if state.Kind == KindError {
			if lastStable == "" {
				return "", fmt.Errorf("fsm: reached error state %q with no prior stable state to recover to", current)
			}
			target := f.states[lastStable]
			if !target.Retry() {
				return "FAILED", nil
			}
			current = lastStable
			continue
		}

		if state.Kind == KindStable {
			if current != lastStable {
				state.ResetRetries()
			}
			lastStable = current
		}

		output, err := state.Execute(ctx, input)

		if err != nil {
			lastOutput = output
			input = err.Error()
			current = f.errState
			continue
		}

		lastOutput = output
		input = output
		current = f.Transition(ctx, current, output)
	}

	return "", fmt.Errorf("fsm: exceeded maximum steps (%d)", maxSteps)
}
