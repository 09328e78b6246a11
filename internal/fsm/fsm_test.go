package fsm

import (
	"context"
	"errors"
	"testing"
)

type funcExecutor func(ctx context.Context, input string) (string, error)

func (f funcExecutor) Execute(ctx context.Context, input string) (string, error) { return f(ctx, input) }

func buildLinearMachine(t *testing.T) *FSM {
	t.Helper()
	f := New()

	start := NewState("start", KindStart, nil, KeywordVerifier{}, 0)
	work := NewState("work", KindStable, funcExecutor(func(_ context.Context, input string) (string, error) {
		return "worked:" + input, nil
	}), KeywordVerifier{}, 3)
	end := NewState("end", KindEnd, nil, nil, 0)
	errState := NewState("error", KindError, nil, nil, 0)

	for _, s := range []*State{start, work, end, errState} {
		if err := f.AddState(s); err != nil {
			t.Fatalf("unexpected error adding state %q: %v", s.Name, err)
		}
	}

	mustAddTransition(t, f, Transition{Source: "start", Target: "work", Constraint: ""})
	mustAddTransition(t, f, Transition{Source: "work", Target: "end", Constraint: ""})

	if err := f.Compile(); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	return f
}

func mustAddTransition(t *testing.T, f *FSM, tr Transition) {
	t.Helper()
	if err := f.AddTransition(tr); err != nil {
		t.Fatalf("unexpected error adding transition %+v: %v", tr, err)
	}
}

func TestRunLinearMachineReachesEndWithLastOutput(t *testing.T) {
	f := buildLinearMachine(t)
	output, err := f.Run(context.Background(), "hello", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "worked:hello" {
		t.Fatalf("expected %q, got %q", "worked:hello", output)
	}
}

func TestCompileFailsWithoutStartState(t *testing.T) {
	f := New()
	end := NewState("end", KindEnd, nil, nil, 0)
	errState := NewState("error", KindError, nil, nil, 0)
	f.AddState(end)
	f.AddState(errState)
	if err := f.Compile(); err == nil {
		t.Fatalf("expected compile to fail without a start state")
	}
}

func TestCompileFailsWhenNoPathReachesEnd(t *testing.T) {
	f := New()
	start := NewState("start", KindStart, nil, KeywordVerifier{}, 0)
	dead := NewState("dead", KindStable, nil, KeywordVerifier{}, 1)
	end := NewState("end", KindEnd, nil, nil, 0)
	errState := NewState("error", KindError, nil, nil, 0)
	for _, s := range []*State{start, dead, end, errState} {
		f.AddState(s)
	}
	mustAddTransition(t, f, Transition{Source: "start", Target: "dead"})
	// no transition from dead onward: unreachable end
	if err := f.Compile(); err == nil {
		t.Fatalf("expected compile to fail when no path reaches an end state")
	}
}

func TestRunRecoversFromTransientFailureThenSucceeds(t *testing.T) {
	f := New()
	attempts := 0

	start := NewState("start", KindStart, nil, KeywordVerifier{}, 0)
	flaky := NewState("flaky", KindStable, funcExecutor(func(_ context.Context, input string) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient failure")
		}
		return "recovered:" + input, nil
	}), KeywordVerifier{}, 3)
	end := NewState("end", KindEnd, nil, nil, 0)
	errState := NewState("error", KindError, nil, nil, 0)

	for _, s := range []*State{start, flaky, end, errState} {
		f.AddState(s)
	}
	mustAddTransition(t, f, Transition{Source: "start", Target: "flaky"})
	mustAddTransition(t, f, Transition{Source: "flaky", Target: "end"})

	if err := f.Compile(); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	output, err := f.Run(context.Background(), "input", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The failed attempt's error text is the input the retried state receives.
	if output != "recovered:transient failure" {
		t.Fatalf("expected recovered output, got %q", output)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestRunReturnsFailedWhenRetryBudgetExhausted(t *testing.T) {
	f := New()

	start := NewState("start", KindStart, nil, KeywordVerifier{}, 0)
	alwaysFails := NewState("alwaysFails", KindStable, funcExecutor(func(_ context.Context, _ string) (string, error) {
		return "", errors.New("permanent failure")
	}), KeywordVerifier{}, 2)
	end := NewState("end", KindEnd, nil, nil, 0)
	errState := NewState("error", KindError, nil, nil, 0)

	for _, s := range []*State{start, alwaysFails, end, errState} {
		f.AddState(s)
	}
	mustAddTransition(t, f, Transition{Source: "start", Target: "alwaysFails"})
	mustAddTransition(t, f, Transition{Source: "alwaysFails", Target: "end"})

	if err := f.Compile(); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	output, err := f.Run(context.Background(), "input", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "FAILED" {
		t.Fatalf("expected FAILED, got %q", output)
	}
}

func TestKeywordVerifierMatchesConstraintKeyword(t *testing.T) {
	v := KeywordVerifier{}
	transitions := []Transition{
		{Target: "retry", Constraint: "error"},
		{Target: "done", Constraint: ""},
	}
	next, err := v.Decide(context.Background(), "an error occurred", transitions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != "retry" {
		t.Fatalf("expected retry, got %q", next)
	}

	next, err = v.Decide(context.Background(), "all good", transitions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != "done" {
		t.Fatalf("expected fallback done, got %q", next)
	}
}

func TestTransitionRoutesToErrorStateOnNoMatch(t *testing.T) {
	f := New()
	start := NewState("start", KindStart, nil, KeywordVerifier{}, 0)
	strict := NewState("strict", KindStable, nil, KeywordVerifier{}, 1)
	end := NewState("end", KindEnd, nil, nil, 0)
	errState := NewState("error", KindError, nil, nil, 0)
	for _, s := range []*State{start, strict, end, errState} {
		f.AddState(s)
	}
	mustAddTransition(t, f, Transition{Source: "start", Target: "strict"})
	mustAddTransition(t, f, Transition{Source: "strict", Target: "end", Constraint: "only this exact phrase"})
	if err := f.Compile(); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	next := f.Transition(context.Background(), "strict", "something unrelated")
	if next != "error" {
		t.Fatalf("expected routing to error state, got %q", next)
	}
}

func TestForwardVerifierAlwaysReturnsItsFixedTarget(t *testing.T) {
	v := ForwardVerifier{Target: "work"}
	transitions := []Transition{{Target: "anything-else", Constraint: "whatever the output says"}}
	next, err := v.Decide(context.Background(), "completely unrelated output", transitions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != "work" {
		t.Fatalf("expected the fixed target regardless of output/transitions, got %q", next)
	}
}

func TestForwardVerifierFailsWithoutAFixedTarget(t *testing.T) {
	v := ForwardVerifier{}
	if _, err := v.Decide(context.Background(), "output", nil); err == nil {
		t.Fatalf("expected an error when no fixed target is configured")
	}
}

type recordingVerifier struct {
	prompt string
}

func (r *recordingVerifier) AddSysPrompt(prompt string) { r.prompt = prompt }

func (r *recordingVerifier) Decide(_ context.Context, _ string, transitions []Transition) (string, error) {
	if len(transitions) == 0 {
		return "", errors.New("no transitions")
	}
	return transitions[0].Target, nil
}

func TestCompileWiresTransitionSysPromptIntoEachVerifier(t *testing.T) {
	f := New()
	rv := &recordingVerifier{}
	start := NewState("start", KindStart, nil, KeywordVerifier{}, 0)
	work := NewState("work", KindStable, nil, rv, 1)
	end := NewState("end", KindEnd, nil, nil, 0)
	errState := NewState("error", KindError, nil, nil, 0)
	for _, s := range []*State{start, work, end, errState} {
		if err := f.AddState(s); err != nil {
			t.Fatalf("unexpected error adding state %q: %v", s.Name, err)
		}
	}
	mustAddTransition(t, f, Transition{Source: "start", Target: "work"})
	mustAddTransition(t, f, Transition{Source: "work", Target: "end", Constraint: "looks done"})

	if err := f.Compile(); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if !contains(rv.prompt, "end") || !contains(rv.prompt, "looks done") {
		t.Fatalf("expected Compile to hand the verifier its transitions' targets/constraints, got %q", rv.prompt)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
