package agentcore

import (
	"errors"
	"fmt"
)

// ErrMaxToolIterations is returned when an agent's tool-call loop exceeds
// its configured iteration budget without producing a final answer.
var ErrMaxToolIterations = errors.New("agentcore: exceeded maximum tool-call iterations")

// ToolErrorType classifies why a tool invocation failed, mirroring
// internal/agent/errors.go's ToolErrorType in the teacher repo.
type ToolErrorType string

const (
	ToolErrorNotFound  ToolErrorType = "not_found"
	ToolErrorAlignment ToolErrorType = "alignment_failed"
	ToolErrorExecution ToolErrorType = "execution"
)

// ToolError wraps a tool-call failure with enough context to decide whether
// the FSM step that triggered it should route to recovery.
type ToolError struct {
	Type     ToolErrorType
	ToolName string
	Cause    error
}

func (e *ToolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agentcore: tool %q (%s): %v", e.ToolName, e.Type, e.Cause)
	}
	return fmt.Sprintf("agentcore: tool %q (%s)", e.ToolName, e.Type)
}

func (e *ToolError) Unwrap() error { return e.Cause }

func newToolError(typ ToolErrorType, name string, cause error) *ToolError {
	return &ToolError{Type: typ, ToolName: name, Cause: cause}
}

// ValidationError wraps a schema-validation failure on a model's final
// output.
type ValidationError struct {
	Cause error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("agentcore: output validation: %v", e.Cause) }
func (e *ValidationError) Unwrap() error { return e.Cause }
