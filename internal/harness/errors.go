package harness

import (
	"errors"
	"fmt"
)

// FatalError ends a run before all iterations are recorded.
type FatalError struct {
	Kind      ErrorKind
	Iteration int
	Step      string
	Cause     error
}

// ErrorKind categorizes what ended the run.
type ErrorKind int

const (
	// ErrKindCallFailed is a failed external call under the abort policy.
	ErrKindCallFailed ErrorKind = iota
	// ErrKindInstanceGone means a managed instance no longer exists.
	ErrKindInstanceGone
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindCallFailed:
		return "call_failed"
	case ErrKindInstanceGone:
		return "instance_gone"
	default:
		return "unknown"
	}
}

func (e *FatalError) Error() string {
	if e.Iteration == 0 {
		return fmt.Sprintf("%s failed before the first iteration: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("iteration %d: %s failed: %v", e.Iteration, e.Step, e.Cause)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// AsFatalError attempts to convert an error to a FatalError.
// Returns nil if not possible.
func AsFatalError(err error) *FatalError {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}

// IsInstanceGone checks if the run ended because an instance disappeared.
func IsInstanceGone(err error) bool {
	fe := AsFatalError(err)
	return fe != nil && fe.Kind == ErrKindInstanceGone
}
