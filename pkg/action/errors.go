package action

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when no handler is registered for the
// requested id. Terminal; no retry.
var ErrUnknownAction = errors.New("action: unknown action")

// ErrActionFailed is returned to the caller when a handler returned an
// error or panicked. The underlying cause is logged, never leaked.
var ErrActionFailed = errors.New("action: execution failed")

// ErrDuplicateAction is returned by Register for an id that is already
// taken. Registration-time schema errors are fail-fast.
var ErrDuplicateAction = errors.New("action: duplicate action id")

// ValidationError reports bad action input. Terminal; the handler is
// never invoked.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("action: invalid input: field %q: %s", e.Field, e.Reason)
}
