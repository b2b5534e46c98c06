package domain

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every input validation failure.
var ErrValidation = errors.New("validation error")

var (
	ErrMissingThreadID = &ValidationError{Msg: "thread_id is required"}
	ErrMissingPrompt   = &ValidationError{Msg: "prompt is required"}
	ErrPromptTooLong   = &ValidationError{Msg: "prompt exceeds the token budget"}
)

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ModelInvocationError wraps any failure coming from the model backend.
// Transient and permanent failures are not distinguished.
type ModelInvocationError struct {
	Op  string
	Err error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// Invocation wraps err as a ModelInvocationError unless it already is one.
func Invocation(op string, err error) error {
	if err == nil {
		return nil
	}
	var mie *ModelInvocationError
	if errors.As(err, &mie) {
		return err
	}
	return &ModelInvocationError{Op: op, Err: err}
}
