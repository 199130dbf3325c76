package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownField is matched by compile errors for unresolvable attributes
	ErrUnknownField = errors.New("unknown field")

	// ErrUnsupportedOperator is matched by compile errors for AST nodes without a SQL mapping
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrMalformedLiteral is matched by compile errors for values that cannot be represented
	ErrMalformedLiteral = errors.New("malformed literal")

	// ErrConfiguration is matched by invalid operation specs
	ErrConfiguration = errors.New("configuration error")

	// ErrExecution is matched by statements the engine rejected
	ErrExecution = errors.New("execution error")
)

// CompileErrorKind classifies filter compilation failures
type CompileErrorKind int

const (
	UnknownField CompileErrorKind = iota
	UnsupportedOperator
	MalformedLiteral
)

func (k CompileErrorKind) String() string {
	switch k {
	case UnknownField:
		return "UnknownField"
	case UnsupportedOperator:
		return "UnsupportedOperator"
	case MalformedLiteral:
		return "MalformedLiteral"
	}
	return fmt.Sprintf("CompileErrorKind(%d)", int(k))
}

// CompileError is returned by the filter compiler. Name holds the offending
// field, operator or literal type.
type CompileError struct {
	Kind   CompileErrorKind
	Name   string
	Detail string
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("%s(%s)", e.Kind, e.Name)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *CompileError) Is(target error) bool {
	switch target {
	case ErrUnknownField:
		return e.Kind == UnknownField
	case ErrUnsupportedOperator:
		return e.Kind == UnsupportedOperator
	case ErrMalformedLiteral:
		return e.Kind == MalformedLiteral
	}
	return false
}

// ConfigurationError reports an invalid request detected before any statement runs
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Configf builds a ConfigurationError
func Configf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// ExecutionError wraps an engine failure together with the failing statement
type ExecutionError struct {
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("statement failed: %v\n%s", e.Err, e.Statement)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}
