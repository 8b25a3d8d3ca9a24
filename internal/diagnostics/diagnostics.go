// Package diagnostics defines the error records and failure kinds shared by
// the front end, the semantic builder, the bytecode codec and the execution
// contexts.
package diagnostics

import (
	"errors"
	"fmt"
)

// Failure kinds. Builder-side kinds (syntax, type-mismatch, arity) are soft:
// they set the program's fatal flag and parsing continues with a NoOp.
// Everything else aborts the operation that raised it.
var (
	ErrSyntax          = errors.New("syntax error")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrArity           = errors.New("wrong number of parameters")
	ErrStructural      = errors.New("parser state corrupted")
	ErrExecution       = errors.New("execution error")
	ErrInvalidBytecode = errors.New("invalid bytecode")
	ErrNotImplemented  = errors.New("not implemented")
	ErrFileIO          = errors.New("file i/o error")
)

// Position is a location in a source file.
type Position struct {
	Line   int
	Column int
}

// DiagnosticError is a coded diagnostic with an optional source position.
type DiagnosticError struct {
	Code    string
	Message string
	Pos     Position
	File    string
}

func (e *DiagnosticError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: [%s] %s", e.File, e.Pos.Line, e.Pos.Column, e.Code, e.Message)
	}
	if e.Pos.Line > 0 {
		return fmt.Sprintf("%d:%d: [%s] %s", e.Pos.Line, e.Pos.Column, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewError creates a positioned diagnostic record.
func NewError(code string, pos Position, format string, args ...any) *DiagnosticError {
	return &DiagnosticError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Pos:     pos,
	}
}

// ParserFailure reports a grammar-impossible state. It aborts the build.
type ParserFailure struct {
	Reason string
}

func (e *ParserFailure) Error() string {
	return "parser failure: " + e.Reason
}

func (e *ParserFailure) Unwrap() error {
	return ErrStructural
}

// Failf builds a ParserFailure. The builder panics with the returned value
// and the pipeline recovers it at the build boundary.
func Failf(format string, args ...any) *ParserFailure {
	return &ParserFailure{Reason: fmt.Sprintf(format, args...)}
}
