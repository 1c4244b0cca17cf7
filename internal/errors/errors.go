package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess  Code = 0
	CodeInternal Code = 1
	CodeUsage    Code = 2

	// Vault failure taxonomy. A failed command consumes no vault funds
	// beyond gas; the reason is surfaced verbatim to the caller.
	CodeUnauthorized        Code = 10
	CodeTransferFailed      Code = 11
	CodeInsufficientBalance Code = 12
	CodeInsufficientStaked  Code = 13
	CodeSlippageExceeded    Code = 14
	CodeDeadlineExpired     Code = 15
	CodeWrapFailed          Code = 16
	CodeNothingToInvest     Code = 17

	// Infrastructure failures.
	CodeUnavailable Code = 20
	CodeSigner      Code = 21
	CodePlan        Code = 22
	CodeSimulation  Code = 23
	CodeTimeout     Code = 24
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the stable code for err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}
