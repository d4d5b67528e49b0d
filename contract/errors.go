package contract

import (
	"errors"
	"fmt"
	"strings"
)

// Structural errors abort the invocation and surface verbatim to the caller.
var (
	ErrAlreadyExists   = errors.New("already exists")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrFatal           = errors.New("fatal store failure")
)

// FatalError wraps a world-state read or write failure. The whole invocation is aborted.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrFatal, e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrFatal) match any FatalError.
func (e *FatalError) Is(target error) bool { return target == ErrFatal }

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// Error codes used when an error has to cross a string-only boundary (e.g. a contract result message).
const (
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeFatal           = "FATAL"
)

// ErrorCode returns the wire code for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	default:
		return CodeFatal
	}
}

// EncodeError renders err as "CODE: message".
func EncodeError(err error) string {
	return ErrorCode(err) + ": " + err.Error()
}

// ErrorFromMessage restores a sentinel-wrapped error from a message produced by EncodeError.
// Messages without a known code are returned as a plain error.
func ErrorFromMessage(msg string) error {
	code, rest, ok := strings.Cut(msg, ": ")
	if !ok {
		return errors.New(msg)
	}
	switch code {
	case CodeAlreadyExists:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, strings.TrimPrefix(rest, ErrAlreadyExists.Error()+": "))
	case CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimPrefix(rest, ErrNotFound.Error()+": "))
	case CodeInvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, strings.TrimPrefix(rest, ErrInvalidArgument.Error()+": "))
	case CodeFatal:
		return &FatalError{Op: "remote", Err: errors.New(rest)}
	default:
		return errors.New(msg)
	}
}
