package errors

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Caller errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"

	// Run lifecycle errors
	ErrCodePersistence           ErrorCode = "PERSISTENCE_FAILURE"
	ErrCodeExecution             ErrorCode = "EXECUTION_FAILURE"
	ErrCodeStreamParse           ErrorCode = "STREAM_PARSE_FAILURE"
	ErrCodeUnexpectedTermination ErrorCode = "UNEXPECTED_TERMINATION"
	ErrCodeCancelled             ErrorCode = "CANCELLED"

	// Storage errors
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"
	ErrCodeFileCopy     ErrorCode = "FILE_COPY_FAILURE"

	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error represents a structured qaflow error
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Stack       []Frame
	UserMessage string
}

// Frame represents a stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	e := New(code, fmt.Sprintf(format, args...))
	e.Stack = captureStack(2)
	return e
}

// Wrap wraps an existing error with a code. Wrap(nil, ...) is nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
		Stack:      captureStack(2),
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the message returned to API callers.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, e.Context[k]))
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Public returns the text safe to show to API callers.
func (e *Error) Public() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// StackTrace returns a formatted stack trace
func (e *Error) StackTrace() string {
	var sb strings.Builder

	sb.WriteString("Stack trace:\n")
	for i, frame := range e.Stack {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, frame.Function))
		sb.WriteString(fmt.Sprintf("     %s:%d\n", frame.File, frame.Line))
	}

	return sb.String()
}

func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(skip+1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	out := make([]Frame, 0, n)
	for {
		frame, more := frames.Next()
		out = append(out, Frame{Function: frame.Function, File: frame.File, Line: frame.Line})
		if !more {
			break
		}
	}
	return out
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// IsCode checks if an error chain carries a specific code
func IsCode(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// GetCode extracts the error code, INTERNAL for foreign errors and "" for nil.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	e, ok := As(err)
	if !ok {
		return ErrCodeInternal
	}
	return e.Code
}

// HTTPStatus maps a code to the status the API answers with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
