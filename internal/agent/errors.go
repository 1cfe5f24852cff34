package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotFound is returned when an invocation names an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout is returned when a tool exceeds its per-call deadline.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic is returned when a tool panics during execution.
	ErrToolPanic = errors.New("tool panicked")

	// ErrInvalidArguments is returned when arguments fail schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrInvalidToolName is returned by Register for names the model APIs reject.
	ErrInvalidToolName = errors.New("invalid tool name")

	// ErrNoProvider is returned when a model profile has no provider bound.
	ErrNoProvider = errors.New("no provider configured")
)

// ToolErrorType categorizes tool failures. It is stored on ToolResult.ErrorKind.
type ToolErrorType string

const (
	ToolErrorNone         ToolErrorType = ""
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorCancelled    ToolErrorType = "cancelled"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
)

// ToolError wraps a tool failure with its classification.
type ToolError struct {
	Type         ToolErrorType
	ToolName     string
	InvocationID string
	Message      string
	Cause        error
}

func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError classifies cause and returns a ToolError for toolName.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Type:     ToolErrorExecution,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
	}
	return err
}

// WithInvocationID records which invocation failed.
func (e *ToolError) WithInvocationID(id string) *ToolError {
	e.InvocationID = id
	return e
}

func classifyToolError(err error) ToolErrorType {
	switch {
	case errors.Is(err, ErrToolNotFound):
		return ToolErrorNotFound
	case errors.Is(err, ErrToolTimeout), errors.Is(err, context.DeadlineExceeded):
		return ToolErrorTimeout
	case errors.Is(err, context.Canceled):
		return ToolErrorCancelled
	case errors.Is(err, ErrToolPanic):
		return ToolErrorPanic
	case errors.Is(err, ErrInvalidArguments):
		return ToolErrorInvalidInput
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "refused"),
		strings.Contains(errStr, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(errStr, "permission"),
		strings.Contains(errStr, "forbidden"),
		strings.Contains(errStr, "unauthorized"):
		return ToolErrorPermission
	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "required"),
		strings.Contains(errStr, "missing"):
		return ToolErrorInvalidInput
	}
	return ToolErrorExecution
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// ErrorResult builds a failed ToolResult from err.
func ErrorResult(err error) *ToolResult {
	toolErr, ok := GetToolError(err)
	if !ok {
		toolErr = NewToolError("", err)
	}
	msg := toolErr.Message
	if msg == "" {
		msg = err.Error()
	}
	return &ToolResult{
		Content:   msg,
		IsError:   true,
		ErrorKind: toolErr.Type,
	}
}
