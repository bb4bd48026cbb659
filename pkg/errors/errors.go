// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed errors with rich context for the crew engine.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode classifies errors for monitoring, recovery and HTTP mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeToolFailure indicates a tool invocation failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeContextLost indicates the request context was canceled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnauthorized indicates authorization failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeLLMError indicates a model provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeProtocol indicates the remote agent channel rejected a call.
	CodeProtocol ErrorCode = "PROTOCOL_ERROR"

	// CodeNoResponse indicates the polling budget ran out without a reply.
	CodeNoResponse ErrorCode = "NO_RESPONSE"

	// CodeCrewNotFound indicates the crew to build a context for is gone.
	CodeCrewNotFound ErrorCode = "CREW_NOT_FOUND"

	// CodePlanParse indicates no plan could be produced, not even a fallback.
	CodePlanParse ErrorCode = "PLAN_PARSE_ERROR"

	// CodeToolResolution indicates a subtask named an agent outside the crew.
	CodeToolResolution ErrorCode = "TOOL_RESOLUTION"

	// CodeInvalidTransition indicates an illegal task status change.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// CrewError carries a code, the HTTP status it maps to and whether retrying
// may succeed. Find it in a chain with AsCrewError or errors.As.
type CrewError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
	StatusCode  int
}

func (e *CrewError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CrewError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging and API bodies.
func (e *CrewError) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Cause       string                 `json:"cause,omitempty"`
		Context     map[string]any `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Cause:       cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new CrewError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *CrewError {
	return &CrewError{Code: code, Message: msg, Err: cause, StatusCode: statusFor(code)}
}

// WithContext adds a key-value pair to the error context.
func (e *CrewError) WithContext(key string, value any) *CrewError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be retried.
func (e *CrewError) WithRecoverable(recoverable bool) *CrewError {
	e.Recoverable = recoverable
	return e
}

// AsCrewError finds a CrewError in the chain of err, or wraps err as internal.
func AsCrewError(err error) *CrewError {
	if err == nil {
		return nil
	}
	var ce *CrewError
	if stderrors.As(err, &ce) {
		return ce
	}
	return New(CodeInternal, "wrapped error", err)
}

// Is reports whether any CrewError in the chain of err carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var ce *CrewError
		if !stderrors.As(err, &ce) {
			return false
		}
		if ce.Code == code {
			return true
		}
		err = ce.Err
	}
	return false
}

// CodeOf returns the code of the outermost CrewError in err, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var ce *CrewError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// Message returns the text of err without the code prefix of CrewError.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ce *CrewError
	if !stderrors.As(err, &ce) {
		return err.Error()
	}
	if ce.Err != nil {
		return ce.Message + ": " + ce.Err.Error()
	}
	return ce.Message
}

// Protocol reports a rejected call on the remote agent channel. body is the
// response text returned by the remote side, when any.
func Protocol(op string, status int, body string, cause error) *CrewError {
	msg := op + " failed"
	if status > 0 {
		msg = fmt.Sprintf("%s failed: %d", op, status)
		if body != "" {
			msg += " - " + body
		}
	}
	return New(CodeProtocol, msg, cause).
		WithContext("operation", op).
		WithContext("http_status", status).
		WithRecoverable(status == 0 || status >= 500 || status == http.StatusTooManyRequests)
}

// NoResponse reports that no agent reply arrived within the polling budget.
func NoResponse(attempts int) *CrewError {
	return New(CodeNoResponse, "No response received from bot after maximum retries", nil).
		WithContext("attempts", attempts)
}

// CrewNotFound reports a missing crew.
func CrewNotFound(crewID string) *CrewError {
	return New(CodeCrewNotFound, fmt.Sprintf("Crew with ID %s not found", crewID), nil).
		WithContext("crew_id", crewID)
}

// PlanParse reports that no plan could be recovered from model output.
func PlanParse(msg string) *CrewError {
	return New(CodePlanParse, msg, nil)
}

// ToolResolution reports a plan step naming an agent outside the crew.
func ToolResolution(agentID string) *CrewError {
	return New(CodeToolResolution, fmt.Sprintf("Agent with ID %s not found in crew", agentID), nil).
		WithContext("agent_id", agentID).
		WithRecoverable(true)
}

// Timeout reports a call that outlived its deadline.
func Timeout(limit time.Duration) *CrewError {
	return New(CodeTimeout, "operation exceeded timeout", context.DeadlineExceeded).
		WithContext("timeout", limit.String()).
		WithRecoverable(true)
}

func statusFor(code ErrorCode) int {
	switch code {
	case CodeNotFound, CodeCrewNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeInvalidTransition:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusRequestTimeout
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeProtocol, CodeNoResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
