// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/jllopis/crewkernel/pkg/errors"
)

// CLIError wraps a CrewError with a hint for the operator.
type CLIError struct {
	*errors.CrewError
	Hint string
}

func newCLIError(ce *errors.CrewError, hint string) *CLIError {
	return &CLIError{CrewError: ce, Hint: hint}
}

func (e *CLIError) Error() string {
	if e.CrewError == nil {
		return "unknown error"
	}
	msg := e.CrewError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error { return e.CrewError }

func newConfigError(err error, path string) *CLIError {
	ce := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", path)
	hint := "check the configuration keys and values"
	if path != "" {
		hint = fmt.Sprintf("check %s for syntax errors", path)
	}
	return newCLIError(ce, hint)
}

func newArgumentError(arg, reason string) *CLIError {
	ce := errors.New(errors.CodeInvalidInput, "invalid argument: "+reason, nil).
		WithContext("argument", arg)
	return newCLIError(ce, "run 'crewkernel help' for usage information")
}

// hintFor suggests a fix for the error codes an operator can act on.
func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeCrewNotFound:
		return "check that the crew exists in the manifest and is active"
	case errors.CodeToolResolution:
		return "check that every agent has a remote_agent_id and a unique name"
	case errors.CodeLLMError:
		return "check the llm section and the provider API key"
	case errors.CodeProtocol, errors.CodeNoResponse:
		return "check the Direct Line secret and that the remote agent is running"
	case errors.CodeTimeout:
		return "raise llm.timeout or directline.request_timeout"
	}
	return ""
}

type errorBody struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
}

// printError writes err to w, as JSON when asJSON is set.
func printError(w io.Writer, err error, asJSON bool) {
	body := errorBody{Code: errors.CodeOf(err), Message: errors.Message(err)}
	var cliErr *CLIError
	if stderrors.As(err, &cliErr) {
		body.Hint = cliErr.Hint
	} else {
		body.Hint = hintFor(body.Code)
	}

	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]errorBody{"error": body})
		return
	}
	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(w, "Error [%s]: ", body.Code)
	fmt.Fprintln(w, body.Message)
	if body.Hint != "" {
		fmt.Fprintf(w, "  %s %s\n", color.YellowString("Hint:"), body.Hint)
	}
}
