// Copyright 2026 The Aether Frame Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package contracts

import (
	"errors"
	"fmt"
)

// Error codes. These form the external error taxonomy; every TaskResult
// with status=error carries exactly one of them.
const (
	CodeRequestValidation = "request.validation"
	CodeContextMissing    = "request.context_missing"

	CodeFrameworkUnavailable = "framework.unavailable"

	CodeSessionCleared        = "session.cleared"
	CodeSessionRecoveryFailed = "session.recovery_failed"

	CodeToolNotDeclared       = "tool.not_declared"
	CodeToolInvalidParameters = "tool.invalid_parameters"
	CodeToolExecution         = "tool.execution"
	CodeToolUnauthorized      = "tool.unauthorized"
	CodeToolTimeout           = "tool.timeout"

	CodeRunnerExecution = "runner.execution"
	CodeTaskTimeout     = "task.timeout"

	CodeInternalError = "runtime.internal_error"
)

// Error is the taxonomized error value crossing layer boundaries. It is
// both an `error` and a serializable envelope payload.
type Error struct {
	Code    string         `json:"code"`
	Stage   string         `json:"stage,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s at %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a taxonomized error.
func NewError(code, stage, format string, args ...any) *Error {
	return &Error{Code: code, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a detail entry and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// AsError extracts a taxonomized *Error from any error chain. Unknown
// errors are wrapped as runtime.internal_error at the given stage.
func AsError(err error, stage string) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return NewError(CodeInternalError, stage, "%v", err)
}
