// Package errors provides structured error types for whatif.
//
// Every failure in the request path is one of a small taxonomy of codes so
// the engine can thread errors through WorkflowState as values and the API
// layer can map them to HTTP statuses.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

const (
	// Scenario errors
	CodeScenarioNotFound Code = "SCENARIO_NOT_FOUND"
	CodeScenarioBusy     Code = "SCENARIO_BUSY"
	CodeIntegrity        Code = "INTEGRITY_VIOLATION"

	// Request errors
	CodeValidation        Code = "VALIDATION_FAILED"
	CodeCompletionTimeout Code = "COMPLETION_TIMEOUT"
	CodeExecution         Code = "EXECUTION_FAILED"

	// Approval errors
	CodeApprovalNotFound Code = "APPROVAL_NOT_FOUND"
	CodeApprovalResolved Code = "APPROVAL_ALREADY_RESOLVED"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
)

var codeCategories = map[Code]Category{
	CodeScenarioNotFound:  CategoryNotFound,
	CodeScenarioBusy:      CategoryConflict,
	CodeIntegrity:         CategoryConflict,
	CodeValidation:        CategoryBadRequest,
	CodeCompletionTimeout: CategoryTimeout,
	CodeExecution:         CategoryInternal,
	CodeApprovalNotFound:  CategoryNotFound,
	CodeApprovalResolved:  CategoryConflict,
	CodeConfigInvalid:     CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	default:
		return 500
	}
}

// Error is the structured error type for whatif.
type Error struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *Error) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrScenarioNotFound returns an error when a scenario doesn't exist.
func ErrScenarioNotFound(id string) *Error {
	return &Error{
		Code: CodeScenarioNotFound,
		What: fmt.Sprintf("scenario %s not found", id),
		Why:  "No scenario with this ID exists in the catalog",
		Fix:  "Run 'whatif list' to see available scenarios",
	}
}

// ErrScenarioBusy returns an error when a mutation is already pending approval.
func ErrScenarioBusy(scenarioID, approvalID string) *Error {
	return &Error{
		Code: CodeScenarioBusy,
		What: fmt.Sprintf("scenario %s has a pending approval", scenarioID),
		Why:  fmt.Sprintf("Approval %s is still awaiting a decision", approvalID),
		Fix:  fmt.Sprintf("Resolve it first: 'whatif approve %s' or 'whatif reject %s'", approvalID, approvalID),
	}
}

// ErrIntegrity returns an error for operations that would corrupt the catalog.
func ErrIntegrity(what, why string) *Error {
	return &Error{
		Code: CodeIntegrity,
		What: what,
		Why:  why,
	}
}

// ErrValidation returns an error for a statement that failed validation.
func ErrValidation(reason string) *Error {
	return &Error{
		Code: CodeValidation,
		What: "statement validation failed",
		Why:  reason,
	}
}

// ErrCompletionTimeout returns an error when a completion call times out.
func ErrCompletionTimeout(stage string, timeout string) *Error {
	return &Error{
		Code: CodeCompletionTimeout,
		What: fmt.Sprintf("completion service timed out during %s", stage),
		Why:  fmt.Sprintf("No response received after %s", timeout),
		Fix:  "Resubmit the request; it was not retried automatically to avoid duplicate mutations",
	}
}

// ErrExecution returns an error when a statement failed at execution time.
func ErrExecution(why string) *Error {
	return &Error{
		Code: CodeExecution,
		What: "statement execution failed",
		Why:  why,
	}
}

// ErrExecutionNoRows returns an error when a mutation matched zero rows.
func ErrExecutionNoRows(table string) *Error {
	return &Error{
		Code: CodeExecution,
		What: fmt.Sprintf("mutation affected zero rows in %s", table),
		Why:  "The WHERE clause matched no rows, so nothing was changed",
		Fix:  "Check the row key in your request against the table contents",
	}
}

// ErrApprovalNotFound returns an error when an approval doesn't exist.
func ErrApprovalNotFound(id string) *Error {
	return &Error{
		Code: CodeApprovalNotFound,
		What: fmt.Sprintf("approval %s not found", id),
		Why:  "No pending approval with this ID exists",
		Fix:  "Run 'whatif pending' to list open approvals",
	}
}

// ErrApprovalResolved returns an error when an approval was already decided.
func ErrApprovalResolved(id string) *Error {
	return &Error{
		Code: CodeApprovalResolved,
		What: fmt.Sprintf("approval %s is already resolved", id),
		Why:  "Approvals are immutable once a decision is recorded",
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *Error {
	return &Error{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .whatif/config.yaml and fix the invalid field",
	}
}

// AsError attempts to convert an error to a structured Error.
// Returns nil if the error is not one.
func AsError(err error) *Error {
	var e *Error
	if as(err, &e) {
		return e
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	e := AsError(err)
	return e != nil && e.Code == code
}

func as(err error, target **Error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		*target = e
		return true
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return as(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into an Error with unknown code.
func Wrap(err error, what string) *Error {
	return &Error{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
