// Package errors provides structured error types for mend.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for mend.
const (
	// Configuration errors
	CodeConfigMissing Code = "CONFIG_MISSING"
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodePromptMissing Code = "PROMPT_MISSING"

	// Backend errors
	CodeGeneratorUnavailable Code = "GENERATOR_UNAVAILABLE"

	// Workflow errors
	CodeItemNotFound   Code = "ITEM_NOT_FOUND"
	CodeNoChangeRecord Code = "NO_CHANGE_RECORD"
	CodeAlreadyRunning Code = "ALREADY_RUNNING"
	CodeWorkflowDone   Code = "WORKFLOW_DONE"

	// Version control and hosting errors
	CodeGitFailed     Code = "GIT_FAILED"
	CodeHostingFailed Code = "HOSTING_FAILED"
)

// Category groups error codes for exit status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryFatal
	CategoryStep
	CategoryComplete
	CategoryBusy
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeConfigMissing:        CategoryFatal,
	CodeConfigInvalid:        CategoryFatal,
	CodePromptMissing:        CategoryFatal,
	CodeGeneratorUnavailable: CategoryFatal,
	CodeItemNotFound:         CategoryStep,
	CodeNoChangeRecord:       CategoryStep,
	CodeAlreadyRunning:       CategoryBusy,
	CodeWorkflowDone:         CategoryComplete,
	CodeGitFailed:            CategoryStep,
	CodeHostingFailed:        CategoryStep,
}

// Process exit codes. ExitStep doubles as "nothing merged this run".
const (
	ExitOK       = 0
	ExitStep     = 1
	ExitFatal    = 2
	ExitComplete = 3
	ExitBusy     = 4
)

// ExitCode returns the process exit code for a category.
func (c Category) ExitCode() int {
	switch c {
	case CategoryFatal:
		return ExitFatal
	case CategoryComplete:
		return ExitComplete
	case CategoryBusy:
		return ExitBusy
	default:
		return ExitStep
	}
}

// MendError is the structured error type for mend.
type MendError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *MendError) Error() string {
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
func (e *MendError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *MendError) UserMessage() string {
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

// Category returns the error category.
func (e *MendError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// ExitCode returns the process exit code for this error.
func (e *MendError) ExitCode() int {
	return e.Category().ExitCode()
}

// IsFatal reports whether the error means no work can proceed.
func (e *MendError) IsFatal() bool {
	return e.Category() == CategoryFatal
}

// MarshalJSON implements json.Marshaler.
func (e *MendError) MarshalJSON() ([]byte, error) {
	type alias MendError
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

// Is reports whether target is a MendError with the same code.
func (e *MendError) Is(target error) bool {
	t, ok := target.(*MendError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *MendError) WithCause(err error) *MendError {
	return &MendError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrConfigMissing returns an error for missing configuration.
func ErrConfigMissing(field string) *MendError {
	return &MendError{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("missing required configuration: %s", field),
		Why:  "This field is required but not set in configuration",
		Fix:  fmt.Sprintf("Add '%s' to .mend/config.yaml or set the matching MEND_ environment variable", field),
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *MendError {
	return &MendError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .mend/config.yaml and fix the invalid field",
	}
}

// ErrPromptMissing returns an error when a required prompt asset is absent.
func ErrPromptMissing(name, dir string) *MendError {
	return &MendError{
		Code: CodePromptMissing,
		What: fmt.Sprintf("prompt %q not found", name),
		Why:  fmt.Sprintf("The prompt is listed as required but %s has no %s.md", dir, name),
		Fix:  "Restore the prompt file or remove it from prompts.required",
	}
}

// ErrGeneratorUnavailable returns an error when the code-generation backend
// cannot be reached at all, e.g. because its credential is not set.
func ErrGeneratorUnavailable(reason string) *MendError {
	return &MendError{
		Code: CodeGeneratorUnavailable,
		What: "code-generation backend is not available",
		Why:  reason,
		Fix:  "Export the API key named by model.api_key_env, or point model.base_url at a local server",
	}
}

// ErrItemNotFound returns an error when a work item doesn't exist.
func ErrItemNotFound(category, id string) *MendError {
	return &MendError{
		Code: CodeItemNotFound,
		What: fmt.Sprintf("work item %s not found in %s ledger", id, category),
		Why:  "No item with this ID exists in the ledger",
		Fix:  "Run 'mend status' to list ledgers, or 'mend analyze " + category + "' to populate one",
	}
}

// ErrNoChangeRecord returns an error when finalize has nothing to commit.
func ErrNoChangeRecord() *MendError {
	return &MendError{
		Code: CodeNoChangeRecord,
		What: "no executor change to finalize",
		Why:  "The change record is missing, so no successful execution is waiting to be committed",
		Fix:  "Run 'mend execute <category> next' first",
	}
}

// ErrAlreadyRunning returns an error when another invocation holds the run lock.
func ErrAlreadyRunning(owner string, pid int) *MendError {
	return &MendError{
		Code: CodeAlreadyRunning,
		What: "another mend invocation is running in this repository",
		Why:  fmt.Sprintf("Run lock held by %s (pid %d)", owner, pid),
		Fix:  "Wait for it to finish, or remove .mend/run.lock if that process is gone",
	}
}

// ErrWorkflowDone returns the terminal marker error used for exit status.
func ErrWorkflowDone() *MendError {
	return &MendError{
		Code: CodeWorkflowDone,
		What: "workflow complete",
		Why:  "Every phase has been exhausted",
		Fix:  "Run 'mend reset' to start a new pass",
	}
}

// ErrGitFailed returns an error for a failed version-control operation.
func ErrGitFailed(op string, cause error) *MendError {
	return &MendError{
		Code:  CodeGitFailed,
		What:  fmt.Sprintf("git %s failed", op),
		Fix:   "Inspect the repository with 'git status' and retry",
		Cause: cause,
	}
}

// ErrHostingFailed returns an error for a failed pull-request operation.
func ErrHostingFailed(op string, cause error) *MendError {
	return &MendError{
		Code:  CodeHostingFailed,
		What:  fmt.Sprintf("hosting %s failed", op),
		Fix:   "Check the token named by hosting.token_env_var and the origin remote",
		Cause: cause,
	}
}

// AsMendError attempts to convert an error to a MendError.
// Returns nil if the error is not a MendError.
func AsMendError(err error) *MendError {
	var mendErr *MendError
	if stderrors.As(err, &mendErr) {
		return mendErr
	}
	return nil
}

// ExitCodeFor maps any error to a process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	if mendErr := AsMendError(err); mendErr != nil {
		return mendErr.ExitCode()
	}
	return ExitStep
}

// Wrap wraps a generic error into a MendError with unknown code.
func Wrap(err error, what string) *MendError {
	return &MendError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}

// IsFatal reports whether err carries a fatal MendError.
func IsFatal(err error) bool {
	mendErr := AsMendError(err)
	return mendErr != nil && mendErr.IsFatal()
}
