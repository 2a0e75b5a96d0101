package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/roach88/contactsd/internal/errs"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation refused by the engine, or scenarios failed
	ExitCommandError = 2 // Command error (bad flags, unreadable files, database not openable)
)

// ExitError carries the exit code a command should terminate with.
type ExitError struct {
	Code    int    // Exit code (ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// engineError wraps an error returned by the contacts engine. Argument
// and document errors are command errors; refusals such as
// PERMISSION_DENIED or NOT_FOUND are failures.
func engineError(message string, err error) *ExitError {
	switch errs.CodeOf(err) {
	case errs.InvalidArgument, errs.TypeMismatch, errs.PropertyNotSupported, errs.UnknownView:
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"` // engine error code, e.g. "NOT_FOUND"
	Message string `json:"message"`
}

// Success writes data. Text output renders strings and numbers on one
// line and anything else as YAML.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}

	switch data.(type) {
	case string, int, int64, fmt.Stringer:
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	_, err = f.Writer.Write(out)
	return err
}

// Error writes err with its engine code. Errors raised outside the
// engine are reported as INTERNAL.
func (f *OutputFormatter) Error(err error) error {
	code := "INTERNAL"
	var e *errs.Error
	if errors.As(err, &e) {
		code = string(e.Code)
	}
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: err.Error()},
		})
	}
	_, werr := fmt.Fprintf(f.Writer, "Error [%s]: %v\n", code, err)
	return werr
}
