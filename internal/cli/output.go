package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/privlog/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (rejected event, failing scenario, delivery error)
	ExitCommandError = 2 // Command error (bad flags, missing identity, unreadable config)
)

// ExitError carries an exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode returns the engine error code carried by err, or "ERROR".
func ErrorCode(err error) string {
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		return string(engErr.Code)
	}
	return "ERROR"
}

// Response is the JSON envelope of every command's output.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Output writes command results in the configured format.
type Output struct {
	Format string
	Writer io.Writer
}

func newOutput(opts *RootOptions, cmd *cobra.Command) *Output {
	return &Output{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// Success writes data. In text mode text is printed instead; when text
// is nil data is printed with %v.
func (o *Output) Success(data any, text func(w io.Writer)) error {
	if o.Format == "json" {
		return json.NewEncoder(o.Writer).Encode(Response{Status: "ok", Data: data})
	}
	if text != nil {
		text(o.Writer)
		return nil
	}
	_, err := fmt.Fprintln(o.Writer, data)
	return err
}

// Error writes err. In JSON mode the engine error code is included.
func (o *Output) Error(err error) error {
	if o.Format == "json" {
		return json.NewEncoder(o.Writer).Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: ErrorCode(err), Message: err.Error()},
		})
	}
	_, werr := fmt.Fprintf(o.Writer, "Error [%s]: %v\n", ErrorCode(err), err)
	return werr
}
