package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hackgods/govease-queue/internal/token"
)

const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the service refused the operation
	ExitCommandError = 2 // bad flags, store unreachable
)

// ExitError carries the process exit code for a failed command.
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

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success writes data as JSON, or calls text with a tab aligned writer.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func (f *OutputFormatter) Error(code, message string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message},
		})
	}
	_, err := fmt.Fprintf(f.GetErrWriter(), "Error [%s]: %s\n", code, message)
	return err
}

// VerboseLog writes to ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, token.ErrValidation):
		return "validation_error"
	case errors.Is(err, token.ErrNotFound):
		return "not_found"
	case errors.Is(err, token.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, token.ErrQRInactive):
		return "qr_inactive"
	case errors.Is(err, token.ErrQRMismatch):
		return "qr_mismatch"
	case errors.Is(err, token.ErrStorageUnavailable):
		return "storage_unavailable"
	}
	return "internal_error"
}
