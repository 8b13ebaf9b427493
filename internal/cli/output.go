package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tapecell/undotx/internal/envelope"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // successful execution
	ExitFailure      = 1 // the operation returned a non-success envelope
	ExitCommandError = 2 // command error (bad flags, unreadable config, ...)
)

// ExitError represents an error with a specific exit code.
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

// printResponse renders an operation's envelope in the selected
// format. JSON output is the ordered wire form
// [code, message, payload, extra].
func printResponse(w io.Writer, format string, resp envelope.Response) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(resp.List(), "", "  ")
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	default:
		fmt.Fprintf(w, "%d %s\n", resp.Code, resp.Message)
		if resp.Payload != nil {
			data, err := json.MarshalIndent(resp.Payload, "", "  ")
			if err != nil {
				return fmt.Errorf("encode payload: %w", err)
			}
			fmt.Fprintln(w, string(data))
		}
		return nil
	}
}

// respond prints resp and converts non-success into an ExitFailure so
// the process exit code reflects the outcome.
func respond(w io.Writer, format string, resp envelope.Response) error {
	if err := printResponse(w, format, resp); err != nil {
		return err
	}
	if !resp.Success() {
		return &ExitError{Code: ExitFailure, Message: resp.Message}
	}
	return nil
}
