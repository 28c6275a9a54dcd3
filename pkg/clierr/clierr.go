// Package clierr is the exit-code error taxonomy the CLI entrypoint
// reports through: every fatal startup/runtime condition is wrapped in an
// Error carrying the exit code the process should terminate with, then
// rendered to stderr with a one-line suggestion where one applies.
package clierr

import (
	"fmt"
	"os"
	"strings"

	"lwm2mclient/pkg/logger"

	"github.com/fatih/color"
)

type ExitCode int

const (
	ExitCodeSuccess         ExitCode = 0
	ExitCodeGeneral         ExitCode = 1
	ExitCodeConfig          ExitCode = 2
	ExitCodeRegistration    ExitCode = 3
	ExitCodeTransport       ExitCode = 4
	ExitCodeValidation      ExitCode = 5
	ExitCodeCancellation    ExitCode = 6
	ExitCodeTimeout         ExitCode = 7
	ExitCodeNotImplemented  ExitCode = 8
)

type Error struct {
	Code       ExitCode
	Message    string
	Underlying error
	Suggestion string
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Underlying }

func New(code ExitCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func NewWithError(code ExitCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Underlying: err}
}

func NewWithSuggestion(code ExitCode, message, suggestion string) *Error {
	return &Error{Code: code, Message: message, Suggestion: suggestion}
}

// ConfigError reports a malformed or missing settings, object-definition or
// data file, or a model that cannot be built from them.
func ConfigError(message string) *Error {
	return &Error{
		Code:       ExitCodeConfig,
		Message:    message,
		Suggestion: "Check the settings file passed via --config and the object definition and data YAML files in the --root directory.",
	}
}

// RegistrationError reports a registration FSM failure (non-Created
// response, transport error during Register/Update).
func RegistrationError(message string, err error) *Error {
	return &Error{
		Code:       ExitCodeRegistration,
		Message:    message,
		Underlying: err,
		Suggestion: "Verify the LWM2M server address and that the endpoint name is not already registered.",
	}
}

// ValidationError reports a model consistency failure (data referencing an
// undefined object, a TypeMismatch between data and definition).
func ValidationError(message string) *Error {
	return &Error{Code: ExitCodeValidation, Message: message}
}

// Wrap attaches message as additional context, preserving the exit code of
// an already-classified Error, or defaulting to ExitCodeGeneral otherwise.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	if wrapped, ok := err.(*Error); ok {
		return &Error{
			Code:       wrapped.Code,
			Message:    message + ": " + wrapped.Message,
			Underlying: wrapped.Underlying,
			Suggestion: wrapped.Suggestion,
		}
	}
	return &Error{Code: ExitCodeGeneral, Message: message, Underlying: err}
}

// Handle logs err and its suggestion, then terminates the process with the
// error's exit code (ExitCodeGeneral for an unclassified error).
func Handle(err error) {
	if err == nil {
		return
	}
	os.Exit(int(HandleReturn(err)))
}

// HandleReturn logs err and its suggestion and returns the exit code the
// caller should terminate with, without calling os.Exit itself.
func HandleReturn(err error) ExitCode {
	if err == nil {
		return ExitCodeSuccess
	}

	code := ExitCodeGeneral
	message := err.Error()
	suggestion := ""

	if e, ok := err.(*Error); ok {
		code = e.Code
		message = e.Message
		suggestion = e.Suggestion
		if e.Underlying != nil {
			logger.Error().Err(e.Underlying).Msg(e.Message)
		} else {
			logger.Error().Msg(e.Message)
		}
	} else {
		logger.Error().Msg(message)
	}

	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(os.Stderr)
	red.Fprint(os.Stderr, "Error: ")
	fmt.Fprintln(os.Stderr, message)
	if suggestion != "" {
		yellow.Fprint(os.Stderr, "Suggestion: ")
		for i, line := range strings.Split(suggestion, "\n") {
			if i == 0 {
				fmt.Fprintln(os.Stderr, line)
			} else {
				fmt.Fprintln(os.Stderr, "           "+line)
			}
		}
	}
	fmt.Fprintln(os.Stderr)

	return code
}
