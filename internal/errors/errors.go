package errors

import (
	"errors"
	"fmt"
)

// CSError is the structured error type for codesearch.
// It carries a stable code so that callers on either side of the wire can
// classify failures without parsing messages.
type CSError struct {
	// Code is the unique error code (e.g., "ERR_403_UNSUPPORTED_FIELD").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is derived from the code.
	Category Category

	// Severity is derived from the code.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *CSError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CSError) Unwrap() error {
	return e.Cause
}

// Is matches by code, so errors.Is(err, errors.New(code, "", nil)) works.
func (e *CSError) Is(target error) bool {
	if t, ok := target.(*CSError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *CSError) WithDetail(key, value string) *CSError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *CSError) WithSuggestion(suggestion string) *CSError {
	e.Suggestion = suggestion
	return e
}

// New creates a new CSError with the given code and message.
func New(code string, message string, cause error) *CSError {
	return &CSError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates a CSError from an existing error, reusing its message.
func Wrap(code string, err error) *CSError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Newf is New with a formatted message and no cause.
func Newf(code string, format string, args ...any) *CSError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *CSError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IndexError creates an index I/O error.
func IndexError(message string, cause error) *CSError {
	return New(ErrCodeIndexIO, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *CSError {
	return New(ErrCodeInternal, message, cause)
}

// ClientNotAvailable reports that no language server is configured for a language.
func ClientNotAvailable(language string) *CSError {
	return Newf(ErrCodeClientNotAvailable, "LSP client not available for language: %s", language).
		WithDetail("language", language)
}

// RequestFailed reports a failed language server exchange.
func RequestFailed(message string, cause error) *CSError {
	return New(ErrCodeRequestFailed, "LSP request failed: "+message, cause)
}

// LSPNotAvailable reports a language-server field used while LSP support is disabled.
func LSPNotAvailable(field string) *CSError {
	return Newf(ErrCodeLSPNotAvailable, "LSP support not available for field: %s", field).
		WithDetail("field", field).
		WithSuggestion("enable backends.lsp in .codesearch.yaml")
}

// UnsupportedField reports a query field the executor has no backend for.
func UnsupportedField(field string) *CSError {
	return Newf(ErrCodeUnsupportedField, "unsupported search field: %s", field).
		WithDetail("field", field)
}

// SearchError wraps a backend failure under the backend's own code.
func SearchError(code string, backend string, cause error) *CSError {
	if cause == nil {
		return nil
	}
	return New(code, fmt.Sprintf("%s search failed: %v", backend, cause), cause).
		WithDetail("backend", backend)
}

// GetCode extracts the error code from anywhere in the chain.
// Returns empty string if no CSError is present.
func GetCode(err error) string {
	var ce *CSError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from anywhere in the chain.
func GetCategory(err error) Category {
	var ce *CSError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// HasCode reports whether any CSError in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		if ce, ok := err.(*CSError); ok && ce.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Message returns the bare message of the outermost CSError, or err.Error()
// for foreign errors. Used where the code is reported out of band.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ce *CSError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}
