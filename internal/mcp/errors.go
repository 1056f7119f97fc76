// Package mcp exposes code search as Model Context Protocol tools, so AI
// clients can query a codesearch server over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	cserrors "github.com/Aman-CERP/codesearch/internal/errors"
)

// JSON-RPC and server-defined error codes.
const (
	ErrCodeIndexNotFound = -32001
	ErrCodeTimeout       = -32003
	ErrCodeUnavailable   = -32006

	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is a tool error with a protocol error code.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid params error.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError converts an error from the search server into an MCPError.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var ce *cserrors.CSError
	if !errors.As(err, &ce) {
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	}
	msg := ce.Message
	if ce.Suggestion != "" {
		msg = ce.Message + ". " + ce.Suggestion
	}

	switch {
	case cserrors.HasCode(err, cserrors.ErrCodeNoActiveIndex), cserrors.HasCode(err, cserrors.ErrCodeCorruptIndex):
		return &MCPError{Code: ErrCodeIndexNotFound, Message: msg}
	case cserrors.HasCode(err, cserrors.ErrCodeConnection):
		return &MCPError{Code: ErrCodeUnavailable, Message: msg}
	}
	switch ce.Category {
	case cserrors.CategoryQuery, cserrors.CategoryProtocol, cserrors.CategoryConfig:
		return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
	case cserrors.CategoryLSP:
		return &MCPError{Code: ErrCodeUnavailable, Message: msg}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: msg}
	}
}
