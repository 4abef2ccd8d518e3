// Package mcp implements the Model Context Protocol server for codectx.
package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/codectx/codectx/internal/apperr"
)

// Custom MCP error codes for codectx.
const (
	ErrCodeIndexNotFound   = -32001
	ErrCodeEmbeddingFailed = -32002
	ErrCodeTimeout         = -32003
	ErrCodeFileNotFound    = -32004
	ErrCodeFileTooLarge    = -32005

	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

var (
	ErrIndexNotFound   = errors.New("index not found")
	ErrEmbeddingFailed = errors.New("embedding generation failed")
	ErrFileTooLarge    = errors.New("file too large")
	ErrToolNotFound    = errors.New("tool not found")
	ErrInvalidParams   = errors.New("invalid parameters")
	ErrResourceNotFound = errors.New("resource not found")
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. Every tool handler
// routes its error through here so transport never sees a raw fault.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return mapAppError(appErr)
	}

	switch {
	case errors.Is(err, ErrIndexNotFound):
		return &MCPError{Code: ErrCodeIndexNotFound, Message: "Index not found. Run 'codectx index' first."}
	case errors.Is(err, ErrEmbeddingFailed):
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: "Embedding generation failed. Using BM25-only results."}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrFileTooLarge):
		return &MCPError{Code: ErrCodeFileTooLarge, Message: "File is too large to process."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{Code: ErrCodeInvalidParams, Message: "Invalid parameters."}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Resource not found."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Resource '%s' not found.", uri)}
}

func mapAppError(ae *apperr.Error) *MCPError {
	message := ae.Message
	if ae.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ae.Message, ae.Suggestion)
	}

	switch ae.Kind {
	case apperr.KindDatabaseNotFound, apperr.KindNoDatabases:
		return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
	case apperr.KindEmbedding, apperr.KindModelLoad:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case apperr.KindIO:
		return &MCPError{Code: ErrCodeFileNotFound, Message: message}
	case apperr.KindConfig:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case apperr.KindSearch, apperr.KindChunking, apperr.KindRerank:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
