package logging

import (
	"errors"
	"fmt"
)

// OperationError annotates an error with the pipeline step that produced it.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %v", e.Operation, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with the operation and request it belongs to.
// A nil err stays nil. An OperationError for the same request is re-labelled
// instead of nested so messages do not repeat the request id.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	var inner *OperationError
	if errors.As(err, &inner) && inner.RequestID == requestID && requestID != "" {
		return &OperationError{Operation: operation, RequestID: requestID, Err: inner.Err}
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// OperationOf returns the outermost operation recorded on err, or "".
func OperationOf(err error) string {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Operation
	}
	return ""
}
