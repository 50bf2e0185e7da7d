package logging

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// OperationError records which storage or extraction call failed, for which
// request, and after how many attempts.
type OperationError struct {
	Operation string
	RequestID string
	Attempts  int
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var meta []string
	if e.RequestID != "" {
		meta = append(meta, "request_id="+e.RequestID)
	}
	if e.Attempts > 1 {
		meta = append(meta, fmt.Sprintf("attempts=%d", e.Attempts))
	}
	if len(meta) == 0 {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Operation, strings.Join(meta, " "), e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fields renders the error for structured logs.
func (e *OperationError) Fields() []zap.Field {
	fields := []zap.Field{zap.String("operation", e.Operation), zap.Error(e.Err)}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	if e.Attempts > 0 {
		fields = append(fields, zap.Int("attempts", e.Attempts))
	}
	return fields
}

// NewOperationError wraps err; a nil err stays nil.
func NewOperationError(operation, requestID string, err error) error {
	return NewRetriedError(operation, requestID, 0, err)
}

// NewRetriedError is NewOperationError for calls that went through a retry loop.
func NewRetriedError(operation, requestID string, attempts int, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Attempts: attempts, Err: err}
}

// ErrorFields returns the fields of the first OperationError in err's chain,
// or a plain error field.
func ErrorFields(err error) []zap.Field {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Fields()
	}
	return []zap.Field{zap.Error(err)}
}
