// Package errors provides structured error types for the smoosense engine.
// Every error carries a category, code, message, and retryable flag so the
// transport layer can map failures without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the component that raised them.
type ErrorCategory string

const (
	ErrCategoryPath       ErrorCategory = "PATH"
	ErrCategoryDataset    ErrorCategory = "DATASET"
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategorySession    ErrorCategory = "SESSION"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Path codes
	CodeInvalidPath = "INVALID_PATH"
	CodeNotFound    = "NOT_FOUND"

	// Dataset codes
	CodeAmbiguousDataset  = "AMBIGUOUS_DATASET"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"

	// Schema codes
	CodeInferenceFailed = "INFERENCE_FAILED"

	// Query codes
	CodeQueryFailed      = "QUERY_FAILED"
	CodeExecutionTimeout = "EXECUTION_TIMEOUT"
	CodeCancelled        = "CANCELLED"
	CodeReadOnly         = "READ_ONLY"

	// Session codes
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeSessionBusy     = "SESSION_BUSY"
	CodeSessionExpired  = "SESSION_EXPIRED"
	CodeSessionLimit    = "SESSION_LIMIT"

	// Validation codes
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidCursor  = "INVALID_CURSOR"

	// Storage codes
	CodePresignFailed = "PRESIGN_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// EngineError is the structured error type used throughout the engine.
type EngineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
// This lets the sentinels below be used with errors.Is.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new EngineError.
func New(category ErrorCategory, code, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new EngineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *EngineError {
	return &EngineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details merged in.
func (e *EngineError) WithDetails(details map[string]interface{}) *EngineError {
	cp := *e
	merged := make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	cp.Details = merged
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an EngineError.
func GetCategory(err error) ErrorCategory {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an EngineError.
func GetCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// GetDetails extracts the details map from an error chain.
func GetDetails(err error) map[string]interface{} {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Details
	}
	return nil
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategorySession && code == CodeSessionBusy:
		return true
	case category == ErrCategoryQuery && code == CodeExecutionTimeout:
		return true
	case category == ErrCategoryStorage && code == CodePresignFailed:
		return true
	default:
		return false
	}
}

// Sentinels for errors.Is checks. Only category and code are compared.
var (
	ErrInvalidPath      = New(ErrCategoryPath, CodeInvalidPath, "invalid path")
	ErrNotFound         = New(ErrCategoryPath, CodeNotFound, "not found")
	ErrAmbiguousDataset = New(ErrCategoryDataset, CodeAmbiguousDataset, "ambiguous dataset")
	ErrSchemaInference  = New(ErrCategorySchema, CodeInferenceFailed, "schema inference failed")
	ErrQuery            = New(ErrCategoryQuery, CodeQueryFailed, "query failed")
	ErrTimeout          = New(ErrCategoryQuery, CodeExecutionTimeout, "query timed out")
	ErrCancelled        = New(ErrCategoryQuery, CodeCancelled, "query cancelled")
	ErrReadOnly         = New(ErrCategoryQuery, CodeReadOnly, "statement not allowed")
	ErrSessionNotFound  = New(ErrCategorySession, CodeSessionNotFound, "session not found")
	ErrSessionBusy      = New(ErrCategorySession, CodeSessionBusy, "session busy")
	ErrSessionExpired   = New(ErrCategorySession, CodeSessionExpired, "session expired")
	ErrInvalidCursor    = New(ErrCategoryValidation, CodeInvalidCursor, "invalid cursor")
)

// Convenience constructors for the engine's error taxonomy.

func NewInvalidPathError(path, reason string) *EngineError {
	return New(ErrCategoryPath, CodeInvalidPath, fmt.Sprintf("invalid path %q: %s", path, reason)).
		WithDetails(map[string]interface{}{"path": path})
}

func NewNotFoundError(path string, cause error) *EngineError {
	return Wrap(ErrCategoryPath, CodeNotFound, fmt.Sprintf("path %q not found", path), cause).
		WithDetails(map[string]interface{}{"path": path})
}

func NewAmbiguousDatasetError(path string, candidates []string) *EngineError {
	return New(ErrCategoryDataset, CodeAmbiguousDataset,
		fmt.Sprintf("directory %q holds %d dataset candidates, choose a format", path, len(candidates))).
		WithDetails(map[string]interface{}{"path": path, "candidates": candidates})
}

func NewUnsupportedFormatError(path string) *EngineError {
	return New(ErrCategoryDataset, CodeUnsupportedFormat, fmt.Sprintf("no tabular format recognised for %q", path)).
		WithDetails(map[string]interface{}{"path": path})
}

func NewSchemaInferenceError(datasetID, file string, cause error) *EngineError {
	return Wrap(ErrCategorySchema, CodeInferenceFailed, fmt.Sprintf("cannot infer schema of %q", file), cause).
		WithDetails(map[string]interface{}{"dataset": datasetID, "file": file})
}

func NewQueryError(datasets []string, cause error) *EngineError {
	return Wrap(ErrCategoryQuery, CodeQueryFailed, "query failed", cause).
		WithDetails(map[string]interface{}{"datasets": datasets})
}

func NewTimeoutError(timeout fmt.Stringer) *EngineError {
	return New(ErrCategoryQuery, CodeExecutionTimeout, fmt.Sprintf("query exceeded deadline of %s", timeout))
}

func NewInspectTimeoutError(datasetID string, timeout fmt.Stringer) *EngineError {
	return New(ErrCategoryQuery, CodeExecutionTimeout, fmt.Sprintf("schema inspection of %q exceeded deadline of %s", datasetID, timeout)).
		WithDetails(map[string]interface{}{"dataset": datasetID})
}

func NewCancelledError() *EngineError {
	return New(ErrCategoryQuery, CodeCancelled, "query cancelled")
}

func NewReadOnlyError(keyword string) *EngineError {
	return New(ErrCategoryQuery, CodeReadOnly, fmt.Sprintf("%s statements are not allowed, the engine is read-only", keyword))
}

func NewSessionNotFoundError(token string) *EngineError {
	return New(ErrCategorySession, CodeSessionNotFound, "session not found").
		WithDetails(map[string]interface{}{"session": token})
}

func NewSessionBusyError(token string) *EngineError {
	return New(ErrCategorySession, CodeSessionBusy, "session already has a running query").
		WithDetails(map[string]interface{}{"session": token})
}

func NewSessionExpiredError(token string) *EngineError {
	return New(ErrCategorySession, CodeSessionExpired, "session expired").
		WithDetails(map[string]interface{}{"session": token})
}

func NewSessionLimitError(limit int) *EngineError {
	return New(ErrCategorySession, CodeSessionLimit, fmt.Sprintf("session limit of %d reached", limit))
}

func NewValidationError(message string) *EngineError {
	return New(ErrCategoryValidation, CodeInvalidRequest, message)
}

func NewInvalidCursorError(reason string) *EngineError {
	return New(ErrCategoryValidation, CodeInvalidCursor, "invalid cursor: "+reason)
}

func NewStorageError(code, message string, cause error) *EngineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *EngineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
