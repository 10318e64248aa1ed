package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"time"
)

// ErrorType classifies errors that leave a component. Query error types are
// part of the RPC wire format.
type ErrorType string

const (
	// Query errors
	ErrorTypeNotReady     ErrorType = "not_ready"
	ErrorTypeInvalidQuery ErrorType = "invalid_query"
	ErrorTypeEmbedding    ErrorType = "embedding"
	ErrorTypeFileNotFound ErrorType = "file_not_found"
	ErrorTypeInternal     ErrorType = "internal"

	// Build and file errors
	ErrorTypeIndexing   ErrorType = "indexing"
	ErrorTypeParse      ErrorType = "parse"
	ErrorTypePermission ErrorType = "permission"

	ErrorTypeConfig ErrorType = "config"
)

// Sentinels for errors.Is against a *QueryError of the matching type.
var (
	ErrNotReady     = &QueryError{Type: ErrorTypeNotReady}
	ErrInvalidQuery = &QueryError{Type: ErrorTypeInvalidQuery}
	ErrEmbedding    = &QueryError{Type: ErrorTypeEmbedding}
	ErrFileNotFound = &QueryError{Type: ErrorTypeFileNotFound}
	ErrInternal     = &QueryError{Type: ErrorTypeInternal}
)

// QueryError is returned by every query-service operation.
type QueryError struct {
	Type       ErrorType
	Operation  string
	Message    string
	Suggestion string
	Underlying error
}

// NewQueryError creates a query error of the given type
func NewQueryError(typ ErrorType, op, message string, err error) *QueryError {
	return &QueryError{Type: typ, Operation: op, Message: message, Underlying: err}
}

// NotReady is returned while the index is still being built
func NotReady(op string) *QueryError {
	return NewQueryError(ErrorTypeNotReady, op, "index not ready - still indexing", nil)
}

// InvalidQuery wraps a query compilation failure
func InvalidQuery(op, message string) *QueryError {
	return NewQueryError(ErrorTypeInvalidQuery, op, message, nil)
}

// Embedding wraps a model load or inference failure
func Embedding(op string, err error) *QueryError {
	return NewQueryError(ErrorTypeEmbedding, op, "embedding failed", err)
}

// FileNotFound reports a path the index does not track
func FileNotFound(op, path, suggestion string) *QueryError {
	e := NewQueryError(ErrorTypeFileNotFound, op, fmt.Sprintf("file not indexed: %s", path), nil)
	e.Suggestion = suggestion
	return e
}

// Internal wraps an unexpected failure
func Internal(op string, err error) *QueryError {
	return NewQueryError(ErrorTypeInternal, op, "internal error", err)
}

// Error implements the error interface
func (e *QueryError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	if e.Underlying != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Underlying)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s (did you mean %s?)", msg, e.Suggestion)
	}
	if e.Operation != "" {
		return fmt.Sprintf("%s: %s", e.Operation, msg)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As
func (e *QueryError) Unwrap() error {
	return e.Underlying
}

// Is matches any *QueryError with the same Type, so callers can write
// errors.Is(err, errors.ErrNotReady).
func (e *QueryError) Is(target error) bool {
	t, ok := target.(*QueryError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// TypeOf returns the query error type of err, or ErrorTypeInternal when err
// is not a *QueryError.
func TypeOf(err error) ErrorType {
	var qe *QueryError
	if stderrors.As(err, &qe) {
		return qe.Type
	}
	return ErrorTypeInternal
}

// IndexingError records a single file that failed to parse or embed during
// a build or refresh.
type IndexingError struct {
	Type       ErrorType
	FilePath   string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewIndexingError creates a new indexing error with context
func NewIndexingError(op, path string, err error) *IndexingError {
	return &IndexingError{
		Type:       ErrorTypeIndexing,
		FilePath:   path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

func (e *IndexingError) Error() string {
	if e.FilePath != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Operation, e.FilePath, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Operation, e.Underlying)
}

func (e *IndexingError) Unwrap() error {
	return e.Underlying
}

// FileError represents a file-related error
type FileError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewFileError creates a new file error
func NewFileError(op, path string, err error) *FileError {
	errorType := ErrorTypeFileNotFound
	if stderrors.Is(err, fs.ErrPermission) {
		errorType = ErrorTypePermission
	}
	return &FileError{
		Type:       errorType,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

func (e *FileError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError collects independent failures, such as the files that could not
// be indexed during one build.
type MultiError struct {
	Errors []error
}

// NewMultiError creates a multi-error, dropping nil entries
func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// ErrorOrNil returns nil when no errors were collected
func (e *MultiError) ErrorOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

func (e *MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
