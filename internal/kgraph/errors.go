package kgraph

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the error taxonomy named in the engine's error
// handling design. Callers switch on Kind() rather than parsing
// error strings.
type ErrorKind string

const (
	KindEntityNotFound         ErrorKind = "EntityNotFound"
	KindDuplicateEntity        ErrorKind = "DuplicateEntity"
	KindRelationNotFound       ErrorKind = "RelationNotFound"
	KindCycleDetected          ErrorKind = "CycleDetected"
	KindInvalidImportance      ErrorKind = "InvalidImportance"
	KindValidationFailed       ErrorKind = "ValidationFailed"
	KindSchemaValidationFailed ErrorKind = "SchemaValidationFailed"
	KindInvalidQuery           ErrorKind = "InvalidQuery"
	KindSearchFailed           ErrorKind = "SearchFailed"
	KindIndexNotReady          ErrorKind = "IndexNotReady"
	KindEmbeddingFailed        ErrorKind = "EmbeddingFailed"
	KindStorageRead            ErrorKind = "StorageRead"
	KindStorageWrite           ErrorKind = "StorageWrite"
	KindStorageCorrupted       ErrorKind = "StorageCorrupted"
	KindImport                 ErrorKind = "Import"
	KindExport                 ErrorKind = "Export"
	KindFileOperation          ErrorKind = "FileOperation"
	KindOperationCancelled     ErrorKind = "OperationCancelled"
	KindUnsupportedFeature     ErrorKind = "UnsupportedFeature"
	KindMissingDependency      ErrorKind = "MissingDependency"
	KindInvalidConfig          ErrorKind = "InvalidConfig"
	KindInsufficientEntities   ErrorKind = "InsufficientEntities"
)

// Error is the concrete error type returned by every public API. It
// carries a Kind for programmatic classification and wraps an
// optional underlying cause.
type Error struct {
	kind    ErrorKind
	message string
	cause   error
}

func newErr(kind ErrorKind, message string) *Error {
	return &Error{kind: kind, message: message}
}

func wrapErr(kind ErrorKind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error taxonomy classification of e.
func (e *Error) Kind() ErrorKind { return e.kind }

// KindOf returns the ErrorKind of err if it is (or wraps) a *Error,
// and ok=false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, true
	}
	return "", false
}

// Is allows errors.Is(err, ErrEntityNotFound) style matching against
// a sentinel constructed with the same kind, regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.kind == t.kind
	}
	return false
}

// Sentinel errors for errors.Is comparisons against a bare kind.
var (
	ErrEntityNotFound       = newErr(KindEntityNotFound, "entity not found")
	ErrDuplicateEntity      = newErr(KindDuplicateEntity, "entity already exists")
	ErrRelationNotFound     = newErr(KindRelationNotFound, "relation not found")
	ErrCycleDetected        = newErr(KindCycleDetected, "parent chain cycle detected")
	ErrInvalidImportance    = newErr(KindInvalidImportance, "importance out of range")
	ErrValidationFailed     = newErr(KindValidationFailed, "validation failed")
	ErrInvalidQuery         = newErr(KindInvalidQuery, "invalid query")
	ErrIndexNotReady        = newErr(KindIndexNotReady, "index not ready")
	ErrOperationCancelled   = newErr(KindOperationCancelled, "operation cancelled")
	ErrInsufficientEntities = newErr(KindInsufficientEntities, "insufficient entities")
)
