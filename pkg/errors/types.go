// Package errors provides custom error types and error handling utilities for the
// upload engine. This file defines the closed taxonomy of error kinds the rest of
// the engine classifies failures into, and the retryability defaults that follow
// from each kind.
package errors

import "net/http"

// ErrorKind identifies the category a failure belongs to. The set is closed:
// callers pattern-match on it instead of inspecting arbitrary error strings.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindNetworkDisconnect
	KindServerError
	KindServerOverload
	KindTimeout
	KindChunkUploadFailed
	KindInvalidChunkSize
	KindQuotaExceeded
	KindAuthenticationFailed
	KindAuthorizationFailed
	KindFileError
	KindStorageError
	KindCanceled
	KindPaused
)

// String returns the human-readable name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindNetworkDisconnect:
		return "network_disconnect"
	case KindServerError:
		return "server_error"
	case KindServerOverload:
		return "server_overload"
	case KindTimeout:
		return "timeout"
	case KindChunkUploadFailed:
		return "chunk_upload_failed"
	case KindInvalidChunkSize:
		return "invalid_chunk_size"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindAuthorizationFailed:
		return "authorization_failed"
	case KindFileError:
		return "file_error"
	case KindStorageError:
		return "storage_error"
	case KindCanceled:
		return "canceled"
	case KindPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// DefaultRetryable reports whether a freshly classified error of this kind should
// be retried absent any other signal. RetryController may still override this with
// per-task history (e.g. too many consecutive failures of a nominally retryable kind).
func (k ErrorKind) DefaultRetryable() bool {
	switch k {
	case KindNetwork, KindNetworkDisconnect, KindServerError, KindServerOverload, KindTimeout:
		return true
	default:
		return false
	}
}

// TypedError is an error annotated with a closed ErrorKind, an optional HTTP
// status code, and the underlying cause.
type TypedError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *TypedError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/errors.As to see through a TypedError.
func (e *TypedError) Unwrap() error {
	return e.Err
}

// Retryable reports whether this specific error should be retried.
func (e *TypedError) Retryable() bool {
	return e.Kind.DefaultRetryable()
}

func newTyped(kind ErrorKind, statusCode int, message string, err error) *TypedError {
	return &TypedError{Kind: kind, Message: message, StatusCode: statusCode, Err: err}
}

// NewNetworkError creates a TypedError for a transient network failure (dial
// errors, connection reset, DNS failure).
func NewNetworkError(message string, err error) *TypedError {
	return newTyped(KindNetwork, 0, message, err)
}

// NewNetworkDisconnectError creates a TypedError for a detected offline state.
func NewNetworkDisconnectError(message string, err error) *TypedError {
	return newTyped(KindNetworkDisconnect, 0, message, err)
}

// NewServerError creates a TypedError for a 5xx response.
func NewServerError(message string, err error) *TypedError {
	return newTyped(KindServerError, http.StatusInternalServerError, message, err)
}

// NewServerOverloadError creates a TypedError for a 429/503 throttling response.
func NewServerOverloadError(message string, err error) *TypedError {
	return newTyped(KindServerOverload, http.StatusTooManyRequests, message, err)
}

// NewTimeoutError creates a TypedError for a request or context deadline expiry.
func NewTimeoutError(message string, err error) *TypedError {
	return newTyped(KindTimeout, http.StatusRequestTimeout, message, err)
}

// NewChunkUploadError creates a TypedError for a chunk that exhausted its retries.
func NewChunkUploadError(message string, err error) *TypedError {
	return newTyped(KindChunkUploadFailed, 0, message, err)
}

// NewInvalidChunkSizeError creates a TypedError for a chunk plan that violates
// the configured size bounds.
func NewInvalidChunkSizeError(message string) *TypedError {
	return newTyped(KindInvalidChunkSize, http.StatusBadRequest, message, nil)
}

// NewQuotaExceededError creates a TypedError for a storage-quota rejection.
func NewQuotaExceededError(message string, err error) *TypedError {
	return newTyped(KindQuotaExceeded, http.StatusInsufficientStorage, message, err)
}

// NewAuthenticationFailedError creates a TypedError for a 401 response.
func NewAuthenticationFailedError(message string, err error) *TypedError {
	return newTyped(KindAuthenticationFailed, http.StatusUnauthorized, message, err)
}

// NewAuthorizationFailedError creates a TypedError for a 403 response.
func NewAuthorizationFailedError(message string, err error) *TypedError {
	return newTyped(KindAuthorizationFailed, http.StatusForbidden, message, err)
}

// NewFileError creates a TypedError for a local filesystem failure (open, read,
// seek against the source file).
func NewFileError(message string, err error) *TypedError {
	return newTyped(KindFileError, 0, message, err)
}

// NewStorageError creates a TypedError for a ResumeStore persistence failure.
func NewStorageError(message string, err error) *TypedError {
	return newTyped(KindStorageError, 0, message, err)
}

// NewCanceledError creates a TypedError for a task canceled by the caller.
func NewCanceledError(message string) *TypedError {
	return newTyped(KindCanceled, 0, message, nil)
}

// NewPausedError creates a TypedError for a task paused by the caller.
func NewPausedError(message string) *TypedError {
	return newTyped(KindPaused, 0, message, nil)
}

// KindOf returns the ErrorKind of err if it is (or wraps) a *TypedError, and
// KindUnknown otherwise.
func KindOf(err error) ErrorKind {
	var typed *TypedError
	if As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}

// IsNetworkError reports whether err is a network-class TypedError.
func IsNetworkError(err error) bool { return KindOf(err) == KindNetwork }

// IsNetworkDisconnectError reports whether err signals a detected offline state.
func IsNetworkDisconnectError(err error) bool { return KindOf(err) == KindNetworkDisconnect }

// IsServerError reports whether err is a 5xx-class TypedError.
func IsServerError(err error) bool { return KindOf(err) == KindServerError }

// IsServerOverloadError reports whether err is a throttling TypedError.
func IsServerOverloadError(err error) bool { return KindOf(err) == KindServerOverload }

// IsTimeoutError reports whether err is a timeout TypedError.
func IsTimeoutError(err error) bool { return KindOf(err) == KindTimeout }

// IsChunkUploadError reports whether err is an exhausted-retries chunk failure.
func IsChunkUploadError(err error) bool { return KindOf(err) == KindChunkUploadFailed }

// IsInvalidChunkSizeError reports whether err is an invalid chunk-plan error.
func IsInvalidChunkSizeError(err error) bool { return KindOf(err) == KindInvalidChunkSize }

// IsQuotaExceededError reports whether err is a quota-exceeded TypedError.
func IsQuotaExceededError(err error) bool { return KindOf(err) == KindQuotaExceeded }

// IsAuthenticationFailedError reports whether err is a 401-class TypedError.
func IsAuthenticationFailedError(err error) bool { return KindOf(err) == KindAuthenticationFailed }

// IsAuthorizationFailedError reports whether err is a 403-class TypedError.
func IsAuthorizationFailedError(err error) bool { return KindOf(err) == KindAuthorizationFailed }

// IsFileError reports whether err is a local filesystem TypedError.
func IsFileError(err error) bool { return KindOf(err) == KindFileError }

// IsStorageError reports whether err is a ResumeStore TypedError.
func IsStorageError(err error) bool { return KindOf(err) == KindStorageError }

// IsCanceledError reports whether err represents a canceled task.
func IsCanceledError(err error) bool { return KindOf(err) == KindCanceled }

// IsPausedError reports whether err represents a paused task.
func IsPausedError(err error) bool { return KindOf(err) == KindPaused }

// IsRetryable reports whether err should be retried, consulting the TypedError's
// kind if present and defaulting to false for plain errors.
func IsRetryable(err error) bool {
	var typed *TypedError
	if As(err, &typed) {
		return typed.Retryable()
	}
	return false
}
