// Package errors provides the gateway error taxonomy. It is a leaf package
// with no internal dependencies so that the pipelines, the MPU state machine
// and the HTTP handlers can all share one set of error codes without import
// cycles.
//
// Every failure that crosses a package boundary inside the gateway is either
// a *Error from this package or wraps one. The HTTP layer maps codes to
// status codes via Status().
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the kind of gateway failure.
type Code int

const (
	// CodeBadRequest indicates a malformed header or body.
	CodeBadRequest Code = iota + 1

	// CodePreconditionFailed indicates a conditional-header mismatch.
	CodePreconditionFailed

	// CodeResourceNotFound indicates a missing path or missing upload.
	CodeResourceNotFound

	// CodeNotAcceptable indicates content-type negotiation failed.
	CodeNotAcceptable

	// CodeDirectoryLimit indicates the parent directory is full.
	CodeDirectoryLimit

	// CodeDirectoryNotEmpty indicates a DELETE on a non-empty directory.
	CodeDirectoryNotEmpty

	// CodeParentNotDirectory indicates a path component is not a directory.
	CodeParentNotDirectory

	// CodeOperationNotAllowedOnDirectory indicates an object operation was
	// attempted on a directory path.
	CodeOperationNotAllowedOnDirectory

	// CodeOperationNotAllowedOnRoot indicates a write to the account root.
	CodeOperationNotAllowedOnRoot

	// CodeInvalidDurabilityLevel indicates a copies value outside limits.
	CodeInvalidDurabilityLevel

	// CodeMaxContentLength indicates the body size exceeds the cap.
	CodeMaxContentLength

	// CodeChecksumMismatch indicates the computed digest differs from the
	// client-supplied one.
	CodeChecksumMismatch

	// CodeConcurrentRequest indicates an etag mismatch on a metadata write.
	CodeConcurrentRequest

	// CodeSharksExhausted indicates no replica candidate set was usable.
	CodeSharksExhausted

	// CodeNotEnoughSpace indicates placement could not form a candidate set.
	CodeNotEnoughSpace

	// CodeInvalidArgument indicates an invalid multipart commit argument
	// (bad part set, size mismatch, too many parts).
	CodeInvalidArgument

	// CodeFinalizeConflict indicates a commit-versus-abort race or a
	// finalize of an incompatible type.
	CodeFinalizeConflict

	// CodeStateError indicates an illegal MPU state transition.
	CodeStateError

	// CodeAuthorization indicates the caller is not allowed to act on the
	// resource.
	CodeAuthorization

	// CodeInternal indicates an unexpected invariant violation.
	CodeInternal
)

// String returns the wire-visible name for the code.
func (c Code) String() string {
	switch c {
	case CodeBadRequest:
		return "BadRequest"
	case CodePreconditionFailed:
		return "PreconditionFailed"
	case CodeResourceNotFound:
		return "ResourceNotFound"
	case CodeNotAcceptable:
		return "NotAcceptable"
	case CodeDirectoryLimit:
		return "DirectoryLimitExceeded"
	case CodeDirectoryNotEmpty:
		return "DirectoryNotEmpty"
	case CodeParentNotDirectory:
		return "ParentNotDirectory"
	case CodeOperationNotAllowedOnDirectory:
		return "OperationNotAllowedOnDirectory"
	case CodeOperationNotAllowedOnRoot:
		return "OperationNotAllowedOnRootDirectory"
	case CodeInvalidDurabilityLevel:
		return "InvalidDurabilityLevel"
	case CodeMaxContentLength:
		return "MaxContentLengthExceeded"
	case CodeChecksumMismatch:
		return "ContentMD5Mismatch"
	case CodeConcurrentRequest:
		return "ConcurrentRequest"
	case CodeSharksExhausted:
		return "SharksExhausted"
	case CodeNotEnoughSpace:
		return "NotEnoughSpace"
	case CodeInvalidArgument:
		return "MultipartUploadInvalidArgument"
	case CodeFinalizeConflict:
		return "MultipartUploadFinalizeConflict"
	case CodeStateError:
		return "MultipartUploadStateError"
	case CodeAuthorization:
		return "AuthorizationFailed"
	case CodeInternal:
		return "InternalError"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// Status returns the HTTP status code for the error code.
func (c Code) Status() int {
	switch c {
	case CodeBadRequest, CodeDirectoryLimit, CodeDirectoryNotEmpty,
		CodeParentNotDirectory, CodeOperationNotAllowedOnDirectory,
		CodeOperationNotAllowedOnRoot, CodeInvalidDurabilityLevel,
		CodeChecksumMismatch:
		return http.StatusBadRequest
	case CodePreconditionFailed, CodeConcurrentRequest:
		return http.StatusPreconditionFailed
	case CodeResourceNotFound:
		return http.StatusNotFound
	case CodeNotAcceptable:
		return http.StatusNotAcceptable
	case CodeMaxContentLength:
		return http.StatusRequestEntityTooLarge
	case CodeSharksExhausted:
		return http.StatusServiceUnavailable
	case CodeNotEnoughSpace:
		return http.StatusInsufficientStorage
	case CodeInvalidArgument, CodeFinalizeConflict, CodeStateError:
		return http.StatusConflict
	case CodeAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed gateway failure carrying a code, a human-readable message
// and optionally the path the failure refers to.
type Error struct {
	Code    Code
	Message string
	Path    string
	// Invariant names the violated internal invariant for CodeInternal
	// errors. It is logged, never sent to clients.
	Invariant string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path: %s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPath returns a copy of the error annotated with a path.
func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

// CodeOf extracts the gateway code from err, walking the wrap chain.
// Errors that do not carry a gateway code report CodeInternal.
func CodeOf(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given gateway code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ============================================================================
// Factory helpers for the common cases
// ============================================================================

// NotFound creates a ResourceNotFound error for a path.
func NotFound(path string) *Error {
	return &Error{Code: CodeResourceNotFound, Message: "resource not found", Path: path}
}

// BadRequest creates a BadRequest error.
func BadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Message: message}
}

// PreconditionFailed creates a PreconditionFailed error.
func PreconditionFailed(message string) *Error {
	return &Error{Code: CodePreconditionFailed, Message: message}
}

// ConcurrentRequest creates a ConcurrentRequest error for a path.
func ConcurrentRequest(path string) *Error {
	return &Error{
		Code:    CodeConcurrentRequest,
		Message: "the request conflicted with a concurrent mutation",
		Path:    path,
	}
}

// Internal creates an Internal error naming the violated invariant.
func Internal(invariant, message string) *Error {
	return &Error{Code: CodeInternal, Message: message, Invariant: invariant}
}
