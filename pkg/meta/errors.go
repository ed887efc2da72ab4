package meta

import (
	"errors"
	"fmt"
)

// ErrorCode represents the kind of metadata tier failure.
type ErrorCode int

const (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound ErrorCode = iota + 1

	// ErrEtagMismatch indicates a conditional write observed a different
	// etag than the one supplied. Never retried by callers.
	ErrEtagMismatch

	// ErrConflict indicates an if-absent write collided with an existing
	// record.
	ErrConflict

	// ErrShardUnavailable indicates the shard could not be reached. The
	// operation may be retried by the client-facing caller.
	ErrShardUnavailable

	// ErrCrossShard indicates a batch referenced keys on different shards.
	ErrCrossShard

	// ErrInvalidKey indicates a malformed record key.
	ErrInvalidKey
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NotFound"
	case ErrEtagMismatch:
		return "EtagMismatch"
	case ErrConflict:
		return "Conflict"
	case ErrShardUnavailable:
		return "ShardUnavailable"
	case ErrCrossShard:
		return "CrossShard"
	case ErrInvalidKey:
		return "InvalidKey"
	default:
		return fmt.Sprintf("Unknown(%d)", int(e))
	}
}

// Error represents a metadata tier error with an error code.
type Error struct {
	Code    ErrorCode
	Message string
	Key     string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key: %s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFoundError creates a NotFound error for a key.
func NewNotFoundError(key string) *Error {
	return &Error{Code: ErrNotFound, Message: "record not found", Key: key}
}

// NewEtagMismatchError creates an EtagMismatch error for a key.
func NewEtagMismatchError(key, expected, actual string) *Error {
	return &Error{
		Code:    ErrEtagMismatch,
		Message: fmt.Sprintf("etag mismatch: expected %q, found %q", expected, actual),
		Key:     key,
	}
}

// NewConflictError creates a Conflict error for a key.
func NewConflictError(key string) *Error {
	return &Error{Code: ErrConflict, Message: "record already exists", Key: key}
}

// NewShardUnavailableError creates a ShardUnavailable error.
func NewShardUnavailableError(shard int, cause error) *Error {
	return &Error{
		Code:    ErrShardUnavailable,
		Message: fmt.Sprintf("shard %d unavailable: %v", shard, cause),
	}
}

// codeOf extracts the metadata error code, or 0 when err carries none.
func codeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return 0
}

// IsNotFound reports whether err is a metadata NotFound error.
func IsNotFound(err error) bool {
	return codeOf(err) == ErrNotFound
}

// IsEtagMismatch reports whether err is a metadata EtagMismatch error.
func IsEtagMismatch(err error) bool {
	return codeOf(err) == ErrEtagMismatch
}

// IsConflict reports whether err is a metadata Conflict error.
func IsConflict(err error) bool {
	return codeOf(err) == ErrConflict
}

// IsShardUnavailable reports whether err is a ShardUnavailable error.
func IsShardUnavailable(err error) bool {
	return codeOf(err) == ErrShardUnavailable
}
