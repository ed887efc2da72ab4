package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that requests can
// be correlated across the HTTP edge, the placement view, the replica fan-out
// and the metadata tier.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Request Identification
	// ========================================================================
	KeyRequestID = "request_id" // Gateway-assigned request id
	KeyMethod    = "method"     // HTTP method
	KeyRoute     = "route"      // Matched route pattern
	KeyAccount   = "account"    // Owning account of the target resource
	KeyClientIP  = "client_ip"  // Client IP address

	// ========================================================================
	// Object & Directory Operations
	// ========================================================================
	KeyPath       = "path"        // Normalized object/directory path
	KeyParentPath = "parent_path" // Parent directory path
	KeyObjectID   = "object_id"   // Opaque object identifier
	KeyEtag       = "etag"        // Metadata record etag
	KeySize       = "size"        // Content length in bytes
	KeyCopies     = "copies"      // Requested durability level
	KeyMD5        = "content_md5" // Base64 content digest

	// ========================================================================
	// Multipart Uploads
	// ========================================================================
	KeyUploadID  = "upload_id"  // Multipart upload identifier
	KeyPartNum   = "part_num"   // Part index within an upload
	KeyNumParts  = "num_parts"  // Number of parts in a commit
	KeyUploadDir = "upload_dir" // Parts directory path

	// ========================================================================
	// Storage Nodes & Placement
	// ========================================================================
	KeyShark      = "shark"      // Storage node identifier
	KeySharks     = "sharks"     // Replica set (comma-joined node ids)
	KeyDatacenter = "datacenter" // Storage node datacenter
	KeyCandidate  = "candidate"  // Candidate set index during fail-over
	KeyAttempt    = "attempt"    // Retry attempt number

	// ========================================================================
	// Metadata Tier
	// ========================================================================
	KeyShard = "shard" // Metadata shard index
	KeyKey   = "key"   // Metadata record key

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"      // Error message
	KeyErrorCode  = "error_code" // Gateway error code name
	KeyStatus     = "status"     // HTTP status code
	KeyOperation  = "operation"  // Sub-operation type for compound operations
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// RequestID returns a slog.Attr for the gateway request id
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Method returns a slog.Attr for the HTTP method
func Method(m string) slog.Attr {
	return slog.String(KeyMethod, m)
}

// Route returns a slog.Attr for the matched route pattern
func Route(r string) slog.Attr {
	return slog.String(KeyRoute, r)
}

// Account returns a slog.Attr for the owning account
func Account(a string) slog.Attr {
	return slog.String(KeyAccount, a)
}

// ClientIP returns a slog.Attr for the client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Path returns a slog.Attr for a normalized path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// ParentPath returns a slog.Attr for the parent directory path
func ParentPath(p string) slog.Attr {
	return slog.String(KeyParentPath, p)
}

// ObjectID returns a slog.Attr for an object identifier
func ObjectID(id string) slog.Attr {
	return slog.String(KeyObjectID, id)
}

// Etag returns a slog.Attr for a metadata record etag
func Etag(e string) slog.Attr {
	return slog.String(KeyEtag, e)
}

// Size returns a slog.Attr for a content length
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Copies returns a slog.Attr for a durability level
func Copies(n int) slog.Attr {
	return slog.Int(KeyCopies, n)
}

// MD5 returns a slog.Attr for a base64 content digest
func MD5(d string) slog.Attr {
	return slog.String(KeyMD5, d)
}

// UploadID returns a slog.Attr for a multipart upload identifier
func UploadID(id string) slog.Attr {
	return slog.String(KeyUploadID, id)
}

// PartNum returns a slog.Attr for a part index
func PartNum(n int) slog.Attr {
	return slog.Int(KeyPartNum, n)
}

// NumParts returns a slog.Attr for the number of parts in a commit
func NumParts(n int) slog.Attr {
	return slog.Int(KeyNumParts, n)
}

// UploadDir returns a slog.Attr for the parts directory path
func UploadDir(p string) slog.Attr {
	return slog.String(KeyUploadDir, p)
}

// Shark returns a slog.Attr for a storage node identifier
func Shark(id string) slog.Attr {
	return slog.String(KeyShark, id)
}

// Datacenter returns a slog.Attr for a storage node datacenter
func Datacenter(dc string) slog.Attr {
	return slog.String(KeyDatacenter, dc)
}

// Candidate returns a slog.Attr for a candidate set index
func Candidate(i int) slog.Attr {
	return slog.Int(KeyCandidate, i)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Shard returns a slog.Attr for a metadata shard index
func Shard(i int) slog.Attr {
	return slog.Int(KeyShard, i)
}

// Key returns a slog.Attr for a metadata record key
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a gateway error code name
func ErrorCode(code string) slog.Attr {
	return slog.String(KeyErrorCode, code)
}

// Status returns a slog.Attr for an HTTP status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Operation returns a slog.Attr for a sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}
