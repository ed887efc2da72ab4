package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for gateway operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Gateway-level keys use "obj." prefix, storage-tier keys their own prefix.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Object attributes
	// ========================================================================
	AttrOperation     = "obj.operation"      // Gateway operation name
	AttrAccount       = "obj.account"        // Owning account
	AttrKey           = "obj.key"            // Normalized object key
	AttrObjectID      = "obj.id"             // Content-addressed object id
	AttrContentLength = "obj.content_length" // Object size in bytes
	AttrContentMD5    = "obj.content_md5"    // Base64 MD5 digest
	AttrDurability    = "obj.durability"     // Requested copy count
	AttrEtag          = "obj.etag"           // Metadata record etag
	AttrDirectory     = "obj.directory"      // True for directory records

	// ========================================================================
	// Multipart upload attributes
	// ========================================================================
	AttrUploadID   = "mpu.upload_id"
	AttrPartNum    = "mpu.part_num"
	AttrPartCount  = "mpu.part_count"
	AttrUploadKey  = "mpu.upload_key"
	AttrFinalState = "mpu.state"

	// ========================================================================
	// Metadata tier attributes
	// ========================================================================
	AttrShard      = "meta.shard"
	AttrRoutingKey = "meta.routing_key"

	// ========================================================================
	// Storage node attributes
	// ========================================================================
	AttrSharkID      = "shark.id"
	AttrSharkDC      = "shark.datacenter"
	AttrCandidateSet = "shark.candidate_set"
	AttrBytesIn      = "shark.bytes_in"
	AttrBytesOut     = "shark.bytes_out"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	SpanPutObject    = "gateway.put_object"
	SpanGetObject    = "gateway.get_object"
	SpanDeleteObject = "gateway.delete_object"
	SpanPutDirectory = "gateway.put_directory"

	SpanMPUCreate = "mpu.create"
	SpanMPUPart   = "mpu.upload_part"
	SpanMPUCommit = "mpu.commit"
	SpanMPUAbort  = "mpu.abort"
	SpanMPUState  = "mpu.state"

	SpanFanoutWrite = "shark.fanout_write"
	SpanSharkFetch  = "shark.fetch"

	SpanMetaGet    = "metadata.get"
	SpanMetaPut    = "metadata.put"
	SpanMetaDelete = "metadata.delete"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// Operation returns an attribute for the gateway operation name
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// Account returns an attribute for the owning account
func Account(account string) attribute.KeyValue {
	return attribute.String(AttrAccount, account)
}

// Key returns an attribute for the normalized object key
func Key(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// ObjectID returns an attribute for the content-addressed object id
func ObjectID(id string) attribute.KeyValue {
	return attribute.String(AttrObjectID, id)
}

// ContentLength returns an attribute for object size
func ContentLength(n int64) attribute.KeyValue {
	return attribute.Int64(AttrContentLength, n)
}

// Durability returns an attribute for the requested copy count
func Durability(copies int) attribute.KeyValue {
	return attribute.Int(AttrDurability, copies)
}

// Etag returns an attribute for a metadata record etag
func Etag(etag string) attribute.KeyValue {
	return attribute.String(AttrEtag, etag)
}

// Directory returns an attribute marking a directory record
func Directory(isDir bool) attribute.KeyValue {
	return attribute.Bool(AttrDirectory, isDir)
}

// UploadID returns an attribute for a multipart upload id
func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

// PartNum returns an attribute for a multipart part number
func PartNum(n int) attribute.KeyValue {
	return attribute.Int(AttrPartNum, n)
}

// PartCount returns an attribute for the committed part count
func PartCount(n int) attribute.KeyValue {
	return attribute.Int(AttrPartCount, n)
}

// SharkID returns an attribute for a storage node id
func SharkID(id string) attribute.KeyValue {
	return attribute.String(AttrSharkID, id)
}

// SharkDC returns an attribute for a storage node datacenter
func SharkDC(dc string) attribute.KeyValue {
	return attribute.String(AttrSharkDC, dc)
}

// CandidateSet returns an attribute for the fanout candidate set index
func CandidateSet(n int) attribute.KeyValue {
	return attribute.Int(AttrCandidateSet, n)
}

// Shard returns an attribute for a metadata shard index
func Shard(n int) attribute.KeyValue {
	return attribute.Int(AttrShard, n)
}

// RoutingKey returns an attribute for a metadata routing key
func RoutingKey(key string) attribute.KeyValue {
	return attribute.String(AttrRoutingKey, key)
}

// StartObjectSpan starts a span for a gateway object operation.
// This is a convenience function that sets common attributes.
func StartObjectSpan(ctx context.Context, name, account, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Account(account),
		Key(key),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartUploadSpan starts a span for a multipart upload operation.
func StartUploadSpan(ctx context.Context, name, account, id string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Account(account),
		UploadID(id),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartMetadataSpan starts a span for a metadata tier operation.
func StartMetadataSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "metadata."+operation, trace.WithAttributes(attrs...))
}
