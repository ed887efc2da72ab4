package meta

import (
	"encoding/json"
	"fmt"
)

// RecordType distinguishes objects from directories in the metadata tier.
type RecordType string

const (
	// TypeObject marks a record that points at replicated object bytes.
	TypeObject RecordType = "object"

	// TypeDirectory marks a directory record.
	TypeDirectory RecordType = "directory"
)

// ZeroByteMD5 is the base64 MD5 digest of the empty byte string. Zero-byte
// objects carry it without ever touching a storage node.
const ZeroByteMD5 = "1B2M2Y8AsgTpgAmY7PhCfg=="

// SharkRef identifies one storage node of a replica set.
type SharkRef struct {
	Datacenter string `json:"datacenter"`
	ID         string `json:"storage_id"`
}

// Record is a durable object or directory entry.
//
// Etag and ModifiedMs live on the storage envelope (Entry), not in the JSON
// value; they are stamped onto the decoded record by the client on load.
type Record struct {
	Key           string            `json:"key"`
	Type          RecordType        `json:"type"`
	Owner         string            `json:"owner"`
	ObjectID      string            `json:"objectId,omitempty"`
	ContentLength int64             `json:"contentLength"`
	ContentMD5    string            `json:"contentMD5,omitempty"`
	ContentType   string            `json:"contentType,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Sharks        []SharkRef        `json:"sharks,omitempty"`
	CreatedMs     int64             `json:"mtime"`

	Etag       string `json:"-"`
	ModifiedMs int64  `json:"-"`
}

// IsDirectory reports whether the record is a directory.
func (r *Record) IsDirectory() bool {
	return r.Type == TypeDirectory
}

// UploadState is the lifecycle state of a multipart upload.
type UploadState string

const (
	// StateCreated is the initial upload state; parts may be written.
	StateCreated UploadState = "created"

	// StateFinalizing means an abort or commit has begun; the branch is
	// labeled by the finalizing type and can never switch.
	StateFinalizing UploadState = "finalizing"
)

// FinalizeType labels the terminal branch of a finalizing upload.
type FinalizeType string

const (
	// FinalizeAbort marks an aborted upload.
	FinalizeAbort FinalizeType = "abort"

	// FinalizeCommit marks a committed upload.
	FinalizeCommit FinalizeType = "commit"
)

// UploadRecord is the durable state of a multipart upload between requests.
// It lives on the shard of the owner's uploads directory.
type UploadRecord struct {
	ID             string            `json:"id"`
	Owner          string            `json:"owner"`
	State          UploadState       `json:"state"`
	FinalizingType FinalizeType      `json:"finalizingType,omitempty"`
	TargetPath     string            `json:"targetPath"`
	TargetKey      string            `json:"targetKey"`
	UploadPath     string            `json:"uploadPath"`
	Headers        map[string]string `json:"headers,omitempty"`
	Sharks         []SharkRef        `json:"sharks,omitempty"`
	ObjectID       string            `json:"objectId"`
	Copies         int               `json:"copies"`
	Size           int64             `json:"size"` // -1 when not declared
	PartsMD5       string            `json:"partsMD5,omitempty"`
	CreatedMs      int64             `json:"mtime"`

	Etag string `json:"-"`
}

// FinalizingRecord is the atomic marker that an upload was finalized exactly
// once. It is keyed by FinalizingKey(uploadID, targetKey) and therefore lives
// on the target object's shard.
type FinalizingRecord struct {
	UploadID   string       `json:"uploadId"`
	Type       FinalizeType `json:"type"`
	Owner      string       `json:"owner"`
	TargetPath string       `json:"targetPath"`
	ObjectID   string       `json:"objectId"`
	ContentMD5 string       `json:"contentMD5,omitempty"`
	PartsMD5   string       `json:"partsMD5,omitempty"`
}

// ============================================================================
// Envelope codecs
// ============================================================================

// EncodeRecord marshals a record into a storage value.
func EncodeRecord(r *Record) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord unmarshals a storage entry into a Record, stamping the
// envelope etag and mtime.
func DecodeRecord(e *Entry) (*Record, error) {
	var r Record
	if err := json.Unmarshal(e.Value, &r); err != nil {
		return nil, fmt.Errorf("decode record %q: %w", e.Key, err)
	}
	r.Etag = e.Etag
	r.ModifiedMs = e.ModifiedMs
	return &r, nil
}

// EncodeUpload marshals an upload record into a storage value.
func EncodeUpload(u *UploadRecord) ([]byte, error) {
	return json.Marshal(u)
}

// DecodeUpload unmarshals a storage entry into an UploadRecord.
func DecodeUpload(e *Entry) (*UploadRecord, error) {
	var u UploadRecord
	if err := json.Unmarshal(e.Value, &u); err != nil {
		return nil, fmt.Errorf("decode upload record %q: %w", e.Key, err)
	}
	u.Etag = e.Etag
	return &u, nil
}

// EncodeFinalizing marshals a finalizing record into a storage value.
func EncodeFinalizing(f *FinalizingRecord) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFinalizing unmarshals a storage entry into a FinalizingRecord.
func DecodeFinalizing(e *Entry) (*FinalizingRecord, error) {
	var f FinalizingRecord
	if err := json.Unmarshal(e.Value, &f); err != nil {
		return nil, fmt.Errorf("decode finalizing record %q: %w", e.Key, err)
	}
	return &f, nil
}
