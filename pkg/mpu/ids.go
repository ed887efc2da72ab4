// Package mpu implements the multipart upload protocol: create, upload-part,
// abort, commit and state, with the upload record's etag as the serialization
// point and the finalizing record's if-absent write as the exactly-once
// commit point.
package mpu

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Prefix directory length bounds. The prefix spreads upload directories
// under /<account>/uploads so no single directory grows unbounded.
const (
	MinPrefixLen     = 1
	MaxPrefixLen     = 4
	DefaultPrefixLen = 1

	// LegacyPrefixLen is assumed for ids whose last hex digit does not
	// encode a valid prefix length.
	LegacyPrefixLen = 1
)

// NewUploadID generates an upload id: a 32-hex-digit token whose last digit
// encodes the prefix directory length.
func NewUploadID(prefixLen int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:31] + strconv.FormatInt(int64(prefixLen), 16)
}

// ValidID reports whether id has the upload id shape.
func ValidID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, c := range id {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

// PrefixLen decodes the prefix directory length from the id's last hex
// digit, falling back to the legacy length for ids that predate the
// encoding.
func PrefixLen(id string) int {
	if id == "" {
		return LegacyPrefixLen
	}
	n, err := strconv.ParseInt(id[len(id)-1:], 16, 0)
	if err != nil || n < MinPrefixLen || n > MaxPrefixLen {
		return LegacyPrefixLen
	}
	return int(n)
}

// UploadsRoot returns the account's top-level uploads directory.
func UploadsRoot(account string) string {
	return "/" + account + "/uploads"
}

// PrefixDir returns the prefix directory holding the upload.
func PrefixDir(account, id string, prefixLen int) string {
	return UploadsRoot(account) + "/" + id[:prefixLen]
}

// UploadKey returns the upload directory key for the given prefix length.
// The upload directory doubles as the parts directory.
func UploadKey(account, id string, prefixLen int) string {
	return PrefixDir(account, id, prefixLen) + "/" + id
}

// PartKey returns the metadata key of one part.
func PartKey(uploadKey string, partNum int) string {
	return uploadKey + "/" + strconv.Itoa(partNum)
}
