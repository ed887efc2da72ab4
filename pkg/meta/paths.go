package meta

import (
	"path"
	"strings"
)

// Record keys are normalized absolute paths whose first segment is the owning
// account, e.g. "/poseidon/stor/a/b". The account root ("/poseidon") is the
// only key without a parent.

// NormalizeKey normalizes p into a record key. It rejects empty paths,
// relative paths and paths that escape the root.
func NormalizeKey(p string) (string, error) {
	if p == "" {
		return "", &Error{Code: ErrInvalidKey, Message: "empty path"}
	}
	if !strings.HasPrefix(p, "/") {
		return "", &Error{Code: ErrInvalidKey, Message: "path must be absolute", Key: p}
	}
	// Reject ".." segments outright rather than resolving them: a traversal
	// like "/a/stor/../../b" must never normalize into another account's tree.
	for _, seg := range strings.Split(p[1:], "/") {
		if seg == ".." {
			return "", &Error{Code: ErrInvalidKey, Message: "path escapes root", Key: p}
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "/" {
		return "", &Error{Code: ErrInvalidKey, Message: "path names no account", Key: p}
	}
	return cleaned, nil
}

// ParentKey returns the parent directory key of key, or "" for account roots.
func ParentKey(key string) string {
	parent := path.Dir(key)
	if parent == "/" || parent == "." || parent == key {
		return ""
	}
	return parent
}

// AccountOf returns the account segment of a record key.
func AccountOf(key string) string {
	trimmed := strings.TrimPrefix(key, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

// IsAccountRoot reports whether key addresses an account root directory.
func IsAccountRoot(key string) bool {
	return key != "" && ParentKey(key) == ""
}

// ChildName returns the last path segment of key.
func ChildName(key string) string {
	return path.Base(key)
}

// FinalizingKey builds the finalizing record key for an upload. The target
// object key is embedded after the separator so the routing key (and thus the
// shard) is the target object's, letting the commit batch co-locate the
// finalizing record with the object record.
func FinalizingKey(uploadID, targetKey string) string {
	return uploadID + ":" + targetKey
}

// RoutingKey returns the portion of key used for shard selection. For
// finalizing record keys this is the embedded target object key; for all
// other keys it is the key itself.
func RoutingKey(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}
