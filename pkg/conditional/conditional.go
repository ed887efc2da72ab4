// Package conditional evaluates HTTP precondition headers (If-Match,
// If-None-Match, If-Modified-Since, If-Unmodified-Since) against a resource's
// current etag and modification time, per RFC 7232 semantics with strong etag
// comparison.
package conditional

import (
	"net/http"
	"strings"
	"time"

	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
)

// Resource is the current state of the resource a request addresses.
type Resource struct {
	Etag       string
	ModifiedMs int64
}

// Disposition is the outcome of precondition evaluation.
type Disposition int

const (
	// Proceed means no precondition blocks the request.
	Proceed Disposition = iota

	// NotModified means a safe method should answer 304.
	NotModified

	// PreconditionFailed means the request must answer 412.
	PreconditionFailed
)

// Result carries the disposition and, for failures, the header that caused
// it (lowercased, e.g. "if-match").
type Result struct {
	Disposition Disposition
	Header      string
}

// Evaluate applies the request's precondition headers against the resource.
// res is nil when the resource does not exist. A malformed date header fails
// with a BadRequest error; otherwise the error is nil and the Result is
// authoritative.
func Evaluate(method string, hdr http.Header, res *Resource) (Result, error) {
	safe := method == http.MethodGet || method == http.MethodHead

	if v := hdr.Get("If-Match"); v != "" {
		if res == nil || !etagListMatches(v, res.Etag) {
			return Result{Disposition: PreconditionFailed, Header: "if-match"}, nil
		}
	}

	if v := hdr.Get("If-Unmodified-Since"); v != "" && res != nil {
		t, err := parseHTTPDate(v, "if-unmodified-since")
		if err != nil {
			return Result{}, err
		}
		if modifiedAfter(res.ModifiedMs, t) {
			return Result{Disposition: PreconditionFailed, Header: "if-unmodified-since"}, nil
		}
	}

	if v := hdr.Get("If-None-Match"); v != "" {
		if res != nil && etagListMatches(v, res.Etag) {
			if safe {
				return Result{Disposition: NotModified, Header: "if-none-match"}, nil
			}
			return Result{Disposition: PreconditionFailed, Header: "if-none-match"}, nil
		}
	} else if v := hdr.Get("If-Modified-Since"); v != "" && safe && res != nil {
		t, err := parseHTTPDate(v, "if-modified-since")
		if err != nil {
			return Result{}, err
		}
		if !modifiedAfter(res.ModifiedMs, t) {
			return Result{Disposition: NotModified, Header: "if-modified-since"}, nil
		}
	}

	return Result{Disposition: Proceed}, nil
}

// etagListMatches reports whether any etag in the comma-separated header
// value strongly matches current. The wildcard matches any extant resource.
// Weak validators (W/ prefix) never match under strong comparison.
func etagListMatches(header, current string) bool {
	for _, raw := range strings.Split(header, ",") {
		candidate := strings.TrimSpace(raw)
		if candidate == "*" {
			return true
		}
		if strings.HasPrefix(candidate, "W/") {
			continue
		}
		if strings.Trim(candidate, `"`) == current {
			return true
		}
	}
	return false
}

// modifiedAfter reports whether the resource mtime is strictly after t.
// HTTP dates have second resolution, so the mtime is truncated first.
func modifiedAfter(modifiedMs int64, t time.Time) bool {
	mtime := time.UnixMilli(modifiedMs).Truncate(time.Second)
	return mtime.After(t.Truncate(time.Second))
}

// parseHTTPDate parses an HTTP date header, failing with BadRequest on
// malformed input.
func parseHTTPDate(v, header string) (time.Time, error) {
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, gwerrors.Newf(gwerrors.CodeBadRequest,
			"malformed %s date: %q", header, v)
	}
	return t, nil
}
