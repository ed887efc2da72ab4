package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/shoal/pkg/auth"
	"github.com/marmos91/shoal/pkg/gateway"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/metrics"
)

// Response headers the gateway sets on object reads and writes.
const (
	HeaderComputedMD5 = "Computed-MD5"
	HeaderDurability  = "Durability-Level"
)

// ObjectHandler serves the object namespace: PUT, GET, HEAD and DELETE on
// /:account/... paths.
type ObjectHandler struct {
	gw      *gateway.Gateway
	metrics *metrics.GatewayMetrics
}

// NewObjectHandler creates the object handler. Metrics may be nil.
func NewObjectHandler(gw *gateway.Gateway, m *metrics.GatewayMetrics) *ObjectHandler {
	return &ObjectHandler{gw: gw, metrics: m}
}

// RequestPath rebuilds the metadata key addressed by an object route.
func RequestPath(r *http.Request) string {
	account := chi.URLParam(r, "account")
	rest := chi.URLParam(r, "*")
	if rest == "" {
		return "/" + account
	}
	return "/" + account + "/" + rest
}

// Put handles PUT /:account/*. Requests carrying the directory content type
// run the mkdir pipeline; everything else streams an object.
func (h *ObjectHandler) Put(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())
	path := RequestPath(r)

	if isDirectoryContentType(r.Header.Get("Content-Type")) {
		h.putDirectory(w, r, path, principal.Operator)
		return
	}

	copies, err := durabilityLevel(r.Header)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	maxLen, err := nonNegativeHeader(r.Header, "Max-Content-Length")
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	res, err := h.gw.PutObject(r.Context(), &gateway.PutObjectInput{
		Account:          chi.URLParam(r, "account"),
		Path:             path,
		Body:             r.Body,
		ContentLength:    r.ContentLength,
		MaxContentLength: maxLen,
		ContentMD5:       r.Header.Get("Content-MD5"),
		ContentType:      r.Header.Get("Content-Type"),
		Copies:           copies,
		Headers:          customHeaders(r.Header),
		Conditional:      r.Header,
		IsOperator:       principal.Operator,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if r.ContentLength > 0 {
		h.metrics.RecordBytes("in", r.ContentLength)
	}
	writeEntityHeaders(w, res.Etag, res.ModifiedMs)
	w.Header().Set(HeaderComputedMD5, res.ComputedMD5)
	WriteNoContent(w)
}

func (h *ObjectHandler) putDirectory(w http.ResponseWriter, r *http.Request, path string, operator bool) {
	res, err := h.gw.PutDirectory(r.Context(), &gateway.PutDirectoryInput{
		Account:       chi.URLParam(r, "account"),
		Path:          path,
		Headers:       customHeaders(r.Header),
		Conditional:   r.Header,
		IsOperator:    operator,
		ObjectHeaders: objectOnlyHeaders(r),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeEntityHeaders(w, res.Etag, res.ModifiedMs)
	WriteNoContent(w)
}

// Get handles GET and HEAD on /:account/*.
func (h *ObjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, RequestPath(r))
}

// serve runs the read pipeline for path; uploads routes reuse it for plain
// metadata reads under the uploads tree.
func (h *ObjectHandler) serve(w http.ResponseWriter, r *http.Request, path string) {
	principal, _ := auth.PrincipalFrom(r.Context())
	res, err := h.gw.GetObject(r.Context(), &gateway.GetObjectInput{
		Account:     chi.URLParam(r, "account"),
		Path:        path,
		Method:      r.Method,
		Accept:      r.Header.Get("Accept"),
		Range:       r.Header.Get("Range"),
		Conditional: r.Header,
		IsOperator:  principal.Operator,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if res.NotModified {
		writeEntityHeaders(w, res.Record.Etag, res.Record.ModifiedMs)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	rec := res.Record
	writeEntityHeaders(w, rec.Etag, rec.ModifiedMs)
	w.Header().Set("Content-Type", rec.ContentType)
	if rec.ContentMD5 != "" {
		w.Header().Set("Content-MD5", rec.ContentMD5)
	}
	if !rec.IsDirectory() {
		w.Header().Set(HeaderDurability, strconv.Itoa(len(rec.Sharks)))
		w.Header().Set("Accept-Ranges", "bytes")
	}
	for k, v := range rec.Headers {
		w.Header().Set(k, v)
	}

	if res.ContentRange != "" {
		w.Header().Set("Content-Range", res.ContentRange)
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(rec.ContentLength, 10))
	}

	if res.Body == nil {
		w.WriteHeader(res.Status)
		return
	}
	defer res.Body.Close()

	w.WriteHeader(res.Status)
	n, _ := io.Copy(w, res.Body)
	h.metrics.RecordBytes("out", n)
}

// Delete handles DELETE /:account/*.
func (h *ObjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())
	err := h.gw.DeleteObject(r.Context(), &gateway.DeleteObjectInput{
		Account:     chi.URLParam(r, "account"),
		Path:        RequestPath(r),
		Conditional: r.Header,
		IsOperator:  principal.Operator,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteNoContent(w)
}

func writeEntityHeaders(w http.ResponseWriter, etag string, modifiedMs int64) {
	w.Header().Set("Etag", etag)
	w.Header().Set("Last-Modified",
		time.UnixMilli(modifiedMs).UTC().Format(http.TimeFormat))
}

// isDirectoryContentType matches the directory media type regardless of
// parameter ordering or spacing.
func isDirectoryContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json" && params["type"] == "directory"
}

// durabilityLevel parses the requested replica count. The unprefixed header
// wins when both spellings are present. Zero means "use the default".
func durabilityLevel(hdr http.Header) (int, error) {
	raw := hdr.Get("Durability-Level")
	if raw == "" {
		raw = hdr.Get("X-Durability-Level")
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, gwerrors.Newf(gwerrors.CodeInvalidDurabilityLevel,
			"malformed durability-level %q", raw)
	}
	return n, nil
}

func nonNegativeHeader(hdr http.Header, name string) (int64, error) {
	raw := hdr.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("malformed %s %q", strings.ToLower(name), raw)
	}
	return n, nil
}

// customHeaders extracts the m-* metadata headers, keys lowercased.
func customHeaders(hdr http.Header) map[string]string {
	var out map[string]string
	for k, v := range hdr {
		lower := strings.ToLower(k)
		if !strings.HasPrefix(lower, "m-") || len(v) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[lower] = v[0]
	}
	return out
}

// objectOnlyHeaders lists the headers on a mkdir request that only make
// sense for objects.
func objectOnlyHeaders(r *http.Request) []string {
	var out []string
	if r.Header.Get("Content-MD5") != "" {
		out = append(out, "content-md5")
	}
	if r.Header.Get("Durability-Level") != "" || r.Header.Get("X-Durability-Level") != "" {
		out = append(out, "durability-level")
	}
	if r.ContentLength > 0 {
		out = append(out, "content-length")
	}
	return out
}
