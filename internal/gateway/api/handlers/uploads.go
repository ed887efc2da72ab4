package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/shoal/pkg/auth"
	"github.com/marmos91/shoal/pkg/metrics"
	"github.com/marmos91/shoal/pkg/mpu"
)

// UploadHandler serves the multipart upload surface under
// /:account/uploads. Paths below the uploads root that do not address a
// live upload fall back to plain metadata reads via the object handler.
type UploadHandler struct {
	mgr     *mpu.Manager
	objects *ObjectHandler
	metrics *metrics.GatewayMetrics
}

// NewUploadHandler creates the uploads handler. Metrics may be nil.
func NewUploadHandler(mgr *mpu.Manager, objects *ObjectHandler, m *metrics.GatewayMetrics) *UploadHandler {
	return &UploadHandler{mgr: mgr, objects: objects, metrics: m}
}

// createRequest is the POST /:account/uploads body.
type createRequest struct {
	ObjectPath string            `json:"objectPath"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// createResponse names the new upload.
type createResponse struct {
	ID             string `json:"id"`
	PartsDirectory string `json:"partsDirectory"`
}

// Create handles POST /:account/uploads.
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())
	account := chi.URLParam(r, "account")

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "malformed request body: "+err.Error())
		return
	}

	res, err := h.mgr.Create(r.Context(), &mpu.CreateInput{
		Account:    account,
		ObjectPath: req.ObjectPath,
		Headers:    lowercaseKeys(req.Headers),
		IsOperator: principal.Operator,
	})
	h.metrics.RecordMPUOperation("create", err)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	w.Header().Set("Location", res.PartsDirectory)
	WriteJSON(w, http.StatusCreated, &createResponse{
		ID:             res.ID,
		PartsDirectory: res.PartsDirectory,
	})
}

// UploadPart handles PUT /:account/uploads/:prefix/:id/:partNum.
func (h *UploadHandler) UploadPart(w http.ResponseWriter, r *http.Request) {
	partNum, err := strconv.Atoi(chi.URLParam(r, "partNum"))
	if err != nil {
		BadRequest(w, "malformed part number")
		return
	}

	res, err := h.mgr.UploadPart(r.Context(), &mpu.UploadPartInput{
		Account:       chi.URLParam(r, "account"),
		ID:            chi.URLParam(r, "id"),
		PartNum:       partNum,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		ContentMD5:    r.Header.Get("Content-MD5"),
	})
	h.metrics.RecordMPUOperation("upload-part", err)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if r.ContentLength > 0 {
		h.metrics.RecordBytes("in", r.ContentLength)
	}
	w.Header().Set("Etag", res.Etag)
	WriteNoContent(w)
}

// commitRequest is the POST .../commit body.
type commitRequest struct {
	Parts []string `json:"parts"`
}

// Commit handles POST /:account/uploads/:prefix/:id/commit.
func (h *UploadHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "malformed request body: "+err.Error())
		return
	}

	res, err := h.mgr.Commit(r.Context(), &mpu.CommitInput{
		Account: chi.URLParam(r, "account"),
		ID:      chi.URLParam(r, "id"),
		Parts:   req.Parts,
	})
	h.metrics.RecordMPUOperation("commit", err)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	w.Header().Set("Location", res.ObjectPath)
	w.Header().Set("Etag", res.Etag)
	w.Header().Set(HeaderComputedMD5, res.ComputedMD5)
	w.WriteHeader(http.StatusCreated)
}

// Abort handles POST /:account/uploads/:prefix/:id/abort.
func (h *UploadHandler) Abort(w http.ResponseWriter, r *http.Request) {
	err := h.mgr.Abort(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "id"))
	h.metrics.RecordMPUOperation("abort", err)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteNoContent(w)
}

// State handles GET /:account/uploads/:prefix/:id/state.
func (h *UploadHandler) State(w http.ResponseWriter, r *http.Request) {
	res, err := h.mgr.State(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Redirect handles GET/HEAD/POST /:account/uploads/:id, pointing clients at
// the prefixed upload directory. Non-id paths fall through to a metadata
// read of the addressed key.
func (h *UploadHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prefix")
	if !mpu.ValidID(id) {
		h.fallthroughRead(w, r)
		return
	}
	h.redirectTo(w, r, id, "")
}

// RedirectPart handles GET/HEAD/POST /:account/uploads/:id/:partNum.
func (h *UploadHandler) RedirectPart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prefix")
	part := chi.URLParam(r, "id")
	if !mpu.ValidID(id) || !isPartNum(part) {
		h.fallthroughRead(w, r)
		return
	}
	h.redirectTo(w, r, id, "/"+part)
}

func (h *UploadHandler) redirectTo(w http.ResponseWriter, r *http.Request, id, suffix string) {
	key, err := h.mgr.ResolveUploadKey(r.Context(), chi.URLParam(r, "account"), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	http.Redirect(w, r, key+suffix, http.StatusMovedPermanently)
}

// UploadDirRead handles GET/HEAD on fully prefixed uploads paths, which
// address plain metadata records (the upload directory and part objects).
func (h *UploadHandler) UploadDirRead(w http.ResponseWriter, r *http.Request) {
	h.fallthroughRead(w, r)
}

func (h *UploadHandler) fallthroughRead(w http.ResponseWriter, r *http.Request) {
	// POST only makes sense on the redirect routes; everything else under the
	// uploads tree is read-only.
	if r.Method == http.MethodPost {
		WriteProblem(w, http.StatusMethodNotAllowed, "MethodNotAllowed",
			"POST is not supported on "+uploadsRequestPath(r))
		return
	}
	h.objects.serve(w, r, uploadsRequestPath(r))
}

// uploadsRequestPath rebuilds the full key for a route under
// /:account/uploads from its positional parameters.
func uploadsRequestPath(r *http.Request) string {
	account := chi.URLParam(r, "account")
	path := "/" + account + "/uploads"
	for _, name := range []string{"prefix", "id", "partNum"} {
		if v := chi.URLParam(r, name); v != "" {
			path += "/" + v
		}
	}
	return path
}

func isPartNum(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 0 && n <= mpu.MaxPartNum
}

func lowercaseKeys(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
