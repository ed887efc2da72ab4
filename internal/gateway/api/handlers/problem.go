// Package handlers provides the HTTP handlers of the gateway API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marmos91/shoal/internal/logger"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/meta"
)

// Problem represents an RFC 7807 "problem details" response.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	// If not set, defaults to "about:blank".
	Type string `json:"type,omitempty"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	problem := &Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}

	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError translates a pipeline error into a problem response. Typed
// gateway errors carry their own status and title; anything else is an
// internal error, logged with the request context and reported opaquely.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var ge *gwerrors.Error
	if errors.As(err, &ge) {
		status := ge.Code.Status()
		if status >= http.StatusInternalServerError {
			logger.ErrorCtx(r.Context(), "request failed",
				"error", err,
				"invariant", ge.Invariant,
				"method", r.Method,
				"path", r.URL.Path,
			)
			WriteProblem(w, status, ge.Code.String(), "internal error")
			return
		}
		WriteProblem(w, status, ge.Code.String(), ge.Message)
		return
	}

	var me *meta.Error
	if errors.As(err, &me) && me.Code == meta.ErrInvalidKey {
		BadRequest(w, me.Message)
		return
	}

	logger.ErrorCtx(r.Context(), "request failed",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
	)
	WriteProblem(w, http.StatusInternalServerError, "InternalError", "internal error")
}

// BadRequest writes a 400 Bad Request problem response.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "BadRequestError", detail)
}

// Unauthorized writes a 401 Unauthorized problem response.
func Unauthorized(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusUnauthorized, "AuthorizationRequiredError", detail)
}

// Forbidden writes a 403 Forbidden problem response.
func Forbidden(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusForbidden, "AuthorizationError", detail)
}

// NotFound writes a 404 Not Found problem response.
func NotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusNotFound, "ResourceNotFoundError", detail)
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteNoContent writes a 204 No Content response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
