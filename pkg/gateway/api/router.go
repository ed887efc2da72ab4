// Package api provides the HTTP surface of the gateway: the chi router
// with the object and multipart upload routes, and the server lifecycle.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/shoal/internal/gateway/api/handlers"
	apiMiddleware "github.com/marmos91/shoal/internal/gateway/api/middleware"
	"github.com/marmos91/shoal/internal/logger"
	"github.com/marmos91/shoal/pkg/auth"
	"github.com/marmos91/shoal/pkg/gateway"
	"github.com/marmos91/shoal/pkg/metrics"
	"github.com/marmos91/shoal/pkg/mpu"
	"github.com/marmos91/shoal/pkg/placement"
)

// RouterDeps carries the collaborators the router wires together.
type RouterDeps struct {
	Gateway    *gateway.Gateway
	Uploads    *mpu.Manager
	View       *placement.View
	Authorizer auth.Authorizer

	// Metrics may be nil when metrics are disabled.
	Metrics *metrics.GatewayMetrics
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /metrics - Prometheus metrics (404 when disabled)
//   - POST /{account}/uploads - Create a multipart upload
//   - GET/HEAD/POST /{account}/uploads/{id} - Redirect to the prefixed upload path
//   - GET/HEAD/POST /{account}/uploads/{id}/{partNum} - Redirect to the prefixed part path
//   - PUT /{account}/uploads/{prefix}/{id}/{partNum} - Upload a part
//   - GET /{account}/uploads/{prefix}/{id}/state - Upload state
//   - POST /{account}/uploads/{prefix}/{id}/abort - Abort the upload
//   - POST /{account}/uploads/{prefix}/{id}/commit - Commit the upload
//   - PUT/GET/HEAD/DELETE /{account}/* - Object and directory operations
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Metrics))
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(deps.View)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})

	objects := handlers.NewObjectHandler(deps.Gateway, deps.Metrics)
	uploads := handlers.NewUploadHandler(deps.Uploads, objects, deps.Metrics)

	r.Group(func(r chi.Router) {
		r.Use(apiMiddleware.BearerAuth(deps.Authorizer))

		r.Route("/{account}", func(r chi.Router) {
			r.Use(apiMiddleware.RequireAccountOwner())

			// The multipart upload surface. The first two path segments
			// after /uploads are the prefix directory and the upload id on
			// the canonical routes, and the upload id and part number on
			// the unprefixed redirect routes; the handlers disambiguate.
			r.Route("/uploads", func(r chi.Router) {
				r.Use(apiMiddleware.RejectSubusers())

				r.Post("/", uploads.Create)
				r.Get("/", uploads.UploadDirRead)
				r.Head("/", uploads.UploadDirRead)

				r.Get("/{prefix}", uploads.Redirect)
				r.Head("/{prefix}", uploads.Redirect)
				r.Post("/{prefix}", uploads.Redirect)
				r.Get("/{prefix}/{id}", uploads.RedirectPart)
				r.Head("/{prefix}/{id}", uploads.RedirectPart)
				r.Post("/{prefix}/{id}", uploads.RedirectPart)

				r.Put("/{prefix}/{id}/{partNum}", uploads.UploadPart)
				r.Get("/{prefix}/{id}/{partNum}", uploads.UploadDirRead)
				r.Head("/{prefix}/{id}/{partNum}", uploads.UploadDirRead)
				r.Get("/{prefix}/{id}/state", uploads.State)
				r.Post("/{prefix}/{id}/abort", uploads.Abort)
				r.Post("/{prefix}/{id}/commit", uploads.Commit)
			})

			// Object namespace.
			r.Put("/*", objects.Put)
			r.Get("/*", objects.Get)
			r.Head("/*", objects.Get)
			r.Delete("/*", objects.Delete)
			r.Put("/", objects.Put)
			r.Get("/", objects.Get)
			r.Head("/", objects.Get)
			r.Delete("/", objects.Delete)
		})
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/metrics"
}

// requestLogger logs requests using the internal logger and feeds the
// request metrics.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
func requestLogger(m *metrics.GatewayMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())
			done := m.RequestStarted()
			defer done()

			logger.Debug("request started",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)

			if !isHealthPath(r.URL.Path) {
				m.ObserveRequest(routePattern(r), strconv.Itoa(ww.Status()), duration)
			}

			logArgs := []any{
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", duration.String(),
			}

			// Log healthcheck requests at DEBUG to avoid polluting logs in k8s
			if isHealthPath(r.URL.Path) {
				logger.Debug("request completed", logArgs...)
			} else {
				logger.Info("request completed", logArgs...)
			}
		})
	}
}

// routePattern labels metrics with the matched route, not the raw path,
// keeping the label cardinality bounded.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return r.Method + " unmatched"
	}
	return r.Method + " " + rctx.RoutePattern()
}
