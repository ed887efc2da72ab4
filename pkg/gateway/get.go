package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/marmos91/shoal/internal/telemetry"
	"github.com/marmos91/shoal/pkg/conditional"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/meta"
)

// GetObjectInput carries one GET or HEAD request.
type GetObjectInput struct {
	Account string
	Path    string
	Method  string // http.MethodGet or http.MethodHead

	Accept      string // Accept header, empty means anything
	Range       string // Range header, forwarded to the replica
	Conditional http.Header
	IsOperator  bool
}

// GetObjectResult is the read pipeline outcome. Body is nil for HEAD
// requests, directories, zero-byte objects and not-modified responses; the
// caller owns it otherwise.
type GetObjectResult struct {
	Record      *meta.Record
	Body        io.ReadCloser
	NotModified bool

	// ContentRange and Status reflect the replica response for range reads
	// (206 with Content-Range); otherwise Status is 200.
	Status       int
	ContentRange string
}

// GetObject resolves the record, applies conditional headers and content
// negotiation, and streams the body from one of the replicas.
func (g *Gateway) GetObject(ctx context.Context, in *GetObjectInput) (*GetObjectResult, error) {
	ctx, span := telemetry.StartObjectSpan(ctx, telemetry.SpanGetObject, in.Account, in.Path)
	defer span.End()

	key, err := meta.NormalizeKey(in.Path)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	if err := checkOwner(in.Account, key, in.Path, in.IsOperator); err != nil {
		return nil, err
	}

	rec, err := g.meta.GetRecord(ctx, key)
	if meta.IsNotFound(err) {
		return nil, gwerrors.NotFound(in.Path)
	}
	if err != nil {
		return nil, err
	}

	telemetry.SetAttributes(ctx,
		telemetry.ContentLength(rec.ContentLength),
		telemetry.Directory(rec.IsDirectory()))

	res := &conditional.Resource{Etag: rec.Etag, ModifiedMs: rec.ModifiedMs}
	result, err := conditional.Evaluate(in.Method, in.Conditional, res)
	if err != nil {
		return nil, err
	}
	switch result.Disposition {
	case conditional.NotModified:
		return &GetObjectResult{Record: rec, NotModified: true, Status: http.StatusNotModified}, nil
	case conditional.PreconditionFailed:
		return nil, gwerrors.PreconditionFailed(result.Header)
	}

	if err := checkAccept(in.Accept, rec.ContentType); err != nil {
		return nil, err
	}

	if in.Range != "" && !strings.HasPrefix(in.Range, "bytes=") {
		return nil, gwerrors.Newf(gwerrors.CodeBadRequest, "malformed Range header %q", in.Range)
	}

	out := &GetObjectResult{Record: rec, Status: http.StatusOK}

	// Directories and zero-byte objects have no replicas to stream from.
	if in.Method == http.MethodHead || rec.IsDirectory() || rec.ContentLength == 0 {
		return out, nil
	}

	resp, err := g.fanout.Get(ctx, rec.Sharks, rec.Owner, rec.ObjectID, in.Range)
	if err != nil {
		return nil, err
	}
	out.Body = resp.Body
	out.Status = resp.StatusCode
	out.ContentRange = resp.Header.Get("Content-Range")
	return out, nil
}

// checkAccept runs minimal content negotiation: the record's media type must
// match one of the Accept alternatives.
func checkAccept(accept, contentType string) error {
	if accept == "" || contentType == "" {
		return nil
	}

	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}

	for _, alt := range strings.Split(accept, ",") {
		alt = strings.TrimSpace(alt)
		if i := strings.Index(alt, ";"); i >= 0 {
			alt = strings.TrimSpace(alt[:i])
		}
		if alt == "*/*" || alt == mediaType {
			return nil
		}
		if prefix, ok := strings.CutSuffix(alt, "/*"); ok && strings.HasPrefix(mediaType, prefix+"/") {
			return nil
		}
	}
	return gwerrors.Newf(gwerrors.CodeNotAcceptable,
		"%s is not acceptable to the client", contentType)
}
