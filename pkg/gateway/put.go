package gateway

import (
	"context"
	"io"
	"maps"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/shoal/internal/logger"
	"github.com/marmos91/shoal/internal/telemetry"
	"github.com/marmos91/shoal/pkg/conditional"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/meta"
	"github.com/marmos91/shoal/pkg/shark"
)

// PutObjectInput carries one object PUT through the pipeline.
type PutObjectInput struct {
	Account string
	Path    string // raw request path, normalized by the pipeline

	Body             io.Reader
	ContentLength    int64 // -1 for chunked bodies
	MaxContentLength int64 // client-declared cap, 0 when absent
	ContentMD5       string
	ContentType      string
	Copies           int // 0 means the configured default

	Headers     map[string]string // m-* custom headers, keys lowercased
	Conditional http.Header
	IsOperator  bool
}

// PutResult is what a successful PUT or mkdir reports back to the client.
type PutResult struct {
	Etag        string
	ModifiedMs  int64
	ComputedMD5 string
}

// PutObject runs the object write pipeline: conditional headers, path and
// parent checks, placement, replica fan-out, then an etag-conditional
// metadata commit. An etag mismatch at the final write is never retried.
func (g *Gateway) PutObject(ctx context.Context, in *PutObjectInput) (*PutResult, error) {
	ctx, span := telemetry.StartObjectSpan(ctx, telemetry.SpanPutObject, in.Account, in.Path,
		telemetry.ContentLength(in.ContentLength),
		telemetry.Durability(in.Copies))
	defer span.End()

	key, err := meta.NormalizeKey(in.Path)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	if err := checkOwner(in.Account, key, in.Path, in.IsOperator); err != nil {
		return nil, err
	}

	current, err := g.loadCurrent(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := checkPreconditions(http.MethodPut, in.Conditional, current); err != nil {
		return nil, err
	}

	if meta.IsAccountRoot(key) {
		return nil, gwerrors.New(gwerrors.CodeOperationNotAllowedOnRoot,
			"cannot write to an account root directory").WithPath(in.Path)
	}

	copies, err := g.normalizeCopies(in.Copies)
	if err != nil {
		return nil, err
	}

	if current != nil && current.IsDirectory() {
		return nil, gwerrors.New(gwerrors.CodeOperationNotAllowedOnDirectory,
			"cannot overwrite a directory with an object").WithPath(in.Path)
	}

	// Overwrites don't add a directory entry, so the parent was already
	// checked when the entry was created.
	if current == nil {
		if err := g.checkParent(ctx, key, in.Path); err != nil {
			return nil, err
		}
	}

	rec := &meta.Record{
		Key:         key,
		Type:        meta.TypeObject,
		Owner:       in.Account,
		ObjectID:    uuid.NewString(),
		ContentType: in.ContentType,
		Headers:     maps.Clone(in.Headers),
		CreatedMs:   time.Now().UnixMilli(),
	}

	if in.ContentLength == 0 {
		if in.ContentMD5 != "" && in.ContentMD5 != meta.ZeroByteMD5 {
			return nil, gwerrors.Newf(gwerrors.CodeChecksumMismatch,
				"Content-MD5 mismatch: expected %s, computed %s", in.ContentMD5, meta.ZeroByteMD5)
		}
		rec.ContentMD5 = meta.ZeroByteMD5
	} else {
		res, err := g.streamToSharks(ctx, in, copies, rec.ObjectID)
		if err != nil {
			return nil, err
		}
		rec.ContentLength = res.Size
		rec.ContentMD5 = res.MD5
		rec.Sharks = res.Sharks
	}

	if err := g.commitRecord(ctx, rec, current, in.Path); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "object stored",
		logger.Path(key),
		logger.ObjectID(rec.ObjectID),
		logger.Size(rec.ContentLength),
		logger.Copies(len(rec.Sharks)),
		logger.Etag(rec.Etag),
	)
	return &PutResult{Etag: rec.Etag, ModifiedMs: rec.ModifiedMs, ComputedMD5: rec.ContentMD5}, nil
}

// streamToSharks plans placement and fans the body out to a replica set.
func (g *Gateway) streamToSharks(ctx context.Context, in *PutObjectInput, copies int, objectID string) (*shark.PutResult, error) {
	limit := g.streamCap(in.MaxContentLength)
	planSize := in.ContentLength
	if planSize < 0 {
		planSize = limit
	}
	if planSize > limit {
		return nil, gwerrors.Newf(gwerrors.CodeMaxContentLength,
			"content length %d exceeds the %d byte limit", planSize, limit)
	}

	sets, err := g.planner.Plan(planSize, copies, in.IsOperator)
	if err != nil {
		return nil, err
	}

	body := newCapReader(in.Body, limit, gwerrors.Newf(gwerrors.CodeMaxContentLength,
		"streamed body exceeds the %d byte limit", limit))

	res, err := g.fanout.Put(ctx, sets, &shark.PutRequest{
		Owner:    in.Account,
		ObjectID: objectID,
		Body:     body,
		Size:     in.ContentLength,
		MD5:      in.ContentMD5,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// commitRecord persists the record conditionally on the state observed at
// the top of the pipeline.
func (g *Gateway) commitRecord(ctx context.Context, rec *meta.Record, current *meta.Record, path string) error {
	cond := meta.IfAbsent()
	if current != nil {
		cond = meta.IfEtag(current.Etag)
	}

	if err := g.meta.PutRecord(ctx, rec, cond); err != nil {
		if meta.IsEtagMismatch(err) || meta.IsConflict(err) || meta.IsNotFound(err) {
			return gwerrors.ConcurrentRequest(path)
		}
		return err
	}
	return nil
}

// loadCurrent fetches the record at key, mapping absence to nil.
func (g *Gateway) loadCurrent(ctx context.Context, key string) (*meta.Record, error) {
	rec, err := g.meta.GetRecord(ctx, key)
	if meta.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// normalizeCopies validates the requested durability against the configured
// bounds.
func (g *Gateway) normalizeCopies(copies int) (int, error) {
	if copies == 0 {
		return g.cfg.DefaultCopies, nil
	}
	if copies < 1 || copies > g.cfg.MaxObjectCopies {
		return 0, gwerrors.Newf(gwerrors.CodeInvalidDurabilityLevel,
			"durability level must be between 1 and %d", g.cfg.MaxObjectCopies)
	}
	return copies, nil
}

// checkParent verifies the parent directory exists, is a directory, and has
// room for another entry. Account roots exist implicitly.
func (g *Gateway) checkParent(ctx context.Context, key, path string) error {
	parent := meta.ParentKey(key)
	if parent == "" || meta.IsAccountRoot(parent) {
		return nil
	}

	parentRec, err := g.meta.GetRecord(ctx, parent)
	if meta.IsNotFound(err) {
		return gwerrors.NotFound(parent)
	}
	if err != nil {
		return err
	}
	if !parentRec.IsDirectory() {
		return gwerrors.New(gwerrors.CodeParentNotDirectory,
			"parent is not a directory").WithPath(path)
	}

	n, err := g.meta.CountChildren(ctx, parent)
	if err != nil {
		return err
	}
	if n >= g.cfg.DirectoryLimit {
		return gwerrors.Newf(gwerrors.CodeDirectoryLimit,
			"directory %s already holds %d entries", parent, n)
	}
	return nil
}

// checkPreconditions maps the conditional evaluation onto pipeline errors.
// For writes a not-modified disposition cannot occur.
func checkPreconditions(method string, hdr http.Header, rec *meta.Record) error {
	if len(hdr) == 0 {
		return nil
	}

	var res *conditional.Resource
	if rec != nil {
		res = &conditional.Resource{Etag: rec.Etag, ModifiedMs: rec.ModifiedMs}
	}

	result, err := conditional.Evaluate(method, hdr, res)
	if err != nil {
		return err
	}
	if result.Disposition == conditional.PreconditionFailed {
		return gwerrors.PreconditionFailed(result.Header)
	}
	return nil
}

