package gateway

import (
	"context"
	"net/http"

	"github.com/marmos91/shoal/internal/logger"
	"github.com/marmos91/shoal/internal/telemetry"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/meta"
)

// DeleteObjectInput carries one DELETE request.
type DeleteObjectInput struct {
	Account     string
	Path        string
	Conditional http.Header
	IsOperator  bool
}

// DeleteObject removes an object's metadata pointer, or an empty directory.
// The replica bytes become orphans for the external sweeper.
func (g *Gateway) DeleteObject(ctx context.Context, in *DeleteObjectInput) error {
	ctx, span := telemetry.StartObjectSpan(ctx, telemetry.SpanDeleteObject, in.Account, in.Path)
	defer span.End()

	key, err := meta.NormalizeKey(in.Path)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	if err := checkOwner(in.Account, key, in.Path, in.IsOperator); err != nil {
		return err
	}

	if meta.IsAccountRoot(key) {
		return gwerrors.New(gwerrors.CodeOperationNotAllowedOnRoot,
			"cannot delete an account root directory").WithPath(in.Path)
	}

	rec, err := g.meta.GetRecord(ctx, key)
	if meta.IsNotFound(err) {
		return gwerrors.NotFound(in.Path)
	}
	if err != nil {
		return err
	}

	if err := checkPreconditions(http.MethodDelete, in.Conditional, rec); err != nil {
		return err
	}

	if rec.IsDirectory() {
		n, err := g.meta.CountChildren(ctx, key)
		if err != nil {
			return err
		}
		if n > 0 {
			return gwerrors.Newf(gwerrors.CodeDirectoryNotEmpty,
				"directory holds %d entries", n).WithPath(in.Path)
		}
	}

	opts := meta.DeleteOptions{SnaplinksDisabled: g.snaplinksDisabled[in.Account]}
	if err := g.meta.Delete(ctx, key, meta.IfEtag(rec.Etag), opts); err != nil {
		if meta.IsEtagMismatch(err) || meta.IsNotFound(err) {
			return gwerrors.ConcurrentRequest(in.Path)
		}
		return err
	}

	logger.InfoCtx(ctx, "object deleted", logger.Path(key), logger.ObjectID(rec.ObjectID))
	return nil
}
