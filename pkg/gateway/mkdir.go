package gateway

import (
	"context"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/shoal/internal/logger"
	"github.com/marmos91/shoal/internal/telemetry"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/meta"
)

// DirectoryContentType marks directory records and mkdir requests.
const DirectoryContentType = "application/json; type=directory"

// PutDirectoryInput carries one mkdir or directory-chattr request.
type PutDirectoryInput struct {
	Account string
	Path    string

	Headers     map[string]string // m-* custom headers, keys lowercased
	Conditional http.Header
	IsOperator  bool

	// ObjectHeaders lists object-only headers present on the request
	// (content-md5, durability-level, a non-zero content-length). They are
	// meaningless on directories and rejected when the target is one.
	ObjectHeaders []string
}

// PutDirectory creates a directory, or updates an existing one's custom
// headers. When the new metadata equals the prior the request succeeds
// without writing anything.
func (g *Gateway) PutDirectory(ctx context.Context, in *PutDirectoryInput) (*PutResult, error) {
	ctx, span := telemetry.StartObjectSpan(ctx, telemetry.SpanPutDirectory, in.Account, in.Path,
		telemetry.Directory(true))
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

	if len(in.ObjectHeaders) > 0 {
		return nil, gwerrors.Newf(gwerrors.CodeBadRequest,
			"headers not allowed on directories: %s", strings.Join(in.ObjectHeaders, ", "))
	}

	if current != nil {
		if !current.IsDirectory() {
			return nil, gwerrors.New(gwerrors.CodeBadRequest,
				"cannot overwrite an object with a directory").WithPath(in.Path)
		}
		if maps.Equal(current.Headers, in.Headers) {
			// No-op mkdir: metadata unchanged, nothing to write.
			return &PutResult{Etag: current.Etag, ModifiedMs: current.ModifiedMs}, nil
		}

		updated := *current
		updated.Headers = maps.Clone(in.Headers)
		if err := g.commitRecord(ctx, &updated, current, in.Path); err != nil {
			return nil, err
		}
		return &PutResult{Etag: updated.Etag, ModifiedMs: updated.ModifiedMs}, nil
	}

	if err := g.checkParent(ctx, key, in.Path); err != nil {
		return nil, err
	}

	rec := &meta.Record{
		Key:         key,
		Type:        meta.TypeDirectory,
		Owner:       in.Account,
		ObjectID:    uuid.NewString(),
		ContentType: DirectoryContentType,
		Headers:     maps.Clone(in.Headers),
		CreatedMs:   time.Now().UnixMilli(),
	}
	if err := g.commitRecord(ctx, rec, nil, in.Path); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "directory created", logger.Path(key), logger.Etag(rec.Etag))
	return &PutResult{Etag: rec.Etag, ModifiedMs: rec.ModifiedMs}, nil
}

// EnsureDirectory creates the directory at key if missing. A concurrent
// creation by another request counts as success.
func (g *Gateway) EnsureDirectory(ctx context.Context, account, key string) error {
	current, err := g.loadCurrent(ctx, key)
	if err != nil {
		return err
	}
	if current != nil {
		if !current.IsDirectory() {
			return gwerrors.New(gwerrors.CodeParentNotDirectory,
				"path exists and is not a directory").WithPath(key)
		}
		return nil
	}

	rec := &meta.Record{
		Key:         key,
		Type:        meta.TypeDirectory,
		Owner:       account,
		ObjectID:    uuid.NewString(),
		ContentType: DirectoryContentType,
		CreatedMs:   time.Now().UnixMilli(),
	}
	err = g.meta.PutRecord(ctx, rec, meta.IfAbsent())
	if meta.IsConflict(err) {
		return nil
	}
	return err
}
