package mpu

import (
	"context"
	"io"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/shoal/internal/logger"
	"github.com/marmos91/shoal/internal/telemetry"
	"github.com/marmos91/shoal/pkg/gateway"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/meta"
	"github.com/marmos91/shoal/pkg/placement"
	"github.com/marmos91/shoal/pkg/shark"
)

// Part number bounds and the part count cap.
const (
	MaxPartNum = 9999
	MaxParts   = 10000

	// MinPartSize applies to every part except the last.
	MinPartSize = 5 << 20
)

// Config tunes upload creation.
type Config struct {
	// PrefixDirLen is the prefix directory length encoded into new ids.
	PrefixDirLen int
}

func (c *Config) applyDefaults() {
	if c.PrefixDirLen < MinPrefixLen || c.PrefixDirLen > MaxPrefixLen {
		c.PrefixDirLen = DefaultPrefixLen
	}
}

// Manager drives the multipart upload lifecycle on top of the gateway's
// metadata tier, placement planner and replica fan-out.
type Manager struct {
	gw       *gateway.Gateway
	mc       *meta.Client
	fanout   *shark.Fanout
	client   *shark.Client
	resolver shark.Resolver
	cfg      Config
}

// NewManager builds a manager sharing the gateway's dependencies. client
// issues the finalize RPCs; resolver maps frozen replica ids back to nodes.
func NewManager(gw *gateway.Gateway, client *shark.Client, resolver shark.Resolver, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		gw:       gw,
		mc:       gw.Meta(),
		fanout:   gw.Fanout(),
		client:   client,
		resolver: resolver,
		cfg:      cfg,
	}
}

// CreateInput carries one MPU-create request.
type CreateInput struct {
	Account    string
	ObjectPath string
	Headers    map[string]string // keys lowercased
	IsOperator bool
}

// CreateResult names the new upload and where its parts go.
type CreateResult struct {
	ID             string
	PartsDirectory string
}

// Create allocates an upload id, plans placement for the declared size,
// ensures the prefix directory exists and persists the upload record in
// state CREATED with its headers and replica set frozen.
func (m *Manager) Create(ctx context.Context, in *CreateInput) (*CreateResult, error) {
	ctx, span := telemetry.StartObjectSpan(ctx, telemetry.SpanMPUCreate, in.Account, in.ObjectPath)
	defer span.End()

	if in.ObjectPath == "" {
		return nil, gwerrors.New(gwerrors.CodeInvalidArgument, "objectPath is required")
	}

	targetKey, err := meta.NormalizeKey(in.ObjectPath)
	if err != nil {
		return nil, gwerrors.Newf(gwerrors.CodeInvalidArgument, "invalid objectPath: %v", err)
	}
	if meta.AccountOf(targetKey) != in.Account {
		return nil, gwerrors.Newf(gwerrors.CodeInvalidArgument,
			"objectPath must be under account %s", in.Account)
	}
	if meta.IsAccountRoot(targetKey) {
		return nil, gwerrors.New(gwerrors.CodeInvalidArgument,
			"objectPath may not be an account root")
	}

	size, copies, err := m.parseFrozenHeaders(in.Headers)
	if err != nil {
		return nil, err
	}

	sharks, err := m.planFrozenSet(size, copies, in.IsOperator)
	if err != nil {
		return nil, err
	}

	id := NewUploadID(m.cfg.PrefixDirLen)
	uploadKey := UploadKey(in.Account, id, m.cfg.PrefixDirLen)

	for _, dir := range []string{UploadsRoot(in.Account), PrefixDir(in.Account, id, m.cfg.PrefixDirLen)} {
		if err := m.gw.EnsureDirectory(ctx, in.Account, dir); err != nil {
			return nil, err
		}
	}

	record := &meta.UploadRecord{
		ID:         id,
		Owner:      in.Account,
		State:      meta.StateCreated,
		TargetPath: in.ObjectPath,
		TargetKey:  targetKey,
		UploadPath: uploadKey,
		Headers:    maps.Clone(in.Headers),
		Sharks:     sharks,
		ObjectID:   uuid.NewString(),
		Copies:     copies,
		Size:       size,
		CreatedMs:  time.Now().UnixMilli(),
	}
	if err := m.mc.PutUpload(ctx, uploadKey, record, meta.IfAbsent()); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "upload created",
		logger.UploadID(id),
		logger.Path(targetKey),
		logger.Size(size),
		logger.Copies(copies),
	)
	return &CreateResult{ID: id, PartsDirectory: uploadKey}, nil
}

// parseFrozenHeaders extracts the declared size and durability from the
// headers frozen at creation. Size -1 means undeclared. Conditional headers
// make no sense across the upload's lifetime and are rejected.
func (m *Manager) parseFrozenHeaders(headers map[string]string) (size int64, copies int, err error) {
	size = -1
	for k, v := range headers {
		switch {
		case strings.HasPrefix(k, "if-"):
			return 0, 0, gwerrors.Newf(gwerrors.CodeInvalidArgument,
				"conditional header %s not allowed on upload creation", k)
		case k == "content-length":
			n, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil || n < 0 {
				return 0, 0, gwerrors.Newf(gwerrors.CodeInvalidArgument,
					"content-length must be a non-negative number, got %q", v)
			}
			size = n
		case k == "durability-level" || k == "x-durability-level":
			n, perr := strconv.Atoi(v)
			if perr != nil {
				return 0, 0, gwerrors.Newf(gwerrors.CodeInvalidArgument,
					"%s must be a number, got %q", k, v)
			}
			// The unprefixed header wins when both are present.
			if copies == 0 || k == "durability-level" {
				copies = n
			}
		}
	}
	if copies == 0 {
		copies = gateway.DefaultCopies
	}
	if copies < 1 || copies > m.gw.MaxObjectCopies() {
		return 0, 0, gwerrors.Newf(gwerrors.CodeInvalidDurabilityLevel,
			"durability level must be between 1 and %d", m.gw.MaxObjectCopies())
	}
	return size, copies, nil
}

// planFrozenSet picks the replica set frozen on the upload record. Zero-byte
// uploads carry none; undeclared sizes plan for the streaming cap.
func (m *Manager) planFrozenSet(size int64, copies int, operator bool) ([]meta.SharkRef, error) {
	planSize := size
	if planSize < 0 {
		planSize = gateway.DefaultMaxStreamingSizeMB << 20
	}

	sets, err := m.gw.Planner().Plan(planSize, copies, operator)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, nil
	}

	refs := make([]meta.SharkRef, len(sets[0]))
	for i, node := range sets[0] {
		refs[i] = meta.SharkRef{Datacenter: node.Datacenter, ID: node.ID}
	}
	return refs, nil
}

// UploadPartInput carries one part write.
type UploadPartInput struct {
	Account string
	ID      string
	PartNum int

	Body          io.Reader
	ContentLength int64
	ContentMD5    string
}

// UploadPartResult returns the etag the client must echo at commit.
type UploadPartResult struct {
	Etag string
}

// UploadPart writes one part object under the upload directory using the
// replica set frozen at creation, bypassing independent placement.
func (m *Manager) UploadPart(ctx context.Context, in *UploadPartInput) (*UploadPartResult, error) {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanMPUPart, in.Account, in.ID,
		telemetry.PartNum(in.PartNum))
	defer span.End()

	if in.PartNum < 0 || in.PartNum > MaxPartNum {
		return nil, gwerrors.Newf(gwerrors.CodeInvalidArgument,
			"part number must be between 0 and %d", MaxPartNum)
	}

	uploadKey, record, err := m.loadUpload(ctx, in.Account, in.ID)
	if err != nil {
		return nil, err
	}
	if record.State != meta.StateCreated {
		return nil, gwerrors.Newf(gwerrors.CodeStateError,
			"upload %s is already finalizing", in.ID)
	}
	if len(record.Sharks) == 0 {
		return nil, gwerrors.Newf(gwerrors.CodeInvalidArgument,
			"upload %s was created for a zero-byte object", in.ID)
	}

	set, err := m.resolveFrozenSet(record.Sharks)
	if err != nil {
		return nil, err
	}

	partID := uuid.NewString()
	res, err := m.fanout.Put(ctx, [][]placement.Node{set}, &shark.PutRequest{
		Owner:    in.Account,
		ObjectID: partID,
		Body:     in.Body,
		Size:     in.ContentLength,
		MD5:      in.ContentMD5,
	})
	if err != nil {
		return nil, err
	}

	part := &meta.Record{
		Key:           PartKey(uploadKey, in.PartNum),
		Type:          meta.TypeObject,
		Owner:         in.Account,
		ObjectID:      partID,
		ContentLength: res.Size,
		ContentMD5:    res.MD5,
		ContentType:   "application/octet-stream",
		Sharks:        res.Sharks,
		CreatedMs:     time.Now().UnixMilli(),
	}
	if err := m.mc.PutRecord(ctx, part, meta.Unconditional()); err != nil {
		return nil, err
	}

	logger.DebugCtx(ctx, "part stored",
		logger.UploadID(in.ID),
		logger.PartNum(in.PartNum),
		logger.Size(res.Size),
		logger.Etag(part.Etag),
	)
	return &UploadPartResult{Etag: part.Etag}, nil
}

// resolveFrozenSet maps the frozen replica refs back to live nodes.
func (m *Manager) resolveFrozenSet(refs []meta.SharkRef) ([]placement.Node, error) {
	set := make([]placement.Node, len(refs))
	for i, ref := range refs {
		node, ok := m.resolver.Lookup(ref.ID)
		if !ok {
			return nil, gwerrors.Newf(gwerrors.CodeSharksExhausted,
				"replica %s is not available", ref.ID)
		}
		set[i] = node
	}
	return set, nil
}

// Abort finalizes the upload as aborted. Aborting an already aborted upload
// succeeds idempotently; aborting a committing upload is a conflict.
func (m *Manager) Abort(ctx context.Context, account, id string) error {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanMPUAbort, account, id)
	defer span.End()

	// A lost transition race is retried against a single re-read: the second
	// pass observes a FINALIZING record and never writes the transition again.
	var record *meta.UploadRecord
	for attempt := 0; ; attempt++ {
		uploadKey, rec, err := m.loadUpload(ctx, account, id)
		if err != nil {
			return err
		}
		record = rec

		if rec.FinalizingType == meta.FinalizeAbort {
			// Already aborting, fall through to the finalizing record.
			break
		}
		if rec.State != meta.StateCreated {
			return gwerrors.Newf(gwerrors.CodeFinalizeConflict,
				"upload %s is being committed", id)
		}

		rec.State = meta.StateFinalizing
		rec.FinalizingType = meta.FinalizeAbort
		err = m.mc.PutUpload(ctx, uploadKey, rec, meta.IfEtag(rec.Etag))
		if err == nil {
			break
		}
		if !meta.IsEtagMismatch(err) {
			return err
		}
		if attempt > 0 {
			return gwerrors.Newf(gwerrors.CodeConcurrentRequest,
				"upload %s is being finalized concurrently", id)
		}
	}

	if err := m.writeFinalizing(ctx, record, meta.FinalizeAbort, ""); err != nil {
		return err
	}

	logger.InfoCtx(ctx, "upload aborted", logger.UploadID(id))
	return nil
}

// writeFinalizing inserts the finalizing record if absent. A pre-existing
// record of the same type is idempotent success; a differing type is a
// finalize conflict.
func (m *Manager) writeFinalizing(ctx context.Context, record *meta.UploadRecord, ftype meta.FinalizeType, contentMD5 string) error {
	fin := &meta.FinalizingRecord{
		UploadID:   record.ID,
		Type:       ftype,
		Owner:      record.Owner,
		TargetPath: record.TargetKey,
		ObjectID:   record.ObjectID,
		ContentMD5: contentMD5,
		PartsMD5:   record.PartsMD5,
	}
	value, err := meta.EncodeFinalizing(fin)
	if err != nil {
		return err
	}

	key := meta.FinalizingKey(record.ID, record.TargetKey)
	_, err = m.mc.Put(ctx, key, value, meta.IfAbsent())
	if err == nil {
		return nil
	}
	if !meta.IsConflict(err) {
		return err
	}

	existing, gerr := m.mc.GetFinalizing(ctx, record.ID, record.TargetKey)
	if gerr != nil {
		return gerr
	}
	if existing.Type != ftype {
		return gwerrors.Newf(gwerrors.CodeFinalizeConflict,
			"upload %s was already finalized as %s", record.ID, existing.Type)
	}
	return nil
}

// StateResult is the client-visible upload state.
type StateResult struct {
	ID             string            `json:"id"`
	State          string            `json:"state"`
	Type           string            `json:"type,omitempty"`
	PartsDirectory string            `json:"partsDirectory"`
	TargetObject   string            `json:"targetObject"`
	Headers        map[string]string `json:"headers,omitempty"`
	NumCopies      int               `json:"numCopies"`
	CreationTimeMs int64             `json:"creationTimeMs"`
}

// State reports the upload's current state.
func (m *Manager) State(ctx context.Context, account, id string) (*StateResult, error) {
	_, record, err := m.loadUpload(ctx, account, id)
	if err != nil {
		return nil, err
	}
	return &StateResult{
		ID:             record.ID,
		State:          string(record.State),
		Type:           string(record.FinalizingType),
		PartsDirectory: record.UploadPath,
		TargetObject:   record.TargetPath,
		Headers:        record.Headers,
		NumCopies:      record.Copies,
		CreationTimeMs: record.CreatedMs,
	}, nil
}

// ResolveUploadKey locates the upload directory for an id: first with the
// prefix length encoded in the id, then with the legacy length.
func (m *Manager) ResolveUploadKey(ctx context.Context, account, id string) (string, error) {
	key, _, err := m.loadUpload(ctx, account, id)
	return key, err
}

// loadUpload fetches the upload record, trying the encoded prefix length
// first and falling back to the legacy length.
func (m *Manager) loadUpload(ctx context.Context, account, id string) (string, *meta.UploadRecord, error) {
	if !ValidID(id) {
		return "", nil, gwerrors.Newf(gwerrors.CodeResourceNotFound, "no such upload %q", id)
	}

	prefixes := []int{PrefixLen(id)}
	if prefixes[0] != LegacyPrefixLen {
		prefixes = append(prefixes, LegacyPrefixLen)
	}

	for _, n := range prefixes {
		key := UploadKey(account, id, n)
		record, err := m.mc.GetUpload(ctx, key)
		if meta.IsNotFound(err) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return key, record, nil
	}
	return "", nil, gwerrors.Newf(gwerrors.CodeResourceNotFound, "no such upload %q", id)
}
