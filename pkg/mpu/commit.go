package mpu

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/shoal/internal/logger"
	"github.com/marmos91/shoal/internal/telemetry"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/meta"
	"github.com/marmos91/shoal/pkg/shark"
)

// CommitInput carries one commit request.
type CommitInput struct {
	Account string
	ID      string
	Parts   []string // part etags in order
}

// CommitResult reports the committed object.
type CommitResult struct {
	ObjectPath  string
	Etag        string
	ComputedMD5 string
}

// Commit finalizes the upload as committed: validates the part set,
// transitions the upload record to FINALIZING/COMMIT, invokes the finalize
// RPC on every frozen replica, verifies digest agreement, and atomically
// inserts the finalizing and object records on the target object's shard.
//
// Re-driving a commit with the same parts list is idempotent; a commit after
// an abort, or with a differing parts list, fails with a state error.
func (m *Manager) Commit(ctx context.Context, in *CommitInput) (*CommitResult, error) {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanMPUCommit, in.Account, in.ID,
		telemetry.PartCount(len(in.Parts)))
	defer span.End()

	partsDigest := digestParts(in.Parts)

	// A lost transition race is retried against a single re-read: the second
	// pass observes a FINALIZING record and never writes the transition again.
	var (
		record *meta.UploadRecord
		parts  *partSet
	)
	for attempt := 0; ; attempt++ {
		uploadKey, rec, err := m.loadUpload(ctx, in.Account, in.ID)
		if err != nil {
			return nil, err
		}

		switch {
		case rec.State == meta.StateCreated:
			// Proceeds to validation and the FINALIZING transition below.
		case rec.FinalizingType == meta.FinalizeAbort:
			return nil, gwerrors.Newf(gwerrors.CodeStateError,
				"upload %s was aborted", in.ID)
		case rec.PartsMD5 != partsDigest:
			return nil, gwerrors.Newf(gwerrors.CodeStateError,
				"upload %s is being committed with a different part set", in.ID)
		}

		parts, err = m.validateParts(ctx, uploadKey, rec, in.Parts)
		if err != nil {
			return nil, err
		}
		record = rec

		if rec.State != meta.StateCreated {
			break
		}
		rec.State = meta.StateFinalizing
		rec.FinalizingType = meta.FinalizeCommit
		rec.PartsMD5 = partsDigest
		err = m.mc.PutUpload(ctx, uploadKey, rec, meta.IfEtag(rec.Etag))
		if err == nil {
			break
		}
		if !meta.IsEtagMismatch(err) {
			return nil, err
		}
		if attempt > 0 {
			return nil, gwerrors.Newf(gwerrors.CodeConcurrentRequest,
				"upload %s is being finalized concurrently", in.ID)
		}
	}

	digest, err := m.finalizeReplicas(ctx, record, parts)
	if err != nil {
		return nil, err
	}

	if declared := record.Headers["content-md5"]; declared != "" && declared != digest {
		return nil, gwerrors.Newf(gwerrors.CodeChecksumMismatch,
			"content-md5 mismatch: expected %s, computed %s", declared, digest)
	}

	objectEtag, err := m.commitRecords(ctx, record, parts, digest, partsDigest)
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "upload committed",
		logger.UploadID(in.ID),
		logger.Path(record.TargetKey),
		logger.NumParts(len(parts.objectIDs)),
		logger.MD5(digest),
	)
	return &CommitResult{ObjectPath: record.TargetPath, Etag: objectEtag, ComputedMD5: digest}, nil
}

// digestParts computes the parts-digest identifying a commit: the MD5 of the
// concatenated part etags.
func digestParts(parts []string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// partSet is the validated view of the client's part list.
type partSet struct {
	objectIDs []string
	nbytes    int64
}

// validateParts checks the client's part list against the part records: the
// count cap, existence, etag equality, the minimum size of every part but
// the last, and the declared total size.
func (m *Manager) validateParts(ctx context.Context, uploadKey string, record *meta.UploadRecord, etags []string) (*partSet, error) {
	if len(etags) > MaxParts {
		return nil, gwerrors.Newf(gwerrors.CodeInvalidArgument,
			"commit names %d parts, the maximum is %d", len(etags), MaxParts)
	}

	set := &partSet{objectIDs: make([]string, len(etags))}
	for i, etag := range etags {
		part, err := m.mc.GetRecord(ctx, PartKey(uploadKey, i))
		if meta.IsNotFound(err) {
			return nil, gwerrors.Newf(gwerrors.CodeInvalidArgument,
				"part %d was never uploaded", i)
		}
		if err != nil {
			return nil, err
		}
		if part.Etag != etag {
			return nil, gwerrors.Newf(gwerrors.CodeInvalidArgument,
				"part %d etag %s does not match the uploaded part", i, etag)
		}
		if i < len(etags)-1 && part.ContentLength < MinPartSize {
			return nil, gwerrors.Newf(gwerrors.CodeInvalidArgument,
				"part %d is %d bytes, parts before the last must be at least %d",
				i, part.ContentLength, MinPartSize)
		}
		set.objectIDs[i] = part.ObjectID
		set.nbytes += part.ContentLength
	}

	// A missing declared size accepts any total.
	if record.Size >= 0 && set.nbytes != record.Size {
		return nil, gwerrors.Newf(gwerrors.CodeInvalidArgument,
			"parts sum to %d bytes, the upload declared %d", set.nbytes, record.Size)
	}
	return set, nil
}

// finalizeReplicas invokes the finalize RPC on every frozen replica in
// parallel and requires all of them to agree on the digest. Zero-byte
// commits skip the RPC entirely.
func (m *Manager) finalizeReplicas(ctx context.Context, record *meta.UploadRecord, parts *partSet) (string, error) {
	if parts.nbytes == 0 {
		return meta.ZeroByteMD5, nil
	}

	set, err := m.resolveFrozenSet(record.Sharks)
	if err != nil {
		return "", err
	}

	req := &shark.CommitRequest{
		Version:  1,
		Nbytes:   parts.nbytes,
		Account:  record.Owner,
		ObjectID: record.ObjectID,
		Parts:    parts.objectIDs,
	}

	digests := make([]string, len(set))
	errs := make([]error, len(set))
	var wg sync.WaitGroup
	for i, node := range set {
		i, node := i, node
		wg.Add(1)
		go func() {
			defer wg.Done()
			digests[i], errs[i] = m.client.Commit(ctx, node, record.ID, req)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			// The upload stays FINALIZING/COMMIT; the client may re-drive
			// the same commit for idempotent progress.
			return "", gwerrors.Newf(gwerrors.CodeSharksExhausted,
				"replica %s failed to finalize: %v", record.Sharks[i].ID, err)
		}
	}
	for i := 1; i < len(digests); i++ {
		if digests[i] != digests[0] {
			return "", gwerrors.Internal("replica-digest-agreement",
				"replicas returned differing digests for upload "+record.ID)
		}
	}
	return digests[0], nil
}

// commitRecords performs the atomic batch on the target object's shard: the
// finalizing record conditional on absence, plus the object record. The
// finalizing key embeds the target path, so both land on the same shard.
func (m *Manager) commitRecords(ctx context.Context, record *meta.UploadRecord, parts *partSet, digest, partsDigest string) (string, error) {
	fin, err := meta.EncodeFinalizing(&meta.FinalizingRecord{
		UploadID:   record.ID,
		Type:       meta.FinalizeCommit,
		Owner:      record.Owner,
		TargetPath: record.TargetKey,
		ObjectID:   record.ObjectID,
		ContentMD5: digest,
		PartsMD5:   partsDigest,
	})
	if err != nil {
		return "", err
	}

	object, err := meta.EncodeRecord(&meta.Record{
		Key:           record.TargetKey,
		Type:          meta.TypeObject,
		Owner:         record.Owner,
		ObjectID:      record.ObjectID,
		ContentLength: parts.nbytes,
		ContentMD5:    digest,
		ContentType:   objectContentType(record.Headers),
		Headers:       customHeaders(record.Headers),
		Sharks:        record.Sharks,
		CreatedMs:     time.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}

	ops := []meta.Op{
		{Kind: meta.OpPut, Key: meta.FinalizingKey(record.ID, record.TargetKey), Value: fin, Cond: meta.IfAbsent()},
		{Kind: meta.OpPut, Key: record.TargetKey, Value: object, Cond: meta.Unconditional()},
	}

	entries, err := m.mc.Batch(ctx, ops)
	if err == nil {
		return entries[1].Etag, nil
	}
	if !meta.IsConflict(err) {
		return "", err
	}

	// The finalizing record already exists: a commit with the same
	// parts-digest got there first, which is idempotent success.
	existing, gerr := m.mc.GetFinalizing(ctx, record.ID, record.TargetKey)
	if gerr != nil {
		return "", gerr
	}
	if existing.Type != meta.FinalizeCommit || existing.PartsMD5 != partsDigest {
		return "", gwerrors.Newf(gwerrors.CodeStateError,
			"upload %s was already finalized as %s", record.ID, existing.Type)
	}

	committed, gerr := m.mc.GetRecord(ctx, record.TargetKey)
	if gerr != nil {
		return "", gerr
	}
	return committed.Etag, nil
}

// objectContentType picks the committed object's media type from the frozen
// headers.
func objectContentType(headers map[string]string) string {
	if ct := headers["content-type"]; ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// customHeaders filters the frozen headers down to the m-* namespace stored
// on the object record.
func customHeaders(headers map[string]string) map[string]string {
	var out map[string]string
	for k, v := range headers {
		if strings.HasPrefix(k, "m-") {
			if out == nil {
				out = make(map[string]string)
			}
			out[k] = v
		}
	}
	return out
}
