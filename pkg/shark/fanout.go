package shark

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"

	"github.com/marmos91/shoal/internal/logger"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/meta"
	"github.com/marmos91/shoal/pkg/placement"
)

// Resolver maps a storage ID to its current node. The placement view
// implements it.
type Resolver interface {
	Lookup(id string) (placement.Node, bool)
}

// PutRequest describes one object body to replicate.
type PutRequest struct {
	Owner    string
	ObjectID string
	Body     io.Reader
	Size     int64  // declared size, -1 when unknown
	MD5      string // declared content digest (base64), empty when absent
}

// PutResult reports where the body landed and what was streamed.
type PutResult struct {
	Sharks []meta.SharkRef
	MD5    string // computed digest, base64
	Size   int64  // bytes streamed
}

// Fanout replicates object bodies across replica sets and locates replicas
// for reads.
type Fanout struct {
	client   *Client
	resolver Resolver
}

// NewFanout creates a fanout using client for node I/O and resolver for
// replica address lookup.
func NewFanout(client *Client, resolver Resolver) *Fanout {
	return &Fanout{client: client, resolver: resolver}
}

// replayMemLimit caps how much of the body is retained in memory for
// fail-over replay. Bodies past this point spill to a temporary file so a
// late set failure can still be retried against the remaining candidates.
const replayMemLimit = 1 << 20

// Put streams the request body to every node of a candidate set, trying the
// sets in order. The digest is computed while the body flows through, then
// checked against the declared digest and size. On a node failure the
// consumed prefix is replayed against the next candidate set. A failure of
// the body itself is terminal: no candidate set can complete that write.
func (f *Fanout) Put(ctx context.Context, sets [][]placement.Node, req *PutRequest) (*PutResult, error) {
	src := newReplaySource(req.Body)
	defer src.Close()

	var lastErr error
	for i, set := range sets {
		res, err := f.putToSet(ctx, set, req, src.Reader())
		if err == nil {
			return f.verify(req, res)
		}
		if srcErr := src.Err(); srcErr != nil {
			return nil, srcErr
		}
		lastErr = err
		logger.WarnCtx(ctx, "replica set write failed",
			logger.Candidate(i),
			logger.ObjectID(req.ObjectID),
			logger.Err(err),
		)
		if !src.CanReplay() {
			break
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no candidate replica sets")
	}
	return nil, gwerrors.Newf(gwerrors.CodeSharksExhausted,
		"unable to write object %s to any replica set: %v", req.ObjectID, lastErr)
}

// putToSet opens one stream per node and pipes the body through all of them
// plus the digest. Any node failure aborts the whole set.
func (f *Fanout) putToSet(ctx context.Context, set []placement.Node, req *PutRequest, body io.Reader) (*PutResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hash := md5.New()
	writers := make([]io.Writer, 0, len(set)+1)
	pipes := make([]*io.PipeWriter, len(set))
	nodeErrs := make([]error, len(set))

	var wg sync.WaitGroup
	for i, node := range set {
		pr, pw := io.Pipe()
		pipes[i] = pw
		writers = append(writers, pw)

		wg.Add(1)
		go func(i int, node placement.Node, pr *io.PipeReader) {
			defer wg.Done()
			err := f.client.Put(ctx, node, req.Owner, req.ObjectID, pr, req.Size)
			if err != nil {
				nodeErrs[i] = err
				pr.CloseWithError(err)
				cancel()
				return
			}
			pr.Close()
		}(i, node, pr)
	}
	writers = append(writers, hash)

	n, copyErr := io.Copy(io.MultiWriter(writers...), body)
	for _, pw := range pipes {
		if copyErr != nil {
			pw.CloseWithError(copyErr)
		} else {
			pw.Close()
		}
	}
	wg.Wait()

	if err := errors.Join(append(nodeErrs, copyErr)...); err != nil {
		return nil, err
	}

	sharks := make([]meta.SharkRef, len(set))
	for i, node := range set {
		sharks[i] = meta.SharkRef{Datacenter: node.Datacenter, ID: node.ID}
	}
	return &PutResult{
		Sharks: sharks,
		MD5:    base64.StdEncoding.EncodeToString(hash.Sum(nil)),
		Size:   n,
	}, nil
}

// verify checks the streamed body against the declared digest and size.
// These failures happen before any metadata is written, so the stored
// replicas are orphans for the garbage collector.
func (f *Fanout) verify(req *PutRequest, res *PutResult) (*PutResult, error) {
	if req.MD5 != "" && req.MD5 != res.MD5 {
		return nil, gwerrors.Newf(gwerrors.CodeChecksumMismatch,
			"Content-MD5 mismatch: expected %s, computed %s", req.MD5, res.MD5)
	}
	if req.Size >= 0 && req.Size != res.Size {
		return nil, gwerrors.Newf(gwerrors.CodeBadRequest,
			"Content-Length mismatch: declared %d bytes, received %d", req.Size, res.Size)
	}
	return res, nil
}

// Get streams the object from one of its replicas, tried in random order.
// A replica missing from the placement view is addressed by its storage ID
// directly.
func (f *Fanout) Get(ctx context.Context, sharks []meta.SharkRef, owner, objectID, rangeHeader string) (*http.Response, error) {
	order := rand.Perm(len(sharks))

	var lastErr error
	for _, i := range order {
		ref := sharks[i]
		address := ref.ID
		if node, ok := f.resolver.Lookup(ref.ID); ok {
			address = node.Address
		}

		resp, err := f.client.Get(ctx, address, owner, objectID, rangeHeader)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		logger.WarnCtx(ctx, "replica read failed",
			logger.Shark(ref.ID),
			logger.ObjectID(objectID),
			logger.Err(err),
		)
	}

	if lastErr == nil {
		lastErr = errors.New("object has no replicas")
	}
	return nil, gwerrors.Newf(gwerrors.CodeSharksExhausted,
		"unable to read object %s from any replica: %v", objectID, lastErr)
}

// replaySource wraps the request body and retains the consumed prefix so a
// failed attempt can be replayed from the start. The first memLimit bytes
// stay in memory; anything past that spills to a temporary file.
type replaySource struct {
	src      io.Reader
	memLimit int
	buf      []byte
	spill    *os.File
	spillLen int64
	srcErr   error // first non-EOF source read failure
	spillErr error // spill write failure, disables replay
}

func newReplaySource(src io.Reader) *replaySource {
	return &replaySource{src: src, memLimit: replayMemLimit}
}

// Reader returns the body for one attempt: the retained prefix first, then
// the rest of the source with continued capture.
func (s *replaySource) Reader() io.Reader {
	prefix := io.Reader(bytes.NewReader(s.buf))
	if s.spill != nil {
		prefix = io.MultiReader(prefix, io.NewSectionReader(s.spill, 0, s.spillLen))
	}
	return io.MultiReader(prefix, (*captureReader)(s))
}

// CanReplay reports whether the consumed prefix is still fully retained.
func (s *replaySource) CanReplay() bool {
	return s.spillErr == nil
}

// Err returns the first source read failure, io.EOF excluded.
func (s *replaySource) Err() error {
	return s.srcErr
}

// Close removes the spill file, if one was created.
func (s *replaySource) Close() error {
	if s.spill == nil {
		return nil
	}
	name := s.spill.Name()
	err := s.spill.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	s.spill = nil
	return err
}

type captureReader replaySource

func (c *captureReader) Read(p []byte) (int, error) {
	n, err := c.src.Read(p)
	if n > 0 {
		c.retain(p[:n])
	}
	if err != nil && err != io.EOF && c.srcErr == nil {
		c.srcErr = err
	}
	return n, err
}

// retain appends consumed bytes to the replay prefix, spilling to a
// temporary file once the in-memory cap is crossed.
func (c *captureReader) retain(p []byte) {
	if c.spillErr != nil {
		return
	}
	if c.spill == nil {
		if len(c.buf)+len(p) <= c.memLimit {
			c.buf = append(c.buf, p...)
			return
		}
		f, err := os.CreateTemp("", "shoal-replay-*")
		if err != nil {
			c.spillErr = err
			return
		}
		c.spill = f
	}
	n, err := c.spill.Write(p)
	c.spillLen += int64(n)
	if err != nil {
		c.spillErr = err
	}
}
