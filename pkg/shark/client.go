// Package shark talks to the storage nodes ("sharks"). A Client issues the
// per-node HTTP operations; a Fanout streams one object body to a whole
// replica set at once, computing the MD5 digest on the way through.
package shark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marmos91/shoal/pkg/placement"
)

// ComputedMD5Header carries the node-computed digest of a finalized upload.
const ComputedMD5Header = "x-joyent-computed-content-md5"

// DefaultTimeout bounds a single node request when no timeout is configured.
// Object bodies stream well past this, so it only applies to commit calls.
const DefaultTimeout = 2 * time.Minute

// CommitRequest asks a storage node to assemble the named parts into the
// final object file.
type CommitRequest struct {
	Version  int      `json:"version"`
	Nbytes   int64    `json:"nbytes"`
	Account  string   `json:"account"`
	ObjectID string   `json:"objectId"`
	Parts    []string `json:"parts"`
}

// Client issues HTTP requests to individual storage nodes.
type Client struct {
	stream *http.Client // no timeout, used for object bodies
	rpc    *http.Client // bounded, used for commit calls
}

// NewClient creates a storage node client. rpcTimeout bounds commit calls;
// zero means DefaultTimeout.
func NewClient(rpcTimeout time.Duration) *Client {
	if rpcTimeout == 0 {
		rpcTimeout = DefaultTimeout
	}
	return &Client{
		stream: &http.Client{},
		rpc:    &http.Client{Timeout: rpcTimeout},
	}
}

func objectURL(address, owner, objectID string) string {
	return fmt.Sprintf("http://%s/%s/%s", address, owner, objectID)
}

// Put streams body to the node as owner's object. size is the expected body
// length, or -1 when unknown.
func (c *Client) Put(ctx context.Context, node placement.Node, owner, objectID string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, objectURL(node.Address, owner, objectID), body)
	if err != nil {
		return err
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("shark %s: put %s: %w", node.ID, objectID, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("shark %s: put %s: unexpected status %d", node.ID, objectID, resp.StatusCode)
	}
	return nil
}

// Get fetches owner's object from the node. rangeHeader is forwarded verbatim
// when non-empty. The caller owns the returned response body.
func (c *Client) Get(ctx context.Context, address, owner, objectID, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, objectURL(address, owner, objectID), nil)
	if err != nil {
		return nil, err
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		status := resp.StatusCode
		drainAndClose(resp.Body)
		return nil, fmt.Errorf("shark get %s: unexpected status %d", objectID, status)
	}
	return resp, nil
}

// Commit invokes the finalize RPC on the node and returns the digest the
// node computed over the assembled object.
func (c *Client) Commit(ctx context.Context, node placement.Node, uploadID string, req *CommitRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("http://%s/mpu/v1/commit/%s", node.Address, uploadID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.rpc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("shark %s: commit %s: %w", node.ID, uploadID, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("shark %s: commit %s: unexpected status %d", node.ID, uploadID, resp.StatusCode)
	}

	digest := resp.Header.Get(ComputedMD5Header)
	if digest == "" {
		return "", fmt.Errorf("shark %s: commit %s: missing %s header", node.ID, uploadID, ComputedMD5Header)
	}
	return digest, nil
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body) //nolint:errcheck
	body.Close()
}
