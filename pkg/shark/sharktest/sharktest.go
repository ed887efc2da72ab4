// Package sharktest provides an in-memory storage node for tests of the
// packages that sit above the shark client.
package sharktest

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/marmos91/shoal/pkg/placement"
	"github.com/marmos91/shoal/pkg/shark"
)

// FakeShark is an httptest-backed storage node implementing the object PUT,
// object GET and finalize endpoints.
type FakeShark struct {
	mu      sync.Mutex
	objects map[string][]byte // keyed by /owner/objectID
	server  *httptest.Server
}

// New starts a fake storage node, stopped on test cleanup.
func New(t *testing.T) *FakeShark {
	t.Helper()
	f := &FakeShark{objects: make(map[string][]byte)}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// Addr returns the node's host:port.
func (f *FakeShark) Addr() string {
	u, _ := url.Parse(f.server.URL)
	return u.Host
}

// Close stops the node immediately, simulating an unreachable shark.
func (f *FakeShark) Close() {
	f.server.Close()
}

// Node describes the fake as a placement node.
func (f *FakeShark) Node(id, dc string) placement.Node {
	return placement.Node{
		ID:             id,
		Datacenter:     dc,
		Address:        f.Addr(),
		AvailableBytes: 1 << 40,
		UtilizationPct: 10,
	}
}

// Object returns a stored object's bytes.
func (f *FakeShark) Object(owner, objectID string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects["/"+owner+"/"+objectID]
	return b, ok
}

// Seed stores an object directly, bypassing HTTP.
func (f *FakeShark) Seed(owner, objectID string, b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects["/"+owner+"/"+objectID] = b
}

func (f *FakeShark) handle(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/mpu/v1/commit/") {
		f.handleCommit(w, r)
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.mu.Lock()
		f.objects[r.URL.Path] = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)

	case http.MethodGet:
		f.mu.Lock()
		body, ok := f.objects[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if rng := r.Header.Get("Range"); rng != "" {
			f.serveRange(w, body, rng)
			return
		}
		w.Write(body)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// serveRange handles single "bytes=a-b" ranges, enough for range tests.
func (f *FakeShark) serveRange(w http.ResponseWriter, body []byte, rng string) {
	start, end, ok := parseRange(rng, len(body))
	if !ok {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(body[start : end+1])
}

func parseRange(rng string, size int) (start, end int, ok bool) {
	spec, found := strings.CutPrefix(rng, "bytes=")
	if !found {
		return 0, 0, false
	}
	from, to, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}

	start, err := strconv.Atoi(from)
	if err != nil {
		return 0, 0, false
	}
	end = size - 1
	if to != "" {
		if end, err = strconv.Atoi(to); err != nil {
			return 0, 0, false
		}
	}
	if start < 0 || end >= size || start > end {
		return 0, 0, false
	}
	return start, end, true
}

func (f *FakeShark) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req shark.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h := md5.New()
	var assembled []byte
	f.mu.Lock()
	for _, part := range req.Parts {
		body := f.objects["/"+req.Account+"/"+part]
		h.Write(body)
		assembled = append(assembled, body...)
	}
	f.objects["/"+req.Account+"/"+req.ObjectID] = assembled
	f.mu.Unlock()

	w.Header().Set(shark.ComputedMD5Header, base64.StdEncoding.EncodeToString(h.Sum(nil)))
	w.WriteHeader(http.StatusNoContent)
}
