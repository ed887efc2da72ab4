// Package gateway implements the object request pipelines: streaming PUT
// with replica fan-out, GET/HEAD with conditional and range handling, and
// DELETE. Each pipeline is a linear sequence of checks over a typed request,
// every stage short-circuiting with an error from pkg/gateway/errors.
package gateway

import (
	"io"

	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/meta"
	"github.com/marmos91/shoal/pkg/placement"
	"github.com/marmos91/shoal/pkg/shark"
)

// DirectoryChildLimit caps the number of direct entries in one directory.
const DirectoryChildLimit = 1_000_000

// DefaultMaxStreamingSizeMB caps chunked PUT bodies when the client declares
// no size.
const DefaultMaxStreamingSizeMB = 51200

// Defaults for replica counts.
const (
	DefaultCopies    = 2
	DefaultMaxCopies = 9
)

// Config tunes the pipelines.
type Config struct {
	// MaxObjectCopies bounds the Durability-Level header.
	MaxObjectCopies int

	// DefaultCopies is used when the client declares no durability.
	DefaultCopies int

	// DirectoryLimit caps the number of direct entries in one directory.
	DirectoryLimit int64

	// MaxStreamingSizeMB caps chunked bodies without a Max-Content-Length
	// header.
	MaxStreamingSizeMB int64

	// SnaplinksDisabledAccounts lists accounts whose deletes carry the
	// snaplinks-disabled hint to the metadata tier.
	SnaplinksDisabledAccounts []string
}

func (c *Config) applyDefaults() {
	if c.MaxObjectCopies == 0 {
		c.MaxObjectCopies = DefaultMaxCopies
	}
	if c.DefaultCopies == 0 {
		c.DefaultCopies = DefaultCopies
	}
	if c.MaxStreamingSizeMB == 0 {
		c.MaxStreamingSizeMB = DefaultMaxStreamingSizeMB
	}
	if c.DirectoryLimit == 0 {
		c.DirectoryLimit = DirectoryChildLimit
	}
}

// checkOwner rejects keys that resolve outside the caller's account.
// Operators may act on any account.
func checkOwner(account, key, path string, operator bool) error {
	if operator || meta.AccountOf(key) == account {
		return nil
	}
	return gwerrors.Newf(gwerrors.CodeAuthorization,
		"%s is not authorized for account %s", account, meta.AccountOf(key)).WithPath(path)
}

// Gateway holds the shared dependencies of the request pipelines. All fields
// are read-only after construction.
type Gateway struct {
	meta    *meta.Client
	planner *placement.Planner
	fanout  *shark.Fanout
	cfg     Config

	snaplinksDisabled map[string]bool
}

// New builds a gateway over the metadata client, placement planner and
// replica fan-out.
func New(mc *meta.Client, planner *placement.Planner, fanout *shark.Fanout, cfg Config) *Gateway {
	cfg.applyDefaults()

	disabled := make(map[string]bool, len(cfg.SnaplinksDisabledAccounts))
	for _, account := range cfg.SnaplinksDisabledAccounts {
		disabled[account] = true
	}

	return &Gateway{
		meta:              mc,
		planner:           planner,
		fanout:            fanout,
		cfg:               cfg,
		snaplinksDisabled: disabled,
	}
}

// Meta exposes the metadata client for sibling packages building on the same
// tier.
func (g *Gateway) Meta() *meta.Client {
	return g.meta
}

// Planner exposes the placement planner.
func (g *Gateway) Planner() *placement.Planner {
	return g.planner
}

// Fanout exposes the replica fan-out.
func (g *Gateway) Fanout() *shark.Fanout {
	return g.fanout
}

// MaxObjectCopies returns the configured durability upper bound.
func (g *Gateway) MaxObjectCopies() int {
	return g.cfg.MaxObjectCopies
}

// streamCap returns the byte cap for a request, preferring the client's
// Max-Content-Length declaration.
func (g *Gateway) streamCap(maxContentLength int64) int64 {
	if maxContentLength > 0 {
		return maxContentLength
	}
	return g.cfg.MaxStreamingSizeMB << 20
}

// capReader bounds a request body, failing the stream once the cap is
// crossed so the fan-out aborts instead of buffering indefinitely.
type capReader struct {
	r      io.Reader
	remain int64
	err    error
}

func newCapReader(r io.Reader, limit int64, err error) *capReader {
	return &capReader{r: r, remain: limit, err: err}
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.remain <= 0 {
		// One extra byte means the body exceeds the cap.
		var extra [1]byte
		n, err := c.r.Read(extra[:])
		if n > 0 {
			return 0, c.err
		}
		return 0, err
	}
	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := c.r.Read(p)
	c.remain -= int64(n)
	return n, err
}
