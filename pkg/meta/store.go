package meta

import (
	"context"
)

// Entry is the storage envelope around a record value. The metadata tier
// assigns a fresh opaque etag and modification time on every write.
type Entry struct {
	Key        string
	Value      []byte
	Etag       string
	ModifiedMs int64
}

// condKind enumerates write precondition kinds.
type condKind int

const (
	condNone condKind = iota
	condAbsent
	condEtag
)

// Condition guards a write or delete against concurrent mutation.
type Condition struct {
	kind condKind
	etag string
}

// Unconditional returns a condition that always passes.
func Unconditional() Condition {
	return Condition{kind: condNone}
}

// IfAbsent returns a condition requiring that no record exists.
func IfAbsent() Condition {
	return Condition{kind: condAbsent}
}

// IfEtag returns a condition requiring the current etag to equal etag.
func IfEtag(etag string) Condition {
	return Condition{kind: condEtag, etag: etag}
}

// Check evaluates the condition against the current entry (nil when the key
// does not exist). It returns nil when the write may proceed.
func (c Condition) Check(key string, current *Entry) error {
	switch c.kind {
	case condNone:
		return nil
	case condAbsent:
		if current != nil {
			return NewConflictError(key)
		}
		return nil
	case condEtag:
		if current == nil {
			return NewNotFoundError(key)
		}
		if current.Etag != c.etag {
			return NewEtagMismatchError(key, c.etag, current.Etag)
		}
		return nil
	default:
		return &Error{Code: ErrInvalidKey, Message: "invalid condition", Key: key}
	}
}

// OpKind enumerates batch operation kinds.
type OpKind int

const (
	// OpPut writes a record.
	OpPut OpKind = iota

	// OpDelete removes a record.
	OpDelete
)

// Op is one operation of an atomic batch. All keys of a batch must route to
// the same shard.
type Op struct {
	Kind  OpKind
	Key   string
	Value []byte
	Cond  Condition
}

// DeleteOptions carries opaque hints alongside a delete. The gateway forwards
// the snaplink hint for accounts configured with snaplink cleanup disabled;
// stores that do not track snaplinks ignore it.
type DeleteOptions struct {
	SnaplinksDisabled bool
}

// Store is one metadata shard. Implementations must apply conditions and
// batches atomically with respect to concurrent calls.
type Store interface {
	// Get returns the entry for key, or a NotFound error.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put writes value under key subject to cond and returns the stored
	// entry with its fresh etag.
	Put(ctx context.Context, key string, value []byte, cond Condition) (*Entry, error)

	// Delete removes key subject to cond.
	Delete(ctx context.Context, key string, cond Condition, opts DeleteOptions) error

	// Batch applies ops atomically: either every op takes effect or none
	// does. Returns the stored entries for the put ops, in op order.
	Batch(ctx context.Context, ops []Op) ([]*Entry, error)

	// CountChildren returns the number of direct children of the
	// directory addressed by dirKey.
	CountChildren(ctx context.Context, dirKey string) (int64, error)

	// Close releases the shard's resources.
	Close() error
}
