// Package store is the content-addressed result cache. Every target
// (and every sub-target of a dynamic target) writes exactly one entry
// per run, keyed by target name plus sub-target index. Entries carry a
// fingerprint of the stored value and the stamp of the inputs that
// produced it; the stamp comparison is what makes re-runs incremental.
//
// Writes are keyed uniquely per (target, index) and reads of a key only
// happen after its writer has finished, so the store needs no
// synchronization beyond per-backend internal locking.
package store

import (
	"context"
	"fmt"
)

// WholeTarget is the index used for a target's own entry, as opposed
// to the entries of its sub-targets.
const WholeTarget = -1

// Key addresses one store entry.
type Key struct {
	Target string
	// Index is the sub-target index, or WholeTarget for the target's
	// aggregate/static entry.
	Index int
}

// String renders the key the way nodes are named in reports and logs.
func (k Key) String() string {
	if k.Index == WholeTarget {
		return k.Target
	}
	return fmt.Sprintf("%s[%d]", k.Target, k.Index)
}

// Entry is a stored result.
type Entry struct {
	// Raw is the serialized value (see Serialize).
	Raw []byte
	// Fingerprint identifies the value content; downstream stamps are
	// built from it.
	Fingerprint string
	// Stamp identifies the inputs (command source + consumed
	// fingerprints) that produced the value. An entry whose stamp
	// matches the freshly computed one is reused without executing.
	Stamp string
	// Format records the target's aggregation format at write time.
	Format string
	// Trace is the sub-target's trace label, if any.
	Trace    string
	HasTrace bool
}

// NotFoundError reports a read of a key with no entry.
type NotFoundError struct {
	Key Key
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no store entry for %s", e.Key)
}

// SubEntry pairs a sub-target entry with its index, for ordered reads.
type SubEntry struct {
	Index int
	Entry Entry
}

// Store is the persistence boundary of the engine. Implementations
// must be safe for concurrent use; writers never share a key and
// readers only touch keys whose writers have completed.
type Store interface {
	// Write creates or overwrites the entry for key.
	Write(ctx context.Context, key Key, entry Entry) error

	// Read returns the entry for key, or *NotFoundError.
	Read(ctx context.Context, key Key) (Entry, error)

	// List returns the sub-target entries of a target ordered by
	// index. The whole-target entry is not included.
	List(ctx context.Context, target string) ([]SubEntry, error)

	// Delete removes the entry for key, if present.
	Delete(ctx context.Context, key Key) error

	// Prune removes sub-target entries of target with index >= keep.
	// Re-expansion calls it when the sub-target count shrinks, so no
	// orphaned results survive.
	Prune(ctx context.Context, target string, keep int) error

	// Close releases backend resources.
	Close() error
}
