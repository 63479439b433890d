package btree

import "errors"

var (
	// ErrKeyNotFound is returned by point lookups and deletes that don't
	// locate a matching user record.
	ErrKeyNotFound = errors.New("btree: key not found")

	// ErrOutOfSpace is the null-sentinel translated into a Go error: the
	// allocator could not produce a page because the caller's segment
	// reservation was exhausted. Callers above the split machinery are
	// responsible for reserving enough extents that this never surfaces
	// mid-split; seeing it there is a reservation bug, not a retryable
	// condition.
	ErrOutOfSpace = errors.New("btree: segment allocator out of space")

	// ErrCorruption marks an invariant violation detected at read time:
	// a father/child page-number mismatch, a level-list break, an
	// out-of-order sibling pair. The tree must not be used further once
	// this is raised.
	ErrCorruption = errors.New("btree: index structure corruption detected")

	// ErrTupleTooLarge is returned when a single record cannot fit on any
	// page even after a split, violating the "two max-size records fit on
	// an empty page" precondition.
	ErrTupleTooLarge = errors.New("btree: record exceeds maximum page capacity")

	// ErrPageCompressFailed is returned by a reorganize on a Flags.Compress
	// tree when the rebuilt page cannot be compressed to fit its budget.
	// Unlike split/merge, which simply keep running the pair uncompressed,
	// reorganize restores the page's pre-reorganize bytes and reports the
	// failure rather than leaving an uncompressible page in place.
	ErrPageCompressFailed = errors.New("btree: page reorganize produced an uncompressible page")
)
