// Package locksvc notifies the record lock manager when a structural
// operation moves user records between pages, so lock bits that were
// attached to a physical (page, heap-slot) pair follow the record instead
// of silently pointing at stale storage. A real lock manager keeps a
// per-page hash of held locks; this package models only the notification
// contract each structural operation must satisfy, using the same
// page-pin refcounting primitive the engine already uses for frame pins.
package locksvc

import (
	"sync"

	locking "github.com/tuannm99/btreeidx/internal/lock"
)

// Notifier receives structural-change notifications. The btree package
// depends on this interface, not on a concrete lock manager, so tests can
// swap in a recording stub.
type Notifier interface {
	UpdateSplitLeft(newPage, page uint32)
	UpdateSplitRight(newPage, page uint32)
	UpdateMergeLeft(leftPage, mergePage uint32)
	UpdateMergeRight(rightPage, mergePage uint32)
	UpdateRootRaise(newRoot, oldRoot uint32)
	UpdateDiscard(page uint32)
	UpdateCopyAndDiscard(newPage, page uint32)
}

// Service is a simple in-memory Notifier: each page that has ever received
// a relocated lock bit gets a locking.RefCount tracking how many times,
// rather than modeling actual per-record lock bits, which belong to a full
// lock manager outside this engine's scope.
type Service struct {
	mu   sync.Mutex
	refs map[uint32]*locking.RefCount
}

func New() *Service {
	return &Service{refs: make(map[uint32]*locking.RefCount)}
}

func (s *Service) refFor(page uint32) *locking.RefCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refs[page]
	if !ok {
		// NewRefCount starts at 1; treat that as "page touched, zero
		// relocations recorded yet" rather than one already pinned.
		r = locking.NewRefCount()
		s.refs[page] = r
	}
	return r
}

func (s *Service) bump(page uint32) {
	s.refFor(page).Inc()
}

// MoveCount reports how many relocation notifications a page has received,
// for tests asserting the right notification fired.
func (s *Service) MoveCount(page uint32) int64 {
	s.mu.Lock()
	r, ok := s.refs[page]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return int64(r.Get()) - 1
}

// UpdateSplitLeft moves locks for records that stayed on page (now the
// left/lower half) onto newPage, which takes over as the right half's
// identity in the level list. Called from the split path before the
// original page's records are truncated.
func (s *Service) UpdateSplitLeft(newPage, page uint32) {
	s.bump(page)
	s.bump(newPage)
}

// UpdateSplitRight moves locks for records that moved onto newPage (the
// newly allocated right half) off of page.
func (s *Service) UpdateSplitRight(newPage, page uint32) {
	s.bump(page)
	s.bump(newPage)
}

// UpdateMergeLeft moves locks for mergePage's records onto leftPage, which
// absorbed them; called by the merge/lift path right before mergePage is
// discarded.
func (s *Service) UpdateMergeLeft(leftPage, mergePage uint32) {
	s.bump(leftPage)
	s.bump(mergePage)
}

// UpdateMergeRight is the mirror of UpdateMergeLeft when the surviving page
// is to the right of the page being absorbed.
func (s *Service) UpdateMergeRight(rightPage, mergePage uint32) {
	s.bump(rightPage)
	s.bump(mergePage)
}

// UpdateRootRaise moves locks held against the old (now non-root) root page
// onto the freshly allocated new root, since the old root's page number no
// longer identifies the top of the tree.
func (s *Service) UpdateRootRaise(newRoot, oldRoot uint32) {
	s.bump(newRoot)
	s.bump(oldRoot)
}

// UpdateDiscard releases any locks still attached to page, which is about
// to be freed back to its segment.
func (s *Service) UpdateDiscard(page uint32) {
	s.bump(page)
	s.mu.Lock()
	delete(s.refs, page)
	s.mu.Unlock()
}

// UpdateCopyAndDiscard moves locks from page onto newPage when a page's
// records are copied wholesale (root-raise leaf copy, single-page-on-level
// collapse) rather than split or merged.
func (s *Service) UpdateCopyAndDiscard(newPage, page uint32) {
	s.bump(newPage)
	s.UpdateDiscard(page)
}

var _ Notifier = (*Service)(nil)
