package pagestore

import (
	"errors"
	"sync"

	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/storage"
)

// ErrLatchNotHeld is returned by Unlatch calls that don't match any
// outstanding latch, which always indicates a caller bug.
var ErrLatchNotHeld = errors.New("pagestore: unlatch of a page with no matching latch held")

// pageLatch is a per-page reader/writer lock plus the "modify clock" the
// original bumps on every structural write, so a reader that released its
// latch mid-descent can detect a concurrent split/merge happened underneath
// it and retry with a fresh, fully latched search instead of trusting stale
// node pointers.
type pageLatch struct {
	mu          sync.RWMutex
	modifyClock uint64
}

// latchTable is the pool's page-number -> latch registry. Latches are
// created lazily and never removed, since a page number can be reused after
// a free/realloc cycle and the RWMutex has no state tied to page contents.
type latchTable struct {
	mu    sync.Mutex
	byPage map[uint32]*pageLatch
}

func newLatchTable() *latchTable {
	return &latchTable{byPage: make(map[uint32]*pageLatch)}
}

func (t *latchTable) get(pageID uint32) *pageLatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.byPage[pageID]
	if !ok {
		l = &pageLatch{}
		t.byPage[pageID] = l
	}
	return l
}

// SLatch acquires a shared latch on pageID, pinning it in the buffer pool
// so a concurrent CLOCK sweep cannot evict it out from under the reader.
func (p *Pool) SLatch(pageID uint32) error {
	if _, err := p.GetPage(pageID); err != nil {
		return err
	}
	p.latches.get(pageID).mu.RLock()
	return nil
}

// XLatch acquires an exclusive latch on pageID.
func (p *Pool) XLatch(pageID uint32) error {
	if _, err := p.GetPage(pageID); err != nil {
		return err
	}
	p.latches.get(pageID).mu.Lock()
	return nil
}

// Unlatch releases a previously acquired latch and unpins the page. dirty
// pages (X-latched ones, by convention) are marked for flush.
func (p *Pool) Unlatch(pageID uint32, mode mtr.LatchMode) {
	l := p.latches.get(pageID)
	dirty := mode == mtr.ModeX
	if dirty {
		l.modifyClock++
		l.mu.Unlock()
	} else {
		l.mu.RUnlock()
	}

	p.mu.Lock()
	idx, ok := p.pageTable[pageID]
	var f *Frame
	if ok {
		f = p.frames[idx]
	}
	p.mu.Unlock()

	if f != nil {
		_ = p.Unpin(f.Page, dirty)
	}
}

// ModifyClock returns the number of X-latch releases pageID has seen, used
// by an optimistic reader to tell whether a page changed underneath it
// while it had no latch held.
func (p *Pool) ModifyClock(pageID uint32) uint64 {
	l := p.latches.get(pageID)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.modifyClock
}

// Peek returns the in-memory page for pageID without affecting pin count,
// for use immediately after SLatch/XLatch already pinned it: the caller
// holds the latch, so the frame cannot be evicted or reused underneath it.
func (p *Pool) Peek(pageID uint32) (*storage.Page, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.pageTable[pageID]
	if !ok {
		return nil, false
	}
	f := p.frames[idx]
	if f == nil {
		return nil, false
	}
	return f.Page, true
}

var _ mtr.PageLatcher = (*Pool)(nil)
