package btree

import (
	"fmt"

	"github.com/tuannm99/btreeidx/internal/fseg"
	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/storage"
)

// Direction names which way a split grows (the new page above or below the
// page being split). The split routine passes it to pageAlloc together
// with a hint page number; pageAlloc accepts both but does not use them,
// so the new page is whatever the segment or ibuf free list hands out
// next, wherever it lies on disk.
type Direction int

const (
	DirNoDir Direction = iota
	DirUp
	DirDown
)

// segmentFor picks SEG_LEAF for level 0, SEG_TOP otherwise.
func segmentFor(level uint32) fseg.Which {
	if level == 0 {
		return fseg.Leaf
	}
	return fseg.Top
}

// pageAlloc returns an X-latched, freshly reset new page for level, or
// ErrOutOfSpace if the tree's segment could not produce one. The caller
// must have reserved free extents before calling any structural routine
// that allocates, so this should not fail in practice outside of a genuine
// capacity error. Ibuf trees bypass the segment allocator
// entirely and take the page from the tree's own free list instead.
func (t *Tree) pageAlloc(m *mtr.Mtr, level uint32, hintPageNo uint32, dir Direction) (storage.Page, error) {
	if t.Flags.Ibuf {
		return t.ibufPageAlloc(m, level)
	}

	which := segmentFor(level)

	pageID, err := t.seg.AllocFreePage(which)
	if err != nil {
		return storage.Page{}, ErrOutOfSpace
	}

	if err := m.XLock(pageID); err != nil {
		return storage.Page{}, err
	}
	p, ok := t.pool.Peek(pageID)
	if !ok {
		return storage.Page{}, ErrOutOfSpace
	}
	p.Reset(pageID)
	p.SetLevel(level)
	p.SetIndexID(t.IndexID)
	return *p, nil
}

// ibufPageAlloc pops the head of the ibuf tree's in-tree free list. The
// free list is guaranteed non-empty by the caller (whatever policy keeps it
// topped up during ibuf flushing is outside this core's scope, per the
// open question this engine inherited); a depleted list is a caller bug,
// not a condition to paper over by silently treating FIL_NULL as success,
// so this fails loudly instead.
func (t *Tree) ibufPageAlloc(m *mtr.Mtr, level uint32) (storage.Page, error) {
	if t.ibufFreeHead == storage.FilNull {
		return storage.Page{}, fmt.Errorf("%w: ibuf tree free list depleted", ErrOutOfSpace)
	}

	pageID := t.ibufFreeHead
	if !m.MemoContains(pageID, mtr.ModeX) {
		if err := m.XLock(pageID); err != nil {
			return storage.Page{}, err
		}
	}
	p, ok := t.pool.Peek(pageID)
	if !ok {
		return storage.Page{}, ErrOutOfSpace
	}
	t.ibufFreeHead = p.Next()

	p.Reset(pageID)
	p.SetLevel(level)
	p.SetIndexID(t.IndexID)
	return *p, nil
}

// pageFree bumps the page's modify clock (invalidating optimistic
// observers) and returns it to its segment, or — for an ibuf tree —
// pushes it onto the in-tree free list instead.
func (t *Tree) pageFree(m *mtr.Mtr, page storage.Page) error {
	level := page.Level()
	pageID := page.PageID()
	if !m.MemoContains(pageID, mtr.ModeX) {
		if err := m.XLock(pageID); err != nil {
			return err
		}
	}
	t.ahi.DropPageHashIndex(pageID)

	if t.Flags.Ibuf {
		page.SetNext(t.ibufFreeHead)
		t.ibufFreeHead = pageID
		return nil
	}
	return t.seg.FreePage(segmentFor(level), pageID)
}

// SizeKind selects what get_size reports.
type SizeKind int

const (
	SizeLeafPages SizeKind = iota
	SizeTotal
)

// GetSize returns the reserved page count for kind, read from the
// segment headers that t.seg keeps for the root. No page latch is taken
// for the read.
func (t *Tree) GetSize(kind SizeKind) uint32 {
	switch kind {
	case SizeLeafPages:
		return t.seg.NReservedPages(fseg.Leaf, t.Root)
	default:
		return t.seg.NReservedPages(fseg.Leaf, t.Root) + t.seg.NReservedPages(fseg.Top, t.Root) + 1
	}
}
