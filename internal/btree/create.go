package btree

import (
	"fmt"

	"github.com/tuannm99/btreeidx/internal/ahi"
	"github.com/tuannm99/btreeidx/internal/fseg"
	"github.com/tuannm99/btreeidx/internal/locksvc"
	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/pagestore"
	"github.com/tuannm99/btreeidx/internal/storage"
)

// Deps bundles the external collaborators a Tree needs: the page store, a
// redo log shared across mini-transactions, a lock-manager notifier and an
// adaptive-hash-index stub. Tests can substitute small in-memory fakes for
// the latter two; the page store and redo log are concrete because every
// operation ultimately has to durably mutate bytes somewhere.
type Deps struct {
	SM    *storage.StorageManager
	FS    storage.FileSet
	Pool  *pagestore.Pool
	Redo  *mtr.RedoLog
	Locks locksvc.Notifier
	AHI   *ahi.Index
}

// Create builds a brand-new tree: allocates the root page, stamps its
// index id (the flags are not written to the page), sets it up as an
// empty leaf, and creates the tree's
// two file segments anchored on the root. It asserts the empty root has
// room for two maximum-size records before returning.
//
// Ibuf trees (Flags.Ibuf) differ from step 1 onward: the top segment is
// anchored on a dedicated header page allocated just before the root
// instead of on the root itself, and the root must be exactly the first
// page that segment ever hands out — enforced by assertion, per the
// original's IBUF_TREE_ROOT_PAGE_NO invariant — and they carry an in-tree
// free list instead of relying on the segment allocator for
// every subsequent page.
func Create(deps Deps, indexID uint64, flags Flags) (*Tree, error) {
	if deps.Locks == nil {
		deps.Locks = locksvc.New()
	}
	if deps.AHI == nil {
		deps.AHI = ahi.New(1024)
	}

	ibufHeaderPage := storage.FilNull
	var rootPageID uint32
	var err error

	if flags.Ibuf {
		var ibufHeader uint32
		ibufHeader, err = deps.SM.CountPages(deps.FS)
		if err != nil {
			return nil, err
		}
		ibufHeaderPage = ibufHeader
		rootPageID = ibufHeader + 1
	} else {
		// The root always lands on whatever page number the segment
		// allocator would have handed out next; for a brand-new FileSet
		// that is page 0.
		rootPageID, err = deps.SM.CountPages(deps.FS)
		if err != nil {
			return nil, err
		}
	}

	t := &Tree{
		sm:               deps.SM,
		fs:               deps.FS,
		pool:             deps.Pool,
		locks:            deps.Locks,
		ahi:              deps.AHI,
		redo:             deps.Redo,
		compressedImages: make(map[uint32]*storage.CompressedImage),
		IndexID:          indexID,
		Flags:            flags,
		Root:             rootPageID,
		Height:           0,
		IbufHeaderPage:   ibufHeaderPage,
		ibufFreeHead:     storage.FilNull,
	}

	if flags.Ibuf {
		t.segH = &fseg.Header{
			Leaf: fseg.Inode{NextNew: rootPageID + 1, FreeHead: storage.FilNull},
			Top:  fseg.Inode{NextNew: ibufHeaderPage + 1, FreeHead: storage.FilNull},
		}
	} else {
		t.segH = fseg.Create(rootPageID)
	}
	t.seg = fseg.NewManager(deps.SM, deps.FS, t.segH)

	m := t.startMtr()

	if flags.Ibuf {
		if err := m.XLock(ibufHeaderPage); err != nil {
			m.Abandon()
			return nil, err
		}
		hp, ok := t.pool.Peek(ibufHeaderPage)
		if !ok {
			m.Abandon()
			return nil, ErrOutOfSpace
		}
		hp.Reset(ibufHeaderPage)

		firstTop, err := t.seg.AllocFreePageGeneral(fseg.Top)
		if err != nil {
			m.Abandon()
			return nil, err
		}
		if firstTop != rootPageID {
			m.Abandon()
			return nil, fmt.Errorf("%w: ibuf tree root must be the top segment's first allocated page (got %d, want %d)", ErrCorruption, firstTop, rootPageID)
		}
	}

	if err := m.XLock(rootPageID); err != nil {
		m.Abandon()
		return nil, err
	}
	p, ok := t.pool.Peek(rootPageID)
	if !ok {
		m.Abandon()
		return nil, ErrOutOfSpace
	}
	p.Reset(rootPageID)
	p.SetLevel(0)
	p.SetIndexID(indexID)
	p.SetPrev(storage.FilNull)
	p.SetNext(storage.FilNull)

	if !fitsTwoMaxRecords(*p) {
		m.Abandon()
		return nil, ErrTupleTooLarge
	}

	if err := m.Commit(); err != nil {
		return nil, err
	}

	return t, nil
}

// Open reattaches to an existing tree given its previously persisted
// checkpoint (root page, height, segment state, ibuf header/free-list).
func Open(deps Deps, indexID uint64, flags Flags, chk Checkpoint) *Tree {
	if deps.Locks == nil {
		deps.Locks = locksvc.New()
	}
	if deps.AHI == nil {
		deps.AHI = ahi.New(1024)
	}
	t := &Tree{
		sm:               deps.SM,
		fs:               deps.FS,
		pool:             deps.Pool,
		locks:            deps.Locks,
		ahi:              deps.AHI,
		redo:             deps.Redo,
		compressedImages: make(map[uint32]*storage.CompressedImage),
		IndexID:          indexID,
		Flags:            flags,
		Root:             chk.Root,
		Height:           chk.Height,
		IbufHeaderPage:   chk.IbufHeaderPage,
		ibufFreeHead:     chk.IbufFreeHead,
	}
	t.segH = &fseg.Header{Leaf: chk.SegLeaf, Top: chk.SegTop}
	t.seg = fseg.NewManager(deps.SM, deps.FS, t.segH)
	return t
}

// FreeButNotRoot tears down every non-root page: it repeatedly runs one
// segment-free step per mini-transaction on SEG_LEAF until empty, then the
// same on SEG_TOP excluding its header, bounding log-space pressure per
// mtr rather than freeing the whole tree in one giant transaction.
func (t *Tree) FreeButNotRoot() error {
	t.lockTreeX()
	defer t.unlockTreeX()

	for {
		m := t.startMtr()
		done, err := t.seg.FreeStep(fseg.Leaf)
		if err != nil {
			m.Abandon()
			return err
		}
		if err := m.Commit(); err != nil {
			return err
		}
		if done {
			break
		}
	}
	for {
		m := t.startMtr()
		done, err := t.seg.FreeStep(fseg.Top)
		if err != nil {
			m.Abandon()
			return err
		}
		if err := m.Commit(); err != nil {
			return err
		}
		if done {
			break
		}
	}
	return nil
}

// FreeRoot drops the root's page-hash entries and frees the SEG_TOP header
// itself within the caller's mini-transaction, completing teardown.
func (t *Tree) FreeRoot(m *mtr.Mtr) error {
	t.lockTreeX()
	defer t.unlockTreeX()

	t.ahi.DropPageHashIndex(t.Root)
	for {
		done, err := t.seg.FreeStep(fseg.Top)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	return nil
}
