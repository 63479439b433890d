// Package fseg is the file-segment allocator: every index tree owns two
// segments (the "leaf" segment, which supplies leaf pages, and the "top"
// segment, which supplies everything above the leaf level), so that a
// sequential scan of the leaf level stays physically clustered even as the
// tree grows taller. Allocation is bump allocation over the StorageManager's
// page count plus a singly linked free list threaded through freed pages'
// own bytes, the same trick the original's FSP free list uses, adapted onto
// this engine's flat StorageManager/FileSet model instead of InnoDB's
// extent/tablespace bitmap structure.
package fseg

import (
	"errors"
	"sync"

	"github.com/tuannm99/btreeidx/internal/storage"
)

var (
	ErrSegmentExhausted = errors.New("fseg: no free page available")
)

// Inode is the on-disk-equivalent bookkeeping for one segment: the next
// page number bump allocation will hand out, and the head of the segment's
// free list (pages freed back to the segment but not yet returned to the
// underlying file). FilNull means "empty".
type Inode struct {
	NextNew  uint32
	FreeHead uint32
}

// Header is the pair of segments every tree owns.
type Header struct {
	Leaf Inode
	Top  Inode
}

// Manager allocates and frees pages against one tree's two segments. It
// wraps a StorageManager/FileSet pair so freed pages can have their
// would-be-garbage content overwritten with the free-list "next" pointer,
// exactly like the overflow chain in internal/storage/overflow.go threads
// its own next-page pointer through page bytes.
type Manager struct {
	mu sync.Mutex
	sm *storage.StorageManager
	fs storage.FileSet
	hd *Header
}

func NewManager(sm *storage.StorageManager, fs storage.FileSet, hd *Header) *Manager {
	return &Manager{sm: sm, fs: fs, hd: hd}
}

// Which segment (leaf or top) the caller wants a page from.
type Which int

const (
	Leaf Which = iota
	Top
)

func (m *Manager) inode(which Which) *Inode {
	if which == Leaf {
		return &m.hd.Leaf
	}
	return &m.hd.Top
}

// Create initializes both of a new tree's segments starting immediately
// after its root page.
func Create(rootPageID uint32) *Header {
	return &Header{
		Leaf: Inode{NextNew: rootPageID + 1, FreeHead: storage.FilNull},
		Top:  Inode{NextNew: rootPageID + 1, FreeHead: storage.FilNull},
	}
}

// AllocFreePage hands out a page for which, preferring a page already on
// the segment's free list over extending the file with a fresh one, the
// same preference order as fseg_alloc_free_page in the original.
func (m *Manager) AllocFreePage(which Which) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in := m.inode(which)
	if in.FreeHead != storage.FilNull {
		pageID := in.FreeHead
		buf := make([]byte, storage.PageSize)
		if err := m.sm.ReadPage(m.fs, int32(pageID), buf); err != nil {
			return 0, err
		}
		in.FreeHead = storage.GetU32(buf, 0)
		return pageID, nil
	}
	return m.AllocFreePageGeneral(which)
}

// AllocFreePageGeneral always extends the segment with a brand-new page,
// bypassing the free list. Used by callers (root raise, split retry with
// n_iterations>0) that need a guaranteed-fresh page rather than one that
// might carry stale min-rec/level metadata from a prior life.
func (m *Manager) AllocFreePageGeneral(which Which) (uint32, error) {
	in := m.inode(which)
	pageID := in.NextNew
	in.NextNew++
	return pageID, nil
}

// FreePage returns pageID to which's free list; its bytes are overwritten
// with the free-list link, so the caller must not retain references to the
// page's previous contents afterward.
func (m *Manager) FreePage(which Which, pageID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	in := m.inode(which)
	buf := make([]byte, storage.PageSize)
	storage.PutU32(buf, 0, in.FreeHead)
	if err := m.sm.WritePage(m.fs, int32(pageID), buf); err != nil {
		return err
	}
	in.FreeHead = pageID
	return nil
}

// FreeStep frees one page from the free list per call rather than all at
// once, so a caller running inside a bounded mini-transaction can spread
// the work of releasing a large segment across several transactions. It
// reports whether the free list is now empty.
func (m *Manager) FreeStep(which Which) (done bool, err error) {
	m.mu.Lock()
	in := m.inode(which)
	head := in.FreeHead
	m.mu.Unlock()

	if head == storage.FilNull {
		return true, nil
	}

	buf := make([]byte, storage.PageSize)
	if err := m.sm.ReadPage(m.fs, int32(head), buf); err != nil {
		return false, err
	}
	next := storage.GetU32(buf, 0)

	m.mu.Lock()
	in.FreeHead = next
	done = in.FreeHead == storage.FilNull
	m.mu.Unlock()
	return done, nil
}

// NReservedPages reports how many pages which has claimed from the
// underlying file, whether currently live or sitting on the free list.
func (m *Manager) NReservedPages(which Which, rootPageID uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inode(which).NextNew - rootPageID - 1
}
