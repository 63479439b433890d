// Package btree is the B-tree index engine: the structure-modification
// machinery that maintains an ordered, disk-resident index over
// variable-length records under concurrent access. It consumes a page
// store, a per-tree segment allocator, a lock-manager notifier and an
// adaptive-hash-index stub as external collaborators, and logs its own
// structural redo through a mini-transaction.
package btree

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/btreeidx/internal/ahi"
	"github.com/tuannm99/btreeidx/internal/fseg"
	"github.com/tuannm99/btreeidx/internal/locksvc"
	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/pagestore"
	"github.com/tuannm99/btreeidx/internal/storage"
)

// Flags captures the per-tree, fixed-at-create-time variant bits every page
// of the tree must agree with.
type Flags struct {
	Clustered bool
	Unique    bool
	Ibuf      bool
	Compact   bool
	Universal bool
	// Compress, when set, makes every structural mutation also attempt to
	// rebuild the mutated page's compressed image; a failed attempt falls
	// back to the uncompressed frame rather than the mutation itself
	// failing.
	Compress bool
}

// compressBudget is the physical size a page's compressed image must fit
// within to be considered a success, modeling the fixed slot a
// ROW_FORMAT=COMPRESSED page occupies on disk. A var rather than a const
// so tests can shrink it to force a compression failure deterministically.
var compressBudget = storage.PageSize / 2

// Tree is one B-tree index identified by (FileSet, root page). It owns a
// pair of file segments (leaf, top), a notifier for the lock manager and
// the adaptive hash index, and a redo log shared with every mini-transaction
// it starts.
type Tree struct {
	sm    *storage.StorageManager
	fs    storage.FileSet
	pool  *pagestore.Pool
	seg   *fseg.Manager
	segH  *fseg.Header
	locks locksvc.Notifier
	ahi   *ahi.Index
	redo  *mtr.RedoLog

	// latch is the whole-tree S/X latch: a reader takes an S-latch and
	// holds it for the whole call, and its descent also S-latches every
	// interior page it passes until its mtr ends; a writer that
	// may restructure the tree takes an X-latch before descending. This is
	// distinct from the per-page frame latches taken via fetchS/fetchX —
	// those protect an individual page's bytes against the buffer pool's
	// own concurrent access, this one protects the tree's shape.
	latch sync.RWMutex

	// compressedImages caches the last successfully built CompressedImage
	// per page, for trees created with Flags.Compress. A page with no
	// entry has no compressed image (Option<CompressedImage> == None);
	// structural mutations attempt to rebuild it and delete the entry on
	// failure instead of leaving a stale image behind.
	compressedImages map[uint32]*storage.CompressedImage

	IndexID uint64
	Flags   Flags

	Root   uint32
	Height int

	// IbufHeaderPage is the page SEG_TOP is anchored on for an ibuf tree
	// (storage.FilNull for ordinary trees, whose SEG_TOP lives on Root
	// itself).
	IbufHeaderPage uint32
	// ibufFreeHead is the head of an ibuf tree's in-tree free list
	// (storage.FilNull when empty); non-ibuf trees never touch this.
	ibufFreeHead uint32
}

// lockTreeS acquires the whole-tree latch in shared mode for the duration
// of a pure navigation (Get, RangeScan, ValidateIndex).
func (t *Tree) lockTreeS()   { t.latch.RLock() }
func (t *Tree) unlockTreeS() { t.latch.RUnlock() }

// lockTreeX acquires the whole-tree latch exclusively for the duration of
// any operation that may restructure the tree (Insert, Delete and the
// teardown routines). Every structural helper's "tree X-latched"
// precondition refers to this latch being held by its caller.
func (t *Tree) lockTreeX()   { t.latch.Lock() }
func (t *Tree) unlockTreeX() { t.latch.Unlock() }

// recompressPage (re)builds pageID's compressed image after a structural
// mutation. Only meaningful when Flags.Compress is set; a failure is not
// fatal to the caller — it just means CompressedImage(pageID) reports none
// cached until the next successful attempt, the documented "compressed
// edit of the pair may fail" case.
func (t *Tree) recompressPage(pageID uint32) {
	if !t.Flags.Compress {
		return
	}
	p, ok := t.pool.Peek(pageID)
	if !ok {
		return
	}
	img, err := storage.CompressPage(p.Buf, compressBudget)
	if err != nil {
		delete(t.compressedImages, pageID)
		slog.Debug("btree: page compress failed, continuing uncompressed", "page", pageID, "err", err)
		return
	}
	t.compressedImages[pageID] = img
}

// CompressedImage returns pageID's cached compressed image and whether one
// is currently present, for trees created with Flags.Compress.
func (t *Tree) CompressedImage(pageID uint32) (*storage.CompressedImage, bool) {
	img, ok := t.compressedImages[pageID]
	return img, ok
}

// Cursor is a position within the tree: a page and a slot index on it,
// already located by a search. Every structural entry point (split,
// compress, discard) takes a Cursor rather than re-searching.
type Cursor struct {
	PageID uint32
	Slot   int
}

func (t *Tree) startMtr() *mtr.Mtr {
	return mtr.Start(t.pool, t.redo)
}

// rootGet fetches the root page under an X-latch within m and asserts its
// format matches the tree, the read/write counterpart of a navigation-only
// search's S-latch on the root.
func (t *Tree) rootGet(m *mtr.Mtr) (storage.Page, error) {
	if err := m.XLock(t.Root); err != nil {
		return storage.Page{}, err
	}
	p, ok := t.pool.Peek(t.Root)
	if !ok {
		return storage.Page{}, fmt.Errorf("btree: root page %d not resident after latch", t.Root)
	}
	if p.IndexID() != t.IndexID {
		slog.Error("btree: root format mismatch", "root", t.Root, "want_index", t.IndexID, "got_index", p.IndexID())
		return storage.Page{}, ErrCorruption
	}
	return *p, nil
}

// fetchS returns pageID's in-memory page under at least an S-latch. If the
// mini-transaction already holds a latch on pageID (S or X), it is reused
// rather than acquired again — sync.RWMutex is not reentrant, and the
// structural helpers above routinely re-fetch a page they X-latched
// earlier in the same mtr.
func (t *Tree) fetchS(m *mtr.Mtr, pageID uint32) (storage.Page, error) {
	if !m.MemoContains(pageID, mtr.ModeS) {
		if err := m.SLock(pageID); err != nil {
			return storage.Page{}, err
		}
	}
	p, ok := t.pool.Peek(pageID)
	if !ok {
		return storage.Page{}, fmt.Errorf("btree: page %d not resident after S-latch", pageID)
	}
	return *p, nil
}

func (t *Tree) fetchX(m *mtr.Mtr, pageID uint32) (storage.Page, error) {
	if !m.MemoContains(pageID, mtr.ModeX) {
		if err := m.XLock(pageID); err != nil {
			return storage.Page{}, err
		}
	}
	p, ok := t.pool.Peek(pageID)
	if !ok {
		return storage.Page{}, fmt.Errorf("btree: page %d not resident after X-latch", pageID)
	}
	return *p, nil
}

// findSlotLE returns the index of the last live record whose key is <= key
// (PAGE_CUR_LE positioning), or -1 if every live record's key is greater.
func findSlotLE(p storage.Page, key Key) int {
	best := -1
	for i := 0; i < p.NumSlots(); i++ {
		rec, err := p.ReadTuple(i)
		if err != nil {
			continue
		}
		if recordKey(rec).compare(key) <= 0 {
			best = i
		}
	}
	return best
}

// search descends from the root to the leaf. Every page on the path,
// interior pages included, is latched within m and stays latched until m
// ends: S-latched by default, X-latched when xLatchLeaf is set, so the
// leaf is left latched for the caller to act on. Interior latches are not
// released during the descent.
func (t *Tree) search(m *mtr.Mtr, key Key, xLatchLeaf bool) (Cursor, error) {
	fetch := t.fetchS
	if xLatchLeaf {
		fetch = t.fetchX
	}
	pageID := t.Root
	for {
		p, err := fetch(m, pageID)
		if err != nil {
			return Cursor{}, err
		}
		if p.Level() == 0 {
			return Cursor{PageID: pageID, Slot: findSlotLE(p, key)}, nil
		}
		slot := findSlotLE(p, key)
		if slot < 0 {
			slot = 0
		}
		rec, err := p.ReadTuple(slot)
		if err != nil {
			return Cursor{}, fmt.Errorf("%w: empty interior page %d", ErrCorruption, pageID)
		}
		_, child := DecodeNodePointer(rec)
		pageID = child
	}
}

// Get performs a point lookup and returns the value stored for key.
func (t *Tree) Get(key Key) ([]byte, error) {
	t.lockTreeS()
	defer t.unlockTreeS()

	m := t.startMtr()
	cur, err := t.search(m, key, false)
	if err != nil {
		m.Abandon()
		return nil, err
	}
	defer m.Abandon()

	if cur.Slot < 0 {
		return nil, ErrKeyNotFound
	}
	p, _ := t.pool.Peek(cur.PageID)
	rec, err := p.ReadTuple(cur.Slot)
	if err != nil {
		return nil, ErrKeyNotFound
	}
	k, v := DecodeUserRecord(rec)
	if !bytes.Equal(k, key) {
		return nil, ErrKeyNotFound
	}
	t.ahi.NoteAccess(cur.PageID)
	return v, nil
}

// KV is one key/value pair returned by a range scan.
type KV struct {
	Key   Key
	Value []byte
}

// RangeScan returns every user record with minKey <= key <= maxKey, in key
// order, by locating minKey and then walking the leaf level list via Next.
// A nil maxKey means "no upper bound".
func (t *Tree) RangeScan(minKey, maxKey Key) ([]KV, error) {
	t.lockTreeS()
	defer t.unlockTreeS()

	var out []KV

	m := t.startMtr()
	cur, err := t.search(m, minKey, false)
	if err != nil {
		m.Abandon()
		return nil, err
	}

	pageID := cur.PageID
	startSlot := 0

	for pageID != storage.FilNull {
		p, ok := t.pool.Peek(pageID)
		if !ok {
			p2, err := t.fetchS(m, pageID)
			if err != nil {
				m.Abandon()
				return nil, err
			}
			p = &p2
		}

		for i := startSlot; i < p.NumSlots(); i++ {
			rec, err := p.ReadTuple(i)
			if err != nil {
				continue
			}
			k, v := DecodeUserRecord(rec)
			if k.compare(minKey) < 0 {
				continue
			}
			if maxKey != nil && k.compare(maxKey) > 0 {
				m.Abandon()
				return out, nil
			}
			out = append(out, KV{Key: append(Key(nil), k...), Value: append([]byte(nil), v...)})
		}

		next := p.Next()
		if next != storage.FilNull {
			if _, err := t.fetchS(m, next); err != nil {
				m.Abandon()
				return nil, err
			}
		}
		pageID = next
		startSlot = 0
	}

	m.Abandon()
	return out, nil
}
