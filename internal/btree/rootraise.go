package btree

import (
	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/storage"
)

// rootRaiseAndInsert is invoked when the leaf-to-root recursion in
// splitAndInsert reaches the root: the root's own contents move down into a
// fresh page, the root is recreated one level taller with a single node
// pointer to that page, and cur is repositioned so splitAndInsert can place
// tuple as if nothing special happened.
func (t *Tree) rootRaiseAndInsert(m *mtr.Mtr, cur Cursor, tuple []byte) (Cursor, error) {
	root, err := t.fetchX(m, t.Root)
	if err != nil {
		return Cursor{}, err
	}
	rootLevel := root.Level()

	newPage, err := t.pageAlloc(m, rootLevel, t.Root+1, DirUp)
	if err != nil {
		return Cursor{}, err
	}

	n := root.NumSlots()
	for i := 0; i < n; i++ {
		rec, err := root.ReadTuple(i)
		if err != nil {
			continue
		}
		if _, err := newPage.InsertTuple(append([]byte(nil), rec...)); err != nil {
			newPage.Reorganize()
			m.LogPageReorganize(newPage.PageID())
			if _, err := newPage.InsertTuple(append([]byte(nil), rec...)); err != nil {
				return Cursor{}, ErrOutOfSpace
			}
		}
	}
	newPage.SetPrev(storage.FilNull)
	newPage.SetNext(storage.FilNull)
	if newPage.NumSlots() > 0 {
		newPage.SetMinRecMark(0, true)
	}

	t.locks.UpdateRootRaise(newPage.PageID(), t.Root)

	root.Reset(t.Root) // wipe the old records before the root is recreated one level up
	root.SetLevel(rootLevel + 1)
	root.SetPrev(storage.FilNull)
	root.SetNext(storage.FilNull)
	root.SetIndexID(t.IndexID)

	nodePtr := EncodeNodePointer(nil, newPage.PageID())
	if key, err := firstUserKey(newPage); err == nil {
		nodePtr = EncodeNodePointer(key, newPage.PageID())
	}
	slot, err := root.InsertTuple(nodePtr)
	if err != nil {
		return Cursor{}, err
	}
	root.SetMinRecMark(slot, true)

	t.recompressPage(newPage.PageID())
	t.recompressPage(root.PageID())

	t.Height++

	newCur := cur
	newCur.PageID = newPage.PageID()
	return t.splitAndInsert(m, newCur, tuple)
}
