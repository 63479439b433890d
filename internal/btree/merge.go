package btree

import (
	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/storage"
)

// MergeOutcome reports what compress actually did, since "merge failed, page
// stays as-is" is a normal, expected result rather than an error.
type MergeOutcome int

const (
	NoChange MergeOutcome = iota
	MergedLeft
	MergedRight
	Lifted
)

// compress attempts to merge the page at cur into a sibling: a
// sole page on its level is lifted into its father instead of merged.
func (t *Tree) compress(m *mtr.Mtr, cur Cursor) (MergeOutcome, error) {
	page, err := t.fetchX(m, cur.PageID)
	if err != nil {
		return NoChange, err
	}

	if page.Prev() == storage.FilNull && page.Next() == storage.FilNull {
		if err := t.liftPageUp(m, page); err != nil {
			return NoChange, err
		}
		return Lifted, nil
	}

	if page.Prev() != storage.FilNull {
		ok, err := t.tryMerge(m, page, page.Prev(), true)
		if err != nil {
			return NoChange, err
		}
		if ok {
			return MergedLeft, nil
		}
	}
	if page.Next() != storage.FilNull {
		ok, err := t.tryMerge(m, page, page.Next(), false)
		if err != nil {
			return NoChange, err
		}
		if ok {
			return MergedRight, nil
		}
	}
	return NoChange, nil
}

// tryMerge attempts to fold page's records into sibling (intoLeft == true
// means sibling is page's left neighbor and page's records append to it;
// otherwise sibling is page's right neighbor and page's records are
// prepended). Returns false, nil if the merge doesn't fit and no error
// occurred — the caller should try the other side.
func (t *Tree) tryMerge(m *mtr.Mtr, page storage.Page, siblingID uint32, intoLeft bool) (bool, error) {
	sibling, err := t.fetchX(m, siblingID)
	if err != nil {
		return false, err
	}

	if page.DataSize() > sibling.MaxInsertSizeAfterReorganize() {
		return false, nil
	}
	if page.DataSize() > sibling.MaxInsertSize() {
		sibling.Reorganize()
		m.LogPageReorganize(sibling.PageID())
		if page.DataSize() > sibling.MaxInsertSize() {
			return false, nil
		}
	}

	n := page.NumSlots()
	if intoLeft {
		// Left-merge: append page's records to the end of sibling, in order.
		for i := 0; i < n; i++ {
			rec, err := page.ReadTuple(i)
			if err != nil {
				continue
			}
			if _, err := sibling.InsertTuple(append([]byte(nil), rec...)); err != nil {
				return false, err
			}
		}
	} else {
		// Right-merge: prepend page's records to the front of sibling,
		// preserving page's own order.
		for i := n - 1; i >= 0; i-- {
			rec, err := page.ReadTuple(i)
			if err != nil {
				continue
			}
			if _, err := sibling.InsertTupleAt(0, append([]byte(nil), rec...)); err != nil {
				return false, err
			}
		}
		if page.Prev() == storage.FilNull && sibling.NumSlots() > 0 {
			sibling.SetMinRecMark(0, true)
		}
	}

	if err := t.unlinkFromLevel(m, page); err != nil {
		return false, err
	}

	father, err := t.getFatherNodePtr(m, page)
	if err != nil {
		return false, err
	}
	fatherPage, err := t.fetchX(m, father.PageID)
	if err != nil {
		return false, err
	}
	if intoLeft {
		// page's own node pointer is now stale; sibling (the merge
		// target) keeps its existing node pointer and key unchanged.
		fatherPage.RemoveSlotAt(father.Slot)
	} else {
		// Rewrite page's node pointer to reference the merge target
		// (content now lives there, under page's original boundary key),
		// then drop the target's own now-redundant separate entry.
		if rec, rerr := fatherPage.ReadTuple(father.Slot); rerr == nil {
			SetNodePointerChild(rec, sibling.PageID())
		}
		if father.Slot+1 < fatherPage.NumSlots() {
			fatherPage.RemoveSlotAt(father.Slot + 1)
		}
	}

	if intoLeft {
		t.locks.UpdateMergeLeft(sibling.PageID(), page.PageID())
	} else {
		t.locks.UpdateMergeRight(sibling.PageID(), page.PageID())
	}

	t.recompressPage(sibling.PageID())
	t.recompressPage(fatherPage.PageID())

	return true, t.pageFree(m, page)
}

// unlinkFromLevel splices page out of its level's doubly linked list.
func (t *Tree) unlinkFromLevel(m *mtr.Mtr, page storage.Page) error {
	if page.Prev() != storage.FilNull {
		if prev, err := t.fetchX(m, page.Prev()); err == nil {
			prev.SetNext(page.Next())
		}
	}
	if page.Next() != storage.FilNull {
		if next, err := t.fetchX(m, page.Next()); err == nil {
			next.SetPrev(page.Prev())
			if page.Prev() == storage.FilNull && next.NumSlots() > 0 {
				next.SetMinRecMark(0, true)
			}
		}
	}
	return nil
}

// liftPageUp reduces tree height by one: page is the sole survivor on its
// level, so its father (which must then itself be sole-on-level, being the
// only page referencing it) is emptied and repopulated with page's records
// one level lower, and page itself is freed.
func (t *Tree) liftPageUp(m *mtr.Mtr, page storage.Page) error {
	if page.NumSlots() == 0 {
		return t.discardOnlyPageOnLevel(m, page)
	}

	father, err := t.getFatherNodePtr(m, page)
	if err != nil {
		return err
	}
	fatherPage, err := t.fetchX(m, father.PageID)
	if err != nil {
		return err
	}

	n := fatherPage.NumSlots()
	for i := n - 1; i >= 0; i-- {
		fatherPage.RemoveSlotAt(i)
	}

	for i := 0; i < page.NumSlots(); i++ {
		rec, err := page.ReadTuple(i)
		if err != nil {
			continue
		}
		if _, err := fatherPage.InsertTuple(append([]byte(nil), rec...)); err != nil {
			fatherPage.Reorganize()
			m.LogPageReorganize(fatherPage.PageID())
			if _, err := fatherPage.InsertTuple(append([]byte(nil), rec...)); err != nil {
				return ErrOutOfSpace
			}
		}
	}
	fatherPage.SetLevel(page.Level())
	fatherPage.SetPrev(storage.FilNull)
	fatherPage.SetNext(storage.FilNull)
	if fatherPage.NumSlots() > 0 {
		fatherPage.SetMinRecMark(0, true)
	}
	if fatherPage.PageID() == t.Root {
		t.Height--
	}

	t.recompressPage(fatherPage.PageID())

	return t.pageFree(m, page)
}

// discardPage handles deleting the last record of a page that is not
// sole-on-level: its node pointer is removed from the father and it is
// unlinked and freed, with the leftmost-of-level min-rec flag re-tagged
// onto the new leftmost page if page itself was leftmost.
func (t *Tree) discardPage(m *mtr.Mtr, cur Cursor) error {
	page, err := t.fetchX(m, cur.PageID)
	if err != nil {
		return err
	}
	if page.Prev() == storage.FilNull && page.Next() == storage.FilNull {
		return t.discardOnlyPageOnLevel(m, page)
	}

	father, err := t.getFatherNodePtr(m, page)
	if err == nil {
		if fatherPage, ferr := t.fetchX(m, father.PageID); ferr == nil {
			fatherPage.RemoveSlotAt(father.Slot)
			t.recompressPage(fatherPage.PageID())
		}
	}

	wasLeftmost := page.Prev() == storage.FilNull
	if err := t.unlinkFromLevel(m, page); err != nil {
		return err
	}
	if wasLeftmost && page.Level() > 0 && page.Next() != storage.FilNull {
		if next, nerr := t.fetchX(m, page.Next()); nerr == nil && next.NumSlots() > 0 {
			next.SetMinRecMark(0, true)
		}
	}

	return t.pageFree(m, page)
}

// discardOnlyPageOnLevel handles the empty-sole-page case: the father's
// node pointer for page is removed, the father's level absorbs page's
// level, and page is freed. If the father is itself now the sole,
// non-root page on its level, the collapse recurses upward until it
// reaches the actual root, which is emptied in place rather than freed.
func (t *Tree) discardOnlyPageOnLevel(m *mtr.Mtr, page storage.Page) error {
	if page.PageID() == t.Root {
		// An empty root is legal; nothing further to collapse.
		page.SetLevel(0)
		t.Height = 0
		return nil
	}

	// page is empty, so it carries no key to locate its father by search;
	// but a level with a sole page forces every ancestor level to also be
	// sole (each parent-level page needs at least one child, and this is
	// the only child going around), so the father is just the single page
	// one level up, found by walking the root's sole leftmost-pointer
	// chain rather than searching by key.
	fatherID, err := t.soleLevelFather(m, page.Level())
	if err != nil {
		return err
	}
	fatherPage, err := t.fetchX(m, fatherID)
	if err != nil {
		return err
	}
	fatherPage.RemoveSlotAt(0)
	fatherPage.SetLevel(page.Level())
	t.recompressPage(fatherPage.PageID())

	if err := t.pageFree(m, page); err != nil {
		return err
	}
	t.Height--

	if fatherPage.NumSlots() == 0 && fatherPage.Prev() == storage.FilNull && fatherPage.Next() == storage.FilNull {
		return t.discardOnlyPageOnLevel(m, fatherPage)
	}
	return nil
}
