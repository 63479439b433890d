package btree

import (
	"log/slog"

	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/storage"
)

// maxSplitRetries bounds the Step 6 reorganize-then-retry-then-reloop
// fallback. Non-compressed pages converge in at most two iterations; this
// is a defensive ceiling against a bug turning an invariant violation into
// an infinite loop rather than a failed insert.
const maxSplitRetries = 4

// chooseSplitRecLeft reports whether the page's last insert converged
// immediately left of cursorSlot, the "converging to the left" pattern:
// sequential inserts descending into the page just ahead of where the next
// one will land. When it matches, splitIdx is where Step 1 says to cut.
func chooseSplitRecLeft(p storage.Page, cursorSlot int) (splitIdx int, matched bool) {
	last, ok := p.LastInsert()
	if !ok || last != cursorSlot+1 {
		return 0, false
	}
	if cursorSlot == 0 {
		// The predecessor is the infimum; split at next(cursor) instead.
		return 1, true
	}
	return cursorSlot, true
}

// chooseSplitRecRight reports whether the page's last insert converged
// immediately right of cursorSlot, the "converging to the right" pattern.
// It leaves one extra record after the insert point on the left half to
// keep a sequential-insert workload's hash index warm, unless fewer than
// two records follow the insert point.
func chooseSplitRecRight(p storage.Page, cursorSlot int) (splitIdx int, matched bool) {
	last, ok := p.LastInsert()
	if !ok || last != cursorSlot {
		return 0, false
	}
	if p.NumSlots()-(cursorSlot+1) < 2 {
		return cursorSlot + 1, true
	}
	return cursorSlot + 2, true
}

// guaranteedFitSplit is Step 1's retry computation: walk records from the
// infimum accumulating reserved space, including tuple as if already
// inserted at cursorSlot, until the cumulative total reaches half of
// total_space = total_data + dir_reserve(total_recs). The returned index is
// provably a split point under which tuple fits on its half.
func guaranteedFitSplit(p storage.Page, cursorSlot int, tuple []byte) int {
	nSlots := p.NumSlots()
	totalRecs := nSlots + 1
	totalData := p.DataSize() + len(tuple)
	half := (totalData + dirReserve(totalRecs)) / 2

	cum := 0
	for i := 0; i <= nSlots; i++ {
		var size int
		switch {
		case i == cursorSlot+1:
			size = len(tuple) + storage.SlotSize
		default:
			realIdx := i
			if i > cursorSlot {
				realIdx--
			}
			if realIdx >= nSlots {
				return i
			}
			rec, err := p.ReadTuple(realIdx)
			if err != nil {
				continue
			}
			size = len(rec) + storage.SlotSize
		}
		cum += size
		if cum >= half {
			return i
		}
	}
	return nSlots
}

// chooseSplitPoint implements Step 1 in its entirety: the two convergence
// heuristics tried in order, the balanced-middle fallback, and the
// guaranteed-fit computation forced by any retry (nIterations > 0).
func chooseSplitPoint(p storage.Page, cursorSlot int, tuple []byte, nIterations int) (splitIdx int, dir Direction) {
	if nIterations > 0 {
		return guaranteedFitSplit(p, cursorSlot, tuple), DirUp
	}
	if idx, ok := chooseSplitRecLeft(p, cursorSlot); ok {
		return idx, DirDown
	}
	if idx, ok := chooseSplitRecRight(p, cursorSlot); ok {
		return idx, DirUp
	}
	return p.NumSlots() / 2, DirUp
}

// splitAndInsert is the central structure-modification routine: split a
// full page in two and place tuple on whichever half it belongs to.
// Preconditions: the tree is X-latched for the whole call (the caller's mtr
// already holds an X-latch chain down to cur.PageID); two free pages are
// available from the segment allocator. The returned cursor locates the
// inserted record's final resting place.
func (t *Tree) splitAndInsert(m *mtr.Mtr, cur Cursor, tuple []byte) (Cursor, error) {
	return t.splitAndInsertRetry(m, cur, tuple, 0)
}

func (t *Tree) splitAndInsertRetry(m *mtr.Mtr, cur Cursor, tuple []byte, nIterations int) (Cursor, error) {
	if nIterations > maxSplitRetries {
		return Cursor{}, ErrCorruption
	}

	page, err := t.fetchX(m, cur.PageID)
	if err != nil {
		return Cursor{}, err
	}

	splitIdx, dir := chooseSplitPoint(page, cur.Slot, tuple, nIterations)

	hint := cur.PageID + 1
	if dir == DirDown {
		hint = cur.PageID - 1
	}
	newPage, err := t.pageAlloc(m, page.Level(), hint, dir)
	if err != nil {
		return Cursor{}, err
	}

	// Splitting at the new record itself: no existing record moves, so the
	// new record alone starts the upper half. It goes onto newPage first so
	// attachHalfPages can derive newPage's node pointer from it.
	if dir == DirUp && splitIdx == page.NumSlots() && cur.Slot+1 == splitIdx {
		if _, err := newPage.InsertTupleAt(0, tuple); err != nil {
			return Cursor{}, err
		}
		if err := t.attachHalfPages(m, page, splitIdx, newPage, dir); err != nil {
			return Cursor{}, err
		}
		t.notifySplit(page, newPage, dir)
		return Cursor{PageID: newPage.PageID(), Slot: 0}, nil
	}

	if err := t.attachHalfPages(m, page, splitIdx, newPage, dir); err != nil {
		return Cursor{}, err
	}

	// Re-fetch: attachHalfPages may have moved records and the recursive
	// parent insert may itself have split, but page/newPage's own page
	// numbers are stable once allocated.
	page, _ = t.fetchX(m, page.PageID())
	newPage, _ = t.fetchX(m, newPage.PageID())

	// cur.Slot is the predecessor record's index (PAGE_CUR_LE positioning);
	// the tuple's logical insert position among the original n+1 slots is
	// one past it. page kept [splitIdx, n) and newPage got [0, splitIdx)
	// for a DOWN split, the reverse of an UP split; map the insert
	// position through whichever half retained that range.
	insertPos := cur.Slot + 1
	var targetPageID uint32
	var targetSlot int
	switch dir {
	case DirUp:
		if insertPos <= splitIdx {
			targetPageID, targetSlot = page.PageID(), insertPos
		} else {
			targetPageID, targetSlot = newPage.PageID(), insertPos-splitIdx
		}
	default: // DirDown
		if insertPos <= splitIdx {
			targetPageID, targetSlot = newPage.PageID(), insertPos
		} else {
			targetPageID, targetSlot = page.PageID(), insertPos-splitIdx
		}
	}
	target, _ := t.fetchX(m, targetPageID)

	slot, err := target.InsertTupleAt(targetSlot, tuple)
	if err != nil {
		target.Reorganize()
		m.LogPageReorganize(target.PageID())
		slot, err = target.InsertTupleAt(targetSlot, tuple)
		if err != nil {
			return t.splitAndInsertRetry(m, cur, tuple, nIterations+1)
		}
	}

	t.notifySplit(page, newPage, dir)

	return Cursor{PageID: target.PageID(), Slot: slot}, nil
}

func (t *Tree) notifySplit(page, newPage storage.Page, dir Direction) {
	if dir == DirDown {
		t.locks.UpdateSplitLeft(newPage.PageID(), page.PageID())
	} else {
		t.locks.UpdateSplitRight(newPage.PageID(), page.PageID())
	}
}

// attachHalfPages carries out Step 3: move the records on one side of
// splitIdx to newPage, link newPage into the level's sibling list on the
// side dir indicates, and recursively insert a node pointer for the new
// upper-half page into the parent level (terminating at the root, which
// root_raise_and_insert handles).
func (t *Tree) attachHalfPages(m *mtr.Mtr, page storage.Page, splitIdx int, newPage storage.Page, dir Direction) error {
	newPage.SetLevel(page.Level())
	newPage.SetIndexID(page.IndexID())

	var movedFrom, movedTo int
	var upperPage, lowerPage storage.Page

	switch dir {
	case DirUp:
		// newPage becomes the upper half: [splitIdx, n) moves across.
		movedFrom, movedTo = splitIdx, page.NumSlots()
		lowerPage, upperPage = page, newPage

		newPage.SetPrev(page.PageID())
		newPage.SetNext(page.Next())
		if page.Next() != storage.FilNull {
			if nextSib, err := t.fetchX(m, page.Next()); err == nil {
				nextSib.SetPrev(newPage.PageID())
			}
		}
		page.SetNext(newPage.PageID())

	default: // DirDown
		// newPage becomes the lower half: [0, splitIdx) moves across.
		movedFrom, movedTo = 0, splitIdx
		upperPage, lowerPage = page, newPage

		newPage.SetNext(page.PageID())
		newPage.SetPrev(page.Prev())
		if page.Prev() != storage.FilNull {
			if prevSib, err := t.fetchX(m, page.Prev()); err == nil {
				prevSib.SetNext(newPage.PageID())
			}
		}
		page.SetPrev(newPage.PageID())
	}

	moved := make([][]byte, 0, movedTo-movedFrom)
	for i := movedFrom; i < movedTo; i++ {
		rec, err := page.ReadTuple(i)
		if err != nil {
			continue
		}
		cp := append([]byte(nil), rec...)
		moved = append(moved, cp)
	}
	for i := movedTo - 1; i >= movedFrom; i-- {
		page.RemoveSlotAt(i)
	}
	for _, rec := range moved {
		if _, err := newPage.InsertTuple(rec); err != nil {
			newPage.Reorganize()
			m.LogPageReorganize(newPage.PageID())
			if _, err := newPage.InsertTuple(rec); err != nil {
				return ErrOutOfSpace
			}
		}
	}

	// The min-rec flag marks whichever page is now leftmost-of-level; it
	// belongs on the lower page's first record only if the lower page was
	// already leftmost (prev == FIL_NULL) before the split.
	if lowerPage.Prev() == storage.FilNull && lowerPage.NumSlots() > 0 {
		lowerPage.SetMinRecMark(0, true)
	}
	if upperPage.NumSlots() > 0 {
		upperPage.SetMinRecMark(0, false)
	}

	// Both halves' compressed images are stale after the move; rebuild them
	// on a best-effort basis. A rebuild failure just means the pair falls
	// back to running uncompressed until the next successful attempt — it
	// never fails the split itself.
	t.recompressPage(page.PageID())
	t.recompressPage(newPage.PageID())

	// Whether page is a leaf or an interior page, the parent level needs a
	// node pointer for whichever half is now the upper one.
	return t.insertUpperNodePointer(m, upperPage, lowerPage, dir)
}

// insertUpperNodePointer builds a node pointer for upperPage's first
// record at the parent level and inserts it via the same split/insert
// machinery (recursing upward, terminating at the root).
//
// For a DirUp split, lowerPage kept its original page number and first
// key, so the existing father entry referencing it is already correct
// unchanged; only a new entry for upperPage needs inserting. For a
// DirDown split, the roles are reversed: lowerPage (newPage) is the one
// that now holds the records under the *original* boundary key, while
// upperPage (page) kept its page number but has a new first key — so the
// existing father entry (found by the old key, still pointing at
// upperPage's page number) must first be rewritten to point at lowerPage
// before a fresh entry for upperPage's new key is inserted.
func (t *Tree) insertUpperNodePointer(m *mtr.Mtr, upperPage, lowerPage storage.Page, dir Direction) error {
	if upperPage.NumSlots() == 0 {
		return nil
	}
	if upperPage.PageID() == t.Root || lowerPage.PageID() == t.Root {
		// Splitting the root itself: handled by root raise, not here.
		return nil
	}

	if dir == DirDown {
		return t.rewriteFatherAndInsertUpper(m, upperPage, lowerPage)
	}

	key, err := firstUserKey(upperPage)
	if err != nil {
		return err
	}
	nodePtr := EncodeNodePointer(key, upperPage.PageID())

	father, err := t.getFatherNodePtr(m, lowerPage)
	if err != nil {
		return err
	}
	fatherPage, err := t.fetchX(m, father.PageID)
	if err != nil {
		return err
	}

	insertSlot := father.Slot + 1
	if _, err := fatherPage.InsertTupleAt(insertSlot, nodePtr); err != nil {
		return t.splitParentAndInsert(m, Cursor{PageID: fatherPage.PageID(), Slot: father.Slot}, nodePtr)
	}
	slog.Debug("btree.attach_half_pages.father_updated", "fatherPage", fatherPage.PageID(), "child", upperPage.PageID())
	return nil
}

// rewriteFatherAndInsertUpper handles the DirDown ("converging left") half
// of insertUpperNodePointer: it rewrites the pre-existing father entry's
// child to lowerPage (same key, new owner of that subtree), then inserts a
// new node pointer for upperPage's (page's) new first key — mirroring
// merge.go's tryMerge right-merge father rewrite (SetNodePointerChild
// followed by dropping/adding the redundant entry).
func (t *Tree) rewriteFatherAndInsertUpper(m *mtr.Mtr, upperPage, lowerPage storage.Page) error {
	oldKey, err := firstUserKey(lowerPage)
	if err != nil {
		return err
	}
	father, err := t.getFatherForKey(m, upperPage.Level()+1, oldKey, upperPage.PageID())
	if err != nil {
		return err
	}
	fatherPage, err := t.fetchX(m, father.PageID)
	if err != nil {
		return err
	}
	if rec, rerr := fatherPage.ReadTuple(father.Slot); rerr == nil {
		SetNodePointerChild(rec, lowerPage.PageID())
	}

	newKey, err := firstUserKey(upperPage)
	if err != nil {
		return err
	}
	nodePtr := EncodeNodePointer(newKey, upperPage.PageID())

	insertSlot := father.Slot + 1
	if _, err := fatherPage.InsertTupleAt(insertSlot, nodePtr); err != nil {
		return t.splitParentAndInsert(m, Cursor{PageID: fatherPage.PageID(), Slot: father.Slot}, nodePtr)
	}
	t.recompressPage(fatherPage.PageID())
	slog.Debug("btree.attach_half_pages.father_rewritten",
		"fatherPage", fatherPage.PageID(), "newChild", lowerPage.PageID(), "upperChild", upperPage.PageID())
	return nil
}

// splitParentAndInsert is the recursive call back into the split machinery
// when a parent-level insert doesn't fit; it special-cases the root so the
// recursion terminates there via root raise instead of looping forever.
func (t *Tree) splitParentAndInsert(m *mtr.Mtr, parentCur Cursor, nodePtr []byte) error {
	if parentCur.PageID == t.Root {
		_, err := t.rootRaiseAndInsert(m, parentCur, nodePtr)
		return err
	}
	_, err := t.splitAndInsert(m, parentCur, nodePtr)
	return err
}
