package btree

import "github.com/tuannm99/btreeidx/internal/mtr"

// Insert places key/value into the tree. It first tries an optimistic
// insert directly into the leaf a search locates, then reorganizes that
// leaf and tries once more; if the leaf still has no room it escalates to
// splitAndInsert (which itself escalates to root raise if the recursion
// reaches the root). No free pages are reserved in advance: each page a
// split needs is allocated when the split asks for it. The reorganize
// clears the leaf's last-insert position, so the split's sequential-insert
// heuristics do not apply to a leaf split reached from here.
func (t *Tree) Insert(key Key, value []byte) error {
	tuple := EncodeUserRecord(key, value)
	if len(tuple) > maxRecordSize() {
		return ErrTupleTooLarge
	}

	t.lockTreeX()
	defer t.unlockTreeX()

	m := t.startMtr()
	cur, err := t.search(m, key, true)
	if err != nil {
		m.Abandon()
		return err
	}

	leaf, err := t.fetchX(m, cur.PageID)
	if err != nil {
		m.Abandon()
		return err
	}

	insertSlot := cur.Slot + 1
	if _, err := leaf.InsertTupleAt(insertSlot, tuple); err == nil {
		return m.Commit()
	}

	if err := t.pageReorganize(m, cur.PageID); err == nil {
		leaf, _ = t.fetchX(m, cur.PageID)
		if _, err := leaf.InsertTupleAt(insertSlot, tuple); err == nil {
			return m.Commit()
		}
	}

	// Escalate: split (or, if the leaf is also the root, root-raise then
	// split). The tree is already X-latched, and this mtr holds X-latches
	// on every page of cur's descent.
	if cur.PageID == t.Root {
		if _, err := t.rootRaiseAndInsert(m, Cursor{PageID: cur.PageID, Slot: insertSlot - 1}, tuple); err != nil {
			m.Abandon()
			return err
		}
		return m.Commit()
	}
	if _, err := t.splitAndInsert(m, Cursor{PageID: cur.PageID, Slot: insertSlot - 1}, tuple); err != nil {
		m.Abandon()
		return err
	}
	return t.commitWithCheckpoint(m)
}

func (t *Tree) commitWithCheckpoint(m *mtr.Mtr) error {
	if err := m.Commit(); err != nil {
		return err
	}
	return t.SaveCheckpoint()
}

// Delete removes key from the tree, merging or discarding pages as
// minimum fill (the sole-page-on-level exception aside)
// requires once a leaf drops below its fill threshold.
func (t *Tree) Delete(key Key) error {
	t.lockTreeX()
	defer t.unlockTreeX()

	m := t.startMtr()
	cur, err := t.search(m, key, true)
	if err != nil {
		m.Abandon()
		return err
	}
	if cur.Slot < 0 {
		m.Abandon()
		return ErrKeyNotFound
	}

	leaf, err := t.fetchX(m, cur.PageID)
	if err != nil {
		m.Abandon()
		return err
	}
	rec, err := leaf.ReadTuple(cur.Slot)
	if err != nil {
		m.Abandon()
		return ErrKeyNotFound
	}
	k, _ := DecodeUserRecord(rec)
	if k.compare(key) != 0 {
		m.Abandon()
		return ErrKeyNotFound
	}

	wasLeftmost := cur.Slot == 0 && leaf.IsMinRec(0)
	leaf.RemoveSlotAt(cur.Slot)

	if leaf.NumSlots() == 0 {
		if leaf.PageID() == t.Root {
			return t.commitWithCheckpoint(m)
		}
		if err := t.discardPage(m, Cursor{PageID: leaf.PageID()}); err != nil {
			m.Abandon()
			return err
		}
		return t.commitWithCheckpoint(m)
	}

	if wasLeftmost {
		leaf.SetMinRecMark(0, true)
	}

	if leaf.PageID() != t.Root && leaf.DataSize() < leaf.MaxInsertSizeAfterReorganize()/2 {
		if _, err := t.compress(m, Cursor{PageID: leaf.PageID()}); err != nil {
			m.Abandon()
			return err
		}
	}

	return t.commitWithCheckpoint(m)
}
