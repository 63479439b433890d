package btree

import (
	"fmt"
	"log/slog"

	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/storage"
)

// FatherLoc is a located node pointer in the level above a given page: the
// page it lives on, its slot index, and the raw node-pointer record bytes.
type FatherLoc struct {
	PageID uint32
	Slot   int
	Record []byte
}

// firstUserKey returns the key of page's first live record, the key the
// node pointer referencing page must compare equal against; page must not
// be empty.
func firstUserKey(p storage.Page) (Key, error) {
	if p.NumSlots() == 0 {
		return nil, fmt.Errorf("%w: page %d has no records to derive a father key from", ErrCorruption, p.PageID())
	}
	rec, err := p.ReadTuple(0)
	if err != nil {
		return nil, err
	}
	if p.Level() == 0 {
		k, _ := DecodeUserRecord(rec)
		return k, nil
	}
	k, _ := DecodeNodePointer(rec)
	return k, nil
}

// getFatherNodePtr locates the node pointer in the level above that
// references page, requiring the whole tree already be X-latched by the
// caller's mini-transaction. A mismatch between the located node pointer's
// child and page's own page number is treated as structural corruption: the
// tree is not safe to continue using.
func (t *Tree) getFatherNodePtr(m *mtr.Mtr, page storage.Page) (FatherLoc, error) {
	key, err := firstUserKey(page)
	if err != nil {
		return FatherLoc{}, err
	}
	return t.getFatherForKey(m, page.Level()+1, key, page.PageID())
}

// soleLevelFather finds the single ancestor page one level above
// childLevel, for the case where childLevel has exactly one page and so
// (since every level above it must then also have exactly one page) the
// whole path from the root down is a single chain reachable by always
// following each page's first node pointer.
func (t *Tree) soleLevelFather(m *mtr.Mtr, childLevel uint32) (uint32, error) {
	pageID := t.Root
	for {
		p, err := t.fetchX(m, pageID)
		if err != nil {
			return 0, err
		}
		if p.Level() == childLevel+1 {
			return pageID, nil
		}
		if p.NumSlots() == 0 {
			return 0, ErrCorruption
		}
		rec, err := p.ReadTuple(0)
		if err != nil {
			return 0, err
		}
		_, child := DecodeNodePointer(rec)
		pageID = child
	}
}

// getFatherForRec is getFatherNodePtr parameterized by an arbitrary user
// record rather than page's own first record, used by the validator and by
// merge to find the father of a specific boundary record.
func (t *Tree) getFatherForRec(m *mtr.Mtr, level uint32, rec []byte, expectChild uint32) (FatherLoc, error) {
	var key Key
	if level == 0 {
		key, _ = DecodeUserRecord(rec)
	} else {
		key, _ = DecodeNodePointer(rec)
	}
	return t.getFatherForKey(m, level+1, key, expectChild)
}

func (t *Tree) getFatherForKey(m *mtr.Mtr, fatherLevel uint32, key Key, expectChild uint32) (FatherLoc, error) {
	pageID := t.Root
	for {
		p, err := t.fetchX(m, pageID)
		if err != nil {
			return FatherLoc{}, err
		}
		if p.Level() == fatherLevel {
			slot := findSlotLE(p, key)
			if slot < 0 {
				slot = 0
			}
			rec, err := p.ReadTuple(slot)
			if err != nil {
				return FatherLoc{}, fmt.Errorf("%w: father page %d has no record at slot %d", ErrCorruption, pageID, slot)
			}
			_, child := DecodeNodePointer(rec)
			if child != expectChild {
				slog.Error("btree: father/child page-number mismatch, index structure corrupt",
					"indexID", t.IndexID, "fatherPage", pageID, "expectedChild", expectChild, "gotChild", child)
				return FatherLoc{}, ErrCorruption
			}
			return FatherLoc{PageID: pageID, Slot: slot, Record: rec}, nil
		}
		slot := findSlotLE(p, key)
		if slot < 0 {
			slot = 0
		}
		rec, err := p.ReadTuple(slot)
		if err != nil {
			return FatherLoc{}, fmt.Errorf("%w: interior page %d empty while descending to father", ErrCorruption, pageID)
		}
		_, child := DecodeNodePointer(rec)
		pageID = child
	}
}
