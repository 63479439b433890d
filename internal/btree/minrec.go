package btree

import "github.com/tuannm99/btreeidx/internal/mtr"

// setMinRecMark stamps the min-rec ("leftmost of level") flag on slot and
// logs a 2-byte-offset redo entry, the moral equivalent of the original's
// distinct compact/old-format record encodings collapsed onto this
// engine's single slot-flag representation.
func (t *Tree) setMinRecMark(m *mtr.Mtr, pageID uint32, slot int) error {
	p, err := t.fetchX(m, pageID)
	if err != nil {
		return err
	}
	p.SetMinRecMark(slot, true)
	m.LogSetMinRecMark(pageID, uint16(slot))
	return nil
}

// applyRedoSetMinRecMark replays a logged min-rec stamp during recovery.
func applyRedoSetMinRecMark(p interface{ SetMinRecMark(int, bool) }, slot uint16) {
	p.SetMinRecMark(int(slot), true)
}
