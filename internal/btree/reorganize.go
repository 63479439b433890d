package btree

import (
	"log/slog"

	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/storage"
)

// pageReorganize compacts pageID in place and logs a single PAGE_REORGANIZE
// redo record; the post-image is reconstructed on recovery by replaying
// storage.Page.Reorganize again rather than storing the new bytes. It
// verifies data_size and max_insert_size_after_reorganize are unchanged by
// the act of compaction itself, flagging corruption if not.
func (t *Tree) pageReorganize(m *mtr.Mtr, pageID uint32) error {
	p, err := t.fetchX(m, pageID)
	if err != nil {
		return err
	}

	dataBefore := p.DataSize()
	maxBefore := p.MaxInsertSizeAfterReorganize()

	var snapshot []byte
	if t.Flags.Compress {
		snapshot = append([]byte(nil), p.Buf...)
	}

	p.Reorganize()
	m.LogPageReorganize(pageID)

	if p.DataSize() != dataBefore || p.MaxInsertSizeAfterReorganize() != maxBefore {
		slog.Error("btree: page_reorganize changed page size accounting, corruption suspected",
			"page", pageID, "dataBefore", dataBefore, "dataAfter", p.DataSize(),
			"maxBefore", maxBefore, "maxAfter", p.MaxInsertSizeAfterReorganize())
		return ErrCorruption
	}

	if t.Flags.Compress {
		img, err := storage.CompressPage(p.Buf, compressBudget)
		if err != nil {
			copy(p.Buf, snapshot)
			slog.Error("btree: page_reorganize produced an uncompressible page, restoring original bytes",
				"page", pageID, "err", err)
			return ErrPageCompressFailed
		}
		t.compressedImages[pageID] = img
	}
	return nil
}

// applyRedoReorganize is the recovery-path counterpart: it replays
// page_reorganize against a page fetched without going through the normal
// mtr/latch machinery (recovery runs single-threaded before the lock
// manager and adaptive hash index are reattached), so it neither transfers
// locks nor drops hash-index entries — they do not exist yet during redo.
func applyRedoReorganize(p storage.Page) {
	p.Reorganize()
}
