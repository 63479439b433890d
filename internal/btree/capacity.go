package btree

import "github.com/tuannm99/btreeidx/internal/storage"

// maxRecordSize is the largest single record (user record or node pointer)
// this engine will ever place on a page: a freshly
// created root to have room for two such records, which in turn bounds how
// large a caller's key+value may be before EncodeUserRecord would make an
// insert structurally impossible to satisfy no matter how many times the
// page is split.
func maxRecordSize() int {
	// Half the page, minus header and one slot, is the largest size for
	// which two records are still guaranteed to coexist on an empty page.
	return (storage.PageSize-storage.HeaderSize)/2 - storage.SlotSize
}

// fitsTwoMaxRecords reports whether an empty page (the precondition for a
// freshly created root or a freshly split sibling) has room for two
// records of maxRecordSize, the split-invariant precondition.
func fitsTwoMaxRecords(p storage.Page) bool {
	return p.FreeSpace() >= 2*(maxRecordSize()+storage.SlotSize)
}

// dirReserve is the slot-directory overhead a page must additionally
// reserve for n records beyond what is already counted in per-record
// sizes, used by the guaranteed-fit split-point computation's notion of
// total_space = total_data + dir_reserve(total_recs).
func dirReserve(nRecords int) int {
	return nRecords * storage.SlotSize
}
