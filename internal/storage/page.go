package storage

// Byte-order helpers. The teacher encodes everything little-endian by hand
// rather than reaching for encoding/binary; kept for consistency with the
// rest of the package (segments.go, sm.go) which already does the same.
const (
	_256   = 256
	_256_2 = 256 * 256
	_256_3 = 256 * 256 * 256
)

func GetU16(b []byte, offset int) uint16 {
	return uint16(b[offset]) + uint16(b[offset+1])*_256
}

func PutU16(b []byte, offset int, v uint16) {
	b[offset], b[offset+1] = byte(v%_256), byte(v/_256)
}

func GetU32(b []byte, offset int) uint32 {
	return uint32(b[offset]) +
		uint32(b[offset+1])*_256 +
		uint32(b[offset+2])*_256_2 +
		uint32(b[offset+3])*_256_3
}

func PutU32(b []byte, offset int, v uint32) {
	b[offset] = byte(v % _256)
	b[offset+1] = byte((v / _256) % _256)
	b[offset+2] = byte((v / (_256 * _256)) % _256)
	b[offset+3] = byte((v / (_256 * _256 * _256)) % _256)
}

func GetU64(b []byte, offset int) uint64 {
	lo := uint64(GetU32(b, offset))
	hi := uint64(GetU32(b, offset+4))
	return lo | hi<<32
}

func PutU64(b []byte, offset int, v uint64) {
	PutU32(b, offset, uint32(v))
	PutU32(b, offset+4, uint32(v>>32))
}

// Page header layout, 32 bytes (HeaderSize):
//
//	+------------------+ 0
//	| flags       u16  | 0
//	| pageID      u32  | 2
//	| pd_lower    u16  | 6
//	| pd_upper    u16  | 8
//	| lastInsert  u16  | 10  slot index of the most recent insert, FilNull16 if none
//	| level       u32  | 12  0 at the leaf, increases toward the root
//	| prev        u32  | 16  FilNull if no left sibling on this level
//	| next        u32  | 20  FilNull if no right sibling on this level
//	| indexID     u64  | 24  owning tree, stamped once at create
//	+------------------+ 32 == pd_lower for an empty page
//	| slot directory   | grows down from pd_lower, SlotSize bytes each
//	|                  |
//	| free space       |
//	|                  |
//	| tuple data       | grows up from pd_upper... wait grows down toward 0
//	+------------------+ PageSize
//
// Slots grow from HeaderSize downward (toward higher offsets) as they're
// appended; tuple bodies are packed from the end of the page backward. A
// page is full when pd_lower would meet pd_upper.
type Page struct {
	Buf []byte
}

// FilNull16 is the 16-bit sentinel for "no slot", used by the last-insert
// heuristic hint only; everything page-number-sized uses the 32-bit FilNull.
const FilNull16 uint16 = 0xFFFF

func NewPage(buf []byte, pageID uint32) Page {
	p := Page{Buf: buf}
	p.Reset(pageID)
	return p
}

// Reset reinitializes the page in place as an empty page owned by pageID,
// wiping any previous tuple data and slots. Level, siblings and index id are
// left at their zero/sentinel values for the caller to stamp afterward.
func (p Page) Reset(pageID uint32) {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	PutU16(p.Buf, 0, 0)
	PutU32(p.Buf, 2, pageID)
	PutU16(p.Buf, 6, HeaderSize)
	PutU16(p.Buf, 8, PageSize)
	PutU16(p.Buf, 10, FilNull16)
	PutU32(p.Buf, 12, 0)
	PutU32(p.Buf, 16, FilNull)
	PutU32(p.Buf, 20, FilNull)
	PutU64(p.Buf, 24, 0)
}

func (p Page) PageID() uint32 { return GetU32(p.Buf, 2) }

func (p Page) Flags() uint16        { return GetU16(p.Buf, 0) }
func (p Page) SetFlags(v uint16)    { PutU16(p.Buf, 0, v) }
func (p Page) HasFlag(f uint16) bool { return p.Flags()&f != 0 }

func (p Page) Lower() int      { return int(GetU16(p.Buf, 6)) }
func (p Page) SetLower(v int)  { PutU16(p.Buf, 6, uint16(v)) }
func (p Page) Upper() int      { return int(GetU16(p.Buf, 8)) }
func (p Page) SetUpper(v int)  { PutU16(p.Buf, 8, uint16(v)) }

// LastInsert reports the slot most recently appended by InsertTuple, used by
// the split-point heuristic to detect sequential-insert workloads. The
// second return is false if nothing has been inserted since the page was
// last reset or reorganized.
func (p Page) LastInsert() (slot int, ok bool) {
	v := GetU16(p.Buf, 10)
	if v == FilNull16 {
		return 0, false
	}
	return int(v), true
}

func (p Page) SetLastInsert(slot int) { PutU16(p.Buf, 10, uint16(slot)) }
func (p Page) ClearLastInsert()       { PutU16(p.Buf, 10, FilNull16) }

// Level is the page's distance from the leaf level (0 == leaf).
func (p Page) Level() uint32     { return GetU32(p.Buf, 12) }
func (p Page) SetLevel(v uint32) { PutU32(p.Buf, 12, v) }

func (p Page) Prev() uint32     { return GetU32(p.Buf, 16) }
func (p Page) SetPrev(v uint32) { PutU32(p.Buf, 16, v) }
func (p Page) Next() uint32     { return GetU32(p.Buf, 20) }
func (p Page) SetNext(v uint32) { PutU32(p.Buf, 20, v) }

func (p Page) IndexID() uint64     { return GetU64(p.Buf, 24) }
func (p Page) SetIndexID(v uint64) { PutU64(p.Buf, 24, v) }

func (p Page) NumSlots() int {
	return (p.Lower() - HeaderSize) / SlotSize
}

func (p Page) slotOff(idx int) int {
	return HeaderSize + idx*SlotSize
}

// GetSlot returns a slot's tuple offset, tuple length and flag bits.
func (p Page) GetSlot(i int) (offset, length int, flags uint16) {
	o := p.slotOff(i)
	return int(GetU16(p.Buf, o)), int(GetU16(p.Buf, o+2)), GetU16(p.Buf, o+4)
}

func (p Page) PutSlot(idx, offset, length int, flags uint16) {
	o := p.slotOff(idx)
	PutU16(p.Buf, o, uint16(offset))
	PutU16(p.Buf, o+2, uint16(length))
	PutU16(p.Buf, o+4, flags)
}

func (p Page) appendSlot(offset, length int, flags uint16) int {
	i := p.NumSlots()
	p.PutSlot(i, offset, length, flags)
	p.SetLower(p.Lower() + SlotSize)
	return i
}

func (p Page) IsUninitialized() bool {
	return GetU16(p.Buf, 6) == 0 && GetU16(p.Buf, 8) == 0
}

// IsMinRec reports whether the record at slot carries the leftmost ("-inf")
// marker. A min-rec record never participates in key comparisons during
// descent; only the leftmost leaf of the leftmost path on each level carries
// one, and only immediately after a split pushes a new leftmost boundary up.
func (p Page) IsMinRec(slot int) bool {
	_, _, flags := p.GetSlot(slot)
	return flags&SlotFlagMinRec != 0
}

// SetMinRecMark stamps or clears the min-rec bit on slot without touching
// the tuple bytes or any other flag.
func (p Page) SetMinRecMark(slot int, on bool) {
	offset, length, flags := p.GetSlot(slot)
	if on {
		flags |= SlotFlagMinRec
	} else {
		flags &^= SlotFlagMinRec
	}
	p.PutSlot(slot, offset, length, flags)
}

func (p Page) isDeleted(flags uint16) bool { return flags&SlotFlagDeleted != 0 }

// DataSize returns the number of bytes currently occupied by live tuples,
// excluding slot directory overhead and the gap left by deleted slots.
func (p Page) DataSize() int {
	total := 0
	for i := 0; i < p.NumSlots(); i++ {
		_, length, flags := p.GetSlot(i)
		if p.isDeleted(flags) {
			continue
		}
		total += length
	}
	return total
}

// FreeSpace is the number of contiguous bytes available between the slot
// directory and the tuple area, i.e. what InsertTuple can hand out without
// first reorganizing the page.
func (p Page) FreeSpace() int {
	return p.Upper() - p.Lower()
}

// MaxInsertSize is the largest tuple InsertTuple can place right now,
// accounting for the new slot it will need.
func (p Page) MaxInsertSize() int {
	free := p.FreeSpace() - SlotSize
	if free < 0 {
		return 0
	}
	return free
}

// MaxInsertSizeAfterReorganize is what MaxInsertSize would become after a
// reorganize reclaimed the space held by deleted slots, used by the split
// and merge logic to decide whether a reorganize alone (cheaper than a
// split) would make room for a pending insert.
func (p Page) MaxInsertSizeAfterReorganize() int {
	live := 0
	for i := 0; i < p.NumSlots(); i++ {
		if _, _, flags := p.GetSlot(i); !p.isDeleted(flags) {
			live++
		}
	}
	reclaimable := PageSize - p.DataSize() - (HeaderSize + live*SlotSize)
	free := reclaimable - SlotSize
	if free < 0 {
		return 0
	}
	return free
}

func (p Page) garbage() int {
	g := 0
	for i := 0; i < p.NumSlots(); i++ {
		_, length, flags := p.GetSlot(i)
		if p.isDeleted(flags) {
			g += length
		}
	}
	return g
}

func (p Page) InsertTuple(tup []byte) (slot int, err error) {
	need := len(tup) + SlotSize
	if p.Upper()-p.Lower() < need {
		return -1, ErrWriteExceedPageSize
	}
	u := p.Upper() - len(tup)
	copy(p.Buf[u:], tup)
	p.SetUpper(u)
	s := p.appendSlot(u, len(tup), 0)
	p.SetLastInsert(s)
	return s, nil
}

// InsertTupleAt inserts tup and places it logically before the existing
// slot at idx by shifting the slot directory, so the caller doesn't have to
// re-sort after every insert. Physical tuple storage is unaffected; only the
// slot array's order (which defines key order) moves, and a min-rec mark on
// the old first slot moves to a record inserted at idx 0.
func (p Page) InsertTupleAt(idx int, tup []byte) (slot int, err error) {
	n := p.NumSlots()
	if idx < 0 || idx > n {
		return -1, ErrSlotOutOfRange
	}
	need := len(tup) + SlotSize
	if p.Upper()-p.Lower() < need {
		return -1, ErrWriteExceedPageSize
	}
	u := p.Upper() - len(tup)
	copy(p.Buf[u:], tup)
	p.SetUpper(u)
	p.SetLower(p.Lower() + SlotSize)
	for i := n; i > idx; i-- {
		offset, length, flags := p.GetSlot(i - 1)
		p.PutSlot(i, offset, length, flags)
	}
	p.PutSlot(idx, u, len(tup), 0)
	// A record placed ahead of the min-rec record becomes the first record
	// of the page, so the min-rec mark moves to it.
	if idx == 0 && n > 0 && p.IsMinRec(1) {
		p.SetMinRecMark(1, false)
		p.SetMinRecMark(0, true)
	}
	p.SetLastInsert(idx)
	return idx, nil
}

func (p Page) ReadTuple(slot int) ([]byte, error) {
	if slot < 0 || slot >= p.NumSlots() {
		return nil, ErrSlotOutOfRange
	}
	offset, length, flags := p.GetSlot(slot)
	if p.isDeleted(flags) || length == 0 {
		return nil, ErrSlotNotFound
	}
	return p.Buf[offset : offset+length], nil
}

func (p Page) UpdateTuple(slot int, newTuple []byte) error {
	offset, length, flags := p.GetSlot(slot)
	if p.isDeleted(flags) {
		return ErrSlotNotFound
	}
	if len(newTuple) <= length {
		copy(p.Buf[offset:], newTuple)
		p.PutSlot(slot, offset, len(newTuple), flags)
		return nil
	}
	if _, err := p.InsertTuple(newTuple); err != nil {
		return err
	}
	p.PutSlot(slot, 0, 0, flags|SlotFlagDeleted)
	return nil
}

// DeleteTuple marks slot deleted without reclaiming its space; the bytes
// are recovered by the next Reorganize.
func (p Page) DeleteTuple(slot int) {
	offset, length, flags := p.GetSlot(slot)
	p.PutSlot(slot, offset, length, flags|SlotFlagDeleted)
}

// RemoveSlotAt deletes the slot at idx from the directory entirely, shifting
// later slots down. Used by merge/lift where the node-pointer's physical
// slot position must disappear, not just go dark.
func (p Page) RemoveSlotAt(idx int) {
	n := p.NumSlots()
	if idx < 0 || idx >= n {
		return
	}
	for i := idx; i < n-1; i++ {
		offset, length, flags := p.GetSlot(i + 1)
		p.PutSlot(i, offset, length, flags)
	}
	p.SetLower(p.Lower() - SlotSize)
	if last, ok := p.LastInsert(); ok && last >= n-1 {
		p.ClearLastInsert()
	}
}

// Reorganize repacks live tuples against the end of the page and rebuilds
// the slot directory in its existing logical order, reclaiming space held by
// deleted slots and external fragmentation. The caller is responsible for
// logging a redo record before calling this against a real mini-transaction.
func (p Page) Reorganize() {
	n := p.NumSlots()
	type live struct {
		data  []byte
		flags uint16
	}
	kept := make([]live, 0, n)
	for i := 0; i < n; i++ {
		offset, length, flags := p.GetSlot(i)
		if p.isDeleted(flags) {
			continue
		}
		buf := make([]byte, length)
		copy(buf, p.Buf[offset:offset+length])
		kept = append(kept, live{data: buf, flags: flags &^ SlotFlagDeleted})
	}

	pageID := p.PageID()
	level := p.Level()
	prev, next := p.Prev(), p.Next()
	indexID := p.IndexID()

	p.Reset(pageID)
	p.SetLevel(level)
	p.SetPrev(prev)
	p.SetNext(next)
	p.SetIndexID(indexID)

	for _, k := range kept {
		u := p.Upper() - len(k.data)
		copy(p.Buf[u:], k.data)
		p.SetUpper(u)
		p.appendSlot(u, len(k.data), k.flags)
	}
	p.ClearLastInsert()
}
