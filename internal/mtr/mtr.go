// Package mtr implements the mini-transaction: a short-lived scope that
// accumulates the latches a structural B-tree operation acquires along with
// the redo records it produces, then on Commit writes the redo records to
// the log before releasing every latch in the reverse order they were
// acquired. No operation may observe a structural change before its redo is
// durable, and no latch may be dropped before every change it protects has
// been logged.
package mtr

import (
	"fmt"
)

type LatchMode uint8

const (
	ModeS LatchMode = iota + 1
	ModeX
)

// PageLatcher is the subset of the buffer pool a mini-transaction needs:
// acquire/release a page latch by page number. internal/btree's tree and
// internal/pagestore's pool both satisfy this.
type PageLatcher interface {
	SLatch(pageID uint32) error
	XLatch(pageID uint32) error
	Unlatch(pageID uint32, mode LatchMode)
}

type memoEntry struct {
	pageID uint32
	mode   LatchMode
}

// Mtr is one mini-transaction. Not safe for concurrent use by multiple
// goroutines; each caller runs its own.
type Mtr struct {
	pool    PageLatcher
	redo    *RedoLog
	memo    []memoEntry
	pending []Record
	done    bool
}

// Start begins a mini-transaction. redo may be nil for read-only
// mini-transactions that will never call a Log* method.
func Start(pool PageLatcher, redo *RedoLog) *Mtr {
	return &Mtr{pool: pool, redo: redo}
}

func (m *Mtr) SLock(pageID uint32) error {
	if err := m.pool.SLatch(pageID); err != nil {
		return err
	}
	m.memo = append(m.memo, memoEntry{pageID, ModeS})
	return nil
}

func (m *Mtr) XLock(pageID uint32) error {
	if err := m.pool.XLatch(pageID); err != nil {
		return err
	}
	m.memo = append(m.memo, memoEntry{pageID, ModeX})
	return nil
}

// MemoContains reports whether the mini-transaction already holds at least
// mode on pageID, the check every structural helper uses instead of
// re-acquiring a latch it might already own.
func (m *Mtr) MemoContains(pageID uint32, mode LatchMode) bool {
	for _, e := range m.memo {
		if e.pageID == pageID && (e.mode == mode || e.mode == ModeX) {
			return true
		}
	}
	return false
}

func (m *Mtr) LogPageReorganize(pageID uint32) {
	m.pending = append(m.pending, Record{Typ: RecPageReorganize, PageID: pageID})
}

func (m *Mtr) LogPageReorganizeCompact(pageID uint32) {
	m.pending = append(m.pending, Record{Typ: RecPageReorgCompact, PageID: pageID})
}

func (m *Mtr) LogSetMinRecMark(pageID uint32, slot uint16) {
	m.pending = append(m.pending, Record{Typ: RecSetMinRecMark, PageID: pageID, Offset: slot})
}

// Commit flushes every pending redo record, in order, then releases every
// latched page in the reverse order it was acquired.
func (m *Mtr) Commit() error {
	if m.done {
		return fmt.Errorf("mtr: already committed")
	}
	m.done = true

	if m.redo != nil {
		for _, rec := range m.pending {
			if err := m.redo.Append(rec); err != nil {
				return err
			}
		}
	}

	for i := len(m.memo) - 1; i >= 0; i-- {
		e := m.memo[i]
		m.pool.Unlatch(e.pageID, e.mode)
	}
	return nil
}

// Abandon releases every latch without writing redo, for a mini-transaction
// that only ever took S-latches to navigate and never mutated anything.
func (m *Mtr) Abandon() {
	if m.done {
		return
	}
	m.done = true
	for i := len(m.memo) - 1; i >= 0; i-- {
		e := m.memo[i]
		m.pool.Unlatch(e.pageID, e.mode)
	}
}
