package btree

import (
	"bytes"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/tuannm99/btreeidx/internal/storage"
)

// ValidationReport is the accumulated result of validate_index: whether the
// whole tree checked out, plus every problem found. Validation never stops
// at the first problem within a level — each level's pages are checked
// concurrently and every finding is collected — and levels are visited
// from the root down, stopping after the leaf level.
type ValidationReport struct {
	OK      bool
	Problems []string
}

func (r *ValidationReport) fail(format string, args ...any) {
	r.OK = false
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Interrupter lets a caller cancel a long validation, the Go-native analog
// of trx_is_interrupted. ValidateIndex polls it once before each level;
// it is not polled between the pages of a level.
type Interrupter interface {
	Interrupted() bool
}

// ValidateIndex walks every level of the tree root-down, checking
// page-level validity, level-list consistency, sibling ordering and
// father-pointer correctness. If interrupter reports interrupted before
// a level starts, the partial report of the levels already checked is
// returned; a level that has started is always checked to its end.
func (t *Tree) ValidateIndex(interrupter Interrupter) (*ValidationReport, error) {
	t.lockTreeS()
	defer t.unlockTreeS()

	report := &ValidationReport{OK: true}

	m := t.startMtr()
	root, err := t.fetchX(m, t.Root)
	if err != nil {
		m.Abandon()
		return nil, err
	}
	topLevel := root.Level()
	m.Abandon()

	for level := topLevel; ; level-- {
		if interrupter != nil && interrupter.Interrupted() {
			return report, nil
		}
		if err := t.validateLevel(level, report); err != nil {
			return report, err
		}
		if level == 0 {
			break
		}
	}
	return report, nil
}

// validateLevel walks every page on level left to right, one page at a
// time under its own short mtr, fanning the per-page checks out
// across a bounded worker pool since each page's validation is independent
// once its own and its neighbors' records are read.
func (t *Tree) validateLevel(level uint32, report *ValidationReport) error {
	pageIDs, err := t.collectLevelPageIDs(level)
	if err != nil {
		return err
	}

	type finding struct {
		pageID  uint32
		problem string
	}
	findings := make(chan finding, len(pageIDs)*4)

	p := pool.New().WithMaxGoroutines(8)
	for _, pid := range pageIDs {
		pid := pid
		p.Go(func() {
			for _, msg := range t.validatePage(pid) {
				findings <- finding{pageID: pid, problem: msg}
			}
		})
	}
	p.Wait()
	close(findings)

	for f := range findings {
		report.fail("page %d: %s", f.pageID, f.problem)
	}
	return nil
}

// collectLevelPageIDs walks the level's sibling list starting from its
// leftmost page (found by descending the leftmost path from the root).
func (t *Tree) collectLevelPageIDs(level uint32) ([]uint32, error) {
	m := t.startMtr()
	defer m.Abandon()

	pageID := t.Root
	for {
		p, err := t.fetchS(m, pageID)
		if err != nil {
			return nil, err
		}
		if p.Level() == level {
			break
		}
		if p.NumSlots() == 0 {
			return nil, nil
		}
		rec, err := p.ReadTuple(0)
		if err != nil {
			return nil, err
		}
		_, child := DecodeNodePointer(rec)
		pageID = child
	}

	var ids []uint32
	for pageID != storage.FilNull {
		ids = append(ids, pageID)
		p, err := t.fetchS(m, pageID)
		if err != nil {
			return nil, err
		}
		pageID = p.Next()
	}
	return ids, nil
}

// validatePage runs every per-page check against pageID under
// its own short mtr and returns the problems found, if any.
func (t *Tree) validatePage(pageID uint32) []string {
	var problems []string

	m := t.startMtr()
	defer m.Abandon()

	p, err := t.fetchX(m, pageID)
	if err != nil {
		return []string{fmt.Sprintf("fetch failed: %v", err)}
	}

	if p.IndexID() != t.IndexID {
		problems = append(problems, "index id mismatch")
	}

	if p.Prev() == storage.FilNull && !(pageID == t.Root && p.Level() == 0) {
		if p.NumSlots() == 0 || !p.IsMinRec(0) {
			problems = append(problems, "leftmost-of-level page missing min-rec mark on its first record")
		}
	}

	if p.Next() != storage.FilNull {
		next, err := t.fetchX(m, p.Next())
		if err != nil {
			problems = append(problems, fmt.Sprintf("next sibling %d unreadable: %v", p.Next(), err))
		} else {
			if next.Prev() != pageID {
				problems = append(problems, fmt.Sprintf("next sibling %d's prev is %d, not this page", p.Next(), next.Prev()))
			}
			if p.NumSlots() > 0 && next.NumSlots() > 0 {
				lastRec, _ := p.ReadTuple(p.NumSlots() - 1)
				firstRec, _ := next.ReadTuple(0)
				if recordKey(lastRec).compare(recordKey(firstRec)) >= 0 {
					problems = append(problems, "last record not strictly less than next sibling's first record")
				}
			}
		}
	}

	if pageID != t.Root {
		father, err := t.getFatherNodePtr(m, p)
		if err != nil {
			problems = append(problems, fmt.Sprintf("father lookup failed: %v", err))
		} else if p.Level() > 0 && p.NumSlots() > 0 {
			key, _ := firstUserKey(p)
			fkey, _ := DecodeNodePointer(father.Record)
			if !bytes.Equal(key, fkey) {
				problems = append(problems, "father's node-pointer key does not match this page's first record key")
			}
		}
	}

	return problems
}
