package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/btreeidx/internal/storage"
)

func newBarePage(t *testing.T, pageID uint32) storage.Page {
	t.Helper()
	p := storage.Page{Buf: make([]byte, storage.PageSize)}
	p.Reset(pageID)
	return p
}

func fillPage(t *testing.T, p storage.Page, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := p.InsertTuple(EncodeUserRecord(seqKey(i), val(i)))
		require.NoError(t, err)
	}
}

func TestChooseSplitRecLeftMatchesSequentialDescendingInsert(t *testing.T) {
	p := newBarePage(t, 1)
	fillPage(t, p, 5)
	// Simulate the last insert having landed immediately after cursorSlot.
	p.SetLastInsert(3)

	idx, ok := chooseSplitRecLeft(p, 2)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestChooseSplitRecLeftAtInfimumSplitsAtOne(t *testing.T) {
	p := newBarePage(t, 1)
	fillPage(t, p, 5)
	p.SetLastInsert(1)

	idx, ok := chooseSplitRecLeft(p, 0)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestChooseSplitRecLeftNoMatch(t *testing.T) {
	p := newBarePage(t, 1)
	fillPage(t, p, 5)
	p.SetLastInsert(4)

	_, ok := chooseSplitRecLeft(p, 0)
	assert.False(t, ok)
}

func TestChooseSplitRecRightMatchesSequentialAscendingInsert(t *testing.T) {
	p := newBarePage(t, 1)
	fillPage(t, p, 10)
	p.SetLastInsert(3)

	idx, ok := chooseSplitRecRight(p, 3)
	assert.True(t, ok)
	// at least two records follow cursorSlot+1 here, so it leaves one extra.
	assert.Equal(t, 5, idx)
}

func TestChooseSplitRecRightNearEndFallsBackToCursorPlusOne(t *testing.T) {
	p := newBarePage(t, 1)
	fillPage(t, p, 5)
	p.SetLastInsert(3)

	idx, ok := chooseSplitRecRight(p, 3)
	assert.True(t, ok)
	assert.Equal(t, 4, idx)
}

func TestChooseSplitPointFallsBackToMiddleWithoutConvergence(t *testing.T) {
	p := newBarePage(t, 1)
	fillPage(t, p, 10)
	p.ClearLastInsert()

	idx, dir := chooseSplitPoint(p, 5, EncodeUserRecord(seqKey(100), val(100)), 0)
	assert.Equal(t, 5, idx)
	assert.Equal(t, DirUp, dir)
}

func TestChooseSplitPointForcesGuaranteedFitOnRetry(t *testing.T) {
	p := newBarePage(t, 1)
	fillPage(t, p, 10)
	p.SetLastInsert(3) // would otherwise match a convergence heuristic

	idx, dir := chooseSplitPoint(p, 2, EncodeUserRecord(seqKey(100), val(100)), 1)
	assert.Equal(t, DirUp, dir)
	assert.GreaterOrEqual(t, idx, 0)
	assert.LessOrEqual(t, idx, p.NumSlots())
}

// TestInsertDescendingSplitsAndValidates drives 2000 strictly descending
// inserts, each landing at the front of the leftmost leaf, then checks
// that the tree validates and that a full range scan returns every record
// in order. Insert reorganizes a full leaf before splitting it, which
// clears the leaf's last-insert position, so these leaf splits take the
// balanced middle split point (DirUp) rather than chooseSplitRecLeft's
// DirDown path.
func TestInsertDescendingSplitsAndValidates(t *testing.T) {
	tr := newTestTree(t, 512)

	const n = 2000
	for i := n - 1; i >= 0; i-- {
		require.NoError(t, tr.Insert(seqKey(i), val(i)), "key %d", i)
	}
	require.Greater(t, tr.Height, 0)

	report, err := tr.ValidateIndex(nil)
	require.NoError(t, err)
	assert.True(t, report.OK, "problems: %v", report.Problems)

	kvs, err := tr.RangeScan(seqKey(0), seqKey(n-1))
	require.NoError(t, err)
	require.Len(t, kvs, n)
	for i, kv := range kvs {
		assert.Equal(t, seqKey(i), kv.Key)
		assert.Equal(t, val(i), kv.Value)
	}
}

func TestGuaranteedFitSplitProducesBalancedHalves(t *testing.T) {
	p := newBarePage(t, 1)
	fillPage(t, p, 20)

	tuple := EncodeUserRecord(seqKey(1000), val(1000))
	idx := guaranteedFitSplit(p, 10, tuple)

	// Every record (20 existing + the new tuple) must land on one side or
	// the other; the split point is a valid slot index into the original
	// n+1 logical records.
	assert.GreaterOrEqual(t, idx, 0)
	assert.LessOrEqual(t, idx, p.NumSlots())
}
