package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/btreeidx/internal/storage"
)

func TestCompressMergesIntoLeftSibling(t *testing.T) {
	tr := newTestTree(t, 256)

	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(seqKey(i), val(i)))
	}
	countBefore := countLeafRecords(t, tr)

	// Deleting a broad, contiguous run drives every touched leaf below its
	// compress threshold, forcing compress to actually run rather than
	// leaving pages untouched.
	for i := 100; i < 140; i++ {
		require.NoError(t, tr.Delete(seqKey(i)))
	}

	countAfter := countLeafRecords(t, tr)
	assert.Equal(t, countBefore-40, countAfter)

	for i := 0; i < n; i++ {
		got, err := tr.Get(seqKey(i))
		if i >= 100 && i < 140 {
			assert.ErrorIs(t, err, ErrKeyNotFound, "key %d should be gone", i)
			continue
		}
		require.NoError(t, err, "key %d", i)
		assert.Equal(t, val(i), got)
	}
}

func countLeafRecords(t *testing.T, tr *Tree) int {
	t.Helper()
	kvs, err := tr.RangeScan(nil, nil)
	require.NoError(t, err)
	return len(kvs)
}

func TestLiftPageUpCollapsesSoleChild(t *testing.T) {
	tr := newTestTree(t, 64)

	// Hand-build a height-1 tree: root (level 1) -> single leaf, the shape
	// liftPageUp expects when compress finds a page with no siblings.
	m := tr.startMtr()
	leaf, err := tr.pageAlloc(m, 0, tr.Root+1, DirUp)
	require.NoError(t, err)
	_, err = leaf.InsertTuple(EncodeUserRecord(seqKey(1), val(1)))
	require.NoError(t, err)
	_, err = leaf.InsertTuple(EncodeUserRecord(seqKey(2), val(2)))
	require.NoError(t, err)
	leaf.SetMinRecMark(0, true)
	leaf.SetPrev(storage.FilNull)
	leaf.SetNext(storage.FilNull)

	root, err := tr.fetchX(m, tr.Root)
	require.NoError(t, err)
	root.Reorganize()
	root.SetLevel(1)
	slot, err := root.InsertTuple(EncodeNodePointer(seqKey(1), leaf.PageID()))
	require.NoError(t, err)
	root.SetMinRecMark(slot, true)
	tr.Height = 1
	require.NoError(t, m.Commit())

	m2 := tr.startMtr()
	require.NoError(t, tr.liftPageUp(m2, leaf))
	require.NoError(t, m2.Commit())

	assert.Equal(t, 0, tr.Height)
	got, err := tr.Get(seqKey(1))
	require.NoError(t, err)
	assert.Equal(t, val(1), got)
	got, err = tr.Get(seqKey(2))
	require.NoError(t, err)
	assert.Equal(t, val(2), got)
}
