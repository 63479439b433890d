package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/btreeidx/internal/storage"
)

func TestRootRaiseIncreasesHeightAndPreservesRecords(t *testing.T) {
	tr := newTestTree(t, 256)
	require.Equal(t, 0, tr.Height)

	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(seqKey(i), val(i)))
	}
	assert.Greater(t, tr.Height, 0)

	m := tr.startMtr()
	root, err := tr.fetchX(m, tr.Root)
	require.NoError(t, err)
	assert.Equal(t, uint32(tr.Height), root.Level())
	assert.Equal(t, storage.FilNull, root.Prev())
	assert.Equal(t, storage.FilNull, root.Next())
	// Release the root latch: Get latches the root on its way down.
	m.Abandon()

	for i := 0; i < n; i++ {
		got, err := tr.Get(seqKey(i))
		require.NoError(t, err, "key %d", i)
		assert.Equal(t, val(i), got)
	}
}

func TestRootRaiseNewRootHasOnePointerPerChildAndMinRecFirst(t *testing.T) {
	tr := newTestTree(t, 256)

	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(seqKey(i), val(i)))
	}
	require.Greater(t, tr.Height, 0)

	ids, err := tr.collectLevelPageIDs(uint32(tr.Height - 1))
	require.NoError(t, err)

	m := tr.startMtr()
	defer m.Abandon()
	root, err := tr.fetchX(m, tr.Root)
	require.NoError(t, err)
	require.Equal(t, len(ids), root.NumSlots(), "a raised root must hold exactly one node pointer per child page, not its old contents too")
	assert.True(t, root.IsMinRec(0), "root's first node pointer after a raise must carry the min-rec mark")
}

// TestRootRaiseLeavesNoStaleNodePointersAndValidates grows the tree well
// past its first raise (3000 ascending inserts fill about twenty leaves,
// all under the one raised root) and checks that the root holds exactly
// one node pointer per page of the level below, which a root left unwiped
// by the raise would exceed, and that the whole tree validates.
func TestRootRaiseLeavesNoStaleNodePointersAndValidates(t *testing.T) {
	tr := newTestTree(t, 512)

	const n = 3000
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(seqKey(i), val(i)))
	}
	require.Greater(t, tr.Height, 0, "expected at least one raise over %d inserts", n)

	ids, err := tr.collectLevelPageIDs(uint32(tr.Height - 1))
	require.NoError(t, err)

	m := tr.startMtr()
	root, err := tr.fetchX(m, tr.Root)
	require.NoError(t, err)
	assert.Equal(t, len(ids), root.NumSlots())
	assert.True(t, root.IsMinRec(0))
	// Release the root latch: ValidateIndex latches every page it checks.
	m.Abandon()

	report, err := tr.ValidateIndex(nil)
	require.NoError(t, err)
	assert.True(t, report.OK, "problems: %v", report.Problems)
}
