package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/pagestore"
	"github.com/tuannm99/btreeidx/internal/storage"
)

func newIbufTestTree(t *testing.T, poolCapacity int) *Tree {
	t.Helper()

	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "idx"}
	pool := pagestore.NewPool(sm, fs, poolCapacity)
	redo, err := mtr.OpenRedoLog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redo.Close() })

	tr, err := Create(Deps{SM: sm, FS: fs, Pool: pool, Redo: redo}, 1, Flags{Ibuf: true})
	require.NoError(t, err)
	return tr
}

// TestCreateIbufTreeAnchorsRootOnHeaderPage asserts Create's ibuf branch
// allocates a dedicated header page immediately before the root and
// anchors SEG_TOP there rather than on the root itself.
func TestCreateIbufTreeAnchorsRootOnHeaderPage(t *testing.T) {
	tr := newIbufTestTree(t, 16)

	require.NotEqual(t, storage.FilNull, tr.IbufHeaderPage)
	assert.Equal(t, tr.IbufHeaderPage+1, tr.Root, "ibuf tree root must be the page immediately after its header page")
	assert.Equal(t, storage.FilNull, tr.ibufFreeHead, "a freshly created ibuf tree's free list starts empty")
}

// TestIbufPageAllocPopsFreeListInOrder asserts pageAlloc/pageFree on an ibuf
// tree thread pages through the in-tree free list instead of the segment
// allocator. A brand-new ibuf tree's free list starts empty (nothing
// bootstraps it — keeping it topped up is the excluded merge-policy
// concern), so the test seeds it directly the way that policy eventually
// would: by freeing a couple of pages into it first.
func TestIbufPageAllocPopsFreeListInOrder(t *testing.T) {
	tr := newIbufTestTree(t, 16)

	m := tr.startMtr()
	defer m.Abandon()

	seed := func(pageID uint32) storage.Page {
		require.NoError(t, m.XLock(pageID))
		p, ok := tr.pool.Peek(pageID)
		require.True(t, ok)
		p.Reset(pageID)
		return *p
	}
	a := seed(tr.Root + 10)
	b := seed(tr.Root + 11)

	require.NoError(t, tr.pageFree(m, a))
	require.NoError(t, tr.pageFree(m, b))
	assert.Equal(t, b.PageID(), tr.ibufFreeHead, "the most recently freed page becomes the new free-list head")

	reused, err := tr.pageAlloc(m, 0, 0, DirNoDir)
	require.NoError(t, err)
	assert.Equal(t, b.PageID(), reused.PageID(), "pageAlloc must pop the free list head first")

	reused2, err := tr.pageAlloc(m, 0, 0, DirNoDir)
	require.NoError(t, err)
	assert.Equal(t, a.PageID(), reused2.PageID())

	assert.Equal(t, storage.FilNull, tr.ibufFreeHead, "free list must be empty once both freed pages are reallocated")
}

// TestIbufPageAllocFailsLoudlyWhenFreeListDepleted asserts a depleted ibuf
// free list is reported as an error rather than silently handing out a
// bogus FIL_NULL page.
func TestIbufPageAllocFailsLoudlyWhenFreeListDepleted(t *testing.T) {
	tr := newIbufTestTree(t, 16)

	m := tr.startMtr()
	defer m.Abandon()

	_, err := tr.pageAlloc(m, 0, 0, DirNoDir)
	require.ErrorIs(t, err, ErrOutOfSpace)
}

// TestIbufCheckpointRoundTrip asserts the header page and free-list head
// survive a save/reopen cycle.
func TestIbufCheckpointRoundTrip(t *testing.T) {
	tr := newIbufTestTree(t, 16)

	// A fresh ibuf tree's free list is empty, so pageAlloc would fail;
	// seed the list by freeing a page directly instead.
	m := tr.startMtr()
	id := tr.Root + 10
	require.NoError(t, m.XLock(id))
	p, ok := tr.pool.Peek(id)
	require.True(t, ok)
	p.Reset(id)
	require.NoError(t, tr.pageFree(m, *p))
	require.NoError(t, m.Commit())

	require.NoError(t, tr.SaveCheckpoint())

	chk, found, err := LoadCheckpoint(tr.fs)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tr.IbufHeaderPage, chk.IbufHeaderPage)
	assert.Equal(t, tr.ibufFreeHead, chk.IbufFreeHead)

	reopened := Open(Deps{SM: tr.sm, FS: tr.fs, Pool: tr.pool, Redo: tr.redo}, tr.IndexID, Flags{Ibuf: true}, chk)
	assert.Equal(t, tr.IbufHeaderPage, reopened.IbufHeaderPage)
	assert.Equal(t, tr.ibufFreeHead, reopened.ibufFreeHead)
}
