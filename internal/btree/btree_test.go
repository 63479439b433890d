package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/pagestore"
	"github.com/tuannm99/btreeidx/internal/storage"
)

// newTestTree builds a brand-new tree rooted in a scratch directory, with a
// pool large enough to hold every page the small trees these tests build
// will ever touch at once.
func newTestTree(t *testing.T, poolCapacity int) *Tree {
	t.Helper()
	return newTestTreeWithFlags(t, poolCapacity, Flags{Clustered: true})
}

// newTestTreeWithFlags is newTestTree with caller-chosen Flags, for tests
// exercising a non-default variant (compression, the insert-buffer tree).
func newTestTreeWithFlags(t *testing.T, poolCapacity int, flags Flags) *Tree {
	t.Helper()

	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "idx"}
	pool := pagestore.NewPool(sm, fs, poolCapacity)
	redo, err := mtr.OpenRedoLog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redo.Close() })

	tr, err := Create(Deps{SM: sm, FS: fs, Pool: pool, Redo: redo}, 1, flags)
	require.NoError(t, err)
	return tr
}

// seqKey produces a fixed-width, lexicographically-ordered key so that
// numeric order and byte order agree, matching Key's documented contract
// that callers supply already-memcomparable bytes.
func seqKey(n int) Key {
	return Key(fmt.Sprintf("k%08d", n))
}

func val(n int) []byte {
	return []byte(fmt.Sprintf("v%08d", n))
}
