package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withShrunkCompressBudget temporarily forces every compression attempt in
// the current test to fail, regardless of how compressible the page bytes
// actually are.
func withShrunkCompressBudget(t *testing.T, budget int) {
	t.Helper()
	saved := compressBudget
	compressBudget = budget
	t.Cleanup(func() { compressBudget = saved })
}

// TestCompressFlagRebuildsImageAfterSplit asserts a Flags.Compress tree
// keeps a compressed image for pages a split touches, and that a
// Flags.Compress==false tree never bothers building one.
func TestCompressFlagRebuildsImageAfterSplit(t *testing.T) {
	tr := newTestTreeWithFlags(t, 64, Flags{Clustered: true, Compress: true})

	for i := 0; i < 500; i++ {
		require.NoError(t, tr.Insert(seqKey(i), val(i)))
	}

	_, ok := tr.CompressedImage(tr.Root)
	assert.True(t, ok, "root page should have a rebuilt compressed image after inserts that split it")
}

func TestCompressFlagOffNeverBuildsImages(t *testing.T) {
	tr := newTestTree(t, 64)

	for i := 0; i < 200; i++ {
		require.NoError(t, tr.Insert(seqKey(i), val(i)))
	}

	_, ok := tr.CompressedImage(tr.Root)
	assert.False(t, ok)
}

// TestRecompressPageFallsBackSilentlyOnFailure asserts a shrunk budget
// doesn't fail the caller: recompressPage just leaves no cached image
// behind instead of returning an error up through Insert.
func TestRecompressPageFallsBackSilentlyOnFailure(t *testing.T) {
	tr := newTestTreeWithFlags(t, 64, Flags{Clustered: true, Compress: true})
	withShrunkCompressBudget(t, 4)

	for i := 0; i < 500; i++ {
		require.NoError(t, tr.Insert(seqKey(i), val(i)))
	}

	_, ok := tr.CompressedImage(tr.Root)
	assert.False(t, ok, "an unfittable budget should leave the page with no cached image, not fail the insert")
}

// TestPageReorganizeCompressFailureRestoresBytes asserts that when a
// reorganize can't rebuild a compressed image, the page's bytes are put
// back exactly as they were rather than left half-compacted.
func TestPageReorganizeCompressFailureRestoresBytes(t *testing.T) {
	tr := newTestTreeWithFlags(t, 8, Flags{Clustered: true, Compress: true})

	m := tr.startMtr()
	defer m.Abandon()

	p, err := tr.fetchX(m, tr.Root)
	require.NoError(t, err)
	fillPage(t, p, 30)
	for i := 28; i >= 0; i -= 2 {
		p.DeleteTuple(i)
	}

	before := append([]byte(nil), p.Buf...)

	withShrunkCompressBudget(t, 4)

	err = tr.pageReorganize(m, tr.Root)
	require.ErrorIs(t, err, ErrPageCompressFailed)
	assert.Equal(t, before, p.Buf, "page bytes must be restored on a compression failure")
}
