package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageReorganizePreservesSizeAccounting(t *testing.T) {
	tr := newTestTree(t, 32)

	m := tr.startMtr()
	defer m.Abandon()

	p, err := tr.fetchX(m, tr.Root)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := p.InsertTuple(EncodeUserRecord(seqKey(i), val(i)))
		require.NoError(t, err)
	}
	// Delete every other record so Reorganize has real garbage to reclaim.
	for i := 18; i >= 0; i -= 2 {
		p.DeleteTuple(i)
	}

	dataBefore := p.DataSize()
	maxBefore := p.MaxInsertSizeAfterReorganize()

	require.NoError(t, tr.pageReorganize(m, tr.Root))

	assert.Equal(t, dataBefore, p.DataSize())
	assert.Equal(t, maxBefore, p.MaxInsertSizeAfterReorganize())

	// Deleted slots must be gone: only the surviving odd-indexed records
	// remain.
	assert.Equal(t, 10, p.NumSlots())
}

func TestApplyRedoReorganizeCompactsInPlace(t *testing.T) {
	p := newBarePage(t, 1)
	fillPage(t, p, 10)
	for i := 8; i >= 0; i -= 2 {
		p.DeleteTuple(i)
	}
	before := p.NumSlots()

	applyRedoReorganize(p)

	assert.LessOrEqual(t, p.NumSlots(), before)
}
