package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	defaultPageID uint32 = 0

	slot1Data = []byte("data string of slot 1")
	slot2Data = []byte("data string of slot 2")
	longData  = []byte("data string of slot longggggggggg" +
		" long longggggggggg long longggggggggg" +
		" long longggggggggg long longggggggggg" +
		" long longggggggggg long longggggggggg" +
		" long longggggggggg long longggggggggg" +
		" long longggggggggg long longggggggggg" +
		" long longggggggggg long longggggggggg" +
		" long longggggggggg long longggggggggg" +
		" long longggggggggg long longggggggggg" +
		" long longggggggggg long longggggggggg" +
		" long longggggggggg long longggggggggg" +
		" long longggggggggg long longggggggggg",
	)
)

func newPage(t *testing.T) Page {
	t.Helper()
	buf := make([]byte, PageSize)
	p := NewPage(buf, defaultPageID)

	assert.Equal(t, PageSize, p.Upper())
	assert.Equal(t, HeaderSize, p.Lower())
	assert.Equal(t, 0, p.NumSlots())

	slot, err := p.InsertTuple(slot1Data)
	require.NoError(t, err)
	assert.Equal(t, 0, slot)

	slot, err = p.InsertTuple(slot2Data)
	require.NoError(t, err)
	assert.Equal(t, 1, slot)

	assert.Equal(t, 2, p.NumSlots())

	return p
}

func TestPageReset(t *testing.T) {
	buf := make([]byte, PageSize)
	p := NewPage(buf, 7)
	assert.Equal(t, uint32(7), p.PageID())
	assert.True(t, p.IsUninitialized() == false || p.NumSlots() == 0)
	_, ok := p.LastInsert()
	assert.False(t, ok)
}

func TestCRUDTuple(t *testing.T) {
	p := newPage(t)

	data, err := p.ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, slot1Data, data)

	_, err = p.ReadTuple(-1)
	require.ErrorIs(t, err, ErrSlotOutOfRange)
	_, err = p.ReadTuple(5)
	require.ErrorIs(t, err, ErrSlotOutOfRange)

	p.DeleteTuple(0)
	_, err = p.ReadTuple(0)
	require.ErrorIs(t, err, ErrSlotNotFound)

	require.NoError(t, p.UpdateTuple(1, longData))

	data, err = p.ReadTuple(2)
	require.NoError(t, err)
	assert.Equal(t, longData, data)
}

func TestInsertTupleAtKeepsOrder(t *testing.T) {
	buf := make([]byte, PageSize)
	p := NewPage(buf, 1)

	_, err := p.InsertTuple([]byte("b"))
	require.NoError(t, err)
	_, err = p.InsertTuple([]byte("c"))
	require.NoError(t, err)

	slot, err := p.InsertTupleAt(0, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, 0, slot)

	first, err := p.ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), first)

	last, err := p.ReadTuple(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), last)
}

func TestMinRecMark(t *testing.T) {
	buf := make([]byte, PageSize)
	p := NewPage(buf, 1)
	_, err := p.InsertTuple([]byte("leftmost"))
	require.NoError(t, err)

	assert.False(t, p.IsMinRec(0))
	p.SetMinRecMark(0, true)
	assert.True(t, p.IsMinRec(0))
	p.SetMinRecMark(0, false)
	assert.False(t, p.IsMinRec(0))
}

func TestReorganizeReclaimsDeletedSpace(t *testing.T) {
	buf := make([]byte, PageSize)
	p := NewPage(buf, 3)
	p.SetLevel(1)
	p.SetIndexID(42)

	for _, s := range [][]byte{[]byte("one"), []byte("two"), []byte("three")} {
		_, err := p.InsertTuple(s)
		require.NoError(t, err)
	}
	p.DeleteTuple(1)

	before := p.MaxInsertSize()
	p.Reorganize()
	after := p.MaxInsertSize()

	assert.Greater(t, after, before)
	assert.Equal(t, 2, p.NumSlots())
	assert.Equal(t, uint32(3), p.PageID())
	assert.Equal(t, uint32(1), p.Level())
	assert.Equal(t, uint64(42), p.IndexID())

	data, err := p.ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)
	data, err = p.ReadTuple(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), data)
}

func TestFilNullSiblingDefaults(t *testing.T) {
	buf := make([]byte, PageSize)
	p := NewPage(buf, 9)
	assert.Equal(t, FilNull, p.Prev())
	assert.Equal(t, FilNull, p.Next())
}
