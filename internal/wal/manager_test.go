package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	writes []struct {
		dir, base string
		pageID    uint32
		page      []byte
	}
}

func (w *recordingWriter) WritePage(dir, base string, pageID uint32, pageBytes []byte) error {
	cp := make([]byte, len(pageBytes))
	copy(cp, pageBytes)
	w.writes = append(w.writes, struct {
		dir, base string
		pageID    uint32
		page      []byte
	}{dir, base, pageID, cp})
	return nil
}

func samplePage(fill byte) []byte {
	p := make([]byte, PageSize)
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestAppendPageImageThenRecoverReplaysInOrder(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	_, err = m.AppendPageImage(dir, "idx", 1, samplePage(0x11))
	require.NoError(t, err)
	lsn2, err := m.AppendPageImage(dir, "idx", 2, samplePage(0x22))
	require.NoError(t, err)
	require.NoError(t, m.Flush(lsn2))

	w := &recordingWriter{}
	require.NoError(t, m.Recover(w))

	require.Len(t, w.writes, 2)
	assert.Equal(t, uint32(1), w.writes[0].pageID)
	assert.Equal(t, byte(0x11), w.writes[0].page[0])
	assert.Equal(t, uint32(2), w.writes[1].pageID)
	assert.Equal(t, byte(0x22), w.writes[1].page[0])
}

func TestRecoverOnMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	require.NoError(t, m.Close())

	m2, err := Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = m2.Close() }()
	require.NoError(t, m2.Recover(&recordingWriter{}))
}

func TestAppendPageImageRejectsWrongSize(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	_, err = m.AppendPageImage(dir, "idx", 1, make([]byte, PageSize-1))
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestLSNMonotonicAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	lsn1, err := m.AppendPageImage(dir, "idx", 1, samplePage(0x01))
	require.NoError(t, err)
	require.NoError(t, m.Flush(lsn1))
	require.NoError(t, m.Close())

	m2, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = m2.Close() }()

	lsn2, err := m2.AppendPageImage(dir, "idx", 2, samplePage(0x02))
	require.NoError(t, err)
	assert.Greater(t, lsn2, lsn1)
}
