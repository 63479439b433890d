package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/btreeidx/internal/wal"
)

func TestStorageManager(t *testing.T) {
	fs := LocalFileSet{Dir: "../../data/test/base", Base: "segment"}
	sm := NewStorageManager()

	// Load page
	pg, err := sm.LoadPage(fs, 0)
	require.NoError(t, err)
	assert.NotNil(t, pg)
	assert.IsType(t, &Page{}, pg)
}

func TestSavePageLogsToWALBeforeWriting(t *testing.T) {
	dir := t.TempDir()
	fs := LocalFileSet{Dir: dir, Base: "idx"}

	w, err := wal.Open(dir)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	sm := NewStorageManagerWithWAL(w)

	p, err := sm.LoadPage(fs, 3)
	require.NoError(t, err)
	require.NoError(t, sm.SavePage(fs, 3, *p))

	got, err := sm.LoadPage(fs, 3)
	require.NoError(t, err)
	assert.Equal(t, p.Buf, got.Buf)

	require.NoError(t, sm.RecoverFromWAL())
}

func TestRecoverFromWALWithNoWALIsNoop(t *testing.T) {
	sm := NewStorageManager()
	require.NoError(t, sm.RecoverFromWAL())
}
