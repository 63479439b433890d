package btree

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tuannm99/btreeidx/internal/fseg"
	"github.com/tuannm99/btreeidx/internal/storage"
)

const (
	metaFileSuffix = ".btree.meta.json"
	metaVersion    = 1
)

// Checkpoint is everything Open needs to reattach to an existing tree
// without replaying its whole history: the root page, cached height, and
// both segments' bump-allocation/free-list state.
type Checkpoint struct {
	Root    uint32
	Height  int
	SegLeaf fseg.Inode
	SegTop  fseg.Inode

	// IbufHeaderPage and IbufFreeHead are only meaningful for ibuf trees
	// (storage.FilNull otherwise).
	IbufHeaderPage uint32
	IbufFreeHead   uint32
}

type diskMeta struct {
	Version int    `json:"version"`
	Root    uint32 `json:"root"`
	Height  int    `json:"height"`

	SegLeafNextNew  uint32 `json:"seg_leaf_next_new"`
	SegLeafFreeHead uint32 `json:"seg_leaf_free_head"`
	SegTopNextNew   uint32 `json:"seg_top_next_new"`
	SegTopFreeHead  uint32 `json:"seg_top_free_head"`

	IbufHeaderPage uint32 `json:"ibuf_header_page"`
	IbufFreeHead   uint32 `json:"ibuf_free_head"`
}

func metaPathForFileSet(fs storage.FileSet) (string, bool) {
	lfs, ok := fs.(storage.LocalFileSet)
	if !ok {
		return "", false
	}
	// meta file lives beside the segments: <Dir>/<Base>.btree.meta.json
	return filepath.Join(lfs.Dir, lfs.Base+metaFileSuffix), true
}

// SaveCheckpoint persists the tree's current root/height/segment state to
// its meta file via the same atomic-rename pattern used for durable page
// writes, so a crash mid-write never leaves a torn checkpoint.
func (t *Tree) SaveCheckpoint() error {
	path, ok := metaPathForFileSet(t.fs)
	if !ok {
		return nil
	}

	m := diskMeta{
		Version:         metaVersion,
		Root:            t.Root,
		Height:          t.Height,
		SegLeafNextNew:  t.segH.Leaf.NextNew,
		SegLeafFreeHead: t.segH.Leaf.FreeHead,
		SegTopNextNew:   t.segH.Top.NextNew,
		SegTopFreeHead:  t.segH.Top.FreeHead,
		IbufHeaderPage:  t.IbufHeaderPage,
		IbufFreeHead:    t.ibufFreeHead,
	}

	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return err
	}

	slog.Debug("btree.checkpoint.saved", "path", path, "root", m.Root, "height", m.Height)
	return nil
}

// LoadCheckpoint reads a previously saved checkpoint for fs, if any. The
// bool is false (with a nil error) when no checkpoint file exists yet.
func LoadCheckpoint(fs storage.FileSet) (Checkpoint, bool, error) {
	path, ok := metaPathForFileSet(fs)
	if !ok {
		return Checkpoint{}, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}

	var m diskMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return Checkpoint{}, false, err
	}

	return Checkpoint{
		Root:           m.Root,
		Height:         m.Height,
		SegLeaf:        fseg.Inode{NextNew: m.SegLeafNextNew, FreeHead: m.SegLeafFreeHead},
		SegTop:         fseg.Inode{NextNew: m.SegTopNextNew, FreeHead: m.SegTopFreeHead},
		IbufHeaderPage: m.IbufHeaderPage,
		IbufFreeHead:   m.IbufFreeHead,
	}, true, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}

	ok = true
	return nil
}
