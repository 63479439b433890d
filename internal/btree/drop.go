package btree

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/tuannm99/btreeidx/internal/storage"
)

// RenameIndex moves every segment file and the meta file of an index from
// oldLFS to newLFS, for giving an index a new base name or directory
// without rebuilding it. Fails if any target file already exists.
func RenameIndex(oldLFS, newLFS storage.LocalFileSet) error {
	if err := storage.RenameAllSegments(oldLFS, newLFS); err != nil {
		return err
	}

	oldMeta := filepath.Join(oldLFS.Dir, oldLFS.Base+metaFileSuffix)
	newMeta := filepath.Join(newLFS.Dir, newLFS.Base+metaFileSuffix)
	if err := os.Rename(oldMeta, newMeta); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// DropIndex removes all index segments and its meta file.
// Works for LocalFileSet only.
func DropIndex(lfs storage.LocalFileSet) error {
	// Ensure directory exists; Drop should be idempotent.
	if err := os.MkdirAll(lfs.Dir, 0o755); err != nil {
		return err
	}

	// Remove page segments: Base, Base.1, ...
	if err := storage.RemoveAllSegments(lfs); err != nil {
		return err
	}

	// Remove meta file: <Base>.btree.meta.json (if you use meta persistence)
	metaPath := filepath.Join(lfs.Dir, lfs.Base+metaFileSuffix)
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

