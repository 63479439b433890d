package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tuannm99/btreeidx/internal/alias/util"
	"github.com/tuannm99/btreeidx/internal/wal"
)

var (
	// currently unused; if you later decide to distinguish between "zero page"
	// and "beyond EOF", you can return this from ReadPage.
	ErrPageNotFound = errors.New("storage_manager: page not found")

	// currently unused in this file; reserved for higher-level "append" logic.
	ErrPageFull = errors.New("storage_manager: write would exceed page data length")
)

type FileSet interface {
	OpenSegment(segNo int32) (*os.File, error)
}

var _ FileSet = (*LocalFileSet)(nil)

// LocalFileSet represents a local directory + base file name.
// Segments are stored as: Base, Base.1, Base.2, ...
type LocalFileSet struct {
	Dir  string
	Base string
}

func (lfs LocalFileSet) OpenSegment(segNo int32) (*os.File, error) {
	name := lfs.Base
	if segNo > 0 {
		name = fmt.Sprintf("%s.%d", lfs.Base, segNo)
	}
	path := filepath.Join(lfs.Dir, name)
	if err := os.MkdirAll(lfs.Dir, 0o755); err != nil {
		return nil, err
	}
	// RDWR | CREATE (no truncate)
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}

// StorageManager maps a logical pageID -> (segment, offset).
//
// Writes are torn-page-protected by an optional full-page-image WAL: a
// write goes through AppendPageImage before it touches the segment file,
// so a crash mid-write leaves a recoverable image behind rather than a
// half-written page.
type StorageManager struct {
	wal *wal.Manager
}

func NewStorageManager() *StorageManager {
	return &StorageManager{}
}

// NewStorageManagerWithWAL wraps page writes with full-page-image logging
// to w, for crash recovery against torn writes.
func NewStorageManagerWithWAL(w *wal.Manager) *StorageManager {
	return &StorageManager{wal: w}
}

func (sm *StorageManager) pagesPerSegment() int {
	// total 1 GiB / 8 KiB = 131072 pages per segment
	return SegmentSize / PageSize
}

func (sm *StorageManager) locate(pageID int32) (segNo int32, offset int32) {
	pps := sm.pagesPerSegment()
	segNo = pageID / int32(pps)
	pageInSeg := pageID % int32(pps)
	offset = pageInSeg * PageSize
	return segNo, offset
}

// ReadPage reads exactly one page (PageSize bytes) into dst.
// If the underlying file is smaller than the requested offset+PageSize,
// the remainder is zero-filled. This allows "sparse" pages that are
// lazily initialized by higher layers.
func (sm *StorageManager) ReadPage(fs FileSet, pageID int32, dst []byte) error {
	if len(dst) != PageSize {
		return fmt.Errorf("dst must be exactly %d bytes", PageSize)
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer util.CloseFileFunc(f)

	n, err := f.ReadAt(dst, int64(off))
	if err != nil && err != io.EOF {
		return err
	}
	// Zero-fill the rest of the page if we hit EOF early or a short read.
	for i := n; i < PageSize; i++ {
		dst[i] = 0
	}
	return nil
}

// WritePage writes exactly one page (PageSize bytes) from src to disk
// at the location computed from pageID.
func (sm *StorageManager) WritePage(fs FileSet, pageID int32, src []byte) error {
	if len(src) != PageSize {
		return fmt.Errorf("src must be exactly %d bytes", PageSize)
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer util.CloseFileFunc(f)

	n, err := f.WriteAt(src, int64(off))
	if err != nil {
		return err
	}
	if n != PageSize {
		return io.ErrShortWrite
	}
	return nil
}

// LoadPage reads a page into memory and returns a Page wrapper.
// If the on-disk bytes are all zero, the page is treated as uninitialized
// and is initialized with the given pageID.
func (sm *StorageManager) LoadPage(fs FileSet, pageID uint32) (*Page, error) {
	buf := make([]byte, PageSize)
	if err := sm.ReadPage(fs, int32(pageID), buf); err != nil {
		return nil, err
	}
	p := &Page{Buf: buf}
	if p.IsUninitialized() {
		p.Reset(pageID)
	}
	return p, nil
}

// SavePage writes the in-memory Page back to disk. If the manager was
// built with a WAL, the page image is logged and fsynced first, so a crash
// between the log write and the segment write is recoverable by replaying
// the log; a crash before the log write simply loses nothing new.
func (sm *StorageManager) SavePage(fs FileSet, pageID uint32, p Page) error {
	if len(p.Buf) != PageSize {
		return fmt.Errorf("page buffer must be %d bytes", PageSize)
	}
	if sm.wal != nil {
		if lfs, ok := fs.(LocalFileSet); ok {
			lsn, err := sm.wal.AppendPageImage(lfs.Dir, lfs.Base, pageID, p.Buf)
			if err != nil {
				return fmt.Errorf("wal append: %w", err)
			}
			if err := sm.wal.Flush(lsn); err != nil {
				return fmt.Errorf("wal flush: %w", err)
			}
		}
	}
	return sm.WritePage(fs, int32(pageID), p.Buf)
}

// RecoverFromWAL replays every full-page image in the manager's WAL,
// writing each one straight to its segment file. Call this once at
// startup, before any LoadPage/SavePage traffic, so segment files reflect
// the last durably-logged image of every page.
func (sm *StorageManager) RecoverFromWAL() error {
	if sm.wal == nil {
		return nil
	}
	return sm.wal.Recover(NewWALWriter(sm))
}

// CountPages computes total pages for a given FileSet by scanning all segments.
func (sm *StorageManager) CountPages(fs FileSet) (uint32, error) {
	var total uint32

	// We assume segments are named: Base, Base.1, Base.2, ...
	for segNo := int32(0); ; segNo++ {
		f, err := fs.OpenSegment(segNo)
		if err != nil {
			// Stop when the segment file does not exist
			if os.IsNotExist(err) {
				break
			}
			return 0, err
		}

		info, statErr := f.Stat()
		_ = f.Close()
		if statErr != nil {
			return 0, statErr
		}

		size := info.Size()
		if size <= 0 {
			// OpenSegment creates a missing segment file, so a segment
			// that does not exist yet shows up here as empty: stop.
			break
		}

		pages := uint32(size / int64(PageSize))
		total += pages
	}

	return total, nil
}
