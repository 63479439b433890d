package storage

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
)

// ErrCompressFailed signals that compressing a page's current bytes did not
// succeed — the buffer was not a full page, the compressed form did not fit
// within budget, or the flate stream itself errored. Callers treat this as routine: the page
// keeps operating on its uncompressed frame, the documented fallback for
// every mutation site that attempts a compressed edit.
var ErrCompressFailed = errors.New("storage: page compression failed")

// CompressedImage is the optional compressed counterpart of a page's
// uncompressed frame: every page descriptor either carries one or doesn't
// (Option<CompressedImage>), and every mutation that changes the
// uncompressed frame also attempts to rebuild this image.
type CompressedImage struct {
	Data []byte
}

// CompressPage attempts to build a compressed image of buf, a full
// PageSize-byte frame, succeeding only if the compressed form fits within
// budget bytes — modeling the fixed physical slot a ROW_FORMAT=COMPRESSED
// page is persisted at. No compression library appears anywhere in the
// example pack this engine is grounded on, so this reaches for the
// standard library's DEFLATE implementation rather than a third-party
// codec.
func CompressPage(buf []byte, budget int) (*CompressedImage, error) {
	if len(buf) != PageSize {
		return nil, fmt.Errorf("%w: buffer must be %d bytes", ErrCompressFailed, PageSize)
	}

	var out bytes.Buffer
	w, err := flate.NewWriter(&out, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressFailed, err)
	}
	if _, err := w.Write(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressFailed, err)
	}
	if out.Len() > budget {
		return nil, fmt.Errorf("%w: compressed size %d exceeds budget %d", ErrCompressFailed, out.Len(), budget)
	}

	return &CompressedImage{Data: append([]byte(nil), out.Bytes()...)}, nil
}

// Decompress restores the original PageSize-byte frame from img.
func (img *CompressedImage) Decompress() ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(img.Data))
	defer func() { _ = r.Close() }()

	out := make([]byte, PageSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("storage: decompress: %w", err)
	}
	return out, nil
}
