package mtr

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tuannm99/btreeidx/internal/storage"
)

// Record types for the variable-length logical log. Full page images go
// through internal/wal.Manager, wired into every page write by
// storage.StorageManager.SavePage for torn-page protection; this log
// instead carries the small, structural redo records specific to
// mini-transactions, using the same magic+crc framing idea but a
// variable-length body, since forcing these into wal.Manager's fixed
// full-page-image record would require breaking its existing
// AppendPageImage/Recover contract.
const (
	magicU32 uint32 = 0x4D545252 // "MTRR"
	version  uint16 = 1

	RecPageReorganize  uint8 = 1 // pageID only
	RecSetMinRecMark   uint8 = 2 // pageID + 2-byte slot offset
	RecPageReorgCompact uint8 = 3 // pageID, compact-format variant
)

var (
	ErrBadMagic  = errors.New("mtr: bad magic")
	ErrBadCRC    = errors.New("mtr: bad crc")
	ErrBadRecord = errors.New("mtr: bad record")
)

// Record is one decoded redo-log entry.
type Record struct {
	Typ    uint8
	PageID uint32
	Offset uint16 // meaningful only for RecSetMinRecMark
}

// RedoLog is an append-only, crash-consistent log of structural redo
// records, flushed to disk before the mini-transaction that produced them
// releases its latches.
type RedoLog struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func OpenRedoLog(dir string) (*RedoLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "mtr_redo.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &RedoLog{f: f, path: path}, nil
}

func (l *RedoLog) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.f.Close()
	l.f = nil
	return err
}

// Append writes one redo record and fsyncs before returning, so a commit
// never reports success before its log is durable.
func (l *RedoLog) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrBadRecord
	}

	body := make([]byte, 1+4+2)
	body[0] = rec.Typ
	storage.PutU32(body[1:5], 0, rec.PageID)
	storage.PutU16(body[5:7], 0, rec.Offset)

	// magic(4) version(2) bodyLen(2) crc(4) body
	buf := make([]byte, 4+2+2+4+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], magicU32)
	binary.LittleEndian.PutUint16(buf[4:6], version)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(body)))
	crc := crc32.ChecksumIEEE(body)
	binary.LittleEndian.PutUint32(buf[8:12], crc)
	copy(buf[12:], body)

	if _, err := l.f.Write(buf); err != nil {
		return err
	}
	return l.f.Sync()
}

// Replay reads every record in the log and invokes apply for each, in
// order, used during recovery to redo structural operations that committed
// but whose buffer-pool frames never made it to disk.
func (l *RedoLog) Replay(apply func(Record) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<16)
	for {
		rec, err := readOne(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		if err := apply(*rec); err != nil {
			return err
		}
	}
}

func readOne(r *bufio.Reader) (*Record, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != magicU32 {
		return nil, ErrBadMagic
	}
	bodyLen := binary.LittleEndian.Uint16(hdr[6:8])
	wantCRC := binary.LittleEndian.Uint32(hdr[8:12])

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, ErrBadCRC
	}
	if len(body) < 7 {
		return nil, ErrBadRecord
	}

	return &Record{
		Typ:    body[0],
		PageID: storage.GetU32(body[1:5], 0),
		Offset: storage.GetU16(body[5:7], 0),
	}, nil
}
