package btree

import (
	"bytes"

	"github.com/tuannm99/btreeidx/internal/storage"
)

// Key is a composite, type-aware index key represented as its already
// memcomparable byte encoding: callers (the record layout module, in a
// complete system) are responsible for producing bytes whose lexicographic
// order matches the logical key order. The engine itself only ever
// compares keys with bytes.Compare.
type Key []byte

func (k Key) compare(other Key) int {
	return bytes.Compare(k, other)
}

// recordHeaderSize is the 2-byte key-length prefix every record (user
// record or node pointer) carries ahead of its payload.
const recordHeaderSize = 2

// EncodeUserRecord builds a leaf record: [keyLen u16][key][value].
func EncodeUserRecord(key Key, value []byte) []byte {
	buf := make([]byte, recordHeaderSize+len(key)+len(value))
	storage.PutU16(buf, 0, uint16(len(key)))
	copy(buf[2:2+len(key)], key)
	copy(buf[2+len(key):], value)
	return buf
}

// DecodeUserRecord splits a leaf record back into its key and value.
func DecodeUserRecord(rec []byte) (key Key, value []byte) {
	if len(rec) < recordHeaderSize {
		return nil, nil
	}
	keyLen := int(storage.GetU16(rec, 0))
	if recordHeaderSize+keyLen > len(rec) {
		return nil, nil
	}
	key = rec[recordHeaderSize : recordHeaderSize+keyLen]
	value = rec[recordHeaderSize+keyLen:]
	return key, value
}

// nodePtrTrailerSize is the size of the child page number trailing every
// non-leaf record, matching the original's "child page number in the
// trailing 4-byte field" layout.
const nodePtrTrailerSize = 4

// EncodeNodePointer builds a non-leaf record: [keyLen u16][key][childPageID u32].
func EncodeNodePointer(key Key, child uint32) []byte {
	buf := make([]byte, recordHeaderSize+len(key)+nodePtrTrailerSize)
	storage.PutU16(buf, 0, uint16(len(key)))
	copy(buf[2:2+len(key)], key)
	storage.PutU32(buf, 2+len(key), child)
	return buf
}

// DecodeNodePointer splits a non-leaf record into its key and child page.
func DecodeNodePointer(rec []byte) (key Key, child uint32) {
	if len(rec) < recordHeaderSize+nodePtrTrailerSize {
		return nil, 0
	}
	keyLen := int(storage.GetU16(rec, 0))
	if recordHeaderSize+keyLen+nodePtrTrailerSize > len(rec) {
		return nil, 0
	}
	key = rec[recordHeaderSize : recordHeaderSize+keyLen]
	child = storage.GetU32(rec, recordHeaderSize+keyLen)
	return key, child
}

// SetNodePointerChild rewrites the trailing child page number of a node
// pointer record in place, used when attach_half_pages rewrites the
// parent's existing node pointer to point at the new lower half.
func SetNodePointerChild(rec []byte, child uint32) {
	if len(rec) < nodePtrTrailerSize {
		return
	}
	storage.PutU32(rec, len(rec)-nodePtrTrailerSize, child)
}

// recordKey extracts just the key from either a user record or a node
// pointer record; both share the same [keyLen][key]... prefix.
func recordKey(rec []byte) Key {
	if len(rec) < recordHeaderSize {
		return nil
	}
	keyLen := int(storage.GetU16(rec, 0))
	if recordHeaderSize+keyLen > len(rec) {
		return nil
	}
	return rec[recordHeaderSize : recordHeaderSize+keyLen]
}
