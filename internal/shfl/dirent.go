package shfl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Directory listings travel as a sequence of variable-length records, each
// self-describing: a fixed header (object size, mode, wire-string prefixes)
// followed by the name's declared allocation. The record length is always
// computable from the header alone, so a malformed name can be skipped
// without losing the walk position.

// DirRecordHeaderLen is the fixed part of one record: object size (8), mode
// (4) and the wire-string header (4).
const DirRecordHeaderLen = 12 + StringHeaderLen

// ErrBadDirRecord reports a record too short for its own header.
var ErrBadDirRecord = errors.New("shfl: truncated directory record")

// DirRecord is one decoded listing entry.
type DirRecord struct {
	Name string
	Mode uint32
	Size uint64
}

// AppendDirRecord encodes one entry onto buf and returns the extended
// buffer.
func AppendDirRecord(buf []byte, name string, mode uint32, size uint64) ([]byte, error) {
	ws, err := NewString(name)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, DirRecordHeaderLen+int(ws.Size))
	binary.LittleEndian.PutUint64(rec[0:], size)
	binary.LittleEndian.PutUint32(rec[8:], mode)
	binary.LittleEndian.PutUint16(rec[12:], ws.Length)
	binary.LittleEndian.PutUint16(rec[14:], ws.Size)
	copy(rec[DirRecordHeaderLen:], ws.Data)
	return append(buf, rec...), nil
}

// DecodeDirRecord parses the record at the front of b. n is the full record
// length; when the name payload is malformed, n is still valid and err
// describes the decode failure, so callers can skip the record and keep
// walking. n == 0 means b is exhausted or too short to resync.
func DecodeDirRecord(b []byte) (rec DirRecord, n int, err error) {
	if len(b) < DirRecordHeaderLen {
		return DirRecord{}, 0, ErrBadDirRecord
	}
	rec.Size = binary.LittleEndian.Uint64(b[0:])
	rec.Mode = binary.LittleEndian.Uint32(b[8:])
	length := binary.LittleEndian.Uint16(b[12:])
	alloc := binary.LittleEndian.Uint16(b[14:])
	n = DirRecordHeaderLen + int(alloc)
	if len(b) < n {
		return DirRecord{}, 0, ErrBadDirRecord
	}
	if int(alloc) < int(length)+2 {
		return rec, n, fmt.Errorf("%w: allocation %d shorter than payload %d", ErrBadString, alloc, length)
	}
	ws := String{Length: length, Size: alloc, Data: b[DirRecordHeaderLen : DirRecordHeaderLen+int(length)]}
	rec.Name, err = ws.Decode()
	if err != nil {
		return rec, n, err
	}
	return rec, n, nil
}

// DirentType extracts the type bits of a listing entry's mode, mapping
// anything the protocol does not define to zero (unknown).
func DirentType(mode uint32) uint32 {
	switch t := mode & TypeMask; t {
	case TypeFifo, TypeDevChar, TypeDir, TypeDevBlock, TypeFile, TypeSymlink, TypeSocket, TypeWhiteout:
		return t
	default:
		return 0
	}
}
