package gateway

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/virtshare/vsharefs/internal/shfl"
)

// The wire protocol frames one XDR-encoded message per request and reply: a
// 4-byte big-endian length, a fixed header, then the per-op body. Paths and
// symlink targets cross the wire in the shfl length-prefixed UTF-16LE
// encoding, carried as XDR opaques.

// Op codes.
const (
	OpMount uint32 = iota + 1
	OpCreateOrOpen
	OpClose
	OpRead
	OpWrite
	OpRemove
	OpRename
	OpSymlink
	OpReadlink
	OpListDir
	OpStat
)

// Status codes, one per taxonomy condition.
const (
	StatusOK uint32 = iota
	StatusNotFound
	StatusExists
	StatusNotSupported
	StatusPermission
	StatusInvalid
	StatusBadHandle
	StatusIsDir
	StatusNotEmpty
	StatusIO
)

// MaxFrameLen bounds one frame; a bulk listing reply with several chunks is
// the largest message either side produces.
const MaxFrameLen = 8 << 20

// CallHeader precedes every request body.
type CallHeader struct {
	Seq  uint32
	Op   uint32
	Root uint32
}

// ReplyHeader precedes every reply body. A non-OK status means the body is
// absent.
type ReplyHeader struct {
	Seq    uint32
	Status uint32
}

// WireObjInfo mirrors shfl.ObjInfo across the wire.
type WireObjInfo struct {
	Size  uint64
	Mode  uint32
	Atime int64
	Mtime int64
	Ctime int64
}

// ToObjInfo converts the wire form.
func (w *WireObjInfo) ToObjInfo() *shfl.ObjInfo {
	return &shfl.ObjInfo{Size: w.Size, Mode: w.Mode, Atime: w.Atime, Mtime: w.Mtime, Ctime: w.Ctime}
}

// FromObjInfo converts to the wire form.
func FromObjInfo(i *shfl.ObjInfo) WireObjInfo {
	return WireObjInfo{Size: i.Size, Mode: i.Mode, Atime: i.Atime, Mtime: i.Mtime, Ctime: i.Ctime}
}

// Per-op bodies. Request/reply pairs share the op name.

type MountReq struct {
	Session string
	Share   string
}

type MountReply struct {
	Root uint32
}

type CreateOrOpenReq struct {
	Path  []byte
	Flags uint32
	Mode  uint32
}

type CreateOrOpenReply struct {
	Handle uint64
	Result uint32
	Info   WireObjInfo
}

type CloseReq struct {
	Handle uint64
}

type ReadReq struct {
	Handle uint64
	Offset uint64
	Length uint32
}

type ReadReply struct {
	Data []byte
}

type WriteReq struct {
	Handle uint64
	Offset uint64
	Data   []byte
}

type WriteReply struct {
	Written uint32
}

type RemoveReq struct {
	Path  []byte
	Flags uint32
}

type RenameReq struct {
	OldPath []byte
	NewPath []byte
	Flags   uint32
}

type SymlinkReq struct {
	Path   []byte
	Target []byte
}

type SymlinkReply struct {
	Info WireObjInfo
}

type ReadlinkReq struct {
	Path   []byte
	MaxLen uint32
}

type ReadlinkReply struct {
	Target []byte
}

type ListDirReq struct {
	Handle uint64
}

// WireDirChunk mirrors DirChunk.
type WireDirChunk struct {
	Entries uint32
	Data    []byte
}

type ListDirReply struct {
	Chunks []WireDirChunk
}

type StatReq struct {
	Path []byte
}

type StatReply struct {
	Info WireObjInfo
}

// EncodePath runs a remote path through the wire-string codec.
func EncodePath(path string) ([]byte, error) {
	ws, err := shfl.NewString(path)
	if err != nil {
		return nil, err
	}
	return ws.MarshalBinary()
}

// DecodePath reverses EncodePath.
func DecodePath(b []byte) (string, error) {
	var ws shfl.String
	if err := ws.UnmarshalBinary(b); err != nil {
		return "", err
	}
	return ws.Decode()
}

// WriteFrame marshals the header and body into one length-prefixed frame.
func WriteFrame(w io.Writer, header, body any) error {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, header); err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if body != nil {
		if _, err := xdr.Marshal(&buf, body); err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(buf.Len()))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 || n > MaxFrameLen {
		return nil, fmt.Errorf("invalid frame length %d", n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// StatusToError maps a reply status to the taxonomy sentinel.
func StatusToError(status uint32) error {
	switch status {
	case StatusOK:
		return nil
	case StatusNotFound:
		return ErrNotFound
	case StatusExists:
		return ErrExists
	case StatusNotSupported:
		return ErrNotSupported
	case StatusPermission:
		return ErrPermission
	case StatusInvalid:
		return ErrInvalid
	case StatusBadHandle:
		return ErrBadHandle
	case StatusIsDir:
		return ErrIsDir
	case StatusNotEmpty:
		return ErrNotEmpty
	default:
		return ErrIO
	}
}

// ErrorToStatus maps a taxonomy error to its reply status.
func ErrorToStatus(err error) uint32 {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrExists):
		return StatusExists
	case errors.Is(err, ErrNotSupported):
		return StatusNotSupported
	case errors.Is(err, ErrPermission):
		return StatusPermission
	case errors.Is(err, ErrInvalid):
		return StatusInvalid
	case errors.Is(err, ErrBadHandle):
		return StatusBadHandle
	case errors.Is(err, ErrIsDir):
		return StatusIsDir
	case errors.Is(err, ErrNotEmpty):
		return StatusNotEmpty
	default:
		return StatusIO
	}
}
