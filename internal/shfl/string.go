package shfl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf16"
)

// Wire strings are length-prefixed UTF-16LE: a two-byte payload length (not
// counting the terminator), a two-byte allocation size (counting it), then
// the payload and a 16-bit NUL.

// StringHeaderLen is the encoded size of the two length prefixes.
const StringHeaderLen = 4

var (
	// ErrInvalidName rejects path components the wire format cannot carry.
	ErrInvalidName = errors.New("shfl: invalid name")
	// ErrNameTooLong rejects names whose UTF-16 payload exceeds the 16-bit
	// length prefix.
	ErrNameTooLong = errors.New("shfl: name too long")
	// ErrBadString reports a malformed wire string.
	ErrBadString = errors.New("shfl: malformed wire string")
)

// String is one wire string. Data holds the UTF-16LE payload without the
// terminator; Size is the declared allocation including it.
type String struct {
	Length uint16
	Size   uint16
	Data   []byte
}

// NewString encodes s. NUL runes are rejected: the host treats the payload
// as a terminated string.
func NewString(s string) (*String, error) {
	if strings.ContainsRune(s, 0) {
		return nil, fmt.Errorf("%w: embedded NUL", ErrInvalidName)
	}
	units := utf16.Encode([]rune(s))
	n := len(units) * 2
	if n > math.MaxUint16-2 {
		return nil, ErrNameTooLong
	}
	data := make([]byte, n)
	for i, u := range units {
		binary.LittleEndian.PutUint16(data[i*2:], u)
	}
	return &String{Length: uint16(n), Size: uint16(n + 2), Data: data}, nil
}

// Decode converts the payload back to a Go string.
func (s *String) Decode() (string, error) {
	if s.Length%2 != 0 || int(s.Length) > len(s.Data) {
		return "", ErrBadString
	}
	units := make([]uint16, s.Length/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(s.Data[i*2:])
	}
	return string(utf16.Decode(units)), nil
}

// EncodedLen is the number of bytes MarshalBinary produces: the header plus
// the declared allocation.
func (s *String) EncodedLen() int {
	return StringHeaderLen + int(s.Size)
}

// MarshalBinary lays the string out as it travels on the wire.
func (s *String) MarshalBinary() ([]byte, error) {
	if int(s.Size) < int(s.Length)+2 {
		return nil, ErrBadString
	}
	out := make([]byte, s.EncodedLen())
	binary.LittleEndian.PutUint16(out[0:], s.Length)
	binary.LittleEndian.PutUint16(out[2:], s.Size)
	copy(out[StringHeaderLen:], s.Data[:s.Length])
	return out, nil
}

// UnmarshalBinary parses one wire string from the front of b. Trailing bytes
// are ignored so strings can be unpacked from larger records.
func (s *String) UnmarshalBinary(b []byte) error {
	if len(b) < StringHeaderLen {
		return ErrBadString
	}
	length := binary.LittleEndian.Uint16(b[0:])
	size := binary.LittleEndian.Uint16(b[2:])
	if int(size) < int(length)+2 || len(b) < StringHeaderLen+int(size) {
		return ErrBadString
	}
	s.Length = length
	s.Size = size
	s.Data = append([]byte(nil), b[StringHeaderLen:StringHeaderLen+int(length)]...)
	return nil
}

// JoinPath builds a remote path from the components of a naming entry's
// ancestry, root first. Components must be plain names.
func JoinPath(parts ...string) (string, error) {
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, "/\x00") {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, p)
		}
	}
	path := strings.Join(parts, "/")
	if len(path) > PathMax {
		return "", ErrNameTooLong
	}
	return path, nil
}
