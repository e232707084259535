package shfl

import (
	"encoding/binary"
	"testing"
)

func TestDirRecordRoundTrip(t *testing.T) {
	var buf []byte
	var err error
	buf, err = AppendDirRecord(buf, "alpha.txt", TypeFile|0o644, 1234)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	buf, err = AppendDirRecord(buf, "subdir", TypeDir|0o755, 0)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	rec, n, err := DecodeDirRecord(buf)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if rec.Name != "alpha.txt" || rec.Size != 1234 || rec.Mode&TypeMask != TypeFile {
		t.Errorf("first record: %+v", rec)
	}

	rec, n2, err := DecodeDirRecord(buf[n:])
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if rec.Name != "subdir" || rec.Mode&TypeMask != TypeDir {
		t.Errorf("second record: %+v", rec)
	}

	if _, n3, _ := DecodeDirRecord(buf[n+n2:]); n3 != 0 {
		t.Errorf("exhausted buffer: n = %d, want 0", n3)
	}
}

// A record whose name payload is malformed must still report its own length
// so the walk can step over it.
func TestDecodeDirRecordSkipsBadName(t *testing.T) {
	good, err := AppendDirRecord(nil, "ok", TypeFile|0o644, 1)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	bad := make([]byte, DirRecordHeaderLen+4)
	binary.LittleEndian.PutUint64(bad[0:], 9)
	binary.LittleEndian.PutUint32(bad[8:], TypeFile)
	binary.LittleEndian.PutUint16(bad[12:], 3) // odd payload length, undecodable
	binary.LittleEndian.PutUint16(bad[14:], 4)

	buf := append(bad, good...)
	rec, n, err := DecodeDirRecord(buf)
	if err == nil {
		t.Fatal("expected a decode error for the malformed name")
	}
	if n != len(bad) {
		t.Fatalf("skip length: got %d, want %d", n, len(bad))
	}
	if rec.Size != 9 {
		t.Errorf("header fields should survive a name failure: %+v", rec)
	}

	rec, _, err = DecodeDirRecord(buf[n:])
	if err != nil {
		t.Fatalf("decode after skip: %v", err)
	}
	if rec.Name != "ok" {
		t.Errorf("got %q after skip", rec.Name)
	}
}

func TestDirentType(t *testing.T) {
	if got := DirentType(TypeDir | 0o755); got != TypeDir {
		t.Errorf("dir: got %o", got)
	}
	if got := DirentType(0o644); got != 0 {
		t.Errorf("typeless mode: got %o, want 0", got)
	}
}
