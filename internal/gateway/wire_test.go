package gateway

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	xdr "github.com/rasky/go-xdr/xdr2"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	header := CallHeader{Seq: 9, Op: OpStat, Root: 3}
	body := StatReq{Path: []byte{1, 2, 3, 4}}
	if err := WriteFrame(&buf, &header, &body); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	frame, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	r := bytes.NewReader(frame)
	var gotHeader CallHeader
	if _, err := xdr.Unmarshal(r, &gotHeader); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if gotHeader != header {
		t.Errorf("header %+v, want %+v", gotHeader, header)
	}
	var gotBody StatReq
	if _, err := xdr.Unmarshal(r, &gotBody); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if !bytes.Equal(gotBody.Path, body.Path) {
		t.Errorf("body %v", gotBody)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxFrameLen+1)
	if _, err := ReadFrame(bytes.NewReader(prefix[:])); err == nil {
		t.Fatal("oversize frame accepted")
	}
	binary.BigEndian.PutUint32(prefix[:], 0)
	if _, err := ReadFrame(bytes.NewReader(prefix[:])); err == nil {
		t.Fatal("zero-length frame accepted")
	}
}

func TestStatusErrorMappingIsSymmetric(t *testing.T) {
	for _, sentinel := range []error{
		ErrNotFound, ErrExists, ErrNotSupported, ErrPermission,
		ErrInvalid, ErrBadHandle, ErrIsDir, ErrNotEmpty,
	} {
		status := ErrorToStatus(sentinel)
		if got := StatusToError(status); !errors.Is(got, sentinel) {
			t.Errorf("%v -> %d -> %v", sentinel, status, got)
		}
	}
	if StatusToError(StatusOK) != nil {
		t.Error("StatusOK should map to nil")
	}
	if ErrorToStatus(errors.New("opaque")) != StatusIO {
		t.Error("unknown errors should map to StatusIO")
	}
	if !errors.Is(StatusToError(StatusIO), ErrIO) {
		t.Error("StatusIO should map to ErrIO")
	}
}

func TestPathCodec(t *testing.T) {
	for _, p := range []string{"", "a", "dir/sub/ünïcode", "日本語/file"} {
		wire, err := EncodePath(p)
		if err != nil {
			t.Fatalf("EncodePath(%q): %v", p, err)
		}
		got, err := DecodePath(wire)
		if err != nil {
			t.Fatalf("DecodePath(%q): %v", p, err)
		}
		if got != p {
			t.Errorf("round trip %q -> %q", p, got)
		}
	}
}
