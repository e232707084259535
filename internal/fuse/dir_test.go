package fuse

import (
	"context"
	"encoding/binary"
	"math"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/virtshare/vsharefs/internal/gateway"
	"github.com/virtshare/vsharefs/internal/shfl"
)

func listingChunk(t *testing.T, names []string, modes []uint32) gateway.DirChunk {
	t.Helper()
	var data []byte
	var err error
	for i, name := range names {
		data, err = shfl.AppendDirRecord(data, name, modes[i], 0)
		if err != nil {
			t.Fatalf("append %q: %v", name, err)
		}
	}
	return gateway.DirChunk{Entries: uint32(len(names)), Data: data}
}

// One open takes one snapshot: the listing is fetched through a transient
// remote handle that is closed again before the first entry is served, and
// every read at every position afterwards walks the frozen data with no
// further remote traffic.
func TestDirSnapshotFrozen(t *testing.T) {
	var calls, closes atomic.Int32
	gw := &mockGateway{t: t}
	gw.createOrOpen = func(_ context.Context, _ shfl.RootID, _ string, parms *shfl.CreateParms) error {
		calls.Add(1)
		parms.Handle = 77
		parms.Result = shfl.ResultExists
		return nil
	}
	gw.listDir = func(_ context.Context, _ shfl.RootID, h shfl.HandleID) ([]gateway.DirChunk, error) {
		calls.Add(1)
		if h != 77 {
			t.Errorf("listed handle %d", h)
		}
		return []gateway.DirChunk{
			listingChunk(t, []string{"a"}, []uint32{shfl.TypeFile | 0o644}),
			listingChunk(t, []string{"b"}, []uint32{shfl.TypeDir | 0o755}),
		}, nil
	}
	gw.closeFn = func(_ context.Context, _ shfl.RootID, h shfl.HandleID) error {
		closes.Add(1)
		if h != 77 {
			t.Errorf("closed handle %d", h)
		}
		return nil
	}

	n := testNode(t, gw)
	fh, _, errno := n.OpendirHandle(context.Background(), 0)
	if errno != 0 {
		t.Fatalf("opendir: %v", errno)
	}
	d := fh.(*dirHandle)
	if closes.Load() != 1 {
		t.Fatal("listing handle not closed after snapshot")
	}

	want := []struct {
		name string
		mode uint32
	}{
		{"a", shfl.TypeFile},
		{"b", shfl.TypeDir},
	}
	for i, w := range want {
		e, errno := d.Readdirent(context.Background())
		if errno != 0 || e == nil {
			t.Fatalf("entry %d: %v, %v", i, e, errno)
		}
		if e.Name != w.name || e.Mode != w.mode {
			t.Errorf("entry %d: %q mode %o", i, e.Name, e.Mode)
		}
		if e.Ino != uint64(i)+fakeInoOffset {
			t.Errorf("entry %d: ino %#x", i, e.Ino)
		}
		if e.Off != uint64(i)+1 {
			t.Errorf("entry %d: off %d", i, e.Off)
		}
	}
	if e, errno := d.Readdirent(context.Background()); e != nil || errno != 0 {
		t.Fatalf("expected end of stream, got %v, %v", e, errno)
	}

	// rewinding and re-reading serves the same snapshot
	if errno := d.Seekdir(context.Background(), 0); errno != 0 {
		t.Fatalf("seekdir: %v", errno)
	}
	e, errno := d.Readdirent(context.Background())
	if errno != 0 || e == nil || e.Name != "a" {
		t.Fatalf("re-read: %v, %v", e, errno)
	}

	if calls.Load() != 2 {
		t.Errorf("%d remote calls, want exactly open+list", calls.Load())
	}
	d.Releasedir(context.Background(), 0)
}

// Opening a position whose fabricated identity would wrap reports EINVAL
// rather than serving a colliding number.
func TestReaddirentInoOverflow(t *testing.T) {
	d := &dirHandle{buf: &dirBuffer{}}
	if errno := d.Seekdir(context.Background(), math.MaxUint64-0x10); errno != 0 {
		t.Fatalf("seekdir: %v", errno)
	}
	if _, errno := d.Readdirent(context.Background()); errno != syscall.EINVAL {
		t.Fatalf("got %v, want EINVAL", errno)
	}
}

// Records whose names cannot be decoded are stepped over; the walk keeps
// its position and the surrounding entries still come out.
func TestReaddirentSkipsUndecodable(t *testing.T) {
	good, err := shfl.AppendDirRecord(nil, "first", shfl.TypeFile|0o644, 0)
	if err != nil {
		t.Fatal(err)
	}
	bad := make([]byte, shfl.DirRecordHeaderLen+4)
	binary.LittleEndian.PutUint16(bad[12:], 3)
	binary.LittleEndian.PutUint16(bad[14:], 4)
	data, err := shfl.AppendDirRecord(append(good, bad...), "last", shfl.TypeFile|0o644, 0)
	if err != nil {
		t.Fatal(err)
	}

	d := &dirHandle{buf: &dirBuffer{chunks: []gateway.DirChunk{{Entries: 3, Data: data}}}}

	var names []string
	for {
		e, errno := d.Readdirent(context.Background())
		if errno != 0 {
			t.Fatalf("readdirent: %v", errno)
		}
		if e == nil {
			break
		}
		names = append(names, e.Name)
	}
	if len(names) != 2 || names[0] != "first" || names[1] != "last" {
		t.Fatalf("names %v", names)
	}
}

// A directory that vanished between lookup and open surfaces ENOENT; a
// handle the host opened regardless is closed, not leaked.
func TestOpendirGoneDirectory(t *testing.T) {
	var closes atomic.Int32
	gw := &mockGateway{t: t}
	gw.createOrOpen = func(_ context.Context, _ shfl.RootID, _ string, parms *shfl.CreateParms) error {
		parms.Handle = 5
		parms.Result = shfl.ResultNotFound
		return nil
	}
	gw.closeFn = func(context.Context, shfl.RootID, shfl.HandleID) error {
		closes.Add(1)
		return nil
	}

	n := testNode(t, gw)
	if _, _, errno := n.OpendirHandle(context.Background(), 0); errno != syscall.ENOENT {
		t.Fatalf("got %v, want ENOENT", errno)
	}
	if closes.Load() != 1 {
		t.Errorf("stray handle closed %d times, want 1", closes.Load())
	}
}
