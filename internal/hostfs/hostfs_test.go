package hostfs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/virtshare/vsharefs/internal/gateway"
	"github.com/virtshare/vsharefs/internal/shfl"
)

func testHost(t *testing.T) (*Host, shfl.RootID, string) {
	t.Helper()
	dir := t.TempDir()
	h := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	root, err := h.AddShare("scratch", dir)
	if err != nil {
		t.Fatalf("AddShare: %v", err)
	}
	return h, root, dir
}

func TestMountResolvesShare(t *testing.T) {
	h, root, _ := testHost(t)
	got, err := h.Mount("session-1", "scratch")
	if err != nil || got != root {
		t.Fatalf("Mount: %v, %v", got, err)
	}
	if _, err := h.Mount("session-1", "absent"); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("unknown share: %v", err)
	}
}

func TestCreateDispositions(t *testing.T) {
	h, root, dir := testHost(t)
	ctx := context.Background()

	// exclusive create of a fresh name
	parms := shfl.NewCreateParms(shfl.CFCreateIfNew|shfl.CFFailIfExists|shfl.CFAccessReadWrite, shfl.TypeFile|0o644)
	if err := h.CreateOrOpen(ctx, root, "new.txt", parms); err != nil {
		t.Fatalf("create: %v", err)
	}
	if parms.Result != shfl.ResultCreated || parms.Handle == shfl.HandleNil {
		t.Fatalf("create: result %v handle %d", parms.Result, parms.Handle)
	}
	if err := h.Close(ctx, root, parms.Handle); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.txt")); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	// exclusive create against a taken name reports informationally
	parms = shfl.NewCreateParms(shfl.CFCreateIfNew|shfl.CFFailIfExists|shfl.CFAccessReadWrite, shfl.TypeFile|0o644)
	if err := h.CreateOrOpen(ctx, root, "new.txt", parms); err != nil {
		t.Fatalf("collision: unexpected error %v", err)
	}
	if parms.Result != shfl.ResultExists || parms.Handle != shfl.HandleNil {
		t.Fatalf("collision: result %v handle %d", parms.Result, parms.Handle)
	}

	// fail-if-new against a missing name likewise
	parms = shfl.NewCreateParms(shfl.CFFailIfNew|shfl.CFAccessRead, 0)
	if err := h.CreateOrOpen(ctx, root, "missing.txt", parms); err != nil {
		t.Fatalf("miss: unexpected error %v", err)
	}
	if parms.Result != shfl.ResultNotFound || parms.Handle != shfl.HandleNil {
		t.Fatalf("miss: result %v handle %d", parms.Result, parms.Handle)
	}

	// plain open of an existing name hands back a live handle
	parms = shfl.NewCreateParms(shfl.CFFailIfNew|shfl.CFAccessRead, 0)
	if err := h.CreateOrOpen(ctx, root, "new.txt", parms); err != nil {
		t.Fatalf("open: %v", err)
	}
	if parms.Result != shfl.ResultExists || parms.Handle == shfl.HandleNil {
		t.Fatalf("open: result %v handle %d", parms.Result, parms.Handle)
	}
	if err := h.Close(ctx, root, parms.Handle); err != nil {
		t.Fatalf("close opened: %v", err)
	}

	// overwrite truncates
	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
	parms = shfl.NewCreateParms(shfl.CFFailIfNew|shfl.CFOverwriteIfExists|shfl.CFAccessReadWrite, 0o644)
	if err := h.CreateOrOpen(ctx, root, "new.txt", parms); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if parms.Result != shfl.ResultReplaced || parms.Info.Size != 0 {
		t.Fatalf("overwrite: result %v size %d", parms.Result, parms.Info.Size)
	}
	h.Close(ctx, root, parms.Handle)
}

func TestReadWriteRoundTrip(t *testing.T) {
	h, root, _ := testHost(t)
	ctx := context.Background()

	parms := shfl.NewCreateParms(shfl.CFCreateIfNew|shfl.CFFailIfExists|shfl.CFAccessReadWrite, shfl.TypeFile|0o644)
	if err := h.CreateOrOpen(ctx, root, "data.bin", parms); err != nil {
		t.Fatalf("create: %v", err)
	}
	defer h.Close(ctx, root, parms.Handle)

	if n, err := h.Write(ctx, root, parms.Handle, 2, []byte("xyz")); err != nil || n != 3 {
		t.Fatalf("write: %d, %v", n, err)
	}
	dst := make([]byte, 16)
	n, err := h.Read(ctx, root, parms.Handle, 0, dst)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 5 || string(dst[2:5]) != "xyz" {
		t.Fatalf("read %d bytes: %q", n, dst[:n])
	}
}

func TestRemoveFlagTypeMismatch(t *testing.T) {
	h, root, dir := testHost(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "f"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "d"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := h.Remove(ctx, root, "f", shfl.RemoveDir); !errors.Is(err, gateway.ErrInvalid) {
		t.Errorf("dir flag on file: %v", err)
	}
	if err := h.Remove(ctx, root, "d", shfl.RemoveFile); !errors.Is(err, gateway.ErrIsDir) {
		t.Errorf("file flag on dir: %v", err)
	}
	if err := h.Remove(ctx, root, "f", shfl.RemoveFile); err != nil {
		t.Errorf("remove file: %v", err)
	}
	if err := h.Remove(ctx, root, "d", shfl.RemoveDir); err != nil {
		t.Errorf("remove dir: %v", err)
	}
}

// Without the replace flag a file rename onto a taken name is refused.
func TestRenameReplaceSemantics(t *testing.T) {
	h, root, dir := testHost(t)
	ctx := context.Background()

	for _, name := range []string{"src", "dst"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.Rename(ctx, root, "src", "dst", shfl.RenameFile); !errors.Is(err, gateway.ErrExists) {
		t.Fatalf("no-replace onto taken name: %v", err)
	}
	if err := h.Rename(ctx, root, "src", "dst", shfl.RenameFile|shfl.RenameReplaceIfExists); err != nil {
		t.Fatalf("replace: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "dst"))
	if err != nil || string(data) != "src" {
		t.Fatalf("dst content %q, %v", data, err)
	}
}

func TestListDirEncodesEntries(t *testing.T) {
	h, root, dir := testHost(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "b"), 0o755); err != nil {
		t.Fatal(err)
	}

	parms := shfl.NewCreateParms(shfl.CFDirectory|shfl.CFOpenIfExists|shfl.CFFailIfNew|shfl.CFAccessRead, 0)
	if err := h.CreateOrOpen(ctx, root, "", parms); err != nil {
		t.Fatalf("open root: %v", err)
	}
	defer h.Close(ctx, root, parms.Handle)
	if parms.Result != shfl.ResultExists {
		t.Fatalf("open root: result %v", parms.Result)
	}

	chunks, err := h.ListDir(ctx, root, parms.Handle)
	if err != nil {
		t.Fatalf("listdir: %v", err)
	}

	got := map[string]uint32{}
	for _, c := range chunks {
		data := c.Data
		for len(data) > 0 {
			rec, n, err := shfl.DecodeDirRecord(data)
			if n == 0 {
				break
			}
			if err == nil {
				got[rec.Name] = rec.Mode & shfl.TypeMask
			}
			data = data[n:]
		}
	}
	if got["a"] != shfl.TypeFile || got["b"] != shfl.TypeDir {
		t.Fatalf("listing %v", got)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	h, root, _ := testHost(t)
	ctx := context.Background()

	for _, bad := range []string{"..", "a/../b", "a//b", "."} {
		if _, err := h.Stat(ctx, root, bad); !errors.Is(err, gateway.ErrInvalid) {
			t.Errorf("Stat(%q): %v", bad, err)
		}
	}
}

func TestSymlinkRoundTrip(t *testing.T) {
	h, root, _ := testHost(t)
	ctx := context.Background()

	info, err := h.Symlink(ctx, root, "ln", "target/file")
	if errors.Is(err, gateway.ErrNotSupported) {
		t.Skip("backend cannot create symlinks")
	}
	if err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if !info.IsSymlink() {
		t.Errorf("mode %o", info.Mode)
	}
	target, err := h.Readlink(ctx, root, "ln", shfl.PathMax)
	if err != nil || target != "target/file" {
		t.Fatalf("readlink: %q, %v", target, err)
	}
}
