package gateway

import (
	"context"
	"time"

	"github.com/virtshare/vsharefs/internal/metrics"
	"github.com/virtshare/vsharefs/internal/shfl"
)

// Instrumented decorates a Gateway with per-op Prometheus accounting.
type Instrumented struct {
	next Gateway
}

var _ Gateway = (*Instrumented)(nil)

// Instrument wraps gw.
func Instrument(gw Gateway) *Instrumented {
	return &Instrumented{next: gw}
}

func (g *Instrumented) CreateOrOpen(ctx context.Context, root shfl.RootID, path string, parms *shfl.CreateParms) error {
	start := time.Now()
	err := g.next.CreateOrOpen(ctx, root, path, parms)
	metrics.ObserveRemoteCall("create_or_open", start, err)
	if err == nil && parms.Handle != shfl.HandleNil {
		metrics.HandleOpened()
	}
	return err
}

func (g *Instrumented) Close(ctx context.Context, root shfl.RootID, handle shfl.HandleID) error {
	start := time.Now()
	err := g.next.Close(ctx, root, handle)
	metrics.ObserveRemoteCall("close", start, err)
	if err == nil {
		metrics.HandleClosed()
	}
	return err
}

func (g *Instrumented) Read(ctx context.Context, root shfl.RootID, handle shfl.HandleID, offset uint64, dst []byte) (int, error) {
	start := time.Now()
	n, err := g.next.Read(ctx, root, handle, offset, dst)
	metrics.ObserveRemoteCall("read", start, err)
	metrics.AddBytesRead(n)
	return n, err
}

func (g *Instrumented) Write(ctx context.Context, root shfl.RootID, handle shfl.HandleID, offset uint64, data []byte) (int, error) {
	start := time.Now()
	n, err := g.next.Write(ctx, root, handle, offset, data)
	metrics.ObserveRemoteCall("write", start, err)
	metrics.AddBytesWritten(n)
	return n, err
}

func (g *Instrumented) Remove(ctx context.Context, root shfl.RootID, path string, flags uint32) error {
	start := time.Now()
	err := g.next.Remove(ctx, root, path, flags)
	metrics.ObserveRemoteCall("remove", start, err)
	return err
}

func (g *Instrumented) Rename(ctx context.Context, root shfl.RootID, oldPath, newPath string, flags uint32) error {
	start := time.Now()
	err := g.next.Rename(ctx, root, oldPath, newPath, flags)
	metrics.ObserveRemoteCall("rename", start, err)
	return err
}

func (g *Instrumented) Symlink(ctx context.Context, root shfl.RootID, path, target string) (*shfl.ObjInfo, error) {
	start := time.Now()
	info, err := g.next.Symlink(ctx, root, path, target)
	metrics.ObserveRemoteCall("symlink", start, err)
	return info, err
}

func (g *Instrumented) Readlink(ctx context.Context, root shfl.RootID, path string, maxLen uint32) (string, error) {
	start := time.Now()
	target, err := g.next.Readlink(ctx, root, path, maxLen)
	metrics.ObserveRemoteCall("readlink", start, err)
	return target, err
}

func (g *Instrumented) ListDir(ctx context.Context, root shfl.RootID, handle shfl.HandleID) ([]DirChunk, error) {
	start := time.Now()
	chunks, err := g.next.ListDir(ctx, root, handle)
	metrics.ObserveRemoteCall("list_dir", start, err)
	return chunks, err
}

func (g *Instrumented) Stat(ctx context.Context, root shfl.RootID, path string) (*shfl.ObjInfo, error) {
	start := time.Now()
	info, err := g.next.Stat(ctx, root, path)
	metrics.ObserveRemoteCall("stat", start, err)
	return info, err
}
