package fuse

import (
	"context"
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/virtshare/vsharefs/internal/gateway"
	"github.com/virtshare/vsharefs/internal/shfl"
)

// fileHandle is the per-open state for a regular file. It pins one remote
// handle for the lifetime of the open.
type fileHandle struct {
	node       *Node
	h          *handle
	appendMode bool
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileWriter   = (*fileHandle)(nil)
	_ fs.FileFlusher  = (*fileHandle)(nil)
	_ fs.FileFsyncer  = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
)

func (f *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if len(dest) == 0 {
		return fuse.ReadResultData(nil), 0
	}
	if len(dest) > shfl.MaxRWCount {
		dest = dest[:shfl.MaxRWCount]
	}
	got, err := f.node.share.gw.Read(ctx, f.h.root, f.h.id, uint64(off), dest)
	if err != nil {
		return nil, errnoFromErr(err)
	}
	return fuse.ReadResultData(dest[:got]), 0
}

// Write sends data at off through this handle. Append opens ignore the
// offset and write at the current end of file, which is revalidated first
// if stale. Any parked writeback pages overlapping the range are flushed
// before the write so the host sees updates in order.
func (f *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if len(data) == 0 {
		return 0, 0
	}
	if len(data) > shfl.MaxRWCount {
		data = data[:shfl.MaxRWCount]
	}

	pos := uint64(off)
	if f.appendMode {
		if f.node.restat.Load() {
			if err := f.node.revalidate(ctx); err != nil {
				return 0, errnoFromErr(err)
			}
		}
		pos = f.node.cachedSize()
	}

	if err := f.node.wb.flushRange(ctx, f.node, pos, len(data)); err != nil {
		return 0, errnoFromErr(err)
	}

	if !f.h.writable() {
		// Writeback arriving through a read-only descriptor. Borrow any
		// writable handle; a transport failure parks the page for retry
		// instead of losing it.
		err := f.node.pushPage(ctx, pos, data)
		if errors.Is(err, gateway.ErrBadHandle) {
			return 0, syscall.EBADF
		}
		if err != nil {
			f.node.wb.park(pos, data)
		}
		return uint32(len(data)), 0
	}

	written, err := f.node.share.gw.Write(ctx, f.h.root, f.h.id, pos, data)
	if err != nil {
		return 0, errnoFromErr(err)
	}

	f.node.extendSize(pos + uint64(written))
	f.node.restat.Store(true)
	// mapped readers of this range hold stale data now
	f.node.notifyContent(int64(pos), int64(written))
	return uint32(written), 0
}

func (f *fileHandle) Flush(ctx context.Context) syscall.Errno {
	if err := f.node.wb.flushAll(ctx, f.node); err != nil {
		return errnoFromErr(err)
	}
	return 0
}

// Fsync drains parked writeback pages. The host side does its own
// durability; there is no separate remote sync call.
func (f *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return f.Flush(ctx)
}

func (f *fileHandle) Release(ctx context.Context) syscall.Errno {
	if err := f.node.wb.flushAll(ctx, f.node); err != nil {
		f.node.share.logger.Warn("writeback drain on release failed",
			"path", f.node.remotePath(), "error", err)
	}
	f.node.releaseHandle(ctx, f.h)
	return 0
}
