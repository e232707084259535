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

// Directory identities are fabricated from the stream position. The offset
// keeps position zero from producing inode number zero, which the kernel
// treats as "no entry".
const fakeInoOffset = 0xbeef

var (
	errDirStreamEnd = errors.New("end of directory stream")
	errDirSkipEntry = errors.New("skipping undecodable directory entry")
)

// dirBuffer is a frozen listing snapshot. Once captured it is never
// refreshed; reads at any position walk the same data.
type dirBuffer struct {
	chunks []gateway.DirChunk
}

// snapshotDir opens the directory, captures the full listing and closes
// the remote handle again. No handle outlives the snapshot.
func (n *Node) snapshotDir(ctx context.Context) (*dirBuffer, error) {
	parms := shfl.NewCreateParms(
		shfl.CFDirectory|shfl.CFOpenIfExists|shfl.CFFailIfNew|shfl.CFAccessRead,
		0,
	)
	if err := n.share.gw.CreateOrOpen(ctx, n.share.root, n.remotePath(), parms); err != nil {
		return nil, err
	}
	if parms.Handle == shfl.HandleNil {
		return nil, gateway.ErrNotFound
	}
	if parms.Result != shfl.ResultExists {
		_ = n.share.gw.Close(ctx, n.share.root, parms.Handle)
		return nil, gateway.ErrNotFound
	}

	chunks, err := n.share.gw.ListDir(ctx, n.share.root, parms.Handle)
	if cerr := n.share.gw.Close(ctx, n.share.root, parms.Handle); cerr != nil {
		n.share.logger.Warn("closing listing handle failed",
			"path", n.remotePath(), "error", cerr)
	}
	if err != nil {
		return nil, err
	}
	return &dirBuffer{chunks: chunks}, nil
}

// entryAt walks the snapshot to the record at stream position pos. An
// undecodable record whose length is still known returns errDirSkipEntry
// so the caller can advance past it; a truncated record ends the stream.
func (b *dirBuffer) entryAt(pos uint64) (shfl.DirRecord, error) {
	remaining := pos
	for _, chunk := range b.chunks {
		if remaining >= uint64(chunk.Entries) {
			remaining -= uint64(chunk.Entries)
			continue
		}
		data := chunk.Data
		for {
			rec, size, err := shfl.DecodeDirRecord(data)
			if size == 0 {
				return shfl.DirRecord{}, errDirStreamEnd
			}
			if remaining == 0 {
				if err != nil {
					return shfl.DirRecord{}, errDirSkipEntry
				}
				return rec, nil
			}
			data = data[size:]
			remaining--
		}
	}
	return shfl.DirRecord{}, errDirStreamEnd
}

// dirHandle walks a frozen snapshot. Position is just an index into the
// snapshot, so seeking backwards or re-reading needs no remote traffic.
type dirHandle struct {
	node *Node
	buf  *dirBuffer
	pos  uint64
}

var (
	_ fs.FileReaddirenter = (*dirHandle)(nil)
	_ fs.FileSeekdirer    = (*dirHandle)(nil)
	_ fs.FileReleasedirer = (*dirHandle)(nil)
	_ fs.FileFsyncdirer   = (*dirHandle)(nil)
)

// OpendirHandle captures the listing snapshot this open will serve.
func (n *Node) OpendirHandle(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	buf, err := n.snapshotDir(ctx)
	if err != nil {
		return nil, 0, errnoFromErr(err)
	}
	return &dirHandle{node: n, buf: buf}, 0, 0
}

func (d *dirHandle) Readdirent(ctx context.Context) (*fuse.DirEntry, syscall.Errno) {
	for {
		ino := d.pos + fakeInoOffset
		if ino < d.pos {
			return nil, syscall.EINVAL
		}

		rec, err := d.buf.entryAt(d.pos)
		if errors.Is(err, errDirStreamEnd) {
			return nil, 0
		}
		if errors.Is(err, errDirSkipEntry) {
			d.pos++
			continue
		}
		d.pos++
		return &fuse.DirEntry{
			Name: rec.Name,
			Mode: shfl.DirentType(rec.Mode),
			Ino:  ino,
			Off:  d.pos,
		}, 0
	}
}

func (d *dirHandle) Seekdir(ctx context.Context, off uint64) syscall.Errno {
	d.pos = off
	return 0
}

func (d *dirHandle) Releasedir(ctx context.Context, flags uint32) {}

func (d *dirHandle) Fsyncdir(ctx context.Context, flags uint32) syscall.Errno { return 0 }
