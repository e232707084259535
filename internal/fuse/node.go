package fuse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/virtshare/vsharefs/internal/gateway"
	"github.com/virtshare/vsharefs/internal/shfl"
)

// Node represents one remote object. Cached attributes are only trusted
// while the restat flag is clear; every operation that can change remote
// state sets it, and the next attribute read performs a fresh remote stat.
type Node struct {
	fs.Inode

	share *Share

	mu    sync.Mutex
	attrs shfl.ObjInfo

	// restat is the "must re-stat" flag. Redundant stores are harmless; it
	// only has to reach true before the next revalidation.
	restat atomic.Bool

	handles handleSet
	wb      writebackTracker
}

var (
	_ fs.NodeLookuper       = (*Node)(nil)
	_ fs.NodeGetattrer      = (*Node)(nil)
	_ fs.NodeOpener         = (*Node)(nil)
	_ fs.NodeCreater        = (*Node)(nil)
	_ fs.NodeMkdirer        = (*Node)(nil)
	_ fs.NodeUnlinker       = (*Node)(nil)
	_ fs.NodeRmdirer        = (*Node)(nil)
	_ fs.NodeRenamer        = (*Node)(nil)
	_ fs.NodeSymlinker      = (*Node)(nil)
	_ fs.NodeReadlinker     = (*Node)(nil)
	_ fs.NodeOpendirHandler = (*Node)(nil)
)

func (n *Node) remotePath() string { return n.Path(nil) }

// SetServer hands the mounted server to the share. Called once after the
// mount succeeds.
func (n *Node) SetServer(srv *fuse.Server) { n.share.SetServer(srv) }

// notifyContent invalidates kernel pages over the written range. Before the
// mount is up there is nothing to invalidate.
func (n *Node) notifyContent(off, sz int64) {
	srv := n.share.server.Load()
	if srv == nil {
		return
	}
	srv.InodeNotify(n.StableAttr().Ino, off, sz)
}

// childPath validates name as a single component and appends it to this
// node's remote path.
func (n *Node) childPath(name string) (string, error) {
	if _, err := shfl.JoinPath(name); err != nil {
		return "", err
	}
	parent := n.remotePath()
	if parent == "" {
		return name, nil
	}
	if len(parent)+1+len(name) > shfl.PathMax {
		return "", shfl.ErrNameTooLong
	}
	return parent + "/" + name, nil
}

func (n *Node) setAttrs(info shfl.ObjInfo) {
	n.mu.Lock()
	n.attrs = info
	n.mu.Unlock()
}

func (n *Node) cachedAttrs() shfl.ObjInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attrs
}

func (n *Node) cachedSize() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attrs.Size
}

// extendSize grows the tracked size after a write past the current end.
func (n *Node) extendSize(end uint64) {
	n.mu.Lock()
	if end > n.attrs.Size {
		n.attrs.Size = end
	}
	n.mu.Unlock()
}

func (n *Node) fillAttr(out *fuse.Attr) {
	info := n.cachedAttrs()
	out.Size = info.Size
	out.Mode = info.Mode
	out.Atime = uint64(info.Atime)
	out.Mtime = uint64(info.Mtime)
	out.Ctime = uint64(info.Ctime)
	out.Nlink = 1
}

// revalidate performs a fresh remote stat and clears the restat flag.
// Cached attributes are never trusted on age alone; the host side can be
// modified out of band at any time.
func (n *Node) revalidate(ctx context.Context) error {
	path := n.remotePath()
	_, err, _ := n.share.reval.Do(path, func() (interface{}, error) {
		info, err := n.share.gw.Stat(ctx, n.share.root, path)
		if err != nil {
			return nil, err
		}
		n.setAttrs(*info)
		n.restat.Store(false)
		return nil, nil
	})
	return err
}

// instantiate builds the child inode for a freshly created or resolved
// object. forceRestat is set after creations: the host may have granted
// different attributes than requested.
func (n *Node) instantiate(ctx context.Context, name string, info *shfl.ObjInfo, forceRestat bool, out *fuse.EntryOut) (*fs.Inode, *Node) {
	if existing := n.GetChild(name); existing != nil {
		if en, ok := existing.Operations().(*Node); ok && existing.StableAttr().Mode == info.Mode&shfl.TypeMask {
			en.setAttrs(*info)
			en.restat.Store(forceRestat)
			en.fillAttr(&out.Attr)
			return existing, en
		}
	}
	child := &Node{share: n.share}
	child.attrs = *info
	child.restat.Store(forceRestat)
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: info.Mode & shfl.TypeMask})
	child.fillAttr(&out.Attr)
	return inode, child
}

// Lookup resolves name under this directory with a fresh remote stat. A
// not-found answer is the valid negative result, not a failure.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path, err := n.childPath(name)
	if err != nil {
		return nil, errnoFromErr(err)
	}
	info, err := n.share.gw.Stat(ctx, n.share.root, path)
	if err != nil {
		return nil, errnoFromErr(err)
	}
	inode, _ := n.instantiate(ctx, name, info, false, out)
	return inode, 0
}

// Getattr serves cached attributes unless the restat flag demands a fresh
// stat first.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if n.restat.Load() {
		if err := n.revalidate(ctx); err != nil {
			return errnoFromErr(err)
		}
	}
	n.fillAttr(&out.Attr)
	return 0
}

// Create performs an exclusive create. The caller already resolved that the
// name is free, so any disposition other than "created" means we lost a
// race and the creation is refused.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	path, err := n.childPath(name)
	if err != nil {
		return nil, nil, 0, errnoFromErr(err)
	}

	parms := shfl.NewCreateParms(
		shfl.CFCreateIfNew|shfl.CFFailIfExists|shfl.CFAccessReadWrite,
		shfl.TypeFile|(mode&0o777),
	)
	if err := n.share.gw.CreateOrOpen(ctx, n.share.root, path, parms); err != nil {
		return nil, nil, 0, errnoFromErr(err)
	}
	if parms.Result != shfl.ResultCreated {
		if parms.Handle != shfl.HandleNil {
			_ = n.share.gw.Close(ctx, n.share.root, parms.Handle)
		}
		return nil, nil, 0, syscall.EPERM
	}
	if parms.Handle == shfl.HandleNil {
		return nil, nil, 0, syscall.ENOENT
	}

	inode, child := n.instantiate(ctx, name, &parms.Info, true, out)
	h := &handle{id: parms.Handle, root: n.share.root, access: shfl.CFAccessReadWrite}
	child.handles.add(h)

	// parent directory access/change time changed
	n.restat.Store(true)

	fh := &fileHandle{node: child, h: h, appendMode: flags&uint32(syscall.O_APPEND) != 0}
	return inode, fh, 0, 0
}

// Mkdir creates a directory with exclusive semantics; the creation handle
// is not retained.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path, err := n.childPath(name)
	if err != nil {
		return nil, errnoFromErr(err)
	}

	parms := shfl.NewCreateParms(
		shfl.CFDirectory|shfl.CFCreateIfNew|shfl.CFFailIfExists|shfl.CFAccessReadWrite,
		shfl.TypeDir|(mode&0o777),
	)
	if err := n.share.gw.CreateOrOpen(ctx, n.share.root, path, parms); err != nil {
		return nil, errnoFromErr(err)
	}
	if parms.Handle != shfl.HandleNil {
		_ = n.share.gw.Close(ctx, n.share.root, parms.Handle)
	}
	if parms.Result != shfl.ResultCreated {
		return nil, syscall.EPERM
	}

	inode, _ := n.instantiate(ctx, name, &parms.Info, true, out)
	n.restat.Store(true)
	return inode, 0
}

func (n *Node) removeChild(ctx context.Context, name string, dir bool) syscall.Errno {
	path, err := n.childPath(name)
	if err != nil {
		return errnoFromErr(err)
	}

	flags := shfl.RemoveFile
	if dir {
		flags = shfl.RemoveDir
	}
	if child := n.GetChild(name); child != nil {
		if cn, ok := child.Operations().(*Node); ok && cn.cachedAttrs().IsSymlink() {
			flags |= shfl.RemoveSymlink
		}
	}

	if err := n.share.gw.Remove(ctx, n.share.root, path, flags); err != nil {
		return errnoFromErr(err)
	}
	n.restat.Store(true)
	return 0
}

// Unlink removes a file or symlink.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.removeChild(ctx, name, false)
}

// Rmdir removes a directory.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.removeChild(ctx, name, true)
}

// Rename moves name into newParent. The replace-if-exists flag set is
// file-only; directories rename with an empty flag word. Renames across
// different shares are rejected before any remote call.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		return syscall.EINVAL
	}
	np, ok := newParent.(*Node)
	if !ok || np.share != n.share {
		return syscall.EINVAL
	}

	oldPath, err := n.childPath(name)
	if err != nil {
		return errnoFromErr(err)
	}
	newPath, err := np.childPath(newName)
	if err != nil {
		return errnoFromErr(err)
	}

	shflFlags := shfl.RenameFile | shfl.RenameReplaceIfExists
	if child := n.GetChild(name); child != nil && child.IsDir() {
		shflFlags = 0
	}

	if err := n.share.gw.Rename(ctx, n.share.root, oldPath, newPath, shflFlags); err != nil {
		return errnoFromErr(err)
	}

	// both parent directories' access/change times changed
	n.restat.Store(true)
	np.restat.Store(true)
	return 0
}

// Symlink creates a link carrying the literal target text. Symlink support
// is host-dependent; an unsupported answer surfaces as EPERM.
func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path, err := n.childPath(name)
	if err != nil {
		return nil, errnoFromErr(err)
	}

	info, err := n.share.gw.Symlink(ctx, n.share.root, path, target)
	if err != nil {
		if errors.Is(err, gateway.ErrNotSupported) {
			return nil, syscall.EPERM
		}
		return nil, errnoFromErr(err)
	}

	inode, _ := n.instantiate(ctx, name, info, true, out)
	n.restat.Store(true)
	return inode, 0
}

// Readlink fetches the target text from the host.
func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.share.gw.Readlink(ctx, n.share.root, n.remotePath(), shfl.PathMax)
	if err != nil {
		return nil, errnoFromErr(err)
	}
	return []byte(target), 0
}

// Open opens this file on the host. The combined create/open call does not
// cleanly separate errors from informational outcomes: a nil sentinel
// handle despite overall success means nothing was opened, and the real
// error is re-derived from the disposition result.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	parms, access := openParms(flags, n.cachedAttrs().Mode)
	if err := n.share.gw.CreateOrOpen(ctx, n.share.root, n.remotePath(), parms); err != nil {
		return nil, 0, errnoFromErr(err)
	}
	if parms.Handle == shfl.HandleNil {
		if parms.Result == shfl.ResultExists {
			return nil, 0, syscall.EEXIST
		}
		return nil, 0, syscall.ENOENT
	}

	// the host may have granted different attributes than requested
	n.restat.Store(true)

	h := &handle{id: parms.Handle, root: n.share.root, access: access}
	n.handles.add(h)
	return &fileHandle{node: n, h: h, appendMode: flags&uint32(syscall.O_APPEND) != 0}, 0, 0
}

// openParms translates open(2) flags into a create disposition plus the
// access flags recorded on the handle.
func openParms(flags uint32, mode uint32) (*shfl.CreateParms, shfl.CreateFlags) {
	var cf shfl.CreateFlags
	if flags&uint32(syscall.O_CREAT) != 0 {
		cf |= shfl.CFCreateIfNew
		if flags&uint32(syscall.O_TRUNC) != 0 {
			cf |= shfl.CFOverwriteIfExists
		} else {
			cf |= shfl.CFOpenIfExists
		}
	} else {
		cf |= shfl.CFFailIfNew
		if flags&uint32(syscall.O_TRUNC) != 0 {
			cf |= shfl.CFOverwriteIfExists
		}
	}

	switch flags & uint32(syscall.O_ACCMODE) {
	case uint32(syscall.O_RDONLY):
		cf |= shfl.CFAccessRead
	case uint32(syscall.O_WRONLY):
		cf |= shfl.CFAccessWrite
	case uint32(syscall.O_RDWR):
		cf |= shfl.CFAccessReadWrite
	}
	if flags&uint32(syscall.O_APPEND) != 0 {
		cf |= shfl.CFAccessAppend
	}

	access := cf & (shfl.CFAccessReadWrite | shfl.CFAccessAppend)
	return shfl.NewCreateParms(cf, mode), access
}
