// Package hostfs implements the share host against a local directory tree.
// It backs the vsharefs-hostd daemon and doubles as an in-process gateway
// for end-to-end tests.
package hostfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/virtshare/vsharefs/internal/gateway"
	"github.com/virtshare/vsharefs/internal/shfl"
)

// DirChunkTarget is the size at which a listing buffer is cut and a new
// chunk started.
const DirChunkTarget = 64 << 10

// Host serves one or more local directories as shares.
type Host struct {
	logger *slog.Logger

	mu         sync.Mutex
	shares     map[string]*share
	roots      map[shfl.RootID]*share
	nextRoot   uint32
	handles    map[shfl.HandleID]*hostHandle
	nextHandle uint64
}

type share struct {
	name string
	root shfl.RootID
	dir  string
}

type hostHandle struct {
	f    *os.File
	root shfl.RootID
	dir  bool
}

var _ gateway.Gateway = (*Host)(nil)

// New returns an empty host.
func New(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		logger:  logger.With("component", "hostfs"),
		shares:  make(map[string]*share),
		roots:   make(map[shfl.RootID]*share),
		handles: make(map[shfl.HandleID]*hostHandle),
	}
}

// AddShare exports dir under name and returns its root id.
func (h *Host) AddShare(name, dir string) (shfl.RootID, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("share %q: %s is not a directory", name, abs)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.shares[name]; ok {
		return 0, fmt.Errorf("share %q already exported", name)
	}
	h.nextRoot++
	s := &share{name: name, root: shfl.RootID(h.nextRoot), dir: abs}
	h.shares[name] = s
	h.roots[s.root] = s
	h.logger.Info("share exported", "share", name, "dir", abs, "root", s.root)
	return s.root, nil
}

// Mount resolves a share name to its root id for a connecting session.
func (h *Host) Mount(session, name string) (shfl.RootID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.shares[name]
	if !ok {
		return 0, gateway.ErrNotFound
	}
	h.logger.Info("session mounted", "session", session, "share", name)
	return s.root, nil
}

// resolve maps a remote path to the local filesystem, refusing traversal
// outside the share.
func (h *Host) resolve(root shfl.RootID, path string) (string, error) {
	h.mu.Lock()
	s, ok := h.roots[root]
	h.mu.Unlock()
	if !ok {
		return "", gateway.ErrInvalid
	}
	if path == "" {
		return s.dir, nil
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: path %q", gateway.ErrInvalid, path)
		}
	}
	return filepath.Join(s.dir, filepath.FromSlash(path)), nil
}

func (h *Host) lookupHandle(root shfl.RootID, handle shfl.HandleID) (*hostHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hh, ok := h.handles[handle]
	if !ok || hh.root != root {
		return nil, gateway.ErrBadHandle
	}
	return hh, nil
}

func (h *Host) insertHandle(f *os.File, root shfl.RootID, dir bool) shfl.HandleID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextHandle++
	id := shfl.HandleID(h.nextHandle)
	h.handles[id] = &hostHandle{f: f, root: root, dir: dir}
	return id
}

// CreateOrOpen implements gateway.Gateway. Disposition outcomes that open
// nothing (exclusive-create collisions, fail-if-new misses) are reported as
// informational results with the nil handle, not as call failures.
func (h *Host) CreateOrOpen(ctx context.Context, root shfl.RootID, path string, parms *shfl.CreateParms) error {
	local, err := h.resolve(root, path)
	if err != nil {
		return err
	}

	parms.Handle = shfl.HandleNil
	parms.Result = shfl.ResultNone

	info, statErr := os.Lstat(local)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return mapOSError(statErr)
	}

	flags := parms.Flags
	if flags&shfl.CFDirectory != 0 {
		return h.openDirectory(local, root, parms, exists, info)
	}

	if exists && info.IsDir() {
		return gateway.ErrIsDir
	}

	accMode := os.O_RDONLY
	switch {
	case flags&CFAccessBoth == CFAccessBoth:
		accMode = os.O_RDWR
	case flags&shfl.CFAccessWrite != 0:
		accMode = os.O_WRONLY
	}

	osFlags := accMode
	var result shfl.CreateResult
	switch {
	case exists && flags&shfl.CFFailIfExists != 0:
		parms.Result = shfl.ResultExists
		parms.Info = fileInfoToObjInfo(info)
		return nil
	case exists && flags&shfl.CFOverwriteIfExists != 0:
		osFlags |= os.O_TRUNC
		result = shfl.ResultReplaced
	case exists:
		// Existing name without fail-if-exists always opens, whether or
		// not open-if-exists was set alongside fail-if-new.
		result = shfl.ResultExists
	case flags&shfl.CFCreateIfNew != 0:
		osFlags |= os.O_CREATE | os.O_EXCL
		result = shfl.ResultCreated
	default:
		// Fail-if-new (or no creation action at all): nothing to open.
		parms.Result = shfl.ResultNotFound
		return nil
	}

	f, err := os.OpenFile(local, osFlags, fs.FileMode(parms.Mode&0o777))
	if err != nil {
		return mapOSError(err)
	}
	fresh, err := f.Stat()
	if err != nil {
		f.Close()
		return mapOSError(err)
	}

	parms.Handle = h.insertHandle(f, root, false)
	parms.Result = result
	parms.Info = fileInfoToObjInfo(fresh)
	return nil
}

// CFAccessBoth is the combined read/write access mask.
const CFAccessBoth = shfl.CFAccessRead | shfl.CFAccessWrite

func (h *Host) openDirectory(local string, root shfl.RootID, parms *shfl.CreateParms, exists bool, info fs.FileInfo) error {
	switch {
	case exists && !info.IsDir():
		return gateway.ErrInvalid
	case exists && parms.Flags&shfl.CFFailIfExists != 0:
		parms.Result = shfl.ResultExists
		parms.Info = fileInfoToObjInfo(info)
		return nil
	case !exists && parms.Flags&shfl.CFCreateIfNew != 0:
		if err := os.Mkdir(local, fs.FileMode(parms.Mode&0o777)); err != nil {
			return mapOSError(err)
		}
		fresh, err := os.Lstat(local)
		if err != nil {
			return mapOSError(err)
		}
		f, err := os.Open(local)
		if err != nil {
			return mapOSError(err)
		}
		parms.Handle = h.insertHandle(f, root, true)
		parms.Result = shfl.ResultCreated
		parms.Info = fileInfoToObjInfo(fresh)
		return nil
	case !exists:
		parms.Result = shfl.ResultNotFound
		return nil
	}

	f, err := os.Open(local)
	if err != nil {
		return mapOSError(err)
	}
	parms.Handle = h.insertHandle(f, root, true)
	parms.Result = shfl.ResultExists
	parms.Info = fileInfoToObjInfo(info)
	return nil
}

// Close implements gateway.Gateway.
func (h *Host) Close(ctx context.Context, root shfl.RootID, handle shfl.HandleID) error {
	h.mu.Lock()
	hh, ok := h.handles[handle]
	if ok && hh.root == root {
		delete(h.handles, handle)
	}
	h.mu.Unlock()
	if !ok || hh.root != root {
		return gateway.ErrBadHandle
	}
	if err := hh.f.Close(); err != nil {
		return mapOSError(err)
	}
	return nil
}

// Read implements gateway.Gateway.
func (h *Host) Read(ctx context.Context, root shfl.RootID, handle shfl.HandleID, offset uint64, dst []byte) (int, error) {
	hh, err := h.lookupHandle(root, handle)
	if err != nil {
		return 0, err
	}
	if hh.dir {
		return 0, gateway.ErrIsDir
	}
	n, err := hh.f.ReadAt(dst, int64(offset))
	if err != nil && err != io.EOF {
		return n, mapOSError(err)
	}
	return n, nil
}

// Write implements gateway.Gateway.
func (h *Host) Write(ctx context.Context, root shfl.RootID, handle shfl.HandleID, offset uint64, data []byte) (int, error) {
	hh, err := h.lookupHandle(root, handle)
	if err != nil {
		return 0, err
	}
	if hh.dir {
		return 0, gateway.ErrIsDir
	}
	n, err := hh.f.WriteAt(data, int64(offset))
	if err != nil {
		return n, mapOSError(err)
	}
	return n, nil
}

// Remove implements gateway.Gateway.
func (h *Host) Remove(ctx context.Context, root shfl.RootID, path string, flags uint32) error {
	local, err := h.resolve(root, path)
	if err != nil {
		return err
	}
	info, err := os.Lstat(local)
	if err != nil {
		return mapOSError(err)
	}
	if flags&shfl.RemoveDir != 0 && !info.IsDir() {
		return gateway.ErrInvalid
	}
	if flags&shfl.RemoveDir == 0 && info.IsDir() {
		return gateway.ErrIsDir
	}
	if err := os.Remove(local); err != nil {
		return mapOSError(err)
	}
	return nil
}

// Rename implements gateway.Gateway.
func (h *Host) Rename(ctx context.Context, root shfl.RootID, oldPath, newPath string, flags uint32) error {
	oldLocal, err := h.resolve(root, oldPath)
	if err != nil {
		return err
	}
	newLocal, err := h.resolve(root, newPath)
	if err != nil {
		return err
	}
	if flags&shfl.RenameFile != 0 && flags&shfl.RenameReplaceIfExists == 0 {
		if _, err := os.Lstat(newLocal); err == nil {
			return gateway.ErrExists
		}
	}
	if err := os.Rename(oldLocal, newLocal); err != nil {
		return mapOSError(err)
	}
	return nil
}

// Symlink implements gateway.Gateway. Backends that cannot create symlinks
// report ErrNotSupported.
func (h *Host) Symlink(ctx context.Context, root shfl.RootID, path, target string) (*shfl.ObjInfo, error) {
	local, err := h.resolve(root, path)
	if err != nil {
		return nil, err
	}
	if len(target) > shfl.PathMax {
		return nil, gateway.ErrInvalid
	}
	if err := os.Symlink(target, local); err != nil {
		if isUnsupported(err) {
			return nil, gateway.ErrNotSupported
		}
		return nil, mapOSError(err)
	}
	info, err := os.Lstat(local)
	if err != nil {
		return nil, mapOSError(err)
	}
	obj := fileInfoToObjInfo(info)
	return &obj, nil
}

// Readlink implements gateway.Gateway.
func (h *Host) Readlink(ctx context.Context, root shfl.RootID, path string, maxLen uint32) (string, error) {
	local, err := h.resolve(root, path)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(local)
	if err != nil {
		return "", mapOSError(err)
	}
	if uint32(len(target)) > maxLen {
		return "", gateway.ErrInvalid
	}
	return target, nil
}

// ListDir implements gateway.Gateway. The whole listing is encoded in one
// call; records that fail to encode are dropped rather than aborting the
// listing.
func (h *Host) ListDir(ctx context.Context, root shfl.RootID, handle shfl.HandleID) ([]gateway.DirChunk, error) {
	hh, err := h.lookupHandle(root, handle)
	if err != nil {
		return nil, err
	}
	if !hh.dir {
		return nil, gateway.ErrInvalid
	}
	entries, err := os.ReadDir(hh.f.Name())
	if err != nil {
		return nil, mapOSError(err)
	}

	var chunks []gateway.DirChunk
	cur := gateway.DirChunk{}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		buf, err := shfl.AppendDirRecord(cur.Data, e.Name(), fileModeToShfl(info.Mode()), uint64(info.Size()))
		if err != nil {
			h.logger.Warn("listing entry dropped", "name", e.Name(), "error", err)
			continue
		}
		cur.Data = buf
		cur.Entries++
		if len(cur.Data) >= DirChunkTarget {
			chunks = append(chunks, cur)
			cur = gateway.DirChunk{}
		}
	}
	if cur.Entries > 0 {
		chunks = append(chunks, cur)
	}
	return chunks, nil
}

// Stat implements gateway.Gateway.
func (h *Host) Stat(ctx context.Context, root shfl.RootID, path string) (*shfl.ObjInfo, error) {
	local, err := h.resolve(root, path)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(local)
	if err != nil {
		return nil, mapOSError(err)
	}
	obj := fileInfoToObjInfo(info)
	return &obj, nil
}

func fileInfoToObjInfo(info fs.FileInfo) shfl.ObjInfo {
	mtime := info.ModTime().Unix()
	return shfl.ObjInfo{
		Size:  uint64(info.Size()),
		Mode:  fileModeToShfl(info.Mode()),
		Atime: mtime,
		Mtime: mtime,
		Ctime: mtime,
	}
}

func fileModeToShfl(fm fs.FileMode) uint32 {
	mode := uint32(fm.Perm())
	switch {
	case fm.IsDir():
		mode |= shfl.TypeDir
	case fm&fs.ModeSymlink != 0:
		mode |= shfl.TypeSymlink
	case fm&fs.ModeNamedPipe != 0:
		mode |= shfl.TypeFifo
	case fm&fs.ModeSocket != 0:
		mode |= shfl.TypeSocket
	case fm&fs.ModeCharDevice != 0:
		mode |= shfl.TypeDevChar
	case fm&fs.ModeDevice != 0:
		mode |= shfl.TypeDevBlock
	default:
		mode |= shfl.TypeFile
	}
	return mode
}

func isUnsupported(err error) bool {
	return errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOSYS) ||
		errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EOPNOTSUPP)
}

func mapOSError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return gateway.ErrNotFound
	case errors.Is(err, fs.ErrExist):
		return gateway.ErrExists
	case errors.Is(err, fs.ErrPermission):
		return gateway.ErrPermission
	case errors.Is(err, syscall.ENOTEMPTY):
		return gateway.ErrNotEmpty
	case errors.Is(err, syscall.EISDIR):
		return gateway.ErrIsDir
	case errors.Is(err, syscall.ENOTDIR), errors.Is(err, syscall.EINVAL):
		return gateway.ErrInvalid
	case errors.Is(err, syscall.EBADF):
		return gateway.ErrBadHandle
	default:
		return fmt.Errorf("%w: %v", gateway.ErrIO, err)
	}
}
