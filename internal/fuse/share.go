// Package fuse implements the guest-side filesystem over a mounted share:
// it translates FUSE callbacks into remote calls through the gateway and
// reconciles the host's authoritative state with local caching.
package fuse

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sync/singleflight"

	"github.com/virtshare/vsharefs/internal/gateway"
	"github.com/virtshare/vsharefs/internal/shfl"
)

// Share is the per-mount state every node hangs off: the gateway, the remote
// root and the revalidation collapser.
type Share struct {
	gw     gateway.Gateway
	root   shfl.RootID
	logger *slog.Logger

	// Concurrent revalidations of the same path collapse to one stat.
	reval singleflight.Group

	// server carries the mounted connection once known; page invalidation
	// notifications go through it.
	server atomic.Pointer[fuse.Server]
}

// SetServer hands the share the mounted server so writes can invalidate
// kernel pages held by mapped readers.
func (s *Share) SetServer(srv *fuse.Server) { s.server.Store(srv) }

// NewRoot builds the root directory node for one mounted share.
func NewRoot(gw gateway.Gateway, root shfl.RootID, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	share := &Share{
		gw:     gw,
		root:   root,
		logger: logger.With("component", "fuse", "root", root),
	}
	n := &Node{share: share}
	n.attrs = shfl.ObjInfo{Mode: shfl.TypeDir | 0o755}
	return n
}

// errnoFromErr maps the gateway taxonomy onto errnos at the FUSE boundary.
func errnoFromErr(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, gateway.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, gateway.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, gateway.ErrNotSupported):
		return syscall.EOPNOTSUPP
	case errors.Is(err, gateway.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, gateway.ErrInvalid), errors.Is(err, shfl.ErrInvalidName):
		return syscall.EINVAL
	case errors.Is(err, shfl.ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, gateway.ErrBadHandle):
		return syscall.EBADF
	case errors.Is(err, gateway.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, gateway.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}
