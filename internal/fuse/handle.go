package fuse

import (
	"context"

	"sync"

	"github.com/virtshare/vsharefs/internal/shfl"
)

// handle is one open remote instance of a node's object. It is shared
// between the file handle that opened it and writeback paths that borrow it,
// so its lifetime is reference counted; the remote close is issued exactly
// once, by whichever release observes the count reach zero.
type handle struct {
	id     shfl.HandleID
	root   shfl.RootID
	access shfl.CreateFlags

	// refs is guarded by the owning set's mutex, never touched outside it.
	refs int
}

func (h *handle) writable() bool { return h.access.Writable() }

// handleSet is a node's open-handle registry. One mutex serializes every
// insertion, removal and writable-scan; the remote close itself happens
// outside the lock.
type handleSet struct {
	mu      sync.Mutex
	handles []*handle
}

// add inserts a freshly opened handle with one reference.
func (s *handleSet) add(h *handle) {
	s.mu.Lock()
	h.refs = 1
	s.handles = append(s.handles, h)
	s.mu.Unlock()
}

// acquireWritable finds a handle whose access mode permits writing and takes
// a reference on it. Writeback has no handle of its own; it borrows one that
// a foreground open left in the set.
func (s *handleSet) acquireWritable() *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		if h.writable() {
			h.refs++
			return h
		}
	}
	return nil
}

// release drops one reference. It reports true exactly once, when the count
// reaches zero; the caller then closes the remote handle.
func (s *handleSet) release(h *handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.refs--
	if h.refs > 0 {
		return false
	}
	for i, cur := range s.handles {
		if cur == h {
			s.handles = append(s.handles[:i], s.handles[i+1:]...)
			break
		}
	}
	return true
}

// releaseHandle drops one reference and closes the remote handle when it was
// the last one.
func (n *Node) releaseHandle(ctx context.Context, h *handle) {
	if !n.handles.release(h) {
		return
	}
	if err := n.share.gw.Close(ctx, h.root, h.id); err != nil {
		n.share.logger.Warn("remote close failed", "path", n.remotePath(), "error", err)
	}
}
