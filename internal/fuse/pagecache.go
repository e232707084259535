package fuse

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/virtshare/vsharefs/internal/gateway"
	"github.com/virtshare/vsharefs/internal/metrics"
)

// pageSize is the granularity of kernel writeback transfers.
const pageSize = 4096

// flushParallelism bounds concurrent retry writes during a full drain.
const flushParallelism = 4

// writebackTracker keeps pages whose writeback write failed, so the data is
// retried instead of dropped. Pages are retried before any direct write that
// overlaps them (write ordering) and drained completely on flush and
// release.
type writebackTracker struct {
	mu    sync.Mutex
	pages map[uint64]*wbPage
}

type wbPage struct {
	off  uint64
	data []byte
}

// park keeps a failed page for retry. The data is copied; the caller's
// buffer belongs to the kernel.
func (t *writebackTracker) park(off uint64, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pages == nil {
		t.pages = make(map[uint64]*wbPage)
	}
	idx := off / pageSize
	if _, ok := t.pages[idx]; !ok {
		metrics.WritebackRetryQueued()
	}
	t.pages[idx] = &wbPage{off: off, data: append([]byte(nil), data...)}
}

func (t *writebackTracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pages)
}

func (t *writebackTracker) take(idx uint64) (*wbPage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pages[idx]
	if ok {
		delete(t.pages, idx)
		metrics.WritebackRetryDrained()
	}
	return p, ok
}

// overlapping snapshots the page indexes intersecting [off, off+length).
func (t *writebackTracker) overlapping(off uint64, length int) []uint64 {
	if length <= 0 {
		return nil
	}
	first := off / pageSize
	last := (off + uint64(length) - 1) / pageSize
	t.mu.Lock()
	defer t.mu.Unlock()
	var idxs []uint64
	for idx := range t.pages {
		if idx >= first && idx <= last {
			idxs = append(idxs, idx)
		}
	}
	return idxs
}

// flushRange retries parked pages overlapping the range. A direct write must
// not pass a pending page for the same bytes, so any failure aborts the
// caller's write.
func (t *writebackTracker) flushRange(ctx context.Context, n *Node, off uint64, length int) error {
	for _, idx := range t.overlapping(off, length) {
		p, ok := t.take(idx)
		if !ok {
			continue
		}
		if err := n.pushPage(ctx, p.off, p.data); err != nil {
			t.park(p.off, p.data)
			return err
		}
	}
	return nil
}

// flushAll drains every parked page. Used by flush, fsync and release; a
// close must never finish while dirty pages remain.
func (t *writebackTracker) flushAll(ctx context.Context, n *Node) error {
	t.mu.Lock()
	snapshot := make([]uint64, 0, len(t.pages))
	for idx := range t.pages {
		snapshot = append(snapshot, idx)
	}
	t.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(flushParallelism)
	for _, idx := range snapshot {
		idx := idx
		g.Go(func() error {
			p, ok := t.take(idx)
			if !ok {
				return nil
			}
			if err := n.pushPage(ctx, p.off, p.data); err != nil {
				t.park(p.off, p.data)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// pushPage performs one bounded page write through a borrowed writable
// handle, clamped at end of file to the remaining valid bytes. Pages wholly
// past the end carry no valid data and are dropped.
func (n *Node) pushPage(ctx context.Context, off uint64, data []byte) error {
	size := n.cachedSize()
	if off >= size {
		return nil
	}
	if off+uint64(len(data)) > size {
		data = data[:size-off]
	}

	h := n.handles.acquireWritable()
	if h == nil {
		return gateway.ErrBadHandle
	}
	defer n.releaseHandle(ctx, h)

	if _, err := n.share.gw.Write(ctx, h.root, h.id, off, data); err != nil {
		return err
	}
	// mtime changed on the host
	n.restat.Store(true)
	return nil
}
