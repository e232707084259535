package gateway

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/virtshare/vsharefs/internal/shfl"
)

// Conn is the TCP transport client. One request is in flight at a time;
// concurrent callers serialize on the connection, matching the protocol's
// synchronous round-trip model.
type Conn struct {
	addr    string
	session string
	logger  *slog.Logger

	mu  sync.Mutex
	c   net.Conn
	seq uint32
}

var _ Gateway = (*Conn)(nil)

// Option configures the connection.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	dialTimeout time.Duration
	maxElapsed  time.Duration
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDialTimeout bounds a single dial attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithMaxConnectTime bounds the total time spent retrying the initial dial.
func WithMaxConnectTime(d time.Duration) Option {
	return func(o *options) { o.maxElapsed = d }
}

// Dial connects to the host daemon, retrying with exponential backoff until
// the context or the connect budget expires.
func Dial(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	o := &options{
		logger:      slog.Default(),
		dialTimeout: 5 * time.Second,
		maxElapsed:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	session := uuid.NewString()
	logger := o.logger.With("component", "gateway", "host", addr, "session", session)

	var c net.Conn
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = o.maxElapsed
	err := backoff.Retry(func() error {
		var err error
		c, err = net.DialTimeout("tcp", addr, o.dialTimeout)
		if err != nil {
			logger.Debug("dial attempt failed", "error", err)
		}
		return err
	}, backoff.WithContext(eb, ctx))
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	logger.Info("connected to share host")
	return &Conn{addr: addr, session: session, logger: logger, c: c}, nil
}

// Session returns the client-generated session id sent in the mount
// handshake.
func (cn *Conn) Session() string { return cn.session }

// CloseConn tears down the transport connection.
func (cn *Conn) CloseConn() error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.c == nil {
		return nil
	}
	err := cn.c.Close()
	cn.c = nil
	return err
}

// Mount performs the handshake for one share and returns its root id.
func (cn *Conn) Mount(ctx context.Context, share string) (shfl.RootID, error) {
	var reply MountReply
	err := cn.call(ctx, OpMount, 0, &MountReq{Session: cn.session, Share: share}, &reply)
	if err != nil {
		return 0, err
	}
	cn.logger.Info("mounted share", "share", share, "root", reply.Root)
	return shfl.RootID(reply.Root), nil
}

// call performs one framed round trip. Taxonomy errors come back as-is;
// anything that breaks the transport wraps in TransportError.
func (cn *Conn) call(ctx context.Context, op uint32, root shfl.RootID, req, reply any) error {
	opName := opNames[op]

	cn.mu.Lock()
	defer cn.mu.Unlock()

	if cn.c == nil {
		return &TransportError{Op: opName, Err: net.ErrClosed}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = cn.c.SetDeadline(deadline)
		defer cn.c.SetDeadline(time.Time{})
	}

	cn.seq++
	header := CallHeader{Seq: cn.seq, Op: op, Root: uint32(root)}
	if err := WriteFrame(cn.c, &header, req); err != nil {
		return &TransportError{Op: opName, Err: err}
	}

	frame, err := ReadFrame(cn.c)
	if err != nil {
		return &TransportError{Op: opName, Err: err}
	}
	r := bytes.NewReader(frame)
	var rh ReplyHeader
	if _, err := xdr.Unmarshal(r, &rh); err != nil {
		return &TransportError{Op: opName, Err: err}
	}
	if rh.Seq != header.Seq {
		return &TransportError{Op: opName, Err: fmt.Errorf("reply sequence %d, want %d", rh.Seq, header.Seq)}
	}
	if err := StatusToError(rh.Status); err != nil {
		return err
	}
	if reply != nil {
		if _, err := xdr.Unmarshal(r, reply); err != nil {
			return &TransportError{Op: opName, Err: err}
		}
	}
	return nil
}

var opNames = map[uint32]string{
	OpMount:        "mount",
	OpCreateOrOpen: "create_or_open",
	OpClose:        "close",
	OpRead:         "read",
	OpWrite:        "write",
	OpRemove:       "remove",
	OpRename:       "rename",
	OpSymlink:      "symlink",
	OpReadlink:     "readlink",
	OpListDir:      "list_dir",
	OpStat:         "stat",
}

// CreateOrOpen implements Gateway.
func (cn *Conn) CreateOrOpen(ctx context.Context, root shfl.RootID, path string, parms *shfl.CreateParms) error {
	wp, err := EncodePath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var reply CreateOrOpenReply
	err = cn.call(ctx, OpCreateOrOpen, root, &CreateOrOpenReq{
		Path:  wp,
		Flags: uint32(parms.Flags),
		Mode:  parms.Mode,
	}, &reply)
	if err != nil {
		return err
	}
	parms.Handle = shfl.HandleID(reply.Handle)
	parms.Result = shfl.CreateResult(reply.Result)
	parms.Info = *reply.Info.ToObjInfo()
	return nil
}

// Close implements Gateway.
func (cn *Conn) Close(ctx context.Context, root shfl.RootID, handle shfl.HandleID) error {
	return cn.call(ctx, OpClose, root, &CloseReq{Handle: uint64(handle)}, nil)
}

// Read implements Gateway.
func (cn *Conn) Read(ctx context.Context, root shfl.RootID, handle shfl.HandleID, offset uint64, dst []byte) (int, error) {
	var reply ReadReply
	err := cn.call(ctx, OpRead, root, &ReadReq{
		Handle: uint64(handle),
		Offset: offset,
		Length: uint32(len(dst)),
	}, &reply)
	if err != nil {
		return 0, err
	}
	if len(reply.Data) > len(dst) {
		return 0, &TransportError{Op: "read", Err: fmt.Errorf("host returned %d bytes for a %d byte request", len(reply.Data), len(dst))}
	}
	return copy(dst, reply.Data), nil
}

// Write implements Gateway.
func (cn *Conn) Write(ctx context.Context, root shfl.RootID, handle shfl.HandleID, offset uint64, data []byte) (int, error) {
	var reply WriteReply
	err := cn.call(ctx, OpWrite, root, &WriteReq{
		Handle: uint64(handle),
		Offset: offset,
		Data:   data,
	}, &reply)
	if err != nil {
		return 0, err
	}
	return int(reply.Written), nil
}

// Remove implements Gateway.
func (cn *Conn) Remove(ctx context.Context, root shfl.RootID, path string, flags uint32) error {
	wp, err := EncodePath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cn.call(ctx, OpRemove, root, &RemoveReq{Path: wp, Flags: flags}, nil)
}

// Rename implements Gateway.
func (cn *Conn) Rename(ctx context.Context, root shfl.RootID, oldPath, newPath string, flags uint32) error {
	oldWire, err := EncodePath(oldPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	newWire, err := EncodePath(newPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cn.call(ctx, OpRename, root, &RenameReq{OldPath: oldWire, NewPath: newWire, Flags: flags}, nil)
}

// Symlink implements Gateway.
func (cn *Conn) Symlink(ctx context.Context, root shfl.RootID, path, target string) (*shfl.ObjInfo, error) {
	wp, err := EncodePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	ws, err := shfl.NewString(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	wt, err := ws.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var reply SymlinkReply
	if err := cn.call(ctx, OpSymlink, root, &SymlinkReq{Path: wp, Target: wt}, &reply); err != nil {
		return nil, err
	}
	return reply.Info.ToObjInfo(), nil
}

// Readlink implements Gateway.
func (cn *Conn) Readlink(ctx context.Context, root shfl.RootID, path string, maxLen uint32) (string, error) {
	wp, err := EncodePath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var reply ReadlinkReply
	if err := cn.call(ctx, OpReadlink, root, &ReadlinkReq{Path: wp, MaxLen: maxLen}, &reply); err != nil {
		return "", err
	}
	target, err := DecodePath(reply.Target)
	if err != nil {
		return "", &TransportError{Op: "readlink", Err: err}
	}
	return target, nil
}

// ListDir implements Gateway.
func (cn *Conn) ListDir(ctx context.Context, root shfl.RootID, handle shfl.HandleID) ([]DirChunk, error) {
	var reply ListDirReply
	if err := cn.call(ctx, OpListDir, root, &ListDirReq{Handle: uint64(handle)}, &reply); err != nil {
		return nil, err
	}
	chunks := make([]DirChunk, 0, len(reply.Chunks))
	for _, c := range reply.Chunks {
		chunks = append(chunks, DirChunk{Entries: c.Entries, Data: c.Data})
	}
	return chunks, nil
}

// Stat implements Gateway.
func (cn *Conn) Stat(ctx context.Context, root shfl.RootID, path string) (*shfl.ObjInfo, error) {
	wp, err := EncodePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var reply StatReply
	if err := cn.call(ctx, OpStat, root, &StatReq{Path: wp}, &reply); err != nil {
		return nil, err
	}
	return reply.Info.ToObjInfo(), nil
}
