package hostfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/virtshare/vsharefs/internal/gateway"
	"github.com/virtshare/vsharefs/internal/shfl"
)

// Server speaks the framed XDR share protocol on TCP, dispatching into a
// Host. One goroutine per connection; requests on a connection are handled
// in order, matching the client's one-in-flight model.
type Server struct {
	host   *Host
	logger *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewServer wraps host.
func NewServer(host *Host, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		host:   host,
		logger: logger.With("component", "hostfs-server"),
		conns:  make(map[net.Conn]struct{}),
	}
}

// ListenAndServe accepts connections on addr until Close.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the accept loop on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("serving", "addr", ln.Addr().String())

	for {
		c, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(c)
		}()
	}
}

// Close stops accepting, severs open connections and waits for handlers.
func (s *Server) Close() error {
	s.closed.Store(true)
	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Server) handleConn(c net.Conn) {
	logger := s.logger.With("remote", c.RemoteAddr().String())
	logger.Debug("connection accepted")
	defer func() {
		c.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		logger.Debug("connection closed")
	}()

	for {
		frame, err := gateway.ReadFrame(c)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				logger.Warn("read failed", "error", err)
			}
			return
		}
		r := bytes.NewReader(frame)
		var header gateway.CallHeader
		if _, err := xdr.Unmarshal(r, &header); err != nil {
			logger.Warn("malformed call header", "error", err)
			return
		}

		body, opErr := s.dispatch(&header, r)
		reply := gateway.ReplyHeader{Seq: header.Seq, Status: gateway.ErrorToStatus(opErr)}
		if opErr != nil {
			logger.Debug("op failed", "op", header.Op, "error", opErr)
			body = nil
		}
		if err := gateway.WriteFrame(c, &reply, body); err != nil {
			logger.Warn("write failed", "error", err)
			return
		}
	}
}

// dispatch decodes one request body and executes it. The returned body is
// nil for ops without reply payloads.
func (s *Server) dispatch(header *gateway.CallHeader, r io.Reader) (any, error) {
	ctx := context.Background()
	root := shfl.RootID(header.Root)

	switch header.Op {
	case gateway.OpMount:
		var req gateway.MountReq
		if _, err := xdr.Unmarshal(r, &req); err != nil {
			return nil, gateway.ErrInvalid
		}
		mountRoot, err := s.host.Mount(req.Session, req.Share)
		if err != nil {
			return nil, err
		}
		return &gateway.MountReply{Root: uint32(mountRoot)}, nil

	case gateway.OpCreateOrOpen:
		var req gateway.CreateOrOpenReq
		if _, err := xdr.Unmarshal(r, &req); err != nil {
			return nil, gateway.ErrInvalid
		}
		path, err := gateway.DecodePath(req.Path)
		if err != nil {
			return nil, gateway.ErrInvalid
		}
		parms := &shfl.CreateParms{Handle: shfl.HandleNil, Flags: shfl.CreateFlags(req.Flags), Mode: req.Mode}
		if err := s.host.CreateOrOpen(ctx, root, path, parms); err != nil {
			return nil, err
		}
		return &gateway.CreateOrOpenReply{
			Handle: uint64(parms.Handle),
			Result: uint32(parms.Result),
			Info:   gateway.FromObjInfo(&parms.Info),
		}, nil

	case gateway.OpClose:
		var req gateway.CloseReq
		if _, err := xdr.Unmarshal(r, &req); err != nil {
			return nil, gateway.ErrInvalid
		}
		return nil, s.host.Close(ctx, root, shfl.HandleID(req.Handle))

	case gateway.OpRead:
		var req gateway.ReadReq
		if _, err := xdr.Unmarshal(r, &req); err != nil {
			return nil, gateway.ErrInvalid
		}
		if req.Length > shfl.MaxRWCount {
			return nil, gateway.ErrInvalid
		}
		dst := make([]byte, req.Length)
		n, err := s.host.Read(ctx, root, shfl.HandleID(req.Handle), req.Offset, dst)
		if err != nil {
			return nil, err
		}
		return &gateway.ReadReply{Data: dst[:n]}, nil

	case gateway.OpWrite:
		var req gateway.WriteReq
		if _, err := xdr.Unmarshal(r, &req); err != nil {
			return nil, gateway.ErrInvalid
		}
		if len(req.Data) > shfl.MaxRWCount {
			return nil, gateway.ErrInvalid
		}
		n, err := s.host.Write(ctx, root, shfl.HandleID(req.Handle), req.Offset, req.Data)
		if err != nil {
			return nil, err
		}
		return &gateway.WriteReply{Written: uint32(n)}, nil

	case gateway.OpRemove:
		var req gateway.RemoveReq
		if _, err := xdr.Unmarshal(r, &req); err != nil {
			return nil, gateway.ErrInvalid
		}
		path, err := gateway.DecodePath(req.Path)
		if err != nil {
			return nil, gateway.ErrInvalid
		}
		return nil, s.host.Remove(ctx, root, path, req.Flags)

	case gateway.OpRename:
		var req gateway.RenameReq
		if _, err := xdr.Unmarshal(r, &req); err != nil {
			return nil, gateway.ErrInvalid
		}
		oldPath, err := gateway.DecodePath(req.OldPath)
		if err != nil {
			return nil, gateway.ErrInvalid
		}
		newPath, err := gateway.DecodePath(req.NewPath)
		if err != nil {
			return nil, gateway.ErrInvalid
		}
		return nil, s.host.Rename(ctx, root, oldPath, newPath, req.Flags)

	case gateway.OpSymlink:
		var req gateway.SymlinkReq
		if _, err := xdr.Unmarshal(r, &req); err != nil {
			return nil, gateway.ErrInvalid
		}
		path, err := gateway.DecodePath(req.Path)
		if err != nil {
			return nil, gateway.ErrInvalid
		}
		target, err := gateway.DecodePath(req.Target)
		if err != nil {
			return nil, gateway.ErrInvalid
		}
		info, err := s.host.Symlink(ctx, root, path, target)
		if err != nil {
			return nil, err
		}
		return &gateway.SymlinkReply{Info: gateway.FromObjInfo(info)}, nil

	case gateway.OpReadlink:
		var req gateway.ReadlinkReq
		if _, err := xdr.Unmarshal(r, &req); err != nil {
			return nil, gateway.ErrInvalid
		}
		path, err := gateway.DecodePath(req.Path)
		if err != nil {
			return nil, gateway.ErrInvalid
		}
		target, err := s.host.Readlink(ctx, root, path, req.MaxLen)
		if err != nil {
			return nil, err
		}
		ws, err := shfl.NewString(target)
		if err != nil {
			return nil, gateway.ErrInvalid
		}
		wt, err := ws.MarshalBinary()
		if err != nil {
			return nil, gateway.ErrInvalid
		}
		return &gateway.ReadlinkReply{Target: wt}, nil

	case gateway.OpListDir:
		var req gateway.ListDirReq
		if _, err := xdr.Unmarshal(r, &req); err != nil {
			return nil, gateway.ErrInvalid
		}
		chunks, err := s.host.ListDir(ctx, root, shfl.HandleID(req.Handle))
		if err != nil {
			return nil, err
		}
		wire := make([]gateway.WireDirChunk, 0, len(chunks))
		for _, c := range chunks {
			wire = append(wire, gateway.WireDirChunk{Entries: c.Entries, Data: c.Data})
		}
		return &gateway.ListDirReply{Chunks: wire}, nil

	case gateway.OpStat:
		var req gateway.StatReq
		if _, err := xdr.Unmarshal(r, &req); err != nil {
			return nil, gateway.ErrInvalid
		}
		path, err := gateway.DecodePath(req.Path)
		if err != nil {
			return nil, gateway.ErrInvalid
		}
		info, err := s.host.Stat(ctx, root, path)
		if err != nil {
			return nil, err
		}
		return &gateway.StatReply{Info: gateway.FromObjInfo(info)}, nil

	default:
		return nil, fmt.Errorf("%w: op %d", gateway.ErrInvalid, header.Op)
	}
}
