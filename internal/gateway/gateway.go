// Package gateway defines the remote call surface the filesystem core talks
// to, the error taxonomy those calls produce, and a TCP transport client
// speaking the framed XDR share protocol.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/virtshare/vsharefs/internal/shfl"
)

// Sentinel errors, one per discrete condition surfaced to callers.
// Disposition-derived conditions (not-found, exists) are ordinary results of
// a successful transport round trip, not transport failures.
var (
	ErrNotFound     = errors.New("gateway: object not found")
	ErrExists       = errors.New("gateway: object already exists")
	ErrNotSupported = errors.New("gateway: operation not supported by host")
	ErrPermission   = errors.New("gateway: permission denied")
	ErrInvalid      = errors.New("gateway: invalid argument")
	ErrBadHandle    = errors.New("gateway: stale or invalid handle")
	ErrIsDir        = errors.New("gateway: object is a directory")
	ErrNotEmpty     = errors.New("gateway: directory not empty")
	ErrIO           = errors.New("gateway: host I/O failure")
)

// TransportError wraps an opaque transport failure; it is never produced for
// disposition outcomes.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway: %s transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DirChunk is one bulk listing buffer: a run of self-describing directory
// records plus the number of records it holds.
type DirChunk struct {
	Entries uint32
	Data    []byte
}

// Gateway is the remote call surface. Calls are synchronous: the calling
// goroutine blocks for one round trip. Implementations must be safe for
// concurrent use.
type Gateway interface {
	// CreateOrOpen performs the combined create/open call. parms.Handle must
	// be preset to shfl.HandleNil; on a nil error the host has filled
	// parms.Handle, parms.Result and parms.Info. The disposition result must
	// be consulted even on success.
	CreateOrOpen(ctx context.Context, root shfl.RootID, path string, parms *shfl.CreateParms) error

	// Close releases one remote handle.
	Close(ctx context.Context, root shfl.RootID, handle shfl.HandleID) error

	// Read transfers up to len(dst) bytes from offset. Short reads at end of
	// file are not errors.
	Read(ctx context.Context, root shfl.RootID, handle shfl.HandleID, offset uint64, dst []byte) (int, error)

	// Write transfers data at offset and returns the count the host accepted.
	Write(ctx context.Context, root shfl.RootID, handle shfl.HandleID, offset uint64, data []byte) (int, error)

	// Remove unlinks the object at path; flags carry the dir/file/symlink
	// distinction.
	Remove(ctx context.Context, root shfl.RootID, path string, flags uint32) error

	// Rename moves oldPath to newPath within one root.
	Rename(ctx context.Context, root shfl.RootID, oldPath, newPath string, flags uint32) error

	// Symlink creates a symbolic link carrying the literal target text.
	// Hosts without symlink support return ErrNotSupported.
	Symlink(ctx context.Context, root shfl.RootID, path, target string) (*shfl.ObjInfo, error)

	// Readlink returns the target text of a symbolic link, bounded by maxLen.
	Readlink(ctx context.Context, root shfl.RootID, path string, maxLen uint32) (string, error)

	// ListDir bulk-fetches the complete listing of an open directory handle.
	ListDir(ctx context.Context, root shfl.RootID, handle shfl.HandleID) ([]DirChunk, error)

	// Stat fetches fresh attributes for path. ErrNotFound is the negative
	// answer, not a failure.
	Stat(ctx context.Context, root shfl.RootID, path string) (*shfl.ObjInfo, error)
}
