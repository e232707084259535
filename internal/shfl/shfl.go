// Package shfl models the shared-folder host protocol: create dispositions,
// access flags, object attributes and the wire encodings for strings and
// directory listings.
package shfl

import "math"

// RootID identifies one exported share on the host. All paths are relative
// to a root.
type RootID uint32

// HandleID is an opaque token issued by the host for one open instance of a
// remote object.
type HandleID uint64

// HandleNil is the sentinel "no handle" value. The host leaves it in place
// when a create/open call completes without actually opening anything.
const HandleNil HandleID = math.MaxUint64

// MaxRWCount is the upper bound for a single read or write transfer.
// Larger requests are clamped and complete as short transfers.
const MaxRWCount = 1 << 20

// PathMax bounds remote path and symlink target lengths.
const PathMax = 4096

// CreateFlags select the disposition and access mode of a create/open call.
type CreateFlags uint32

const (
	// CFDirectory requests a directory object.
	CFDirectory CreateFlags = 1 << iota
	// CFCreateIfNew creates the object when it does not exist.
	CFCreateIfNew
	// CFFailIfNew fails the call when the object does not exist.
	CFFailIfNew
	// CFOpenIfExists opens an existing object as-is.
	CFOpenIfExists
	// CFOverwriteIfExists truncates an existing object on open.
	CFOverwriteIfExists
	// CFFailIfExists fails the call when the object already exists.
	CFFailIfExists
	// CFAccessRead requests read access.
	CFAccessRead
	// CFAccessWrite requests write access.
	CFAccessWrite
	// CFAccessAppend requests append-only positioning for writes.
	CFAccessAppend
)

// CFAccessReadWrite requests both read and write access.
const CFAccessReadWrite = CFAccessRead | CFAccessWrite

// Writable reports whether the access portion of the flags permits writing.
func (f CreateFlags) Writable() bool {
	return f&CFAccessWrite != 0
}

// CreateResult is the host's informational disposition outcome. It is
// distinct from the transport-level error: a call can succeed while the
// result says nothing was opened.
type CreateResult uint32

const (
	// ResultNone means the host reported no disposition.
	ResultNone CreateResult = iota
	// ResultCreated means a new object was created.
	ResultCreated
	// ResultExists means the object already existed and was opened (or the
	// open was refused by the disposition).
	ResultExists
	// ResultReplaced means an existing object was overwritten.
	ResultReplaced
	// ResultNotFound means no object exists at the path.
	ResultNotFound
)

func (r CreateResult) String() string {
	switch r {
	case ResultNone:
		return "none"
	case ResultCreated:
		return "created"
	case ResultExists:
		return "exists"
	case ResultReplaced:
		return "replaced"
	case ResultNotFound:
		return "not-found"
	default:
		return "invalid"
	}
}

// Object type bits carried in ObjInfo.Mode, POSIX-valued.
const (
	TypeMask     uint32 = 0o170000
	TypeFifo     uint32 = 0o010000
	TypeDevChar  uint32 = 0o020000
	TypeDir      uint32 = 0o040000
	TypeDevBlock uint32 = 0o060000
	TypeFile     uint32 = 0o100000
	TypeSymlink  uint32 = 0o120000
	TypeSocket   uint32 = 0o140000
	TypeWhiteout uint32 = 0o160000
)

// ObjInfo carries the host's view of one object's attributes.
type ObjInfo struct {
	Size  uint64
	Mode  uint32
	Atime int64
	Mtime int64
	Ctime int64
}

// IsDir reports whether the mode's type bits say directory.
func (i ObjInfo) IsDir() bool { return i.Mode&TypeMask == TypeDir }

// IsSymlink reports whether the mode's type bits say symbolic link.
func (i ObjInfo) IsSymlink() bool { return i.Mode&TypeMask == TypeSymlink }

// CreateParms is the request/response record of a create/open call. Handle
// must be preset to HandleNil so the host honors the Mode field; on return
// the host fills Handle, Result and Info.
type CreateParms struct {
	Handle HandleID
	Flags  CreateFlags
	Mode   uint32
	Result CreateResult
	Info   ObjInfo
}

// NewCreateParms returns parameters with the nil handle preset.
func NewCreateParms(flags CreateFlags, mode uint32) *CreateParms {
	return &CreateParms{Handle: HandleNil, Flags: flags, Mode: mode}
}

// Remove flags.
const (
	RemoveFile uint32 = 1 << iota
	RemoveDir
	RemoveSymlink
)

// Rename flags. Directories are renamed with an empty flag word; the
// replace-if-exists semantic is file-only.
const (
	RenameFile uint32 = 1 << iota
	RenameReplaceIfExists
)
