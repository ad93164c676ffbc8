// Package fs implements the filesystem abstraction: mount probing,
// ref-counted handles, and path resolution with mount switching on top of
// a small per-filesystem Ops contract.
package fs

import (
	"strings"

	"github.com/gil0mendes/Initium-sub000/internal/device"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// Entry is one name yielded by Iterate.
type Entry struct {
	Name  string
	IsDir bool
}

// Ops is the per-filesystem contract. OpenEntry and Iterate are only
// required when the generic path resolver is used (i.e. the Ops value
// does not also implement PathOpener).
type Ops interface {
	Mount(dev *device.Device) (*Mount, error)
	Iterate(dir *Handle, cb func(Entry) bool) error
	OpenEntry(dir *Handle, e Entry) (*Handle, error)
	Read(h *Handle, buf []byte, count int, offset uint64) (int, error)
	Close(h *Handle) error
}

// PathOpener is an optional fast path a filesystem may implement directly
// instead of relying on Iterate+OpenEntry.
type PathOpener interface {
	OpenPath(mount *Mount, path string, from *Handle) (*Handle, error)
}

// Mount binds a filesystem instance to a device. At most one Mount exists
// per device at a time; Tree enforces that by construction since Register
// only probes once.
type Mount struct {
	Device          *device.Device
	Ops             Ops
	Root            *Handle
	label           string
	uuid            string
	CaseInsensitive bool
	// Private carries filesystem-specific mount state (e.g. iso9660's
	// Joliet level) that doesn't belong in the generic Mount shape.
	Private any
}

func (m *Mount) UUID() string  { return m.uuid }
func (m *Mount) Label() string { return m.label }

// NewMount constructs a Mount with no root handle; SetRoot attaches one.
func NewMount(dev *device.Device, ops Ops, label, uuid string, caseInsensitive bool) *Mount {
	m := &Mount{Device: dev, Ops: ops, label: label, uuid: uuid, CaseInsensitive: caseInsensitive}
	return m
}

// Handle is a ref-counted reference to an open file or directory.
// Releasing the last reference is idempotent: calling Release again after
// the count has reached zero is a no-op.
type Handle struct {
	Mount       *Mount
	IsDirectory bool
	Size        uint64
	Private     any

	refcount int32
}

func newHandle(m *Mount, isDir bool, size uint64, priv any) *Handle {
	return &Handle{Mount: m, IsDirectory: isDir, Size: size, Private: priv, refcount: 1}
}

func (h *Handle) Retain() {
	h.refcount++
}

// Release drops a reference and closes the handle via its mount's Ops
// once the count reaches zero.
func (h *Handle) Release() error {
	if h.refcount <= 0 {
		return nil
	}
	h.refcount--
	if h.refcount > 0 {
		return nil
	}
	return h.Mount.Ops.Close(h)
}

// DeviceContext supplies the "current device" fs_open falls back to when
// no explicit device prefix or from-handle is given. internal/config's
// Environment implements this; fs does not import config to avoid a
// cycle.
type DeviceContext interface {
	CurrentDevice() *device.Device
}

// Open resolves path against tree:
//  1. "(devname)/..." resolves the device explicitly.
//  2. otherwise from's mount is used if from is non-nil.
//  3. otherwise the current environment's device is used.
//  4. a leading "/" starts from the mount root; otherwise from from.
//  5. components are tokenized on "/", empty and "." skipped.
func Open(tree *device.Tree, path string, from *Handle, current DeviceContext) (*Handle, error) {
	var mount *Mount
	rest := path

	if strings.HasPrefix(path, "(") {
		end := strings.IndexByte(path, ')')
		if end < 0 {
			return nil, status.New(status.InvalidArg, "unterminated device reference")
		}
		devName := path[1:end]
		rest = path[end+1:]
		if !strings.HasPrefix(rest, "/") {
			return nil, status.New(status.InvalidArg, "device reference must be followed by '/'")
		}
		dev, err := tree.Lookup(devName)
		if err != nil {
			return nil, err
		}
		m, ok := dev.Mount().(*Mount)
		if !ok || m == nil {
			return nil, status.Newf(status.UnknownFs, "device %q has no mounted filesystem", devName)
		}
		mount = m
	} else if from != nil {
		mount = from.Mount
	} else if current != nil {
		dev := current.CurrentDevice()
		if dev == nil {
			return nil, status.New(status.InvalidArg, "no current device")
		}
		m, ok := dev.Mount().(*Mount)
		if !ok || m == nil {
			return nil, status.New(status.UnknownFs, "current device has no mounted filesystem")
		}
		mount = m
	} else {
		return nil, status.New(status.InvalidArg, "no device, from-handle, or current device given")
	}

	var cur *Handle
	if strings.HasPrefix(rest, "/") {
		cur = mount.Root
		cur.Retain()
	} else {
		if from == nil {
			return nil, status.New(status.InvalidArg, "relative path given with no from handle")
		}
		cur = from
		cur.Retain()
	}

	for _, tok := range strings.Split(rest, "/") {
		if tok == "" || tok == "." {
			continue
		}
		if !cur.IsDirectory {
			cur.Release()
			return nil, status.New(status.NotDir, tok)
		}
		next, err := openComponent(mount, cur, tok)
		cur.Release()
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func openComponent(mount *Mount, dir *Handle, token string) (*Handle, error) {
	if opener, ok := mount.Ops.(PathOpener); ok {
		return opener.OpenPath(mount, token, dir)
	}

	var found *Entry
	err := mount.Ops.Iterate(dir, func(e Entry) bool {
		if match(mount.CaseInsensitive, e.Name, token) {
			ec := e
			found = &ec
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, status.Newf(status.NotFound, token)
	}
	return mount.Ops.OpenEntry(dir, *found)
}

func match(caseInsensitive bool, a, b string) bool {
	if caseInsensitive {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// Close releases a reference via Handle.Release; kept as a free function
// so callers that only have a *Handle (not carrying the mount tree) can
// still close symmetrically with Open.
func Close(h *Handle) error {
	if h == nil {
		return nil
	}
	return h.Release()
}

// Read is a thin wrapper for symmetry with Open/Close; it simply forwards
// to the handle's mount Ops.
func Read(h *Handle, buf []byte, count int, offset uint64) (int, error) {
	return h.Mount.Ops.Read(h, buf, count, offset)
}

// NewFileHandle and NewDirHandle let filesystem Ops implementations build
// Handles without reaching into unexported fields.
func NewFileHandle(m *Mount, size uint64, priv any) *Handle {
	return newHandle(m, false, size, priv)
}

func NewDirHandle(m *Mount, priv any) *Handle {
	return newHandle(m, true, 0, priv)
}

// SetRoot assigns the mount's root handle after construction, since the
// root handle's Private payload usually needs the Mount to already exist.
func (m *Mount) SetRoot(h *Handle) { m.Root = h }
