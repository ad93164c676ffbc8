package fs_test

import (
	"testing"

	"github.com/gil0mendes/Initium-sub000/internal/device"
	"github.com/gil0mendes/Initium-sub000/internal/fs"
	"github.com/stretchr/testify/require"
)

// memNode is a tiny in-memory filesystem used to exercise fs.Open's
// generic iterate+open_entry resolver without needing a real on-disk
// format.
type memNode struct {
	name     string
	isDir    bool
	data     []byte
	children []*memNode
}

type memOps struct{ closed int }

func (o *memOps) Mount(dev *device.Device) (*fs.Mount, error) {
	root := dev.Ops.(*memDevice).root
	m := fs.NewMount(dev, o, "MEMFS", "mem-uuid-1", false)
	m.SetRoot(fs.NewDirHandle(m, root))
	return m, nil
}

func (o *memOps) Iterate(dir *fs.Handle, cb func(fs.Entry) bool) error {
	n := dir.Private.(*memNode)
	for _, c := range n.children {
		if !cb(fs.Entry{Name: c.name, IsDir: c.isDir}) {
			return nil
		}
	}
	return nil
}

func (o *memOps) OpenEntry(dir *fs.Handle, e fs.Entry) (*fs.Handle, error) {
	n := dir.Private.(*memNode)
	for _, c := range n.children {
		if c.name == e.Name {
			if c.isDir {
				return fs.NewDirHandle(dir.Mount, c), nil
			}
			return fs.NewFileHandle(dir.Mount, uint64(len(c.data)), c), nil
		}
	}
	panic("entry not found after Iterate matched it")
}

func (o *memOps) Read(h *fs.Handle, buf []byte, count int, offset uint64) (int, error) {
	n := h.Private.(*memNode)
	return copy(buf[:count], n.data[offset:]), nil
}

func (o *memOps) Close(h *fs.Handle) error {
	o.closed++
	return nil
}

type memDevice struct {
	root *memNode
}

func (d *memDevice) Read(buf []byte, count int, offset uint64) (int, error) { return 0, nil }

func buildTree(t *testing.T, ops *memOps) (*device.Tree, *memNode) {
	t.Helper()
	root := &memNode{name: "/", isDir: true, children: []*memNode{
		{name: "boot", isDir: true, children: []*memNode{
			{name: "kernel.elf", data: []byte("ELFDATA")},
		}},
	}}
	tree := device.NewTree()
	tree.SetFSProbe(func(d *device.Device) (device.Mounter, bool, error) {
		m, err := ops.Mount(d)
		return m, err == nil, err
	})
	require.NoError(t, tree.Register(&device.Device{Name: "hd0", Ops: &memDevice{root: root}}))
	return tree, root
}

func TestOpenDeviceAndPathResolution(t *testing.T) {
	ops := &memOps{}
	tree, _ := buildTree(t, ops)

	h, err := fs.Open(tree, "(hd0)/boot/kernel.elf", nil, nil)
	require.NoError(t, err)
	require.False(t, h.IsDirectory)
	require.EqualValues(t, 7, h.Size)

	buf := make([]byte, 7)
	n, err := fs.Read(h, buf, 7, 0)
	require.NoError(t, err)
	require.Equal(t, "ELFDATA", string(buf[:n]))
	require.NoError(t, fs.Close(h))
}

func TestOpenSamePathTwiceYieldsConsistentSizeAndData(t *testing.T) {
	ops := &memOps{}
	tree, _ := buildTree(t, ops)

	h1, err := fs.Open(tree, "(hd0)/boot/kernel.elf", nil, nil)
	require.NoError(t, err)
	h2, err := fs.Open(tree, "(hd0)/boot/kernel.elf", nil, nil)
	require.NoError(t, err)

	require.Equal(t, h1.Size, h2.Size)

	b1 := make([]byte, h1.Size)
	b2 := make([]byte, h2.Size)
	_, err = fs.Read(h1, b1, len(b1), 0)
	require.NoError(t, err)
	_, err = fs.Read(h2, b2, len(b2), 0)
	require.NoError(t, err)
	require.Equal(t, b1, b2)

	require.NoError(t, fs.Close(h1))
	require.NoError(t, fs.Close(h2))
}

func TestOpenNonDirComponentFailsNotDir(t *testing.T) {
	ops := &memOps{}
	tree, _ := buildTree(t, ops)

	_, err := fs.Open(tree, "(hd0)/boot/kernel.elf/nope", nil, nil)
	require.Error(t, err)
}

func TestHandleReleaseIsIdempotent(t *testing.T) {
	ops := &memOps{}
	tree, _ := buildTree(t, ops)

	h, err := fs.Open(tree, "(hd0)/boot/kernel.elf", nil, nil)
	require.NoError(t, err)
	// Open has already closed the intermediate /boot directory handle.
	closedBefore := ops.closed
	require.NoError(t, h.Release())
	require.Equal(t, closedBefore+1, ops.closed)
	require.NoError(t, h.Release()) // already at zero: no-op, no second Close.
	require.Equal(t, closedBefore+1, ops.closed)
}

func TestLookupByUUID(t *testing.T) {
	ops := &memOps{}
	tree, _ := buildTree(t, ops)
	d, err := tree.Lookup("uuid:mem-uuid-1")
	require.NoError(t, err)
	require.Equal(t, "hd0", d.Name)
}
