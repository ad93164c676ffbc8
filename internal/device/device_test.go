package device_test

import (
	"testing"

	"github.com/gil0mendes/Initium-sub000/internal/device"
	"github.com/stretchr/testify/require"
)

type fakeDiskOps struct {
	blockSize uint64
	data      []byte
}

func (f *fakeDiskOps) Read(buf []byte, count int, offset uint64) (int, error) {
	return device.DiskRead(&device.Device{Ops: f}, buf, count, offset)
}

func (f *fakeDiskOps) ReadBlocks(buf []byte, blockCount uint64, lba uint64) (int, error) {
	start := lba * f.blockSize
	n := copy(buf, f.data[start:start+blockCount*f.blockSize])
	return n, nil
}

func (f *fakeDiskOps) BlockSize() uint64 { return f.blockSize }

func TestDuplicateNameIsFatal(t *testing.T) {
	tree := device.NewTree()
	require.NoError(t, tree.Register(&device.Device{Name: "hd0"}))
	require.Panics(t, func() {
		_ = tree.Register(&device.Device{Name: "hd0"})
	})
}

func TestLookupByBareNameUUIDLabel(t *testing.T) {
	tree := device.NewTree()
	m := fakeMount{uuid: "abc-123", label: "BOOT"}
	d := &device.Device{Name: "hd0"}
	d.SetMount(m)
	require.NoError(t, tree.Register(d))

	got, err := tree.Lookup("hd0")
	require.NoError(t, err)
	require.Same(t, d, got)

	got, err = tree.Lookup("uuid:abc-123")
	require.NoError(t, err)
	require.Same(t, d, got)

	got, err = tree.Lookup("label:BOOT")
	require.NoError(t, err)
	require.Same(t, d, got)

	_, err = tree.Lookup("nope")
	require.Error(t, err)
}

type fakeMount struct{ uuid, label string }

func (f fakeMount) UUID() string  { return f.uuid }
func (f fakeMount) Label() string { return f.label }

func TestDiskReadBouncesPartialBlocks(t *testing.T) {
	data := make([]byte, 4*2048)
	for i := range data {
		data[i] = byte(i)
	}
	ops := &fakeDiskOps{blockSize: 2048, data: data}
	d := &device.Device{Ops: ops}

	buf := make([]byte, 3000)
	n, err := device.DiskRead(d, buf, len(buf), 100)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, data[100:100+3000], buf)
}

func TestDiskReadFullAlignedBlock(t *testing.T) {
	data := make([]byte, 2048)
	for i := range data {
		data[i] = byte(i % 251)
	}
	ops := &fakeDiskOps{blockSize: 2048, data: data}
	d := &device.Device{Ops: ops}

	buf := make([]byte, 2048)
	n, err := device.DiskRead(d, buf, len(buf), 0)
	require.NoError(t, err)
	require.Equal(t, 2048, n)
	require.Equal(t, data, buf)
}
