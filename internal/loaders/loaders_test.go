package loaders

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gil0mendes/Initium-sub000/internal/memmgr"
	"github.com/stretchr/testify/require"
)

func buildLinuxImage(t *testing.T, version uint16, xloadflags uint16, prefAddr uint64, relocatable uint8) []byte {
	t.Helper()
	img := make([]byte, linuxHeaderOffset+0x78)
	order := binary.LittleEndian
	order.PutUint32(img[linuxHeaderOffset+0x11:], linuxMagic) // header_magic at 0x202
	order.PutUint16(img[linuxHeaderOffset+0x15:], version)    // version at 0x206
	img[linuxHeaderOffset+0x43] = relocatable                 // relocatable_kernel field
	order.PutUint16(img[linuxHeaderOffset+0x45:], xloadflags) // xloadflags field
	order.PutUint64(img[linuxHeaderOffset+0x67:], prefAddr)   // pref_address field
	return img
}

func TestParseLinuxHeaderRejectsBadMagic(t *testing.T) {
	img := make([]byte, linuxHeaderOffset+0x78)
	_, err := ParseLinuxHeader(img)
	require.Error(t, err)
}

func TestParseLinuxHeaderAcceptsValidMagic(t *testing.T) {
	img := buildLinuxImage(t, minEFIHandoverVersion, efiHandover64, 0x200000, 1)
	h, err := ParseLinuxHeader(img)
	require.NoError(t, err)
	require.True(t, h.SupportsEFIHandover())
	require.Equal(t, uint64(0x200000), h.LoadAddress())
}

func TestCommandLineFormat(t *testing.T) {
	require.Equal(t, "BOOT_IMAGE=/boot/vmlinuz console=ttyS0", CommandLine("/boot/vmlinuz", "console=ttyS0"))
	require.Equal(t, "BOOT_IMAGE=/boot/vmlinuz", CommandLine("/boot/vmlinuz", ""))
}

func buildMultibootImage(flags uint32, valid bool) []byte {
	var buf bytes.Buffer
	order := binary.LittleEndian
	checksum := uint32(0) - multibootHeaderMagic - flags
	if !valid {
		checksum++
	}
	binary.Write(&buf, order, uint32(multibootHeaderMagic))
	binary.Write(&buf, order, flags)
	binary.Write(&buf, order, checksum)
	buf.Write(make([]byte, 512))
	return buf.Bytes()
}

func TestFindMultibootHeader(t *testing.T) {
	img := buildMultibootImage(mbFlagMemInfo, true)
	h, err := FindMultibootHeader(img)
	require.NoError(t, err)
	require.Equal(t, mbFlagMemInfo, h.Flags)
}

func TestFindMultibootHeaderRejectsBadChecksum(t *testing.T) {
	img := buildMultibootImage(mbFlagMemInfo, false)
	_, err := FindMultibootHeader(img)
	require.Error(t, err)
}

type fakePhysMem struct{ writes map[uint64][]byte }

func (f *fakePhysMem) Write(addr uint64, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	f.writes[addr] = buf
	return nil
}

func TestBuildInfoPopulatesMemoryMap(t *testing.T) {
	mgr := memmgr.NewBIOS()
	require.NoError(t, mgr.Add(0, 0x100000, memmgr.Free))
	require.NoError(t, mgr.Add(0x100000, 0x400000, memmgr.Free))
	ranges := mgr.Finalize()

	mem := &fakePhysMem{writes: make(map[uint64][]byte)}
	phys, err := BuildInfo(mgr, mem, ranges, 0xffffffff, 0)
	require.NoError(t, err)
	require.NotZero(t, phys)
	require.Contains(t, mem.writes, phys)
}
