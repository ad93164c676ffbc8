package loaders

import (
	"bytes"
	"encoding/binary"

	"github.com/gil0mendes/Initium-sub000/internal/memmgr"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// multibootHeaderMagic identifies a Multiboot1 header, searched for in the
// kernel's first 8KiB on 4-byte boundaries.
const multibootHeaderMagic = 0x1badb002

// multibootInfoMagic is handed to the kernel in EAX at entry so it can
// confirm it was booted by a Multiboot-compliant loader.
const multibootInfoMagic = 0x2badb002

const (
	mbFlagPageAlign uint32 = 1 << 0
	mbFlagMemInfo   uint32 = 1 << 1
)

// MultibootHeader is the mandatory part of a Multiboot1 header: magic,
// flags, and a checksum making the three fields sum to zero mod 2^32.
type MultibootHeader struct {
	Flags uint32
}

// FindMultibootHeader scans the first 8KiB of a kernel image for a valid
// Multiboot1 header, 4-byte aligned as the spec requires.
func FindMultibootHeader(img []byte) (*MultibootHeader, error) {
	limit := len(img)
	if limit > 8192 {
		limit = 8192
	}
	order := binary.LittleEndian
	for off := 0; off+12 <= limit; off += 4 {
		magic := order.Uint32(img[off:])
		if magic != multibootHeaderMagic {
			continue
		}
		flags := order.Uint32(img[off+4:])
		checksum := order.Uint32(img[off+8:])
		if magic+flags+checksum != 0 {
			continue
		}
		return &MultibootHeader{Flags: flags}, nil
	}
	return nil, status.New(status.UnknownImage, "no Multiboot1 header found in the first 8KiB")
}

// MultibootMemoryRange is one entry of the legacy mmap array a Multiboot1
// kernel reads via Info.MmapAddr: a flat list the bootloader fills in,
// distinct from the tag-based Memory list the Initium protocol uses.
type MultibootMemoryRange struct {
	Base   uint64
	Length uint64
	Type   uint32
}

// MultibootInfo is the legacy information structure handed to a Multiboot1
// kernel at entry, laid out through mmap_addr; the module and symbol
// fields stay zero.
type MultibootInfo struct {
	Flags      uint32
	MemLower   uint32
	MemUpper   uint32
	BootDevice uint32
	CmdLine    uint32
	ModsCount  uint32
	ModsAddr   uint32
	Syms       [4]uint32
	MmapLength uint32
	MmapAddr   uint32
}

// BuildInfo lays out the Multiboot1 info structure and its referenced mmap
// array in two Internal-typed allocations (the mmap array, then the
// structure itself), returning the structure's
// own physical address (the value to load into EBX at entry).
func BuildInfo(mgr memmgr.Manager, mem interface {
	Write(addr uint64, data []byte) error
}, ranges []memmgr.Range, bootDevice uint32, cmdLinePhys uint32) (uint64, error) {
	var mmapBuf bytes.Buffer
	order := binary.LittleEndian
	for _, r := range ranges {
		var entry struct {
			Size   uint32
			Base   uint64
			Length uint64
			Type   uint32
		}
		entry.Size = 20 // bytes following this field, per the Multiboot1 mmap_entry layout
		entry.Base = r.Start
		entry.Length = r.Size
		entry.Type = multibootRangeType(r.Type)
		binary.Write(&mmapBuf, order, entry)
	}

	mmapPhys := uint64(0)
	if mmapBuf.Len() > 0 {
		var err error
		mmapPhys, err = mgr.Alloc(memmgr.AllocRequest{Size: uint64(mmapBuf.Len()), Type: memmgr.Internal})
		if err != nil {
			return 0, err
		}
		if err := mem.Write(mmapPhys, mmapBuf.Bytes()); err != nil {
			return 0, err
		}
	}

	lower, upper := memoryBoundaries(ranges)
	info := MultibootInfo{
		Flags:      mbFlagMemInfo,
		MemLower:   lower,
		MemUpper:   upper,
		BootDevice: bootDevice,
		MmapLength: uint32(mmapBuf.Len()),
		MmapAddr:   uint32(mmapPhys),
	}
	if cmdLinePhys != 0 {
		info.Flags |= 1 << 2
		info.CmdLine = cmdLinePhys
	}

	var infoBuf bytes.Buffer
	binary.Write(&infoBuf, order, info)
	infoPhys, err := mgr.Alloc(memmgr.AllocRequest{Size: uint64(infoBuf.Len()), Type: memmgr.Internal})
	if err != nil {
		return 0, err
	}
	if err := mem.Write(infoPhys, infoBuf.Bytes()); err != nil {
		return 0, err
	}
	return infoPhys, nil
}

// memoryBoundaries reports the legacy mem_lower/mem_upper fields: KiB of
// free memory below 1MiB and the first contiguous free run starting at
// 1MiB, the two numbers pre-E820 kernels relied on.
func memoryBoundaries(ranges []memmgr.Range) (lower, upper uint32) {
	for _, r := range ranges {
		if r.Type != memmgr.Free {
			continue
		}
		if r.Start == 0 && r.Size <= 0x100000 {
			lower = uint32(r.Size / 1024)
		}
		if r.Start == 0x100000 {
			upper = uint32(r.Size / 1024)
		}
	}
	return lower, upper
}

func multibootRangeType(t memmgr.RangeType) uint32 {
	if t == memmgr.Free {
		return 1
	}
	return 2
}
