package initium

import (
	"bytes"
	"encoding/binary"

	"github.com/gil0mendes/Initium-sub000/internal/memmgr"
)

// Boot information tag types, written into the tag list the kernel reads
// at entry (INITIUM_TAG_* in the original protocol header).
const (
	TagNone       = 0
	TagCore       = 1
	TagOption     = 2
	TagMemory     = 3
	TagVmem       = 4
	TagPageTables = 5
	TagModule     = 6
	TagVideo      = 7
	TagBootDev    = 8
	TagLog        = 9
	TagSections   = 10
)

// Physical memory range types a Memory tag can describe.
const (
	MemoryFree         = 0
	MemoryAllocated    = 1
	MemoryReclaimable  = 2
	MemoryPageTables   = 3
	MemoryStack        = 4
	MemoryModules      = 5
)

// Boot device types a BootDev tag can describe.
const (
	BootDevNone  = 0
	BootDevDisk  = 1
	BootDevNet   = 2
	BootDevOther = 3
)

// MemoryTypeOf maps a physical range's internal classification onto the
// wire-format memory tag type the kernel expects.
func MemoryTypeOf(t memmgr.RangeType) uint8 {
	switch t {
	case memmgr.Allocated:
		return MemoryAllocated
	case memmgr.Reclaimable:
		return MemoryReclaimable
	case memmgr.PageTables:
		return MemoryPageTables
	case memmgr.Stack:
		return MemoryStack
	case memmgr.Modules:
		return MemoryModules
	default:
		return MemoryFree
	}
}

// TagBuilder assembles the flat, 8-byte-aligned boot information tag list
// a loaded kernel receives: a sequence of {type,size} headers each
// followed by type-specific payload, terminated by a TagNone tag.
type TagBuilder struct {
	buf   bytes.Buffer
	order binary.ByteOrder
}

func NewTagBuilder(order binary.ByteOrder) *TagBuilder {
	return &TagBuilder{order: order}
}

func (b *TagBuilder) writeTag(tagType uint32, payload []byte) {
	padded := align8(len(payload))
	binary.Write(&b.buf, b.order, uint32(tagType))
	binary.Write(&b.buf, b.order, uint32(8+padded))
	b.buf.Write(payload)
	b.buf.Write(make([]byte, padded-len(payload)))
}

func align8(n int) int { return (n + 7) &^ 7 }

// Core writes the mandatory core tag, always first in the list.
func (b *TagBuilder) Core(tagsPhys uint64, tagsSize uint32, kernelPhys, stackBase, stackPhys uint64, stackSize uint32) {
	var payload bytes.Buffer
	binary.Write(&payload, b.order, tagsPhys)
	binary.Write(&payload, b.order, tagsSize)
	binary.Write(&payload, b.order, uint32(0)) // _pad
	binary.Write(&payload, b.order, kernelPhys)
	binary.Write(&payload, b.order, stackBase)
	binary.Write(&payload, b.order, stackPhys)
	binary.Write(&payload, b.order, stackSize)
	b.writeTag(TagCore, payload.Bytes())
}

// Option writes one resolved kernel option's final value.
func (b *TagBuilder) Option(optType OptionType, name string, value []byte) {
	var payload bytes.Buffer
	nameBytes := append([]byte(name), 0)
	binary.Write(&payload, b.order, uint8(optType))
	binary.Write(&payload, b.order, uint32(len(nameBytes)))
	binary.Write(&payload, b.order, uint32(len(value)))
	payload.Write(nameBytes)
	payload.Write(value)
	b.writeTag(TagOption, payload.Bytes())
}

// Memory describes one physical memory range.
func (b *TagBuilder) Memory(start, size uint64, memType uint8) {
	var payload bytes.Buffer
	binary.Write(&payload, b.order, start)
	binary.Write(&payload, b.order, size)
	binary.Write(&payload, b.order, memType)
	b.writeTag(TagMemory, payload.Bytes())
}

// Vmem describes one virtual-to-physical mapping the loader established.
func (b *TagBuilder) Vmem(start, size, phys uint64) {
	var payload bytes.Buffer
	binary.Write(&payload, b.order, start)
	binary.Write(&payload, b.order, size)
	binary.Write(&payload, b.order, phys)
	b.writeTag(TagVmem, payload.Bytes())
}

// Module describes one loaded boot module.
func (b *TagBuilder) Module(addr uint64, size uint32, name string) {
	var payload bytes.Buffer
	nameBytes := append([]byte(name), 0)
	binary.Write(&payload, b.order, addr)
	binary.Write(&payload, b.order, size)
	binary.Write(&payload, b.order, uint32(len(nameBytes)))
	payload.Write(nameBytes)
	b.writeTag(TagModule, payload.Bytes())
}

// BootDeviceNone writes the boot device tag for a boot source with no
// disk or network identity (e.g. an embedded boot image).
func (b *TagBuilder) BootDeviceNone() {
	var payload bytes.Buffer
	binary.Write(&payload, b.order, uint32(BootDevNone))
	b.writeTag(TagBootDev, payload.Bytes())
}

// BootDeviceDisk writes the boot device tag identifying the disk the
// loader itself booted from, by filesystem UUID.
func (b *TagBuilder) BootDeviceDisk(flags uint32, uuid string) {
	var payload bytes.Buffer
	binary.Write(&payload, b.order, uint32(BootDevDisk))
	binary.Write(&payload, b.order, flags)
	var raw [64]byte
	copy(raw[:], uuid)
	payload.Write(raw[:])
	b.writeTag(TagBootDev, payload.Bytes())
}

// Sections writes the Sections tag, requested via the image tag's
// Sections flag: entry count, entsize, shstrndx and a zero word, followed
// inline by data. The loader builds data with buildSectionsPayload, one
// simplified fixed-width record per ELF section rather than the native
// section header table. No section contents are loaded into memory for
// this tag, and each record's address is the section's own sh_addr, not a
// physical address.
func (b *TagBuilder) Sections(entsize, shstrndx uint32, data []byte) {
	var payload bytes.Buffer
	binary.Write(&payload, b.order, uint32(len(data)/int(entsize)))
	binary.Write(&payload, b.order, entsize)
	binary.Write(&payload, b.order, shstrndx)
	binary.Write(&payload, b.order, uint32(0))
	payload.Write(data)
	b.writeTag(TagSections, payload.Bytes())
}

// VideoVGA writes the negotiated video mode tag, VGA text mode variant.
func (b *TagBuilder) VideoVGA(cols, lines, x, y uint8, memPhys, memVirt uint64, memSize uint32) {
	var payload bytes.Buffer
	binary.Write(&payload, b.order, uint32(1)) // INITIUM_VIDEO_VGA
	binary.Write(&payload, b.order, uint32(0))
	binary.Write(&payload, b.order, cols)
	binary.Write(&payload, b.order, lines)
	binary.Write(&payload, b.order, x)
	binary.Write(&payload, b.order, y)
	binary.Write(&payload, b.order, uint32(0))
	binary.Write(&payload, b.order, memPhys)
	binary.Write(&payload, b.order, memVirt)
	binary.Write(&payload, b.order, memSize)
	b.writeTag(TagVideo, payload.Bytes())
}

// Finalize appends the terminating None tag and returns the complete tag
// list, ready to be written into the physical memory the core tag's
// tags_phys field points to.
func (b *TagBuilder) Finalize() []byte {
	b.writeTag(TagNone, nil)
	return b.buf.Bytes()
}

// Bytes returns the tags written so far, without a terminating None tag.
// The core tag is self-referential (its tags_phys/tags_size describe the
// whole list including itself), so the loader measures a tag list's size
// with Bytes before it knows where to place it, then builds the real list
// with Core prepended once the placement is known.
func (b *TagBuilder) Bytes() []byte {
	return b.buf.Bytes()
}
