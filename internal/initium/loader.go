package initium

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"

	"github.com/gil0mendes/Initium-sub000/internal/bootlog"
	"github.com/gil0mendes/Initium-sub000/internal/config"
	"github.com/gil0mendes/Initium-sub000/internal/memmgr"
	"github.com/gil0mendes/Initium-sub000/internal/mmu"
	"github.com/gil0mendes/Initium-sub000/internal/status"
	"github.com/gil0mendes/Initium-sub000/internal/vmem"
)

const pageSize = memmgr.PageSize

// defaultWindowSize is the virtual address space window used when an
// image carries no Load tag (or one with no explicit map size): a full
// 32-bit range, generous enough for a flat kernel that doesn't care where
// its extra mappings land.
const defaultWindowSize = uint64(1) << 32

// defaultStackSize is the loader-provided boot stack a kernel runs its
// earliest code on, before it sets up one of its own.
const defaultStackSize = 16 * 1024

// maxMemoryRangesEstimate bounds how many physical memory ranges the
// loader will describe in a single boot. The tag list's own storage has
// to be sized before the final memory map is known (the map only
// stabilizes once every allocation, including the tag list's, has
// happened), so this is a generous fixed ceiling rather than a computed
// exact figure.
const maxMemoryRangesEstimate = 64

// PhysMem is the loader's view of physical memory: enough to copy segment
// data and zero bss. It plays the same role u-root's multiboot loader
// gives kexec.Memory's segment list — a place to stage bytes that will
// become the booted kernel's memory image. A real architecture backend
// implements this against identity-mapped scratch space; tests and
// cmd/initium-loader's host harness use SimMemory.
type PhysMem interface {
	Write(addr uint64, data []byte) error
	Zero(addr, size uint64) error
}

// SimMemory is a map-backed PhysMem for tests and the host harness: it
// records writes instead of touching real memory.
type SimMemory struct {
	pages map[uint64][]byte
}

func NewSimMemory() *SimMemory {
	return &SimMemory{pages: make(map[uint64][]byte)}
}

func (s *SimMemory) Write(addr uint64, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	s.pages[addr] = buf
	return nil
}

func (s *SimMemory) Zero(addr, size uint64) error {
	s.pages[addr] = make([]byte, size)
	return nil
}

// Read returns the bytes previously written at addr, truncated or
// zero-padded to size. For test assertions only.
func (s *SimMemory) Read(addr, size uint64) []byte {
	out := make([]byte, size)
	if b, ok := s.pages[addr]; ok {
		copy(out, b)
	}
	return out
}

// ModuleFile is one boot module the loader places in its own allocated
// range and describes with a Module tag.
type ModuleFile struct {
	Name string
	Data []byte
}

// LoadRequest carries the caller-supplied inputs to Load beyond the image
// itself: kernel option overrides (read from a configuration
// environment), modules to place alongside the kernel, and the boot
// device identity to report.
type LoadRequest struct {
	Env            *config.Environment
	Modules        []ModuleFile
	BootDeviceUUID string
	HasBootDevice  bool
}

// Result is everything an architecture-specific entry trampoline needs to
// hand control to the kernel.
type Result struct {
	Entry      uint64 // kernel virtual entry point (ELF e_entry)
	TagsPhys   uint64
	TagsSize   uint32
	StackBase  uint64
	StackPhys  uint64
	StackSize  uint32
	Context    mmu.Context // the kernel's own address space
	Identity   mmu.Context // identity mapping covering the trampoline page
	Trampoline uint64      // physical address of the trampoline page
}

// EntryFunc documents the calling convention an architecture's assembly
// trampoline must implement: switch to identity mapping, copy magic and
// tagsPhys into the agreed registers, switch to ctx, then jump to entry.
// It is never called from Go; this type exists to pin down the contract
// a real trampoline has to satisfy.
type EntryFunc func(entry uint64, magic uint32, tagsPhys uint64)

// Loader binds the physical memory manager, MMU builder, and memory
// writer an architecture needs to place a kernel image.
type Loader struct {
	Mgr     memmgr.Manager
	Builder mmu.Builder
	Mem     PhysMem
}

// Load places img's segments and any requested mappings and modules,
// builds the kernel's address space, and authors the boot information tag
// list it will receive at entry.
func (l *Loader) Load(img *Image, req LoadRequest) (*Result, error) {
	order := img.ELF.ByteOrder
	mode := loadMode(img)

	va := newWindow(img)
	_ = va.Insert(0, pageSize) // reserve the null page; harmless if it lies outside the window.

	ctx, err := l.Builder.Create(mode, memmgr.PageTables)
	if err != nil {
		return nil, err
	}

	kernelPhys, err := l.placeSegments(img, ctx, va)
	if err != nil {
		return nil, err
	}

	mappings, err := l.applyMappings(img, ctx, va)
	if err != nil {
		return nil, err
	}

	body := NewTagBuilder(order)
	for _, opt := range img.Options {
		val, err := resolveOption(opt, req.Env, order)
		if err != nil {
			return nil, err
		}
		body.Option(opt.Type, opt.Name, val)
	}
	for _, m := range mappings {
		body.Vmem(m.Virt, m.Size, m.Phys)
	}
	for _, mod := range req.Modules {
		phys, err := l.Mgr.Alloc(memmgr.AllocRequest{Size: uint64(len(mod.Data)), Type: memmgr.Modules})
		if err != nil {
			return nil, err
		}
		if err := l.Mem.Write(phys, mod.Data); err != nil {
			return nil, err
		}
		body.Module(phys, uint32(len(mod.Data)), mod.Name)
	}
	if req.HasBootDevice {
		body.BootDeviceDisk(0, req.BootDeviceUUID)
	} else {
		body.BootDeviceNone()
	}
	if img.Image.Flags&ImageFlagSections != 0 {
		entsize, shstrndx, data := buildSectionsPayload(img.ELF)
		body.Sections(entsize, shstrndx, data)
	}
	if img.HasVideo {
		// Real mode negotiation belongs to firmware and is out of core
		// scope; echo back a conservative default text mode so the tag
		// is always present when the image asked for one.
		body.VideoVGA(80, 25, 0, 0, 0, 0, 0)
	}
	earlyBody := body.Bytes()

	stackBase, stackPhys, stackSize, err := l.allocateStack(va)
	if err != nil {
		return nil, err
	}
	if err := ctx.Map(stackBase, stackPhys, uint64(stackSize)); err != nil {
		return nil, err
	}

	trampPhys, identity, err := l.buildTrampoline(mode)
	if err != nil {
		return nil, err
	}

	probe := NewTagBuilder(order)
	probe.Core(0, 0, 0, 0, 0, 0)
	coreLen := len(probe.Bytes())

	estimate := coreLen + len(earlyBody) + memoryTagsLen(maxMemoryRangesEstimate) + noneTagLen
	tagsPhys, err := l.Mgr.Alloc(memmgr.AllocRequest{Size: uint64(estimate), Type: memmgr.Internal})
	if err != nil {
		return nil, err
	}

	// Finalize is only meaningful once every allocation the boot has made
	// is in place, the tag list's own storage included: everything this
	// loader marked Internal (scratch it no longer needs once the kernel
	// reads the tags) is folded back into Free here.
	ranges := l.Mgr.Finalize()
	if len(ranges) > maxMemoryRangesEstimate {
		return nil, status.Newf(status.NoMemory, "memory map has %d ranges, more than the %d reserved for it", len(ranges), maxMemoryRangesEstimate)
	}

	actualLen := coreLen + len(earlyBody) + memoryTagsLen(len(ranges)) + noneTagLen

	final := NewTagBuilder(order)
	final.Core(tagsPhys, uint32(actualLen), kernelPhys, stackBase, stackPhys, stackSize)
	final.buf.Write(earlyBody)
	for _, r := range ranges {
		final.Memory(r.Start, r.Size, MemoryTypeOf(r.Type))
	}
	tagBytes := final.Finalize()

	if err := l.Mem.Write(tagsPhys, tagBytes); err != nil {
		return nil, err
	}

	bootlog.Log.WithFields(map[string]any{
		"entry": img.ELF.Entry, "tags_phys": tagsPhys, "tags_size": len(tagBytes),
	}).Info("initium: image placed")

	return &Result{
		Entry:      img.ELF.Entry,
		TagsPhys:   tagsPhys,
		TagsSize:   uint32(len(tagBytes)),
		StackBase:  stackBase,
		StackPhys:  stackPhys,
		StackSize:  stackSize,
		Context:    ctx,
		Identity:   identity,
		Trampoline: trampPhys,
	}, nil
}

func loadMode(img *Image) mmu.Mode {
	if img.ELF.Class == elf.ELFCLASS32 {
		return mmu.Mode32
	}
	return mmu.Mode64
}

func newWindow(img *Image) *vmem.Allocator {
	base, size := uint64(0), defaultWindowSize
	if img.HasLoad && img.Load.VirtMapSize != 0 {
		base, size = img.Load.VirtMapBase, img.Load.VirtMapSize
	}
	return vmem.New(base, size)
}

// placeSegments allocates physical backing for every PT_LOAD segment,
// reserves and maps its virtual range, and copies its file data in. A
// Fixed load tag pins a segment at its own p_paddr via Protect instead of
// going through the alignment-retry allocator; everything else uses the
// Load tag's alignment/min-alignment window (page size if unset).
func (l *Loader) placeSegments(img *Image, ctx mmu.Context, va *vmem.Allocator) (kernelPhys uint64, err error) {
	var align, minAlign uint64 = pageSize, pageSize
	if img.HasLoad {
		if img.Load.Alignment != 0 {
			align = img.Load.Alignment
		}
		if img.Load.MinAlignment != 0 {
			minAlign = img.Load.MinAlignment
		}
	}

	haveKernel := false
	for _, p := range img.ELF.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		vstart := roundDown(p.Vaddr, pageSize)
		vsize := roundUp(p.Vaddr+p.Memsz, pageSize) - vstart

		if err := va.Insert(vstart, vsize); err != nil {
			return 0, status.Newf(status.InvalidArg, "segment at %#x conflicts with another mapping: %v", vstart, err)
		}

		var phys uint64
		if img.HasLoad && img.Load.Fixed() {
			phys = roundDown(p.Paddr, pageSize)
			if err := l.Mgr.Protect(phys, vsize, memmgr.Allocated); err != nil {
				return 0, status.Newf(status.NoMemory, "fixed segment at %#x unavailable: %v", phys, err)
			}
		} else {
			var allocErr error
			phys, allocErr = l.Mgr.Alloc(memmgr.AllocRequest{Size: vsize, Align: align, MinAlign: minAlign, Type: memmgr.Allocated})
			if allocErr != nil {
				return 0, allocErr
			}
		}

		if !haveKernel || phys < kernelPhys {
			kernelPhys, haveKernel = phys, true
		}

		if err := ctx.Map(vstart, phys, vsize); err != nil {
			return 0, err
		}
		if err := l.copySegment(p, vstart, phys, vsize); err != nil {
			return 0, err
		}
	}
	if !haveKernel {
		return 0, status.New(status.MalformedImage, "image has no PT_LOAD segments")
	}
	return kernelPhys, nil
}

func (l *Loader) copySegment(p *elf.Prog, vstart, phys, vsize uint64) error {
	if err := l.Mem.Zero(phys, vsize); err != nil {
		return err
	}
	data, err := io.ReadAll(p.Open())
	if err != nil {
		return status.Newf(status.MalformedImage, "reading segment data: %v", err)
	}
	if len(data) == 0 {
		return nil
	}
	return l.Mem.Write(phys+(p.Vaddr-vstart), data)
}

// applyMappings honours every Mapping image tag: an explicit Virt
// reserves exactly that address (failing on conflict with the kernel's
// own segments or an earlier mapping tag), while Virt == 0 asks the
// loader to pick a fresh address within the window.
func (l *Loader) applyMappings(img *Image, ctx mmu.Context, va *vmem.Allocator) ([]mmu.Mapping, error) {
	var out []mmu.Mapping
	for _, m := range img.Mappings {
		size := roundUp(max64(m.Size, 1), pageSize)

		var virt uint64
		if m.Virt == 0 {
			v, ok := va.Alloc(size, pageSize)
			if !ok {
				return nil, status.New(status.NoMemory, "no virtual space for mapping tag")
			}
			virt = v
		} else {
			virt = roundDown(m.Virt, pageSize)
			if err := va.Insert(virt, size); err != nil {
				return nil, status.Newf(status.InvalidArg, "mapping tag at %#x conflicts with an existing mapping: %v", virt, err)
			}
		}

		if err := ctx.Map(virt, m.Phys, size); err != nil {
			return nil, err
		}
		out = append(out, mmu.Mapping{Virt: virt, Phys: m.Phys, Size: size})
	}
	return out, nil
}

func (l *Loader) allocateStack(va *vmem.Allocator) (base, phys uint64, size uint32, err error) {
	sz := uint64(defaultStackSize)
	phys, err = l.Mgr.Alloc(memmgr.AllocRequest{Size: sz, Type: memmgr.Stack})
	if err != nil {
		return 0, 0, 0, err
	}
	v, ok := va.Alloc(sz, pageSize)
	if !ok {
		return 0, 0, 0, status.New(status.NoMemory, "no virtual space for the boot stack")
	}
	if err := l.Mem.Zero(phys, sz); err != nil {
		return 0, 0, 0, err
	}
	return v, phys, uint32(sz), nil
}

// buildTrampoline reserves a one-page Internal range for the
// architecture's entry trampoline and an identity-mapped Context for it
// to run in: the trampoline executes before the kernel's own Context is
// live, so its own code must be reachable under whatever Context is
// active at the moment of the switch.
func (l *Loader) buildTrampoline(mode mmu.Mode) (phys uint64, identity mmu.Context, err error) {
	phys, err = l.Mgr.Alloc(memmgr.AllocRequest{Size: pageSize, Type: memmgr.Internal})
	if err != nil {
		return 0, nil, err
	}
	identity, err = l.Builder.Create(mode, memmgr.PageTables)
	if err != nil {
		return 0, nil, err
	}
	if err := identity.Map(phys, phys, pageSize); err != nil {
		return 0, nil, err
	}
	return phys, identity, nil
}

// resolveOption picks an option's final value: the environment's value if
// one is set, else the image's declared default. A set value whose type
// does not match the option's type is an error.
func resolveOption(opt OptionTag, env *config.Environment, order binary.ByteOrder) ([]byte, error) {
	if env == nil {
		return opt.Default, nil
	}
	v, ok := env.Lookup(opt.Name)
	if !ok {
		return opt.Default, nil
	}
	switch opt.Type {
	case OptionBoolean:
		if v.Kind != config.KindBoolean {
			return nil, status.Newf(status.InvalidArg, "option %q: expected a boolean", opt.Name)
		}
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case OptionInteger:
		if v.Kind != config.KindInteger {
			return nil, status.Newf(status.InvalidArg, "option %q: expected an integer", opt.Name)
		}
		buf := make([]byte, 8)
		order.PutUint64(buf, v.Int)
		return buf, nil
	case OptionString:
		if v.Kind != config.KindString {
			return nil, status.Newf(status.InvalidArg, "option %q: expected a string", opt.Name)
		}
		return append([]byte(v.Str), 0), nil
	default:
		return opt.Default, nil
	}
}

// buildSectionsPayload re-encodes an ELF file's section table for the
// Sections tag. debug/elf does not expose the raw section header bytes
// once a file is parsed (elf.Section only carries the resolved name, not
// its offset into the original string table), so this writes a simplified
// fixed-width record per section rather than replaying the native Shdr
// layout verbatim; shstrndx is always 0 since names are embedded inline
// and there is no separate string table to index.
func buildSectionsPayload(f *elf.File) (entsize, shstrndx uint32, data []byte) {
	const nameFieldLen = 32
	entsize = uint32(nameFieldLen + 4 + 8 + 8 + 8 + 8)

	var buf bytes.Buffer
	for _, s := range f.Sections {
		var name [nameFieldLen]byte
		copy(name[:], s.Name)
		buf.Write(name[:])
		binary.Write(&buf, f.ByteOrder, uint32(s.Type))
		binary.Write(&buf, f.ByteOrder, uint64(s.Flags))
		binary.Write(&buf, f.ByteOrder, s.Addr)
		binary.Write(&buf, f.ByteOrder, s.Size)
		binary.Write(&buf, f.ByteOrder, s.Entsize)
	}
	return entsize, 0, buf.Bytes()
}

const noneTagLen = 8

func memoryTagsLen(n int) int {
	return n * (8 + align8(8+8+1))
}

func roundUp(v, a uint64) uint64   { return (v + a - 1) &^ (a - 1) }
func roundDown(v, a uint64) uint64 { return v &^ (a - 1) }

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
