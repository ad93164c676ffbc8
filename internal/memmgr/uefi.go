package memmgr

import (
	"sort"

	"github.com/gil0mendes/Initium-sub000/internal/bootlog"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// AllocType mirrors the three EFI page-allocation types. Alloc uses
// AllocMaxAddress when a request sets Max or High and AllocAnyPages
// otherwise; Protect uses AllocAddress. A request's Min is not passed to
// the firmware.
type AllocType int

const (
	AllocAnyPages AllocType = iota
	AllocMaxAddress
	AllocAddress
)

// Firmware is the subset of the UEFI boot-services page allocator the
// manager needs. Real firmware glue implements this against actual
// EFI_BOOT_SERVICES calls; tests use a fake. Because the firmware's own
// memory map can be invalidated by any allocation, GetMemoryMap is always
// queried fresh, the UEFI backend never caches it.
type Firmware interface {
	AllocatePages(t AllocType, memType uint32, numPages uint64, addr uint64) (uint64, error)
	FreePages(addr uint64, numPages uint64) error
	GetMemoryMap() ([]Range, error)
}

// UEFI is the firmware-backed Manager. Every Alloc delegates to Firmware;
// the manager keeps no independent view of "free" memory, only enough
// bookkeeping (addr+size+type) to satisfy Free and to round-trip its own
// type tags through Finalize, since the OS-defined EFI memory type field
// is how the loader's type survives a trip through get_memory_map.
type UEFI struct {
	fw    Firmware
	owned []Range
}

func NewUEFI(fw Firmware) *UEFI {
	return &UEFI{fw: fw}
}

func (m *UEFI) Add(start, size uint64, t RangeType) error {
	// The firmware already knows about its own memory; Add here only
	// records a loader-side reservation note for bookkeeping/debugging.
	bootlog.Log.WithFields(map[string]any{"start": start, "size": size, "type": t.String()}).
		Debug("memmgr(uefi): imported firmware range")
	return nil
}

func (m *UEFI) Protect(start, size uint64, t RangeType) error {
	start = roundDown(start, PageSize)
	size = roundUp(size, PageSize)
	_, err := m.fw.AllocatePages(AllocAddress, uint32(t), size/PageSize, start)
	if err != nil {
		return status.Newf(status.NoMemory, "protect %#x..%#x: %v", start, start+size, err)
	}
	m.owned = append(m.owned, Range{Start: start, Size: size, Type: t})
	return nil
}

func (m *UEFI) Alloc(req AllocRequest) (uint64, error) {
	size := roundUp(max64(req.Size, 1), PageSize)
	align := req.Align
	if align == 0 {
		align = PageSize
	}
	minAlign := req.MinAlign
	if minAlign == 0 {
		minAlign = PageSize
	}
	min := max64(req.Min, TargetPhysMin)

	allocType, addrHint := translateConstraints(req, min, align)

	for a := align; a >= minAlign; a /= 2 {
		phys, err := m.fw.AllocatePages(allocType, uint32(req.Type), size/PageSize, addrHint)
		if err == nil {
			if phys%a != 0 {
				// Firmware can't honour alignment stricter than page
				// size directly; over-allocate and trim would need a
				// second call, which real UEFI loaders do. Here we
				// reject and retry at the next alignment instead of
				// wasting the allocation.
				_ = m.fw.FreePages(phys, size/PageSize)
				continue
			}
			m.owned = append(m.owned, Range{Start: phys, Size: size, Type: req.Type})
			bootlog.Log.WithFields(map[string]any{
				"phys": phys, "size": size, "align": a, "type": req.Type.String(),
			}).Debug("memmgr(uefi): allocated physical range")
			return phys, nil
		}
		if a == minAlign {
			break
		}
	}

	if req.Flags&CanFail != 0 {
		return 0, status.Of(status.NoMemory)
	}
	panic(bootlog.NewInternalError("memmgr(uefi): insufficient memory for %d bytes", size))
}

func translateConstraints(req AllocRequest, min, align uint64) (AllocType, uint64) {
	switch {
	case req.Max != 0:
		return AllocMaxAddress, req.Max
	case req.Flags&High != 0:
		return AllocMaxAddress, ^uint64(0)
	default:
		return AllocAnyPages, 0
	}
}

func (m *UEFI) Free(phys, size uint64) error {
	size = roundUp(size, PageSize)
	if err := m.fw.FreePages(phys, size/PageSize); err != nil {
		return status.Newf(status.InvalidArg, "free %#x: %v", phys, err)
	}
	for i, r := range m.owned {
		if r.Start == phys {
			m.owned = append(m.owned[:i], m.owned[i+1:]...)
			break
		}
	}
	return nil
}

// Finalize queries the firmware's live memory map (never a cached one,
// per the Firmware interface contract). The loader's own ranges already
// carry their types in that map, since Alloc and Protect set each range's
// EFI memory type; owned is not consulted. Internal ranges become Free,
// then the map is sorted by start address and adjacent same-type ranges
// are merged.
func (m *UEFI) Finalize() []Range {
	fwMap, err := m.fw.GetMemoryMap()
	if err != nil {
		bootlog.Log.WithError(err).Warn("memmgr(uefi): get_memory_map failed during finalize")
		fwMap = nil
	}

	out := append([]Range{}, fwMap...)
	for i := range out {
		if out[i].Type == Internal {
			out[i].Type = Free
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	merged := out[:0]
	for _, r := range out {
		if n := len(merged); n > 0 && merged[n-1].Type == r.Type && merged[n-1].End() == r.Start {
			merged[n-1].Size += r.Size
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
