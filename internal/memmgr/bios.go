package memmgr

import (
	"math"
	"sort"

	"github.com/gil0mendes/Initium-sub000/internal/bootlog"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// BIOS is the self-managed backend: a list of typed ranges covering
// everything Add has imported, sorted by start address. Allocation scans
// the Free ranges directly rather than keeping a separate free list,
// since the whole range list is rarely more than a few dozen entries for
// a boot-time memory map.
type BIOS struct {
	ranges []Range
}

// NewBIOS returns an empty manager; call Add for every firmware-reported
// range before allocating.
func NewBIOS() *BIOS {
	return &BIOS{}
}

func roundDown(v, align uint64) uint64 { return v &^ (align - 1) }
func roundUp(v, align uint64) uint64   { return roundDown(v+align-1, align) }

func (m *BIOS) sortRanges() {
	sort.Slice(m.ranges, func(i, j int) bool { return m.ranges[i].Start < m.ranges[j].Start })
}

func (m *BIOS) Add(start, size uint64, t RangeType) error {
	if size == 0 || start%PageSize != 0 || size%PageSize != 0 {
		return status.New(status.InvalidArg, "range must be non-empty and page-aligned")
	}
	for _, r := range m.ranges {
		if r.Overlaps(Range{Start: start, Size: size}) {
			return status.Newf(status.InvalidArg, "range %#x..%#x overlaps existing %s range", start, start+size, r.Type)
		}
	}
	m.ranges = append(m.ranges, Range{Start: start, Size: size, Type: t})
	m.sortRanges()
	return nil
}

func (m *BIOS) Protect(start, size uint64, t RangeType) error {
	start = roundDown(start, PageSize)
	size = roundUp(size, PageSize)
	target := Range{Start: start, Size: size}

	var out []Range
	covered := uint64(0)
	for _, r := range m.ranges {
		if !r.Overlaps(target) {
			out = append(out, r)
			continue
		}
		if r.Type != Free {
			return status.Newf(status.InvalidArg, "cannot protect %#x..%#x: overlaps non-free %s range", start, start+size, r.Type)
		}
		// Split r around [start, start+size).
		if r.Start < target.Start {
			out = append(out, Range{Start: r.Start, Size: target.Start - r.Start, Type: Free})
		}
		lo := max64(r.Start, target.Start)
		hi := min64(r.End(), target.End())
		out = append(out, Range{Start: lo, Size: hi - lo, Type: t})
		covered += hi - lo
		if r.End() > target.End() {
			out = append(out, Range{Start: target.End(), Size: r.End() - target.End(), Type: Free})
		}
	}
	if covered != size {
		return status.Newf(status.InvalidArg, "protect range %#x..%#x not entirely free", start, start+size)
	}
	m.ranges = out
	m.sortRanges()
	return nil
}

func (m *BIOS) Alloc(req AllocRequest) (uint64, error) {
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
	max := req.Max
	if max == 0 {
		max = math.MaxUint64
	}

	for a := align; a >= minAlign; a /= 2 {
		if phys, ok := m.tryAlloc(size, a, min, max, req.Type, req.Flags&High != 0); ok {
			bootlog.Log.WithFields(map[string]any{
				"phys": phys, "size": size, "align": a, "type": req.Type.String(),
			}).Debug("memmgr: allocated physical range")
			return phys, nil
		}
		if a == minAlign {
			break
		}
	}

	if req.Flags&CanFail != 0 {
		return 0, status.Of(status.NoMemory)
	}
	panic(bootlog.NewInternalError("memmgr: insufficient memory for %d bytes (align %#x)", size, align))
}

func (m *BIOS) tryAlloc(size, align, min, max uint64, t RangeType, high bool) (uint64, bool) {
	type candidate struct {
		start uint64
		idx   int
	}
	var best *candidate

	for i, r := range m.ranges {
		if r.Type != Free {
			continue
		}
		lo := roundUp(max64(r.Start, min), align)
		if lo < r.Start {
			lo = roundUp(r.Start, align)
		}
		hi := lo + size
		if hi > r.End() || hi-1 > max {
			// Try shifting down within the range to respect max.
			if max+1 >= size {
				altLo := roundDown(min64(max+1-size, r.End()-size), align)
				if altLo >= r.Start && altLo >= min && altLo+size <= r.End() && altLo+size-1 <= max {
					lo, hi = altLo, altLo+size
				} else {
					continue
				}
			} else {
				continue
			}
		}
		if high {
			// Move to the highest aligned start the range and max allow.
			top := r.End()
			if max != math.MaxUint64 && max+1 < top {
				top = max + 1
			}
			if hiLo := roundDown(top-size, align); hiLo > lo {
				lo = hiLo
			}
		}
		c := candidate{start: lo, idx: i}
		if best == nil {
			best = &c
		} else if high && c.start > best.start {
			best = &c
		} else if !high && c.start < best.start {
			best = &c
		}
	}
	if best == nil {
		return 0, false
	}

	r := m.ranges[best.idx]
	lo := best.start
	m.splitAndMark(best.idx, r, lo, size, t)
	return lo, true
}

func (m *BIOS) splitAndMark(idx int, r Range, lo, size uint64, t RangeType) {
	var replacement []Range
	if lo > r.Start {
		replacement = append(replacement, Range{Start: r.Start, Size: lo - r.Start, Type: Free})
	}
	replacement = append(replacement, Range{Start: lo, Size: size, Type: t})
	if lo+size < r.End() {
		replacement = append(replacement, Range{Start: lo + size, Size: r.End() - lo - size, Type: Free})
	}

	out := make([]Range, 0, len(m.ranges)+len(replacement)-1)
	out = append(out, m.ranges[:idx]...)
	out = append(out, replacement...)
	out = append(out, m.ranges[idx+1:]...)
	m.ranges = out
}

func (m *BIOS) Free(phys, size uint64) error {
	size = roundUp(size, PageSize)
	for i, r := range m.ranges {
		if r.Start == phys && r.Size == size {
			m.ranges[i].Type = Free
			m.coalesce()
			return nil
		}
	}
	return status.Newf(status.InvalidArg, "no allocation at %#x..%#x", phys, phys+size)
}

func (m *BIOS) coalesce() {
	m.sortRanges()
	out := m.ranges[:0:0]
	for _, r := range m.ranges {
		if n := len(out); n > 0 && out[n-1].Type == r.Type && out[n-1].End() == r.Start {
			out[n-1].Size += r.Size
			continue
		}
		out = append(out, r)
	}
	m.ranges = out
}

// Finalize implements Manager.Finalize: coalesce, then fold Internal into
// Free. Internal ranges are loader-private scratch (trampoline identity
// map, temporary buffers) that the kernel is free to reuse once it has
// consumed the boot info they fed.
func (m *BIOS) Finalize() []Range {
	m.coalesce()
	for i := range m.ranges {
		if m.ranges[i].Type == Internal {
			m.ranges[i].Type = Free
		}
	}
	m.coalesce()
	out := make([]Range, len(m.ranges))
	copy(out, m.ranges)
	return out
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
