// Package vmem implements a virtual-range allocator: a bounded window
// [base, base+size) tracked as a free list, used by internal/initium to
// lay out a kernel's address space.
package vmem

import (
	"sort"

	"github.com/gil0mendes/Initium-sub000/internal/status"
)

const pageSize = 0x1000

// Range is a page-aligned [Start, Start+Size) virtual range.
type Range struct {
	Start uint64
	Size  uint64
}

func (r Range) End() uint64 { return r.Start + r.Size }

func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End() && o.Start < r.End()
}

// Allocator tracks free ranges within [Base, Base+Size). The free list
// plus whatever the caller has allocated always partitions the window;
// Allocator itself only tracks the free side, since callers (internal
// /initium's mapping table) already remember what they allocated.
type Allocator struct {
	Base  uint64
	Size  uint64
	free  []Range
	lastFit bool
}

// New returns an allocator whose entire window starts free.
func New(base, size uint64) *Allocator {
	return &Allocator{Base: base, Size: size, free: []Range{{Start: base, Size: size}}}
}

// SetLastFit switches the scan direction used by Alloc: last-fit (highest
// address first) instead of the default first-fit. Used when laying out a
// kernel address space top-down.
func (a *Allocator) SetLastFit(v bool) { a.lastFit = v }

func roundUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Alloc finds size bytes aligned to align within the window and returns
// the chosen address. align of 0 means page size.
func (a *Allocator) Alloc(size, align uint64) (uint64, bool) {
	if align == 0 {
		align = pageSize
	}
	size = roundUp(size, pageSize)

	order := make([]int, len(a.free))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		if a.lastFit {
			return a.free[order[i]].Start > a.free[order[j]].Start
		}
		return a.free[order[i]].Start < a.free[order[j]].Start
	})

	for _, idx := range order {
		r := a.free[idx]
		var start uint64
		if a.lastFit {
			candidate := r.End() - size
			start = candidate &^ (align - 1)
			if start < r.Start {
				continue
			}
		} else {
			start = roundUp(r.Start, align)
		}
		if start+size > r.End() || start < r.Start {
			continue
		}
		a.splitOut(idx, Range{Start: start, Size: size})
		return start, true
	}
	return 0, false
}

// Insert reserves [addr, addr+size) exactly, failing unless it lies
// wholly within a single free range.
func (a *Allocator) Insert(addr, size uint64) error {
	target := Range{Start: addr, Size: size}
	for i, r := range a.free {
		if r.Start <= target.Start && target.End() <= r.End() {
			a.splitOut(i, target)
			return nil
		}
	}
	return status.Newf(status.InvalidArg, "virtual range %#x..%#x is not wholly free", addr, addr+size)
}

// Reserve is Insert's best-effort sibling: it trims whatever portion of
// [addr, addr+size) is currently free, ignoring the rest. Used to exclude
// the loader's own virtual footprint from a kernel address space where
// part of that footprint may already be outside the window.
func (a *Allocator) Reserve(addr, size uint64) {
	target := Range{Start: addr, Size: size}
	for i := 0; i < len(a.free); i++ {
		r := a.free[i]
		if !r.Overlaps(target) {
			continue
		}
		lo := max64(r.Start, target.Start)
		hi := min64(r.End(), target.End())
		a.splitOut(i, Range{Start: lo, Size: hi - lo})
		i = -1 // restart: indices shifted after split.
	}
}

// Free returns [addr, addr+size) to the free list, merging with
// neighbouring free ranges.
func (a *Allocator) Free(addr, size uint64) {
	a.free = append(a.free, Range{Start: addr, Size: size})
	a.coalesce()
}

func (a *Allocator) splitOut(idx int, target Range) {
	r := a.free[idx]
	var repl []Range
	if target.Start > r.Start {
		repl = append(repl, Range{Start: r.Start, Size: target.Start - r.Start})
	}
	if target.End() < r.End() {
		repl = append(repl, Range{Start: target.End(), Size: r.End() - target.End()})
	}
	out := make([]Range, 0, len(a.free)+len(repl)-1)
	out = append(out, a.free[:idx]...)
	out = append(out, repl...)
	out = append(out, a.free[idx+1:]...)
	a.free = out
}

func (a *Allocator) coalesce() {
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].Start < a.free[j].Start })
	out := a.free[:0:0]
	for _, r := range a.free {
		if n := len(out); n > 0 && out[n-1].End() == r.Start {
			out[n-1].Size += r.Size
			continue
		}
		out = append(out, r)
	}
	a.free = out
}

// FreeRanges returns a copy of the current free list, for tests and
// debugging.
func (a *Allocator) FreeRanges() []Range {
	out := make([]Range, len(a.free))
	copy(out, a.free)
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
