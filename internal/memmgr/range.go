// Package memmgr implements the physical memory manager: a typed
// physical-range tracker with alloc/free/add/protect/finalize, backed by
// either a self-managed free list (BIOS) or the firmware's own allocator
// (UEFI). Both backends satisfy the Manager interface so the rest of the
// boot core (internal/initium in particular) never needs to know which one
// is running.
package memmgr

import "fmt"

// PageSize is the architecture page size assumed by the core; real
// architectures may override it, but every example in this spec's scope
// (x86/x86-64) uses 4 KiB.
const PageSize = 0x1000

// TargetPhysMin is the lowest physical address the manager will ever hand
// out by default, keeping the loader off real-mode-era reserved low
// memory.
const TargetPhysMin = 0x1000

// RangeType classifies a physical range.
type RangeType int

const (
	Free RangeType = iota
	Allocated
	Reclaimable
	PageTables
	Stack
	Modules
	Internal
)

func (t RangeType) String() string {
	switch t {
	case Free:
		return "free"
	case Allocated:
		return "allocated"
	case Reclaimable:
		return "reclaimable"
	case PageTables:
		return "page-tables"
	case Stack:
		return "stack"
	case Modules:
		return "modules"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("range-type(%d)", int(t))
	}
}

// Range is a page-aligned, non-empty physical range. The zero value is not
// meaningful; Ranges are always constructed by the Manager.
type Range struct {
	Start uint64
	Size  uint64
	Type  RangeType
}

func (r Range) End() uint64 { return r.Start + r.Size }

func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End() && o.Start < r.End()
}

func (r Range) Contains(o Range) bool {
	return r.Start <= o.Start && o.End() <= r.End()
}

// Flags modifies an Alloc call.
type Flags uint

const (
	// High prefers the highest address satisfying the constraints.
	High Flags = 1 << iota
	// CanFail returns NoMemory instead of panicking on exhaustion.
	CanFail
)

// AllocRequest bundles the constraints an allocation takes. Align and
// MinAlign of 0 mean PageSize. Max of 0 means "architecture max"
// (math.MaxUint64 in this implementation, since architecture-specific
// ceilings are out of core scope).
type AllocRequest struct {
	Size     uint64
	Align    uint64
	MinAlign uint64
	Min      uint64
	Max      uint64
	Type     RangeType
	Flags    Flags
}

// Manager is the contract both backends (internal/memmgr's self-managed
// free list and firmware-backed allocator) satisfy.
type Manager interface {
	// Alloc reserves a physical range satisfying req and returns its
	// start address. Align retries downward in powers of two until
	// MinAlign; on total exhaustion it returns status.NoMemory if
	// req.Flags has CanFail set, else panics.
	Alloc(req AllocRequest) (phys uint64, err error)

	// Free returns a previously allocated range (identified by its
	// start address and size) to Free.
	Free(phys, size uint64) error

	// Add imports a firmware-reported range at init time.
	Add(start, size uint64, t RangeType) error

	// Protect reserves [start, start+size) for loader-critical use,
	// splitting any Free range it overlaps.
	Protect(start, size uint64, t RangeType) error

	// Finalize produces the ordered, coalesced memory map the kernel
	// receives: no overlaps, adjacent same-type ranges merged,
	// Internal-typed ranges converted to Free.
	Finalize() []Range
}
