// Package mmu defines the MMU context contract: an opaque per-kernel
// address space with a map(virt, phys, size) operation. The actual
// page-table encoding is architecture-specific and explicitly out of this
// core's scope; this package defines the interface every architecture
// backend must satisfy, plus a Reference implementation used by tests and
// by cmd/initium-loader's host harness in place of a real architecture.
package mmu

import (
	"sort"

	"github.com/gil0mendes/Initium-sub000/internal/bootlog"
	"github.com/gil0mendes/Initium-sub000/internal/memmgr"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

const pageSize = 0x1000

// Mode selects 32-bit or 64-bit translation.
type Mode int

const (
	Mode32 Mode = 32
	Mode64 Mode = 64
)

// Mapping records one installed virt->phys translation of size bytes.
type Mapping struct {
	Virt uint64
	Phys uint64
	Size uint64
}

// Context is the opaque per-kernel address space handle. Map either
// installs the entire range or fails; partial mappings are never left
// behind.
type Context interface {
	Mode() Mode
	Map(virt, phys, size uint64) error
	Mappings() []Mapping
}

// Builder is the architecture-provided constructor: it draws page-table
// backing pages from mgr with the given type. Real architectures (ARM64,
// x86) implement Builder against their own page table format; Reference
// below is the core's own test/harness backend.
type Builder interface {
	Create(mode Mode, backing memmgr.RangeType) (Context, error)
}

// Reference is a pure-Go Context good enough to exercise every mapping
// invariant without encoding real page table entries: it validates
// alignment and mode-width constraints, detects overlapping/conflicting
// mappings, and allows idempotent remaps of an identical PTE (here: an
// identical Mapping).
type Reference struct {
	mode     Mode
	mgr      memmgr.Manager
	backing  memmgr.RangeType
	tablePhy uint64
	mappings []Mapping
}

// NewReferenceBuilder returns a Builder whose Contexts draw their
// page-table bookkeeping page from mgr with the given backing type.
func NewReferenceBuilder(mgr memmgr.Manager) Builder {
	return &referenceBuilder{mgr: mgr}
}

type referenceBuilder struct{ mgr memmgr.Manager }

func (b *referenceBuilder) Create(mode Mode, backing memmgr.RangeType) (Context, error) {
	phys, err := b.mgr.Alloc(memmgr.AllocRequest{Size: pageSize, Type: backing})
	if err != nil {
		return nil, err
	}
	bootlog.Log.WithFields(map[string]any{"mode": int(mode), "table_phys": phys}).
		Debug("mmu: created context")
	return &Reference{mode: mode, mgr: b.mgr, backing: backing, tablePhy: phys}, nil
}

func (c *Reference) Mode() Mode { return c.mode }

func (c *Reference) Map(virt, phys, size uint64) error {
	if virt%pageSize != 0 || phys%pageSize != 0 || size%pageSize != 0 {
		return status.New(status.InvalidArg, "mmu: virt/phys/size must be page-aligned")
	}
	if c.mode == Mode32 {
		if virt >= 1<<32 {
			return status.Newf(status.InvalidArg, "mmu: virt %#x exceeds 32-bit mode window", virt)
		}
	}

	newRange := Mapping{Virt: virt, Phys: phys, Size: size}
	for _, m := range c.mappings {
		if !overlaps(m, newRange) {
			continue
		}
		if m == newRange {
			return nil // idempotent remap with identical PTE.
		}
		return status.Newf(status.InvalidArg, "mmu: conflicting remap of %#x (have phys %#x, want %#x)", virt, m.Phys, phys)
	}

	c.mappings = append(c.mappings, newRange)
	sort.Slice(c.mappings, func(i, j int) bool { return c.mappings[i].Virt < c.mappings[j].Virt })
	return nil
}

func overlaps(a, b Mapping) bool {
	return a.Virt < b.Virt+b.Size && b.Virt < a.Virt+a.Size
}

func (c *Reference) Mappings() []Mapping {
	out := make([]Mapping, len(c.mappings))
	copy(out, c.mappings)
	return out
}
