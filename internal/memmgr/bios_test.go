package memmgr_test

import (
	"testing"

	"github.com/gil0mendes/Initium-sub000/internal/memmgr"
	"github.com/stretchr/testify/require"
)

func newPopulated(t *testing.T) *memmgr.BIOS {
	t.Helper()
	m := memmgr.NewBIOS()
	require.NoError(t, m.Add(0x100000, 0x10000000, memmgr.Free))
	return m
}

func TestAllocFreeRoundTrip(t *testing.T) {
	m := newPopulated(t)

	phys, err := m.Alloc(memmgr.AllocRequest{Size: 0x4000, Type: memmgr.Allocated})
	require.NoError(t, err)
	require.Zero(t, phys%memmgr.PageSize)

	require.NoError(t, m.Free(phys, 0x4000))

	final := m.Finalize()
	require.Len(t, final, 1)
	require.Equal(t, memmgr.Free, final[0].Type)
	require.Equal(t, uint64(0x100000), final[0].Start)
	require.Equal(t, uint64(0x10000000), final[0].Size)
}

func TestAllocRespectsAlignment(t *testing.T) {
	m := newPopulated(t)
	phys, err := m.Alloc(memmgr.AllocRequest{Size: 0x1000, Align: 0x200000, Type: memmgr.Allocated})
	require.NoError(t, err)
	require.Zero(t, phys%0x200000)
}

func TestAllocHighPrefersTopOfWindow(t *testing.T) {
	m := newPopulated(t)
	phys, err := m.Alloc(memmgr.AllocRequest{Size: 0x1000, Type: memmgr.Allocated, Flags: memmgr.High})
	require.NoError(t, err)
	require.Equal(t, uint64(0x100000+0x10000000-0x1000), phys)
}

func TestAllocNoMemoryWithCanFail(t *testing.T) {
	m := memmgr.NewBIOS()
	require.NoError(t, m.Add(0x100000, 0x1000, memmgr.Free))
	_, err := m.Alloc(memmgr.AllocRequest{Size: 0x2000, Type: memmgr.Allocated, Flags: memmgr.CanFail})
	require.Error(t, err)
}

func TestProtectSplitsFreeRange(t *testing.T) {
	m := newPopulated(t)
	require.NoError(t, m.Protect(0x100000, 0x1000, memmgr.Internal))

	final := m.Finalize()
	// Internal folds back to Free on finalize, so the whole window
	// coalesces into one Free range again.
	require.Len(t, final, 1)
	require.Equal(t, memmgr.Free, final[0].Type)
}

func TestFinalizeCoalescesAdjacentSameType(t *testing.T) {
	m := newPopulated(t)
	a, err := m.Alloc(memmgr.AllocRequest{Size: 0x1000, Min: 0x100000, Max: 0x101000 - 1, Type: memmgr.Allocated})
	require.NoError(t, err)
	require.Equal(t, uint64(0x100000), a)

	b, err := m.Alloc(memmgr.AllocRequest{Size: 0x1000, Min: 0x101000, Max: 0x102000 - 1, Type: memmgr.Allocated})
	require.NoError(t, err)
	require.Equal(t, uint64(0x101000), b)

	final := m.Finalize()
	var allocated []memmgr.Range
	for _, r := range final {
		if r.Type == memmgr.Allocated {
			allocated = append(allocated, r)
		}
	}
	require.Len(t, allocated, 1)
	require.Equal(t, uint64(0x2000), allocated[0].Size)
}

func TestNoOverlapAcrossFinalize(t *testing.T) {
	m := newPopulated(t)
	for i := 0; i < 8; i++ {
		_, err := m.Alloc(memmgr.AllocRequest{Size: 0x1000, Type: memmgr.Allocated})
		require.NoError(t, err)
	}
	final := m.Finalize()
	for i := range final {
		for j := range final {
			if i == j {
				continue
			}
			require.False(t, final[i].Overlaps(final[j]), "ranges %v and %v overlap", final[i], final[j])
		}
	}
}
