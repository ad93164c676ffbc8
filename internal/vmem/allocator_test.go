package vmem_test

import (
	"testing"

	"github.com/gil0mendes/Initium-sub000/internal/vmem"
	"github.com/stretchr/testify/require"
)

func TestAllocPartitionsWindow(t *testing.T) {
	a := vmem.New(0x1000, 0x10000)

	addr, ok := a.Alloc(0x2000, 0x1000)
	require.True(t, ok)
	require.Equal(t, uint64(0x1000), addr)

	free := a.FreeRanges()
	require.Len(t, free, 1)
	require.Equal(t, uint64(0x3000), free[0].Start)
}

func TestInsertFailsOutsideFreeRange(t *testing.T) {
	a := vmem.New(0x1000, 0x10000)
	require.NoError(t, a.Insert(0x1000, 0x1000))
	err := a.Insert(0x1000, 0x1000) // already reserved
	require.Error(t, err)
}

func TestReserveIsBestEffort(t *testing.T) {
	a := vmem.New(0x1000, 0x10000)
	require.NoError(t, a.Insert(0x1000, 0x2000))

	// Overlaps the already-reserved region and extends past it; Reserve
	// should not error, only trim whatever is still free.
	a.Reserve(0x2000, 0x3000)

	for _, r := range a.FreeRanges() {
		require.False(t, r.Overlaps(vmem.Range{Start: 0x2000, Size: 0x3000}))
	}
}

func TestAllocNoOverlapWithReserved(t *testing.T) {
	a := vmem.New(0, 0x10000)
	require.NoError(t, a.Insert(0, 0x1000)) // reserve virtual address 0

	seen := map[uint64]bool{}
	for i := 0; i < 4; i++ {
		addr, ok := a.Alloc(0x1000, 0x1000)
		require.True(t, ok)
		require.NotZero(t, addr)
		require.False(t, seen[addr])
		seen[addr] = true
	}
}

func TestLastFitPrefersHighAddresses(t *testing.T) {
	a := vmem.New(0, 0x10000)
	a.SetLastFit(true)
	addr, ok := a.Alloc(0x1000, 0x1000)
	require.True(t, ok)
	require.Equal(t, uint64(0xF000), addr)
}
