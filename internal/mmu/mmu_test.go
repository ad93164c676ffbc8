package mmu_test

import (
	"testing"

	"github.com/gil0mendes/Initium-sub000/internal/memmgr"
	"github.com/gil0mendes/Initium-sub000/internal/mmu"
	"github.com/stretchr/testify/require"
)

func newCtx(t *testing.T, mode mmu.Mode) mmu.Context {
	t.Helper()
	m := memmgr.NewBIOS()
	require.NoError(t, m.Add(0x100000, 0x1000000, memmgr.Free))
	ctx, err := mmu.NewReferenceBuilder(m).Create(mode, memmgr.PageTables)
	require.NoError(t, err)
	return ctx
}

func TestMapWholeRangeOrFail(t *testing.T) {
	ctx := newCtx(t, mmu.Mode64)
	require.NoError(t, ctx.Map(0x400000, 0x200000, 0x3000))
	require.Len(t, ctx.Mappings(), 1)
}

func TestMapRejectsUnaligned(t *testing.T) {
	ctx := newCtx(t, mmu.Mode64)
	require.Error(t, ctx.Map(0x400001, 0x200000, 0x1000))
}

func TestIdempotentRemapAllowed(t *testing.T) {
	ctx := newCtx(t, mmu.Mode64)
	require.NoError(t, ctx.Map(0x400000, 0x200000, 0x1000))
	require.NoError(t, ctx.Map(0x400000, 0x200000, 0x1000))
	require.Len(t, ctx.Mappings(), 1)
}

func TestConflictingRemapFails(t *testing.T) {
	ctx := newCtx(t, mmu.Mode64)
	require.NoError(t, ctx.Map(0x400000, 0x200000, 0x1000))
	err := ctx.Map(0x400000, 0x300000, 0x1000)
	require.Error(t, err)
}

func TestMode32RejectsHighVirt(t *testing.T) {
	ctx := newCtx(t, mmu.Mode32)
	err := ctx.Map(1<<32, 0x200000, 0x1000)
	require.Error(t, err)
}
