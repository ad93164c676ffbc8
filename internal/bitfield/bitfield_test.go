package bitfield_test

import (
	"testing"

	"github.com/gil0mendes/Initium-sub000/internal/bitfield"
	"github.com/stretchr/testify/require"
)

type loadFlags struct {
	Fixed     bool   `bitfield:",1"`
	HighAlloc bool   `bitfield:",1"`
	Reserved  uint32 `bitfield:",30"`
}

func TestPackUnpackRoundTrip(t *testing.T) {
	in := loadFlags{Fixed: true, HighAlloc: false, Reserved: 7}

	packed, err := bitfield.Pack(&in, &bitfield.Config{NumBits: 32})
	require.NoError(t, err)
	require.Equal(t, uint64(0x1D), packed)

	var out loadFlags
	require.NoError(t, bitfield.Unpack(&out, packed))
	require.Equal(t, in, out)
}

func TestPackRejectsOverflow(t *testing.T) {
	in := loadFlags{Reserved: 1 << 30}
	_, err := bitfield.Pack(&in, &bitfield.Config{NumBits: 32})
	require.Error(t, err)
}
