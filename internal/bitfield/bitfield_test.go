package bitfield

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetTestClear(t *testing.T) {
	require := require.New(t)

	bf := New(20)
	require.False(bf.Test(0))
	bf.Set(0)
	bf.Set(19)
	require.True(bf.Test(0))
	require.True(bf.Test(19))
	require.False(bf.Test(1))
	require.EqualValues(2, bf.Count())

	bf.Clear(0)
	require.False(bf.Test(0))
	require.EqualValues(1, bf.Count())
}

func TestAll(t *testing.T) {
	require := require.New(t)

	bf := New(9)
	require.False(bf.All())
	for i := uint32(0); i < 9; i++ {
		bf.Set(i)
	}
	require.True(bf.All())
}

func TestTrailingBitsClear(t *testing.T) {
	require := require.New(t)

	bf := NewBytes([]byte{0b11000000}, 3)
	require.True(bf.TrailingBitsClear())

	bad := NewBytes([]byte{0b11000001}, 3)
	require.False(bad.TrailingBitsClear())
}

func TestMSBOrdering(t *testing.T) {
	require := require.New(t)

	bf := New(8)
	bf.Set(0)
	require.Equal(byte(0b10000000), bf.Bytes()[0])
}
