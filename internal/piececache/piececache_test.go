package piececache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	require := require.New(t)
	c := New(100)
	c.Put(0, 0, 4, []byte("abcd"))
	data, ok := c.Get(0, 0, 4)
	require.True(ok)
	require.Equal("abcd", string(data))
}

func TestEvictsOverBudget(t *testing.T) {
	require := require.New(t)
	c := New(8)
	c.Put(0, 0, 4, []byte("aaaa"))
	c.Put(1, 0, 4, []byte("bbbb"))
	c.Put(2, 0, 4, []byte("cccc"))
	_, ok := c.Get(0, 0, 4)
	require.False(ok, "oldest entry should have been evicted")
	_, ok = c.Get(2, 0, 4)
	require.True(ok)
}
