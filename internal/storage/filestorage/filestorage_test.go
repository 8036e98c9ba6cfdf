package filestorage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenWriteReadRoundTrip(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(err)

	f, err := s.Open("file.bin", 10)
	require.NoError(err)
	_, err = f.WriteAt([]byte("hello"), 0)
	require.NoError(err)

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 0)
	require.NoError(err)
	require.Equal("hello", string(buf))

	require.Equal(int64(10), f.Size())
}

func TestOpenMultiFileCreatesSubdirs(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(err)

	_, err = s.Open(filepath.Join("sub", "a.bin"), 4)
	require.NoError(err)
	_, err = os.Stat(filepath.Join(dir, "sub", "a.bin"))
	require.NoError(err)
}

func TestLRUEvictsAndReopens(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(err)
	s.SetMaxOpenFiles(1)

	f1, err := s.Open("a.bin", 4)
	require.NoError(err)
	_, err = s.Open("b.bin", 4)
	require.NoError(err)

	// a.bin's handle should have been evicted by the cap of 1; a
	// subsequent operation must transparently reopen it.
	_, err = f1.WriteAt([]byte("abcd"), 0)
	require.NoError(err)
}
