package boltdbresumer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/boltdb/bolt"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *bolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resume.db")
	db, err := bolt.Open(path, 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWriteReadRoundTrip(t *testing.T) {
	require := require.New(t)
	db := openTestDB(t)
	r, err := New(db, "torrents", "abc123")
	require.NoError(err)

	spec := Spec{
		InfoHash: []byte("01234567890123456789"),
		Dest:     "/tmp/downloads",
		Port:     6881,
		Name:     "test torrent",
		Trackers: [][]string{{"udp://tracker.example:80"}},
	}
	require.NoError(r.Write(spec))

	got, err := r.Read()
	require.NoError(err)
	require.Equal(spec.Name, got.Name)
	require.Equal(spec.Port, got.Port)
}

func TestWriteBitfieldAndStatsMergeIntoRead(t *testing.T) {
	require := require.New(t)
	db := openTestDB(t)
	r, err := New(db, "torrents", "def456")
	require.NoError(err)

	require.NoError(r.Write(Spec{Name: "x"}))
	require.NoError(r.WriteBitfield([]byte{0xFF, 0x00}))
	require.NoError(r.WriteStats(Stats{BytesDownloaded: 100, SeededFor: time.Minute}))

	got, err := r.Read()
	require.NoError(err)
	require.Equal([]byte{0xFF, 0x00}, got.Bitfield)
	require.Equal(int64(100), got.BytesDownloaded)
	require.Equal(time.Minute, got.SeededFor)
}

func TestDeleteRemovesRecord(t *testing.T) {
	require := require.New(t)
	db := openTestDB(t)
	r, err := New(db, "torrents", "ghi789")
	require.NoError(err)
	require.NoError(r.Write(Spec{Name: "y"}))
	require.NoError(r.Delete())
	_, err = r.Read()
	require.Error(err)
}

func TestListReturnsAllIDs(t *testing.T) {
	require := require.New(t)
	db := openTestDB(t)
	r1, err := New(db, "torrents", "id1")
	require.NoError(err)
	require.NoError(r1.Write(Spec{Name: "a"}))
	r2, err := New(db, "torrents", "id2")
	require.NoError(err)
	require.NoError(r2.Write(Spec{Name: "b"}))

	ids, err := List(db, "torrents")
	require.NoError(err)
	require.ElementsMatch([]string{"id1", "id2"}, ids)
}
