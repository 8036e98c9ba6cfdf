package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTorrentGetters(t *testing.T) {
	require := require.New(t)

	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	inner := &torrent{name: "ubuntu.iso"}
	copy(inner.infoHash[:], []byte{0xde, 0xad, 0xbe, 0xef})

	tr := &Torrent{id: "abc123", torrent: inner, port: 51413, createdAt: createdAt}

	require.Equal("abc123", tr.ID())
	require.Equal("ubuntu.iso", tr.Name())
	require.Equal("deadbeef00000000000000000000000000000000", tr.InfoHash())
	require.Equal(createdAt, tr.CreatedAt())
}
