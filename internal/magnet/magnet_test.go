package magnet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHexInfoHash(t *testing.T) {
	require := require.New(t)
	m, err := New("magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=example&tr=udp://tracker.example:80")
	require.NoError(err)
	require.Equal("example", m.Name)
	require.Equal([]string{"udp://tracker.example:80"}, m.Trackers)
	require.Equal(byte(0x01), m.InfoHash[0])
}

func TestParseBase32InfoHash(t *testing.T) {
	require := require.New(t)
	// 32-char base32 encoding of 20 zero bytes.
	m, err := New("magnet:?xt=urn:btih:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(err)
	require.Equal([20]byte{}, m.InfoHash)
}

func TestRejectsMissingInfoHash(t *testing.T) {
	require := require.New(t)
	_, err := New("magnet:?dn=nohash")
	require.Error(err)
}

func TestRejectsWrongScheme(t *testing.T) {
	require := require.New(t)
	_, err := New("http://example.com")
	require.Error(err)
}
