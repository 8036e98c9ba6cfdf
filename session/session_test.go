package session

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDHTPeers(t *testing.T) {
	require := require.New(t)

	compact := string([]byte{192, 168, 1, 1, 0x1A, 0xE1})
	addrs := parseDHTPeers([]string{compact, "too-short"})

	require.Len(addrs, 1)
	require.Equal(net.IP([]byte{192, 168, 1, 1}), addrs[0].IP)
	require.Equal(0x1AE1, addrs[0].Port)
}

func TestParseDHTPeersEmpty(t *testing.T) {
	require := require.New(t)
	require.Empty(parseDHTPeers(nil))
}

func TestFlattenTiers(t *testing.T) {
	require := require.New(t)

	tiers := [][]string{
		{"http://tracker1", "http://tracker2"},
		{"udp://tracker3"},
		nil,
	}
	require.Equal([]string{"http://tracker1", "http://tracker2", "udp://tracker3"}, flattenTiers(tiers))
}

func TestSessionGetPortReleasePort(t *testing.T) {
	require := require.New(t)

	s := &Session{availablePorts: map[uint16]struct{}{50000: {}}}

	port, err := s.getPort()
	require.NoError(err)
	require.Equal(uint16(50000), port)

	_, err = s.getPort()
	require.Error(err)

	s.releasePort(port)
	port2, err := s.getPort()
	require.NoError(err)
	require.Equal(uint16(50000), port2)
}
