// Package handshaker_test exercises incominghandshaker and
// outgoinghandshaker together over a real loopback TCP connection, since
// each only makes sense paired with the other end of a handshake.
package handshaker_test

import (
	"net"
	"testing"
	"time"

	"github.com/embertorrent/ember/internal/handshaker/incominghandshaker"
	"github.com/embertorrent/ember/internal/handshaker/outgoinghandshaker"
	"github.com/stretchr/testify/require"
)

func TestHandshakeRoundTrip(t *testing.T) {
	require := require.New(t)

	var infoHash, serverID, clientID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(serverID[:], "server-peer-id-12345")
	copy(clientID[:], "client-peer-id-12345")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer l.Close()

	incomingResultC := make(chan *incominghandshaker.IncomingHandshaker, 1)
	go func() {
		nc, err := l.Accept()
		require.NoError(err)
		h := incominghandshaker.New(nc)
		h.Run(serverID, func(got [20]byte) bool { return got == infoHash }, incomingResultC, 5*time.Second)
	}()

	addr := l.Addr().(*net.TCPAddr)
	outgoingResultC := make(chan *outgoinghandshaker.OutgoingHandshaker, 1)
	oh := outgoinghandshaker.New(addr)
	go oh.Run(5*time.Second, 5*time.Second, clientID, infoHash, outgoingResultC)

	out := <-outgoingResultC
	require.NoError(out.Error)
	require.Equal(serverID, out.Conn.PeerID)

	in := <-incomingResultC
	require.NoError(in.Error)
	require.Equal(clientID, in.Conn.PeerID)
}

func TestIncomingHandshakeRejectsUnknownInfoHash(t *testing.T) {
	require := require.New(t)

	var infoHash, otherHash, serverID, clientID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(otherHash[:], "bbbbbbbbbbbbbbbbbbbb")
	copy(serverID[:], "server-peer-id-12345")
	copy(clientID[:], "client-peer-id-12345")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer l.Close()

	incomingResultC := make(chan *incominghandshaker.IncomingHandshaker, 1)
	go func() {
		nc, err := l.Accept()
		require.NoError(err)
		h := incominghandshaker.New(nc)
		h.Run(serverID, func(got [20]byte) bool { return got == infoHash }, incomingResultC, 5*time.Second)
	}()

	addr := l.Addr().(*net.TCPAddr)
	outgoingResultC := make(chan *outgoinghandshaker.OutgoingHandshaker, 1)
	oh := outgoinghandshaker.New(addr)
	go oh.Run(5*time.Second, 5*time.Second, clientID, otherHash, outgoingResultC)

	in := <-incomingResultC
	require.Error(in.Error)
}
