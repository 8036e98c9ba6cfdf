package piecedownloader

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/embertorrent/ember/internal/logger"
	"github.com/embertorrent/ember/internal/metainfo"
	"github.com/embertorrent/ember/internal/peer"
	"github.com/embertorrent/ember/internal/peerconn"
	"github.com/embertorrent/ember/internal/peerprotocol"
	"github.com/embertorrent/ember/internal/piece"
	"github.com/stretchr/testify/require"
)

func newTestPeer(t *testing.T) (*peer.Peer, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	c := &peerconn.Conn{
		Conn: client,
		R:    bufio.NewReader(client),
		W:    bufio.NewWriter(client),
	}
	return peer.New(c, time.Minute, nil, logger.New("test")), server
}

func TestRequestAndReassemble(t *testing.T) {
	require := require.New(t)
	pe, server := newTestPeer(t)
	defer server.Close()

	info := &metainfo.Info{PieceLength: piece.BlockSize*2 + 10}
	pc := piece.New(info, 0)
	require.Len(pc.Blocks, 3)

	d := New(&pc, pe)
	d.RequestBlocks(10)
	require.Len(d.PendingBlocks(), 3)

	for _, b := range pc.Blocks {
		data := make([]byte, b.Length)
		for i := range data {
			data[i] = byte(b.Index)
		}
		done := d.GotBlock(peerprotocol.PieceMessage{Index: 0, Begin: b.Begin, Data: data})
		if b.Index == 2 {
			require.True(done)
		} else {
			require.False(done)
		}
	}
	require.True(d.Done())
	require.Len(d.Buffer(), int(pc.Length))
}

func TestCancelPendingClearsRequests(t *testing.T) {
	require := require.New(t)
	pe, server := newTestPeer(t)
	defer server.Close()

	info := &metainfo.Info{PieceLength: piece.BlockSize}
	pc := piece.New(info, 0)
	d := New(&pc, pe)
	d.RequestBlocks(10)
	require.NotEmpty(d.PendingBlocks())
	d.CancelPending()
	require.Empty(d.PendingBlocks())
}
