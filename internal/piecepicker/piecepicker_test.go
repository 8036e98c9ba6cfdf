package piecepicker

import (
	"testing"

	"github.com/embertorrent/ember/internal/bitfield"
	"github.com/embertorrent/ember/internal/metainfo"
	"github.com/embertorrent/ember/internal/peer"
	"github.com/embertorrent/ember/internal/piece"
	"github.com/stretchr/testify/require"
)

func makePieces(n uint32, length int64) []piece.Piece {
	info := &metainfo.Info{PieceLength: length}
	pieces := make([]piece.Piece, n)
	for i := uint32(0); i < n; i++ {
		pieces[i] = piece.New(info, i)
	}
	return pieces
}

func TestReserveRespectsPeerBitfield(t *testing.T) {
	require := require.New(t)
	have := bitfield.New(10)
	p := New(10, have)

	peerHas := bitfield.New(10)
	peerHas.Set(5)

	pieces := makePieces(10, 16*1024)
	blocks := p.Reserve(nil, peerHas, pieces, 10)
	require.Len(blocks, 1)
	require.Equal(uint32(0), blocks[0].Index)
}

func TestReserveNoDuplicateOutsideEndgame(t *testing.T) {
	require := require.New(t)
	have := bitfield.New(200)
	p := New(200, have)

	peerHas := bitfield.New(200)
	for i := uint32(0); i < 200; i++ {
		peerHas.Set(i)
	}
	pieces := makePieces(200, 16*1024)

	pe1 := &peer.Peer{}
	pe2 := &peer.Peer{}
	b1 := p.Reserve(pe1, peerHas, pieces, 50)
	require.NotEmpty(b1)
	b2 := p.Reserve(pe2, peerHas, pieces, 50)
	require.NotEmpty(b2)
	for _, blocks := range p.reservations {
		for _, holders := range blocks {
			require.Len(holders, 1, "expected no overlap outside endgame")
		}
	}
}

func TestOnBlockReceivedClearsReservation(t *testing.T) {
	require := require.New(t)
	have := bitfield.New(10)
	p := New(10, have)
	peerHas := bitfield.New(10)
	peerHas.Set(0)
	pieces := makePieces(10, 16*1024)

	pe1 := &peer.Peer{}
	blocks := p.Reserve(pe1, peerHas, pieces, 1)
	require.Len(blocks, 1)

	others := p.OnBlockReceived(pe1, blocks[0].Index, blocks[0].Index)
	require.Empty(others)
	require.Empty(p.reservations)
}

func TestOnPeerGoneReleasesReservations(t *testing.T) {
	require := require.New(t)
	have := bitfield.New(10)
	p := New(10, have)
	peerHas := bitfield.New(10)
	peerHas.Set(0)
	pieces := makePieces(10, 16*1024)

	pe1 := &peer.Peer{}
	blocks := p.Reserve(pe1, peerHas, pieces, 1)
	require.Len(blocks, 1)

	p.OnPeerGone(pe1, peerHas)
	require.Empty(p.reservations)
}
