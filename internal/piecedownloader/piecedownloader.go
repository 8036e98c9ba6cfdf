// Package piecedownloader drives downloading a single piece from a single
// peer: it pipelines block requests up to a window size, matches incoming
// piece messages back to outstanding requests, and reassembles the piece's
// staging buffer.
package piecedownloader

import (
	"github.com/embertorrent/ember/internal/peer"
	"github.com/embertorrent/ember/internal/peerprotocol"
	"github.com/embertorrent/ember/internal/piece"
)

// PieceDownloader drives one piece's block requests against one peer.
type PieceDownloader struct {
	Piece *piece.Piece
	Peer  *peer.Peer

	buffer []byte

	// pending holds block indices requested but not yet received.
	pending map[uint32]piece.Block

	nextBlock int
}

// New returns a PieceDownloader for pc, to be driven against pe.
func New(pc *piece.Piece, pe *peer.Peer) *PieceDownloader {
	return &PieceDownloader{
		Piece:   pc,
		Peer:    pe,
		buffer:  make([]byte, pc.Length),
		pending: make(map[uint32]piece.Block),
	}
}

// RequestBlocks sends up to window new block requests to the peer,
// respecting blocks already requested or received.
func (d *PieceDownloader) RequestBlocks(window int) {
	for len(d.pending) < window && d.nextBlock < len(d.Piece.Blocks) {
		b := d.Piece.Blocks[d.nextBlock]
		d.nextBlock++
		d.pending[b.Index] = b
		d.Peer.SendMessage(peerprotocol.RequestMessage{Index: d.Piece.Index, Begin: b.Begin, Length: b.Length})
	}
}

// GotBlock records a received piece message into the staging buffer,
// reporting whether the whole piece is now complete.
func (d *PieceDownloader) GotBlock(msg peerprotocol.PieceMessage) bool {
	for idx, b := range d.pending {
		if b.Begin == msg.Begin && b.Length == uint32(len(msg.Data)) {
			copy(d.buffer[b.Begin:], msg.Data)
			delete(d.pending, idx)
			break
		}
	}
	return len(d.pending) == 0 && d.nextBlock == len(d.Piece.Blocks)
}

// Buffer returns the piece's reassembled bytes, valid once GotBlock has
// reported completion.
func (d *PieceDownloader) Buffer() []byte { return d.buffer }

// PendingBlocks returns the blocks currently outstanding, for timeout
// bookkeeping by the caller.
func (d *PieceDownloader) PendingBlocks() []piece.Block {
	out := make([]piece.Block, 0, len(d.pending))
	for _, b := range d.pending {
		out = append(out, b)
	}
	return out
}

// CancelPending sends a cancel message for every outstanding request, for
// use when the download is being abandoned (peer disconnect, endgame
// completion by another peer).
func (d *PieceDownloader) CancelPending() {
	for _, b := range d.pending {
		d.Peer.SendMessage(peerprotocol.CancelMessage{Index: d.Piece.Index, Begin: b.Begin, Length: b.Length})
	}
	d.pending = make(map[uint32]piece.Block)
}

// Done reports whether every block has been requested and received.
func (d *PieceDownloader) Done() bool {
	return len(d.pending) == 0 && d.nextBlock == len(d.Piece.Blocks)
}
