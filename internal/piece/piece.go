// Package piece is the in-memory view of a single torrent piece: its
// metainfo-derived layout, completion flags, and the per-block staging
// buffer while it is being assembled from peer data.
package piece

import "github.com/embertorrent/ember/internal/metainfo"

// BlockSize is the unit requested from peers; the final block of a piece
// may be shorter.
const BlockSize = 16 * 1024

// Block describes one fixed-size chunk of a piece's data.
type Block struct {
	Index  uint32 // index of this block within the piece
	Begin  uint32 // byte offset within the piece
	Length uint32
}

// Piece tracks one torrent piece's layout and on-disk state.
type Piece struct {
	Index  uint32
	Length int64
	Blocks []Block

	// Done is set once verify_and_commit succeeds for this piece.
	Done bool
	// Writing is set while a piecewriter has the staging buffer and is
	// flushing it to the backing files; new pieceMessages are held back
	// for the whole torrent while any piece is Writing (see run.go).
	Writing bool
}

// New builds the Piece at index from torrent info, computing block
// boundaries including a possibly-short final block.
func New(info *metainfo.Info, index uint32) Piece {
	length := info.PieceLengthAt(index)
	p := Piece{Index: index, Length: length}
	var begin int64
	var bi uint32
	for begin < length {
		l := int64(BlockSize)
		if length-begin < l {
			l = length - begin
		}
		p.Blocks = append(p.Blocks, Block{Index: bi, Begin: uint32(begin), Length: uint32(l)})
		begin += l
		bi++
	}
	return p
}

// NumBlocks returns the number of blocks this piece is split into.
func (p *Piece) NumBlocks() int { return len(p.Blocks) }

// GetBlock returns the block containing offset begin of the requested
// length, or false if the offset/length don't align to a single block
// boundary — misaligned requests are illegal traffic per the connection
// policy.
func (p *Piece) GetBlock(begin, length uint32) (Block, bool) {
	for _, b := range p.Blocks {
		if b.Begin == begin && b.Length == length {
			return b, true
		}
	}
	return Block{}, false
}
