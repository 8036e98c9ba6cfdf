// Package infodownloader fetches a magnet link's metadata ("info" dict)
// from a single peer over BEP 9 ut_metadata, piecing it together from
// 16 KiB blocks before the torrent's real info hash can be verified.
package infodownloader

import (
	"fmt"

	"github.com/embertorrent/ember/internal/peer"
	"github.com/embertorrent/ember/internal/peerprotocol"
)

const blockSize = 16 * 1024

// InfoDownloader downloads every block of a peer-advertised metadata blob.
type InfoDownloader struct {
	Peer  *peer.Peer
	Bytes []byte

	blockSizes     []uint32
	requested      map[uint32]struct{}
	nextBlockIndex uint32
}

// New returns an InfoDownloader for pe, sized from the metadata size pe
// announced in its extension handshake.
func New(pe *peer.Peer) *InfoDownloader {
	d := &InfoDownloader{
		Peer:      pe,
		Bytes:     make([]byte, pe.ExtensionHandshake.MetadataSize),
		requested: make(map[uint32]struct{}),
	}
	d.blockSizes = d.computeBlockSizes()
	return d
}

func (d *InfoDownloader) computeBlockSizes() []uint32 {
	total := d.Peer.ExtensionHandshake.MetadataSize
	numBlocks := total / blockSize
	mod := total % blockSize
	if mod != 0 {
		numBlocks++
	}
	sizes := make([]uint32, numBlocks)
	for i := range sizes {
		sizes[i] = blockSize
	}
	if mod != 0 && len(sizes) > 0 {
		sizes[len(sizes)-1] = uint32(mod)
	}
	return sizes
}

// RequestBlocks sends ut_metadata requests for up to queueLength
// not-yet-requested blocks.
func (d *InfoDownloader) RequestBlocks(queueLength int) {
	extID, ok := d.Peer.ExtensionHandshake.M[peerprotocol.ExtensionKeyMetadata]
	if !ok {
		return
	}
	for d.nextBlockIndex < uint32(len(d.blockSizes)) && len(d.requested) < queueLength {
		msg := peerprotocol.ExtensionMessage{
			ExtendedMessageID: extID,
			Payload: peerprotocol.ExtensionMetadataMessage{
				Type:  peerprotocol.ExtensionMetadataMessageTypeRequest,
				Piece: int(d.nextBlockIndex),
			},
		}
		d.Peer.SendMessage(msg)
		d.requested[d.nextBlockIndex] = struct{}{}
		d.nextBlockIndex++
	}
}

// GotBlock records a received ut_metadata Data message's payload into the
// assembled metadata buffer.
func (d *InfoDownloader) GotBlock(mp peerprotocol.MetadataPiece) error {
	index := uint32(mp.Piece)
	if _, ok := d.requested[index]; !ok {
		return fmt.Errorf("infodownloader: unrequested metadata piece %d", index)
	}
	if int(index) >= len(d.blockSizes) {
		return fmt.Errorf("infodownloader: metadata piece %d out of range", index)
	}
	if uint32(len(mp.Data)) != d.blockSizes[index] {
		return fmt.Errorf("infodownloader: metadata piece %d has wrong size %d", index, len(mp.Data))
	}
	delete(d.requested, index)
	begin := index * blockSize
	copy(d.Bytes[begin:], mp.Data)
	return nil
}

// Done reports whether every block has been requested and received.
func (d *InfoDownloader) Done() bool {
	return d.nextBlockIndex == uint32(len(d.blockSizes)) && len(d.requested) == 0
}
