package session

import (
	"encoding/binary"
	"net"

	"github.com/embertorrent/ember/internal/addrlist"
	"github.com/embertorrent/ember/internal/bitfield"
	"github.com/embertorrent/ember/internal/infodownloader"
	"github.com/embertorrent/ember/internal/metainfo"
	"github.com/embertorrent/ember/internal/peer"
	"github.com/embertorrent/ember/internal/peerprotocol"
	"github.com/embertorrent/ember/internal/piecedownloader"
	"github.com/embertorrent/ember/internal/piecewriter"
)

// newInfoFromBytes decodes a fetched magnet metadata blob.
func newInfoFromBytes(raw []byte) (*metainfo.Info, error) {
	return metainfo.NewInfo(raw)
}

// decodeCompactAddrs parses a ut_pex/BEP 23 compact IPv4 peer list: 6 bytes
// (4 IP + 2 big-endian port) per entry.
func decodeCompactAddrs(b []byte) []*net.TCPAddr {
	var out []*net.TCPAddr
	for i := 0; i+6 <= len(b); i += 6 {
		ip := net.IP(append([]byte(nil), b[i:i+4]...))
		port := binary.BigEndian.Uint16(b[i+4 : i+6])
		out = append(out, &net.TCPAddr{IP: ip, Port: int(port)})
	}
	return out
}

// handlePeerMessage dispatches one decoded core/extension message from pe.
func (t *torrent) handlePeerMessage(pm peer.Message) {
	pe := pm.Peer
	switch m := pm.Message.(type) {
	case peerprotocol.ChokeMessage:
		pe.PeerChoking = true
		if pd, ok := t.pieceDownloaders[pe]; ok {
			t.pieceDownloadersChoked[pe] = pd
		}
	case peerprotocol.UnchokeMessage:
		pe.PeerChoking = false
		delete(t.pieceDownloadersChoked, pe)
		t.startPieceDownloaders()
		t.startInfoDownloaders()
	case peerprotocol.InterestedMessage:
		pe.PeerInterested = true
	case peerprotocol.NotInterestedMessage:
		pe.PeerInterested = false
	case peerprotocol.HaveMessage:
		t.handleHave(pe, m.Index)
	case peerprotocol.BitfieldMessage:
		t.handleBitfieldMessage(pe, m.Data)
	case peerprotocol.RequestMessage:
		t.handleRequest(pe, m)
	case peerprotocol.CancelMessage:
		// Best effort only: our send queue has no way to retract an
		// already-queued Piece message.
	case peerprotocol.ExtensionMessage:
		t.handleExtensionMessage(pe, m)
	}
}

func (t *torrent) handleHave(pe *peer.Peer, index uint32) {
	if pe.Bitfield == nil {
		pe.Bitfield = bitfield.New(t.numPieces())
	}
	pe.Bitfield.Set(index)
	if t.piecePicker != nil {
		t.piecePicker.OnHave(index)
	}
	t.updateInterestedState(pe)
	t.startPieceDownloaders()
}

func (t *torrent) handleBitfieldMessage(pe *peer.Peer, data []byte) {
	numPieces := t.numPieces()
	// Until metadata arrives (the magnet-link case) numPieces is 0 and
	// there is no length to validate against; accept a placeholder
	// bitfield and let Have messages and a later metadata fetch fill it
	// in instead.
	if numPieces > 0 {
		if len(data) != int((numPieces+7)/8) {
			t.log.Debugln("peer sent bitfield of wrong length, closing:", pe.Addr())
			pe.Close()
			return
		}
		if bf := bitfield.NewBytes(data, numPieces); !bf.TrailingBitsClear() {
			t.log.Debugln("peer sent bitfield with set trailing bits, closing:", pe.Addr())
			pe.Close()
			return
		}
	}
	pe.Bitfield = bitfield.NewBytes(data, numPieces)
	if t.piecePicker != nil {
		t.piecePicker.OnBitfield(pe.Bitfield)
	}
	t.updateInterestedState(pe)
	t.startPieceDownloaders()
	t.startInfoDownloaders()
}

// numPieces returns the piece count to size a peer's bitfield against, even
// before our own info is known (falls back to 0, grown lazily as Have
// messages arrive, which is the common magnet-link case).
func (t *torrent) numPieces() uint32 {
	if t.info != nil {
		return t.info.NumPieces()
	}
	return 0
}

// updateInterestedState sets our Interested flag toward pe based on whether
// it holds any piece we still lack.
func (t *torrent) updateInterestedState(pe *peer.Peer) {
	interested := false
	if t.piecePicker != nil && pe.Bitfield != nil {
		for i := uint32(0); i < t.info.NumPieces(); i++ {
			if pe.Bitfield.Test(i) && !t.bitfield.Test(i) {
				interested = true
				break
			}
		}
	}
	if interested != pe.AmInterested {
		pe.AmInterested = interested
		if interested {
			pe.SendMessage(peerprotocol.InterestedMessage{})
		} else {
			pe.SendMessage(peerprotocol.NotInterestedMessage{})
		}
	}
}

// startPieceDownloaders starts a piecedownloader against every unchoked,
// idle peer that has pieces we still need, up to the piece picker's policy.
func (t *torrent) startPieceDownloaders() {
	if t.piecePicker == nil || t.completed {
		return
	}
	for pe := range t.peers {
		if pe.PeerChoking || pe.Downloading || pe.Bitfield == nil {
			continue
		}
		if _, ok := t.pieceDownloaders[pe]; ok {
			continue
		}
		blocks := t.piecePicker.Reserve(pe, pe.Bitfield, t.pieces, t.config.RequestQueueLength)
		if len(blocks) == 0 {
			continue
		}
		pd := piecedownloader.New(&t.pieces[blocks[0].Index], pe)
		t.pieceDownloaders[pe] = pd
		pe.Downloading = true
		for _, b := range blocks {
			pe.SendMessage(peerprotocol.RequestMessage{Index: pd.Piece.Index, Begin: b.Begin, Length: b.Length})
		}
	}
}

// startInfoDownloaders starts an infodownloader against every peer that has
// announced ut_metadata support but isn't already serving one, used while
// this torrent is a magnet link awaiting its info dict.
func (t *torrent) startInfoDownloaders() {
	if t.info != nil {
		return
	}
	for pe := range t.peers {
		if !pe.GotExtensionHandshake() || pe.ExtensionHandshake.MetadataSize == 0 {
			continue
		}
		if _, ok := pe.ExtensionID(peerprotocol.ExtensionKeyMetadata); !ok {
			continue
		}
		if _, ok := t.infoDownloaders[pe]; ok {
			continue
		}
		id := infodownloader.New(pe)
		t.infoDownloaders[pe] = id
		id.RequestBlocks(t.config.RequestQueueLength)
	}
}

// handlePieceMessage matches an incoming block against the sender's
// piecedownloader, reassembling and (once complete) handing the piece off
// to a piecewriter.
func (t *torrent) handlePieceMessage(pm peer.PieceMessage) {
	pe := pm.Peer
	pd, ok := t.pieceDownloaders[pe]
	if !ok || pd.Piece.Index != pm.Piece.Index {
		return
	}
	block, ok := pd.Piece.GetBlock(pm.Piece.Begin, uint32(len(pm.Piece.Data)))
	if !ok {
		return
	}
	done := pd.GotBlock(pm.Piece)
	others := t.piecePicker.OnBlockReceived(pe, pd.Piece.Index, block.Index)
	for _, other := range others {
		other.SendMessage(peerprotocol.CancelMessage{Index: pd.Piece.Index, Begin: block.Begin, Length: block.Length})
	}
	if !done {
		return
	}
	t.closePieceDownloader(pd)

	buf := pd.Buffer()
	pd.Piece.Writing = true
	t.blockPieceMessages = t.pieceMessages
	t.pieceMessages = nil

	pw := piecewriter.New(pd.Piece, buf, t.info.PieceHash(pd.Piece.Index), t.fileRangesForPiece(pd.Piece.Index))
	go pw.Run(t.pieceWriterResultC)

	t.startPieceDownloaders()
}

// fileRangesForPiece maps piece index's byte range within the torrent onto
// the (possibly several) backing files it straddles.
func (t *torrent) fileRangesForPiece(index uint32) []piecewriter.FileRange {
	pieceStart := int64(index) * t.info.PieceLength
	pieceEnd := pieceStart + t.pieces[index].Length

	var ranges []piecewriter.FileRange
	var fileStart int64
	for i, f := range t.info.Files {
		fileEnd := fileStart + f.Length
		lo, hi := max64(pieceStart, fileStart), min64(pieceEnd, fileEnd)
		if lo < hi {
			ranges = append(ranges, piecewriter.NewFileRange(t.files[i], lo-fileStart, lo-pieceStart, hi-lo))
		}
		fileStart = fileEnd
	}
	return ranges
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// handleRequest serves an upload request: a block is read (through the
// shared piece cache) and sent back unless we are choking pe.
func (t *torrent) handleRequest(pe *peer.Peer, req peerprotocol.RequestMessage) {
	if pe.AmChoking || t.info == nil || req.Length > peerprotocol.MaxRequestBlockSize {
		return
	}
	if req.Index >= uint32(len(t.pieces)) {
		return
	}
	if !t.bitfield.Test(req.Index) {
		return
	}
	if data, ok := t.pieceCache.Get(req.Index, req.Begin, req.Length); ok {
		pe.SendMessage(peerprotocol.PieceMessage{Index: req.Index, Begin: req.Begin, Data: data})
		return
	}
	data := make([]byte, req.Length)
	if err := t.readBlock(req.Index, req.Begin, data); err != nil {
		t.log.Debugln("error reading block for upload:", err)
		return
	}
	t.pieceCache.Put(req.Index, req.Begin, req.Length, data)
	pe.SendMessage(peerprotocol.PieceMessage{Index: req.Index, Begin: req.Begin, Data: data})
}

func (t *torrent) readBlock(index, begin uint32, data []byte) error {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	pieceStart := int64(index)*t.info.PieceLength + int64(begin)
	pieceEnd := pieceStart + int64(len(data))
	var fileStart int64
	var read int64
	for i, f := range t.info.Files {
		fileEnd := fileStart + f.Length
		lo, hi := max64(pieceStart, fileStart), min64(pieceEnd, fileEnd)
		if lo < hi {
			n, err := t.files[i].ReadAt(data[read:read+(hi-lo)], lo-fileStart)
			if err != nil {
				return err
			}
			read += int64(n)
		}
		fileStart = fileEnd
	}
	return nil
}

func (t *torrent) handleExtensionMessage(pe *peer.Peer, m peerprotocol.ExtensionMessage) {
	switch payload := m.Payload.(type) {
	case peerprotocol.ExtensionMetadataMessage:
		t.handleMetadataRequest(pe, payload)
	case peerprotocol.MetadataPiece:
		t.handleMetadataPiece(pe, payload)
	case peerprotocol.ExtensionPEXMessage:
		t.handlePEXMessage(payload)
	}
}

func (t *torrent) handleMetadataRequest(pe *peer.Peer, m peerprotocol.ExtensionMetadataMessage) {
	if m.Type != peerprotocol.ExtensionMetadataMessageTypeRequest || t.info == nil {
		return
	}
	extID, ok := pe.ExtensionID(peerprotocol.ExtensionKeyMetadata)
	if !ok {
		return
	}
	const blockSize = 16 * 1024
	begin := m.Piece * blockSize
	if begin >= len(t.info.Bytes) {
		return
	}
	end := begin + blockSize
	if end > len(t.info.Bytes) {
		end = len(t.info.Bytes)
	}
	pe.SendMessage(peerprotocol.ExtensionMessage{
		ExtendedMessageID: extID,
		Payload: peerprotocol.MetadataPiece{
			Piece:     m.Piece,
			TotalSize: len(t.info.Bytes),
			Data:      t.info.Bytes[begin:end],
		},
	})
}

func (t *torrent) handleMetadataPiece(pe *peer.Peer, mp peerprotocol.MetadataPiece) {
	id, ok := t.infoDownloaders[pe]
	if !ok {
		return
	}
	if err := id.GotBlock(mp); err != nil {
		t.log.Debugln("info download error:", err)
		t.closeInfoDownloader(id)
		pe.Close()
		return
	}
	if !id.Done() {
		id.RequestBlocks(t.config.RequestQueueLength)
		return
	}
	t.closeInfoDownloader(id)
	t.finishMetadataDownload(id.Bytes)
}

// finishMetadataDownload verifies a fetched magnet metadata blob against
// the expected infohash and, on success, transitions the torrent out of
// DownloadingMetadata into the normal allocate/verify/download path.
func (t *torrent) finishMetadataDownload(raw []byte) {
	info, err := newInfoFromBytes(raw)
	if err != nil {
		t.log.Errorln("invalid metadata received:", err)
		for id := range t.infoDownloaders {
			t.closeInfoDownloader(id)
		}
		return
	}
	if info.Hash() != t.infoHash {
		t.log.Errorln("metadata hash mismatch")
		return
	}
	for id := range t.infoDownloaders {
		t.closeInfoDownloader(id)
	}
	t.prepareInfo(info)
	if t.resume != nil {
		spec, rerr := t.resume.Read()
		if rerr == nil {
			spec.Info = info.Bytes
			t.resume.Write(spec)
		}
	}
	t.startAllocator()
	for pe := range t.peers {
		t.updateInterestedState(pe)
	}
}

func (t *torrent) handlePEXMessage(m peerprotocol.ExtensionPEXMessage) {
	addrs := decodeCompactAddrs(m.Added)
	if len(addrs) == 0 {
		return
	}
	t.handleNewPeers(addrs, addrlist.PEX)
}
