package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/embertorrent/ember/internal/addrlist"
	"github.com/embertorrent/ember/internal/announcer"
	"github.com/embertorrent/ember/internal/handshaker/incominghandshaker"
	"github.com/embertorrent/ember/internal/handshaker/outgoinghandshaker"
	"github.com/embertorrent/ember/internal/infodownloader"
	"github.com/embertorrent/ember/internal/logger"
	"github.com/embertorrent/ember/internal/peer"
	"github.com/embertorrent/ember/internal/peerconn"
	"github.com/embertorrent/ember/internal/peerprotocol"
	"github.com/embertorrent/ember/internal/piecedownloader"
	"github.com/embertorrent/ember/internal/piecepicker"
	"github.com/embertorrent/ember/internal/piecewriter"
)

var errClosed = errors.New("torrent is closed")

func (t *torrent) shutdown() {
	t.stop(errClosed)
	if t.stoppedEventAnnouncer != nil {
		t.stoppedEventAnnouncer.Close()
	}
	if t.acceptor != nil {
		t.acceptor.Close()
	}
}

// run is the torrent's single event loop; every field on t is only ever
// touched from this goroutine.
func (t *torrent) run() {
	for {
		select {
		case doneC := <-t.closeC:
			t.shutdown()
			close(doneC)
			return
		case <-t.startCommandC:
			t.start()
		case <-t.stopCommandC:
			t.stop(nil)
		case <-t.announcersStoppedC:
			t.stoppedEventAnnouncer = nil
			t.errC <- t.lastError
			t.portC = nil
			t.log.Info("torrent has stopped")
		case cmd := <-t.notifyErrorCommandC:
			cmd.errCC <- t.errC
		case cmd := <-t.notifyListenCommandC:
			cmd.portCC <- t.portC
		case req := <-t.statsCommandC:
			req.Response <- t.stats()
		case req := <-t.trackersCommandC:
			req.Response <- t.getTrackers()
		case req := <-t.peersCommandC:
			req.Response <- t.getPeers()
		case p := <-t.allocatorProgressC:
			t.bytesAllocated = p.AllocatedSize
		case al := <-t.allocatorResultC:
			t.handleAllocationDone(al)
		case p := <-t.verifierProgressC:
			t.checkedPieces = p.Checked
		case ve := <-t.verifierResultC:
			t.handleVerificationDone(ve)
		case addrs := <-t.addrsFromTrackers:
			t.handleNewPeers(addrs, addrlist.Tracker)
		case results := <-t.announcerResultC:
			for _, r := range results {
				t.handleNewPeers(r.Peers, addrlist.Tracker)
			}
		case addrs := <-t.addPeersCommandC:
			t.handleNewPeers(addrs, addrlist.Manual)
		case addrs := <-t.dhtPeersC:
			t.handleNewPeers(addrs, addrlist.DHT)
		case conn := <-t.incomingConnC:
			t.acceptIncoming(conn)
		case req := <-t.announcerRequestC:
			tr := t.announcerFields()
			select {
			case req.Response <- announcer.Response{Torrent: tr}:
			case <-req.Cancel:
			}
		case pw := <-t.pieceWriterResultC:
			t.handlePieceWritten(pw)
		case <-t.resumeWriteTimerC:
			t.writeBitfield(true)
		case <-t.statsWriteTickerC:
			t.writeStats()
		case <-t.speedCounterTickerC:
			t.downloadSpeed.Tick()
			t.uploadSpeed.Tick()
		case pe := <-t.peerSnubbedC:
			t.handlePeerSnubbed(pe)
		case <-t.unchokeTimerC:
			t.tickUnchoke()
		case <-t.optimisticUnchokeTimerC:
			t.tickOptimisticUnchoke()
		case <-t.pexTickerC:
			t.tickPEX()
		case ih := <-t.incomingHandshakerResultC:
			t.handleIncomingHandshake(ih)
		case oh := <-t.outgoingHandshakerResultC:
			t.handleOutgoingHandshake(oh)
		case pe := <-t.peerDisconnectedC:
			t.closePeer(pe)
		case pm := <-t.pieceMessages:
			t.handlePieceMessage(pm)
		case pm := <-t.messages:
			t.handlePeerMessage(pm)
		}
	}
}

func (t *torrent) acceptIncoming(conn net.Conn) {
	if len(t.incomingHandshakers)+len(t.incomingPeers) >= t.config.MaxPeerAccept {
		t.log.Debugln("peer limit reached, rejecting peer", conn.RemoteAddr().String())
		conn.Close()
		return
	}
	ip := conn.RemoteAddr().(*net.TCPAddr).IP
	ipstr := ip.String()
	if t.blocklist != nil && t.blocklist.Blocked(ip) {
		t.log.Debugln("peer is blocked:", conn.RemoteAddr().String())
		conn.Close()
		return
	}
	if _, ok := t.connectedPeerIPs[ipstr]; ok {
		t.log.Debugln("received duplicate connection from same IP:", conn.RemoteAddr().String())
		conn.Close()
		return
	}
	h := incominghandshaker.New(conn)
	t.incomingHandshakers[h] = struct{}{}
	t.connectedPeerIPs[ipstr] = struct{}{}
	go h.Run(t.peerID, t.checkInfoHash, t.incomingHandshakerResultC, t.config.PeerHandshakeTimeout)
}

func (t *torrent) handleIncomingHandshake(ih *incominghandshaker.IncomingHandshaker) {
	delete(t.incomingHandshakers, ih)
	if ih.Error != nil {
		delete(t.connectedPeerIPs, ih.Conn.RemoteAddr().(*net.TCPAddr).IP.String())
		return
	}
	t.startPeer(ih.Conn, t.incomingPeers)
}

func (t *torrent) handleOutgoingHandshake(oh *outgoinghandshaker.OutgoingHandshaker) {
	delete(t.outgoingHandshakers, oh)
	if oh.Error != nil {
		delete(t.connectedPeerIPs, oh.Addr.IP.String())
		t.dialAddresses()
		return
	}
	t.startPeer(oh.Conn, t.outgoingPeers)
}

func (t *torrent) handlePeerSnubbed(pe *peer.Peer) {
	pe.Snubbed = true
	t.peersSnubbed[pe] = struct{}{}
	if pd, ok := t.pieceDownloaders[pe]; ok {
		t.pieceDownloadersSnubbed[pe] = pd
		t.startPieceDownloaders()
	} else if id, ok := t.infoDownloaders[pe]; ok {
		t.infoDownloadersSnubbed[pe] = id
		t.startInfoDownloaders()
	}
}

func (t *torrent) handlePieceWritten(pw *piecewriter.PieceWriter) {
	pw.Piece.Writing = false

	t.pieceMessages = t.blockPieceMessages
	t.blockPieceMessages = nil

	t.piecePool.Put(pw.Buffer)
	if pw.Error == piecewriter.ErrHashMismatch {
		// The piece is discarded and requested again; the peers that sent
		// it are not banned.
		t.log.Debugln("piece failed hash check:", pw.Piece.Index)
		t.startPieceDownloaders()
		return
	}
	if pw.Error != nil {
		t.stop(pw.Error)
		return
	}
	pw.Piece.Done = true
	if t.bitfield.Test(pw.Piece.Index) {
		panic("already have the piece")
	}
	t.bitfield.Set(pw.Piece.Index)
	for pe := range t.peers {
		t.updateInterestedState(pe)
		if piecepicker.DoesHave(pe.Bitfield, pw.Piece.Index) {
			continue
		}
		pe.SendMessage(peerprotocol.HaveMessage{Index: pw.Piece.Index})
	}
	completed := t.checkCompletion()
	if t.resume != nil {
		if completed {
			t.writeBitfield(true)
		} else {
			t.deferWriteBitfield()
		}
	}
}

func (t *torrent) deferWriteBitfield() {
	if t.resumeWriteTimer == nil {
		t.resumeWriteTimer = time.NewTimer(t.config.BitfieldWriteInterval)
		t.resumeWriteTimerC = t.resumeWriteTimer.C
	}
}

func (t *torrent) writeBitfield(stopOnError bool) {
	if t.resumeWriteTimer != nil {
		t.resumeWriteTimer.Stop()
		t.resumeWriteTimer = nil
		t.resumeWriteTimerC = nil
	}
	if t.resume == nil {
		return
	}
	if err := t.resume.WriteBitfield(t.bitfield.Bytes()); err != nil {
		err = fmt.Errorf("cannot write bitfield to resume db: %w", err)
		t.log.Errorln(err)
		if stopOnError {
			t.stop(err)
		}
	}
}

func (t *torrent) closePeer(pe *peer.Peer) {
	pe.Close()
	if pd, ok := t.pieceDownloaders[pe]; ok {
		t.closePieceDownloader(pd)
	}
	if id, ok := t.infoDownloaders[pe]; ok {
		t.closeInfoDownloader(id)
	}
	delete(t.peers, pe)
	delete(t.incomingPeers, pe)
	delete(t.outgoingPeers, pe)
	delete(t.peersSnubbed, pe)
	delete(t.peerIDs, pe.ID())
	delete(t.connectedPeerIPs, pe.Conn.IP())
	if t.piecePicker != nil {
		t.piecePicker.OnPeerGone(pe, pe.Bitfield)
	}
	t.pexDropPeer(pe.Addr())
	t.dialAddresses()
}

func (t *torrent) closePieceDownloader(pd *piecedownloader.PieceDownloader) {
	delete(t.pieceDownloaders, pd.Peer)
	delete(t.pieceDownloadersSnubbed, pd.Peer)
	delete(t.pieceDownloadersChoked, pd.Peer)
	if t.piecePicker != nil {
		t.piecePicker.Release(pd.Peer, pd.Piece.Index)
	}
	pd.Peer.Downloading = false
}

func (t *torrent) closeInfoDownloader(id *infodownloader.InfoDownloader) {
	delete(t.infoDownloaders, id.Peer)
	delete(t.infoDownloadersSnubbed, id.Peer)
}

func (t *torrent) handleNewPeers(addrs []*net.TCPAddr, source addrlist.PeerSource) {
	t.log.Debugf("received %d peers from %s", len(addrs), source)
	t.setNeedMorePeers(false)
	if status := t.status(); status == Stopped || status == Stopping {
		return
	}
	if !t.completed {
		t.addrList.Push(addrs, source)
		t.dialAddresses()
	}
}

func (t *torrent) dialAddresses() {
	if t.completed {
		return
	}
	for len(t.outgoingPeers)+len(t.outgoingHandshakers) < t.config.MaxPeerDial {
		addr := t.addrList.Pop()
		if addr == nil {
			t.setNeedMorePeers(true)
			break
		}
		ip := addr.IP.String()
		if _, ok := t.connectedPeerIPs[ip]; ok {
			continue
		}
		h := outgoinghandshaker.New(addr)
		t.outgoingHandshakers[h] = struct{}{}
		t.connectedPeerIPs[ip] = struct{}{}
		go h.Run(t.config.PeerConnectTimeout, t.config.PeerHandshakeTimeout, t.peerID, t.infoHash, t.outgoingHandshakerResultC)
	}
}

// setNeedMorePeers toggles the DHT announcer's want state; tracker
// announcers run on their own interval regardless of peer need, only DHT
// supports an on-demand peer request.
func (t *torrent) setNeedMorePeers(val bool) {
	if t.dhtAnnouncer != nil {
		t.dhtAnnouncer.NeedMorePeers(val)
	}
}

// processQueuedMessages replays messages buffered on peers while we had no
// piece picker yet (magnet download still fetching metadata).
func (t *torrent) processQueuedMessages() {
	for pe := range t.peers {
		for _, msg := range pe.Messages {
			t.handlePeerMessage(peer.Message{Peer: pe, Message: msg})
		}
		pe.Messages = nil
	}
}

func (t *torrent) startPeer(p *peerconn.Conn, peers map[*peer.Peer]struct{}) {
	if _, ok := t.peerIDs[p.PeerID]; ok {
		p.Close()
		t.dialAddresses()
		return
	}
	t.peerIDs[p.PeerID] = struct{}{}

	log := logger.New(p.RemoteAddr().String())
	pe := peer.New(p, t.config.RequestTimeout, t.limiter, log)
	t.peers[pe] = struct{}{}
	peers[pe] = struct{}{}
	t.pexAddPeer(pe.Addr())
	go pe.Run(t.messages, t.pieceMessages, t.peerSnubbedC, t.peerDisconnectedC)

	t.sendFirstMessage(pe)
	if len(t.peers) <= 4 {
		t.unchokePeer(pe)
	}
}

func (t *torrent) pexAddPeer(addr *net.TCPAddr) {
	if !t.config.PEXEnabled {
		return
	}
	for pe := range t.peers {
		if pe.PEX != nil {
			pe.PEX.Add(addr)
		}
	}
}

func (t *torrent) pexDropPeer(addr *net.TCPAddr) {
	if !t.config.PEXEnabled {
		return
	}
	for pe := range t.peers {
		if pe.PEX != nil {
			pe.PEX.Drop(addr)
		}
	}
}

func (t *torrent) sendFirstMessage(pe *peer.Peer) {
	if t.bitfield != nil && t.bitfield.Count() > 0 {
		data := make([]byte, len(t.bitfield.Bytes()))
		copy(data, t.bitfield.Bytes())
		pe.SendMessage(peerprotocol.BitfieldMessage{Data: data})
	}
	var metadataSize int
	if t.info != nil {
		metadataSize = len(t.info.Bytes)
	}
	hs := peerprotocol.NewExtensionHandshake(metadataSize, t.config.ExtensionHandshakeClientVersion, pe.Addr().IP, t.config.PEXEnabled)
	pe.SendMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: peerprotocol.ExtensionHandshakeID, Payload: hs})
	if t.config.PEXEnabled {
		pe.PEX = peer.NewPEX()
	}
}

func (t *torrent) chokePeer(pe *peer.Peer) {
	if !pe.AmChoking {
		pe.AmChoking = true
		pe.SendMessage(peerprotocol.ChokeMessage{})
	}
}

func (t *torrent) unchokePeer(pe *peer.Peer) {
	if pe.AmChoking {
		pe.AmChoking = false
		pe.SendMessage(peerprotocol.UnchokeMessage{})
	}
}

func (t *torrent) checkCompletion() bool {
	if t.completed {
		return true
	}
	if t.bitfield == nil || !t.bitfield.All() {
		return false
	}
	t.log.Info("download completed")
	t.completed = true
	close(t.completeC)
	for h := range t.outgoingHandshakers {
		h.Close()
	}
	t.outgoingHandshakers = make(map[*outgoinghandshaker.OutgoingHandshaker]struct{})
	for pe := range t.peers {
		if !pe.PeerInterested {
			t.closePeer(pe)
		}
	}
	t.addrList.Reset()
	for _, pd := range t.pieceDownloaders {
		t.closePieceDownloader(pd)
		pd.CancelPending()
	}
	t.piecePicker = nil
	t.updateSeedDuration()
	return true
}

func (t *torrent) writeStats() {
	t.updateSeedDuration()
	if t.resume != nil {
		t.resume.WriteStats(t.resumerStats)
	}
}
