// Package peer is the per-connection state the torrent's run loop owns: the
// choke/interest flags BEP 3 defines, pending-message buffering while a
// magnet download still lacks metadata, and the reader/writer goroutines
// that turn a peerconn.Conn into a pair of channels.
package peer

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/embertorrent/ember/internal/bitfield"
	"github.com/embertorrent/ember/internal/logger"
	"github.com/embertorrent/ember/internal/peerconn"
	"github.com/embertorrent/ember/internal/peerprotocol"
	"github.com/embertorrent/ember/internal/ratelimit"
)

// idleTimeout closes a connection that has sent us nothing, not even a
// keepalive, for this long.
const idleTimeout = 180 * time.Second

// keepAliveInterval sends a keepalive if we have written nothing for this
// long, so idle-but-healthy connections survive the peer's own idle timer.
const keepAliveInterval = 120 * time.Second

// Message pairs a decoded core/extension message with the peer it arrived
// on, for the torrent run loop's single dispatch channel.
type Message struct {
	Peer    *Peer
	Message peerprotocol.Message
}

// PieceMessage pairs an incoming block of piece data with its sender.
type PieceMessage struct {
	Peer  *Peer
	Piece peerprotocol.PieceMessage
}

// Peer is one connected, handshaken remote. Every field below is mutated by
// the owning torrent's run loop, except ExtensionHandshake and its
// received flag, which Run's reader goroutine sets when the peer's BEP 10
// handshake arrives; apart from that the reader/writer goroutines only move
// bytes.
type Peer struct {
	Conn *peerconn.Conn

	log logger.Logger

	// BEP 3 choke/interest state, ours and theirs.
	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	// FastExtension is copied from peerconn.Conn.ExtensionsSeen, i.e. the
	// BEP 10 extension bit of the peer's handshake; the peer's BEP 6 bit
	// itself is not recorded, and nothing acts on this flag.
	FastExtension bool

	// Bitfield is the peer's most recently announced piece set.
	Bitfield *bitfield.Bitfield

	// Downloading is true while a piecedownloader owns this peer.
	Downloading bool
	// Snubbed is set by the torrent when this peer arrives on the snubbed
	// channel passed to Run; Run never sends on that channel, so the flag
	// stays false. The choking scheduler leaves snubbed peers out of its
	// ranking.
	Snubbed bool

	// OptimisticUnchoked is true while this peer holds the choking
	// scheduler's optimistic-unchoke slot, so the regular tit-for-tat pass
	// doesn't immediately re-choke it based on a rate of zero.
	OptimisticUnchoked bool
	// BytesDownloadedInChokePeriod/BytesUploadedInChokePeriod accumulate
	// since the last tickUnchoke call and are reset there; they drive the
	// tit-for-tat ranking.
	BytesDownloadedInChokePeriod int64
	BytesUploadedInChokePeriod   int64

	// PEX tracks the ut_pex delta state for this peer, nil until both
	// sides negotiate the extension.
	PEX *PEX

	// ExtensionHandshake is the peer's BEP 10 handshake payload, used to
	// resolve the ut_metadata/ut_pex extended message ids it wants.
	ExtensionHandshake peerprotocol.ExtensionHandshakeMessage
	gotExtHandshake    bool

	// Messages buffers core messages received before we had a piece
	// picker to dispatch them to (magnet download awaiting metadata).
	Messages []peerprotocol.Message

	DownloadSpeed metrics.EWMA
	UploadSpeed   metrics.EWMA

	limiter *ratelimit.Limiter

	requestTimeout time.Duration
	sendC          chan peerprotocol.Message
	stopC          chan struct{}
}

// New wraps a handshaken connection. requestTimeout is stored on the Peer
// but not read; Peer does not detect snubbing itself. limiter may be nil,
// in which case uploads and downloads on this connection are unbounded.
func New(conn *peerconn.Conn, requestTimeout time.Duration, limiter *ratelimit.Limiter, log logger.Logger) *Peer {
	return &Peer{
		Conn:           conn,
		log:            log,
		AmChoking:      true,
		PeerChoking:    true,
		FastExtension:  conn.ExtensionsSeen,
		DownloadSpeed:  metrics.NewEWMA1(),
		UploadSpeed:    metrics.NewEWMA1(),
		limiter:        limiter,
		requestTimeout: requestTimeout,
		sendC:          make(chan peerprotocol.Message, 256),
		stopC:          make(chan struct{}),
	}
}

// ID is the 20-byte peer id the handshake echoed, used to dedupe multiple
// connections to the same remote client.
func (p *Peer) ID() [20]byte { return p.Conn.PeerID }

// Addr returns the remote TCP endpoint.
func (p *Peer) Addr() *net.TCPAddr {
	if a, ok := p.Conn.RemoteAddr().(*net.TCPAddr); ok {
		return a
	}
	return nil
}

// Logger returns this peer's tagged logger.
func (p *Peer) Logger() logger.Logger { return p.log }

// SendMessage queues m for the writer goroutine. Never blocks the caller
// (the torrent run loop): a full send queue means the peer is too slow and
// closing it is the run loop's job, not SendMessage's.
func (p *Peer) SendMessage(m peerprotocol.Message) {
	select {
	case p.sendC <- m:
	default:
		p.log.Debugln("peer send queue full, dropping connection")
		p.Close()
	}
}

// GotExtensionHandshake reports whether this peer's BEP 10 handshake has
// been received yet.
func (p *Peer) GotExtensionHandshake() bool { return p.gotExtHandshake }

// ExtensionID returns the extended message id the peer assigned to the
// named sub-protocol in its handshake, if it supports it.
func (p *Peer) ExtensionID(name string) (peerprotocol.ExtensionMessageID, bool) {
	id, ok := p.ExtensionHandshake.M[name]
	return id, ok
}

// extensionNames resolves extended message ids the peer's handshake
// assigned, so ReadMessage can decode ut_metadata/ut_pex payloads.
func (p *Peer) extensionNames() peerprotocol.ExtensionIDNames {
	names := make(peerprotocol.ExtensionIDNames, len(p.ExtensionHandshake.M))
	for name, id := range p.ExtensionHandshake.M {
		names[id] = name
	}
	return names
}

// Run starts the reader and writer goroutines and blocks until the
// connection closes, at which point it notifies disconnectedC. messages
// receives every other message except keepalives and the peer's BEP 10
// extension handshake, which Run stores on the Peer itself; pieceMessages
// receives Piece messages
// separately so the torrent loop can backpressure disk writes without
// blocking control traffic.
func (p *Peer) Run(messages chan Message, pieceMessages chan PieceMessage, snubbedC chan *Peer, disconnectedC chan *Peer) {
	writerDone := make(chan struct{})
	go p.writeLoop(writerDone)

	defer func() {
		close(p.stopC)
		<-writerDone
		p.Conn.Close()
		select {
		case disconnectedC <- p:
		case <-time.After(time.Second):
		}
	}()

	for {
		p.Conn.SetReadDeadline(time.Now().Add(idleTimeout))
		msg, err := peerprotocol.ReadMessage(p.Conn.R, p.extensionNames())
		if err != nil {
			if err != io.EOF {
				p.log.Debugln("peer read error:", err)
			}
			return
		}
		if msg == nil {
			continue // keepalive
		}
		if em, ok := msg.(peerprotocol.ExtensionMessage); ok && em.ExtendedMessageID == peerprotocol.ExtensionHandshakeID {
			if p.gotExtHandshake {
				p.log.Debugln("duplicate extension handshake, closing")
				return
			}
			hs, ok := em.Payload.(peerprotocol.ExtensionHandshakeMessage)
			if !ok {
				return
			}
			p.ExtensionHandshake = hs
			p.gotExtHandshake = true
			continue
		}
		if pm, ok := msg.(peerprotocol.PieceMessage); ok {
			if p.limiter != nil {
				p.limiter.WaitDownload(context.Background(), len(pm.Data))
			}
			select {
			case pieceMessages <- PieceMessage{Peer: p, Piece: pm}:
			case <-p.stopC:
				return
			}
			continue
		}
		select {
		case messages <- Message{Peer: p, Message: msg}:
		case <-p.stopC:
			return
		}
	}
}

func (p *Peer) writeLoop(done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case m := <-p.sendC:
			if pm, ok := m.(peerprotocol.PieceMessage); ok && p.limiter != nil {
				p.limiter.WaitUpload(context.Background(), len(pm.Data))
			}
			if err := peerprotocol.WriteMessage(p.Conn.W, m); err != nil {
				return
			}
			if err := p.Conn.W.Flush(); err != nil {
				return
			}
			ticker.Reset(keepAliveInterval)
		case <-ticker.C:
			if _, err := p.Conn.W.Write([]byte{0, 0, 0, 0}); err != nil {
				return
			}
			p.Conn.W.Flush()
		case <-p.stopC:
			return
		}
	}
}

// Close tears down the connection; Run's deferred cleanup notifies the
// torrent loop once both goroutines have exited.
func (p *Peer) Close() {
	p.Conn.Close()
}
