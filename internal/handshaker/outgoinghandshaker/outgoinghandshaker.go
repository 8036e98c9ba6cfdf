// Package outgoinghandshaker dials a peer address and performs the client
// side of the BEP 3 handshake, off the torrent's run loop.
package outgoinghandshaker

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/embertorrent/ember/internal/peerconn"
)

// ErrHandshakeTimeout is reported when dial+handshake together exceed the
// caller-supplied timeouts.
var ErrHandshakeTimeout = errors.New("outgoinghandshaker: timed out")

// OutgoingHandshaker dials addr and drives the handshake to completion (or
// failure), reporting itself on a result channel.
type OutgoingHandshaker struct {
	Addr  *net.TCPAddr
	Conn  *peerconn.Conn
	Error error
}

// New returns an OutgoingHandshaker for addr, ready to Run.
func New(addr *net.TCPAddr) *OutgoingHandshaker {
	return &OutgoingHandshaker{Addr: addr}
}

// Run dials addr and performs the handshake for infoHash, identifying
// ourselves as ourID. connectTimeout and handshakeTimeout are added into one
// budget covering both steps; when it runs out, Error is
// ErrHandshakeTimeout. The result is sent once on resultC.
func (h *OutgoingHandshaker) Run(connectTimeout, handshakeTimeout time.Duration, ourID, infoHash [20]byte, resultC chan *OutgoingHandshaker) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout+handshakeTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := peerconn.Dial(ctx, h.Addr.String(), infoHash, ourID)
		if err != nil {
			h.Error = err
			return
		}
		h.Conn = conn
	}()
	select {
	case <-done:
	case <-time.After(connectTimeout + handshakeTimeout):
		cancel()
		h.Error = ErrHandshakeTimeout
		<-done
	}
	resultC <- h
}
