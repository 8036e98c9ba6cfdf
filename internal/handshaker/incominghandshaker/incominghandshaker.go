// Package incominghandshaker performs the server side of the BEP 3
// handshake on a freshly accepted TCP connection, off the torrent's run
// loop so a slow or malicious peer can't stall it.
package incominghandshaker

import (
	"errors"
	"net"
	"time"

	"github.com/embertorrent/ember/internal/peerconn"
)

// ErrHandshakeTimeout is reported when the remote doesn't complete the
// handshake within the caller-supplied timeout.
var ErrHandshakeTimeout = errors.New("incominghandshaker: timed out")

// IncomingHandshaker drives one accepted connection's handshake to
// completion (or failure) and reports itself on a result channel.
type IncomingHandshaker struct {
	Conn  *peerconn.Conn
	Error error

	nc net.Conn
}

// New wraps an already-accepted net.Conn, ready to Run.
func New(nc net.Conn) *IncomingHandshaker {
	return &IncomingHandshaker{nc: nc}
}

// Run performs the handshake: ourID identifies us, checkInfoHash decides
// whether the remote's announced infohash is one we are serving. The
// result (success or Error) is sent on resultC once, and Run does not
// block past timeout.
func (h *IncomingHandshaker) Run(ourID [20]byte, checkInfoHash func([20]byte) bool, resultC chan *IncomingHandshaker, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := peerconn.Accept(h.nc, ourID, checkInfoHash)
		if err != nil {
			h.Error = err
			h.nc.Close()
			return
		}
		h.Conn = conn
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		h.Error = ErrHandshakeTimeout
		h.nc.Close()
		<-done
	}
	resultC <- h
}
