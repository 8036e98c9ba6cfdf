// Package acceptor runs the listening socket peers dial in to: a single
// goroutine that Accepts in a loop and hands each raw connection to the
// session over a channel, decoupling socket-level errors from any one
// torrent's run loop.
package acceptor

import (
	"net"

	"github.com/embertorrent/ember/internal/logger"
)

// Acceptor owns a listening TCP socket and feeds every accepted connection
// to connC.
type Acceptor struct {
	listener net.Listener
	connC    chan net.Conn
	log      logger.Logger
	closeC   chan struct{}
}

// New starts listening on addr ("host:port", port 0 picks any free port)
// and returns an Acceptor whose Run loop feeds connC.
func New(addr string, connC chan net.Conn, log logger.Logger) (*Acceptor, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{listener: l, connC: connC, log: log, closeC: make(chan struct{})}, nil
}

// Addr returns the bound listening address, useful when addr's port was 0.
func (a *Acceptor) Addr() net.Addr { return a.listener.Addr() }

// Run accepts connections until Close is called, logging (but not
// stopping on) transient accept errors.
func (a *Acceptor) Run() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.closeC:
				return
			default:
			}
			a.log.Debugln("accept error:", err)
			continue
		}
		select {
		case a.connC <- conn:
		case <-a.closeC:
			conn.Close()
			return
		}
	}
}

// Close stops the accept loop and closes the listening socket.
func (a *Acceptor) Close() error {
	close(a.closeC)
	return a.listener.Close()
}
