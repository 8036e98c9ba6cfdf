// Package peerconn performs the handshake (BEP 3) over a raw TCP connection
// and hands back a framed, bufio-wrapped connection ready for message
// exchange.
package peerconn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/embertorrent/ember/internal/peerprotocol"
)

// ErrOwnConnection is returned when a handshake echoes our own peer id,
// meaning we connected to ourselves (e.g. via a loopback tracker response).
var ErrOwnConnection = errors.New("peerconn: own connection")

// ErrInfoHashMismatch is returned when the remote handshake carries an
// infohash we did not offer and do not recognize.
var ErrInfoHashMismatch = errors.New("peerconn: infohash mismatch")

const handshakeTimeout = 30 * time.Second

// Conn is a handshaken peer connection, buffered for message framing.
type Conn struct {
	net.Conn
	R *bufio.Reader
	W *bufio.Writer

	InfoHash       [20]byte
	PeerID         [20]byte
	ExtensionsSeen bool
}

// IP returns the remote IPv4/IPv6 address as a string, used as the key for
// per-torrent duplicate-connection tracking.
func (c *Conn) IP() string {
	if a, ok := c.RemoteAddr().(*net.TCPAddr); ok {
		return a.IP.String()
	}
	return c.RemoteAddr().String()
}

// Dial opens a TCP connection to addr and performs an outgoing handshake
// for infoHash, identifying ourselves as ourID.
func Dial(ctx context.Context, addr string, infoHash, ourID [20]byte) (*Conn, error) {
	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, err := handshake(nc, infoHash, ourID, true)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// Accept performs an incoming handshake on an already-accepted net.Conn.
// isKnown decides, from the infohash alone, whether we have that torrent;
// the caller supplies it so peerconn does not need to know about sessions.
func Accept(nc net.Conn, ourID [20]byte, isKnown func([20]byte) bool) (*Conn, error) {
	nc.SetDeadline(time.Now().Add(handshakeTimeout))
	defer nc.SetDeadline(time.Time{})

	r := bufio.NewReader(nc)
	hs, err := peerprotocol.ReadHandshake(r)
	if err != nil {
		return nil, err
	}
	if !isKnown(hs.InfoHash) {
		return nil, fmt.Errorf("%w: %x", ErrInfoHashMismatch, hs.InfoHash)
	}
	reply := peerprotocol.NewHandshakeMessage(hs.InfoHash, ourID, true)
	if err := reply.WriteTo(nc); err != nil {
		return nil, err
	}
	if hs.PeerID == ourID {
		return nil, ErrOwnConnection
	}
	return &Conn{
		Conn:           nc,
		R:              r,
		W:              bufio.NewWriter(nc),
		InfoHash:       hs.InfoHash,
		PeerID:         hs.PeerID,
		ExtensionsSeen: hs.SupportsExtensions(),
	}, nil
}

func handshake(nc net.Conn, infoHash, ourID [20]byte, outgoing bool) (*Conn, error) {
	nc.SetDeadline(time.Now().Add(handshakeTimeout))
	defer nc.SetDeadline(time.Time{})

	out := peerprotocol.NewHandshakeMessage(infoHash, ourID, true)
	if err := out.WriteTo(nc); err != nil {
		return nil, err
	}
	r := bufio.NewReader(nc)
	in, err := peerprotocol.ReadHandshake(r)
	if err != nil {
		return nil, err
	}
	if in.InfoHash != infoHash {
		return nil, fmt.Errorf("%w: %x", ErrInfoHashMismatch, in.InfoHash)
	}
	if in.PeerID == ourID {
		return nil, ErrOwnConnection
	}
	return &Conn{
		Conn:           nc,
		R:              r,
		W:              bufio.NewWriter(nc),
		InfoHash:       in.InfoHash,
		PeerID:         in.PeerID,
		ExtensionsSeen: in.SupportsExtensions(),
	}, nil
}
