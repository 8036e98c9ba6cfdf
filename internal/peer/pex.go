package peer

import (
	"encoding/binary"
	"net"

	"github.com/embertorrent/ember/internal/peerprotocol"
)

// config.PEXFlushInterval-worth of added/dropped addresses accumulate here between
// flushes; the torrent run loop calls Flush on a ticker and sends the
// result as an ut_pex extension message, per peer.
type PEX struct {
	added   map[string]*net.TCPAddr
	dropped map[string]*net.TCPAddr
}

// NewPEX returns an empty PEX delta tracker for one peer connection.
func NewPEX() *PEX {
	return &PEX{added: make(map[string]*net.TCPAddr), dropped: make(map[string]*net.TCPAddr)}
}

// Add records that addr is now a known peer, to be advertised on the next
// flush (unless it is dropped again before then).
func (p *PEX) Add(addr *net.TCPAddr) {
	if addr == nil {
		return
	}
	k := addr.String()
	delete(p.dropped, k)
	p.added[k] = addr
}

// Drop records that addr is no longer connected.
func (p *PEX) Drop(addr *net.TCPAddr) {
	if addr == nil {
		return
	}
	k := addr.String()
	delete(p.added, k)
	p.dropped[k] = addr
}

// Flush encodes the accumulated deltas as an ut_pex message and clears
// them; it returns ok=false when there is nothing new to report.
func (p *PEX) Flush() (peerprotocol.ExtensionPEXMessage, bool) {
	if len(p.added) == 0 && len(p.dropped) == 0 {
		return peerprotocol.ExtensionPEXMessage{}, false
	}
	msg := peerprotocol.ExtensionPEXMessage{
		Added:   encodeCompact(p.added),
		Dropped: encodeCompact(p.dropped),
	}
	p.added = make(map[string]*net.TCPAddr)
	p.dropped = make(map[string]*net.TCPAddr)
	return msg, true
}

func encodeCompact(addrs map[string]*net.TCPAddr) []byte {
	out := make([]byte, 0, len(addrs)*6)
	for _, a := range addrs {
		ip4 := a.IP.To4()
		if ip4 == nil {
			continue
		}
		var port [2]byte
		binary.BigEndian.PutUint16(port[:], uint16(a.Port))
		out = append(out, ip4...)
		out = append(out, port[:]...)
	}
	return out
}
