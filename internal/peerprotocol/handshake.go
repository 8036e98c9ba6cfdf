package peerprotocol

import (
	"fmt"
	"io"
)

// HandshakeMessage is the 68-byte message exchanged before any other
// traffic: protocol name, 8 reserved/extension-flag bytes, infohash, peer id.
type HandshakeMessage struct {
	Pstr     [PstrLen]byte
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshakeMessage builds a handshake advertising BEP 10 extension
// support via ExtensionBitIndex.
func NewHandshakeMessage(infoHash, peerID [20]byte, extensions bool) HandshakeMessage {
	var h HandshakeMessage
	copy(h.Pstr[:], VersionString)
	h.InfoHash = infoHash
	h.PeerID = peerID
	if extensions {
		setBit(h.Reserved[:], ExtensionBitIndex)
		setBit(h.Reserved[:], FastExtensionBitIndex)
	}
	return h
}

// SupportsExtensions reports whether the reserved bytes advertise BEP 10.
func (h HandshakeMessage) SupportsExtensions() bool {
	return testBit(h.Reserved[:], ExtensionBitIndex)
}

// SupportsFastExtension reports whether the reserved bytes advertise BEP 6.
func (h HandshakeMessage) SupportsFastExtension() bool {
	return testBit(h.Reserved[:], FastExtensionBitIndex)
}

// setBit sets bit index counting from the MSB of b[0].
func setBit(b []byte, index int) {
	b[index/8] |= 1 << (7 - uint(index%8))
}

func testBit(b []byte, index int) bool {
	return b[index/8]&(1<<(7-uint(index%8))) != 0
}

// WriteTo writes the 68-byte wire form: 1-byte pstrlen, pstr, reserved,
// infohash, peer id.
func (h HandshakeMessage) WriteTo(w io.Writer) error {
	buf := make([]byte, 0, HandshakeLen)
	buf = append(buf, PstrLen)
	buf = append(buf, h.Pstr[:]...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	_, err := w.Write(buf)
	return err
}

// ReadHandshake reads and validates a 68-byte handshake from r.
func ReadHandshake(r io.Reader) (HandshakeMessage, error) {
	var h HandshakeMessage
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return h, err
	}
	if lenBuf[0] != PstrLen {
		return h, fmt.Errorf("peerprotocol: invalid pstrlen %d", lenBuf[0])
	}
	if _, err := io.ReadFull(r, h.Pstr[:]); err != nil {
		return h, err
	}
	if string(h.Pstr[:]) != VersionString {
		return h, fmt.Errorf("peerprotocol: invalid protocol string %q", h.Pstr[:])
	}
	if _, err := io.ReadFull(r, h.Reserved[:]); err != nil {
		return h, err
	}
	if _, err := io.ReadFull(r, h.InfoHash[:]); err != nil {
		return h, err
	}
	if _, err := io.ReadFull(r, h.PeerID[:]); err != nil {
		return h, err
	}
	return h, nil
}
