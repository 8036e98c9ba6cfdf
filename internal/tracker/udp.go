package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"
)

const (
	udpProtocolMagic  = 0x41727101980
	udpActionConnect  = 0
	udpActionAnnounce = 1
	udpActionError    = 3
)

// UDPTracker announces over the compact binary protocol BEP 15 defines.
type UDPTracker struct {
	rawURL  string
	addr    string
	timeout time.Duration
}

// NewUDPTracker returns a UDPTracker for a "udp://host:port/announce" URL.
func NewUDPTracker(rawURL string, timeout time.Duration) (*UDPTracker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: invalid udp url: %w", err)
	}
	return &UDPTracker{rawURL: rawURL, addr: u.Host, timeout: timeout}, nil
}

func (t *UDPTracker) URL() string { return t.rawURL }

// Announce performs the connect+announce handshake BEP 15 requires before
// every UDP announce (the connection id is not cached across calls, since
// trackers are contacted infrequently relative to its validity window).
func (t *UDPTracker) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	conn, err := net.Dial("udp", t.addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	} else {
		conn.SetDeadline(time.Now().Add(t.timeout))
	}

	connID, err := t.connect(conn)
	if err != nil {
		return nil, err
	}
	return t.announce(conn, connID, req)
}

func (t *UDPTracker) connect(conn net.Conn) (uint64, error) {
	txID := rand.Uint32()
	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], udpProtocolMagic)
	binary.BigEndian.PutUint32(req[8:12], udpActionConnect)
	binary.BigEndian.PutUint32(req[12:16], txID)
	if _, err := conn.Write(req); err != nil {
		return 0, err
	}

	resp := make([]byte, 16)
	n, err := conn.Read(resp)
	if err != nil {
		return 0, err
	}
	if n < 16 {
		return 0, fmt.Errorf("tracker: short udp connect response")
	}
	if err := checkAction(resp, txID); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func (t *UDPTracker) announce(conn net.Conn, connID uint64, req AnnounceRequest) (*AnnounceResponse, error) {
	txID := rand.Uint32()
	pkt := make([]byte, 98)
	binary.BigEndian.PutUint64(pkt[0:8], connID)
	binary.BigEndian.PutUint32(pkt[8:12], udpActionAnnounce)
	binary.BigEndian.PutUint32(pkt[12:16], txID)
	copy(pkt[16:36], req.InfoHash[:])
	copy(pkt[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(pkt[56:64], uint64(req.BytesDownloaded))
	binary.BigEndian.PutUint64(pkt[64:72], uint64(req.BytesLeft))
	binary.BigEndian.PutUint64(pkt[72:80], uint64(req.BytesUploaded))
	binary.BigEndian.PutUint32(pkt[80:84], uint32(udpEvent(req.Event)))
	// IP address 0 lets the tracker use the packet's source address.
	binary.BigEndian.PutUint32(pkt[84:88], 0)
	binary.BigEndian.PutUint32(pkt[88:92], rand.Uint32()) // key
	numWant := int32(-1)
	if req.NumWant > 0 {
		numWant = int32(req.NumWant)
	}
	binary.BigEndian.PutUint32(pkt[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(pkt[96:98], uint16(req.Port))
	if _, err := conn.Write(pkt); err != nil {
		return nil, err
	}

	resp := make([]byte, 20+6*1000)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, err
	}
	if n < 20 {
		return nil, fmt.Errorf("tracker: short udp announce response")
	}
	if err := checkAction(resp[:n], txID); err != nil {
		return nil, err
	}
	interval := time.Duration(binary.BigEndian.Uint32(resp[8:12])) * time.Second
	leechers := int32(binary.BigEndian.Uint32(resp[12:16]))
	seeders := int32(binary.BigEndian.Uint32(resp[16:20]))
	peerBytes := resp[20:n]
	peers, err := decodeCompactPeers(peerBytes)
	if err != nil {
		return nil, err
	}
	return &AnnounceResponse{
		Interval: interval,
		Leechers: leechers,
		Seeders:  seeders,
		Peers:    peers,
	}, nil
}

func udpEvent(e Event) int32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}

func checkAction(resp []byte, txID uint32) error {
	gotTxID := binary.BigEndian.Uint32(resp[4:8])
	if gotTxID != txID {
		return fmt.Errorf("tracker: udp transaction id mismatch")
	}
	action := binary.BigEndian.Uint32(resp[0:4])
	if action == udpActionError {
		return fmt.Errorf("tracker: udp error: %s", string(resp[8:]))
	}
	return nil
}
