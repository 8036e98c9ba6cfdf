package announcer

import (
	"net"
	"strconv"

	"github.com/nictuku/dht"

	"github.com/embertorrent/ember/internal/logger"
)

// DHTAnnouncer requests peers for one infohash from a shared DHT node on a
// loop, toggled on and off as the torrent's peer count crosses its low
// watermark.
type DHTAnnouncer struct {
	node        *dht.DHT
	infoHashStr string
	port        int
	peersC      chan []*net.TCPAddr
	log         logger.Logger

	wantC  chan bool
	closeC chan struct{}
	doneC  chan struct{}
}

// NewDHTAnnouncer returns a DHTAnnouncer for infoHash against node,
// advertising port as our own listening port.
func NewDHTAnnouncer(node *dht.DHT, infoHash [20]byte, port int, peersC chan []*net.TCPAddr, log logger.Logger) *DHTAnnouncer {
	return &DHTAnnouncer{
		node:        node,
		infoHashStr: string(infoHash[:]),
		port:        port,
		peersC:      peersC,
		log:         log,
		wantC:       make(chan bool, 1),
		closeC:      make(chan struct{}),
		doneC:       make(chan struct{}),
	}
}

// NeedMorePeers toggles whether this announcer keeps requesting peers from
// the DHT; set false once the torrent has enough connections.
func (a *DHTAnnouncer) NeedMorePeers(val bool) {
	select {
	case a.wantC <- val:
	default:
	}
}

// Run requests peers for our infohash from the DHT and forwards every
// result batch onto peersC until Close.
func (a *DHTAnnouncer) Run() {
	defer close(a.doneC)
	want := true
	go a.node.PeersRequest(a.infoHashStr, true)
	for {
		select {
		case <-a.closeC:
			return
		case want = <-a.wantC:
			if want {
				go a.node.PeersRequest(a.infoHashStr, true)
			}
			continue
		case result := <-a.node.PeersRequestResults:
			if !want {
				continue
			}
			peers, ok := result[dht.InfoHash(a.infoHashStr)]
			if !ok {
				continue
			}
			addrs := make([]*net.TCPAddr, 0, len(peers))
			for _, p := range peers {
				addr := dht.DecodePeerAddress(p)
				tcpAddr := parseTCPAddr(addr)
				if tcpAddr == nil {
					a.log.Debugln("dht: could not parse peer address:", addr)
					continue
				}
				addrs = append(addrs, tcpAddr)
			}
			if len(addrs) == 0 {
				continue
			}
			select {
			case a.peersC <- addrs:
			case <-a.closeC:
				return
			}
		}
	}
}

func parseTCPAddr(hostport string) *net.TCPAddr {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	return &net.TCPAddr{IP: ip, Port: port}
}
