package session

import (
	"net"

	"github.com/nictuku/dht"
)

// dhtAnnouncer is a torrent's handle onto the session's single shared DHT
// node: the node's PeersRequestResults channel is read once, centrally, by
// Session.processDHTResults and fanned out to every subscribed torrent by
// infohash, since nictuku/dht only hands that channel out once.
type dhtAnnouncer struct {
	session  *Session
	infoHash dht.InfoHash
	peersC   chan []*net.TCPAddr
}

// newDHTAnnouncer subscribes a torrent to s's shared DHT node for infoHash.
func newDHTAnnouncer(s *Session, infoHash [20]byte) *dhtAnnouncer {
	return &dhtAnnouncer{
		session:  s,
		infoHash: dht.InfoHash(infoHash[:]),
		peersC:   make(chan []*net.TCPAddr),
	}
}

// Run registers this torrent so Session.handleDHTtick eventually issues a
// PeersRequest on its behalf; it returns once registered, the request
// itself happens asynchronously on the session's DHT tick.
func (d *dhtAnnouncer) Run() {
	d.session.registerDHTAnnouncer(d)
	d.NeedMorePeers(true)
}

// NeedMorePeers toggles whether the session's periodic DHT tick keeps
// requesting peers for this torrent's infohash.
func (d *dhtAnnouncer) NeedMorePeers(val bool) {
	d.session.setDHTWanted(d.infoHash, val)
}

// Close unsubscribes this torrent from the shared DHT node.
func (d *dhtAnnouncer) Close() {
	d.session.unregisterDHTAnnouncer(d)
}
