package session

import (
	"fmt"
	"time"

	"github.com/embertorrent/ember/internal/resumer/boltdbresumer"
)

// Torrent is a session's public handle to one swarm; every method is a
// thin, synchronous request into the torrent's own run loop.
type Torrent struct {
	session   *Session
	torrent   *torrent
	id        string
	port      uint16
	createdAt time.Time
}

// ID returns the session-assigned identifier used to persist and look up
// this torrent.
func (t *Torrent) ID() string { return t.id }

// Name returns the torrent's display name, "" until metadata is known.
func (t *Torrent) Name() string { return t.torrent.Name() }

// InfoHash returns the torrent's infohash, hex-encoded.
func (t *Torrent) InfoHash() string { return fmt.Sprintf("%x", t.torrent.InfoHash()) }

// CreatedAt returns when this torrent was added to the session.
func (t *Torrent) CreatedAt() time.Time { return t.createdAt }

// Start begins (or resumes) downloading/seeding and persists that this
// torrent should be auto-started the next time the session restarts.
func (t *Torrent) Start() error {
	t.torrent.startTorrent()
	if r, ok := t.torrent.resume.(*boltdbresumer.Resumer); ok {
		return r.WriteStarted(true)
	}
	return nil
}

// Stop pauses the torrent: peers are disconnected and a final "stopped"
// tracker event is sent, but metadata and progress are kept.
func (t *Torrent) Stop() error {
	t.torrent.stopTorrent()
	if r, ok := t.torrent.resume.(*boltdbresumer.Resumer); ok {
		return r.WriteStarted(false)
	}
	return nil
}

// Stats returns a point-in-time snapshot of this torrent's progress.
func (t *Torrent) Stats() Stats {
	req := &statsRequest{Response: make(chan Stats, 1)}
	t.torrent.statsCommandC <- req
	return <-req.Response
}

// Trackers lists every tracker configured for this torrent.
func (t *Torrent) Trackers() []TrackerStatus {
	req := &trackersRequest{Response: make(chan []TrackerStatus, 1)}
	t.torrent.trackersCommandC <- req
	return <-req.Response
}

// Peers lists every peer this torrent is currently connected to.
func (t *Torrent) Peers() []PeerStatus {
	req := &peersRequest{Response: make(chan []PeerStatus, 1)}
	t.torrent.peersCommandC <- req
	return <-req.Response
}
