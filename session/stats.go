package session

import (
	"fmt"
	"time"

	"github.com/embertorrent/ember/internal/peer"
)

// Stats is a point-in-time snapshot of one torrent's progress and speed,
// returned by Torrent.Stats().
type Stats struct {
	InfoHash        string
	Name            string
	Status          Status
	Error           error
	Length          int64
	BytesDownloaded int64
	BytesUploaded   int64
	BytesCompleted  int64
	BytesLeft       int64
	BytesTotal      int64
	DownloadSpeed   int64
	UploadSpeed     int64
	Peers           int
	SeedDuration    time.Duration
}

// TrackerStatus is a snapshot of one tracker's URL, used for listing a
// torrent's trackers over RPC.
type TrackerStatus struct {
	URL string
}

// PeerStatus is a snapshot of one connected peer, used for listing a
// torrent's peers over RPC.
type PeerStatus struct {
	Addr          string
	Client        string
	Downloading   bool
	AmChoking     bool
	PeerChoking   bool
	DownloadSpeed int64
	UploadSpeed   int64
}

// stats builds the Stats snapshot for the run loop's statsCommandC handler.
func (t *torrent) stats() Stats {
	var length, completed int64
	if t.info != nil {
		length = t.info.TotalLength()
	}
	if t.bitfield != nil {
		for i := range t.pieces {
			if t.bitfield.Test(uint32(i)) {
				completed += t.pieces[i].Length
			}
		}
	}
	return Stats{
		InfoHash:        fmt.Sprintf("%x", t.infoHash[:]),
		Name:            t.name,
		Status:          t.status(),
		Error:           t.lastError,
		Length:          length,
		BytesDownloaded: t.resumerStats.BytesDownloaded,
		BytesUploaded:   t.resumerStats.BytesUploaded,
		BytesCompleted:  completed,
		BytesLeft:       length - completed,
		BytesTotal:      length,
		DownloadSpeed:   int64(t.downloadSpeed.Rate()),
		UploadSpeed:     int64(t.uploadSpeed.Rate()),
		Peers:           len(t.peers),
		SeedDuration:    t.seedDuration(),
	}
}

// seedDuration reports cumulative time spent fully seeding, including the
// in-progress interval since seedDurationUpdatedAt if currently seeding.
func (t *torrent) seedDuration() time.Duration {
	d := t.resumerStats.SeededFor
	if t.completed && !t.seedDurationUpdatedAt.IsZero() {
		d += time.Since(t.seedDurationUpdatedAt)
	}
	return d
}

// updateSeedDuration folds the elapsed time since the last call into the
// resumer's running total; called whenever completion state may have
// changed (completion, stop, periodic stats write).
func (t *torrent) updateSeedDuration() {
	if t.completed {
		if !t.seedDurationUpdatedAt.IsZero() {
			t.resumerStats.SeededFor += time.Since(t.seedDurationUpdatedAt)
		}
		t.seedDurationUpdatedAt = time.Now()
	} else {
		t.seedDurationUpdatedAt = time.Time{}
	}
}

// getTrackers lists every tracker configured for this torrent.
func (t *torrent) getTrackers() []TrackerStatus {
	out := make([]TrackerStatus, 0, len(t.trackers))
	for _, tr := range t.trackers {
		out = append(out, TrackerStatus{URL: tr.URL()})
	}
	return out
}

// getPeers lists every connected peer.
func (t *torrent) getPeers() []PeerStatus {
	out := make([]PeerStatus, 0, len(t.peers))
	for pe := range t.peers {
		out = append(out, peerStatus(pe))
	}
	return out
}

func peerStatus(pe *peer.Peer) PeerStatus {
	addr := ""
	if a := pe.Addr(); a != nil {
		addr = a.String()
	}
	return PeerStatus{
		Addr:          addr,
		Downloading:   pe.Downloading,
		AmChoking:     pe.AmChoking,
		PeerChoking:   pe.PeerChoking,
		DownloadSpeed: int64(pe.DownloadSpeed.Rate()),
		UploadSpeed:   int64(pe.UploadSpeed.Rate()),
	}
}
