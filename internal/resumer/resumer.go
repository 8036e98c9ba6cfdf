// Package resumer defines the persistence contract a session uses to
// survive a restart without re-verifying or re-downloading completed
// torrents: the torrent's spec (metainfo, trackers, dest) plus mutable
// progress (bitfield, stats). boltdbresumer is the one backing
// implementation.
package resumer

import "time"

// Stats are the cumulative counters persisted alongside a torrent's
// bitfield so restart doesn't lose lifetime totals used for ratio/seed
// time reporting.
type Stats struct {
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
	SeededFor       time.Duration
}

// Spec is everything needed to recreate a torrent without re-fetching its
// metadata or re-verifying completed pieces from scratch.
type Spec struct {
	InfoHash        []byte
	Dest            string
	Port            int
	Name            string
	Trackers        [][]string
	Info            []byte // raw bencoded info dict, nil until metadata is known
	Bitfield        []byte
	CreatedAt       time.Time
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
	SeededFor       time.Duration
	Started         bool
}

// Resumer reads and incrementally updates one torrent's resume record.
type Resumer interface {
	Write(spec Spec) error
	WriteBitfield(bitfield []byte) error
	WriteStats(stats Stats) error
	WriteStarted(started bool) error
	Read() (Spec, error)
}
