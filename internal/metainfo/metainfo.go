// Package metainfo parses .torrent files and builds the immutable torrent
// metadata model (infohash, piece layout, file list, tracker tiers) used by
// everything downstream: the piece store, the picker and peer discovery.
package metainfo

import (
	"errors"
	"io"

	"github.com/embertorrent/ember/internal/bencode"
)

// ErrNoInfoDict is returned when a .torrent file has no "info" dictionary.
var ErrNoInfoDict = errors.New("metainfo: no info dict in torrent file")

// MetaInfo is the decoded top-level dictionary of a .torrent file.
type MetaInfo struct {
	Info         *Info              `bencode:"-"`
	RawInfo      bencode.RawMessage `bencode:"info"`
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list"`
	CreationDate int64              `bencode:"creation date"`
	Comment      string             `bencode:"comment"`
	CreatedBy    string             `bencode:"created by"`
	Encoding     string             `bencode:"encoding"`
}

// New parses a .torrent file from r.
func New(r io.Reader) (*MetaInfo, error) {
	var m MetaInfo
	if err := bencode.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	if len(m.RawInfo) == 0 {
		return nil, ErrNoInfoDict
	}
	var err error
	m.Info, err = NewInfo(m.RawInfo)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Trackers returns the tracker tiers: announce-list if present (BEP 12),
// otherwise a single tier holding the legacy announce URL.
func (m *MetaInfo) Trackers() [][]string {
	if len(m.AnnounceList) > 0 {
		return m.AnnounceList
	}
	if m.Announce == "" {
		return nil
	}
	return [][]string{{m.Announce}}
}
