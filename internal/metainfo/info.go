package metainfo

import (
	"crypto/sha1"
	"fmt"

	"github.com/embertorrent/ember/internal/bencode"
)

const sha1Len = 20

// File describes one file of a (possibly multi-file) torrent, in the
// declared concatenation order used to map the linear piece/byte space onto
// backing files.
type File struct {
	Path   []string `bencode:"path"`
	Length int64    `bencode:"length"`
}

// Info is the decoded "info" dictionary of a .torrent file: piece layout and
// file list. It is built from the raw bytes captured by MetaInfo.RawInfo so
// that Hash() always matches what a peer would compute from the same bytes.
type Info struct {
	Name        string `bencode:"name"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      []byte `bencode:"pieces"`
	Private     int64  `bencode:"private"`
	Length      int64  `bencode:"length"`
	Files       []File `bencode:"files"`

	// Bytes is the raw bencoded info dict this Info was decoded from,
	// kept around so a resume record or a ut_metadata reply can hand the
	// exact bytes back out without re-encoding (and risking a different
	// infohash).
	Bytes []byte

	hash        [sha1Len]byte
	numPieces   uint32
	totalLength int64
	multiFile   bool
}

// NewInfo decodes an Info from the raw bencoded bytes of an "info"
// dictionary and computes its infohash (SHA-1 of those exact bytes).
func NewInfo(raw []byte) (*Info, error) {
	var i Info
	if err := bencode.Unmarshal(raw, &i); err != nil {
		return nil, fmt.Errorf("metainfo: invalid info dict: %w", err)
	}
	if len(i.Pieces)%sha1Len != 0 {
		return nil, fmt.Errorf("metainfo: pieces length %d not a multiple of %d", len(i.Pieces), sha1Len)
	}
	i.numPieces = uint32(len(i.Pieces) / sha1Len)
	i.hash = sha1.Sum(raw)
	i.Bytes = append([]byte(nil), raw...)

	if len(i.Files) == 0 {
		i.totalLength = i.Length
		i.Files = []File{{Path: []string{i.Name}, Length: i.Length}}
	} else {
		i.multiFile = true
		for _, f := range i.Files {
			i.totalLength += f.Length
		}
	}
	if err := i.validate(); err != nil {
		return nil, err
	}
	return &i, nil
}

func (i *Info) validate() error {
	if i.PieceLength <= 0 {
		return fmt.Errorf("metainfo: non-positive piece length")
	}
	var sum int64
	for _, f := range i.Files {
		if f.Length < 0 {
			return fmt.Errorf("metainfo: negative file length")
		}
		sum += f.Length
	}
	if sum != i.totalLength {
		return fmt.Errorf("metainfo: file lengths %d do not sum to total length %d", sum, i.totalLength)
	}
	expectedPieces := (i.totalLength + i.PieceLength - 1) / i.PieceLength
	if i.totalLength > 0 && int64(i.numPieces) != expectedPieces {
		return fmt.Errorf("metainfo: piece count %d does not match length/piece-length (%d)", i.numPieces, expectedPieces)
	}
	return nil
}

// Hash returns the 20-byte SHA-1 infohash.
func (i *Info) Hash() [sha1Len]byte { return i.hash }

// NumPieces returns the number of 20-byte piece hashes (P in the spec).
func (i *Info) NumPieces() uint32 { return i.numPieces }

// TotalLength returns the sum of all file lengths.
func (i *Info) TotalLength() int64 { return i.totalLength }

// PieceHash returns the expected SHA-1 hash of piece index.
func (i *Info) PieceHash(index uint32) []byte {
	return i.Pieces[int(index)*sha1Len : int(index)*sha1Len+sha1Len]
}

// PieceLengthAt returns the length of piece index, accounting for a shorter
// final piece.
func (i *Info) PieceLengthAt(index uint32) int64 {
	if index == i.numPieces-1 {
		rem := i.totalLength % i.PieceLength
		if rem != 0 {
			return rem
		}
	}
	return i.PieceLength
}

// IsPrivate reports whether this torrent's tracker is the sole peer source
// (BEP 27): DHT and PEX must stay disabled for it.
func (i *Info) IsPrivate() bool { return i.Private != 0 }

// MultiFile reports whether the original dict used the multi-file "files"
// list rather than a top-level "length".
func (i *Info) MultiFile() bool { return i.multiFile }
