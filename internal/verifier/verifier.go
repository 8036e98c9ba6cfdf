// Package verifier runs the startup integrity pass: rehash every on-disk
// piece against the metainfo and rebuild the bitfield, clearing any bit
// whose piece fails the hash check.
package verifier

import (
	"crypto/sha1"

	"github.com/embertorrent/ember/internal/bitfield"
	"github.com/embertorrent/ember/internal/metainfo"
	"github.com/embertorrent/ember/internal/storage"
)

// Progress reports how many pieces have been checked so far, for a
// run-loop listener to surface in Stats().
type Progress struct {
	Checked uint32
}

// Verifier hashes every piece of a torrent's backing files once.
type Verifier struct {
	Bitfield *bitfield.Bitfield
	Error    error

	info  *metainfo.Info
	files []storage.File
}

// New returns a Verifier ready to Run against files (one per metainfo file,
// same order).
func New(info *metainfo.Info, files []storage.File) *Verifier {
	return &Verifier{
		Bitfield: bitfield.New(info.NumPieces()),
		info:     info,
		files:    files,
	}
}

// Run rehashes every piece, reporting progress on progressC and sending
// itself on resultC when done (or on the first unrecoverable read error).
func (v *Verifier) Run(progressC chan Progress, resultC chan *Verifier, stopC chan struct{}) {
	buf := make([]byte, v.info.PieceLength)
	var fileOffset int64
	fi := 0
	for i := uint32(0); i < v.info.NumPieces(); i++ {
		select {
		case <-stopC:
			resultC <- v
			return
		default:
		}
		length := v.info.PieceLengthAt(i)
		b := buf[:length]
		if err := v.readPiece(b, &fi, &fileOffset); err != nil {
			v.Error = err
			resultC <- v
			return
		}
		sum := sha1.Sum(b)
		if hashEqual(sum[:], v.info.PieceHash(i)) {
			v.Bitfield.Set(i)
		}
		progressC <- Progress{Checked: i + 1}
	}
	resultC <- v
}

// readPiece reads length(b) bytes spanning one or more backing files in
// declared order, advancing (fi, fileOffset) across file boundaries.
func (v *Verifier) readPiece(b []byte, fi *int, fileOffset *int64) error {
	read := 0
	for read < len(b) && *fi < len(v.files) {
		f := v.files[*fi]
		remaining := f.Size() - *fileOffset
		if remaining <= 0 {
			*fi++
			*fileOffset = 0
			continue
		}
		n := int64(len(b) - read)
		if n > remaining {
			n = remaining
		}
		if _, err := f.ReadAt(b[read:int64(read)+n], *fileOffset); err != nil {
			return err
		}
		read += int(n)
		*fileOffset += n
	}
	return nil
}

func hashEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
