// Package piecewriter verifies a fully-staged piece's hash and flushes it
// to its backing files, off the torrent's run-loop goroutine so disk I/O
// never blocks message handling.
package piecewriter

import (
	"crypto/sha1"
	"fmt"

	"github.com/embertorrent/ember/internal/piece"
	"github.com/embertorrent/ember/internal/storage"
)

// ErrHashMismatch is PieceWriter.Error's value when the staged bytes don't
// match the metainfo's piece hash; the caller discards the buffer and
// leaves the piece's bitfield bit clear.
var ErrHashMismatch = fmt.Errorf("piecewriter: hash mismatch")

// PieceWriter hashes and writes one piece; Run is meant to be called from
// its own goroutine, with the result sent back on a result channel.
type PieceWriter struct {
	Piece  *piece.Piece
	Buffer []byte
	Error  error

	FileRanges []FileRange
	expected   []byte
}

type FileRange struct {
	file        storage.File
	fileOffset  int64
	pieceOffset int64
	length      int64
}

// New builds a PieceWriter for p, whose Buffer already holds every block
// concatenated in order. FileRanges maps the piece's byte range onto the
// (possibly several, for a boundary-straddling piece) backing files.
func New(p *piece.Piece, buffer []byte, expectedHash []byte, ranges []FileRange) *PieceWriter {
	return &PieceWriter{Piece: p, Buffer: buffer, expected: expectedHash, FileRanges: ranges}
}

// Run hashes Buffer, and on a match writes it out across the mapped file
// ranges; on mismatch it sets Error to ErrHashMismatch and writes nothing.
func (w *PieceWriter) Run(resultC chan *PieceWriter) {
	sum := sha1.Sum(w.Buffer)
	if !hashEqual(sum[:], w.expected) {
		w.Error = ErrHashMismatch
		resultC <- w
		return
	}
	for _, r := range w.FileRanges {
		if _, err := r.file.WriteAt(w.Buffer[r.pieceOffset:r.pieceOffset+r.length], r.fileOffset); err != nil {
			w.Error = err
			resultC <- w
			return
		}
	}
	resultC <- w
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

// NewFileRange is exported so the piece store (which knows the file layout)
// can build the []FileRange argument to New without reaching into
// unexported fields.
func NewFileRange(file storage.File, fileOffset, pieceOffset, length int64) FileRange {
	return FileRange{file: file, fileOffset: fileOffset, pieceOffset: pieceOffset, length: length}
}
