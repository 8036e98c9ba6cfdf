// Package allocator creates and (optionally) pre-allocates a torrent's
// backing files before any piece can be written, off the run-loop
// goroutine since Truncate/fallocate calls can block on slow filesystems.
package allocator

import (
	"path"

	"github.com/embertorrent/ember/internal/metainfo"
	"github.com/embertorrent/ember/internal/storage"
)

// Progress reports cumulative allocated bytes so the run loop can surface
// it in Stats() while a large torrent is still being laid out on disk.
type Progress struct {
	AllocatedSize int64
}

// Allocator opens every backing file storage.Storage describes for a
// torrent's file list and reports the resulting handles (or the first
// error).
type Allocator struct {
	Files []storage.File
	Error error

	info  *metainfo.Info
	store storage.Storage
}

// New returns an Allocator for info's file list, to be opened under store.
func New(info *metainfo.Info, store storage.Storage) *Allocator {
	return &Allocator{info: info, store: store}
}

// Run opens (creating and truncating to declared size, sparsely) each file
// in turn, reporting cumulative size on progressC, and sends itself on
// resultC when done or on the first error.
func (a *Allocator) Run(progressC chan Progress, resultC chan *Allocator, stopC chan struct{}) {
	var allocated int64
	for _, f := range a.info.Files {
		select {
		case <-stopC:
			resultC <- a
			return
		default:
		}
		file, err := a.store.Open(path.Join(f.Path...), f.Length)
		if err != nil {
			a.Error = err
			resultC <- a
			return
		}
		a.Files = append(a.Files, file)
		allocated += f.Length
		progressC <- Progress{AllocatedSize: allocated}
	}
	resultC <- a
}

