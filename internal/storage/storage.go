// Package storage defines the backing-file abstraction the piece store
// writes verified pieces to and serves read_block upload requests from.
package storage

import "io"

// File is one backing file of a torrent, addressable by a byte range
// relative to its own start (the piece store maps the linear torrent byte
// space onto a File's range before calling these methods).
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	// Size is the file's declared length from the metainfo.
	Size() int64
	// Path is the on-disk path of the backing file.
	Path() string
}

// Storage opens/creates the backing files for a torrent's declared file
// list, lazily so a multi-file torrent with thousands of files doesn't
// open every file handle up front.
type Storage interface {
	// Open returns (and creates, with the given size) the backing file at
	// path, relative to the storage's root.
	Open(path string, size int64) (File, error)
	// Dest is the root directory backing files are written under.
	Dest() string
}
