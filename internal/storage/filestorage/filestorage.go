// Package filestorage implements storage.Storage on the local filesystem,
// with an LRU cap on simultaneously open file handles.
package filestorage

import (
	"container/list"
	"os"
	"path/filepath"
	"sync"

	"github.com/embertorrent/ember/internal/storage"
)

// DefaultMaxOpenFiles is used when the caller does not set a budget; it
// leaves headroom under common rlimits once peer sockets are accounted for.
const DefaultMaxOpenFiles = 1000

// FileStorage opens backing files under a root directory, lazily, capping
// the number of concurrently open *os.File handles with a simple LRU: the
// least-recently-used handle is closed when the budget is hit.
//
// mu guards only the map/LRU bookkeeping of which files are tracked, never
// an individual file's handle or its I/O: each file has its own fileMu for
// that, so a read/write in flight on one file never blocks bookkeeping for
// another, and eviction never has to reach into a file's lock while holding
// mu (that ordering is exactly reversed, so closeVictims always takes each
// victim's fileMu only after mu has been released).
type FileStorage struct {
	dest         string
	maxOpenFiles int

	mu    sync.Mutex
	files map[string]*file
	lru   *list.List // of *file, most-recently-used at the back
}

// New returns a FileStorage rooted at dest, creating the directory if
// needed.
func New(dest string) (*FileStorage, error) {
	if err := os.MkdirAll(dest, 0750); err != nil {
		return nil, err
	}
	return &FileStorage{
		dest:         dest,
		maxOpenFiles: DefaultMaxOpenFiles,
		files:        make(map[string]*file),
		lru:          list.New(),
	}, nil
}

// SetMaxOpenFiles changes the open-handle budget.
func (s *FileStorage) SetMaxOpenFiles(n int) { s.maxOpenFiles = n }

// Dest returns the root directory.
func (s *FileStorage) Dest() string { return s.dest }

// Open returns the backing file at path (relative to Dest), creating it
// (and any parent directories, for multi-file torrents) at size bytes if
// it does not already exist. Files are sparse: Open does not write zeros.
func (s *FileStorage) Open(path string, size int64) (storage.File, error) {
	s.mu.Lock()
	if f, ok := s.files[path]; ok {
		s.lru.MoveToBack(f.elem)
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	full := filepath.Join(s.dest, path)
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return nil, err
	}
	fh, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, err
	}
	if err := fh.Truncate(size); err != nil {
		fh.Close()
		return nil, err
	}
	f := &file{storage: s, path: path, size: size, fh: fh}

	s.mu.Lock()
	if existing, ok := s.files[path]; ok {
		// Lost a race with a concurrent Open for the same path: keep the
		// winner's handle, close the one we just opened.
		s.lru.MoveToBack(existing.elem)
		s.mu.Unlock()
		fh.Close()
		return existing, nil
	}
	f.elem = s.lru.PushBack(f)
	s.files[path] = f
	victims := s.evictLocked(f)
	s.mu.Unlock()

	closeVictims(victims)
	return f, nil
}

// evictLocked removes bookkeeping entries for the least-recently-used
// files while the budget is exceeded, never picking exclude (the file the
// caller is in the middle of opening/reopening), and returns them for the
// caller to close once mu is no longer held. Must be called with s.mu
// held; it only touches the map/LRU, never a file's handle.
func (s *FileStorage) evictLocked(exclude *file) []*file {
	var victims []*file
	for len(s.files) > s.maxOpenFiles {
		front := s.lru.Front()
		if front == nil {
			break
		}
		f := front.Value.(*file)
		if f == exclude {
			break
		}
		s.lru.Remove(front)
		delete(s.files, f.path)
		victims = append(victims, f)
	}
	return victims
}

// closeVictims closes each evicted file's handle under that file's own
// fileMu, so a read/write already in flight on a victim finishes (or a
// fresh reopen wins the race) before the handle is pulled out from under
// it.
func closeVictims(victims []*file) {
	for _, f := range victims {
		f.fileMu.Lock()
		if f.fh != nil {
			f.fh.Close()
			f.fh = nil
		}
		f.fileMu.Unlock()
	}
}

// touch moves f to the back of the LRU without changing its membership.
func (s *FileStorage) touch(f *file) {
	s.mu.Lock()
	if f.elem != nil {
		s.lru.MoveToBack(f.elem)
	}
	s.mu.Unlock()
}

// register adds a freshly reopened f back into the bookkeeping and evicts
// on its behalf if that pushes the budget over.
func (s *FileStorage) register(f *file) {
	s.mu.Lock()
	f.elem = s.lru.PushBack(f)
	s.files[f.path] = f
	victims := s.evictLocked(f)
	s.mu.Unlock()
	closeVictims(victims)
}

type file struct {
	storage *FileStorage
	path    string
	size    int64
	elem    *list.Element

	// fileMu guards fh and serializes the reopen-then-I/O sequence against
	// closeVictims evicting this same handle mid-call.
	fileMu sync.Mutex
	fh     *os.File
}

// ensureOpenLocked reopens fh if the LRU evicted it since the last call,
// registering the file back with the storage's bookkeeping; otherwise it
// just marks the file as recently used. Must be called with fileMu held.
func (f *file) ensureOpenLocked() error {
	if f.fh != nil {
		f.storage.touch(f)
		return nil
	}
	full := filepath.Join(f.storage.dest, f.path)
	fh, err := os.OpenFile(full, os.O_RDWR, 0640)
	if err != nil {
		return err
	}
	f.fh = fh
	f.storage.register(f)
	return nil
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	f.fileMu.Lock()
	defer f.fileMu.Unlock()
	if err := f.ensureOpenLocked(); err != nil {
		return 0, err
	}
	return f.fh.ReadAt(p, off)
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	f.fileMu.Lock()
	defer f.fileMu.Unlock()
	if err := f.ensureOpenLocked(); err != nil {
		return 0, err
	}
	return f.fh.WriteAt(p, off)
}

func (f *file) Close() error {
	return nil // handle lifecycle is owned by the LRU, not the caller
}

func (f *file) Size() int64  { return f.size }
func (f *file) Path() string { return f.path }
